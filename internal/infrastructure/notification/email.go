package notification

import (
	"context"
	"fmt"
	"strings"

	"github.com/sendgrid/rest"
	"github.com/sendgrid/sendgrid-go"
	"github.com/sendgrid/sendgrid-go/helpers/mail"
)

type emailSender interface {
	SendWithContext(ctx context.Context, email *mail.SGMailV3) (*rest.Response, error)
}

// EmailAlerter mails operators about failed reconciliation writes. Completions are ignored.
type EmailAlerter struct {
	client     emailSender
	fromName   string
	fromEmail  string
	recipients []string
}

func NewEmailAlerter(apiKey, fromName, fromEmail string, recipients []string) *EmailAlerter {
	return &EmailAlerter{
		client:     sendgrid.NewSendClient(apiKey),
		fromName:   fromName,
		fromEmail:  fromEmail,
		recipients: recipients,
	}
}

func (e *EmailAlerter) Notify(ctx context.Context, event Event) error {
	if event.Type != EventWriteFailed || len(e.recipients) == 0 {
		return nil
	}

	subject := fmt.Sprintf("[payment-listener] %s failed for order %s", event.Operation, event.OrderID)
	text := formatAlert(event)

	message := mail.NewV3Mail()
	message.SetFrom(mail.NewEmail(e.fromName, e.fromEmail))
	message.Subject = subject
	p := mail.NewPersonalization()
	for _, r := range e.recipients {
		p.AddTos(mail.NewEmail("", r))
	}
	message.AddPersonalizations(p)
	message.AddContent(mail.NewContent("text/plain", text))

	response, err := e.client.SendWithContext(ctx, message)
	if err != nil {
		return fmt.Errorf("failed to send alert email: %w", err)
	}
	if response.StatusCode >= 400 {
		return fmt.Errorf("email service error: status %d, body: %s", response.StatusCode, response.Body)
	}
	return nil
}

func formatAlert(event Event) string {
	var b strings.Builder
	fmt.Fprintf(&b, "A datastore write failed during reconciliation.\n\n")
	fmt.Fprintf(&b, "Operation: %s\n", event.Operation)
	fmt.Fprintf(&b, "Order: %s\n", event.OrderID)
	fmt.Fprintf(&b, "Account: %s\n", event.AccountID)
	fmt.Fprintf(&b, "Network: %s\n", event.Network)
	fmt.Fprintf(&b, "Transaction: %s\n", event.TxHash)
	if event.PaidAmount != nil {
		fmt.Fprintf(&b, "Paid amount: %s\n", event.PaidAmount.String())
	}
	fmt.Fprintf(&b, "Error: %s\n", event.Error)
	fmt.Fprintf(&b, "At: %s\n", event.OccurredAt.UTC().Format("2006-01-02T15:04:05Z"))
	return b.String()
}
