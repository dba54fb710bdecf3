package notification

import (
	"context"
	"fmt"

	"github.com/rail-service/payment_listener/internal/infrastructure/config"
	"github.com/rail-service/payment_listener/pkg/logger"
)

// New builds the configured sinks. The log sink is always present.
func New(ctx context.Context, cfg config.NotificationConfig, email config.EmailConfig, log *logger.Logger) (Notifier, error) {
	sinks := Multi{NewLogNotifier(log)}
	for _, name := range cfg.Sinks {
		switch name {
		case "log":
		case "webhook":
			sinks = append(sinks, NewWebhookNotifier(cfg.WebhookURL, cfg.WebhookSecret, cfg.Timeout, log))
		case "sns":
			n, err := NewSNSNotifier(ctx, cfg.Region, cfg.TopicARN)
			if err != nil {
				return nil, err
			}
			sinks = append(sinks, n)
		case "email":
			sinks = append(sinks, NewEmailAlerter(email.APIKey, email.FromName, email.FromEmail, email.AlertRecipients))
		default:
			return nil, fmt.Errorf("unknown notification sink %q", name)
		}
	}
	log.Info("Notification sinks configured", "sinks", len(sinks))
	return sinks, nil
}
