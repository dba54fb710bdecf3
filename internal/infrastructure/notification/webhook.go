package notification

import (
	"bytes"
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	apperrors "github.com/rail-service/payment_listener/pkg/errors"
	"github.com/rail-service/payment_listener/pkg/logger"
	"github.com/rail-service/payment_listener/pkg/retry"
)

const (
	SignatureHeader = "X-Webhook-Signature"
	EventHeader     = "X-Webhook-Event"
)

// WebhookNotifier POSTs events as JSON signed with HMAC-SHA256
type WebhookNotifier struct {
	url        string
	secret     []byte
	httpClient *http.Client
	retrier    *retry.Retrier
}

func NewWebhookNotifier(url, secret string, timeout time.Duration, log *logger.Logger) *WebhookNotifier {
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	return &WebhookNotifier{
		url:        url,
		secret:     []byte(secret),
		httpClient: &http.Client{Timeout: timeout},
		retrier:    retry.NewRetrier(retry.DefaultPolicy(), log.Zap()),
	}
}

// Sign returns the hex HMAC-SHA256 of body
func Sign(secret, body []byte) string {
	mac := hmac.New(sha256.New, secret)
	mac.Write(body)
	return hex.EncodeToString(mac.Sum(nil))
}

func (w *WebhookNotifier) Notify(ctx context.Context, event Event) error {
	body, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("marshal webhook event: %w", err)
	}
	signature := Sign(w.secret, body)

	return w.retrier.Do(ctx, func(ctx context.Context) error {
		req, err := http.NewRequestWithContext(ctx, http.MethodPost, w.url, bytes.NewReader(body))
		if err != nil {
			return apperrors.Permanent(fmt.Errorf("create webhook request: %w", err))
		}
		req.Header.Set("Content-Type", "application/json")
		req.Header.Set(SignatureHeader, signature)
		req.Header.Set(EventHeader, string(event.Type))

		resp, err := w.httpClient.Do(req)
		if err != nil {
			return fmt.Errorf("webhook request failed: %w", err)
		}
		defer resp.Body.Close()

		if resp.StatusCode < 200 || resp.StatusCode >= 300 {
			respBody, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
			return &apperrors.HTTPStatusError{StatusCode: resp.StatusCode, Endpoint: "webhook", Body: string(respBody)}
		}
		return nil
	})
}
