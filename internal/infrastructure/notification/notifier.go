// Package notification delivers order completion events and reconciliation
// alerts to external sinks.
package notification

import (
	"context"
	"time"

	"github.com/shopspring/decimal"
	"go.uber.org/multierr"

	"github.com/rail-service/payment_listener/pkg/logger"
)

// EventType names a notification
type EventType string

const (
	EventOrderCompleted EventType = "order.completed"
	EventWriteFailed    EventType = "reconciliation.write_failed"
)

// Event is the payload handed to every sink
type Event struct {
	Type           EventType        `json:"type"`
	OrderID        string           `json:"order_id,omitempty"`
	AccountID      string           `json:"account_id,omitempty"`
	Network        string           `json:"network,omitempty"`
	TxHash         string           `json:"tx_hash,omitempty"`
	ExpectedAmount *decimal.Decimal `json:"expected_amount,omitempty"`
	PaidAmount     *decimal.Decimal `json:"paid_amount,omitempty"`
	Operation      string           `json:"operation,omitempty"`
	Error          string           `json:"error,omitempty"`
	OccurredAt     time.Time        `json:"occurred_at"`
}

// Notifier delivers events; implementations must be safe for concurrent use
type Notifier interface {
	Notify(ctx context.Context, event Event) error
}

// LogNotifier writes events to the structured log only
type LogNotifier struct {
	log *logger.Logger
}

func NewLogNotifier(log *logger.Logger) *LogNotifier {
	return &LogNotifier{log: log}
}

func (n *LogNotifier) Notify(_ context.Context, event Event) error {
	kv := []interface{}{
		"event", string(event.Type),
		"order_id", event.OrderID,
		"account_id", event.AccountID,
		"network", event.Network,
		"tx_hash", event.TxHash,
	}
	if event.Type == EventWriteFailed {
		n.log.Error("Reconciliation write failed", append(kv, "operation", event.Operation, "error", event.Error)...)
		return nil
	}
	n.log.Info("Order completed", kv...)
	return nil
}

// Multi fans an event out to every sink and combines their errors
type Multi []Notifier

func (m Multi) Notify(ctx context.Context, event Event) error {
	var errs error
	for _, n := range m {
		errs = multierr.Append(errs, n.Notify(ctx, event))
	}
	return errs
}
