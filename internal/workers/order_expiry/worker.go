package order_expiry

import (
	"context"
	"fmt"
	"time"

	"github.com/rail-service/payment_listener/internal/domain/repositories"
	"github.com/rail-service/payment_listener/pkg/logger"
	"github.com/rail-service/payment_listener/pkg/metrics"
)

// DefaultExpirationWindow is how long an order may stay pending
const DefaultExpirationWindow = 24 * time.Hour

// Worker expires pending orders older than the expiration window. It runs inside
// each reconciliation cycle; completion and expiry both require a pending order,
// so whichever conditional write lands first wins.
type Worker struct {
	orders repositories.OrderExpirer
	window time.Duration
	logger *logger.Logger
	now    func() time.Time
}

// Config holds worker configuration
type Config struct {
	ExpirationWindow time.Duration
}

// NewWorker creates a new order expiry worker
func NewWorker(orders repositories.OrderExpirer, config Config, logger *logger.Logger) *Worker {
	if config.ExpirationWindow <= 0 {
		config.ExpirationWindow = DefaultExpirationWindow
	}
	return &Worker{
		orders: orders,
		window: config.ExpirationWindow,
		logger: logger,
		now:    time.Now,
	}
}

// Run expires every pending order created before now minus the window and returns how many changed
func (w *Worker) Run(ctx context.Context) (int64, error) {
	deadline := w.now().Add(-w.window)

	expired, err := w.orders.ExpirePendingOlderThan(ctx, deadline)
	if err != nil {
		w.logger.Error("Failed to expire pending orders",
			"deadline", deadline.Format(time.RFC3339),
			"error", err)
		return 0, fmt.Errorf("expire pending orders: %w", err)
	}

	if expired > 0 {
		metrics.OrdersExpired.Add(float64(expired))
		w.logger.Info("Expired stale pending orders",
			"count", expired,
			"deadline", deadline.Format(time.RFC3339))
	} else {
		w.logger.Debug("No stale pending orders")
	}
	return expired, nil
}
