package graceful

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"go.uber.org/multierr"

	"github.com/rail-service/payment_listener/pkg/logger"
)

const defaultTimeout = 30 * time.Second

// ShutdownFunc releases one component
type ShutdownFunc func(ctx context.Context) error

type component struct {
	name string
	fn   ShutdownFunc
}

// ShutdownManager stops the HTTP server and then every registered component in
// registration order, sharing one deadline.
type ShutdownManager struct {
	server     *http.Server
	components []component
	timeout    time.Duration
	logger     *logger.Logger
}

func NewShutdownManager(server *http.Server, logger *logger.Logger) *ShutdownManager {
	return &ShutdownManager{
		server:  server,
		timeout: defaultTimeout,
		logger:  logger,
	}
}

// WithTimeout overrides the overall shutdown deadline
func (sm *ShutdownManager) WithTimeout(d time.Duration) *ShutdownManager {
	if d > 0 {
		sm.timeout = d
	}
	return sm
}

// Register adds a component; components stop in the order they were registered
func (sm *ShutdownManager) Register(name string, fn ShutdownFunc) {
	sm.components = append(sm.components, component{name: name, fn: fn})
}

// RegisterCloser adds a component whose release takes no context
func (sm *ShutdownManager) RegisterCloser(name string, closeFn func() error) {
	sm.Register(name, func(context.Context) error { return closeFn() })
}

// WaitForShutdown blocks until SIGINT, SIGTERM or ctx cancellation, then shuts down
func (sm *ShutdownManager) WaitForShutdown(ctx context.Context) error {
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	defer signal.Stop(quit)

	select {
	case sig := <-quit:
		sm.logger.Info("Shutdown signal received", "signal", sig.String())
	case <-ctx.Done():
		sm.logger.Info("Shutdown requested")
	}
	return sm.Shutdown()
}

// Shutdown stops everything and reports every failure
func (sm *ShutdownManager) Shutdown() error {
	sm.logger.Info("Shutting down gracefully...", "timeout", sm.timeout)

	ctx, cancel := context.WithTimeout(context.Background(), sm.timeout)
	defer cancel()

	var errs error
	if sm.server != nil {
		if err := sm.server.Shutdown(ctx); err != nil && !errors.Is(err, http.ErrServerClosed) {
			sm.logger.Error("Server forced shutdown", "error", err)
			errs = multierr.Append(errs, err)
		}
	}

	for _, c := range sm.components {
		if err := c.fn(ctx); err != nil {
			sm.logger.Warn("Component shutdown error", "component", c.name, "error", err)
			errs = multierr.Append(errs, err)
		}
	}

	sm.logger.Info("Shutdown complete")
	return errs
}
