package di

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/jmoiron/sqlx"
	"github.com/shopspring/decimal"

	"github.com/rail-service/payment_listener/internal/api/handlers"
	"github.com/rail-service/payment_listener/internal/domain/repositories"
	"github.com/rail-service/payment_listener/internal/domain/services/amount"
	"github.com/rail-service/payment_listener/internal/domain/services/payment"
	"github.com/rail-service/payment_listener/internal/domain/services/reconciliation"
	"github.com/rail-service/payment_listener/internal/infrastructure/cache"
	"github.com/rail-service/payment_listener/internal/infrastructure/config"
	"github.com/rail-service/payment_listener/internal/infrastructure/database"
	"github.com/rail-service/payment_listener/internal/infrastructure/notification"
	infrarepos "github.com/rail-service/payment_listener/internal/infrastructure/repositories"
	"github.com/rail-service/payment_listener/internal/workers/order_expiry"
	"github.com/rail-service/payment_listener/pkg/logger"
)

// Container holds every long-lived dependency of the listener
type Container struct {
	Config *config.Config
	DB     *sqlx.DB
	Logger *logger.Logger

	RedisClient cache.RedisClient // nil when redis is disabled or unreachable
	OrderRepo   *infrarepos.PaymentOrderRepository
	Notifier    notification.Notifier

	PaymentService *payment.Service
	Engine         *reconciliation.Engine
	Sweeper        *order_expiry.Worker
	Scheduler      *reconciliation.Scheduler
}

// NewContainer wires the listener from configuration
func NewContainer(ctx context.Context, cfg *config.Config, db *sqlx.DB, log *logger.Logger) (*Container, error) {
	c := &Container{
		Config: cfg,
		DB:     db,
		Logger: log,
	}

	c.OrderRepo = infrarepos.NewPaymentOrderRepository(db, cfg.Database.QueryTimeoutDuration())

	var hashCache repositories.ProcessedHashCache
	if cfg.Redis.Enabled {
		client, err := cache.NewRedisClient(ctx, cfg.Redis, log.Zap())
		if err != nil {
			// the datastore stays authoritative; the cache only saves lookups
			log.Warn("Redis unavailable, continuing without processed-hash cache", "error", err)
		} else {
			c.RedisClient = client
			hashCache = cache.NewProcessedHashCache(client, cfg.Redis.ProcessedTTL)
		}
	}

	notifier, err := notification.New(ctx, cfg.Notification, cfg.Email, log)
	if err != nil {
		return nil, fmt.Errorf("failed to create notifier: %w", err)
	}
	c.Notifier = notifier

	offsetWidth, err := decimal.NewFromString(cfg.Payment.OffsetWidth)
	if err != nil {
		return nil, fmt.Errorf("invalid payment.offset_width: %w", err)
	}
	disambiguator := amount.New(amount.Config{
		Tiers:       cfg.Payment.TierAmounts(),
		OffsetWidth: offsetWidth,
		Precision:   cfg.Payment.Precision,
	})
	c.PaymentService = payment.NewService(c.OrderRepo, disambiguator, payment.Config{
		Networks:         paymentNetworks(cfg),
		Precision:        cfg.Payment.Precision,
		ExpirationWindow: cfg.Reconciliation.ExpirationWindow,
		MaxAttempts:      cfg.Payment.MaxCollisionRetries,
	}, log.With("component", "payment"))

	// the per-attempt deadline lives on the request context; the client timeout is a backstop
	httpClient := &http.Client{Timeout: cfg.Reconciliation.CallTimeout}
	chains, err := buildChains(cfg, httpClient, log.With("component", "explorer"))
	if err != nil {
		return nil, err
	}

	engineCfg := reconciliation.DefaultConfig()
	engineCfg.Tolerance = cfg.Reconciliation.ToleranceDecimal()
	engineCfg.CallTimeout = cfg.Reconciliation.CallTimeout
	if cfg.Reconciliation.TimestampMargin > 0 {
		engineCfg.TimestampMargin = cfg.Reconciliation.TimestampMargin
	}
	if cfg.Notification.Timeout > 0 {
		engineCfg.NotifyTimeout = cfg.Notification.Timeout
	}
	c.Engine = reconciliation.NewEngine(c.OrderRepo, hashCache, notifier, chains, engineCfg, log.With("component", "reconciliation"))

	c.Sweeper = order_expiry.NewWorker(c.OrderRepo, order_expiry.Config{
		ExpirationWindow: cfg.Reconciliation.ExpirationWindow,
	}, log.With("component", "order_expiry"))

	c.Scheduler = reconciliation.NewScheduler(c.Engine, c.Sweeper, log.With("component", "scheduler"), reconciliation.SchedulerConfig{
		InitialDelay: cfg.Reconciliation.InitialDelay,
		Interval:     cfg.Reconciliation.Interval,
		CycleTimeout: cfg.Reconciliation.CycleTimeout,
	})

	return c, nil
}

// HealthChecks returns the readiness probes for the container's dependencies
func (c *Container) HealthChecks() map[string]handlers.HealthCheck {
	checks := map[string]handlers.HealthCheck{
		"database": func(ctx context.Context) error { return database.HealthCheck(ctx, c.DB) },
	}
	if c.RedisClient != nil {
		checks["redis"] = c.RedisClient.Ping
	}
	return checks
}

// CycleTrigger exposes the scheduler to the HTTP surface when reconciliation is enabled
func (c *Container) CycleTrigger() handlers.CycleTrigger {
	if !c.Config.Reconciliation.Enabled {
		return nil
	}
	return c.Scheduler
}

// Close releases the container's network clients
func (c *Container) Close(context.Context) error {
	if c.RedisClient != nil {
		return c.RedisClient.Close()
	}
	return nil
}

// StartDBStatsReporter publishes pool statistics until ctx ends
func (c *Container) StartDBStatsReporter(ctx context.Context, interval time.Duration) {
	go func() {
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				database.ReportStats(c.DB)
			}
		}
	}()
}
