package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/rail-service/payment_listener/internal/api/routes"
	"github.com/rail-service/payment_listener/internal/infrastructure/config"
	"github.com/rail-service/payment_listener/internal/infrastructure/database"
	"github.com/rail-service/payment_listener/internal/infrastructure/di"
	"github.com/rail-service/payment_listener/pkg/graceful"
	"github.com/rail-service/payment_listener/pkg/logger"
	"github.com/rail-service/payment_listener/pkg/tracing"
)

const version = "1.0.0"

func main() {
	cfg, err := config.Load()
	if err != nil {
		panic(fmt.Sprintf("Failed to load config: %v", err))
	}

	log := logger.New(cfg.LogLevel, cfg.Environment)
	defer func() { _ = log.Sync() }()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	tracingShutdown, err := tracing.InitTracer(ctx, tracing.Config{
		Enabled:      cfg.Tracing.Enabled,
		CollectorURL: cfg.Tracing.CollectorURL,
		Environment:  cfg.Environment,
		SampleRate:   cfg.Tracing.SampleRate,
		Insecure:     cfg.Tracing.Insecure,
	}, log.Zap())
	if err != nil {
		log.Fatal("Failed to initialize tracing", "error", err)
	}

	db, err := database.NewConnection(ctx, cfg.Database)
	if err != nil {
		log.Fatal("Failed to connect to database", "error", err)
	}

	if err := database.RunMigrations(db, cfg.Database.MigrationsPath); err != nil {
		log.Fatal("Failed to run migrations", "error", err)
	}

	if cfg.Environment == "production" {
		gin.SetMode(gin.ReleaseMode)
	}

	container, err := di.NewContainer(ctx, cfg, db, log)
	if err != nil {
		log.Fatal("Failed to create DI container", "error", err)
	}

	router := routes.SetupRoutes(routes.Dependencies{
		Logger:          log,
		Orders:          container.PaymentService,
		Trigger:         container.CycleTrigger(),
		HealthChecks:    container.HealthChecks(),
		Version:         version,
		AdminToken:      cfg.Server.AdminToken,
		RateLimitPerMin: cfg.Server.RateLimitPerMin,
	})

	if cfg.Reconciliation.Enabled {
		if err := container.Scheduler.Start(ctx); err != nil {
			log.Fatal("Failed to start reconciliation scheduler", "error", err)
		}
	} else {
		log.Info("Reconciliation scheduler disabled in configuration")
	}

	container.StartDBStatsReporter(ctx, 30*time.Second)

	server := &http.Server{
		Addr:           fmt.Sprintf("%s:%d", cfg.Server.Host, cfg.Server.Port),
		Handler:        router,
		ReadTimeout:    time.Duration(cfg.Server.ReadTimeout) * time.Second,
		WriteTimeout:   time.Duration(cfg.Server.WriteTimeout) * time.Second,
		IdleTimeout:    120 * time.Second,
		MaxHeaderBytes: 1 << 20,
	}

	go func() {
		log.Info("Starting server",
			"port", cfg.Server.Port,
			"environment", cfg.Environment,
			"version", version)
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Fatal("Failed to start server", "error", err)
		}
	}()

	// stops in registration order after the HTTP server
	shutdown := graceful.NewShutdownManager(server, log)
	shutdown.RegisterCloser("reconciliation_scheduler", container.Scheduler.Stop)
	shutdown.Register("background", func(context.Context) error {
		cancel()
		return nil
	})
	shutdown.Register("redis", container.Close)
	shutdown.RegisterCloser("database", db.Close)
	shutdown.Register("tracing", graceful.ShutdownFunc(tracingShutdown))

	if err := shutdown.WaitForShutdown(ctx); err != nil {
		log.Warn("Shutdown finished with errors", "error", err)
	}
	log.Info("Server exited gracefully")
}
