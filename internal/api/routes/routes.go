package routes

import (
	"github.com/gin-gonic/gin"

	"github.com/rail-service/payment_listener/internal/api/handlers"
	"github.com/rail-service/payment_listener/internal/api/middleware"
	"github.com/rail-service/payment_listener/pkg/logger"
	"github.com/rail-service/payment_listener/pkg/metrics"
)

// Dependencies are the services the HTTP surface is built from
type Dependencies struct {
	Logger          *logger.Logger
	Orders          handlers.OrderService
	Trigger         handlers.CycleTrigger // nil when reconciliation is disabled
	HealthChecks    map[string]handlers.HealthCheck
	Version         string
	AdminToken      string
	RateLimitPerMin int
}

// SetupRoutes configures all application routes
func SetupRoutes(deps Dependencies) *gin.Engine {
	router := gin.New()

	router.Use(middleware.RequestID())
	router.Use(middleware.Metrics())
	router.Use(middleware.RequestSizeLimit())
	router.Use(middleware.Logger(deps.Logger))
	router.Use(middleware.Recovery(deps.Logger))
	router.Use(middleware.SecurityHeaders())

	health := handlers.NewHealthHandler(deps.HealthChecks, deps.Logger, deps.Version)
	router.GET("/health", health.Liveness)
	router.GET("/health/ready", health.Readiness)
	router.GET("/metrics", gin.WrapH(metrics.Handler()))

	v1 := router.Group("/api/v1")
	v1.Use(middleware.RateLimit(deps.RateLimitPerMin))

	orders := handlers.NewOrderHandlers(deps.Orders, deps.Logger)
	v1.POST("/orders", orders.CreateOrder)
	v1.GET("/orders/:id/checkout", orders.GetCheckout)

	if deps.Trigger != nil {
		recon := handlers.NewReconciliationHandlers(deps.Trigger, deps.Logger)
		admin := v1.Group("/reconciliation", middleware.AdminToken(deps.AdminToken))
		admin.POST("/run", recon.RunCycle)
	}

	return router
}
