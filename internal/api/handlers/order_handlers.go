package handlers

import (
	"context"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/rail-service/payment_listener/internal/domain/entities"
	"github.com/rail-service/payment_listener/internal/domain/services/payment"
	"github.com/rail-service/payment_listener/pkg/logger"
)

// OrderService is the payment service surface the handlers need
type OrderService interface {
	CreatePendingOrder(ctx context.Context, userID uuid.UUID, tier decimal.Decimal) (*entities.PaymentOrder, error)
	GetCheckoutDetails(ctx context.Context, orderID uuid.UUID) (*payment.CheckoutDetails, error)
}

// OrderHandlers serves order creation and checkout lookups
type OrderHandlers struct {
	service OrderService
	logger  *logger.Logger
}

func NewOrderHandlers(service OrderService, logger *logger.Logger) *OrderHandlers {
	return &OrderHandlers{service: service, logger: logger}
}

// CreateOrderRequest selects a tier for an account
type CreateOrderRequest struct {
	UserID string `json:"user_id" binding:"required,uuid"`
	Tier   string `json:"tier" binding:"required"`
}

// CreateOrder handles POST /api/v1/orders
func (h *OrderHandlers) CreateOrder(c *gin.Context) {
	var req CreateOrderRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		respondBadRequest(c, ErrCodeInvalidRequest, "user_id (uuid) and tier are required")
		return
	}
	userID, err := uuid.Parse(req.UserID)
	if err != nil {
		respondBadRequest(c, ErrCodeInvalidID, "user_id must be a UUID")
		return
	}
	tier, err := decimal.NewFromString(req.Tier)
	if err != nil || !tier.IsPositive() {
		respondBadRequest(c, ErrCodeInvalidAmount, "tier must be a positive decimal")
		return
	}

	order, err := h.service.CreatePendingOrder(c.Request.Context(), userID, tier)
	if err != nil {
		h.logger.Warn("Failed to create order",
			"request_id", c.GetString("request_id"),
			"user_id", userID,
			"error", err)
		respondDomainError(c, err)
		return
	}

	details, err := h.service.GetCheckoutDetails(c.Request.Context(), order.ID)
	if err != nil {
		respondDomainError(c, err)
		return
	}
	c.JSON(http.StatusCreated, details)
}

// GetCheckout handles GET /api/v1/orders/:id/checkout
func (h *OrderHandlers) GetCheckout(c *gin.Context) {
	orderID, err := uuid.Parse(c.Param("id"))
	if err != nil {
		respondBadRequest(c, ErrCodeInvalidID, "order id must be a UUID")
		return
	}

	details, err := h.service.GetCheckoutDetails(c.Request.Context(), orderID)
	if err != nil {
		respondDomainError(c, err)
		return
	}
	c.JSON(http.StatusOK, details)
}
