package payment

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/rail-service/payment_listener/internal/domain/entities"
	domainerrors "github.com/rail-service/payment_listener/internal/domain/errors"
	"github.com/rail-service/payment_listener/pkg/logger"
)

const defaultMaxAttempts = 5

// OrderRepository is the persistence the service needs
type OrderRepository interface {
	CreatePending(ctx context.Context, order *entities.PaymentOrder) error
	GetByID(ctx context.Context, id uuid.UUID) (*entities.PaymentOrder, error)
}

// AmountGenerator produces a disambiguated expected amount for a tier
type AmountGenerator interface {
	Generate(tier decimal.Decimal) (decimal.Decimal, error)
}

// PaymentNetwork is one chain a payer can use
type PaymentNetwork struct {
	Network       entities.Network `json:"network"`
	Treasury      string           `json:"treasury_address"`
	TokenContract string           `json:"token_contract"`
}

// Config holds payment service configuration
type Config struct {
	Networks         []PaymentNetwork
	Precision        int32
	ExpirationWindow time.Duration
	MaxAttempts      int
}

// CheckoutDetails is what the payer is shown: the exact amount to send and where
type CheckoutDetails struct {
	OrderID   uuid.UUID            `json:"order_id"`
	Amount    string               `json:"amount"`
	Status    entities.OrderStatus `json:"status"`
	Payable   bool                 `json:"payable"` // false once the order is terminal
	Networks  []PaymentNetwork     `json:"networks"`
	CreatedAt time.Time            `json:"created_at"`
	ExpiresAt time.Time            `json:"expires_at"`
}

// Service creates pending orders and renders checkout details
type Service struct {
	orders  OrderRepository
	amounts AmountGenerator
	config  Config
	logger  *logger.Logger
	now     func() time.Time
}

// NewService creates a new payment service
func NewService(orders OrderRepository, amounts AmountGenerator, config Config, logger *logger.Logger) *Service {
	if config.MaxAttempts <= 0 {
		config.MaxAttempts = defaultMaxAttempts
	}
	if config.Precision <= 0 {
		config.Precision = 6
	}
	if config.ExpirationWindow <= 0 {
		config.ExpirationWindow = 24 * time.Hour
	}
	return &Service{
		orders:  orders,
		amounts: amounts,
		config:  config,
		logger:  logger,
		now:     time.Now,
	}
}

// CreatePendingOrder records a purchase intent for tier. A fresh amount is drawn when
// the datastore reports another pending order already expects the same amount.
func (s *Service) CreatePendingOrder(ctx context.Context, userID uuid.UUID, tier decimal.Decimal) (*entities.PaymentOrder, error) {
	if userID == uuid.Nil {
		return nil, domainerrors.ValidationError("user_id", "user id is required")
	}

	for attempt := 1; attempt <= s.config.MaxAttempts; attempt++ {
		amount, err := s.amounts.Generate(tier)
		if err != nil {
			return nil, err
		}

		order := entities.NewPendingOrder(userID, amount, s.now().UTC())
		err = s.orders.CreatePending(ctx, order)
		if err == nil {
			s.logger.Info("Pending order created",
				"order_id", order.ID,
				"account_id", userID,
				"amount", amount.StringFixed(s.config.Precision))
			return order, nil
		}
		if !errors.Is(err, domainerrors.ErrAmountCollision) {
			return nil, fmt.Errorf("failed to create pending order: %w", err)
		}
		s.logger.Warn("Expected amount collides with a pending order, regenerating",
			"attempt", attempt,
			"amount", amount.String())
	}
	return nil, fmt.Errorf("%w: gave up after %d attempts", domainerrors.ErrAmountCollision, s.config.MaxAttempts)
}

// GetCheckoutDetails returns the amount formatted at full precision plus the treasury addresses
func (s *Service) GetCheckoutDetails(ctx context.Context, orderID uuid.UUID) (*CheckoutDetails, error) {
	order, err := s.orders.GetByID(ctx, orderID)
	if err != nil {
		return nil, err
	}
	return &CheckoutDetails{
		OrderID:   order.ID,
		Amount:    order.Amount.StringFixed(s.config.Precision),
		Status:    order.Status,
		Payable:   !order.Status.IsTerminal(),
		Networks:  s.config.Networks,
		CreatedAt: order.CreatedAt,
		ExpiresAt: order.CreatedAt.Add(s.config.ExpirationWindow),
	}, nil
}
