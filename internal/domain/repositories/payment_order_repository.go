package repositories

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/rail-service/payment_listener/internal/domain/entities"
)

// OrderStore is the datastore contract the reconciliation engine depends on
type OrderStore interface {
	ListPending(ctx context.Context) ([]*entities.PaymentOrder, error)
	HasProcessedHash(ctx context.Context, txHash string) (bool, error)
	// CompleteOrder transitions a pending order to completed in one conditional write
	CompleteOrder(ctx context.Context, orderID uuid.UUID, txHash string, network entities.Network, paid decimal.Decimal) (entities.CompletionResult, error)
	ActivateAccount(ctx context.Context, accountID uuid.UUID) (entities.ActivationResult, error)
}

// OrderExpirer is the narrow contract used by the expiry sweeper
type OrderExpirer interface {
	ExpirePendingOlderThan(ctx context.Context, deadline time.Time) (int64, error)
}

// PaymentOrderRepository is the full order persistence contract
type PaymentOrderRepository interface {
	OrderStore
	OrderExpirer
	CreatePending(ctx context.Context, order *entities.PaymentOrder) error
	GetByID(ctx context.Context, id uuid.UUID) (*entities.PaymentOrder, error)
}

// ProcessedHashCache remembers transaction hashes already bound to an order
type ProcessedHashCache interface {
	IsProcessed(ctx context.Context, network entities.Network, txHash string) (bool, error)
	MarkProcessed(ctx context.Context, network entities.Network, txHash string) error
}
