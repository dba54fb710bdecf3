package repositories

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"
	"github.com/lib/pq"
	"github.com/shopspring/decimal"

	"github.com/rail-service/payment_listener/internal/domain/entities"
	domainerrors "github.com/rail-service/payment_listener/internal/domain/errors"
)

const (
	defaultQueryTimeout = 10 * time.Second

	pqUniqueViolation = "23505"

	constraintTransactionHash = "idx_payment_orders_transaction_hash"
	constraintPendingAmount   = "idx_payment_orders_pending_amount"
)

const orderColumns = `id, user_id, amount, status, network, transaction_hash, paid_amount,
	created_at, completed_at, updated_at`

// PaymentOrderRepository persists payment orders and account activation in Postgres
type PaymentOrderRepository struct {
	db           *sqlx.DB
	queryTimeout time.Duration
}

// NewPaymentOrderRepository creates a repository whose calls are bounded by queryTimeout
func NewPaymentOrderRepository(db *sqlx.DB, queryTimeout time.Duration) *PaymentOrderRepository {
	if queryTimeout <= 0 {
		queryTimeout = defaultQueryTimeout
	}
	return &PaymentOrderRepository{db: db, queryTimeout: queryTimeout}
}

func (r *PaymentOrderRepository) withTimeout(ctx context.Context) (context.Context, context.CancelFunc) {
	return context.WithTimeout(ctx, r.queryTimeout)
}

// CreatePending inserts a new pending order
func (r *PaymentOrderRepository) CreatePending(ctx context.Context, order *entities.PaymentOrder) error {
	ctx, cancel := r.withTimeout(ctx)
	defer cancel()

	query := `
		INSERT INTO payment_orders (id, user_id, amount, status, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6)
	`
	_, err := r.db.ExecContext(ctx, query,
		order.ID,
		order.UserID,
		order.Amount,
		entities.OrderStatusPending,
		order.CreatedAt,
		order.UpdatedAt,
	)
	if err != nil {
		if isUniqueViolation(err, constraintPendingAmount) {
			return domainerrors.ErrAmountCollision
		}
		return fmt.Errorf("failed to create payment order: %w", err)
	}
	return nil
}

// GetByID retrieves an order by ID
func (r *PaymentOrderRepository) GetByID(ctx context.Context, id uuid.UUID) (*entities.PaymentOrder, error) {
	ctx, cancel := r.withTimeout(ctx)
	defer cancel()

	var order entities.PaymentOrder
	err := r.db.GetContext(ctx, &order, `SELECT `+orderColumns+` FROM payment_orders WHERE id = $1`, id)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, domainerrors.NotFoundError("PAYMENT_ORDER")
		}
		return nil, fmt.Errorf("failed to get payment order: %w", err)
	}
	return &order, nil
}

// ListPending returns a snapshot of every pending order, oldest first
func (r *PaymentOrderRepository) ListPending(ctx context.Context) ([]*entities.PaymentOrder, error) {
	ctx, cancel := r.withTimeout(ctx)
	defer cancel()

	var orders []*entities.PaymentOrder
	query := `SELECT ` + orderColumns + ` FROM payment_orders WHERE status = $1 ORDER BY created_at ASC, id ASC`
	if err := r.db.SelectContext(ctx, &orders, query, entities.OrderStatusPending); err != nil {
		return nil, fmt.Errorf("failed to list pending orders: %w", err)
	}
	return orders, nil
}

// HasProcessedHash reports whether any order already holds txHash
func (r *PaymentOrderRepository) HasProcessedHash(ctx context.Context, txHash string) (bool, error) {
	ctx, cancel := r.withTimeout(ctx)
	defer cancel()

	var exists bool
	query := `SELECT EXISTS(SELECT 1 FROM payment_orders WHERE transaction_hash = $1)`
	if err := r.db.GetContext(ctx, &exists, query, txHash); err != nil {
		return false, fmt.Errorf("failed to check transaction hash: %w", err)
	}
	return exists, nil
}

// CompleteOrder records the payment on a pending order. Only one caller can win the transition.
func (r *PaymentOrderRepository) CompleteOrder(ctx context.Context, orderID uuid.UUID, txHash string, network entities.Network, paid decimal.Decimal) (entities.CompletionResult, error) {
	ctx, cancel := r.withTimeout(ctx)
	defer cancel()

	query := `
		UPDATE payment_orders
		SET status = $2,
			transaction_hash = $3,
			network = $4,
			paid_amount = $5,
			completed_at = NOW(),
			updated_at = NOW()
		WHERE id = $1 AND status = $6
	`
	res, err := r.db.ExecContext(ctx, query,
		orderID,
		entities.OrderStatusCompleted,
		txHash,
		network,
		paid,
		entities.OrderStatusPending,
	)
	if err != nil {
		if isUniqueViolation(err, constraintTransactionHash) {
			return "", domainerrors.ErrHashAlreadyUsed
		}
		return "", fmt.Errorf("failed to complete payment order: %w", err)
	}

	rows, err := res.RowsAffected()
	if err != nil {
		return "", fmt.Errorf("failed to read completion result: %w", err)
	}
	if rows == 1 {
		return entities.CompletionSuccess, nil
	}

	var status entities.OrderStatus
	err = r.db.GetContext(ctx, &status, `SELECT status FROM payment_orders WHERE id = $1`, orderID)
	if errors.Is(err, sql.ErrNoRows) {
		return entities.CompletionNotFound, nil
	}
	if err != nil {
		return "", fmt.Errorf("failed to read payment order status: %w", err)
	}
	if status.CanTransitionTo(entities.OrderStatusCompleted) {
		return "", fmt.Errorf("payment order %s still %s after conditional completion", orderID, status)
	}
	return entities.CompletionAlreadyCompleted, nil
}

// ActivateAccount sets the account active; activation never reverts
func (r *PaymentOrderRepository) ActivateAccount(ctx context.Context, accountID uuid.UUID) (entities.ActivationResult, error) {
	ctx, cancel := r.withTimeout(ctx)
	defer cancel()

	query := `UPDATE users SET status = $2, updated_at = NOW() WHERE id = $1 AND status <> $2`
	res, err := r.db.ExecContext(ctx, query, accountID, entities.AccountStatusActive)
	if err != nil {
		return "", fmt.Errorf("failed to activate account: %w", err)
	}
	rows, err := res.RowsAffected()
	if err != nil {
		return "", fmt.Errorf("failed to read activation result: %w", err)
	}
	if rows == 1 {
		return entities.ActivationSuccess, nil
	}

	exists, err := r.exists(ctx, `SELECT EXISTS(SELECT 1 FROM users WHERE id = $1)`, accountID)
	if err != nil {
		return "", err
	}
	if !exists {
		return "", domainerrors.NotFoundError("ACCOUNT")
	}
	return entities.ActivationAlreadyActive, nil
}

// ExpirePendingOlderThan marks every pending order created before deadline as expired
func (r *PaymentOrderRepository) ExpirePendingOlderThan(ctx context.Context, deadline time.Time) (int64, error) {
	ctx, cancel := r.withTimeout(ctx)
	defer cancel()

	query := `
		UPDATE payment_orders
		SET status = $1, updated_at = NOW()
		WHERE status = $2 AND created_at < $3
	`
	res, err := r.db.ExecContext(ctx, query, entities.OrderStatusExpired, entities.OrderStatusPending, deadline)
	if err != nil {
		return 0, fmt.Errorf("failed to expire pending orders: %w", err)
	}
	rows, err := res.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("failed to read expiry result: %w", err)
	}
	return rows, nil
}

func (r *PaymentOrderRepository) exists(ctx context.Context, query string, id uuid.UUID) (bool, error) {
	var exists bool
	if err := r.db.GetContext(ctx, &exists, query, id); err != nil {
		return false, fmt.Errorf("failed to probe existence: %w", err)
	}
	return exists, nil
}

func isUniqueViolation(err error, constraint string) bool {
	var pqErr *pq.Error
	if !errors.As(err, &pqErr) {
		return false
	}
	return string(pqErr.Code) == pqUniqueViolation && pqErr.Constraint == constraint
}
