package entities

import (
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// Network identifies the ledger a transfer was observed on
type Network string

const (
	NetworkTron Network = "TRON"
	NetworkBSC  Network = "BSC"
)

// ParseNetwork normalises a configured network name
func ParseNetwork(s string) (Network, bool) {
	switch Network(strings.ToUpper(strings.TrimSpace(s))) {
	case NetworkTron:
		return NetworkTron, true
	case NetworkBSC:
		return NetworkBSC, true
	}
	return "", false
}

// PaymentOrder is a purchase intent awaiting an on-chain transfer
type PaymentOrder struct {
	ID              uuid.UUID        `json:"id" db:"id"`
	UserID          uuid.UUID        `json:"user_id" db:"user_id"`
	Amount          decimal.Decimal  `json:"amount" db:"amount"`
	Status          OrderStatus      `json:"status" db:"status"`
	Network         *Network         `json:"network,omitempty" db:"network"`
	TransactionHash *string          `json:"transaction_hash,omitempty" db:"transaction_hash"`
	PaidAmount      *decimal.Decimal `json:"paid_amount,omitempty" db:"paid_amount"`
	CreatedAt       time.Time        `json:"created_at" db:"created_at"`
	CompletedAt     *time.Time       `json:"completed_at,omitempty" db:"completed_at"`
	UpdatedAt       time.Time        `json:"updated_at" db:"updated_at"`
}

// NewPendingOrder creates an order awaiting payment of amount
func NewPendingOrder(userID uuid.UUID, amount decimal.Decimal, now time.Time) *PaymentOrder {
	return &PaymentOrder{
		ID:        uuid.New(),
		UserID:    userID,
		Amount:    amount,
		Status:    OrderStatusPending,
		CreatedAt: now,
		UpdatedAt: now,
	}
}

// IsPending returns true while the order can still be matched
func (o *PaymentOrder) IsPending() bool {
	return o.Status == OrderStatusPending
}

// Account is the purchasing entity activated by its order
type Account struct {
	ID        uuid.UUID     `json:"id" db:"id"`
	Status    AccountStatus `json:"status" db:"status"`
	UpdatedAt time.Time     `json:"updated_at" db:"updated_at"`
}

// ObservedTransfer is an inbound token transfer reported by an explorer for one cycle
type ObservedTransfer struct {
	Amount        decimal.Decimal
	TxHash        string
	Timestamp     time.Time
	Network       Network
	From          string
	To            string
	TokenContract string
	Source        string
}

// CompletionResult is the outcome of the conditional completion write
type CompletionResult string

const (
	CompletionSuccess          CompletionResult = "success"
	CompletionAlreadyCompleted CompletionResult = "already_completed"
	CompletionNotFound         CompletionResult = "not_found"
)

// ActivationResult is the outcome of activating an account
type ActivationResult string

const (
	ActivationSuccess       ActivationResult = "success"
	ActivationAlreadyActive ActivationResult = "already_active"
)
