package entities

import "fmt"

// OrderStatus represents the status of a payment order
type OrderStatus string

const (
	OrderStatusPending   OrderStatus = "pending"
	OrderStatusCompleted OrderStatus = "completed"
	OrderStatusExpired   OrderStatus = "expired"
	OrderStatusFailed    OrderStatus = "failed"
)

// ValidOrderStatuses contains all valid order statuses
var ValidOrderStatuses = map[OrderStatus]bool{
	OrderStatusPending:   true,
	OrderStatusCompleted: true,
	OrderStatusExpired:   true,
	OrderStatusFailed:    true,
}

// ValidOrderTransitions defines allowed status transitions.
// Nothing leads back to pending.
var ValidOrderTransitions = map[OrderStatus][]OrderStatus{
	OrderStatusPending:   {OrderStatusCompleted, OrderStatusExpired, OrderStatusFailed},
	OrderStatusCompleted: {},
	OrderStatusExpired:   {},
	OrderStatusFailed:    {},
}

// IsValid checks if the status is a valid order status
func (s OrderStatus) IsValid() bool {
	return ValidOrderStatuses[s]
}

// CanTransitionTo checks if transition to new status is allowed
func (s OrderStatus) CanTransitionTo(newStatus OrderStatus) bool {
	for _, status := range ValidOrderTransitions[s] {
		if status == newStatus {
			return true
		}
	}
	return false
}

// IsTerminal returns true if this is a terminal state
func (s OrderStatus) IsTerminal() bool {
	return s.IsValid() && len(ValidOrderTransitions[s]) == 0
}

// ValidateTransition validates and returns error if transition is invalid
func (s OrderStatus) ValidateTransition(newStatus OrderStatus) error {
	if !newStatus.IsValid() {
		return fmt.Errorf("invalid order status: %s", newStatus)
	}
	if !s.CanTransitionTo(newStatus) {
		return fmt.Errorf("invalid status transition from %s to %s", s, newStatus)
	}
	return nil
}

// AccountStatus represents whether an account has paid its activation order
type AccountStatus string

const (
	AccountStatusInactive AccountStatus = "inactive"
	AccountStatusActive   AccountStatus = "active"
)
