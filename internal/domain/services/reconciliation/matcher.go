package reconciliation

import (
	"time"

	"github.com/shopspring/decimal"

	"github.com/rail-service/payment_listener/internal/domain/entities"
)

// candidateSet is the in-cycle view of pending orders. Orders leave the set once a
// transfer has been applied to them so one cycle never completes an order twice.
type candidateSet struct {
	orders []*entities.PaymentOrder
}

func newCandidateSet(orders []*entities.PaymentOrder) *candidateSet {
	cp := make([]*entities.PaymentOrder, 0, len(orders))
	for _, o := range orders {
		if o != nil && o.IsPending() {
			cp = append(cp, o)
		}
	}
	return &candidateSet{orders: cp}
}

func (c *candidateSet) len() int {
	return len(c.orders)
}

// closest returns the pending order whose expected amount is nearest to amount and
// within tolerance (inclusive). Equal distances go to the oldest order, then the lowest id.
func (c *candidateSet) closest(amount, tolerance decimal.Decimal) *entities.PaymentOrder {
	var best *entities.PaymentOrder
	var bestDiff decimal.Decimal
	for _, o := range c.orders {
		diff := o.Amount.Sub(amount).Abs()
		if diff.GreaterThan(tolerance) {
			continue
		}
		if best == nil || diff.LessThan(bestDiff) || (diff.Equal(bestDiff) && earlier(o, best)) {
			best, bestDiff = o, diff
		}
	}
	return best
}

func (c *candidateSet) remove(order *entities.PaymentOrder) {
	for i, o := range c.orders {
		if o.ID == order.ID {
			c.orders = append(c.orders[:i], c.orders[i+1:]...)
			return
		}
	}
}

func earlier(a, b *entities.PaymentOrder) bool {
	if !a.CreatedAt.Equal(b.CreatedAt) {
		return a.CreatedAt.Before(b.CreatedAt)
	}
	return a.ID.String() < b.ID.String()
}

// predatesOrder reports a transfer observed before the order could have been shown to
// the payer. A zero timestamp means the explorer did not report one.
func predatesOrder(observed time.Time, order *entities.PaymentOrder, margin time.Duration) bool {
	if observed.IsZero() {
		return false
	}
	return observed.Before(order.CreatedAt.Add(-margin))
}
