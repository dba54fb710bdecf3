package reconciliation

import (
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rail-service/payment_listener/internal/domain/entities"
)

func order(amount string, createdAt time.Time) *entities.PaymentOrder {
	return entities.NewPendingOrder(uuid.New(), decimal.RequireFromString(amount), createdAt)
}

func TestCandidateSet_Closest(t *testing.T) {
	base := time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)
	tol := decimal.RequireFromString("0.01")

	t.Run("nearest amount wins", func(t *testing.T) {
		low := order("15.0031", base)
		high := order("15.0047", base.Add(time.Minute))
		set := newCandidateSet([]*entities.PaymentOrder{low, high})

		got := set.closest(decimal.RequireFromString("15.0040"), tol)
		require.NotNil(t, got)
		assert.Equal(t, high.ID, got.ID)
	})

	t.Run("tolerance is inclusive", func(t *testing.T) {
		o := order("15.004", base)
		set := newCandidateSet([]*entities.PaymentOrder{o})

		assert.NotNil(t, set.closest(decimal.RequireFromString("15.014"), tol))
		assert.NotNil(t, set.closest(decimal.RequireFromString("14.994"), tol))
		assert.Nil(t, set.closest(decimal.RequireFromString("15.0141"), tol))
		assert.Nil(t, set.closest(decimal.RequireFromString("14.9939"), tol))
	})

	t.Run("equal distance goes to the oldest order", func(t *testing.T) {
		newer := order("15.005", base.Add(time.Minute))
		older := order("15.003", base)
		set := newCandidateSet([]*entities.PaymentOrder{newer, older})

		got := set.closest(decimal.RequireFromString("15.004"), tol)
		require.NotNil(t, got)
		assert.Equal(t, older.ID, got.ID)
	})

	t.Run("equal distance and age goes to the lower id", func(t *testing.T) {
		a := order("15.005", base)
		b := order("15.003", base)
		want := a
		if b.ID.String() < a.ID.String() {
			want = b
		}
		set := newCandidateSet([]*entities.PaymentOrder{a, b})

		got := set.closest(decimal.RequireFromString("15.004"), tol)
		require.NotNil(t, got)
		assert.Equal(t, want.ID, got.ID)
	})

	t.Run("non-pending and removed orders are not candidates", func(t *testing.T) {
		expired := order("15.004", base)
		expired.Status = entities.OrderStatusExpired
		live := order("15.004", base)
		set := newCandidateSet([]*entities.PaymentOrder{expired, live, nil})
		assert.Equal(t, 1, set.len())

		set.remove(live)
		assert.Equal(t, 0, set.len())
		assert.Nil(t, set.closest(decimal.RequireFromString("15.004"), tol))
	})
}

func TestPredatesOrder(t *testing.T) {
	created := time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)
	o := order("15.004", created)
	margin := 5 * time.Minute

	tests := []struct {
		name     string
		observed time.Time
		want     bool
	}{
		{"unknown timestamp", time.Time{}, false},
		{"after creation", created.Add(time.Minute), false},
		{"inside margin", created.Add(-4 * time.Minute), false},
		{"exactly at margin", created.Add(-margin), false},
		{"before margin", created.Add(-margin - time.Second), true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, predatesOrder(tt.observed, o, margin))
		})
	}
}
