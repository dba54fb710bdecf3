package amount

import (
	"math/rand"
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	domainerrors "github.com/rail-service/payment_listener/internal/domain/errors"
)

var tier15 = decimal.NewFromInt(15)

func TestGenerate_StaysWithinOffsetRange(t *testing.T) {
	d := NewWithSource(Config{Tiers: []decimal.Decimal{tier15}}, rand.NewSource(1))
	upper := tier15.Add(DefaultOffsetWidth)

	for i := 0; i < 1000; i++ {
		amt, err := d.Generate(tier15)
		require.NoError(t, err)
		assert.True(t, amt.GreaterThanOrEqual(tier15), "amount %s below tier", amt)
		assert.True(t, amt.LessThan(upper), "amount %s not below %s", amt, upper)
		assert.LessOrEqual(t, -amt.Exponent(), int32(6), "amount %s has more than 6 decimals", amt)
	}
}

func TestGenerate_PairsAreDistinct(t *testing.T) {
	d := NewWithSource(Config{}, rand.NewSource(42))

	equal := 0
	for i := 0; i < 10000; i++ {
		a, err := d.Generate(tier15)
		require.NoError(t, err)
		b, err := d.Generate(tier15)
		require.NoError(t, err)
		if a.Equal(b) {
			equal++
		}
	}
	// collision chance per pair is 1/10_000, so the expectation is about one
	assert.LessOrEqual(t, equal, 10)
}

func TestGenerate_RejectsUnknownTier(t *testing.T) {
	d := NewWithSource(Config{Tiers: []decimal.Decimal{tier15}}, rand.NewSource(1))

	_, err := d.Generate(decimal.NewFromInt(50))
	assert.ErrorIs(t, err, domainerrors.ErrUnknownTier)

	_, err = d.Generate(decimal.Zero)
	assert.True(t, domainerrors.IsInvalidInput(err))
}

func TestDefaults(t *testing.T) {
	d := New(Config{})
	assert.Equal(t, int64(10000), d.steps)

	amt, err := d.Generate(tier15)
	require.NoError(t, err)
	assert.True(t, amt.Sub(tier15).LessThan(DefaultOffsetWidth))
}
