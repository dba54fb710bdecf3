// Package amount generates per-order payment amounts that stay identifiable
// when many pending orders share one treasury address.
package amount

import (
	"fmt"
	"math/rand"
	"sync"
	"time"

	"github.com/shopspring/decimal"

	domainerrors "github.com/rail-service/payment_listener/internal/domain/errors"
)

const (
	DefaultPrecision int32 = 6
)

// DefaultOffsetWidth is the exclusive upper bound of the fractional offset
var DefaultOffsetWidth = decimal.RequireFromString("0.01")

// Config holds disambiguation parameters
type Config struct {
	// Tiers are the accepted base amounts; empty accepts any positive amount
	Tiers       []decimal.Decimal
	OffsetWidth decimal.Decimal
	Precision   int32
}

// Disambiguator adds a pseudo-random fractional offset to a tier amount.
// Uniqueness is probabilistic; callers regenerate on a store collision.
type Disambiguator struct {
	config Config
	steps  int64

	mu  sync.Mutex
	rng *rand.Rand
}

// New creates a disambiguator seeded from the clock
func New(config Config) *Disambiguator {
	return NewWithSource(config, rand.NewSource(time.Now().UnixNano()))
}

// NewWithSource creates a disambiguator with a caller-provided random source
func NewWithSource(config Config, src rand.Source) *Disambiguator {
	if config.OffsetWidth.IsZero() {
		config.OffsetWidth = DefaultOffsetWidth
	}
	if config.Precision <= 0 {
		config.Precision = DefaultPrecision
	}
	// number of distinct offsets at the configured precision, e.g. 0.01 @ 6dp = 10_000
	steps := config.OffsetWidth.Shift(config.Precision).IntPart()
	if steps < 1 {
		steps = 1
	}
	return &Disambiguator{
		config: config,
		steps:  steps,
		rng:    rand.New(src),
	}
}

// Generate returns tier + offset with offset in [0, OffsetWidth)
func (d *Disambiguator) Generate(tier decimal.Decimal) (decimal.Decimal, error) {
	if !tier.IsPositive() {
		return decimal.Zero, domainerrors.ValidationError("tier", fmt.Sprintf("tier must be positive, got %s", tier))
	}
	if !d.isKnownTier(tier) {
		return decimal.Zero, fmt.Errorf("%s: %w", tier, domainerrors.ErrUnknownTier)
	}

	d.mu.Lock()
	step := d.rng.Int63n(d.steps)
	d.mu.Unlock()

	offset := decimal.New(step, -d.config.Precision)
	return tier.Add(offset), nil
}

func (d *Disambiguator) isKnownTier(tier decimal.Decimal) bool {
	if len(d.config.Tiers) == 0 {
		return true
	}
	for _, t := range d.config.Tiers {
		if t.Equal(tier) {
			return true
		}
	}
	return false
}
