package domain

import (
	"time"

	"github.com/shopspring/decimal"
)

// Position is the open exposure in one instrument.
// EntryPrice and EntryTime are only meaningful while Quantity != 0.
type Position struct {
	Symbol     string
	Quantity   int64 // positive = long, negative = short, zero = flat
	EntryPrice decimal.Decimal
	EntryTime  time.Time
}

// IsFlat reports whether the position holds no quantity.
func (p Position) IsFlat() bool {
	return p.Quantity == 0
}

// Side returns +1 for long, -1 for short, 0 for flat.
func (p Position) Side() int64 {
	switch {
	case p.Quantity > 0:
		return 1
	case p.Quantity < 0:
		return -1
	default:
		return 0
	}
}

// UnrealizedPnL returns (price - entry) * quantity. Zero when flat.
func (p Position) UnrealizedPnL(price decimal.Decimal) decimal.Decimal {
	if p.IsFlat() {
		return decimal.Zero
	}
	return price.Sub(p.EntryPrice).Mul(decimal.NewFromInt(p.Quantity))
}

// Age returns how long the position has been held at now.
func (p Position) Age(now time.Time) time.Duration {
	if p.IsFlat() || p.EntryTime.IsZero() {
		return 0
	}
	return now.Sub(p.EntryTime)
}
