// Package position tracks open exposure per instrument.
package position

import (
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/shopspring/decimal"

	"intraday-trader/internal/domain"
	"intraday-trader/internal/observability"
)

var (
	// ErrDirectionFlip is returned when opening against a held position.
	// Callers must flatten first.
	ErrDirectionFlip = errors.New("open would flip position direction")

	// ErrInvalidQuantity is returned for zero quantities or reductions
	// larger than the held position.
	ErrInvalidQuantity = errors.New("invalid quantity")

	// ErrNoPosition is returned when reducing a flat instrument.
	ErrNoPosition = errors.New("no open position")
)

// Tracker owns per-symbol positions. Safe for concurrent use.
type Tracker struct {
	mu        sync.RWMutex
	positions map[string]domain.Position
}

// NewTracker creates an empty tracker.
func NewTracker() *Tracker {
	return &Tracker{positions: make(map[string]domain.Position)}
}

// GetPosition returns the signed quantity held (0 if none).
func (t *Tracker) GetPosition(symbol string) int64 {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.positions[symbol].Quantity
}

// Position returns the full position for symbol. Flat positions carry only
// the symbol.
func (t *Tracker) Position(symbol string) domain.Position {
	t.mu.RLock()
	defer t.mu.RUnlock()
	p, ok := t.positions[symbol]
	if !ok {
		return domain.Position{Symbol: symbol}
	}
	return p
}

// Open adds qty (signed) at price. Opening the same direction scales in at
// the quantity-weighted average price and keeps the first entry time.
func (t *Tracker) Open(symbol string, qty int64, price decimal.Decimal, at time.Time) error {
	if qty == 0 {
		return fmt.Errorf("open %s: %w", symbol, ErrInvalidQuantity)
	}

	t.mu.Lock()
	defer t.mu.Unlock()

	cur, ok := t.positions[symbol]
	if !ok || cur.IsFlat() {
		t.positions[symbol] = domain.Position{
			Symbol:     symbol,
			Quantity:   qty,
			EntryPrice: price,
			EntryTime:  at,
		}
		observability.UpdatePosition(symbol, qty)
		return nil
	}

	if (cur.Quantity > 0) != (qty > 0) {
		return fmt.Errorf("open %s %d while holding %d: %w", symbol, qty, cur.Quantity, ErrDirectionFlip)
	}

	total := cur.Quantity + qty
	notional := cur.EntryPrice.Mul(decimal.NewFromInt(cur.Quantity)).
		Add(price.Mul(decimal.NewFromInt(qty)))
	cur.EntryPrice = notional.Div(decimal.NewFromInt(total))
	cur.Quantity = total
	t.positions[symbol] = cur
	observability.UpdatePosition(symbol, total)
	return nil
}

// Reduce closes qty units (positive magnitude) of the held position. Entry
// price and time are unchanged unless the position reaches zero, in which
// case it is flattened.
func (t *Tracker) Reduce(symbol string, qty int64) error {
	if qty <= 0 {
		return fmt.Errorf("reduce %s: %w", symbol, ErrInvalidQuantity)
	}

	t.mu.Lock()
	defer t.mu.Unlock()

	cur, ok := t.positions[symbol]
	if !ok || cur.IsFlat() {
		return fmt.Errorf("reduce %s: %w", symbol, ErrNoPosition)
	}
	held := cur.Quantity
	if held < 0 {
		held = -held
	}
	if qty > held {
		return fmt.Errorf("reduce %s by %d while holding %d: %w", symbol, qty, cur.Quantity, ErrInvalidQuantity)
	}
	if qty == held {
		delete(t.positions, symbol)
		observability.UpdatePosition(symbol, 0)
		return nil
	}

	cur.Quantity -= cur.Side() * qty
	t.positions[symbol] = cur
	observability.UpdatePosition(symbol, cur.Quantity)
	return nil
}

// Flatten clears quantity, entry price and entry time together. Returns the
// position that was held.
func (t *Tracker) Flatten(symbol string) domain.Position {
	t.mu.Lock()
	defer t.mu.Unlock()

	prev, ok := t.positions[symbol]
	if !ok {
		return domain.Position{Symbol: symbol}
	}
	delete(t.positions, symbol)
	observability.UpdatePosition(symbol, 0)
	return prev
}

// AgeMinutes returns whole minutes the position has been held (0 if flat).
func (t *Tracker) AgeMinutes(symbol string, now time.Time) int64 {
	return int64(t.Position(symbol).Age(now) / time.Minute)
}

// OpenPositions returns every non-flat position sorted by symbol.
func (t *Tracker) OpenPositions() []domain.Position {
	t.mu.RLock()
	out := make([]domain.Position, 0, len(t.positions))
	for _, p := range t.positions {
		if !p.IsFlat() {
			out = append(out, p)
		}
	}
	t.mu.RUnlock()

	sort.Slice(out, func(i, j int) bool { return out[i].Symbol < out[j].Symbol })
	return out
}
