// Package marketdata streams live quotes over a websocket and keeps the
// latest quote per symbol.
package marketdata

import (
	"sync"
	"time"

	"github.com/shopspring/decimal"
)

// Quote is the last traded or mid price for a symbol.
type Quote struct {
	Symbol string
	Price  decimal.Decimal
	At     time.Time
}

// QuoteCache holds the most recent quote per symbol.
type QuoteCache struct {
	mu     sync.RWMutex
	quotes map[string]Quote
}

// NewQuoteCache creates an empty cache.
func NewQuoteCache() *QuoteCache {
	return &QuoteCache{quotes: make(map[string]Quote)}
}

// Update stores q unless a newer quote for the symbol is already present.
func (c *QuoteCache) Update(q Quote) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if prev, ok := c.quotes[q.Symbol]; ok && prev.At.After(q.At) {
		return
	}
	c.quotes[q.Symbol] = q
}

// Quote returns the latest quote for symbol.
func (c *QuoteCache) Quote(symbol string) (Quote, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	q, ok := c.quotes[symbol]
	return q, ok
}

// LastPrice returns the latest price for symbol.
func (c *QuoteCache) LastPrice(symbol string) (decimal.Decimal, bool) {
	q, ok := c.Quote(symbol)
	if !ok {
		return decimal.Zero, false
	}
	return q.Price, true
}
