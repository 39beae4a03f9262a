package signal

import (
	"context"
	"errors"
	"fmt"
	"time"

	"intraday-trader/internal/domain"
	"intraday-trader/internal/marketdata"
)

// DefaultMaxQuoteAge bounds how old a quote may be before QuoteMonitor
// refuses to price from it.
const DefaultMaxQuoteAge = 30 * time.Second

// QuoteMonitor errors.
var (
	ErrNoQuote    = errors.New("no quote for symbol")
	ErrStaleQuote = errors.New("quote is stale")
)

// QuoteSource returns the most recent quote for a symbol.
type QuoteSource interface {
	Quote(symbol string) (marketdata.Quote, bool)
}

// QuoteMonitor emits a NEUTRAL signal priced at the last streamed quote.
// It never opens positions; it keeps stop-loss and max-hold exits running
// off live prices.
type QuoteMonitor struct {
	quotes QuoteSource
	maxAge time.Duration
	now    func() time.Time
}

// NewQuoteMonitor creates a QuoteMonitor. maxAge <= 0 uses DefaultMaxQuoteAge.
func NewQuoteMonitor(quotes QuoteSource, maxAge time.Duration) *QuoteMonitor {
	if maxAge <= 0 {
		maxAge = DefaultMaxQuoteAge
	}
	return &QuoteMonitor{quotes: quotes, maxAge: maxAge, now: time.Now}
}

// FetchSignal implements Provider.
func (m *QuoteMonitor) FetchSignal(_ context.Context, symbol string) (domain.Signal, error) {
	q, ok := m.quotes.Quote(symbol)
	if !ok {
		return domain.Signal{}, fmt.Errorf("%w: %s", ErrNoQuote, symbol)
	}
	now := m.now()
	if age := now.Sub(q.At); age > m.maxAge {
		return domain.Signal{}, fmt.Errorf("%w: %s is %s old", ErrStaleQuote, symbol, age.Truncate(time.Second))
	}
	return domain.Signal{
		Symbol:       symbol,
		Direction:    domain.DirectionNeutral,
		CurrentPrice: q.Price,
		Source:       "quote",
		At:           q.At,
	}, nil
}

var _ Provider = (*QuoteMonitor)(nil)
