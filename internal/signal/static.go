package signal

import (
	"context"
	"time"

	"github.com/shopspring/decimal"

	"intraday-trader/internal/domain"
)

// Static returns the same signal on every call. Used for dry runs and drills.
type Static struct {
	direction  domain.Direction
	confidence float64
	price      decimal.Decimal
	exitSignal bool
	now        func() time.Time
}

// NewStatic creates a Static provider.
func NewStatic(direction domain.Direction, confidence float64, price decimal.Decimal, exitSignal bool) *Static {
	return &Static{
		direction:  direction,
		confidence: confidence,
		price:      price,
		exitSignal: exitSignal,
		now:        time.Now,
	}
}

// FetchSignal implements Provider.
func (s *Static) FetchSignal(_ context.Context, symbol string) (domain.Signal, error) {
	return domain.Signal{
		Symbol:       symbol,
		Direction:    s.direction,
		Confidence:   s.confidence,
		CurrentPrice: s.price,
		ExitSignal:   s.exitSignal,
		Source:       "static",
		At:           s.now(),
	}, nil
}

var _ Provider = (*Static)(nil)
