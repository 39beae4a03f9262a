// Package broker provides a paper broker for dry runs and failure drills.
package broker

import (
	"context"
	"fmt"
	"log"
	"sync"
	"time"

	"github.com/shopspring/decimal"

	"intraday-trader/internal/domain"
	"intraday-trader/internal/execution"
)

// Default configuration values.
var (
	DefaultTickSize = decimal.RequireFromString("0.01")
)

// PriceSource supplies a live price when an order carries no reference price.
type PriceSource interface {
	LastPrice(symbol string) (decimal.Decimal, bool)
}

// PaperOptions configures a Paper broker.
type PaperOptions struct {
	TickSize      decimal.Decimal
	SlippageTicks int64
	Latency       time.Duration
	Prices        PriceSource // optional
	Logger        *log.Logger
	Now           func() time.Time
}

type injected struct {
	reject bool
	reason string
}

// Paper fills every order immediately at the reference price moved against
// the order by SlippageTicks ticks. Failures can be queued with FailNext.
type Paper struct {
	tickSize decimal.Decimal
	slippage int64
	latency  time.Duration
	prices   PriceSource
	logger   *log.Logger
	now      func() time.Time

	mu       sync.Mutex
	failures []injected
	seq      int64
	orders   []domain.Order
}

// NewPaper creates a Paper broker.
func NewPaper(opts PaperOptions) *Paper {
	p := &Paper{
		tickSize: opts.TickSize,
		slippage: opts.SlippageTicks,
		latency:  opts.Latency,
		prices:   opts.Prices,
		logger:   opts.Logger,
		now:      opts.Now,
	}
	if !p.tickSize.IsPositive() {
		p.tickSize = DefaultTickSize
	}
	if p.logger == nil {
		p.logger = log.Default()
	}
	if p.now == nil {
		p.now = time.Now
	}
	return p
}

var _ execution.Broker = (*Paper)(nil)

// FailNext queues n failures for the next submissions. reject selects a
// broker rejection; otherwise the failure is transient.
func (p *Paper) FailNext(n int, reject bool, reason string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	for i := 0; i < n; i++ {
		p.failures = append(p.failures, injected{reject: reject, reason: reason})
	}
}

// Orders returns every order submitted so far, including failed ones.
func (p *Paper) Orders() []domain.Order {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := make([]domain.Order, len(p.orders))
	copy(out, p.orders)
	return out
}

// Submit implements execution.Broker.
func (p *Paper) Submit(ctx context.Context, order domain.Order) (domain.Fill, error) {
	if p.latency > 0 {
		select {
		case <-ctx.Done():
			return domain.Fill{}, execution.Transient(ctx.Err())
		case <-time.After(p.latency):
		}
	}

	p.mu.Lock()
	p.orders = append(p.orders, order)
	if len(p.failures) > 0 {
		f := p.failures[0]
		p.failures = p.failures[1:]
		p.mu.Unlock()
		if f.reject {
			return domain.Fill{}, execution.Reject(0, f.reason)
		}
		return domain.Fill{}, execution.Transient(fmt.Errorf("paper: %s", f.reason))
	}
	p.seq++
	seq := p.seq
	p.mu.Unlock()

	if order.Quantity <= 0 {
		return domain.Fill{}, execution.Reject(0, "quantity must be positive")
	}

	ref := order.ReferencePrice
	if !ref.IsPositive() && p.prices != nil {
		if last, ok := p.prices.LastPrice(order.Symbol); ok {
			ref = last
		}
	}
	if !ref.IsPositive() {
		return domain.Fill{}, execution.Reject(0, "no price for "+order.Symbol)
	}

	slip := p.tickSize.Mul(decimal.NewFromInt(p.slippage))
	price := ref.Add(slip)
	if order.Side == domain.SideSell {
		price = ref.Sub(slip)
	}

	fill := domain.Fill{
		ClientOrderID: order.ClientOrderID,
		BrokerOrderID: fmt.Sprintf("paper-%d", seq),
		Symbol:        order.Symbol,
		Side:          order.Side,
		Quantity:      order.Quantity,
		Price:         price,
		FilledAt:      p.now(),
	}
	p.logger.Printf("paper fill %s %s %d @ %s (ref %s)", fill.Side, fill.Symbol, fill.Quantity, fill.Price, ref)
	return fill, nil
}
