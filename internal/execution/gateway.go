// Package execution turns order intents into broker orders with bounded
// retries and applies the resulting fills to the position tracker.
package execution

import (
	"context"
	"errors"
	"fmt"
	"log"
	"sync"
	"time"

	"github.com/shopspring/decimal"

	"intraday-trader/internal/domain"
	"intraday-trader/internal/idhash"
	"intraday-trader/internal/notify"
	"intraday-trader/internal/observability"
	"intraday-trader/internal/position"
	"intraday-trader/internal/state"
	"intraday-trader/internal/storage"
)

// Default configuration values.
const (
	DefaultMaxAttempts    = 3
	DefaultBaseDelay      = 250 * time.Millisecond
	DefaultMaxDelay       = 2 * time.Second
	DefaultAttemptTimeout = 5 * time.Second
)

// Broker submits a single order and reports the executed fill. Errors should
// be *RejectionError for refusals and wrap ErrTransient for retryable faults.
type Broker interface {
	Submit(ctx context.Context, order domain.Order) (domain.Fill, error)
}

// PriceSource provides a reference price for flattens when the caller has none.
type PriceSource interface {
	LastPrice(symbol string) (decimal.Decimal, bool)
}

// Options configures a Gateway.
type Options struct {
	MaxAttempts    int
	BaseDelay      time.Duration
	MaxDelay       time.Duration
	AttemptTimeout time.Duration

	Tracker  *position.Tracker
	State    *state.TradingState
	Journal  storage.FillStore // optional
	Prices   PriceSource       // optional
	Notifier notify.Notifier
	Logger   *log.Logger
	Now      func() time.Time
}

// Gateway executes intents against a Broker. Executions are serialized.
type Gateway struct {
	broker         Broker
	maxAttempts    int
	baseDelay      time.Duration
	maxDelay       time.Duration
	attemptTimeout time.Duration
	tracker        *position.Tracker
	state          *state.TradingState
	journal        storage.FillStore
	prices         PriceSource
	notifier       notify.Notifier
	logger         *log.Logger
	now            func() time.Time

	mu sync.Mutex
}

// NewGateway creates a Gateway. Tracker and State are required.
func NewGateway(broker Broker, opts Options) *Gateway {
	g := &Gateway{
		broker:         broker,
		maxAttempts:    opts.MaxAttempts,
		baseDelay:      opts.BaseDelay,
		maxDelay:       opts.MaxDelay,
		attemptTimeout: opts.AttemptTimeout,
		tracker:        opts.Tracker,
		state:          opts.State,
		journal:        opts.Journal,
		prices:         opts.Prices,
		notifier:       opts.Notifier,
		logger:         opts.Logger,
		now:            opts.Now,
	}
	if g.maxAttempts <= 0 {
		g.maxAttempts = DefaultMaxAttempts
	}
	if g.baseDelay <= 0 {
		g.baseDelay = DefaultBaseDelay
	}
	if g.maxDelay <= 0 {
		g.maxDelay = DefaultMaxDelay
	}
	if g.attemptTimeout <= 0 {
		g.attemptTimeout = DefaultAttemptTimeout
	}
	if g.notifier == nil {
		g.notifier = notify.Nop{}
	}
	if g.logger == nil {
		g.logger = log.Default()
	}
	if g.now == nil {
		g.now = time.Now
	}
	return g
}

// WorstCaseLatency is the longest a single Execute can block on the broker:
// every attempt timing out plus every backoff delay.
func (g *Gateway) WorstCaseLatency() time.Duration {
	total := time.Duration(g.maxAttempts) * g.attemptTimeout
	for attempt := 1; attempt < g.maxAttempts; attempt++ {
		total += g.backoff(attempt)
	}
	return total
}

// Flatten requests the full opposite-signed quantity needed to bring symbol
// to zero. A flat symbol yields KindNoop.
func (g *Gateway) Flatten(ctx context.Context, reason, symbol string, mode domain.TradingMode, emergency bool) Result {
	pos := g.tracker.Position(symbol)
	qty := pos.Quantity
	if qty < 0 {
		qty = -qty
	}

	ref := pos.EntryPrice
	if g.prices != nil {
		if p, ok := g.prices.LastPrice(symbol); ok {
			ref = p
		}
	}

	now := g.now()
	intent := domain.OrderIntent{
		ID:             idhash.ComputeIntentID(symbol, domain.ActionFlatten, qty, reason, emergency, now),
		Symbol:         symbol,
		Action:         domain.ActionFlatten,
		Quantity:       qty,
		ReferencePrice: ref,
		IsExit:         true,
		Emergency:      emergency,
		Reason:         reason,
		Mode:           mode,
		CreatedAt:      now,
	}
	return g.Execute(ctx, intent)
}

// Execute performs intent with bounded retries. Transient failures are
// retried with capped exponential backoff; rejections are not. When an
// emergency intent cannot complete, emergency shutdown is forced.
func (g *Gateway) Execute(ctx context.Context, intent domain.OrderIntent) Result {
	g.mu.Lock()
	defer g.mu.Unlock()

	if intent.ID == "" {
		intent.ID = idhash.ComputeIntentID(intent.Symbol, intent.Action, intent.Quantity,
			intent.Reason, intent.Emergency, intent.CreatedAt)
	}
	res := Result{Intent: intent}

	if !intent.Emergency && g.state.IsShutdown() {
		res.Kind = KindRejected
		res.Err = ErrShutdown
		return res
	}

	order, closing, err := g.buildOrder(intent)
	if err != nil {
		res.Kind = KindRejected
		res.Err = err
		g.logger.Printf("refused %s %s: %v", intent.Action, intent.Symbol, err)
		return res
	}
	if order.Quantity == 0 {
		res.Kind = KindNoop
		return res
	}
	res.Intent.Quantity = order.Quantity

	action := string(intent.Action)
	var lastErr error
	for attempt := 1; attempt <= g.maxAttempts; attempt++ {
		if attempt > 1 {
			observability.RecordOrderRetry()
			select {
			case <-ctx.Done():
				lastErr = fmt.Errorf("%w: %v", ErrTransient, ctx.Err())
				res.Kind = KindTransientFailure
				return g.fail(res, lastErr)
			case <-time.After(g.backoff(attempt - 1)):
			}
			// Shutdown may have landed while the previous attempt was in flight.
			if !intent.Emergency && g.state.IsShutdown() {
				res.Kind = KindRejected
				res.Err = ErrShutdown
				g.logger.Printf("abandoned %s %s after %d attempt(s): %v",
					intent.Action, intent.Symbol, attempt-1, ErrShutdown)
				return res
			}
		}

		res.Attempts = attempt
		observability.RecordOrderAttempt(action)
		fill, err := g.submit(ctx, order)
		if err == nil {
			return g.settle(res, order, fill, closing)
		}

		lastErr = err
		res.Kind = Classify(err)
		if res.Kind == KindRejected {
			break
		}
		g.logger.Printf("attempt %d/%d %s %s x%d failed: %v",
			attempt, g.maxAttempts, order.Side, order.Symbol, order.Quantity, err)
	}

	return g.fail(res, lastErr)
}

func (g *Gateway) submit(ctx context.Context, order domain.Order) (domain.Fill, error) {
	attemptCtx, cancel := context.WithTimeout(ctx, g.attemptTimeout)
	defer cancel()

	start := time.Now()
	fill, err := g.broker.Submit(attemptCtx, order)
	outcome := "ok"
	if err != nil {
		outcome = string(Classify(err))
	}
	observability.RecordBrokerLatency(outcome, time.Since(start).Seconds())
	return fill, err
}

// buildOrder derives the broker order from intent and the held position.
// closing reports whether the order reduces an existing position.
func (g *Gateway) buildOrder(intent domain.OrderIntent) (domain.Order, bool, error) {
	held := g.tracker.GetPosition(intent.Symbol)
	order := domain.Order{
		ClientOrderID:  intent.ID,
		Symbol:         intent.Symbol,
		ReferencePrice: intent.ReferencePrice,
	}

	switch intent.Action {
	case domain.ActionFlatten:
		switch {
		case held > 0:
			order.Side, order.Quantity = domain.SideSell, held
		case held < 0:
			order.Side, order.Quantity = domain.SideBuy, -held
		}
		return order, true, nil

	case domain.ActionBuy, domain.ActionSell:
		if intent.Quantity <= 0 {
			return order, false, fmt.Errorf("%s %s x%d: %w", intent.Action, intent.Symbol,
				intent.Quantity, position.ErrInvalidQuantity)
		}
		order.Side = domain.SideBuy
		signed := intent.Quantity
		if intent.Action == domain.ActionSell {
			order.Side = domain.SideSell
			signed = -signed
		}
		order.Quantity = intent.Quantity

		opposes := held != 0 && (held > 0) != (signed > 0)
		if !opposes {
			return order, false, nil
		}
		abs := held
		if abs < 0 {
			abs = -abs
		}
		if intent.IsExit && intent.Quantity <= abs {
			return order, true, nil
		}
		return order, false, fmt.Errorf("%s %s x%d while holding %d: %w", intent.Action,
			intent.Symbol, intent.Quantity, held, position.ErrDirectionFlip)

	default:
		return order, false, fmt.Errorf("unknown action %q", intent.Action)
	}
}

// settle applies a fill to the tracker, computes realized P&L for closing
// fills and journals the fill.
func (g *Gateway) settle(res Result, order domain.Order, fill domain.Fill, closing bool) Result {
	if fill.Quantity <= 0 || fill.Quantity > order.Quantity || (fill.Side != "" && fill.Side != order.Side) {
		res.Kind = KindRejected
		res.Err = fmt.Errorf("%w: requested %s x%d, got %s x%d", ErrInvalidFill,
			order.Side, order.Quantity, fill.Side, fill.Quantity)
		g.logger.Printf("ERROR: %v", res.Err)
		return g.fail(res, res.Err)
	}
	if fill.Side == "" {
		fill.Side = order.Side
	}
	if fill.Symbol == "" {
		fill.Symbol = order.Symbol
	}
	if fill.ClientOrderID == "" {
		fill.ClientOrderID = order.ClientOrderID
	}
	if fill.FilledAt.IsZero() {
		fill.FilledAt = g.now()
	}

	res.Kind = KindFilled
	res.Fill = fill
	res.Err = nil
	observability.RecordOrderFilled(string(res.Intent.Action))

	if closing {
		pos := g.tracker.Position(fill.Symbol)
		res.Closing = true
		res.Realized = fill.Price.Sub(pos.EntryPrice).
			Mul(decimal.NewFromInt(fill.Quantity)).
			Mul(decimal.NewFromInt(pos.Side()))
		if err := g.tracker.Reduce(fill.Symbol, fill.Quantity); err != nil {
			g.logger.Printf("ERROR: apply closing fill %s: %v", fill.ClientOrderID, err)
		}
		if fill.Quantity < order.Quantity {
			g.logger.Printf("partial exit %s: filled %d of %d, %d still open",
				fill.Symbol, fill.Quantity, order.Quantity, g.tracker.GetPosition(fill.Symbol))
		}
	} else {
		if err := g.tracker.Open(fill.Symbol, fill.SignedQuantity(), fill.Price, fill.FilledAt); err != nil {
			g.logger.Printf("ERROR: apply opening fill %s: %v", fill.ClientOrderID, err)
		}
	}

	g.logger.Printf("filled %s %s %s x%d @ %s (ref %s, reason %s, realized %s)",
		res.Intent.Action, fill.Side, fill.Symbol, fill.Quantity, fill.Price,
		order.ReferencePrice, res.Intent.Reason, res.Realized.StringFixed(2))
	g.journalFill(res)
	return res
}

func (g *Gateway) journalFill(res Result) {
	if g.journal == nil {
		return
	}
	rec := &domain.FillRecord{
		IntentID:    res.Intent.ID,
		Symbol:      res.Fill.Symbol,
		Action:      res.Intent.Action,
		Side:        res.Fill.Side,
		Quantity:    res.Fill.Quantity,
		Price:       res.Fill.Price,
		RefPrice:    res.Intent.ReferencePrice,
		IsExit:      res.Closing,
		Emergency:   res.Intent.Emergency,
		Reason:      res.Intent.Reason,
		RealizedPnL: res.Realized,
		FilledAt:    res.Fill.FilledAt,
	}
	ctx, cancel := context.WithTimeout(context.Background(), g.attemptTimeout)
	defer cancel()
	if err := g.journal.Insert(ctx, rec); err != nil {
		g.logger.Printf("ERROR: journal fill %s: %v", rec.IntentID, err)
	}
}

// fail finalizes a failed execution, escalating emergency intents.
func (g *Gateway) fail(res Result, err error) Result {
	res.Err = err
	intent := res.Intent
	observability.RecordOrderFailed(string(intent.Action), string(res.Kind))

	var rej *RejectionError
	if errors.As(err, &rej) || errors.Is(err, ErrInvalidFill) {
		g.notifier.Notify(notify.New(notify.KindOrderRejected, notify.SeverityWarning,
			"Order rejected",
			fmt.Sprintf("%s %s x%d (%s): %v", intent.Action, intent.Symbol, intent.Quantity, intent.Reason, err)))
	}

	if !intent.Emergency {
		g.logger.Printf("%s %s failed after %d attempt(s): %v", intent.Action, intent.Symbol, res.Attempts, err)
		return res
	}

	reason := fmt.Sprintf("emergency %s %s (%s) failed after %d attempt(s): %v",
		intent.Action, intent.Symbol, intent.Reason, res.Attempts, err)
	g.logger.Printf("CRITICAL: %s", reason)
	g.notifier.Notify(notify.New(notify.KindFlattenFailed, notify.SeverityCritical,
		"Emergency order failed", reason))
	g.state.TriggerEmergencyShutdown(reason)
	res.Escalated = true
	return res
}

// backoff returns the delay after the given failed attempt (1-based).
func (g *Gateway) backoff(attempt int) time.Duration {
	delay := g.baseDelay
	for i := 1; i < attempt; i++ {
		delay *= 2
		if delay >= g.maxDelay {
			return g.maxDelay
		}
	}
	if delay > g.maxDelay {
		return g.maxDelay
	}
	return delay
}
