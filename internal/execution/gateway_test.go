package execution

import (
	"context"
	"errors"
	"io"
	"log"
	"sync"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"intraday-trader/internal/domain"
	"intraday-trader/internal/notify"
	"intraday-trader/internal/position"
	"intraday-trader/internal/state"
	"intraday-trader/internal/storage/memory"
)

var t0 = time.Date(2026, 3, 2, 15, 0, 0, 0, time.UTC)

// scriptedBroker returns errs in order, then fills at fillPrice.
type scriptedBroker struct {
	mu        sync.Mutex
	errs      []error
	fillPrice decimal.Decimal
	fillQty   int64 // 0 = full quantity
	block     bool
	onSubmit  func()
	orders    []domain.Order
}

func (b *scriptedBroker) Submit(ctx context.Context, order domain.Order) (domain.Fill, error) {
	b.mu.Lock()
	b.orders = append(b.orders, order)
	var err error
	if len(b.errs) > 0 {
		err, b.errs = b.errs[0], b.errs[1:]
	}
	block := b.block
	b.mu.Unlock()

	if b.onSubmit != nil {
		b.onSubmit()
	}

	if block {
		<-ctx.Done()
		return domain.Fill{}, ctx.Err()
	}
	if err != nil {
		return domain.Fill{}, err
	}
	qty := order.Quantity
	if b.fillQty > 0 {
		qty = b.fillQty
	}
	price := b.fillPrice
	if price.IsZero() {
		price = order.ReferencePrice
	}
	return domain.Fill{
		ClientOrderID: order.ClientOrderID,
		BrokerOrderID: "B-" + order.ClientOrderID,
		Symbol:        order.Symbol,
		Side:          order.Side,
		Quantity:      qty,
		Price:         price,
		FilledAt:      t0,
	}, nil
}

func (b *scriptedBroker) calls() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.orders)
}

type fixture struct {
	gw      *Gateway
	broker  *scriptedBroker
	tracker *position.Tracker
	state   *state.TradingState
	rec     *notify.Recorder
	journal *memory.FillStore
}

func newFixture(broker *scriptedBroker) *fixture {
	rec := notify.NewRecorder(0)
	f := &fixture{
		broker:  broker,
		tracker: position.NewTracker(),
		state:   state.New(state.Options{Notifier: rec}),
		rec:     rec,
		journal: memory.NewFillStore(),
	}
	f.gw = NewGateway(broker, Options{
		MaxAttempts:    3,
		BaseDelay:      time.Millisecond,
		MaxDelay:       2 * time.Millisecond,
		AttemptTimeout: 50 * time.Millisecond,
		Tracker:        f.tracker,
		State:          f.state,
		Journal:        f.journal,
		Notifier:       rec,
		Logger:         log.New(io.Discard, "", 0),
		Now:            func() time.Time { return t0 },
	})
	return f
}

func buy(symbol string, qty int64, price string) domain.OrderIntent {
	return domain.OrderIntent{
		Symbol:         symbol,
		Action:         domain.ActionBuy,
		Quantity:       qty,
		ReferencePrice: decimal.RequireFromString(price),
		Reason:         domain.ReasonEntry,
		CreatedAt:      t0,
	}
}

func TestExecute_RetriesTransientThenFills(t *testing.T) {
	f := newFixture(&scriptedBroker{errs: []error{Transient(errors.New("502 bad gateway"))}})

	res := f.gw.Execute(context.Background(), buy("AAPL", 10, "150"))
	require.True(t, res.Filled(), "err: %v", res.Err)
	assert.Equal(t, 2, res.Attempts)
	assert.False(t, res.Closing)
	assert.Equal(t, int64(10), f.tracker.GetPosition("AAPL"))
	assert.Equal(t, 1, f.journal.Len())

	// Retries reuse the intent ID as client order ID.
	assert.Equal(t, f.broker.orders[0].ClientOrderID, f.broker.orders[1].ClientOrderID)
}

func TestExecute_RejectionNotRetried(t *testing.T) {
	f := newFixture(&scriptedBroker{errs: []error{Reject(422, "insufficient buying power")}})

	res := f.gw.Execute(context.Background(), buy("AAPL", 10, "150"))
	assert.Equal(t, KindRejected, res.Kind)
	assert.Equal(t, 1, res.Attempts)
	assert.Equal(t, 1, f.broker.calls())
	assert.False(t, res.Escalated)
	assert.False(t, f.state.IsShutdown())
	assert.Equal(t, 1, f.rec.Count(notify.KindOrderRejected))
}

func TestExecute_RoutineFailureDoesNotEscalate(t *testing.T) {
	transient := Transient(errors.New("connection reset"))
	f := newFixture(&scriptedBroker{errs: []error{transient, transient, transient}})

	res := f.gw.Execute(context.Background(), buy("AAPL", 10, "150"))
	assert.Equal(t, KindTransientFailure, res.Kind)
	assert.Equal(t, 3, res.Attempts)
	assert.False(t, res.Escalated)
	assert.False(t, f.state.IsShutdown())
	assert.Equal(t, int64(0), f.tracker.GetPosition("AAPL"))
}

func TestFlatten_EmergencyFailureEscalates(t *testing.T) {
	transient := Transient(errors.New("timeout"))
	f := newFixture(&scriptedBroker{errs: []error{transient, transient, transient}})
	require.NoError(t, f.tracker.Open("ES", 2, decimal.NewFromInt(5000), t0))

	res := f.gw.Flatten(context.Background(), domain.ReasonStopLoss, "ES", domain.ModeBoth, true)
	assert.Equal(t, KindTransientFailure, res.Kind)
	assert.True(t, res.Escalated)
	assert.True(t, f.state.IsShutdown())
	assert.Equal(t, 1, f.rec.Count(notify.KindFlattenFailed))
	assert.Equal(t, int64(2), f.tracker.GetPosition("ES"), "position untouched")
}

func TestFlatten_EmergencyRejectionEscalates(t *testing.T) {
	f := newFixture(&scriptedBroker{errs: []error{Reject(400, "market closed")}})
	require.NoError(t, f.tracker.Open("ES", -1, decimal.NewFromInt(5000), t0))

	res := f.gw.Flatten(context.Background(), domain.ReasonDailyLimit, "ES", domain.ModeBoth, true)
	assert.Equal(t, KindRejected, res.Kind)
	assert.True(t, res.Escalated)
	assert.True(t, f.state.IsShutdown())
}

func TestExecute_RefusedWhileShutdown(t *testing.T) {
	f := newFixture(&scriptedBroker{})
	f.state.TriggerEmergencyShutdown("test")

	res := f.gw.Execute(context.Background(), buy("AAPL", 1, "100"))
	assert.ErrorIs(t, res.Err, ErrShutdown)
	assert.Equal(t, 0, f.broker.calls())

	// Emergency flattens still go through.
	require.NoError(t, f.tracker.Open("AAPL", 5, decimal.NewFromInt(100), t0))
	res = f.gw.Flatten(context.Background(), domain.ReasonOperatorStop, "AAPL", domain.ModeBoth, true)
	assert.True(t, res.Filled())
	assert.Equal(t, int64(0), f.tracker.GetPosition("AAPL"))
}

func TestExecute_ShutdownDuringAttemptStopsRetries(t *testing.T) {
	broker := &scriptedBroker{errs: []error{Transient(errors.New("502 bad gateway"))}}
	f := newFixture(broker)
	broker.onSubmit = func() { f.state.TriggerEmergencyShutdown("operator") }

	res := f.gw.Execute(context.Background(), buy("AAPL", 10, "150"))
	assert.Equal(t, KindRejected, res.Kind)
	assert.ErrorIs(t, res.Err, ErrShutdown)
	assert.Equal(t, 1, res.Attempts)
	assert.Equal(t, 1, broker.calls())
	assert.False(t, res.Escalated)
	assert.Equal(t, int64(0), f.tracker.GetPosition("AAPL"))
	assert.Equal(t, 0, f.journal.Len())
}

func TestFlatten_EmergencyRetriesAfterShutdown(t *testing.T) {
	broker := &scriptedBroker{errs: []error{Transient(errors.New("timeout"))}}
	f := newFixture(broker)
	broker.onSubmit = func() { f.state.TriggerEmergencyShutdown("operator") }
	require.NoError(t, f.tracker.Open("AAPL", 5, decimal.NewFromInt(100), t0))

	res := f.gw.Flatten(context.Background(), domain.ReasonOperatorStop, "AAPL", domain.ModeBoth, true)
	require.True(t, res.Filled(), "err: %v", res.Err)
	assert.Equal(t, 2, res.Attempts)
	assert.Equal(t, int64(0), f.tracker.GetPosition("AAPL"))
}

func TestFlatten_RealizedFromFillPrice(t *testing.T) {
	f := newFixture(&scriptedBroker{fillPrice: decimal.RequireFromString("97.5")})
	require.NoError(t, f.tracker.Open("AAPL", 10, decimal.NewFromInt(100), t0))

	res := f.gw.Flatten(context.Background(), domain.ReasonStopLoss, "AAPL", domain.ModeEquity, false)
	require.True(t, res.Filled(), "err: %v", res.Err)
	assert.True(t, res.Closing)
	assert.True(t, res.Realized.Equal(decimal.NewFromInt(-25)), "got %s", res.Realized)
	assert.Equal(t, domain.SideSell, f.broker.orders[0].Side)
	assert.Equal(t, int64(10), f.broker.orders[0].Quantity)
	assert.True(t, f.tracker.Position("AAPL").IsFlat())

	fills, err := f.journal.GetBySymbol(context.Background(), "AAPL")
	require.NoError(t, err)
	require.Len(t, fills, 1)
	assert.True(t, fills[0].IsExit)
	assert.Equal(t, domain.ReasonStopLoss, fills[0].Reason)
	assert.True(t, fills[0].RealizedPnL.Equal(decimal.NewFromInt(-25)))
}

func TestFlatten_ShortRealized(t *testing.T) {
	f := newFixture(&scriptedBroker{fillPrice: decimal.NewFromInt(90)})
	require.NoError(t, f.tracker.Open("MSFT", -4, decimal.NewFromInt(100), t0))

	res := f.gw.Flatten(context.Background(), domain.ReasonMaxHold, "MSFT", domain.ModeBoth, false)
	require.True(t, res.Filled())
	assert.Equal(t, domain.SideBuy, f.broker.orders[0].Side)
	assert.True(t, res.Realized.Equal(decimal.NewFromInt(40)), "got %s", res.Realized)
}

func TestFlatten_PartialFillLeavesRemainder(t *testing.T) {
	f := newFixture(&scriptedBroker{fillQty: 3, fillPrice: decimal.NewFromInt(101)})
	require.NoError(t, f.tracker.Open("AAPL", 10, decimal.NewFromInt(100), t0))

	res := f.gw.Flatten(context.Background(), domain.ReasonExitSignal, "AAPL", domain.ModeBoth, false)
	require.True(t, res.Filled())
	assert.True(t, res.Realized.Equal(decimal.NewFromInt(3)))
	assert.Equal(t, int64(7), f.tracker.GetPosition("AAPL"))
}

func TestFlatten_FlatIsNoop(t *testing.T) {
	f := newFixture(&scriptedBroker{})
	res := f.gw.Flatten(context.Background(), domain.ReasonOperatorFlatten, "AAPL", domain.ModeBoth, true)
	assert.Equal(t, KindNoop, res.Kind)
	assert.Equal(t, 0, f.broker.calls())
	assert.False(t, f.state.IsShutdown())
}

func TestExecute_DirectionFlipRefused(t *testing.T) {
	f := newFixture(&scriptedBroker{})
	require.NoError(t, f.tracker.Open("AAPL", 10, decimal.NewFromInt(100), t0))

	intent := buy("AAPL", 5, "100")
	intent.Action = domain.ActionSell
	res := f.gw.Execute(context.Background(), intent)
	assert.Equal(t, KindRejected, res.Kind)
	assert.ErrorIs(t, res.Err, position.ErrDirectionFlip)
	assert.Equal(t, 0, f.broker.calls())

	// The same sell flagged as an exit is a partial close.
	intent.IsExit = true
	res = f.gw.Execute(context.Background(), intent)
	require.True(t, res.Filled())
	assert.True(t, res.Closing)
	assert.Equal(t, int64(5), f.tracker.GetPosition("AAPL"))
}

func TestExecute_AttemptTimeoutIsTransient(t *testing.T) {
	f := newFixture(&scriptedBroker{block: true})

	start := time.Now()
	res := f.gw.Execute(context.Background(), buy("AAPL", 1, "100"))
	assert.Equal(t, KindTransientFailure, res.Kind)
	assert.Equal(t, 3, res.Attempts)
	assert.ErrorIs(t, res.Err, context.DeadlineExceeded)
	assert.Less(t, time.Since(start), time.Second)
}

func TestExecute_InvalidFill(t *testing.T) {
	f := newFixture(&scriptedBroker{fillQty: 50})
	res := f.gw.Execute(context.Background(), buy("AAPL", 10, "100"))
	assert.Equal(t, KindRejected, res.Kind)
	assert.ErrorIs(t, res.Err, ErrInvalidFill)
	assert.Equal(t, int64(0), f.tracker.GetPosition("AAPL"))
}

func TestWorstCaseLatency(t *testing.T) {
	gw := NewGateway(&scriptedBroker{}, Options{
		MaxAttempts:    3,
		BaseDelay:      100 * time.Millisecond,
		MaxDelay:       150 * time.Millisecond,
		AttemptTimeout: time.Second,
		Tracker:        position.NewTracker(),
		State:          state.New(state.Options{}),
	})
	// 3 attempts x 1s + backoff 100ms + 150ms (capped)
	assert.Equal(t, 3250*time.Millisecond, gw.WorstCaseLatency())
}

func TestClassify(t *testing.T) {
	assert.Equal(t, KindFilled, Classify(nil))
	assert.Equal(t, KindRejected, Classify(Reject(400, "bad symbol")))
	assert.Equal(t, KindRejected, Classify(errors.Join(errors.New("ctx"), Reject(0, "x"))))
	assert.Equal(t, KindTransientFailure, Classify(Transient(errors.New("503"))))
	assert.Equal(t, KindTransientFailure, Classify(context.DeadlineExceeded))
	assert.Equal(t, KindTransientFailure, Classify(errors.New("unknown")))
}
