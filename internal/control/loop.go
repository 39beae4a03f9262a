// Package control runs the scheduled decision loop: it reads trading state,
// consults the risk ledger, manages exits for open positions and issues new
// entries through the execution gateway.
package control

import (
	"context"
	"errors"
	"fmt"
	"log"
	"sync"
	"sync/atomic"
	"time"

	"github.com/shopspring/decimal"

	"intraday-trader/internal/domain"
	"intraday-trader/internal/execution"
	"intraday-trader/internal/idhash"
	"intraday-trader/internal/notify"
	"intraday-trader/internal/observability"
	"intraday-trader/internal/position"
	"intraday-trader/internal/risk"
	"intraday-trader/internal/signal"
	"intraday-trader/internal/sizing"
	"intraday-trader/internal/state"
)

// Default configuration values.
const (
	DefaultInterval        = 60 * time.Second
	DefaultVetoInterval    = 5 * time.Minute
	DefaultCallTimeout     = 10 * time.Second
	DefaultShutdownTimeout = 30 * time.Second
)

// ErrTickInFlight is returned when Tick is called while a tick is running.
var ErrTickInFlight = errors.New("tick already in flight")

// Phase is the loop's coarse state.
type Phase string

// Loop phases.
const (
	PhaseIdle     Phase = "IDLE"
	PhaseActive   Phase = "ACTIVE"
	PhaseShutdown Phase = "SHUTDOWN"
)

// Entry gates, also used as metric labels.
const (
	GatePaused     = "paused"
	GateNewsVeto   = "news_veto"
	GateDailyLimit = "daily_limit"
	GateWeekly     = "weekly_limit"
	GateBlackout   = "blackout"
	GateMode       = "mode"
)

// Config holds the loop's trading parameters.
type Config struct {
	Instruments []domain.Instrument
	Interval    time.Duration

	// Veto feed cadence and how long failures are tolerated before the
	// veto fails open. VetoFreshness 0 disables staleness handling.
	VetoInterval  time.Duration
	VetoFreshness time.Duration

	MaxHoldMinutes  int64           // 0 disables the max-hold exit
	StopLossPerUnit decimal.Decimal // 0 disables the stop-loss exit
	MinConfidence   float64
	Capital         decimal.Decimal

	CallTimeout     time.Duration // per signal, veto and sizing call
	ShutdownTimeout time.Duration // flatten-all on process exit
	Window          Window
}

// Options wires a Loop to its collaborators.
type Options struct {
	Config

	State    *state.TradingState
	Ledger   *risk.Ledger
	Blackout *risk.BlackoutCalendar // optional
	Tracker  *position.Tracker
	Gateway  *execution.Gateway
	Signals  signal.Provider
	Veto     signal.VetoProvider // optional
	Sizer    sizing.Advisor
	Notifier notify.Notifier
	Logger   *log.Logger
	Now      func() time.Time
}

// Status is a point-in-time view of the loop for the operator surface.
type Status struct {
	Phase        Phase
	LastTick     time.Time
	LastTickErr  string
	SessionDate  time.Time
	VetoStale    bool
	LastVetoOK   time.Time
	TickBudgetOK bool
	Interval     time.Duration
	Window       string
}

// Loop is the trading control loop.
type Loop struct {
	cfg      Config
	state    *state.TradingState
	ledger   *risk.Ledger
	blackout *risk.BlackoutCalendar
	tracker  *position.Tracker
	gateway  *execution.Gateway
	signals  signal.Provider
	veto     signal.VetoProvider
	sizer    sizing.Advisor
	notifier notify.Notifier
	logger   *log.Logger
	now      func() time.Time

	// tradeMu serializes ticks with order-issuing operator commands.
	tradeMu  sync.Mutex
	inFlight atomic.Bool
	stop     chan struct{}
	stopOnce sync.Once

	// guarded by tradeMu
	started         time.Time
	sessionDate     time.Time
	lastVetoAttempt time.Time

	statusMu sync.RWMutex
	status   Status
}

// New creates a Loop. State, Ledger, Tracker, Gateway, Signals and Sizer are
// required.
func New(opts Options) *Loop {
	cfg := opts.Config
	if cfg.Interval <= 0 {
		cfg.Interval = DefaultInterval
	}
	if cfg.VetoInterval <= 0 {
		cfg.VetoInterval = DefaultVetoInterval
	}
	if cfg.CallTimeout <= 0 {
		cfg.CallTimeout = DefaultCallTimeout
	}
	if cfg.ShutdownTimeout <= 0 {
		cfg.ShutdownTimeout = DefaultShutdownTimeout
	}
	if cfg.Window.Location == nil && cfg.Window.Close == 0 {
		cfg.Window = DefaultWindow(time.UTC)
	}

	l := &Loop{
		cfg:      cfg,
		state:    opts.State,
		ledger:   opts.Ledger,
		blackout: opts.Blackout,
		tracker:  opts.Tracker,
		gateway:  opts.Gateway,
		signals:  opts.Signals,
		veto:     opts.Veto,
		sizer:    opts.Sizer,
		notifier: opts.Notifier,
		logger:   opts.Logger,
		now:      opts.Now,
		stop:     make(chan struct{}),
	}
	if l.veto == nil {
		l.veto = signal.NoVeto{}
	}
	if l.notifier == nil {
		l.notifier = notify.Nop{}
	}
	if l.logger == nil {
		l.logger = log.Default()
	}
	if l.now == nil {
		l.now = time.Now
	}
	l.status = Status{
		Phase:        PhaseIdle,
		TickBudgetOK: true,
		Interval:     cfg.Interval,
		Window:       cfg.Window.String(),
	}
	return l
}

// CheckTickBudget logs a warning when the tick period does not exceed the
// gateway's worst-case latency. Returns whether the budget holds.
func (l *Loop) CheckTickBudget() bool {
	worst := l.gateway.WorstCaseLatency()
	ok := l.cfg.Interval > worst
	if !ok {
		l.logger.Printf("WARNING: tick interval %s does not exceed worst-case execution latency %s; ticks may be dropped",
			l.cfg.Interval, worst)
	}
	l.statusMu.Lock()
	l.status.TickBudgetOK = ok
	l.statusMu.Unlock()
	return ok
}

// Run ticks on the configured interval until ctx is cancelled or Stop is
// called. Missed ticks are dropped, never queued.
func (l *Loop) Run(ctx context.Context) error {
	l.CheckTickBudget()
	l.logger.Printf("control loop started: interval=%s window=%s instruments=%d",
		l.cfg.Interval, l.cfg.Window, len(l.cfg.Instruments))

	ticker := time.NewTicker(l.cfg.Interval)
	defer ticker.Stop()

	l.runTick(ctx)
	for {
		select {
		case <-ctx.Done():
			l.logger.Println("control loop stopping...")
			return ctx.Err()
		case <-l.stop:
			l.logger.Println("control loop stopped")
			return nil
		case <-ticker.C:
			l.runTick(ctx)
		}
	}
}

func (l *Loop) runTick(ctx context.Context) {
	if err := l.Tick(ctx); err != nil && !errors.Is(err, ErrTickInFlight) {
		l.logger.Printf("tick failed: %v", err)
	}
}

// Tick runs one decision cycle. It never overlaps itself.
func (l *Loop) Tick(ctx context.Context) error {
	if !l.inFlight.CompareAndSwap(false, true) {
		observability.RecordTickSkipped()
		return ErrTickInFlight
	}
	defer l.inFlight.Store(false)

	l.tradeMu.Lock()
	defer l.tradeMu.Unlock()

	start := time.Now()
	now := l.now()
	if l.started.IsZero() {
		l.started = now
	}

	err := l.tick(ctx, now)
	phase := l.Phase()
	observability.RecordTick(string(phase), time.Since(start).Seconds())
	if err == nil {
		observability.RecordTickSuccess(now.Unix())
	}

	l.statusMu.Lock()
	l.status.LastTick = now
	l.status.LastTickErr = ""
	if err != nil {
		l.status.LastTickErr = err.Error()
	}
	l.statusMu.Unlock()
	return err
}

func (l *Loop) tick(ctx context.Context, now time.Time) error {
	if _, err := l.ledger.RolloverIfNeeded(ctx, now); err != nil {
		l.logger.Printf("ERROR: weekly rollover: %v", err)
	}
	if l.blackout != nil {
		l.blackout.CheckStaleness(now)
	}

	if l.state.IsShutdown() {
		l.setPhase(PhaseShutdown)
		return nil
	}
	if !l.cfg.Window.Contains(now) || !l.state.IsMarketDataConnected() {
		l.setPhase(PhaseIdle)
		return nil
	}
	l.setPhase(PhaseActive)

	l.startSessionIfNeeded(now)
	l.refreshVeto(ctx, now)

	for _, inst := range l.cfg.Instruments {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		l.tickInstrument(ctx, inst, now)
		if l.state.IsShutdown() {
			l.setPhase(PhaseShutdown)
			break
		}
	}
	return nil
}

func (l *Loop) startSessionIfNeeded(now time.Time) {
	date := l.cfg.Window.SessionDate(now)
	if date.Equal(l.sessionDate) {
		return
	}
	l.sessionDate = date
	l.ledger.ResetDaily()
	l.logger.Printf("session start %s: daily pnl reset", date.Format("2006-01-02"))

	l.statusMu.Lock()
	l.status.SessionDate = date
	l.statusMu.Unlock()
}

// tickInstrument runs exits and entries for one instrument. Failures end the
// instrument's tick.
func (l *Loop) tickInstrument(ctx context.Context, inst domain.Instrument, now time.Time) {
	symbol := inst.Symbol

	sig, err := l.fetchSignal(ctx, symbol)
	if err != nil {
		observability.RecordSignalError(symbol)
		l.logger.Printf("signal %s: %v", symbol, err)
		return
	}

	pos := l.tracker.Position(symbol)
	if !pos.IsFlat() {
		if reason := l.exitReason(pos, sig, now); reason != "" {
			l.flatten(ctx, symbol, reason, false, now)
		}
		return
	}

	if gate := l.entryGate(inst, now); gate != "" {
		observability.RecordEntryBlocked(gate)
		return
	}
	if !sig.Direction.Actionable() || sig.Confidence < l.cfg.MinConfidence {
		return
	}
	l.enter(ctx, inst, sig, now)
}

func (l *Loop) fetchSignal(ctx context.Context, symbol string) (domain.Signal, error) {
	callCtx, cancel := context.WithTimeout(ctx, l.cfg.CallTimeout)
	defer cancel()

	sig, err := l.signals.FetchSignal(callCtx, symbol)
	if err != nil {
		return domain.Signal{}, err
	}
	if !sig.CurrentPrice.IsPositive() {
		return domain.Signal{}, fmt.Errorf("signal without price")
	}
	return sig, nil
}

// exitReason evaluates stop-loss, then max-hold, then the exit signal.
func (l *Loop) exitReason(pos domain.Position, sig domain.Signal, now time.Time) string {
	if l.cfg.StopLossPerUnit.IsPositive() {
		qty := pos.Quantity
		if qty < 0 {
			qty = -qty
		}
		threshold := l.cfg.StopLossPerUnit.Mul(decimal.NewFromInt(qty)).Neg()
		if pos.UnrealizedPnL(sig.CurrentPrice).LessThanOrEqual(threshold) {
			return domain.ReasonStopLoss
		}
	}
	if l.cfg.MaxHoldMinutes > 0 && l.tracker.AgeMinutes(pos.Symbol, now) >= l.cfg.MaxHoldMinutes {
		return domain.ReasonMaxHold
	}
	if sig.ExitSignal {
		return domain.ReasonExitSignal
	}
	return ""
}

// entryGate returns the first gate blocking a new entry, or "".
func (l *Loop) entryGate(inst domain.Instrument, now time.Time) string {
	switch {
	case l.state.IsPaused():
		return GatePaused
	case l.state.IsNewsVeto():
		return GateNewsVeto
	case l.ledger.IsDailyLimitExceeded():
		return GateDailyLimit
	case l.ledger.IsWeeklyLimitHit():
		return GateWeekly
	case l.blackout != nil && l.blackout.IsBlackout(inst.Symbol, now, now):
		return GateBlackout
	case !l.state.Mode().Allows(inst.Class):
		return GateMode
	}
	return ""
}

func (l *Loop) enter(ctx context.Context, inst domain.Instrument, sig domain.Signal, now time.Time) {
	sizeCtx, cancel := context.WithTimeout(ctx, l.cfg.CallTimeout)
	qty, err := l.sizer.SizeFor(sizeCtx, inst.Symbol, l.cfg.Capital, sig.CurrentPrice)
	cancel()
	if err != nil {
		l.logger.Printf("sizing %s: %v", inst.Symbol, err)
		return
	}
	if qty <= 0 {
		return
	}

	action := domain.ActionBuy
	if sig.Direction == domain.DirectionShort {
		action = domain.ActionSell
	}
	intent := domain.OrderIntent{
		ID:             idhash.ComputeIntentID(inst.Symbol, action, qty, domain.ReasonEntry, false, now),
		Symbol:         inst.Symbol,
		Action:         action,
		Quantity:       qty,
		ReferencePrice: sig.CurrentPrice,
		Reason:         domain.ReasonEntry,
		Mode:           l.state.Mode(),
		CreatedAt:      now,
	}
	l.logger.Printf("entry %s %s x%d @ %s (confidence %.2f, %s)",
		action, inst.Symbol, qty, sig.CurrentPrice, sig.Confidence, sig.Source)
	l.gateway.Execute(ctx, intent)
}

// flatten closes symbol and settles the realized P&L.
func (l *Loop) flatten(ctx context.Context, symbol, reason string, emergency bool, now time.Time) execution.Result {
	res := l.gateway.Flatten(ctx, reason, symbol, l.state.Mode(), emergency)
	l.settle(ctx, res, now)
	return res
}

// settle records realized P&L for a closing fill and enforces the daily limit
// immediately.
func (l *Loop) settle(ctx context.Context, res execution.Result, now time.Time) {
	if !l.record(ctx, res, now) {
		return
	}
	if l.ledger.IsDailyLimitExceeded() {
		l.settleBreach(ctx, now)
	}
}

// settleBreach shuts trading down and emergency-flattens what is still open.
func (l *Loop) settleBreach(ctx context.Context, now time.Time) {
	snap := l.ledger.Snapshot()
	reason := fmt.Sprintf("daily loss limit breached: daily pnl %s <= -%s",
		snap.DailyPnL.StringFixed(2), snap.DailyLossLimit.StringFixed(2))
	if l.state.TriggerEmergencyShutdown(reason) {
		l.logger.Printf("CRITICAL: %s", reason)
	}
	l.flattenAll(ctx, domain.ReasonDailyLimit, true, now)
}

// record feeds a closing fill into the ledger. Reports whether it did.
func (l *Loop) record(ctx context.Context, res execution.Result, now time.Time) bool {
	if !res.Filled() || !res.Closing {
		return false
	}
	if err := l.ledger.RecordRealizedPnL(ctx, res.Realized, now); err != nil {
		l.logger.Printf("ERROR: record realized pnl %s: %v", res.Realized.StringFixed(2), err)
	}
	return true
}

// flattenAll closes every open position, recording each closing fill.
// Caller must hold tradeMu.
func (l *Loop) flattenAll(ctx context.Context, reason string, emergency bool, now time.Time) []execution.Result {
	var results []execution.Result
	for _, pos := range l.tracker.OpenPositions() {
		res := l.gateway.Flatten(ctx, reason, pos.Symbol, l.state.Mode(), emergency)
		l.record(ctx, res, now)
		results = append(results, res)
	}
	return results
}

// Stop stops scheduling and makes a best-effort emergency flatten of every
// open position bounded by ShutdownTimeout. It is not retried.
func (l *Loop) Stop(ctx context.Context) error {
	l.stopOnce.Do(func() { close(l.stop) })

	ctx, cancel := context.WithTimeout(ctx, l.cfg.ShutdownTimeout)
	defer cancel()

	l.tradeMu.Lock()
	defer l.tradeMu.Unlock()

	var errs []error
	for _, res := range l.flattenAll(ctx, domain.ReasonProcessShutdown, true, l.now()) {
		if !res.Filled() && res.Kind != execution.KindNoop {
			errs = append(errs, fmt.Errorf("flatten %s: %w", res.Intent.Symbol, res.Err))
		}
	}
	err := errors.Join(errs...)
	if err != nil {
		l.logger.Printf("ERROR: shutdown flatten incomplete: %v", err)
	}
	return err
}

// Phase returns the loop's current phase.
func (l *Loop) Phase() Phase {
	l.statusMu.RLock()
	defer l.statusMu.RUnlock()
	return l.status.Phase
}

// Status returns a snapshot of loop status.
func (l *Loop) Status() Status {
	l.statusMu.RLock()
	defer l.statusMu.RUnlock()
	return l.status
}

func (l *Loop) setPhase(p Phase) {
	l.statusMu.Lock()
	prev := l.status.Phase
	l.status.Phase = p
	l.statusMu.Unlock()
	if prev != p {
		l.logger.Printf("phase %s -> %s", prev, p)
	}
}
