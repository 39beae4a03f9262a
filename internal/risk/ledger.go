// Package risk owns realized P&L accounting, loss limits and the earnings
// blackout calendar.
package risk

import (
	"context"
	"errors"
	"fmt"
	"log"
	"sync"
	"time"

	"github.com/shopspring/decimal"

	"intraday-trader/internal/domain"
	"intraday-trader/internal/notify"
	"intraday-trader/internal/observability"
	"intraday-trader/internal/storage"
)

// LedgerOptions configures a Ledger.
type LedgerOptions struct {
	// Positive magnitudes. Zero or negative disables the limit.
	DailyLossLimit  decimal.Decimal
	WeeklyLossLimit decimal.Decimal

	// Location defines day and week boundaries. Defaults to UTC.
	Location *time.Location

	Store    storage.WeeklyPnLStore
	Notifier notify.Notifier
	Logger   *log.Logger
}

// LedgerSnapshot is a consistent copy of ledger values.
type LedgerSnapshot struct {
	DailyPnL           decimal.Decimal
	WeeklyPnL          decimal.Decimal
	DailyLossLimit     decimal.Decimal
	WeeklyLossLimit    decimal.Decimal
	DailyLimitExceeded bool
	WeeklyLimitHit     bool
	WeekStart          time.Time
}

// Ledger tracks daily and weekly realized P&L. Safe for concurrent use.
type Ledger struct {
	dailyLimit  decimal.Decimal
	weeklyLimit decimal.Decimal
	loc         *time.Location
	store       storage.WeeklyPnLStore
	notifier    notify.Notifier
	logger      *log.Logger

	mu             sync.RWMutex
	daily          decimal.Decimal
	weekly         decimal.Decimal
	weeklyLimitHit bool
	dailyNotified  bool
	weekStart      time.Time
	seq            uint64

	// persistMu orders saves; a save older than the last persisted one is dropped.
	persistMu    sync.Mutex
	persistedSeq uint64
}

// NewLedger creates a Ledger. Call Load before use.
func NewLedger(opts LedgerOptions) *Ledger {
	logger := opts.Logger
	if logger == nil {
		logger = log.Default()
	}
	notifier := opts.Notifier
	if notifier == nil {
		notifier = notify.Nop{}
	}
	loc := opts.Location
	if loc == nil {
		loc = time.UTC
	}
	return &Ledger{
		dailyLimit:  opts.DailyLossLimit,
		weeklyLimit: opts.WeeklyLossLimit,
		loc:         loc,
		store:       opts.Store,
		notifier:    notifier,
		logger:      logger,
	}
}

// Load restores weekly P&L from the store. A record dated before the current
// week's Monday is discarded and rewritten as zero; otherwise the persisted
// value is restored verbatim. A missing record starts the week at zero.
func (l *Ledger) Load(ctx context.Context, now time.Time) error {
	monday := WeekStart(now, l.loc)

	var rec *domain.WeeklyPnLRecord
	if l.store != nil {
		var err error
		rec, err = l.store.Load(ctx)
		if err != nil && !errors.Is(err, storage.ErrNotFound) {
			return fmt.Errorf("load weekly pnl: %w", err)
		}
	}

	l.mu.Lock()
	l.weekStart = monday
	l.daily = decimal.Zero
	l.dailyNotified = false
	restored := rec != nil && !civilDate(rec.Date, l.loc).Before(monday)
	if restored {
		l.weekly = rec.WeeklyPnL
	} else {
		l.weekly = decimal.Zero
	}
	l.weeklyLimitHit = l.weeklyBreachedLocked()
	hit := l.weeklyLimitHit
	weekly := l.weekly
	l.seq++
	seq := l.seq
	l.mu.Unlock()

	l.publish()
	switch {
	case restored:
		l.logger.Printf("restored weekly pnl %s from %s", weekly, rec.Date.Format("2006-01-02"))
	case rec != nil:
		l.logger.Printf("discarded weekly pnl %s from %s (before week of %s)",
			rec.WeeklyPnL, rec.Date.Format("2006-01-02"), monday.Format("2006-01-02"))
	default:
		l.logger.Printf("no weekly pnl record, starting week at zero")
	}
	if hit {
		l.notifyWeeklyLimit(weekly)
	}

	if restored {
		return nil
	}
	return l.persist(ctx, seq, weekly, now)
}

// RecordRealizedPnL adds amount to daily and weekly P&L, re-evaluates the
// weekly limit and persists the new weekly value before returning. The
// in-memory state is updated first so a failed save never hides a breach.
func (l *Ledger) RecordRealizedPnL(ctx context.Context, amount decimal.Decimal, now time.Time) error {
	l.mu.Lock()
	rolled := l.rolloverLocked(now)
	l.daily = l.daily.Add(amount)
	l.weekly = l.weekly.Add(amount)

	newlyWeekly := false
	if !l.weeklyLimitHit && l.weeklyBreachedLocked() {
		l.weeklyLimitHit = true
		newlyWeekly = true
	}
	newlyDaily := false
	if !l.dailyNotified && l.dailyExceededLocked() {
		l.dailyNotified = true
		newlyDaily = true
	}
	daily, weekly := l.daily, l.weekly
	l.seq++
	seq := l.seq
	l.mu.Unlock()

	l.publish()
	observability.RecordClosingFill(amount.InexactFloat64())
	if rolled {
		l.notifyRollover()
	}
	if newlyDaily {
		l.notifier.Notify(notify.New(notify.KindDailyLimit, notify.SeverityCritical,
			"Daily loss limit breached",
			fmt.Sprintf("daily pnl %s <= -%s", daily.StringFixed(2), l.dailyLimit.StringFixed(2))))
	}
	if newlyWeekly {
		l.notifyWeeklyLimit(weekly)
	}

	return l.persist(ctx, seq, weekly, now)
}

// IsDailyLimitExceeded reports dailyPnL <= -dailyLossLimit.
func (l *Ledger) IsDailyLimitExceeded() bool {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return l.dailyExceededLocked()
}

// IsWeeklyLimitHit reports the sticky weekly flag. Only a week rollover clears it.
func (l *Ledger) IsWeeklyLimitHit() bool {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return l.weeklyLimitHit
}

// ResetDaily zeroes daily P&L. Called once at trading-session start.
func (l *Ledger) ResetDaily() {
	l.mu.Lock()
	l.daily = decimal.Zero
	l.dailyNotified = false
	l.mu.Unlock()
	l.publish()
	l.logger.Printf("daily pnl reset for new session")
}

// RolloverIfNeeded zeroes weekly P&L and clears the weekly limit flag when
// now falls in a later week than the ledger's. Returns true on rollover.
func (l *Ledger) RolloverIfNeeded(ctx context.Context, now time.Time) (bool, error) {
	l.mu.Lock()
	if !l.rolloverLocked(now) {
		l.mu.Unlock()
		return false, nil
	}
	weekly := l.weekly
	l.seq++
	seq := l.seq
	l.mu.Unlock()

	l.publish()
	l.notifyRollover()
	return true, l.persist(ctx, seq, weekly, now)
}

// Snapshot returns a consistent copy of ledger values.
func (l *Ledger) Snapshot() LedgerSnapshot {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return LedgerSnapshot{
		DailyPnL:           l.daily,
		WeeklyPnL:          l.weekly,
		DailyLossLimit:     l.dailyLimit,
		WeeklyLossLimit:    l.weeklyLimit,
		DailyLimitExceeded: l.dailyExceededLocked(),
		WeeklyLimitHit:     l.weeklyLimitHit,
		WeekStart:          l.weekStart,
	}
}

func (l *Ledger) rolloverLocked(now time.Time) bool {
	monday := WeekStart(now, l.loc)
	if !monday.After(l.weekStart) {
		return false
	}
	l.weekStart = monday
	l.weekly = decimal.Zero
	l.weeklyLimitHit = false
	return true
}

func (l *Ledger) dailyExceededLocked() bool {
	return l.dailyLimit.IsPositive() && l.daily.LessThanOrEqual(l.dailyLimit.Neg())
}

func (l *Ledger) weeklyBreachedLocked() bool {
	return l.weeklyLimit.IsPositive() && l.weekly.LessThanOrEqual(l.weeklyLimit.Neg())
}

func (l *Ledger) persist(ctx context.Context, seq uint64, weekly decimal.Decimal, now time.Time) error {
	if l.store == nil {
		return nil
	}

	l.persistMu.Lock()
	defer l.persistMu.Unlock()
	if seq <= l.persistedSeq {
		return nil
	}

	rec := &domain.WeeklyPnLRecord{
		Date:      DayStart(now, l.loc),
		WeeklyPnL: weekly,
		UpdatedAt: now.UTC(),
	}
	if err := l.store.Save(ctx, rec); err != nil {
		l.logger.Printf("ERROR: persist weekly pnl %s: %v", weekly, err)
		l.notifier.Notify(notify.New(notify.KindPersistenceFailed, notify.SeverityWarning,
			"Weekly P&L not persisted", fmt.Sprintf("value %s: %v", weekly, err)))
		return fmt.Errorf("persist weekly pnl: %w", err)
	}
	l.persistedSeq = seq
	return nil
}

func (l *Ledger) publish() {
	s := l.Snapshot()
	observability.UpdateLedger(s.DailyPnL.InexactFloat64(), s.WeeklyPnL.InexactFloat64(), s.WeeklyLimitHit)
}

func (l *Ledger) notifyWeeklyLimit(weekly decimal.Decimal) {
	l.notifier.Notify(notify.New(notify.KindWeeklyLimit, notify.SeverityCritical,
		"Weekly loss limit hit",
		fmt.Sprintf("weekly pnl %s <= -%s; new entries blocked until next Monday",
			weekly.StringFixed(2), l.weeklyLimit.StringFixed(2))))
}

func (l *Ledger) notifyRollover() {
	l.notifier.Notify(notify.New(notify.KindWeeklyRollover, notify.SeverityInfo,
		"Weekly P&L rolled over", "weekly pnl and weekly limit reset for the new week"))
}
