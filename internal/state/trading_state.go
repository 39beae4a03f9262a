// Package state holds the process-wide trading mode flags shared by the
// control loop and the operator command channel.
package state

import (
	"fmt"
	"sync"
	"time"

	"intraday-trader/internal/domain"
	"intraday-trader/internal/notify"
	"intraday-trader/internal/observability"
)

// VetoState is a consistent snapshot of the news veto.
type VetoState struct {
	Active    bool
	Reason    string
	Source    string
	UpdatedAt time.Time
}

// ShutdownState is a consistent snapshot of the emergency shutdown flag.
type ShutdownState struct {
	Active      bool
	Reason      string
	TriggeredAt time.Time
}

// Snapshot is a point-in-time copy of every flag.
type Snapshot struct {
	Shutdown            ShutdownState
	Veto                VetoState
	Mode                domain.TradingMode
	Paused              bool
	MarketDataConnected bool
}

// TradingState is the single source of truth for global trading flags.
// Each group of fields that must change together has its own mutex so a
// reader never observes a half-applied update.
type TradingState struct {
	notifier notify.Notifier
	now      func() time.Time

	shutdownMu sync.RWMutex
	shutdown   ShutdownState

	vetoMu sync.RWMutex
	veto   VetoState

	flagsMu             sync.RWMutex
	mode                domain.TradingMode
	paused              bool
	marketDataConnected bool
}

// Options configures a TradingState.
type Options struct {
	Mode     domain.TradingMode
	Notifier notify.Notifier
	Now      func() time.Time
}

// New creates a TradingState. Mode defaults to BOTH.
func New(opts Options) *TradingState {
	mode := opts.Mode
	if mode == "" {
		mode = domain.ModeBoth
	}
	notifier := opts.Notifier
	if notifier == nil {
		notifier = notify.Nop{}
	}
	now := opts.Now
	if now == nil {
		now = time.Now
	}
	return &TradingState{
		notifier: notifier,
		now:      now,
		mode:     mode,
	}
}

// IsShutdown reports whether emergency shutdown is active.
func (s *TradingState) IsShutdown() bool {
	s.shutdownMu.RLock()
	defer s.shutdownMu.RUnlock()
	return s.shutdown.Active
}

// Shutdown returns the shutdown snapshot.
func (s *TradingState) Shutdown() ShutdownState {
	s.shutdownMu.RLock()
	defer s.shutdownMu.RUnlock()
	return s.shutdown
}

// TriggerEmergencyShutdown activates emergency shutdown. It is idempotent:
// only the first call records its reason and notifies. Returns true when
// this call caused the transition.
func (s *TradingState) TriggerEmergencyShutdown(reason string) bool {
	s.shutdownMu.Lock()
	if s.shutdown.Active {
		s.shutdownMu.Unlock()
		return false
	}
	s.shutdown = ShutdownState{Active: true, Reason: reason, TriggeredAt: s.now()}
	s.shutdownMu.Unlock()

	observability.SetShutdown(true, true)
	s.notifier.Notify(notify.New(notify.KindShutdown, notify.SeverityCritical,
		"Emergency shutdown", reason))
	return true
}

// ResetShutdown clears emergency shutdown. This is an explicit operator
// action; the control loop never calls it. Returns true when a shutdown
// was actually cleared.
func (s *TradingState) ResetShutdown(operator string) bool {
	s.shutdownMu.Lock()
	if !s.shutdown.Active {
		s.shutdownMu.Unlock()
		return false
	}
	prev := s.shutdown
	s.shutdown = ShutdownState{}
	s.shutdownMu.Unlock()

	observability.SetShutdown(false, false)
	s.notifier.Notify(notify.New(notify.KindShutdownReset, notify.SeverityWarning,
		"Emergency shutdown cleared",
		fmt.Sprintf("reset by %s (was: %s)", operator, prev.Reason)))
	return true
}

// SetNewsVeto updates flag, reason and source under one lock. Notifies only
// when the active flag flips.
func (s *TradingState) SetNewsVeto(active bool, reason, source string) {
	s.vetoMu.Lock()
	changed := s.veto.Active != active
	if !active {
		reason = ""
	}
	s.veto = VetoState{Active: active, Reason: reason, Source: source, UpdatedAt: s.now()}
	s.vetoMu.Unlock()

	if !changed {
		return
	}
	observability.SetNewsVeto(active)
	if active {
		s.notifier.Notify(notify.New(notify.KindVetoOn, notify.SeverityWarning,
			"News veto active", fmt.Sprintf("%s (source: %s); new entries blocked", reason, source)))
	} else {
		s.notifier.Notify(notify.New(notify.KindVetoOff, notify.SeverityInfo,
			"News veto cleared", fmt.Sprintf("source: %s", source)))
	}
}

// IsNewsVeto reports whether a news veto is active.
func (s *TradingState) IsNewsVeto() bool {
	s.vetoMu.RLock()
	defer s.vetoMu.RUnlock()
	return s.veto.Active
}

// NewsVeto returns the veto snapshot.
func (s *TradingState) NewsVeto() VetoState {
	s.vetoMu.RLock()
	defer s.vetoMu.RUnlock()
	return s.veto
}

// Mode returns the active trading mode.
func (s *TradingState) Mode() domain.TradingMode {
	s.flagsMu.RLock()
	defer s.flagsMu.RUnlock()
	return s.mode
}

// SetMode changes the trading mode.
func (s *TradingState) SetMode(mode domain.TradingMode) {
	s.flagsMu.Lock()
	prev := s.mode
	s.mode = mode
	s.flagsMu.Unlock()

	if prev != mode {
		s.notifier.Notify(notify.New(notify.KindModeChanged, notify.SeverityInfo,
			"Trading mode changed", fmt.Sprintf("%s -> %s", prev, mode)))
	}
}

// Pause suppresses new entries. Exits keep running.
func (s *TradingState) Pause() bool {
	return s.setPaused(true)
}

// Resume lifts an operator pause.
func (s *TradingState) Resume() bool {
	return s.setPaused(false)
}

func (s *TradingState) setPaused(paused bool) bool {
	s.flagsMu.Lock()
	changed := s.paused != paused
	s.paused = paused
	s.flagsMu.Unlock()

	if !changed {
		return false
	}
	observability.SetPaused(paused)
	if paused {
		s.notifier.Notify(notify.New(notify.KindPaused, notify.SeverityWarning,
			"Trading paused", "new entries suspended by operator"))
	} else {
		s.notifier.Notify(notify.New(notify.KindResumed, notify.SeverityInfo,
			"Trading resumed", "new entries allowed"))
	}
	return true
}

// IsPaused reports whether the operator paused new entries.
func (s *TradingState) IsPaused() bool {
	s.flagsMu.RLock()
	defer s.flagsMu.RUnlock()
	return s.paused
}

// SetMarketDataConnected records market data connectivity.
func (s *TradingState) SetMarketDataConnected(connected bool) {
	s.flagsMu.Lock()
	changed := s.marketDataConnected != connected
	s.marketDataConnected = connected
	s.flagsMu.Unlock()

	if !changed {
		return
	}
	observability.SetMarketDataConnected(connected)
	if connected {
		s.notifier.Notify(notify.New(notify.KindMarketData, notify.SeverityInfo,
			"Market data connected", "control loop may become active"))
	} else {
		s.notifier.Notify(notify.New(notify.KindMarketData, notify.SeverityWarning,
			"Market data disconnected", "control loop idle until the feed reconnects"))
	}
}

// IsMarketDataConnected reports market data connectivity.
func (s *TradingState) IsMarketDataConnected() bool {
	s.flagsMu.RLock()
	defer s.flagsMu.RUnlock()
	return s.marketDataConnected
}

// Snapshot returns a copy of all flags.
func (s *TradingState) Snapshot() Snapshot {
	snap := Snapshot{
		Shutdown: s.Shutdown(),
		Veto:     s.NewsVeto(),
	}
	s.flagsMu.RLock()
	snap.Mode = s.mode
	snap.Paused = s.paused
	snap.MarketDataConnected = s.marketDataConnected
	s.flagsMu.RUnlock()
	return snap
}
