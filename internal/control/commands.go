package control

import (
	"context"
	"fmt"

	"intraday-trader/internal/domain"
	"intraday-trader/internal/execution"
)

// Operator commands. Flag-only commands take effect immediately;
// order-issuing commands wait for any running tick.

// Pause suspends new entries. Exits keep running.
func (l *Loop) Pause() bool {
	return l.state.Pause()
}

// Resume re-enables entries.
func (l *Loop) Resume() bool {
	return l.state.Resume()
}

// SetMode changes which instrument classes may receive entries.
func (l *Loop) SetMode(mode domain.TradingMode) {
	l.state.SetMode(mode)
}

// Reset clears emergency shutdown. Entries stay blocked while the daily
// limit remains exceeded.
func (l *Loop) Reset(operator string) bool {
	return l.state.ResetShutdown(operator)
}

// ForceFlatten closes symbol, or every open position when symbol is empty.
// While shut down the flatten runs as an emergency intent so it is not
// refused by the gateway.
func (l *Loop) ForceFlatten(ctx context.Context, symbol string) []execution.Result {
	l.tradeMu.Lock()
	defer l.tradeMu.Unlock()

	now := l.now()
	emergency := l.state.IsShutdown()
	if symbol == "" {
		return l.flattenAll(ctx, domain.ReasonOperatorFlatten, emergency, now)
	}
	res := l.gateway.Flatten(ctx, domain.ReasonOperatorFlatten, symbol, l.state.Mode(), emergency)
	if l.record(ctx, res, now) && !emergency && l.ledger.IsDailyLimitExceeded() {
		l.settleBreach(ctx, now)
	}
	return []execution.Result{res}
}

// EmergencyStop triggers emergency shutdown and flattens everything.
func (l *Loop) EmergencyStop(ctx context.Context, operator string) []execution.Result {
	l.state.TriggerEmergencyShutdown(fmt.Sprintf("operator shutdown by %s", operator))

	l.tradeMu.Lock()
	defer l.tradeMu.Unlock()
	return l.flattenAll(ctx, domain.ReasonOperatorStop, true, l.now())
}
