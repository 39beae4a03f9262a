package control

import (
	"context"
	"fmt"
	"time"

	"intraday-trader/internal/notify"
	"intraday-trader/internal/observability"
)

// refreshVeto polls the veto provider on its own cadence. A feed that has
// not answered within VetoFreshness fails open: the veto is cleared and a
// degraded notification is sent once per transition. Caller holds tradeMu.
func (l *Loop) refreshVeto(ctx context.Context, now time.Time) {
	if !l.lastVetoAttempt.IsZero() && now.Sub(l.lastVetoAttempt) < l.cfg.VetoInterval {
		l.checkVetoStaleness(now)
		return
	}
	l.lastVetoAttempt = now

	callCtx, cancel := context.WithTimeout(ctx, l.cfg.CallTimeout)
	v, err := l.veto.FetchVeto(callCtx)
	cancel()
	if err != nil {
		observability.RecordVetoRefresh("error")
		l.logger.Printf("veto refresh failed: %v", err)
		l.checkVetoStaleness(now)
		return
	}
	observability.RecordVetoRefresh("ok")

	l.statusMu.Lock()
	wasStale := l.status.VetoStale
	l.status.VetoStale = false
	l.status.LastVetoOK = now
	l.statusMu.Unlock()

	if wasStale {
		observability.SetVetoStale(false)
		l.notifier.Notify(notify.New(notify.KindVetoFresh, notify.SeverityInfo,
			"Veto feed recovered", "news veto enforcement restored"))
	}
	l.state.SetNewsVeto(v.Veto, v.Reason, v.Source)
}

func (l *Loop) checkVetoStaleness(now time.Time) {
	if l.cfg.VetoFreshness <= 0 {
		return
	}

	l.statusMu.Lock()
	last := l.status.LastVetoOK
	if last.IsZero() {
		last = l.started
	}
	if l.status.VetoStale || now.Sub(last) <= l.cfg.VetoFreshness {
		l.statusMu.Unlock()
		return
	}
	l.status.VetoStale = true
	l.statusMu.Unlock()

	observability.SetVetoStale(true)
	msg := fmt.Sprintf("no veto update for %s (freshness %s); veto cleared until the feed recovers",
		now.Sub(last).Truncate(time.Second), l.cfg.VetoFreshness)
	l.logger.Printf("WARNING: %s", msg)
	l.notifier.Notify(notify.New(notify.KindVetoStale, notify.SeverityWarning, "Veto feed stale", msg))
	l.state.SetNewsVeto(false, "", "stale")
}
