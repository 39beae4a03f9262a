package state

import (
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"intraday-trader/internal/domain"
	"intraday-trader/internal/notify"
)

func newTestState() (*TradingState, *notify.Recorder) {
	rec := notify.NewRecorder(0)
	return New(Options{Notifier: rec}), rec
}

func TestTriggerEmergencyShutdown_Idempotent(t *testing.T) {
	s, rec := newTestState()

	assert.True(t, s.TriggerEmergencyShutdown("daily loss limit"))
	first := s.Shutdown()

	assert.False(t, s.TriggerEmergencyShutdown("second reason"))
	second := s.Shutdown()

	assert.True(t, s.IsShutdown())
	assert.Equal(t, first, second)
	assert.Equal(t, "daily loss limit", second.Reason)
	assert.Equal(t, 1, rec.Count(notify.KindShutdown))
}

func TestResetShutdown(t *testing.T) {
	s, rec := newTestState()

	assert.False(t, s.ResetShutdown("ops"), "reset without shutdown is a no-op")
	assert.Equal(t, 0, rec.Count(notify.KindShutdownReset))

	s.TriggerEmergencyShutdown("test")
	assert.True(t, s.ResetShutdown("ops"))
	assert.False(t, s.IsShutdown())
	assert.Equal(t, 1, rec.Count(notify.KindShutdownReset))

	// Can be triggered again after reset.
	assert.True(t, s.TriggerEmergencyShutdown("again"))
}

func TestSetNewsVeto_NotifiesOnTransitionOnly(t *testing.T) {
	s, rec := newTestState()

	s.SetNewsVeto(true, "FOMC surprise", "sentiment")
	s.SetNewsVeto(true, "FOMC surprise (updated)", "sentiment")
	s.SetNewsVeto(false, "", "sentiment")
	s.SetNewsVeto(false, "", "sentiment")

	assert.Equal(t, 1, rec.Count(notify.KindVetoOn))
	assert.Equal(t, 1, rec.Count(notify.KindVetoOff))
	assert.False(t, s.IsNewsVeto())
	assert.Empty(t, s.NewsVeto().Reason)
}

func TestNewsVeto_NeverHalfUpdated(t *testing.T) {
	s, _ := newTestState()

	var wg sync.WaitGroup
	stop := make(chan struct{})

	wg.Add(1)
	go func() {
		defer wg.Done()
		for i := 0; ; i++ {
			select {
			case <-stop:
				return
			default:
			}
			if i%2 == 0 {
				s.SetNewsVeto(true, "halt risk", "feed")
			} else {
				s.SetNewsVeto(false, "", "feed")
			}
		}
	}()

	deadline := time.Now().Add(50 * time.Millisecond)
	for time.Now().Before(deadline) {
		v := s.NewsVeto()
		if v.Active {
			require.Equal(t, "halt risk", v.Reason)
		} else {
			require.Empty(t, v.Reason)
		}
	}
	close(stop)
	wg.Wait()
}

func TestPauseResume(t *testing.T) {
	s, rec := newTestState()

	assert.True(t, s.Pause())
	assert.False(t, s.Pause())
	assert.True(t, s.IsPaused())
	assert.True(t, s.Resume())
	assert.False(t, s.IsPaused())

	assert.Equal(t, 1, rec.Count(notify.KindPaused))
	assert.Equal(t, 1, rec.Count(notify.KindResumed))
}

func TestModeAndSnapshot(t *testing.T) {
	s, rec := newTestState()
	assert.Equal(t, domain.ModeBoth, s.Mode())

	s.SetMode(domain.ModeEquity)
	s.SetMode(domain.ModeEquity)
	s.SetMarketDataConnected(true)

	snap := s.Snapshot()
	assert.Equal(t, domain.ModeEquity, snap.Mode)
	assert.True(t, snap.MarketDataConnected)
	assert.False(t, snap.Shutdown.Active)
	assert.Equal(t, 1, rec.Count(notify.KindModeChanged))
	assert.Equal(t, 1, rec.Count(notify.KindMarketData))
}
