package risk

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"intraday-trader/internal/notify"
)

func newTestCalendar(freshness time.Duration) (*BlackoutCalendar, *notify.Recorder) {
	rec := notify.NewRecorder(0)
	return NewBlackoutCalendar(BlackoutOptions{
		Freshness: freshness,
		Location:  ny,
		Notifier:  rec,
		Logger:    quietLog,
	}), rec
}

func day(y int, m time.Month, d int) time.Time {
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
}

func TestBlackoutCalendar_FreshMembership(t *testing.T) {
	cal, rec := newTestCalendar(72 * time.Hour)
	now := time.Date(2026, 4, 28, 10, 0, 0, 0, ny)
	cal.Replace([]BlackoutWindow{
		{Symbol: "aapl", Start: day(2026, 4, 29), End: day(2026, 5, 1)},
	}, now.Add(-time.Hour))

	assert.False(t, cal.IsBlackout("AAPL", time.Date(2026, 4, 28, 15, 0, 0, 0, ny), now))
	assert.True(t, cal.IsBlackout("AAPL", time.Date(2026, 4, 29, 9, 31, 0, 0, ny), now))
	assert.True(t, cal.IsBlackout("AAPL", time.Date(2026, 5, 1, 15, 59, 0, 0, ny), now))
	assert.False(t, cal.IsBlackout("AAPL", time.Date(2026, 5, 2, 9, 31, 0, 0, ny), now))
	assert.False(t, cal.IsBlackout("MSFT", time.Date(2026, 4, 30, 12, 0, 0, 0, ny), now))
	assert.Equal(t, 0, rec.Count(notify.KindBlackoutStale))
}

func TestBlackoutCalendar_NormalizesLookupSymbol(t *testing.T) {
	cal, _ := newTestCalendar(72 * time.Hour)
	now := time.Date(2026, 4, 28, 10, 0, 0, 0, ny)
	cal.Replace([]BlackoutWindow{
		{Symbol: " AAPL", Start: day(2026, 4, 29), End: day(2026, 4, 29)},
	}, now.Add(-time.Hour))

	during := time.Date(2026, 4, 29, 12, 0, 0, 0, ny)
	assert.True(t, cal.IsBlackout(" aapl ", during, now))
	assert.True(t, cal.IsBlackout("AAPL\t", during, now))
}

func TestBlackoutCalendar_StaleFailsOpenOncePerTransition(t *testing.T) {
	cal, rec := newTestCalendar(3 * 24 * time.Hour)
	refreshed := time.Date(2026, 4, 20, 6, 0, 0, 0, ny)
	now := refreshed.Add(10 * 24 * time.Hour)
	cal.Replace([]BlackoutWindow{
		{Symbol: "AAPL", Start: day(2026, 4, 29), End: day(2026, 5, 1)},
		{Symbol: "MSFT", Start: day(2026, 4, 30), End: day(2026, 4, 30)},
	}, refreshed)

	for tick := 0; tick < 50; tick++ {
		at := now.Add(time.Duration(tick) * time.Second)
		for _, sym := range []string{"AAPL", "MSFT", "NVDA"} {
			assert.False(t, cal.IsBlackout(sym, time.Date(2026, 4, 30, 12, 0, 0, 0, ny), at))
		}
	}
	assert.Equal(t, 1, rec.Count(notify.KindBlackoutStale))

	// Refresh: enforcement resumes and recovery is announced once.
	cal.Replace([]BlackoutWindow{{Symbol: "AAPL", Start: day(2026, 4, 29), End: day(2026, 5, 1)}}, now)
	assert.True(t, cal.IsBlackout("AAPL", time.Date(2026, 4, 30, 12, 0, 0, 0, ny), now))
	assert.True(t, cal.IsBlackout("AAPL", time.Date(2026, 4, 30, 12, 0, 0, 0, ny), now))
	assert.Equal(t, 1, rec.Count(notify.KindBlackoutFresh))

	// Going stale again is a new transition.
	later := now.Add(4 * 24 * time.Hour)
	assert.False(t, cal.IsBlackout("AAPL", time.Date(2026, 4, 30, 12, 0, 0, 0, ny), later))
	assert.Equal(t, 2, rec.Count(notify.KindBlackoutStale))
}

func TestBlackoutCalendar_NeverLoadedIsStale(t *testing.T) {
	cal, rec := newTestCalendar(24 * time.Hour)
	assert.True(t, cal.CheckStaleness(time.Now()))
	assert.True(t, cal.CheckStaleness(time.Now()))
	assert.Equal(t, 1, rec.Count(notify.KindBlackoutStale))
}

func TestParseBlackoutFile(t *testing.T) {
	dir := t.TempDir()

	yamlPath := filepath.Join(dir, "earnings.yaml")
	require.NoError(t, os.WriteFile(yamlPath, []byte(`
refreshed_at: 2026-04-27T06:00:00Z
earnings:
  - symbol: AAPL
    start: 2026-04-29
    end: 2026-05-01
  - symbol: MSFT
    start: 2026-04-30
`), 0o644))

	windows, refreshed, err := ParseBlackoutFile(yamlPath)
	require.NoError(t, err)
	require.Len(t, windows, 2)
	assert.Equal(t, time.Date(2026, 4, 27, 6, 0, 0, 0, time.UTC), refreshed.UTC())
	assert.Equal(t, windows[1].Start, windows[1].End, "end defaults to start")

	jsonPath := filepath.Join(dir, "earnings.json")
	require.NoError(t, os.WriteFile(jsonPath, []byte(
		`{"earnings":[{"symbol":"NVDA","start":"2026-05-20","end":"2026-05-21"}]}`), 0o644))
	windows, refreshed, err = ParseBlackoutFile(jsonPath)
	require.NoError(t, err)
	require.Len(t, windows, 1)
	assert.False(t, refreshed.IsZero(), "falls back to mod time")

	badPath := filepath.Join(dir, "bad.yaml")
	require.NoError(t, os.WriteFile(badPath, []byte("earnings:\n  - symbol: X\n    start: 04/29/2026\n"), 0o644))
	_, _, err = ParseBlackoutFile(badPath)
	assert.Error(t, err)
}

func TestBlackoutWatcher_ReloadsOnWrite(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "earnings.yaml")
	require.NoError(t, os.WriteFile(path, []byte("refreshed_at: 2026-04-27T06:00:00Z\nearnings: []\n"), 0o644))

	cal, _ := newTestCalendar(0)
	w := NewBlackoutWatcher(path, cal, 20*time.Millisecond, quietLog)
	require.NoError(t, w.Load())

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	require.NoError(t, w.Watch(ctx))

	require.NoError(t, os.WriteFile(path, []byte(`
refreshed_at: 2026-04-28T06:00:00Z
earnings:
  - symbol: AAPL
    start: 2026-04-29
`), 0o644))

	now := time.Date(2026, 4, 28, 12, 0, 0, 0, ny)
	require.Eventually(t, func() bool {
		return cal.IsBlackout("AAPL", time.Date(2026, 4, 29, 12, 0, 0, 0, ny), now)
	}, 3*time.Second, 20*time.Millisecond)
	assert.Equal(t, time.Date(2026, 4, 28, 6, 0, 0, 0, time.UTC), cal.RefreshedAt().UTC())
}
