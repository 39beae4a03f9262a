package risk

import (
	"fmt"
	"log"
	"strings"
	"sync"
	"time"

	"intraday-trader/internal/notify"
	"intraday-trader/internal/observability"
)

// BlackoutWindow forbids new entries for Symbol on every calendar day from
// Start through End inclusive.
type BlackoutWindow struct {
	Symbol string
	Start  time.Time
	End    time.Time
}

// BlackoutOptions configures a BlackoutCalendar.
type BlackoutOptions struct {
	// Freshness is how old the calendar data may get before it is stale.
	// Zero disables staleness checks.
	Freshness time.Duration
	Location  *time.Location
	Notifier  notify.Notifier
	Logger    *log.Logger
}

type dateRange struct {
	start, end time.Time
}

// BlackoutCalendar is the earnings blackout set with a staleness flag.
// Stale data fails open: IsBlackout returns false and a degraded-mode
// notification is emitted once per staleness transition.
type BlackoutCalendar struct {
	freshness time.Duration
	loc       *time.Location
	notifier  notify.Notifier
	logger    *log.Logger

	mu          sync.RWMutex
	windows     map[string][]dateRange
	refreshedAt time.Time
	loaded      bool

	staleMu sync.Mutex
	stale   bool
}

// NewBlackoutCalendar creates an empty calendar. Until Replace is called the
// data counts as stale.
func NewBlackoutCalendar(opts BlackoutOptions) *BlackoutCalendar {
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
	return &BlackoutCalendar{
		freshness: opts.Freshness,
		loc:       loc,
		notifier:  notifier,
		logger:    logger,
		windows:   make(map[string][]dateRange),
	}
}

// Replace swaps in a new blackout set refreshed at refreshedAt.
func (c *BlackoutCalendar) Replace(windows []BlackoutWindow, refreshedAt time.Time) {
	next := make(map[string][]dateRange, len(windows))
	for _, w := range windows {
		sym := strings.ToUpper(strings.TrimSpace(w.Symbol))
		start, end := civilDate(w.Start, c.loc), civilDate(w.End, c.loc)
		if end.Before(start) {
			start, end = end, start
		}
		next[sym] = append(next[sym], dateRange{start: start, end: end})
	}

	c.mu.Lock()
	c.windows = next
	c.refreshedAt = refreshedAt
	c.loaded = true
	c.mu.Unlock()

	c.logger.Printf("blackout calendar replaced: %d windows, %d symbols, refreshed %s",
		len(windows), len(next), refreshedAt.UTC().Format(time.RFC3339))
}

// RefreshedAt returns when the current data was produced (zero if never loaded).
func (c *BlackoutCalendar) RefreshedAt() time.Time {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.refreshedAt
}

// CheckStaleness evaluates staleness at now, emitting a notification when
// the state flips. Returns true if the data is stale.
func (c *BlackoutCalendar) CheckStaleness(now time.Time) bool {
	c.mu.RLock()
	stale := c.staleAtLocked(now)
	age := now.Sub(c.refreshedAt)
	loaded := c.loaded
	c.mu.RUnlock()

	c.staleMu.Lock()
	changed := c.stale != stale
	c.stale = stale
	c.staleMu.Unlock()

	if !changed {
		return stale
	}

	observability.SetBlackoutStale(stale)
	if stale {
		msg := "no blackout data loaded"
		if loaded {
			msg = fmt.Sprintf("data is %s old (window %s)", age.Round(time.Minute), c.freshness)
		}
		c.logger.Printf("WARN: earnings blackout enforcement degraded: %s", msg)
		c.notifier.Notify(notify.New(notify.KindBlackoutStale, notify.SeverityWarning,
			"Earnings blackout data stale",
			msg+"; blackout not enforced until the calendar refreshes"))
	} else {
		c.logger.Printf("earnings blackout data fresh again")
		c.notifier.Notify(notify.New(notify.KindBlackoutFresh, notify.SeverityInfo,
			"Earnings blackout data fresh", "blackout enforcement restored"))
	}
	return stale
}

// IsBlackout reports whether date is inside a blackout window for symbol and
// the calendar is fresh at now. Stale data always yields false.
func (c *BlackoutCalendar) IsBlackout(symbol string, date, now time.Time) bool {
	if c.CheckStaleness(now) {
		return false
	}

	day := DayStart(date, c.loc)
	sym := strings.ToUpper(strings.TrimSpace(symbol))

	c.mu.RLock()
	defer c.mu.RUnlock()
	for _, r := range c.windows[sym] {
		if !day.Before(r.start) && !day.After(r.end) {
			return true
		}
	}
	return false
}

func (c *BlackoutCalendar) staleAtLocked(now time.Time) bool {
	if c.freshness <= 0 {
		return false
	}
	if !c.loaded {
		return true
	}
	return now.Sub(c.refreshedAt) > c.freshness
}
