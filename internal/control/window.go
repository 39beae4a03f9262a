package control

import (
	"errors"
	"fmt"
	"strings"
	"time"
)

// ErrInvalidClock is returned for a malformed HH:MM value.
var ErrInvalidClock = errors.New("invalid clock time, want HH:MM")

// Window is the daily trading session in a fixed timezone.
type Window struct {
	Location *time.Location
	Open     time.Duration // offset from local midnight
	Close    time.Duration
	Weekdays []time.Weekday
}

// DefaultWindow is the US equity regular session.
func DefaultWindow(loc *time.Location) Window {
	return Window{
		Location: loc,
		Open:     9*time.Hour + 30*time.Minute,
		Close:    16 * time.Hour,
		Weekdays: []time.Weekday{time.Monday, time.Tuesday, time.Wednesday, time.Thursday, time.Friday},
	}
}

// Contains reports whether t falls inside the session: a configured weekday
// and Open <= local time-of-day < Close.
func (w Window) Contains(t time.Time) bool {
	local := t.In(w.location())
	if !w.tradingDay(local.Weekday()) {
		return false
	}
	offset := time.Duration(local.Hour())*time.Hour +
		time.Duration(local.Minute())*time.Minute +
		time.Duration(local.Second())*time.Second
	return offset >= w.Open && offset < w.Close
}

// SessionDate returns the local calendar date of t as midnight in the
// window's timezone.
func (w Window) SessionDate(t time.Time) time.Time {
	local := t.In(w.location())
	return time.Date(local.Year(), local.Month(), local.Day(), 0, 0, 0, 0, local.Location())
}

func (w Window) tradingDay(day time.Weekday) bool {
	if len(w.Weekdays) == 0 {
		return true
	}
	for _, d := range w.Weekdays {
		if d == day {
			return true
		}
	}
	return false
}

func (w Window) location() *time.Location {
	if w.Location == nil {
		return time.UTC
	}
	return w.Location
}

// String formats the window for logs.
func (w Window) String() string {
	days := make([]string, 0, len(w.Weekdays))
	for _, d := range w.Weekdays {
		days = append(days, d.String()[:3])
	}
	return fmt.Sprintf("%s-%s %s [%s]", FormatClock(w.Open), FormatClock(w.Close),
		w.location(), strings.Join(days, ","))
}

// ParseClock parses "HH:MM" into an offset from midnight.
func ParseClock(s string) (time.Duration, error) {
	t, err := time.Parse("15:04", strings.TrimSpace(s))
	if err != nil {
		return 0, fmt.Errorf("%w: %q", ErrInvalidClock, s)
	}
	return time.Duration(t.Hour())*time.Hour + time.Duration(t.Minute())*time.Minute, nil
}

// FormatClock formats an offset from midnight as HH:MM.
func FormatClock(d time.Duration) string {
	return fmt.Sprintf("%02d:%02d", int(d.Hours()), int(d.Minutes())%60)
}

// ParseWeekdays parses names such as "mon", "Tuesday".
func ParseWeekdays(names []string) ([]time.Weekday, error) {
	out := make([]time.Weekday, 0, len(names))
	for _, name := range names {
		n := strings.ToLower(strings.TrimSpace(name))
		found := false
		for d := time.Sunday; d <= time.Saturday; d++ {
			full := strings.ToLower(d.String())
			if n == full || n == full[:3] {
				out = append(out, d)
				found = true
				break
			}
		}
		if !found {
			return nil, fmt.Errorf("unknown weekday %q", name)
		}
	}
	return out, nil
}
