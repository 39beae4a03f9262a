package risk

import "time"

// DayStart returns local midnight (00:00) of t in loc.
func DayStart(t time.Time, loc *time.Location) time.Time {
	if loc == nil {
		loc = time.UTC
	}
	y, m, d := t.In(loc).Date()
	return time.Date(y, m, d, 0, 0, 0, 0, loc)
}

// WeekStart returns Monday 00:00 of the week containing t in loc.
func WeekStart(t time.Time, loc *time.Location) time.Time {
	day := DayStart(t, loc)
	offset := (int(day.Weekday()) + 6) % 7 // Monday = 0
	return day.AddDate(0, 0, -offset)
}

// civilDate reinterprets the calendar date of t (as stored, ignoring its
// zone) as local midnight in loc. Stores persist bare dates in UTC.
func civilDate(t time.Time, loc *time.Location) time.Time {
	if loc == nil {
		loc = time.UTC
	}
	y, m, d := t.Date()
	return time.Date(y, m, d, 0, 0, 0, 0, loc)
}
