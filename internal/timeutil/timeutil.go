// Package timeutil provides calendar windows for quota accounting.
package timeutil

import "time"

// Window represents a half-open [start, end) calendar window anchored to a
// location.
type Window struct {
	start time.Time
	end   time.Time
	loc   *time.Location
}

// EnsureLocation returns UTC when loc is nil.
func EnsureLocation(loc *time.Location) *time.Location {
	if loc == nil {
		return time.UTC
	}
	return loc
}

// Start returns the inclusive start of the window.
func (w Window) Start() time.Time { return w.start }

// End returns the exclusive end of the window.
func (w Window) End() time.Time { return w.end }

// Duration returns the window length.
func (w Window) Duration() time.Duration { return w.end.Sub(w.start) }

// Contains reports whether the timestamp falls within [start, end).
func (w Window) Contains(ts time.Time) bool {
	return !ts.Before(w.start) && ts.Before(w.end)
}

// DayWindow returns the calendar day containing now in the given zone.
func DayWindow(now time.Time, loc *time.Location) Window {
	loc = EnsureLocation(loc)
	now = now.In(loc)
	start := time.Date(now.Year(), now.Month(), now.Day(), 0, 0, 0, 0, loc)
	return Window{start: start, end: start.AddDate(0, 0, 1), loc: loc}
}

// MonthWindow returns the calendar month containing now in the given zone.
func MonthWindow(now time.Time, loc *time.Location) Window {
	loc = EnsureLocation(loc)
	now = now.In(loc)
	start := time.Date(now.Year(), now.Month(), 1, 0, 0, 0, 0, loc)
	return Window{start: start, end: start.AddDate(0, 1, 0), loc: loc}
}

// TruncateToDay normalizes the timestamp to midnight in the provided zone.
func TruncateToDay(t time.Time, loc *time.Location) time.Time {
	loc = EnsureLocation(loc)
	t = t.In(loc)
	return time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, loc)
}
