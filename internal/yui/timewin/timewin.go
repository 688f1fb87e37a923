// Package timewin provides local-time hour windows used by the trigger
// detector (quiet hours) and the proactive scheduler (morning/evening
// ranges, randomized send instants).
package timewin

import "time"

// HourWindow is a [Start,End) range of local-clock hours. When Start > End
// the window wraps past midnight (e.g. 23–9 covers 23:00 through 08:59).
// An empty window (Start == End) contains nothing.
type HourWindow struct {
	Start int `yaml:"start"`
	End   int `yaml:"end"`
}

// Contains reports whether t's local hour falls inside the window.
func (w HourWindow) Contains(t time.Time) bool {
	if w.Start == w.End {
		return false
	}
	h := t.Hour()
	if w.Start < w.End {
		return h >= w.Start && h < w.End
	}
	// Wrap-around window.
	return h >= w.Start || h < w.End
}

// RandomInstant returns a uniformly random instant inside the window on the
// calendar day of day, using rnd (a [0,1) source). Wrap-around windows place
// the instant on day when it lands before midnight and on the following
// morning otherwise — matching how a "23–9 quiet" human reads the range.
func (w HourWindow) RandomInstant(day time.Time, rnd func() float64) time.Time {
	spanHours := w.End - w.Start
	if spanHours <= 0 {
		spanHours += 24
	}
	offset := time.Duration(rnd() * float64(spanHours) * float64(time.Hour))
	base := time.Date(day.Year(), day.Month(), day.Day(), w.Start, 0, 0, 0, day.Location())
	return base.Add(offset)
}

// DayKey formats t's calendar day in its location as YYYY-MM-DD. Used as the
// date component of "once per local day" bookkeeping keys.
func DayKey(t time.Time) string {
	return t.Format(time.DateOnly)
}
