/*
day.go - Business-day boundary and clock source

PURPOSE:
  The Daily aggregate tier is not keyed by calendar midnight. A fixed daily
  cutover hour (23:00 local) rolls the business day forward: anything that
  happens at or after 23:00 belongs to the NEXT calendar date. This mirrors
  how the operation closes its books before midnight.

SEE ALSO:
  - counters.go: The Daily tier these days key
*/
package lending

import "time"

// DefaultCutoverHour is the local wall-clock hour at which the business day
// rolls over to the next calendar date.
const DefaultCutoverHour = 23

// Clock supplies the current time. Injected so tests can pin the business day.
type Clock interface {
	Now() time.Time
}

// SystemClock reads the wall clock.
type SystemClock struct{}

func (SystemClock) Now() time.Time { return time.Now() }

// FixedClock always returns the same instant. Test helper.
type FixedClock struct{ T time.Time }

func (c FixedClock) Now() time.Time { return c.T }

// BusinessDayAt maps a wall-clock moment to its business day (a date at
// midnight UTC) under the given cutover hour. At or after the cutover hour
// the moment belongs to the next calendar date.
func BusinessDayAt(t time.Time, cutoverHour int) time.Time {
	if t.Hour() >= cutoverHour {
		t = t.AddDate(0, 0, 1)
	}
	return DateOf(t)
}

// BusinessDayOf applies the default 23:00 cutover.
func BusinessDayOf(t time.Time) time.Time {
	return BusinessDayAt(t, DefaultCutoverHour)
}

// DateOf truncates a moment to its calendar date, normalized to UTC midnight
// so dates compare with Equal regardless of the source location.
func DateOf(t time.Time) time.Time {
	return time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, time.UTC)
}
