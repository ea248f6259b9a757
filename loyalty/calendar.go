/*
calendar.go - Civil-time calendar for day bucketing and date arithmetic

PURPOSE:
  All earn/spend eligibility in the loyalty program is day-granular: the
  daily cashback cap buckets payments by calendar day, and earned cashback
  activates on the first day of the following month. Which calendar day an
  instant belongs to depends on the time zone, so every comparison goes
  through a single Calendar pinned to one civil zone.

INVARIANT:
  DayKey, StartOfDay, EndOfDay and FirstDayOfNextMonth always convert the
  instant into the fixed zone before truncating. A purchase at 17:30 UTC
  and its sibling at 00:30 UTC next day can still share a civil day - or
  not - purely based on the configured zone, never on the server's zone.

TESTABILITY:
  The current time is an injected capability, not ambient state. Production
  uses time.Now; tests construct a Calendar with a fixed NowFunc so every
  "is it today yet" decision is deterministic.

SEE ALSO:
  - cashback.go: consumes same-day buckets produced here
  - ledger.go: compares UsableFrom activation dates produced here
*/
package loyalty

import (
	"time"
)

// DefaultTimeZone is the civil zone the program operates in.
const DefaultTimeZone = "Asia/Jakarta"

// Calendar supplies "now" and calendar-day arithmetic in one fixed zone.
type Calendar struct {
	loc     *time.Location
	nowFunc func() time.Time
}

// NewCalendar returns a wall-clock calendar in the given zone.
// A nil location falls back to DefaultTimeZone.
func NewCalendar(loc *time.Location) *Calendar {
	if loc == nil {
		loc, _ = time.LoadLocation(DefaultTimeZone)
	}
	return &Calendar{loc: loc, nowFunc: time.Now}
}

// NewFixedCalendar returns a calendar whose Now always reports the given
// instant. Used by tests to pin "today".
func NewFixedCalendar(now time.Time, loc *time.Location) *Calendar {
	if loc == nil {
		loc, _ = time.LoadLocation(DefaultTimeZone)
	}
	return &Calendar{loc: loc, nowFunc: func() time.Time { return now }}
}

// Location returns the fixed civil zone.
func (c *Calendar) Location() *time.Location { return c.loc }

// Now returns the current instant in the fixed zone.
func (c *Calendar) Now() time.Time { return c.nowFunc().In(c.loc) }

// DayKey returns the canonical calendar-day bucket for an instant,
// formatted YYYY-MM-DD in the fixed zone.
func (c *Calendar) DayKey(t time.Time) string {
	return t.In(c.loc).Format("2006-01-02")
}

// StartOfDay returns midnight of the instant's civil day.
func (c *Calendar) StartOfDay(t time.Time) time.Time {
	t = t.In(c.loc)
	return time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, c.loc)
}

// EndOfDay returns the last nanosecond of the instant's civil day.
// Membership checks use this so a membership ending "today" is still
// active for the whole of today.
func (c *Calendar) EndOfDay(t time.Time) time.Time {
	return c.StartOfDay(t).AddDate(0, 0, 1).Add(-time.Nanosecond)
}

// FirstDayOfNextMonth returns midnight on the 1st of the month after the
// instant's civil month. Cashback earned on day D becomes usable here.
func (c *Calendar) FirstDayOfNextMonth(t time.Time) time.Time {
	t = t.In(c.loc)
	return time.Date(t.Year(), t.Month()+1, 1, 0, 0, 0, 0, c.loc)
}

// AddDays shifts an instant by n calendar days in the fixed zone.
func (c *Calendar) AddDays(t time.Time, n int) time.Time {
	return t.In(c.loc).AddDate(0, 0, n)
}

// SameDay reports whether two instants fall on the same civil day.
func (c *Calendar) SameDay(a, b time.Time) bool {
	return c.DayKey(a) == c.DayKey(b)
}
