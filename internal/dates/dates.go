// Package dates provides day-granularity date and calendar-month value
// types used for sync ranges and coverage keys. Both types are immutable
// and safe to copy; all arithmetic is done in UTC so a range never shifts
// across a DST boundary.
package dates

import (
	"fmt"
	"time"
)

// Layouts for the canonical string forms.
const (
	dayLayout   = "2006-01-02"
	monthLayout = "2006-01"
)

// Date is a calendar day with no time-of-day component.
type Date struct {
	t time.Time // midnight UTC
}

// NewDate constructs a Date from year, month, day.
func NewDate(year int, month time.Month, day int) Date {
	return Date{t: time.Date(year, month, day, 0, 0, 0, 0, time.UTC)}
}

// ParseDate parses a YYYY-MM-DD string.
func ParseDate(s string) (Date, error) {
	t, err := time.Parse(dayLayout, s)
	if err != nil {
		return Date{}, fmt.Errorf("dates: parsing date %q: %w", s, err)
	}

	return Date{t: t}, nil
}

// DateOf truncates a time.Time to its UTC calendar day.
func DateOf(t time.Time) Date {
	u := t.UTC()
	return NewDate(u.Year(), u.Month(), u.Day())
}

// Today returns the current UTC calendar day.
func Today() Date {
	return DateOf(time.Now())
}

func (d Date) String() string { return d.t.Format(dayLayout) }

// Time returns midnight UTC on the date.
func (d Date) Time() time.Time { return d.t }

// IsZero reports whether d is the zero Date.
func (d Date) IsZero() bool { return d.t.IsZero() }

// Before reports whether d is strictly earlier than other.
func (d Date) Before(other Date) bool { return d.t.Before(other.t) }

// After reports whether d is strictly later than other.
func (d Date) After(other Date) bool { return d.t.After(other.t) }

// AddDays returns the date n days later (or earlier for negative n).
func (d Date) AddDays(n int) Date { return Date{t: d.t.AddDate(0, 0, n)} }

// Month returns the calendar month containing the date.
func (d Date) Month() Month {
	return Month{year: d.t.Year(), month: d.t.Month()}
}

// Month is a calendar month, the unit of sync coverage.
type Month struct {
	year  int
	month time.Month
}

// NewMonth constructs a Month from year and month.
func NewMonth(year int, month time.Month) Month {
	// Normalize through time.Date so month 13 carries into the next year.
	t := time.Date(year, month, 1, 0, 0, 0, 0, time.UTC)
	return Month{year: t.Year(), month: t.Month()}
}

// ParseMonth parses a YYYY-MM month key.
func ParseMonth(s string) (Month, error) {
	t, err := time.Parse(monthLayout, s)
	if err != nil {
		return Month{}, fmt.Errorf("dates: parsing month %q: %w", s, err)
	}

	return Month{year: t.Year(), month: t.Month()}, nil
}

// Key returns the canonical YYYY-MM month key.
func (m Month) Key() string {
	return time.Date(m.year, m.month, 1, 0, 0, 0, 0, time.UTC).Format(monthLayout)
}

func (m Month) String() string { return m.Key() }

// IsZero reports whether m is the zero Month.
func (m Month) IsZero() bool { return m.year == 0 && m.month == 0 }

// First returns the first day of the month.
func (m Month) First() Date { return NewDate(m.year, m.month, 1) }

// Last returns the last day of the month.
func (m Month) Last() Date {
	return NewDate(m.year, m.month+1, 1).AddDays(-1)
}

// Prev returns the previous calendar month.
func (m Month) Prev() Month { return NewMonth(m.year, m.month-1) }

// Next returns the next calendar month.
func (m Month) Next() Month { return NewMonth(m.year, m.month+1) }

// Contains reports whether the date falls inside the month.
func (m Month) Contains(d Date) bool {
	return d.t.Year() == m.year && d.t.Month() == m.month
}

// Overlaps reports whether the inclusive range [start, end] touches the month.
func (m Month) Overlaps(start, end Date) bool {
	return !end.Before(m.First()) && !start.After(m.Last())
}

// TrailingMonths returns the n months ending at (and including) last,
// ordered newest to oldest.
func TrailingMonths(last Month, n int) []Month {
	months := make([]Month, 0, n)

	m := last
	for range n {
		months = append(months, m)
		m = m.Prev()
	}

	return months
}
