package domain

import (
	"fmt"
	"time"
)

const monthLayout = "2006-01"

// Month is a calendar month. Initialization and valid times are always
// month starts at 00:00 UTC.
type Month struct {
	Year  int
	Month time.Month
}

// NewMonth builds a Month, normalizing out-of-range month numbers.
func NewMonth(year int, month time.Month) Month {
	return MonthOf(time.Date(year, month, 1, 0, 0, 0, 0, time.UTC))
}

// MonthOf returns the calendar month containing t (in UTC).
func MonthOf(t time.Time) Month {
	t = t.UTC()
	return Month{Year: t.Year(), Month: t.Month()}
}

// ParseMonth parses "YYYY-MM".
func ParseMonth(s string) (Month, error) {
	t, err := time.Parse(monthLayout, s)
	if err != nil {
		return Month{}, fmt.Errorf("parse month %q: %w", s, err)
	}
	return MonthOf(t), nil
}

// Time returns the first instant of the month in UTC.
func (m Month) Time() time.Time {
	return time.Date(m.Year, m.Month, 1, 0, 0, 0, 0, time.UTC)
}

// Add returns the month n months later (earlier for negative n).
func (m Month) Add(n int) Month {
	return MonthOf(m.Time().AddDate(0, n, 0))
}

// Before reports whether m is strictly earlier than o.
func (m Month) Before(o Month) bool {
	return m.Time().Before(o.Time())
}

// String formats the month as "YYYY-MM".
func (m Month) String() string {
	return fmt.Sprintf("%04d-%02d", m.Year, int(m.Month))
}

// MonthRange returns every month from from to to, both inclusive.
// It returns nil when to is before from.
func MonthRange(from, to Month) []Month {
	var out []Month
	for m := from; !to.Before(m); m = m.Add(1) {
		out = append(out, m)
	}
	return out
}

// Window returns n consecutive months starting at init.
func Window(init Month, n int) []Month {
	out := make([]Month, 0, n)
	for i := 0; i < n; i++ {
		out = append(out, init.Add(i))
	}
	return out
}

// YearMonths returns January of from through December of to.
func YearMonths(fromYear, toYear int) []Month {
	return MonthRange(NewMonth(fromYear, time.January), NewMonth(toYear, time.December))
}
