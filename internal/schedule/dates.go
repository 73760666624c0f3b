// Package schedule holds the UTC calendar arithmetic shared by the reminder and
// digest jobs. Nothing here reads the wall clock or the local time zone.
package schedule

import (
	"fmt"
	"time"

	"perkwallet/internal/models"
)

// DateKeyLayout formats a UTC calendar date for dedupe keys
const DateKeyLayout = "2006-01-02"

// UnsupportedCadenceError is returned when a schedule carries a cadence the
// scheduler cannot advance.
type UnsupportedCadenceError struct {
	Cadence string
}

func (e *UnsupportedCadenceError) Error() string {
	return fmt.Sprintf("unsupported cadence %q", e.Cadence)
}

// DaysInMonth returns the number of days in the given UTC year and month
func DaysInMonth(year int, month time.Month) int {
	// Day 0 of the following month is the last day of this one.
	return time.Date(year, month+1, 0, 0, 0, 0, 0, time.UTC).Day()
}

// AddMonthsClamped adds n calendar months to t, keeping the time of day and
// clamping the day of month to the last valid day of the target month.
// Jan 31 + 1 month is Feb 28 (or 29), never Mar 3.
func AddMonthsClamped(t time.Time, n int) time.Time {
	t = t.UTC()
	year, month, day := t.Date()

	total := int(month) - 1 + n
	targetYear := year + floorDiv(total, 12)
	targetMonth := time.Month(total-floorDiv(total, 12)*12 + 1)

	if last := DaysInMonth(targetYear, targetMonth); day > last {
		day = last
	}

	return time.Date(targetYear, targetMonth, day,
		t.Hour(), t.Minute(), t.Second(), t.Nanosecond(), time.UTC)
}

// NextOccurrence returns the instant one cadence period after planned
func NextOccurrence(planned time.Time, cadence string) (time.Time, error) {
	switch cadence {
	case models.CadenceMonthly:
		return AddMonthsClamped(planned, 1), nil
	case models.CadenceQuarterly:
		return AddMonthsClamped(planned, 3), nil
	case models.CadenceAnnual:
		return AddMonthsClamped(planned, 12), nil
	default:
		return time.Time{}, &UnsupportedCadenceError{Cadence: cadence}
	}
}

// DateOnly truncates t to midnight of its UTC calendar date
func DateOnly(t time.Time) time.Time {
	y, m, d := t.UTC().Date()
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
}

// DateKey formats the UTC calendar date of t as YYYY-MM-DD
func DateKey(t time.Time) string {
	return t.UTC().Format(DateKeyLayout)
}

func floorDiv(a, b int) int {
	q := a / b
	if (a%b != 0) && ((a < 0) != (b < 0)) {
		q--
	}
	return q
}
