package closure

import (
	"fmt"
	"time"
)

// DailyPeriod returns the business day containing day in loc, from local
// midnight to the next local midnight. DST days are 23 or 25 hours long.
func DailyPeriod(day time.Time, loc *time.Location) (time.Time, time.Time) {
	d := day.In(loc)
	start := time.Date(d.Year(), d.Month(), d.Day(), 0, 0, 0, 0, loc)
	return start, start.AddDate(0, 0, 1)
}

// MonthlyPeriod returns the calendar month in loc.
func MonthlyPeriod(year int, month time.Month, loc *time.Location) (time.Time, time.Time) {
	start := time.Date(year, month, 1, 0, 0, 0, 0, loc)
	return start, start.AddDate(0, 1, 0)
}

// AnnualPeriod returns the calendar year in loc.
func AnnualPeriod(year int, loc *time.Location) (time.Time, time.Time) {
	start := time.Date(year, time.January, 1, 0, 0, 0, 0, loc)
	return start, start.AddDate(1, 0, 0)
}

// PeriodFor returns the period of type t that contains ref.
func PeriodFor(t Type, ref time.Time, loc *time.Location) (time.Time, time.Time, error) {
	r := ref.In(loc)
	switch t {
	case TypeDaily:
		s, e := DailyPeriod(r, loc)
		return s, e, nil
	case TypeMonthly:
		s, e := MonthlyPeriod(r.Year(), r.Month(), loc)
		return s, e, nil
	case TypeAnnual:
		s, e := AnnualPeriod(r.Year(), loc)
		return s, e, nil
	}
	return time.Time{}, time.Time{}, fmt.Errorf("closure type %q: %w", t, ErrInvalidPeriod)
}
