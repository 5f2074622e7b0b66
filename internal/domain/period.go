package domain

import (
	"fmt"
	"strconv"
	"time"
)

// PeriodKey returns the usage-counter bucket key for a period at a given
// instant. Two instants inside the same period always produce the same key;
// keys change exactly at period boundaries.
func PeriodKey(period BudgetPeriod, now time.Time) string {
	switch period {
	case PeriodHourly:
		return now.Format("2006-01-02-15")
	case PeriodDaily:
		return now.Format("2006-01-02")
	case PeriodWeekly:
		year, week := now.ISOWeek()
		return fmt.Sprintf("%d-W%02d", year, week)
	case PeriodMonthly:
		return now.Format("2006-01")
	default:
		// Per-session and per-task buckets are unique per instant.
		return strconv.FormatInt(now.Unix(), 10)
	}
}

// PeriodBounds returns the half-open [start, end) interval containing now for
// a calendar period. Per-session and per-task default to a one-day horizon.
func PeriodBounds(period BudgetPeriod, now time.Time) (time.Time, time.Time) {
	switch period {
	case PeriodHourly:
		start := time.Date(now.Year(), now.Month(), now.Day(), now.Hour(), 0, 0, 0, now.Location())
		return start, start.Add(time.Hour)
	case PeriodDaily:
		start := time.Date(now.Year(), now.Month(), now.Day(), 0, 0, 0, 0, now.Location())
		return start, start.AddDate(0, 0, 1)
	case PeriodWeekly:
		start := isoWeekStart(now)
		return start, start.AddDate(0, 0, 7)
	case PeriodMonthly:
		start := time.Date(now.Year(), now.Month(), 1, 0, 0, 0, 0, now.Location())
		return start, start.AddDate(0, 1, 0)
	default:
		return now, now.AddDate(0, 0, 1)
	}
}

// isoWeekStart returns the Monday 00:00 of now's ISO week.
func isoWeekStart(now time.Time) time.Time {
	day := time.Date(now.Year(), now.Month(), now.Day(), 0, 0, 0, 0, now.Location())
	weekday := int(day.Weekday())
	if weekday == 0 {
		weekday = 7 // Sunday closes the ISO week
	}
	return day.AddDate(0, 0, 1-weekday)
}
