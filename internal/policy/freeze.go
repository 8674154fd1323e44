package policy

import (
	"fmt"
	"time"

	"github.com/robfig/cron/v3"
)

// freezeTailDays is how many days before month end the default freeze
// window opens. Month-end close runs over the last three calendar days.
const freezeTailDays = 3

var cronParser = cron.NewParser(
	cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow,
)

// FreezeWindow decides whether mutating plans are currently blocked.
// With no custom expression the window covers the last freezeTailDays
// days of each calendar month.
type FreezeWindow struct {
	schedule cron.Schedule
	expr     string
}

// NewFreezeWindow parses an optional custom cron expression. A nil or empty
// expression selects the month-end default.
func NewFreezeWindow(expr *string) (*FreezeWindow, error) {
	if expr == nil || *expr == "" {
		return &FreezeWindow{}, nil
	}
	sched, err := cronParser.Parse(*expr)
	if err != nil {
		return nil, fmt.Errorf("policy: invalid freeze window cron %q: %w", *expr, err)
	}
	return &FreezeWindow{schedule: sched, expr: *expr}, nil
}

// Active reports whether now falls inside the freeze window.
//
// A custom cron expression marks whole days: the window is active on any
// calendar day the expression fires at least once. Day granularity keeps
// "0 0 25-31 * *" meaning "frozen on the 25th through the 31st" rather
// than one midnight minute.
func (f *FreezeWindow) Active(now time.Time) bool {
	if f.schedule == nil {
		return monthEndFreeze(now)
	}
	dayStart := time.Date(now.Year(), now.Month(), now.Day(), 0, 0, 0, 0, now.Location())
	next := f.schedule.Next(dayStart.Add(-time.Second))
	return !next.IsZero() && next.Before(dayStart.AddDate(0, 0, 1))
}

// Describe names the window for error messages and logs.
func (f *FreezeWindow) Describe() string {
	if f.schedule == nil {
		return fmt.Sprintf("month-end close (last %d days of the month)", freezeTailDays)
	}
	return "custom freeze window " + f.expr
}

func monthEndFreeze(now time.Time) bool {
	firstOfNext := time.Date(now.Year(), now.Month(), 1, 0, 0, 0, 0, now.Location()).AddDate(0, 1, 0)
	lastDay := firstOfNext.AddDate(0, 0, -1).Day()
	return now.Day() > lastDay-freezeTailDays
}
