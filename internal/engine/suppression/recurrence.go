package suppression

import (
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/robfig/cron/v3"

	"github.com/opsgrid/alarmd/internal/domain/suppression"
)

// defaultCronWindow bounds how long a cron-triggered window stays open
// when the rule has no explicit duration.
const defaultCronWindow = time.Hour

// recurrenceMatches reports whether now falls inside the rule's repeating
// active window.
func recurrenceMatches(r *suppression.Rule, now time.Time) bool {
	rec := r.Recurrence
	if rec == nil {
		return false
	}

	switch rec.Type {
	case suppression.RecurrenceCron:
		return cronMatches(rec.Expression, ruleWindowDuration(r), now)
	case suppression.RecurrenceDaily:
		return timeOfDayMatches(rec.TimeRanges, now)
	case suppression.RecurrenceWeekly:
		return containsInt(rec.Weekdays, int(now.Weekday())) &&
			timeOfDayMatches(rec.TimeRanges, now)
	case suppression.RecurrenceMonthly:
		return containsInt(rec.Days, now.Day()) &&
			timeOfDayMatches(rec.TimeRanges, now)
	case suppression.RecurrenceYearly:
		return containsInt(rec.Months, int(now.Month())) &&
			(len(rec.Days) == 0 || containsInt(rec.Days, now.Day())) &&
			timeOfDayMatches(rec.TimeRanges, now)
	default:
		return false
	}
}

// cronMatches reports whether the cron schedule fired within the trailing
// window, i.e. the window opened by the most recent trigger is still open.
func cronMatches(expression string, window time.Duration, now time.Time) bool {
	sched, err := cron.ParseStandard(expression)
	if err != nil {
		return false
	}
	next := sched.Next(now.Add(-window))
	return !next.After(now)
}

// ruleWindowDuration derives how long each recurrence of the rule stays
// active: the start/end span when both are set, otherwise a default.
func ruleWindowDuration(r *suppression.Rule) time.Duration {
	if r.EndTime != nil && r.EndTime.After(r.StartTime) {
		if d := r.EndTime.Sub(r.StartTime); d < 24*time.Hour {
			return d
		}
	}
	return defaultCronWindow
}

// timeOfDayMatches reports whether now's time of day falls inside any of
// the ranges. An empty list means the whole day. Ranges where start > end
// wrap midnight.
func timeOfDayMatches(ranges []suppression.TimeRange, now time.Time) bool {
	if len(ranges) == 0 {
		return true
	}

	minutes := now.Hour()*60 + now.Minute()
	for _, tr := range ranges {
		start, err1 := parseClock(tr.Start)
		end, err2 := parseClock(tr.End)
		if err1 != nil || err2 != nil {
			continue
		}
		if start <= end {
			if minutes >= start && minutes <= end {
				return true
			}
		} else {
			// Wraps midnight, e.g. 22:00-06:00
			if minutes >= start || minutes <= end {
				return true
			}
		}
	}
	return false
}

// parseClock parses "HH:MM" into minutes since midnight
func parseClock(s string) (int, error) {
	parts := strings.SplitN(strings.TrimSpace(s), ":", 2)
	if len(parts) != 2 {
		return 0, fmt.Errorf("invalid time %q", s)
	}
	h, err := strconv.Atoi(parts[0])
	if err != nil || h < 0 || h > 23 {
		return 0, fmt.Errorf("invalid hour in %q", s)
	}
	m, err := strconv.Atoi(parts[1])
	if err != nil || m < 0 || m > 59 {
		return 0, fmt.Errorf("invalid minute in %q", s)
	}
	return h*60 + m, nil
}

func containsInt(list []int, v int) bool {
	for _, x := range list {
		if x == v {
			return true
		}
	}
	return false
}

// timeGateOpen reports whether the rule is temporally applicable at now:
// inside its one-shot window, or inside the current recurrence.
func timeGateOpen(r *suppression.Rule, now time.Time) bool {
	if !r.StartTime.IsZero() && now.Before(r.StartTime) {
		return false
	}

	if r.IsRecurring {
		return recurrenceMatches(r, now)
	}

	if r.EndTime != nil && now.After(*r.EndTime) {
		return false
	}
	return true
}
