package trigger

import (
	"fmt"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/robfig/cron/v3"

	"github.com/nerrad567/grott-scheduler/internal/automation"
)

// parser accepts standard five-field expressions only.
var parser = cron.NewParser(cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow)

// plan is a computed trigger: either a recurring cron schedule or a
// single instant.
type plan struct {
	expr  string
	cron  cron.Schedule
	once  time.Time
	isOne bool
}

// next returns the first fire time strictly after now, or zero when
// the plan is exhausted.
func (p plan) next(now time.Time, loc *time.Location) time.Time {
	if p.isOne {
		if p.once.After(now) {
			return p.once
		}
		return time.Time{}
	}
	return p.cron.Next(now.In(loc))
}

// CronExpr returns the cron expression for a daily or weekly schedule.
func CronExpr(s *automation.Schedule) (string, error) {
	hour, minute, err := splitTime(s.Time)
	if err != nil {
		return "", err
	}

	switch s.ScheduleType {
	case automation.ScheduleDaily:
		return fmt.Sprintf("%d %d * * *", minute, hour), nil

	case automation.ScheduleWeekly:
		if len(s.DaysOfWeek) == 0 {
			return "", ErrNoDays
		}
		seen := make(map[int]bool, len(s.DaysOfWeek))
		days := make([]int, 0, len(s.DaysOfWeek))
		for _, d := range s.DaysOfWeek {
			if d < 0 || d > 6 {
				return "", fmt.Errorf("%w: day %d", ErrBadTiming, d)
			}
			cd := (d + 1) % 7
			if !seen[cd] {
				seen[cd] = true
				days = append(days, cd)
			}
		}
		sort.Ints(days)
		parts := make([]string, len(days))
		for i, d := range days {
			parts[i] = strconv.Itoa(d)
		}
		return fmt.Sprintf("%d %d * * %s", minute, hour, strings.Join(parts, ",")), nil
	}

	return "", fmt.Errorf("%w: %q", ErrNoSchedule, s.ScheduleType)
}

// planFor computes the trigger for s as of now.
func planFor(s *automation.Schedule, now time.Time, loc *time.Location) (plan, error) {
	if s.ScheduleType == automation.ScheduleOnce {
		if s.SpecificDate == nil {
			return plan{}, fmt.Errorf("%w: missing date", ErrBadTiming)
		}
		at, err := time.ParseInLocation(automation.DateLayout+" "+automation.TimeLayout, *s.SpecificDate+" "+s.Time, loc)
		if err != nil {
			return plan{}, fmt.Errorf("%w: %v", ErrBadTiming, err)
		}
		if !at.After(now) {
			return plan{}, ErrPastDate
		}
		return plan{once: at, isOne: true}, nil
	}

	expr, err := CronExpr(s)
	if err != nil {
		return plan{}, err
	}
	sched, err := parser.Parse(expr)
	if err != nil {
		return plan{}, fmt.Errorf("%w: %v", ErrBadTiming, err)
	}
	return plan{expr: expr, cron: sched}, nil
}

func splitTime(hhmm string) (hour, minute int, err error) {
	t, err := time.Parse(automation.TimeLayout, hhmm)
	if err != nil {
		return 0, 0, fmt.Errorf("%w: time %q", ErrBadTiming, hhmm)
	}
	return t.Hour(), t.Minute(), nil
}
