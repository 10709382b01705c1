package automation

import (
	"fmt"
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/nerrad567/grott-scheduler/internal/command"
)

// Validation constants.
const (
	maxNameLength     = 100
	maxDescriptionLen = 500
	timePattern       = `^([01][0-9]|2[0-3]):[0-5][0-9]$`
)

var timeRegex = regexp.MustCompile(timePattern)

var validOperators = map[string]struct{}{
	OpLess: {}, OpGreater: {}, OpEqual: {}, OpLessEqual: {}, OpGreaterEqual: {},
}

// ValidateSchedule checks a schedule's own fields and fills defaults.
//
// A weekly schedule without days and a one-shot in the past are valid:
// they are stored and stay dormant. Chain rules need the store and are
// checked by the Registry.
func ValidateSchedule(s *Schedule) error {
	if s == nil {
		return ErrInvalidSchedule
	}

	s.Name = strings.TrimSpace(s.Name)
	if s.Name == "" {
		return fmt.Errorf("%w: name is required", ErrInvalidSchedule)
	}
	if len(s.Name) > maxNameLength {
		return fmt.Errorf("%w: name exceeds %d characters", ErrInvalidSchedule, maxNameLength)
	}
	if s.Description != nil && len(*s.Description) > maxDescriptionLen {
		return fmt.Errorf("%w: description exceeds %d characters", ErrInvalidSchedule, maxDescriptionLen)
	}

	if err := validateTiming(s); err != nil {
		return err
	}

	if _, err := command.FromSpec(s.CommandSpec()); err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidSchedule, err)
	}

	if err := validateCondition(s); err != nil {
		return err
	}

	if s.ExecutionOrder < 0 {
		return fmt.Errorf("%w: execution_order cannot be negative", ErrInvalidSchedule)
	}
	if s.InverterSerial != nil && strings.TrimSpace(*s.InverterSerial) == "" {
		s.InverterSerial = nil
	}
	return nil
}

func validateTiming(s *Schedule) error {
	if !timeRegex.MatchString(s.Time) {
		return fmt.Errorf("%w: time must be HH:MM", ErrInvalidSchedule)
	}

	switch s.ScheduleType {
	case ScheduleDaily:
		return nil

	case ScheduleWeekly:
		seen := make(map[int]bool, len(s.DaysOfWeek))
		for _, d := range s.DaysOfWeek {
			if d < 0 || d > 6 {
				return fmt.Errorf("%w: day %d outside 0 (Monday) to 6 (Sunday)", ErrInvalidSchedule, d)
			}
			if seen[d] {
				return fmt.Errorf("%w: day %d listed twice", ErrInvalidSchedule, d)
			}
			seen[d] = true
		}
		return nil

	case ScheduleOnce:
		if s.SpecificDate == nil || *s.SpecificDate == "" {
			return fmt.Errorf("%w: once needs specific_date", ErrInvalidSchedule)
		}
		if _, err := time.Parse(DateLayout, *s.SpecificDate); err != nil {
			return fmt.Errorf("%w: specific_date must be YYYY-MM-DD", ErrInvalidSchedule)
		}
		return nil
	}

	return fmt.Errorf("%w: schedule_type must be daily, weekly or once", ErrInvalidSchedule)
}

func validateCondition(s *Schedule) error {
	switch s.ConditionType {
	case "", ConditionNone:
		s.ConditionType = ConditionNone
		return nil

	case ConditionComparison:
		if s.ConditionRegister == nil {
			return fmt.Errorf("%w: comparison needs condition_register", ErrInvalidSchedule)
		}
		if s.ConditionOperator == nil {
			return fmt.Errorf("%w: comparison needs condition_operator", ErrInvalidSchedule)
		}
		if _, ok := validOperators[*s.ConditionOperator]; !ok {
			return fmt.Errorf("%w: unknown operator %q", ErrInvalidSchedule, *s.ConditionOperator)
		}
		if s.ConditionValue == nil {
			return fmt.Errorf("%w: comparison needs condition_value", ErrInvalidSchedule)
		}
		if _, err := strconv.Atoi(strings.TrimSpace(*s.ConditionValue)); err != nil {
			return fmt.Errorf("%w: condition_value must be an integer", ErrInvalidSchedule)
		}
		return nil
	}

	return fmt.Errorf("%w: condition_type must be none or comparison", ErrInvalidSchedule)
}
