package trigger

import (
	"errors"
	"fmt"
)

// ErrStopped is returned by Register after Stop.
var ErrStopped = errors.New("trigger: engine stopped")

// Reasons a schedule is kept dormant.
var (
	ErrNoDays     = errors.New("trigger: weekly schedule has no days")
	ErrPastDate   = errors.New("trigger: once schedule is in the past")
	ErrBadTiming  = errors.New("trigger: unparseable time or date")
	ErrNoSchedule = errors.New("trigger: unknown schedule type")
)

// RegistrationError reports a schedule that was not given a trigger.
// The schedule itself stays valid and stored.
type RegistrationError struct {
	ScheduleID int64
	Err        error
}

func (e *RegistrationError) Error() string {
	return fmt.Sprintf("schedule %d not registered: %v", e.ScheduleID, e.Err)
}

func (e *RegistrationError) Unwrap() error {
	return e.Err
}
