package automation

import "errors"

// Domain errors for the automation package.
//
//	if errors.Is(err, automation.ErrScheduleNotFound) {
//	    // 404
//	}
var (
	// ErrScheduleNotFound is returned when a schedule ID does not exist.
	ErrScheduleNotFound = errors.New("automation: schedule not found")

	// ErrScheduleDisabled is returned when executing a disabled schedule.
	ErrScheduleDisabled = errors.New("automation: schedule disabled")

	// ErrInvalidSchedule is returned when schedule validation fails.
	ErrInvalidSchedule = errors.New("automation: invalid schedule")

	// ErrInvalidChain is returned when a parent link would break the one-level chain model.
	ErrInvalidChain = errors.New("automation: invalid chain")
)
