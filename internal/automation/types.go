package automation

import (
	"time"

	"github.com/nerrad567/grott-scheduler/internal/command"
)

// ScheduleType selects how a schedule's trigger is computed.
type ScheduleType string

const (
	ScheduleDaily  ScheduleType = "daily"
	ScheduleWeekly ScheduleType = "weekly"
	ScheduleOnce   ScheduleType = "once"
)

// ConditionType selects whether a run is gated on a live register value.
type ConditionType string

const (
	ConditionNone       ConditionType = "none"
	ConditionComparison ConditionType = "comparison"
)

// Comparison operators accepted by the condition evaluator.
const (
	OpLess         = "<"
	OpGreater      = ">"
	OpEqual        = "="
	OpLessEqual    = "<="
	OpGreaterEqual = ">="
)

// Date and time layouts used by schedule fields.
const (
	TimeLayout = "15:04"
	DateLayout = "2006-01-02"
)

// Schedule is a persisted definition of when and what device command to run.
//
// DaysOfWeek uses Monday=0 .. Sunday=6. A schedule with ParentScheduleID
// set is a chain child: it only runs as part of its parent's run, ordered
// by ExecutionOrder.
type Schedule struct {
	ID           int64        `json:"id"`
	Name         string       `json:"name"`
	Description  *string      `json:"description,omitempty"`
	ScheduleType ScheduleType `json:"schedule_type"`
	Time         string       `json:"time"`
	DaysOfWeek   []int        `json:"days_of_week"`
	SpecificDate *string      `json:"specific_date,omitempty"`

	CommandType        command.Kind `json:"command_type"`
	RegisterNumber     *int         `json:"register_number,omitempty"`
	RegisterName       *string      `json:"register_name,omitempty"`
	RegisterValue      *string      `json:"register_value,omitempty"`
	MultiregisterStart *int         `json:"multiregister_start,omitempty"`
	MultiregisterEnd   *int         `json:"multiregister_end,omitempty"`
	MultiregisterValue *string      `json:"multiregister_value,omitempty"`
	TemplateName       *string      `json:"template_name,omitempty"`
	CustomCommand      *string      `json:"custom_command,omitempty"`

	ConditionType     ConditionType `json:"condition_type"`
	ConditionRegister *int          `json:"condition_register,omitempty"`
	ConditionOperator *string       `json:"condition_operator,omitempty"`
	ConditionValue    *string       `json:"condition_value,omitempty"`

	Enabled         bool    `json:"enabled"`
	PushoverEnabled bool    `json:"pushover_enabled"`
	InverterSerial  *string `json:"inverter_serial,omitempty"`

	ParentScheduleID        *int64 `json:"parent_schedule_id,omitempty"`
	ExecutionOrder          int    `json:"execution_order"`
	ContinueOnParentFailure bool   `json:"continue_on_parent_failure"`

	LastExecutedAt  *time.Time `json:"last_executed_at,omitempty"`
	NextExecutionAt *time.Time `json:"next_execution_at,omitempty"`
	CreatedAt       time.Time  `json:"created_at"`
	UpdatedAt       time.Time  `json:"updated_at"`

	// Filled by list queries only.
	ExecutionCount int `json:"execution_count"`
	SuccessCount   int `json:"success_count"`
}

// IsChild reports whether the schedule belongs to a parent's chain.
func (s *Schedule) IsChild() bool {
	return s.ParentScheduleID != nil
}

// CommandSpec returns the command fields for the builder.
func (s *Schedule) CommandSpec() command.Spec {
	return command.Spec{
		CommandType:    s.CommandType,
		RegisterNumber: s.RegisterNumber,
		RegisterValue:  s.RegisterValue,
		MultiStart:     s.MultiregisterStart,
		MultiEnd:       s.MultiregisterEnd,
		MultiValue:     s.MultiregisterValue,
		TemplateName:   s.TemplateName,
		CustomCommand:  s.CustomCommand,
	}
}

// Condition returns the gating fields.
func (s *Schedule) Condition() Condition {
	c := Condition{Type: s.ConditionType, Register: s.ConditionRegister}
	if s.ConditionOperator != nil {
		c.Operator = *s.ConditionOperator
	}
	if s.ConditionValue != nil {
		c.Value = *s.ConditionValue
	}
	return c
}

// DeepCopy returns an independent copy. Pointer fields point at
// immutable values and are shared; the day slice is cloned.
func (s *Schedule) DeepCopy() *Schedule {
	if s == nil {
		return nil
	}
	cpy := *s
	if s.DaysOfWeek != nil {
		cpy.DaysOfWeek = make([]int, len(s.DaysOfWeek))
		copy(cpy.DaysOfWeek, s.DaysOfWeek)
	}
	return &cpy
}

// Condition is a pre-dispatch gate on one register.
type Condition struct {
	Type     ConditionType
	Register *int
	Operator string
	Value    string
}

// ExecutionLog is one append-only record of a run or a skip.
type ExecutionLog struct {
	ID                int64     `json:"id"`
	ScheduleID        int64     `json:"schedule_id"`
	ScheduleName      string    `json:"schedule_name"`
	Command           string    `json:"command"`
	Success           bool      `json:"success"`
	Attempts          int       `json:"attempts"`
	Response          *string   `json:"response,omitempty"`
	ErrorMessage      *string   `json:"error_message,omitempty"`
	ConditionMet      bool      `json:"condition_met"`
	ConditionDetails  *string   `json:"condition_details,omitempty"`
	ExecutedAt        time.Time `json:"executed_at"`
	ParentExecutionID *int64    `json:"parent_execution_id,omitempty"`
	ExecutionOrder    int       `json:"execution_order"`
}

// LogFilter narrows ListLogs.
type LogFilter struct {
	Limit      int
	ScheduleID *int64
}

// Stats summarises schedules and executions for the dashboard.
type Stats struct {
	TotalSchedules       int            `json:"total_schedules"`
	ActiveSchedules      int            `json:"active_schedules"`
	TotalExecutions      int            `json:"total_executions"`
	SuccessfulExecutions int            `json:"successful_executions"`
	RecentFailures       []ExecutionLog `json:"recent_failures"`
	UpcomingSchedules    []Schedule     `json:"upcoming_schedules"`
}
