package automation

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/nerrad567/grott-scheduler/internal/command"
)

// Repository defines the interface for schedule persistence.
type Repository interface {
	// GetByID returns ErrScheduleNotFound if the schedule does not exist.
	GetByID(ctx context.Context, id int64) (*Schedule, error)

	// List returns all schedules ordered by id, with execution counts.
	List(ctx context.Context) ([]Schedule, error)

	// ListChildren returns a parent's children ordered by execution_order, then id.
	ListChildren(ctx context.Context, parentID int64) ([]Schedule, error)

	// Create inserts a schedule and sets its ID.
	Create(ctx context.Context, s *Schedule) error

	// Update replaces a schedule's editable fields.
	Update(ctx context.Context, s *Schedule) error

	// Delete removes a schedule; its children go with it.
	Delete(ctx context.Context, id int64) error

	// SetNextExecution stores or clears next_execution_at.
	SetNextExecution(ctx context.Context, id int64, next *time.Time) error

	// SetLastExecuted stores last_executed_at.
	SetLastExecuted(ctx context.Context, id int64, at time.Time) error
}

// LogStore is the append-only execution log.
type LogStore interface {
	// AppendLog inserts an entry and returns its ID.
	AppendLog(ctx context.Context, entry *ExecutionLog) (int64, error)

	// ListLogs returns entries newest first.
	ListLogs(ctx context.Context, filter LogFilter) ([]ExecutionLog, error)

	// Stats summarises schedules and executions.
	Stats(ctx context.Context) (*Stats, error)
}

// SQLiteRepository implements Repository and LogStore using SQLite.
type SQLiteRepository struct {
	db *sql.DB
}

// NewSQLiteRepository creates a new SQLite-backed repository.
func NewSQLiteRepository(db *sql.DB) *SQLiteRepository {
	return &SQLiteRepository{db: db}
}

const scheduleColumns = `
	s.id, s.name, s.description, s.schedule_type, s.time, s.days_of_week, s.specific_date,
	s.command_type, s.register_number, s.register_name, s.register_value,
	s.multiregister_start, s.multiregister_end, s.multiregister_value,
	s.template_name, s.custom_command,
	s.condition_type, s.condition_register, s.condition_operator, s.condition_value,
	s.enabled, s.pushover_enabled, s.inverter_serial,
	s.parent_schedule_id, s.execution_order, s.continue_on_parent_failure,
	s.last_executed_at, s.next_execution_at, s.created_at, s.updated_at,
	(SELECT COUNT(*) FROM execution_logs l WHERE l.schedule_id = s.id),
	(SELECT COUNT(*) FROM execution_logs l WHERE l.schedule_id = s.id AND l.success = 1)`

// GetByID retrieves a schedule by ID.
func (r *SQLiteRepository) GetByID(ctx context.Context, id int64) (*Schedule, error) {
	row := r.db.QueryRowContext(ctx, "SELECT"+scheduleColumns+" FROM schedules s WHERE s.id = ?", id)
	s, err := scanSchedule(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrScheduleNotFound
		}
		return nil, fmt.Errorf("querying schedule: %w", err)
	}
	return s, nil
}

// List retrieves all schedules.
func (r *SQLiteRepository) List(ctx context.Context) ([]Schedule, error) {
	return r.querySchedules(ctx, "SELECT"+scheduleColumns+" FROM schedules s ORDER BY s.id")
}

// ListChildren retrieves a parent's children in run order.
func (r *SQLiteRepository) ListChildren(ctx context.Context, parentID int64) ([]Schedule, error) {
	return r.querySchedules(ctx,
		"SELECT"+scheduleColumns+" FROM schedules s WHERE s.parent_schedule_id = ? ORDER BY s.execution_order, s.id",
		parentID)
}

// Create inserts a new schedule.
func (r *SQLiteRepository) Create(ctx context.Context, s *Schedule) error {
	days, err := marshalDays(s.DaysOfWeek)
	if err != nil {
		return err
	}

	now := time.Now().UTC()
	if s.CreatedAt.IsZero() {
		s.CreatedAt = now
	}
	s.UpdatedAt = now

	result, err := r.db.ExecContext(ctx, `
		INSERT INTO schedules (
			name, description, schedule_type, time, days_of_week, specific_date,
			command_type, register_number, register_name, register_value,
			multiregister_start, multiregister_end, multiregister_value,
			template_name, custom_command,
			condition_type, condition_register, condition_operator, condition_value,
			enabled, pushover_enabled, inverter_serial,
			parent_schedule_id, execution_order, continue_on_parent_failure,
			created_at, updated_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		s.Name, nullableString(s.Description), string(s.ScheduleType), s.Time, days, nullableString(s.SpecificDate),
		string(s.CommandType), nullableInt(s.RegisterNumber), nullableString(s.RegisterName), nullableString(s.RegisterValue),
		nullableInt(s.MultiregisterStart), nullableInt(s.MultiregisterEnd), nullableString(s.MultiregisterValue),
		nullableString(s.TemplateName), nullableString(s.CustomCommand),
		string(s.ConditionType), nullableInt(s.ConditionRegister), nullableString(s.ConditionOperator), nullableString(s.ConditionValue),
		boolToInt(s.Enabled), boolToInt(s.PushoverEnabled), nullableString(s.InverterSerial),
		nullableInt64(s.ParentScheduleID), s.ExecutionOrder, boolToInt(s.ContinueOnParentFailure),
		s.CreatedAt.Format(time.RFC3339), s.UpdatedAt.Format(time.RFC3339),
	)
	if err != nil {
		return fmt.Errorf("inserting schedule: %w", err)
	}

	s.ID, err = result.LastInsertId()
	if err != nil {
		return fmt.Errorf("reading schedule id: %w", err)
	}
	return nil
}

// Update modifies an existing schedule. Execution timestamps are not touched.
func (r *SQLiteRepository) Update(ctx context.Context, s *Schedule) error {
	days, err := marshalDays(s.DaysOfWeek)
	if err != nil {
		return err
	}
	s.UpdatedAt = time.Now().UTC()

	result, err := r.db.ExecContext(ctx, `
		UPDATE schedules SET
			name = ?, description = ?, schedule_type = ?, time = ?, days_of_week = ?, specific_date = ?,
			command_type = ?, register_number = ?, register_name = ?, register_value = ?,
			multiregister_start = ?, multiregister_end = ?, multiregister_value = ?,
			template_name = ?, custom_command = ?,
			condition_type = ?, condition_register = ?, condition_operator = ?, condition_value = ?,
			enabled = ?, pushover_enabled = ?, inverter_serial = ?,
			parent_schedule_id = ?, execution_order = ?, continue_on_parent_failure = ?,
			updated_at = ?
		WHERE id = ?`,
		s.Name, nullableString(s.Description), string(s.ScheduleType), s.Time, days, nullableString(s.SpecificDate),
		string(s.CommandType), nullableInt(s.RegisterNumber), nullableString(s.RegisterName), nullableString(s.RegisterValue),
		nullableInt(s.MultiregisterStart), nullableInt(s.MultiregisterEnd), nullableString(s.MultiregisterValue),
		nullableString(s.TemplateName), nullableString(s.CustomCommand),
		string(s.ConditionType), nullableInt(s.ConditionRegister), nullableString(s.ConditionOperator), nullableString(s.ConditionValue),
		boolToInt(s.Enabled), boolToInt(s.PushoverEnabled), nullableString(s.InverterSerial),
		nullableInt64(s.ParentScheduleID), s.ExecutionOrder, boolToInt(s.ContinueOnParentFailure),
		s.UpdatedAt.Format(time.RFC3339),
		s.ID,
	)
	if err != nil {
		return fmt.Errorf("updating schedule: %w", err)
	}
	return expectOneRow(result)
}

// Delete removes a schedule.
func (r *SQLiteRepository) Delete(ctx context.Context, id int64) error {
	result, err := r.db.ExecContext(ctx, "DELETE FROM schedules WHERE id = ?", id)
	if err != nil {
		return fmt.Errorf("deleting schedule: %w", err)
	}
	return expectOneRow(result)
}

// SetNextExecution stores or clears next_execution_at.
func (r *SQLiteRepository) SetNextExecution(ctx context.Context, id int64, next *time.Time) error {
	result, err := r.db.ExecContext(ctx,
		"UPDATE schedules SET next_execution_at = ? WHERE id = ?", nullableTime(next), id)
	if err != nil {
		return fmt.Errorf("updating next_execution_at: %w", err)
	}
	return expectOneRow(result)
}

// SetLastExecuted stores last_executed_at.
func (r *SQLiteRepository) SetLastExecuted(ctx context.Context, id int64, at time.Time) error {
	result, err := r.db.ExecContext(ctx,
		"UPDATE schedules SET last_executed_at = ? WHERE id = ?", at.UTC().Format(time.RFC3339), id)
	if err != nil {
		return fmt.Errorf("updating last_executed_at: %w", err)
	}
	return expectOneRow(result)
}

func (r *SQLiteRepository) querySchedules(ctx context.Context, query string, args ...any) ([]Schedule, error) {
	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("querying schedules: %w", err)
	}
	defer rows.Close()

	var out []Schedule
	for rows.Next() {
		s, err := scanSchedule(rows)
		if err != nil {
			return nil, fmt.Errorf("scanning schedule: %w", err)
		}
		out = append(out, *s)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating schedules: %w", err)
	}
	return out, nil
}

// rowScanner is an interface that sql.Row and sql.Rows both implement.
type rowScanner interface {
	Scan(dest ...any) error
}

func scanSchedule(row rowScanner) (*Schedule, error) { //nolint:gocognit,gocyclo // scans many nullable columns
	var s Schedule
	var description, daysJSON, specificDate sql.NullString
	var registerName, registerValue, multiValue, templateName, customCommand sql.NullString
	var conditionOperator, conditionValue, inverterSerial sql.NullString
	var registerNumber, multiStart, multiEnd, conditionRegister, parentID sql.NullInt64
	var lastExecuted, nextExecution sql.NullString
	var scheduleType, commandType, conditionType, createdAt, updatedAt string
	var enabled, pushover, continueOnFailure int

	err := row.Scan(
		&s.ID, &s.Name, &description, &scheduleType, &s.Time, &daysJSON, &specificDate,
		&commandType, &registerNumber, &registerName, &registerValue,
		&multiStart, &multiEnd, &multiValue,
		&templateName, &customCommand,
		&conditionType, &conditionRegister, &conditionOperator, &conditionValue,
		&enabled, &pushover, &inverterSerial,
		&parentID, &s.ExecutionOrder, &continueOnFailure,
		&lastExecuted, &nextExecution, &createdAt, &updatedAt,
		&s.ExecutionCount, &s.SuccessCount,
	)
	if err != nil {
		return nil, err
	}

	s.ScheduleType = ScheduleType(scheduleType)
	s.CommandType = command.Kind(commandType)
	s.ConditionType = ConditionType(conditionType)
	s.Enabled = enabled != 0
	s.PushoverEnabled = pushover != 0
	s.ContinueOnParentFailure = continueOnFailure != 0

	s.Description = stringPtr(description)
	s.SpecificDate = stringPtr(specificDate)
	s.RegisterName = stringPtr(registerName)
	s.RegisterValue = stringPtr(registerValue)
	s.MultiregisterValue = stringPtr(multiValue)
	s.TemplateName = stringPtr(templateName)
	s.CustomCommand = stringPtr(customCommand)
	s.ConditionOperator = stringPtr(conditionOperator)
	s.ConditionValue = stringPtr(conditionValue)
	s.InverterSerial = stringPtr(inverterSerial)

	s.RegisterNumber = intPtr(registerNumber)
	s.MultiregisterStart = intPtr(multiStart)
	s.MultiregisterEnd = intPtr(multiEnd)
	s.ConditionRegister = intPtr(conditionRegister)
	if parentID.Valid {
		id := parentID.Int64
		s.ParentScheduleID = &id
	}

	s.DaysOfWeek = []int{}
	if daysJSON.Valid && daysJSON.String != "" {
		if err := json.Unmarshal([]byte(daysJSON.String), &s.DaysOfWeek); err != nil {
			return nil, fmt.Errorf("unmarshalling days_of_week: %w", err)
		}
	}

	s.LastExecutedAt = timePtr(lastExecuted)
	s.NextExecutionAt = timePtr(nextExecution)

	var parseErr error
	s.CreatedAt, parseErr = time.Parse(time.RFC3339, createdAt)
	if parseErr != nil {
		return nil, fmt.Errorf("parsing created_at: %w", parseErr)
	}
	s.UpdatedAt, parseErr = time.Parse(time.RFC3339, updatedAt)
	if parseErr != nil {
		return nil, fmt.Errorf("parsing updated_at: %w", parseErr)
	}

	return &s, nil
}

func marshalDays(days []int) (string, error) {
	if days == nil {
		days = []int{}
	}
	b, err := json.Marshal(days)
	if err != nil {
		return "", fmt.Errorf("marshalling days_of_week: %w", err)
	}
	return string(b), nil
}

func expectOneRow(result sql.Result) error {
	n, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("checking rows affected: %w", err)
	}
	if n == 0 {
		return ErrScheduleNotFound
	}
	return nil
}

func stringPtr(ns sql.NullString) *string {
	if !ns.Valid {
		return nil
	}
	s := ns.String
	return &s
}

func intPtr(ni sql.NullInt64) *int {
	if !ni.Valid {
		return nil
	}
	i := int(ni.Int64)
	return &i
}

func timePtr(ns sql.NullString) *time.Time {
	if !ns.Valid {
		return nil
	}
	t, err := time.Parse(time.RFC3339, ns.String)
	if err != nil {
		return nil
	}
	return &t
}

// nullableString returns a sql.NullString for optional string pointers.
func nullableString(s *string) sql.NullString {
	if s == nil {
		return sql.NullString{}
	}
	return sql.NullString{String: *s, Valid: true}
}

func nullableInt(i *int) sql.NullInt64 {
	if i == nil {
		return sql.NullInt64{}
	}
	return sql.NullInt64{Int64: int64(*i), Valid: true}
}

func nullableInt64(i *int64) sql.NullInt64 {
	if i == nil {
		return sql.NullInt64{}
	}
	return sql.NullInt64{Int64: *i, Valid: true}
}

// nullableTime returns a sql.NullString for optional time pointers (as RFC3339 strings).
func nullableTime(t *time.Time) sql.NullString {
	if t == nil {
		return sql.NullString{}
	}
	return sql.NullString{String: t.UTC().Format(time.RFC3339), Valid: true}
}

// boolToInt converts a boolean to 0/1 for SQLite storage.
func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}
