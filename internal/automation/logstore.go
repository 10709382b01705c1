package automation

import (
	"context"
	"database/sql"
	"fmt"
	"time"
)

const (
	defaultLogLimit    = 100
	maxLogLimit        = 1000
	statsFailureLimit  = 10
	statsUpcomingLimit = 10
)

// executedAtLayout is fixed-width so executed_at sorts as text.
const executedAtLayout = "2006-01-02T15:04:05.000000000Z07:00"

const logColumns = `id, schedule_id, schedule_name, command, success, attempts, response, error_message,
	condition_met, condition_details, executed_at, parent_execution_id, execution_order`

// AppendLog inserts an execution log entry and sets its ID.
func (r *SQLiteRepository) AppendLog(ctx context.Context, e *ExecutionLog) (int64, error) {
	if e.ExecutedAt.IsZero() {
		e.ExecutedAt = time.Now().UTC()
	}

	result, err := r.db.ExecContext(ctx, `
		INSERT INTO execution_logs (
			schedule_id, schedule_name, command, success, attempts, response, error_message,
			condition_met, condition_details, executed_at, parent_execution_id, execution_order
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		e.ScheduleID, e.ScheduleName, e.Command, boolToInt(e.Success), e.Attempts,
		nullableString(e.Response), nullableString(e.ErrorMessage),
		boolToInt(e.ConditionMet), nullableString(e.ConditionDetails),
		e.ExecutedAt.UTC().Format(executedAtLayout), nullableInt64(e.ParentExecutionID), e.ExecutionOrder,
	)
	if err != nil {
		return 0, fmt.Errorf("inserting execution log: %w", err)
	}

	e.ID, err = result.LastInsertId()
	if err != nil {
		return 0, fmt.Errorf("reading execution log id: %w", err)
	}
	return e.ID, nil
}

// ListLogs returns execution log entries, newest first.
func (r *SQLiteRepository) ListLogs(ctx context.Context, filter LogFilter) ([]ExecutionLog, error) {
	limit := filter.Limit
	if limit <= 0 {
		limit = defaultLogLimit
	}
	if limit > maxLogLimit {
		limit = maxLogLimit
	}

	query := "SELECT " + logColumns + " FROM execution_logs"
	args := []any{}
	if filter.ScheduleID != nil {
		query += " WHERE schedule_id = ?"
		args = append(args, *filter.ScheduleID)
	}
	query += " ORDER BY executed_at DESC, id DESC LIMIT ?"
	args = append(args, limit)

	return r.queryLogs(ctx, query, args...)
}

// Stats summarises schedules and executions.
func (r *SQLiteRepository) Stats(ctx context.Context) (*Stats, error) {
	var st Stats

	err := r.db.QueryRowContext(ctx, `
		SELECT
			(SELECT COUNT(*) FROM schedules),
			(SELECT COUNT(*) FROM schedules WHERE enabled = 1),
			(SELECT COUNT(*) FROM execution_logs),
			(SELECT COUNT(*) FROM execution_logs WHERE success = 1)`,
	).Scan(&st.TotalSchedules, &st.ActiveSchedules, &st.TotalExecutions, &st.SuccessfulExecutions)
	if err != nil {
		return nil, fmt.Errorf("querying counts: %w", err)
	}

	st.RecentFailures, err = r.queryLogs(ctx,
		"SELECT "+logColumns+" FROM execution_logs WHERE success = 0 ORDER BY executed_at DESC, id DESC LIMIT ?",
		statsFailureLimit)
	if err != nil {
		return nil, err
	}
	if st.RecentFailures == nil {
		st.RecentFailures = []ExecutionLog{}
	}

	st.UpcomingSchedules, err = r.querySchedules(ctx,
		"SELECT"+scheduleColumns+` FROM schedules s
		WHERE s.enabled = 1 AND s.next_execution_at IS NOT NULL
		ORDER BY s.next_execution_at LIMIT ?`,
		statsUpcomingLimit)
	if err != nil {
		return nil, err
	}
	if st.UpcomingSchedules == nil {
		st.UpcomingSchedules = []Schedule{}
	}

	return &st, nil
}

func (r *SQLiteRepository) queryLogs(ctx context.Context, query string, args ...any) ([]ExecutionLog, error) {
	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("querying execution logs: %w", err)
	}
	defer rows.Close()

	var out []ExecutionLog
	for rows.Next() {
		e, err := scanLog(rows)
		if err != nil {
			return nil, fmt.Errorf("scanning execution log: %w", err)
		}
		out = append(out, *e)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating execution logs: %w", err)
	}
	return out, nil
}

func scanLog(row rowScanner) (*ExecutionLog, error) {
	var e ExecutionLog
	var response, errorMessage, conditionDetails sql.NullString
	var parentID sql.NullInt64
	var success, conditionMet int
	var executedAt string

	err := row.Scan(
		&e.ID, &e.ScheduleID, &e.ScheduleName, &e.Command, &success, &e.Attempts,
		&response, &errorMessage, &conditionMet, &conditionDetails,
		&executedAt, &parentID, &e.ExecutionOrder,
	)
	if err != nil {
		return nil, err
	}

	e.Success = success != 0
	e.ConditionMet = conditionMet != 0
	e.Response = stringPtr(response)
	e.ErrorMessage = stringPtr(errorMessage)
	e.ConditionDetails = stringPtr(conditionDetails)
	if parentID.Valid {
		id := parentID.Int64
		e.ParentExecutionID = &id
	}

	e.ExecutedAt, err = time.Parse(executedAtLayout, executedAt)
	if err != nil {
		return nil, fmt.Errorf("parsing executed_at: %w", err)
	}
	return &e, nil
}
