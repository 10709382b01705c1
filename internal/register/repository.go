package register

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"
)

// Repository defines register persistence.
type Repository interface {
	// ListMetadata returns all registers ordered by number, with group names.
	ListMetadata(ctx context.Context) ([]Metadata, error)

	// GetMetadata returns ErrRegisterNotFound when absent.
	GetMetadata(ctx context.Context, number int) (*Metadata, error)

	// CreateMetadata returns ErrRegisterExists on a duplicate number.
	CreateMetadata(ctx context.Context, m *Metadata) error

	// UpdateMetadata returns ErrRegisterNotFound when absent.
	UpdateMetadata(ctx context.Context, m *Metadata) error

	// DeleteMetadata removes the metadata row; the cached value is kept.
	DeleteMetadata(ctx context.Context, number int) error

	// ListGroups returns groups ordered by id.
	ListGroups(ctx context.Context) ([]Group, error)

	// ListValues returns every cached value, joined with its metadata name.
	ListValues(ctx context.Context) ([]Value, error)

	// GetValue returns ErrValueNotFound when absent.
	GetValue(ctx context.Context, number int) (*Value, error)

	// SetValue upserts a cached value. fromDevice also stamps last_read_from_inverter.
	SetValue(ctx context.Context, number, value int, fromDevice bool) error

	// SetValues upserts several cached values in one transaction.
	SetValues(ctx context.Context, values map[int]int) error

	// BlockSnapshot returns cached values and encodings for start..end.
	BlockSnapshot(ctx context.Context, start, end int) (map[int]int, map[int]Encoding, error)
}

// SQLiteRepository implements Repository using SQLite.
type SQLiteRepository struct {
	db *sql.DB
}

// NewSQLiteRepository creates a new SQLite-backed repository.
func NewSQLiteRepository(db *sql.DB) *SQLiteRepository {
	return &SQLiteRepository{db: db}
}

const metadataColumns = `
	r.register_number, r.name, r.description, r.write_only, r.read_register,
	r.value_type, r.type, r.min_value, r.max_value, r.category, r.group_id, g.name`

// ListMetadata returns all registers ordered by number.
func (r *SQLiteRepository) ListMetadata(ctx context.Context) ([]Metadata, error) {
	rows, err := r.db.QueryContext(ctx, `
		SELECT`+metadataColumns+`
		FROM registers r
		LEFT JOIN register_groups g ON g.id = r.group_id
		ORDER BY r.register_number`)
	if err != nil {
		return nil, fmt.Errorf("querying registers: %w", err)
	}
	defer rows.Close()

	var out []Metadata
	for rows.Next() {
		m, err := scanMetadata(rows)
		if err != nil {
			return nil, fmt.Errorf("scanning register: %w", err)
		}
		out = append(out, *m)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating registers: %w", err)
	}
	return out, nil
}

// GetMetadata retrieves one register's metadata.
func (r *SQLiteRepository) GetMetadata(ctx context.Context, number int) (*Metadata, error) {
	row := r.db.QueryRowContext(ctx, `
		SELECT`+metadataColumns+`
		FROM registers r
		LEFT JOIN register_groups g ON g.id = r.group_id
		WHERE r.register_number = ?`, number)
	m, err := scanMetadata(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrRegisterNotFound
		}
		return nil, fmt.Errorf("querying register: %w", err)
	}
	return m, nil
}

// CreateMetadata inserts a metadata row.
func (r *SQLiteRepository) CreateMetadata(ctx context.Context, m *Metadata) error {
	_, err := r.db.ExecContext(ctx, `
		INSERT INTO registers (
			register_number, name, description, write_only, read_register,
			value_type, type, min_value, max_value, category, group_id
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		m.Number, m.Name, nullableString(m.Description), boolToInt(m.WriteOnly),
		nullableInt(m.ReadRegister), m.ValueType, int(m.Type),
		nullableInt(m.MinValue), nullableInt(m.MaxValue),
		nullableString(m.Category), nullableInt64(m.GroupID),
	)
	if err != nil {
		if isConstraintError(err, "UNIQUE") || isConstraintError(err, "PRIMARY KEY") {
			return ErrRegisterExists
		}
		return fmt.Errorf("inserting register: %w", err)
	}
	return nil
}

// UpdateMetadata replaces a metadata row.
func (r *SQLiteRepository) UpdateMetadata(ctx context.Context, m *Metadata) error {
	result, err := r.db.ExecContext(ctx, `
		UPDATE registers SET
			name = ?, description = ?, write_only = ?, read_register = ?,
			value_type = ?, type = ?, min_value = ?, max_value = ?,
			category = ?, group_id = ?
		WHERE register_number = ?`,
		m.Name, nullableString(m.Description), boolToInt(m.WriteOnly),
		nullableInt(m.ReadRegister), m.ValueType, int(m.Type),
		nullableInt(m.MinValue), nullableInt(m.MaxValue),
		nullableString(m.Category), nullableInt64(m.GroupID),
		m.Number,
	)
	if err != nil {
		return fmt.Errorf("updating register: %w", err)
	}
	return expectOneRow(result, ErrRegisterNotFound)
}

// DeleteMetadata removes a metadata row.
func (r *SQLiteRepository) DeleteMetadata(ctx context.Context, number int) error {
	result, err := r.db.ExecContext(ctx, "DELETE FROM registers WHERE register_number = ?", number)
	if err != nil {
		return fmt.Errorf("deleting register: %w", err)
	}
	return expectOneRow(result, ErrRegisterNotFound)
}

// ListGroups returns groups ordered by id.
func (r *SQLiteRepository) ListGroups(ctx context.Context) ([]Group, error) {
	rows, err := r.db.QueryContext(ctx, "SELECT id, name FROM register_groups ORDER BY id")
	if err != nil {
		return nil, fmt.Errorf("querying register groups: %w", err)
	}
	defer rows.Close()

	var out []Group
	for rows.Next() {
		var g Group
		if err := rows.Scan(&g.ID, &g.Name); err != nil {
			return nil, fmt.Errorf("scanning register group: %w", err)
		}
		out = append(out, g)
	}
	return out, rows.Err()
}

const valueColumns = `
	v.register_number, v.current_value, v.last_updated, v.last_read_from_inverter,
	r.name, r.description`

// ListValues returns every cached value ordered by register number.
func (r *SQLiteRepository) ListValues(ctx context.Context) ([]Value, error) {
	rows, err := r.db.QueryContext(ctx, `
		SELECT`+valueColumns+`
		FROM register_values v
		LEFT JOIN registers r ON r.register_number = v.register_number
		ORDER BY v.register_number`)
	if err != nil {
		return nil, fmt.Errorf("querying register values: %w", err)
	}
	defer rows.Close()

	var out []Value
	for rows.Next() {
		v, err := scanValue(rows)
		if err != nil {
			return nil, fmt.Errorf("scanning register value: %w", err)
		}
		out = append(out, *v)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating register values: %w", err)
	}
	return out, nil
}

// GetValue returns one cached value.
func (r *SQLiteRepository) GetValue(ctx context.Context, number int) (*Value, error) {
	row := r.db.QueryRowContext(ctx, `
		SELECT`+valueColumns+`
		FROM register_values v
		LEFT JOIN registers r ON r.register_number = v.register_number
		WHERE v.register_number = ?`, number)
	v, err := scanValue(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrValueNotFound
		}
		return nil, fmt.Errorf("querying register value: %w", err)
	}
	return v, nil
}

// SetValue upserts one cached value.
func (r *SQLiteRepository) SetValue(ctx context.Context, number, value int, fromDevice bool) error {
	now := time.Now().UTC().Format(time.RFC3339)
	var readAt sql.NullString
	if fromDevice {
		readAt = sql.NullString{String: now, Valid: true}
	}

	_, err := r.db.ExecContext(ctx, `
		INSERT INTO register_values (register_number, current_value, last_updated, last_read_from_inverter)
		VALUES (?, ?, ?, ?)
		ON CONFLICT(register_number) DO UPDATE SET
			current_value = excluded.current_value,
			last_updated = excluded.last_updated,
			last_read_from_inverter = COALESCE(excluded.last_read_from_inverter, register_values.last_read_from_inverter)`,
		number, value, now, readAt,
	)
	if err != nil {
		return fmt.Errorf("storing register value %d: %w", number, err)
	}
	return nil
}

// SetValues upserts several values in one transaction.
func (r *SQLiteRepository) SetValues(ctx context.Context, values map[int]int) error {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("starting transaction: %w", err)
	}
	defer tx.Rollback() //nolint:errcheck // Rollback is no-op after commit

	now := time.Now().UTC().Format(time.RFC3339)
	for n, v := range values {
		if _, err := tx.ExecContext(ctx, `
			INSERT INTO register_values (register_number, current_value, last_updated)
			VALUES (?, ?, ?)
			ON CONFLICT(register_number) DO UPDATE SET
				current_value = excluded.current_value,
				last_updated = excluded.last_updated`,
			n, v, now,
		); err != nil {
			return fmt.Errorf("storing register value %d: %w", n, err)
		}
	}
	return tx.Commit()
}

// BlockSnapshot reads cached values and encodings for start..end.
// Registers without a row are simply absent from the maps.
func (r *SQLiteRepository) BlockSnapshot(ctx context.Context, start, end int) (map[int]int, map[int]Encoding, error) {
	values := make(map[int]int, end-start+1)
	rows, err := r.db.QueryContext(ctx,
		"SELECT register_number, current_value FROM register_values WHERE register_number BETWEEN ? AND ?",
		start, end)
	if err != nil {
		return nil, nil, fmt.Errorf("querying block values: %w", err)
	}
	for rows.Next() {
		var n, v int
		if err := rows.Scan(&n, &v); err != nil {
			rows.Close()
			return nil, nil, fmt.Errorf("scanning block value: %w", err)
		}
		values[n] = v
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return nil, nil, fmt.Errorf("iterating block values: %w", err)
	}

	encodings := make(map[int]Encoding, end-start+1)
	rows, err = r.db.QueryContext(ctx,
		"SELECT register_number, type, value_type FROM registers WHERE register_number BETWEEN ? AND ?",
		start, end)
	if err != nil {
		return nil, nil, fmt.Errorf("querying block metadata: %w", err)
	}
	defer rows.Close()
	for rows.Next() {
		var n, typ int
		var valueType string
		if err := rows.Scan(&n, &typ, &valueType); err != nil {
			return nil, nil, fmt.Errorf("scanning block metadata: %w", err)
		}
		encodings[n] = Encoding{Type: EncodingType(typ), ValueType: valueType}
	}
	if err := rows.Err(); err != nil {
		return nil, nil, fmt.Errorf("iterating block metadata: %w", err)
	}

	return values, encodings, nil
}

// rowScanner is an interface that sql.Row and sql.Rows both implement.
type rowScanner interface {
	Scan(dest ...any) error
}

func scanMetadata(s rowScanner) (*Metadata, error) {
	var m Metadata
	var description, category, groupName sql.NullString
	var readRegister, minValue, maxValue sql.NullInt64
	var groupID sql.NullInt64
	var writeOnly, typ int

	if err := s.Scan(
		&m.Number, &m.Name, &description, &writeOnly, &readRegister,
		&m.ValueType, &typ, &minValue, &maxValue, &category, &groupID, &groupName,
	); err != nil {
		return nil, err
	}

	m.WriteOnly = writeOnly != 0
	m.Type = EncodingType(typ)
	m.Description = stringPtr(description)
	m.Category = stringPtr(category)
	m.GroupName = stringPtr(groupName)
	m.ReadRegister = intPtr(readRegister)
	m.MinValue = intPtr(minValue)
	m.MaxValue = intPtr(maxValue)
	if groupID.Valid {
		id := groupID.Int64
		m.GroupID = &id
	}
	return &m, nil
}

func scanValue(s rowScanner) (*Value, error) {
	var v Value
	var lastUpdated string
	var lastRead, name, description sql.NullString

	if err := s.Scan(&v.Number, &v.CurrentValue, &lastUpdated, &lastRead, &name, &description); err != nil {
		return nil, err
	}

	v.LastUpdated, _ = time.Parse(time.RFC3339, lastUpdated) //nolint:errcheck // Format is controlled
	if lastRead.Valid {
		if t, err := time.Parse(time.RFC3339, lastRead.String); err == nil {
			v.LastReadFromInverter = &t
		}
	}
	v.Name = stringPtr(name)
	v.Description = stringPtr(description)
	return &v, nil
}

func expectOneRow(result sql.Result, notFound error) error {
	n, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("checking rows affected: %w", err)
	}
	if n == 0 {
		return notFound
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

// nullableString returns a sql.NullString for optional string pointers.
func nullableString(s *string) sql.NullString {
	if s == nil || *s == "" {
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

// boolToInt converts a boolean to 0/1 for SQLite storage.
func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}

// isConstraintError checks for a SQLite constraint violation of the given kind.
func isConstraintError(err error, kind string) bool {
	return err != nil && strings.Contains(err.Error(), kind+" constraint failed")
}
