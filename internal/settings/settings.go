// Package settings stores the operator-editable runtime settings.
//
// The config table holds a small set of keys that the web UI edits. A
// non-empty row overrides the matching config.yaml default; empty or
// missing rows fall back to it. Values are resolved on every run, so an
// edit takes effect on the next firing without a restart.
package settings

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"sort"
	"strconv"
	"time"
)

// Setting keys.
const (
	KeyGrottHost        = "grott_host"
	KeyGrottPort        = "grott_port"
	KeyInverterSerial   = "inverter_serial"
	KeyMaxRetries       = "max_retries"
	KeyRetryDelay       = "retry_delay"
	KeyPushoverUserKey  = "pushover_user_key"
	KeyPushoverAPIToken = "pushover_api_token"
)

// Keys lists every key the config table accepts, in display order.
var Keys = []string{
	KeyGrottHost,
	KeyGrottPort,
	KeyInverterSerial,
	KeyMaxRetries,
	KeyRetryDelay,
	KeyPushoverUserKey,
	KeyPushoverAPIToken,
}

var (
	// ErrUnknownKey is returned when setting a key outside Keys.
	ErrUnknownKey = errors.New("settings: unknown key")

	// ErrInvalidValue is returned when a numeric key holds a non-numeric value.
	ErrInvalidValue = errors.New("settings: invalid value")
)

// Setting is one row of the config table.
type Setting struct {
	Key       string    `json:"key"`
	Value     string    `json:"value"`
	UpdatedAt time.Time `json:"updated_at"`
}

// Repository persists settings.
type Repository interface {
	// List returns every stored row ordered by key.
	List(ctx context.Context) ([]Setting, error)

	// Set upserts all values in one transaction. Unknown keys or invalid
	// numeric values reject the whole batch.
	Set(ctx context.Context, values map[string]string) error
}

// SQLiteRepository implements Repository on the config table.
type SQLiteRepository struct {
	db *sql.DB
}

// NewSQLiteRepository creates a settings repository.
func NewSQLiteRepository(db *sql.DB) *SQLiteRepository {
	return &SQLiteRepository{db: db}
}

// List returns every stored row ordered by key.
func (r *SQLiteRepository) List(ctx context.Context) ([]Setting, error) {
	rows, err := r.db.QueryContext(ctx, "SELECT key, value, updated_at FROM config ORDER BY key")
	if err != nil {
		return nil, fmt.Errorf("querying settings: %w", err)
	}
	defer rows.Close()

	var out []Setting
	for rows.Next() {
		var s Setting
		var updatedAt string
		if err := rows.Scan(&s.Key, &s.Value, &updatedAt); err != nil {
			return nil, fmt.Errorf("scanning setting: %w", err)
		}
		s.UpdatedAt, _ = time.Parse(time.RFC3339, updatedAt) //nolint:errcheck // Format is controlled
		out = append(out, s)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating settings: %w", err)
	}
	return out, nil
}

// Set upserts all values in one transaction.
func (r *SQLiteRepository) Set(ctx context.Context, values map[string]string) error {
	if err := ValidateValues(values); err != nil {
		return err
	}

	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("starting transaction: %w", err)
	}
	defer tx.Rollback() //nolint:errcheck // Rollback is no-op after commit

	now := time.Now().UTC().Format(time.RFC3339)
	keys := make([]string, 0, len(values))
	for k := range values {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	for _, k := range keys {
		if _, err := tx.ExecContext(ctx, `
			INSERT INTO config (key, value, updated_at) VALUES (?, ?, ?)
			ON CONFLICT(key) DO UPDATE SET value = excluded.value, updated_at = excluded.updated_at`,
			k, values[k], now,
		); err != nil {
			return fmt.Errorf("storing setting %s: %w", k, err)
		}
	}
	return tx.Commit()
}

// ValidateValues checks keys against Keys and numeric keys for integers.
// An empty value is always accepted; it clears the override.
func ValidateValues(values map[string]string) error {
	for k, v := range values {
		if !isKnownKey(k) {
			return fmt.Errorf("%w: %s", ErrUnknownKey, k)
		}
		if v == "" || !isNumericKey(k) {
			continue
		}
		n, err := strconv.Atoi(v)
		if err != nil {
			return fmt.Errorf("%w: %s must be an integer", ErrInvalidValue, k)
		}
		if err := checkRange(k, n); err != nil {
			return err
		}
	}
	return nil
}

func checkRange(key string, n int) error {
	switch key {
	case KeyGrottPort:
		if n < 1 || n > 65535 {
			return fmt.Errorf("%w: %s must be between 1 and 65535", ErrInvalidValue, key)
		}
	case KeyMaxRetries:
		if n < 1 {
			return fmt.Errorf("%w: %s must be at least 1", ErrInvalidValue, key)
		}
	case KeyRetryDelay:
		if n < 0 {
			return fmt.Errorf("%w: %s cannot be negative", ErrInvalidValue, key)
		}
	}
	return nil
}

func isKnownKey(k string) bool {
	for _, known := range Keys {
		if k == known {
			return true
		}
	}
	return false
}

func isNumericKey(k string) bool {
	return k == KeyGrottPort || k == KeyMaxRetries || k == KeyRetryDelay
}
