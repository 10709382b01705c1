package command

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"
)

// Template is a named, stored command payload.
type Template struct {
	ID          int64           `json:"id"`
	Name        string          `json:"name"`
	Description *string         `json:"description,omitempty"`
	CommandData json.RawMessage `json:"command_data"`
	CreatedAt   time.Time       `json:"created_at"`
}

// TemplateStore looks templates up by name.
type TemplateStore interface {
	// GetTemplate returns ErrTemplateNotFound when absent.
	GetTemplate(ctx context.Context, name string) (*Template, error)
}

// TemplateRepository stores templates in SQLite.
type TemplateRepository struct {
	db *sql.DB
}

// NewTemplateRepository creates a template repository.
func NewTemplateRepository(db *sql.DB) *TemplateRepository {
	return &TemplateRepository{db: db}
}

// ListTemplates returns all templates ordered by name.
func (r *TemplateRepository) ListTemplates(ctx context.Context) ([]Template, error) {
	rows, err := r.db.QueryContext(ctx,
		"SELECT id, name, description, command_data, created_at FROM templates ORDER BY name")
	if err != nil {
		return nil, fmt.Errorf("querying templates: %w", err)
	}
	defer rows.Close()

	var out []Template
	for rows.Next() {
		t, err := scanTemplate(rows)
		if err != nil {
			return nil, fmt.Errorf("scanning template: %w", err)
		}
		out = append(out, *t)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating templates: %w", err)
	}
	return out, nil
}

// GetTemplate returns one template by name.
func (r *TemplateRepository) GetTemplate(ctx context.Context, name string) (*Template, error) {
	row := r.db.QueryRowContext(ctx,
		"SELECT id, name, description, command_data, created_at FROM templates WHERE name = ?", name)
	t, err := scanTemplate(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrTemplateNotFound
		}
		return nil, fmt.Errorf("querying template: %w", err)
	}
	return t, nil
}

// CreateTemplate validates the payload and stores the template.
func (r *TemplateRepository) CreateTemplate(ctx context.Context, t *Template) error {
	t.Name = strings.TrimSpace(t.Name)
	if t.Name == "" {
		return fmt.Errorf("%w: template name is required", ErrMalformedPayload)
	}
	cmd, err := ParsePayload(t.CommandData)
	if err != nil {
		return err
	}
	if cmd.Kind == KindTemplate && cmd.Template == t.Name {
		return fmt.Errorf("%w: template %q references itself", ErrTemplateDepth, t.Name)
	}

	if t.CreatedAt.IsZero() {
		t.CreatedAt = time.Now().UTC()
	}

	var desc sql.NullString
	if t.Description != nil && *t.Description != "" {
		desc = sql.NullString{String: *t.Description, Valid: true}
	}

	result, err := r.db.ExecContext(ctx,
		"INSERT INTO templates (name, description, command_data, created_at) VALUES (?, ?, ?, ?)",
		t.Name, desc, string(t.CommandData), t.CreatedAt.Format(time.RFC3339))
	if err != nil {
		if strings.Contains(err.Error(), "UNIQUE constraint failed") {
			return ErrTemplateExists
		}
		return fmt.Errorf("inserting template: %w", err)
	}
	t.ID, err = result.LastInsertId()
	if err != nil {
		return fmt.Errorf("reading template id: %w", err)
	}
	return nil
}

// DeleteTemplate removes a template by name.
func (r *TemplateRepository) DeleteTemplate(ctx context.Context, name string) error {
	result, err := r.db.ExecContext(ctx, "DELETE FROM templates WHERE name = ?", name)
	if err != nil {
		return fmt.Errorf("deleting template: %w", err)
	}
	n, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("checking rows affected: %w", err)
	}
	if n == 0 {
		return ErrTemplateNotFound
	}
	return nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanTemplate(s rowScanner) (*Template, error) {
	var t Template
	var desc sql.NullString
	var data, createdAt string
	if err := s.Scan(&t.ID, &t.Name, &desc, &data, &createdAt); err != nil {
		return nil, err
	}
	if desc.Valid {
		t.Description = &desc.String
	}
	t.CommandData = json.RawMessage(data)
	t.CreatedAt, _ = time.Parse(time.RFC3339, createdAt) //nolint:errcheck // Format is controlled
	return &t, nil
}
