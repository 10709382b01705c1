package audit

import (
	"context"
	"time"
)

// Actions.
const (
	ActionCreate  = "create"
	ActionUpdate  = "update"
	ActionDelete  = "delete"
	ActionExecute = "execute"
	ActionSync    = "sync"
)

// Entity types.
const (
	EntitySchedule      = "schedule"
	EntityRegister      = "register"
	EntityRegisterValue = "register_value"
	EntityTemplate      = "template"
	EntityConfig        = "config"
)

// Sources.
const (
	SourceAPI  = "api"
	SourceMQTT = "mqtt"
)

const (
	defaultLimit = 50
	maxLimit     = 200
)

// Entry is one audit trail record.
type Entry struct {
	ID         string         `json:"id"`
	Action     string         `json:"action"`
	EntityType string         `json:"entity_type"`
	EntityID   string         `json:"entity_id,omitempty"`
	Source     string         `json:"source"`
	Details    map[string]any `json:"details,omitempty"`
	CreatedAt  time.Time      `json:"created_at"`
}

// Filter narrows List. Empty fields match everything.
type Filter struct {
	Action     string
	EntityType string
	EntityID   string
	Limit      int // default 50, max 200
	Offset     int
}

// ListResult is one page of entries, newest first.
type ListResult struct {
	Entries []Entry `json:"entries"`
	Total   int     `json:"total"`
	Limit   int     `json:"limit"`
	Offset  int     `json:"offset"`
}

// Repository stores audit entries.
type Repository interface {
	Create(ctx context.Context, e *Entry) error
	List(ctx context.Context, filter Filter) (*ListResult, error)
}

// Logger is the logging interface used by the Recorder.
type Logger interface {
	Warn(msg string, args ...any)
}

// Recorder writes entries without failing the caller. A storage error
// is logged and the change it describes still stands.
type Recorder struct {
	repo   Repository
	logger Logger
}

// NewRecorder creates a Recorder. A nil *Recorder records nothing.
func NewRecorder(repo Repository, logger Logger) *Recorder {
	return &Recorder{repo: repo, logger: logger}
}

// Record appends one entry.
func (r *Recorder) Record(ctx context.Context, action, entityType, entityID, source string, details map[string]any) {
	if r == nil || r.repo == nil {
		return
	}
	e := &Entry{
		Action:     action,
		EntityType: entityType,
		EntityID:   entityID,
		Source:     source,
		Details:    details,
	}
	if err := r.repo.Create(context.WithoutCancel(ctx), e); err != nil && r.logger != nil {
		r.logger.Warn("audit entry not stored", "action", action, "entity_type", entityType, "entity_id", entityID, "error", err)
	}
}

// List returns a page of entries.
func (r *Recorder) List(ctx context.Context, filter Filter) (*ListResult, error) {
	if r == nil || r.repo == nil {
		return &ListResult{Entries: []Entry{}, Limit: filter.Limit}, nil
	}
	return r.repo.List(ctx, filter)
}
