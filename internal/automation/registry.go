package automation

import (
	"context"
	"errors"
	"fmt"
	"sync"
)

// Logger defines the logging interface used by the Registry and Executor.
// This allows different logging implementations to be used.
type Logger interface {
	Debug(msg string, args ...any)
	Info(msg string, args ...any)
	Warn(msg string, args ...any)
	Error(msg string, args ...any)
}

// noopLogger is a logger that does nothing.
type noopLogger struct{}

func (noopLogger) Debug(string, ...any) {}
func (noopLogger) Info(string, ...any)  {}
func (noopLogger) Warn(string, ...any)  {}
func (noopLogger) Error(string, ...any) {}

// Trigger is the subset of the trigger engine the Registry drives.
//
// Register must be idempotent: it replaces any trigger already held for
// the schedule. Deregister of an unknown ID is not an error.
type Trigger interface {
	Register(ctx context.Context, s *Schedule) error
	Deregister(ctx context.Context, id int64)
}

// Registry validates schedule changes, persists them and keeps the
// trigger engine in step.
//
// Writes are serialised so chain checks and the write they guard see
// the same store. Reads go straight to the repository because list
// rows carry live execution counts.
type Registry struct {
	repo    Repository
	trigger Trigger
	writeMu sync.Mutex
	logger  Logger
}

// NewRegistry creates a new schedule registry.
func NewRegistry(repo Repository) *Registry {
	return &Registry{
		repo:   repo,
		logger: noopLogger{},
	}
}

// SetLogger sets the logger for the registry.
func (r *Registry) SetLogger(logger Logger) {
	r.logger = logger
}

// SetTrigger connects the trigger engine. Before it is set, changes are
// persisted without (de)registration.
func (r *Registry) SetTrigger(t Trigger) {
	r.trigger = t
}

// GetSchedule retrieves a schedule by ID.
func (r *Registry) GetSchedule(ctx context.Context, id int64) (*Schedule, error) {
	return r.repo.GetByID(ctx, id)
}

// ListSchedules retrieves all schedules with execution counts.
func (r *Registry) ListSchedules(ctx context.Context) ([]Schedule, error) {
	schedules, err := r.repo.List(ctx)
	if err != nil {
		return nil, err
	}
	if schedules == nil {
		schedules = []Schedule{}
	}
	return schedules, nil
}

// CreateSchedule validates and stores a new schedule, then registers its trigger.
func (r *Registry) CreateSchedule(ctx context.Context, s *Schedule) (*Schedule, error) {
	if err := ValidateSchedule(s); err != nil {
		return nil, err
	}

	r.writeMu.Lock()
	defer r.writeMu.Unlock()

	if err := r.checkChain(ctx, s); err != nil {
		return nil, err
	}
	if err := r.repo.Create(ctx, s); err != nil {
		return nil, fmt.Errorf("creating schedule: %w", err)
	}

	r.logger.Info("schedule created", "schedule_id", s.ID, "name", s.Name, "type", s.ScheduleType)
	r.syncTrigger(ctx, s)
	return r.repo.GetByID(ctx, s.ID)
}

// UpdateSchedule replaces a schedule's definition and re-registers its trigger.
func (r *Registry) UpdateSchedule(ctx context.Context, s *Schedule) (*Schedule, error) {
	if err := ValidateSchedule(s); err != nil {
		return nil, err
	}

	r.writeMu.Lock()
	defer r.writeMu.Unlock()

	if _, err := r.repo.GetByID(ctx, s.ID); err != nil {
		return nil, err
	}
	if err := r.checkChain(ctx, s); err != nil {
		return nil, err
	}
	if err := r.repo.Update(ctx, s); err != nil {
		return nil, fmt.Errorf("updating schedule: %w", err)
	}

	r.logger.Info("schedule updated", "schedule_id", s.ID, "enabled", s.Enabled)
	if r.trigger != nil {
		r.trigger.Deregister(ctx, s.ID)
	}
	r.syncTrigger(ctx, s)
	return r.repo.GetByID(ctx, s.ID)
}

// DeleteSchedule removes a schedule and its children and drops their triggers.
func (r *Registry) DeleteSchedule(ctx context.Context, id int64) error {
	r.writeMu.Lock()
	defer r.writeMu.Unlock()

	children, err := r.repo.ListChildren(ctx, id)
	if err != nil {
		return fmt.Errorf("listing children: %w", err)
	}
	if err := r.repo.Delete(ctx, id); err != nil {
		return err
	}

	if r.trigger != nil {
		r.trigger.Deregister(ctx, id)
		for i := range children {
			r.trigger.Deregister(ctx, children[i].ID)
		}
	}
	r.logger.Info("schedule deleted", "schedule_id", id, "children", len(children))
	return nil
}

// Triggerable lists the schedules the trigger engine should hold: enabled
// and not part of a parent's chain.
func (r *Registry) Triggerable(ctx context.Context) ([]Schedule, error) {
	all, err := r.repo.List(ctx)
	if err != nil {
		return nil, err
	}
	out := make([]Schedule, 0, len(all))
	for i := range all {
		if all[i].Enabled && !all[i].IsChild() {
			out = append(out, all[i])
		}
	}
	return out, nil
}

// syncTrigger registers an enabled top-level schedule. Registration
// errors leave the schedule stored and dormant.
func (r *Registry) syncTrigger(ctx context.Context, s *Schedule) {
	if r.trigger == nil {
		return
	}
	if !s.Enabled || s.IsChild() {
		r.trigger.Deregister(ctx, s.ID)
		return
	}
	if err := r.trigger.Register(ctx, s); err != nil {
		r.logger.Warn("schedule stored but not registered", "schedule_id", s.ID, "error", err)
	}
}

// checkChain enforces one level of nesting.
func (r *Registry) checkChain(ctx context.Context, s *Schedule) error {
	if s.ParentScheduleID == nil {
		return nil
	}
	parentID := *s.ParentScheduleID
	if s.ID != 0 && parentID == s.ID {
		return fmt.Errorf("%w: schedule cannot be its own parent", ErrInvalidChain)
	}

	parent, err := r.repo.GetByID(ctx, parentID)
	if err != nil {
		if errors.Is(err, ErrScheduleNotFound) {
			return fmt.Errorf("%w: parent schedule %d not found", ErrInvalidChain, parentID)
		}
		return err
	}
	if parent.IsChild() {
		return fmt.Errorf("%w: parent schedule %d is itself a child", ErrInvalidChain, parentID)
	}

	if s.ID != 0 {
		children, err := r.repo.ListChildren(ctx, s.ID)
		if err != nil {
			return fmt.Errorf("listing children: %w", err)
		}
		if len(children) > 0 {
			return fmt.Errorf("%w: schedule with children cannot become a child", ErrInvalidChain)
		}
	}
	return nil
}
