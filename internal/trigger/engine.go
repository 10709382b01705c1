package trigger

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/robfig/cron/v3"

	"github.com/nerrad567/grott-scheduler/internal/automation"
)

// Runner executes a fired schedule. *automation.Executor satisfies it.
type Runner interface {
	Run(ctx context.Context, scheduleID int64)
}

// Store persists the computed next fire time.
type Store interface {
	SetNextExecution(ctx context.Context, id int64, next *time.Time) error
}

// Source lists the schedules that should hold a trigger.
// *automation.Registry satisfies it.
type Source interface {
	Triggerable(ctx context.Context) ([]automation.Schedule, error)
}

// Logger is the logging interface used by the engine.
type Logger interface {
	Debug(msg string, args ...any)
	Info(msg string, args ...any)
	Warn(msg string, args ...any)
	Error(msg string, args ...any)
}

type noopLogger struct{}

func (noopLogger) Debug(string, ...any) {}
func (noopLogger) Info(string, ...any)  {}
func (noopLogger) Warn(string, ...any)  {}
func (noopLogger) Error(string, ...any) {}

// Config wires an Engine. Clock defaults to SystemClock and Location to UTC.
type Config struct {
	Runner   Runner
	Store    Store
	Clock    Clock
	Location *time.Location
	Logger   Logger
}

// entry is one armed schedule.
type entry struct {
	id      int64
	name    string
	plan    plan
	next    time.Time
	timer   Timer
	version uint64
}

// Entry describes an armed schedule for status output.
type Entry struct {
	ScheduleID int64     `json:"schedule_id"`
	Name       string    `json:"name"`
	Expr       string    `json:"expr,omitempty"`
	Next       time.Time `json:"next"`
}

// Engine holds one timer per registered schedule.
//
// Thread Safety: all methods are safe for concurrent use.
type Engine struct {
	runner Runner
	store  Store
	clock  Clock
	loc    *time.Location
	logger Logger

	mu      sync.Mutex
	entries map[int64]*entry
	version uint64
	stopped bool

	runCtx    context.Context
	runCancel context.CancelFunc
	inflight  sync.WaitGroup
}

// New creates an Engine. Timers are armed as soon as schedules are
// registered; fired runs inherit the values of the context given to Start.
func New(cfg Config) *Engine {
	clock := cfg.Clock
	if clock == nil {
		clock = SystemClock{}
	}
	loc := cfg.Location
	if loc == nil {
		loc = time.UTC
	}
	logger := cfg.Logger
	if logger == nil {
		logger = noopLogger{}
	}
	runCtx, cancel := context.WithCancel(context.Background())
	return &Engine{
		runner:    cfg.Runner,
		store:     cfg.Store,
		clock:     clock,
		loc:       loc,
		logger:    logger,
		entries:   make(map[int64]*entry),
		runCtx:    runCtx,
		runCancel: cancel,
	}
}

// Start registers every triggerable schedule. Fired runs carry ctx's
// values but not its cancellation; only Stop cancels a run.
func (e *Engine) Start(ctx context.Context, src Source) error {
	e.mu.Lock()
	if e.stopped {
		e.mu.Unlock()
		return ErrStopped
	}
	e.runCancel()
	e.runCtx, e.runCancel = context.WithCancel(context.WithoutCancel(ctx))
	e.mu.Unlock()

	return e.ReloadAll(ctx, src)
}

// ReloadAll drops every trigger and registers the schedules src lists.
// Dormant schedules are logged and skipped.
func (e *Engine) ReloadAll(ctx context.Context, src Source) error {
	schedules, err := src.Triggerable(ctx)
	if err != nil {
		return fmt.Errorf("listing schedules: %w", err)
	}

	e.mu.Lock()
	for id := range e.entries {
		e.removeLocked(id)
		e.persist(ctx, id, nil)
	}
	e.mu.Unlock()

	registered := 0
	for i := range schedules {
		if err := e.Register(ctx, &schedules[i]); err != nil {
			var regErr *RegistrationError
			if errors.As(err, &regErr) {
				continue
			}
			return err
		}
		registered++
	}
	e.logger.Info("triggers loaded", "registered", registered, "dormant", len(schedules)-registered)
	return nil
}

// Register arms s, replacing any existing trigger for the same id, and
// persists its next fire time. A dormant schedule returns a
// *RegistrationError and holds no trigger.
func (e *Engine) Register(ctx context.Context, s *automation.Schedule) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	if e.stopped {
		return ErrStopped
	}
	e.removeLocked(s.ID)

	now := e.clock.Now()
	p, err := planFor(s, now, e.loc)
	if err != nil {
		e.logger.Warn("schedule left dormant", "schedule_id", s.ID, "name", s.Name, "reason", err)
		return &RegistrationError{ScheduleID: s.ID, Err: err}
	}

	e.version++
	ent := &entry{id: s.ID, name: s.Name, plan: p, version: e.version}
	e.entries[s.ID] = ent
	e.armLocked(ctx, ent, now)

	e.logger.Debug("schedule registered", "schedule_id", s.ID, "expr", p.expr, "next", ent.next)
	return nil
}

// Deregister drops the trigger for id and clears its next fire time.
// Unknown ids are not an error.
func (e *Engine) Deregister(ctx context.Context, id int64) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.removeLocked(id)
	e.persist(ctx, id, nil)
}

// Next returns the next fire time of a registered schedule.
func (e *Engine) Next(id int64) (time.Time, bool) {
	e.mu.Lock()
	defer e.mu.Unlock()
	ent, ok := e.entries[id]
	if !ok {
		return time.Time{}, false
	}
	return ent.next, true
}

// Entries lists armed schedules ordered by next fire time.
func (e *Engine) Entries() []Entry {
	e.mu.Lock()
	out := make([]Entry, 0, len(e.entries))
	for _, ent := range e.entries {
		out = append(out, Entry{ScheduleID: ent.id, Name: ent.name, Expr: ent.plan.expr, Next: ent.next})
	}
	e.mu.Unlock()

	sort.Slice(out, func(i, j int) bool {
		if out[i].Next.Equal(out[j].Next) {
			return out[i].ScheduleID < out[j].ScheduleID
		}
		return out[i].Next.Before(out[j].Next)
	})
	return out
}

// Stop disarms every timer and waits for in-flight runs. When ctx ends
// first, the runs' context is cancelled and Stop returns ctx's error.
func (e *Engine) Stop(ctx context.Context) error {
	e.mu.Lock()
	e.stopped = true
	for id, ent := range e.entries {
		ent.timer.Stop()
		delete(e.entries, id)
	}
	e.mu.Unlock()

	done := make(chan struct{})
	go func() {
		e.inflight.Wait()
		close(done)
	}()

	select {
	case <-done:
		e.runCancel()
		return nil
	case <-ctx.Done():
		e.runCancel()
		<-done
		return ctx.Err()
	}
}

// armLocked computes the next fire after now and sets the timer.
// An exhausted plan removes the entry.
func (e *Engine) armLocked(ctx context.Context, ent *entry, now time.Time) {
	next := ent.plan.next(now, e.loc)
	if next.IsZero() {
		delete(e.entries, ent.id)
		e.persist(ctx, ent.id, nil)
		return
	}

	ent.next = next
	version := ent.version
	ent.timer = e.clock.AfterFunc(next.Sub(now), func() { e.fire(ent.id, version) })
	e.persist(ctx, ent.id, &next)
}

// fire runs on the timer's goroutine. Stale callbacks from replaced
// or removed entries are ignored.
func (e *Engine) fire(id int64, version uint64) {
	e.mu.Lock()
	ent, ok := e.entries[id]
	if !ok || ent.version != version || e.stopped {
		e.mu.Unlock()
		return
	}

	runCtx := e.runCtx
	e.inflight.Add(1)
	if ent.plan.isOne {
		delete(e.entries, id)
		e.persist(runCtx, id, nil)
	} else {
		// Step past the fire instant so a timer firing early does not re-arm for the same minute.
		e.armLocked(runCtx, ent, maxTime(e.clock.Now(), ent.next))
	}
	e.mu.Unlock()

	e.logger.Info("schedule fired", "schedule_id", id)
	go e.run(runCtx, id)
}

func (e *Engine) run(ctx context.Context, id int64) {
	defer e.inflight.Done()
	job := cron.FuncJob(func() { e.runner.Run(ctx, id) })
	cron.NewChain(cron.Recover(cronLogger{log: e.logger, scheduleID: id})).Then(job).Run()
}

// cronLogger adapts Logger to cron.Logger for the job chain.
type cronLogger struct {
	log        Logger
	scheduleID int64
}

func (l cronLogger) Info(msg string, keysAndValues ...interface{}) {
	l.log.Debug(msg, append(keysAndValues, "schedule_id", l.scheduleID)...)
}

func (l cronLogger) Error(err error, msg string, keysAndValues ...interface{}) {
	l.log.Error("schedule run "+msg, append(keysAndValues, "schedule_id", l.scheduleID, "error", err)...)
}

func (e *Engine) removeLocked(id int64) {
	ent, ok := e.entries[id]
	if !ok {
		return
	}
	ent.timer.Stop()
	delete(e.entries, id)
}

func (e *Engine) persist(ctx context.Context, id int64, next *time.Time) {
	if e.store == nil {
		return
	}
	if next != nil {
		utc := next.UTC()
		next = &utc
	}
	if err := e.store.SetNextExecution(context.WithoutCancel(ctx), id, next); err != nil {
		if errors.Is(err, automation.ErrScheduleNotFound) {
			return
		}
		e.logger.Warn("persisting next execution", "schedule_id", id, "error", err)
	}
}

func maxTime(a, b time.Time) time.Time {
	if a.After(b) {
		return a
	}
	return b
}
