package automation

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/nerrad567/grott-scheduler/internal/command"
	"github.com/nerrad567/grott-scheduler/internal/infrastructure/influxdb"
	"github.com/nerrad567/grott-scheduler/internal/infrastructure/mqtt"
)

// Execution log texts.
const (
	skippedConditionCommand = "Skipped - condition not met"
	skippedParentCommand    = "Skipped - parent schedule failed"
	parentFailedDetails     = "Parent schedule failed"

	notificationTitle = "Grott Scheduler Alert"
	executedEvent     = "schedule.executed"
)

// Outcome labels used in events and metrics.
const (
	OutcomeSuccess     = "success"
	OutcomeFailed      = "failed"
	OutcomeSkipped     = "skipped"
	OutcomeBuildFailed = "build_failed"
)

// CommandBuilder turns a schedule's command fields into a dispatchable command.
// *command.Builder satisfies it.
type CommandBuilder interface {
	Build(ctx context.Context, s command.Spec) (command.Command, error)
}

// ValueCache records register values after successful device I/O.
// *register.SQLiteRepository satisfies it.
type ValueCache interface {
	SetValue(ctx context.Context, number, value int, fromDevice bool) error
	SetValues(ctx context.Context, values map[int]int) error
}

// Notifier delivers failure alerts.
type Notifier interface {
	Notify(ctx context.Context, title, message string) error
}

// MQTTClient is the interface for publishing execution events.
type MQTTClient interface {
	Publish(topic string, payload []byte, qos byte, retained bool) error
}

// WSHub is the interface for broadcasting WebSocket events.
type WSHub interface {
	// Broadcast sends an event to all clients subscribed to the given channel.
	Broadcast(channel string, payload any)
}

// MetricsWriter records execution points. *influxdb.Client satisfies it.
type MetricsWriter interface {
	WriteExecution(p influxdb.ExecutionPoint)
}

// ExecutionEvent is broadcast and published after every log entry.
type ExecutionEvent struct {
	RunID string `json:"run_id"`
	ExecutionLog
	CommandType command.Kind `json:"command_type"`
	Outcome     string       `json:"outcome"`
	DurationMS  int64        `json:"duration_ms"`
}

// RunSummary lists the log entries one chain run produced, parent first.
type RunSummary struct {
	RunID      string         `json:"run_id"`
	ScheduleID int64          `json:"schedule_id"`
	Entries    []ExecutionLog `json:"entries"`
}

// ExecutorConfig wires the Executor's collaborators. Notifier, MQTT,
// Hub and Metrics may be nil.
type ExecutorConfig struct {
	Schedules  Repository
	Logs       LogStore
	Builder    CommandBuilder
	Conditions *ConditionEvaluator
	Dispatcher *Dispatcher
	Cache      ValueCache
	Settings   SettingsSource

	Notifier Notifier
	MQTT     MQTTClient
	Hub      WSHub
	Metrics  MetricsWriter

	// SerializePerInverter holds one lock per inverter serial across
	// build, dispatch and cache update.
	SerializePerInverter bool

	Logger Logger
}

// Executor runs a schedule and its ordered children, recording one log
// entry per node.
//
// No error escapes a run: build, condition and dispatch failures all
// end in log entries. Only a missing or disabled schedule is reported,
// and only to ExecuteNow callers.
//
// Thread Safety: Run and ExecuteNow are safe for concurrent use.
type Executor struct {
	schedules  Repository
	logs       LogStore
	builder    CommandBuilder
	conditions *ConditionEvaluator
	dispatcher *Dispatcher
	cache      ValueCache
	settings   SettingsSource

	notifier Notifier
	mqtt     MQTTClient
	hub      WSHub
	metrics  MetricsWriter

	serialize bool
	locksMu   sync.Mutex
	locks     map[string]*sync.Mutex

	now    func() time.Time
	logger Logger
}

// NewExecutor creates an Executor.
func NewExecutor(cfg ExecutorConfig) *Executor {
	logger := cfg.Logger
	if logger == nil {
		logger = noopLogger{}
	}
	return &Executor{
		schedules:  cfg.Schedules,
		logs:       cfg.Logs,
		builder:    cfg.Builder,
		conditions: cfg.Conditions,
		dispatcher: cfg.Dispatcher,
		cache:      cfg.Cache,
		settings:   cfg.Settings,
		notifier:   cfg.Notifier,
		mqtt:       cfg.MQTT,
		hub:        cfg.Hub,
		metrics:    cfg.Metrics,
		serialize:  cfg.SerializePerInverter,
		locks:      make(map[string]*sync.Mutex),
		now:        time.Now,
		logger:     logger,
	}
}

// Run executes a schedule for the trigger engine. A missing or disabled
// schedule is a silent no-op apart from a log line.
func (e *Executor) Run(ctx context.Context, scheduleID int64) {
	summary, err := e.ExecuteNow(ctx, scheduleID)
	if err != nil {
		if errors.Is(err, ErrScheduleNotFound) || errors.Is(err, ErrScheduleDisabled) {
			e.logger.Info("schedule not runnable", "schedule_id", scheduleID, "reason", err)
			return
		}
		e.logger.Error("loading schedule", "schedule_id", scheduleID, "error", err)
		return
	}
	e.logger.Debug("chain run finished", "schedule_id", scheduleID, "run_id", summary.RunID, "entries", len(summary.Entries))
}

// ExecuteNow runs a schedule immediately and returns its log entries.
//
// Returns ErrScheduleNotFound or ErrScheduleDisabled without running
// anything; every other outcome is in the summary.
func (e *Executor) ExecuteNow(ctx context.Context, scheduleID int64) (*RunSummary, error) {
	s, err := e.schedules.GetByID(ctx, scheduleID)
	if err != nil {
		return nil, err
	}
	if !s.Enabled {
		return nil, ErrScheduleDisabled
	}

	run := &RunSummary{RunID: uuid.NewString(), ScheduleID: scheduleID, Entries: []ExecutionLog{}}
	e.logger.Info("chain run started", "schedule_id", s.ID, "name", s.Name, "run_id", run.RunID)
	e.runChain(ctx, run, s)
	return run, nil
}

// nodeOutcome is what the chain walk needs from one node.
type nodeOutcome struct {
	dispatched bool
	success    bool
	logID      int64
}

// runChain runs parent then its children in execution_order. Chains are
// one level deep, so children's own children are never consulted.
func (e *Executor) runChain(ctx context.Context, run *RunSummary, parent *Schedule) {
	out := e.runNode(ctx, run, parent, nil)
	if !out.dispatched {
		return
	}

	children, err := e.schedules.ListChildren(ctx, parent.ID)
	if err != nil {
		e.logger.Error("listing chain children", "schedule_id", parent.ID, "error", err)
		return
	}

	var parentExecID *int64
	if out.logID != 0 {
		id := out.logID
		parentExecID = &id
	}

	for i := range children {
		child := &children[i]
		if !child.Enabled {
			e.logger.Debug("chain child disabled", "schedule_id", child.ID, "parent_id", parent.ID)
			continue
		}
		if !out.success && !child.ContinueOnParentFailure {
			e.logger.Info("chain child skipped after parent failure", "schedule_id", child.ID, "parent_id", parent.ID)
			details := parentFailedDetails
			e.record(ctx, run, child, parentExecID, &ExecutionLog{
				Command:          skippedParentCommand,
				Success:          true,
				ConditionMet:     false,
				ConditionDetails: &details,
			}, child.CommandType, OutcomeSkipped, e.now())
			continue
		}
		e.runNode(ctx, run, child, parentExecID)
	}
}

// runNode gates, builds, dispatches and records one schedule.
func (e *Executor) runNode(ctx context.Context, run *RunSummary, s *Schedule, parentExecID *int64) nodeOutcome {
	start := e.now()

	gw, err := e.settings.Gateway(ctx)
	if err != nil {
		msg := fmt.Sprintf("loading gateway settings: %v", err)
		e.logger.Error("run aborted", "schedule_id", s.ID, "error", err)
		e.record(ctx, run, s, parentExecID, &ExecutionLog{
			Command:      string(s.CommandType),
			ErrorMessage: &msg,
			ConditionMet: true,
		}, s.CommandType, OutcomeBuildFailed, start)
		return nodeOutcome{}
	}

	serial := gw.InverterSerial
	if s.InverterSerial != nil && *s.InverterSerial != "" {
		serial = *s.InverterSerial
	}

	met, details := e.conditions.Evaluate(ctx, serial, s.Condition())
	if !met {
		e.logger.Info("condition not met", "schedule_id", s.ID, "details", details)
		e.record(ctx, run, s, parentExecID, &ExecutionLog{
			Command:          skippedConditionCommand,
			Success:          true,
			ConditionMet:     false,
			ConditionDetails: &details,
		}, s.CommandType, OutcomeSkipped, start)
		return nodeOutcome{}
	}

	cmd, res, err := e.buildAndDispatch(ctx, s, Target{
		BaseURL:    gw.BaseURL(),
		Serial:     serial,
		MaxRetries: gw.MaxRetries,
		RetryDelay: gw.RetryDelay,
	})
	if err != nil {
		msg := err.Error()
		e.logger.Error("command build failed", "schedule_id", s.ID, "error", err)
		e.record(ctx, run, s, parentExecID, &ExecutionLog{
			Command:          string(s.CommandType),
			ErrorMessage:     &msg,
			ConditionMet:     true,
			ConditionDetails: &details,
		}, s.CommandType, OutcomeBuildFailed, start)
		return nodeOutcome{}
	}

	entry := &ExecutionLog{
		Command:          cmd.String(),
		Success:          res.Success,
		Attempts:         res.Attempts,
		ConditionMet:     true,
		ConditionDetails: &details,
	}
	outcome := OutcomeSuccess
	if res.Success {
		entry.Response = &res.Response
	} else {
		outcome = OutcomeFailed
		msg := res.Response
		if res.LastError != "" {
			msg += ": " + res.LastError
		}
		entry.ErrorMessage = &msg
	}
	logID := e.record(ctx, run, s, parentExecID, entry, cmd.Kind, outcome, start)

	if err := e.schedules.SetLastExecuted(context.WithoutCancel(ctx), s.ID, e.now()); err != nil {
		e.logger.Warn("updating last_executed_at", "schedule_id", s.ID, "error", err)
	}

	if !res.Success && s.PushoverEnabled {
		e.notifyFailure(ctx, s, res)
	}

	e.logger.Info("schedule executed",
		"schedule_id", s.ID,
		"success", res.Success,
		"attempts", res.Attempts,
		"duration_ms", e.now().Sub(start).Milliseconds(),
	)
	return nodeOutcome{dispatched: true, success: res.Success, logID: logID}
}

// buildAndDispatch holds the inverter lock, when enabled, from reading
// the block cache until the cache reflects the write.
func (e *Executor) buildAndDispatch(ctx context.Context, s *Schedule, target Target) (command.Command, DispatchResult, error) {
	unlock := e.lockSerial(target.Serial)
	defer unlock()

	cmd, err := e.builder.Build(ctx, s.CommandSpec())
	if err != nil {
		return command.Command{}, DispatchResult{}, err
	}

	res := e.dispatcher.Dispatch(ctx, cmd, target)
	if res.Success {
		e.updateCache(ctx, cmd, res)
	}
	return cmd, res, nil
}

func (e *Executor) updateCache(ctx context.Context, cmd command.Command, res DispatchResult) {
	if e.cache == nil {
		return
	}
	ctx = context.WithoutCancel(ctx)

	if cmd.Kind == command.KindRead {
		if res.ReadValue == nil {
			return
		}
		if err := e.cache.SetValue(ctx, cmd.Register, *res.ReadValue, true); err != nil {
			e.logger.Warn("caching read value", "register", cmd.Register, "error", err)
		}
		return
	}

	if len(cmd.CacheUpdates) == 0 {
		return
	}
	if err := e.cache.SetValues(ctx, cmd.CacheUpdates); err != nil {
		e.logger.Warn("caching written values", "registers", len(cmd.CacheUpdates), "error", err)
	}
}

func (e *Executor) lockSerial(serial string) func() {
	if !e.serialize {
		return func() {}
	}
	e.locksMu.Lock()
	mu, ok := e.locks[serial]
	if !ok {
		mu = &sync.Mutex{}
		e.locks[serial] = mu
	}
	e.locksMu.Unlock()

	mu.Lock()
	return mu.Unlock
}

// record appends a log entry and fans it out. Storage failures are
// logged; the entry still reaches the summary and observers.
func (e *Executor) record(ctx context.Context, run *RunSummary, s *Schedule, parentExecID *int64,
	entry *ExecutionLog, kind command.Kind, outcome string, start time.Time) int64 {
	ctx = context.WithoutCancel(ctx)

	entry.ScheduleID = s.ID
	entry.ScheduleName = s.Name
	entry.ParentExecutionID = parentExecID
	entry.ExecutionOrder = s.ExecutionOrder
	entry.ExecutedAt = e.now().UTC()

	id, err := e.logs.AppendLog(ctx, entry)
	if err != nil {
		e.logger.Error("appending execution log", "schedule_id", s.ID, "error", err)
	}
	run.Entries = append(run.Entries, *entry)

	e.publish(ExecutionEvent{
		RunID:        run.RunID,
		ExecutionLog: *entry,
		CommandType:  kind,
		Outcome:      outcome,
		DurationMS:   entry.ExecutedAt.Sub(start).Milliseconds(),
	})
	return id
}

func (e *Executor) publish(ev ExecutionEvent) {
	if e.hub != nil {
		e.hub.Broadcast(executedEvent, ev)
	}

	if e.mqtt != nil {
		payload, err := json.Marshal(ev)
		if err == nil {
			err = e.mqtt.Publish(mqtt.Topics{}.Execution(ev.ScheduleID), payload, 1, false)
		}
		if err != nil {
			e.logger.Debug("publishing execution event", "schedule_id", ev.ScheduleID, "error", err)
		}
	}

	if e.metrics != nil {
		e.metrics.WriteExecution(influxdb.ExecutionPoint{
			ScheduleID:  ev.ScheduleID,
			CommandType: string(ev.CommandType),
			Outcome:     ev.Outcome,
			Attempts:    ev.Attempts,
			Success:     ev.Success,
			Duration:    time.Duration(ev.DurationMS) * time.Millisecond,
		})
	}
}

// notifyFailure sends the failure alert. Delivery errors are logged only.
func (e *Executor) notifyFailure(ctx context.Context, s *Schedule, res DispatchResult) {
	if e.notifier == nil {
		return
	}
	errText := res.Response
	if res.LastError != "" {
		errText = res.LastError
	}
	msg := FailureMessage(s.Name, res.Attempts, errText)
	if err := e.notifier.Notify(context.WithoutCancel(ctx), notificationTitle, msg); err != nil {
		e.logger.Warn("failure notification not delivered", "schedule_id", s.ID, "error", err)
	}
}

// FailureMessage formats the alert body for a failed dispatch.
func FailureMessage(name string, attempts int, errText string) string {
	return fmt.Sprintf("Schedule '%s' failed after %d attempts.\nError: %s", name, attempts, errText)
}
