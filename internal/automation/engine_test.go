package automation

import (
	"context"
	"errors"
	"net/http"
	"strconv"
	"strings"
	"sync"
	"testing"

	"github.com/nerrad567/grott-scheduler/internal/command"
	"github.com/nerrad567/grott-scheduler/internal/gateway"
	"github.com/nerrad567/grott-scheduler/internal/infrastructure/influxdb"
	"github.com/nerrad567/grott-scheduler/internal/settings"
)

type fakeBuilder struct{}

// Build mirrors command.Builder without a template store: template
// references always fail.
func (fakeBuilder) Build(_ context.Context, s command.Spec) (command.Command, error) {
	cmd, err := command.FromSpec(s)
	if err != nil {
		return command.Command{}, &command.BuildError{Err: err}
	}
	if cmd.Kind == command.KindTemplate {
		return command.Command{}, &command.BuildError{Err: command.ErrTemplateNotFound}
	}
	if cmd.Kind == command.KindRegister {
		if v, err := command.ParseRegisterValue(cmd.Value); err == nil {
			cmd.CacheUpdates = map[int]int{cmd.Register: v}
		}
	}
	return cmd, nil
}

type fakeSettings struct {
	gw  settings.Gateway
	err error
}

func (f fakeSettings) Gateway(context.Context) (settings.Gateway, error) { return f.gw, f.err }

type fakeCache struct {
	mu     sync.Mutex
	values map[int]int
	device map[int]bool
}

func newFakeCache() *fakeCache {
	return &fakeCache{values: make(map[int]int), device: make(map[int]bool)}
}

func (f *fakeCache) SetValue(_ context.Context, n, v int, fromDevice bool) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.values[n] = v
	f.device[n] = fromDevice
	return nil
}

func (f *fakeCache) SetValues(_ context.Context, values map[int]int) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	for n, v := range values {
		f.values[n] = v
	}
	return nil
}

type fakeNotifier struct {
	titles   []string
	messages []string
}

func (f *fakeNotifier) Notify(_ context.Context, title, message string) error {
	f.titles = append(f.titles, title)
	f.messages = append(f.messages, message)
	return nil
}

type fakeHub struct {
	events []ExecutionEvent
}

func (f *fakeHub) Broadcast(channel string, payload any) {
	if ev, ok := payload.(ExecutionEvent); ok && channel == executedEvent {
		f.events = append(f.events, ev)
	}
}

type fakeMQTT struct {
	topics []string
}

func (f *fakeMQTT) Publish(topic string, _ []byte, _ byte, _ bool) error {
	f.topics = append(f.topics, topic)
	return nil
}

type fakeMetrics struct {
	points []influxdb.ExecutionPoint
}

func (f *fakeMetrics) WriteExecution(p influxdb.ExecutionPoint) {
	f.points = append(f.points, p)
}

type executorFixture struct {
	exec      *Executor
	repo      *SQLiteRepository
	transport *fakeTransport
	reader    *fakeReader
	cache     *fakeCache
	notifier  *fakeNotifier
	hub       *fakeHub
	mqtt      *fakeMQTT
	metrics   *fakeMetrics
}

// failRegister makes every write to register fail with HTTP 500.
func failRegister(register string) func(method, url string) (gateway.Response, error) {
	return func(_, url string) (gateway.Response, error) {
		if strings.Contains(url, "register="+register+"&") {
			return gateway.Response{StatusCode: http.StatusInternalServerError, Body: "boom"}, nil
		}
		return gateway.Response{StatusCode: http.StatusOK, Body: "OK"}, nil
	}
}

func newExecutorFixture(t *testing.T) *executorFixture {
	t.Helper()
	f := &executorFixture{
		repo:      setupTestRepo(t),
		transport: &fakeTransport{handler: failRegister("none")},
		reader:    &fakeReader{value: "50"},
		cache:     newFakeCache(),
		notifier:  &fakeNotifier{},
		hub:       &fakeHub{},
		mqtt:      &fakeMQTT{},
		metrics:   &fakeMetrics{},
	}
	dispatcher, _ := newTestDispatcher(f.transport)
	f.exec = NewExecutor(ExecutorConfig{
		Schedules:  f.repo,
		Logs:       f.repo,
		Builder:    fakeBuilder{},
		Conditions: NewConditionEvaluator(f.reader),
		Dispatcher: dispatcher,
		Cache:      f.cache,
		Settings: fakeSettings{gw: settings.Gateway{
			Host: "grott", Port: 5782, InverterSerial: "SER1", MaxRetries: 3,
		}},
		Notifier:             f.notifier,
		MQTT:                 f.mqtt,
		Hub:                  f.hub,
		Metrics:              f.metrics,
		SerializePerInverter: true,
	})
	return f
}

func (f *executorFixture) create(t *testing.T, s *Schedule) *Schedule {
	t.Helper()
	if err := f.repo.Create(context.Background(), s); err != nil {
		t.Fatalf("Create(%s) error = %v", s.Name, err)
	}
	return s
}

func TestExecutor_SuccessfulWrite(t *testing.T) {
	f := newExecutorFixture(t)
	ctx := context.Background()
	s := f.create(t, testSchedule("charge on"))

	run, err := f.exec.ExecuteNow(ctx, s.ID)
	if err != nil {
		t.Fatalf("ExecuteNow() error = %v", err)
	}
	if run.RunID == "" || len(run.Entries) != 1 {
		t.Fatalf("run = %+v", run)
	}
	e := run.Entries[0]
	if !e.Success || e.Attempts != 1 || !e.ConditionMet || e.Response == nil || *e.Response != "OK" {
		t.Errorf("entry = %+v", e)
	}
	if e.ConditionDetails == nil || *e.ConditionDetails != "No condition" {
		t.Errorf("ConditionDetails = %v", e.ConditionDetails)
	}
	if f.cache.values[1044] != 1 {
		t.Errorf("cache[1044] = %d, want 1", f.cache.values[1044])
	}
	if len(f.notifier.messages) != 0 {
		t.Errorf("unexpected notification %v", f.notifier.messages)
	}

	got, err := f.repo.GetByID(ctx, s.ID)
	if err != nil {
		t.Fatalf("GetByID() error = %v", err)
	}
	if got.LastExecutedAt == nil {
		t.Error("last_executed_at not set")
	}

	logs, err := f.repo.ListLogs(ctx, LogFilter{})
	if err != nil || len(logs) != 1 {
		t.Fatalf("ListLogs() = %d, %v", len(logs), err)
	}
	if len(f.hub.events) != 1 || f.hub.events[0].Outcome != OutcomeSuccess {
		t.Errorf("hub events = %+v", f.hub.events)
	}
	if len(f.mqtt.topics) != 1 || f.mqtt.topics[0] != "grottsched/execution/"+itoa(s.ID) {
		t.Errorf("mqtt topics = %v", f.mqtt.topics)
	}
	if len(f.metrics.points) != 1 {
		t.Fatalf("metric points = %d, want 1", len(f.metrics.points))
	}
	if p := f.metrics.points[0]; p.ScheduleID != s.ID || p.Outcome != OutcomeSuccess || !p.Success || p.Attempts != 1 {
		t.Errorf("metric point = %+v", p)
	}
}

func TestExecutor_FailureNotifies(t *testing.T) {
	f := newExecutorFixture(t)
	f.transport.handler = failRegister("1044")
	s := f.create(t, testSchedule("charge on"))

	run, err := f.exec.ExecuteNow(context.Background(), s.ID)
	if err != nil {
		t.Fatalf("ExecuteNow() error = %v", err)
	}
	e := run.Entries[0]
	if e.Success || e.Attempts != 3 {
		t.Errorf("entry = %+v", e)
	}
	if e.ErrorMessage == nil || !strings.HasPrefix(*e.ErrorMessage, "Failed after 3 attempts") {
		t.Errorf("ErrorMessage = %v", e.ErrorMessage)
	}
	if len(f.notifier.messages) != 1 {
		t.Fatalf("notifications = %d, want 1", len(f.notifier.messages))
	}
	if f.notifier.titles[0] != "Grott Scheduler Alert" {
		t.Errorf("title = %q", f.notifier.titles[0])
	}
	want := "Schedule 'charge on' failed after 3 attempts.\nError: HTTP 500: boom"
	if f.notifier.messages[0] != want {
		t.Errorf("message = %q, want %q", f.notifier.messages[0], want)
	}
	if _, ok := f.cache.values[1044]; ok {
		t.Error("failed write updated the cache")
	}
}

func TestExecutor_NoNotificationWhenDisabled(t *testing.T) {
	f := newExecutorFixture(t)
	f.transport.handler = failRegister("1044")
	s := testSchedule("quiet")
	s.PushoverEnabled = false
	f.create(t, s)

	if _, err := f.exec.ExecuteNow(context.Background(), s.ID); err != nil {
		t.Fatalf("ExecuteNow() error = %v", err)
	}
	if len(f.notifier.messages) != 0 {
		t.Errorf("notifications = %v", f.notifier.messages)
	}
}

func TestExecutor_ConditionSkip(t *testing.T) {
	f := newExecutorFixture(t)
	s := testSchedule("only when low")
	s.ConditionType = ConditionComparison
	s.ConditionRegister = intP(1014)
	s.ConditionOperator = strPtr(OpLess)
	s.ConditionValue = strPtr("20")
	f.create(t, s)

	child := testSchedule("child")
	child.ParentScheduleID = &s.ID
	child.ContinueOnParentFailure = true
	f.create(t, child)

	run, err := f.exec.ExecuteNow(context.Background(), s.ID)
	if err != nil {
		t.Fatalf("ExecuteNow() error = %v", err)
	}
	if len(run.Entries) != 1 {
		t.Fatalf("entries = %d, want only the skip", len(run.Entries))
	}
	e := run.Entries[0]
	if !e.Success || e.ConditionMet || e.Attempts != 0 || e.Command != "Skipped - condition not met" {
		t.Errorf("skip entry = %+v", e)
	}
	if *e.ConditionDetails != "Register 1014: 50 < 20 = false" {
		t.Errorf("details = %q", *e.ConditionDetails)
	}
	if len(f.transport.calls) != 0 {
		t.Errorf("skipped run dispatched %d requests", len(f.transport.calls))
	}
}

func TestExecutor_ChainAfterParentFailure(t *testing.T) {
	f := newExecutorFixture(t)
	f.transport.handler = failRegister("1044")

	parent := f.create(t, testSchedule("parent"))

	a := testSchedule("A")
	a.ParentScheduleID = &parent.ID
	a.ExecutionOrder = 1
	a.RegisterNumber = intP(1090)
	f.create(t, a)

	b := testSchedule("B")
	b.ParentScheduleID = &parent.ID
	b.ExecutionOrder = 2
	b.ContinueOnParentFailure = true
	b.RegisterNumber = intP(1091)
	f.create(t, b)

	off := testSchedule("off")
	off.ParentScheduleID = &parent.ID
	off.ExecutionOrder = 3
	off.Enabled = false
	f.create(t, off)

	run, err := f.exec.ExecuteNow(context.Background(), parent.ID)
	if err != nil {
		t.Fatalf("ExecuteNow() error = %v", err)
	}
	if len(run.Entries) != 3 {
		t.Fatalf("entries = %d, want parent, A skip, B run", len(run.Entries))
	}

	parentLog, aLog, bLog := run.Entries[0], run.Entries[1], run.Entries[2]
	if parentLog.Success {
		t.Error("parent should have failed")
	}
	if aLog.ScheduleID != a.ID || aLog.Command != "Skipped - parent schedule failed" ||
		!aLog.Success || aLog.ConditionMet || *aLog.ConditionDetails != "Parent schedule failed" {
		t.Errorf("A entry = %+v", aLog)
	}
	if bLog.ScheduleID != b.ID || !bLog.Success || bLog.Attempts != 1 {
		t.Errorf("B entry = %+v", bLog)
	}
	for _, child := range []ExecutionLog{aLog, bLog} {
		if child.ParentExecutionID == nil || *child.ParentExecutionID != parentLog.ID {
			t.Errorf("child %d parent_execution_id = %v, want %d", child.ScheduleID, child.ParentExecutionID, parentLog.ID)
		}
	}
	if aLog.ExecutionOrder != 1 || bLog.ExecutionOrder != 2 {
		t.Errorf("orders = %d, %d", aLog.ExecutionOrder, bLog.ExecutionOrder)
	}
}

func TestExecutor_ChildrenRunInOrderAfterSuccess(t *testing.T) {
	f := newExecutorFixture(t)
	parent := f.create(t, testSchedule("parent"))
	for _, order := range []int{2, 1} {
		c := testSchedule("child " + itoa(int64(order)))
		c.ParentScheduleID = &parent.ID
		c.ExecutionOrder = order
		f.create(t, c)
	}

	run, err := f.exec.ExecuteNow(context.Background(), parent.ID)
	if err != nil {
		t.Fatalf("ExecuteNow() error = %v", err)
	}
	if len(run.Entries) != 3 {
		t.Fatalf("entries = %d, want 3", len(run.Entries))
	}
	if run.Entries[1].ScheduleName != "child 1" || run.Entries[2].ScheduleName != "child 2" {
		t.Errorf("order = %s, %s", run.Entries[1].ScheduleName, run.Entries[2].ScheduleName)
	}
}

func TestExecutor_BuildFailure(t *testing.T) {
	f := newExecutorFixture(t)
	s := testSchedule("missing template")
	s.CommandType = command.KindTemplate
	s.TemplateName = strPtr("nope")
	s.RegisterNumber, s.RegisterValue = nil, nil
	f.create(t, s)

	run, err := f.exec.ExecuteNow(context.Background(), s.ID)
	if err != nil {
		t.Fatalf("ExecuteNow() error = %v", err)
	}
	e := run.Entries[0]
	if e.Success || e.Attempts != 0 || e.ErrorMessage == nil {
		t.Errorf("entry = %+v", e)
	}
	if !strings.Contains(*e.ErrorMessage, "template not found") {
		t.Errorf("ErrorMessage = %q", *e.ErrorMessage)
	}
	if len(f.transport.calls) != 0 {
		t.Error("build failure still dispatched")
	}
	if len(f.hub.events) != 1 || f.hub.events[0].Outcome != OutcomeBuildFailed {
		t.Errorf("events = %+v", f.hub.events)
	}
}

func TestExecutor_ReadCachesDeviceValue(t *testing.T) {
	f := newExecutorFixture(t)
	f.transport.handler = func(string, string) (gateway.Response, error) {
		return gateway.Response{StatusCode: http.StatusOK, Body: `{"value": 88}`}, nil
	}
	s := testSchedule("read soc")
	s.CommandType = command.KindRead
	s.RegisterNumber = intP(1014)
	s.RegisterValue = nil
	f.create(t, s)

	run, err := f.exec.ExecuteNow(context.Background(), s.ID)
	if err != nil {
		t.Fatalf("ExecuteNow() error = %v", err)
	}
	if r := run.Entries[0].Response; r == nil || *r != "Register 1014 = 88" {
		t.Errorf("Response = %v", r)
	}
	if f.cache.values[1014] != 88 || !f.cache.device[1014] {
		t.Errorf("cache = %v / %v", f.cache.values, f.cache.device)
	}
}

func TestExecutor_SerialOverride(t *testing.T) {
	f := newExecutorFixture(t)
	s := testSchedule("second inverter")
	s.InverterSerial = strPtr("SER2")
	f.create(t, s)

	if _, err := f.exec.ExecuteNow(context.Background(), s.ID); err != nil {
		t.Fatalf("ExecuteNow() error = %v", err)
	}
	if len(f.transport.calls) != 1 || !strings.Contains(f.transport.calls[0].url, "inverter=SER2") {
		t.Errorf("calls = %+v", f.transport.calls)
	}
}

func TestExecutor_Preconditions(t *testing.T) {
	f := newExecutorFixture(t)
	ctx := context.Background()

	if _, err := f.exec.ExecuteNow(ctx, 404); !errors.Is(err, ErrScheduleNotFound) {
		t.Errorf("missing schedule error = %v", err)
	}

	s := testSchedule("off")
	s.Enabled = false
	f.create(t, s)
	if _, err := f.exec.ExecuteNow(ctx, s.ID); !errors.Is(err, ErrScheduleDisabled) {
		t.Errorf("disabled schedule error = %v", err)
	}

	f.exec.Run(ctx, s.ID)
	logs, err := f.repo.ListLogs(ctx, LogFilter{})
	if err != nil || len(logs) != 0 {
		t.Errorf("disabled Run logged %d entries, err %v", len(logs), err)
	}
}

func TestExecutor_SettingsFailure(t *testing.T) {
	f := newExecutorFixture(t)
	f.exec.settings = fakeSettings{err: errors.New("db locked")}
	s := f.create(t, testSchedule("no settings"))

	run, err := f.exec.ExecuteNow(context.Background(), s.ID)
	if err != nil {
		t.Fatalf("ExecuteNow() error = %v", err)
	}
	if len(run.Entries) != 1 || run.Entries[0].Success || run.Entries[0].ErrorMessage == nil {
		t.Errorf("entries = %+v", run.Entries)
	}
}

func TestFailureMessage(t *testing.T) {
	got := FailureMessage("Night", 5, "timeout")
	want := "Schedule 'Night' failed after 5 attempts.\nError: timeout"
	if got != want {
		t.Errorf("FailureMessage() = %q, want %q", got, want)
	}
}

func itoa(n int64) string {
	return strconv.FormatInt(n, 10)
}
