package api

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/nerrad567/grott-scheduler/internal/audit"
	"github.com/nerrad567/grott-scheduler/internal/automation"
	"github.com/nerrad567/grott-scheduler/internal/command"
	"github.com/nerrad567/grott-scheduler/internal/gateway"
	"github.com/nerrad567/grott-scheduler/internal/infrastructure/config"
	"github.com/nerrad567/grott-scheduler/internal/infrastructure/database"
	"github.com/nerrad567/grott-scheduler/internal/infrastructure/logging"
	"github.com/nerrad567/grott-scheduler/internal/register"
	"github.com/nerrad567/grott-scheduler/internal/settings"
	"github.com/nerrad567/grott-scheduler/internal/trigger"
	_ "github.com/nerrad567/grott-scheduler/migrations"
)

// fakeExecutor records ExecuteNow calls.
type fakeExecutor struct {
	mu       sync.Mutex
	summary  *automation.RunSummary
	err      error
	calls    []int64
	detached bool
}

func (f *fakeExecutor) ExecuteNow(ctx context.Context, id int64) (*automation.RunSummary, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls = append(f.calls, id)
	f.detached = ctx.Done() == nil
	return f.summary, f.err
}

// fakeDevice answers live reads from a fixed table.
type fakeDevice struct {
	mu     sync.Mutex
	values map[int]string
	fail   map[int]error
	serial []string
}

func (f *fakeDevice) ReadRegister(_ context.Context, serial string, n int) (gateway.ReadResult, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.serial = append(f.serial, serial)
	if err, ok := f.fail[n]; ok {
		return gateway.ReadResult{}, err
	}
	v, ok := f.values[n]
	if !ok {
		v = "0"
	}
	return gateway.ReadResult{Value: v, Raw: `{"value": ` + v + `}`}, nil
}

func (f *fakeDevice) ReadValue(ctx context.Context, serial string, n int) (string, error) {
	res, err := f.ReadRegister(ctx, serial, n)
	return res.Value, err
}

type fakeTriggers struct {
	entries []trigger.Entry
}

func (f fakeTriggers) Entries() []trigger.Entry { return f.entries }

type checkerFunc func(ctx context.Context) error

func (f checkerFunc) HealthCheck(ctx context.Context) error { return f(ctx) }

// testEnv is a server backed by an in-memory database.
type testEnv struct {
	srv     *Server
	handler http.Handler
	exec    *fakeExecutor
	device  *fakeDevice
	regs    *register.SQLiteRepository
}

func testLogger() *logging.Logger {
	return logging.NewWithWriter(config.LoggingConfig{Level: "error"}, "test", io.Discard)
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()
	db, err := database.Open(database.Config{Path: database.MemoryPath, BusyTimeout: 1})
	if err != nil {
		t.Fatalf("database.Open() error = %v", err)
	}
	t.Cleanup(func() { db.Close() }) //nolint:errcheck // Test cleanup
	if err := db.Migrate(context.Background()); err != nil {
		t.Fatalf("Migrate() error = %v", err)
	}

	logger := testLogger()
	regs := register.NewSQLiteRepository(db.DB)
	device := &fakeDevice{values: map[int]string{}, fail: map[int]error{}}
	exec := &fakeExecutor{}
	resolver := settings.NewResolver(settings.NewSQLiteRepository(db.DB),
		config.GatewayConfig{Host: "grott", Port: 5782, InverterSerial: "SER1", MaxRetries: 3, RetryDelay: 10},
		config.PushoverConfig{})

	srv, err := New(Deps{
		Logger:      logger,
		Schedules:   automation.NewRegistry(automation.NewSQLiteRepository(db.DB)),
		Executor:    exec,
		Logs:        automation.NewSQLiteRepository(db.DB),
		Registers:   regs,
		Syncer:      register.NewSyncer(regs, device),
		Device:      device,
		Templates:   command.NewTemplateRepository(db.DB),
		Settings:    resolver,
		Triggers:    fakeTriggers{},
		Audit:       audit.NewRecorder(audit.NewSQLiteRepository(db.DB), logger),
		Health:      map[string]HealthChecker{"database": db},
		ExternalHub: NewHub(config.WebSocketConfig{}, logger),
		Version:     "test",
	})
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}
	return &testEnv{srv: srv, handler: srv.buildRouter(), exec: exec, device: device, regs: regs}
}

// do sends a request and decodes a JSON response into out when non-nil.
func (e *testEnv) do(t *testing.T, method, path, body string, out any) int {
	t.Helper()
	var rdr io.Reader
	if body != "" {
		rdr = strings.NewReader(body)
	}
	req := httptest.NewRequest(method, "/api/v1"+path, rdr)
	if body != "" {
		req.Header.Set("Content-Type", "application/json")
	}
	rec := httptest.NewRecorder()
	e.handler.ServeHTTP(rec, req)

	if out != nil && rec.Body.Len() > 0 {
		if err := json.Unmarshal(rec.Body.Bytes(), out); err != nil {
			t.Fatalf("%s %s: decoding %q: %v", method, path, rec.Body.String(), err)
		}
	}
	return rec.Code
}

func TestNew_RequiresDependencies(t *testing.T) {
	if _, err := New(Deps{}); err == nil {
		t.Error("New() without logger should fail")
	}
	if _, err := New(Deps{Logger: testLogger()}); err == nil {
		t.Error("New() without stores should fail")
	}
}

func TestHealth(t *testing.T) {
	env := newTestEnv(t)

	var body map[string]any
	if code := env.do(t, http.MethodGet, "/health", "", &body); code != http.StatusOK {
		t.Fatalf("GET /health = %d, want 200", code)
	}
	if body["status"] != "ok" || body["version"] != "test" {
		t.Errorf("health body = %v", body)
	}

	env.srv.health["gateway"] = checkerFunc(func(context.Context) error { return errors.New("unreachable") })
	body = nil
	if code := env.do(t, http.MethodGet, "/health", "", &body); code != http.StatusServiceUnavailable {
		t.Fatalf("GET /health with failing component = %d, want 503", code)
	}
	components, _ := body["components"].(map[string]any) //nolint:errcheck // Checked below
	if body["status"] != "degraded" || components["gateway"] != "unreachable" || components["database"] != "ok" {
		t.Errorf("degraded health body = %v", body)
	}
}

func TestConfigEndpoints(t *testing.T) {
	env := newTestEnv(t)

	var cfg map[string]string
	if code := env.do(t, http.MethodGet, "/config", "", &cfg); code != http.StatusOK {
		t.Fatalf("GET /config = %d", code)
	}
	if cfg[settings.KeyGrottHost] != "grott" || cfg[settings.KeyGrottPort] != "5782" {
		t.Errorf("defaults = %v", cfg)
	}

	cfg = nil
	code := env.do(t, http.MethodPut, "/config", `{"grott_port": 5783, "inverter_serial": "SER9"}`, &cfg)
	if code != http.StatusOK {
		t.Fatalf("PUT /config = %d", code)
	}
	if cfg[settings.KeyGrottPort] != "5783" || cfg[settings.KeyInverterSerial] != "SER9" {
		t.Errorf("after update = %v", cfg)
	}

	tests := []struct {
		name string
		body string
		want int
	}{
		{"unknown key", `{"colour": "red"}`, http.StatusBadRequest},
		{"non-numeric port", `{"grott_port": "abc"}`, http.StatusBadRequest},
		{"nested value", `{"grott_host": {"a": 1}}`, http.StatusBadRequest},
		{"empty body", `{}`, http.StatusBadRequest},
		{"trailing data", `{"grott_host": "x"} {}`, http.StatusBadRequest},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if code := env.do(t, http.MethodPut, "/config", tt.body, nil); code != tt.want {
				t.Errorf("PUT /config %s = %d, want %d", tt.body, code, tt.want)
			}
		})
	}
}

func TestListTriggers(t *testing.T) {
	env := newTestEnv(t)
	next := time.Date(2026, 10, 20, 6, 30, 0, 0, time.UTC)
	env.srv.triggers = fakeTriggers{entries: []trigger.Entry{{ScheduleID: 4, Name: "charge", Expr: "30 6 * * *", Next: next}}}

	var body struct {
		Triggers []trigger.Entry `json:"triggers"`
		Count    int             `json:"count"`
	}
	if code := env.do(t, http.MethodGet, "/triggers", "", &body); code != http.StatusOK {
		t.Fatalf("GET /triggers = %d", code)
	}
	if body.Count != 1 || body.Triggers[0].ScheduleID != 4 || !body.Triggers[0].Next.Equal(next) {
		t.Errorf("triggers = %+v", body)
	}
}

func TestMiddleware_RequestIDAndCORS(t *testing.T) {
	env := newTestEnv(t)
	env.srv.cfg.CORS.AllowedOrigins = []string{"http://dash.local"}

	req := httptest.NewRequest(http.MethodOptions, "/api/v1/schedules", nil)
	req.Header.Set("Origin", "http://dash.local")
	rec := httptest.NewRecorder()
	env.handler.ServeHTTP(rec, req)

	if rec.Code != http.StatusNoContent {
		t.Errorf("preflight status = %d, want 204", rec.Code)
	}
	if got := rec.Header().Get("Access-Control-Allow-Origin"); got != "http://dash.local" {
		t.Errorf("Allow-Origin = %q", got)
	}
	if rec.Header().Get("X-Request-ID") == "" {
		t.Error("X-Request-ID header missing")
	}
}

func TestBodySizeLimit(t *testing.T) {
	env := newTestEnv(t)
	huge := `{"name": "` + strings.Repeat("x", 2<<20) + `"}`

	req := httptest.NewRequest(http.MethodPost, "/api/v1/templates", bytes.NewBufferString(huge))
	rec := httptest.NewRecorder()
	env.handler.ServeHTTP(rec, req)
	if rec.Code != http.StatusBadRequest {
		t.Errorf("oversized body status = %d, want 400", rec.Code)
	}
}

func TestRecoveryMiddleware(t *testing.T) {
	env := newTestEnv(t)
	h := env.srv.requestIDMiddleware(env.srv.recoveryMiddleware(http.HandlerFunc(func(http.ResponseWriter, *http.Request) {
		panic("handler bug")
	})))

	req := httptest.NewRequest(http.MethodGet, "/boom", nil)
	req.Header.Set("X-Request-ID", "req-7")
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)

	if rec.Code != http.StatusInternalServerError {
		t.Errorf("status = %d, want 500", rec.Code)
	}
	if got := rec.Header().Get("X-Request-ID"); got != "req-7" {
		t.Errorf("X-Request-ID = %q, want the caller's id", got)
	}
}
