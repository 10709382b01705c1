package main

import (
	"context"
	"io"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/nerrad567/grott-scheduler/internal/infrastructure/config"
	"github.com/nerrad567/grott-scheduler/internal/infrastructure/logging"
	"github.com/nerrad567/grott-scheduler/internal/notify"
	"github.com/nerrad567/grott-scheduler/internal/settings"
)

func discardLogger() *logging.Logger {
	return logging.NewWithWriter(config.LoggingConfig{Level: "error"}, "test", io.Discard)
}

func writeConfig(t *testing.T, body string) {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	if err := os.WriteFile(path, []byte(body), 0600); err != nil {
		t.Fatalf("writing config: %v", err)
	}
	t.Setenv("GROTTSCHED_CONFIG", path)
}

func TestRun_InvalidConfig(t *testing.T) {
	t.Setenv("GROTTSCHED_CONFIG", "/nonexistent/path/config.yaml")

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := run(ctx); err == nil {
		t.Fatal("run() should fail with invalid config path")
	}
}

func TestRun_InvalidTimezone(t *testing.T) {
	writeConfig(t, `
site:
  id: test-site
  timezone: "Mars/Olympus"
logging:
  output: discard
`)
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := run(ctx); err == nil {
		t.Fatal("run() should reject an unknown timezone")
	}
}

func TestRun_StartsAndStops(t *testing.T) {
	dir := t.TempDir()
	writeConfig(t, `
site:
  id: test-site
  timezone: "Europe/London"
database:
  path: "`+filepath.Join(dir, "grottsched.db")+`"
mqtt:
  enabled: false
influxdb:
  enabled: false
notifications:
  pushover:
    enabled: false
api:
  host: "127.0.0.1"
  port: 18765
logging:
  output: discard
`)

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	if err := run(ctx); err != nil {
		t.Fatalf("run() error = %v", err)
	}
	if _, err := os.Stat(filepath.Join(dir, "grottsched.db")); err != nil {
		t.Errorf("database file not created: %v", err)
	}
}

func TestGetConfigPath(t *testing.T) {
	t.Setenv("GROTTSCHED_CONFIG", "")
	if got := getConfigPath(); got != defaultConfigPath {
		t.Errorf("getConfigPath() = %q, want %q", got, defaultConfigPath)
	}
	t.Setenv("GROTTSCHED_CONFIG", "/etc/grottsched.yaml")
	if got := getConfigPath(); got != "/etc/grottsched.yaml" {
		t.Errorf("getConfigPath() = %q", got)
	}
}

func TestDispatchTimeouts(t *testing.T) {
	got := dispatchTimeouts(config.GatewayConfig{ReadTimeout: 10, WriteTimeout: 30, BlockWriteTimeout: 45})
	if got.Read != 10*time.Second || got.Write != 30*time.Second || got.BlockWrite != 45*time.Second || got.Custom != 10*time.Second {
		t.Errorf("dispatchTimeouts() = %+v", got)
	}
}

type noCreds struct{}

func (noCreds) Pushover(context.Context) (settings.Pushover, error) { return settings.Pushover{}, nil }

type nopPublisher struct{}

func (nopPublisher) Publish(string, []byte, byte, bool) error { return nil }

func TestBuildNotifier(t *testing.T) {
	tests := []struct {
		name     string
		cfg      config.NotificationsConfig
		pub      notify.Publisher
		channels int
	}{
		{"none", config.NotificationsConfig{}, nil, 0},
		{"pushover", config.NotificationsConfig{Pushover: config.PushoverConfig{Enabled: true}}, nil, 1},
		{"mqtt without client", config.NotificationsConfig{MQTT: config.MQTTAlertsConfig{Enabled: true}}, nil, 0},
		{"both", config.NotificationsConfig{
			Pushover: config.PushoverConfig{Enabled: true},
			MQTT:     config.MQTTAlertsConfig{Enabled: true},
		}, nopPublisher{}, 2},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			n := buildNotifier(tt.cfg, noCreds{}, tt.pub, discardLogger())
			if tt.channels == 0 {
				if n != nil {
					t.Errorf("buildNotifier() = %v, want nil", n)
				}
				return
			}
			multi, ok := n.(notify.Multi)
			if !ok || len(multi) != tt.channels {
				t.Errorf("buildNotifier() = %#v, want %d channels", n, tt.channels)
			}
		})
	}
}

type recordingRunner struct {
	mu  sync.Mutex
	ids []int64
	ctx []context.Context
}

func (r *recordingRunner) Run(ctx context.Context, id int64) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.ids = append(r.ids, id)
	r.ctx = append(r.ctx, ctx)
}

func TestCommandListener(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	runner := &recordingRunner{}
	l := newCommandListener(ctx, runner, nil, discardLogger())

	if err := l.handle("grottsched/command/execute/12", nil); err != nil {
		t.Fatalf("handle() error = %v", err)
	}
	if err := l.handle("grottsched/command/execute/abc", nil); err == nil {
		t.Error("handle() should reject a non-numeric id")
	}

	waitCtx, waitCancel := context.WithTimeout(context.Background(), time.Second)
	defer waitCancel()
	l.wait(waitCtx)

	runner.mu.Lock()
	if len(runner.ids) != 1 || runner.ids[0] != 12 {
		t.Errorf("runs = %v, want [12]", runner.ids)
	}
	if runner.ctx[0].Done() != nil {
		t.Error("run context should not be cancellable")
	}
	runner.mu.Unlock()

	cancel()
	if err := l.handle("grottsched/command/execute/13", nil); err != nil {
		t.Fatalf("handle() after shutdown error = %v", err)
	}
	l.wait(waitCtx)
	runner.mu.Lock()
	defer runner.mu.Unlock()
	if len(runner.ids) != 1 {
		t.Errorf("run started after shutdown: %v", runner.ids)
	}
}
