package settings

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/nerrad567/grott-scheduler/internal/infrastructure/config"
	"github.com/nerrad567/grott-scheduler/internal/infrastructure/database"
	_ "github.com/nerrad567/grott-scheduler/migrations"
)

func setupTestRepo(t *testing.T) *SQLiteRepository {
	t.Helper()
	db, err := database.Open(database.Config{Path: database.MemoryPath, BusyTimeout: 1})
	if err != nil {
		t.Fatalf("database.Open() error = %v", err)
	}
	t.Cleanup(func() { db.Close() }) //nolint:errcheck // Test cleanup
	if err := db.Migrate(context.Background()); err != nil {
		t.Fatalf("Migrate() error = %v", err)
	}
	return NewSQLiteRepository(db.DB)
}

func testDefaults() (config.GatewayConfig, config.PushoverConfig) {
	return config.GatewayConfig{
			Host:           "grott.local",
			Port:           5782,
			InverterSerial: "DEFAULT01",
			MaxRetries:     5,
			RetryDelay:     10,
		}, config.PushoverConfig{
			UserKey:  "yaml-user",
			APIToken: "yaml-token",
		}
}

func TestResolver_DefaultsWhenEmpty(t *testing.T) {
	gw, po := testDefaults()
	r := NewResolver(setupTestRepo(t), gw, po)

	got, err := r.Gateway(context.Background())
	if err != nil {
		t.Fatalf("Gateway() error = %v", err)
	}
	want := Gateway{Host: "grott.local", Port: 5782, InverterSerial: "DEFAULT01", MaxRetries: 5, RetryDelay: 10 * time.Second}
	if got != want {
		t.Errorf("Gateway() = %+v, want %+v", got, want)
	}
	if got.BaseURL() != "http://grott.local:5782" {
		t.Errorf("BaseURL() = %q", got.BaseURL())
	}
}

func TestResolver_StoredOverridesDefaults(t *testing.T) {
	gw, po := testDefaults()
	repo := setupTestRepo(t)
	r := NewResolver(repo, gw, po)
	ctx := context.Background()

	if err := r.Update(ctx, map[string]string{
		KeyGrottHost:       "10.0.0.5",
		KeyMaxRetries:      "3",
		KeyRetryDelay:      "0",
		KeyInverterSerial:  "",
		KeyPushoverUserKey: "db-user",
	}); err != nil {
		t.Fatalf("Update() error = %v", err)
	}

	got, err := r.Gateway(ctx)
	if err != nil {
		t.Fatalf("Gateway() error = %v", err)
	}
	if got.Host != "10.0.0.5" || got.MaxRetries != 3 || got.RetryDelay != 0 {
		t.Errorf("Gateway() = %+v, want stored overrides", got)
	}
	if got.InverterSerial != "DEFAULT01" {
		t.Errorf("InverterSerial = %q, empty row should fall back", got.InverterSerial)
	}

	p, err := r.Pushover(ctx)
	if err != nil {
		t.Fatalf("Pushover() error = %v", err)
	}
	if p.UserKey != "db-user" || p.APIToken != "yaml-token" || !p.Configured() {
		t.Errorf("Pushover() = %+v", p)
	}

	// Second write replaces the first.
	if err := r.Update(ctx, map[string]string{KeyGrottHost: "10.0.0.6"}); err != nil {
		t.Fatalf("Update() error = %v", err)
	}
	rows, err := repo.List(ctx)
	if err != nil {
		t.Fatalf("List() error = %v", err)
	}
	if len(rows) != 5 {
		t.Errorf("rows = %d, want 5", len(rows))
	}
	eff, err := r.Effective(ctx)
	if err != nil {
		t.Fatalf("Effective() error = %v", err)
	}
	if eff[KeyGrottHost] != "10.0.0.6" || eff[KeyGrottPort] != "5782" || eff[KeyRetryDelay] != "0" {
		t.Errorf("Effective() = %v", eff)
	}
}

func TestValidateValues(t *testing.T) {
	tests := []struct {
		name    string
		values  map[string]string
		wantErr error
	}{
		{"valid", map[string]string{KeyGrottPort: "5781", KeyGrottHost: "h"}, nil},
		{"empty clears", map[string]string{KeyMaxRetries: ""}, nil},
		{"unknown key", map[string]string{"colour": "red"}, ErrUnknownKey},
		{"non-numeric port", map[string]string{KeyGrottPort: "abc"}, ErrInvalidValue},
		{"port out of range", map[string]string{KeyGrottPort: "70000"}, ErrInvalidValue},
		{"zero retries", map[string]string{KeyMaxRetries: "0"}, ErrInvalidValue},
		{"negative delay", map[string]string{KeyRetryDelay: "-1"}, ErrInvalidValue},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := ValidateValues(tt.values)
			if tt.wantErr == nil {
				if err != nil {
					t.Errorf("ValidateValues() error = %v", err)
				}
				return
			}
			if !errors.Is(err, tt.wantErr) {
				t.Errorf("ValidateValues() error = %v, want %v", err, tt.wantErr)
			}
		})
	}
}

func TestSet_RejectsWholeBatch(t *testing.T) {
	repo := setupTestRepo(t)
	ctx := context.Background()

	err := repo.Set(ctx, map[string]string{KeyGrottHost: "x", KeyGrottPort: "nope"})
	if !errors.Is(err, ErrInvalidValue) {
		t.Fatalf("Set() error = %v, want ErrInvalidValue", err)
	}
	rows, err := repo.List(ctx)
	if err != nil {
		t.Fatalf("List() error = %v", err)
	}
	if len(rows) != 0 {
		t.Errorf("rows = %d, want 0", len(rows))
	}
}

type garbageRepo struct{}

func (garbageRepo) List(context.Context) ([]Setting, error) {
	return []Setting{{Key: KeyGrottPort, Value: "not-a-port"}}, nil
}
func (garbageRepo) Set(context.Context, map[string]string) error { return nil }

func TestResolver_GarbageFallsBack(t *testing.T) {
	gw, po := testDefaults()
	r := NewResolver(garbageRepo{}, gw, po)
	got, err := r.Gateway(context.Background())
	if err != nil {
		t.Fatalf("Gateway() error = %v", err)
	}
	if got.Port != 5782 {
		t.Errorf("Port = %d, want default 5782", got.Port)
	}
}
