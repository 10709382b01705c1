package settings

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"github.com/nerrad567/grott-scheduler/internal/infrastructure/config"
)

// Logger defines the logging interface used by the Resolver.
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

// Gateway is the effective device gateway configuration for one run.
type Gateway struct {
	Host           string
	Port           int
	InverterSerial string
	MaxRetries     int
	RetryDelay     time.Duration
}

// BaseURL returns the gateway root, e.g. "http://localhost:5782".
func (g Gateway) BaseURL() string {
	return fmt.Sprintf("http://%s:%d", g.Host, g.Port)
}

// Pushover holds the effective Pushover credentials.
type Pushover struct {
	UserKey  string
	APIToken string
}

// Configured reports whether both credentials are present.
func (p Pushover) Configured() bool {
	return p.UserKey != "" && p.APIToken != ""
}

// Resolver merges stored settings over config.yaml defaults.
//
// Thread Safety: safe for concurrent use; it holds no mutable state.
type Resolver struct {
	repo     Repository
	gateway  config.GatewayConfig
	pushover config.PushoverConfig
	logger   Logger
}

// NewResolver creates a Resolver with the YAML defaults it falls back to.
func NewResolver(repo Repository, gateway config.GatewayConfig, pushover config.PushoverConfig) *Resolver {
	return &Resolver{
		repo:     repo,
		gateway:  gateway,
		pushover: pushover,
		logger:   noopLogger{},
	}
}

// SetLogger sets the logger for the resolver.
func (r *Resolver) SetLogger(logger Logger) {
	r.logger = logger
}

// Gateway returns the effective gateway settings.
func (r *Resolver) Gateway(ctx context.Context) (Gateway, error) {
	stored, err := r.load(ctx)
	if err != nil {
		return Gateway{}, err
	}

	return Gateway{
		Host:           stringOr(stored, KeyGrottHost, r.gateway.Host),
		Port:           r.intOr(stored, KeyGrottPort, r.gateway.Port),
		InverterSerial: stringOr(stored, KeyInverterSerial, r.gateway.InverterSerial),
		MaxRetries:     r.intOr(stored, KeyMaxRetries, r.gateway.MaxRetries),
		RetryDelay:     time.Duration(r.intOr(stored, KeyRetryDelay, r.gateway.RetryDelay)) * time.Second,
	}, nil
}

// Pushover returns the effective Pushover credentials.
func (r *Resolver) Pushover(ctx context.Context) (Pushover, error) {
	stored, err := r.load(ctx)
	if err != nil {
		return Pushover{}, err
	}
	return Pushover{
		UserKey:  stringOr(stored, KeyPushoverUserKey, r.pushover.UserKey),
		APIToken: stringOr(stored, KeyPushoverAPIToken, r.pushover.APIToken),
	}, nil
}

// Effective returns every key with the value a run would use.
func (r *Resolver) Effective(ctx context.Context) (map[string]string, error) {
	gw, err := r.Gateway(ctx)
	if err != nil {
		return nil, err
	}
	po, err := r.Pushover(ctx)
	if err != nil {
		return nil, err
	}
	return map[string]string{
		KeyGrottHost:        gw.Host,
		KeyGrottPort:        strconv.Itoa(gw.Port),
		KeyInverterSerial:   gw.InverterSerial,
		KeyMaxRetries:       strconv.Itoa(gw.MaxRetries),
		KeyRetryDelay:       strconv.Itoa(int(gw.RetryDelay / time.Second)),
		KeyPushoverUserKey:  po.UserKey,
		KeyPushoverAPIToken: po.APIToken,
	}, nil
}

// Update validates and stores values.
func (r *Resolver) Update(ctx context.Context, values map[string]string) error {
	if err := r.repo.Set(ctx, values); err != nil {
		return err
	}
	r.logger.Info("settings updated", "keys", len(values))
	return nil
}

func (r *Resolver) load(ctx context.Context) (map[string]string, error) {
	rows, err := r.repo.List(ctx)
	if err != nil {
		return nil, fmt.Errorf("loading settings: %w", err)
	}
	out := make(map[string]string, len(rows))
	for _, s := range rows {
		out[s.Key] = s.Value
	}
	return out, nil
}

func stringOr(stored map[string]string, key, fallback string) string {
	if v := stored[key]; v != "" {
		return v
	}
	return fallback
}

// intOr parses a stored integer. Rows written before validation existed
// may hold garbage; those fall back with a warning.
func (r *Resolver) intOr(stored map[string]string, key string, fallback int) int {
	v := stored[key]
	if v == "" {
		return fallback
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		r.logger.Warn("ignoring non-numeric setting", "key", key, "value", v)
		return fallback
	}
	return n
}
