package notify

import (
	"context"
	"fmt"
	"time"

	"github.com/go-resty/resty/v2"

	"github.com/nerrad567/grott-scheduler/internal/infrastructure/config"
	"github.com/nerrad567/grott-scheduler/internal/settings"
)

const defaultPushoverTimeout = 10 * time.Second

// CredentialSource supplies the current Pushover credentials.
// *settings.Resolver satisfies it.
type CredentialSource interface {
	Pushover(ctx context.Context) (settings.Pushover, error)
}

// pushoverReply is the JSON body Pushover answers with.
type pushoverReply struct {
	Status  int      `json:"status"`
	Request string   `json:"request"`
	Errors  []string `json:"errors"`
}

// Pushover posts alerts to the Pushover messages API.
//
// Credentials are resolved on every alert so an edit through the
// settings API applies to the next failure.
type Pushover struct {
	http   *resty.Client
	url    string
	creds  CredentialSource
	logger Logger
}

// NewPushover creates a Pushover notifier from cfg.
func NewPushover(creds CredentialSource, cfg config.PushoverConfig) *Pushover {
	timeout := time.Duration(cfg.Timeout) * time.Second
	if timeout <= 0 {
		timeout = defaultPushoverTimeout
	}
	return &Pushover{
		http:   resty.New().SetTimeout(timeout),
		url:    cfg.URL,
		creds:  creds,
		logger: noopLogger{},
	}
}

// SetLogger sets the logger for the notifier.
func (p *Pushover) SetLogger(logger Logger) {
	p.logger = logger
}

// Notify implements Notifier. Missing credentials skip delivery with a
// warning and ErrNotConfigured.
func (p *Pushover) Notify(ctx context.Context, title, message string) error {
	creds, err := p.creds.Pushover(ctx)
	if err != nil {
		return fmt.Errorf("loading pushover credentials: %w", err)
	}
	if !creds.Configured() {
		p.logger.Warn("pushover alert skipped, credentials not set")
		return ErrNotConfigured
	}

	var reply pushoverReply
	resp, err := p.http.R().
		SetContext(ctx).
		SetFormData(map[string]string{
			"token":   creds.APIToken,
			"user":    creds.UserKey,
			"title":   title,
			"message": message,
		}).
		SetResult(&reply).
		SetError(&reply).
		Post(p.url)
	if err != nil {
		return fmt.Errorf("posting pushover alert: %w", err)
	}
	if resp.IsError() || reply.Status != 1 {
		return fmt.Errorf("%w: HTTP %d %v", ErrRejected, resp.StatusCode(), reply.Errors)
	}

	p.logger.Debug("pushover alert sent", "request", reply.Request)
	return nil
}
