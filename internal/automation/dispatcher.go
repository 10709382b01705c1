package automation

import (
	"context"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/nerrad567/grott-scheduler/internal/command"
	"github.com/nerrad567/grott-scheduler/internal/gateway"
)

// okBody is the only reply body that marks a write as accepted.
const okBody = "OK"

// Transport sends one request to the device gateway.
// *gateway.Client satisfies it.
type Transport interface {
	Do(ctx context.Context, method, url string, timeout time.Duration) (gateway.Response, error)
}

// Timeouts are the per-attempt limits by command kind.
type Timeouts struct {
	Read       time.Duration
	Write      time.Duration
	BlockWrite time.Duration
	Custom     time.Duration
}

// DefaultTimeouts returns 10s for reads and custom requests, 30s for writes.
func DefaultTimeouts() Timeouts {
	return Timeouts{
		Read:       10 * time.Second,
		Write:      30 * time.Second,
		BlockWrite: 30 * time.Second,
		Custom:     10 * time.Second,
	}
}

// Target addresses one dispatch.
type Target struct {
	BaseURL    string
	Serial     string
	MaxRetries int
	RetryDelay time.Duration
}

// DispatchResult is the outcome of a dispatch. It never carries a Go
// error: every failure mode is folded into Success=false.
type DispatchResult struct {
	Success  bool
	Response string
	Attempts int

	// LastError describes the final failed attempt.
	LastError string

	// ReadValue is the decoded integer of a successful read, when it parses.
	ReadValue *int
}

// Dispatcher sends commands with bounded retries and a fixed delay.
//
// Thread Safety: safe for concurrent use.
type Dispatcher struct {
	transport Transport
	timeouts  Timeouts
	sleep     func(ctx context.Context, d time.Duration) error
	logger    Logger
}

// NewDispatcher creates a dispatcher over transport.
func NewDispatcher(transport Transport, timeouts Timeouts) *Dispatcher {
	return &Dispatcher{
		transport: transport,
		timeouts:  timeouts,
		sleep:     sleepContext,
		logger:    noopLogger{},
	}
}

// SetLogger sets the logger for the dispatcher.
func (d *Dispatcher) SetLogger(logger Logger) {
	d.logger = logger
}

// Dispatch sends cmd up to target.MaxRetries times, sleeping
// target.RetryDelay between failed attempts but not after the last.
// It returns on the first success. A cancelled ctx ends the loop early.
func (d *Dispatcher) Dispatch(ctx context.Context, cmd command.Command, target Target) DispatchResult {
	maxAttempts := target.MaxRetries
	if maxAttempts < 1 {
		maxAttempts = 1
	}

	method, url, timeout, err := d.request(cmd, target)
	if err != nil {
		return DispatchResult{Response: err.Error(), LastError: err.Error()}
	}

	var lastErr string
	attempts := 0
	for attempt := 1; attempt <= maxAttempts; attempt++ {
		attempts = attempt
		resp, err := d.transport.Do(ctx, method, url, timeout)
		if err == nil {
			if res, ok := classify(cmd, resp); ok {
				res.Attempts = attempt
				d.logger.Info("command dispatched", "kind", cmd.Kind, "attempt", attempt, "serial", target.Serial)
				return res
			}
			lastErr = fmt.Sprintf("HTTP %d: %s", resp.StatusCode, strings.TrimSpace(resp.Body))
		} else {
			lastErr = err.Error()
		}

		d.logger.Warn("dispatch attempt failed",
			"kind", cmd.Kind, "attempt", attempt, "max_attempts", maxAttempts, "error", lastErr)

		if attempt == maxAttempts {
			break
		}
		if err := d.sleep(ctx, target.RetryDelay); err != nil {
			lastErr = err.Error()
			break
		}
	}

	return DispatchResult{
		Response:  fmt.Sprintf("Failed after %d attempts", attempts),
		Attempts:  attempts,
		LastError: lastErr,
	}
}

func (d *Dispatcher) request(cmd command.Command, target Target) (method, url string, timeout time.Duration, err error) {
	switch cmd.Kind {
	case command.KindRead:
		return http.MethodGet, gateway.ReadURL(target.BaseURL, target.Serial, cmd.Register), d.timeouts.Read, nil
	case command.KindRegister:
		return http.MethodPut, gateway.WriteURL(target.BaseURL, target.Serial, cmd.Register, cmd.Value), d.timeouts.Write, nil
	case command.KindMultiRegister:
		return http.MethodPut, gateway.MultiWriteURL(target.BaseURL, target.Serial, cmd.Start, cmd.End, cmd.Value), d.timeouts.BlockWrite, nil
	case command.KindCustom:
		if cmd.URL == "" {
			return "", "", 0, fmt.Errorf("custom command has no url")
		}
		method := cmd.Method
		if method == "" {
			method = http.MethodGet
		}
		return method, cmd.URL, d.timeouts.Custom, nil
	}
	return "", "", 0, fmt.Errorf("cannot dispatch %s command", cmd.Kind)
}

// classify applies the success rule: any 200 for reads, 200 plus a
// trimmed "OK" body for everything else.
func classify(cmd command.Command, resp gateway.Response) (DispatchResult, bool) {
	if resp.StatusCode != http.StatusOK {
		return DispatchResult{}, false
	}

	if !cmd.IsWrite() {
		value := gateway.ExtractValue(resp.Body)
		res := DispatchResult{
			Success:  true,
			Response: fmt.Sprintf("Register %d = %s", cmd.Register, value),
		}
		if n, err := strconv.Atoi(value); err == nil {
			res.ReadValue = &n
		}
		return res, true
	}

	body := strings.TrimSpace(resp.Body)
	if body != okBody {
		return DispatchResult{}, false
	}
	return DispatchResult{Success: true, Response: body}, true
}

func sleepContext(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
