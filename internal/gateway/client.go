package gateway

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/go-resty/resty/v2"
	"golang.org/x/time/rate"
)

// ErrUnexpectedStatus is returned by ReadRegister for a non-200 reply.
var ErrUnexpectedStatus = errors.New("gateway: unexpected status")

// Config holds client settings.
type Config struct {
	// RateLimit is requests per second across all callers; 0 disables it.
	RateLimit float64
	Burst     int
}

// Logger defines the logging interface used by the Client.
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

// Response is a raw gateway reply.
type Response struct {
	StatusCode int
	Body       string
}

// ReadResult is a decoded register read.
type ReadResult struct {
	// Value is the JSON "value" field, or the raw body when the reply is
	// not a JSON object carrying one.
	Value string
	Raw   string
}

// Client sends requests to the gateway.
//
// Thread Safety: safe for concurrent use.
type Client struct {
	http    *resty.Client
	limiter *rate.Limiter
	logger  Logger
}

// New creates a Client.
func New(cfg Config) *Client {
	limit := rate.Inf
	if cfg.RateLimit > 0 {
		limit = rate.Limit(cfg.RateLimit)
	}
	burst := cfg.Burst
	if burst < 1 {
		burst = 1
	}

	c := &Client{
		http:    resty.New(),
		limiter: rate.NewLimiter(limit, burst),
		logger:  noopLogger{},
	}
	c.http.SetLogger(restyLogger{c})
	return c
}

// SetLogger sets the logger for the client.
func (c *Client) SetLogger(logger Logger) {
	c.logger = logger
}

// Do sends one request. timeout bounds the whole attempt including the
// wait for the rate limiter. Transport errors and timeouts are returned
// as errors; any HTTP status is a Response.
func (c *Client) Do(ctx context.Context, method, rawURL string, timeout time.Duration) (Response, error) {
	if timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, timeout)
		defer cancel()
	}

	if err := c.limiter.Wait(ctx); err != nil {
		return Response{}, fmt.Errorf("waiting for rate limiter: %w", err)
	}

	resp, err := c.http.R().SetContext(ctx).Execute(strings.ToUpper(method), rawURL)
	if err != nil {
		return Response{}, fmt.Errorf("%s %s: %w", method, rawURL, err)
	}

	c.logger.Debug("gateway response", "method", method, "url", rawURL, "status", resp.StatusCode())
	return Response{StatusCode: resp.StatusCode(), Body: resp.String()}, nil
}

// ReadRegister reads one register. Any 200 reply is a success.
func (c *Client) ReadRegister(ctx context.Context, baseURL, serial string, number int, timeout time.Duration) (ReadResult, error) {
	resp, err := c.Do(ctx, http.MethodGet, ReadURL(baseURL, serial, number), timeout)
	if err != nil {
		return ReadResult{}, err
	}
	if resp.StatusCode != http.StatusOK {
		return ReadResult{}, fmt.Errorf("%w: HTTP %d: %s", ErrUnexpectedStatus, resp.StatusCode, strings.TrimSpace(resp.Body))
	}
	return ReadResult{Value: ExtractValue(resp.Body), Raw: resp.Body}, nil
}

// ExtractValue returns the "value" field of a JSON object reply, falling
// back to the trimmed body.
func ExtractValue(body string) string {
	var decoded struct {
		Value json.RawMessage `json:"value"`
	}
	if err := json.Unmarshal([]byte(body), &decoded); err != nil || len(decoded.Value) == 0 {
		return strings.TrimSpace(body)
	}

	var s string
	if err := json.Unmarshal(decoded.Value, &s); err == nil {
		return s
	}
	return string(decoded.Value)
}

// ReadURL builds a single-register read URL.
func ReadURL(baseURL, serial string, number int) string {
	return inverterURL(baseURL, url.Values{
		"command":  {"register"},
		"inverter": {serial},
		"register": {strconv.Itoa(number)},
	})
}

// WriteURL builds a single-register write URL.
func WriteURL(baseURL, serial string, number int, value string) string {
	return inverterURL(baseURL, url.Values{
		"command":  {"register"},
		"inverter": {serial},
		"register": {strconv.Itoa(number)},
		"value":    {value},
	})
}

// MultiWriteURL builds a block write URL.
func MultiWriteURL(baseURL, serial string, start, end int, value string) string {
	return inverterURL(baseURL, url.Values{
		"command":       {"multiregister"},
		"inverter":      {serial},
		"startregister": {strconv.Itoa(start)},
		"endregister":   {strconv.Itoa(end)},
		"value":         {value},
	})
}

func inverterURL(baseURL string, q url.Values) string {
	return strings.TrimRight(baseURL, "/") + "/inverter?" + q.Encode()
}

// restyLogger routes resty's own diagnostics into the client logger.
type restyLogger struct{ c *Client }

func (l restyLogger) Errorf(format string, v ...any) { l.c.logger.Error(fmt.Sprintf(format, v...)) }
func (l restyLogger) Warnf(format string, v ...any)  { l.c.logger.Warn(fmt.Sprintf(format, v...)) }
func (l restyLogger) Debugf(format string, v ...any) { l.c.logger.Debug(fmt.Sprintf(format, v...)) }
