package register

import (
	"context"
	"fmt"
	"strconv"
	"strings"
)

// DeviceReader reads one register from the inverter through the gateway.
// An empty serial selects the configured inverter.
type DeviceReader interface {
	ReadValue(ctx context.Context, serial string, number int) (string, error)
}

// Logger defines the logging interface used by the Syncer.
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

// SyncedValue is one register refreshed from the device.
type SyncedValue struct {
	Register int `json:"register"`
	Value    int `json:"value"`
}

// SyncFailure is one register that could not be refreshed.
type SyncFailure struct {
	Register int    `json:"register"`
	Error    string `json:"error"`
}

// SyncResult summarises a sync run.
type SyncResult struct {
	Synced []SyncedValue `json:"synced"`
	Failed []SyncFailure `json:"failed"`
}

// OK reports whether every register synced.
func (r SyncResult) OK() bool {
	return len(r.Failed) == 0
}

// Syncer refreshes the value cache from the device.
type Syncer struct {
	repo   Repository
	reader DeviceReader
	logger Logger
}

// NewSyncer creates a Syncer.
func NewSyncer(repo Repository, reader DeviceReader) *Syncer {
	return &Syncer{repo: repo, reader: reader, logger: noopLogger{}}
}

// SetLogger sets the logger for the syncer.
func (s *Syncer) SetLogger(logger Logger) {
	s.logger = logger
}

// Sync reads each register and stores integer results, stamping
// last_read_from_inverter. No numbers means the Grid First block.
// Registers are read one at a time; a failure does not stop the rest.
func (s *Syncer) Sync(ctx context.Context, serial string, numbers []int) SyncResult {
	if len(numbers) == 0 {
		numbers = BlockRange()
	}

	res := SyncResult{Synced: []SyncedValue{}, Failed: []SyncFailure{}}
	for _, n := range numbers {
		raw, err := s.reader.ReadValue(ctx, serial, n)
		if err != nil {
			s.logger.Warn("register sync read failed", "register", n, "error", err)
			res.Failed = append(res.Failed, SyncFailure{Register: n, Error: err.Error()})
			continue
		}

		v, err := strconv.Atoi(strings.TrimSpace(raw))
		if err != nil {
			res.Failed = append(res.Failed, SyncFailure{Register: n, Error: fmt.Sprintf("non-integer value %q", raw)})
			continue
		}

		if err := s.repo.SetValue(ctx, n, v, true); err != nil {
			s.logger.Error("storing synced register failed", "register", n, "error", err)
			res.Failed = append(res.Failed, SyncFailure{Register: n, Error: err.Error()})
			continue
		}
		s.logger.Debug("register synced", "register", n, "value", v)
		res.Synced = append(res.Synced, SyncedValue{Register: n, Value: v})
	}

	s.logger.Info("register sync complete", "synced", len(res.Synced), "failed", len(res.Failed))
	return res
}
