package automation

import (
	"context"
	"fmt"
	"strconv"
	"strings"
)

// DeviceReader reads one live register value from the device.
type DeviceReader interface {
	ReadValue(ctx context.Context, serial string, number int) (string, error)
}

// ConditionEvaluator gates a run on a live register value.
//
// It reads at most once per evaluation and never retries: a failed read
// means the condition is not met.
type ConditionEvaluator struct {
	reader DeviceReader
	logger Logger
}

// NewConditionEvaluator creates an evaluator reading through reader.
func NewConditionEvaluator(reader DeviceReader) *ConditionEvaluator {
	return &ConditionEvaluator{reader: reader, logger: noopLogger{}}
}

// SetLogger sets the logger for the evaluator.
func (e *ConditionEvaluator) SetLogger(logger Logger) {
	e.logger = logger
}

// Evaluate reports whether c holds on the device addressed by serial,
// with a human-readable explanation for the execution log.
func (e *ConditionEvaluator) Evaluate(ctx context.Context, serial string, c Condition) (met bool, details string) {
	if c.Type == "" || c.Type == ConditionNone {
		return true, "No condition"
	}
	if c.Type != ConditionComparison {
		return false, fmt.Sprintf("Unknown condition type: %s", c.Type)
	}
	if _, ok := validOperators[c.Operator]; !ok {
		return false, "Unknown operator"
	}
	if c.Register == nil {
		return false, "Condition register not set"
	}
	reg := *c.Register

	target, err := strconv.Atoi(strings.TrimSpace(c.Value))
	if err != nil {
		return false, fmt.Sprintf("Invalid condition value %q", c.Value)
	}

	raw, err := e.reader.ReadValue(ctx, serial, reg)
	if err != nil {
		e.logger.Warn("condition read failed", "register", reg, "serial", serial, "error", err)
		return false, fmt.Sprintf("Failed to read register %d", reg)
	}
	current, err := strconv.Atoi(strings.TrimSpace(raw))
	if err != nil {
		return false, fmt.Sprintf("Register %d returned non-integer value %q", reg, raw)
	}

	met = compare(current, c.Operator, target)
	return met, fmt.Sprintf("Register %d: %d %s %d = %t", reg, current, c.Operator, target, met)
}

func compare(current int, op string, target int) bool {
	switch op {
	case OpLess:
		return current < target
	case OpGreater:
		return current > target
	case OpEqual:
		return current == target
	case OpLessEqual:
		return current <= target
	case OpGreaterEqual:
		return current >= target
	}
	return false
}
