package command

import (
	"context"
	"errors"
	"fmt"

	"github.com/nerrad567/grott-scheduler/internal/register"
)

// maxTemplateDepth bounds template-to-template references.
const maxTemplateDepth = 4

// Spec is the command part of a schedule.
type Spec struct {
	CommandType    Kind
	RegisterNumber *int
	RegisterValue  *string
	MultiStart     *int
	MultiEnd       *int
	MultiValue     *string
	TemplateName   *string
	CustomCommand  *string
}

// BlockSource provides a snapshot of the cached block.
type BlockSource interface {
	BlockSnapshot(ctx context.Context, start, end int) (map[int]int, map[int]register.Encoding, error)
}

// Logger defines the logging interface used by the Builder.
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

// Builder turns a Spec into a dispatchable Command.
//
// Thread Safety: safe for concurrent use. Block snapshots are taken per
// build; concurrent builds for the same block each see their own view.
type Builder struct {
	templates TemplateStore
	block     BlockSource
	logger    Logger
}

// NewBuilder creates a Builder.
func NewBuilder(templates TemplateStore, block BlockSource) *Builder {
	return &Builder{templates: templates, block: block, logger: noopLogger{}}
}

// SetLogger sets the logger for the builder.
func (b *Builder) SetLogger(logger Logger) {
	b.logger = logger
}

// FromSpec converts a Spec into an unresolved Command. It checks that
// the parameters of the command type are present but touches no storage.
func FromSpec(s Spec) (Command, error) {
	switch s.CommandType {
	case KindRead:
		if s.RegisterNumber == nil {
			return Command{}, fmt.Errorf("%w: read needs register_number", ErrMalformedPayload)
		}
		return Read(*s.RegisterNumber), nil

	case KindRegister:
		if s.RegisterNumber == nil || s.RegisterValue == nil || *s.RegisterValue == "" {
			return Command{}, fmt.Errorf("%w: register needs register_number and register_value", ErrMalformedPayload)
		}
		return RegisterWrite(*s.RegisterNumber, *s.RegisterValue), nil

	case KindMultiRegister:
		if s.MultiStart == nil || s.MultiEnd == nil || s.MultiValue == nil || *s.MultiValue == "" {
			return Command{}, fmt.Errorf("%w: multiregister needs start, end and value", ErrMalformedPayload)
		}
		if *s.MultiStart > *s.MultiEnd {
			return Command{}, fmt.Errorf("%w: multiregister start after end", ErrMalformedPayload)
		}
		return MultiRegisterWrite(*s.MultiStart, *s.MultiEnd, *s.MultiValue), nil

	case KindTemplate:
		if s.TemplateName == nil || *s.TemplateName == "" {
			return Command{}, fmt.Errorf("%w: template needs template_name", ErrMalformedPayload)
		}
		return TemplateRef(*s.TemplateName), nil

	case KindCustom:
		if s.CustomCommand == nil || *s.CustomCommand == "" {
			return Command{}, fmt.Errorf("%w: custom needs custom_command", ErrMalformedPayload)
		}
		return ParsePayload([]byte(*s.CustomCommand))
	}

	return Command{}, fmt.Errorf("%w: %q", ErrUnknownCommandType, s.CommandType)
}

// Build resolves a Spec into a Command ready for dispatch. Failures are
// *BuildError wrapping one of the package sentinels.
func (b *Builder) Build(ctx context.Context, s Spec) (Command, error) {
	cmd, err := FromSpec(s)
	if err != nil {
		return Command{}, &BuildError{Err: err}
	}
	return b.resolve(ctx, cmd, 0)
}

func (b *Builder) resolve(ctx context.Context, cmd Command, depth int) (Command, error) {
	switch cmd.Kind {
	case KindRegister:
		if register.InBlock(cmd.Register) {
			return b.blockWrite(ctx, cmd)
		}
		if v, err := ParseRegisterValue(cmd.Value); err == nil {
			cmd.CacheUpdates = map[int]int{cmd.Register: v}
		}
		return cmd, nil

	case KindTemplate:
		if depth >= maxTemplateDepth {
			return Command{}, buildErr(ErrTemplateDepth, "resolving %q", cmd.Template)
		}
		t, err := b.templates.GetTemplate(ctx, cmd.Template)
		if err != nil {
			if errors.Is(err, ErrTemplateNotFound) {
				return Command{}, buildErr(ErrTemplateNotFound, "%q", cmd.Template)
			}
			return Command{}, &BuildError{Err: fmt.Errorf("loading template %q: %w", cmd.Template, err)}
		}
		inner, err := ParsePayload(t.CommandData)
		if err != nil {
			return Command{}, &BuildError{Err: fmt.Errorf("template %q: %w", cmd.Template, err)}
		}
		return b.resolve(ctx, inner, depth+1)

	case KindRead, KindMultiRegister, KindCustom:
		return cmd, nil
	}

	return Command{}, buildErr(ErrUnknownCommandType, "%q", cmd.Kind)
}

// blockWrite rewrites a write inside the block into a whole-block write.
func (b *Builder) blockWrite(ctx context.Context, cmd Command) (Command, error) {
	v, err := ParseRegisterValue(cmd.Value)
	if err != nil {
		return Command{}, &BuildError{Err: err}
	}

	base, meta, err := b.block.BlockSnapshot(ctx, register.BlockStart, register.BlockEnd)
	if err != nil {
		return Command{}, buildErr(ErrBlockAssembly, "reading block cache: %v", err)
	}

	overrides := map[int]int{cmd.Register: v}
	payload, missing, err := register.BuildMultiRegisterPayload(base, overrides, meta, register.BlockStart, register.BlockEnd)
	if err != nil {
		return Command{}, buildErr(ErrBlockAssembly, "%v", err)
	}
	if len(missing) > 0 {
		b.logger.Warn("block registers missing from cache, writing 0", "registers", missing)
	}

	b.logger.Debug("register write rewritten as block write",
		"register", cmd.Register, "value", v, "payload", payload)

	out := MultiRegisterWrite(register.BlockStart, register.BlockEnd, payload)
	out.CacheUpdates = overrides
	return out, nil
}
