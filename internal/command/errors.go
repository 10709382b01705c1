package command

import (
	"errors"
	"fmt"
)

var (
	// ErrUnknownCommandType is returned for a command_type or payload type outside the known kinds.
	ErrUnknownCommandType = errors.New("command: unknown command type")

	// ErrTemplateNotFound is returned when a referenced template does not exist.
	ErrTemplateNotFound = errors.New("command: template not found")

	// ErrTemplateExists is returned when creating a template whose name is taken.
	ErrTemplateExists = errors.New("command: template already exists")

	// ErrMalformedPayload is returned when command fields or a stored payload cannot be parsed.
	ErrMalformedPayload = errors.New("command: malformed payload")

	// ErrBlockAssembly is returned when the Grid First block payload cannot be built.
	ErrBlockAssembly = errors.New("command: block assembly failed")

	// ErrTemplateDepth is returned when templates nest deeper than maxTemplateDepth.
	ErrTemplateDepth = errors.New("command: template nesting too deep")
)

// BuildError is returned by Builder.Build. The run it belongs to is
// logged as failed with zero attempts and is not retried.
type BuildError struct {
	Err error
}

func (e *BuildError) Error() string {
	return "building command: " + e.Err.Error()
}

func (e *BuildError) Unwrap() error {
	return e.Err
}

func buildErr(kind error, format string, args ...any) *BuildError {
	return &BuildError{Err: fmt.Errorf("%w: %s", kind, fmt.Sprintf(format, args...))}
}
