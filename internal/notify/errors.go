package notify

import "errors"

var (
	// ErrNotConfigured is returned when Pushover credentials are missing.
	ErrNotConfigured = errors.New("notify: pushover credentials not configured")

	// ErrRejected is returned when Pushover answers with a non-success status.
	ErrRejected = errors.New("notify: alert rejected")
)
