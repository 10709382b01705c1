// Package logging provides structured logging for the scheduler.
//
// It wraps log/slog so every component writes the same record shape:
// JSON in production, text for local work, with service and version
// attached to each entry.
//
// Configuration:
//
//	logging:
//	  level: "info"      # debug, info, warn, error
//	  format: "json"     # json, text
//	  output: "stdout"   # stdout, stderr, discard
//
// Usage:
//
//	logger := logging.New(cfg.Logging, "1.0.0")
//	logger.Info("schedule registered", "schedule_id", 4)
//
// Never log Pushover tokens or MQTT passwords.
package logging
