// Package api implements the HTTP REST API and WebSocket server for the
// Grott scheduler.
//
// This package provides:
//   - REST endpoints for schedules, execution logs, registers, templates
//     and runtime settings
//   - "Execute now" for a schedule, answered with the run's log entries
//   - Live register reads and cache sync through the device gateway
//   - WebSocket hub broadcasting schedule.executed events
//   - A change audit trail for every mutation, listed at /audit
//   - Middleware stack (request ID, access log, recovery, CORS, body limit)
//
// # Architecture
//
// The server sits between the web UI and the scheduling core. Schedule
// writes go through the automation Registry so the trigger engine stays
// in step with storage; everything else talks to its repository
// directly. Run events flow back from the executor through the Hub.
//
// # Graceful Degradation
//
// MQTT and InfluxDB are optional. The API works with neither; only the
// corresponding fan-out is lost.
package api
