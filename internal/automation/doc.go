// Package automation is the scheduled command execution engine.
//
// A Schedule says when to act (daily, weekly or once at HH:MM) and what
// to send to the inverter gateway. Schedules may form one-level chains:
// children run after their parent, in execution_order, as one run.
//
// Architecture:
//
//	┌────────────────────────────────────────────────────────────┐
//	│                   Executor (engine.go)                      │
//	│  ┌──────────────┐   ┌──────────────┐   ┌────────────────┐  │
//	│  │  Condition   │──▶│   Command    │──▶│   Dispatcher   │  │
//	│  │  Evaluator   │   │   Builder    │   │ (retry, fixed  │  │
//	│  │ (1 live read)│   │ (command pkg)│   │  delay)        │  │
//	│  └──────────────┘   └──────────────┘   └────────────────┘  │
//	│         │                                      │            │
//	│         ▼                                      ▼            │
//	│  ┌──────────────────────────────────────────────────────┐  │
//	│  │ LogStore: one append-only entry per node, children    │  │
//	│  │ linked to the parent's entry by parent_execution_id    │  │
//	│  └──────────────────────────────────────────────────────┘  │
//	│         │                                                   │
//	│         ▼  WebSocket hub, MQTT, InfluxDB, Notifier          │
//	└────────────────────────────────────────────────────────────┘
//
//	Registry (registry.go) ──▶ Repository (repository.go)
//	        └──▶ Trigger (register / deregister on every change)
//
// # Run semantics
//
//  1. A missing or disabled schedule is not run and not logged.
//  2. A condition that is not met (including a failed read) logs a skip
//     with success=true, attempts=0 and stops; children are not touched.
//  3. A build failure logs a failed entry with attempts=0 and stops.
//  4. Otherwise the command is dispatched with retries, logged,
//     last_executed_at is updated and, on failure, a notification is sent.
//  5. Children then run in order. After a failed parent dispatch, a
//     child without continue_on_parent_failure logs a skip; the others
//     run normally. A child's failure never stops its siblings.
//
// # Block writes
//
// Registers 1070..1088 only accept whole-block writes. Two schedules
// writing that block for the same inverter read the cached block and
// write it back; without serialisation the later write can undo the
// earlier one. ExecutorConfig.SerializePerInverter closes that window.
package automation
