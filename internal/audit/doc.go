// Package audit records configuration changes made through the REST API
// and execute requests arriving over MQTT.
//
// Execution outcomes live in the execution log; this trail answers who
// changed a schedule, register, template or setting, and when. Entries
// are append-only.
//
//	rec := audit.NewRecorder(audit.NewSQLiteRepository(db.DB), logger)
//	rec.Record(ctx, audit.ActionUpdate, audit.EntitySchedule, "4", audit.SourceAPI,
//	    map[string]any{"enabled": false})
package audit
