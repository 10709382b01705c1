// Package influxdb writes scheduler execution metrics to InfluxDB.
//
// It wraps influxdb-client-go v2 with a non-blocking, batched write API.
// Every execution log entry becomes one "schedule_execution" point
// tagged by schedule, command type and outcome (plus service=grottsched), so dashboards can chart
// retry counts and failure rates over time.
//
// # Usage
//
//	client, err := influxdb.Connect(cfg.InfluxDB)
//	if err != nil {
//	    return err
//	}
//	defer client.Close()
//
//	client.WriteExecution(influxdb.ExecutionPoint{
//	    ScheduleID: 4, CommandType: "register", Outcome: "success", Attempts: 1, Success: true,
//	})
//
// Write errors arrive asynchronously through SetOnError.
package influxdb
