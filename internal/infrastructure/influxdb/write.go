package influxdb

import (
	"strconv"
	"time"

	"github.com/influxdata/influxdb-client-go/v2/api/write"
)

// MeasurementExecution is the measurement for ExecutionPoint.
const MeasurementExecution = "schedule_execution"

// ExecutionPoint is one execution log entry as a metric.
type ExecutionPoint struct {
	ScheduleID  int64
	CommandType string
	Outcome     string // success, failed, skipped
	Attempts    int
	Success     bool
	Duration    time.Duration
	At          time.Time // zero means now
}

// WriteExecution queues p. It never blocks.
func (c *Client) WriteExecution(p ExecutionPoint) {
	at := p.At
	if at.IsZero() {
		at = time.Now()
	}
	c.write(write.NewPoint(MeasurementExecution,
		map[string]string{
			"schedule_id":  strconv.FormatInt(p.ScheduleID, 10),
			"command_type": p.CommandType,
			"outcome":      p.Outcome,
		},
		map[string]interface{}{
			"attempts":    p.Attempts,
			"success":     p.Success,
			"duration_ms": p.Duration.Milliseconds(),
		},
		at))
}

func (c *Client) write(pt *write.Point) {
	if !c.IsConnected() {
		return
	}
	c.queued.Add(1)
	c.writer.WritePoint(pt)
}
