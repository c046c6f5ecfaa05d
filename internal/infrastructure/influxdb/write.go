package influxdb

import (
	"time"

	"github.com/influxdata/influxdb-client-go/v2/api/write"
)

// Measurement names.
const (
	MeasurementAccessEvent      = "access_event"
	MeasurementControllerHealth = "controller_health"
	MeasurementSessionState     = "session_state"
)

// WriteAccessEvent records one controller event at the time the device
// reported it. Each point carries count=1 so dashboards can sum per window.
func (c *Client) WriteAccessEvent(controllerID, eventType string, ts time.Time) {
	if ts.IsZero() {
		ts = time.Now()
	}
	c.WritePointWithTime(MeasurementAccessEvent,
		map[string]string{
			"controller_id": controllerID,
			"event_type":    eventType,
		},
		map[string]interface{}{
			"count": 1,
		},
		ts,
	)
}

// WriteControllerHealth records a device status sample taken by the
// session heartbeat.
//
//	client.WriteControllerHealth("front-door", 12, 41.5)
func (c *Client) WriteControllerHealth(controllerID string, cpuPercent, memoryPercent float64) {
	c.WritePoint(MeasurementControllerHealth,
		map[string]string{"controller_id": controllerID},
		map[string]interface{}{
			"cpu_percent":    cpuPercent,
			"memory_percent": memoryPercent,
		},
	)
}

// WriteSessionState records a session state transition. online is 1 for
// the online state so availability can be averaged over time.
func (c *Client) WriteSessionState(controllerID, state string) {
	online := 0
	if state == "online" {
		online = 1
	}
	c.WritePoint(MeasurementSessionState,
		map[string]string{"controller_id": controllerID},
		map[string]interface{}{
			"state":  state,
			"online": online,
		},
	)
}

// WritePoint writes a custom point timestamped now. Writes are batched and
// silently dropped while disconnected.
func (c *Client) WritePoint(measurement string, tags map[string]string, fields map[string]interface{}) {
	c.WritePointWithTime(measurement, tags, fields, time.Now())
}

// WritePointWithTime writes a custom point with a specific timestamp.
func (c *Client) WritePointWithTime(measurement string, tags map[string]string, fields map[string]interface{}, timestamp time.Time) {
	if !c.IsConnected() {
		return
	}

	point := write.NewPoint(measurement, tags, fields, timestamp)
	c.writeAPI.WritePoint(point)
}
