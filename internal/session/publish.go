package session

import (
	"encoding/json"
	"time"

	"github.com/nerrad567/acs-gateway/internal/infrastructure/mqtt"
	"github.com/nerrad567/acs-gateway/internal/isapi"
)

// Publisher publishes MQTT messages. *mqtt.Client implements it.
type Publisher interface {
	Publish(topic string, payload []byte, qos byte, retained bool) error
}

// StateMessage is the retained session state payload.
type StateMessage struct {
	ControllerID string    `json:"controller_id"`
	State        State     `json:"state"`
	Online       bool      `json:"online"`
	Timestamp    time.Time `json:"timestamp"`
}

// HealthMessage carries one heartbeat status reading.
type HealthMessage struct {
	ControllerID  string    `json:"controller_id"`
	CPUPercent    float64   `json:"cpu_percent"`
	MemoryPercent float64   `json:"memory_percent"`
	DeviceTime    string    `json:"device_time,omitempty"`
	Timestamp     time.Time `json:"timestamp"`
}

// StatePublisher mirrors session state and heartbeat readings to MQTT.
// State is retained so new subscribers see the last known value.
type StatePublisher struct {
	pub    Publisher
	topics mqtt.Topics
	qos    byte
	logger Logger
}

// NewStatePublisher creates a StatePublisher.
func NewStatePublisher(pub Publisher, topics mqtt.Topics, qos byte) *StatePublisher {
	return &StatePublisher{pub: pub, topics: topics, qos: qos, logger: noopLogger{}}
}

// SetLogger sets the logger for publish failures.
func (p *StatePublisher) SetLogger(logger Logger) {
	if logger != nil {
		p.logger = logger
	}
}

// Attach registers the publisher's hooks on r.
func (p *StatePublisher) Attach(r *Registry) {
	r.OnStateChange(p.OnStateChange)
	r.OnStatus(p.OnStatus)
}

// OnStateChange matches StateHook.
func (p *StatePublisher) OnStateChange(controllerID string, state State) {
	p.publish(p.topics.SessionState(controllerID), StateMessage{
		ControllerID: controllerID,
		State:        state,
		Online:       state == StateOnline,
		Timestamp:    time.Now().UTC(),
	}, true)
}

// OnStatus matches StatusHook.
func (p *StatePublisher) OnStatus(controllerID string, status isapi.DeviceStatus) {
	p.publish(p.topics.ControllerHealth(controllerID), HealthMessage{
		ControllerID:  controllerID,
		CPUPercent:    status.CPUUsage,
		MemoryPercent: status.MemoryUsage,
		DeviceTime:    status.DeviceTime,
		Timestamp:     time.Now().UTC(),
	}, false)
}

func (p *StatePublisher) publish(topic string, v any, retained bool) {
	payload, err := json.Marshal(v)
	if err != nil {
		p.logger.Error("encoding session message", "topic", topic, "error", err)
		return
	}
	if err := p.pub.Publish(topic, payload, p.qos, retained); err != nil {
		p.logger.Warn("publishing session message", "topic", topic, "error", err)
	}
}

// MetricsWriter records session metrics. *influxdb.Client implements it.
type MetricsWriter interface {
	WriteSessionState(controllerID, state string)
	WriteControllerHealth(controllerID string, cpuPercent, memoryPercent float64)
}

// MetricsRecorder writes session state transitions and heartbeat readings
// to the time-series store.
type MetricsRecorder struct {
	w MetricsWriter
}

// NewMetricsRecorder creates a MetricsRecorder.
func NewMetricsRecorder(w MetricsWriter) *MetricsRecorder {
	return &MetricsRecorder{w: w}
}

// Attach registers the recorder's hooks on r.
func (m *MetricsRecorder) Attach(r *Registry) {
	r.OnStateChange(m.OnStateChange)
	r.OnStatus(m.OnStatus)
}

// OnStateChange matches StateHook.
func (m *MetricsRecorder) OnStateChange(controllerID string, state State) {
	m.w.WriteSessionState(controllerID, string(state))
}

// OnStatus matches StatusHook.
func (m *MetricsRecorder) OnStatus(controllerID string, status isapi.DeviceStatus) {
	m.w.WriteControllerHealth(controllerID, status.CPUUsage, status.MemoryUsage)
}
