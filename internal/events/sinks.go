package events

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/nerrad567/acs-gateway/internal/infrastructure/mqtt"
)

// Publisher publishes MQTT messages. *mqtt.Client implements it.
type Publisher interface {
	Publish(topic string, payload []byte, qos byte, retained bool) error
}

// MQTTSink republishes events on the gateway's MQTT event topics.
type MQTTSink struct {
	pub    Publisher
	topics mqtt.Topics
	qos    byte
}

// NewMQTTSink creates a sink publishing through pub.
func NewMQTTSink(pub Publisher, topics mqtt.Topics, qos byte) *MQTTSink {
	return &MQTTSink{pub: pub, topics: topics, qos: qos}
}

// DeliverEvent implements Sink.
func (s *MQTTSink) DeliverEvent(ev Event) error {
	payload, err := json.Marshal(ev)
	if err != nil {
		return fmt.Errorf("encoding event: %w", err)
	}
	return s.pub.Publish(s.topics.ControllerEvent(ev.ControllerID, ev.Type), payload, s.qos, false)
}

// AccessEventWriter records event counts. *influxdb.Client implements it.
type AccessEventWriter interface {
	WriteAccessEvent(controllerID, eventType string, ts time.Time)
}

// MetricsSink counts events in the time-series store.
type MetricsSink struct {
	w AccessEventWriter
}

// NewMetricsSink creates a sink writing through w.
func NewMetricsSink(w AccessEventWriter) *MetricsSink {
	return &MetricsSink{w: w}
}

// DeliverEvent implements Sink. Writes are batched and never fail here.
func (s *MetricsSink) DeliverEvent(ev Event) error {
	s.w.WriteAccessEvent(ev.ControllerID, ev.Type, ev.Time)
	return nil
}

// SinkFunc adapts a function to Sink.
type SinkFunc func(Event) error

// DeliverEvent implements Sink.
func (f SinkFunc) DeliverEvent(ev Event) error { return f(ev) }
