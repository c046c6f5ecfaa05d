package events

import (
	"encoding/json"
	"time"
)

// AllEvents is the wildcard event type. Handlers registered for it see
// every event after the exact-type handlers.
const AllEvents = "all"

// Event is one device-originated event from a poll cycle.
type Event struct {
	ControllerID string          `json:"controller_id"`
	Type         string          `json:"type"`
	Time         time.Time       `json:"time"`
	Raw          json.RawMessage `json:"raw"`
}

// parseEvent extracts type and timestamp from a raw device event. The
// payload is kept whole. Devices that omit a usable timestamp get the
// receive time.
func parseEvent(controllerID string, raw json.RawMessage, received time.Time) Event {
	var head struct {
		Type      string `json:"type"`
		EventType string `json:"eventType"`
		Time      string `json:"time"`
		DateTime  string `json:"dateTime"`
	}
	_ = json.Unmarshal(raw, &head) //nolint:errcheck // non-object payloads keep an empty type

	ev := Event{
		ControllerID: controllerID,
		Type:         head.Type,
		Time:         received,
		Raw:          raw,
	}
	if ev.Type == "" {
		ev.Type = head.EventType
	}
	for _, s := range []string{head.Time, head.DateTime} {
		if s == "" {
			continue
		}
		if t, err := time.Parse(time.RFC3339, s); err == nil {
			ev.Time = t
			break
		}
	}
	return ev
}
