package mqtt

import (
	"fmt"
	"strings"
)

// TopicRoot is the first level of every gateway topic.
const TopicRoot = "acsgateway"

// Topics builds gateway MQTT topics for one site.
//
//	topics := mqtt.Topics{Site: "site-001"}
//	topics.ControllerEvent("front-door", "AccessControllerEvent")
//	// Returns: "acsgateway/site-001/event/front-door/AccessControllerEvent"
//
// Controller, door and event type segments are sanitised so device supplied
// values can never introduce extra levels or wildcards.
type Topics struct {
	Site string
}

func (t Topics) prefix() string {
	return TopicRoot + "/" + segment(t.Site)
}

// Status is the retained gateway availability topic, also used for the LWT.
//
// Example: acsgateway/site-001/status
func (t Topics) Status() string {
	return t.prefix() + "/status"
}

// ControllerEvent carries events polled from a controller.
//
// Example: acsgateway/site-001/event/front-door/AccessControllerEvent
func (t Topics) ControllerEvent(controllerID, eventType string) string {
	return fmt.Sprintf("%s/event/%s/%s", t.prefix(), segment(controllerID), segment(eventType))
}

// AllControllerEvents matches events from every controller.
func (t Topics) AllControllerEvents() string {
	return t.prefix() + "/event/#"
}

// SessionState is the retained session state topic for a controller.
//
// Example: acsgateway/site-001/session/front-door/state
func (t Topics) SessionState(controllerID string) string {
	return fmt.Sprintf("%s/session/%s/state", t.prefix(), segment(controllerID))
}

// ControllerHealth carries periodic device status samples.
//
// Example: acsgateway/site-001/health/front-door
func (t Topics) ControllerHealth(controllerID string) string {
	return fmt.Sprintf("%s/health/%s", t.prefix(), segment(controllerID))
}

// DoorCommand receives door commands for one door.
//
// Example: acsgateway/site-001/command/front-door/door/1
func (t Topics) DoorCommand(controllerID, doorID string) string {
	return fmt.Sprintf("%s/command/%s/door/%s", t.prefix(), segment(controllerID), segment(doorID))
}

// AllDoorCommands matches door commands for every controller and door.
func (t Topics) AllDoorCommands() string {
	return t.prefix() + "/command/+/door/+"
}

// DoorState is the retained door state topic.
//
// Example: acsgateway/site-001/state/front-door/door/1
func (t Topics) DoorState(controllerID, doorID string) string {
	return fmt.Sprintf("%s/state/%s/door/%s", t.prefix(), segment(controllerID), segment(doorID))
}

// DoorCommandAck reports the outcome of each door command.
//
// Example: acsgateway/site-001/ack/front-door/door/1
func (t Topics) DoorCommandAck(controllerID, doorID string) string {
	return fmt.Sprintf("%s/ack/%s/door/%s", t.prefix(), segment(controllerID), segment(doorID))
}

// ParseDoorCommand extracts controller and door IDs from a DoorCommand topic.
func (t Topics) ParseDoorCommand(topic string) (controllerID, doorID string, ok bool) {
	rest, found := strings.CutPrefix(topic, t.prefix()+"/command/")
	if !found {
		return "", "", false
	}
	parts := strings.Split(rest, "/")
	if len(parts) != 3 || parts[1] != "door" || parts[0] == "" || parts[2] == "" { //nolint:mnd // {controller}/door/{door}
		return "", "", false
	}
	return parts[0], parts[2], true
}

// segment makes s safe as a single topic level.
func segment(s string) string {
	if s == "" {
		return "_"
	}
	return strings.Map(func(r rune) rune {
		switch r {
		case '/', '+', '#', 0:
			return '_'
		}
		return r
	}, s)
}
