package door

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/nerrad567/acs-gateway/internal/audit"
	"github.com/nerrad567/acs-gateway/internal/infrastructure/mqtt"
	"github.com/nerrad567/acs-gateway/internal/isapi"
)

// commandTimeout bounds one MQTT door command including the status read.
const commandTimeout = 10 * time.Second

// Logger defines the logging interface used by the command handler.
type Logger interface {
	Debug(msg string, args ...any)
	Info(msg string, args ...any)
	Warn(msg string, args ...any)
	Error(msg string, args ...any)
}

type noopLogger struct{}

func (noopLogger) Debug(string, ...any) {}
func (noopLogger) Info(string, ...any)  {}
func (noopLogger) Warn(string, ...any)  {}
func (noopLogger) Error(string, ...any) {}

// Publisher publishes MQTT messages. *mqtt.Client implements it.
type Publisher interface {
	Publish(topic string, payload []byte, qos byte, retained bool) error
}

// CommandMessage is a door command received over MQTT. A bare command
// string such as "unlock" is accepted too.
type CommandMessage struct {
	ID      string `json:"id,omitempty"`
	Command string `json:"command"`
}

// AckStatus is the outcome of an MQTT door command.
type AckStatus string

// Ack statuses.
const (
	AckSucceeded AckStatus = "succeeded"
	AckFailed    AckStatus = "failed"
)

// AckMessage is published on the command's ack topic.
type AckMessage struct {
	ID           string    `json:"id,omitempty"`
	ControllerID string    `json:"controller_id"`
	DoorID       string    `json:"door_id"`
	Command      string    `json:"command"`
	Status       AckStatus `json:"status"`
	Error        string    `json:"error,omitempty"`
	Timestamp    time.Time `json:"timestamp"`
}

// StateMessage is the retained door state published after a command.
type StateMessage struct {
	ControllerID   string    `json:"controller_id"`
	DoorID         string    `json:"door_id"`
	State          string    `json:"state"`
	MagneticStatus string    `json:"magnetic_status,omitempty"`
	Timestamp      time.Time `json:"timestamp"`
}

// CommandHandler executes door commands arriving on the MQTT command
// topics and publishes an ack plus the resulting door state.
type CommandHandler struct {
	svc    *Service
	pub    Publisher
	topics mqtt.Topics
	qos    byte
	ctx    context.Context
	logger Logger
	audit  *audit.Recorder
}

// NewCommandHandler creates a handler. Commands in flight are cancelled
// when ctx ends.
func NewCommandHandler(ctx context.Context, svc *Service, pub Publisher, topics mqtt.Topics, qos byte) *CommandHandler {
	return &CommandHandler{svc: svc, pub: pub, topics: topics, qos: qos, ctx: ctx, logger: noopLogger{}}
}

// SetLogger sets the logger for command diagnostics.
func (h *CommandHandler) SetLogger(logger Logger) {
	if logger != nil {
		h.logger = logger
	}
}

// SetAuditRecorder records every executed command to rec.
func (h *CommandHandler) SetAuditRecorder(rec *audit.Recorder) {
	h.audit = rec
}

// HandleMessage implements mqtt.MessageHandler for topics matching
// Topics.AllDoorCommands. Device failures are reported on the ack topic;
// only malformed messages return an error.
func (h *CommandHandler) HandleMessage(topic string, payload []byte) error {
	controllerID, doorID, ok := h.topics.ParseDoorCommand(topic)
	if !ok {
		return fmt.Errorf("not a door command topic: %s", topic)
	}

	msg, err := parseCommandMessage(payload)
	if err != nil {
		h.publishAck(controllerID, doorID, msg, err)
		return err
	}
	cmd, err := ParseCommand(msg.Command)
	if err != nil {
		h.publishAck(controllerID, doorID, msg, err)
		return err
	}

	ctx, cancel := context.WithTimeout(h.ctx, commandTimeout)
	defer cancel()

	err = h.svc.SetDoorState(ctx, controllerID, doorID, cmd)
	h.recordAudit(controllerID, doorID, msg, err)
	if err != nil {
		h.logger.Warn("mqtt door command failed",
			"controller_id", controllerID, "door_id", doorID, "command", cmd, "error", err)
		h.publishAck(controllerID, doorID, msg, err)
		return nil
	}
	h.logger.Info("mqtt door command sent",
		"controller_id", controllerID, "door_id", doorID, "command", cmd, "command_id", msg.ID)
	h.publishAck(controllerID, doorID, msg, nil)

	st, err := h.svc.GetDoorStatus(ctx, controllerID, doorID)
	if err != nil {
		h.logger.Warn("reading door state after command",
			"controller_id", controllerID, "door_id", doorID, "error", err)
		return nil
	}
	h.publish(h.topics.DoorState(controllerID, doorID), StateMessage{
		ControllerID:   controllerID,
		DoorID:         doorID,
		State:          st.State,
		MagneticStatus: st.MagneticStatus,
		Timestamp:      time.Now().UTC(),
	}, true)
	return nil
}

func (h *CommandHandler) recordAudit(controllerID, doorID string, msg CommandMessage, cmdErr error) {
	e := audit.Entry{
		Action:       audit.ActionDoorCommand,
		ControllerID: controllerID,
		DoorID:       doorID,
		Source:       audit.SourceMQTT,
		Outcome:      audit.OutcomeSucceeded,
		Details:      map[string]any{"command": msg.Command},
	}
	if msg.ID != "" {
		e.Details["command_id"] = msg.ID
	}
	if cmdErr != nil {
		e.Outcome = audit.OutcomeFailed
		e.Details["error"] = describe(cmdErr)
	}
	h.audit.Record(e)
}

func parseCommandMessage(payload []byte) (CommandMessage, error) {
	trimmed := strings.TrimSpace(string(payload))
	if trimmed == "" {
		return CommandMessage{}, fmt.Errorf("%w: empty payload", ErrInvalidCommand)
	}
	if !strings.HasPrefix(trimmed, "{") {
		return CommandMessage{Command: trimmed}, nil
	}
	var msg CommandMessage
	if err := json.Unmarshal([]byte(trimmed), &msg); err != nil {
		return CommandMessage{}, fmt.Errorf("%w: %v", ErrInvalidCommand, err)
	}
	return msg, nil
}

func (h *CommandHandler) publishAck(controllerID, doorID string, msg CommandMessage, cmdErr error) {
	ack := AckMessage{
		ID:           msg.ID,
		ControllerID: controllerID,
		DoorID:       doorID,
		Command:      msg.Command,
		Status:       AckSucceeded,
		Timestamp:    time.Now().UTC(),
	}
	if cmdErr != nil {
		ack.Status = AckFailed
		ack.Error = describe(cmdErr)
	}
	h.publish(h.topics.DoorCommandAck(controllerID, doorID), ack, false)
}

// describe keeps validation messages and turns device failures into the
// operator-facing text.
func describe(err error) string {
	if errors.Is(err, ErrInvalidCommand) || errors.Is(err, ErrMissingDoorID) {
		return err.Error()
	}
	return isapi.Describe(err)
}

func (h *CommandHandler) publish(topic string, v any, retained bool) {
	payload, err := json.Marshal(v)
	if err != nil {
		h.logger.Error("encoding door message", "topic", topic, "error", err)
		return
	}
	if err := h.pub.Publish(topic, payload, h.qos, retained); err != nil {
		h.logger.Warn("publishing door message", "topic", topic, "error", err)
	}
}
