package door

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"

	"github.com/nerrad567/acs-gateway/internal/isapi"
	"github.com/nerrad567/acs-gateway/internal/session"
)

// Domain errors for door commands.
var (
	// ErrInvalidCommand is returned for a command outside the supported set.
	ErrInvalidCommand = errors.New("door: invalid command")

	// ErrMissingDoorID is returned when no door ID is given.
	ErrMissingDoorID = errors.New("door: door id is required")
)

// Command is a door state command.
type Command string

// Supported commands.
const (
	CommandLock        Command = "lock"
	CommandUnlock      Command = "unlock"
	CommandAlwaysOpen  Command = "alwaysOpen"
	CommandAlwaysClose Command = "alwaysClose"
)

// Valid reports whether c is a supported command.
func (c Command) Valid() bool {
	switch c {
	case CommandLock, CommandUnlock, CommandAlwaysOpen, CommandAlwaysClose:
		return true
	}
	return false
}

// ParseCommand matches a command name case-insensitively.
func ParseCommand(s string) (Command, error) {
	for _, c := range []Command{CommandLock, CommandUnlock, CommandAlwaysOpen, CommandAlwaysClose} {
		if strings.EqualFold(s, string(c)) {
			return c, nil
		}
	}
	return "", fmt.Errorf("%w: %q", ErrInvalidCommand, s)
}

// Status is the device-reported state of one door.
type Status struct {
	DoorID         string `json:"door_id"`
	State          string `json:"state"`
	MagneticStatus string `json:"magnetic_status,omitempty"`
}

// SessionSource looks up Online sessions. *session.Registry implements it.
type SessionSource interface {
	Online(controllerID string) (*session.Session, error)
}

// Service issues door commands through controller sessions.
type Service struct {
	sessions SessionSource
}

// NewService creates a door Service.
func NewService(sessions SessionSource) *Service {
	return &Service{sessions: sessions}
}

type controlRequest struct {
	DoorControl controlBody `json:"doorControl"`
}

type controlBody struct {
	Cmd      Command `json:"cmd"`
	Operator string  `json:"operator"`
}

// SetDoorState sends cmd to a door. The operator recorded by the device is
// the session's username.
func (s *Service) SetDoorState(ctx context.Context, controllerID, doorID string, cmd Command) error {
	if !cmd.Valid() {
		return fmt.Errorf("%w: %q", ErrInvalidCommand, cmd)
	}
	if doorID == "" {
		return ErrMissingDoorID
	}
	sess, err := s.sessions.Online(controllerID)
	if err != nil {
		return err
	}

	body := controlRequest{DoorControl: controlBody{Cmd: cmd, Operator: sess.Endpoint.Username}}
	if err := sess.Client().Do(ctx, http.MethodPut, isapi.PathDoorControl(doorID), body, nil); err != nil {
		return fmt.Errorf("door %s on %s: %s: %w", doorID, controllerID, cmd, err)
	}
	return nil
}

type statusResponse struct {
	DoorStatus struct {
		DoorID         string `json:"doorID"`
		DoorState      string `json:"doorState"`
		MagneticStatus string `json:"magneticStatus"`
	} `json:"doorStatus"`
}

// GetDoorStatus reads the state of a door.
func (s *Service) GetDoorStatus(ctx context.Context, controllerID, doorID string) (*Status, error) {
	if doorID == "" {
		return nil, ErrMissingDoorID
	}
	sess, err := s.sessions.Online(controllerID)
	if err != nil {
		return nil, err
	}

	var resp statusResponse
	if err := sess.Client().Do(ctx, http.MethodGet, isapi.PathDoorStatus(doorID), nil, &resp); err != nil {
		return nil, fmt.Errorf("door %s status on %s: %w", doorID, controllerID, err)
	}
	st := &Status{
		DoorID:         resp.DoorStatus.DoorID,
		State:          resp.DoorStatus.DoorState,
		MagneticStatus: resp.DoorStatus.MagneticStatus,
	}
	if st.DoorID == "" {
		st.DoorID = doorID
	}
	return st, nil
}
