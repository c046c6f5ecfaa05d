package controller

import (
	"context"
	"time"

	"github.com/nerrad567/acs-gateway/internal/session"
)

// Logger defines the logging interface used by the controller package.
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

const statusWriteTimeout = 5 * time.Second

// StatusTracker writes session state changes onto controller records.
type StatusTracker struct {
	repo   Repository
	logger Logger
	now    func() time.Time
}

// NewStatusTracker creates a tracker writing to repo.
func NewStatusTracker(repo Repository) *StatusTracker {
	return &StatusTracker{repo: repo, logger: noopLogger{}, now: time.Now}
}

// SetLogger sets the logger for failed writes.
func (t *StatusTracker) SetLogger(logger Logger) {
	if logger != nil {
		t.logger = logger
	}
}

// OnStateChange is a session.StateHook.
func (t *StatusTracker) OnStateChange(controllerID string, state session.State) {
	var lastOnline *time.Time
	if state == session.StateOnline {
		now := t.now().UTC()
		lastOnline = &now
	}

	ctx, cancel := context.WithTimeout(context.Background(), statusWriteTimeout)
	defer cancel()
	if err := t.repo.UpdateStatus(ctx, controllerID, Status(state), lastOnline); err != nil {
		t.logger.Warn("recording controller status failed",
			"controller_id", controllerID, "status", state, "error", err)
	}
}

// OnClose is a session.CloseHook. A closed session leaves the controller offline.
func (t *StatusTracker) OnClose(controllerID string) {
	t.OnStateChange(controllerID, session.StateOffline)
}
