package session

import "errors"

// Domain errors for session management.
var (
	// ErrSessionNotFound is returned when no session exists for a controller.
	ErrSessionNotFound = errors.New("session: not found")

	// ErrMissingControllerID is returned when an endpoint has no controller ID.
	ErrMissingControllerID = errors.New("session: controller id is required")
)
