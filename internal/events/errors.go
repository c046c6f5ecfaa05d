package events

import "errors"

// Domain errors for event monitoring.
var (
	// ErrNilHandler is returned when registering a nil handler.
	ErrNilHandler = errors.New("events: handler is nil")

	// ErrNoSubscriptionID is returned when the device accepts a subscribe
	// request without issuing a subscription ID.
	ErrNoSubscriptionID = errors.New("events: device returned no subscription id")

	// ErrSessionReplaced is returned when a poll loop finds its session
	// was replaced by a newer one.
	ErrSessionReplaced = errors.New("events: session replaced")
)
