package mqtt

import "errors"

// Sentinel errors returned by the broker client. Publish and subscribe
// failures wrap the paho error underneath.
var (
	// ErrNotConnected means the broker link is down.
	ErrNotConnected = errors.New("mqtt: client not connected")

	// ErrConnectionFailed means the first connect to the broker failed.
	ErrConnectionFailed = errors.New("mqtt: connection failed")

	ErrPublishFailed     = errors.New("mqtt: publish failed")
	ErrSubscribeFailed   = errors.New("mqtt: subscribe failed")
	ErrUnsubscribeFailed = errors.New("mqtt: unsubscribe failed")

	// ErrInvalidQoS rejects QoS levels other than 0, 1 and 2.
	ErrInvalidQoS = errors.New("mqtt: invalid QoS level (must be 0, 1, or 2)")

	// ErrInvalidTopic rejects an empty topic.
	ErrInvalidTopic = errors.New("mqtt: topic cannot be empty")
)
