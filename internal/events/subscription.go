package events

import (
	"context"
	"sync"
	"time"
)

// Subscription is one device-side event subscription and its poll loop.
// The device-issued ID changes when the subscription is renewed after a
// poll failure.
type Subscription struct {
	ControllerID string
	Types        []string
	key          string

	mu       sync.RWMutex
	id       string
	lastPoll time.Time
	renewals int

	cancel context.CancelFunc
	done   chan struct{}
}

// SubscriptionInfo is a point-in-time view of a subscription.
type SubscriptionInfo struct {
	ControllerID   string    `json:"controller_id"`
	SubscriptionID string    `json:"subscription_id"`
	EventTypes     []string  `json:"event_types"`
	LastPoll       time.Time `json:"last_poll,omitempty"`
	Renewals       int       `json:"renewals"`
}

// ID returns the current device-issued subscription ID. It is empty while
// a resubscribe is in progress.
func (s *Subscription) ID() string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.id
}

// LastPoll returns when the last successful poll completed.
func (s *Subscription) LastPoll() time.Time {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.lastPoll
}

// Info returns a snapshot of the subscription.
func (s *Subscription) Info() SubscriptionInfo {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return SubscriptionInfo{
		ControllerID:   s.ControllerID,
		SubscriptionID: s.id,
		EventTypes:     append([]string(nil), s.Types...),
		LastPoll:       s.lastPoll,
		Renewals:       s.renewals,
	}
}

// Done is closed when the poll loop has exited.
func (s *Subscription) Done() <-chan struct{} { return s.done }

func (s *Subscription) setID(id string) {
	s.mu.Lock()
	s.id = id
	s.mu.Unlock()
}

func (s *Subscription) renew(id string) {
	s.mu.Lock()
	s.id = id
	s.renewals++
	s.mu.Unlock()
}

func (s *Subscription) markPolled(t time.Time) {
	s.mu.Lock()
	s.lastPoll = t
	s.mu.Unlock()
}

func (s *Subscription) stop() {
	s.cancel()
	<-s.done
}
