package session

import (
	"context"
	"sync"
	"time"

	"github.com/nerrad567/acs-gateway/internal/isapi"
)

// State is the lifecycle state of a session.
type State string

// Session states.
const (
	StateConnecting       State = "connecting"
	StateOnline           State = "online"
	StateReAuthenticating State = "reauthenticating"
	StateOffline          State = "offline"
)

// Session is the live authenticated connection to one controller.
//
// The client is replaced in place on re-authentication, so callers must
// fetch it with Client for every request instead of caching it.
type Session struct {
	ID        string
	Endpoint  isapi.Endpoint
	CreatedAt time.Time

	mu          sync.RWMutex
	client      *isapi.Client
	caps        *isapi.Capabilities
	state       State
	lastRenewed time.Time
	failures    int

	cancel context.CancelFunc
	done   chan struct{}
}

// Client returns the current authenticated client.
func (s *Session) Client() *isapi.Client {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.client
}

// Capabilities returns the capability snapshot from the last negotiation.
func (s *Session) Capabilities() *isapi.Capabilities {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.caps
}

// State returns the current state.
func (s *Session) State() State {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.state
}

// LastRenewed returns when the controller last answered a heartbeat or
// negotiation.
func (s *Session) LastRenewed() time.Time {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.lastRenewed
}

// Info is a point-in-time view of a session for callers outside the package.
type Info struct {
	ID           string    `json:"id"`
	ControllerID string    `json:"controller_id"`
	State        State     `json:"state"`
	Scheme       string    `json:"scheme"`
	Port         int       `json:"port"`
	AuthMode     string    `json:"auth_mode"`
	TokenAuth    bool      `json:"token_auth"`
	CreatedAt    time.Time `json:"created_at"`
	LastRenewed  time.Time `json:"last_renewed"`

	SupportHTTPS      bool `json:"support_https"`
	SupportToken      bool `json:"support_token"`
	SupportEncryption bool `json:"support_encryption"`
}

// Info returns a snapshot of the session.
func (s *Session) Info() Info {
	s.mu.RLock()
	defer s.mu.RUnlock()

	info := Info{
		ID:           s.ID,
		ControllerID: s.Endpoint.ID,
		State:        s.state,
		CreatedAt:    s.CreatedAt,
		LastRenewed:  s.lastRenewed,
	}
	if s.client != nil {
		info.Scheme = string(s.client.Scheme())
		info.Port = s.client.Port()
		info.AuthMode = string(s.client.AuthMode())
		info.TokenAuth = s.client.Token() != ""
	}
	if s.caps != nil {
		info.SupportHTTPS = s.caps.SupportHTTPS
		info.SupportToken = s.caps.SupportToken
		info.SupportEncryption = s.caps.SupportEncryption
	}
	return info
}

// swapClient installs a freshly negotiated client and returns the old one.
func (s *Session) swapClient(c *isapi.Client, caps *isapi.Capabilities) *isapi.Client {
	s.mu.Lock()
	defer s.mu.Unlock()
	old := s.client
	s.client = c
	s.caps = caps
	s.lastRenewed = time.Now()
	s.failures = 0
	return old
}

// setState records a new state and reports whether it changed.
func (s *Session) setState(st State) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.state == st {
		return false
	}
	s.state = st
	return true
}

func (s *Session) markAlive() {
	s.mu.Lock()
	s.lastRenewed = time.Now()
	s.failures = 0
	s.mu.Unlock()
}

// addFailure increments and returns the consecutive failure count.
func (s *Session) addFailure() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.failures++
	return s.failures
}

// stop cancels the heartbeat and waits for it to exit.
func (s *Session) stop() {
	if s.cancel != nil {
		s.cancel()
	}
	if s.done != nil {
		<-s.done
	}
}
