package session

import (
	"context"
	"fmt"
	"net/http"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"github.com/nerrad567/acs-gateway/internal/isapi"
)

// Logger defines the logging interface used by the Registry.
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

// Authenticator negotiates clients for controllers. *isapi.Negotiator
// implements it.
type Authenticator interface {
	Authenticate(ctx context.Context, ep isapi.Endpoint) (*isapi.Client, *isapi.Capabilities, error)
	RenewToken(ctx context.Context, c *isapi.Client) error
	UpgradeToHTTPS(ctx context.Context, c *isapi.Client) (*isapi.Client, *isapi.Capabilities, error)
}

// Config holds heartbeat timing.
type Config struct {
	// HeartbeatInterval is the time between status checks. Default: 30s.
	HeartbeatInterval time.Duration

	// TokenRenewInterval is the time between token renewals. Default: 20m.
	TokenRenewInterval time.Duration

	// OfflineAfterFailures is how many consecutive unreachable heartbeats
	// mark a session Offline. Default: 3.
	OfflineAfterFailures int
}

func (c *Config) applyDefaults() {
	if c.HeartbeatInterval <= 0 {
		c.HeartbeatInterval = 30 * time.Second
	}
	if c.TokenRenewInterval <= 0 {
		c.TokenRenewInterval = 20 * time.Minute
	}
	if c.OfflineAfterFailures <= 0 {
		c.OfflineAfterFailures = 3
	}
}

// StateHook is called after a session changes state. Hooks run on the
// goroutine that caused the change and must not call Open or Close for the
// same controller.
type StateHook func(controllerID string, state State)

// CloseHook is called after a session has been torn down.
type CloseHook func(controllerID string)

// StatusHook receives every successful heartbeat status reading.
type StatusHook func(controllerID string, status isapi.DeviceStatus)

// Registry owns one session per controller ID and runs their heartbeats.
//
// Open and Close are serialized per controller ID; Get only takes a read
// lock on the session map. All public methods are thread-safe.
type Registry struct {
	auth   Authenticator
	cfg    Config
	logger Logger

	mu       sync.RWMutex
	sessions map[string]*Session

	locksMu sync.Mutex
	locks   map[string]*idLock

	hooksMu     sync.RWMutex
	stateHooks  []StateHook
	closeHooks  []CloseHook
	statusHooks []StatusHook

	heartbeats atomic.Int64
}

// NewRegistry creates a session registry.
func NewRegistry(auth Authenticator, cfg Config) *Registry {
	cfg.applyDefaults()
	return &Registry{
		auth:     auth,
		cfg:      cfg,
		logger:   noopLogger{},
		sessions: make(map[string]*Session),
		locks:    make(map[string]*idLock),
	}
}

// SetLogger sets the logger for the registry.
func (r *Registry) SetLogger(logger Logger) {
	if logger != nil {
		r.logger = logger
	}
}

// OnStateChange registers a hook for state transitions.
func (r *Registry) OnStateChange(fn StateHook) {
	r.hooksMu.Lock()
	r.stateHooks = append(r.stateHooks, fn)
	r.hooksMu.Unlock()
}

// OnClose registers a hook for session teardown.
func (r *Registry) OnClose(fn CloseHook) {
	r.hooksMu.Lock()
	r.closeHooks = append(r.closeHooks, fn)
	r.hooksMu.Unlock()
}

// OnStatus registers a hook for heartbeat status readings.
func (r *Registry) OnStatus(fn StatusHook) {
	r.hooksMu.Lock()
	r.statusHooks = append(r.statusHooks, fn)
	r.hooksMu.Unlock()
}

// Open negotiates a session for ep and starts its heartbeat. An existing
// session for the same controller is closed first.
func (r *Registry) Open(ctx context.Context, ep isapi.Endpoint) (*Session, error) {
	if ep.ID == "" {
		return nil, ErrMissingControllerID
	}

	unlock := r.lock(ep.ID)
	defer unlock()

	r.closeLocked(ep.ID)
	r.fireState(ep.ID, StateConnecting)

	client, caps, err := r.auth.Authenticate(ctx, ep)
	if err != nil {
		r.logger.Warn("session open failed", "controller_id", ep.ID, "error", err)
		r.fireState(ep.ID, StateOffline)
		return nil, fmt.Errorf("opening session for %s: %w", ep.ID, err)
	}

	hbCtx, cancel := context.WithCancel(context.Background())
	s := &Session{
		ID:          uuid.NewString(),
		Endpoint:    ep,
		CreatedAt:   time.Now().UTC(),
		client:      client,
		caps:        caps,
		state:       StateOnline,
		lastRenewed: time.Now(),
		cancel:      cancel,
		done:        make(chan struct{}),
	}

	r.mu.Lock()
	r.sessions[ep.ID] = s
	r.mu.Unlock()

	r.heartbeats.Add(1)
	go r.runHeartbeat(hbCtx, s)

	r.logger.Info("session opened",
		"controller_id", ep.ID,
		"session_id", s.ID,
		"scheme", client.Scheme(),
		"auth_mode", client.AuthMode(),
		"token", client.Token() != "")
	r.fireState(ep.ID, StateOnline)
	return s, nil
}

// Get returns the session for a controller, whatever its state.
func (r *Registry) Get(controllerID string) (*Session, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	s, ok := r.sessions[controllerID]
	if !ok {
		return nil, ErrSessionNotFound
	}
	return s, nil
}

// Online returns the session for a controller if it is Online, otherwise a
// *isapi.NoSessionError.
func (r *Registry) Online(controllerID string) (*Session, error) {
	s, err := r.Get(controllerID)
	if err != nil {
		return nil, &isapi.NoSessionError{ControllerID: controllerID}
	}
	if st := s.State(); st != StateOnline {
		return nil, &isapi.NoSessionError{ControllerID: controllerID, State: string(st)}
	}
	return s, nil
}

// List returns a snapshot of all sessions ordered by controller ID.
func (r *Registry) List() []Info {
	r.mu.RLock()
	out := make([]Info, 0, len(r.sessions))
	for _, s := range r.sessions {
		out = append(out, s.Info())
	}
	r.mu.RUnlock()

	sort.Slice(out, func(i, j int) bool { return out[i].ControllerID < out[j].ControllerID })
	return out
}

// Close tears down the session for a controller. A missing session is a no-op.
func (r *Registry) Close(controllerID string) {
	unlock := r.lock(controllerID)
	defer unlock()
	r.closeLocked(controllerID)
}

// CloseAll tears down every session.
func (r *Registry) CloseAll() {
	r.mu.RLock()
	ids := make([]string, 0, len(r.sessions))
	for id := range r.sessions {
		ids = append(ids, id)
	}
	r.mu.RUnlock()

	for _, id := range ids {
		r.Close(id)
	}
}

// ActiveHeartbeats returns the number of running heartbeat loops.
func (r *Registry) ActiveHeartbeats() int {
	return int(r.heartbeats.Load())
}

// closeLocked must be called with the controller's lock held.
func (r *Registry) closeLocked(controllerID string) {
	r.mu.Lock()
	s, ok := r.sessions[controllerID]
	delete(r.sessions, controllerID)
	r.mu.Unlock()
	if !ok {
		return
	}

	s.stop()
	if c := s.Client(); c != nil {
		c.Close()
	}
	r.logger.Info("session closed", "controller_id", controllerID, "session_id", s.ID)

	r.hooksMu.RLock()
	hooks := r.closeHooks
	r.hooksMu.RUnlock()
	for _, fn := range hooks {
		fn(controllerID)
	}
}

// idLock serializes Open and Close for one controller. refs counts holders
// and waiters so the entry can be dropped once nobody needs it.
type idLock struct {
	mu   sync.Mutex
	refs int
}

// lock takes the per-controller lock and returns its release function.
func (r *Registry) lock(controllerID string) func() {
	r.locksMu.Lock()
	l, ok := r.locks[controllerID]
	if !ok {
		l = &idLock{}
		r.locks[controllerID] = l
	}
	l.refs++
	r.locksMu.Unlock()

	l.mu.Lock()
	return func() {
		l.mu.Unlock()
		r.locksMu.Lock()
		l.refs--
		if l.refs == 0 {
			delete(r.locks, controllerID)
		}
		r.locksMu.Unlock()
	}
}

// setState changes s's state and fires hooks when it actually changed.
func (r *Registry) setState(s *Session, st State) {
	if s.setState(st) {
		r.logger.Debug("session state changed", "controller_id", s.Endpoint.ID, "state", st)
		r.fireState(s.Endpoint.ID, st)
	}
}

func (r *Registry) fireState(controllerID string, st State) {
	r.hooksMu.RLock()
	hooks := r.stateHooks
	r.hooksMu.RUnlock()
	for _, fn := range hooks {
		fn(controllerID, st)
	}
}

func (r *Registry) fireStatus(controllerID string, status isapi.DeviceStatus) {
	r.hooksMu.RLock()
	hooks := r.statusHooks
	r.hooksMu.RUnlock()
	for _, fn := range hooks {
		fn(controllerID, status)
	}
}

// ValidateCredentials reports whether ep can be authenticated. The
// negotiated client is discarded and no session is stored.
func (r *Registry) ValidateCredentials(ctx context.Context, ep isapi.Endpoint) bool {
	c, _, err := r.auth.Authenticate(ctx, ep)
	if err != nil {
		r.logger.Debug("credential validation failed", "controller_id", ep.ID, "error", err)
		return false
	}
	c.Close()
	return true
}

// DeviceStatus reads CPU, memory and clock from an Online controller.
func (r *Registry) DeviceStatus(ctx context.Context, controllerID string) (*isapi.DeviceStatus, error) {
	s, err := r.Online(controllerID)
	if err != nil {
		return nil, err
	}
	var status isapi.DeviceStatus
	if err := s.Client().Do(ctx, http.MethodGet, isapi.PathStatus, nil, &status); err != nil {
		return nil, fmt.Errorf("reading status of %s: %w", controllerID, err)
	}
	return &status, nil
}

// UpgradeToHTTPS enables HTTPS on an Online controller reached over HTTP
// and switches its session to the new HTTPS client.
func (r *Registry) UpgradeToHTTPS(ctx context.Context, controllerID string) (*Session, error) {
	unlock := r.lock(controllerID)
	defer unlock()

	s, err := r.Online(controllerID)
	if err != nil {
		return nil, err
	}
	up, caps, err := r.auth.UpgradeToHTTPS(ctx, s.Client())
	if err != nil {
		return nil, fmt.Errorf("upgrading %s to https: %w", controllerID, err)
	}
	if old := s.swapClient(up, caps); old != nil {
		old.Close()
	}
	r.logger.Info("session switched to https", "controller_id", controllerID, "port", up.Port())
	return s, nil
}
