package events

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/nerrad567/acs-gateway/internal/isapi"
	"github.com/nerrad567/acs-gateway/internal/session"
)

// Logger defines the logging interface used by the events package.
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

// SessionSource looks up Online sessions. *session.Registry implements it.
type SessionSource interface {
	Online(controllerID string) (*session.Session, error)
}

// Sink receives every polled event after handler dispatch.
type Sink interface {
	DeliverEvent(ev Event) error
}

// MonitorConfig holds polling cadence.
type MonitorConfig struct {
	// PollInterval is the time between polls. Default: 1s.
	PollInterval time.Duration

	// HeartbeatInterval is the time between subscription keep-alives.
	// Default: 25s.
	HeartbeatInterval time.Duration

	// MaxBackoff caps the delay between failed resubscribe attempts.
	// Default: 30s.
	MaxBackoff time.Duration
}

func (c *MonitorConfig) applyDefaults() {
	if c.PollInterval <= 0 {
		c.PollInterval = time.Second
	}
	if c.HeartbeatInterval <= 0 {
		c.HeartbeatInterval = 25 * time.Second
	}
	if c.MaxBackoff <= 0 {
		c.MaxBackoff = 30 * time.Second
	}
	if c.MaxBackoff < c.PollInterval {
		c.MaxBackoff = c.PollInterval
	}
}

// Monitor subscribes to controller event streams and polls them.
type Monitor struct {
	sessions SessionSource
	handlers *HandlerRegistry
	cfg      MonitorConfig
	logger   Logger

	sinksMu sync.RWMutex
	sinks   []Sink

	mu   sync.Mutex
	subs map[string]map[string]*Subscription // controller ID -> type set key
}

// NewMonitor creates a Monitor that dispatches into handlers.
func NewMonitor(sessions SessionSource, handlers *HandlerRegistry, cfg MonitorConfig) *Monitor {
	cfg.applyDefaults()
	return &Monitor{
		sessions: sessions,
		handlers: handlers,
		cfg:      cfg,
		logger:   noopLogger{},
		subs:     make(map[string]map[string]*Subscription),
	}
}

// SetLogger sets the logger for the monitor.
func (m *Monitor) SetLogger(logger Logger) {
	if logger != nil {
		m.logger = logger
	}
}

// AddSink registers a sink for every polled event.
func (m *Monitor) AddSink(s Sink) {
	m.sinksMu.Lock()
	m.sinks = append(m.sinks, s)
	m.sinksMu.Unlock()
}

// Handlers returns the handler registry events are dispatched to.
func (m *Monitor) Handlers() *HandlerRegistry { return m.handlers }

// StartMonitoring subscribes to eventTypes on an Online controller and
// starts polling. An empty type list means AllEvents. A subscription for
// the same controller and type set is replaced.
func (m *Monitor) StartMonitoring(ctx context.Context, controllerID string, eventTypes []string) (*Subscription, error) {
	types := normalizeTypes(eventTypes)

	s, err := m.sessions.Online(controllerID)
	if err != nil {
		return nil, err
	}
	id, err := m.subscribe(ctx, s, types)
	if err != nil {
		return nil, fmt.Errorf("subscribing to %s events: %w", controllerID, err)
	}

	pollCtx, cancel := context.WithCancel(context.Background())
	sub := &Subscription{
		ControllerID: controllerID,
		Types:        types,
		key:          strings.Join(types, ","),
		id:           id,
		cancel:       cancel,
		done:         make(chan struct{}),
	}

	m.mu.Lock()
	byKey, ok := m.subs[controllerID]
	if !ok {
		byKey = make(map[string]*Subscription)
		m.subs[controllerID] = byKey
	}
	prev := byKey[sub.key]
	byKey[sub.key] = sub
	m.mu.Unlock()

	if prev != nil {
		prev.stop()
	}

	go m.run(pollCtx, sub, s)

	// A Close that landed during the subscribe round trip ran its stop hook
	// before sub was installed.
	if cur, err := m.sessions.Online(controllerID); err != nil || cur != s {
		m.remove(sub)
		sub.stop()
		if err == nil {
			err = &isapi.NoSessionError{ControllerID: controllerID}
		}
		return nil, err
	}

	m.logger.Info("event monitoring started",
		"controller_id", controllerID,
		"subscription_id", id,
		"event_types", types)
	return sub, nil
}

// StopMonitoring cancels every poll loop for a controller and waits for
// them to exit. Nothing is sent to the device.
func (m *Monitor) StopMonitoring(controllerID string) {
	m.mu.Lock()
	byKey := m.subs[controllerID]
	delete(m.subs, controllerID)
	m.mu.Unlock()

	for _, sub := range byKey {
		sub.stop()
	}
	if len(byKey) > 0 {
		m.logger.Info("event monitoring stopped", "controller_id", controllerID, "subscriptions", len(byKey))
	}
}

// remove drops sub from the table if it is still the installed one.
func (m *Monitor) remove(sub *Subscription) {
	m.mu.Lock()
	defer m.mu.Unlock()
	byKey := m.subs[sub.ControllerID]
	if byKey[sub.key] != sub {
		return
	}
	delete(byKey, sub.key)
	if len(byKey) == 0 {
		delete(m.subs, sub.ControllerID)
	}
}

// StopAll stops monitoring on every controller.
func (m *Monitor) StopAll() {
	m.mu.Lock()
	ids := make([]string, 0, len(m.subs))
	for id := range m.subs {
		ids = append(ids, id)
	}
	m.mu.Unlock()

	for _, id := range ids {
		m.StopMonitoring(id)
	}
}

// Subscriptions returns the active subscriptions for a controller.
func (m *Monitor) Subscriptions(controllerID string) []SubscriptionInfo {
	m.mu.Lock()
	byKey := m.subs[controllerID]
	out := make([]SubscriptionInfo, 0, len(byKey))
	for _, sub := range byKey {
		out = append(out, sub.Info())
	}
	m.mu.Unlock()

	sort.Slice(out, func(i, j int) bool {
		return strings.Join(out[i].EventTypes, ",") < strings.Join(out[j].EventTypes, ",")
	})
	return out
}

type subscribeRequest struct {
	EventTypes []string          `json:"eventTypes"`
	Metadata   subscribeMetadata `json:"metadata"`
}

type subscribeMetadata struct {
	Format     string `json:"format"`
	Encryption string `json:"encryption"`
}

func (m *Monitor) subscribe(ctx context.Context, s *session.Session, types []string) (string, error) {
	encryption := "disabled"
	if caps := s.Capabilities(); caps != nil && caps.SupportEncryption {
		encryption = "enabled"
	}
	req := subscribeRequest{
		EventTypes: types,
		Metadata:   subscribeMetadata{Format: "json", Encryption: encryption},
	}

	var resp struct {
		SubscriptionID string `json:"subscriptionId"`
	}
	if err := s.Client().Do(ctx, http.MethodPost, isapi.PathEventSubscribe, req, &resp); err != nil {
		return "", err
	}
	if resp.SubscriptionID == "" {
		return "", ErrNoSubscriptionID
	}
	return resp.SubscriptionID, nil
}

// run is the poll loop for one subscription.
func (m *Monitor) run(ctx context.Context, sub *Subscription, s *session.Session) {
	defer close(sub.done)

	poll := time.NewTicker(m.cfg.PollInterval)
	defer poll.Stop()
	keepAlive := time.NewTicker(m.cfg.HeartbeatInterval)
	defer keepAlive.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-keepAlive.C:
			m.sendHeartbeat(ctx, sub, s)
		case <-poll.C:
			err := m.checkSession(sub, s)
			if err == nil {
				err = m.poll(ctx, sub, s)
			}
			if err == nil {
				continue
			}
			if ctx.Err() != nil {
				return
			}
			m.logger.Warn("event poll failed, resubscribing",
				"controller_id", sub.ControllerID,
				"subscription_id", sub.ID(),
				"error", err)

			next, ok := m.resubscribe(ctx, sub)
			if !ok {
				return
			}
			s = next
		}
	}
}

// checkSession fails when s is no longer the controller's Online session,
// so a loop never polls through a session the registry has dropped.
func (m *Monitor) checkSession(sub *Subscription, s *session.Session) error {
	cur, err := m.sessions.Online(sub.ControllerID)
	if err != nil {
		return err
	}
	if cur != s {
		return ErrSessionReplaced
	}
	return nil
}

type pollResponse struct {
	Events []json.RawMessage `json:"events"`
}

func (m *Monitor) poll(ctx context.Context, sub *Subscription, s *session.Session) error {
	var resp pollResponse
	if err := s.Client().Do(ctx, http.MethodGet, isapi.PathEventPoll(sub.ID()), nil, &resp); err != nil {
		return err
	}
	now := time.Now()
	sub.markPolled(now)

	for _, raw := range resp.Events {
		m.deliver(parseEvent(sub.ControllerID, raw, now))
	}
	return nil
}

func (m *Monitor) deliver(ev Event) {
	m.handlers.Dispatch(ev)

	m.sinksMu.RLock()
	sinks := m.sinks
	m.sinksMu.RUnlock()
	for _, sink := range sinks {
		if err := sink.DeliverEvent(ev); err != nil {
			m.logger.Warn("event sink failed",
				"controller_id", ev.ControllerID,
				"event_type", ev.Type,
				"error", err)
		}
	}
}

// resubscribe obtains a new subscription ID for the same type set, backing
// off between failures. It returns false when the context ends first.
func (m *Monitor) resubscribe(ctx context.Context, sub *Subscription) (*session.Session, bool) {
	sub.setID("")
	backoff := m.cfg.PollInterval

	for {
		s, err := m.sessions.Online(sub.ControllerID)
		if err == nil {
			var id string
			if id, err = m.subscribe(ctx, s, sub.Types); err == nil {
				sub.renew(id)
				m.logger.Info("event subscription renewed",
					"controller_id", sub.ControllerID,
					"subscription_id", id)
				return s, true
			}
		}
		if ctx.Err() != nil {
			return nil, false
		}
		m.logger.Warn("resubscribe failed",
			"controller_id", sub.ControllerID,
			"retry_in", backoff,
			"error", err)

		timer := time.NewTimer(backoff)
		select {
		case <-ctx.Done():
			timer.Stop()
			return nil, false
		case <-timer.C:
		}
		backoff = nextBackoff(backoff, m.cfg.MaxBackoff)
	}
}

func nextBackoff(cur, limit time.Duration) time.Duration {
	next := cur * 2
	if next > limit {
		return limit
	}
	return next
}

// sendHeartbeat keeps the device-side subscription alive. Failures are
// only logged; a dead subscription shows up as a poll failure.
func (m *Monitor) sendHeartbeat(ctx context.Context, sub *Subscription, s *session.Session) {
	id := sub.ID()
	if id == "" {
		return
	}
	if err := s.Client().Do(ctx, http.MethodPost, isapi.PathEventHeartbeat(id), nil, nil); err != nil {
		m.logger.Debug("event heartbeat failed",
			"controller_id", sub.ControllerID,
			"subscription_id", id,
			"error", err)
	}
}

// normalizeTypes dedupes and sorts the type set so equal sets share a key.
func normalizeTypes(types []string) []string {
	seen := make(map[string]bool, len(types))
	out := make([]string, 0, len(types))
	for _, t := range types {
		t = strings.TrimSpace(t)
		if t == "" || seen[t] {
			continue
		}
		seen[t] = true
		out = append(out, t)
	}
	if len(out) == 0 {
		return []string{AllEvents}
	}
	sort.Strings(out)
	return out
}
