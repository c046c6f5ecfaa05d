package events

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"sync"
	"testing"
	"time"

	"github.com/nerrad567/acs-gateway/internal/isapi"
	"github.com/nerrad567/acs-gateway/internal/isapi/isapitest"
	"github.com/nerrad567/acs-gateway/internal/session"
)

type fixture struct {
	dev      *isapitest.Device
	sessions *session.Registry
	monitor  *Monitor
}

func newFixture(t *testing.T, devCfg isapitest.Config, cfg MonitorConfig) *fixture {
	t.Helper()
	return newFixtureWithSessions(t, devCfg, session.Config{HeartbeatInterval: time.Hour}, cfg)
}

func newFixtureWithSessions(t *testing.T, devCfg isapitest.Config, sessCfg session.Config, cfg MonitorConfig) *fixture {
	t.Helper()
	devCfg.Username, devCfg.Password = "admin", "secret"
	dev := isapitest.New(devCfg)

	sessions := session.NewRegistry(
		isapi.NewNegotiator(isapi.NegotiatorConfig{Timeout: time.Second}),
		sessCfg,
	)
	if cfg.PollInterval == 0 {
		cfg.PollInterval = 10 * time.Millisecond
	}
	mon := NewMonitor(sessions, NewHandlerRegistry(), cfg)
	sessions.OnClose(mon.StopMonitoring)

	t.Cleanup(func() {
		mon.StopAll()
		sessions.CloseAll()
		dev.Close()
	})
	return &fixture{dev: dev, sessions: sessions, monitor: mon}
}

func (f *fixture) open(t *testing.T, id string) {
	t.Helper()
	if _, err := f.sessions.Open(context.Background(), f.dev.Endpoint(id)); err != nil {
		t.Fatalf("Open() error = %v", err)
	}
}

// collector gathers delivered event payload types in order.
type collector struct {
	mu     sync.Mutex
	events []Event
}

func (c *collector) handle(ev Event) error {
	c.mu.Lock()
	c.events = append(c.events, ev)
	c.mu.Unlock()
	return nil
}

func (c *collector) ids() []string {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]string, 0, len(c.events))
	for _, ev := range c.events {
		out = append(out, eventID(ev))
	}
	return out
}

func eventID(ev Event) string {
	var body struct {
		ID string `json:"id"`
	}
	_ = json.Unmarshal(ev.Raw, &body) //nolint:errcheck // test helper
	return body.ID
}

func waitFor(t *testing.T, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(3 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("timed out waiting for %s", what)
}

func TestStartMonitoring_NoSession(t *testing.T) {
	f := newFixture(t, isapitest.Config{}, MonitorConfig{})

	_, err := f.monitor.StartMonitoring(context.Background(), "never-opened", []string{"cardRead"})
	var noSess *isapi.NoSessionError
	if !errors.As(err, &noSess) || noSess.ControllerID != "never-opened" {
		t.Fatalf("StartMonitoring() error = %v, want NoSessionError", err)
	}
	if !errors.Is(err, isapi.ErrNoSession) {
		t.Error("error should match ErrNoSession")
	}
	if len(f.dev.Subscribes()) != 0 {
		t.Error("subscribe sent without a session")
	}
}

func TestStartMonitoring_DeliversInOrder(t *testing.T) {
	f := newFixture(t, isapitest.Config{}, MonitorConfig{})
	f.open(t, "c1")

	col := &collector{}
	if _, err := f.monitor.Handlers().RegisterHandler("c1", AllEvents, col.handle); err != nil {
		t.Fatal(err)
	}
	f.dev.QueueEvents(
		map[string]any{"type": "cardRead", "id": "e1", "time": "2026-03-01T09:00:00Z"},
		map[string]any{"type": "cardRead", "id": "e2"},
		map[string]any{"type": "cardRead", "id": "e3"},
	)

	sub, err := f.monitor.StartMonitoring(context.Background(), "c1", []string{"cardRead"})
	if err != nil {
		t.Fatalf("StartMonitoring() error = %v", err)
	}
	if sub.ID() != "sub-1" {
		t.Errorf("ID() = %q, want sub-1", sub.ID())
	}

	waitFor(t, "three events", func() bool { return len(col.ids()) == 3 })
	if got := col.ids(); !equal(got, []string{"e1", "e2", "e3"}) {
		t.Errorf("delivery order = %v, want [e1 e2 e3]", got)
	}

	col.mu.Lock()
	first := col.events[0]
	col.mu.Unlock()
	if first.ControllerID != "c1" || first.Type != "cardRead" {
		t.Errorf("event = %+v", first)
	}
	if !first.Time.Equal(time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)) {
		t.Errorf("Time = %v, want device timestamp", first.Time)
	}
	if sub.LastPoll().IsZero() {
		t.Error("LastPoll not updated")
	}

	reqs := f.dev.Subscribes()
	if len(reqs) != 1 {
		t.Fatalf("subscribe requests = %d, want 1", len(reqs))
	}
	if reqs[0].Metadata["format"] != "json" || reqs[0].Metadata["encryption"] != "disabled" {
		t.Errorf("metadata = %v", reqs[0].Metadata)
	}
}

func TestStartMonitoring_EncryptionFromCapabilities(t *testing.T) {
	f := newFixture(t, isapitest.Config{SupportEncryption: true}, MonitorConfig{})
	f.open(t, "c1")

	if _, err := f.monitor.StartMonitoring(context.Background(), "c1", nil); err != nil {
		t.Fatalf("StartMonitoring() error = %v", err)
	}
	reqs := f.dev.Subscribes()
	if len(reqs) != 1 || reqs[0].Metadata["encryption"] != "enabled" {
		t.Errorf("subscribe = %+v, want encryption enabled", reqs)
	}
	if len(reqs[0].EventTypes) != 1 || reqs[0].EventTypes[0] != AllEvents {
		t.Errorf("event types = %v, want [all]", reqs[0].EventTypes)
	}
}

func TestPollFailureResubscribes(t *testing.T) {
	f := newFixture(t, isapitest.Config{}, MonitorConfig{})
	f.open(t, "c1")

	col := &collector{}
	if _, err := f.monitor.Handlers().RegisterHandler("c1", "doorStatus", col.handle); err != nil {
		t.Fatal(err)
	}
	sub, err := f.monitor.StartMonitoring(context.Background(), "c1", []string{"doorStatus"})
	if err != nil {
		t.Fatalf("StartMonitoring() error = %v", err)
	}
	firstID := sub.ID()

	f.dev.FailNextPolls(1)
	f.dev.QueueEvents(map[string]any{"type": "doorStatus", "id": "after-failure"})

	waitFor(t, "event after resubscribe", func() bool { return len(col.ids()) == 1 })
	if sub.ID() == firstID || sub.ID() == "" {
		t.Errorf("ID() = %q, want a new subscription id", sub.ID())
	}
	reqs := f.dev.Subscribes()
	if len(reqs) != 2 {
		t.Fatalf("subscribe requests = %d, want 2", len(reqs))
	}
	if !equal(reqs[1].EventTypes, []string{"doorStatus"}) {
		t.Errorf("resubscribe types = %v, want same type set", reqs[1].EventTypes)
	}
	if sub.Info().Renewals != 1 {
		t.Errorf("Renewals = %d, want 1", sub.Info().Renewals)
	}
}

func TestStopMonitoring(t *testing.T) {
	f := newFixture(t, isapitest.Config{}, MonitorConfig{})
	f.open(t, "c1")

	sub, err := f.monitor.StartMonitoring(context.Background(), "c1", []string{"cardRead"})
	if err != nil {
		t.Fatalf("StartMonitoring() error = %v", err)
	}
	waitFor(t, "first poll", func() bool { return !sub.LastPoll().IsZero() })

	f.monitor.StopMonitoring("c1")

	select {
	case <-sub.Done():
	default:
		t.Fatal("poll loop still running after StopMonitoring")
	}
	if len(f.monitor.Subscriptions("c1")) != 0 {
		t.Error("subscription still listed")
	}

	polls := f.dev.Calls(http.MethodGet, "/ISAPI/Event/Poll/sub-1")
	time.Sleep(50 * time.Millisecond)
	if after := f.dev.Calls(http.MethodGet, "/ISAPI/Event/Poll/sub-1"); after != polls {
		t.Errorf("polls continued after stop: %d -> %d", polls, after)
	}

	// Stopping again is harmless.
	f.monitor.StopMonitoring("c1")
}

func TestSessionCloseStopsMonitoring(t *testing.T) {
	f := newFixture(t, isapitest.Config{}, MonitorConfig{})
	f.open(t, "c1")

	sub, err := f.monitor.StartMonitoring(context.Background(), "c1", []string{"cardRead"})
	if err != nil {
		t.Fatalf("StartMonitoring() error = %v", err)
	}

	f.sessions.Close("c1")

	select {
	case <-sub.Done():
	case <-time.After(time.Second):
		t.Fatal("session close did not stop the poll loop")
	}
}

func TestSessionCloseDuringSubscribe(t *testing.T) {
	f := newFixture(t, isapitest.Config{SubscribeDelay: 200 * time.Millisecond}, MonitorConfig{})
	f.open(t, "c1")

	type result struct {
		sub *Subscription
		err error
	}
	done := make(chan result, 1)
	go func() {
		sub, err := f.monitor.StartMonitoring(context.Background(), "c1", []string{"cardRead"})
		done <- result{sub, err}
	}()

	waitFor(t, "subscribe in flight", func() bool {
		return f.dev.Calls(http.MethodPost, "/ISAPI/Event/Subscribe") == 1
	})
	f.sessions.Close("c1")

	var res result
	select {
	case res = <-done:
	case <-time.After(3 * time.Second):
		t.Fatal("StartMonitoring did not return")
	}
	if !errors.Is(res.err, isapi.ErrNoSession) {
		t.Fatalf("StartMonitoring() error = %v, want ErrNoSession", res.err)
	}
	if res.sub != nil {
		t.Error("StartMonitoring() returned a subscription")
	}
	if n := len(f.monitor.Subscriptions("c1")); n != 0 {
		t.Errorf("subscriptions = %d, want 0", n)
	}

	time.Sleep(50 * time.Millisecond)
	if n := f.dev.Calls(http.MethodGet, "/ISAPI/Event/Poll/sub-1"); n != 0 {
		t.Errorf("polls after close = %d, want 0", n)
	}
}

func TestOfflineSessionStopsPolling(t *testing.T) {
	f := newFixtureWithSessions(t, isapitest.Config{},
		session.Config{HeartbeatInterval: 20 * time.Millisecond, OfflineAfterFailures: 1},
		MonitorConfig{})
	f.open(t, "c1")

	col := &collector{}
	if _, err := f.monitor.Handlers().RegisterHandler("c1", AllEvents, col.handle); err != nil {
		t.Fatal(err)
	}
	sub, err := f.monitor.StartMonitoring(context.Background(), "c1", nil)
	if err != nil {
		t.Fatalf("StartMonitoring() error = %v", err)
	}
	waitFor(t, "first poll", func() bool { return !sub.LastPoll().IsZero() })

	// Status fails but polls keep answering.
	f.dev.FailNextStatus(1)
	waitFor(t, "session offline", func() bool {
		s, err := f.sessions.Get("c1")
		return err == nil && s.State() == session.StateOffline
	})
	waitFor(t, "poll loop parked", func() bool { return sub.ID() == "" })

	polls := f.dev.Calls(http.MethodGet, "/ISAPI/Event/Poll/sub-1")
	f.dev.QueueEvents(map[string]any{"type": "cardRead", "id": "while-offline"})
	time.Sleep(100 * time.Millisecond)

	if after := f.dev.Calls(http.MethodGet, "/ISAPI/Event/Poll/sub-1"); after != polls {
		t.Errorf("polls continued on offline session: %d -> %d", polls, after)
	}
	if ids := col.ids(); len(ids) != 0 {
		t.Errorf("events delivered from offline session: %v", ids)
	}
}

func TestStartMonitoring_ReplacesSameTypeSet(t *testing.T) {
	f := newFixture(t, isapitest.Config{}, MonitorConfig{})
	f.open(t, "c1")

	first, err := f.monitor.StartMonitoring(context.Background(), "c1", []string{"cardRead", "doorStatus"})
	if err != nil {
		t.Fatal(err)
	}
	second, err := f.monitor.StartMonitoring(context.Background(), "c1", []string{"doorStatus", "cardRead", "cardRead"})
	if err != nil {
		t.Fatal(err)
	}
	other, err := f.monitor.StartMonitoring(context.Background(), "c1", []string{"faceRecognition"})
	if err != nil {
		t.Fatal(err)
	}

	select {
	case <-first.Done():
	default:
		t.Error("replaced subscription still polling")
	}
	if second.ID() == first.ID() || other.ID() == second.ID() {
		t.Error("subscriptions should have distinct ids")
	}
	if got := len(f.monitor.Subscriptions("c1")); got != 2 {
		t.Errorf("Subscriptions() = %d, want 2", got)
	}
}

func TestMonitor_SinksAndHeartbeat(t *testing.T) {
	f := newFixture(t, isapitest.Config{}, MonitorConfig{HeartbeatInterval: 10 * time.Millisecond})
	f.open(t, "c1")

	col := &collector{}
	f.monitor.AddSink(SinkFunc(col.handle))
	f.monitor.AddSink(SinkFunc(func(Event) error { return errors.New("sink down") }))

	if _, err := f.monitor.StartMonitoring(context.Background(), "c1", []string{AllEvents}); err != nil {
		t.Fatal(err)
	}
	f.dev.QueueEvents(map[string]any{"eventType": "faceRecognition", "id": "f1"})

	waitFor(t, "sink delivery", func() bool { return len(col.ids()) == 1 })
	col.mu.Lock()
	typ := col.events[0].Type
	col.mu.Unlock()
	if typ != "faceRecognition" {
		t.Errorf("Type = %q, want faceRecognition from eventType", typ)
	}

	waitFor(t, "event heartbeat", func() bool {
		return f.dev.Calls(http.MethodPost, "/ISAPI/Event/Heartbeat/sub-1") > 0
	})
}

func TestNextBackoff(t *testing.T) {
	tests := []struct {
		cur, limit, want time.Duration
	}{
		{time.Second, 30 * time.Second, 2 * time.Second},
		{16 * time.Second, 30 * time.Second, 30 * time.Second},
		{30 * time.Second, 30 * time.Second, 30 * time.Second},
	}
	for _, tt := range tests {
		if got := nextBackoff(tt.cur, tt.limit); got != tt.want {
			t.Errorf("nextBackoff(%v, %v) = %v, want %v", tt.cur, tt.limit, got, tt.want)
		}
	}
}

func TestMonitorConfigDefaults(t *testing.T) {
	cfg := MonitorConfig{PollInterval: time.Minute}
	cfg.applyDefaults()
	if cfg.HeartbeatInterval != 25*time.Second {
		t.Errorf("HeartbeatInterval = %v", cfg.HeartbeatInterval)
	}
	if cfg.MaxBackoff != time.Minute {
		t.Errorf("MaxBackoff = %v, want raised to poll interval", cfg.MaxBackoff)
	}
}

func TestParseEvent(t *testing.T) {
	received := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	tests := []struct {
		name     string
		raw      string
		wantType string
		wantTime time.Time
	}{
		{"type and time", `{"type":"cardRead","time":"2026-03-01T09:00:00Z"}`, "cardRead", time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)},
		{"eventType and dateTime", `{"eventType":"doorStatus","dateTime":"2026-03-01T10:00:00+01:00"}`, "doorStatus", time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)},
		{"bad time", `{"type":"cardRead","time":"yesterday"}`, "cardRead", received},
		{"not an object", `"noise"`, "", received},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ev := parseEvent("c1", []byte(tt.raw), received)
			if ev.Type != tt.wantType || !ev.Time.Equal(tt.wantTime) || ev.ControllerID != "c1" {
				t.Errorf("parseEvent() = %+v", ev)
			}
		})
	}
}
