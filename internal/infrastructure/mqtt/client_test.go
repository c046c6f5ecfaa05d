package mqtt

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/nerrad567/acs-gateway/internal/infrastructure/config"
)

var testTopics = Topics{Site: "test-site"}

// testConfig returns an MQTT configuration for a local Mosquitto broker at
// 127.0.0.1:1883.
func testConfig() config.MQTTConfig {
	return config.MQTTConfig{
		Broker: config.MQTTBrokerConfig{
			Host:     "127.0.0.1",
			Port:     1883,
			ClientID: "acsgateway-test",
		},
		QoS: 1,
		Reconnect: config.MQTTReconnectConfig{
			InitialDelay: 1,
			MaxDelay:     5,
		},
	}
}

// connectOrSkip connects to the local broker, skipping the test when none
// is running.
func connectOrSkip(t *testing.T, clientID string) *Client {
	t.Helper()
	cfg := testConfig()
	cfg.Broker.ClientID = clientID
	client, err := Connect(cfg, testTopics)
	if err != nil {
		t.Skipf("no MQTT broker at 127.0.0.1:1883: %v", err)
	}
	t.Cleanup(func() { client.Close() })
	return client
}

// =============================================================================
// Topic Tests
// =============================================================================

func TestTopicBuilders(t *testing.T) {
	topics := Topics{Site: "site-001"}
	tests := []struct {
		name string
		got  string
		want string
	}{
		{"status", topics.Status(), "acsgateway/site-001/status"},
		{"event", topics.ControllerEvent("front-door", "AccessControllerEvent"),
			"acsgateway/site-001/event/front-door/AccessControllerEvent"},
		{"all events", topics.AllControllerEvents(), "acsgateway/site-001/event/#"},
		{"session state", topics.SessionState("front-door"), "acsgateway/site-001/session/front-door/state"},
		{"health", topics.ControllerHealth("front-door"), "acsgateway/site-001/health/front-door"},
		{"door command", topics.DoorCommand("front-door", "1"), "acsgateway/site-001/command/front-door/door/1"},
		{"all door commands", topics.AllDoorCommands(), "acsgateway/site-001/command/+/door/+"},
		{"door state", topics.DoorState("front-door", "1"), "acsgateway/site-001/state/front-door/door/1"},
		{"door command ack", topics.DoorCommandAck("front-door", "1"), "acsgateway/site-001/ack/front-door/door/1"},
		{"sanitised", topics.ControllerEvent("a/b", "x+#"), "acsgateway/site-001/event/a_b/x__"},
		{"empty segment", topics.ControllerEvent("c1", ""), "acsgateway/site-001/event/c1/_"},
		{"empty site", Topics{}.Status(), "acsgateway/_/status"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if tt.got != tt.want {
				t.Errorf("got %q, want %q", tt.got, tt.want)
			}
		})
	}
}

func TestParseDoorCommand(t *testing.T) {
	topics := Topics{Site: "site-001"}
	tests := []struct {
		topic      string
		controller string
		door       string
		ok         bool
	}{
		{topics.DoorCommand("front-door", "2"), "front-door", "2", true},
		{"acsgateway/site-001/command/front-door/door/", "", "", false},
		{"acsgateway/site-001/command/front-door/lift/2", "", "", false},
		{"acsgateway/other/command/front-door/door/2", "", "", false},
		{"acsgateway/site-001/command/front-door/door/2/extra", "", "", false},
		{topics.DoorState("front-door", "2"), "", "", false},
	}
	for _, tt := range tests {
		t.Run(tt.topic, func(t *testing.T) {
			c, d, ok := topics.ParseDoorCommand(tt.topic)
			if c != tt.controller || d != tt.door || ok != tt.ok {
				t.Errorf("ParseDoorCommand() = (%q, %q, %v), want (%q, %q, %v)",
					c, d, ok, tt.controller, tt.door, tt.ok)
			}
		})
	}
}

func TestStatusPayloads(t *testing.T) {
	online := buildOnlinePayload("gw")
	if !strings.Contains(online, `"status":"online"`) || !strings.Contains(online, `"client_id":"gw"`) {
		t.Errorf("online payload = %s", online)
	}
	offline := buildOfflinePayload("gw")
	if !strings.Contains(offline, `"reason":"graceful_shutdown"`) {
		t.Errorf("offline payload = %s", offline)
	}
}

func TestBuildClientOptions(t *testing.T) {
	cfg := testConfig()
	cfg.Broker.TLS = true
	cfg.Auth = config.MQTTAuthConfig{Username: "gw", Password: "secret"}

	opts := buildClientOptions(cfg)
	configureLWT(opts, testTopics.Status(), cfg.Broker.ClientID)

	if len(opts.Servers) != 1 || opts.Servers[0].String() != "ssl://127.0.0.1:1883" {
		t.Errorf("Servers = %v, want ssl://127.0.0.1:1883", opts.Servers)
	}
	if opts.Username != "gw" || opts.Password != "secret" {
		t.Errorf("credentials = %q/%q", opts.Username, opts.Password)
	}
	if opts.TLSConfig == nil {
		t.Error("TLSConfig not set")
	}
	if !opts.WillEnabled || opts.WillTopic != "acsgateway/test-site/status" || !opts.WillRetained {
		t.Errorf("will = %v %q retained=%v", opts.WillEnabled, opts.WillTopic, opts.WillRetained)
	}
	if !opts.AutoReconnect || opts.MaxReconnectInterval != 5*time.Second {
		t.Errorf("reconnect = %v %v", opts.AutoReconnect, opts.MaxReconnectInterval)
	}
}

func TestConnectInvalidBroker(t *testing.T) {
	cfg := testConfig()
	cfg.Broker.Port = 19999

	_, err := Connect(cfg, testTopics)
	if !errors.Is(err, ErrConnectionFailed) {
		t.Errorf("Connect() error = %v, want ErrConnectionFailed", err)
	}
}

func TestCloseNil(t *testing.T) {
	c := &Client{}
	if err := c.Close(); err != nil {
		t.Errorf("Close() on nil client error = %v", err)
	}
}

// =============================================================================
// Validation (no broker needed: validation runs before the connection check)
// =============================================================================

func TestPublishValidation(t *testing.T) {
	c := &Client{subscriptions: make(map[string]subscription)}

	tests := []struct {
		name    string
		topic   string
		qos     byte
		payload []byte
		want    error
	}{
		{"empty topic", "", 1, nil, ErrInvalidTopic},
		{"bad qos", "t", 3, nil, ErrInvalidQoS},
		{"too large", "t", 1, make([]byte, maxPayloadSize+1), ErrPublishFailed},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if err := c.Publish(tt.topic, tt.payload, tt.qos, false); !errors.Is(err, tt.want) {
				t.Errorf("Publish() error = %v, want %v", err, tt.want)
			}
		})
	}
}

func TestSubscribeValidation(t *testing.T) {
	c := &Client{subscriptions: make(map[string]subscription)}
	noop := func(string, []byte) error { return nil }

	if err := c.Subscribe("", 1, noop); !errors.Is(err, ErrInvalidTopic) {
		t.Errorf("empty topic error = %v", err)
	}
	if err := c.Subscribe("t", 3, noop); !errors.Is(err, ErrInvalidQoS) {
		t.Errorf("bad qos error = %v", err)
	}
	if err := c.Subscribe("t", 1, nil); !errors.Is(err, ErrSubscribeFailed) {
		t.Errorf("nil handler error = %v", err)
	}
	if err := c.Unsubscribe(""); !errors.Is(err, ErrInvalidTopic) {
		t.Errorf("unsubscribe empty topic error = %v", err)
	}
	if c.SubscriptionCount() != 0 || c.HasSubscription("t") {
		t.Error("failed subscriptions must not be tracked")
	}
}

type recordingLogger struct {
	mu    sync.Mutex
	warns []string
	errs  []string
}

func (l *recordingLogger) Warn(msg string, _ ...any) {
	l.mu.Lock()
	l.warns = append(l.warns, msg)
	l.mu.Unlock()
}

func (l *recordingLogger) Error(msg string, _ ...any) {
	l.mu.Lock()
	l.errs = append(l.errs, msg)
	l.mu.Unlock()
}

type fakeMessage struct {
	topic   string
	payload []byte
}

func (m fakeMessage) Duplicate() bool   { return false }
func (m fakeMessage) Qos() byte         { return 1 }
func (m fakeMessage) Retained() bool    { return false }
func (m fakeMessage) Topic() string     { return m.topic }
func (m fakeMessage) MessageID() uint16 { return 1 }
func (m fakeMessage) Payload() []byte   { return m.payload }
func (m fakeMessage) Ack()              {}

func TestWrapHandlerRecoversAndLogs(t *testing.T) {
	logger := &recordingLogger{}
	c := &Client{}
	c.SetLogger(logger)

	c.wrapHandler(func(string, []byte) error { return errors.New("bad payload") })(nil, fakeMessage{topic: "t"})
	c.wrapHandler(func(string, []byte) error { panic("boom") })(nil, fakeMessage{topic: "t"})

	if len(logger.warns) != 1 || len(logger.errs) != 1 {
		t.Errorf("warns = %v, errs = %v", logger.warns, logger.errs)
	}
}

// =============================================================================
// Broker Tests
// =============================================================================

func TestConnectAndClose(t *testing.T) {
	client := connectOrSkip(t, "acsgateway-test-connect")

	if !client.IsConnected() {
		t.Error("IsConnected() = false, want true")
	}
	if err := client.HealthCheck(context.Background()); err != nil {
		t.Errorf("HealthCheck() error = %v", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if err := client.HealthCheck(ctx); !errors.Is(err, context.Canceled) {
		t.Errorf("HealthCheck(cancelled) error = %v", err)
	}

	if err := client.Close(); err != nil {
		t.Errorf("Close() error = %v", err)
	}
	if client.IsConnected() {
		t.Error("IsConnected() after Close = true")
	}
	if err := client.Publish("t", nil, 1, false); !errors.Is(err, ErrNotConnected) {
		t.Errorf("Publish() after Close error = %v, want ErrNotConnected", err)
	}
}

func TestPublishSubscribeRoundtrip(t *testing.T) {
	client := connectOrSkip(t, "acsgateway-test-roundtrip")

	received := make(chan string, 1)
	err := client.Subscribe(testTopics.AllControllerEvents(), 1, func(topic string, payload []byte) error {
		received <- topic + " " + string(payload)
		return nil
	})
	if err != nil {
		t.Fatalf("Subscribe() error = %v", err)
	}
	if !client.HasSubscription(testTopics.AllControllerEvents()) {
		t.Error("subscription not tracked")
	}

	topic := testTopics.ControllerEvent("c1", "AccessControllerEvent")
	if err := client.PublishString(topic, `{"n":1}`, 1, false); err != nil {
		t.Fatalf("Publish() error = %v", err)
	}

	select {
	case got := <-received:
		if got != topic+` {"n":1}` {
			t.Errorf("received %q", got)
		}
	case <-time.After(3 * time.Second):
		t.Fatal("message not received")
	}

	if err := client.Unsubscribe(testTopics.AllControllerEvents()); err != nil {
		t.Errorf("Unsubscribe() error = %v", err)
	}
	if client.SubscriptionCount() != 0 {
		t.Errorf("SubscriptionCount() = %d, want 0", client.SubscriptionCount())
	}
}

func TestOnConnectCallback(t *testing.T) {
	client := connectOrSkip(t, "acsgateway-test-callbacks")

	client.SetOnConnect(func() {})
	client.SetOnDisconnect(func(error) {})

	client.callbackMu.RLock()
	defer client.callbackMu.RUnlock()
	if client.onConnect == nil || client.onDisconnect == nil {
		t.Error("callbacks not registered")
	}
}
