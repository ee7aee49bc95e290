package mqtt

import (
	"encoding/json"
	"errors"
	"net"
	"sync"
	"testing"
	"time"

	"github.com/nerrad567/grafikeye-bridge/internal/infrastructure/config"
)

// testConfig returns a valid MQTT configuration for testing.
func testConfig() config.MQTTConfig {
	return config.MQTTConfig{
		Broker: config.MQTTBrokerConfig{
			Host:     "127.0.0.1",
			Port:     1883,
			ClientID: "grafikeye-test",
		},
		QoS: 1,
		Reconnect: config.MQTTReconnectConfig{
			InitialDelay: 1,
			MaxDelay:     5,
		},
	}
}

// requireBroker skips the test when no broker is listening on 127.0.0.1:1883.
func requireBroker(t *testing.T) {
	t.Helper()
	conn, err := net.DialTimeout("tcp", "127.0.0.1:1883", 200*time.Millisecond)
	if err != nil {
		t.Skip("MQTT broker not available at 127.0.0.1:1883")
	}
	conn.Close()
}

// recordingLogger captures log calls for assertions.
type recordingLogger struct {
	mu     sync.Mutex
	errors []string
	warns  []string
}

func (l *recordingLogger) Info(string, ...any) {}

func (l *recordingLogger) Warn(msg string, _ ...any) {
	l.mu.Lock()
	l.warns = append(l.warns, msg)
	l.mu.Unlock()
}

func (l *recordingLogger) Error(msg string, _ ...any) {
	l.mu.Lock()
	l.errors = append(l.errors, msg)
	l.mu.Unlock()
}

// =============================================================================
// Offline Tests
// =============================================================================

func TestCloseNil(t *testing.T) {
	client := &Client{}
	if err := client.Close(); err != nil {
		t.Errorf("Close() on nil client error = %v, want nil", err)
	}
}

func TestIsConnected_InitialState(t *testing.T) {
	client := &Client{}
	if client.IsConnected() {
		t.Error("IsConnected() should be false for uninitialised client")
	}
}

func TestValidatePublish(t *testing.T) {
	tests := []struct {
		name    string
		topic   string
		payload []byte
		qos     byte
		wantErr error
	}{
		{"valid", "grafikeye/state/1", []byte("{}"), 1, nil},
		{"empty topic", "", nil, 1, ErrInvalidTopic},
		{"bad qos", "grafikeye/state/1", nil, 3, ErrInvalidQoS},
		{"oversized", "grafikeye/state/1", make([]byte, maxPayloadSize+1), 0, ErrPublishFailed},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := validatePublish(tt.topic, tt.payload, tt.qos)
			if !errors.Is(err, tt.wantErr) {
				t.Errorf("validatePublish() error = %v, want %v", err, tt.wantErr)
			}
		})
	}
}

func TestPublish_NotConnected(t *testing.T) {
	client := &Client{subscriptions: make(map[string]subscription)}
	err := client.Publish("grafikeye/state/1", []byte("{}"), 1, true)
	if !errors.Is(err, ErrNotConnected) {
		t.Errorf("Publish() error = %v, want ErrNotConnected", err)
	}
}

func TestSubscribe_Validation(t *testing.T) {
	client := &Client{subscriptions: make(map[string]subscription)}
	noop := func(string, []byte) error { return nil }

	if err := client.Subscribe("", 1, noop); !errors.Is(err, ErrInvalidTopic) {
		t.Errorf("Subscribe(empty) error = %v, want ErrInvalidTopic", err)
	}
	if err := client.Subscribe("a/b", 5, noop); !errors.Is(err, ErrInvalidQoS) {
		t.Errorf("Subscribe(qos 5) error = %v, want ErrInvalidQoS", err)
	}
	if err := client.Subscribe("a/b", 1, nil); !errors.Is(err, ErrSubscribeFailed) {
		t.Errorf("Subscribe(nil handler) error = %v, want ErrSubscribeFailed", err)
	}
	if err := client.Subscribe("a/b", 1, noop); !errors.Is(err, ErrNotConnected) {
		t.Errorf("Subscribe(disconnected) error = %v, want ErrNotConnected", err)
	}
	if n := len(client.subscriptions); n != 0 {
		t.Errorf("subscriptions = %d, want 0 after failed subscribes", n)
	}
}

func TestUnsubscribe_Validation(t *testing.T) {
	client := &Client{subscriptions: map[string]subscription{"a/b": {}}}

	if err := client.Unsubscribe(""); !errors.Is(err, ErrInvalidTopic) {
		t.Errorf("Unsubscribe(empty) error = %v, want ErrInvalidTopic", err)
	}
	if err := client.Unsubscribe("a/b"); !errors.Is(err, ErrNotConnected) {
		t.Errorf("Unsubscribe(disconnected) error = %v, want ErrNotConnected", err)
	}
}

func TestDispatch_RecoversPanic(t *testing.T) {
	logger := &recordingLogger{}
	client := &Client{logger: logger}

	client.dispatch(func(string, []byte) error {
		panic("boom")
	}, "grafikeye/command/1", nil)

	if len(logger.errors) != 1 {
		t.Errorf("expected 1 error log after panic, got %d", len(logger.errors))
	}
}

func TestDispatch_LogsHandlerError(t *testing.T) {
	logger := &recordingLogger{}
	client := &Client{logger: logger}

	client.dispatch(func(string, []byte) error {
		return errors.New("bad payload")
	}, "grafikeye/command/1", nil)

	if len(logger.warns) != 1 {
		t.Errorf("expected 1 warn log after handler error, got %d", len(logger.warns))
	}
}

func TestBuildStatusPayload(t *testing.T) {
	data := buildStatusPayload("bridge-1", statusOffline, reasonUnexpectedDisconnect)

	var p statusPayload
	if err := json.Unmarshal(data, &p); err != nil {
		t.Fatalf("payload is not JSON: %v", err)
	}
	if p.Status != "offline" || p.ClientID != "bridge-1" || p.Reason != "unexpected_disconnect" {
		t.Errorf("unexpected payload: %+v", p)
	}
	if _, err := time.Parse(time.RFC3339, p.Timestamp); err != nil {
		t.Errorf("timestamp %q not RFC3339: %v", p.Timestamp, err)
	}

	online := buildStatusPayload("bridge-1", statusOnline, "")
	var q map[string]any
	if err := json.Unmarshal(online, &q); err != nil {
		t.Fatalf("payload is not JSON: %v", err)
	}
	if _, ok := q["reason"]; ok {
		t.Error("online payload should omit reason")
	}
}

func TestBuildClientOptions(t *testing.T) {
	cfg := testConfig()
	cfg.Broker.TLS = true
	cfg.Auth = config.MQTTAuthConfig{Username: "u", Password: "p"}

	opts := buildClientOptions(cfg)

	if len(opts.Servers) != 1 || opts.Servers[0].String() != "ssl://127.0.0.1:1883" {
		t.Errorf("Servers = %v, want [ssl://127.0.0.1:1883]", opts.Servers)
	}
	if opts.ClientID != "grafikeye-test" {
		t.Errorf("ClientID = %q, want %q", opts.ClientID, "grafikeye-test")
	}
	if opts.Username != "u" {
		t.Errorf("Username = %q, want %q", opts.Username, "u")
	}
	if !opts.AutoReconnect {
		t.Error("AutoReconnect should be enabled")
	}
	if opts.MaxReconnectInterval != 5*time.Second {
		t.Errorf("MaxReconnectInterval = %v, want 5s", opts.MaxReconnectInterval)
	}
}

func TestConfigureLWT(t *testing.T) {
	opts := buildClientOptions(testConfig())
	configureLWT(opts, "grafikeye-test")

	if !opts.WillEnabled {
		t.Fatal("WillEnabled = false, want true")
	}
	if opts.WillTopic != "grafikeye/system/status" {
		t.Errorf("WillTopic = %q, want grafikeye/system/status", opts.WillTopic)
	}
	if !opts.WillRetained {
		t.Error("WillRetained = false, want true")
	}
}

func TestTopics(t *testing.T) {
	if got := (Topics{}).SystemStatus(); got != "grafikeye/system/status" {
		t.Errorf("SystemStatus() = %q", got)
	}
	if got := (Topics{}).AllTopics(); got != "grafikeye/#" {
		t.Errorf("AllTopics() = %q", got)
	}
}

// =============================================================================
// Broker Tests
// =============================================================================

func TestConnect(t *testing.T) {
	requireBroker(t)

	client, err := Connect(testConfig())
	if err != nil {
		t.Fatalf("Connect() error = %v", err)
	}
	defer client.Close()

	if !client.IsConnected() {
		t.Error("IsConnected() = false, want true")
	}
}

func TestPublishSubscribe_RoundTrip(t *testing.T) {
	requireBroker(t)

	cfg := testConfig()
	cfg.Broker.ClientID = "grafikeye-test-roundtrip"
	client, err := ConnectWithLogger(cfg, &recordingLogger{})
	if err != nil {
		t.Fatalf("Connect() error = %v", err)
	}
	defer client.Close()

	topic := "grafikeye/test/roundtrip"
	received := make(chan []byte, 1)
	err = client.Subscribe(topic, 1, func(_ string, payload []byte) error {
		received <- payload
		return nil
	})
	if err != nil {
		t.Fatalf("Subscribe() error = %v", err)
	}
	client.subMu.RLock()
	_, restored := client.subscriptions[topic]
	client.subMu.RUnlock()
	if !restored {
		t.Error("topic missing from restore set after Subscribe")
	}

	if err := client.Publish(topic, []byte(`{"scene":"1"}`), 1, false); err != nil {
		t.Fatalf("Publish() error = %v", err)
	}

	select {
	case got := <-received:
		if string(got) != `{"scene":"1"}` {
			t.Errorf("received %q", got)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("message not received")
	}

	if err := client.Unsubscribe(topic); err != nil {
		t.Errorf("Unsubscribe() error = %v", err)
	}
	client.subMu.RLock()
	n := len(client.subscriptions)
	client.subMu.RUnlock()
	if n != 0 {
		t.Errorf("subscriptions = %d, want 0 after Unsubscribe", n)
	}
}

func TestClose(t *testing.T) {
	requireBroker(t)

	cfg := testConfig()
	cfg.Broker.ClientID = "grafikeye-test-close"
	client, err := Connect(cfg)
	if err != nil {
		t.Fatalf("Connect() error = %v", err)
	}

	if err := client.Close(); err != nil {
		t.Errorf("Close() error = %v", err)
	}
	if client.IsConnected() {
		t.Error("IsConnected() = true after Close(), want false")
	}
}
