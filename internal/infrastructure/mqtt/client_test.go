package mqtt

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/nerrad567/gray-logic-sync/internal/infrastructure/config"
)

// testConfig returns an MQTT configuration for a broker at 127.0.0.1:1883.
func testConfig() config.MQTTConfig {
	return config.MQTTConfig{
		Broker: config.MQTTBrokerConfig{
			Host:     "127.0.0.1",
			Port:     1883,
			ClientID: fmt.Sprintf("graysync-test-%d", time.Now().UnixNano()),
		},
		QoS: 1,
		Reconnect: config.MQTTReconnectConfig{
			InitialDelay: 1,
			MaxDelay:     5,
		},
		RootTopic: "graysync-test/store",
	}
}

// connectOrSkip connects to the local broker, skipping when none is running.
func connectOrSkip(t *testing.T) *Client {
	t.Helper()
	client, err := Connect(testConfig())
	if err != nil {
		t.Skipf("MQTT broker not available: %v", err)
	}
	t.Cleanup(func() { client.Close() }) //nolint:errcheck // Test cleanup
	return client
}

// =============================================================================
// Topic Tests
// =============================================================================

func TestTopics(t *testing.T) {
	topics := NewTopics("graysync/store/")

	if got := topics.Root(); got != "graysync/store" {
		t.Errorf("Root() = %q", got)
	}
	if got := topics.ForKey("devices.1"); got != "graysync/store/devices.1" {
		t.Errorf("ForKey() = %q", got)
	}
	if got := topics.All(); got != "graysync/store/#" {
		t.Errorf("All() = %q", got)
	}
	if got := Status("laptop"); got != "graysync/status/laptop" {
		t.Errorf("Status() = %q", got)
	}
}

func TestTopicsKey(t *testing.T) {
	topics := NewTopics("graysync/store")

	tests := []struct {
		topic  string
		want   string
		wantOK bool
	}{
		{"graysync/store/devices", "devices", true},
		{"graysync/store/messages.3", "messages.3", true},
		{"graysync/store/", "", false},
		{"graysync/storefront/devices", "", false},
		{"other/devices", "", false},
	}

	for _, tt := range tests {
		t.Run(tt.topic, func(t *testing.T) {
			got, ok := topics.Key(tt.topic)
			if got != tt.want || ok != tt.wantOK {
				t.Errorf("Key(%q) = (%q, %v), want (%q, %v)", tt.topic, got, ok, tt.want, tt.wantOK)
			}
		})
	}
}

// =============================================================================
// Option Tests
// =============================================================================

func TestBuildClientOptions(t *testing.T) {
	cfg := testConfig()
	cfg.Broker.TLS = true
	cfg.Auth = config.MQTTAuthConfig{Username: "sync", Password: "secret"}

	opts := buildClientOptions(cfg)

	if len(opts.Servers) != 1 || opts.Servers[0].String() != "ssl://127.0.0.1:1883" {
		t.Errorf("Servers = %v", opts.Servers)
	}
	if opts.ClientID != cfg.Broker.ClientID {
		t.Errorf("ClientID = %q", opts.ClientID)
	}
	if opts.Username != "sync" || opts.Password != "secret" {
		t.Error("credentials not applied")
	}
	if !opts.CleanSession {
		t.Error("CleanSession = false, want true")
	}
	if opts.TLSConfig == nil {
		t.Error("TLSConfig not set")
	}
	if !opts.WillEnabled || !opts.WillRetained || opts.WillTopic != Status(cfg.Broker.ClientID) {
		t.Errorf("LWT = enabled %v retained %v topic %q", opts.WillEnabled, opts.WillRetained, opts.WillTopic)
	}
}

func TestStatusPayload(t *testing.T) {
	var got map[string]string
	if err := json.Unmarshal([]byte(statusPayload("c1", "offline", "graceful_shutdown")), &got); err != nil {
		t.Fatalf("payload is not JSON: %v", err)
	}
	if got["status"] != "offline" || got["client_id"] != "c1" || got["reason"] != "graceful_shutdown" {
		t.Errorf("payload = %v", got)
	}

	got = nil
	if err := json.Unmarshal([]byte(statusPayload("c1", "online", "")), &got); err != nil {
		t.Fatalf("payload is not JSON: %v", err)
	}
	if _, ok := got["reason"]; ok {
		t.Error("online payload should not carry a reason")
	}
}

// =============================================================================
// Validation Tests (no broker needed)
// =============================================================================

func TestPublishValidation(t *testing.T) {
	c := &Client{subscriptions: make(map[string]subscription)}

	tests := []struct {
		name    string
		topic   string
		payload []byte
		qos     byte
		wantErr error
	}{
		{"empty topic", "", nil, 1, ErrInvalidTopic},
		{"invalid qos", "a/b", nil, 3, ErrInvalidQoS},
		{"too large", "a/b", make([]byte, maxPayloadSize+1), 1, ErrPublishFailed},
		{"disconnected", "a/b", []byte("x"), 1, ErrNotConnected},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := c.Publish(tt.topic, tt.payload, tt.qos, true)
			if !errors.Is(err, tt.wantErr) {
				t.Errorf("Publish() error = %v, want %v", err, tt.wantErr)
			}
		})
	}
}

func TestSubscribeValidation(t *testing.T) {
	c := &Client{subscriptions: make(map[string]subscription)}
	handler := func(string, []byte) error { return nil }

	if err := c.Subscribe("", 1, handler); !errors.Is(err, ErrInvalidTopic) {
		t.Errorf("empty topic error = %v", err)
	}
	if err := c.Subscribe("a/#", 3, handler); !errors.Is(err, ErrInvalidQoS) {
		t.Errorf("invalid qos error = %v", err)
	}
	if err := c.Subscribe("a/#", 1, nil); !errors.Is(err, ErrSubscribeFailed) {
		t.Errorf("nil handler error = %v", err)
	}
	if err := c.Subscribe("a/#", 1, handler); !errors.Is(err, ErrNotConnected) {
		t.Errorf("disconnected error = %v", err)
	}
	if c.HasSubscription("a/#") {
		t.Error("failed subscription should not be tracked")
	}
	if err := c.Unsubscribe(""); !errors.Is(err, ErrInvalidTopic) {
		t.Errorf("Unsubscribe empty topic error = %v", err)
	}
}

func TestCloseNil(t *testing.T) {
	var c *Client
	if err := c.Close(); err != nil {
		t.Errorf("Close() on nil client error = %v", err)
	}
}

// =============================================================================
// Broker Tests (skipped without a local broker)
// =============================================================================

func TestHealthCheck(t *testing.T) {
	client := connectOrSkip(t)

	if err := client.HealthCheck(context.Background()); err != nil {
		t.Errorf("HealthCheck() error = %v", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if err := client.HealthCheck(ctx); !errors.Is(err, context.Canceled) {
		t.Errorf("HealthCheck(cancelled) error = %v", err)
	}
}

func TestRetainedRoundtrip(t *testing.T) {
	client := connectOrSkip(t)
	topics := NewTopics(testConfig().RootTopic)
	topic := topics.ForKey(fmt.Sprintf("roundtrip-%d", time.Now().UnixNano()))

	if err := client.PublishRetained(topic, []byte(`{"v":1}`)); err != nil {
		t.Fatalf("PublishRetained() error = %v", err)
	}
	t.Cleanup(func() { client.PublishRetained(topic, nil) }) //nolint:errcheck // Test cleanup

	var (
		mu  sync.Mutex
		got []byte
	)
	done := make(chan struct{}, 1)
	err := client.Subscribe(topics.All(), 1, func(tp string, payload []byte) error {
		if tp != topic {
			return nil
		}
		mu.Lock()
		got = append([]byte(nil), payload...)
		mu.Unlock()
		select {
		case done <- struct{}{}:
		default:
		}
		return nil
	})
	if err != nil {
		t.Fatalf("Subscribe() error = %v", err)
	}
	if !client.HasSubscription(topics.All()) {
		t.Error("HasSubscription() = false after Subscribe")
	}

	select {
	case <-done:
	case <-time.After(5 * time.Second):
		t.Fatal("retained message not received")
	}

	mu.Lock()
	defer mu.Unlock()
	if string(got) != `{"v":1}` {
		t.Errorf("payload = %s", got)
	}

	if err := client.Unsubscribe(topics.All()); err != nil {
		t.Errorf("Unsubscribe() error = %v", err)
	}
}

func TestHandlerPanicRecovered(t *testing.T) {
	client := connectOrSkip(t)
	logger := &mockLogger{}
	client.SetLogger(logger)

	topic := fmt.Sprintf("graysync-test/panic/%d", time.Now().UnixNano())
	err := client.Subscribe(topic, 1, func(string, []byte) error {
		panic("boom")
	})
	if err != nil {
		t.Fatalf("Subscribe() error = %v", err)
	}
	if err := client.Publish(topic, []byte("x"), 1, false); err != nil {
		t.Fatalf("Publish() error = %v", err)
	}

	deadline := time.Now().Add(5 * time.Second)
	for time.Now().Before(deadline) {
		if logger.errorCount() > 0 {
			return
		}
		time.Sleep(20 * time.Millisecond)
	}
	t.Error("panic was not logged")
}

type mockLogger struct {
	mu     sync.Mutex
	errors int
}

func (l *mockLogger) Error(string, ...any) {
	l.mu.Lock()
	l.errors++
	l.mu.Unlock()
}

func (l *mockLogger) Warn(string, ...any) {}

func (l *mockLogger) errorCount() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.errors
}
