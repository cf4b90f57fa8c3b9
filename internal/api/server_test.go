package api

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/prometheus/client_golang/prometheus"

	"github.com/nerrad567/gray-logic-sync/internal/activity"
	"github.com/nerrad567/gray-logic-sync/internal/device"
	"github.com/nerrad567/gray-logic-sync/internal/devsync"
	"github.com/nerrad567/gray-logic-sync/internal/infrastructure/config"
	"github.com/nerrad567/gray-logic-sync/internal/infrastructure/database"
	"github.com/nerrad567/gray-logic-sync/internal/infrastructure/logging"
	"github.com/nerrad567/gray-logic-sync/internal/localstate"
	"github.com/nerrad567/gray-logic-sync/internal/message"
	"github.com/nerrad567/gray-logic-sync/internal/metrics"
	"github.com/nerrad567/gray-logic-sync/internal/platform"
	"github.com/nerrad567/gray-logic-sync/internal/store"
	_ "github.com/nerrad567/gray-logic-sync/migrations"
)

type fakePlatform struct{}

func (fakePlatform) Query(context.Context) (platform.Info, error) {
	return platform.Info{Hostname: "test-host", OS: "linux", Arch: "amd64"}, nil
}

type fakeCheck struct{ err error }

func (c fakeCheck) HealthCheck(context.Context) error { return c.err }

func strPtr(s string) *string { return &s }

func newService(t *testing.T, st store.Store, name string, m *metrics.Metrics, act activity.Repository) *devsync.Service {
	t.Helper()

	svc := devsync.New(devsync.Config{
		Device: config.DeviceConfig{AppName: "Gray Logic", Name: strPtr(name)},
		Sync: config.SyncConfig{
			ExpiryDays:          30,
			Debounce:            10 * time.Millisecond,
			SettleDelay:         5 * time.Millisecond,
			SelfRefreshInterval: time.Hour,
			DevicesKey:          "devices",
			MessagesKey:         "messages",
		},
		Sendable: config.SendableConfig{ExcludePattern: `^file:`},
	}, devsync.Deps{
		Store:    st,
		Repo:     localstate.NewMemoryRepository(),
		Platform: fakePlatform{},
		Metrics:  m,
		Activity: act,
	})
	if err := svc.Start(context.Background()); err != nil {
		t.Fatalf("Start(%s): %v", name, err)
	}
	t.Cleanup(func() { svc.Close() })
	return svc
}

// testServer creates a Server for a device "Local" sharing an in-memory
// store with a peer "Remote". It waits until both see each other.
func testServer(t *testing.T) (*Server, *devsync.Service) {
	t.Helper()

	st := store.NewMemory()
	reg := prometheus.NewRegistry()
	local := newService(t, st, "Local", metrics.New(reg, "graysync"), newActivityRepo(t))
	remote := newService(t, st, "Remote", nil, nil)

	waitFor(t, "devices to discover each other", func() bool {
		return len(local.ListDevices()) == 1 && len(remote.ListDevices()) == 1
	})

	log := logging.New(config.LoggingConfig{Level: "error", Format: "text", Output: "stdout"}, "test")

	srv, err := New(Deps{
		Config: config.APIConfig{
			Host: "127.0.0.1",
			Port: 0,
			Timeouts: config.APITimeoutConfig{
				Read:  5,
				Write: 5,
				Idle:  5,
			},
		},
		WS: config.WebSocketConfig{
			MaxMessageSize: 8192,
			PingInterval:   30,
			PongTimeout:    10,
		},
		Metrics:  config.MetricsConfig{Enabled: true, Path: "/metrics"},
		Logger:   log,
		Sync:     local,
		Platform: fakePlatform{},
		Gatherer: reg,
		Checks:   map[string]HealthChecker{"store": fakeCheck{}},
		Version:  "test",
	})
	if err != nil {
		t.Fatalf("New() error: %v", err)
	}

	// Initialise hub and event relay for tests
	ctx, cancel := context.WithCancel(context.Background())
	srv.hub = NewHub(srv.wsCfg, log)
	go srv.hub.Run(ctx)
	srv.relayEvents()
	t.Cleanup(func() {
		srv.Close()
		cancel()
	})

	return srv, remote
}

func newActivityRepo(t *testing.T) *activity.SQLiteRepository {
	t.Helper()
	ctx := context.Background()

	db, err := database.Open(ctx, database.Config{Path: ":memory:"})
	if err != nil {
		t.Fatalf("database.Open: %v", err)
	}
	t.Cleanup(func() { db.Close() })
	if err := db.Migrate(ctx); err != nil {
		t.Fatalf("Migrate: %v", err)
	}
	return activity.NewSQLiteRepository(db.DB)
}

func waitFor(t *testing.T, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("timed out waiting for %s", what)
}

func do(t *testing.T, h http.Handler, method, path, body string) *httptest.ResponseRecorder {
	t.Helper()
	var req *http.Request
	if body == "" {
		req = httptest.NewRequest(method, path, nil)
	} else {
		req = httptest.NewRequest(method, path, strings.NewReader(body))
		req.Header.Set("Content-Type", "application/json")
	}
	w := httptest.NewRecorder()
	h.ServeHTTP(w, req)
	return w
}

func decode(t *testing.T, w *httptest.ResponseRecorder, v any) {
	t.Helper()
	if err := json.Unmarshal(w.Body.Bytes(), v); err != nil {
		t.Fatalf("unmarshal %q: %v", w.Body.String(), err)
	}
}

// ─── Health Endpoint Tests ─────────────────────────────────────────

func TestHealth(t *testing.T) {
	srv, _ := testServer(t)
	router := srv.buildRouter()

	w := do(t, router, http.MethodGet, "/api/v1/health", "")
	if w.Code != http.StatusOK {
		t.Errorf("health status = %d, want %d", w.Code, http.StatusOK)
	}

	var resp map[string]any
	decode(t, w, &resp)
	if resp["status"] != "ok" {
		t.Errorf("status = %v, want ok", resp["status"])
	}
	if resp["version"] != "test" {
		t.Errorf("version = %v, want test", resp["version"])
	}
	if ct := w.Header().Get("Content-Type"); ct != "application/json" {
		t.Errorf("Content-Type = %q, want %q", ct, "application/json")
	}
}

func TestHealth_Degraded(t *testing.T) {
	srv, _ := testServer(t)
	srv.checks["database"] = fakeCheck{err: errors.New("disk gone")}
	router := srv.buildRouter()

	w := do(t, router, http.MethodGet, "/api/v1/health", "")
	if w.Code != http.StatusServiceUnavailable {
		t.Errorf("health status = %d, want %d", w.Code, http.StatusServiceUnavailable)
	}

	var resp struct {
		Status     string            `json:"status"`
		Components map[string]string `json:"components"`
	}
	decode(t, w, &resp)
	if resp.Status != "degraded" {
		t.Errorf("status = %q, want degraded", resp.Status)
	}
	if resp.Components["database"] != "disk gone" || resp.Components["store"] != "ok" {
		t.Errorf("components = %v", resp.Components)
	}
}

// ─── Middleware Tests ──────────────────────────────────────────────

func TestRequestID_Generated(t *testing.T) {
	srv, _ := testServer(t)
	router := srv.buildRouter()

	w := do(t, router, http.MethodGet, "/api/v1/health", "")
	if w.Header().Get("X-Request-ID") == "" {
		t.Error("expected X-Request-ID header to be set")
	}
}

func TestRequestID_PreservesClient(t *testing.T) {
	srv, _ := testServer(t)
	router := srv.buildRouter()

	req := httptest.NewRequest(http.MethodGet, "/api/v1/health", nil)
	req.Header.Set("X-Request-ID", "client-123")
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)

	if got := w.Header().Get("X-Request-ID"); got != "client-123" {
		t.Errorf("X-Request-ID = %q, want %q", got, "client-123")
	}
}

func TestCORS_Preflight(t *testing.T) {
	srv, _ := testServer(t)
	router := srv.buildRouter()

	req := httptest.NewRequest(http.MethodOptions, "/api/v1/health", nil)
	req.Header.Set("Origin", "http://localhost:3000")
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)

	if w.Code != http.StatusNoContent {
		t.Errorf("preflight status = %d, want %d", w.Code, http.StatusNoContent)
	}
	if got := w.Header().Get("Access-Control-Allow-Origin"); got != "http://localhost:3000" {
		t.Errorf("ACAO = %q, want %q", got, "http://localhost:3000")
	}
}

func TestNotFound(t *testing.T) {
	srv, _ := testServer(t)

	w := do(t, srv.buildRouter(), http.MethodGet, "/api/v1/nonexistent", "")
	if w.Code != http.StatusNotFound {
		t.Errorf("unknown route status = %d, want %d", w.Code, http.StatusNotFound)
	}
}

// ─── Identity Tests ────────────────────────────────────────────────

func TestGetIdentity(t *testing.T) {
	srv, _ := testServer(t)

	w := do(t, srv.buildRouter(), http.MethodGet, "/api/v1/identity", "")
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d, want %d", w.Code, http.StatusOK)
	}

	var rec device.Record
	decode(t, w, &rec)
	if rec.ID != srv.sync.Self().ID {
		t.Errorf("id = %q, want %q", rec.ID, srv.sync.Self().ID)
	}
	if rec.DisplayName() != "Local" {
		t.Errorf("name = %q, want Local", rec.DisplayName())
	}
}

func TestUpdateIdentity(t *testing.T) {
	srv, remote := testServer(t)
	router := srv.buildRouter()

	w := do(t, router, http.MethodPatch, "/api/v1/identity", `{"name":"Office","icon":"laptop"}`)
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d, body %s", w.Code, w.Body.String())
	}

	var rec device.Record
	decode(t, w, &rec)
	if rec.Name == nil || *rec.Name != "Office" || rec.Icon == nil || *rec.Icon != "laptop" {
		t.Errorf("record = %+v", rec)
	}

	waitFor(t, "peer to see the rename", func() bool {
		devs := remote.ListDevices()
		return len(devs) == 1 && devs[0].DisplayName() == "Office"
	})
}

func TestUpdateIdentity_Validation(t *testing.T) {
	srv, _ := testServer(t)
	router := srv.buildRouter()

	tests := []struct {
		name string
		body string
		want int
	}{
		{"invalid json", `{`, http.StatusBadRequest},
		{"no fields", `{}`, http.StatusUnprocessableEntity},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			w := do(t, router, http.MethodPatch, "/api/v1/identity", tt.body)
			if w.Code != tt.want {
				t.Errorf("status = %d, want %d", w.Code, tt.want)
			}
		})
	}
}

// ─── Device and Message Tests ──────────────────────────────────────

func TestListDevices(t *testing.T) {
	srv, remote := testServer(t)

	w := do(t, srv.buildRouter(), http.MethodGet, "/api/v1/devices", "")
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d", w.Code)
	}

	var resp struct {
		Devices []device.Record `json:"devices"`
		Count   int             `json:"count"`
	}
	decode(t, w, &resp)
	if resp.Count != 1 || resp.Devices[0].ID != remote.Self().ID {
		t.Errorf("devices = %+v, want only the remote peer", resp.Devices)
	}
}

func TestSendMessage(t *testing.T) {
	srv, remote := testServer(t)
	router := srv.buildRouter()

	received := make(chan string, 1)
	remote.OnMessage(func(m message.Message) {
		received <- string(m.Data)
	})

	path := "/api/v1/devices/" + remote.Self().ID + "/messages"
	w := do(t, router, http.MethodPost, path, `{"data":"https://example.com/page"}`)
	if w.Code != http.StatusAccepted {
		t.Fatalf("status = %d, body %s", w.Code, w.Body.String())
	}

	select {
	case got := <-received:
		if got != `"https://example.com/page"` {
			t.Errorf("data = %s", got)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("peer never received the message")
	}
}

func TestSendMessage_Errors(t *testing.T) {
	srv, remote := testServer(t)
	router := srv.buildRouter()
	peerPath := "/api/v1/devices/" + remote.Self().ID + "/messages"

	tests := []struct {
		name string
		path string
		body string
		want int
	}{
		{"unknown device", "/api/v1/devices/nope/messages", `{"data":"x"}`, http.StatusNotFound},
		{"self", "/api/v1/devices/" + srv.sync.Self().ID + "/messages", `{"data":"x"}`, http.StatusNotFound},
		{"invalid json", peerPath, `{`, http.StatusBadRequest},
		{"missing data", peerPath, `{}`, http.StatusUnprocessableEntity},
		{"excluded locator", peerPath, `{"data":"file:///etc/hosts"}`, http.StatusUnprocessableEntity},
		{"empty locator", peerPath, `{"data":""}`, http.StatusUnprocessableEntity},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			w := do(t, router, http.MethodPost, tt.path, tt.body)
			if w.Code != tt.want {
				t.Errorf("status = %d, want %d (body %s)", w.Code, tt.want, w.Body.String())
			}
		})
	}
}

func TestSendable(t *testing.T) {
	srv, _ := testServer(t)
	router := srv.buildRouter()

	tests := []struct {
		locator string
		want    bool
	}{
		{"https://example.com", true},
		{"file:///tmp/x", false},
		{"", false},
		{strings.Repeat("a", 65536), false},
	}
	for _, tt := range tests {
		body, _ := json.Marshal(map[string]string{"locator": tt.locator})
		w := do(t, router, http.MethodPost, "/api/v1/sendable", string(body))
		if w.Code != http.StatusOK {
			t.Fatalf("status = %d", w.Code)
		}
		var resp map[string]bool
		decode(t, w, &resp)
		if resp["sendable"] != tt.want {
			t.Errorf("sendable(%.20q) = %v, want %v", tt.locator, resp["sendable"], tt.want)
		}
	}
}

func TestTriggerSync(t *testing.T) {
	srv, _ := testServer(t)

	w := do(t, srv.buildRouter(), http.MethodPost, "/api/v1/sync", "")
	if w.Code != http.StatusAccepted {
		t.Errorf("status = %d, want %d", w.Code, http.StatusAccepted)
	}
}

func TestListActivity(t *testing.T) {
	srv, remote := testServer(t)
	router := srv.buildRouter()

	w := do(t, router, http.MethodGet, "/api/v1/activity?kind=device.new", "")
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d, body %s", w.Code, w.Body.String())
	}

	var res activity.ListResult
	decode(t, w, &res)
	if res.Total != 1 || res.Entries[0].DeviceID != remote.Self().ID {
		t.Errorf("activity = %+v, want the remote peer's arrival", res)
	}

	if w := do(t, router, http.MethodGet, "/api/v1/activity?limit=abc", ""); w.Code != http.StatusBadRequest {
		t.Errorf("bad limit status = %d, want %d", w.Code, http.StatusBadRequest)
	}
}

// ─── Metrics Tests ─────────────────────────────────────────────────

func TestSystemMetrics(t *testing.T) {
	srv, _ := testServer(t)

	w := do(t, srv.buildRouter(), http.MethodGet, "/api/v1/metrics", "")
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d", w.Code)
	}

	var m SystemMetrics
	decode(t, w, &m)
	if m.Version != "test" {
		t.Errorf("version = %q", m.Version)
	}
	if m.Sync.KnownDevices != 1 || !m.Sync.Running {
		t.Errorf("sync = %+v", m.Sync)
	}
	if m.Host == nil || m.Host.Info.Hostname != "test-host" {
		t.Errorf("host = %+v", m.Host)
	}
}

func TestPrometheusEndpoint(t *testing.T) {
	srv, _ := testServer(t)

	w := do(t, srv.buildRouter(), http.MethodGet, "/metrics", "")
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d", w.Code)
	}
	if !strings.Contains(w.Body.String(), "graysync_reconcile_passes_total") {
		t.Errorf("exposition missing reconcile counter:\n%s", w.Body.String())
	}
}

// ─── WebSocket Tests ───────────────────────────────────────────────

func TestWebSocket_MessageEvent(t *testing.T) {
	srv, remote := testServer(t)
	ts := httptest.NewServer(srv.buildRouter())
	defer ts.Close()

	url := "ws" + strings.TrimPrefix(ts.URL, "http") + "/api/v1/ws"
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	defer conn.Close()

	sub, _ := json.Marshal(WSMessage{
		Type:    WSTypeSubscribe,
		ID:      "1",
		Payload: WSSubscribePayload{Channels: []string{ChannelMessage}},
	})
	if err := conn.WriteMessage(websocket.TextMessage, sub); err != nil {
		t.Fatalf("subscribe: %v", err)
	}

	conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	var ack WSMessage
	if err := conn.ReadJSON(&ack); err != nil || ack.Type != WSTypeResponse {
		t.Fatalf("subscribe ack = %+v, err %v", ack, err)
	}

	if _, err := remote.Send(context.Background(), srv.sync.Self().ID, "https://example.com"); err != nil {
		t.Fatalf("Send: %v", err)
	}

	var evt WSMessage
	if err := conn.ReadJSON(&evt); err != nil {
		t.Fatalf("reading event: %v", err)
	}
	if evt.Type != WSTypeEvent || evt.EventType != ChannelMessage {
		t.Errorf("event = %+v", evt)
	}
	payload, _ := json.Marshal(evt.Payload)
	if !bytes.Contains(payload, []byte(remote.Self().ID)) {
		t.Errorf("payload %s does not name the sender", payload)
	}
}

// ─── WebSocket Hub Tests ───────────────────────────────────────────

func testHub(t *testing.T) *Hub {
	t.Helper()
	log := logging.New(config.LoggingConfig{Level: "error", Format: "text", Output: "stdout"}, "test")
	hub := NewHub(config.WebSocketConfig{MaxMessageSize: 8192, PingInterval: 30, PongTimeout: 10}, log)

	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)
	go hub.Run(ctx)
	return hub
}

func TestHub_BroadcastToSubscribed(t *testing.T) {
	hub := testHub(t)

	client := &WSClient{
		hub:           hub,
		send:          make(chan []byte, wsSendBufferSize),
		subscriptions: map[string]struct{}{ChannelDeviceNew: {}},
	}
	hub.Register(client)

	hub.Broadcast(ChannelDeviceNew, map[string]any{"id": "dev-1"})

	select {
	case msg := <-client.send:
		var wsMsg WSMessage
		if err := json.Unmarshal(msg, &wsMsg); err != nil {
			t.Fatalf("unmarshal: %v", err)
		}
		if wsMsg.EventType != ChannelDeviceNew {
			t.Errorf("event_type = %q, want %q", wsMsg.EventType, ChannelDeviceNew)
		}
	case <-time.After(time.Second):
		t.Error("timed out waiting for broadcast message")
	}
}

func TestHub_NoMessageForUnsubscribed(t *testing.T) {
	hub := testHub(t)

	client := &WSClient{
		hub:           hub,
		send:          make(chan []byte, wsSendBufferSize),
		subscriptions: map[string]struct{}{ChannelDeviceObsolete: {}},
	}
	hub.Register(client)

	hub.Broadcast(ChannelDeviceNew, map[string]any{"id": "dev-1"})

	select {
	case <-client.send:
		t.Error("unsubscribed client should not receive message")
	case <-time.After(100 * time.Millisecond):
	}
}

func TestHub_ClientCount(t *testing.T) {
	hub := testHub(t)

	if hub.ClientCount() != 0 {
		t.Errorf("initial client count = %d, want 0", hub.ClientCount())
	}

	client := &WSClient{
		hub:           hub,
		send:          make(chan []byte, wsSendBufferSize),
		subscriptions: make(map[string]struct{}),
	}
	hub.Register(client)
	if hub.ClientCount() != 1 {
		t.Errorf("after register count = %d, want 1", hub.ClientCount())
	}

	hub.Unregister(client)
	if hub.ClientCount() != 0 {
		t.Errorf("after unregister count = %d, want 0", hub.ClientCount())
	}
}

// ─── Lifecycle Tests ───────────────────────────────────────────────

func TestNew_RequiresDeps(t *testing.T) {
	if _, err := New(Deps{}); err == nil {
		t.Error("New() without logger should fail")
	}
	if _, err := New(Deps{Logger: logging.Discard()}); err == nil {
		t.Error("New() without sync service should fail")
	}
}

func TestHealthCheck_NotStarted(t *testing.T) {
	srv, _ := testServer(t)
	if err := srv.HealthCheck(context.Background()); err == nil {
		t.Error("HealthCheck() on unstarted server should fail")
	}
}
