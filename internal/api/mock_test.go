package api

import (
	"context"
	"errors"
	"fmt"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gorilla/websocket"

	"github.com/nerrad567/obsrelay/internal/bridge"
	"github.com/nerrad567/obsrelay/internal/infrastructure/config"
	"github.com/nerrad567/obsrelay/internal/infrastructure/logging"
)

// MockController is a scripted bridge.
type MockController struct {
	mu        sync.Mutex
	devices   []bridge.InputDevice
	err       error
	connected bool
	calls     []string
	sources   []string

	// gate, when set, blocks Enumerate until closed; entered is signalled
	// once per blocked call.
	gate    chan struct{}
	entered chan struct{}
}

func newMockController() *MockController {
	return &MockController{
		connected: true,
		devices: []bridge.InputDevice{
			{Name: "Mic1", InputKind: "wasapi_input_capture", VolumeDb: -5, Muted: false},
			{Name: "Mic2", InputKind: "wasapi_input_capture", VolumeDb: -20, Muted: true},
		},
	}
}

func (m *MockController) record(ctx context.Context, call string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.calls = append(m.calls, call)
	m.sources = append(m.sources, bridge.SourceFrom(ctx))
	return m.err
}

func (m *MockController) Enumerate(ctx context.Context) ([]bridge.InputDevice, error) {
	err := m.record(ctx, "Enumerate")

	m.mu.Lock()
	gate, entered := m.gate, m.entered
	devices := append([]bridge.InputDevice(nil), m.devices...)
	m.mu.Unlock()

	if gate != nil {
		select {
		case entered <- struct{}{}:
		default:
		}
		select {
		case <-gate:
		case <-ctx.Done():
			return []bridge.InputDevice{}, ctx.Err()
		}
	}
	if err != nil {
		return []bridge.InputDevice{}, err
	}
	return devices, nil
}

func (m *MockController) ToggleMute(ctx context.Context, name string) error {
	return m.record(ctx, "ToggleMute:"+name)
}

func (m *MockController) SetVolumeDb(ctx context.Context, name string, db float64) error {
	return m.record(ctx, fmt.Sprintf("SetVolumeDb:%s:%g", name, db))
}

func (m *MockController) Toggle(ctx context.Context, name string) bool {
	return m.ToggleMute(ctx, name) == nil
}

func (m *MockController) SetVolume(ctx context.Context, name string, db float64) bool {
	return m.SetVolumeDb(ctx, name, db) == nil
}

func (m *MockController) IsConnected() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.connected
}

func (m *MockController) fail(err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.err = err
}

func (m *MockController) getCalls() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]string(nil), m.calls...)
}

func (m *MockController) getSources() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]string(nil), m.sources...)
}

func (m *MockController) countCalls(prefix string) int {
	n := 0
	for _, c := range m.getCalls() {
		if strings.HasPrefix(c, prefix) {
			n++
		}
	}
	return n
}

// intentErr builds a bridge failure with the given reason.
func intentErr(reason bridge.Reason) error {
	return &bridge.IntentError{Op: "toggle_mute", Input: "Mic1", Reason: reason, Err: errors.New("boom")}
}

const testJWTSecret = "test-secret-key-at-least-32-characters-long"

// authSecurity enables JWT auth with password "letmein".
func authSecurity() config.SecurityConfig {
	return config.SecurityConfig{
		JWT:            config.JWTConfig{Secret: testJWTSecret, AccessTokenTTL: 15},
		AccessPassword: "letmein",
	}
}

func testLogger() *logging.Logger {
	return logging.New(config.LoggingConfig{Level: "error", Format: "text", Output: "stdout"}, "test")
}

// testServer creates a Server around ctrl. mutate may adjust the deps.
func testServer(t *testing.T, ctrl *MockController, mutate func(*Deps)) *Server {
	t.Helper()

	deps := Deps{
		Config: config.APIConfig{
			Host:     "127.0.0.1",
			Port:     0,
			Timeouts: config.APITimeoutConfig{Read: 5, Write: 5, Idle: 5},
		},
		WS: config.WebSocketConfig{
			Path:           "/ws",
			MaxMessageSize: 8192,
			PingInterval:   30,
			PongTimeout:    10,
		},
		Logger:  testLogger(),
		Bridge:  ctrl,
		Version: "test",
	}
	if mutate != nil {
		mutate(&deps)
	}

	srv, err := New(deps)
	if err != nil {
		t.Fatalf("New() error: %v", err)
	}
	return srv
}

// liveServer serves srv's router on an httptest listener and returns the
// host:port.
func liveServer(t *testing.T, srv *Server) string {
	t.Helper()
	ts := httptest.NewServer(srv.buildRouter())
	t.Cleanup(func() {
		srv.hub.closeAll()
		ts.Close()
	})
	return strings.TrimPrefix(ts.URL, "http://")
}

// dialWS connects to the relay WebSocket and consumes the status greeting.
func dialWS(t *testing.T, addr, query string) (*websocket.Conn, WSMessage) {
	t.Helper()
	url := "ws://" + addr + "/ws"
	if query != "" {
		url += "?" + query
	}
	ws, resp, err := websocket.DefaultDialer.Dial(url, nil)
	if err != nil {
		t.Fatalf("websocket dial failed: %v (resp: %v)", err, resp)
	}
	t.Cleanup(func() { ws.Close() })

	status := readWS(t, ws)
	if status.Type != WSTypeStatus {
		t.Fatalf("first message type = %q, want status", status.Type)
	}
	return ws, status
}

// readWS reads one message with a 2s deadline.
func readWS(t *testing.T, ws *websocket.Conn) WSMessage {
	t.Helper()
	//nolint:errcheck // Test deadline
	ws.SetReadDeadline(time.Now().Add(2 * time.Second))
	var msg WSMessage
	if err := ws.ReadJSON(&msg); err != nil {
		t.Fatalf("read websocket message: %v", err)
	}
	return msg
}

// readWSType reads until a message of the given type arrives, skipping
// event broadcasts.
func readWSType(t *testing.T, ws *websocket.Conn, msgType string) WSMessage {
	t.Helper()
	for i := 0; i < 20; i++ {
		msg := readWS(t, ws)
		if msg.Type == msgType {
			return msg
		}
		if msg.Type != WSTypeEvent {
			t.Fatalf("message type = %q (payload %s), want %q", msg.Type, msg.Payload, msgType)
		}
	}
	t.Fatalf("no %q message received", msgType)
	return WSMessage{}
}
