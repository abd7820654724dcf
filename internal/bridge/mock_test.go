package bridge

import (
	"context"
	"encoding/json"
	"sync"
	"testing"
	"time"

	"github.com/nerrad567/obsrelay/internal/infrastructure/mqtt"
	"github.com/nerrad567/obsrelay/internal/obsws"
)

type mockInput struct {
	name     string
	kind     string
	volumeDb float64
	muted    bool
}

// MockLink implements Link for testing. It records every call and the
// highest number of calls observed in flight at once.
type MockLink struct {
	mu          sync.Mutex
	connected   bool
	connectErr  error
	connects    int
	closes      int
	inputs      []*mockInput
	calls       []string
	failures    map[string]error
	inFlight    int
	maxInFlight int

	// gate, when set, holds every call until it is closed.
	gate    chan struct{}
	entered chan string
}

func NewMockLink(inputs ...*mockInput) *MockLink {
	return &MockLink{
		inputs:   inputs,
		failures: make(map[string]error),
		entered:  make(chan string, 256),
	}
}

// scenarioLink returns the two-microphone setup used across tests.
func scenarioLink() *MockLink {
	return NewMockLink(
		&mockInput{name: "Mic1", kind: "wasapi_input", volumeDb: -5.0, muted: false},
		&mockInput{name: "Mic2", kind: "wasapi_input", volumeDb: -20.0, muted: true},
	)
}

func (m *MockLink) enter(call string) error {
	m.mu.Lock()
	m.calls = append(m.calls, call)
	m.inFlight++
	if m.inFlight > m.maxInFlight {
		m.maxInFlight = m.inFlight
	}
	gate := m.gate
	err := m.failures[call]
	m.mu.Unlock()

	select {
	case m.entered <- call:
	default:
	}
	if gate != nil {
		<-gate
	}
	return err
}

func (m *MockLink) exit() {
	m.mu.Lock()
	m.inFlight--
	m.mu.Unlock()
}

func (m *MockLink) find(name string) *mockInput {
	for _, in := range m.inputs {
		if in.name == name {
			return in
		}
	}
	return nil
}

func (m *MockLink) Connect(_ context.Context) error {
	defer m.exit()
	if err := m.enter("Connect"); err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.connects++
	if m.connectErr != nil {
		return m.connectErr
	}
	m.connected = true
	return nil
}

func (m *MockLink) IsConnected() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.connected
}

func (m *MockLink) ListInputs(_ context.Context) ([]obsws.Input, error) {
	defer m.exit()
	if err := m.enter("ListInputs"); err != nil {
		return nil, err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]obsws.Input, 0, len(m.inputs))
	for _, in := range m.inputs {
		out = append(out, obsws.Input{Name: in.name, Kind: in.kind})
	}
	return out, nil
}

func (m *MockLink) GetInputMute(_ context.Context, name string) (bool, error) {
	defer m.exit()
	if err := m.enter("GetInputMute:" + name); err != nil {
		return false, err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	in := m.find(name)
	if in == nil {
		return false, obsws.ErrUnknownInput
	}
	return in.muted, nil
}

func (m *MockLink) SetInputMute(_ context.Context, name string, muted bool) error {
	defer m.exit()
	if err := m.enter("SetInputMute:" + name); err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	in := m.find(name)
	if in == nil {
		return obsws.ErrUnknownInput
	}
	in.muted = muted
	return nil
}

func (m *MockLink) GetInputVolumeDb(_ context.Context, name string) (float64, error) {
	defer m.exit()
	if err := m.enter("GetInputVolumeDb:" + name); err != nil {
		return 0, err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	in := m.find(name)
	if in == nil {
		return 0, obsws.ErrUnknownInput
	}
	return in.volumeDb, nil
}

func (m *MockLink) SetInputVolumeDb(_ context.Context, name string, db float64) error {
	defer m.exit()
	if err := m.enter("SetInputVolumeDb:" + name); err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	in := m.find(name)
	if in == nil {
		return obsws.ErrUnknownInput
	}
	in.volumeDb = db
	return nil
}

func (m *MockLink) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.closes++
	m.connected = false
	return nil
}

func (m *MockLink) setConnected(v bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.connected = v
}

func (m *MockLink) setConnectErr(err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.connectErr = err
}

func (m *MockLink) fail(call string, err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.failures[call] = err
}

func (m *MockLink) hold() chan struct{} {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.gate = make(chan struct{})
	return m.gate
}

func (m *MockLink) getCalls() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]string(nil), m.calls...)
}

func (m *MockLink) resetCalls() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.calls = nil
}

func (m *MockLink) getCloses() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.closes
}

func (m *MockLink) getMaxInFlight() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.maxInFlight
}

// MockRecorder implements ActionRecorder for testing.
type MockRecorder struct {
	mu      sync.Mutex
	records []ActionRecord
	err     error
}

func (r *MockRecorder) RecordAction(_ context.Context, rec ActionRecord) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.records = append(r.records, rec)
	return r.err
}

func (r *MockRecorder) getRecords() []ActionRecord {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]ActionRecord(nil), r.records...)
}

// MockMQTTClient implements MQTTClient for testing.
type MockMQTTClient struct {
	mu            sync.Mutex
	published     []mockPublish
	subscriptions []string
	connected     bool
	handlers      map[string]mqtt.MessageHandler
}

type mockPublish struct {
	Topic    string
	Payload  []byte
	QoS      byte
	Retained bool
}

func NewMockMQTTClient() *MockMQTTClient {
	return &MockMQTTClient{
		connected: true,
		handlers:  make(map[string]mqtt.MessageHandler),
	}
}

func (m *MockMQTTClient) Publish(topic string, payload []byte, qos byte, retained bool) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.published = append(m.published, mockPublish{Topic: topic, Payload: payload, QoS: qos, Retained: retained})
	return nil
}

func (m *MockMQTTClient) Subscribe(topic string, _ byte, handler mqtt.MessageHandler) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.subscriptions = append(m.subscriptions, topic)
	m.handlers[topic] = handler
	return nil
}

func (m *MockMQTTClient) IsConnected() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.connected
}

func (m *MockMQTTClient) setConnected(v bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.connected = v
}

func (m *MockMQTTClient) GetPublished() []mockPublish {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]mockPublish(nil), m.published...)
}

// SimulateMessage delivers a message to the handler whose pattern matches
// the topic's category.
func (m *MockMQTTClient) SimulateMessage(t *testing.T, pattern, topic string, payload []byte) error {
	t.Helper()
	m.mu.Lock()
	handler, ok := m.handlers[pattern]
	m.mu.Unlock()
	if !ok {
		t.Fatalf("no handler subscribed for %s", pattern)
	}
	return handler(topic, payload)
}

// lastPublished returns the last message published to topic.
func lastPublished(t *testing.T, m *MockMQTTClient, topic string, v any) mockPublish {
	t.Helper()
	msgs := m.GetPublished()
	for i := len(msgs) - 1; i >= 0; i-- {
		if msgs[i].Topic == topic {
			if v != nil {
				if err := json.Unmarshal(msgs[i].Payload, v); err != nil {
					t.Fatalf("unmarshal %s: %v", topic, err)
				}
			}
			return msgs[i]
		}
	}
	t.Fatalf("nothing published to %s", topic)
	return mockPublish{}
}

// testLogger collects log messages.
type testLogger struct {
	mu   sync.Mutex
	msgs []string
}

func (l *testLogger) add(msg string) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.msgs = append(l.msgs, msg)
}

func (l *testLogger) Debug(msg string, _ ...any) { l.add(msg) }
func (l *testLogger) Info(msg string, _ ...any)  { l.add(msg) }
func (l *testLogger) Warn(msg string, _ ...any)  { l.add(msg) }
func (l *testLogger) Error(msg string, _ ...any) { l.add(msg) }

func (l *testLogger) has(msg string) bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	for _, m := range l.msgs {
		if m == msg {
			return true
		}
	}
	return false
}

// startBridge creates and starts a bridge over link, stopping it on cleanup.
func startBridge(t *testing.T, opts Options) *Bridge {
	t.Helper()
	b, err := New(opts)
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}
	if err := b.Start(context.Background()); err != nil {
		t.Fatalf("Start() error = %v", err)
	}
	t.Cleanup(b.Stop)
	return b
}

// waitFor polls cond until it holds or the deadline passes.
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
