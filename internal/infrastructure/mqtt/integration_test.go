//go:build integration

package mqtt

import (
	"context"
	"encoding/json"
	"sync"
	"testing"
	"time"

	"github.com/nerrad567/obsrelay/internal/infrastructure/config"
)

// These tests need a broker on 127.0.0.1:1883:
//
//	go test -tags=integration -count=1 ./internal/infrastructure/mqtt/...

func connectIntegration(t *testing.T, clientID string) *Client {
	t.Helper()
	cfg := config.MQTTConfig{
		Broker:    config.MQTTBrokerConfig{Host: "127.0.0.1", Port: 1883, ClientID: clientID},
		QoS:       1,
		Reconnect: config.MQTTReconnectConfig{InitialDelay: 1, MaxDelay: 5},
	}
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	client, err := Connect(ctx, cfg)
	if err != nil {
		t.Fatalf("Connect(%s) error = %v", clientID, err)
	}
	t.Cleanup(func() { client.Close() }) //nolint:errcheck // Test cleanup
	return client
}

// receiveOne subscribes and returns a channel delivering the first payload.
func receiveOne(t *testing.T, c *Client, topic string) <-chan []byte {
	t.Helper()
	got := make(chan []byte, 1)
	var once sync.Once
	err := c.Subscribe(topic, 1, func(_ string, p []byte) error {
		once.Do(func() { got <- p })
		return nil
	})
	if err != nil {
		t.Fatalf("Subscribe(%s) error = %v", topic, err)
	}
	return got
}

func TestIntegration_Roundtrip(t *testing.T) {
	pub := connectIntegration(t, "obsrelay-int-pub")
	sub := connectIntegration(t, "obsrelay-int-sub")

	topic := Topics{}.BridgeCommand(ProtocolOBS, "Mic/Aux")
	got := receiveOne(t, sub, Topics{}.AllBridgeCommands(ProtocolOBS))

	if err := pub.Publish(topic, []byte(`{"action":"toggle_mute"}`), 1, false); err != nil {
		t.Fatalf("Publish() error = %v", err)
	}

	select {
	case p := <-got:
		if string(p) != `{"action":"toggle_mute"}` {
			t.Errorf("payload = %s", p)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("timeout waiting for message")
	}
}

func TestIntegration_SubscriptionsTracked(t *testing.T) {
	c := connectIntegration(t, "obsrelay-int-track")
	noop := func(string, []byte) error { return nil }

	for _, topic := range []string{"obsrelay/int/b", "obsrelay/int/a", "obsrelay/int/a"} {
		if err := c.Subscribe(topic, 1, noop); err != nil {
			t.Fatalf("Subscribe(%s) error = %v", topic, err)
		}
	}
	subs := c.Subscriptions()
	if len(subs) != 2 || subs[0] != "obsrelay/int/a" || subs[1] != "obsrelay/int/b" {
		t.Errorf("Subscriptions() = %v", subs)
	}
}

func TestIntegration_OnlinePresence(t *testing.T) {
	connectIntegration(t, "obsrelay-int-presence")
	watcher := connectIntegration(t, "obsrelay-int-watcher")

	got := receiveOne(t, watcher, Topics{}.SystemStatus())

	select {
	case p := <-got:
		var msg statusMessage
		if err := json.Unmarshal(p, &msg); err != nil {
			t.Fatalf("status payload: %v", err)
		}
		if msg.Status != statusOnline {
			t.Errorf("retained status = %+v, want online", msg)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("no retained status received")
	}
}

func TestIntegration_HandlerPanicRecovered(t *testing.T) {
	c := connectIntegration(t, "obsrelay-int-panic")
	logger := &recordingLogger{}
	c.SetLogger(logger)

	err := c.Subscribe("obsrelay/int/panic", 1, func(string, []byte) error { panic("boom") })
	if err != nil {
		t.Fatalf("Subscribe() error = %v", err)
	}
	if err := c.Publish("obsrelay/int/panic", []byte("x"), 1, false); err != nil {
		t.Fatalf("Publish() error = %v", err)
	}

	deadline := time.Now().Add(5 * time.Second)
	for time.Now().Before(deadline) {
		if logger.errorCount() > 0 {
			return
		}
		time.Sleep(20 * time.Millisecond)
	}
	t.Error("panic not logged")
}

type recordingLogger struct {
	mu     sync.Mutex
	errors []string
}

func (l *recordingLogger) Info(string, ...any) {}
func (l *recordingLogger) Warn(string, ...any) {}

func (l *recordingLogger) Error(msg string, _ ...any) {
	l.mu.Lock()
	l.errors = append(l.errors, msg)
	l.mu.Unlock()
}

func (l *recordingLogger) errorCount() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.errors)
}
