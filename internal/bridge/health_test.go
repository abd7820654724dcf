package bridge

import (
	"context"
	"testing"
	"time"
)

func TestHealthReporter_Status(t *testing.T) {
	link := scenarioLink()
	b := startBridge(t, Options{Link: link})
	pub := NewMockMQTTClient()

	h := NewHealthReporter(HealthReporterConfig{
		Version:   "1.2.3",
		Address:   "ws://localhost:4455",
		Publisher: pub,
		Bridge:    b,
	})

	if err := h.PublishNow(); err != nil {
		t.Fatalf("PublishNow() error = %v", err)
	}
	var msg HealthMessage
	p := lastPublished(t, pub, "obsrelay/health/obs", &msg)
	if !p.Retained || p.QoS != 1 {
		t.Errorf("publish = %+v, want retained QoS 1", p)
	}
	if msg.Status != HealthDegraded || msg.Connection.Status != "disconnected" {
		t.Errorf("msg = %+v, want degraded before any intent", msg)
	}
	if msg.Version != "1.2.3" || msg.Bridge != "obs" || msg.Connection.Address != "ws://localhost:4455" {
		t.Errorf("msg = %+v", msg)
	}

	b.Devices(context.Background())

	if err := h.PublishNow(); err != nil {
		t.Fatalf("PublishNow() error = %v", err)
	}
	lastPublished(t, pub, "obsrelay/health/obs", &msg)
	if msg.Status != HealthHealthy || msg.Connection.Status != "connected" {
		t.Errorf("msg = %+v, want healthy", msg)
	}
	if msg.Statistics == nil || msg.Statistics.Enumerations != 1 || msg.Statistics.Connects != 1 {
		t.Errorf("statistics = %+v", msg.Statistics)
	}
}

func TestHealthReporter_StartingAndStopping(t *testing.T) {
	pub := NewMockMQTTClient()
	h := NewHealthReporter(HealthReporterConfig{Publisher: pub, Interval: time.Hour})

	if err := h.PublishStarting(); err != nil {
		t.Fatalf("PublishStarting() error = %v", err)
	}
	var msg HealthMessage
	lastPublished(t, pub, "obsrelay/health/obs", &msg)
	if msg.Status != HealthStarting {
		t.Errorf("Status = %q, want starting", msg.Status)
	}

	h.Start(context.Background())
	waitFor(t, "initial publish", func() bool { return len(pub.GetPublished()) >= 2 })

	h.Stop()
	h.Stop()

	lastPublished(t, pub, "obsrelay/health/obs", &msg)
	if msg.Status != HealthStopping {
		t.Errorf("final Status = %q, want stopping", msg.Status)
	}
}

func TestHealthReporter_PeriodicPublish(t *testing.T) {
	pub := NewMockMQTTClient()
	h := NewHealthReporter(HealthReporterConfig{Publisher: pub, Interval: 10 * time.Millisecond})

	ctx, cancel := context.WithCancel(context.Background())
	h.Start(ctx)
	waitFor(t, "periodic publishes", func() bool { return len(pub.GetPublished()) >= 3 })
	cancel()
	h.Stop()
}

func TestHealthReporter_SkipsWhenDisconnected(t *testing.T) {
	pub := NewMockMQTTClient()
	pub.setConnected(false)
	h := NewHealthReporter(HealthReporterConfig{Publisher: pub})

	if err := h.PublishNow(); err != nil {
		t.Errorf("PublishNow() error = %v", err)
	}
	if len(pub.GetPublished()) != 0 {
		t.Error("published while disconnected")
	}
}

func TestHealthReporter_DefaultInterval(t *testing.T) {
	h := NewHealthReporter(HealthReporterConfig{})
	if h.cfg.Interval != defaultHealthInterval {
		t.Errorf("interval = %v, want %v", h.cfg.Interval, defaultHealthInterval)
	}
	if err := h.PublishNow(); err != nil {
		t.Errorf("PublishNow() without publisher error = %v", err)
	}
}

func TestHealthReporter_StopWithoutStart(t *testing.T) {
	pub := NewMockMQTTClient()
	h := NewHealthReporter(HealthReporterConfig{Publisher: pub})

	h.Stop()
	h.Start(context.Background())

	published := pub.GetPublished()
	if len(published) != 1 {
		t.Fatalf("published %d messages, want only the stopping one", len(published))
	}
	var msg HealthMessage
	lastPublished(t, pub, "obsrelay/health/obs", &msg)
	if msg.Status != HealthStopping {
		t.Errorf("Status = %q, want stopping", msg.Status)
	}
}
