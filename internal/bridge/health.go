package bridge

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/nerrad567/obsrelay/internal/infrastructure/mqtt"
)

const defaultHealthInterval = 30 * time.Second

// HealthPublisher is the part of the MQTT client the reporter needs.
type HealthPublisher interface {
	Publish(topic string, payload []byte, qos byte, retained bool) error
	IsConnected() bool
}

// HealthReporterConfig configures NewHealthReporter.
type HealthReporterConfig struct {
	Version string

	// Address is the OBS endpoint shown under "connection".
	Address string

	// Interval defaults to 30s.
	Interval time.Duration

	Publisher HealthPublisher
	Bridge    *Bridge
}

// HealthReporter keeps the retained obsrelay/health/obs message current.
//
// It publishes once on Start, then every Interval, and a final "stopping"
// message on Stop. Nothing is published while the broker is unreachable;
// the next tick after reconnect catches up.
type HealthReporter struct {
	cfg     HealthReporterConfig
	topic   string
	started time.Time

	mu      sync.Mutex
	cancel  context.CancelFunc
	stopped chan struct{}
	done    bool

	logger   Logger
	loggerMu sync.RWMutex
}

// NewHealthReporter returns a reporter; call Start to begin publishing.
func NewHealthReporter(cfg HealthReporterConfig) *HealthReporter {
	if cfg.Interval <= 0 {
		cfg.Interval = defaultHealthInterval
	}
	return &HealthReporter{
		cfg:     cfg,
		topic:   mqtt.Topics{}.BridgeHealth(protocolOBS),
		started: time.Now(),
	}
}

// SetLogger sets the logger used for publish failures.
func (h *HealthReporter) SetLogger(logger Logger) {
	h.loggerMu.Lock()
	h.logger = logger
	h.loggerMu.Unlock()
}

// Start publishes the current status and keeps publishing until ctx ends
// or Stop is called. Calling Start twice, or after Stop, is a no-op.
func (h *HealthReporter) Start(ctx context.Context) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.cancel != nil || h.done {
		return
	}

	ctx, h.cancel = context.WithCancel(ctx)
	h.stopped = make(chan struct{})
	go h.run(ctx, h.stopped)
}

// Stop ends periodic reporting and publishes "stopping". Safe to call
// more than once.
func (h *HealthReporter) Stop() {
	h.mu.Lock()
	if h.done {
		h.mu.Unlock()
		return
	}
	h.done = true
	cancel, stopped := h.cancel, h.stopped
	h.mu.Unlock()

	if cancel != nil {
		cancel()
		<-stopped
	}
	h.report(HealthStopping, "shutting down")
}

// PublishStarting announces the relay before OBS has been contacted.
func (h *HealthReporter) PublishStarting() error {
	return h.publish(HealthStarting, "bridge starting")
}

// PublishNow publishes healthy when an OBS session is open and degraded
// otherwise. A closed session is normal between intents when
// reconnect_on_failure closes it, so it never reports unhealthy.
func (h *HealthReporter) PublishNow() error {
	if h.cfg.Bridge != nil && h.cfg.Bridge.IsConnected() {
		return h.publish(HealthHealthy, "")
	}
	return h.publish(HealthDegraded, "OBS not connected")
}

func (h *HealthReporter) run(ctx context.Context, stopped chan<- struct{}) {
	defer close(stopped)

	ticker := time.NewTicker(h.cfg.Interval)
	defer ticker.Stop()

	for {
		if err := h.PublishNow(); err != nil {
			h.logError("publishing health", err)
		}
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
	}
}

func (h *HealthReporter) report(status HealthStatus, reason string) {
	if err := h.publish(status, reason); err != nil {
		h.logError("publishing "+string(status)+" health", err)
	}
}

func (h *HealthReporter) publish(status HealthStatus, reason string) error {
	pub := h.cfg.Publisher
	if pub == nil || !pub.IsConnected() {
		return nil
	}

	var stats Stats
	if h.cfg.Bridge != nil {
		stats = h.cfg.Bridge.Stats()
	}
	msg := newHealthMessage(h.cfg.Version, status, stats, h.cfg.Address, h.started)
	msg.Reason = reason

	payload, err := json.Marshal(msg)
	if err != nil {
		return fmt.Errorf("encoding health message: %w", err)
	}
	return pub.Publish(h.topic, payload, 1, true)
}

func (h *HealthReporter) logError(msg string, err error) {
	h.loggerMu.RLock()
	logger := h.logger
	h.loggerMu.RUnlock()
	if logger != nil {
		logger.Error(msg, "error", err)
	}
}
