package main

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/nerrad567/obsrelay/internal/infrastructure/config"
	"github.com/nerrad567/obsrelay/internal/obsws"
)

// freePort returns a TCP port that was free a moment ago.
func freePort(t *testing.T) int {
	t.Helper()
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("listen: %v", err)
	}
	defer ln.Close()
	return ln.Addr().(*net.TCPAddr).Port
}

func writeConfig(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	if err := os.WriteFile(path, []byte(content), 0600); err != nil {
		t.Fatalf("failed to write test config: %v", err)
	}
	return path
}

// TestRun_InvalidConfig verifies run fails with an invalid config path.
func TestRun_InvalidConfig(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	err := run(ctx, []string{"--config", "/nonexistent/path/config.yaml"}, &bytes.Buffer{})
	if err == nil || !strings.Contains(err.Error(), "loading config") {
		t.Fatalf("run() error = %v, want loading config failure", err)
	}
}

// TestRun_InvalidSettings verifies validation errors stop startup.
func TestRun_InvalidSettings(t *testing.T) {
	path := writeConfig(t, `
obs:
  port: 0
security:
  jwt:
    secret: "short"
`)
	err := run(context.Background(), []string{"-c", path}, &bytes.Buffer{})
	if err == nil || !strings.Contains(err.Error(), "obs.port") {
		t.Fatalf("run() error = %v, want validation failure", err)
	}
}

func TestRun_Version(t *testing.T) {
	var out bytes.Buffer
	err := run(context.Background(), []string{"--version"}, &out)
	if !errors.Is(err, errVersionRequested) {
		t.Fatalf("run() error = %v, want errVersionRequested", err)
	}
	if !strings.HasPrefix(out.String(), "obsrelay "+version) {
		t.Errorf("output = %q", out.String())
	}
}

func TestParseFlags(t *testing.T) {
	tests := []struct {
		name    string
		args    []string
		env     string
		want    string
		wantErr bool
	}{
		{"default", nil, "", defaultConfigPath, false},
		{"env override", nil, "/etc/obsrelay/config.yaml", "/etc/obsrelay/config.yaml", false},
		{"flag beats env", []string{"--config", "/tmp/a.yaml"}, "/etc/obsrelay/config.yaml", "/tmp/a.yaml", false},
		{"short flag", []string{"-c", "b.yaml"}, "", "b.yaml", false},
		{"unknown flag", []string{"--nope"}, "", "", true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Setenv("OBSRELAY_CONFIG", tt.env)

			got, err := parseFlags(tt.args, &bytes.Buffer{})
			if (err != nil) != tt.wantErr {
				t.Fatalf("parseFlags() error = %v, wantErr %v", err, tt.wantErr)
			}
			if got != tt.want {
				t.Errorf("parseFlags() = %q, want %q", got, tt.want)
			}
		})
	}
}

func TestObsConfig(t *testing.T) {
	cfg := config.OBSConfig{
		Host:            "studio",
		Port:            4455,
		Password:        "pw",
		ConnectTimeout:  3 * time.Second,
		RequestTimeout:  2 * time.Second,
		SubscribeEvents: true,
	}

	got := obsConfig(cfg)
	if got.Host != "studio" || got.Port != 4455 || got.Password != "pw" || got.TLS {
		t.Errorf("obsConfig() = %+v", got)
	}
	if got.EventSubscriptions != obsws.EventSubscriptionInputs {
		t.Errorf("EventSubscriptions = %d, want inputs", got.EventSubscriptions)
	}
	if got.ConnectTimeout != 3*time.Second || got.RequestTimeout != 2*time.Second {
		t.Errorf("timeouts = %v/%v", got.ConnectTimeout, got.RequestTimeout)
	}

	cfg.SubscribeEvents = false
	if got := obsConfig(cfg); got.EventSubscriptions != obsws.EventSubscriptionNone {
		t.Errorf("EventSubscriptions = %d, want none", got.EventSubscriptions)
	}
}

// TestRun_StartupAndShutdown starts the relay without OBS, MQTT or
// InfluxDB, checks the health endpoint, then cancels.
func TestRun_StartupAndShutdown(t *testing.T) {
	apiPort := freePort(t)
	obsPort := freePort(t)
	dbPath := filepath.Join(t.TempDir(), "audit.db")

	path := writeConfig(t, fmt.Sprintf(`
obs:
  host: "127.0.0.1"
  port: %d
  connect_timeout: 1s
api:
  host: "127.0.0.1"
  port: %d
database:
  enabled: true
  path: %q
mqtt:
  enabled: false
influxdb:
  enabled: false
logging:
  level: error
  format: text
  output: stdout
`, obsPort, apiPort, dbPath))

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	done := make(chan error, 1)
	go func() { done <- run(ctx, []string{"--config", path}, &bytes.Buffer{}) }()

	url := fmt.Sprintf("http://127.0.0.1:%d/api/health", apiPort)
	var body map[string]any
	deadline := time.Now().Add(5 * time.Second)
	for {
		resp, err := http.Get(url) //nolint:noctx // Test polling
		if err == nil {
			err = json.NewDecoder(resp.Body).Decode(&body)
			resp.Body.Close()
			if err == nil {
				break
			}
		}
		if time.Now().After(deadline) {
			t.Fatalf("health endpoint never came up: %v", err)
		}
		time.Sleep(50 * time.Millisecond)
	}

	if body["status"] != "degraded" || body["obs_connected"] != false {
		t.Errorf("health = %v, want degraded without OBS", body)
	}
	if _, err := os.Stat(dbPath); err != nil {
		t.Errorf("audit database not created: %v", err)
	}

	cancel()
	select {
	case err := <-done:
		if err != nil {
			t.Errorf("run() error = %v", err)
		}
	case <-time.After(10 * time.Second):
		t.Fatal("run() did not return after cancellation")
	}
}
