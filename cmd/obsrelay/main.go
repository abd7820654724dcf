// obsrelay exposes the audio inputs of a running OBS Studio instance to
// browsers, HTTP clients and MQTT.
//
// One bridge owns the obs-websocket link and serialises every intent; the
// HTTP API, the WebSocket hub and the MQTT adapter all call into it.
package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/pflag"

	"github.com/nerrad567/obsrelay/internal/api"
	"github.com/nerrad567/obsrelay/internal/audit"
	"github.com/nerrad567/obsrelay/internal/bridge"
	"github.com/nerrad567/obsrelay/internal/infrastructure/config"
	"github.com/nerrad567/obsrelay/internal/infrastructure/database"
	"github.com/nerrad567/obsrelay/internal/infrastructure/influxdb"
	"github.com/nerrad567/obsrelay/internal/infrastructure/logging"
	"github.com/nerrad567/obsrelay/internal/infrastructure/mqtt"
	"github.com/nerrad567/obsrelay/internal/obsws"
	"github.com/nerrad567/obsrelay/migrations"
)

// Version information - set at build time via ldflags
// Example: go build -ldflags "-X main.version=1.0.0 -X main.commit=abc123"
var (
	version = "dev"
	commit  = "unknown"
	date    = "unknown"
)

// Default configuration file path
const defaultConfigPath = "configs/config.yaml"

// warmupTimeout bounds the initial enumeration that connects to OBS.
const warmupTimeout = 15 * time.Second

// errVersionRequested stops run after --version has been printed.
var errVersionRequested = errors.New("version requested")

func main() {
	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	if err := run(ctx, os.Args[1:], os.Stdout); err != nil {
		if errors.Is(err, errVersionRequested) || errors.Is(err, pflag.ErrHelp) {
			return
		}
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

// run is the application logic, separated from main for testability.
//
// Parameters:
//   - ctx: Cancelled on shutdown signals
//   - args: Command-line arguments without the program name
//   - stdout: Destination for --version output
//
// Returns:
//   - error: nil on clean shutdown, or error describing failure
func run(ctx context.Context, args []string, stdout io.Writer) error {
	configPath, err := parseFlags(args, stdout)
	if err != nil {
		return err
	}

	log := logging.Default()
	log.Info("starting obsrelay",
		"version", version,
		"commit", commit,
		"build_date", date,
	)

	cfg, err := config.Load(configPath)
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}
	log.Info("configuration loaded", "path", configPath)

	log = logging.New(cfg.Logging, version)
	defer log.Close() //nolint:errcheck // Best effort on exit
	log.Info("logger initialised",
		"level", cfg.Logging.Level,
		"format", cfg.Logging.Format,
	)

	// Audit trail (optional)
	var auditRepo *audit.SQLiteRepository
	if cfg.Database.Enabled {
		db, dbErr := openDatabase(ctx, cfg.Database)
		if dbErr != nil {
			return dbErr
		}
		defer func() {
			log.Info("closing database")
			if closeErr := db.Close(); closeErr != nil {
				log.Error("error closing database", "error", closeErr)
			}
		}()
		auditRepo = audit.NewSQLiteRepository(db.DB)
		log.Info("audit database ready", "path", cfg.Database.Path)
	} else {
		log.Info("audit database disabled")
	}

	// OBS link and bridge
	obsClient := obsws.New(obsConfig(cfg.OBS))
	obsClient.SetLogger(log.With("component", "obsws"))

	opts := bridge.Options{
		Link:               obsClient,
		ReconnectOnFailure: cfg.OBS.ReconnectOnFailure,
		Logger:             log.With("component", "bridge"),
	}
	if auditRepo != nil {
		opts.Recorder = auditRepo
	}
	b, err := bridge.New(opts)
	if err != nil {
		return fmt.Errorf("creating bridge: %w", err)
	}
	obsClient.SetOnEvent(b.HandleEvent)

	if err := b.Start(ctx); err != nil {
		return fmt.Errorf("starting bridge: %w", err)
	}
	defer func() {
		log.Info("stopping bridge")
		b.Stop()
	}()

	// Time-series (optional)
	if cfg.InfluxDB.Enabled {
		influxClient, influxErr := influxdb.Connect(ctx, cfg.InfluxDB)
		if influxErr != nil {
			return fmt.Errorf("connecting to InfluxDB: %w", influxErr)
		}
		defer func() {
			log.Info("closing InfluxDB connection")
			if closeErr := influxClient.Close(); closeErr != nil {
				log.Error("error closing InfluxDB", "error", closeErr)
			}
		}()
		influxClient.SetOnError(func(err error) {
			log.Error("InfluxDB write error", "error", err)
		})
		b.AddObserver(influxObserver(influxClient))
		log.Info("InfluxDB connected",
			"url", cfg.InfluxDB.URL,
			"org", cfg.InfluxDB.Org,
			"bucket", cfg.InfluxDB.Bucket,
		)
	} else {
		log.Info("InfluxDB disabled")
	}

	// MQTT (optional)
	if cfg.MQTT.Enabled {
		stopMQTT, mqttErr := startMQTT(ctx, cfg, b, log)
		if mqttErr != nil {
			return mqttErr
		}
		defer stopMQTT()
	} else {
		log.Info("MQTT disabled")
	}

	// HTTP API, WebSocket hub and panel
	deps := api.Deps{
		Config:   cfg.API,
		WS:       cfg.WebSocket,
		Security: cfg.Security,
		Logger:   log,
		Bridge:   b,
		Version:  version,
	}
	if auditRepo != nil {
		deps.Audit = auditRepo
	}
	srv, err := api.New(deps)
	if err != nil {
		return fmt.Errorf("creating API server: %w", err)
	}
	b.AddObserver(srv.Hub())

	if err := srv.Start(ctx); err != nil {
		return fmt.Errorf("starting API server: %w", err)
	}
	defer func() {
		log.Info("stopping API server")
		if closeErr := srv.Close(); closeErr != nil {
			log.Error("error stopping API server", "error", closeErr)
		}
	}()
	log.Info("API server listening", "addr", srv.Addr(), "auth", cfg.Security.AuthEnabled())

	go warmUp(ctx, b, log)

	log.Info("initialisation complete, waiting for shutdown signal")
	<-ctx.Done()
	log.Info("shutdown signal received, cleaning up")

	// Deferred calls run in reverse order: API server, MQTT, InfluxDB,
	// bridge (closes the OBS link), database.
	return nil
}

// parseFlags resolves the configuration path: --config, then
// OBSRELAY_CONFIG, then the default.
func parseFlags(args []string, stdout io.Writer) (string, error) {
	fs := pflag.NewFlagSet("obsrelay", pflag.ContinueOnError)
	configPath := fs.StringP("config", "c", "", "path to the YAML configuration file")
	showVersion := fs.Bool("version", false, "print version and exit")
	if err := fs.Parse(args); err != nil {
		return "", err
	}

	if *showVersion {
		fmt.Fprintf(stdout, "obsrelay %s (commit %s, built %s)\n", version, commit, date)
		return "", errVersionRequested
	}

	if *configPath != "" {
		return *configPath, nil
	}
	return getConfigPath(), nil
}

// getConfigPath returns OBSRELAY_CONFIG if set, otherwise the default.
func getConfigPath() string {
	if path := os.Getenv("OBSRELAY_CONFIG"); path != "" {
		return path
	}
	return defaultConfigPath
}

// obsConfig maps the relay configuration onto the obs-websocket client.
func obsConfig(cfg config.OBSConfig) obsws.Config {
	events := obsws.EventSubscriptionNone
	if cfg.SubscribeEvents {
		events = obsws.EventSubscriptionInputs
	}
	return obsws.Config{
		Host:               cfg.Host,
		Port:               cfg.Port,
		Password:           cfg.Password,
		TLS:                cfg.TLS,
		ConnectTimeout:     cfg.ConnectTimeout,
		RequestTimeout:     cfg.RequestTimeout,
		EventSubscriptions: events,
	}
}

// openDatabase opens the audit database and applies pending migrations.
func openDatabase(ctx context.Context, cfg config.DatabaseConfig) (*database.DB, error) {
	db, err := database.Open(cfg)
	if err != nil {
		return nil, fmt.Errorf("opening database: %w", err)
	}
	if err := db.Migrate(ctx, migrations.FS, migrations.Dir); err != nil {
		db.Close() //nolint:errcheck // Already failing
		return nil, fmt.Errorf("running migrations: %w", err)
	}
	return db, nil
}

// influxObserver writes every observed input state as a time-series point.
func influxObserver(c *influxdb.Client) bridge.Observer {
	return bridge.ObserverFunc(func(change bridge.StateChange) {
		c.WriteInputState(influxdb.InputState{
			InputName: change.InputName,
			InputKind: change.InputKind,
			VolumeDb:  change.VolumeDb,
			Muted:     change.Muted,
			Timestamp: change.Timestamp,
		})
	})
}

// startMQTT connects to the broker, starts the command adapter and the
// health reporter. The returned function tears all three down.
func startMQTT(ctx context.Context, cfg *config.Config, b *bridge.Bridge, log *logging.Logger) (func(), error) {
	mqttClient, err := mqtt.Connect(ctx, cfg.MQTT)
	if err != nil {
		return nil, fmt.Errorf("connecting to MQTT: %w", err)
	}
	mqttClient.SetLogger(log.With("component", "mqtt"))
	mqttClient.SetOnConnect(func() {
		log.Info("MQTT reconnected")
	})
	mqttClient.SetOnDisconnect(func(err error) {
		log.Warn("MQTT disconnected", "error", err)
	})
	log.Info("MQTT connected",
		"broker", fmt.Sprintf("%s:%d", cfg.MQTT.Broker.Host, cfg.MQTT.Broker.Port),
		"client_id", cfg.MQTT.Broker.ClientID,
	)

	adapter := bridge.NewMQTTAdapter(b, mqttClient, byte(cfg.MQTT.QoS)) //nolint:gosec // QoS validated to 0-2
	adapter.SetLogger(log.With("component", "mqtt_adapter"))
	if err := adapter.Start(); err != nil {
		mqttClient.Close() //nolint:errcheck // Already failing
		return nil, fmt.Errorf("starting MQTT adapter: %w", err)
	}
	b.AddObserver(adapter)

	health := bridge.NewHealthReporter(bridge.HealthReporterConfig{
		Version:   version,
		Address:   cfg.OBSAddress(),
		Interval:  time.Duration(cfg.MQTT.HealthInterval) * time.Second,
		Publisher: mqttClient,
		Bridge:    b,
	})
	health.SetLogger(log)
	if err := health.PublishStarting(); err != nil {
		log.Warn("failed to publish starting health", "error", err)
	}
	health.Start(ctx)

	return func() {
		log.Info("stopping health reporter")
		health.Stop()
		log.Info("disconnecting from MQTT")
		if closeErr := mqttClient.Close(); closeErr != nil {
			log.Error("error closing MQTT", "error", closeErr)
		}
	}, nil
}

// warmUp enumerates once so the OBS link connects and the initial input
// state reaches observers. Failure is logged; intents reconnect lazily.
func warmUp(ctx context.Context, b *bridge.Bridge, log *logging.Logger) {
	ctx, cancel := context.WithTimeout(ctx, warmupTimeout)
	defer cancel()

	devices, err := b.Enumerate(ctx)
	if err != nil {
		log.Warn("OBS not reachable at startup", "reason", bridge.ReasonOf(err), "error", err)
		return
	}
	log.Info("OBS connected", "devices", len(devices))
}
