package config

import (
	"fmt"
	"net"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Config is the root of configs/config.yaml.
type Config struct {
	OBS       OBSConfig       `yaml:"obs"`
	API       APIConfig       `yaml:"api"`
	WebSocket WebSocketConfig `yaml:"websocket"`
	MQTT      MQTTConfig      `yaml:"mqtt"`
	Database  DatabaseConfig  `yaml:"database"`
	InfluxDB  InfluxDBConfig  `yaml:"influxdb"`
	Logging   LoggingConfig   `yaml:"logging"`
	Security  SecurityConfig  `yaml:"security"`
}

// OBSConfig contains the obs-websocket connection settings.
type OBSConfig struct {
	Host     string `yaml:"host"`
	Port     int    `yaml:"port"`
	Password string `yaml:"password"`
	TLS      bool   `yaml:"tls"`

	// ConnectTimeout bounds the dial and identify handshake.
	// Default: 10s
	ConnectTimeout time.Duration `yaml:"connect_timeout"`

	// RequestTimeout bounds every request/response round trip.
	// Default: 5s
	RequestTimeout time.Duration `yaml:"request_timeout"`

	// ReconnectOnFailure closes the link after a transport failure or timeout
	// so the next intent reconnects. When false the link stays marked as
	// connected until an explicit close.
	ReconnectOnFailure bool `yaml:"reconnect_on_failure"`

	// SubscribeEvents asks OBS for input events (mute and volume changes)
	// which are relayed to WebSocket and MQTT clients.
	SubscribeEvents bool `yaml:"subscribe_events"`
}

// APIConfig contains HTTP API server settings.
type APIConfig struct {
	Host     string           `yaml:"host"`
	Port     int              `yaml:"port"`
	TLS      TLSConfig        `yaml:"tls"`
	Timeouts APITimeoutConfig `yaml:"timeouts"`
	CORS     CORSConfig       `yaml:"cors"`

	// StaticDir serves the web UI from disk instead of the embedded copy.
	StaticDir string `yaml:"static_dir"`
}

// TLSConfig contains TLS certificate settings.
type TLSConfig struct {
	Enabled  bool   `yaml:"enabled"`
	CertFile string `yaml:"cert_file"`
	KeyFile  string `yaml:"key_file"`
}

// APITimeoutConfig contains HTTP timeout settings.
type APITimeoutConfig struct {
	Read  int `yaml:"read"`
	Write int `yaml:"write"`
	Idle  int `yaml:"idle"`
}

// CORSConfig contains Cross-Origin Resource Sharing settings.
type CORSConfig struct {
	AllowedOrigins []string `yaml:"allowed_origins"`
	AllowedMethods []string `yaml:"allowed_methods"`
	AllowedHeaders []string `yaml:"allowed_headers"`
}

// WebSocketConfig contains WebSocket server settings.
type WebSocketConfig struct {
	Path           string `yaml:"path"`
	MaxMessageSize int    `yaml:"max_message_size"`
	PingInterval   int    `yaml:"ping_interval"`
	PongTimeout    int    `yaml:"pong_timeout"`
}

// MQTTConfig contains MQTT broker connection settings.
type MQTTConfig struct {
	Enabled   bool                `yaml:"enabled"`
	Broker    MQTTBrokerConfig    `yaml:"broker"`
	Auth      MQTTAuthConfig      `yaml:"auth"`
	QoS       int                 `yaml:"qos"`
	Reconnect MQTTReconnectConfig `yaml:"reconnect"`

	// HealthInterval is how often the bridge health message is published (seconds).
	HealthInterval int `yaml:"health_interval"`
}

// MQTTBrokerConfig contains MQTT broker connection details.
type MQTTBrokerConfig struct {
	Host     string `yaml:"host"`
	Port     int    `yaml:"port"`
	TLS      bool   `yaml:"tls"`
	ClientID string `yaml:"client_id"`
}

// MQTTAuthConfig contains MQTT authentication credentials.
type MQTTAuthConfig struct {
	Username string `yaml:"username"`
	Password string `yaml:"password"`
}

// MQTTReconnectConfig contains MQTT reconnection settings.
type MQTTReconnectConfig struct {
	InitialDelay int `yaml:"initial_delay"`
	MaxDelay     int `yaml:"max_delay"`
	MaxAttempts  int `yaml:"max_attempts"`
}

// DatabaseConfig contains SQLite database settings for the audit trail.
type DatabaseConfig struct {
	Enabled     bool   `yaml:"enabled"`
	Path        string `yaml:"path"`
	WALMode     bool   `yaml:"wal_mode"`
	BusyTimeout int    `yaml:"busy_timeout"`
}

// InfluxDBConfig contains InfluxDB connection settings.
type InfluxDBConfig struct {
	Enabled       bool   `yaml:"enabled"`
	URL           string `yaml:"url"`
	Token         string `yaml:"token"`
	Org           string `yaml:"org"`
	Bucket        string `yaml:"bucket"`
	BatchSize     int    `yaml:"batch_size"`
	FlushInterval int    `yaml:"flush_interval"`
}

// LoggingConfig contains logging settings.
type LoggingConfig struct {
	Level  string            `yaml:"level"`
	Format string            `yaml:"format"`
	Output string            `yaml:"output"`
	File   FileLoggingConfig `yaml:"file"`
}

// FileLoggingConfig contains file-based logging settings.
type FileLoggingConfig struct {
	Path string `yaml:"path"`
}

// SecurityConfig contains security settings.
type SecurityConfig struct {
	JWT JWTConfig `yaml:"jwt"`

	// AccessPassword is exchanged for a JWT at /api/auth/login.
	// Only consulted when a JWT secret is configured.
	AccessPassword string `yaml:"access_password"`
}

// JWTConfig contains JWT token settings.
// An empty secret disables API authentication.
type JWTConfig struct {
	Secret         string `yaml:"secret"`
	AccessTokenTTL int    `yaml:"access_token_ttl"`
}

// AuthEnabled reports whether the relay requires JWT authentication.
func (s SecurityConfig) AuthEnabled() bool {
	return s.JWT.Secret != ""
}

// Load builds the configuration in three layers: built-in defaults, then
// the YAML file at path, then OBSRELAY_* environment variables (see
// envOverrides). The result is validated before it is returned.
//
// Parameters:
//   - path: YAML configuration file
//
// Returns:
//   - *Config: Validated configuration
//   - error: If the file cannot be read or parsed, or validation fails
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading config file: %w", err)
	}

	cfg := defaultConfig()
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parsing config file %s: %w", path, err)
	}
	return finish(cfg)
}

// LoadDefaults is Load without a file, for tools such as obsprobe that
// run unconfigured.
func LoadDefaults() (*Config, error) {
	return finish(defaultConfig())
}

func finish(cfg *Config) (*Config, error) {
	applyEnvOverrides(cfg)
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("validating config: %w", err)
	}
	return cfg, nil
}

// defaultConfig holds the values used for keys the file omits.
func defaultConfig() *Config {
	return &Config{
		OBS: OBSConfig{
			Host:            "localhost",
			Port:            4455,
			ConnectTimeout:  10 * time.Second,
			RequestTimeout:  5 * time.Second,
			SubscribeEvents: true,
		},
		API: APIConfig{
			Host: "0.0.0.0",
			Port: 5000,
			Timeouts: APITimeoutConfig{
				Read:  30,
				Write: 30,
				Idle:  60,
			},
			CORS: CORSConfig{
				AllowedOrigins: []string{"*"},
			},
		},
		WebSocket: WebSocketConfig{
			Path:           "/ws",
			MaxMessageSize: 8192,
			PingInterval:   30,
			PongTimeout:    10,
		},
		MQTT: MQTTConfig{
			Broker: MQTTBrokerConfig{
				Host:     "localhost",
				Port:     1883,
				ClientID: "obsrelay",
			},
			QoS: 1,
			Reconnect: MQTTReconnectConfig{
				InitialDelay: 1,
				MaxDelay:     60,
			},
			HealthInterval: 30,
		},
		Database: DatabaseConfig{
			Enabled:     true,
			Path:        "./data/obsrelay.db",
			WALMode:     true,
			BusyTimeout: 5,
		},
		InfluxDB: InfluxDBConfig{
			BatchSize:     100,
			FlushInterval: 10,
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "json",
			Output: "stdout",
			File: FileLoggingConfig{
				Path: "obsrelay.log",
			},
		},
		Security: SecurityConfig{
			JWT: JWTConfig{
				AccessTokenTTL: 15,
			},
		},
	}
}

// envOverrides maps each supported environment variable onto its field.
// Secrets are usually supplied this way rather than in the file.
var envOverrides = []struct {
	key   string
	apply func(c *Config, v string)
}{
	{"OBSRELAY_OBS_HOST", func(c *Config, v string) { c.OBS.Host = v }},
	{"OBSRELAY_OBS_PORT", func(c *Config, v string) { setInt(&c.OBS.Port, v) }},
	{"OBSRELAY_OBS_PASSWORD", func(c *Config, v string) { c.OBS.Password = v }},
	{"OBSRELAY_API_HOST", func(c *Config, v string) { c.API.Host = v }},
	{"OBSRELAY_API_PORT", func(c *Config, v string) { setInt(&c.API.Port, v) }},
	{"OBSRELAY_ALLOWED_ORIGINS", func(c *Config, v string) { c.API.CORS.AllowedOrigins = splitList(v) }},
	{"OBSRELAY_MQTT_HOST", func(c *Config, v string) { c.MQTT.Broker.Host = v }},
	{"OBSRELAY_MQTT_USERNAME", func(c *Config, v string) { c.MQTT.Auth.Username = v }},
	{"OBSRELAY_MQTT_PASSWORD", func(c *Config, v string) { c.MQTT.Auth.Password = v }},
	{"OBSRELAY_DATABASE_PATH", func(c *Config, v string) { c.Database.Path = v }},
	{"OBSRELAY_INFLUXDB_TOKEN", func(c *Config, v string) { c.InfluxDB.Token = v }},
	{"OBSRELAY_LOG_LEVEL", func(c *Config, v string) { c.Logging.Level = v }},
	{"OBSRELAY_JWT_SECRET", func(c *Config, v string) { c.Security.JWT.Secret = v }},
	{"OBSRELAY_ACCESS_PASSWORD", func(c *Config, v string) { c.Security.AccessPassword = v }},
}

// applyEnvOverrides applies every non-empty variable in envOverrides.
func applyEnvOverrides(cfg *Config) {
	for _, o := range envOverrides {
		if v, ok := os.LookupEnv(o.key); ok && v != "" {
			o.apply(cfg, v)
		}
	}
}

// setInt leaves *dst untouched when v is not an integer.
func setInt(dst *int, v string) {
	if n, err := strconv.Atoi(strings.TrimSpace(v)); err == nil {
		*dst = n
	}
}

func splitList(v string) []string {
	var out []string
	for _, item := range strings.Split(v, ",") {
		if item = strings.TrimSpace(item); item != "" {
			out = append(out, item)
		}
	}
	return out
}

// minJWTSecretLength keeps HS256 secrets out of brute-force range.
const minJWTSecretLength = 32

// Validate reports every problem at once, joined with "; ".
func (c *Config) Validate() error {
	var problems []string
	check := func(ok bool, msg string) {
		if !ok {
			problems = append(problems, msg)
		}
	}

	check(c.OBS.Host != "", "obs.host is required")
	check(validPort(c.OBS.Port), "obs.port must be between 1 and 65535")
	check(c.OBS.RequestTimeout >= 0, "obs.request_timeout must not be negative")

	check(validPort(c.API.Port), "api.port must be between 1 and 65535")
	check(!c.API.TLS.Enabled || (c.API.TLS.CertFile != "" && c.API.TLS.KeyFile != ""),
		"api.tls.cert_file and api.tls.key_file are required when TLS is enabled")

	check(c.MQTT.QoS >= 0 && c.MQTT.QoS <= 2, "mqtt.qos must be 0, 1, or 2")
	check(!c.Database.Enabled || c.Database.Path != "", "database.path is required when the database is enabled")
	check(!c.InfluxDB.Enabled || c.InfluxDB.URL != "", "influxdb.url is required when InfluxDB is enabled")

	if c.Security.AuthEnabled() {
		check(len(c.Security.JWT.Secret) >= minJWTSecretLength,
			"security.jwt.secret must be at least 32 characters for adequate security")
		check(c.Security.AccessPassword != "",
			"security.access_password is required when security.jwt.secret is set")
	}

	if len(problems) > 0 {
		return fmt.Errorf("configuration errors: %s", strings.Join(problems, "; "))
	}
	return nil
}

func validPort(p int) bool {
	return p >= 1 && p <= 65535
}

// OBSAddress returns the obs-websocket host:port pair.
func (c *Config) OBSAddress() string {
	return net.JoinHostPort(c.OBS.Host, strconv.Itoa(c.OBS.Port))
}
