package config

import (
	"fmt"
	"os"
	"regexp"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Store backend names accepted by store.backend.
const (
	StoreBackendMQTT   = "mqtt"
	StoreBackendNATS   = "nats"
	StoreBackendMemory = "memory"
)

// Config is the root configuration structure for Gray Logic Sync.
// All configuration is loaded from YAML and can be overridden by environment variables.
type Config struct {
	Device    DeviceConfig    `yaml:"device"`
	Sync      SyncConfig      `yaml:"sync"`
	Sendable  SendableConfig  `yaml:"sendable"`
	Store     StoreConfig     `yaml:"store"`
	Database  DatabaseConfig  `yaml:"database"`
	API       APIConfig       `yaml:"api"`
	WebSocket WebSocketConfig `yaml:"websocket"`
	InfluxDB  InfluxDBConfig  `yaml:"influxdb"`
	Metrics   MetricsConfig   `yaml:"metrics"`
	Logging   LoggingConfig   `yaml:"logging"`
}

// DeviceConfig contains overrides for this instance's own identity.
type DeviceConfig struct {
	// AppName is combined with the OS label to build the default device name.
	AppName string `yaml:"app_name"`

	// Name overrides the generated device name when set.
	// An explicit empty string suppresses the default name.
	Name *string `yaml:"name"`

	// Icon is an optional icon reference published with the device record.
	Icon *string `yaml:"icon"`
}

// SyncConfig contains reconciliation and scheduling settings.
type SyncConfig struct {
	// ExpiryDays removes peers not seen for this many days. 0 disables expiry.
	ExpiryDays int `yaml:"expiry_days"`

	// Debounce coalesces bursts of change notifications into one pass.
	Debounce time.Duration `yaml:"debounce"`

	// SettleDelay is how long an in-flight guard stays closed after a write.
	SettleDelay time.Duration `yaml:"settle_delay"`

	// SelfRefreshInterval advances the local liveness timestamp absent other activity.
	SelfRefreshInterval time.Duration `yaml:"self_refresh_interval"`

	// DevicesKey and MessagesKey name the shared values in the store.
	DevicesKey  string `yaml:"devices_key"`
	MessagesKey string `yaml:"messages_key"`
}

// SendableConfig contains the resource sendability filter settings.
type SendableConfig struct {
	// ExcludePattern is a regular expression; matching locators are not sendable.
	ExcludePattern string `yaml:"exclude_pattern"`
}

// StoreConfig selects and configures the shared key/value store.
type StoreConfig struct {
	Backend   string     `yaml:"backend"`
	ChunkSize int        `yaml:"chunk_size"`
	MQTT      MQTTConfig `yaml:"mqtt"`
	NATS      NATSConfig `yaml:"nats"`
}

// MQTTConfig contains MQTT broker connection settings.
type MQTTConfig struct {
	Broker    MQTTBrokerConfig    `yaml:"broker"`
	Auth      MQTTAuthConfig      `yaml:"auth"`
	QoS       int                 `yaml:"qos"`
	Reconnect MQTTReconnectConfig `yaml:"reconnect"`

	// RootTopic is the topic namespace holding the retained shared values.
	RootTopic string `yaml:"root_topic"`
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

// NATSConfig contains NATS JetStream key/value settings.
type NATSConfig struct {
	URL     string        `yaml:"url"`
	Bucket  string        `yaml:"bucket"`
	Name    string        `yaml:"name"`
	Token   string        `yaml:"token"`
	Timeout time.Duration `yaml:"timeout"`
}

// DatabaseConfig contains SQLite database settings.
type DatabaseConfig struct {
	Path        string `yaml:"path"`
	WALMode     bool   `yaml:"wal_mode"`
	BusyTimeout int    `yaml:"busy_timeout"`
}

// APIConfig contains HTTP API server settings.
type APIConfig struct {
	Enabled  bool             `yaml:"enabled"`
	Host     string           `yaml:"host"`
	Port     int              `yaml:"port"`
	TLS      TLSConfig        `yaml:"tls"`
	Timeouts APITimeoutConfig `yaml:"timeouts"`
	CORS     CORSConfig       `yaml:"cors"`
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

// MetricsConfig contains Prometheus exposition settings.
type MetricsConfig struct {
	Enabled   bool   `yaml:"enabled"`
	Path      string `yaml:"path"`
	Namespace string `yaml:"namespace"`
}

// LoggingConfig contains logging settings.
type LoggingConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
	Output string `yaml:"output"`
}

// Load reads configuration from a YAML file and applies environment variable overrides.
//
// The configuration loading order is:
//  1. Default values (hardcoded)
//  2. YAML file values (override defaults)
//  3. Environment variables (override file values)
//
// Environment variables follow the pattern: GRAYSYNC_SECTION_KEY
// For example: GRAYSYNC_DATABASE_PATH, GRAYSYNC_STORE_BACKEND
//
// Parameters:
//   - path: Path to the YAML configuration file
//
// Returns:
//   - *Config: Loaded and validated configuration
//   - error: If file cannot be read, parsed, or validation fails
func Load(path string) (*Config, error) {
	cfg := defaultConfig()

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading config file: %w", err)
	}

	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parsing config file: %w", err)
	}

	applyEnvOverrides(cfg)

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("validating config: %w", err)
	}

	return cfg, nil
}

// defaultConfig returns a Config with sensible defaults.
func defaultConfig() *Config {
	return &Config{
		Device: DeviceConfig{
			AppName: "Gray Logic Sync",
		},
		Sync: SyncConfig{
			ExpiryDays:          0,
			Debounce:            250 * time.Millisecond,
			SettleDelay:         250 * time.Millisecond,
			SelfRefreshInterval: 24 * time.Hour,
			DevicesKey:          "devices",
			MessagesKey:         "messages",
		},
		Store: StoreConfig{
			Backend:   StoreBackendMQTT,
			ChunkSize: 8192,
			MQTT: MQTTConfig{
				Broker: MQTTBrokerConfig{
					Host:     "localhost",
					Port:     1883,
					ClientID: "graysync",
				},
				QoS: 1,
				Reconnect: MQTTReconnectConfig{
					InitialDelay: 1,
					MaxDelay:     60,
					MaxAttempts:  0,
				},
				RootTopic: "graysync/store",
			},
			NATS: NATSConfig{
				URL:     "nats://localhost:4222",
				Bucket:  "graysync",
				Name:    "graysync",
				Timeout: 5 * time.Second,
			},
		},
		Database: DatabaseConfig{
			Path:        "./data/graysync.db",
			WALMode:     true,
			BusyTimeout: 5,
		},
		API: APIConfig{
			Enabled: true,
			Host:    "127.0.0.1",
			Port:    8090,
			Timeouts: APITimeoutConfig{
				Read:  30,
				Write: 30,
				Idle:  60,
			},
		},
		WebSocket: WebSocketConfig{
			Path:           "/ws",
			MaxMessageSize: 8192,
			PingInterval:   30,
			PongTimeout:    10,
		},
		Metrics: MetricsConfig{
			Enabled:   true,
			Path:      "/metrics",
			Namespace: "graysync",
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "json",
			Output: "stdout",
		},
	}
}

// applyEnvOverrides applies environment variable overrides to the configuration.
// Environment variables follow the pattern: GRAYSYNC_SECTION_KEY
func applyEnvOverrides(cfg *Config) {
	// Device
	if v, ok := os.LookupEnv("GRAYSYNC_DEVICE_NAME"); ok {
		cfg.Device.Name = &v
	}

	// Sync
	if v := os.Getenv("GRAYSYNC_SYNC_EXPIRY_DAYS"); v != "" {
		if days, err := strconv.Atoi(v); err == nil {
			cfg.Sync.ExpiryDays = days
		}
	}

	// Store
	if v := os.Getenv("GRAYSYNC_STORE_BACKEND"); v != "" {
		cfg.Store.Backend = v
	}
	if v := os.Getenv("GRAYSYNC_MQTT_HOST"); v != "" {
		cfg.Store.MQTT.Broker.Host = v
	}
	if v := os.Getenv("GRAYSYNC_MQTT_USERNAME"); v != "" {
		cfg.Store.MQTT.Auth.Username = v
	}
	if v := os.Getenv("GRAYSYNC_MQTT_PASSWORD"); v != "" {
		cfg.Store.MQTT.Auth.Password = v
	}
	if v := os.Getenv("GRAYSYNC_NATS_URL"); v != "" {
		cfg.Store.NATS.URL = v
	}
	if v := os.Getenv("GRAYSYNC_NATS_TOKEN"); v != "" {
		cfg.Store.NATS.Token = v
	}

	// Database
	if v := os.Getenv("GRAYSYNC_DATABASE_PATH"); v != "" {
		cfg.Database.Path = v
	}

	// API
	if v := os.Getenv("GRAYSYNC_API_HOST"); v != "" {
		cfg.API.Host = v
	}

	// InfluxDB
	if v := os.Getenv("GRAYSYNC_INFLUXDB_TOKEN"); v != "" {
		cfg.InfluxDB.Token = v
	}
}

// Validate checks the configuration for errors.
//
// Returns:
//   - error: Description of validation failure, or nil if valid
func (c *Config) Validate() error {
	var errs []string

	// Sync validation
	if c.Sync.ExpiryDays < 0 {
		errs = append(errs, "sync.expiry_days must not be negative")
	}
	if c.Sync.Debounce <= 0 {
		errs = append(errs, "sync.debounce must be positive")
	}
	if c.Sync.SettleDelay < 0 {
		errs = append(errs, "sync.settle_delay must not be negative")
	}
	if c.Sync.SelfRefreshInterval <= 0 {
		errs = append(errs, "sync.self_refresh_interval must be positive")
	}
	if c.Sync.DevicesKey == "" || c.Sync.MessagesKey == "" {
		errs = append(errs, "sync.devices_key and sync.messages_key are required")
	} else if c.Sync.DevicesKey == c.Sync.MessagesKey {
		errs = append(errs, "sync.devices_key and sync.messages_key must differ")
	}

	// Sendable validation
	if c.Sendable.ExcludePattern != "" {
		if _, err := regexp.Compile(c.Sendable.ExcludePattern); err != nil {
			errs = append(errs, fmt.Sprintf("sendable.exclude_pattern is invalid: %v", err))
		}
	}

	// Store validation
	switch c.Store.Backend {
	case StoreBackendMQTT:
		if c.Store.MQTT.QoS < 0 || c.Store.MQTT.QoS > 2 {
			errs = append(errs, "store.mqtt.qos must be 0, 1, or 2")
		}
		if c.Store.MQTT.RootTopic == "" {
			errs = append(errs, "store.mqtt.root_topic is required")
		} else if strings.ContainsAny(c.Store.MQTT.RootTopic, "+#") {
			errs = append(errs, "store.mqtt.root_topic must not contain wildcards")
		}
	case StoreBackendNATS:
		if c.Store.NATS.URL == "" {
			errs = append(errs, "store.nats.url is required")
		}
		if c.Store.NATS.Bucket == "" {
			errs = append(errs, "store.nats.bucket is required")
		}
	case StoreBackendMemory:
	default:
		errs = append(errs, "store.backend must be mqtt, nats, or memory")
	}
	if c.Store.ChunkSize < 0 {
		errs = append(errs, "store.chunk_size must not be negative")
	}

	// Database validation
	if c.Database.Path == "" {
		errs = append(errs, "database.path is required")
	}

	// API validation
	if c.API.Enabled && (c.API.Port < 1 || c.API.Port > 65535) {
		errs = append(errs, "api.port must be between 1 and 65535")
	}

	if len(errs) > 0 {
		return fmt.Errorf("configuration errors: %s", strings.Join(errs, "; "))
	}

	return nil
}

// GetReadTimeout returns the API read timeout as a Duration.
func (c *Config) GetReadTimeout() time.Duration {
	return time.Duration(c.API.Timeouts.Read) * time.Second
}

// GetWriteTimeout returns the API write timeout as a Duration.
func (c *Config) GetWriteTimeout() time.Duration {
	return time.Duration(c.API.Timeouts.Write) * time.Second
}

// GetIdleTimeout returns the API idle timeout as a Duration.
func (c *Config) GetIdleTimeout() time.Duration {
	return time.Duration(c.API.Timeouts.Idle) * time.Second
}
