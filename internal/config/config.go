// Package config loads process configuration from the environment, an
// optional .env file and an optional YAML overlay.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

// Registry backends.
const (
	BackendSQLite = "sqlite"
	BackendJSON   = "json"
)

// Config is the full process configuration.
type Config struct {
	// HTTP
	Port      string
	StaticDir string

	// Registry persistence
	DataDir         string
	RegistryBackend string
	RegistryPath    string

	// Logging
	LogLevel  string
	LogFormat string

	// Liveness
	SweepInterval    time.Duration
	HeartbeatTimeout time.Duration

	// Alert thresholds
	TemperatureThreshold float64
	GasThreshold         float64

	// Fan-out and rate limits
	ClientBuffer    int
	IngestRateLimit int
	WSRateLimit     int

	Redis RedisConfig
	MQTT  MQTTConfig
}

// RedisConfig configures the optional state mirror. An empty Addr disables it.
type RedisConfig struct {
	Addr     string
	Password string
	DB       int
	Buffer   int
}

// MQTTConfig configures the optional helmet ingress. An empty Broker disables it.
type MQTTConfig struct {
	Broker   string
	ClientID string
	Topic    string
	Username string
	Password string
	QoS      byte
}

// Enabled reports whether the mirror should be started.
func (c RedisConfig) Enabled() bool { return c.Addr != "" }

// Enabled reports whether the MQTT ingress should be started.
func (c MQTTConfig) Enabled() bool { return c.Broker != "" }

// overlay mirrors the subset of Config that may be set from a YAML file.
type overlay struct {
	SweepInterval        string   `yaml:"sweep_interval"`
	HeartbeatTimeout     string   `yaml:"heartbeat_timeout"`
	TemperatureThreshold *float64 `yaml:"temperature_threshold"`
	GasThreshold         *float64 `yaml:"gas_threshold"`
	ClientBuffer         *int     `yaml:"client_buffer"`
	IngestRateLimit      *int     `yaml:"ingest_rate_limit"`
	WSRateLimit          *int     `yaml:"ws_rate_limit"`
}

// Load reads .env (if present), then the environment, then the YAML file named
// by HARDHAT_CONFIG (if set). Unparseable values fall back to defaults.
func Load() (*Config, error) {
	_ = godotenv.Load()

	cfg := &Config{
		Port:                 getEnv("PORT", "3000"),
		StaticDir:            getEnv("STATIC_DIR", ""),
		DataDir:              getEnv("HARDHAT_DATA_DIR", "data"),
		RegistryBackend:      getEnv("HARDHAT_REGISTRY_BACKEND", BackendSQLite),
		RegistryPath:         getEnv("HARDHAT_REGISTRY_PATH", ""),
		LogLevel:             getEnv("LOG_LEVEL", "info"),
		LogFormat:            getEnv("LOG_FORMAT", "json"),
		SweepInterval:        getEnvDuration("SWEEP_INTERVAL", 30*time.Second),
		HeartbeatTimeout:     getEnvDuration("HEARTBEAT_TIMEOUT", 60*time.Second),
		TemperatureThreshold: getEnvFloat("TEMPERATURE_THRESHOLD", 40),
		GasThreshold:         getEnvFloat("GAS_THRESHOLD", 300),
		ClientBuffer:         getEnvInt("CLIENT_BUFFER", 64),
		IngestRateLimit:      getEnvInt("INGEST_RATE_LIMIT", 600),
		WSRateLimit:          getEnvInt("WS_RATE_LIMIT", 120),
		Redis: RedisConfig{
			Addr:     getEnv("REDIS_ADDR", ""),
			Password: getEnv("REDIS_PASSWORD", ""),
			DB:       getEnvInt("REDIS_DB", 0),
			Buffer:   getEnvInt("REDIS_BUFFER", 1024),
		},
		MQTT: MQTTConfig{
			Broker:   getEnv("MQTT_BROKER", ""),
			ClientID: getEnv("MQTT_CLIENT_ID", "hardhat"),
			Topic:    getEnv("MQTT_TOPIC", "helmets/+/telemetry"),
			Username: getEnv("MQTT_USERNAME", ""),
			Password: getEnv("MQTT_PASSWORD", ""),
			QoS:      byte(getEnvInt("MQTT_QOS", 0)),
		},
	}

	if path := os.Getenv("HARDHAT_CONFIG"); path != "" {
		if err := cfg.applyFile(path); err != nil {
			return nil, err
		}
	}

	switch cfg.RegistryBackend {
	case BackendSQLite, BackendJSON:
	default:
		return nil, fmt.Errorf("unknown registry backend %q", cfg.RegistryBackend)
	}
	if cfg.RegistryPath == "" {
		cfg.RegistryPath = cfg.defaultRegistryPath()
	}
	return cfg, nil
}

func (c *Config) defaultRegistryPath() string {
	if c.RegistryBackend == BackendJSON {
		return filepath.Join(c.DataDir, "workers.json")
	}
	return filepath.Join(c.DataDir, "workers.db")
}

// applyFile overlays values from a YAML file onto c.
func (c *Config) applyFile(path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("read config file: %w", err)
	}
	var o overlay
	if err := yaml.Unmarshal(data, &o); err != nil {
		return fmt.Errorf("parse config file: %w", err)
	}

	if d, err := time.ParseDuration(o.SweepInterval); err == nil && d > 0 {
		c.SweepInterval = d
	}
	if d, err := time.ParseDuration(o.HeartbeatTimeout); err == nil && d > 0 {
		c.HeartbeatTimeout = d
	}
	if o.TemperatureThreshold != nil {
		c.TemperatureThreshold = *o.TemperatureThreshold
	}
	if o.GasThreshold != nil {
		c.GasThreshold = *o.GasThreshold
	}
	if o.ClientBuffer != nil && *o.ClientBuffer > 0 {
		c.ClientBuffer = *o.ClientBuffer
	}
	if o.IngestRateLimit != nil && *o.IngestRateLimit > 0 {
		c.IngestRateLimit = *o.IngestRateLimit
	}
	if o.WSRateLimit != nil && *o.WSRateLimit > 0 {
		c.WSRateLimit = *o.WSRateLimit
	}
	return nil
}

func getEnv(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func getEnvInt(key string, fallback int) int {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return fallback
	}
	return n
}

func getEnvFloat(key string, fallback float64) float64 {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	f, err := strconv.ParseFloat(v, 64)
	if err != nil {
		return fallback
	}
	return f
}

func getEnvDuration(key string, fallback time.Duration) time.Duration {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	d, err := time.ParseDuration(v)
	if err != nil || d <= 0 {
		return fallback
	}
	return d
}
