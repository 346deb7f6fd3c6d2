// Package config provides environment-based configuration for formlog.
package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

// Sink names accepted in Config.Sinks.
const (
	SinkFile     = "file"
	SinkRedis    = "redis"
	SinkPostgres = "postgres"
	SinkNATS     = "nats"
)

// Line encodings accepted in Config.Encoding.
const (
	EncodingRaw     = "raw"
	EncodingRFC4180 = "rfc4180"
)

var (
	// ErrUnknownSink is returned when a sink name is not recognised.
	ErrUnknownSink = errors.New("unknown sink")
	// ErrInvalidEncoding is returned when the line encoding is not recognised.
	ErrInvalidEncoding = errors.New("invalid encoding")
)

// Config holds all configuration for formlog.
type Config struct {
	// Server configuration
	Host        string `yaml:"host"`
	Port        int    `yaml:"port"`
	HandlerPath string `yaml:"handler_path"`

	// Request logger behaviour
	EmitConfirmation   bool   `yaml:"emit_confirmation"`
	Encoding           string `yaml:"encoding"`
	NeutralizeFormulas bool   `yaml:"neutralize_formulas"`
	MaxBodyBytes       int64  `yaml:"max_body_bytes"`

	// Sinks lists the enabled output sinks, in append order.
	Sinks   []string `yaml:"sinks"`
	LogPath string   `yaml:"log_path"`

	Redis    RedisConfig    `yaml:"redis"`
	Postgres PostgresConfig `yaml:"postgres"`
	NATS     NATSConfig     `yaml:"nats"`

	StreamEnabled bool `yaml:"stream_enabled"`

	// Graceful shutdown timeout
	ShutdownTimeout time.Duration `yaml:"shutdown_timeout"`

	// Process logging
	LogLevel string `yaml:"log_level"`
	LogJSON  bool   `yaml:"log_json"`
}

// RedisConfig holds the redis sink configuration.
type RedisConfig struct {
	Addr     string `yaml:"addr"`
	Password string `yaml:"password"`
	Key      string `yaml:"key"`
}

// PostgresConfig holds the postgres sink configuration.
type PostgresConfig struct {
	DSN   string `yaml:"dsn"`
	Table string `yaml:"table"`
}

// NATSConfig holds the nats sink configuration.
type NATSConfig struct {
	URL     string `yaml:"url"`
	Subject string `yaml:"subject"`
}

// Load reads configuration from an optional .env file, an optional YAML file
// named by FORMLOG_CONFIG, and environment variables, in increasing priority.
func Load() (*Config, error) {
	// A missing .env is normal outside development.
	_ = godotenv.Load()

	cfg := defaults()

	if path := os.Getenv("FORMLOG_CONFIG"); path != "" {
		if err := cfg.loadFile(path); err != nil {
			return nil, err
		}
	}

	cfg.applyEnv()

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return cfg, nil
}

// LoadWithDefaults loads configuration with defaults for development.
// It does not read files or validate, useful for testing.
func LoadWithDefaults() *Config {
	cfg := defaults()
	cfg.applyEnv()
	return cfg
}

func defaults() *Config {
	return &Config{
		Host:             "0.0.0.0",
		Port:             8080,
		HandlerPath:      "/post_handler",
		EmitConfirmation: true,
		Encoding:         EncodingRaw,
		MaxBodyBytes:     8 << 20,
		Sinks:            []string{SinkFile},
		LogPath:          "log.csv",
		Redis: RedisConfig{
			Addr: "localhost:6379",
			Key:  "formlog:lines",
		},
		Postgres: PostgresConfig{
			DSN:   "postgres://localhost:5432/formlog?sslmode=disable",
			Table: "form_log",
		},
		NATS: NATSConfig{
			URL:     "nats://127.0.0.1:4222",
			Subject: "formlog.lines",
		},
		StreamEnabled:   true,
		ShutdownTimeout: 30 * time.Second,
		LogLevel:        "info",
		LogJSON:         true,
	}
}

func (c *Config) loadFile(path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("reading config file: %w", err)
	}
	if err := yaml.Unmarshal(data, c); err != nil {
		return fmt.Errorf("parsing config file %s: %w", path, err)
	}
	return nil
}

func (c *Config) applyEnv() {
	c.Host = getEnv("FORMLOG_HOST", c.Host)
	c.Port = getIntEnv("FORMLOG_PORT", c.Port)
	c.HandlerPath = getEnv("FORMLOG_HANDLER_PATH", c.HandlerPath)
	c.EmitConfirmation = getBoolEnv("FORMLOG_EMIT_CONFIRMATION", c.EmitConfirmation)
	c.Encoding = getEnv("FORMLOG_ENCODING", c.Encoding)
	c.NeutralizeFormulas = getBoolEnv("FORMLOG_NEUTRALIZE_FORMULAS", c.NeutralizeFormulas)
	c.MaxBodyBytes = int64(getIntEnv("FORMLOG_MAX_BODY_BYTES", int(c.MaxBodyBytes)))
	c.Sinks = getListEnv("FORMLOG_SINK", c.Sinks)
	c.LogPath = getEnv("FORMLOG_LOG_PATH", c.LogPath)
	c.Redis.Addr = getEnv("REDIS_ADDR", c.Redis.Addr)
	c.Redis.Password = getEnv("REDIS_PASSWORD", c.Redis.Password)
	c.Redis.Key = getEnv("REDIS_KEY", c.Redis.Key)
	c.Postgres.DSN = getEnv("DATABASE_URL", c.Postgres.DSN)
	c.Postgres.Table = getEnv("FORMLOG_PG_TABLE", c.Postgres.Table)
	c.NATS.URL = getEnv("NATS_URL", c.NATS.URL)
	c.NATS.Subject = getEnv("NATS_SUBJECT", c.NATS.Subject)
	c.StreamEnabled = getBoolEnv("FORMLOG_STREAM_ENABLED", c.StreamEnabled)
	c.ShutdownTimeout = getDurationEnv("SHUTDOWN_TIMEOUT", c.ShutdownTimeout)
	c.LogLevel = getEnv("LOG_LEVEL", c.LogLevel)
	if format := os.Getenv("LOG_FORMAT"); format != "" {
		c.LogJSON = strings.EqualFold(format, "json")
	}
}

// Validate checks that configuration values are usable.
func (c *Config) Validate() error {
	if !strings.HasPrefix(c.HandlerPath, "/") {
		return fmt.Errorf("handler path must start with /: %q", c.HandlerPath)
	}
	if c.Port <= 0 || c.Port > 65535 {
		return fmt.Errorf("port out of range: %d", c.Port)
	}
	switch c.Encoding {
	case EncodingRaw, EncodingRFC4180:
	default:
		return fmt.Errorf("%w: %q", ErrInvalidEncoding, c.Encoding)
	}
	if len(c.Sinks) == 0 {
		return fmt.Errorf("at least one sink is required")
	}
	for _, name := range c.Sinks {
		switch name {
		case SinkFile:
			if c.LogPath == "" {
				return fmt.Errorf("log path is required for the file sink")
			}
		case SinkRedis:
			if c.Redis.Key == "" {
				return fmt.Errorf("REDIS_KEY is required for the redis sink")
			}
		case SinkPostgres:
			if c.Postgres.Table == "" {
				return fmt.Errorf("FORMLOG_PG_TABLE is required for the postgres sink")
			}
		case SinkNATS:
			if c.NATS.Subject == "" {
				return fmt.Errorf("NATS_SUBJECT is required for the nats sink")
			}
		default:
			return fmt.Errorf("%w: %q", ErrUnknownSink, name)
		}
	}
	return nil
}

// Addr returns the host:port the HTTP server listens on.
func (c *Config) Addr() string {
	return fmt.Sprintf("%s:%d", c.Host, c.Port)
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getIntEnv(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if i, err := strconv.Atoi(value); err == nil {
			return i
		}
	}
	return defaultValue
}

func getBoolEnv(key string, defaultValue bool) bool {
	if value := os.Getenv(key); value != "" {
		if b, err := strconv.ParseBool(value); err == nil {
			return b
		}
	}
	return defaultValue
}

func getDurationEnv(key string, defaultValue time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if d, err := time.ParseDuration(value); err == nil {
			return d
		}
	}
	return defaultValue
}

func getListEnv(key string, defaultValue []string) []string {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue
	}
	var out []string
	for _, part := range strings.Split(value, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}
