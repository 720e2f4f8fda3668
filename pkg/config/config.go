// Package config loads and validates application configuration from YAML files
// with environment-variable overrides. It provides typed structs for every
// subsystem (Database, API, Ingest, Logging, Metrics, Redis, Kafka).
//
// A Config is built once at process start and then treated as read-only; core
// packages receive the sections they need and never consult the environment.
package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Supported database drivers.
const (
	DriverPostgres = "postgres"
	DriverSQLite   = "sqlite3"
)

// Config is the top-level application configuration.
type Config struct {
	Database DatabaseConfig `yaml:"database"`
	API      APIConfig      `yaml:"api"`
	Ingest   IngestConfig   `yaml:"ingest"`
	Logging  LoggingConfig  `yaml:"logging"`
	Metrics  MetricsConfig  `yaml:"metrics"`
	Redis    RedisConfig    `yaml:"redis"`
	Kafka    KafkaConfig    `yaml:"kafka"`
}

// DatabaseConfig holds relational store connection parameters. URL is a
// lib/pq connection string for postgres or a file path (or ":memory:") for
// sqlite3.
type DatabaseConfig struct {
	Driver          string        `yaml:"driver"`
	URL             string        `yaml:"url"`
	MaxOpenConns    int           `yaml:"maxOpenConns"`
	MaxIdleConns    int           `yaml:"maxIdleConns"`
	ConnMaxLifetime time.Duration `yaml:"connMaxLifetime"`
}

// APIConfig holds the Clearinghouse API endpoint, credentials and retry
// policy.
type APIConfig struct {
	BaseURL     string        `yaml:"baseUrl"`
	Token       string        `yaml:"token"`
	UserAgent   string        `yaml:"userAgent"`
	Timeout     time.Duration `yaml:"timeout"`
	MaxRetries  int           `yaml:"maxRetries"`
	BackoffBase time.Duration `yaml:"backoffBase"`
	MaxBackoff  time.Duration `yaml:"maxBackoff"`
}

// IngestConfig holds the default toggles for ingestion runs. CLI flags may
// override each of them for a single invocation.
type IngestConfig struct {
	FixturePath          string `yaml:"fixturePath"`
	MockCheckpointKey    string `yaml:"mockCheckpointKey"`
	LiveCheckpointKey    string `yaml:"liveCheckpointKey"`
	ResumeFromCheckpoint bool   `yaml:"resumeFromCheckpoint"`
	ArchiveRawPayloads   bool   `yaml:"archiveRawPayloads"`
	ContinueOnError      bool   `yaml:"continueOnError"`
	Summarize            bool   `yaml:"summarize"`
	MaxSummarySentences  int    `yaml:"maxSummarySentences"`
}

// LoggingConfig controls structured logging level and output format.
type LoggingConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
}

// MetricsConfig controls the Prometheus metrics server.
type MetricsConfig struct {
	Enabled bool `yaml:"enabled"`
	Port    int  `yaml:"port"`
}

// RedisConfig holds the connection parameters of the optional payload hash
// cache.
type RedisConfig struct {
	Enabled   bool          `yaml:"enabled"`
	Addr      string        `yaml:"addr"`
	Password  string        `yaml:"password"`
	DB        int           `yaml:"db"`
	PoolSize  int           `yaml:"poolSize"`
	KeyPrefix string        `yaml:"keyPrefix"`
	HashTTL   time.Duration `yaml:"hashTTL"`
}

// KafkaConfig holds broker and topic settings for case-ingested events.
type KafkaConfig struct {
	Enabled bool     `yaml:"enabled"`
	Brokers []string `yaml:"brokers"`
	Topic   string   `yaml:"topic"`
}

// Load reads a YAML config file (if provided) and applies environment-variable
// overrides. It returns a Config populated with sensible defaults for any
// missing values.
func Load(path string) (*Config, error) {
	cfg := defaultConfig()
	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("reading config file %s: %w", path, err)
		}
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("parsing config file %s: %w", path, err)
		}
	}
	if err := applyEnvOverrides(cfg); err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate reports the first setting that cannot drive a run.
func (c *Config) Validate() error {
	switch c.Database.Driver {
	case DriverPostgres, DriverSQLite:
	default:
		return fmt.Errorf("unsupported database driver %q", c.Database.Driver)
	}
	if c.Database.URL == "" {
		return fmt.Errorf("database url is required")
	}
	if c.API.MaxRetries < 0 {
		return fmt.Errorf("api maxRetries must not be negative, got %d", c.API.MaxRetries)
	}
	if c.API.BackoffBase <= 0 || c.API.MaxBackoff <= 0 {
		return fmt.Errorf("api backoffBase and maxBackoff must be positive")
	}
	if c.API.BackoffBase > c.API.MaxBackoff {
		return fmt.Errorf("api backoffBase %v exceeds maxBackoff %v", c.API.BackoffBase, c.API.MaxBackoff)
	}
	return nil
}

// Default returns the built-in configuration without consulting files or the
// environment.
func Default() *Config {
	return defaultConfig()
}

// defaultConfig returns a Config with defaults suitable for local
// development against the bundled fixture.
func defaultConfig() *Config {
	return &Config{
		Database: DatabaseConfig{
			Driver:          DriverSQLite,
			URL:             "data/dev.db",
			MaxOpenConns:    10,
			MaxIdleConns:    2,
			ConnMaxLifetime: 5 * time.Minute,
		},
		API: APIConfig{
			BaseURL:     "https://clearinghouse.net/api/v2p1",
			UserAgent:   "CivilRightsSummarizedAI/0.1",
			Timeout:     30 * time.Second,
			MaxRetries:  4,
			BackoffBase: 500 * time.Millisecond,
			MaxBackoff:  8 * time.Second,
		},
		Ingest: IngestConfig{
			FixturePath:          "data/fixtures/mock_dataset.json",
			MockCheckpointKey:    "mock-default",
			LiveCheckpointKey:    "live-default",
			ResumeFromCheckpoint: true,
			ArchiveRawPayloads:   true,
			ContinueOnError:      true,
			Summarize:            true,
			MaxSummarySentences:  4,
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "json",
		},
		Metrics: MetricsConfig{
			Enabled: false,
			Port:    9090,
		},
		Redis: RedisConfig{
			Enabled:   false,
			Addr:      "localhost:6379",
			PoolSize:  10,
			KeyPrefix: "clearinghouse:payload:",
			HashTTL:   7 * 24 * time.Hour,
		},
		Kafka: KafkaConfig{
			Enabled: false,
			Brokers: []string{"localhost:9092"},
			Topic:   "clearinghouse.case-ingested",
		},
	}
}

// applyEnvOverrides reads CLEARINGHOUSE_* environment variables and overrides
// the corresponding config fields. Malformed numeric, boolean or duration
// values are reported rather than silently ignored.
func applyEnvOverrides(cfg *Config) error {
	str := func(name string, dst *string) {
		if v := os.Getenv(name); v != "" {
			*dst = v
		}
	}
	var firstErr error
	fail := func(name, v string, err error) {
		if firstErr == nil {
			firstErr = fmt.Errorf("invalid value %q for %s: %w", v, name, err)
		}
	}
	integer := func(name string, dst *int) {
		if v := os.Getenv(name); v != "" {
			n, err := strconv.Atoi(v)
			if err != nil {
				fail(name, v, err)
				return
			}
			*dst = n
		}
	}
	boolean := func(name string, dst *bool) {
		if v := os.Getenv(name); v != "" {
			b, err := strconv.ParseBool(v)
			if err != nil {
				fail(name, v, err)
				return
			}
			*dst = b
		}
	}
	duration := func(name string, dst *time.Duration) {
		if v := os.Getenv(name); v != "" {
			d, err := parseDuration(v)
			if err != nil {
				fail(name, v, err)
				return
			}
			*dst = d
		}
	}

	str("CLEARINGHOUSE_DATABASE_DRIVER", &cfg.Database.Driver)
	str("CLEARINGHOUSE_DATABASE_URL", &cfg.Database.URL)

	str("CLEARINGHOUSE_API_BASE_URL", &cfg.API.BaseURL)
	str("CLEARINGHOUSE_API_TOKEN", &cfg.API.Token)
	str("CLEARINGHOUSE_USER_AGENT", &cfg.API.UserAgent)
	duration("CLEARINGHOUSE_API_TIMEOUT", &cfg.API.Timeout)
	integer("CLEARINGHOUSE_API_MAX_RETRIES", &cfg.API.MaxRetries)
	duration("CLEARINGHOUSE_API_BACKOFF_BASE", &cfg.API.BackoffBase)
	duration("CLEARINGHOUSE_API_MAX_BACKOFF", &cfg.API.MaxBackoff)

	str("CLEARINGHOUSE_FIXTURE_PATH", &cfg.Ingest.FixturePath)
	str("CLEARINGHOUSE_LIVE_CHECKPOINT_KEY", &cfg.Ingest.LiveCheckpointKey)
	boolean("CLEARINGHOUSE_LIVE_RESUME_FROM_CHECKPOINT", &cfg.Ingest.ResumeFromCheckpoint)
	boolean("CLEARINGHOUSE_ARCHIVE_RAW_PAYLOADS", &cfg.Ingest.ArchiveRawPayloads)
	boolean("CLEARINGHOUSE_CONTINUE_ON_ERROR", &cfg.Ingest.ContinueOnError)
	boolean("CLEARINGHOUSE_SUMMARIZE", &cfg.Ingest.Summarize)

	str("CLEARINGHOUSE_LOG_LEVEL", &cfg.Logging.Level)
	str("CLEARINGHOUSE_LOG_FORMAT", &cfg.Logging.Format)

	boolean("CLEARINGHOUSE_METRICS_ENABLED", &cfg.Metrics.Enabled)
	integer("CLEARINGHOUSE_METRICS_PORT", &cfg.Metrics.Port)

	boolean("CLEARINGHOUSE_REDIS_ENABLED", &cfg.Redis.Enabled)
	str("CLEARINGHOUSE_REDIS_ADDR", &cfg.Redis.Addr)
	str("CLEARINGHOUSE_REDIS_PASSWORD", &cfg.Redis.Password)

	boolean("CLEARINGHOUSE_KAFKA_ENABLED", &cfg.Kafka.Enabled)
	if v := os.Getenv("CLEARINGHOUSE_KAFKA_BROKERS"); v != "" {
		cfg.Kafka.Brokers = strings.Split(v, ",")
	}
	str("CLEARINGHOUSE_KAFKA_TOPIC", &cfg.Kafka.Topic)

	cfg.Logging.Level = strings.ToLower(cfg.Logging.Level)
	return firstErr
}

// parseDuration accepts Go duration strings ("750ms") and bare seconds
// ("0.5").
func parseDuration(v string) (time.Duration, error) {
	if d, err := time.ParseDuration(v); err == nil {
		return d, nil
	}
	secs, err := strconv.ParseFloat(v, 64)
	if err != nil {
		return 0, fmt.Errorf("not a duration")
	}
	return time.Duration(secs * float64(time.Second)), nil
}
