// Package config handles configuration loading for hub-sentinel.
package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"hub-sentinel/internal/anomaly"
	"hub-sentinel/internal/baseline"
	"hub-sentinel/internal/evaluator"
	"hub-sentinel/internal/incident"
	"hub-sentinel/internal/publish"
	"hub-sentinel/internal/response"
	"hub-sentinel/internal/schema"
	"hub-sentinel/internal/storage"
	s3archive "hub-sentinel/internal/storage/s3"
)

// Config holds the complete application configuration.
type Config struct {
	Engine      EngineConfig           `yaml:"engine"`
	Validation  schema.ValidatorConfig `yaml:"validation"`
	Baseline    baseline.Config        `yaml:"baseline"`
	Anomaly     anomaly.Config         `yaml:"anomaly"`
	Evaluator   evaluator.Config       `yaml:"evaluator"`
	Correlation incident.Config        `yaml:"correlation"`
	Response    response.Config        `yaml:"response"`
	Redis       RedisConfig            `yaml:"redis"`
	Kafka       KafkaConfig            `yaml:"kafka"`
	ClickHouse  ClickHouseConfig       `yaml:"clickhouse"`
	S3          S3Config               `yaml:"s3"`
	Scheduler   SchedulerConfig        `yaml:"scheduler"`
	Logging     LoggingConfig          `yaml:"logging"`
}

// EngineConfig holds engine sizing settings.
type EngineConfig struct {
	// ThreatBufferSize is the ring buffer capacity for recent threats.
	ThreatBufferSize int `yaml:"threat_buffer_size"`
	// Shards is the number of per-entity pipeline shards.
	Shards int `yaml:"shards"`
	// MetricsPort serves Prometheus metrics when positive.
	MetricsPort int `yaml:"metrics_port"`
}

// RedisConfig enables the Redis-backed blocklist.
type RedisConfig struct {
	Enabled              bool `yaml:"enabled"`
	response.RedisConfig `yaml:",inline"`
}

// KafkaConfig enables the notification publisher.
type KafkaConfig struct {
	Enabled        bool `yaml:"enabled"`
	publish.Config `yaml:",inline"`
}

// ClickHouseConfig enables the threat archive.
type ClickHouseConfig struct {
	Enabled bool                     `yaml:"enabled"`
	Client  storage.ClickHouseConfig `yaml:"client"`
	Archive storage.ArchiveConfig    `yaml:"archive"`
}

// S3Config enables the resolved-incident archive.
type S3Config struct {
	Enabled          bool `yaml:"enabled"`
	s3archive.Config `yaml:",inline"`
}

// SchedulerConfig holds background task intervals.
type SchedulerConfig struct {
	BaselineDecayInterval time.Duration `yaml:"baseline_decay_interval"`
	MetricsPruneInterval  time.Duration `yaml:"metrics_prune_interval"`
}

// LoggingConfig holds logging settings.
type LoggingConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
}

// DefaultConfig returns the default configuration.
func DefaultConfig() *Config {
	return &Config{
		Engine: EngineConfig{
			ThreatBufferSize: 1000,
			Shards:           16,
			MetricsPort:      9102,
		},
		Validation:  schema.DefaultValidatorConfig(),
		Baseline:    baseline.DefaultConfig(),
		Anomaly:     anomaly.DefaultConfig(),
		Evaluator:   evaluator.DefaultConfig(),
		Correlation: incident.DefaultConfig(),
		Response:    response.DefaultConfig(),
		Redis: RedisConfig{
			RedisConfig: response.DefaultRedisConfig(),
		},
		Kafka: KafkaConfig{
			Config: publish.DefaultConfig(),
		},
		ClickHouse: ClickHouseConfig{
			Client:  storage.DefaultClickHouseConfig(),
			Archive: storage.DefaultArchiveConfig(),
		},
		S3: S3Config{
			Config: *s3archive.DefaultConfig(),
		},
		Scheduler: SchedulerConfig{
			BaselineDecayInterval: time.Hour,
			MetricsPruneInterval:  10 * time.Minute,
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "json",
		},
	}
}

// Load loads configuration from the given file, falling back to
// SENTINEL_CONFIG_PATH and then the default location. A missing file
// yields defaults.
func Load(path string) (*Config, error) {
	cfg := DefaultConfig()

	if path == "" {
		path = os.Getenv("SENTINEL_CONFIG_PATH")
	}
	if path == "" {
		path = "configs/config.yaml"
	}

	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			cfg.applyEnvOverrides()
			return cfg, nil
		}
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config file: %w", err)
	}

	cfg.applyEnvOverrides()

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// applyEnvOverrides applies environment variable overrides.
func (c *Config) applyEnvOverrides() {
	if level := os.Getenv("SENTINEL_LOG_LEVEL"); level != "" {
		c.Logging.Level = level
	}
	if port := os.Getenv("SENTINEL_METRICS_PORT"); port != "" {
		if p, err := strconv.Atoi(port); err == nil {
			c.Engine.MetricsPort = p
		}
	}
	if addr := os.Getenv("SENTINEL_REDIS_ADDR"); addr != "" {
		c.Redis.Enabled = true
		c.Redis.Addr = addr
	}
	if pass := os.Getenv("SENTINEL_REDIS_PASSWORD"); pass != "" {
		c.Redis.Password = pass
	}
	if brokers := os.Getenv("SENTINEL_KAFKA_BROKERS"); brokers != "" {
		c.Kafka.Enabled = true
		c.Kafka.Brokers = splitAndTrim(brokers)
	}
	if host := os.Getenv("CLICKHOUSE_HOST"); host != "" {
		c.ClickHouse.Enabled = true
		c.ClickHouse.Client.Hosts = []string{host}
	}
	if pass := os.Getenv("CLICKHOUSE_PASSWORD"); pass != "" {
		c.ClickHouse.Client.Password = pass
	}
	if bucket := os.Getenv("SENTINEL_S3_BUCKET"); bucket != "" {
		c.S3.Enabled = true
		c.S3.Bucket = bucket
	}
}

func splitAndTrim(s string) []string {
	var out []string
	for _, part := range strings.Split(s, ",") {
		if p := strings.TrimSpace(part); p != "" {
			out = append(out, p)
		}
	}
	return out
}

// Validate validates the configuration.
func (c *Config) Validate() error {
	if c.Engine.ThreatBufferSize <= 0 {
		return fmt.Errorf("threat_buffer_size must be positive")
	}
	if c.Engine.Shards <= 0 {
		return fmt.Errorf("shards must be positive")
	}
	if c.Engine.MetricsPort < 0 || c.Engine.MetricsPort > 65535 {
		return fmt.Errorf("invalid metrics_port: %d", c.Engine.MetricsPort)
	}
	if c.Kafka.Enabled {
		if err := c.Kafka.Config.Validate(); err != nil {
			return err
		}
	}
	if c.S3.Enabled {
		if err := c.S3.Config.Validate(); err != nil {
			return err
		}
	}
	return nil
}
