package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestDefaultConfig(t *testing.T) {
	cfg := DefaultConfig()

	if cfg.Engine.ThreatBufferSize != 1000 {
		t.Errorf("ThreatBufferSize = %d, want 1000", cfg.Engine.ThreatBufferSize)
	}
	if cfg.Engine.Shards != 16 {
		t.Errorf("Shards = %d, want 16", cfg.Engine.Shards)
	}
	if cfg.Baseline.ConfidenceSamples != 20 {
		t.Errorf("ConfidenceSamples = %d, want 20", cfg.Baseline.ConfidenceSamples)
	}
	if cfg.Anomaly.MinConfidence != 0.7 {
		t.Errorf("MinConfidence = %v, want 0.7", cfg.Anomaly.MinConfidence)
	}
	if cfg.Correlation.Window != time.Hour {
		t.Errorf("Window = %v, want 1h", cfg.Correlation.Window)
	}
	if cfg.Redis.Enabled || cfg.Kafka.Enabled || cfg.ClickHouse.Enabled || cfg.S3.Enabled {
		t.Error("optional integrations should default to disabled")
	}
	if err := cfg.Validate(); err != nil {
		t.Fatalf("default config invalid: %v", err)
	}
}

func TestLoadMissingFileReturnsDefaults(t *testing.T) {
	cfg, err := Load(filepath.Join(t.TempDir(), "nope.yaml"))
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Engine.ThreatBufferSize != 1000 {
		t.Errorf("expected defaults, got buffer size %d", cfg.Engine.ThreatBufferSize)
	}
}

func TestLoadFromFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	content := `
engine:
  threat_buffer_size: 500
  shards: 4
correlation:
  window: 30m
  category_windows:
    payment: 2h
kafka:
  enabled: true
  brokers: ["kafka-1:9092", "kafka-2:9092"]
  topic: security.alerts
logging:
  level: debug
`
	if err := os.WriteFile(path, []byte(content), 0o600); err != nil {
		t.Fatal(err)
	}

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}

	if cfg.Engine.ThreatBufferSize != 500 || cfg.Engine.Shards != 4 {
		t.Errorf("engine = %+v", cfg.Engine)
	}
	if cfg.Correlation.Window != 30*time.Minute {
		t.Errorf("correlation window = %v", cfg.Correlation.Window)
	}
	if cfg.Correlation.CategoryWindows["payment"] != 2*time.Hour {
		t.Errorf("payment window = %v", cfg.Correlation.CategoryWindows["payment"])
	}
	if !cfg.Kafka.Enabled || cfg.Kafka.Topic != "security.alerts" || len(cfg.Kafka.Brokers) != 2 {
		t.Errorf("kafka = %+v", cfg.Kafka)
	}
	if cfg.Logging.Level != "debug" {
		t.Errorf("log level = %q", cfg.Logging.Level)
	}

	// Untouched sections keep their defaults.
	if cfg.Baseline.ConfidenceSamples != 20 {
		t.Errorf("baseline defaults lost: %+v", cfg.Baseline)
	}
}

func TestLoadRejectsInvalidYAML(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	if err := os.WriteFile(path, []byte("engine: ["), 0o600); err != nil {
		t.Fatal(err)
	}
	if _, err := Load(path); err == nil {
		t.Fatal("expected parse error")
	}
}

func TestValidateRejectsBadValues(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*Config)
	}{
		{"zero buffer", func(c *Config) { c.Engine.ThreatBufferSize = 0 }},
		{"zero shards", func(c *Config) { c.Engine.Shards = 0 }},
		{"bad port", func(c *Config) { c.Engine.MetricsPort = 70000 }},
		{"kafka no brokers", func(c *Config) { c.Kafka.Enabled = true; c.Kafka.Brokers = nil }},
		{"s3 no bucket", func(c *Config) { c.S3.Enabled = true; c.S3.Bucket = "" }},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := DefaultConfig()
			tt.mutate(cfg)
			if err := cfg.Validate(); err == nil {
				t.Fatal("expected validation error")
			}
		})
	}
}

func TestEnvOverrides(t *testing.T) {
	t.Setenv("SENTINEL_LOG_LEVEL", "warn")
	t.Setenv("SENTINEL_KAFKA_BROKERS", "a:9092, b:9092")
	t.Setenv("SENTINEL_REDIS_ADDR", "redis-prod:6379")

	cfg, err := Load(filepath.Join(t.TempDir(), "nope.yaml"))
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Logging.Level != "warn" {
		t.Errorf("log level = %q", cfg.Logging.Level)
	}
	if !cfg.Kafka.Enabled || len(cfg.Kafka.Brokers) != 2 || cfg.Kafka.Brokers[1] != "b:9092" {
		t.Errorf("kafka = %+v", cfg.Kafka)
	}
	if !cfg.Redis.Enabled || cfg.Redis.Addr != "redis-prod:6379" {
		t.Errorf("redis = %+v", cfg.Redis)
	}
}
