// Package storage archives detected threats to ClickHouse and resolved
// incidents to S3. The archive is write-behind: detection never waits on
// storage.
package storage

import (
	"context"
	"crypto/tls"
	"fmt"
	"time"

	"github.com/ClickHouse/clickhouse-go/v2"
	"github.com/ClickHouse/clickhouse-go/v2/lib/driver"

	"hub-sentinel/internal/threat"
)

// ClickHouseConfig holds the configuration for the ClickHouse connection.
type ClickHouseConfig struct {
	Hosts           []string      `yaml:"hosts"`
	Database        string        `yaml:"database"`
	Username        string        `yaml:"username"`
	Password        string        `yaml:"password"`
	MaxOpenConns    int           `yaml:"max_open_conns"`
	MaxIdleConns    int           `yaml:"max_idle_conns"`
	ConnMaxLifetime time.Duration `yaml:"conn_max_lifetime"`
	TLSEnabled      bool          `yaml:"tls_enabled"`
	DialTimeout     time.Duration `yaml:"dial_timeout"`
}

// DefaultClickHouseConfig returns the default ClickHouse configuration.
func DefaultClickHouseConfig() ClickHouseConfig {
	return ClickHouseConfig{
		Hosts:           []string{"localhost:9000"},
		Database:        "sentinel",
		Username:        "default",
		MaxOpenConns:    10,
		MaxIdleConns:    5,
		ConnMaxLifetime: time.Hour,
		DialTimeout:     10 * time.Second,
	}
}

// ClickHouseClient wraps the ClickHouse connection used by the threat
// archive.
type ClickHouseClient struct {
	conn   driver.Conn
	config ClickHouseConfig
}

// NewClickHouseClient connects and verifies the connection.
func NewClickHouseClient(cfg ClickHouseConfig) (*ClickHouseClient, error) {
	opts := &clickhouse.Options{
		Addr: cfg.Hosts,
		Auth: clickhouse.Auth{
			Database: cfg.Database,
			Username: cfg.Username,
			Password: cfg.Password,
		},
		Settings: clickhouse.Settings{
			"max_execution_time": 60,
		},
		Compression: &clickhouse.Compression{
			Method: clickhouse.CompressionZSTD,
		},
		DialTimeout:     cfg.DialTimeout,
		MaxOpenConns:    cfg.MaxOpenConns,
		MaxIdleConns:    cfg.MaxIdleConns,
		ConnMaxLifetime: cfg.ConnMaxLifetime,
	}
	if cfg.TLSEnabled {
		opts.TLS = &tls.Config{}
	}

	conn, err := clickhouse.Open(opts)
	if err != nil {
		return nil, fmt.Errorf("clickhouse: open: %w", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := conn.Ping(ctx); err != nil {
		return nil, fmt.Errorf("clickhouse: ping: %w", err)
	}

	return &ClickHouseClient{conn: conn, config: cfg}, nil
}

// Ping checks that the connection is alive.
func (c *ClickHouseClient) Ping(ctx context.Context) error {
	return c.conn.Ping(ctx)
}

// Close closes the connection.
func (c *ClickHouseClient) Close() error {
	return c.conn.Close()
}

const threatsDDL = `
CREATE TABLE IF NOT EXISTS threats (
    id          String,
    category    LowCardinality(String),
    severity    LowCardinality(String),
    method      LowCardinality(String),
    rule_id     String,
    user_id     String,
    device_id   String,
    source_ip   String,
    risk_score  UInt8,
    confidence  Float64,
    status      LowCardinality(String),
    event_time  DateTime64(3),
    detected_at DateTime64(3)
)
ENGINE = MergeTree()
PARTITION BY toYYYYMMDD(detected_at)
ORDER BY (category, severity, detected_at)
TTL toDateTime(detected_at) + INTERVAL 90 DAY`

// EnsureSchema creates the threat table when missing.
func (c *ClickHouseClient) EnsureSchema(ctx context.Context) error {
	if err := c.conn.Exec(ctx, fmt.Sprintf("CREATE DATABASE IF NOT EXISTS %s", c.config.Database)); err != nil {
		return fmt.Errorf("clickhouse: create database: %w", err)
	}
	if err := c.conn.Exec(ctx, threatsDDL); err != nil {
		return fmt.Errorf("clickhouse: create threats table: %w", err)
	}
	return nil
}

// InsertThreats writes one batch of threats.
func (c *ClickHouseClient) InsertThreats(ctx context.Context, threats []*threat.Event) error {
	batch, err := c.conn.PrepareBatch(ctx, "INSERT INTO threats")
	if err != nil {
		return fmt.Errorf("clickhouse: prepare batch: %w", err)
	}

	for _, t := range threats {
		err := batch.Append(
			t.ID,
			string(t.Category),
			string(t.Severity),
			string(t.Method),
			t.RuleID,
			t.UserID,
			t.DeviceID,
			t.SourceIP,
			uint8(t.RiskScore),
			t.Confidence,
			string(t.Status),
			t.EventTime,
			t.DetectedAt,
		)
		if err != nil {
			return fmt.Errorf("clickhouse: append threat %s: %w", t.ID, err)
		}
	}

	if err := batch.Send(); err != nil {
		return fmt.Errorf("clickhouse: send batch: %w", err)
	}
	return nil
}
