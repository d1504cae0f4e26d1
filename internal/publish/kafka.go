// Package publish delivers engine notifications (threats, incidents,
// executed actions) to downstream consumers over Kafka.
package publish

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync/atomic"
	"time"

	"github.com/goccy/go-json"
	"github.com/segmentio/kafka-go"
)

// ErrPublisherClosed is returned after Close.
var ErrPublisherClosed = errors.New("publisher is closed")

// Kind labels the notification payload type.
type Kind string

const (
	KindThreat   Kind = "threat"
	KindIncident Kind = "incident"
	KindAction   Kind = "action"
)

// Notification is the wire envelope for engine output.
type Notification struct {
	Kind      Kind      `json:"kind"`
	Timestamp time.Time `json:"timestamp"`
	Payload   any       `json:"payload"`
}

// Config configures the Kafka publisher.
type Config struct {
	Brokers      []string      `yaml:"brokers"`
	Topic        string        `yaml:"topic"`
	BatchSize    int           `yaml:"batch_size"`
	BatchTimeout time.Duration `yaml:"batch_timeout"`
	WriteTimeout time.Duration `yaml:"write_timeout"`
	MaxRetries   int           `yaml:"max_retries"`
}

// DefaultConfig returns defaults for a local broker.
func DefaultConfig() Config {
	return Config{
		Brokers:      []string{"localhost:9092"},
		Topic:        "sentinel.notifications",
		BatchSize:    100,
		BatchTimeout: 100 * time.Millisecond,
		WriteTimeout: 10 * time.Second,
		MaxRetries:   3,
	}
}

// Validate checks the publisher configuration.
func (c *Config) Validate() error {
	if len(c.Brokers) == 0 {
		return errors.New("kafka: at least one broker is required")
	}
	if c.Topic == "" {
		return errors.New("kafka: topic is required")
	}
	return nil
}

// Publisher sends notifications to Kafka. Delivery is best effort: a failed
// publish is logged and counted, never surfaced to the detection path.
type Publisher struct {
	writer *kafka.Writer
	logger *slog.Logger
	closed atomic.Bool

	published atomic.Int64
	failed    atomic.Int64
}

// NewPublisher creates a publisher for the configured topic.
func NewPublisher(cfg Config, logger *slog.Logger) (*Publisher, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if logger == nil {
		logger = slog.Default()
	}

	writer := &kafka.Writer{
		Addr:         kafka.TCP(cfg.Brokers...),
		Topic:        cfg.Topic,
		Balancer:     &kafka.LeastBytes{},
		BatchSize:    cfg.BatchSize,
		BatchTimeout: cfg.BatchTimeout,
		WriteTimeout: cfg.WriteTimeout,
		MaxAttempts:  cfg.MaxRetries,
		RequiredAcks: kafka.RequireOne,
		ErrorLogger: kafka.LoggerFunc(func(msg string, args ...interface{}) {
			logger.Error(fmt.Sprintf(msg, args...), "component", "kafka-writer")
		}),
	}

	logger.Info("kafka publisher initialized",
		"brokers", cfg.Brokers,
		"topic", cfg.Topic)

	return &Publisher{writer: writer, logger: logger}, nil
}

// Publish sends one notification keyed by the given routing key.
func (p *Publisher) Publish(ctx context.Context, kind Kind, key string, payload any) error {
	if p.closed.Load() {
		return ErrPublisherClosed
	}

	data, err := json.Marshal(Notification{
		Kind:      kind,
		Timestamp: time.Now().UTC(),
		Payload:   payload,
	})
	if err != nil {
		return fmt.Errorf("publish: marshal %s notification: %w", kind, err)
	}

	err = p.writer.WriteMessages(ctx, kafka.Message{
		Key:   []byte(key),
		Value: data,
		Time:  time.Now(),
	})
	if err != nil {
		p.failed.Add(1)
		p.logger.Error("notification publish failed",
			"kind", kind,
			"key", key,
			"error", err)
		return fmt.Errorf("publish: write %s notification: %w", kind, err)
	}

	p.published.Add(1)
	return nil
}

// Stats returns lifetime publish and failure counts.
func (p *Publisher) Stats() (published, failed int64) {
	return p.published.Load(), p.failed.Load()
}

// Close flushes and shuts down the writer.
func (p *Publisher) Close() error {
	if !p.closed.CompareAndSwap(false, true) {
		return nil
	}
	return p.writer.Close()
}
