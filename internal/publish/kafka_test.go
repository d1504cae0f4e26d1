package publish

import (
	"context"
	"testing"
	"time"

	"github.com/goccy/go-json"
)

func TestConfigValidate(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(*Config)
		wantErr bool
	}{
		{"valid defaults", func(c *Config) {}, false},
		{"no brokers", func(c *Config) { c.Brokers = nil }, true},
		{"no topic", func(c *Config) { c.Topic = "" }, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := DefaultConfig()
			tt.mutate(&cfg)
			err := cfg.Validate()
			if (err != nil) != tt.wantErr {
				t.Errorf("Validate() error = %v, wantErr %v", err, tt.wantErr)
			}
		})
	}
}

func TestNotificationEnvelope(t *testing.T) {
	n := Notification{
		Kind:      KindThreat,
		Timestamp: time.Date(2026, 3, 3, 12, 0, 0, 0, time.UTC),
		Payload:   map[string]string{"id": "t-1", "severity": "high"},
	}
	data, err := json.Marshal(n)
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}

	var decoded struct {
		Kind    Kind              `json:"kind"`
		Payload map[string]string `json:"payload"`
	}
	if err := json.Unmarshal(data, &decoded); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if decoded.Kind != KindThreat {
		t.Errorf("kind = %q, want threat", decoded.Kind)
	}
	if decoded.Payload["severity"] != "high" {
		t.Errorf("payload severity = %q, want high", decoded.Payload["severity"])
	}
}

func TestPublishAfterCloseRejected(t *testing.T) {
	p, err := NewPublisher(DefaultConfig(), nil)
	if err != nil {
		t.Fatalf("new publisher: %v", err)
	}
	if err := p.Close(); err != nil {
		t.Fatalf("close: %v", err)
	}
	// Idempotent close.
	if err := p.Close(); err != nil {
		t.Fatalf("second close: %v", err)
	}

	err = p.Publish(context.Background(), KindThreat, "key", map[string]string{"id": "t-1"})
	if err != ErrPublisherClosed {
		t.Errorf("publish after close = %v, want ErrPublisherClosed", err)
	}
}
