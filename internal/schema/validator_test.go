package schema

import (
	"testing"
	"time"

	"github.com/google/uuid"
)

func TestValidateEventType(t *testing.T) {
	tests := []struct {
		name      string
		eventType string
		want      bool
	}{
		{"simple type", "login", true},
		{"with underscore", "login_failed", true},
		{"dotted type", "data.export", true},
		{"with numbers", "auth2.login", true},
		{"uppercase invalid", "Login_Failed", false},
		{"space invalid", "login failed", false},
		{"starts with number", "2login", false},
		{"hyphen invalid", "login-failed", false},
		{"empty string", "", false},
		{"trailing dot", "login.", false},
		{"double dot", "data..export", false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := ValidateEventType(tt.eventType); got != tt.want {
				t.Errorf("ValidateEventType(%q) = %v, want %v", tt.eventType, got, tt.want)
			}
		})
	}
}

func TestValidator_Validate(t *testing.T) {
	v := NewValidator()
	now := time.Now().UTC()

	validEvent := func() *SecurityEvent {
		return &SecurityEvent{
			EventID:   uuid.New(),
			Type:      "login_failed",
			Timestamp: now,
			UserID:    "u1",
			SourceIP:  "192.0.2.10",
			Payload:   AuthPayload{Success: false, FailureReason: "bad_password"},
		}
	}

	t.Run("valid event", func(t *testing.T) {
		if err := v.Validate(validEvent()); err != nil {
			t.Errorf("expected valid event, got error: %v", err)
		}
	})

	t.Run("missing type", func(t *testing.T) {
		ev := validEvent()
		ev.Type = ""
		if err := v.Validate(ev); err == nil {
			t.Error("expected error for missing type")
		}
	})

	t.Run("bad type format", func(t *testing.T) {
		ev := validEvent()
		ev.Type = "Login-Failed"
		if err := v.Validate(ev); err == nil {
			t.Error("expected error for malformed type")
		}
	})

	t.Run("bad source ip", func(t *testing.T) {
		ev := validEvent()
		ev.SourceIP = "not-an-ip"
		if err := v.Validate(ev); err == nil {
			t.Error("expected error for invalid IP")
		}
	})

	t.Run("timestamp too old", func(t *testing.T) {
		ev := validEvent()
		ev.Timestamp = now.Add(-48 * time.Hour)
		if err := v.Validate(ev); err == nil {
			t.Error("expected error for stale timestamp")
		}
	})

	t.Run("timestamp in future", func(t *testing.T) {
		ev := validEvent()
		ev.Timestamp = now.Add(1 * time.Hour)
		if err := v.Validate(ev); err == nil {
			t.Error("expected error for future timestamp")
		}
	})

	t.Run("payload kind mismatch", func(t *testing.T) {
		ev := validEvent()
		ev.Payload = PaymentPayload{Amount: 100}
		if err := v.Validate(ev); err == nil {
			t.Error("expected error for payload kind mismatch")
		}
	})

	t.Run("unknown type accepts any payload", func(t *testing.T) {
		ev := validEvent()
		ev.Type = "custom.audit"
		ev.Payload = DataAccessPayload{Resource: "bookings"}
		if err := v.Validate(ev); err != nil {
			t.Errorf("unexpected error: %v", err)
		}
	})
}

func TestSeverityRank(t *testing.T) {
	order := []Severity{SeverityInfo, SeverityLow, SeverityMedium, SeverityHigh, SeverityCritical}
	for i := 1; i < len(order); i++ {
		if order[i].Rank() <= order[i-1].Rank() {
			t.Errorf("severity %s should rank above %s", order[i], order[i-1])
		}
	}

	if got := MaxSeverity(SeverityLow, SeverityHigh); got != SeverityHigh {
		t.Errorf("MaxSeverity = %s, want high", got)
	}
	if got := MaxSeverity(SeverityCritical, SeverityMedium); got != SeverityCritical {
		t.Errorf("MaxSeverity = %s, want critical", got)
	}
}

func TestEntityKey(t *testing.T) {
	ev := &SecurityEvent{UserID: "u1", DeviceID: "d1"}
	if ev.EntityKey() != "u1" {
		t.Errorf("EntityKey = %s, want u1", ev.EntityKey())
	}
	ev.UserID = ""
	if ev.EntityKey() != "d1" {
		t.Errorf("EntityKey = %s, want d1", ev.EntityKey())
	}
}
