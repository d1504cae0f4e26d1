// Package schema defines the canonical security event model for hub-sentinel.
// Collaborating services (authentication, network gateway, payment processor,
// privacy module) normalize their events to this structure before submission.
package schema

import (
	"time"

	"github.com/google/uuid"
)

// SecurityEvent is the sole input of the detection pipeline.
// Events are immutable once created and are not persisted by the engine.
type SecurityEvent struct {
	// Required fields
	EventID   uuid.UUID `json:"event_id" validate:"required"`
	Type      string    `json:"type" validate:"required,event_format"`
	Timestamp time.Time `json:"timestamp" validate:"required"`

	// Actor identifiers (all optional; at least one is needed for
	// baseline tracking)
	UserID    string `json:"user_id,omitempty" validate:"max=256"`
	DeviceID  string `json:"device_id,omitempty" validate:"max=256"`
	SessionID string `json:"session_id,omitempty" validate:"max=256"`

	// Network origin
	SourceIP string `json:"source_ip,omitempty" validate:"omitempty,ip"`
	Location *Geo   `json:"location,omitempty"`

	// Typed detail payload; exactly one concrete type per event type family.
	Payload Payload `json:"payload,omitempty"`

	// Internal fields (set by the engine)
	ReceivedAt    time.Time `json:"received_at"`
	SchemaVersion string    `json:"schema_version"`
}

// Geo is a WGS84 coordinate attached to an event's network origin.
type Geo struct {
	Lat float64 `json:"lat" validate:"min=-90,max=90"`
	Lon float64 `json:"lon" validate:"min=-180,max=180"`
}

// EntityKey returns the identifier used to shard and baseline this event.
// Users take precedence over devices.
func (e *SecurityEvent) EntityKey() string {
	if e.UserID != "" {
		return e.UserID
	}
	return e.DeviceID
}

// PayloadKind identifies the concrete payload type of an event.
type PayloadKind string

const (
	PayloadAuth       PayloadKind = "auth"
	PayloadNetwork    PayloadKind = "network"
	PayloadDataAccess PayloadKind = "data_access"
	PayloadPayment    PayloadKind = "payment"
	PayloadPrivacy    PayloadKind = "privacy"
	PayloadDevice     PayloadKind = "device"
)

// Payload is the closed set of event detail shapes. Rule conditions match
// against concrete payload fields instead of probing an untyped bag.
type Payload interface {
	Kind() PayloadKind
}

// AuthPayload describes an authentication attempt.
type AuthPayload struct {
	Method        string `json:"method,omitempty"`
	Success       bool   `json:"success"`
	MFAUsed       bool   `json:"mfa_used"`
	FailureReason string `json:"failure_reason,omitempty"`
}

func (AuthPayload) Kind() PayloadKind { return PayloadAuth }

// NetworkPayload describes an inbound request observed at the gateway.
type NetworkPayload struct {
	Path       string `json:"path,omitempty"`
	Method     string `json:"method,omitempty"`
	StatusCode int    `json:"status_code,omitempty"`
	BytesOut   int64  `json:"bytes_out,omitempty"`
	UserAgent  string `json:"user_agent,omitempty"`
	Domain     string `json:"domain,omitempty"`
}

func (NetworkPayload) Kind() PayloadKind { return PayloadNetwork }

// DataAccessPayload describes a read or export of stored records.
type DataAccessPayload struct {
	Resource    string `json:"resource,omitempty"`
	Operation   string `json:"operation,omitempty"`
	RecordCount int    `json:"record_count,omitempty"`
	Sensitive   bool   `json:"sensitive"`
	FileHash    string `json:"file_hash,omitempty"`
}

func (DataAccessPayload) Kind() PayloadKind { return PayloadDataAccess }

// PaymentPayload describes a payment transaction attempt.
type PaymentPayload struct {
	Amount      float64 `json:"amount"`
	Currency    string  `json:"currency,omitempty"`
	CardCountry string  `json:"card_country,omitempty"`
	ThreeDSUsed bool    `json:"three_ds_used"`
}

func (PaymentPayload) Kind() PayloadKind { return PayloadPayment }

// PrivacyPayload describes an operation on personal data (consent, export,
// erasure).
type PrivacyPayload struct {
	Subject     string `json:"subject,omitempty"`
	Operation   string `json:"operation,omitempty"`
	RecordCount int    `json:"record_count,omitempty"`
}

func (PrivacyPayload) Kind() PayloadKind { return PayloadPrivacy }

// DevicePayload describes a device registration or posture change.
type DevicePayload struct {
	Fingerprint string `json:"fingerprint,omitempty"`
	OS          string `json:"os,omitempty"`
	AppVersion  string `json:"app_version,omitempty"`
	Jailbroken  bool   `json:"jailbroken"`
}

func (DevicePayload) Kind() PayloadKind { return PayloadDevice }

// SchemaVersionCurrent is the current version of the event schema.
const SchemaVersionCurrent = "1.0.0"
