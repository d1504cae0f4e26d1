package schema

import (
	"fmt"
	"regexp"
	"time"

	"github.com/go-playground/validator/v10"
)

// eventTypePattern defines the valid format for event type strings.
// Types must be lowercase, start with a letter, and use dots or underscores
// as separators. Examples: "login_failed", "payment_transaction",
// "data.export".
var eventTypePattern = regexp.MustCompile(`^[a-z][a-z0-9_]*(\.[a-z][a-z0-9_]*)*$`)

// Validator checks submitted events against the canonical schema.
type Validator struct {
	validate  *validator.Validate
	maxAge    time.Duration
	maxFuture time.Duration
}

// ValidatorConfig holds configuration for the validator.
type ValidatorConfig struct {
	MaxAge    time.Duration `yaml:"max_age"`
	MaxFuture time.Duration `yaml:"max_future"`
}

// DefaultValidatorConfig returns the default validator configuration.
func DefaultValidatorConfig() ValidatorConfig {
	return ValidatorConfig{
		MaxAge:    24 * time.Hour,
		MaxFuture: 5 * time.Minute,
	}
}

// NewValidator creates a new Validator with default configuration.
func NewValidator() *Validator {
	return NewValidatorWithConfig(DefaultValidatorConfig())
}

// NewValidatorWithConfig creates a new Validator with the specified configuration.
func NewValidatorWithConfig(cfg ValidatorConfig) *Validator {
	v := validator.New()

	v.RegisterValidation("event_format", func(fl validator.FieldLevel) bool {
		return eventTypePattern.MatchString(fl.Field().String())
	})

	return &Validator{
		validate:  v,
		maxAge:    cfg.MaxAge,
		maxFuture: cfg.MaxFuture,
	}
}

// Validate validates an event against the canonical schema.
// Returns an error if validation fails.
func (v *Validator) Validate(event *SecurityEvent) error {
	if err := v.validate.Struct(event); err != nil {
		return fmt.Errorf("validation failed: %w", err)
	}

	now := time.Now().UTC()

	if event.Timestamp.IsZero() {
		return fmt.Errorf("timestamp is required")
	}

	if event.Timestamp.Before(now.Add(-v.maxAge)) {
		return fmt.Errorf("timestamp too old: %v (max age: %v)", event.Timestamp, v.maxAge)
	}

	if event.Timestamp.After(now.Add(v.maxFuture)) {
		return fmt.Errorf("timestamp in future: %v (max future: %v)", event.Timestamp, v.maxFuture)
	}

	if event.Payload != nil && !matchesPayload(event.Type, event.Payload.Kind()) {
		return fmt.Errorf("payload kind %q does not match event type %q", event.Payload.Kind(), event.Type)
	}

	return nil
}

// matchesPayload checks that an event type belongs to the payload family
// it carries. Types outside the known families accept any payload.
func matchesPayload(eventType string, kind PayloadKind) bool {
	family, ok := typeFamilies[eventType]
	if !ok {
		return true
	}
	return family == kind
}

var typeFamilies = map[string]PayloadKind{
	"login_success":       PayloadAuth,
	"login_failed":        PayloadAuth,
	"logout":              PayloadAuth,
	"password_reset":      PayloadAuth,
	"mfa_challenge":       PayloadAuth,
	"api_request":         PayloadNetwork,
	"rate_limit_exceeded": PayloadNetwork,
	"data_access":         PayloadDataAccess,
	"data_export":         PayloadDataAccess,
	"payment_transaction": PayloadPayment,
	"payment_refund":      PayloadPayment,
	"consent_change":      PayloadPrivacy,
	"data_erasure":        PayloadPrivacy,
	"device_registered":   PayloadDevice,
	"device_changed":      PayloadDevice,
}

// ValidateEventType checks if an event type string matches the required format.
func ValidateEventType(eventType string) bool {
	return eventTypePattern.MatchString(eventType)
}
