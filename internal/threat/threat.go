// Package threat defines detected threats and their bounded retention store.
package threat

import (
	"time"

	"github.com/google/uuid"

	"hub-sentinel/internal/schema"
)

// Status tracks a threat through triage.
type Status string

const (
	StatusNew           Status = "new"
	StatusInvestigating Status = "investigating"
	StatusMitigated     Status = "mitigated"
	StatusResolved      Status = "resolved"
)

// IsValid reports whether s is a known threat status.
func (s Status) IsValid() bool {
	switch s {
	case StatusNew, StatusInvestigating, StatusMitigated, StatusResolved:
		return true
	}
	return false
}

// Event is one detected threat. RuleID is empty for threats raised directly
// by the anomaly detector without a bound rule.
type Event struct {
	ID       string                 `json:"id"`
	Category schema.Category        `json:"category"`
	Severity schema.Severity        `json:"severity"`
	Method   schema.DetectionMethod `json:"method"`
	RuleID   string                 `json:"rule_id,omitempty"`

	UserID    string `json:"user_id,omitempty"`
	DeviceID  string `json:"device_id,omitempty"`
	SessionID string `json:"session_id,omitempty"`
	SourceIP  string `json:"source_ip,omitempty"`

	// RiskScore is 0-100; Confidence is 0-1 and fixed per detection method.
	RiskScore  int     `json:"risk_score"`
	Confidence float64 `json:"confidence"`

	Indicators  map[string]string `json:"indicators,omitempty"`
	Mitigations []string          `json:"mitigations,omitempty"`
	Status      Status            `json:"status"`

	// EventTime is when the triggering event happened; DetectedAt is when
	// the engine raised the threat. Their gap feeds time-to-detect.
	EventTime  time.Time `json:"event_time"`
	DetectedAt time.Time `json:"detected_at"`
}

// New builds a threat in status new with a fresh ID and detection timestamp.
func New(category schema.Category, severity schema.Severity, method schema.DetectionMethod, eventTime time.Time) *Event {
	return &Event{
		ID:         uuid.NewString(),
		Category:   category,
		Severity:   severity,
		Method:     method,
		Status:     StatusNew,
		Confidence: MethodConfidence(method),
		RiskScore:  RiskScore(severity),
		Indicators: make(map[string]string),
		EventTime:  eventTime,
		DetectedAt: time.Now().UTC(),
	}
}

// MethodConfidence maps a detection method to its fixed confidence.
func MethodConfidence(method schema.DetectionMethod) float64 {
	switch method {
	case schema.MethodSignature:
		return 0.95
	case schema.MethodRuleBased:
		return 0.85
	case schema.MethodBehavioral:
		return 0.75
	case schema.MethodAnomaly:
		return 0.65
	case schema.MethodHeuristic:
		return 0.55
	}
	return 0.5
}

// RiskScore maps a severity to the 0-100 risk score: a base of 50 plus a
// severity bonus, capped at 100.
func RiskScore(severity schema.Severity) int {
	score := 50
	switch severity {
	case schema.SeverityCritical:
		score += 50
	case schema.SeverityHigh:
		score += 30
	case schema.SeverityMedium:
		score += 15
	case schema.SeverityLow:
		score += 5
	}
	if score > 100 {
		score = 100
	}
	return score
}

// blockingActions are mitigations that actively blocked an entity. Threats
// resolved without any of these count toward the false positive rate.
var blockingActions = map[string]struct{}{
	"block_ip":                  {},
	"block_user":                {},
	"block_device":              {},
	"force_session_termination": {},
}

// HadBlockingMitigation reports whether any recorded mitigation blocked an
// entity.
func (e *Event) HadBlockingMitigation() bool {
	for _, m := range e.Mitigations {
		if _, ok := blockingActions[m]; ok {
			return true
		}
	}
	return false
}
