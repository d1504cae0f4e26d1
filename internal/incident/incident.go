// Package incident groups related threats into incidents and tracks their
// lifecycle from open to closed.
package incident

import (
	"errors"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/google/uuid"

	"hub-sentinel/internal/schema"
	"hub-sentinel/internal/threat"
)

// Status is the incident lifecycle state.
type Status string

const (
	StatusOpen          Status = "open"
	StatusInvestigating Status = "investigating"
	StatusMitigating    Status = "mitigating"
	StatusResolved      Status = "resolved"
	StatusClosed        Status = "closed"
	StatusFalsePositive Status = "false_positive"
)

// ErrInvalidTransition is returned for a lifecycle move the state machine
// does not allow.
var ErrInvalidTransition = errors.New("invalid incident transition")

// ErrUnknownIncident is returned when an incident ID is not tracked.
var ErrUnknownIncident = errors.New("unknown incident")

// validTransitions encodes the lifecycle: open -> investigating ->
// mitigating -> resolved -> closed, with false_positive reachable from the
// two triage states. Closed and false_positive are terminal.
var validTransitions = map[Status][]Status{
	StatusOpen:          {StatusInvestigating, StatusMitigating, StatusFalsePositive},
	StatusInvestigating: {StatusMitigating, StatusResolved, StatusFalsePositive},
	StatusMitigating:    {StatusResolved},
	StatusResolved:      {StatusClosed},
}

// CanTransition reports whether moving from one status to another is legal.
func CanTransition(from, to Status) bool {
	for _, s := range validTransitions[from] {
		if s == to {
			return true
		}
	}
	return false
}

// Impact is the deterministic business impact estimate for an incident.
type Impact struct {
	AffectedUserCount int     `json:"affected_user_count"`
	DataExposed       bool    `json:"data_exposed"`
	EstimatedCost     float64 `json:"estimated_cost"`
	ReputationTier    string  `json:"reputation_tier"`
}

// Incident is a group of correlated threats under one response effort.
type Incident struct {
	ID       string          `json:"id"`
	Title    string          `json:"title"`
	Category schema.Category `json:"category"`
	Severity schema.Severity `json:"severity"`
	Status   Status          `json:"status"`

	ThreatIDs       []string            `json:"threat_ids"`
	AffectedUsers   map[string]struct{} `json:"-"`
	AffectedDevices map[string]struct{} `json:"-"`

	Impact         Impact   `json:"impact"`
	ComplianceTags []string `json:"compliance_tags,omitempty"`

	Assignee   string `json:"assignee,omitempty"`
	Resolution string `json:"resolution,omitempty"`

	// Executed response actions bucketed by response phase.
	Mitigation  []string `json:"mitigation,omitempty"`
	Containment []string `json:"containment,omitempty"`
	Eradication []string `json:"eradication,omitempty"`
	Recovery    []string `json:"recovery,omitempty"`

	CreatedAt      time.Time `json:"created_at"`
	UpdatedAt      time.Time `json:"updated_at"`
	AcknowledgedAt time.Time `json:"acknowledged_at,omitempty"`
	ResolvedAt     time.Time `json:"resolved_at,omitempty"`
}

// newIncident opens an incident seeded from one threat.
func newIncident(t *threat.Event, now time.Time) *Incident {
	inc := &Incident{
		ID:              uuid.NewString(),
		Title:           fmt.Sprintf("%s incident", t.Category),
		Category:        t.Category,
		Severity:        t.Severity,
		Status:          StatusOpen,
		AffectedUsers:   make(map[string]struct{}),
		AffectedDevices: make(map[string]struct{}),
		CreatedAt:       now,
		UpdatedAt:       now,
	}
	inc.absorb(t, now)
	return inc
}

// absorb folds a threat into the incident: union of entities, severity
// never decreases, impact re-derived from the grown scope.
func (inc *Incident) absorb(t *threat.Event, now time.Time) {
	inc.ThreatIDs = append(inc.ThreatIDs, t.ID)
	if t.UserID != "" {
		inc.AffectedUsers[t.UserID] = struct{}{}
	}
	if t.DeviceID != "" {
		inc.AffectedDevices[t.DeviceID] = struct{}{}
	}
	inc.Severity = schema.MaxSeverity(inc.Severity, t.Severity)
	inc.UpdatedAt = now
	inc.deriveImpact()
}

// deriveImpact maps category and scope onto a deterministic estimate.
// Payment incidents carry direct financial exposure; data breach and
// privacy incidents expose records and pull in compliance obligations.
func (inc *Incident) deriveImpact() {
	users := len(inc.AffectedUsers)
	inc.Impact.AffectedUserCount = users

	switch inc.Category {
	case schema.CategoryPayment:
		inc.Impact.EstimatedCost = 25000 + 5000*float64(users)
		inc.Impact.ReputationTier = "high"
		inc.ComplianceTags = mergeTags(inc.ComplianceTags, "PCI-DSS")
	case schema.CategoryDataBreach:
		inc.Impact.DataExposed = true
		inc.Impact.EstimatedCost = 50000 + 10000*float64(users)
		inc.Impact.ReputationTier = "critical"
		inc.ComplianceTags = mergeTags(inc.ComplianceTags, "GDPR")
	case schema.CategoryPrivacy:
		inc.Impact.DataExposed = true
		inc.Impact.EstimatedCost = 20000 + 2000*float64(users)
		inc.Impact.ReputationTier = "high"
		inc.ComplianceTags = mergeTags(inc.ComplianceTags, "GDPR")
	case schema.CategoryAuthentication:
		inc.Impact.EstimatedCost = 5000 * float64(max(users, 1))
		inc.Impact.ReputationTier = "medium"
	default:
		inc.Impact.EstimatedCost = 2500 * float64(max(users, 1))
		inc.Impact.ReputationTier = "low"
	}
}

// RecordAction appends an executed response action to its phase bucket.
// Actions prefixed contain_, eradicate_ or recover_ land in their phase;
// everything else is an immediate mitigation.
func (inc *Incident) RecordAction(action string) {
	switch phaseOf(action) {
	case PhaseContainment:
		inc.Containment = append(inc.Containment, action)
	case PhaseEradication:
		inc.Eradication = append(inc.Eradication, action)
	case PhaseRecovery:
		inc.Recovery = append(inc.Recovery, action)
	default:
		inc.Mitigation = append(inc.Mitigation, action)
	}
}

// Phase is a response phase bucket.
type Phase string

const (
	PhaseMitigation  Phase = "mitigation"
	PhaseContainment Phase = "containment"
	PhaseEradication Phase = "eradication"
	PhaseRecovery    Phase = "recovery"
)

// phaseOf buckets an action name by its prefix.
func phaseOf(action string) Phase {
	switch {
	case strings.HasPrefix(action, "contain_"):
		return PhaseContainment
	case strings.HasPrefix(action, "eradicate_"):
		return PhaseEradication
	case strings.HasPrefix(action, "recover_"):
		return PhaseRecovery
	default:
		return PhaseMitigation
	}
}

// clone returns a deep copy safe to hand to callers.
func (inc *Incident) clone() *Incident {
	cp := *inc
	cp.ThreatIDs = append([]string(nil), inc.ThreatIDs...)
	cp.AffectedUsers = copySet(inc.AffectedUsers)
	cp.AffectedDevices = copySet(inc.AffectedDevices)
	cp.ComplianceTags = append([]string(nil), inc.ComplianceTags...)
	cp.Mitigation = append([]string(nil), inc.Mitigation...)
	cp.Containment = append([]string(nil), inc.Containment...)
	cp.Eradication = append([]string(nil), inc.Eradication...)
	cp.Recovery = append([]string(nil), inc.Recovery...)
	return &cp
}

func copySet(s map[string]struct{}) map[string]struct{} {
	out := make(map[string]struct{}, len(s))
	for k := range s {
		out[k] = struct{}{}
	}
	return out
}

func mergeTags(tags []string, tag string) []string {
	for _, t := range tags {
		if t == tag {
			return tags
		}
	}
	tags = append(tags, tag)
	sort.Strings(tags)
	return tags
}
