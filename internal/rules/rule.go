// Package rules defines detection rule definitions and the rule registry.
package rules

import (
	"fmt"
	"regexp"
	"time"

	"gopkg.in/yaml.v3"

	"hub-sentinel/internal/schema"
)

// DetectionRule describes one detection rule. Rules are created at registry
// load time and mutated only by trigger bookkeeping; they are disabled, never
// deleted, during normal operation.
type DetectionRule struct {
	ID          string                 `yaml:"id"`
	Name        string                 `yaml:"name"`
	Description string                 `yaml:"description,omitempty"`
	Category    schema.Category        `yaml:"category"`
	Severity    schema.Severity        `yaml:"severity"`
	Method      schema.DetectionMethod `yaml:"method"`
	// Priority is a tie-break when multiple rules could block the same
	// event; lower numbers evaluate first.
	Priority   int        `yaml:"priority,omitempty"`
	Enabled    bool       `yaml:"enabled"`
	Conditions Conditions `yaml:"conditions"`
	// Actions is the ordered list of mitigation action names dispatched
	// when the rule fires.
	Actions []string `yaml:"actions,omitempty"`

	// Trigger bookkeeping, mutated via Registry.RecordTrigger.
	TriggerCount  int64     `yaml:"-" json:"trigger_count"`
	LastTriggered time.Time `yaml:"-" json:"last_triggered"`
}

// Conditions holds the evaluation parameters for a rule. Which fields apply
// depends on the rule's detection method.
type Conditions struct {
	// EventTypes filters which event types the rule sees. Required.
	EventTypes []string `yaml:"event_types"`

	// rule_based: event-count threshold within Window, grouped by GroupBy
	// ("entity" by default, or "source_ip").
	Threshold int           `yaml:"threshold,omitempty"`
	Window    time.Duration `yaml:"window,omitempty"`
	GroupBy   string        `yaml:"group_by,omitempty"`

	// rule_based: regex patterns over event fields; all must match.
	Patterns map[string]string `yaml:"patterns,omitempty"`

	// rule_based: numeric field limits; a field value strictly above its
	// limit matches.
	FieldLimits map[string]float64 `yaml:"field_limits,omitempty"`

	// signature: static indicator list and the event field to test
	// against it (source_ip, domain, file_hash).
	Indicators     []string `yaml:"indicators,omitempty"`
	IndicatorField string   `yaml:"indicator_field,omitempty"`

	// behavioral / anomaly: which baseline checks to run (location,
	// time_of_day, velocity) and the minimum baseline confidence required
	// before the rule participates at all.
	Checks        []string `yaml:"checks,omitempty"`
	MinConfidence float64  `yaml:"min_confidence,omitempty"`

	// heuristic: weighted sub-signals and the score needed to trigger.
	Weights        map[string]float64 `yaml:"weights,omitempty"`
	ScoreThreshold float64            `yaml:"score_threshold,omitempty"`
}

// Validate validates the rule definition. Malformed rules are rejected at
// registration time, never silently ignored.
func (r *DetectionRule) Validate() error {
	if r.ID == "" {
		return fmt.Errorf("rule ID is required")
	}
	if r.Name == "" {
		return fmt.Errorf("rule name is required")
	}
	if !r.Category.IsValid() {
		return fmt.Errorf("invalid category: %q", r.Category)
	}
	if !r.Severity.IsValid() {
		return fmt.Errorf("invalid severity: %q", r.Severity)
	}
	if !r.Method.IsValid() {
		return fmt.Errorf("invalid detection method: %q", r.Method)
	}
	if len(r.Conditions.EventTypes) == 0 {
		return fmt.Errorf("at least one event type is required")
	}
	for _, et := range r.Conditions.EventTypes {
		// "*" subscribes the rule to every event type.
		if et == "*" {
			continue
		}
		if !schema.ValidateEventType(et) {
			return fmt.Errorf("malformed event type: %q", et)
		}
	}

	switch r.Method {
	case schema.MethodRuleBased:
		if r.Conditions.Threshold < 0 {
			return fmt.Errorf("threshold must not be negative")
		}
		if r.Conditions.Threshold > 0 && r.Conditions.Window <= 0 {
			return fmt.Errorf("window is required with a threshold")
		}
		for field, pattern := range r.Conditions.Patterns {
			if _, err := regexp.Compile(pattern); err != nil {
				return fmt.Errorf("pattern for field %q: %w", field, err)
			}
		}
	case schema.MethodSignature:
		if len(r.Conditions.Indicators) == 0 {
			return fmt.Errorf("signature rules require an indicator list")
		}
		switch r.Conditions.IndicatorField {
		case "source_ip", "domain", "file_hash":
		default:
			return fmt.Errorf("invalid indicator field: %q", r.Conditions.IndicatorField)
		}
	case schema.MethodBehavioral, schema.MethodAnomaly:
		if len(r.Conditions.Checks) == 0 {
			return fmt.Errorf("%s rules require at least one check", r.Method)
		}
		for _, check := range r.Conditions.Checks {
			switch check {
			case "location", "time_of_day", "velocity":
			default:
				return fmt.Errorf("unknown baseline check: %q", check)
			}
		}
	case schema.MethodHeuristic:
		if len(r.Conditions.Weights) == 0 {
			return fmt.Errorf("heuristic rules require signal weights")
		}
		if r.Conditions.ScoreThreshold <= 0 {
			return fmt.Errorf("heuristic rules require a positive score threshold")
		}
	}

	switch r.Conditions.GroupBy {
	case "", "entity", "source_ip":
	default:
		return fmt.Errorf("invalid group_by: %q", r.Conditions.GroupBy)
	}

	return nil
}

// MatchesEventType reports whether the rule's event-type filter contains the
// given type. "*" matches everything.
func (r *DetectionRule) MatchesEventType(eventType string) bool {
	for _, et := range r.Conditions.EventTypes {
		if et == "*" || et == eventType {
			return true
		}
	}
	return false
}

// ParseRule parses a rule from YAML bytes.
func ParseRule(data []byte) (*DetectionRule, error) {
	var rule DetectionRule
	if err := yaml.Unmarshal(data, &rule); err != nil {
		return nil, fmt.Errorf("failed to parse rule: %w", err)
	}
	if err := rule.Validate(); err != nil {
		return nil, fmt.Errorf("invalid rule: %w", err)
	}
	return &rule, nil
}

// ParseRules parses multiple rules from YAML bytes. Accepts either a list or
// a single rule document.
func ParseRules(data []byte) ([]*DetectionRule, error) {
	var parsed []*DetectionRule
	if err := yaml.Unmarshal(data, &parsed); err != nil {
		rule, singleErr := ParseRule(data)
		if singleErr != nil {
			return nil, fmt.Errorf("failed to parse rules: %w", err)
		}
		return []*DetectionRule{rule}, nil
	}

	for i, rule := range parsed {
		if err := rule.Validate(); err != nil {
			return nil, fmt.Errorf("rule %d: %w", i, err)
		}
	}
	return parsed, nil
}
