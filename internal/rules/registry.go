package rules

import (
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"time"
)

var (
	// ErrUnknownRule is returned for lookups and mutations of rule ids
	// that were never registered.
	ErrUnknownRule = errors.New("unknown rule")
	// ErrDuplicateRule is returned when registering an id twice.
	ErrDuplicateRule = errors.New("duplicate rule id")
)

// Registry holds the detection rule set. Disabling a rule is soft: the rule
// stays registered for audit and its trigger counters are preserved.
type Registry struct {
	mu    sync.RWMutex
	rules map[string]*DetectionRule
}

// NewRegistry creates an empty rule registry.
func NewRegistry() *Registry {
	return &Registry{rules: make(map[string]*DetectionRule)}
}

// Register adds a rule after validating it. Duplicate ids are rejected.
func (r *Registry) Register(rule *DetectionRule) error {
	if err := rule.Validate(); err != nil {
		return err
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.rules[rule.ID]; exists {
		return fmt.Errorf("%w: %s", ErrDuplicateRule, rule.ID)
	}
	r.rules[rule.ID] = rule

	slog.Info("registered detection rule",
		"rule_id", rule.ID,
		"category", rule.Category,
		"method", rule.Method,
		"severity", rule.Severity)
	return nil
}

// RegisterAll registers each rule, stopping on the first failure.
func (r *Registry) RegisterAll(rules []*DetectionRule) error {
	for _, rule := range rules {
		if err := r.Register(rule); err != nil {
			return err
		}
	}
	return nil
}

// Disable turns a rule off without removing it.
func (r *Registry) Disable(ruleID string) error {
	return r.setEnabled(ruleID, false)
}

// Enable turns a previously disabled rule back on. Trigger counters are
// untouched.
func (r *Registry) Enable(ruleID string) error {
	return r.setEnabled(ruleID, true)
}

func (r *Registry) setEnabled(ruleID string, enabled bool) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	rule, ok := r.rules[ruleID]
	if !ok {
		return fmt.Errorf("%w: %s", ErrUnknownRule, ruleID)
	}
	rule.Enabled = enabled
	slog.Info("rule state changed", "rule_id", ruleID, "enabled", enabled)
	return nil
}

// Get returns the rule with the given id.
func (r *Registry) Get(ruleID string) (*DetectionRule, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	rule, ok := r.rules[ruleID]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnknownRule, ruleID)
	}
	return rule, nil
}

// List returns rules ordered by priority (ascending), then id. With
// enabledOnly set, disabled rules are skipped.
func (r *Registry) List(enabledOnly bool) []*DetectionRule {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make([]*DetectionRule, 0, len(r.rules))
	for _, rule := range r.rules {
		if enabledOnly && !rule.Enabled {
			continue
		}
		out = append(out, rule)
	}

	sort.Slice(out, func(i, j int) bool {
		if out[i].Priority != out[j].Priority {
			return out[i].Priority < out[j].Priority
		}
		return out[i].ID < out[j].ID
	})
	return out
}

// RecordTrigger updates the rule's trigger bookkeeping after a match.
func (r *Registry) RecordTrigger(ruleID string) {
	r.mu.Lock()
	defer r.mu.Unlock()

	rule, ok := r.rules[ruleID]
	if !ok {
		return
	}
	rule.TriggerCount++
	rule.LastTriggered = time.Now()
}

// Len returns the number of registered rules, enabled or not.
func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.rules)
}
