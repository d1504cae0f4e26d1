// Package evaluator matches incoming events against the enabled detection
// rules and emits threats. Each detection method has its own matcher; a
// panicking rule is isolated and counted, never taking the pipeline down.
package evaluator

import (
	"context"
	"fmt"
	"log/slog"
	"regexp"
	"sync"
	"time"

	"hub-sentinel/internal/anomaly"
	"hub-sentinel/internal/baseline"
	"hub-sentinel/internal/rules"
	"hub-sentinel/internal/schema"
	"hub-sentinel/internal/threat"
)

// Detection pairs a raised threat with the response actions its rule
// requested.
type Detection struct {
	Threat  *threat.Event
	Actions []string
}

// Config tunes the evaluator's heuristic signals.
type Config struct {
	// HomeCountry is the ISO country whose cards are considered domestic.
	HomeCountry string `yaml:"home_country"`
	// HighAmountThreshold marks a payment amount as a heuristic signal.
	HighAmountThreshold float64 `yaml:"high_amount_threshold"`
	// LargeExportRecords marks a data export as a heuristic signal.
	LargeExportRecords int `yaml:"large_export_records"`
	// OffHoursStart and OffHoursEnd bound the off-hours window (local to
	// the event timestamp, wrapping midnight).
	OffHoursStart int `yaml:"off_hours_start"`
	OffHoursEnd   int `yaml:"off_hours_end"`
}

// DefaultConfig returns default heuristic thresholds.
func DefaultConfig() Config {
	return Config{
		HomeCountry:         "PL",
		HighAmountThreshold: 5000,
		LargeExportRecords:  1000,
		OffHoursStart:       23,
		OffHoursEnd:         6,
	}
}

// Evaluator runs every enabled rule against submitted events.
type Evaluator struct {
	registry  *rules.Registry
	detector  *anomaly.Detector
	baselines *baseline.Store
	cfg       Config

	// windows holds per-rule, per-group event timestamps for threshold
	// conditions. Guarded by mu.
	mu      sync.Mutex
	windows map[string]map[string][]time.Time

	// regexCache holds compiled rule patterns. Guarded by regexMu.
	regexMu    sync.RWMutex
	regexCache map[string]*regexp.Regexp

	// failures counts evaluation panics per rule. Guarded by failMu.
	failMu   sync.Mutex
	failures map[string]uint64

	// OnRuleFailure, when set, is called after a rule evaluation panic.
	OnRuleFailure func(ruleID string)
}

// New creates an evaluator over the given registry, detector and baselines.
func New(registry *rules.Registry, detector *anomaly.Detector, baselines *baseline.Store, cfg Config) *Evaluator {
	return &Evaluator{
		registry:   registry,
		detector:   detector,
		baselines:  baselines,
		cfg:        cfg,
		windows:    make(map[string]map[string][]time.Time),
		regexCache: make(map[string]*regexp.Regexp),
		failures:   make(map[string]uint64),
	}
}

// Evaluate runs all enabled rules against the event, highest priority first,
// and returns the detections. The context bounds the whole pass.
func (e *Evaluator) Evaluate(ctx context.Context, event *schema.SecurityEvent) []Detection {
	var detections []Detection

	for _, rule := range e.registry.List(true) {
		if ctx.Err() != nil {
			break
		}
		if !rule.MatchesEventType(event.Type) {
			continue
		}

		d, ok := e.evaluateRule(rule, event)
		if !ok {
			continue
		}
		e.registry.RecordTrigger(rule.ID)
		detections = append(detections, d)

		slog.Info("rule triggered",
			"rule_id", rule.ID,
			"event_type", event.Type,
			"severity", rule.Severity,
			"threat_id", d.Threat.ID)
	}
	return detections
}

// evaluateRule dispatches on the rule's detection method. A panic inside a
// matcher is recovered and recorded against the rule.
func (e *Evaluator) evaluateRule(rule *rules.DetectionRule, event *schema.SecurityEvent) (d Detection, ok bool) {
	defer func() {
		if r := recover(); r != nil {
			e.recordFailure(rule.ID)
			slog.Error("rule evaluation panic",
				"rule_id", rule.ID,
				"event_type", event.Type,
				"panic", r)
			d, ok = Detection{}, false
		}
	}()

	var (
		matched    bool
		indicators map[string]string
	)

	switch rule.Method {
	case schema.MethodRuleBased:
		matched, indicators = e.matchRuleBased(rule, event)
	case schema.MethodSignature:
		matched, indicators = e.matchSignature(rule, event)
	case schema.MethodBehavioral, schema.MethodAnomaly:
		matched, indicators = e.matchChecks(rule, event)
	case schema.MethodHeuristic:
		matched, indicators = e.matchHeuristic(rule, event)
	}
	if !matched {
		return Detection{}, false
	}

	t := threat.New(rule.Category, rule.Severity, rule.Method, event.Timestamp)
	t.RuleID = rule.ID
	t.UserID = event.UserID
	t.DeviceID = event.DeviceID
	t.SessionID = event.SessionID
	t.SourceIP = event.SourceIP
	t.Indicators["rule_name"] = rule.Name
	t.Indicators["event_type"] = event.Type
	for k, v := range indicators {
		t.Indicators[k] = v
	}

	return Detection{Threat: t, Actions: append([]string(nil), rule.Actions...)}, true
}

// matchRuleBased applies patterns, field limits and the windowed threshold,
// in that order. All configured conditions must hold.
func (e *Evaluator) matchRuleBased(rule *rules.DetectionRule, event *schema.SecurityEvent) (bool, map[string]string) {
	indicators := make(map[string]string)

	for path, pattern := range rule.Conditions.Patterns {
		value, ok := eventField(event, path)
		if !ok || !e.compile(pattern).MatchString(value) {
			return false, nil
		}
		indicators[path] = value
	}

	for path, limit := range rule.Conditions.FieldLimits {
		value, ok := eventNumber(event, path)
		if !ok || value <= limit {
			return false, nil
		}
		indicators[path] = fmt.Sprintf("%g", value)
	}

	if rule.Conditions.Threshold > 0 {
		group := e.groupKey(rule, event)
		if group == "" {
			return false, nil
		}
		count, fired := e.recordWindow(rule, group, event.Timestamp)
		if !fired {
			return false, nil
		}
		indicators["group"] = group
		indicators["count"] = fmt.Sprintf("%d", count)
	}

	return true, indicators
}

// matchSignature checks the configured field against the rule's indicator
// set.
func (e *Evaluator) matchSignature(rule *rules.DetectionRule, event *schema.SecurityEvent) (bool, map[string]string) {
	field := rule.Conditions.IndicatorField
	value, ok := eventField(event, "payload."+field)
	if !ok {
		value, ok = eventField(event, field)
	}
	if !ok || value == "" {
		return false, nil
	}
	for _, indicator := range rule.Conditions.Indicators {
		if value == indicator {
			return true, map[string]string{field: value}
		}
	}
	return false, nil
}

// matchChecks delegates to the anomaly detector. The first check that fires
// matches the rule. MinConfidence raises the baseline confidence bar for
// this rule above the detector's own gate.
func (e *Evaluator) matchChecks(rule *rules.DetectionRule, event *schema.SecurityEvent) (bool, map[string]string) {
	if rule.Conditions.MinConfidence > 0 {
		b, ok := e.baselines.Get(event.EntityKey())
		if !ok || b.Confidence < rule.Conditions.MinConfidence {
			return false, nil
		}
	}
	for _, check := range rule.Conditions.Checks {
		f, ok := e.detector.RunCheck(check, event)
		if !ok {
			continue
		}
		return true, map[string]string{
			"check":       string(f.Check),
			"deviation":   fmt.Sprintf("%.1f", f.Deviation),
			"description": f.Description,
		}
	}
	return false, nil
}

// matchHeuristic sums the weights of the signals present on the event and
// compares against the rule's score threshold.
func (e *Evaluator) matchHeuristic(rule *rules.DetectionRule, event *schema.SecurityEvent) (bool, map[string]string) {
	score := 0.0
	indicators := make(map[string]string)
	for signal, weight := range rule.Conditions.Weights {
		if e.signalPresent(signal, event) {
			score += weight
			indicators["signal:"+signal] = fmt.Sprintf("%.2f", weight)
		}
	}
	if score < rule.Conditions.ScoreThreshold {
		return false, nil
	}
	indicators["score"] = fmt.Sprintf("%.2f", score)
	return true, indicators
}

// signalPresent evaluates one named heuristic signal against the event.
func (e *Evaluator) signalPresent(signal string, event *schema.SecurityEvent) bool {
	switch signal {
	case "high_amount":
		p, ok := event.Payload.(schema.PaymentPayload)
		return ok && p.Amount > e.cfg.HighAmountThreshold
	case "foreign_card":
		p, ok := event.Payload.(schema.PaymentPayload)
		return ok && p.CardCountry != "" && p.CardCountry != e.cfg.HomeCountry
	case "missing_3ds":
		p, ok := event.Payload.(schema.PaymentPayload)
		return ok && !p.ThreeDSUsed
	case "off_hours":
		h := event.Timestamp.Hour()
		if e.cfg.OffHoursStart > e.cfg.OffHoursEnd {
			return h >= e.cfg.OffHoursStart || h < e.cfg.OffHoursEnd
		}
		return h >= e.cfg.OffHoursStart && h < e.cfg.OffHoursEnd
	case "new_device":
		if event.UserID == "" || event.DeviceID == "" {
			return false
		}
		b, ok := e.baselines.Get(event.UserID)
		return ok && b.SampleCount > 1 && !b.KnowsDevice(event.DeviceID)
	case "missing_mfa":
		p, ok := event.Payload.(schema.AuthPayload)
		return ok && p.Success && !p.MFAUsed
	case "sensitive_resource":
		p, ok := event.Payload.(schema.DataAccessPayload)
		return ok && p.Sensitive
	case "large_export":
		p, ok := event.Payload.(schema.DataAccessPayload)
		return ok && p.Operation == "export" && p.RecordCount > e.cfg.LargeExportRecords
	}
	return false
}

// groupKey resolves the rule's grouping dimension for windowed counting.
func (e *Evaluator) groupKey(rule *rules.DetectionRule, event *schema.SecurityEvent) string {
	switch rule.Conditions.GroupBy {
	case "source_ip":
		return event.SourceIP
	default:
		return event.EntityKey()
	}
}

// recordWindow appends the event to the rule's per-group window, prunes
// expired entries and reports whether the count strictly exceeds the
// threshold. The window is cleared after firing so one burst raises one
// threat.
func (e *Evaluator) recordWindow(rule *rules.DetectionRule, group string, ts time.Time) (int, bool) {
	e.mu.Lock()
	defer e.mu.Unlock()

	groups, ok := e.windows[rule.ID]
	if !ok {
		groups = make(map[string][]time.Time)
		e.windows[rule.ID] = groups
	}

	cutoff := ts.Add(-rule.Conditions.Window)
	kept := groups[group][:0]
	for _, t := range groups[group] {
		if t.After(cutoff) {
			kept = append(kept, t)
		}
	}
	kept = append(kept, ts)

	if len(kept) > rule.Conditions.Threshold {
		delete(groups, group)
		return len(kept), true
	}
	groups[group] = kept
	return len(kept), false
}

// Failures returns a snapshot of per-rule panic counts.
func (e *Evaluator) Failures() map[string]uint64 {
	e.failMu.Lock()
	defer e.failMu.Unlock()

	out := make(map[string]uint64, len(e.failures))
	for k, v := range e.failures {
		out[k] = v
	}
	return out
}

func (e *Evaluator) recordFailure(ruleID string) {
	e.failMu.Lock()
	e.failures[ruleID]++
	e.failMu.Unlock()

	if e.OnRuleFailure != nil {
		e.OnRuleFailure(ruleID)
	}
}

// compile returns the cached compiled form of a rule pattern. Patterns are
// validated at registration, so compile failures surface as rule panics.
func (e *Evaluator) compile(pattern string) *regexp.Regexp {
	e.regexMu.RLock()
	re, ok := e.regexCache[pattern]
	e.regexMu.RUnlock()
	if ok {
		return re
	}

	re = regexp.MustCompile(pattern)
	e.regexMu.Lock()
	e.regexCache[pattern] = re
	e.regexMu.Unlock()
	return re
}
