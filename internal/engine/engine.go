// Package engine wires the detection pipeline: validation, baseline
// learning, rule evaluation, anomaly detection, incident correlation, and
// automated response behind a single facade.
package engine

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"hub-sentinel/internal/anomaly"
	"hub-sentinel/internal/baseline"
	"hub-sentinel/internal/config"
	"hub-sentinel/internal/evaluator"
	"hub-sentinel/internal/incident"
	"hub-sentinel/internal/logging"
	"hub-sentinel/internal/metrics"
	"hub-sentinel/internal/publish"
	"hub-sentinel/internal/response"
	"hub-sentinel/internal/rules"
	"hub-sentinel/internal/schema"
	"hub-sentinel/internal/threat"
)

// ErrNilEvent is returned when SubmitEvent receives no event.
var ErrNilEvent = errors.New("engine: nil event")

// Notifier publishes threat, incident, and action notifications.
type Notifier interface {
	Publish(ctx context.Context, kind publish.Kind, key string, payload any) error
}

// ThreatSink receives every detected threat for archival.
type ThreatSink interface {
	Add(t *threat.Event)
}

// IncidentArchiver stores resolved incidents.
type IncidentArchiver interface {
	Archive(ctx context.Context, inc *incident.Incident) error
}

// Sinks holds the optional external integrations. Every field may be nil;
// the engine degrades to in-memory operation.
type Sinks struct {
	Notifier        Notifier
	Threats         ThreatSink
	IncidentArchive IncidentArchiver

	// ExtraEffects override or extend the built-in mitigation effects,
	// keyed by action kind.
	ExtraEffects []response.MitigationEffect
}

// SubmitResult summarizes what one event triggered.
type SubmitResult struct {
	ThreatsDetected  int `json:"threats_detected"`
	IncidentsCreated int `json:"incidents_created"`
	AutomatedActions int `json:"automated_actions"`
}

// Engine owns the full detection and response pipeline.
type Engine struct {
	cfg    *config.Config
	logger *slog.Logger

	validator    *schema.Validator
	registry     *rules.Registry
	baselines    *baseline.Store
	detector     *anomaly.Detector
	evaluator    *evaluator.Evaluator
	threats      *threat.Buffer
	correlator   *incident.Correlator
	orchestrator *response.Orchestrator
	blocklist    *response.Blocklist
	sessions     *response.SessionRegistry
	aggregator   *metrics.Aggregator
	collectors   *metrics.Collectors
	sinks        Sinks

	// shards serialize processing per entity so baseline updates and
	// window counting stay FIFO for one user or device.
	shards    []sync.Mutex
	scheduler *Scheduler
}

// New builds an engine from configuration. reg may be nil to skip
// Prometheus registration.
func New(cfg *config.Config, logger *slog.Logger, reg prometheus.Registerer, sinks Sinks) (*Engine, error) {
	if cfg == nil {
		cfg = config.DefaultConfig()
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if logger == nil {
		logger = slog.Default()
	}

	registry := rules.NewRegistry()
	if err := registry.RegisterAll(rules.BuiltinRules()); err != nil {
		return nil, fmt.Errorf("engine: register builtin rules: %w", err)
	}

	baselines := baseline.NewStore(cfg.Baseline)
	detector := anomaly.NewDetector(baselines, cfg.Anomaly)
	eval := evaluator.New(registry, detector, baselines, cfg.Evaluator)
	buffer := threat.NewBuffer(cfg.Engine.ThreatBufferSize)
	correlator := incident.NewCorrelator(cfg.Correlation)

	blocklist := response.NewBlocklist(cfg.Redis.BlockTTL)
	sessions := response.NewSessionRegistry()
	orch := response.NewOrchestrator(response.DefaultEffects(blocklist, sessions), correlator, buffer, cfg.Response)
	for _, e := range sinks.ExtraEffects {
		orch.RegisterEffect(e)
	}

	var collectors *metrics.Collectors
	if reg != nil {
		collectors = metrics.NewCollectors(reg)
	}

	e := &Engine{
		cfg:          cfg,
		logger:       logger,
		validator:    schema.NewValidatorWithConfig(cfg.Validation),
		registry:     registry,
		baselines:    baselines,
		detector:     detector,
		evaluator:    eval,
		threats:      buffer,
		correlator:   correlator,
		orchestrator: orch,
		blocklist:    blocklist,
		sessions:     sessions,
		aggregator:   metrics.NewAggregator(),
		collectors:   collectors,
		sinks:        sinks,
		shards:       make([]sync.Mutex, cfg.Engine.Shards),
	}

	eval.OnRuleFailure = func(ruleID string) {
		if e.collectors != nil {
			e.collectors.RuleEvalFailures.WithLabelValues(ruleID).Inc()
		}
	}
	orch.OnActionFailure = func(kind response.ActionKind) {
		if e.collectors != nil {
			e.collectors.ActionsFailed.Inc()
		}
	}

	e.scheduler = NewScheduler(logger)
	e.scheduler.Add("baseline_decay", cfg.Scheduler.BaselineDecayInterval, func() {
		if n := e.baselines.Decay(time.Now().UTC()); n > 0 {
			logger.Info("baseline confidence decayed", "entities", n)
		}
	})
	e.scheduler.Add("metrics_prune", cfg.Scheduler.MetricsPruneInterval, func() {
		e.aggregator.Prune()
	})

	logger.Info("engine initialized",
		"rules", registry.Len(),
		"shards", cfg.Engine.Shards,
		"threat_buffer", cfg.Engine.ThreatBufferSize)
	return e, nil
}

// Start launches the background scheduler.
func (e *Engine) Start() {
	e.scheduler.Start()
}

// Stop halts the background scheduler and waits for in-flight tasks.
func (e *Engine) Stop() {
	e.scheduler.Stop()
}

// SubmitEvent runs one event through the pipeline. Events for the same
// entity are processed in submission order.
func (e *Engine) SubmitEvent(ctx context.Context, event *schema.SecurityEvent) (SubmitResult, error) {
	var res SubmitResult
	if event == nil {
		return res, ErrNilEvent
	}

	// Events are immutable to callers; ingest metadata lands on a copy.
	stamped := *event
	event = &stamped
	if event.ReceivedAt.IsZero() {
		event.ReceivedAt = time.Now().UTC()
	}
	if event.SchemaVersion == "" {
		event.SchemaVersion = schema.SchemaVersionCurrent
	}

	if err := e.validator.Validate(event); err != nil {
		if e.collectors != nil {
			e.collectors.EventsRejected.Inc()
		}
		return res, fmt.Errorf("engine: event rejected: %w", err)
	}

	e.aggregator.RecordEvent()
	if e.collectors != nil {
		e.collectors.EventsTotal.Inc()
	}

	shard := e.shardFor(event)
	shard.Lock()
	defer shard.Unlock()

	// Evaluate against the baseline as it stood before this event;
	// observing first would teach the baseline the very behavior being
	// checked.
	detections := e.evaluator.Evaluate(ctx, event)
	detections = append(detections, e.standaloneAnomalies(event, detections)...)

	e.baselines.Observe(event)

	for _, d := range detections {
		e.handleDetection(ctx, event, d, &res)
	}

	if len(detections) > 0 {
		e.updateIncidentGauges()
	}
	return res, nil
}

// standaloneAnomalies raises threats for detector findings that no
// triggered rule already consumed. These threats carry no rule id.
func (e *Engine) standaloneAnomalies(event *schema.SecurityEvent, detections []evaluator.Detection) []evaluator.Detection {
	consumed := make(map[string]bool, len(detections))
	for _, d := range detections {
		if c := d.Threat.Indicators["check"]; c != "" {
			consumed[c] = true
		}
	}

	var extra []evaluator.Detection
	for _, f := range e.detector.CheckEvent(event) {
		if consumed[string(f.Check)] {
			continue
		}
		t := threat.New(schema.CategoryForPayload(event.Payload.Kind()), f.Severity, schema.MethodAnomaly, event.Timestamp)
		t.UserID = event.UserID
		t.DeviceID = event.DeviceID
		t.SessionID = event.SessionID
		t.SourceIP = event.SourceIP
		t.Indicators = map[string]string{
			"check":       string(f.Check),
			"deviation":   strconv.FormatFloat(f.Deviation, 'f', 2, 64),
			"description": f.Description,
		}
		extra = append(extra, evaluator.Detection{Threat: t})
	}
	return extra
}

func (e *Engine) handleDetection(ctx context.Context, event *schema.SecurityEvent, d evaluator.Detection, res *SubmitResult) {
	t := d.Threat

	e.threats.Add(t)
	res.ThreatsDetected++
	e.aggregator.RecordThreat(t.Severity, t.DetectedAt.Sub(t.EventTime))
	if e.collectors != nil {
		e.collectors.ThreatsTotal.WithLabelValues(string(t.Severity)).Inc()
	}
	if e.sinks.Threats != nil {
		e.sinks.Threats.Add(t)
	}

	inc, created := e.correlator.Correlate(t)
	if created {
		res.IncidentsCreated++
		e.aggregator.RecordIncidentOpened()
	}

	if len(d.Actions) > 0 {
		incidentID := ""
		if inc != nil {
			incidentID = inc.ID
		}
		target := response.Target{
			UserID:    event.UserID,
			DeviceID:  event.DeviceID,
			SessionID: event.SessionID,
			SourceIP:  event.SourceIP,
		}

		blocking := false
		for _, rec := range e.orchestrator.Respond(ctx, incidentID, t.ID, target, d.Actions) {
			if rec.Status != response.StatusExecuted {
				continue
			}
			res.AutomatedActions++
			if rec.Kind.Blocking() {
				blocking = true
			}
			e.notify(ctx, publish.KindAction, rec.ID, rec)
		}
		if blocking {
			if err := e.threats.SetStatus(t.ID, threat.StatusMitigated); err == nil {
				t.Status = threat.StatusMitigated
			}
		}
	}

	e.logger.Info("threat detected",
		"threat_id", t.ID,
		"rule_id", t.RuleID,
		"category", t.Category,
		"severity", t.Severity,
		"risk_score", t.RiskScore,
		"indicators", logging.RedactIndicators(t.Indicators))

	e.notify(ctx, publish.KindThreat, t.ID, t)
	if created {
		e.notify(ctx, publish.KindIncident, inc.ID, inc)
	}
}

func (e *Engine) notify(ctx context.Context, kind publish.Kind, key string, payload any) {
	if e.sinks.Notifier == nil {
		return
	}
	if err := e.sinks.Notifier.Publish(ctx, kind, key, payload); err != nil {
		e.logger.Warn("notification publish failed", "kind", kind, "error", err)
	}
}

func (e *Engine) updateIncidentGauges() {
	if e.collectors == nil {
		return
	}
	counts := e.correlator.CountByStatus()
	open := counts[incident.StatusOpen] + counts[incident.StatusInvestigating] + counts[incident.StatusMitigating]
	e.collectors.IncidentsOpen.Set(float64(open))

	high, critical := e.correlator.OpenSeverityCounts()
	e.collectors.SecurityScoreGauge.Set(float64(metrics.Score(high, critical)))
}

// Rules returns all registered rules in priority order.
func (e *Engine) Rules() []*rules.DetectionRule {
	return e.registry.List(false)
}

// Threats returns recent threats, newest first, optionally filtered by
// category and bounded by limit.
func (e *Engine) Threats(category schema.Category, limit int) []*threat.Event {
	return e.threats.List(category, limit)
}

// Incidents returns incidents, optionally filtered by lifecycle status.
func (e *Engine) Incidents(status incident.Status) []*incident.Incident {
	return e.correlator.List(status)
}

// Baseline returns a snapshot of one entity's behavioral baseline.
func (e *Engine) Baseline(entityID string) (*baseline.BehavioralBaseline, bool) {
	return e.baselines.Get(entityID)
}

// Actions returns the response actions recorded for one incident.
func (e *Engine) Actions(incidentID string) []*response.AutomatedResponseAction {
	return e.orchestrator.Actions(incidentID)
}

// Metrics returns the rolling security metrics over the trailing window.
func (e *Engine) Metrics(hours int) metrics.SecurityMetrics {
	high, critical := e.correlator.OpenSeverityCounts()
	m := e.aggregator.Metrics(hours, high, critical)
	e.updateIncidentGauges()
	return m
}

// EnableRule re-enables a disabled rule.
func (e *Engine) EnableRule(ruleID string) error {
	return e.registry.Enable(ruleID)
}

// DisableRule disables a rule without removing it.
func (e *Engine) DisableRule(ruleID string) error {
	return e.registry.Disable(ruleID)
}

// AcknowledgeIncident assigns an incident and moves it to investigating.
func (e *Engine) AcknowledgeIncident(id, assignee string) error {
	if err := e.correlator.Acknowledge(id, assignee); err != nil {
		return err
	}
	if inc, ok := e.correlator.Get(id); ok {
		e.aggregator.RecordIncidentAcknowledged(inc.AcknowledgedAt.Sub(inc.CreatedAt))
	}
	e.updateIncidentGauges()
	return nil
}

// ResolveIncident resolves an incident with a resolution note. Member
// threats move to resolved; those never mitigated by a blocking action
// count as false positives. The resolved incident is archived when an
// archive sink is configured.
func (e *Engine) ResolveIncident(ctx context.Context, id, resolution string) error {
	if err := e.correlator.Resolve(id, resolution); err != nil {
		return err
	}

	inc, ok := e.correlator.Get(id)
	if !ok {
		return incident.ErrUnknownIncident
	}
	e.aggregator.RecordIncidentResolved(inc.ResolvedAt.Sub(inc.CreatedAt))

	for _, tid := range inc.ThreatIDs {
		t, ok := e.threats.Get(tid)
		if !ok {
			continue
		}
		if !t.HadBlockingMitigation() {
			e.aggregator.RecordFalsePositive()
		}
		_ = e.threats.SetStatus(tid, threat.StatusResolved)
	}

	if e.sinks.IncidentArchive != nil {
		if err := e.sinks.IncidentArchive.Archive(ctx, inc); err != nil {
			e.logger.Error("incident archive failed", "incident_id", id, "error", err)
		}
	}

	e.notify(ctx, publish.KindIncident, inc.ID, inc)
	e.updateIncidentGauges()
	return nil
}

// CloseIncident archives a resolved incident.
func (e *Engine) CloseIncident(id string) error {
	if err := e.correlator.Close(id); err != nil {
		return err
	}
	e.updateIncidentGauges()
	return nil
}

// MarkFalsePositive discards an incident as a false alarm. All member
// threats count against the false-positive rate.
func (e *Engine) MarkFalsePositive(id string) error {
	if err := e.correlator.MarkFalsePositive(id); err != nil {
		return err
	}
	if inc, ok := e.correlator.Get(id); ok {
		for range inc.ThreatIDs {
			e.aggregator.RecordFalsePositive()
		}
	}
	e.updateIncidentGauges()
	return nil
}

// Blocklist exposes the in-memory blocklist, mainly for gateway lookups.
func (e *Engine) Blocklist() *response.Blocklist {
	return e.blocklist
}

// Sessions exposes the session registry used by session-level effects.
func (e *Engine) Sessions() *response.SessionRegistry {
	return e.sessions
}
