package response

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"time"
)

// ErrUnknownAction is returned when no effect is registered for a kind.
var ErrUnknownAction = errors.New("unknown response action")

// IncidentRecorder is the slice of the incident store the orchestrator
// needs: marking mitigation started and recording executed actions.
type IncidentRecorder interface {
	BeginMitigation(incidentID string) error
	RecordAction(incidentID, action string) error
}

// ThreatRecorder records executed mitigations on threats.
type ThreatRecorder interface {
	AppendMitigation(threatID, action string)
}

// Config tunes the orchestrator.
type Config struct {
	// ActionTimeout bounds each effect execution.
	ActionTimeout time.Duration `yaml:"action_timeout"`
}

// DefaultConfig returns default orchestration settings.
func DefaultConfig() Config {
	return Config{ActionTimeout: 5 * time.Second}
}

// Orchestrator executes response actions through registered effects.
// Execution is idempotent per (incident, action) pair: a pair that already
// executed is never re-run, while a failed pair is retried on its existing
// record.
type Orchestrator struct {
	mu      sync.Mutex
	effects map[ActionKind]MitigationEffect
	// records indexes action records by scope key and kind.
	records map[string]*AutomatedResponseAction
	// inflight marks keys whose effect is currently executing, so a
	// concurrent Respond for the same pair cannot run it a second time.
	inflight map[string]bool
	// ordered keeps records in creation order for listing.
	ordered []*AutomatedResponseAction

	incidents IncidentRecorder
	threats   ThreatRecorder
	cfg       Config

	// OnActionFailure, when set, is called after each failed execution.
	OnActionFailure func(kind ActionKind)
}

// NewOrchestrator creates an orchestrator with the given effect set.
// Incident and threat recorders may be nil in tests.
func NewOrchestrator(effects []MitigationEffect, incidents IncidentRecorder, threats ThreatRecorder, cfg Config) *Orchestrator {
	if cfg.ActionTimeout <= 0 {
		cfg.ActionTimeout = 5 * time.Second
	}
	o := &Orchestrator{
		effects:   make(map[ActionKind]MitigationEffect, len(effects)),
		records:   make(map[string]*AutomatedResponseAction),
		inflight:  make(map[string]bool),
		incidents: incidents,
		threats:   threats,
		cfg:       cfg,
	}
	for _, e := range effects {
		o.effects[e.Kind()] = e
	}
	return o
}

// RegisterEffect adds or replaces the effect for one action kind.
func (o *Orchestrator) RegisterEffect(e MitigationEffect) {
	o.mu.Lock()
	o.effects[e.Kind()] = e
	o.mu.Unlock()
}

// Respond executes the named actions for a threat, best effort and in
// order: one failing action does not stop the rest. When the threat belongs
// to an incident, the incident moves to mitigating before the first action
// runs and every executed action lands in its phase bucket.
func (o *Orchestrator) Respond(ctx context.Context, incidentID, threatID string, target Target, actions []string) []*AutomatedResponseAction {
	if len(actions) == 0 {
		return nil
	}

	if incidentID != "" && o.incidents != nil {
		if err := o.incidents.BeginMitigation(incidentID); err != nil {
			slog.Warn("could not begin mitigation",
				"incident_id", incidentID,
				"error", err)
		}
	}

	results := make([]*AutomatedResponseAction, 0, len(actions))
	for _, name := range actions {
		results = append(results, o.execute(ctx, incidentID, threatID, ActionKind(name), target))
	}
	return results
}

// execute runs one action under the idempotence rule and records the
// outcome.
func (o *Orchestrator) execute(ctx context.Context, incidentID, threatID string, kind ActionKind, target Target) *AutomatedResponseAction {
	o.mu.Lock()
	key := recordKey(incidentID, threatID, kind)
	rec, seen := o.records[key]
	if seen && rec.Status == StatusExecuted {
		// Already done for this scope; never run twice.
		o.mu.Unlock()
		return rec
	}
	if seen && o.inflight[key] {
		// A concurrent caller is mid-execution; hand back its record.
		o.mu.Unlock()
		return rec
	}
	if !seen {
		rec = newAction(incidentID, threatID, kind, target)
		o.records[key] = rec
		o.ordered = append(o.ordered, rec)
	}
	rec.Attempts++
	o.inflight[key] = true
	effect, ok := o.effects[kind]
	o.mu.Unlock()

	defer func() {
		o.mu.Lock()
		delete(o.inflight, key)
		o.mu.Unlock()
	}()

	if !ok {
		o.fail(rec, fmt.Errorf("%w: %s", ErrUnknownAction, kind))
		return rec
	}

	execCtx, cancel := context.WithTimeout(ctx, o.cfg.ActionTimeout)
	defer cancel()
	result, err := effect.Execute(execCtx, target)
	if err != nil {
		if errors.Is(err, context.DeadlineExceeded) {
			err = fmt.Errorf("%s timed out after %s", kind, o.cfg.ActionTimeout)
		}
		o.fail(rec, err)
		return rec
	}

	o.mu.Lock()
	rec.Status = StatusExecuted
	rec.Result = result
	rec.Error = ""
	rec.ExecutedAt = time.Now().UTC()
	o.mu.Unlock()

	if incidentID != "" && o.incidents != nil {
		if err := o.incidents.RecordAction(incidentID, string(kind)); err != nil {
			slog.Warn("could not record incident action",
				"incident_id", incidentID,
				"action", kind,
				"error", err)
		}
	}
	if o.threats != nil {
		o.threats.AppendMitigation(threatID, string(kind))
	}

	slog.Info("response action executed",
		"action", kind,
		"incident_id", incidentID,
		"threat_id", threatID,
		"result", result)
	return rec
}

func (o *Orchestrator) fail(rec *AutomatedResponseAction, err error) {
	o.mu.Lock()
	rec.Status = StatusFailed
	rec.Error = err.Error()
	o.mu.Unlock()

	slog.Error("response action failed",
		"action", rec.Kind,
		"incident_id", rec.IncidentID,
		"threat_id", rec.ThreatID,
		"attempts", rec.Attempts,
		"error", err)

	if o.OnActionFailure != nil {
		o.OnActionFailure(rec.Kind)
	}
}

// Rollback undoes an executed action and marks its record rolled back.
func (o *Orchestrator) Rollback(ctx context.Context, actionID string) error {
	o.mu.Lock()
	var rec *AutomatedResponseAction
	for _, r := range o.ordered {
		if r.ID == actionID {
			rec = r
			break
		}
	}
	if rec == nil {
		o.mu.Unlock()
		return fmt.Errorf("unknown action record %s", actionID)
	}
	if rec.Status != StatusExecuted {
		o.mu.Unlock()
		return fmt.Errorf("action %s is %s, only executed actions roll back", actionID, rec.Status)
	}
	effect, ok := o.effects[rec.Kind]
	o.mu.Unlock()

	if !ok {
		return fmt.Errorf("%w: %s", ErrUnknownAction, rec.Kind)
	}

	rollbackCtx, cancel := context.WithTimeout(ctx, o.cfg.ActionTimeout)
	defer cancel()

	if err := effect.Rollback(rollbackCtx, rec.Target); err != nil {
		return fmt.Errorf("rollback %s: %w", rec.Kind, err)
	}

	o.mu.Lock()
	rec.Status = StatusRolledBack
	o.mu.Unlock()

	slog.Info("response action rolled back", "action", rec.Kind, "action_id", actionID)
	return nil
}

// Actions returns copies of all action records, oldest first. An empty
// incident ID matches all.
func (o *Orchestrator) Actions(incidentID string) []*AutomatedResponseAction {
	o.mu.Lock()
	defer o.mu.Unlock()

	var out []*AutomatedResponseAction
	for _, rec := range o.ordered {
		if incidentID != "" && rec.IncidentID != incidentID {
			continue
		}
		cp := *rec
		out = append(out, &cp)
	}
	sort.SliceStable(out, func(i, j int) bool {
		return out[i].CreatedAt.Before(out[j].CreatedAt)
	})
	return out
}

// recordKey scopes idempotence to the incident when there is one,
// otherwise to the threat.
func recordKey(incidentID, threatID string, kind ActionKind) string {
	if incidentID != "" {
		return "incident:" + incidentID + ":" + string(kind)
	}
	return "threat:" + threatID + ":" + string(kind)
}
