package incident

import (
	"log/slog"
	"sort"
	"sync"
	"time"

	"hub-sentinel/internal/schema"
	"hub-sentinel/internal/threat"
)

// Config tunes incident correlation.
type Config struct {
	// Window is the default span within which threats of one category
	// merge into the same open incident.
	Window time.Duration `yaml:"window"`
	// CategoryWindows overrides the window per category.
	CategoryWindows map[schema.Category]time.Duration `yaml:"category_windows"`
}

// DefaultConfig returns default correlation configuration.
func DefaultConfig() Config {
	return Config{
		Window: time.Hour,
		CategoryWindows: map[schema.Category]time.Duration{
			schema.CategoryAuthentication: 30 * time.Minute,
			schema.CategoryPayment:        2 * time.Hour,
		},
	}
}

// Correlator owns all incidents and folds threats into them. One open
// incident per category is active at a time; within the merge window a new
// threat joins it instead of opening another.
type Correlator struct {
	mu        sync.RWMutex
	incidents map[string]*Incident
	// active maps a category to its current open-or-active incident.
	active map[schema.Category]string
	cfg    Config
}

// NewCorrelator creates an empty correlator.
func NewCorrelator(cfg Config) *Correlator {
	if cfg.Window <= 0 {
		cfg.Window = time.Hour
	}
	return &Correlator{
		incidents: make(map[string]*Incident),
		active:    make(map[schema.Category]string),
		cfg:       cfg,
	}
}

// Correlate folds a threat into incident state. High and critical threats
// open a new incident when none is active in their category's window;
// medium and low threats only ever fold into an already-active incident.
// The returned incident is a copy; created reports whether a new incident
// was opened.
func (c *Correlator) Correlate(t *threat.Event) (inc *Incident, created bool) {
	now := time.Now().UTC()

	c.mu.Lock()
	defer c.mu.Unlock()

	if cur := c.activeIncident(t.Category, now); cur != nil {
		cur.absorb(t, now)
		slog.Debug("threat merged into incident",
			"incident_id", cur.ID,
			"threat_id", t.ID,
			"threats", len(cur.ThreatIDs))
		return cur.clone(), false
	}

	if t.Severity.Rank() < schema.SeverityHigh.Rank() {
		return nil, false
	}

	opened := newIncident(t, now)
	c.incidents[opened.ID] = opened
	c.active[t.Category] = opened.ID
	slog.Info("incident opened",
		"incident_id", opened.ID,
		"category", opened.Category,
		"severity", opened.Severity,
		"threat_id", t.ID)
	return opened.clone(), true
}

// activeIncident returns the category's current mergeable incident, clearing
// the index entry when it has lapsed or left the active states.
func (c *Correlator) activeIncident(category schema.Category, now time.Time) *Incident {
	id, ok := c.active[category]
	if !ok {
		return nil
	}
	inc, ok := c.incidents[id]
	if !ok {
		delete(c.active, category)
		return nil
	}
	switch inc.Status {
	case StatusOpen, StatusInvestigating, StatusMitigating:
	default:
		delete(c.active, category)
		return nil
	}
	if now.Sub(inc.UpdatedAt) > c.window(category) {
		delete(c.active, category)
		return nil
	}
	return inc
}

func (c *Correlator) window(category schema.Category) time.Duration {
	if w, ok := c.cfg.CategoryWindows[category]; ok && w > 0 {
		return w
	}
	return c.cfg.Window
}

// Get returns a copy of the incident with the given ID.
func (c *Correlator) Get(id string) (*Incident, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()

	inc, ok := c.incidents[id]
	if !ok {
		return nil, false
	}
	return inc.clone(), true
}

// List returns copies of incidents, newest first. An empty status matches
// all.
func (c *Correlator) List(status Status) []*Incident {
	c.mu.RLock()
	defer c.mu.RUnlock()

	var out []*Incident
	for _, inc := range c.incidents {
		if status != "" && inc.Status != status {
			continue
		}
		out = append(out, inc.clone())
	}
	sort.Slice(out, func(i, j int) bool {
		return out[i].CreatedAt.After(out[j].CreatedAt)
	})
	return out
}

// Transition moves an incident to a new lifecycle state, stamping the
// acknowledgement and resolution times on the way through.
func (c *Correlator) Transition(id string, to Status) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.transitionLocked(id, to)
}

func (c *Correlator) transitionLocked(id string, to Status) error {
	inc, ok := c.incidents[id]
	if !ok {
		return ErrUnknownIncident
	}
	if !CanTransition(inc.Status, to) {
		slog.Warn("rejected incident transition",
			"incident_id", id,
			"from", inc.Status,
			"to", to)
		return ErrInvalidTransition
	}

	now := time.Now().UTC()
	inc.Status = to
	inc.UpdatedAt = now

	switch to {
	case StatusInvestigating:
		if inc.AcknowledgedAt.IsZero() {
			inc.AcknowledgedAt = now
		}
	case StatusResolved:
		if inc.AcknowledgedAt.IsZero() {
			inc.AcknowledgedAt = now
		}
		inc.ResolvedAt = now
	}

	slog.Info("incident transitioned", "incident_id", id, "status", to)
	return nil
}

// Acknowledge moves an open incident into investigation, recording who
// took it.
func (c *Correlator) Acknowledge(id, assignee string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if err := c.transitionLocked(id, StatusInvestigating); err != nil {
		return err
	}
	if assignee != "" {
		c.incidents[id].Assignee = assignee
	}
	return nil
}

// Resolve marks an incident resolved with a resolution note.
func (c *Correlator) Resolve(id, resolution string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if err := c.transitionLocked(id, StatusResolved); err != nil {
		return err
	}
	if resolution != "" {
		c.incidents[id].Resolution = resolution
	}
	return nil
}

// Close archives a resolved incident.
func (c *Correlator) Close(id string) error {
	return c.Transition(id, StatusClosed)
}

// MarkFalsePositive discards an incident as a false alarm. Only allowed
// before mitigation starts.
func (c *Correlator) MarkFalsePositive(id string) error {
	return c.Transition(id, StatusFalsePositive)
}

// BeginMitigation moves an incident into the mitigating state if it is not
// already there. Called by the response orchestrator when actions start.
func (c *Correlator) BeginMitigation(id string) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	inc, ok := c.incidents[id]
	if !ok {
		return ErrUnknownIncident
	}
	if inc.Status == StatusMitigating {
		return nil
	}
	return c.transitionLocked(id, StatusMitigating)
}

// RecordAction appends an executed response action to the incident's phase
// bucket.
func (c *Correlator) RecordAction(id, action string) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	inc, ok := c.incidents[id]
	if !ok {
		return ErrUnknownIncident
	}
	inc.RecordAction(action)
	inc.UpdatedAt = time.Now().UTC()
	return nil
}

// CountByStatus returns incident counts per lifecycle state, plus the open
// high and critical counts used by the security score.
func (c *Correlator) CountByStatus() map[Status]int {
	c.mu.RLock()
	defer c.mu.RUnlock()

	out := make(map[Status]int)
	for _, inc := range c.incidents {
		out[inc.Status]++
	}
	return out
}

// OpenSeverityCounts returns the number of unresolved incidents at high and
// critical severity. Unresolved means open, investigating or mitigating.
func (c *Correlator) OpenSeverityCounts() (high, critical int) {
	c.mu.RLock()
	defer c.mu.RUnlock()

	for _, inc := range c.incidents {
		switch inc.Status {
		case StatusOpen, StatusInvestigating, StatusMitigating:
		default:
			continue
		}
		switch inc.Severity {
		case schema.SeverityHigh:
			high++
		case schema.SeverityCritical:
			critical++
		}
	}
	return high, critical
}

// Len returns the number of tracked incidents.
func (c *Correlator) Len() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.incidents)
}
