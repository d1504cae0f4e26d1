// Package metrics aggregates security posture statistics over a rolling
// window of five-minute buckets.
package metrics

import (
	"sync"
	"time"

	"hub-sentinel/internal/schema"
)

const (
	bucketSize = 5 * time.Minute
	retention  = 24 * time.Hour
)

// SecurityMetrics is a point-in-time summary of the engine's posture over a
// query window.
type SecurityMetrics struct {
	WindowHours     int   `json:"window_hours"`
	EventsProcessed int64 `json:"events_processed"`

	ThreatsDetected   int64                     `json:"threats_detected"`
	ThreatsBySeverity map[schema.Severity]int64 `json:"threats_by_severity"`

	IncidentsOpened   int64 `json:"incidents_opened"`
	IncidentsResolved int64 `json:"incidents_resolved"`

	// MeanTimeToDetect is event occurrence to threat detection.
	// MeanTimeToRespond is incident creation to acknowledgement.
	// MeanTimeToResolve is incident creation to resolution.
	MeanTimeToDetect  time.Duration `json:"mean_time_to_detect"`
	MeanTimeToRespond time.Duration `json:"mean_time_to_respond"`
	MeanTimeToResolve time.Duration `json:"mean_time_to_resolve"`

	// FalsePositiveRate is the share of detected threats later resolved
	// without any blocking mitigation having fired.
	FalsePositiveRate float64 `json:"false_positive_rate"`

	// SecurityScore is 0-100, penalized by unresolved high and critical
	// incidents.
	SecurityScore int `json:"security_score"`
}

// bucket accumulates counts for one five-minute span.
type bucket struct {
	events   int64
	threats  map[schema.Severity]int64
	opened   int64
	resolved int64

	detectTotal  time.Duration
	detectCount  int64
	respondTotal time.Duration
	respondCount int64
	resolveTotal time.Duration
	resolveCount int64

	falsePositives int64
}

func newBucket() *bucket {
	return &bucket{threats: make(map[schema.Severity]int64)}
}

// Aggregator folds pipeline activity into time buckets. All methods are
// safe for concurrent use.
type Aggregator struct {
	mu      sync.Mutex
	buckets map[int64]*bucket
	now     func() time.Time
}

// NewAggregator creates an empty aggregator.
func NewAggregator() *Aggregator {
	return &Aggregator{
		buckets: make(map[int64]*bucket),
		now:     time.Now,
	}
}

func (a *Aggregator) current() *bucket {
	key := a.now().Unix() / int64(bucketSize.Seconds())
	b, ok := a.buckets[key]
	if !ok {
		b = newBucket()
		a.buckets[key] = b
	}
	return b
}

// RecordEvent counts one processed event.
func (a *Aggregator) RecordEvent() {
	a.mu.Lock()
	a.current().events++
	a.mu.Unlock()
}

// RecordThreat counts a detected threat and its detection latency.
func (a *Aggregator) RecordThreat(severity schema.Severity, detectLatency time.Duration) {
	a.mu.Lock()
	b := a.current()
	b.threats[severity]++
	if detectLatency >= 0 {
		b.detectTotal += detectLatency
		b.detectCount++
	}
	a.mu.Unlock()
}

// RecordIncidentOpened counts a newly opened incident.
func (a *Aggregator) RecordIncidentOpened() {
	a.mu.Lock()
	a.current().opened++
	a.mu.Unlock()
}

// RecordIncidentAcknowledged records the open-to-acknowledge latency.
func (a *Aggregator) RecordIncidentAcknowledged(latency time.Duration) {
	a.mu.Lock()
	b := a.current()
	if latency >= 0 {
		b.respondTotal += latency
		b.respondCount++
	}
	a.mu.Unlock()
}

// RecordIncidentResolved counts a resolution and its open-to-resolve
// latency.
func (a *Aggregator) RecordIncidentResolved(latency time.Duration) {
	a.mu.Lock()
	b := a.current()
	b.resolved++
	if latency >= 0 {
		b.resolveTotal += latency
		b.resolveCount++
	}
	a.mu.Unlock()
}

// RecordFalsePositive counts a threat resolved without a blocking
// mitigation.
func (a *Aggregator) RecordFalsePositive() {
	a.mu.Lock()
	a.current().falsePositives++
	a.mu.Unlock()
}

// Prune drops buckets older than the retention horizon. Run from the
// background scheduler.
func (a *Aggregator) Prune() int {
	a.mu.Lock()
	defer a.mu.Unlock()

	horizon := a.now().Add(-retention).Unix() / int64(bucketSize.Seconds())
	dropped := 0
	for key := range a.buckets {
		if key < horizon {
			delete(a.buckets, key)
			dropped++
		}
	}
	return dropped
}

// Metrics summarizes the trailing window. Hours outside [1, 24] clamp to
// the retention bounds. The open incident counts feed the security score.
func (a *Aggregator) Metrics(hours int, openHigh, openCritical int) SecurityMetrics {
	if hours < 1 {
		hours = 1
	}
	if maxHours := int(retention.Hours()); hours > maxHours {
		hours = maxHours
	}

	a.mu.Lock()
	defer a.mu.Unlock()

	from := a.now().Add(-time.Duration(hours) * time.Hour).Unix() / int64(bucketSize.Seconds())

	m := SecurityMetrics{
		WindowHours:       hours,
		ThreatsBySeverity: make(map[schema.Severity]int64),
		SecurityScore:     Score(openHigh, openCritical),
	}

	var (
		detectTotal, respondTotal, resolveTotal time.Duration
		detectCount, respondCount, resolveCount int64
		falsePositives                          int64
	)

	for key, b := range a.buckets {
		if key < from {
			continue
		}
		m.EventsProcessed += b.events
		for sev, n := range b.threats {
			m.ThreatsBySeverity[sev] += n
			m.ThreatsDetected += n
		}
		m.IncidentsOpened += b.opened
		m.IncidentsResolved += b.resolved

		detectTotal += b.detectTotal
		detectCount += b.detectCount
		respondTotal += b.respondTotal
		respondCount += b.respondCount
		resolveTotal += b.resolveTotal
		resolveCount += b.resolveCount
		falsePositives += b.falsePositives
	}

	if detectCount > 0 {
		m.MeanTimeToDetect = detectTotal / time.Duration(detectCount)
	}
	if respondCount > 0 {
		m.MeanTimeToRespond = respondTotal / time.Duration(respondCount)
	}
	if resolveCount > 0 {
		m.MeanTimeToResolve = resolveTotal / time.Duration(resolveCount)
	}
	if m.ThreatsDetected > 0 {
		m.FalsePositiveRate = float64(falsePositives) / float64(m.ThreatsDetected)
	}
	return m
}

// Score computes the 0-100 security score: 100 minus ten per unresolved
// critical incident and five per unresolved high incident, floored at zero.
func Score(openHigh, openCritical int) int {
	score := 100 - 10*openCritical - 5*openHigh
	if score < 0 {
		score = 0
	}
	return score
}
