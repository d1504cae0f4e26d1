package metrics

import (
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"hub-sentinel/internal/schema"
)

func TestMetricsWindowCounts(t *testing.T) {
	a := NewAggregator()

	for i := 0; i < 10; i++ {
		a.RecordEvent()
	}
	a.RecordThreat(schema.SeverityHigh, 2*time.Second)
	a.RecordThreat(schema.SeverityHigh, 4*time.Second)
	a.RecordThreat(schema.SeverityLow, time.Second)
	a.RecordIncidentOpened()
	a.RecordIncidentAcknowledged(time.Minute)
	a.RecordIncidentResolved(10 * time.Minute)

	m := a.Metrics(1, 0, 0)
	if m.EventsProcessed != 10 {
		t.Errorf("events = %d, want 10", m.EventsProcessed)
	}
	if m.ThreatsDetected != 3 {
		t.Errorf("threats = %d, want 3", m.ThreatsDetected)
	}
	if m.ThreatsBySeverity[schema.SeverityHigh] != 2 {
		t.Errorf("high threats = %d, want 2", m.ThreatsBySeverity[schema.SeverityHigh])
	}
	if m.IncidentsOpened != 1 || m.IncidentsResolved != 1 {
		t.Errorf("incidents = (%d, %d), want (1, 1)", m.IncidentsOpened, m.IncidentsResolved)
	}
	// (2s + 4s + 1s) / 3
	if got := m.MeanTimeToDetect.Round(time.Millisecond); got != 2333*time.Millisecond {
		t.Errorf("MTTD = %v, want ~2.333s", m.MeanTimeToDetect)
	}
	if m.MeanTimeToRespond != time.Minute {
		t.Errorf("MTTRespond = %v, want 1m", m.MeanTimeToRespond)
	}
	if m.MeanTimeToResolve != 10*time.Minute {
		t.Errorf("MTTResolve = %v, want 10m", m.MeanTimeToResolve)
	}
}

func TestFalsePositiveRate(t *testing.T) {
	a := NewAggregator()

	for i := 0; i < 4; i++ {
		a.RecordThreat(schema.SeverityMedium, time.Second)
	}
	a.RecordFalsePositive()

	m := a.Metrics(1, 0, 0)
	if m.FalsePositiveRate != 0.25 {
		t.Errorf("false positive rate = %v, want 0.25", m.FalsePositiveRate)
	}

	empty := NewAggregator().Metrics(1, 0, 0)
	if empty.FalsePositiveRate != 0 {
		t.Errorf("rate with no threats = %v, want 0", empty.FalsePositiveRate)
	}
}

func TestSecurityScore(t *testing.T) {
	tests := []struct {
		high, critical int
		want           int
	}{
		{0, 0, 100},
		{1, 0, 95},
		{0, 1, 90},
		{2, 3, 60},
		{10, 10, 0},
		{30, 0, 0},
	}
	for _, tt := range tests {
		if got := Score(tt.high, tt.critical); got != tt.want {
			t.Errorf("Score(%d, %d) = %d, want %d", tt.high, tt.critical, got, tt.want)
		}
	}
}

func TestWindowExcludesOldBuckets(t *testing.T) {
	a := NewAggregator()
	base := time.Now()

	// Record three hours ago, then query a one-hour window.
	a.now = func() time.Time { return base.Add(-3 * time.Hour) }
	a.RecordEvent()
	a.RecordThreat(schema.SeverityHigh, time.Second)

	a.now = func() time.Time { return base }
	a.RecordEvent()

	m := a.Metrics(1, 0, 0)
	if m.EventsProcessed != 1 {
		t.Errorf("events in 1h window = %d, want 1", m.EventsProcessed)
	}
	if m.ThreatsDetected != 0 {
		t.Errorf("threats in 1h window = %d, want 0", m.ThreatsDetected)
	}

	wide := a.Metrics(6, 0, 0)
	if wide.EventsProcessed != 2 {
		t.Errorf("events in 6h window = %d, want 2", wide.EventsProcessed)
	}
}

func TestPruneDropsExpiredBuckets(t *testing.T) {
	a := NewAggregator()
	base := time.Now()

	a.now = func() time.Time { return base.Add(-25 * time.Hour) }
	a.RecordEvent()
	a.now = func() time.Time { return base }
	a.RecordEvent()

	if dropped := a.Prune(); dropped != 1 {
		t.Errorf("pruned = %d, want 1", dropped)
	}
	if dropped := a.Prune(); dropped != 0 {
		t.Errorf("second prune = %d, want 0", dropped)
	}
}

func TestHoursClamped(t *testing.T) {
	a := NewAggregator()
	a.RecordEvent()

	if m := a.Metrics(0, 0, 0); m.WindowHours != 1 {
		t.Errorf("window for 0 hours = %d, want 1", m.WindowHours)
	}
	if m := a.Metrics(100, 0, 0); m.WindowHours != 24 {
		t.Errorf("window for 100 hours = %d, want 24", m.WindowHours)
	}
}

func TestCollectorsRegister(t *testing.T) {
	reg := prometheus.NewRegistry()
	c := NewCollectors(reg)

	c.EventsTotal.Inc()
	c.ThreatsTotal.WithLabelValues("high").Inc()
	c.IncidentsOpen.Set(2)
	c.SecurityScoreGauge.Set(90)

	families, err := reg.Gather()
	if err != nil {
		t.Fatalf("gather: %v", err)
	}

	// Unlabeled counters and gauges export at zero; only the untouched
	// rule_eval_failures vec has no series yet.
	got := make(map[string]bool, len(families))
	for _, f := range families {
		got[f.GetName()] = true
	}
	want := []string{
		"sentinel_events_total",
		"sentinel_events_rejected_total",
		"sentinel_threats_total",
		"sentinel_incidents_open",
		"sentinel_response_actions_failed_total",
		"sentinel_security_score",
	}
	for _, name := range want {
		if !got[name] {
			t.Errorf("family %s missing from gather", name)
		}
	}
	if got["sentinel_rule_eval_failures_total"] {
		t.Error("rule_eval_failures exported without any series")
	}

	c.RuleEvalFailures.WithLabelValues("rule-1").Inc()
	families, err = reg.Gather()
	if err != nil {
		t.Fatalf("gather: %v", err)
	}
	if len(families) != 7 {
		t.Errorf("metric families = %d, want 7", len(families))
	}
}
