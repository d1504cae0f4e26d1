// Package anomaly scores events against behavioral baselines. Every check
// is gated on baseline confidence so that entities still in their learning
// period never produce findings.
package anomaly

import (
	"fmt"
	"log/slog"
	"time"

	"hub-sentinel/internal/baseline"
	"hub-sentinel/internal/schema"
)

// Check names the anomaly checks the detector runs.
type Check string

const (
	CheckLocation  Check = "location"
	CheckTimeOfDay Check = "time_of_day"
	CheckVelocity  Check = "velocity"
)

// Finding is one anomaly detected for an event.
type Finding struct {
	Check       Check           `json:"check"`
	EntityID    string          `json:"entity_id"`
	Severity    schema.Severity `json:"severity"`
	Confidence  float64         `json:"confidence"`
	Deviation   float64         `json:"deviation"`
	Description string          `json:"description"`
}

// Config tunes the anomaly checks.
type Config struct {
	// MinConfidence is the baseline confidence required before any check
	// runs for an entity.
	MinConfidence float64 `yaml:"min_confidence"`
	// MaxDistanceKM is the distance from every known location cluster
	// beyond which a location is anomalous.
	MaxDistanceKM float64 `yaml:"max_distance_km"`
	// TimeDeviationHours is the circular distance from the mean login hour
	// beyond which a login time is anomalous.
	TimeDeviationHours float64 `yaml:"time_deviation_hours"`
	// MinTimeSamples is the login-hour history required before the
	// time-of-day check runs.
	MinTimeSamples int `yaml:"min_time_samples"`
	// VelocityMultiplier flags entities whose recent event rate exceeds
	// this multiple of their historical rate.
	VelocityMultiplier float64 `yaml:"velocity_multiplier"`
	// VelocityWindow is the trailing window for the recent rate.
	VelocityWindow time.Duration `yaml:"velocity_window"`
	// MinVelocityEvents is the recent event count required before the
	// velocity check runs.
	MinVelocityEvents int `yaml:"min_velocity_events"`
}

// DefaultConfig returns default anomaly detection thresholds.
func DefaultConfig() Config {
	return Config{
		MinConfidence:      0.7,
		MaxDistanceKM:      1000,
		TimeDeviationHours: 8,
		MinTimeSamples:     10,
		VelocityMultiplier: 10,
		VelocityWindow:     5 * time.Minute,
		MinVelocityEvents:  20,
	}
}

const (
	locationConfidence = 0.8
	timeConfidence     = 0.6
)

// Detector runs behavioral checks against the baseline store.
type Detector struct {
	baselines *baseline.Store
	cfg       Config
}

// NewDetector creates a detector over the given baseline store.
func NewDetector(baselines *baseline.Store, cfg Config) *Detector {
	return &Detector{baselines: baselines, cfg: cfg}
}

// CheckEvent runs every applicable anomaly check for the event and returns
// the findings. Entities without a confident baseline yield none.
func (d *Detector) CheckEvent(event *schema.SecurityEvent) []Finding {
	entityID := event.EntityKey()
	if entityID == "" {
		return nil
	}

	b, ok := d.baselines.Get(entityID)
	if !ok || b.Confidence < d.cfg.MinConfidence {
		return nil
	}

	var findings []Finding

	if f, ok := d.checkLocation(event, b); ok {
		findings = append(findings, f)
	}
	if f, ok := d.checkTimeOfDay(event, b); ok {
		findings = append(findings, f)
	}
	if f, ok := d.checkVelocity(event, b); ok {
		findings = append(findings, f)
	}

	if len(findings) > 0 {
		slog.Debug("anomaly findings",
			"entity_id", entityID,
			"count", len(findings),
			"event_type", event.Type)
	}
	return findings
}

// RunCheck runs one named check, used by rules that bind a specific check.
func (d *Detector) RunCheck(name string, event *schema.SecurityEvent) (Finding, bool) {
	entityID := event.EntityKey()
	if entityID == "" {
		return Finding{}, false
	}
	b, ok := d.baselines.Get(entityID)
	if !ok || b.Confidence < d.cfg.MinConfidence {
		return Finding{}, false
	}

	switch Check(name) {
	case CheckLocation:
		return d.checkLocation(event, b)
	case CheckTimeOfDay:
		return d.checkTimeOfDay(event, b)
	case CheckVelocity:
		return d.checkVelocity(event, b)
	default:
		return Finding{}, false
	}
}

func (d *Detector) checkLocation(event *schema.SecurityEvent, b *baseline.BehavioralBaseline) (Finding, bool) {
	if event.Location == nil {
		return Finding{}, false
	}
	dist, known := b.NearestClusterKM(event.Location.Lat, event.Location.Lon)
	if !known || dist <= d.cfg.MaxDistanceKM {
		return Finding{}, false
	}
	return Finding{
		Check:      CheckLocation,
		EntityID:   b.EntityID,
		Severity:   schema.SeverityHigh,
		Confidence: locationConfidence,
		Deviation:  dist,
		Description: fmt.Sprintf("event %.0f km from nearest known location (limit %.0f km)",
			dist, d.cfg.MaxDistanceKM),
	}, true
}

func (d *Detector) checkTimeOfDay(event *schema.SecurityEvent, b *baseline.BehavioralBaseline) (Finding, bool) {
	if b.LoginHours.Samples < d.cfg.MinTimeSamples {
		return Finding{}, false
	}
	hour := float64(event.Timestamp.Hour()) + float64(event.Timestamp.Minute())/60
	dev := b.LoginHours.DeviationHours(hour)
	if dev <= d.cfg.TimeDeviationHours {
		return Finding{}, false
	}
	return Finding{
		Check:      CheckTimeOfDay,
		EntityID:   b.EntityID,
		Severity:   schema.SeverityMedium,
		Confidence: timeConfidence,
		Deviation:  dev,
		Description: fmt.Sprintf("event %.1f hours from usual activity time (limit %.1f)",
			dev, d.cfg.TimeDeviationHours),
	}, true
}

func (d *Detector) checkVelocity(event *schema.SecurityEvent, b *baseline.BehavioralBaseline) (Finding, bool) {
	if d.cfg.VelocityMultiplier <= 0 || d.cfg.VelocityWindow <= 0 {
		return Finding{}, false
	}
	recent := b.RecentRate(event.Timestamp, d.cfg.VelocityWindow)
	if recent*d.cfg.VelocityWindow.Minutes() < float64(d.cfg.MinVelocityEvents) {
		return Finding{}, false
	}
	historical := b.HistoricalRate()
	if historical <= 0 {
		return Finding{}, false
	}
	ratio := recent / historical
	if ratio <= d.cfg.VelocityMultiplier {
		return Finding{}, false
	}

	// Confidence scales with how far past the multiplier the burst is,
	// capped below the location check.
	conf := 0.5 + 0.05*(ratio/d.cfg.VelocityMultiplier-1)
	if conf > 0.75 {
		conf = 0.75
	}

	// Severity escalates with the size of the burst.
	severity := schema.SeverityMedium
	switch {
	case ratio > 4*d.cfg.VelocityMultiplier:
		severity = schema.SeverityCritical
	case ratio > 2*d.cfg.VelocityMultiplier:
		severity = schema.SeverityHigh
	}

	return Finding{
		Check:      CheckVelocity,
		EntityID:   b.EntityID,
		Severity:   severity,
		Confidence: conf,
		Deviation:  ratio,
		Description: fmt.Sprintf("recent rate %.1f events/min is %.0fx the historical rate",
			recent, ratio),
	}, true
}
