package baseline

import (
	"log/slog"
	"sync"
	"time"

	"hub-sentinel/internal/schema"
)

// Config configures baseline maintenance.
type Config struct {
	// ConfidenceSamples is the sample count at which confidence reaches 1.0.
	ConfidenceSamples int `yaml:"confidence_samples"`
	// ClusterRadiusKM is the distance within which an observation joins an
	// existing location cluster instead of opening a new one.
	ClusterRadiusKM float64 `yaml:"cluster_radius_km"`
	// MaxClusters bounds the location clusters kept per entity; the least
	// visited cluster is evicted first.
	MaxClusters int `yaml:"max_clusters"`
	// MaxRecent bounds the per-entity timestamp history used for velocity
	// checks.
	MaxRecent int `yaml:"max_recent"`
	// DecayAfter is the idle span after which confidence decays.
	DecayAfter time.Duration `yaml:"decay_after"`
	// DecayFactor multiplies confidence on each decay pass.
	DecayFactor float64 `yaml:"decay_factor"`
}

// DefaultConfig returns default baseline configuration.
func DefaultConfig() Config {
	return Config{
		ConfidenceSamples: 20,
		ClusterRadiusKM:   50,
		MaxClusters:       8,
		MaxRecent:         512,
		DecayAfter:        30 * 24 * time.Hour,
		DecayFactor:       0.5,
	}
}

// Store owns all behavioral baselines. Baselines are created lazily on the
// first observed event for an entity and are never deleted by the engine.
type Store struct {
	mu       sync.RWMutex
	entities map[string]*BehavioralBaseline
	cfg      Config
}

// NewStore creates an empty baseline store.
func NewStore(cfg Config) *Store {
	if cfg.ConfidenceSamples <= 0 {
		cfg.ConfidenceSamples = 20
	}
	if cfg.MaxRecent <= 0 {
		cfg.MaxRecent = 512
	}
	return &Store{
		entities: make(map[string]*BehavioralBaseline),
		cfg:      cfg,
	}
}

// Observe folds an event into the baselines of every entity it identifies.
// The user baseline (when present) also records the device used.
func (s *Store) Observe(event *schema.SecurityEvent) {
	if event.UserID != "" {
		s.observeEntity(event.UserID, EntityUser, event)
	}
	if event.DeviceID != "" {
		s.observeEntity(event.DeviceID, EntityDevice, event)
	}
}

func (s *Store) observeEntity(entityID string, entityType EntityType, event *schema.SecurityEvent) {
	s.mu.Lock()
	defer s.mu.Unlock()

	b, ok := s.entities[entityID]
	if !ok {
		b = &BehavioralBaseline{
			EntityID:   entityID,
			EntityType: entityType,
			Devices:    make(map[string]time.Time),
			FirstSeen:  event.Timestamp,
		}
		s.entities[entityID] = b
		slog.Debug("baseline created", "entity_id", entityID, "entity_type", entityType)
	}

	b.SampleCount++
	b.LastSeen = event.Timestamp

	// Confidence grows with sample count and is monotone non-decreasing on
	// the update path; only Reset and the decay task lower it.
	if c := min(1, float64(b.SampleCount)/float64(s.cfg.ConfidenceSamples)); c > b.Confidence {
		b.Confidence = c
	}

	b.recent = append(b.recent, event.Timestamp)
	if len(b.recent) > s.cfg.MaxRecent {
		b.recent = b.recent[len(b.recent)-s.cfg.MaxRecent:]
	}

	if entityType == EntityUser && event.DeviceID != "" {
		b.Devices[event.DeviceID] = event.Timestamp
	}

	if event.Location != nil {
		s.observeLocation(b, event.Location.Lat, event.Location.Lon, event.Timestamp)
	}

	switch p := event.Payload.(type) {
	case schema.AuthPayload:
		if p.Success {
			h := event.Timestamp
			b.LoginHours.Add(float64(h.Hour()) + float64(h.Minute())/60)
		}
	case schema.PaymentPayload:
		b.Transactions.Add(p.Amount)
	}
}

func (s *Store) observeLocation(b *BehavioralBaseline, lat, lon float64, ts time.Time) {
	// Join the nearest cluster inside the radius, updating its centroid as
	// an incremental mean.
	bestIdx := -1
	bestDist := s.cfg.ClusterRadiusKM
	for i, c := range b.Locations {
		if d := HaversineKM(lat, lon, c.Lat, c.Lon); d <= bestDist {
			bestDist = d
			bestIdx = i
		}
	}

	if bestIdx >= 0 {
		c := &b.Locations[bestIdx]
		c.Count++
		c.Lat += (lat - c.Lat) / float64(c.Count)
		c.Lon += (lon - c.Lon) / float64(c.Count)
		c.LastSeen = ts
		return
	}

	if s.cfg.MaxClusters > 0 && len(b.Locations) >= s.cfg.MaxClusters {
		evict := 0
		for i, c := range b.Locations {
			if c.Count < b.Locations[evict].Count {
				evict = i
			}
		}
		b.Locations = append(b.Locations[:evict], b.Locations[evict+1:]...)
	}

	b.Locations = append(b.Locations, GeoCluster{Lat: lat, Lon: lon, Count: 1, LastSeen: ts})
}

// Get returns a copy of an entity's baseline. The second return is false
// when the entity has never been observed.
func (s *Store) Get(entityID string) (*BehavioralBaseline, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	b, ok := s.entities[entityID]
	if !ok {
		return nil, false
	}
	return b.snapshot(), true
}

func (b *BehavioralBaseline) snapshot() *BehavioralBaseline {
	cp := *b
	cp.Locations = append([]GeoCluster(nil), b.Locations...)
	cp.Devices = make(map[string]time.Time, len(b.Devices))
	for k, v := range b.Devices {
		cp.Devices[k] = v
	}
	cp.recent = append([]time.Time(nil), b.recent...)
	return &cp
}

// Reset clears an entity's profile back to an empty state. This is the
// explicit confidence reset called out by the baseline contract.
func (s *Store) Reset(entityID string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	b, ok := s.entities[entityID]
	if !ok {
		return false
	}
	s.entities[entityID] = &BehavioralBaseline{
		EntityID:   entityID,
		EntityType: b.EntityType,
		Devices:    make(map[string]time.Time),
	}
	slog.Info("baseline reset", "entity_id", entityID)
	return true
}

// Decay lowers confidence for entities idle beyond the configured horizon.
// Run from the background scheduler; never blocks event processing for long.
func (s *Store) Decay(now time.Time) int {
	if s.cfg.DecayAfter <= 0 || s.cfg.DecayFactor <= 0 || s.cfg.DecayFactor >= 1 {
		return 0
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	decayed := 0
	cutoff := now.Add(-s.cfg.DecayAfter)
	for _, b := range s.entities {
		if b.LastSeen.Before(cutoff) && b.Confidence > 0 {
			b.Confidence *= s.cfg.DecayFactor
			decayed++
		}
	}
	if decayed > 0 {
		slog.Debug("baseline confidence decayed", "entities", decayed)
	}
	return decayed
}

// Len returns the number of tracked entities.
func (s *Store) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.entities)
}
