// Package baseline maintains rolling behavioral profiles per entity
// (user or device) used by the anomaly detector.
package baseline

import (
	"math"
	"time"
)

// EntityType identifies whether a baseline tracks a user or a device.
type EntityType string

const (
	EntityUser   EntityType = "user"
	EntityDevice EntityType = "device"
)

// BehavioralBaseline is the rolling statistical profile of one entity.
// Created lazily on the first observed event and updated incrementally.
type BehavioralBaseline struct {
	EntityID   string     `json:"entity_id"`
	EntityType EntityType `json:"entity_type"`

	SampleCount int       `json:"sample_count"`
	Confidence  float64   `json:"confidence"`
	FirstSeen   time.Time `json:"first_seen"`
	LastSeen    time.Time `json:"last_seen"`

	LoginHours   HourProfile          `json:"login_hours"`
	Locations    []GeoCluster         `json:"locations,omitempty"`
	Devices      map[string]time.Time `json:"devices,omitempty"`
	Transactions TxProfile            `json:"transactions"`

	// recent holds timestamps of the entity's latest events for
	// velocity checks; bounded by the store configuration.
	recent []time.Time
}

// HourProfile tracks the circular distribution of login hours.
// Circular statistics avoid the midnight wraparound problem.
type HourProfile struct {
	Samples int     `json:"samples"`
	SumSin  float64 `json:"sum_sin"`
	SumCos  float64 `json:"sum_cos"`
}

const hourRadians = 2 * math.Pi / 24

// Add records a login hour (fractional hours allowed).
func (h *HourProfile) Add(hour float64) {
	h.Samples++
	h.SumSin += math.Sin(hour * hourRadians)
	h.SumCos += math.Cos(hour * hourRadians)
}

// MeanHour returns the circular mean login hour in [0, 24).
func (h *HourProfile) MeanHour() float64 {
	if h.Samples == 0 {
		return 0
	}
	mean := math.Atan2(h.SumSin, h.SumCos) / hourRadians
	if mean < 0 {
		mean += 24
	}
	return mean
}

// DeviationHours returns the circular distance between the given hour and
// the mean login hour, always in [0, 12].
func (h *HourProfile) DeviationHours(hour float64) float64 {
	diff := math.Abs(hour - h.MeanHour())
	if diff > 12 {
		diff = 24 - diff
	}
	return diff
}

// GeoCluster is a location centroid with a visit count.
type GeoCluster struct {
	Lat      float64   `json:"lat"`
	Lon      float64   `json:"lon"`
	Count    int       `json:"count"`
	LastSeen time.Time `json:"last_seen"`
}

// TxProfile tracks transaction amount statistics using Welford's method.
type TxProfile struct {
	Count int     `json:"count"`
	Mean  float64 `json:"mean"`
	M2    float64 `json:"m2"`
}

// Add records a transaction amount.
func (t *TxProfile) Add(amount float64) {
	t.Count++
	delta := amount - t.Mean
	t.Mean += delta / float64(t.Count)
	t.M2 += delta * (amount - t.Mean)
}

// StdDev returns the standard deviation of observed amounts.
func (t *TxProfile) StdDev() float64 {
	if t.Count < 2 {
		return 0
	}
	return math.Sqrt(t.M2 / float64(t.Count))
}

// KnowsDevice reports whether the entity has used the given device before.
func (b *BehavioralBaseline) KnowsDevice(deviceID string) bool {
	_, ok := b.Devices[deviceID]
	return ok
}

// NearestClusterKM returns the haversine distance from the given point to the
// closest known location cluster. The second return is false when no
// locations have been observed yet.
func (b *BehavioralBaseline) NearestClusterKM(lat, lon float64) (float64, bool) {
	if len(b.Locations) == 0 {
		return 0, false
	}
	best := math.MaxFloat64
	for _, c := range b.Locations {
		if d := HaversineKM(lat, lon, c.Lat, c.Lon); d < best {
			best = d
		}
	}
	return best, true
}

// RecentRate returns the entity's event rate (events per minute) within the
// trailing window ending at now.
func (b *BehavioralBaseline) RecentRate(now time.Time, window time.Duration) float64 {
	if window <= 0 {
		return 0
	}
	cutoff := now.Add(-window)
	n := 0
	for _, ts := range b.recent {
		if ts.After(cutoff) {
			n++
		}
	}
	return float64(n) / window.Minutes()
}

// HistoricalRate returns the entity's long-run event rate (events per
// minute) over its whole observation span.
func (b *BehavioralBaseline) HistoricalRate() float64 {
	span := b.LastSeen.Sub(b.FirstSeen)
	if span < time.Minute {
		span = time.Minute
	}
	return float64(b.SampleCount) / span.Minutes()
}

// HaversineKM returns the great-circle distance in kilometers between two
// WGS84 coordinates.
func HaversineKM(lat1, lon1, lat2, lon2 float64) float64 {
	const earthRadiusKM = 6371.0

	toRad := func(deg float64) float64 { return deg * math.Pi / 180 }

	dLat := toRad(lat2 - lat1)
	dLon := toRad(lon2 - lon1)

	a := math.Sin(dLat/2)*math.Sin(dLat/2) +
		math.Cos(toRad(lat1))*math.Cos(toRad(lat2))*
			math.Sin(dLon/2)*math.Sin(dLon/2)

	return 2 * earthRadiusKM * math.Asin(math.Min(1, math.Sqrt(a)))
}
