// Package profile maintains usage reliability fingerprints in Qdrant.
// Every served analysis is reduced to a small feature vector; nearest
// neighbour search over those vectors lets operators find vehicles whose
// usage histories show the same tampering pattern (a common signature of
// rolled-back fleet listings).
package profile

import (
	"time"

	"github.com/Tank-Iberica/trust-engine/engine/domain"
	"github.com/Tank-Iberica/trust-engine/engine/usage"
	"github.com/google/uuid"
)

// SubjectUsageAnalyzed is the NATS subject carrying analysis events.
const SubjectUsageAnalyzed = "trust.usage.analyzed"

// AnalysisEvent is published by the API for every served usage analysis and
// consumed by the profiler worker.
type AnalysisEvent struct {
	VehicleID  string         `json:"vehicle_id"`
	Analysis   usage.Analysis `json:"analysis"`
	OccurredAt time.Time      `json:"occurred_at"`
}

// Dims is the fingerprint vector dimensionality.
const Dims = 5

// Caps keep count features bounded before normalization.
const (
	maxAnomalyCount    = 5
	maxInspectionCount = 20
)

// Fingerprint reduces an analysis to a normalized feature vector. The same
// analysis always yields the same vector.
func Fingerprint(a usage.Analysis) []float32 {
	var decreases, spikes float64
	for _, an := range a.Anomalies {
		switch an.Type {
		case usage.AnomalyDecrease:
			decreases++
		case usage.AnomalySpike:
			spikes++
		}
	}

	maxRate := a.Unit.MaxReasonablePerYear()
	avgNorm := 0.0
	if maxRate > 0 {
		avgNorm = clamp01(float64(a.AvgPerYear) / maxRate)
	}

	return []float32{
		float32(a.Score) / 100,
		float32(clamp01(decreases / maxAnomalyCount)),
		float32(clamp01(spikes / maxAnomalyCount)),
		float32(avgNorm),
		float32(clamp01(float64(a.TotalInspections) / maxInspectionCount)),
	}
}

// PointID derives the stable Qdrant point ID for a vehicle, so re-analysis
// overwrites the previous fingerprint instead of accumulating duplicates.
func PointID(vehicleID string) string {
	return uuid.NewSHA1(uuid.NameSpaceOID, []byte("vehicle:"+vehicleID)).String()
}

func clamp01(v float64) float64 {
	if v < 0 {
		return 0
	}
	if v > 1 {
		return 1
	}
	return v
}

// Match is one similarity search hit.
type Match struct {
	VehicleID string           `json:"vehicle_id"`
	Score     float32          `json:"score"`
	LabelKey  string           `json:"label_key"`
	Unit      domain.UsageUnit `json:"unit"`
}

func unitFromPayload(s string) domain.UsageUnit {
	u := domain.UsageUnit(s)
	if domain.ValidUsageUnits[u] {
		return u
	}
	return ""
}
