// Package usage implements the usage reliability analyzer: a pure function
// over a time-ordered series of counter readings that detects tampering
// indicators and emits a 0-100 reliability score with explanation.
package usage

import (
	"time"

	"github.com/Tank-Iberica/trust-engine/engine/domain"
)

// AnomalyType classifies a detected irregularity between two readings.
type AnomalyType string

const (
	// AnomalyDecrease is a counter rollback, the primary fraud indicator.
	AnomalyDecrease AnomalyType = "decrease"
	// AnomalySpike is an interval whose annualized rate exceeds the unit's
	// plausibility ceiling.
	AnomalySpike AnomalyType = "spike"
	// AnomalyGap is reserved for unexplained reading gaps. No detection rule
	// emits it today.
	AnomalyGap AnomalyType = "gap"
)

// Anomaly is one detected irregularity between two consecutive readings.
type Anomaly struct {
	Type        AnomalyType `json:"type"`
	FromDate    time.Time   `json:"from_date"`
	ToDate      time.Time   `json:"to_date"`
	FromValue   float64     `json:"from_value"`
	ToValue     float64     `json:"to_value"`
	Description string      `json:"description"`
}

// DataPoint is one reading enriched with interval statistics. The first point
// of a series has all derived fields nil.
type DataPoint struct {
	Date         time.Time `json:"date"`
	Value        float64   `json:"value"`
	Delta        *float64  `json:"delta,omitempty"`
	YearsBetween *float64  `json:"years_between,omitempty"`
	RatePerYear  *float64  `json:"rate_per_year,omitempty"`
}

// Analysis is the immutable result snapshot returned by Analyze.
type Analysis struct {
	Score            int              `json:"score"`
	Label            string           `json:"label"`
	LabelKey         string           `json:"label_key"`
	Explanation      string           `json:"explanation"`
	ExplanationKey   string           `json:"explanation_key"`
	DataPoints       []DataPoint      `json:"data_points"`
	Anomalies        []Anomaly        `json:"anomalies"`
	AvgPerYear       int              `json:"avg_per_year"`
	TotalInspections int              `json:"total_inspections"`
	Unit             domain.UsageUnit `json:"unit"`
}

// HasAnomaly reports whether the analysis contains an anomaly of the given type.
func (a Analysis) HasAnomaly(t AnomalyType) bool {
	for _, an := range a.Anomalies {
		if an.Type == t {
			return true
		}
	}
	return false
}
