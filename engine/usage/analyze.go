package usage

import (
	"fmt"
	"math"
	"sort"

	"github.com/Tank-Iberica/trust-engine/engine/domain"
)

const (
	daysPerYear = 365.25

	// minYearsForRate gates rate computation. Intervals shorter than ~5 weeks
	// (same-day duplicates, re-inspections) would blow up the annualized rate,
	// so they keep a nil rate and stay out of the statistics.
	minYearsForRate = 0.1

	penaltyDecrease    = 40
	penaltySpike       = 20
	penaltyHighCV      = 15
	penaltyModerateCV  = 5
	penaltyHighAverage = 10

	// highAverageFraction of the unit ceiling above which the mean rate is
	// suspicious on its own, independent of single-interval spikes.
	highAverageFraction = 0.8
)

// Analyze computes the reliability analysis for a vehicle's inspection
// history. It is pure and total: it never fails, never mutates its input,
// and degrades to a neutral result when fewer than two readings exist.
func Analyze(history []domain.InspectionRecord, unit domain.UsageUnit) Analysis {
	if len(history) < 2 {
		return insufficientData(history, unit)
	}

	sorted := make([]domain.InspectionRecord, len(history))
	copy(sorted, history)
	// Stable keeps the original relative order of same-day readings.
	sort.SliceStable(sorted, func(i, j int) bool {
		return sorted[i].Date.Before(sorted[j].Date)
	})

	points := derivePoints(sorted)
	anomalies := detectAnomalies(points, unit)

	var rates []float64
	for _, p := range points {
		if p.RatePerYear != nil {
			rates = append(rates, *p.RatePerYear)
		}
	}
	mean := meanOf(rates)

	score := computeScore(anomalies, rates, mean, unit)
	labelKey, label := labelFor(score)
	explKey, expl := explanationFor(score, anomalies, mean, unit, len(sorted))

	return Analysis{
		Score:            score,
		Label:            label,
		LabelKey:         labelKey,
		Explanation:      expl,
		ExplanationKey:   explKey,
		DataPoints:       points,
		Anomalies:        anomalies,
		AvgPerYear:       int(math.Round(mean)),
		TotalInspections: len(sorted),
		Unit:             unit,
	}
}

func insufficientData(history []domain.InspectionRecord, unit domain.UsageUnit) Analysis {
	points := make([]DataPoint, len(history))
	for i, rec := range history {
		points[i] = DataPoint{Date: rec.Date, Value: rec.Value}
	}
	labelKey := "insufficient_data"
	return Analysis{
		Score:            50,
		Label:            labels[labelKey],
		LabelKey:         labelKey,
		Explanation:      explanations["insufficient_data"],
		ExplanationKey:   "insufficient_data",
		DataPoints:       points,
		Anomalies:        []Anomaly{},
		AvgPerYear:       0,
		TotalInspections: len(history),
		Unit:             unit,
	}
}

// derivePoints computes per-interval delta, elapsed years, and annualized
// rate for a date-sorted series.
func derivePoints(sorted []domain.InspectionRecord) []DataPoint {
	points := make([]DataPoint, len(sorted))
	points[0] = DataPoint{Date: sorted[0].Date, Value: sorted[0].Value}

	for i := 1; i < len(sorted); i++ {
		prev, cur := sorted[i-1], sorted[i]
		delta := cur.Value - prev.Value
		years := cur.Date.Sub(prev.Date).Hours() / 24 / daysPerYear

		p := DataPoint{
			Date:         cur.Date,
			Value:        cur.Value,
			Delta:        &delta,
			YearsBetween: &years,
		}
		if years > minYearsForRate {
			rate := delta / years
			p.RatePerYear = &rate
		}
		points[i] = p
	}
	return points
}

// detectAnomalies walks consecutive pairs. A decrease always wins over a
// spike for the same pair; one pair emits at most one anomaly.
func detectAnomalies(points []DataPoint, unit domain.UsageUnit) []Anomaly {
	var anomalies []Anomaly
	for i := 1; i < len(points); i++ {
		prev, cur := points[i-1], points[i]
		switch {
		case *cur.Delta < 0:
			anomalies = append(anomalies, Anomaly{
				Type:      AnomalyDecrease,
				FromDate:  prev.Date,
				ToDate:    cur.Date,
				FromValue: prev.Value,
				ToValue:   cur.Value,
				Description: fmt.Sprintf("counter dropped from %.0f %s to %.0f %s between %s and %s",
					prev.Value, unit.Label(), cur.Value, unit.Label(),
					prev.Date.Format("2006-01-02"), cur.Date.Format("2006-01-02")),
			})
		case cur.RatePerYear != nil && *cur.RatePerYear > unit.MaxReasonablePerYear():
			anomalies = append(anomalies, Anomaly{
				Type:      AnomalySpike,
				FromDate:  prev.Date,
				ToDate:    cur.Date,
				FromValue: prev.Value,
				ToValue:   cur.Value,
				Description: fmt.Sprintf("usage of %.0f %s/year between %s and %s exceeds the plausible maximum of %.0f %s/year",
					*cur.RatePerYear, unit.Label(),
					prev.Date.Format("2006-01-02"), cur.Date.Format("2006-01-02"),
					unit.MaxReasonablePerYear(), unit.Label()),
			})
		}
	}
	return anomalies
}

// computeScore starts at 100, subtracts penalties, and clamps to [0,100].
func computeScore(anomalies []Anomaly, rates []float64, mean float64, unit domain.UsageUnit) int {
	score := 100
	for _, a := range anomalies {
		switch a.Type {
		case AnomalyDecrease:
			score -= penaltyDecrease
		case AnomalySpike:
			score -= penaltySpike
		}
	}

	if len(rates) >= 2 {
		cv := coefficientOfVariation(rates, mean)
		switch {
		case cv > 1.0:
			score -= penaltyHighCV
		case cv > 0.5:
			score -= penaltyModerateCV
		}
	}

	if mean > highAverageFraction*unit.MaxReasonablePerYear() {
		score -= penaltyHighAverage
	}

	if score < 0 {
		return 0
	}
	if score > 100 {
		return 100
	}
	return score
}

func meanOf(vals []float64) float64 {
	if len(vals) == 0 {
		return 0
	}
	var sum float64
	for _, v := range vals {
		sum += v
	}
	return sum / float64(len(vals))
}

// coefficientOfVariation uses population variance. A non-positive mean yields
// 0 rather than a meaningless negative ratio.
func coefficientOfVariation(vals []float64, mean float64) float64 {
	if mean <= 0 {
		return 0
	}
	var variance float64
	for _, v := range vals {
		d := v - mean
		variance += d * d
	}
	variance /= float64(len(vals))
	return math.Sqrt(variance) / mean
}
