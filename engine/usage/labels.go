package usage

import (
	"fmt"

	"github.com/Tank-Iberica/trust-engine/engine/domain"
)

// Labels and explanations are keyed so presentation layers can localize
// independently; the English strings here are fallbacks.
var labels = map[string]string{
	"very_reliable":     "Very reliable",
	"reliable":          "Reliable",
	"with_reservations": "Reliable with reservations",
	"suspicious":        "Suspicious",
	"tampered":          "Likely tampered",
	"insufficient_data": "Insufficient data",
}

var explanations = map[string]string{
	"consistent":        "Usage shows a consistent progression across all recorded inspections.",
	"decrease_detected": "The usage counter went backward between inspections. This is a strong indicator of counter tampering.",
	"spike_detected":    "Usage increased implausibly fast for this vehicle class. This points to heavy commercial use or a recording error.",
	"insufficient_data": "Not enough inspection history to assess usage reliability.",
}

// labelFor maps a score to its band. Bands are non-overlapping and evaluated
// high to low.
func labelFor(score int) (key, label string) {
	switch {
	case score >= 80:
		key = "very_reliable"
	case score >= 60:
		key = "reliable"
	case score >= 40:
		key = "with_reservations"
	case score >= 20:
		key = "suspicious"
	default:
		key = "tampered"
	}
	return key, labels[key]
}

// explanationFor selects the explanation text. Order matters: a clean
// high-scoring series gets the consistency message, a decrease outranks a
// spike (fraud framing beats heavy-use framing), and everything else gets a
// generic usage summary.
func explanationFor(score int, anomalies []Anomaly, mean float64, unit domain.UsageUnit, inspections int) (key, text string) {
	hasDecrease, hasSpike := false, false
	for _, a := range anomalies {
		switch a.Type {
		case AnomalyDecrease:
			hasDecrease = true
		case AnomalySpike:
			hasSpike = true
		}
	}

	switch {
	case len(anomalies) == 0 && score >= 80:
		return "consistent", explanations["consistent"]
	case hasDecrease:
		return "decrease_detected", explanations["decrease_detected"]
	case hasSpike:
		return "spike_detected", explanations["spike_detected"]
	default:
		return "summary", fmt.Sprintf("Average usage is %.0f %s per year across %d inspections.",
			mean, unit.Label(), inspections)
	}
}
