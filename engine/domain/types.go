// Package domain defines core domain types, constants, and validation for the
// trust engine. It acts as the validation gate at engine entry points.
package domain

import "time"

// UsageUnit identifies the counter a vehicle's usage is recorded in.
type UsageUnit string

const (
	UnitKilometers UsageUnit = "km"
	UnitHours      UsageUnit = "hours"
	UnitCycles     UsageUnit = "cycles"
)

// ValidUsageUnits is the set of recognised usage units.
var ValidUsageUnits = map[UsageUnit]bool{
	UnitKilometers: true,
	UnitHours:      true,
	UnitCycles:     true,
}

// MaxReasonablePerYear returns the plausibility ceiling for annualized usage
// in this unit. Intervals above it are flagged as spikes.
func (u UsageUnit) MaxReasonablePerYear() float64 {
	switch u {
	case UnitKilometers:
		return 150000
	case UnitHours:
		return 5000
	case UnitCycles:
		return 10000
	default:
		return 0
	}
}

// Label returns the display suffix for values in this unit.
func (u UsageUnit) Label() string {
	switch u {
	case UnitKilometers:
		return "km"
	case UnitHours:
		return "h"
	case UnitCycles:
		return "cycles"
	default:
		return string(u)
	}
}

// InspectionResult is the outcome recorded at an official inspection.
type InspectionResult string

const (
	ResultPass        InspectionResult = "pass"
	ResultFail        InspectionResult = "fail"
	ResultConditional InspectionResult = "conditional"
)

// InspectionRecord is one usage-counter reading taken at an official
// inspection. Records are immutable once recorded upstream; the engine never
// mutates them.
type InspectionRecord struct {
	Date   time.Time        `json:"date"`
	Value  float64          `json:"value"`
	Result InspectionResult `json:"result,omitempty"`
}
