package domain

import "strconv"

// ValidateHistory checks raw inspection records before analysis. The analyzer
// assumes well-formed, non-negative, dateable readings and does not
// re-validate.
func ValidateHistory(history []InspectionRecord) error {
	for i, rec := range history {
		if rec.Date.IsZero() {
			return NewValidationError("history["+strconv.Itoa(i)+"].date", "", ErrZeroDate)
		}
		if rec.Value < 0 {
			return NewValidationError("history["+strconv.Itoa(i)+"].value",
				strconv.FormatFloat(rec.Value, 'f', -1, 64), ErrNegativeReading)
		}
		if rec.Result != "" {
			switch rec.Result {
			case ResultPass, ResultFail, ResultConditional:
			default:
				return NewValidationError("history["+strconv.Itoa(i)+"].result",
					string(rec.Result), ErrInvalidResult)
			}
		}
	}
	return nil
}

// ValidateUnit checks that a usage unit is one of the recognised counters.
func ValidateUnit(unit UsageUnit) error {
	if !ValidUsageUnits[unit] {
		return NewValidationError("unit", string(unit), ErrUnknownUnit)
	}
	return nil
}

// ValidateSubmission checks the inputs of a document submission before any
// row is created.
func ValidateSubmission(vehicleID string, docType VerificationDocType) error {
	if vehicleID == "" {
		return NewValidationError("vehicle_id", "", ErrEmptyVehicleID)
	}
	if !ValidDocTypes[docType] {
		return NewValidationError("doc_type", string(docType), ErrUnknownDocType)
	}
	return nil
}

// ValidateRejection checks the inputs of a reject transition. The reason is
// mandatory; an empty reason is a validation error, not a silent default.
func ValidateRejection(approverID, reason string) error {
	if approverID == "" {
		return NewValidationError("approver_id", "", ErrEmptyApprover)
	}
	if reason == "" {
		return NewValidationError("reason", "", ErrEmptyReason)
	}
	return nil
}

// ValidateApproval checks the inputs of an approve transition.
func ValidateApproval(approverID string) error {
	if approverID == "" {
		return NewValidationError("approver_id", "", ErrEmptyApprover)
	}
	return nil
}
