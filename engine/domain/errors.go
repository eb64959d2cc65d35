package domain

import (
	"errors"
	"fmt"
)

// Sentinel errors for validation failures.
var (
	ErrUnknownDocType  = errors.New("unknown document type")
	ErrUnknownUnit     = errors.New("unknown usage unit")
	ErrUnknownLevel    = errors.New("unknown verification level")
	ErrEmptyVehicleID  = errors.New("vehicle id is empty")
	ErrEmptyReason     = errors.New("rejection reason is required")
	ErrEmptyApprover   = errors.New("approver id is required")
	ErrNegativeReading = errors.New("negative counter reading")
	ErrZeroDate        = errors.New("reading has no date")
	ErrInvalidResult   = errors.New("invalid inspection result")
)

// Sentinel errors for lifecycle and storage failures.
var (
	ErrNotFound          = errors.New("document not found")
	ErrInvalidTransition = errors.New("invalid document transition")
	ErrStoreUnavailable  = errors.New("document store unavailable")
)

// ValidationError wraps a sentinel with the offending field and value so the
// caller can report an actionable 4xx-style failure.
type ValidationError struct {
	Field   string
	Value   string
	Wrapped error
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("validation: %s: %s (value=%q)", e.Wrapped, e.Field, e.Value)
}

func (e *ValidationError) Unwrap() error { return e.Wrapped }

// NewValidationError builds a ValidationError around a sentinel.
func NewValidationError(field, value string, wrapped error) *ValidationError {
	return &ValidationError{Field: field, Value: value, Wrapped: wrapped}
}

// IsValidation reports whether err originated at the validation boundary,
// as opposed to a store or transition failure.
func IsValidation(err error) bool {
	var ve *ValidationError
	return errors.As(err, &ve)
}

// IsRetryable reports whether err is an infrastructure failure the caller may
// retry. Validation and transition errors are never retryable.
func IsRetryable(err error) bool {
	return errors.Is(err, ErrStoreUnavailable)
}
