package features

import "fmt"

// InsufficientDataError is returned by Fit when the training data cannot
// support an estimate, e.g. a numeric field with no observed values.
type InsufficientDataError struct {
	Field    string
	Observed int
	Reason   string
}

func (e *InsufficientDataError) Error() string {
	if e.Field == "" {
		return fmt.Sprintf("insufficient data: %s", e.Reason)
	}
	return fmt.Sprintf("insufficient data for field %s: %s (observed %d)", e.Field, e.Reason, e.Observed)
}

// NotFittedError is returned when a codec is used before Fit succeeded.
type NotFittedError struct {
	Component string
}

func (e *NotFittedError) Error() string {
	return fmt.Sprintf("%s is not fitted", e.Component)
}

// AlreadyFittedError is returned by a second Fit on the same codec.
type AlreadyFittedError struct {
	CodecID string
}

func (e *AlreadyFittedError) Error() string {
	return fmt.Sprintf("codec %s is already fitted; create a new codec to refit", e.CodecID)
}

// SchemaMismatchError reports a vector or schema that does not line up with
// the feature space a codec or model was fit on.
type SchemaMismatchError struct {
	Field    string
	Expected string
	Observed string
	Reason   string
}

func (e *SchemaMismatchError) Error() string {
	msg := "schema mismatch"
	if e.Field != "" {
		msg += " on " + e.Field
	}
	if e.Reason != "" {
		msg += ": " + e.Reason
	}
	if e.Expected != "" || e.Observed != "" {
		msg += fmt.Sprintf(" (expected %s, observed %s)", e.Expected, e.Observed)
	}
	return msg
}
