package ml

import "fmt"

// DegenerateTrainingSetError is returned by Fit when the training set cannot
// produce a classifier: mismatched lengths, invalid labels or a single class.
type DegenerateTrainingSetError struct {
	Vectors int
	Labels  int
	Classes int
	Reason  string
}

func (e *DegenerateTrainingSetError) Error() string {
	return fmt.Sprintf("degenerate training set: %s (vectors=%d labels=%d classes=%d)",
		e.Reason, e.Vectors, e.Labels, e.Classes)
}
