package features

import "math"

// ScalingParams standardizes one numeric field: (x - Mean) / Spread.
type ScalingParams struct {
	Field    string  `json:"field"`
	Mean     float64 `json:"mean"`
	Spread   float64 `json:"spread"`
	Observed int     `json:"observed"`
}

func (p ScalingParams) apply(x float64) float64 {
	return (x - p.Mean) / p.Spread
}

// estimateScaling computes the mean and population standard deviation of the
// observed values. A constant field gets a spread of 1 so it scales to 0.
func estimateScaling(field string, values []float64) (ScalingParams, error) {
	if len(values) == 0 {
		return ScalingParams{}, &InsufficientDataError{
			Field:    field,
			Observed: 0,
			Reason:   "no non-missing values to estimate a mean",
		}
	}

	var sum float64
	for _, v := range values {
		sum += v
	}
	mean := sum / float64(len(values))

	var sq float64
	for _, v := range values {
		d := v - mean
		sq += d * d
	}
	spread := math.Sqrt(sq / float64(len(values)))
	if spread == 0 || math.IsNaN(spread) || math.IsInf(spread, 0) {
		spread = 1
	}

	return ScalingParams{Field: field, Mean: mean, Spread: spread, Observed: len(values)}, nil
}
