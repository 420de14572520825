package ml

import (
	"math"
	"sort"
)

// FeatureImportance is the global weight of one feature across many
// attributions.
type FeatureImportance struct {
	Feature          string  `json:"feature" yaml:"feature"`
	MeanAbsolute     float64 `json:"mean_abs_contribution" yaml:"meanAbsContribution"`
	MeanContribution float64 `json:"mean_contribution" yaml:"meanContribution"`
	Rank             int     `json:"rank" yaml:"rank"`
}

// SummarizeImportance averages the absolute contribution of each feature over
// attrs and ranks features from most to least influential. Ties keep feature
// order.
func SummarizeImportance(attrs []Attribution) []FeatureImportance {
	if len(attrs) == 0 {
		return nil
	}

	width := len(attrs[0].Contributions)
	out := make([]FeatureImportance, width)
	for i, c := range attrs[0].Contributions {
		out[i].Feature = c.Feature
	}

	for _, a := range attrs {
		for i, c := range a.Contributions {
			if i >= width {
				break
			}
			out[i].MeanAbsolute += math.Abs(c.Value)
			out[i].MeanContribution += c.Value
		}
	}

	n := float64(len(attrs))
	for i := range out {
		out[i].MeanAbsolute /= n
		out[i].MeanContribution /= n
	}

	sort.SliceStable(out, func(i, j int) bool {
		return out[i].MeanAbsolute > out[j].MeanAbsolute
	})
	for i := range out {
		out[i].Rank = i + 1
	}
	return out
}

// TopFeatures returns the names of the n most important features.
func TopFeatures(importance []FeatureImportance, n int) []string {
	n = min(n, len(importance))
	names := make([]string, 0, max(n, 0))
	for i := 0; i < n; i++ {
		names = append(names, importance[i].Feature)
	}
	return names
}
