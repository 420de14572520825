package ml

import (
	"fmt"
	"math"
	"math/rand/v2"
	"sort"

	"fraudscore/internal/features"
)

// EvaluationMetrics summarizes predictions on a held-out split. Precision,
// recall and F1 are 0 when their denominators are 0.
type EvaluationMetrics struct {
	Accuracy  float64 `json:"accuracy" yaml:"accuracy"`
	Precision float64 `json:"precision" yaml:"precision"`
	Recall    float64 `json:"recall" yaml:"recall"`
	F1        float64 `json:"f1" yaml:"f1"`

	TruePositives  int `json:"true_positives" yaml:"truePositives"`
	FalsePositives int `json:"false_positives" yaml:"falsePositives"`
	TrueNegatives  int `json:"true_negatives" yaml:"trueNegatives"`
	FalseNegatives int `json:"false_negatives" yaml:"falseNegatives"`
	Support        int `json:"support" yaml:"support"`
}

// Evaluate predicts every vector and compares against labels.
func (c *Classifier) Evaluate(vectors []features.Vector, labels []int) (EvaluationMetrics, error) {
	if len(vectors) != len(labels) {
		return EvaluationMetrics{}, fmt.Errorf("evaluate: %d vectors but %d labels", len(vectors), len(labels))
	}
	if len(vectors) == 0 {
		return EvaluationMetrics{}, fmt.Errorf("evaluate: empty evaluation set")
	}

	var m EvaluationMetrics
	for i, v := range vectors {
		p, err := c.Predict(v)
		if err != nil {
			return EvaluationMetrics{}, fmt.Errorf("evaluate row %d: %w", i, err)
		}
		switch {
		case p.Label == Fraud && labels[i] == Fraud:
			m.TruePositives++
		case p.Label == Fraud:
			m.FalsePositives++
		case labels[i] == Fraud:
			m.FalseNegatives++
		default:
			m.TrueNegatives++
		}
	}
	return m.finalize(), nil
}

// ComputeMetrics derives the rates from confusion counts.
func ComputeMetrics(tp, fp, tn, fn int) EvaluationMetrics {
	m := EvaluationMetrics{TruePositives: tp, FalsePositives: fp, TrueNegatives: tn, FalseNegatives: fn}
	return m.finalize()
}

func (m EvaluationMetrics) finalize() EvaluationMetrics {
	m.Support = m.TruePositives + m.FalsePositives + m.TrueNegatives + m.FalseNegatives
	m.Accuracy = ratio(m.TruePositives+m.TrueNegatives, m.Support)
	m.Precision = ratio(m.TruePositives, m.TruePositives+m.FalsePositives)
	m.Recall = ratio(m.TruePositives, m.TruePositives+m.FalseNegatives)
	if m.Precision+m.Recall > 0 {
		m.F1 = 2 * m.Precision * m.Recall / (m.Precision + m.Recall)
	}
	return m
}

func ratio(num, den int) float64 {
	if den == 0 {
		return 0
	}
	return float64(num) / float64(den)
}

// TrainTestSplit partitions row indices into disjoint train and test sets,
// stratified by label so both classes appear on each side whenever a class
// has at least two rows. Both slices are returned in ascending order.
func TrainTestSplit(labels []int, testFraction float64, seed uint64) (train, test []int, err error) {
	if testFraction <= 0 || testFraction >= 1 {
		return nil, nil, fmt.Errorf("test fraction must be in (0, 1), got %f", testFraction)
	}

	byClass := make(map[int][]int)
	for i, y := range labels {
		byClass[y] = append(byClass[y], i)
	}
	classes := make([]int, 0, len(byClass))
	for y := range byClass {
		classes = append(classes, y)
	}
	sort.Ints(classes)

	rng := rand.New(rand.NewPCG(seed, 0x5eed))
	for _, y := range classes {
		rows := byClass[y]
		rng.Shuffle(len(rows), func(i, j int) { rows[i], rows[j] = rows[j], rows[i] })

		nTest := int(math.Round(float64(len(rows)) * testFraction))
		if len(rows) > 1 {
			nTest = min(max(nTest, 1), len(rows)-1)
		} else {
			nTest = 0
		}
		test = append(test, rows[:nTest]...)
		train = append(train, rows[nTest:]...)
	}

	sort.Ints(train)
	sort.Ints(test)
	return train, test, nil
}
