// Package ml provides the fraud classifier and its attribution engine.
//
// The Classifier is a bagged ensemble of CART trees trained on vectors from a
// single fitted feature codec. Its probability output is the fraction of trees
// voting fraud, and Explain decomposes exactly that number into per-feature
// contributions with path-dependent TreeSHAP.
package ml

import (
	"context"
	"encoding/json"
	"fmt"
	"math"
	"math/rand/v2"
	"runtime"
	"slices"
	"time"

	"fraudscore/internal/features"

	"github.com/rs/zerolog/log"
	"golang.org/x/sync/errgroup"
)

// Class labels.
const (
	Legitimate = 0
	Fraud      = 1
)

// Config controls ensemble training. MaxDepth 0 grows trees until leaves are
// pure, MaxFeatures 0 uses floor(sqrt(features)) and Workers 0 uses GOMAXPROCS.
type Config struct {
	NumTrees       int    `json:"num_trees" yaml:"numTrees"`
	MaxDepth       int    `json:"max_depth" yaml:"maxDepth"`
	MinSamplesLeaf int    `json:"min_samples_leaf" yaml:"minSamplesLeaf"`
	MaxFeatures    int    `json:"max_features" yaml:"maxFeatures"`
	Seed           uint64 `json:"seed" yaml:"seed"`
	Workers        int    `json:"-" yaml:"workers"`
}

// DefaultConfig mirrors a stock random forest: 100 fully grown trees, seed 42.
func DefaultConfig() Config {
	return Config{
		NumTrees:       100,
		MinSamplesLeaf: 1,
		Seed:           42,
	}
}

func (c Config) withDefaults() Config {
	if c.NumTrees <= 0 {
		c.NumTrees = 100
	}
	if c.MinSamplesLeaf <= 0 {
		c.MinSamplesLeaf = 1
	}
	if c.Workers <= 0 {
		c.Workers = runtime.GOMAXPROCS(0)
	}
	return c
}

// Prediction is the ensemble output for one vector.
type Prediction struct {
	Label       int     `json:"label"`
	Probability float64 `json:"probability"`
	Votes       int     `json:"votes"`
	Trees       int     `json:"trees"`
}

func (p Prediction) Fraud() bool {
	return p.Label == Fraud
}

// Classifier is a bagged decision-tree ensemble. Fit is the only mutating
// method; once fitted, Predict and Explain may be called concurrently.
type Classifier struct {
	cfg          Config
	codecID      string
	featureNames []string
	trees        []tree
	baseline     float64
	trainedAt    time.Time
	trainingRows int
}

// NewClassifier returns an untrained classifier.
func NewClassifier(cfg Config) *Classifier {
	return &Classifier{cfg: cfg.withDefaults()}
}

// Fit trains the ensemble. Each tree sees a bootstrap resample and a random
// feature subset per split, drawn from its own seeded stream, so the result
// does not depend on Workers. A second Fit replaces the model wholesale.
func (c *Classifier) Fit(ctx context.Context, vectors []features.Vector, labels []int) error {
	if err := validateTrainingSet(vectors, labels); err != nil {
		return err
	}

	n := len(vectors)
	width := vectors[0].Len()
	x := make([][]float64, n)
	for i, v := range vectors {
		x[i] = v.Values
	}

	maxFeatures := c.cfg.MaxFeatures
	if maxFeatures <= 0 {
		maxFeatures = int(math.Floor(math.Sqrt(float64(width))))
	}
	maxFeatures = min(max(maxFeatures, 1), width)

	start := time.Now()
	trees := make([]tree, c.cfg.NumTrees)

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(c.cfg.Workers)
	for t := range trees {
		g.Go(func() error {
			if err := gctx.Err(); err != nil {
				return err
			}
			rng := rand.New(rand.NewPCG(c.cfg.Seed, uint64(t)))

			w := make([]float64, n)
			for range n {
				w[rng.IntN(n)]++
			}
			idx := make([]int, 0, n)
			for i, wi := range w {
				if wi > 0 {
					idx = append(idx, i)
				}
			}

			gr := &grower{
				x:              x,
				y:              labels,
				w:              w,
				maxDepth:       c.cfg.MaxDepth,
				minSamplesLeaf: c.cfg.MinSamplesLeaf,
				maxFeatures:    maxFeatures,
				rng:            rng,
			}
			trees[t] = gr.build(idx)
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return fmt.Errorf("train ensemble: %w", err)
	}

	var baseline float64
	depth := 0
	for i := range trees {
		baseline += trees[i].expectation()
		depth = max(depth, trees[i].depth())
	}
	baseline /= float64(len(trees))

	c.codecID = vectors[0].CodecID
	c.featureNames = slices.Clone(vectors[0].Names)
	c.trees = trees
	c.baseline = baseline
	c.trainedAt = time.Now().UTC()
	c.trainingRows = n

	log.Debug().
		Int("trees", len(trees)).
		Int("rows", n).
		Int("max_features", maxFeatures).
		Int("max_depth", depth).
		Float64("baseline", baseline).
		Dur("elapsed", time.Since(start)).
		Msg("ensemble trained")

	return nil
}

func validateTrainingSet(vectors []features.Vector, labels []int) error {
	if len(vectors) != len(labels) {
		return &DegenerateTrainingSetError{
			Vectors: len(vectors),
			Labels:  len(labels),
			Reason:  "vector and label counts differ",
		}
	}
	if len(vectors) == 0 {
		return &DegenerateTrainingSetError{Reason: "no training vectors"}
	}

	seen := make(map[int]bool, 2)
	for i, y := range labels {
		if y != Legitimate && y != Fraud {
			return &DegenerateTrainingSetError{
				Vectors: len(vectors),
				Labels:  len(labels),
				Reason:  fmt.Sprintf("label %d at row %d is not 0 or 1", y, i),
			}
		}
		seen[y] = true
	}
	if len(seen) < 2 {
		return &DegenerateTrainingSetError{
			Vectors: len(vectors),
			Labels:  len(labels),
			Classes: len(seen),
			Reason:  "need at least two distinct labels",
		}
	}

	first := vectors[0]
	if first.Len() == 0 {
		return &features.SchemaMismatchError{Reason: "training vectors are empty"}
	}
	for i, v := range vectors[1:] {
		if v.CodecID != first.CodecID || v.Len() != first.Len() {
			return &features.SchemaMismatchError{
				Reason:   fmt.Sprintf("training vector %d comes from a different feature space", i+1),
				Expected: fmt.Sprintf("codec %s width %d", first.CodecID, first.Len()),
				Observed: fmt.Sprintf("codec %s width %d", v.CodecID, v.Len()),
			}
		}
	}
	return nil
}

// Predict returns the majority vote and the fraction of trees voting fraud.
func (c *Classifier) Predict(v features.Vector) (Prediction, error) {
	if err := c.checkVector(v); err != nil {
		return Prediction{}, err
	}

	votes := 0
	for i := range c.trees {
		if c.trees[i].predict(v.Values) == 1 {
			votes++
		}
	}

	p := Prediction{
		Probability: float64(votes) / float64(len(c.trees)),
		Votes:       votes,
		Trees:       len(c.trees),
	}
	// 2*votes >= trees is the majority rule with ties going to fraud.
	if 2*votes >= len(c.trees) {
		p.Label = Fraud
	}
	return p, nil
}

func (c *Classifier) checkVector(v features.Vector) error {
	if !c.Fitted() {
		return &features.NotFittedError{Component: "fraud classifier"}
	}
	if v.CodecID != c.codecID {
		return &features.SchemaMismatchError{
			Reason:   "vector was not produced by the codec this model was trained on",
			Expected: c.codecID,
			Observed: v.CodecID,
		}
	}
	if v.Len() != len(c.featureNames) {
		return &features.SchemaMismatchError{
			Reason:   "vector width",
			Expected: fmt.Sprintf("%d", len(c.featureNames)),
			Observed: fmt.Sprintf("%d", v.Len()),
		}
	}
	if v.Names != nil {
		for i, name := range c.featureNames {
			if i >= len(v.Names) || v.Names[i] != name {
				observed := "<none>"
				if i < len(v.Names) {
					observed = v.Names[i]
				}
				return &features.SchemaMismatchError{
					Field:    name,
					Reason:   fmt.Sprintf("feature order differs at position %d", i),
					Expected: name,
					Observed: observed,
				}
			}
		}
	}
	return nil
}

func (c *Classifier) Fitted() bool {
	return c != nil && len(c.trees) > 0
}

// CodecID is the ID of the feature codec whose vectors trained this model.
func (c *Classifier) CodecID() string {
	return c.codecID
}

func (c *Classifier) FeatureNames() []string {
	return slices.Clone(c.featureNames)
}

// Baseline is the average model output over the training distribution.
func (c *Classifier) Baseline() float64 {
	return c.baseline
}

func (c *Classifier) Config() Config {
	return c.cfg
}

func (c *Classifier) NumTrees() int {
	return len(c.trees)
}

func (c *Classifier) TrainedAt() time.Time {
	return c.trainedAt
}

func (c *Classifier) TrainingRows() int {
	return c.trainingRows
}

type classifierState struct {
	Config       Config    `json:"config"`
	CodecID      string    `json:"codec_id"`
	FeatureNames []string  `json:"feature_names"`
	Trees        []tree    `json:"trees"`
	Baseline     float64   `json:"baseline"`
	TrainedAt    time.Time `json:"trained_at"`
	TrainingRows int       `json:"training_rows"`
}

// MarshalJSON serializes a trained classifier.
func (c *Classifier) MarshalJSON() ([]byte, error) {
	if !c.Fitted() {
		return nil, &features.NotFittedError{Component: "fraud classifier"}
	}
	return json.Marshal(classifierState{
		Config:       c.cfg,
		CodecID:      c.codecID,
		FeatureNames: c.featureNames,
		Trees:        c.trees,
		Baseline:     c.baseline,
		TrainedAt:    c.trainedAt,
		TrainingRows: c.trainingRows,
	})
}

// UnmarshalJSON restores a classifier written by MarshalJSON.
func (c *Classifier) UnmarshalJSON(data []byte) error {
	var st classifierState
	if err := json.Unmarshal(data, &st); err != nil {
		return fmt.Errorf("decode classifier: %w", err)
	}
	if len(st.Trees) == 0 {
		return &features.NotFittedError{Component: "stored fraud classifier"}
	}
	for ti, t := range st.Trees {
		if len(t.Nodes) == 0 {
			return fmt.Errorf("decode classifier: tree %d has no nodes", ti)
		}
		for ni, n := range t.Nodes {
			if n.leaf() {
				continue
			}
			if n.Feature < 0 || n.Feature >= len(st.FeatureNames) ||
				n.Left <= ni || n.Left >= len(t.Nodes) || n.Right <= ni || n.Right >= len(t.Nodes) {
				return fmt.Errorf("decode classifier: tree %d node %d is malformed", ti, ni)
			}
		}
	}

	cfg := st.Config
	cfg.Workers = 0
	*c = Classifier{
		cfg:          cfg.withDefaults(),
		codecID:      st.CodecID,
		featureNames: st.FeatureNames,
		trees:        st.Trees,
		baseline:     st.Baseline,
		trainedAt:    st.TrainedAt,
		trainingRows: st.TrainingRows,
	}
	return nil
}
