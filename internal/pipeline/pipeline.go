// Package pipeline composes the feature codec, the classifier and the
// attribution engine into the two operations the service exposes: fitting a
// frozen artifact bundle from labeled records, and scoring one record against
// such a bundle.
package pipeline

import (
	"context"
	"fmt"
	"slices"
	"time"

	"fraudscore/internal/dataset"
	"fraudscore/internal/features"
	"fraudscore/internal/ml"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"
)

// Label texts returned by Score.
const (
	LabelFraud      = "Fraud"
	LabelLegitimate = "Legitimate"
)

// LabelText maps a class label to its display text.
func LabelText(label int) string {
	if label == ml.Fraud {
		return LabelFraud
	}
	return LabelLegitimate
}

// Metrics receives pipeline observations. Implementations must be safe for
// concurrent use.
type Metrics interface {
	FitObserved(d time.Duration, quality ml.EvaluationMetrics, err error)
	ScoreObserved(d time.Duration, probability float64, imputed, unknown int, err error)
}

type noopMetrics struct{}

func (noopMetrics) FitObserved(time.Duration, ml.EvaluationMetrics, error) {}
func (noopMetrics) ScoreObserved(time.Duration, float64, int, int, error) {}

// Config controls a fit.
type Config struct {
	Schema       features.Schema
	Model        ml.Config
	TestFraction float64
}

// DefaultConfig fits the default schema with an 80/20 split.
func DefaultConfig() Config {
	return Config{
		Schema:       features.DefaultSchema(),
		Model:        ml.DefaultConfig(),
		TestFraction: 0.2,
	}
}

// Artifacts is the frozen output of one successful fit. The codec and model
// inside are never mutated after Fit returns.
type Artifacts struct {
	ID           string                 `json:"id"`
	CreatedAt    time.Time              `json:"created_at"`
	Codec        *features.Codec        `json:"codec"`
	Model        *ml.Classifier         `json:"model"`
	Metrics      ml.EvaluationMetrics   `json:"metrics"`
	Importance   []ml.FeatureImportance `json:"importance"`
	TrainingRows int                    `json:"training_rows"`
	TestRows     int                    `json:"test_rows"`
}

// Validate checks that the bundle holds a fitted codec and model from the
// same fit.
func (a *Artifacts) Validate() error {
	if a == nil {
		return &features.NotFittedError{Component: "artifact bundle"}
	}
	return CheckCompatible(a.Codec, a.Model)
}

// Result is the outcome of scoring one record.
type Result struct {
	Label       string            `json:"label"`
	Probability float64           `json:"probability"`
	Attribution []ml.Contribution `json:"attribution"`
	Baseline    float64           `json:"baseline"`
	ArtifactID  string            `json:"artifact_id,omitempty"`
	Imputed     []string          `json:"imputed,omitempty"`
	Unknown     []string          `json:"unknown,omitempty"`
}

// Pipeline runs fits and scores and reports them to a Metrics sink.
type Pipeline struct {
	cfg     Config
	metrics Metrics
}

// New returns a pipeline. A nil m discards observations.
func New(cfg Config, m Metrics) *Pipeline {
	if cfg.Schema == nil {
		cfg.Schema = features.DefaultSchema()
	}
	if cfg.TestFraction == 0 {
		cfg.TestFraction = 0.2
	}
	if m == nil {
		m = noopMetrics{}
	}
	return &Pipeline{cfg: cfg, metrics: m}
}

// Fit trains a bundle with the default configuration.
func Fit(ctx context.Context, records []features.Record) (*Artifacts, error) {
	return New(DefaultConfig(), nil).Fit(ctx, records)
}

// Fit splits records into stratified train and test sets, fits the codec and
// the classifier on the training rows, and evaluates on the held-out rows.
// Every record must carry a label. On any error no artifacts are returned.
func (p *Pipeline) Fit(ctx context.Context, records []features.Record) (*Artifacts, error) {
	start := time.Now()
	a, err := p.fit(ctx, records)
	if err != nil {
		p.metrics.FitObserved(time.Since(start), ml.EvaluationMetrics{}, err)
		log.Error().Err(err).Int("records", len(records)).Msg("Pipeline fit failed")
		return nil, err
	}
	p.metrics.FitObserved(time.Since(start), a.Metrics, nil)

	log.Info().
		Str("artifact_id", a.ID).
		Int("train_rows", a.TrainingRows).
		Int("test_rows", a.TestRows).
		Float64("accuracy", a.Metrics.Accuracy).
		Float64("precision", a.Metrics.Precision).
		Float64("recall", a.Metrics.Recall).
		Float64("f1", a.Metrics.F1).
		Strs("top_features", ml.TopFeatures(a.Importance, 3)).
		Dur("duration", time.Since(start)).
		Msg("Pipeline fit complete")
	return a, nil
}

func (p *Pipeline) fit(ctx context.Context, records []features.Record) (*Artifacts, error) {
	if len(records) == 0 {
		return nil, &features.InsufficientDataError{Reason: "no training records"}
	}
	labels, err := dataset.Labels(records)
	if err != nil {
		return nil, err
	}
	if err := checkClasses(labels); err != nil {
		return nil, err
	}

	trainIdx, testIdx, err := ml.TrainTestSplit(labels, p.cfg.TestFraction, p.cfg.Model.Seed)
	if err != nil {
		return nil, fmt.Errorf("split training data: %w", err)
	}
	if len(testIdx) == 0 {
		return nil, &features.InsufficientDataError{
			Field:    dataset.ColumnLabel,
			Observed: len(records),
			Reason:   "too few records per class to hold out an evaluation split",
		}
	}

	trainRecords := make([]features.Record, len(trainIdx))
	trainLabels := make([]int, len(trainIdx))
	for i, j := range trainIdx {
		trainRecords[i] = records[j]
		trainLabels[i] = labels[j]
	}

	codec := features.NewCodec(p.cfg.Schema)
	if err := codec.Fit(trainRecords); err != nil {
		return nil, fmt.Errorf("fit feature codec: %w", err)
	}

	trainVectors, err := transformAll(codec, trainRecords)
	if err != nil {
		return nil, err
	}

	testRecords := make([]features.Record, len(testIdx))
	testLabels := make([]int, len(testIdx))
	for i, j := range testIdx {
		testRecords[i] = records[j]
		testLabels[i] = labels[j]
	}
	testVectors, err := transformAll(codec, testRecords)
	if err != nil {
		return nil, err
	}

	model := ml.NewClassifier(p.cfg.Model)
	if err := model.Fit(ctx, trainVectors, trainLabels); err != nil {
		return nil, fmt.Errorf("fit classifier: %w", err)
	}

	quality, err := model.Evaluate(testVectors, testLabels)
	if err != nil {
		return nil, err
	}

	attrs := make([]ml.Attribution, len(testVectors))
	for i, v := range testVectors {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		a, err := model.Explain(v)
		if err != nil {
			return nil, fmt.Errorf("explain held-out row %d: %w", i, err)
		}
		attrs[i] = a
	}

	return &Artifacts{
		ID:           uuid.NewString(),
		CreatedAt:    time.Now().UTC(),
		Codec:        codec,
		Model:        model,
		Metrics:      quality,
		Importance:   ml.SummarizeImportance(attrs),
		TrainingRows: len(trainIdx),
		TestRows:     len(testIdx),
	}, nil
}

func checkClasses(labels []int) error {
	seen := make(map[int]bool, 2)
	for i, y := range labels {
		if y != ml.Legitimate && y != ml.Fraud {
			return &ml.DegenerateTrainingSetError{
				Vectors: len(labels),
				Labels:  len(labels),
				Reason:  fmt.Sprintf("label %d at row %d is not 0 or 1", y, i),
			}
		}
		seen[y] = true
	}
	if len(seen) < 2 {
		return &ml.DegenerateTrainingSetError{
			Vectors: len(labels),
			Labels:  len(labels),
			Classes: len(seen),
			Reason:  "training data holds a single label value",
		}
	}
	return nil
}

func transformAll(codec *features.Codec, records []features.Record) ([]features.Vector, error) {
	out := make([]features.Vector, len(records))
	for i, r := range records {
		v, err := codec.Transform(r)
		if err != nil {
			return nil, fmt.Errorf("transform record %d: %w", i, err)
		}
		out[i] = v
	}
	return out, nil
}

// CheckCompatible reports whether codec and model come from the same fit.
func CheckCompatible(codec *features.Codec, model *ml.Classifier) error {
	if !codec.Fitted() {
		return &features.NotFittedError{Component: "feature codec"}
	}
	if !model.Fitted() {
		return &features.NotFittedError{Component: "fraud classifier"}
	}
	if codec.ID() != model.CodecID() {
		return &IncompatibleArtifactsError{
			CodecID:      codec.ID(),
			ModelCodecID: model.CodecID(),
			Reason:       "codec and model come from different fits",
		}
	}
	if !slices.Equal(codec.FeatureNames(), model.FeatureNames()) {
		return &IncompatibleArtifactsError{
			CodecID:      codec.ID(),
			ModelCodecID: model.CodecID(),
			Reason:       "feature names differ",
		}
	}
	return nil
}

// Score transforms r with codec, predicts it with model and explains the
// fraud probability. Unknown categories and missing numerics are handled by
// the codec and never fail a score.
func Score(codec *features.Codec, model *ml.Classifier, r features.Record) (*Result, error) {
	if err := CheckCompatible(codec, model); err != nil {
		return nil, err
	}

	v, report, err := codec.TransformWithReport(r)
	if err != nil {
		return nil, fmt.Errorf("transform: %w", err)
	}
	pred, err := model.Predict(v)
	if err != nil {
		return nil, fmt.Errorf("predict: %w", err)
	}
	attr, err := model.Explain(v)
	if err != nil {
		return nil, fmt.Errorf("explain: %w", err)
	}

	return &Result{
		Label:       LabelText(pred.Label),
		Probability: pred.Probability,
		Attribution: attr.Contributions,
		Baseline:    attr.Baseline,
		Imputed:     report.Imputed,
		Unknown:     report.Unknown,
	}, nil
}

// Score scores r against a bundle and records the observation.
func (p *Pipeline) Score(a *Artifacts, r features.Record) (*Result, error) {
	start := time.Now()
	if a == nil {
		err := &features.NotFittedError{Component: "artifact bundle"}
		p.metrics.ScoreObserved(time.Since(start), 0, 0, 0, err)
		return nil, err
	}

	res, err := Score(a.Codec, a.Model, r)
	if err != nil {
		p.metrics.ScoreObserved(time.Since(start), 0, 0, 0, err)
		return nil, err
	}
	res.ArtifactID = a.ID
	p.metrics.ScoreObserved(time.Since(start), res.Probability, len(res.Imputed), len(res.Unknown), nil)

	log.Debug().
		Str("artifact_id", a.ID).
		Str("label", res.Label).
		Float64("probability", res.Probability).
		Strs("unknown", res.Unknown).
		Msg("Scored record")
	return res, nil
}

// ModelInfo describes a bundle for clients without exposing the model.
type ModelInfo struct {
	ID           string                 `json:"id" yaml:"id"`
	CreatedAt    time.Time              `json:"created_at" yaml:"createdAt"`
	Features     []string               `json:"features" yaml:"features"`
	Vocabularies map[string][]string    `json:"vocabularies" yaml:"vocabularies"`
	Baseline     float64                `json:"baseline" yaml:"baseline"`
	NumTrees     int                    `json:"num_trees" yaml:"numTrees"`
	TrainingRows int                    `json:"training_rows" yaml:"trainingRows"`
	TestRows     int                    `json:"test_rows" yaml:"testRows"`
	Metrics      ml.EvaluationMetrics   `json:"metrics" yaml:"metrics"`
	Importance   []ml.FeatureImportance `json:"importance" yaml:"importance"`
}

// Info summarizes the bundle.
func (a *Artifacts) Info() ModelInfo {
	info := ModelInfo{
		ID:           a.ID,
		CreatedAt:    a.CreatedAt,
		Features:     a.Codec.FeatureNames(),
		Vocabularies: make(map[string][]string),
		Baseline:     a.Model.Baseline(),
		NumTrees:     a.Model.NumTrees(),
		TrainingRows: a.TrainingRows,
		TestRows:     a.TestRows,
		Metrics:      a.Metrics,
		Importance:   a.Importance,
	}
	for _, f := range a.Codec.Schema() {
		if v, ok := a.Codec.Vocabulary(f.Name); ok {
			info.Vocabularies[f.Name] = slices.Clone(v.Tokens)
		}
	}
	return info
}
