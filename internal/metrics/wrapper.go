package metrics

import (
	"time"

	"fraudscore/internal/ml"

	"github.com/prometheus/client_golang/prometheus"
)

// Interfaces for metrics to avoid circular imports
type MetricsCounter interface {
	Inc()
}

type MetricsHistogram interface {
	Observe(float64)
}

// MetricsWrapper adapts Metrics to the pipeline's observation interface and
// hands out narrow views for the HTTP layer.
type MetricsWrapper struct {
	m *Metrics
}

func NewWrapper(m *Metrics) *MetricsWrapper {
	return &MetricsWrapper{m: m}
}

// FitObserved records one pipeline fit.
func (w *MetricsWrapper) FitObserved(d time.Duration, quality ml.EvaluationMetrics, err error) {
	if w == nil || w.m == nil {
		return
	}
	w.m.FitDuration.Observe(d.Seconds())
	if err != nil {
		w.m.FitFailures.Inc()
		w.m.ErrorsTotal.Inc()
		return
	}
	w.m.FitsTotal.Inc()
}

// ScoreObserved records one score call.
func (w *MetricsWrapper) ScoreObserved(d time.Duration, probability float64, imputed, unknown int, err error) {
	if w == nil || w.m == nil {
		return
	}
	w.m.ScoreLatency.Observe(d.Seconds())
	if err != nil {
		w.m.ScoreFailures.Inc()
		w.m.ErrorsTotal.Inc()
		return
	}
	w.m.ScoresTotal.Inc()
	w.m.ScoreProbabilities.Observe(probability)
	if probability >= 0.5 {
		w.m.FraudPredictions.Inc()
	}
	w.m.ImputedFields.Add(float64(imputed))
	w.m.UnknownCategories.Add(float64(unknown))
}

// ModelActivated publishes the quality gauges of a newly active model.
func (w *MetricsWrapper) ModelActivated(createdAt time.Time, trainingRows int, quality ml.EvaluationMetrics) {
	if w == nil || w.m == nil {
		return
	}
	w.m.SetActiveModel(createdAt, trainingRows, quality.Accuracy, quality.Precision, quality.Recall, quality.F1)
}

func (w *MetricsWrapper) ArtifactsStored() MetricsCounter {
	return &CounterWrapper{w.m.ArtifactsStored}
}

func (w *MetricsWrapper) ErrorsTotal() MetricsCounter {
	return &CounterWrapper{w.m.ErrorsTotal}
}

func (w *MetricsWrapper) HTTPRequest(route string, code int) MetricsCounter {
	return &CounterWrapper{w.m.HTTPRequests.WithLabelValues(route, statusLabel(code))}
}

func (w *MetricsWrapper) HTTPLatency(route string) MetricsHistogram {
	return &HistogramWrapper{w.m.HTTPDuration.WithLabelValues(route)}
}

func statusLabel(code int) string {
	switch {
	case code >= 500:
		return "5xx"
	case code >= 400:
		return "4xx"
	case code >= 300:
		return "3xx"
	default:
		return "2xx"
	}
}

type CounterWrapper struct {
	c prometheus.Counter
}

func (cw *CounterWrapper) Inc() {
	cw.c.Inc()
}

type HistogramWrapper struct {
	h prometheus.Observer
}

func (hw *HistogramWrapper) Observe(v float64) {
	hw.h.Observe(v)
}
