// Package metrics provides Prometheus metrics collection for the fraud
// scoring service. It defines the training, scoring and HTTP metrics exposed
// via the /metrics endpoint for monitoring and alerting.
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics holds all Prometheus metrics for the scoring service.
type Metrics struct {
	// Training metrics
	FitsTotal       prometheus.Counter   // Completed pipeline fits
	FitFailures     prometheus.Counter   // Pipeline fits that returned an error
	FitDuration     prometheus.Histogram // Wall time of a pipeline fit
	ModelQuality    *prometheus.GaugeVec // Held-out accuracy, precision, recall and f1 of the active model
	ModelCreated    prometheus.Gauge     // Unix time the active model was fit
	ModelTrainedOn  prometheus.Gauge     // Training rows behind the active model
	ArtifactsStored prometheus.Counter   // Bundles written to the artifact store

	// Scoring metrics
	ScoresTotal        prometheus.Counter   // Records scored
	ScoreFailures      prometheus.Counter   // Score calls that returned an error
	FraudPredictions   prometheus.Counter   // Scores labeled fraud
	ScoreLatency       prometheus.Histogram // Transform, predict and explain latency
	ScoreProbabilities prometheus.Histogram // Distribution of fraud probabilities
	ImputedFields      prometheus.Counter   // Missing values filled at score time
	UnknownCategories  prometheus.Counter   // Categorical values outside the vocabulary

	// HTTP metrics
	HTTPRequests *prometheus.CounterVec   // Requests by route and status code
	HTTPDuration *prometheus.HistogramVec // Request latency by route

	// System metrics
	ErrorsTotal prometheus.Counter // Total number of errors encountered

	gatherer prometheus.Gatherer
}

// New creates and registers all Prometheus metrics using the default registry.
func New() *Metrics {
	return NewWithRegistry(prometheus.DefaultRegisterer)
}

// NewWithRegistry creates metrics with a custom registry (useful for testing).
func NewWithRegistry(registerer prometheus.Registerer) *Metrics {
	factory := promauto.With(registerer)
	m := &Metrics{
		FitsTotal: factory.NewCounter(prometheus.CounterOpts{
			Name: "fraud_fits_total",
			Help: "Total number of completed pipeline fits",
		}),
		FitFailures: factory.NewCounter(prometheus.CounterOpts{
			Name: "fraud_fit_failures_total",
			Help: "Total number of pipeline fits that failed",
		}),
		FitDuration: factory.NewHistogram(prometheus.HistogramOpts{
			Name:    "fraud_fit_duration_seconds",
			Help:    "Duration of pipeline fits in seconds",
			Buckets: prometheus.ExponentialBuckets(0.05, 2, 12),
		}),
		ModelQuality: factory.NewGaugeVec(prometheus.GaugeOpts{
			Name: "fraud_model_quality",
			Help: "Held-out evaluation metrics of the active model",
		}, []string{"metric"}),
		ModelCreated: factory.NewGauge(prometheus.GaugeOpts{
			Name: "fraud_model_created_timestamp_seconds",
			Help: "Unix time at which the active model was fit",
		}),
		ModelTrainedOn: factory.NewGauge(prometheus.GaugeOpts{
			Name: "fraud_model_training_rows",
			Help: "Number of training rows behind the active model",
		}),
		ArtifactsStored: factory.NewCounter(prometheus.CounterOpts{
			Name: "fraud_artifacts_stored_total",
			Help: "Total number of artifact bundles persisted",
		}),
		ScoresTotal: factory.NewCounter(prometheus.CounterOpts{
			Name: "fraud_scores_total",
			Help: "Total number of records scored",
		}),
		ScoreFailures: factory.NewCounter(prometheus.CounterOpts{
			Name: "fraud_score_failures_total",
			Help: "Total number of score requests that failed",
		}),
		FraudPredictions: factory.NewCounter(prometheus.CounterOpts{
			Name: "fraud_predictions_fraud_total",
			Help: "Total number of records labeled fraud",
		}),
		ScoreLatency: factory.NewHistogram(prometheus.HistogramOpts{
			Name:    "fraud_score_latency_seconds",
			Help:    "Scoring latency in seconds (transform, predict and explain)",
			Buckets: []float64{0.0001, 0.0005, 0.001, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1.0},
		}),
		ScoreProbabilities: factory.NewHistogram(prometheus.HistogramOpts{
			Name:    "fraud_score_probabilities",
			Help:    "Distribution of predicted fraud probabilities",
			Buckets: prometheus.LinearBuckets(0, 0.1, 11),
		}),
		ImputedFields: factory.NewCounter(prometheus.CounterOpts{
			Name: "fraud_imputed_fields_total",
			Help: "Total number of missing fields imputed at score time",
		}),
		UnknownCategories: factory.NewCounter(prometheus.CounterOpts{
			Name: "fraud_unknown_categories_total",
			Help: "Total number of categorical values mapped to the unknown code",
		}),
		HTTPRequests: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "fraud_http_requests_total",
			Help: "Total number of HTTP requests by route and status code",
		}, []string{"route", "code"}),
		HTTPDuration: factory.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "fraud_http_request_duration_seconds",
			Help:    "Duration of HTTP requests in seconds by route",
			Buckets: prometheus.DefBuckets,
		}, []string{"route"}),
		ErrorsTotal: factory.NewCounter(prometheus.CounterOpts{
			Name: "errors_total",
			Help: "Total number of errors encountered",
		}),
	}
	if g, ok := registerer.(prometheus.Gatherer); ok {
		m.gatherer = g
	}
	return m
}

// SetActiveModel publishes the quality and age of the model now serving scores.
func (m *Metrics) SetActiveModel(createdAt time.Time, trainingRows int, accuracy, precision, recall, f1 float64) {
	m.ModelCreated.Set(float64(createdAt.Unix()))
	m.ModelTrainedOn.Set(float64(trainingRows))
	m.ModelQuality.WithLabelValues("accuracy").Set(accuracy)
	m.ModelQuality.WithLabelValues("precision").Set(precision)
	m.ModelQuality.WithLabelValues("recall").Set(recall)
	m.ModelQuality.WithLabelValues("f1").Set(f1)
}

// GetErrorRate returns score failures over score attempts, or 0 when nothing
// has been scored. It reads the registry the metrics were created with.
func (m *Metrics) GetErrorRate() float64 {
	gatherer := m.gatherer
	if gatherer == nil {
		gatherer = prometheus.DefaultGatherer
	}

	metricFamilies, err := gatherer.Gather()
	if err != nil {
		return 0
	}

	var scored, failed float64
	for _, mf := range metricFamilies {
		switch mf.GetName() {
		case "fraud_scores_total":
			for _, metric := range mf.GetMetric() {
				scored = metric.GetCounter().GetValue()
			}
		case "fraud_score_failures_total":
			for _, metric := range mf.GetMetric() {
				failed = metric.GetCounter().GetValue()
			}
		}
	}

	if scored+failed == 0 {
		return 0
	}
	return failed / (scored + failed)
}
