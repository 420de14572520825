package metrics

import (
	"errors"
	"testing"
	"time"

	"fraudscore/internal/ml"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
)

func newTestMetrics(t *testing.T) (*Metrics, *prometheus.Registry) {
	t.Helper()
	registry := prometheus.NewRegistry()
	return NewWithRegistry(registry), registry
}

func TestNewWrapper(t *testing.T) {
	metrics, _ := newTestMetrics(t)
	wrapper := NewWrapper(metrics)

	if wrapper == nil {
		t.Fatal("NewWrapper returned nil")
	}
	if wrapper.m != metrics {
		t.Error("Wrapper does not contain correct metrics instance")
	}
}

func TestMetricsWrapper_FitObserved(t *testing.T) {
	metrics, _ := newTestMetrics(t)
	wrapper := NewWrapper(metrics)

	wrapper.FitObserved(2*time.Second, ml.ComputeMetrics(5, 1, 90, 4), nil)
	wrapper.FitObserved(time.Second, ml.EvaluationMetrics{}, errors.New("boom"))

	if got := testutil.ToFloat64(metrics.FitsTotal); got != 1 {
		t.Errorf("Expected 1 fit, got %f", got)
	}
	if got := testutil.ToFloat64(metrics.FitFailures); got != 1 {
		t.Errorf("Expected 1 fit failure, got %f", got)
	}
	if got := testutil.ToFloat64(metrics.ErrorsTotal); got != 1 {
		t.Errorf("Expected 1 error, got %f", got)
	}
	if got := testutil.CollectAndCount(metrics.FitDuration); got != 1 {
		t.Errorf("Expected fit duration histogram to be collected once, got %d", got)
	}
}

func TestMetricsWrapper_ScoreObserved(t *testing.T) {
	metrics, _ := newTestMetrics(t)
	wrapper := NewWrapper(metrics)

	wrapper.ScoreObserved(time.Millisecond, 0.8, 2, 1, nil)
	wrapper.ScoreObserved(time.Millisecond, 0.1, 0, 0, nil)
	wrapper.ScoreObserved(time.Millisecond, 0, 0, 0, errors.New("schema mismatch"))

	tests := []struct {
		name string
		c    prometheus.Collector
		want float64
	}{
		{"scores", metrics.ScoresTotal, 2},
		{"failures", metrics.ScoreFailures, 1},
		{"fraud", metrics.FraudPredictions, 1},
		{"imputed", metrics.ImputedFields, 2},
		{"unknown", metrics.UnknownCategories, 1},
		{"errors", metrics.ErrorsTotal, 1},
	}
	for _, tt := range tests {
		if got := testutil.ToFloat64(tt.c); got != tt.want {
			t.Errorf("%s: expected %f, got %f", tt.name, tt.want, got)
		}
	}

	if rate := metrics.GetErrorRate(); rate < 0.333 || rate > 0.334 {
		t.Errorf("Expected error rate of one third, got %f", rate)
	}
}

func TestMetrics_GetErrorRateEmpty(t *testing.T) {
	metrics, _ := newTestMetrics(t)
	if rate := metrics.GetErrorRate(); rate != 0 {
		t.Errorf("Expected 0 error rate with no scores, got %f", rate)
	}
}

func TestMetricsWrapper_ModelActivated(t *testing.T) {
	metrics, _ := newTestMetrics(t)
	wrapper := NewWrapper(metrics)

	created := time.Unix(1_700_000_000, 0)
	quality := ml.ComputeMetrics(6, 2, 88, 4)
	wrapper.ModelActivated(created, 800, quality)

	if got := testutil.ToFloat64(metrics.ModelCreated); got != 1_700_000_000 {
		t.Errorf("Expected created timestamp, got %f", got)
	}
	if got := testutil.ToFloat64(metrics.ModelTrainedOn); got != 800 {
		t.Errorf("Expected 800 training rows, got %f", got)
	}
	if got := testutil.ToFloat64(metrics.ModelQuality.WithLabelValues("precision")); got != 0.75 {
		t.Errorf("Expected precision 0.75, got %f", got)
	}
	if got := testutil.ToFloat64(metrics.ModelQuality.WithLabelValues("recall")); got != 0.6 {
		t.Errorf("Expected recall 0.6, got %f", got)
	}
}

func TestMetricsWrapper_HTTPRequest(t *testing.T) {
	metrics, _ := newTestMetrics(t)
	wrapper := NewWrapper(metrics)

	wrapper.HTTPRequest("/v1/score", 200).Inc()
	wrapper.HTTPRequest("/v1/score", 201).Inc()
	wrapper.HTTPRequest("/v1/score", 422).Inc()
	wrapper.HTTPRequest("/v1/model", 503).Inc()

	if got := testutil.ToFloat64(metrics.HTTPRequests.WithLabelValues("/v1/score", "2xx")); got != 2 {
		t.Errorf("Expected 2 successful score requests, got %f", got)
	}
	if got := testutil.ToFloat64(metrics.HTTPRequests.WithLabelValues("/v1/score", "4xx")); got != 1 {
		t.Errorf("Expected 1 rejected score request, got %f", got)
	}
	if got := testutil.ToFloat64(metrics.HTTPRequests.WithLabelValues("/v1/model", "5xx")); got != 1 {
		t.Errorf("Expected 1 failed model request, got %f", got)
	}
}

func TestMetricsWrapper_Views(t *testing.T) {
	metrics, _ := newTestMetrics(t)
	wrapper := NewWrapper(metrics)

	wrapper.ArtifactsStored().Inc()
	wrapper.ErrorsTotal().Inc()
	wrapper.HTTPLatency("/v1/score").Observe(0.002)
	wrapper.HTTPLatency("/v1/score").Observe(0.004)
	wrapper.HTTPLatency("unmatched").Observe(0.001)

	if got := testutil.ToFloat64(metrics.ArtifactsStored); got != 1 {
		t.Errorf("Expected 1 stored artifact, got %f", got)
	}
	if got := testutil.ToFloat64(metrics.ErrorsTotal); got != 1 {
		t.Errorf("Expected 1 error, got %f", got)
	}
	if got := testutil.CollectAndCount(metrics.HTTPDuration); got != 2 {
		t.Errorf("Expected latency series for 2 routes, got %d", got)
	}
}

func TestMetricsWrapper_ConcurrentAccess(t *testing.T) {
	metrics, _ := newTestMetrics(t)
	wrapper := NewWrapper(metrics)

	done := make(chan bool, 10)
	for i := 0; i < 10; i++ {
		go func() {
			for j := 0; j < 100; j++ {
				wrapper.ScoreObserved(time.Microsecond, 0.2, 1, 0, nil)
			}
			done <- true
		}()
	}
	for i := 0; i < 10; i++ {
		<-done
	}

	expected := 1000.0
	if got := testutil.ToFloat64(metrics.ScoresTotal); got != expected {
		t.Errorf("Expected %f scores after concurrent access, got %f", expected, got)
	}
	if got := testutil.ToFloat64(metrics.ImputedFields); got != expected {
		t.Errorf("Expected %f imputed fields after concurrent access, got %f", expected, got)
	}
}

func TestMetricsWrapper_NilSafe(t *testing.T) {
	var wrapper *MetricsWrapper
	wrapper.FitObserved(time.Second, ml.EvaluationMetrics{}, nil)
	wrapper.ScoreObserved(time.Second, 0.5, 0, 0, nil)
	wrapper.ModelActivated(time.Now(), 1, ml.EvaluationMetrics{})

	empty := &MetricsWrapper{}
	empty.ScoreObserved(time.Second, 0.5, 0, 0, errors.New("x"))
}

func TestCounterWrapper_DirectUsage(t *testing.T) {
	counter := prometheus.NewCounter(prometheus.CounterOpts{
		Name: "test_counter",
		Help: "Test counter for unit tests",
	})

	wrapper := &CounterWrapper{c: counter}
	wrapper.Inc()
	if value := testutil.ToFloat64(counter); value != 1 {
		t.Errorf("Expected counter value 1, got %f", value)
	}
}

func TestHistogramWrapper_DirectUsage(t *testing.T) {
	histogram := prometheus.NewHistogram(prometheus.HistogramOpts{
		Name:    "test_histogram",
		Help:    "Test histogram for unit tests",
		Buckets: prometheus.DefBuckets,
	})

	wrapper := &HistogramWrapper{h: histogram}
	wrapper.Observe(0.5)
	if got := testutil.CollectAndCount(histogram); got != 1 {
		t.Errorf("Expected one collected histogram, got %d", got)
	}
}
