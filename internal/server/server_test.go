package server

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"

	"fraudscore/internal/dataset"
	"fraudscore/internal/features"
	"fraudscore/internal/metrics"
	"fraudscore/internal/pipeline"
	"fraudscore/internal/storage"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var (
	bundleOnce sync.Once
	bundle     *pipeline.Artifacts
	bundleErr  error
)

func testBundle(t *testing.T) *pipeline.Artifacts {
	t.Helper()
	bundleOnce.Do(func() {
		records, err := dataset.Synthetic(400, 0.1, 3)
		if err != nil {
			bundleErr = err
			return
		}
		cfg := pipeline.DefaultConfig()
		cfg.Model.NumTrees = 15
		bundle, bundleErr = pipeline.New(cfg, nil).Fit(context.Background(), records)
	})
	require.NoError(t, bundleErr)
	return bundle
}

type fakeAuditor struct {
	mu      sync.Mutex
	records []storage.ScoreRecord
	err     error
}

func (f *fakeAuditor) StoreScore(record storage.ScoreRecord) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return f.err
	}
	f.records = append(f.records, record)
	return nil
}

func (f *fakeAuditor) count() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.records)
}

type harness struct {
	server   *Server
	registry *pipeline.Registry
	auditor  *fakeAuditor
	metrics  *metrics.Metrics
}

func newHarness(t *testing.T, withModel bool) *harness {
	t.Helper()
	reg := prometheus.NewRegistry()
	m := metrics.NewWithRegistry(reg)
	mw := metrics.NewWrapper(m)

	registry := pipeline.NewRegistry()
	if withModel {
		require.NoError(t, registry.Put(testBundle(t)))
	}
	auditor := &fakeAuditor{}
	srv := New(Config{MetricsHandler: promhttp.HandlerFor(reg, promhttp.HandlerOpts{})},
		registry, pipeline.New(pipeline.DefaultConfig(), mw), auditor, mw)
	return &harness{server: srv, registry: registry, auditor: auditor, metrics: m}
}

func (h *harness) do(t *testing.T, method, path string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	switch b := body.(type) {
	case nil:
	case string:
		buf.WriteString(b)
	default:
		require.NoError(t, json.NewEncoder(&buf).Encode(b))
	}
	req := httptest.NewRequest(method, path, &buf)
	rec := httptest.NewRecorder()
	h.server.Handler().ServeHTTP(rec, req)
	return rec
}

func sampleTransaction() features.Transaction {
	amt, dist := 9999.0, 950.0
	card1, addr1 := int64(13926), int64(315)
	return features.Transaction{
		TransactionAmt: &amt,
		ProductCD:      "C",
		Card1:          &card1,
		Card4:          "discover",
		Addr1:          &addr1,
		Dist1:          &dist,
		DeviceType:     "mobile",
	}
}

func TestHealth(t *testing.T) {
	h := newHarness(t, false)
	rec := h.do(t, http.MethodGet, "/health", nil)
	require.Equal(t, http.StatusOK, rec.Code)

	var resp HealthResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Equal(t, "ok", resp.Status)
	assert.Empty(t, resp.ArtifactID)

	h = newHarness(t, true)
	rec = h.do(t, http.MethodGet, "/health", nil)
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Equal(t, testBundle(t).ID, resp.ArtifactID)
}

func TestScore(t *testing.T) {
	h := newHarness(t, true)
	a := testBundle(t)

	rec := h.do(t, http.MethodPost, "/v1/score", sampleTransaction())
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	assert.Equal(t, "application/json", rec.Header().Get("Content-Type"))

	var res pipeline.Result
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &res))
	assert.Contains(t, []string{pipeline.LabelFraud, pipeline.LabelLegitimate}, res.Label)
	assert.GreaterOrEqual(t, res.Probability, 0.0)
	assert.LessOrEqual(t, res.Probability, 1.0)
	assert.Equal(t, a.ID, res.ArtifactID)
	require.Len(t, res.Attribution, len(a.Codec.FeatureNames()))
	assert.Equal(t, features.FieldTransactionAmt, res.Attribution[0].Feature)

	sum := res.Baseline
	for _, c := range res.Attribution {
		sum += c.Value
	}
	assert.InDelta(t, res.Probability, sum, 1e-6)

	require.Equal(t, 1, h.auditor.count())
	assert.Equal(t, a.ID, h.auditor.records[0].ArtifactID)
	assert.Equal(t, res.Probability, h.auditor.records[0].Probability)

	assert.Equal(t, 1.0, testutil.ToFloat64(h.metrics.ScoresTotal))
	assert.Equal(t, 1.0, testutil.ToFloat64(h.metrics.HTTPRequests.WithLabelValues("/v1/score", "2xx")))
	assert.Equal(t, 1, testutil.CollectAndCount(h.metrics.HTTPDuration))
}

func TestScore_UnknownAndMissing(t *testing.T) {
	h := newHarness(t, true)

	rec := h.do(t, http.MethodPost, "/v1/score", `{"ProductCD":"Z","DeviceType":"toaster"}`)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	var res pipeline.Result
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &res))
	assert.Contains(t, res.Unknown, features.FieldProductCD)
	assert.Contains(t, res.Unknown, features.FieldDeviceType)
	assert.NotEmpty(t, res.Imputed)
}

func TestScore_Errors(t *testing.T) {
	tests := []struct {
		name      string
		withModel bool
		method    string
		body      any
		wantCode  int
	}{
		{"no model", false, http.MethodPost, sampleTransaction(), http.StatusServiceUnavailable},
		{"malformed json", true, http.MethodPost, `{"TransactionAmt":`, http.StatusBadRequest},
		{"wrong type", true, http.MethodPost, `{"TransactionAmt":"lots"}`, http.StatusBadRequest},
		{"trailing data", true, http.MethodPost, `{} {}`, http.StatusBadRequest},
		{"wrong method", true, http.MethodGet, nil, http.StatusMethodNotAllowed},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			h := newHarness(t, tt.withModel)
			rec := h.do(t, tt.method, "/v1/score", tt.body)
			assert.Equal(t, tt.wantCode, rec.Code, rec.Body.String())
			assert.Zero(t, h.auditor.count())

			assert.Equal(t, "application/json", rec.Header().Get("Content-Type"))
			var resp ErrorResponse
			require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
			assert.NotEmpty(t, resp.Error)
		})
	}
}

func TestUnroutedRequests(t *testing.T) {
	tests := []struct {
		name      string
		method    string
		path      string
		wantCode  int
		wantRoute string
	}{
		{"get score", http.MethodGet, "/v1/score", http.StatusMethodNotAllowed, "/v1/score"},
		{"get batch", http.MethodGet, "/v1/score/batch", http.StatusMethodNotAllowed, "/v1/score/batch"},
		{"post model", http.MethodPost, "/v1/model", http.StatusMethodNotAllowed, "/v1/model"},
		{"post health", http.MethodPost, "/health", http.StatusMethodNotAllowed, "/health"},
		{"unknown path", http.MethodGet, "/v1/nope", http.StatusNotFound, "unmatched"},
		{"unknown version", http.MethodPost, "/v2/score", http.StatusNotFound, "unmatched"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			h := newHarness(t, true)
			rec := h.do(t, tt.method, tt.path, nil)
			assert.Equal(t, tt.wantCode, rec.Code, rec.Body.String())
			assert.Equal(t, "application/json", rec.Header().Get("Content-Type"))

			var resp ErrorResponse
			require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
			assert.NotEmpty(t, resp.Error)

			assert.Equal(t, 1.0, testutil.ToFloat64(h.metrics.HTTPRequests.WithLabelValues(tt.wantRoute, "4xx")))
			assert.Equal(t, 1, testutil.CollectAndCount(h.metrics.HTTPDuration))
		})
	}
}

func TestScore_AuditFailureDoesNotFailRequest(t *testing.T) {
	h := newHarness(t, true)
	h.auditor.err = errors.New("disk full")

	rec := h.do(t, http.MethodPost, "/v1/score", sampleTransaction())
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, 1.0, testutil.ToFloat64(h.metrics.ErrorsTotal))
}

func TestScoreBatch(t *testing.T) {
	h := newHarness(t, true)
	tx := sampleTransaction()
	single := h.do(t, http.MethodPost, "/v1/score", tx)
	require.Equal(t, http.StatusOK, single.Code)
	var want pipeline.Result
	require.NoError(t, json.Unmarshal(single.Body.Bytes(), &want))

	batch := BatchRequest{Transactions: []features.Transaction{tx, {ProductCD: "W"}, tx}}
	rec := h.do(t, http.MethodPost, "/v1/score/batch", batch)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	var resp BatchResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Equal(t, testBundle(t).ID, resp.ArtifactID)
	require.Len(t, resp.Results, 3)
	assert.Equal(t, want, *resp.Results[0], "batch results match single scores")
	assert.Equal(t, want, *resp.Results[2])
	assert.Equal(t, 4, h.auditor.count())
}

func TestScoreBatch_Errors(t *testing.T) {
	h := newHarness(t, true)

	rec := h.do(t, http.MethodPost, "/v1/score/batch", BatchRequest{})
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	var big bytes.Buffer
	big.WriteString(`{"transactions":[`)
	for i := 0; i < 1001; i++ {
		if i > 0 {
			big.WriteString(",")
		}
		big.WriteString("{}")
	}
	big.WriteString("]}")
	rec = h.do(t, http.MethodPost, "/v1/score/batch", big.String())
	assert.Equal(t, http.StatusRequestEntityTooLarge, rec.Code)

	h = newHarness(t, false)
	rec = h.do(t, http.MethodPost, "/v1/score/batch", BatchRequest{Transactions: []features.Transaction{{}}})
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
}

func TestModel(t *testing.T) {
	h := newHarness(t, false)
	rec := h.do(t, http.MethodGet, "/v1/model", nil)
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)

	h = newHarness(t, true)
	a := testBundle(t)
	rec = h.do(t, http.MethodGet, "/v1/model", nil)
	require.Equal(t, http.StatusOK, rec.Code)

	var info pipeline.ModelInfo
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &info))
	assert.Equal(t, a.ID, info.ID)
	assert.Equal(t, a.Codec.FeatureNames(), info.Features)
	assert.Equal(t, a.Metrics, info.Metrics)
	assert.Equal(t, 15, info.NumTrees)
	assert.Contains(t, info.Vocabularies, features.FieldProductCD)
	assert.Equal(t, features.UnknownToken, info.Vocabularies[features.FieldProductCD][0])
}

func TestMetricsEndpoint(t *testing.T) {
	h := newHarness(t, true)
	h.do(t, http.MethodPost, "/v1/score", sampleTransaction())

	rec := h.do(t, http.MethodGet, "/metrics", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "fraud_scores_total")
}

func TestConcurrentScores(t *testing.T) {
	h := newHarness(t, true)

	var wg sync.WaitGroup
	codes := make([]int, 16)
	for i := range codes {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			amt := float64(10 * (i + 1))
			codes[i] = h.do(t, http.MethodPost, "/v1/score", features.Transaction{TransactionAmt: &amt}).Code
		}(i)
	}
	wg.Wait()

	for i, code := range codes {
		assert.Equal(t, http.StatusOK, code, fmt.Sprintf("request %d", i))
	}
	assert.Equal(t, len(codes), h.auditor.count())
}

func TestStatusFor(t *testing.T) {
	assert.Equal(t, http.StatusServiceUnavailable, statusFor(&features.NotFittedError{Component: "codec"}))
	assert.Equal(t, http.StatusConflict, statusFor(fmt.Errorf("wrap: %w", &pipeline.IncompatibleArtifactsError{})))
	assert.Equal(t, http.StatusConflict, statusFor(&features.SchemaMismatchError{}))
	assert.Equal(t, http.StatusGatewayTimeout, statusFor(context.DeadlineExceeded))
	assert.Equal(t, http.StatusInternalServerError, statusFor(errors.New("boom")))
}
