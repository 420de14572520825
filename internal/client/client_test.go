package client

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"fraudscore/internal/dataset"
	"fraudscore/internal/features"
	"fraudscore/internal/pipeline"
	"fraudscore/internal/server"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func startServer(t *testing.T, withModel bool) (*httptest.Server, *pipeline.Artifacts) {
	t.Helper()
	registry := pipeline.NewRegistry()

	var a *pipeline.Artifacts
	if withModel {
		records, err := dataset.Synthetic(300, 0.1, 11)
		require.NoError(t, err)
		cfg := pipeline.DefaultConfig()
		cfg.Model.NumTrees = 10
		a, err = pipeline.New(cfg, nil).Fit(context.Background(), records)
		require.NoError(t, err)
		require.NoError(t, registry.Put(a))
	}

	srv := server.New(server.Config{MetricsHandler: promhttp.HandlerFor(prometheus.NewRegistry(), promhttp.HandlerOpts{})},
		registry, pipeline.New(pipeline.DefaultConfig(), nil), nil, nil)
	ts := httptest.NewServer(srv.Handler())
	t.Cleanup(ts.Close)
	return ts, a
}

func TestClient_ScoreAndModel(t *testing.T) {
	ts, a := startServer(t, true)
	c := New(ts.URL+"/", 5*time.Second)
	ctx := context.Background()

	amt := 250.0
	res, err := c.Score(ctx, features.Transaction{TransactionAmt: &amt, ProductCD: "W", DeviceType: "desktop"})
	require.NoError(t, err)
	assert.Equal(t, a.ID, res.ArtifactID)
	assert.Len(t, res.Attribution, 7)

	batch, err := c.ScoreBatch(ctx, []features.Transaction{{TransactionAmt: &amt}, {ProductCD: "C"}})
	require.NoError(t, err)
	assert.Len(t, batch.Results, 2)

	info, err := c.Model(ctx)
	require.NoError(t, err)
	assert.Equal(t, a.ID, info.ID)
	assert.Equal(t, a.TrainingRows, info.TrainingRows)

	health, err := c.Health(ctx)
	require.NoError(t, err)
	assert.Equal(t, "ok", health.Status)
	assert.Equal(t, a.ID, health.ArtifactID)
}

func TestClient_NoModel(t *testing.T) {
	ts, _ := startServer(t, false)
	c := New(ts.URL, 5*time.Second)

	_, err := c.Score(context.Background(), features.Transaction{ProductCD: "W"})
	var apiErr *APIError
	require.True(t, errors.As(err, &apiErr), "got %v", err)
	assert.Equal(t, http.StatusServiceUnavailable, apiErr.StatusCode)
	assert.NotEmpty(t, apiErr.Message)
}

func TestClient_RetriesUnavailable(t *testing.T) {
	var calls atomic.Int32
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if calls.Add(1) == 1 {
			w.WriteHeader(http.StatusServiceUnavailable)
			return
		}
		w.Write([]byte(`{"status":"ok"}`))
	}))
	defer ts.Close()

	h, err := New(ts.URL, 5*time.Second).Health(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "ok", h.Status)
	assert.Equal(t, int32(2), calls.Load())
}

func TestClient_PlainTextError(t *testing.T) {
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "teapot", http.StatusTeapot)
	}))
	defer ts.Close()

	_, err := New(ts.URL, time.Second).Model(context.Background())
	var apiErr *APIError
	require.True(t, errors.As(err, &apiErr))
	assert.Equal(t, http.StatusTeapot, apiErr.StatusCode)
	assert.Equal(t, "teapot", apiErr.Message)
}

func TestClient_Unreachable(t *testing.T) {
	c := New("http://127.0.0.1:1", 200*time.Millisecond)
	_, err := c.Health(context.Background())
	assert.Error(t, err)
}
