// Package server exposes the active artifact bundle over HTTP.
package server

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"time"

	"fraudscore/internal/common"
	"fraudscore/internal/features"
	"fraudscore/internal/metrics"
	"fraudscore/internal/pipeline"
	"fraudscore/internal/storage"

	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog/log"
	"golang.org/x/sync/errgroup"
)

// Auditor persists scored transactions.
type Auditor interface {
	StoreScore(record storage.ScoreRecord) error
}

// Config controls the HTTP server.
type Config struct {
	Port           int
	RequestTimeout time.Duration
	// MetricsHandler serves /metrics. Defaults to promhttp.Handler().
	MetricsHandler http.Handler
}

// Server scores transactions against the active bundle of a registry.
type Server struct {
	registry *pipeline.Registry
	pipeline *pipeline.Pipeline
	auditor  Auditor
	metrics  *metrics.MetricsWrapper
	handler  http.Handler
	server   *http.Server
	now      func() time.Time
}

// BatchRequest is the body of a batch score.
type BatchRequest struct {
	Transactions []features.Transaction `json:"transactions"`
}

// BatchResponse carries one result per transaction, in request order.
type BatchResponse struct {
	ArtifactID string             `json:"artifact_id"`
	Results    []*pipeline.Result `json:"results"`
}

// ErrorResponse is the body of every non-2xx reply.
type ErrorResponse struct {
	Error string `json:"error"`
}

// HealthResponse reports liveness and whether a model is loaded.
type HealthResponse struct {
	Status     string `json:"status"`
	ArtifactID string `json:"artifact_id,omitempty"`
}

// New builds a server. auditor and mw may be nil.
func New(cfg Config, registry *pipeline.Registry, p *pipeline.Pipeline, auditor Auditor, mw *metrics.MetricsWrapper) *Server {
	if cfg.RequestTimeout <= 0 {
		cfg.RequestTimeout = 10 * time.Second
	}
	if cfg.MetricsHandler == nil {
		cfg.MetricsHandler = promhttp.Handler()
	}

	s := &Server{
		registry: registry,
		pipeline: p,
		auditor:  auditor,
		metrics:  mw,
		now:      time.Now,
	}

	timeout := timeoutMiddleware(cfg.RequestTimeout)
	r := mux.NewRouter()
	r.Handle(common.RouteScore, timeout(http.HandlerFunc(s.handleScore))).Methods(http.MethodPost)
	r.Handle(common.RouteScoreBatch, timeout(http.HandlerFunc(s.handleScoreBatch))).Methods(http.MethodPost)
	r.Handle(common.RouteModel, timeout(http.HandlerFunc(s.handleModel))).Methods(http.MethodGet)
	r.HandleFunc(common.RouteHealth, s.handleHealth).Methods(http.MethodGet)
	r.Handle(common.RouteMetrics, cfg.MetricsHandler).Methods(http.MethodGet)
	r.Use(s.instrument)
	// Router middleware skips these two, so they are instrumented directly.
	r.NotFoundHandler = s.instrumentAs(unmatchedRoute, http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		writeError(w, http.StatusNotFound, "not found")
	}))
	r.MethodNotAllowedHandler = s.instrumentAs(routeTemplate, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		writeError(w, http.StatusMethodNotAllowed, fmt.Sprintf("method %s not allowed", r.Method))
	}))
	s.handler = r

	s.server = &http.Server{
		Addr:              fmt.Sprintf(":%d", cfg.Port),
		Handler:           r,
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       30 * time.Second,
		WriteTimeout:      cfg.RequestTimeout + 5*time.Second,
		IdleTimeout:       60 * time.Second,
	}
	return s
}

// Handler returns the routed handler, for tests and embedding.
func (s *Server) Handler() http.Handler {
	return s.handler
}

// Run serves until ctx is canceled, then shuts down gracefully.
func (s *Server) Run(ctx context.Context) error {
	errCh := make(chan error, 1)
	go func() {
		log.Info().Str("addr", s.server.Addr).Msg("Starting scoring server")
		if err := s.server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	log.Info().Msg("Shutting down scoring server")
	return s.server.Shutdown(shutdownCtx)
}

func (s *Server) handleScore(w http.ResponseWriter, r *http.Request) {
	var tx features.Transaction
	if err := decodeJSON(w, r, &tx); err != nil {
		writeError(w, http.StatusBadRequest, fmt.Sprintf("invalid request: %v", err))
		return
	}

	active, err := s.registry.Active()
	if err != nil {
		writeError(w, http.StatusServiceUnavailable, common.ErrMsgNoModel)
		return
	}

	res, err := s.pipeline.Score(active, tx.Record())
	if err != nil {
		log.Error().Err(err).Str("artifact_id", active.ID).Msg("Score failed")
		writeError(w, statusFor(err), err.Error())
		return
	}
	s.audit(tx, res)
	writeJSON(w, http.StatusOK, res)
}

func (s *Server) handleScoreBatch(w http.ResponseWriter, r *http.Request) {
	var req BatchRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, http.StatusBadRequest, fmt.Sprintf("invalid request: %v", err))
		return
	}
	if len(req.Transactions) == 0 {
		writeError(w, http.StatusBadRequest, "transactions cannot be empty")
		return
	}
	if len(req.Transactions) > common.MaxBatchSize {
		writeError(w, http.StatusRequestEntityTooLarge,
			fmt.Sprintf("batch of %d exceeds the limit of %d", len(req.Transactions), common.MaxBatchSize))
		return
	}

	// Pin one bundle so every result in the batch comes from the same fit.
	active, err := s.registry.Active()
	if err != nil {
		writeError(w, http.StatusServiceUnavailable, common.ErrMsgNoModel)
		return
	}

	results := make([]*pipeline.Result, len(req.Transactions))
	g, ctx := errgroup.WithContext(r.Context())
	g.SetLimit(8)
	for i, tx := range req.Transactions {
		g.Go(func() error {
			if err := ctx.Err(); err != nil {
				return err
			}
			res, err := s.pipeline.Score(active, tx.Record())
			if err != nil {
				return fmt.Errorf("transaction %d: %w", i, err)
			}
			results[i] = res
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		log.Error().Err(err).Str("artifact_id", active.ID).Msg("Batch score failed")
		writeError(w, statusFor(err), err.Error())
		return
	}

	for i, tx := range req.Transactions {
		s.audit(tx, results[i])
	}
	writeJSON(w, http.StatusOK, BatchResponse{ArtifactID: active.ID, Results: results})
}

func (s *Server) handleModel(w http.ResponseWriter, _ *http.Request) {
	active, err := s.registry.Active()
	if err != nil {
		writeError(w, http.StatusServiceUnavailable, common.ErrMsgNoModel)
		return
	}
	writeJSON(w, http.StatusOK, active.Info())
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	resp := HealthResponse{Status: "ok"}
	if active, err := s.registry.Active(); err == nil {
		resp.ArtifactID = active.ID
	}
	writeJSON(w, http.StatusOK, resp)
}

// audit failures never fail the request.
func (s *Server) audit(tx features.Transaction, res *pipeline.Result) {
	if s.auditor == nil {
		return
	}
	if err := s.auditor.StoreScore(storage.NewScoreRecord(tx, res, s.now())); err != nil {
		log.Warn().Err(err).Str("artifact_id", res.ArtifactID).Msg("Failed to audit score")
		if s.metrics != nil {
			s.metrics.ErrorsTotal().Inc()
		}
	}
}

func statusFor(err error) int {
	var (
		notFitted    *features.NotFittedError
		incompatible *pipeline.IncompatibleArtifactsError
		mismatch     *features.SchemaMismatchError
	)
	switch {
	case errors.Is(err, context.DeadlineExceeded):
		return http.StatusGatewayTimeout
	case errors.As(err, &notFitted):
		return http.StatusServiceUnavailable
	case errors.As(err, &incompatible), errors.As(err, &mismatch):
		return http.StatusConflict
	default:
		return http.StatusInternalServerError
	}
}

func decodeJSON(w http.ResponseWriter, r *http.Request, v any) error {
	r.Body = http.MaxBytesReader(w, r.Body, common.MaxRequestBytes)
	dec := json.NewDecoder(r.Body)
	if err := dec.Decode(v); err != nil {
		return err
	}
	if dec.More() {
		return errors.New("unexpected data after JSON body")
	}
	return nil
}

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		log.Error().Err(err).Msg("Failed to encode response")
	}
}

func writeError(w http.ResponseWriter, code int, msg string) {
	writeJSON(w, code, ErrorResponse{Error: msg})
}
