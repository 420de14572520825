package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"

	"fraudscore/internal/cfg"
	"fraudscore/internal/common"
	"fraudscore/internal/dataset"
	"fraudscore/internal/metrics"
	"fraudscore/internal/pipeline"
	"fraudscore/internal/server"
	"fraudscore/internal/storage"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

func main() {
	log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr})

	c, err := cfg.Load()
	if err != nil {
		log.Fatal().Err(err).Msg("config load failed")
	}
	zerolog.SetGlobalLevel(c.Level())

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, c); err != nil {
		log.Fatal().Err(err).Msg("fraudscore exited")
	}
	log.Info().Msg("Shutdown complete")
}

func run(ctx context.Context, c cfg.Settings) error {
	if err := os.MkdirAll(c.DataPath, 0o755); err != nil {
		return fmt.Errorf("failed to create data path: %w", err)
	}

	m := metrics.New()
	mw := metrics.NewWrapper(m)

	store, err := storage.New(c.DataPath)
	if err != nil {
		return err
	}
	defer store.Close()

	p := pipeline.New(c.PipelineConfig(), mw)
	active, err := initializeModel(ctx, c, store, p, mw)
	if err != nil {
		return err
	}

	registry := pipeline.NewRegistry()
	if active != nil {
		if err := registry.Put(active); err != nil {
			return err
		}
		mw.ModelActivated(active.CreatedAt, active.TrainingRows, active.Metrics)
	} else {
		log.Warn().Msg("No model available, scoring requests will be rejected until one is fitted")
	}

	var auditor server.Auditor
	if c.AuditScores {
		auditor = store
	}

	srv := server.New(server.Config{
		Port:           c.ListenPort,
		RequestTimeout: c.RequestTimeout,
	}, registry, p, auditor, mw)
	return srv.Run(ctx)
}

// initializeModel loads the active bundle, or fits and stores a new one when
// none exists or a refit is requested. A nil bundle means nothing to serve.
func initializeModel(ctx context.Context, c cfg.Settings, store *storage.Store, p *pipeline.Pipeline, mw *metrics.MetricsWrapper) (*pipeline.Artifacts, error) {
	if !c.RefitOnStart {
		a, err := store.LoadActive()
		if err == nil {
			log.Info().
				Str("artifact_id", a.ID).
				Time("created_at", a.CreatedAt).
				Float64("f1", a.Metrics.F1).
				Msg("Loaded active model")
			return a, nil
		}
		if !errors.Is(err, storage.ErrNotFound) {
			return nil, err
		}
	}

	if c.TrainingCSV == "" {
		if c.RefitOnStart {
			return nil, errors.New(common.ErrMsgTrainingRequired)
		}
		return nil, nil
	}

	records, err := dataset.LoadTransactions(resolve(c.DataPath, c.TrainingCSV), resolve(c.DataPath, c.IdentityCSV))
	if err != nil {
		return nil, err
	}
	a, err := p.Fit(ctx, records)
	if err != nil {
		return nil, err
	}
	if err := store.SaveArtifacts(a); err != nil {
		return nil, err
	}
	mw.ArtifactsStored().Inc()
	if err := store.SetActive(a.ID); err != nil {
		return nil, err
	}
	return a, nil
}

// resolve treats relative CSV paths as relative to the working directory
// first and the data path second.
func resolve(dataPath, name string) string {
	if name == "" || filepath.IsAbs(name) {
		return name
	}
	if _, err := os.Stat(name); err == nil {
		return name
	}
	return filepath.Join(dataPath, name)
}
