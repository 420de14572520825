// Package storage persists fitted artifact bundles and the score audit trail.
// It uses BoltDB as the underlying storage engine: bundles are stored as JSON
// under their ID, the active bundle ID lives in a meta bucket, and score
// records are keyed by artifact ID and timestamp for range queries.
package storage

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"path/filepath"
	"sort"
	"time"

	"fraudscore/internal/ml"
	"fraudscore/internal/pipeline"

	"go.etcd.io/bbolt"
)

const (
	artifactsBucket = "artifacts" // Bucket name for artifact bundles
	metaBucket      = "meta"      // Bucket name for store metadata
	scoresBucket    = "scores"    // Bucket name for the score audit trail

	activeKey = "active"

	// DBFile is the database file name inside the data directory.
	DBFile = "fraudscore.db"
)

// ErrNotFound is returned when a requested bundle does not exist.
var ErrNotFound = errors.New("not found")

// Store provides persistent storage for artifact bundles and score records.
type Store struct {
	db *bbolt.DB
}

// New opens (or creates) the database under dataPath and makes sure every
// bucket exists.
func New(dataPath string) (*Store, error) {
	dbPath := filepath.Join(dataPath, DBFile)

	db, err := bbolt.Open(dbPath, 0o600, &bbolt.Options{Timeout: 1 * time.Second})
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	err = db.Update(func(tx *bbolt.Tx) error {
		for _, name := range []string{artifactsBucket, metaBucket, scoresBucket} {
			if _, err := tx.CreateBucketIfNotExists([]byte(name)); err != nil {
				return fmt.Errorf("create %s bucket: %w", name, err)
			}
		}
		return nil
	})
	if err != nil {
		db.Close()
		return nil, err
	}

	return &Store{db: db}, nil
}

// Close closes the database connection gracefully.
func (s *Store) Close() error {
	if s.db != nil {
		return s.db.Close()
	}
	return nil
}

// SaveArtifacts stores a validated bundle under its ID. Bundles are
// write-once; saving an existing ID fails.
func (s *Store) SaveArtifacts(a *pipeline.Artifacts) error {
	if err := a.Validate(); err != nil {
		return fmt.Errorf("refusing to store bundle: %w", err)
	}
	if a.ID == "" {
		return fmt.Errorf("refusing to store bundle without an ID")
	}

	data, err := json.Marshal(a)
	if err != nil {
		return fmt.Errorf("marshal artifacts: %w", err)
	}

	return s.db.Update(func(tx *bbolt.Tx) error {
		b := tx.Bucket([]byte(artifactsBucket))
		if b.Get([]byte(a.ID)) != nil {
			return fmt.Errorf("artifact bundle %s already stored", a.ID)
		}
		return b.Put([]byte(a.ID), data)
	})
}

// LoadArtifacts reads a bundle and checks that its codec and model still
// belong together.
func (s *Store) LoadArtifacts(id string) (*pipeline.Artifacts, error) {
	var data []byte
	err := s.db.View(func(tx *bbolt.Tx) error {
		v := tx.Bucket([]byte(artifactsBucket)).Get([]byte(id))
		if v == nil {
			return fmt.Errorf("artifact bundle %s: %w", id, ErrNotFound)
		}
		data = bytes.Clone(v)
		return nil
	})
	if err != nil {
		return nil, err
	}

	var a pipeline.Artifacts
	if err := json.Unmarshal(data, &a); err != nil {
		return nil, fmt.Errorf("unmarshal artifact bundle %s: %w", id, err)
	}
	if err := a.Validate(); err != nil {
		return nil, fmt.Errorf("artifact bundle %s: %w", id, err)
	}
	return &a, nil
}

// SetActive marks a stored bundle as the one to serve.
func (s *Store) SetActive(id string) error {
	return s.db.Update(func(tx *bbolt.Tx) error {
		if tx.Bucket([]byte(artifactsBucket)).Get([]byte(id)) == nil {
			return fmt.Errorf("artifact bundle %s: %w", id, ErrNotFound)
		}
		return tx.Bucket([]byte(metaBucket)).Put([]byte(activeKey), []byte(id))
	})
}

// ActiveID returns the active bundle ID, or "" when none was set.
func (s *Store) ActiveID() (string, error) {
	var id string
	err := s.db.View(func(tx *bbolt.Tx) error {
		id = string(tx.Bucket([]byte(metaBucket)).Get([]byte(activeKey)))
		return nil
	})
	return id, err
}

// LoadActive loads the active bundle. It returns ErrNotFound when none is set.
func (s *Store) LoadActive() (*pipeline.Artifacts, error) {
	id, err := s.ActiveID()
	if err != nil {
		return nil, err
	}
	if id == "" {
		return nil, fmt.Errorf("active artifact bundle: %w", ErrNotFound)
	}
	return s.LoadArtifacts(id)
}

// ArtifactSummary describes a stored bundle without its codec and model.
type ArtifactSummary struct {
	ID           string               `json:"id" yaml:"id"`
	CreatedAt    time.Time            `json:"created_at" yaml:"createdAt"`
	Metrics      ml.EvaluationMetrics `json:"metrics" yaml:"metrics"`
	TrainingRows int                  `json:"training_rows" yaml:"trainingRows"`
	TestRows     int                  `json:"test_rows" yaml:"testRows"`
	Active       bool                 `json:"active" yaml:"active"`
}

// ListArtifacts summarizes every stored bundle, oldest first.
func (s *Store) ListArtifacts() ([]ArtifactSummary, error) {
	var out []ArtifactSummary
	err := s.db.View(func(tx *bbolt.Tx) error {
		active := string(tx.Bucket([]byte(metaBucket)).Get([]byte(activeKey)))
		return tx.Bucket([]byte(artifactsBucket)).ForEach(func(k, v []byte) error {
			var sum ArtifactSummary
			if err := json.Unmarshal(v, &sum); err != nil {
				return fmt.Errorf("unmarshal artifact bundle %s: %w", k, err)
			}
			sum.Active = sum.ID == active
			out = append(out, sum)
			return nil
		})
	})
	if err != nil {
		return nil, err
	}

	sort.Slice(out, func(i, j int) bool {
		if !out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].CreatedAt.Before(out[j].CreatedAt)
		}
		return out[i].ID < out[j].ID
	})
	return out, nil
}

// DeleteArtifacts removes a bundle. The active bundle cannot be deleted.
func (s *Store) DeleteArtifacts(id string) error {
	return s.db.Update(func(tx *bbolt.Tx) error {
		if string(tx.Bucket([]byte(metaBucket)).Get([]byte(activeKey))) == id {
			return fmt.Errorf("artifact bundle %s is active", id)
		}
		b := tx.Bucket([]byte(artifactsBucket))
		if b.Get([]byte(id)) == nil {
			return fmt.Errorf("artifact bundle %s: %w", id, ErrNotFound)
		}
		return b.Delete([]byte(id))
	})
}
