package storage

import (
	"bytes"
	"encoding/json"
	"fmt"
	"time"

	"fraudscore/internal/features"
	"fraudscore/internal/ml"
	"fraudscore/internal/pipeline"

	"go.etcd.io/bbolt"
)

// ScoreRecord is one audited score: the raw input and what the service
// answered.
type ScoreRecord struct {
	ArtifactID  string               `json:"artifact_id"`
	Timestamp   time.Time            `json:"timestamp"`
	Transaction features.Transaction `json:"transaction"`
	Label       string               `json:"label"`
	Probability float64              `json:"probability"`
	Baseline    float64              `json:"baseline"`
	Attribution []ml.Contribution    `json:"attribution"`
	Unknown     []string             `json:"unknown,omitempty"`
}

// NewScoreRecord builds an audit record from a score result.
func NewScoreRecord(tx features.Transaction, res *pipeline.Result, at time.Time) ScoreRecord {
	return ScoreRecord{
		ArtifactID:  res.ArtifactID,
		Timestamp:   at,
		Transaction: tx,
		Label:       res.Label,
		Probability: res.Probability,
		Baseline:    res.Baseline,
		Attribution: res.Attribution,
		Unknown:     res.Unknown,
	}
}

func scoreKey(artifactID string, ts time.Time) []byte {
	return []byte(fmt.Sprintf("%s_%019d", artifactID, ts.UnixNano()))
}

// StoreScore appends a score record to the audit trail. The key format is
// "artifactID_timestamp" for time-range queries per bundle.
func (s *Store) StoreScore(record ScoreRecord) error {
	if record.ArtifactID == "" {
		return fmt.Errorf("score record has no artifact ID")
	}
	data, err := json.Marshal(record)
	if err != nil {
		return fmt.Errorf("marshal score record: %w", err)
	}

	return s.db.Update(func(tx *bbolt.Tx) error {
		b := tx.Bucket([]byte(scoresBucket))
		key := scoreKey(record.ArtifactID, record.Timestamp)
		// Two scores in the same nanosecond keep both entries.
		for b.Get(key) != nil {
			key = append(key, '+')
		}
		return b.Put(key, data)
	})
}

// GetScores returns the scores served by one bundle within [start, end],
// ordered by timestamp.
func (s *Store) GetScores(artifactID string, start, end time.Time) ([]ScoreRecord, error) {
	var records []ScoreRecord

	err := s.db.View(func(tx *bbolt.Tx) error {
		c := tx.Bucket([]byte(scoresBucket)).Cursor()

		prefix := []byte(artifactID + "_")
		startKey := scoreKey(artifactID, start)
		endKey := scoreKey(artifactID, end)

		for k, v := c.Seek(startKey); k != nil && bytes.HasPrefix(k, prefix); k, v = c.Next() {
			if bytes.Compare(k[:min(len(k), len(endKey))], endKey) > 0 {
				break
			}

			var record ScoreRecord
			if err := json.Unmarshal(v, &record); err != nil {
				continue // Skip malformed records
			}
			records = append(records, record)
		}
		return nil
	})

	return records, err
}

// CountScores returns how many scores each bundle has served.
func (s *Store) CountScores() (map[string]int, error) {
	counts := make(map[string]int)
	err := s.db.View(func(tx *bbolt.Tx) error {
		return tx.Bucket([]byte(scoresBucket)).ForEach(func(k, _ []byte) error {
			if i := bytes.LastIndexByte(k, '_'); i > 0 {
				counts[string(k[:i])]++
			}
			return nil
		})
	})
	return counts, err
}
