package db

import (
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/banshee-data/permafrost.glue/internal/glue"
)

// Batch is the stored summary of one analysis run.
type Batch struct {
	BatchID      string
	Backend      string
	Seed         uint64
	Centered     bool
	SampleCount  int
	MissingCount int
	Observed     []float64
	Bounds       []glue.ParameterBound
	StartedAt    time.Time
	FinishedAt   time.Time
	CreatedAt    time.Time
}

// Sample is one stored parameter vector with its simulated value.
type Sample struct {
	Index   int
	Params  map[string]float64
	Result  glue.Result
	Failure string // empty when the sample succeeded
}

// StoredBatch is a batch loaded back with its samples in index order.
type StoredBatch struct {
	Batch
	Samples []Sample
}

// SampleSet rebuilds the sample table in bound order.
func (s *StoredBatch) SampleSet() glue.SampleSet {
	names := make([]string, len(s.Bounds))
	for i, b := range s.Bounds {
		names[i] = b.Name
	}
	set := glue.SampleSet{Names: names, Values: make([][]float64, len(s.Samples))}
	for i, smp := range s.Samples {
		row := make([]float64, len(names))
		for j, n := range names {
			row[j] = smp.Params[n]
		}
		set.Values[i] = row
	}
	return set
}

// Results returns the simulated values in index order.
func (s *StoredBatch) Results() []glue.Result {
	out := make([]glue.Result, len(s.Samples))
	for i, smp := range s.Samples {
		out[i] = smp.Result
	}
	return out
}

type boundJSON struct {
	Name   string  `json:"name"`
	Lower  float64 `json:"lower"`
	Upper  float64 `json:"upper"`
	Degree int     `json:"degree,omitempty"`
}

// InsertBatch stores a batch and all of its samples in one transaction. If
// BatchID is empty, a UUID is generated.
func (db *DB) InsertBatch(b *Batch, samples []Sample) error {
	if b.BatchID == "" {
		b.BatchID = uuid.New().String()
	}
	if b.CreatedAt.IsZero() {
		b.CreatedAt = time.Now()
	}

	bounds := make([]boundJSON, len(b.Bounds))
	for i, bd := range b.Bounds {
		bounds[i] = boundJSON{Name: bd.Name, Lower: bd.Lower, Upper: bd.Upper, Degree: bd.Degree}
	}
	boundsJSON, err := json.Marshal(bounds)
	if err != nil {
		return fmt.Errorf("marshal bounds: %w", err)
	}
	observedJSON, err := json.Marshal(b.Observed)
	if err != nil {
		return fmt.Errorf("marshal observed: %w", err)
	}

	return retryOnBusy(func() error {
		tx, err := db.Begin()
		if err != nil {
			return err
		}
		defer tx.Rollback()

		_, err = tx.Exec(`
			INSERT INTO glue_batches (
				batch_id, backend, seed, centered, sample_count, missing_count,
				observed_json, bounds_json, started_at, finished_at, created_at
			) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
			b.BatchID, b.Backend, int64(b.Seed), b.Centered, b.SampleCount, b.MissingCount,
			string(observedJSON), string(boundsJSON),
			b.StartedAt.UnixNano(), b.FinishedAt.UnixNano(), b.CreatedAt.UnixNano(),
		)
		if err != nil {
			return fmt.Errorf("insert batch: %w", err)
		}

		stmt, err := tx.Prepare(`
			INSERT INTO glue_samples (batch_id, sample_index, params_json, simulated, failure)
			VALUES (?, ?, ?, ?, ?)`)
		if err != nil {
			return fmt.Errorf("prepare sample insert: %w", err)
		}
		defer stmt.Close()

		for _, s := range samples {
			params, err := json.Marshal(s.Params)
			if err != nil {
				return fmt.Errorf("marshal sample %d: %w", s.Index, err)
			}
			var sim sql.NullFloat64
			if s.Result.OK {
				sim = sql.NullFloat64{Float64: s.Result.Value, Valid: true}
			}
			var failure sql.NullString
			if s.Failure != "" {
				failure = sql.NullString{String: s.Failure, Valid: true}
			}
			if _, err := stmt.Exec(b.BatchID, s.Index, string(params), sim, failure); err != nil {
				return fmt.Errorf("insert sample %d: %w", s.Index, err)
			}
		}
		return tx.Commit()
	})
}

const batchColumns = `
	batch_id, backend, seed, centered, sample_count, missing_count,
	observed_json, bounds_json, started_at, finished_at, created_at`

type scanner interface {
	Scan(dest ...any) error
}

func scanBatch(row scanner) (*Batch, error) {
	var b Batch
	var seed, started, finished, created int64
	var observedJSON, boundsJSON string
	if err := row.Scan(
		&b.BatchID, &b.Backend, &seed, &b.Centered, &b.SampleCount, &b.MissingCount,
		&observedJSON, &boundsJSON, &started, &finished, &created,
	); err != nil {
		return nil, err
	}
	b.Seed = uint64(seed)
	b.StartedAt = time.Unix(0, started)
	b.FinishedAt = time.Unix(0, finished)
	b.CreatedAt = time.Unix(0, created)

	if err := json.Unmarshal([]byte(observedJSON), &b.Observed); err != nil {
		return nil, fmt.Errorf("decode observed of batch %s: %w", b.BatchID, err)
	}
	var bounds []boundJSON
	if err := json.Unmarshal([]byte(boundsJSON), &bounds); err != nil {
		return nil, fmt.Errorf("decode bounds of batch %s: %w", b.BatchID, err)
	}
	b.Bounds = make([]glue.ParameterBound, len(bounds))
	for i, bd := range bounds {
		b.Bounds[i] = glue.ParameterBound{Name: bd.Name, Lower: bd.Lower, Upper: bd.Upper, Degree: bd.Degree}
	}
	return &b, nil
}

// ListBatches returns all batches, most recent first.
func (db *DB) ListBatches() ([]*Batch, error) {
	rows, err := db.Query(`SELECT` + batchColumns + ` FROM glue_batches ORDER BY created_at DESC, batch_id`)
	if err != nil {
		return nil, fmt.Errorf("query batches: %w", err)
	}
	defer rows.Close()

	var out []*Batch
	for rows.Next() {
		b, err := scanBatch(rows)
		if err != nil {
			return nil, fmt.Errorf("scan batch: %w", err)
		}
		out = append(out, b)
	}
	return out, rows.Err()
}

// LoadBatch returns a batch and its samples ordered by index.
func (db *DB) LoadBatch(batchID string) (*StoredBatch, error) {
	b, err := scanBatch(db.QueryRow(`SELECT`+batchColumns+` FROM glue_batches WHERE batch_id = ?`, batchID))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, fmt.Errorf("batch %s: %w", batchID, ErrNotFound)
		}
		return nil, fmt.Errorf("scan batch: %w", err)
	}

	rows, err := db.Query(`
		SELECT sample_index, params_json, simulated, failure
		FROM glue_samples
		WHERE batch_id = ?
		ORDER BY sample_index`, batchID)
	if err != nil {
		return nil, fmt.Errorf("query samples: %w", err)
	}
	defer rows.Close()

	stored := &StoredBatch{Batch: *b}
	for rows.Next() {
		var s Sample
		var params string
		var sim sql.NullFloat64
		var failure sql.NullString
		if err := rows.Scan(&s.Index, &params, &sim, &failure); err != nil {
			return nil, fmt.Errorf("scan sample: %w", err)
		}
		if err := json.Unmarshal([]byte(params), &s.Params); err != nil {
			return nil, fmt.Errorf("decode sample %d: %w", s.Index, err)
		}
		if sim.Valid {
			s.Result = glue.Finite(sim.Float64)
		}
		s.Failure = failure.String
		stored.Samples = append(stored.Samples, s)
	}
	return stored, rows.Err()
}

// DeleteBatch removes a batch with its samples and curves.
func (db *DB) DeleteBatch(batchID string) error {
	return retryOnBusy(func() error {
		res, err := db.Exec(`DELETE FROM glue_batches WHERE batch_id = ?`, batchID)
		if err != nil {
			return fmt.Errorf("delete batch: %w", err)
		}
		if n, _ := res.RowsAffected(); n == 0 {
			return fmt.Errorf("batch %s: %w", batchID, ErrNotFound)
		}
		return nil
	})
}
