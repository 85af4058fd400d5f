package db

import (
	"errors"
	"path/filepath"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/banshee-data/permafrost.glue/internal/glue"
	"github.com/banshee-data/permafrost.glue/internal/monitoring"
)

func init() {
	monitoring.SetLogger(nil)
}

func setupTestDB(t *testing.T) *DB {
	t.Helper()
	db, err := OpenDB(filepath.Join(t.TempDir(), "glue.db"))
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })
	return db
}

func testBatch() (*Batch, []Sample) {
	start := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	b := &Batch{
		Backend:      "ttop",
		Seed:         42,
		Centered:     true,
		SampleCount:  3,
		MissingCount: 1,
		Observed:     []float64{-1.63},
		Bounds: []glue.ParameterBound{
			{Name: "nf", Lower: 0.1, Upper: 1, Degree: 5},
			{Name: "nt", Lower: 0.5, Upper: 1.5},
		},
		StartedAt:  start,
		FinishedAt: start.Add(time.Minute),
	}
	samples := []Sample{
		{Index: 0, Params: map[string]float64{"nf": 0.2, "nt": 0.7}, Result: glue.Finite(-1.5)},
		{Index: 1, Params: map[string]float64{"nf": 0.5, "nt": 1.1}, Failure: "simulation: sample 1 timed out"},
		{Index: 2, Params: map[string]float64{"nf": 0.9, "nt": 1.4}, Result: glue.Finite(-2.25)},
	}
	return b, samples
}

func TestOpenDB_Migrates(t *testing.T) {
	db := setupTestDB(t)

	version, dirty, err := db.MigrateVersion()
	require.NoError(t, err)
	assert.Equal(t, uint(1), version)
	assert.False(t, dirty)

	// Reopening an up-to-date database is a no-op.
	require.NoError(t, db.MigrateUp())

	var n int
	require.NoError(t, db.QueryRow(`SELECT COUNT(*) FROM sqlite_master WHERE type='table' AND name LIKE 'glue_%'`).Scan(&n))
	assert.Equal(t, 3, n)

	require.NoError(t, db.MigrateDown())
	require.NoError(t, db.QueryRow(`SELECT COUNT(*) FROM sqlite_master WHERE type='table' AND name LIKE 'glue_%'`).Scan(&n))
	assert.Equal(t, 0, n)
}

func TestOpenDB_Memory(t *testing.T) {
	db, err := OpenDB(":memory:")
	require.NoError(t, err)
	defer db.Close()

	b, samples := testBatch()
	require.NoError(t, db.InsertBatch(b, samples))
	list, err := db.ListBatches()
	require.NoError(t, err)
	assert.Len(t, list, 1)
}

func TestInsertAndLoadBatch(t *testing.T) {
	db := setupTestDB(t)
	b, samples := testBatch()

	require.NoError(t, db.InsertBatch(b, samples))
	require.NotEmpty(t, b.BatchID, "batch id should be generated")
	assert.False(t, b.CreatedAt.IsZero())

	got, err := db.LoadBatch(b.BatchID)
	require.NoError(t, err)

	assert.Equal(t, "ttop", got.Backend)
	assert.Equal(t, uint64(42), got.Seed)
	assert.True(t, got.Centered)
	assert.Equal(t, 3, got.SampleCount)
	assert.Equal(t, 1, got.MissingCount)
	assert.True(t, got.StartedAt.Equal(b.StartedAt))
	assert.True(t, got.FinishedAt.Equal(b.FinishedAt))
	if diff := cmp.Diff(b.Bounds, got.Bounds); diff != "" {
		t.Errorf("bounds mismatch (-want +got):\n%s", diff)
	}
	if diff := cmp.Diff(b.Observed, got.Observed); diff != "" {
		t.Errorf("observed mismatch (-want +got):\n%s", diff)
	}

	require.Len(t, got.Samples, 3)
	assert.True(t, got.Samples[1].Result.IsMissing())
	assert.Equal(t, "simulation: sample 1 timed out", got.Samples[1].Failure)
	assert.Equal(t, glue.Finite(-2.25), got.Samples[2].Result)

	set := got.SampleSet()
	assert.Equal(t, []string{"nf", "nt"}, set.Names)
	assert.Equal(t, []float64{0.9, 1.4}, set.Values[2])
	results := got.Results()
	assert.Equal(t, 1, glue.CountMissing(results))
}

func TestInsertBatch_LargeSeed(t *testing.T) {
	db := setupTestDB(t)
	b, samples := testBatch()
	b.Seed = ^uint64(0)

	require.NoError(t, db.InsertBatch(b, samples))
	got, err := db.LoadBatch(b.BatchID)
	require.NoError(t, err)
	assert.Equal(t, ^uint64(0), got.Seed)
}

func TestLoadBatch_NotFound(t *testing.T) {
	db := setupTestDB(t)
	_, err := db.LoadBatch("missing")
	assert.True(t, errors.Is(err, ErrNotFound))
}

func TestListBatches_Order(t *testing.T) {
	db := setupTestDB(t)
	base := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)

	for i, id := range []string{"older", "newer"} {
		b, samples := testBatch()
		b.BatchID = id
		b.CreatedAt = base.Add(time.Duration(i) * time.Hour)
		require.NoError(t, db.InsertBatch(b, samples))
	}

	list, err := db.ListBatches()
	require.NoError(t, err)
	require.Len(t, list, 2)
	assert.Equal(t, "newer", list[0].BatchID)
	assert.Equal(t, "older", list[1].BatchID)
}

func TestCurves_ReplaceAndList(t *testing.T) {
	db := setupTestDB(t)
	b, samples := testBatch()
	require.NoError(t, db.InsertBatch(b, samples))

	fit := &glue.Polynomial{Coeffs: []float64{0.5, -1, 0.25}, Domain: [2]float64{0.2, 0.9}}
	curves := []glue.SensitivityCurve{
		{Parameter: "nf", Degree: 2, Values: []float64{0.2, 0.5, 0.9}, MeanBias: []float64{0.1, 0.2, -0.6}, Counts: []int{1, 1, 1}, Fit: fit},
		{Parameter: "nt", Degree: 3, Values: []float64{0.7}, MeanBias: []float64{0.1}, Counts: []int{1},
			FitErr: &glue.InsufficientDataError{Parameter: "nt", Unique: 1, Degree: 3}},
	}
	require.NoError(t, db.ReplaceCurves(b.BatchID, curves))

	got, err := db.ListCurves(b.BatchID)
	require.NoError(t, err)
	require.Len(t, got, 2)

	assert.Equal(t, "nf", got[0].Parameter)
	require.True(t, got[0].HasFit())
	assert.Equal(t, fit.Coeffs, got[0].Fit.Coeffs)
	assert.Equal(t, fit.Domain, got[0].Fit.Domain)
	assert.InDelta(t, fit.Eval(0.4), got[0].Fit.Eval(0.4), 1e-12)
	assert.Equal(t, []int{1, 1, 1}, got[0].Counts)

	assert.False(t, got[1].HasFit())
	require.Error(t, got[1].FitErr)
	assert.Equal(t, curves[1].FitErr.Error(), got[1].FitErr.Error())

	// A refit replaces the previous curves.
	require.NoError(t, db.ReplaceCurves(b.BatchID, curves[:1]))
	got, err = db.ListCurves(b.BatchID)
	require.NoError(t, err)
	assert.Len(t, got, 1)
}

func TestDeleteBatch_Cascades(t *testing.T) {
	db := setupTestDB(t)
	b, samples := testBatch()
	require.NoError(t, db.InsertBatch(b, samples))
	require.NoError(t, db.ReplaceCurves(b.BatchID, []glue.SensitivityCurve{{Parameter: "nf", Degree: 3}}))

	require.NoError(t, db.DeleteBatch(b.BatchID))

	var n int
	require.NoError(t, db.QueryRow(`SELECT COUNT(*) FROM glue_samples`).Scan(&n))
	assert.Zero(t, n)
	require.NoError(t, db.QueryRow(`SELECT COUNT(*) FROM glue_curves`).Scan(&n))
	assert.Zero(t, n)

	assert.ErrorIs(t, db.DeleteBatch(b.BatchID), ErrNotFound)
}

func TestRetryOnBusy(t *testing.T) {
	calls := 0
	err := retryOnBusy(func() error {
		calls++
		if calls < 3 {
			return errors.New("database is locked (5) (SQLITE_BUSY)")
		}
		return nil
	})
	assert.NoError(t, err)
	assert.Equal(t, 3, calls)

	calls = 0
	boom := errors.New("constraint failed")
	err = retryOnBusy(func() error { calls++; return boom })
	assert.ErrorIs(t, err, boom)
	assert.Equal(t, 1, calls)
}
