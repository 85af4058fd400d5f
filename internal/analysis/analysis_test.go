package analysis

import (
	"context"
	"fmt"
	"math"
	"os"
	"os/exec"
	"path/filepath"
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/banshee-data/permafrost.glue/internal/config"
	"github.com/banshee-data/permafrost.glue/internal/db"
	"github.com/banshee-data/permafrost.glue/internal/forcing"
	"github.com/banshee-data/permafrost.glue/internal/glue"
	"github.com/banshee-data/permafrost.glue/internal/report"
	"github.com/banshee-data/permafrost.glue/internal/sandbox"
	"github.com/banshee-data/permafrost.glue/internal/simulation"
	"github.com/banshee-data/permafrost.glue/internal/testutil"
)

func ttopConfig(t *testing.T, dir string) *config.AnalysisConfig {
	t.Helper()
	cfg, err := config.Parse([]byte(fmt.Sprintf(`
samples: 40
seed: 11
workers: 4
observed: [-1.63]
backend: ttop
parameters:
  - {name: nf, lower: 0.1, upper: 1.0, degree: 3}
  - {name: nt, lower: 0.5, upper: 1.5}
  - {name: rk, lower: 0.0, upper: 500.0}
output:
  dir: %q
  database: %q
`, filepath.Join(dir, "out"), filepath.Join(dir, "glue.db"))))
	require.NoError(t, err)
	return cfg
}

func TestRun_TTOPEndToEnd(t *testing.T) {
	dir := t.TempDir()
	cfg := ttopConfig(t, dir)

	out, err := Run(context.Background(), cfg, Options{})
	require.NoError(t, err)
	require.NotNil(t, out.Evaluation)

	batch := out.Batch
	require.Len(t, batch.Results, 40)
	assert.Zero(t, batch.Missing())

	ttop := simulation.NewTTOPBackend()
	for i := range batch.Results {
		s := batch.Samples.Sample(i)
		want := ttop.MAGT(s.Values["nf"], s.Values["nt"], s.Values["rk"])
		assert.InDelta(t, want, batch.Results[i].Value, 1e-12, "sample %d", i)
	}

	nf, ok := out.Evaluation.Curve("nf")
	require.True(t, ok)
	assert.Equal(t, 3, nf.Degree)
	require.True(t, nf.HasFit())

	want := []string{
		filepath.Join(dir, "out", report.SamplesCSV),
		filepath.Join(dir, "out", report.CurvesCSV),
	}
	for _, p := range want {
		assert.Contains(t, out.Reports, p)
	}
	for _, p := range out.Reports {
		assert.FileExists(t, p)
	}
	assert.Contains(t, out.Reports, filepath.Join(dir, "out", "sensitivity.html"))

	store, err := db.OpenDB(filepath.Join(dir, "glue.db"))
	require.NoError(t, err)
	defer store.Close()

	stored, err := store.LoadBatch(batch.ID)
	require.NoError(t, err)
	assert.Equal(t, config.BackendTTOP, stored.Backend)
	assert.Equal(t, uint64(11), stored.Seed)
	assert.Equal(t, 40, stored.SampleCount)
	assert.Equal(t, []float64{-1.63}, stored.Observed)
	if diff := cmp.Diff(batch.Results, stored.Results()); diff != "" {
		t.Errorf("stored results mismatch (-want +got):\n%s", diff)
	}

	curves, err := store.ListCurves(batch.ID)
	require.NoError(t, err)
	assert.Len(t, curves, 3)
}

func TestRun_SameSeedSameBatch(t *testing.T) {
	cfgA := ttopConfig(t, t.TempDir())
	cfgB := ttopConfig(t, t.TempDir())
	cfgA.Output.Database, cfgB.Output.Database = "", ""
	off := false
	for _, c := range []*config.AnalysisConfig{cfgA, cfgB} {
		c.Output.CSV, c.Output.Plots, c.Output.HTML = &off, &off, &off
	}

	a, err := Run(context.Background(), cfgA, Options{})
	require.NoError(t, err)
	b, err := Run(context.Background(), cfgB, Options{})
	require.NoError(t, err)

	assert.Empty(t, a.Reports)
	assert.NotEqual(t, a.Batch.ID, b.Batch.ID)
	assert.Equal(t, a.Batch.Samples.Values, b.Batch.Samples.Values)
	assert.Equal(t, a.Batch.Results, b.Batch.Results)
	assert.Equal(t, a.Evaluation.Bias, b.Evaluation.Bias)
}

func TestRun_BackendOverrideAndFailures(t *testing.T) {
	cfg := ttopConfig(t, t.TempDir())
	cfg.Output.Database = ""

	backend := simulation.FuncBackend(func(ctx context.Context, s glue.ParameterSample) (float64, error) {
		if s.Index%4 == 0 {
			return math.NaN(), nil
		}
		return -s.Values["nf"], nil
	})
	out, err := Run(context.Background(), cfg, Options{Backend: backend})
	require.NoError(t, err)
	assert.Equal(t, 10, out.Batch.Missing())
	assert.Equal(t, 30, out.Evaluation.Retained.Len())
	for _, f := range out.Batch.Failures {
		assert.Equal(t, StageExtract, f.Stage)
	}
}

func TestRun_AllMissingIsAnError(t *testing.T) {
	cfg := ttopConfig(t, t.TempDir())
	cfg.Output.Database = ""

	backend := simulation.FuncBackend(func(ctx context.Context, s glue.ParameterSample) (float64, error) {
		return math.Inf(1), nil
	})
	out, err := Run(context.Background(), cfg, Options{Backend: backend})
	require.ErrorIs(t, err, ErrAllMissing)
	require.NotNil(t, out)
	assert.Equal(t, 40, out.Batch.Missing())
	assert.Nil(t, out.Evaluation)
}

func TestRun_Cancelled(t *testing.T) {
	cfg := ttopConfig(t, t.TempDir())
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	out, err := Run(ctx, cfg, Options{})
	require.ErrorIs(t, err, context.Canceled)
	assert.Equal(t, 40, out.Batch.Missing())
	assert.Nil(t, out.Evaluation)
	assert.NoFileExists(t, cfg.Output.Database)
}

func TestRefit(t *testing.T) {
	dir := t.TempDir()
	cfg := ttopConfig(t, dir)
	off := false
	cfg.Output.CSV, cfg.Output.Plots, cfg.Output.HTML = &off, &off, &off

	out, err := Run(context.Background(), cfg, Options{})
	require.NoError(t, err)

	store, err := db.OpenDB(cfg.Output.Database)
	require.NoError(t, err)
	defer store.Close()

	ev, err := Refit(store, out.Batch.ID, map[string]int{"nf": 1, "rk": 2}, 1)
	require.NoError(t, err)
	nf, _ := ev.Curve("nf")
	nt, _ := ev.Curve("nt")
	rk, _ := ev.Curve("rk")
	assert.Equal(t, 1, nf.Degree)
	assert.Equal(t, glue.DefaultDegree, nt.Degree)
	assert.Equal(t, 2, rk.Degree)

	curves, err := store.ListCurves(out.Batch.ID)
	require.NoError(t, err)
	degrees := map[string]int{}
	for _, c := range curves {
		degrees[c.Parameter] = c.Degree
	}
	assert.Equal(t, map[string]int{"nf": 1, "nt": glue.DefaultDegree, "rk": 2}, degrees)

	_, err = Refit(store, out.Batch.ID, map[string]int{"bogus": 2}, 1)
	assert.ErrorContains(t, err, `no parameter "bogus"`)

	_, err = Refit(store, "no-such-batch", nil, 1)
	assert.ErrorIs(t, err, db.ErrNotFound)
}

func requireModelShell(t *testing.T) {
	t.Helper()
	for _, bin := range []string{"sh", "awk"} {
		if _, err := exec.LookPath(bin); err != nil {
			t.Skipf("%s not available: %v", bin, err)
		}
	}
}

func giplConfig(t *testing.T, dir string, vwc [2]float64) *config.AnalysisConfig {
	t.Helper()
	months := forcing.DefaultMonths
	temp := testutil.WriteSeries(t, dir, "tas.txt", testutil.SeasonalSeries(months, -6, 14))
	pr := testutil.WriteSeries(t, dir, "pr.txt", testutil.ConstantSeries(months, 25))
	template := testutil.WriteModelTemplate(t, dir)

	params := fmt.Sprintf("  - {name: VWC, lower: %g, upper: %g}\n", vwc[0], vwc[1])
	for _, name := range sandbox.SoilParameters[1:] {
		params += fmt.Sprintf("  - {name: %s, lower: 0.5, upper: 2.0}\n", name)
	}
	cfg, err := config.Parse([]byte(fmt.Sprintf(`
samples: 6
seed: 3
workers: 3
observed: [0.3, 0.32]
backend: gipl
parameters:
%s
forcing:
  temperature: %q
  precipitation: %q
gipl:
  template: %q
  work_dir: %q
  timeout: 30s
output:
  dir: %q
  plots: false
  html: false
`, params, temp, pr, template, filepath.Join(dir, "work"), filepath.Join(dir, "out"))))
	require.NoError(t, err)
	return cfg
}

func TestRun_GIPLEndToEnd(t *testing.T) {
	requireModelShell(t)
	dir := t.TempDir()
	cfg := giplConfig(t, dir, [2]float64{0.1, 0.6})

	out, err := Run(context.Background(), cfg, Options{})
	require.NoError(t, err)
	require.Empty(t, out.Batch.Failures)

	for i, res := range out.Batch.Results {
		vwc := out.Batch.Samples.Sample(i).Values["VWC"]
		require.True(t, res.OK, "sample %d", i)
		assert.InDelta(t, math.Round(vwc*100)/100, res.Value, 1e-9, "sample %d", i)
	}
	assert.Len(t, out.Reports, 2)

	entries, err := os.ReadDir(filepath.Join(dir, "work"))
	if err == nil {
		assert.Empty(t, entries, "run directories are released")
	}
}

func TestRun_GIPLModelFailureIsMissing(t *testing.T) {
	requireModelShell(t)
	dir := t.TempDir()
	// Every VWC rounds to 0.99, which the stand-in model rejects.
	cfg := giplConfig(t, dir, [2]float64{0.986, 0.994})
	keep := true
	cfg.GIPL.KeepRuns = &keep

	out, err := Run(context.Background(), cfg, Options{})
	require.ErrorIs(t, err, ErrAllMissing)
	require.Len(t, out.Batch.Failures, 6)
	for _, f := range out.Batch.Failures {
		assert.Equal(t, StageSimulate, f.Stage)
		assert.Contains(t, f.Cause.Error(), "model diverged")
	}

	runs, err := os.ReadDir(filepath.Join(dir, "work", out.Batch.ID))
	require.NoError(t, err)
	assert.Len(t, runs, 6)
}

func TestNewRunner_MissingTemplate(t *testing.T) {
	dir := t.TempDir()
	cfg := giplConfig(t, dir, [2]float64{0.1, 0.6})
	cfg.GIPL.Template = filepath.Join(dir, "absent")

	_, _, err := NewRunner(cfg, Options{})
	assert.ErrorContains(t, err, "is not a directory")
}
