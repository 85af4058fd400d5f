// Package analysis runs a complete GLUE sensitivity analysis: it draws the
// parameter samples, simulates each one on a worker pool, scores the results
// against observations, and persists and reports the sensitivity curves.
package analysis

import (
	"context"
	"errors"
	"fmt"
	"os"

	"github.com/banshee-data/permafrost.glue/internal/config"
	"github.com/banshee-data/permafrost.glue/internal/db"
	"github.com/banshee-data/permafrost.glue/internal/forcing"
	"github.com/banshee-data/permafrost.glue/internal/fsutil"
	"github.com/banshee-data/permafrost.glue/internal/glue"
	"github.com/banshee-data/permafrost.glue/internal/monitoring"
	"github.com/banshee-data/permafrost.glue/internal/report"
	"github.com/banshee-data/permafrost.glue/internal/sandbox"
	"github.com/banshee-data/permafrost.glue/internal/simulation"
	"github.com/banshee-data/permafrost.glue/internal/timeutil"
)

// ErrAllMissing is returned when no sample of a batch produced a result, so
// there is nothing to evaluate.
var ErrAllMissing = errors.New("analysis: every sample is missing")

// Options carries the collaborators that do not come from the config file.
type Options struct {
	Metrics *monitoring.RunMetrics
	Clock   timeutil.Clock
	// Backend replaces the backend selected by the config.
	Backend simulation.Backend
}

// Outcome is everything produced by Run.
type Outcome struct {
	Batch      *Batch
	Evaluation *glue.Evaluation
	Reports    []string
}

// Run executes the analysis described by cfg. If ctx is cancelled mid-batch
// the partial batch is returned with ctx.Err() and nothing is evaluated,
// stored or reported.
func Run(ctx context.Context, cfg *config.AnalysisConfig, opts Options) (*Outcome, error) {
	bounds := cfg.Bounds()
	var samplerOpts []glue.SamplerOption
	if cfg.GetCentered() {
		samplerOpts = append(samplerOpts, glue.WithCentered())
	}
	sampler, err := glue.NewSampler(bounds, samplerOpts...)
	if err != nil {
		return nil, err
	}
	set, err := sampler.Sample(cfg.GetSamples(), cfg.GetSeed())
	if err != nil {
		return nil, err
	}

	runner, series, err := NewRunner(cfg, opts)
	if err != nil {
		return nil, err
	}

	batch, err := runner.Run(ctx, set, series)
	if err != nil {
		return &Outcome{Batch: batch}, err
	}
	if batch.Missing() == batch.Samples.Len() {
		return &Outcome{Batch: batch}, fmt.Errorf("batch %s: %w", batch.ID, ErrAllMissing)
	}

	ev, err := glue.Evaluate(batch.Samples, batch.Results, cfg.Observed, glue.EvalOptions{
		Degrees:      glue.DegreesFromBounds(bounds),
		MinGroupSize: cfg.GetMinGroupSize(),
	})
	if err != nil {
		return &Outcome{Batch: batch}, err
	}
	for _, c := range ev.Curves {
		if c.FitErr != nil {
			monitoring.Logf("analysis: batch %s: %v", batch.ID, c.FitErr)
		}
	}
	out := &Outcome{Batch: batch, Evaluation: ev}

	if path := cfg.Output.Database; path != "" {
		if err := Store(cfg.ResolvePath(path), cfg, batch, ev); err != nil {
			return out, err
		}
	}

	o := report.Options{CSV: cfg.Output.GetCSV(), Plots: cfg.Output.GetPlots(), HTML: cfg.Output.GetHTML()}
	if o.CSV || o.Plots || o.HTML {
		data := report.Data{BatchID: batch.ID, Set: batch.Samples, Results: batch.Results, Eval: ev}
		out.Reports, err = report.WriteAll(cfg.ResolvePath(cfg.Output.GetDir()), data, o)
		if err != nil {
			return out, err
		}
	}
	return out, nil
}

// NewRunner wires the backend, sandbox and forcing selected by cfg.
func NewRunner(cfg *config.AnalysisConfig, opts Options) (*Runner, forcing.Series, error) {
	runner := &Runner{
		Workers: cfg.GetWorkers(),
		Clock:   opts.Clock,
		Metrics: opts.Metrics,
	}
	var series forcing.Series

	switch cfg.GetBackend() {
	case config.BackendTTOP:
		runner.Executor = &simulation.Executor{
			Backend: simulation.TTOPBackend{FDD: cfg.TTOP.GetFDD(), TDD: cfg.TTOP.GetTDD()},
		}

	case config.BackendGIPL:
		var err error
		series, err = forcing.Load(
			cfg.ResolvePath(cfg.Forcing.Temperature),
			cfg.ResolvePath(cfg.Forcing.Precipitation),
			cfg.Forcing.GetMonths(),
		)
		if err != nil {
			return nil, forcing.Series{}, err
		}

		g := cfg.GIPL
		sbCfg := &sandbox.Config{
			WorkDir:            cfg.ResolvePath(g.GetWorkDir()),
			FS:                 fsutil.OSFileSystem{},
			InitialTemperature: g.GetInitialTemperature(),
			MaxDepth:           g.GetMaxDepth(),
			SnowDensity:        g.GetSnowDensity(),
		}
		if g.Template != "" {
			dir := cfg.ResolvePath(g.Template)
			if info, err := os.Stat(dir); err != nil || !info.IsDir() {
				return nil, forcing.Series{}, fmt.Errorf("gipl template %s is not a directory", dir)
			}
			sbCfg.Template = os.DirFS(dir)
		}
		runner.Sandbox = sbCfg
		runner.KeepRuns = g.GetKeepRuns()
		runner.Executor = &simulation.Executor{
			Backend: &simulation.ExecBackend{Command: g.GetCommand(), Args: g.Args, OutputFile: g.GetOutputFile()},
			Timeout: g.GetTimeout(),
			Grace:   simulation.DefaultGrace,
		}

	default:
		return nil, forcing.Series{}, fmt.Errorf("unknown backend %q", cfg.Backend)
	}

	if opts.Backend != nil {
		runner.Executor.Backend = opts.Backend
	}
	return runner, series, nil
}

// Store persists a batch and its curves in the database at path.
func Store(path string, cfg *config.AnalysisConfig, batch *Batch, ev *glue.Evaluation) error {
	store, err := db.OpenDB(path)
	if err != nil {
		return err
	}
	defer store.Close()

	rec := &db.Batch{
		BatchID:      batch.ID,
		Backend:      cfg.GetBackend(),
		Seed:         cfg.GetSeed(),
		Centered:     cfg.GetCentered(),
		SampleCount:  batch.Samples.Len(),
		MissingCount: batch.Missing(),
		Observed:     cfg.Observed,
		Bounds:       cfg.Bounds(),
		StartedAt:    batch.StartedAt,
		FinishedAt:   batch.FinishedAt,
	}
	samples := make([]db.Sample, batch.Samples.Len())
	for i := range samples {
		s := db.Sample{Index: i, Params: batch.Samples.Sample(i).Values, Result: batch.Results[i]}
		if f, ok := batch.Failure(i); ok {
			s.Failure = f.String()
		}
		samples[i] = s
	}
	if err := store.InsertBatch(rec, samples); err != nil {
		return err
	}
	return store.ReplaceCurves(batch.ID, ev.Curves)
}

// Refit recomputes the curves of a stored batch, optionally with different
// per-parameter degrees, and replaces the stored curves.
func Refit(store *db.DB, batchID string, degrees map[string]int, minGroup int) (*glue.Evaluation, error) {
	stored, err := store.LoadBatch(batchID)
	if err != nil {
		return nil, err
	}

	merged := glue.DegreesFromBounds(stored.Bounds)
	for name, d := range degrees {
		if _, ok := merged[name]; !ok {
			return nil, fmt.Errorf("batch %s has no parameter %q", batchID, name)
		}
		merged[name] = d
	}

	ev, err := glue.Evaluate(stored.SampleSet(), stored.Results(), stored.Observed, glue.EvalOptions{
		Degrees:      merged,
		MinGroupSize: minGroup,
	})
	if err != nil {
		return nil, err
	}
	if err := store.ReplaceCurves(batchID, ev.Curves); err != nil {
		return nil, err
	}
	return ev, nil
}
