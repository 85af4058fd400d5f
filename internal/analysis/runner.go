package analysis

import (
	"context"
	"errors"
	"fmt"
	"runtime"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"github.com/banshee-data/permafrost.glue/internal/forcing"
	"github.com/banshee-data/permafrost.glue/internal/glue"
	"github.com/banshee-data/permafrost.glue/internal/monitoring"
	"github.com/banshee-data/permafrost.glue/internal/sandbox"
	"github.com/banshee-data/permafrost.glue/internal/simulation"
	"github.com/banshee-data/permafrost.glue/internal/timeutil"
)

// Stage names the step at which a sample failed.
type Stage string

const (
	StagePrepare   Stage = "prepare"
	StageSimulate  Stage = "simulate"
	StageExtract   Stage = "extract"
	StageCancelled Stage = "cancelled"
)

// ErrNoResult is the cause recorded when a model ran but its output could
// not be reduced to a value.
var ErrNoResult = errors.New("analysis: model output holds no usable result")

// RunFailure records why one sample ended up Missing.
type RunFailure struct {
	Index int
	Stage Stage
	Cause error
}

func (f RunFailure) String() string {
	return fmt.Sprintf("sample %d (%s): %v", f.Index, f.Stage, f.Cause)
}

// Batch is the outcome of running every sample of a set once. Results is
// aligned with the sample indices of Samples.
type Batch struct {
	ID         string
	StartedAt  time.Time
	FinishedAt time.Time
	Samples    glue.SampleSet
	Results    []glue.Result
	Failures   []RunFailure // sorted by index
}

// Missing returns the number of samples without a result.
func (b *Batch) Missing() int { return glue.CountMissing(b.Results) }

// Failure returns the recorded failure of sample index.
func (b *Batch) Failure(index int) (RunFailure, bool) {
	i := sort.Search(len(b.Failures), func(i int) bool { return b.Failures[i].Index >= index })
	if i < len(b.Failures) && b.Failures[i].Index == index {
		return b.Failures[i], true
	}
	return RunFailure{}, false
}

// Runner executes a sample set on a bounded pool of workers.
type Runner struct {
	// Sandbox describes the run directories. Nil runs backends without a
	// working directory, which suits closed-form models.
	Sandbox  *sandbox.Config
	Executor *simulation.Executor
	Workers  int // zero means runtime.NumCPU()
	Clock    timeutil.Clock
	Metrics  *monitoring.RunMetrics
	KeepRuns bool
}

// Run executes every sample of set and returns the batch. A failing sample
// is recorded as Missing and does not stop the others. When ctx is cancelled
// no further samples are started, every sample not yet started is Missing,
// and Run returns the partial batch together with ctx.Err().
func (r *Runner) Run(ctx context.Context, set glue.SampleSet, f forcing.Series) (*Batch, error) {
	if r.Executor == nil || r.Executor.Backend == nil {
		return nil, errors.New("analysis: runner has no backend")
	}
	clock := r.Clock
	if clock == nil {
		clock = timeutil.RealClock{}
	}
	workers := r.Workers
	if workers <= 0 {
		workers = runtime.NumCPU()
	}

	n := set.Len()
	batch := &Batch{
		ID:        uuid.New().String(),
		StartedAt: clock.Now(),
		Samples:   set,
		Results:   make([]glue.Result, n),
	}

	var sb *sandbox.Sandbox
	if r.Sandbox != nil {
		cfg := *r.Sandbox
		cfg.BatchID = batch.ID
		sb = sandbox.New(cfg)
	}

	var mu sync.Mutex
	record := func(index int, stage Stage, cause error) {
		monitoring.Logf("analysis: batch %s sample %d failed at %s: %v", batch.ID, index, stage, cause)
		mu.Lock()
		batch.Failures = append(batch.Failures, RunFailure{Index: index, Stage: stage, Cause: cause})
		mu.Unlock()
	}

	monitoring.Logf("analysis: batch %s starting %d samples on %d workers", batch.ID, n, workers)

	var g errgroup.Group
	g.SetLimit(workers)
	scheduled := 0
	for i := 0; i < n; i++ {
		if ctx.Err() != nil {
			break
		}
		sample := set.Sample(i)
		g.Go(func() error {
			// g.Go may have waited for a free worker past cancellation.
			if err := ctx.Err(); err != nil {
				batch.Results[sample.Index] = glue.Missing()
				record(sample.Index, StageCancelled, err)
				return nil
			}
			batch.Results[sample.Index] = r.runOne(ctx, clock, sb, batch.ID, sample, f, record)
			return nil
		})
		scheduled++
	}
	_ = g.Wait() // workers report through record, never through the group

	for i := scheduled; i < n; i++ {
		batch.Results[i] = glue.Missing()
		record(i, StageCancelled, ctx.Err())
	}

	if sb != nil && !r.KeepRuns {
		if err := sb.ReleaseBatch(); err != nil {
			monitoring.Logf("analysis: batch %s cleanup: %v", batch.ID, err)
		}
	}

	sort.Slice(batch.Failures, func(i, j int) bool { return batch.Failures[i].Index < batch.Failures[j].Index })
	batch.FinishedAt = clock.Now()
	monitoring.Logf("analysis: batch %s finished: %d/%d samples missing in %s",
		batch.ID, batch.Missing(), n, batch.FinishedAt.Sub(batch.StartedAt))

	if err := ctx.Err(); err != nil {
		return batch, err
	}
	return batch, nil
}

func (r *Runner) runOne(
	ctx context.Context,
	clock timeutil.Clock,
	sb *sandbox.Sandbox,
	batchID string,
	sample glue.ParameterSample,
	f forcing.Series,
	record func(int, Stage, error),
) glue.Result {
	start := clock.Now()
	r.Metrics.Begin()
	outcome := monitoring.OutcomeMissing
	defer func() { r.Metrics.Done(outcome, clock.Since(start)) }()

	rc := &sandbox.RunContext{Index: sample.Index, BatchID: batchID, Sample: sample}
	if sb != nil {
		var err error
		rc, err = sb.Prepare(sample.Index, sample, f)
		if err != nil {
			record(sample.Index, StagePrepare, err)
			return glue.Missing()
		}
		if !r.KeepRuns {
			defer func() {
				if err := sb.Release(rc); err != nil {
					monitoring.Logf("analysis: %v", err)
				}
			}()
		}
	}

	out, err := r.Executor.Run(ctx, rc)
	if err != nil {
		record(sample.Index, StageSimulate, err)
		return glue.Missing()
	}

	res := simulation.Extract(out)
	if res.IsMissing() {
		record(sample.Index, StageExtract, ErrNoResult)
		return res
	}
	outcome = monitoring.OutcomeOK
	return res
}
