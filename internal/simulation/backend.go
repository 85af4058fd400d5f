// Package simulation runs one parameter sample through a thermal model
// backend and reduces its output to a single ground temperature.
package simulation

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/banshee-data/permafrost.glue/internal/monitoring"
	"github.com/banshee-data/permafrost.glue/internal/sandbox"
)

// Output is what a backend produced for one sample: either an in-process
// scalar or a result table on disk.
type Output struct {
	Index int
	Path  string   // result table, empty when Value is set
	Value *float64 // scalar result from closed-form backends
}

// Backend runs a model for one prepared sample.
type Backend interface {
	Run(ctx context.Context, rc *sandbox.RunContext) (Output, error)
}

// Failure is the per-sample error returned by Executor.Run.
type Failure struct {
	Index    int
	Cause    error
	TimedOut bool
}

func (f *Failure) Error() string {
	if f.TimedOut {
		return fmt.Sprintf("simulation: sample %d timed out: %v", f.Index, f.Cause)
	}
	return fmt.Sprintf("simulation: sample %d failed: %v", f.Index, f.Cause)
}

func (f *Failure) Unwrap() error { return f.Cause }

// Executor bounds every backend call with a per-sample timeout and converts
// errors and panics into a *Failure.
type Executor struct {
	Backend Backend
	Timeout time.Duration // zero disables the per-sample limit
	// Grace is how long Run waits, once ctx is done, for the backend to
	// return. Backends that stop child processes on cancellation use it to
	// finish cleanup before the run directory is released.
	Grace time.Duration
}

// Run executes the backend for rc. Cancellation of ctx is reported as a
// Failure wrapping ctx.Err(). When the timeout expires Run returns at once,
// even if the backend ignores its context; whatever the backend produces
// afterwards is discarded.
func (e *Executor) Run(ctx context.Context, rc *sandbox.RunContext) (Output, error) {
	runCtx := ctx
	if e.Timeout > 0 {
		var cancel context.CancelFunc
		runCtx, cancel = context.WithTimeout(ctx, e.Timeout)
		defer cancel()
	}

	type result struct {
		out Output
		err error
	}
	done := make(chan result, 1)
	go func() {
		defer func() {
			if r := recover(); r != nil {
				monitoring.Logf("simulation: sample %d panicked: %v", rc.Index, r)
				done <- result{err: fmt.Errorf("panic: %v", r)}
			}
		}()
		out, err := e.Backend.Run(runCtx, rc)
		done <- result{out, err}
	}()

	var res result
	select {
	case res = <-done:
	case <-runCtx.Done():
		res.err = runCtx.Err()
		if e.Grace > 0 {
			timer := time.NewTimer(e.Grace)
			select {
			case late := <-done:
				if late.err != nil {
					res.err = late.err
				}
			case <-timer.C:
				monitoring.Logf("simulation: sample %d did not stop within %s", rc.Index, e.Grace)
			}
			timer.Stop()
		}
	}
	if res.err == nil && runCtx.Err() != nil {
		res.err = runCtx.Err()
	}
	if res.err != nil {
		timedOut := ctx.Err() == nil &&
			(errors.Is(runCtx.Err(), context.DeadlineExceeded) || errors.Is(res.err, context.DeadlineExceeded))
		return Output{Index: rc.Index}, &Failure{Index: rc.Index, Cause: res.err, TimedOut: timedOut}
	}
	res.out.Index = rc.Index
	return res.out, nil
}
