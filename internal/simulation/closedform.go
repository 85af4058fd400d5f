package simulation

import (
	"context"
	"fmt"

	"github.com/banshee-data/permafrost.glue/internal/glue"
	"github.com/banshee-data/permafrost.glue/internal/sandbox"
)

// FuncBackend adapts an in-process model to Backend.
type FuncBackend func(ctx context.Context, sample glue.ParameterSample) (float64, error)

// Run calls f with the sample of rc.
func (f FuncBackend) Run(ctx context.Context, rc *sandbox.RunContext) (Output, error) {
	v, err := f(ctx, rc.Sample)
	if err != nil {
		return Output{}, err
	}
	return Output{Index: rc.Index, Value: &v}, nil
}

// TTOP model defaults: freezing and thawing degree-day sums of the reference
// site.
const (
	DefaultFDD = -3160.36
	DefaultTDD = 378.67
)

// TTOP parameter names.
const (
	ParamNF = "nf" // freezing n-factor
	ParamNT = "nt" // thawing n-factor
	ParamRK = "rk" // thermal conductivity ratio term
)

// TTOPBackend is the closed-form temperature at the top of permafrost model.
type TTOPBackend struct {
	FDD float64
	TDD float64
}

// NewTTOPBackend returns a backend using the default degree-day sums.
func NewTTOPBackend() TTOPBackend {
	return TTOPBackend{FDD: DefaultFDD, TDD: DefaultTDD}
}

// MAGT returns (nf·FDD + nt·TDD + rk) / 365.
func (b TTOPBackend) MAGT(nf, nt, rk float64) float64 {
	return (nf*b.FDD + nt*b.TDD + rk) / 365
}

// Run evaluates the model for the sample of rc.
func (b TTOPBackend) Run(ctx context.Context, rc *sandbox.RunContext) (Output, error) {
	if err := ctx.Err(); err != nil {
		return Output{}, err
	}
	vals := make([]float64, 3)
	for i, name := range []string{ParamNF, ParamNT, ParamRK} {
		v, ok := rc.Sample.Values[name]
		if !ok {
			return Output{}, fmt.Errorf("ttop: sample has no %q parameter", name)
		}
		vals[i] = v
	}
	magt := b.MAGT(vals[0], vals[1], vals[2])
	return Output{Index: rc.Index, Value: &magt}, nil
}
