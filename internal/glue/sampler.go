// Package glue implements the sampling and scoring side of a GLUE
// (Generalized Likelihood Uncertainty Estimation) sensitivity analysis:
// stratified parameter sampling, missing-aware simulation results, bias
// likelihoods and per-parameter sensitivity curves.
package glue

import (
	"math"
	"math/rand/v2"
	"sort"

	"gonum.org/v1/gonum/mat"
	"gonum.org/v1/gonum/stat/distmv"
	"gonum.org/v1/gonum/stat/samplemv"
)

// DefaultDegree is the polynomial degree used for a sensitivity curve when a
// bound does not set one.
const DefaultDegree = 3

// ParameterBound declares the closed sampling interval of one parameter.
type ParameterBound struct {
	Name   string
	Lower  float64
	Upper  float64
	Degree int // sensitivity curve degree; 0 means DefaultDegree
}

// FitDegree returns the configured curve degree or DefaultDegree.
func (b ParameterBound) FitDegree() int {
	if b.Degree <= 0 {
		return DefaultDegree
	}
	return b.Degree
}

// Validate checks that the bound can be sampled.
func (b ParameterBound) Validate() error {
	switch {
	case b.Name == "":
		return &InvalidBoundsError{Name: b.Name, Lower: b.Lower, Upper: b.Upper, Reason: "empty name"}
	case math.IsNaN(b.Lower) || math.IsNaN(b.Upper) || math.IsInf(b.Lower, 0) || math.IsInf(b.Upper, 0):
		return &InvalidBoundsError{Name: b.Name, Lower: b.Lower, Upper: b.Upper, Reason: "bounds must be finite"}
	case b.Lower > b.Upper:
		return &InvalidBoundsError{Name: b.Name, Lower: b.Lower, Upper: b.Upper, Reason: "lower exceeds upper"}
	}
	return nil
}

// ParameterSample is one parameter vector, addressed by its sample index.
type ParameterSample struct {
	Index  int
	Values map[string]float64
}

// SampleSet is an immutable table of N parameter vectors. Row i is sample i.
type SampleSet struct {
	Names  []string
	Unit   [][]float64 // raw draws in [0,1), one row per sample
	Values [][]float64 // draws scaled into each parameter's bounds
}

// Len returns the number of samples.
func (s SampleSet) Len() int { return len(s.Values) }

// Sample returns sample i as a name-keyed vector.
func (s SampleSet) Sample(i int) ParameterSample {
	vals := make(map[string]float64, len(s.Names))
	for j, name := range s.Names {
		vals[name] = s.Values[i][j]
	}
	return ParameterSample{Index: i, Values: vals}
}

// Column returns the values of parameter name in sample-index order, or nil
// if the set has no such parameter.
func (s SampleSet) Column(name string) []float64 {
	j := s.column(name)
	if j < 0 {
		return nil
	}
	out := make([]float64, len(s.Values))
	for i, row := range s.Values {
		out[i] = row[j]
	}
	return out
}

func (s SampleSet) column(name string) int {
	for j, n := range s.Names {
		if n == name {
			return j
		}
	}
	return -1
}

// Sampler draws Latin hypercube designs over a fixed set of bounds.
type Sampler struct {
	bounds   []ParameterBound
	centered bool
}

// SamplerOption configures a Sampler.
type SamplerOption func(*Sampler)

// WithCentered places every draw at the midpoint of its stratum.
func WithCentered() SamplerOption {
	return func(s *Sampler) { s.centered = true }
}

// NewSampler validates bounds and returns a sampler over them. Parameter
// order in the produced sets follows the order of bounds.
func NewSampler(bounds []ParameterBound, opts ...SamplerOption) (*Sampler, error) {
	if len(bounds) == 0 {
		return nil, &InvalidBoundsError{Reason: "no parameters declared"}
	}
	seen := make(map[string]bool, len(bounds))
	for _, b := range bounds {
		if err := b.Validate(); err != nil {
			return nil, err
		}
		if seen[b.Name] {
			return nil, &InvalidBoundsError{Name: b.Name, Lower: b.Lower, Upper: b.Upper, Reason: "duplicate parameter"}
		}
		seen[b.Name] = true
	}
	s := &Sampler{bounds: append([]ParameterBound(nil), bounds...)}
	for _, opt := range opts {
		opt(s)
	}
	return s, nil
}

// Bounds returns a copy of the sampler's bounds.
func (s *Sampler) Bounds() []ParameterBound {
	return append([]ParameterBound(nil), s.bounds...)
}

// Sample draws n parameter vectors. Each dimension's unit interval is split
// into n strata holding exactly one draw each; the same seed, bounds and n
// always give the same set.
func (s *Sampler) Sample(n int, seed uint64) (SampleSet, error) {
	if n <= 0 {
		return SampleSet{}, &InvalidSampleCountError{N: n}
	}
	dim := len(s.bounds)
	src := rand.NewPCG(seed, seed^0x9e3779b97f4a7c15)

	batch := mat.NewDense(n, dim, nil)
	samplemv.LatinHypercube{
		Q:   distmv.NewUnitUniform(dim, nil),
		Src: src,
	}.Sample(batch)

	if s.centered {
		centerStrata(batch)
	}

	set := SampleSet{
		Names:  make([]string, dim),
		Unit:   make([][]float64, n),
		Values: make([][]float64, n),
	}
	for j, b := range s.bounds {
		set.Names[j] = b.Name
	}
	for i := 0; i < n; i++ {
		set.Unit[i] = mat.Row(nil, i, batch)
		set.Values[i] = make([]float64, dim)
		for j, b := range s.bounds {
			set.Values[i][j] = b.Lower + set.Unit[i][j]*(b.Upper-b.Lower)
		}
	}
	return set, nil
}

// centerStrata moves each draw to its stratum midpoint. The stratum of a draw
// is its rank within the column, so rounding at stratum edges cannot merge
// two draws.
func centerStrata(batch *mat.Dense) {
	n, dim := batch.Dims()
	order := make([]int, n)
	for j := 0; j < dim; j++ {
		col := mat.Col(nil, j, batch)
		for i := range order {
			order[i] = i
		}
		sort.SliceStable(order, func(a, b int) bool { return col[order[a]] < col[order[b]] })
		for rank, i := range order {
			batch.Set(i, j, (float64(rank)+0.5)/float64(n))
		}
	}
}
