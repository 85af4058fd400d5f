package glue

import (
	"errors"
	"fmt"
	"sort"

	"gonum.org/v1/gonum/stat"
)

// Retained holds the samples whose simulation produced a value. Every column
// and Simulated share the same row order as Indices.
type Retained struct {
	Indices   []int
	Columns   map[string][]float64
	Simulated []float64
}

// Len returns the number of retained samples.
func (r Retained) Len() int { return len(r.Indices) }

// Filter drops samples with a missing result. The same rows are removed from
// every parameter column and from the simulated values.
func Filter(set SampleSet, results []Result) (Retained, error) {
	if len(results) != set.Len() {
		return Retained{}, fmt.Errorf("glue: %d results for %d samples", len(results), set.Len())
	}
	r := Retained{Columns: make(map[string][]float64, len(set.Names))}
	for _, name := range set.Names {
		r.Columns[name] = []float64{}
	}
	for i, res := range results {
		if res.IsMissing() {
			continue
		}
		r.Indices = append(r.Indices, i)
		r.Simulated = append(r.Simulated, res.Value)
		for j, name := range set.Names {
			r.Columns[name] = append(r.Columns[name], set.Values[i][j])
		}
	}
	return r, nil
}

// Bias returns the mean of (simulated - observed) over the observations.
func Bias(simulated float64, observed []float64) float64 {
	diffs := make([]float64, len(observed))
	for i, o := range observed {
		diffs[i] = simulated - o
	}
	return stat.Mean(diffs, nil)
}

// GroupedMeans groups scores by identical parameter value and returns the
// sorted distinct values, the mean score of each group and the group sizes.
// Groups with fewer than minGroup members are dropped.
func GroupedMeans(values, scores []float64, minGroup int) (x, mean []float64, counts []int) {
	if minGroup < 1 {
		minGroup = 1
	}
	order := make([]int, len(values))
	for i := range order {
		order[i] = i
	}
	sort.SliceStable(order, func(a, b int) bool { return values[order[a]] < values[order[b]] })

	for start := 0; start < len(order); {
		v := values[order[start]]
		end := start
		group := []float64{}
		for end < len(order) && values[order[end]] == v {
			group = append(group, scores[order[end]])
			end++
		}
		if len(group) >= minGroup {
			x = append(x, v)
			mean = append(mean, stat.Mean(group, nil))
			counts = append(counts, len(group))
		}
		start = end
	}
	return x, mean, counts
}

// SensitivityCurve is the grouped-mean bias of one parameter and its
// smoothed fit. Fit is nil when FitErr is set.
type SensitivityCurve struct {
	Parameter string
	Degree    int
	Values    []float64
	MeanBias  []float64
	Counts    []int
	Fit       *Polynomial
	FitErr    error
}

// HasFit reports whether a fitted curve is available.
func (c SensitivityCurve) HasFit() bool { return c.Fit != nil }

// EvalOptions tunes Evaluate.
type EvalOptions struct {
	Degrees      map[string]int // per-parameter fit degree; missing entries use DefaultDegree
	MinGroupSize int            // smallest group reported by GroupedMeans; 0 means 1
}

// DegreesFromBounds collects the fit degree of every bound.
func DegreesFromBounds(bounds []ParameterBound) map[string]int {
	out := make(map[string]int, len(bounds))
	for _, b := range bounds {
		out[b.Name] = b.FitDegree()
	}
	return out
}

// Evaluation is the likelihood side of an analysis. Bias is aligned with
// Retained.Indices.
type Evaluation struct {
	Observed []float64
	Retained Retained
	Bias     []float64
	Curves   []SensitivityCurve
}

// Evaluate scores every retained sample against the observations and builds
// one sensitivity curve per parameter, in set order. Parameters without enough
// distinct values get a curve with FitErr set instead of failing the call.
func Evaluate(set SampleSet, results []Result, observed []float64, opts EvalOptions) (*Evaluation, error) {
	if len(observed) == 0 {
		return nil, errors.New("glue: at least one observed value is required")
	}
	retained, err := Filter(set, results)
	if err != nil {
		return nil, err
	}

	ev := &Evaluation{
		Observed: append([]float64(nil), observed...),
		Retained: retained,
		Bias:     make([]float64, retained.Len()),
	}
	for i, sim := range retained.Simulated {
		ev.Bias[i] = Bias(sim, observed)
	}

	for _, name := range set.Names {
		degree := DefaultDegree
		if d, ok := opts.Degrees[name]; ok && d > 0 {
			degree = d
		}
		curve := SensitivityCurve{Parameter: name, Degree: degree}
		curve.Values, curve.MeanBias, curve.Counts = GroupedMeans(retained.Columns[name], ev.Bias, opts.MinGroupSize)

		fit, err := FitPolynomial(curve.Values, curve.MeanBias, degree)
		var insufficient *InsufficientDataError
		if errors.As(err, &insufficient) {
			insufficient.Parameter = name
		}
		curve.Fit, curve.FitErr = fit, err
		ev.Curves = append(ev.Curves, curve)
	}
	return ev, nil
}

// Curve returns the curve for parameter name.
func (e *Evaluation) Curve(name string) (SensitivityCurve, bool) {
	for _, c := range e.Curves {
		if c.Parameter == name {
			return c, true
		}
	}
	return SensitivityCurve{}, false
}
