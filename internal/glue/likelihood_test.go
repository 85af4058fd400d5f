package glue

import (
	"errors"
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestResult(t *testing.T) {
	assert.True(t, Missing().IsMissing())
	assert.True(t, Finite(math.NaN()).IsMissing())
	assert.True(t, Finite(math.Inf(-1)).IsMissing())
	assert.False(t, Finite(0).IsMissing(), "zero is a legitimate value")
	assert.True(t, math.IsNaN(Missing().Float()))
	assert.Equal(t, -1.63, Finite(-1.63).Float())
	assert.Equal(t, 2, CountMissing([]Result{Missing(), Finite(1), Missing()}))
}

func TestFilter_AlignsColumns(t *testing.T) {
	set := SampleSet{
		Names:  []string{"a", "b"},
		Values: [][]float64{{1, 10}, {2, 20}, {3, 30}, {4, 40}},
	}
	results := []Result{Finite(0.1), Missing(), Finite(0.3), Missing()}

	r, err := Filter(set, results)
	require.NoError(t, err)
	assert.Equal(t, []int{0, 2}, r.Indices)
	assert.Equal(t, []float64{0.1, 0.3}, r.Simulated)
	assert.Equal(t, []float64{1, 3}, r.Columns["a"])
	assert.Equal(t, []float64{10, 30}, r.Columns["b"])
	for name, col := range r.Columns {
		assert.Len(t, col, r.Len(), "column %s", name)
	}
}

func TestFilter_LengthMismatch(t *testing.T) {
	set := SampleSet{Names: []string{"a"}, Values: [][]float64{{1}, {2}}}
	_, err := Filter(set, []Result{Finite(1)})
	assert.Error(t, err)
}

func TestBias(t *testing.T) {
	assert.InDelta(t, 0.5, Bias(-1.13, []float64{-1.63}), 1e-12)
	// Several boreholes: mean of the individual differences.
	assert.InDelta(t, 1.0, Bias(0, []float64{-2, 0}), 1e-12)
}

func TestGroupedMeans(t *testing.T) {
	values := []float64{0.3, 0.1, 0.3, 0.2, 0.1, 0.3}
	scores := []float64{3, 1, 5, 2, 3, 1}

	x, mean, counts := GroupedMeans(values, scores, 1)
	assert.Equal(t, []float64{0.1, 0.2, 0.3}, x)
	assert.Equal(t, []float64{2, 2, 3}, mean)
	assert.Equal(t, []int{2, 1, 3}, counts)

	x, mean, counts = GroupedMeans(values, scores, 2)
	assert.Equal(t, []float64{0.1, 0.3}, x)
	assert.Equal(t, []float64{2, 3}, mean)
	assert.Equal(t, []int{2, 3}, counts)

	x, mean, counts = GroupedMeans(nil, nil, 1)
	assert.Empty(t, x)
	assert.Empty(t, mean)
	assert.Empty(t, counts)
}

func TestFitPolynomial_RecoversCubic(t *testing.T) {
	f := func(x float64) float64 { return 0.5 - 2*x + 0.25*x*x*x }
	var xs, ys []float64
	for i := 0; i <= 20; i++ {
		x := -3 + 0.3*float64(i)
		xs = append(xs, x)
		ys = append(ys, f(x))
	}
	p, err := FitPolynomial(xs, ys, 3)
	require.NoError(t, err)
	assert.Equal(t, 3, p.Degree())
	for _, x := range []float64{-3, -1.2, 0, 0.7, 3} {
		assert.InDelta(t, f(x), p.Eval(x), 1e-9, "x=%v", x)
	}
}

func TestFitPolynomial_LargeDomain(t *testing.T) {
	// Heat capacity ranges span millions; the domain mapping keeps this well conditioned.
	var xs, ys []float64
	for i := 0; i < 12; i++ {
		x := 1.5e6 + float64(i)*2e5
		xs = append(xs, x)
		ys = append(ys, 1e-6*x-3)
	}
	p, err := FitPolynomial(xs, ys, 5)
	require.NoError(t, err)
	assert.InDelta(t, 1e-6*2.2e6-3, p.Eval(2.2e6), 1e-8)
}

func TestFitPolynomial_InsufficientData(t *testing.T) {
	_, err := FitPolynomial([]float64{1, 2, 2, 1}, []float64{1, 2, 3, 4}, 3)
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrInsufficientData))

	var ie *InsufficientDataError
	require.True(t, errors.As(err, &ie))
	assert.Equal(t, 2, ie.Unique)

	_, err = FitPolynomial(nil, nil, 3)
	assert.ErrorIs(t, err, ErrInsufficientData)

	_, err = FitPolynomial([]float64{1, 2}, []float64{1}, 1)
	assert.Error(t, err)
}

func TestEvaluate_IdentityBackend(t *testing.T) {
	s, err := NewSampler([]ParameterBound{{Name: "a", Lower: 0, Upper: 1}})
	require.NoError(t, err)
	set, err := s.Sample(4, 42)
	require.NoError(t, err)

	results := make([]Result, set.Len())
	for i := range results {
		results[i] = Finite(set.Values[i][0])
	}

	ev, err := Evaluate(set, results, []float64{0.5}, EvalOptions{})
	require.NoError(t, err)
	require.Len(t, ev.Bias, 4)
	for i, idx := range ev.Retained.Indices {
		assert.InDelta(t, set.Values[idx][0]-0.5, ev.Bias[i], 1e-15)
	}

	curve, ok := ev.Curve("a")
	require.True(t, ok)
	require.Len(t, curve.Values, 4)
	for k, v := range curve.Values {
		assert.InDelta(t, v-0.5, curve.MeanBias[k], 1e-15)
	}
	require.NoError(t, curve.FitErr)
	assert.True(t, curve.HasFit())
}

func TestEvaluate_MissingAndInsufficient(t *testing.T) {
	set := SampleSet{
		Names:  []string{"nf", "nt"},
		Values: [][]float64{{0.1, 0.5}, {0.2, 0.5}, {0.3, 0.5}, {0.4, 0.5}, {0.5, 0.5}, {0.6, 0.5}},
	}
	results := []Result{Finite(-1), Finite(-2), Missing(), Finite(-4), Finite(-5), Finite(-6)}

	ev, err := Evaluate(set, results, []float64{-1.63}, EvalOptions{Degrees: map[string]int{"nf": 5, "nt": 3}})
	require.NoError(t, err)
	assert.Equal(t, 5, ev.Retained.Len())
	assert.Len(t, ev.Bias, 5)

	nf, _ := ev.Curve("nf")
	assert.Equal(t, 5, nf.Degree)
	assert.ErrorIs(t, nf.FitErr, ErrInsufficientData, "5 unique values cannot carry a quintic")
	assert.False(t, nf.HasFit())

	nt, _ := ev.Curve("nt")
	assert.ErrorIs(t, nt.FitErr, ErrInsufficientData)
	var ie *InsufficientDataError
	require.ErrorAs(t, nt.FitErr, &ie)
	assert.Equal(t, "nt", ie.Parameter)
	assert.Equal(t, []int{5}, nt.Counts)
}

func TestEvaluate_AllMissing(t *testing.T) {
	set := SampleSet{Names: []string{"a"}, Values: [][]float64{{1}, {2}}}
	ev, err := Evaluate(set, []Result{Missing(), Missing()}, []float64{0}, EvalOptions{})
	require.NoError(t, err)
	assert.Zero(t, ev.Retained.Len())
	c, _ := ev.Curve("a")
	assert.Empty(t, c.Values)
	assert.ErrorIs(t, c.FitErr, ErrInsufficientData)
}

func TestEvaluate_RequiresObserved(t *testing.T) {
	set := SampleSet{Names: []string{"a"}, Values: [][]float64{{1}}}
	_, err := Evaluate(set, []Result{Finite(1)}, nil, EvalOptions{})
	assert.Error(t, err)
}

func TestDegreesFromBounds(t *testing.T) {
	d := DegreesFromBounds([]ParameterBound{{Name: "rk"}, {Name: "nf", Degree: 5}})
	assert.Equal(t, map[string]int{"rk": DefaultDegree, "nf": 5}, d)
}
