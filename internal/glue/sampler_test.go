package glue

import (
	"errors"
	"math"
	"sort"
	"testing"

	"github.com/google/go-cmp/cmp"
)

func soilBounds() []ParameterBound {
	return []ParameterBound{
		{Name: "VWC", Lower: 0.05, Upper: 0.6},
		{Name: "a", Lower: 0.05, Upper: 0.5},
		{Name: "b", Lower: -2, Upper: 2},
		{Name: "TVHC", Lower: 1500000, Upper: 4000000},
		{Name: "FVHC", Lower: 1500000, Upper: 4000000},
		{Name: "THC", Lower: 0.05, Upper: 3},
		{Name: "FHC", Lower: 0.05, Upper: 3},
	}
}

// assertStratified checks that column j of unit holds one draw per stratum.
func assertStratified(t *testing.T, unit [][]float64, j int) {
	t.Helper()
	n := len(unit)
	col := make([]float64, n)
	for i := range unit {
		col[i] = unit[i][j]
	}
	sort.Float64s(col)
	const tol = 1e-12
	for k, v := range col {
		lo := float64(k) / float64(n)
		hi := float64(k+1) / float64(n)
		if v < lo-tol || v > hi+tol {
			t.Errorf("dimension %d: draw %d = %v outside stratum [%v, %v)", j, k, v, lo, hi)
		}
	}
}

func TestSampler_Stratified(t *testing.T) {
	for _, n := range []int{1, 2, 10, 100, 257} {
		s, err := NewSampler(soilBounds())
		if err != nil {
			t.Fatalf("NewSampler: %v", err)
		}
		set, err := s.Sample(n, 42)
		if err != nil {
			t.Fatalf("Sample(%d): %v", n, err)
		}
		if set.Len() != n {
			t.Fatalf("expected %d samples, got %d", n, set.Len())
		}
		for j := range set.Names {
			assertStratified(t, set.Unit, j)
		}
	}
}

func TestSampler_ScaledWithinBounds(t *testing.T) {
	bounds := soilBounds()
	s, _ := NewSampler(bounds)
	set, err := s.Sample(500, 7)
	if err != nil {
		t.Fatalf("Sample: %v", err)
	}
	for i := 0; i < set.Len(); i++ {
		for j, b := range bounds {
			v := set.Values[i][j]
			if v < b.Lower || v > b.Upper {
				t.Errorf("sample %d %s = %v outside [%v, %v]", i, b.Name, v, b.Lower, b.Upper)
			}
			want := b.Lower + set.Unit[i][j]*(b.Upper-b.Lower)
			if v != want {
				t.Errorf("sample %d %s = %v, affine map gives %v", i, b.Name, v, want)
			}
		}
	}
}

func TestSampler_Deterministic(t *testing.T) {
	s, _ := NewSampler(soilBounds())
	a, err := s.Sample(64, 42)
	if err != nil {
		t.Fatal(err)
	}
	b, err := s.Sample(64, 42)
	if err != nil {
		t.Fatal(err)
	}
	if diff := cmp.Diff(a, b); diff != "" {
		t.Errorf("same seed produced different sets (-first +second):\n%s", diff)
	}

	c, _ := s.Sample(64, 43)
	if cmp.Equal(a.Values, c.Values) {
		t.Error("different seeds produced identical sets")
	}
}

func TestSampler_Centered(t *testing.T) {
	s, err := NewSampler([]ParameterBound{{Name: "nf", Lower: 0, Upper: 1}, {Name: "nt", Lower: 0, Upper: 1}}, WithCentered())
	if err != nil {
		t.Fatal(err)
	}
	set, err := s.Sample(10, 1)
	if err != nil {
		t.Fatal(err)
	}
	for j := range set.Names {
		col := set.Column(set.Names[j])
		sort.Float64s(col)
		for k, v := range col {
			want := (float64(k) + 0.5) / 10
			if math.Abs(v-want) > 1e-15 {
				t.Errorf("%s rank %d = %v, want %v", set.Names[j], k, v, want)
			}
		}
	}
}

func TestSampler_Errors(t *testing.T) {
	testCases := []struct {
		name   string
		bounds []ParameterBound
		n      int
		target error
	}{
		{"lower_above_upper", []ParameterBound{{Name: "a", Lower: 1, Upper: 0}}, 4, ErrInvalidBounds},
		{"nan_bound", []ParameterBound{{Name: "a", Lower: math.NaN(), Upper: 1}}, 4, ErrInvalidBounds},
		{"empty_name", []ParameterBound{{Lower: 0, Upper: 1}}, 4, ErrInvalidBounds},
		{"duplicate", []ParameterBound{{Name: "a", Upper: 1}, {Name: "a", Upper: 2}}, 4, ErrInvalidBounds},
		{"no_params", nil, 4, ErrInvalidBounds},
		{"zero_samples", []ParameterBound{{Name: "a", Upper: 1}}, 0, ErrInvalidSampleCount},
		{"negative_samples", []ParameterBound{{Name: "a", Upper: 1}}, -3, ErrInvalidSampleCount},
	}
	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			s, err := NewSampler(tc.bounds)
			if err == nil {
				_, err = s.Sample(tc.n, 42)
			}
			if !errors.Is(err, tc.target) {
				t.Errorf("expected %v, got %v", tc.target, err)
			}
		})
	}

	var be *InvalidBoundsError
	_, err := NewSampler([]ParameterBound{{Name: "rk", Lower: 2, Upper: 1}})
	if !errors.As(err, &be) || be.Name != "rk" {
		t.Errorf("expected InvalidBoundsError for rk, got %v", err)
	}
}

func TestSampler_DegenerateBound(t *testing.T) {
	s, err := NewSampler([]ParameterBound{{Name: "fixed", Lower: 2.5, Upper: 2.5}})
	if err != nil {
		t.Fatalf("equal bounds should be valid: %v", err)
	}
	set, err := s.Sample(5, 3)
	if err != nil {
		t.Fatal(err)
	}
	for _, v := range set.Column("fixed") {
		if v != 2.5 {
			t.Errorf("expected 2.5, got %v", v)
		}
	}
}

func TestSampleSet_SampleAndColumn(t *testing.T) {
	set := SampleSet{
		Names:  []string{"a", "b"},
		Values: [][]float64{{1, 10}, {2, 20}, {3, 30}},
	}
	s := set.Sample(1)
	if s.Index != 1 || s.Values["a"] != 2 || s.Values["b"] != 20 {
		t.Errorf("unexpected sample %+v", s)
	}
	if diff := cmp.Diff([]float64{10, 20, 30}, set.Column("b")); diff != "" {
		t.Errorf("column b mismatch:\n%s", diff)
	}
	if set.Column("missing") != nil {
		t.Error("unknown column should be nil")
	}
}
