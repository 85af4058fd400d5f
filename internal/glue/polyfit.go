package glue

import (
	"fmt"

	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/mat"
)

// Polynomial is a least-squares fit whose coefficients apply to x mapped
// from Domain onto [-1, 1].
type Polynomial struct {
	Coeffs []float64 // ascending powers of the mapped variable
	Domain [2]float64
}

// Degree returns the polynomial degree.
func (p *Polynomial) Degree() int { return len(p.Coeffs) - 1 }

// Eval evaluates the polynomial at x.
func (p *Polynomial) Eval(x float64) float64 {
	t := p.mapX(x)
	var y float64
	for k := len(p.Coeffs) - 1; k >= 0; k-- {
		y = y*t + p.Coeffs[k]
	}
	return y
}

func (p *Polynomial) mapX(x float64) float64 {
	lo, hi := p.Domain[0], p.Domain[1]
	return (2*x - (lo + hi)) / (hi - lo)
}

// FitPolynomial fits a degree-d polynomial through (x, y) by least squares.
// It refuses to fit when x has fewer than degree+1 distinct values.
func FitPolynomial(x, y []float64, degree int) (*Polynomial, error) {
	if len(x) != len(y) {
		return nil, fmt.Errorf("glue: fit length mismatch: %d x values, %d y values", len(x), len(y))
	}
	if degree < 0 {
		return nil, fmt.Errorf("glue: negative polynomial degree %d", degree)
	}
	if u := countUnique(x); u < degree+1 {
		return nil, &InsufficientDataError{Unique: u, Degree: degree}
	}

	p := &Polynomial{Domain: [2]float64{floats.Min(x), floats.Max(x)}}
	if p.Domain[0] == p.Domain[1] {
		// Only reachable for degree 0: a single distinct x.
		p.Domain[1] = p.Domain[0] + 1
	}

	a := mat.NewDense(len(x), degree+1, nil)
	for i, xi := range x {
		t := p.mapX(xi)
		v := 1.0
		for k := 0; k <= degree; k++ {
			a.Set(i, k, v)
			v *= t
		}
	}
	var c mat.VecDense
	if err := c.SolveVec(a, mat.NewVecDense(len(y), append([]float64(nil), y...))); err != nil {
		return nil, fmt.Errorf("glue: polynomial fit: %w", err)
	}
	p.Coeffs = make([]float64, degree+1)
	for k := range p.Coeffs {
		p.Coeffs[k] = c.AtVec(k)
	}
	return p, nil
}

func countUnique(x []float64) int {
	seen := make(map[float64]struct{}, len(x))
	for _, v := range x {
		seen[v] = struct{}{}
	}
	return len(seen)
}
