package glue

import "math"

// Result is the scalar outcome of one simulation run. A Result is either a
// finite Value (OK == true) or missing; missing results never take part in
// arithmetic.
type Result struct {
	Value float64
	OK    bool
}

// Missing returns the absent-result sentinel.
func Missing() Result { return Result{} }

// Finite wraps v, returning Missing when v is NaN or infinite.
func Finite(v float64) Result {
	if math.IsNaN(v) || math.IsInf(v, 0) {
		return Missing()
	}
	return Result{Value: v, OK: true}
}

// IsMissing reports whether r carries no value.
func (r Result) IsMissing() bool { return !r.OK }

// Float returns the value, or NaN for a missing result. Only use this at
// output boundaries (CSV, plotting).
func (r Result) Float() float64 {
	if !r.OK {
		return math.NaN()
	}
	return r.Value
}

// CountMissing returns the number of missing entries in rs.
func CountMissing(rs []Result) int {
	n := 0
	for _, r := range rs {
		if !r.OK {
			n++
		}
	}
	return n
}
