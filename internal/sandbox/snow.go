package sandbox

import "math"

// Snow accumulation constants.
const (
	DefaultSnowDensity = 0.138 // converts accumulated precipitation (mm w.e.) to depth (m)

	rainThreshold = 2.0  // above this air temperature the pack melts out
	snowThreshold = -2.0 // at or below this all precipitation falls as snow
)

// SnowDepth derives a monthly snow depth series from air temperature and
// precipitation. Above +2 °C the pack resets to zero. Between -2 and +2 °C
// only a temperature-scaled share (0.5 - 0.25·t) of precipitation is snow.
// At or below -2 °C all precipitation accumulates. Accumulation carries over
// from the previous month unless that month was reset. Depths are converted
// with density and clamped to be non-negative. Inputs are not modified.
func SnowDepth(temperature, precipitation []float64, density float64) []float64 {
	if density <= 0 {
		density = DefaultSnowDensity
	}
	n := len(temperature)
	if len(precipitation) < n {
		n = len(precipitation)
	}

	acc := make([]float64, n)
	for i := 0; i < n; i++ {
		t := temperature[i]
		if t > rainThreshold {
			acc[i] = 0
			continue
		}
		p := precipitation[i]
		if t > snowThreshold {
			p *= 0.5 - 0.25*t
		}
		if i == 0 || acc[i-1] == 0 {
			acc[i] = p
		} else {
			acc[i] = p + acc[i-1]
		}
	}

	for i, v := range acc {
		acc[i] = math.Max(v/density/1000, 0)
	}
	return acc
}
