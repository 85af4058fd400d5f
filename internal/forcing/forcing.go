// Package forcing loads the monthly climate series shared read-only by every
// simulation run of an analysis.
package forcing

import (
	"bufio"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strconv"
	"strings"
)

// DefaultMonths is the model horizon: 50 years of monthly steps.
const DefaultMonths = 600

// ErrForcingLength is matched by ForcingLengthMismatchError.
var ErrForcingLength = errors.New("forcing: series length does not match horizon")

// ForcingLengthMismatchError reports a series whose length differs from the
// configured horizon.
type ForcingLengthMismatchError struct {
	Series string
	Got    int
	Want   int
}

func (e *ForcingLengthMismatchError) Error() string {
	return fmt.Sprintf("forcing: %s series has %d values, want %d", e.Series, e.Got, e.Want)
}

func (e *ForcingLengthMismatchError) Is(target error) bool { return target == ErrForcingLength }

// Series holds monthly air temperature (°C) and precipitation (mm). Callers
// must treat the slices as read-only.
type Series struct {
	Temperature   []float64
	Precipitation []float64
}

// Months returns the number of time steps.
func (s Series) Months() int { return len(s.Temperature) }

// New validates temperature and precipitation against the horizon.
func New(temperature, precipitation []float64, months int) (Series, error) {
	if months <= 0 {
		months = DefaultMonths
	}
	if len(temperature) != months {
		return Series{}, &ForcingLengthMismatchError{Series: "temperature", Got: len(temperature), Want: months}
	}
	if len(precipitation) != months {
		return Series{}, &ForcingLengthMismatchError{Series: "precipitation", Got: len(precipitation), Want: months}
	}
	return Series{Temperature: temperature, Precipitation: precipitation}, nil
}

// Load reads the two series from text files holding one value per line.
func Load(temperaturePath, precipitationPath string, months int) (Series, error) {
	tas, err := ReadFile(temperaturePath)
	if err != nil {
		return Series{}, err
	}
	pr, err := ReadFile(precipitationPath)
	if err != nil {
		return Series{}, err
	}
	return New(tas, pr, months)
}

// ReadFile reads a numeric series from path.
func ReadFile(path string) ([]float64, error) {
	f, err := os.Open(filepath.Clean(path))
	if err != nil {
		return nil, fmt.Errorf("forcing: open %s: %w", path, err)
	}
	defer f.Close()
	vals, err := Parse(f)
	if err != nil {
		return nil, fmt.Errorf("forcing: %s: %w", path, err)
	}
	return vals, nil
}

// Parse reads whitespace- or comma-separated numbers. Blank lines and lines
// starting with '#' are skipped.
func Parse(r io.Reader) ([]float64, error) {
	var out []float64
	sc := bufio.NewScanner(r)
	line := 0
	for sc.Scan() {
		line++
		text := strings.TrimSpace(sc.Text())
		if text == "" || strings.HasPrefix(text, "#") {
			continue
		}
		fields := strings.FieldsFunc(text, func(r rune) bool {
			return r == ',' || r == ' ' || r == '\t'
		})
		for _, field := range fields {
			v, err := strconv.ParseFloat(field, 64)
			if err != nil {
				return nil, fmt.Errorf("line %d: invalid value %q: %w", line, field, err)
			}
			out = append(out, v)
		}
	}
	if err := sc.Err(); err != nil {
		return nil, err
	}
	return out, nil
}
