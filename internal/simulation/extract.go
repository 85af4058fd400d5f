package simulation

import (
	"bufio"
	"io"
	"math"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/banshee-data/permafrost.glue/internal/glue"
)

// Result table layout.
const (
	DefaultYears     = 50
	monthsPerYear    = 12
	firstUsedColumn  = 4
	lastUsedColumn   = 9
	temperatureField = 9 // ground temperature at the reference depth
)

// Extract reduces a backend output to a result. It never fails: anything it
// cannot read is Missing.
func Extract(out Output) glue.Result {
	if out.Value != nil {
		return glue.Finite(*out.Value)
	}
	if out.Path == "" {
		return glue.Missing()
	}
	f, err := os.Open(filepath.Clean(out.Path))
	if err != nil {
		return glue.Missing()
	}
	defer f.Close()
	return ExtractTable(f, DefaultYears)
}

// ExtractTable reads a monthly model table and returns the mean ground
// temperature of the final year. Each year's mean ignores NaN entries. The
// table must hold at least years*12 rows, each with numeric values in
// columns 4 to 9.
func ExtractTable(r io.Reader, years int) glue.Result {
	if years <= 0 {
		years = DefaultYears
	}
	want := years * monthsPerYear

	var temps []float64
	sc := bufio.NewScanner(r)
	sc.Buffer(make([]byte, 64*1024), 1024*1024)
	for sc.Scan() {
		line := strings.TrimSpace(sc.Text())
		if i := strings.IndexByte(line, '#'); i >= 0 {
			line = strings.TrimSpace(line[:i])
		}
		if line == "" {
			continue
		}
		fields := strings.Fields(line)
		if len(fields) <= lastUsedColumn {
			return glue.Missing()
		}
		for c := firstUsedColumn; c <= lastUsedColumn; c++ {
			v, err := strconv.ParseFloat(fields[c], 64)
			if err != nil {
				return glue.Missing()
			}
			if c == temperatureField {
				temps = append(temps, v)
			}
		}
	}
	if sc.Err() != nil || len(temps) < want {
		return glue.Missing()
	}

	last := temps[want-monthsPerYear : want]
	var sum float64
	var n int
	for _, v := range last {
		if math.IsNaN(v) {
			continue
		}
		sum += v
		n++
	}
	if n == 0 {
		return glue.Missing()
	}
	return glue.Finite(sum / float64(n))
}
