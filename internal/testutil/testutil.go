// Package testutil provides shared test utilities and fixtures.
//
// This package centralises the forcing series and fake model templates used
// by the sandbox, simulation and analysis tests.
package testutil

import (
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"testing"
	"testing/fstest"
)

// AssertNoError fails the test if err is not nil.
func AssertNoError(t testing.TB, err error) {
	t.Helper()
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
}

// AssertError fails the test if err is nil.
func AssertError(t testing.TB, err error) {
	t.Helper()
	if err == nil {
		t.Fatal("expected error, got nil")
	}
}

// ConstantSeries returns n copies of v.
func ConstantSeries(n int, v float64) []float64 {
	out := make([]float64, n)
	for i := range out {
		out[i] = v
	}
	return out
}

// SeasonalSeries returns n monthly values oscillating around mean with the
// given amplitude, coldest in January.
func SeasonalSeries(n int, mean, amplitude float64) []float64 {
	out := make([]float64, n)
	for i := range out {
		m := i % 12
		// Triangle wave: -1 in month 0, +1 in month 6.
		phase := float64(m)
		if m > 6 {
			phase = float64(12 - m)
		}
		out[i] = mean + amplitude*(phase/3-1)
	}
	return out
}

// WriteSeries writes one value per line to dir/name and returns the path.
func WriteSeries(t testing.TB, dir, name string, values []float64) string {
	t.Helper()
	var b strings.Builder
	for _, v := range values {
		b.WriteString(strconv.FormatFloat(v, 'f', -1, 64))
		b.WriteByte('\n')
	}
	path := filepath.Join(dir, name)
	if err := os.WriteFile(path, []byte(b.String()), 0o644); err != nil {
		t.Fatalf("write %s: %v", path, err)
	}
	return path
}

// ModelScript is a stand-in for the thermal model executable. It reads the
// first soil value (VWC) from in/mineral.txt and writes a monthly result
// table whose ground temperature column holds that value, so the extracted
// MAGT equals VWC. A VWC of exactly 0.99 makes it exit non-zero.
const ModelScript = `#!/bin/sh
v=$(awk 'NR==3 {print $1}' in/mineral.txt)
if [ "$v" = "0.99" ]; then
  echo "model diverged" >&2
  exit 2
fi
i=0
: > out/result.txt
while [ $i -lt 600 ]; do
  echo "1960 1 1 0 0 0 0 0 0 $v" >> out/result.txt
  i=$((i+1))
done
`

// ModelTemplate returns a template directory holding ModelScript as
// gipl.exe.
func ModelTemplate() fstest.MapFS {
	return fstest.MapFS{
		"gipl.exe":   {Data: []byte(ModelScript), Mode: 0o755},
		"in/.keep":   {Data: []byte{}, Mode: 0o644},
		"out/.keep":  {Data: []byte{}, Mode: 0o644},
		"config.txt": {Data: []byte("glue test template\n"), Mode: 0o644},
	}
}

// WriteModelTemplate materialises ModelTemplate under dir and returns its
// path.
func WriteModelTemplate(t testing.TB, dir string) string {
	t.Helper()
	root := filepath.Join(dir, "template")
	for name, f := range ModelTemplate() {
		path := filepath.Join(root, filepath.FromSlash(name))
		if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
			t.Fatalf("mkdir %s: %v", path, err)
		}
		if err := os.WriteFile(path, f.Data, f.Mode); err != nil {
			t.Fatalf("write %s: %v", path, err)
		}
	}
	return root
}
