package report

import (
	"encoding/csv"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strconv"
)

// CSV file names written by WriteCSV.
const (
	SamplesCSV = "samples.csv"
	CurvesCSV  = "curves.csv"
)

// WriteCSV writes samples.csv and curves.csv into dir.
func WriteCSV(dir string, d Data) ([]string, error) {
	if err := d.Validate(); err != nil {
		return nil, err
	}
	samples := filepath.Join(dir, SamplesCSV)
	if err := writeFile(samples, func(w io.Writer) error { return WriteSamples(w, d) }); err != nil {
		return nil, err
	}
	curves := filepath.Join(dir, CurvesCSV)
	if err := writeFile(curves, func(w io.Writer) error { return WriteCurves(w, d) }); err != nil {
		return []string{samples}, err
	}
	return []string{samples, curves}, nil
}

// WriteSamples writes one row per sample: its parameters, the simulated
// value and the bias. Missing samples keep their row with empty result
// cells and missing=true.
func WriteSamples(w io.Writer, d Data) error {
	cw := csv.NewWriter(w)
	header := append([]string{"index"}, d.Set.Names...)
	header = append(header, "simulated", "bias", "missing")
	if err := cw.Write(header); err != nil {
		return err
	}

	bias := d.biasByIndex()
	for i, row := range d.Set.Values {
		rec := make([]string, 0, len(header))
		rec = append(rec, strconv.Itoa(i))
		for _, v := range row {
			rec = append(rec, formatFloat(v))
		}
		res := d.Results[i]
		if res.IsMissing() {
			rec = append(rec, "", "", "true")
		} else {
			rec = append(rec, formatFloat(res.Value), formatFloat(bias[i]), "false")
		}
		if err := cw.Write(rec); err != nil {
			return err
		}
	}
	cw.Flush()
	return cw.Error()
}

// WriteCurves writes one row per (parameter, unique value) with the grouped
// mean bias and the fitted curve at that value. The fitted cell is empty for
// parameters whose fit failed.
func WriteCurves(w io.Writer, d Data) error {
	cw := csv.NewWriter(w)
	if err := cw.Write([]string{"parameter", "value", "mean_bias", "count", "fitted", "fit_error"}); err != nil {
		return err
	}
	for _, c := range d.Eval.Curves {
		fitErr := ""
		if c.FitErr != nil {
			fitErr = c.FitErr.Error()
		}
		if len(c.Values) == 0 {
			if err := cw.Write([]string{c.Parameter, "", "", "0", "", fitErr}); err != nil {
				return err
			}
			continue
		}
		for i, x := range c.Values {
			fitted := ""
			if c.HasFit() {
				fitted = formatFloat(c.Fit.Eval(x))
			}
			rec := []string{c.Parameter, formatFloat(x), formatFloat(c.MeanBias[i]), strconv.Itoa(c.Counts[i]), fitted, fitErr}
			if err := cw.Write(rec); err != nil {
				return err
			}
		}
	}
	cw.Flush()
	return cw.Error()
}

func writeFile(path string, fn func(io.Writer) error) error {
	f, err := os.Create(filepath.Clean(path))
	if err != nil {
		return fmt.Errorf("create %s: %w", path, err)
	}
	if err := fn(f); err != nil {
		f.Close()
		return fmt.Errorf("write %s: %w", path, err)
	}
	return f.Close()
}

func formatFloat(v float64) string {
	return strconv.FormatFloat(v, 'g', -1, 64)
}
