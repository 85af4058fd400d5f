// Package report renders the outcome of an analysis as CSV tables, static
// PNG plots and an interactive HTML page.
package report

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/banshee-data/permafrost.glue/internal/glue"
)

// Data is everything the writers need about one batch.
type Data struct {
	BatchID string
	Set     glue.SampleSet
	Results []glue.Result
	Eval    *glue.Evaluation
}

// Validate checks that the pieces of Data line up.
func (d Data) Validate() error {
	if d.Eval == nil {
		return fmt.Errorf("report: no evaluation")
	}
	if len(d.Results) != d.Set.Len() {
		return fmt.Errorf("report: %d results for %d samples", len(d.Results), d.Set.Len())
	}
	return nil
}

// biasByIndex maps sample index to bias for the retained samples.
func (d Data) biasByIndex() map[int]float64 {
	out := make(map[int]float64, len(d.Eval.Bias))
	for k, idx := range d.Eval.Retained.Indices {
		out[idx] = d.Eval.Bias[k]
	}
	return out
}

// Options selects which artefacts WriteAll produces.
type Options struct {
	CSV   bool
	Plots bool
	HTML  bool
}

// WriteAll writes the selected artefacts into dir and returns their paths.
func WriteAll(dir string, d Data, o Options) ([]string, error) {
	if err := d.Validate(); err != nil {
		return nil, err
	}
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create output dir: %w", err)
	}

	var written []string
	if o.CSV {
		paths, err := WriteCSV(dir, d)
		if err != nil {
			return written, err
		}
		written = append(written, paths...)
	}
	if o.Plots {
		paths, err := WritePlots(dir, d)
		if err != nil {
			return written, err
		}
		written = append(written, paths...)
	}
	if o.HTML {
		path := filepath.Join(dir, "sensitivity.html")
		if err := WriteHTMLFile(path, d); err != nil {
			return written, err
		}
		written = append(written, path)
	}
	return written, nil
}
