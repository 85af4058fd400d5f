package report

import (
	"fmt"
	"io"
	"os"
	"path/filepath"

	"github.com/go-echarts/go-echarts/v2/charts"
	"github.com/go-echarts/go-echarts/v2/components"
	"github.com/go-echarts/go-echarts/v2/opts"

	"github.com/banshee-data/permafrost.glue/internal/glue"
)

// WriteHTML renders one interactive chart per parameter onto a single page.
func WriteHTML(w io.Writer, d Data) error {
	if err := d.Validate(); err != nil {
		return err
	}
	page := components.NewPage()
	page.SetPageTitle("GLUE sensitivity " + d.BatchID)
	for _, c := range d.Eval.Curves {
		page.AddCharts(parameterChart(c, d.Eval.Retained.Columns[c.Parameter], d.Eval.Bias, d.BatchID))
	}
	return page.Render(w)
}

// WriteHTMLFile writes WriteHTML output to path.
func WriteHTMLFile(path string, d Data) error {
	f, err := os.Create(filepath.Clean(path))
	if err != nil {
		return fmt.Errorf("create %s: %w", path, err)
	}
	if err := WriteHTML(f, d); err != nil {
		f.Close()
		return fmt.Errorf("render %s: %w", path, err)
	}
	return f.Close()
}

func parameterChart(c glue.SensitivityCurve, values, bias []float64, batchID string) *charts.Scatter {
	data := make([]opts.ScatterData, 0, len(values))
	for i := range values {
		data = append(data, opts.ScatterData{Value: []interface{}{values[i], bias[i]}})
	}

	subtitle := fmt.Sprintf("batch=%s retained=%d", batchID, len(values))
	if c.FitErr != nil {
		subtitle += " fit=" + c.FitErr.Error()
	}

	scatter := charts.NewScatter()
	scatter.SetGlobalOptions(
		charts.WithInitializationOpts(opts.Initialization{PageTitle: "GLUE sensitivity", Width: "900px", Height: "500px"}),
		charts.WithTitleOpts(opts.Title{Title: c.Parameter, Subtitle: subtitle}),
		charts.WithTooltipOpts(opts.Tooltip{Show: opts.Bool(true)}),
		charts.WithXAxisOpts(opts.XAxis{Type: "value", Name: c.Parameter, NameLocation: "middle", NameGap: 25}),
		charts.WithYAxisOpts(opts.YAxis{Type: "value", Name: "Mean bias (°C)", NameLocation: "middle", NameGap: 30}),
	)
	scatter.AddSeries("samples", data, charts.WithScatterChartOpts(opts.ScatterChart{SymbolSize: 5}))

	if c.HasFit() && len(c.Values) > 0 {
		pts := fitPoints(c)
		fit := make([]opts.LineData, len(pts))
		for i, p := range pts {
			fit[i] = opts.LineData{Value: []interface{}{p.X, p.Y}}
		}
		line := charts.NewLine()
		line.AddSeries(fmt.Sprintf("degree %d fit", c.Fit.Degree()), fit,
			charts.WithLineChartOpts(opts.LineChart{ShowSymbol: opts.Bool(false), Smooth: opts.Bool(true)}))
		scatter.Overlap(line)
	}
	return scatter
}
