package report

import (
	"fmt"
	"image/color"
	"math"
	"os"
	"path/filepath"

	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/plot"
	"gonum.org/v1/plot/plotter"
	"gonum.org/v1/plot/vg"
	"gonum.org/v1/plot/vg/draw"
	"gonum.org/v1/plot/vg/vgimg"

	"github.com/banshee-data/permafrost.glue/internal/glue"
)

const (
	fitSamples = 100
	gridCols   = 4
)

var (
	fitColor  = color.RGBA{R: 220, G: 30, B: 30, A: 255}
	zeroColor = color.Gray{Y: 128}
)

// WritePlots writes one PNG per parameter (scatter of every retained sample
// against its bias, with the fitted curve) plus a grid of all of them.
func WritePlots(dir string, d Data) ([]string, error) {
	if err := d.Validate(); err != nil {
		return nil, err
	}

	var written []string
	plots := make([]*plot.Plot, 0, len(d.Eval.Curves))
	for _, c := range d.Eval.Curves {
		p, err := ParameterPlot(c, d.Eval.Retained.Columns[c.Parameter], d.Eval.Bias)
		if err != nil {
			return written, err
		}
		plots = append(plots, p)

		file := filepath.Join(dir, fmt.Sprintf("sensitivity_%s.png", c.Parameter))
		if err := p.Save(6*vg.Inch, 4*vg.Inch, file); err != nil {
			return written, fmt.Errorf("failed to save %s plot: %w", c.Parameter, err)
		}
		written = append(written, file)
	}
	if len(plots) == 0 {
		return written, nil
	}

	file := filepath.Join(dir, "sensitivity.png")
	if err := saveGrid(plots, file); err != nil {
		return written, err
	}
	return append(written, file), nil
}

// ParameterPlot builds the sensitivity plot of one parameter. values and
// bias are aligned per retained sample.
func ParameterPlot(c glue.SensitivityCurve, values, bias []float64) (*plot.Plot, error) {
	p := plot.New()
	p.Title.Text = c.Parameter
	p.X.Label.Text = c.Parameter
	p.Y.Label.Text = "Mean bias (°C)"

	if len(values) > 0 {
		pts := make(plotter.XYs, len(values))
		for i := range values {
			pts[i] = plotter.XY{X: values[i], Y: bias[i]}
		}
		sc, err := plotter.NewScatter(pts)
		if err != nil {
			return nil, fmt.Errorf("scatter %s: %w", c.Parameter, err)
		}
		lo, hi := floats.Min(bias), floats.Max(bias)
		sc.GlyphStyleFunc = func(i int) draw.GlyphStyle {
			return draw.GlyphStyle{Color: greens(pts[i].Y, lo, hi), Radius: vg.Points(2), Shape: draw.CircleGlyph{}}
		}
		p.Add(sc)
		p.Legend.Add("samples", sc)

		zero, err := plotter.NewLine(plotter.XYs{{X: floats.Min(values), Y: 0}, {X: floats.Max(values), Y: 0}})
		if err != nil {
			return nil, err
		}
		zero.Color = zeroColor
		zero.Dashes = []vg.Length{vg.Points(4), vg.Points(4)}
		p.Add(zero)
	}

	if c.HasFit() && len(c.Values) > 0 {
		line, err := plotter.NewLine(fitPoints(c))
		if err != nil {
			return nil, fmt.Errorf("fit line %s: %w", c.Parameter, err)
		}
		line.Color = fitColor
		line.Width = vg.Points(2)
		p.Add(line)
		p.Legend.Add(fmt.Sprintf("degree %d fit", c.Fit.Degree()), line)
	} else if c.FitErr != nil {
		p.Title.Text = fmt.Sprintf("%s (no fit)", c.Parameter)
	}

	p.Legend.Top = true
	p.Legend.Left = false
	return p, nil
}

// fitPoints samples the fitted polynomial across the observed value range.
func fitPoints(c glue.SensitivityCurve) plotter.XYs {
	lo, hi := c.Values[0], c.Values[len(c.Values)-1]
	pts := make(plotter.XYs, fitSamples)
	for i := range pts {
		x := lo
		if fitSamples > 1 {
			x = lo + (hi-lo)*float64(i)/float64(fitSamples-1)
		}
		pts[i] = plotter.XY{X: x, Y: c.Fit.Eval(x)}
	}
	return pts
}

func saveGrid(plots []*plot.Plot, file string) error {
	rows := (len(plots) + gridCols - 1) / gridCols
	cols := gridCols
	if len(plots) < cols {
		cols = len(plots)
	}

	grid := make([][]*plot.Plot, rows)
	for r := range grid {
		grid[r] = make([]*plot.Plot, cols)
		for c := range grid[r] {
			if i := r*cols + c; i < len(plots) {
				grid[r][c] = plots[i]
			}
		}
	}

	img := vgimg.New(vg.Length(cols)*5*vg.Inch, vg.Length(rows)*4*vg.Inch)
	dc := draw.New(img)
	tiles := draw.Tiles{
		Rows: rows, Cols: cols,
		PadX: vg.Millimeter, PadY: vg.Millimeter,
		PadTop: vg.Points(2), PadBottom: vg.Points(2),
		PadLeft: vg.Points(2), PadRight: vg.Points(2),
	}
	canvases := plot.Align(grid, tiles, dc)
	for r := range grid {
		for c := range grid[r] {
			if grid[r][c] != nil {
				grid[r][c].Draw(canvases[r][c])
			}
		}
	}

	f, err := os.Create(filepath.Clean(file))
	if err != nil {
		return fmt.Errorf("create %s: %w", file, err)
	}
	if _, err := (vgimg.PngCanvas{Canvas: img}).WriteTo(f); err != nil {
		f.Close()
		return fmt.Errorf("write %s: %w", file, err)
	}
	return f.Close()
}

// greens maps v in [lo, hi] onto a light-to-dark green ramp.
func greens(v, lo, hi float64) color.Color {
	t := 0.5
	if hi > lo {
		t = (v - lo) / (hi - lo)
	}
	t = math.Max(0, math.Min(1, t))
	return color.RGBA{
		R: uint8(229 - t*(229-0)),
		G: uint8(245 - t*(245-109)),
		B: uint8(224 - t*(224-44)),
		A: 200,
	}
}
