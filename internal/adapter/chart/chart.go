// Package chart draws observed-versus-forecast NAO comparisons.
package chart

import (
	"fmt"
	"image/color"
	"io"
	"math"
	"os"
	"path/filepath"
	"strings"

	"gonum.org/v1/plot"
	"gonum.org/v1/plot/plotter"
	"gonum.org/v1/plot/vg"
	"gonum.org/v1/plot/vg/draw"

	"github.com/couchcryptid/nao-forecast-etl/internal/domain"
)

var (
	black     = color.RGBA{A: 255}
	blue      = color.RGBA{R: 31, G: 119, B: 180, A: 255}
	lightBlue = color.RGBA{R: 31, G: 119, B: 180, A: 77}
)

const (
	width    = 12 * vg.Inch
	height   = 5 * vg.Inch
	fontSize = 11
)

// Render draws c and saves it to path. The format follows the extension
// (png, svg, pdf, eps, jpg, tif).
func Render(c domain.Comparison, path string) error {
	p, err := build(c)
	if err != nil {
		return err
	}
	format := strings.TrimPrefix(filepath.Ext(path), ".")
	if format == "" {
		return fmt.Errorf("chart %s: missing file extension", path)
	}
	wt, err := p.WriterTo(width, height, format)
	if err != nil {
		return fmt.Errorf("chart %s: %w", path, err)
	}
	return writeAtomic(path, wt.WriteTo)
}

func build(c domain.Comparison) (*plot.Plot, error) {
	p := plot.New()
	p.Title.Text = c.Title()
	p.Title.TextStyle.Font.Size = vg.Points(fontSize + 1)
	p.X.Label.Text = "Time"
	p.Y.Label.Text = yLabel(c.Units)
	p.X.Tick.Marker = plot.TimeTicks{Format: "2006-01"}
	p.Legend.Top = true

	obs, err := series(c.ObsValid, c.Observed, black)
	if err != nil {
		return nil, fmt.Errorf("observed: %w", err)
	}
	mean, err := series(c.FcValid, c.Mean, blue)
	if err != nil {
		return nil, fmt.Errorf("ensemble mean: %w", err)
	}

	// Boxes are half a month wide.
	boxWidth := vg.Points(8)
	for i, members := range c.Ensemble {
		if len(members) == 0 {
			continue
		}
		b, err := plotter.NewBoxPlot(boxWidth, unix(c.FcValid[i]), plotter.Values(members))
		if err != nil {
			return nil, fmt.Errorf("ensemble box %s: %w", c.FcValid[i], err)
		}
		b.FillColor = lightBlue
		b.BoxStyle.Color = blue
		b.WhiskerStyle.Color = blue
		b.MedianStyle.Color = blue
		b.GlyphStyle.Radius = 0
		p.Add(b)
	}
	for _, s := range []*plotSeries{obs, mean} {
		if s.n > 0 {
			p.Add(s.line, s.points)
		}
	}

	p.Legend.Add("ERA5", obs.line)
	p.Legend.Add("Ensemble mean", mean.line)
	p.Legend.Add("Ensemble", boxThumbnail{})
	return p, nil
}

type plotSeries struct {
	line   *plotter.Line
	points *plotter.Scatter
	n      int
}

// series builds a line with markers through the finite values only.
func series(valid []domain.Month, values []float64, c color.Color) (*plotSeries, error) {
	xys := make(plotter.XYs, 0, len(values))
	for i, v := range values {
		if math.IsNaN(v) || math.IsInf(v, 0) {
			continue
		}
		xys = append(xys, plotter.XY{X: unix(valid[i]), Y: v})
	}
	line, points, err := plotter.NewLinePoints(xys)
	if err != nil {
		return nil, err
	}
	line.Color = c
	line.Width = vg.Points(2)
	points.Color = c
	points.Shape = draw.CircleGlyph{}
	points.Radius = vg.Points(3)
	return &plotSeries{line: line, points: points, n: len(xys)}, nil
}

func unix(m domain.Month) float64 {
	return float64(m.Time().Unix())
}

func yLabel(units string) string {
	if units == "" {
		return "NAO Index"
	}
	return fmt.Sprintf("NAO Index (%s)", units)
}

// boxThumbnail is the legend swatch for the ensemble boxes.
type boxThumbnail struct{}

func (boxThumbnail) Thumbnail(c *draw.Canvas) {
	pts := []vg.Point{
		{X: c.Min.X, Y: c.Min.Y},
		{X: c.Min.X, Y: c.Max.Y},
		{X: c.Max.X, Y: c.Max.Y},
		{X: c.Max.X, Y: c.Min.Y},
	}
	c.FillPolygon(lightBlue, c.ClipPolygonY(pts))
	c.StrokeLines(draw.LineStyle{Color: blue, Width: vg.Points(1)}, append(pts, pts[0]))
}

func writeAtomic(path string, write func(w io.Writer) (int64, error)) error {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("create %s: %w", dir, err)
	}
	tmp, err := os.CreateTemp(dir, "."+filepath.Base(path)+".*.tmp")
	if err != nil {
		return fmt.Errorf("create temp file for %s: %w", path, err)
	}
	if _, err := write(tmp); err != nil {
		_ = tmp.Close()
		_ = os.Remove(tmp.Name())
		return fmt.Errorf("chart %s: %w", path, err)
	}
	if err := tmp.Close(); err != nil {
		_ = os.Remove(tmp.Name())
		return fmt.Errorf("chart %s: %w", path, err)
	}
	if err := os.Rename(tmp.Name(), path); err != nil {
		_ = os.Remove(tmp.Name())
		return fmt.Errorf("finalize %s: %w", path, err)
	}
	return nil
}
