// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

package plots

import (
	"os"

	"github.com/gomlx/csdnn/pkg/support/fsutil"
	"github.com/pkg/errors"
	"gonum.org/v1/plot"
	"gonum.org/v1/plot/plotter"
	"gonum.org/v1/plot/plotutil"
	"gonum.org/v1/plot/vg"
	"gonum.org/v1/plot/vg/draw"
	"gonum.org/v1/plot/vg/vgimg"
)

// PNGWidth and PNGPanelHeight are the dimensions of the images rendered by SavePNG: each metric type
// gets a panel of PNGPanelHeight.
var (
	PNGWidth       = 8 * vg.Inch
	PNGPanelHeight = 3 * vg.Inch
)

// SavePNG renders the points as learning curves, with one panel per metric type (stacked vertically,
// sharing the epoch axis) and one line per metric, and saves it as a PNG image to filePath.
func SavePNG(filePath, title string, rawPoints []Point) error {
	filePath, err := fsutil.ReplaceTildeInDir(filePath)
	if err != nil {
		return err
	}
	points := NewPoints(rawPoints)
	metricTypes := points.MetricsTypes()
	if len(metricTypes) == 0 {
		return errors.Errorf("plots.SavePNG(%q): no points to plot", filePath)
	}

	panels := make([][]*plot.Plot, len(metricTypes))
	for ii, metricType := range metricTypes {
		p, err := newPanel(points, metricType)
		if err != nil {
			return errors.WithMessagef(err, "plots.SavePNG(%q)", filePath)
		}
		if ii == 0 {
			p.Title.Text = title
		}
		panels[ii] = []*plot.Plot{p}
	}

	img := vgimg.New(PNGWidth, PNGPanelHeight*vg.Length(len(panels)))
	dc := draw.New(img)
	tiles := draw.Tiles{
		Rows: len(panels),
		Cols: 1,
		PadX: vg.Millimeter,
		PadY: vg.Millimeter * 2,
	}
	canvases := plot.Align(panels, tiles, dc)
	for ii := range panels {
		panels[ii][0].Draw(canvases[ii][0])
	}

	f, err := os.Create(filePath)
	if err != nil {
		return errors.Wrapf(err, "plots.SavePNG: failed to create %q", filePath)
	}
	png := vgimg.PngCanvas{Canvas: img}
	if _, err = png.WriteTo(f); err != nil {
		_ = f.Close()
		return errors.Wrapf(err, "plots.SavePNG: failed to write %q", filePath)
	}
	return errors.Wrapf(f.Close(), "plots.SavePNG: failed to close %q", filePath)
}

// newPanel creates the plot of all metrics of the given type.
func newPanel(points Points, metricType string) (*plot.Plot, error) {
	p := plot.New()
	p.X.Label.Text = "epoch"
	p.Y.Label.Text = metricType
	p.Add(plotter.NewGrid())

	var lines []any
	for _, name := range points.MetricsNames() {
		var xys plotter.XYs
		points.Map(func(pt *Point) {
			if pt.MetricName == name && pt.MetricType == metricType {
				xys = append(xys, plotter.XY{X: pt.Step, Y: pt.Value})
			}
		})
		if len(xys) > 0 {
			lines = append(lines, name, xys)
		}
	}
	if err := plotutil.AddLinePoints(p, lines...); err != nil {
		return nil, errors.Wrapf(err, "failed to plot metric type %q", metricType)
	}
	p.Legend.Top = true
	return p, nil
}
