// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

// Package plots collects the learning curves of the fine-tuning, saves and loads them as JSON lines,
// and renders them with gonum/plot.
package plots

import (
	"encoding/json"
	"fmt"
	"io"
	"maps"
	"math"
	"os"
	"slices"
	"sort"

	"github.com/charmbracelet/lipgloss"
	lgtable "github.com/charmbracelet/lipgloss/table"
	"github.com/gomlx/csdnn/pkg/ml/models/csdnn"
	"github.com/gomlx/csdnn/pkg/ml/train/metrics"
	"github.com/gomlx/csdnn/pkg/support/fsutil"
	"github.com/pkg/errors"
	"k8s.io/klog/v2"
)

// Point represents a training plot point. It is used to save/load plots.
type Point struct {
	// MetricName of this point.
	MetricName string

	// Short name
	Short string

	// MetricType is "loss", "error" or "cost".
	// It's used in plotting to aggregate similar metric types in the same plot.
	MetricType string

	// Step is the fine-tuning epoch this metric was measured, stored as a float64.
	Step float64

	// Value is the metric captured.
	Value float64
}

// Collector implements csdnn.Observer, and collects one point per metric for each fine-tuning epoch.
type Collector struct {
	points []Point
}

var _ csdnn.Observer = (*Collector)(nil)

// NewCollector returns an empty Collector.
func NewCollector() *Collector {
	return &Collector{}
}

// OnPretrainLayer implements csdnn.Observer. Pretraining is not plotted.
func (c *Collector) OnPretrainLayer(csdnn.LayerReport) {}

// OnFinetuneEpoch implements csdnn.Observer.
func (c *Collector) OnFinetuneEpoch(report csdnn.EpochReport) {
	step := float64(report.Epoch)
	for _, mv := range []struct {
		metric metrics.Interface
		value  float64
	}{
		{metrics.TrainLoss, report.MeanLoss},
		{metrics.TrainError, report.TrainError},
		{metrics.TestError, report.TestError},
		{metrics.TrainCost, report.TrainCost},
		{metrics.TestCost, report.TestCost},
	} {
		if math.IsNaN(mv.value) || math.IsInf(mv.value, 0) {
			klog.V(1).Infof("plots: skipping %s=%g at epoch %d", mv.metric.Name(), mv.value, report.Epoch)
			continue
		}
		c.points = append(c.points, Point{
			MetricName: mv.metric.Name(),
			Short:      mv.metric.ShortName(),
			MetricType: mv.metric.MetricType(),
			Step:       step,
			Value:      mv.value,
		})
	}
}

// Points returns the points collected so far.
func (c *Collector) Points() []Point {
	return slices.Clone(c.points)
}

// SavePoints writes the points to filePath, one JSON encoded point per line. An existing file is overwritten.
func SavePoints(filePath string, points []Point) error {
	filePath, err := fsutil.ReplaceTildeInDir(filePath)
	if err != nil {
		return err
	}
	f, err := os.Create(filePath)
	if err != nil {
		return errors.Wrapf(err, "failed to create plot points file %q", filePath)
	}
	enc := json.NewEncoder(f)
	for _, point := range points {
		if err = enc.Encode(point); err != nil {
			_ = f.Close()
			return errors.Wrapf(err, "failed to encode point %v to %q", point, filePath)
		}
	}
	if err = f.Close(); err != nil {
		return errors.Wrapf(err, "failed to close plot points file %q", filePath)
	}
	return nil
}

// LoadPoints parses all plot points saved in the given file.
func LoadPoints(filePath string) ([]Point, error) {
	filePath, err := fsutil.ReplaceTildeInDir(filePath)
	if err != nil {
		return nil, err
	}
	f, err := os.Open(filePath)
	if err != nil {
		return nil, errors.Wrapf(err, "failed to read plot points file %q", filePath)
	}
	defer func() { _ = f.Close() }()

	dec := json.NewDecoder(f)
	var points []Point
	for {
		var point Point
		err := dec.Decode(&point)
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, errors.Wrapf(err, "error while decoding plot points file %q", filePath)
		}
		points = append(points, point)
	}
	return points, nil
}

// Points is a collection of Point objects organized by their Step value.
// It's a `map[float64][]Point` with several utility methods.
type Points map[float64][]Point

// NewPoints create a Points object from a collection of individual `Point`.
func NewPoints(rawPoints []Point) (points Points) {
	points = make(map[float64][]Point)
	for _, p := range rawPoints {
		points[p.Step] = append(points[p.Step], p)
	}
	return points
}

// Map executes the given function on all individual points, in `Step` order.
// Note that if `p.Step` change, it is not re-indexed.
func (points Points) Map(fn func(p *Point)) {
	for _, step := range slices.Sorted(maps.Keys(points)) {
		stepPoints := points[step]
		for ii := range stepPoints {
			fn(&stepPoints[ii])
		}
	}
}

// Extract converts the Points structure back to a list of individual points, sorted by Point.Step.
func (points Points) Extract() (rawPoints []Point) {
	points.Map(func(p *Point) {
		rawPoints = append(rawPoints, *p)
	})
	return
}

// MetricsNames return the list of metrics names in the whole collection, sorted alphabetically by their type and
// then by their name.
func (points Points) MetricsNames() []string {
	nameToType := make(map[string]string)
	points.Map(func(p *Point) {
		nameToType[p.MetricName] = p.MetricType
	})
	names := slices.Sorted(maps.Keys(nameToType))
	sort.SliceStable(names, func(i, j int) bool {
		return nameToType[names[i]] < nameToType[names[j]]
	})
	return names
}

// MetricsTypes returns the metric types in the collection, sorted.
func (points Points) MetricsTypes() []string {
	types := make(map[string]bool)
	points.Map(func(p *Point) { types[p.MetricType] = true })
	return slices.Sorted(maps.Keys(types))
}

// TableForMetrics returns a table with the first column being the `Step` followed
// by the columns given by the `metrics` names.
// If `metrics` is empty, it will include all metrics in the table.
func (points Points) TableForMetrics(metrics ...string) string {
	cellStyle := lipgloss.NewStyle().Padding(0, 1)
	headerStyle := lipgloss.NewStyle().Padding(0, 1).Bold(true).Reverse(true)
	table := lgtable.New().
		Border(lipgloss.RoundedBorder()).
		StyleFunc(func(row, col int) lipgloss.Style {
			if row < 0 {
				return headerStyle
			}
			return cellStyle
		})

	if len(metrics) == 0 {
		metrics = points.MetricsNames()
	}
	table.Headers(append([]string{"Epoch"}, metrics...)...)
	for _, step := range slices.Sorted(maps.Keys(points)) {
		row := make([]string, 1+len(metrics))
		row[0] = fmt.Sprintf("%.0f", step)
		for _, pt := range points[step] {
			if idx := slices.Index(metrics, pt.MetricName); idx != -1 {
				row[idx+1] = fmt.Sprintf("%f", pt.Value)
			}
		}
		table.Row(row...)
	}
	return table.String()
}

func (points Points) String() string {
	return points.TableForMetrics()
}
