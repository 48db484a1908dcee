// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

// Package metrics holds the metrics used to evaluate the cost-sensitive classifier, and their
// descriptions for reports and plots.
package metrics

import (
	"fmt"

	"github.com/gomlx/exceptions"
	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/mat"
)

// Interface for a Metric description.
type Interface interface {
	// Name of the metric.
	Name() string

	// ShortName is a shortened version of the name (preferably a few characters) to display in progress bars or
	// similar UIs.
	ShortName() string

	// MetricType is a key for metrics that share the same quantity or semantics. Eg.:
	// "Train Cost" and "Test Cost" would both have the same "cost" metric type, and for
	// instance, can be displayed on the same plot, sharing the Y-axis.
	MetricType() string

	// PrettyPrint is used to pretty-print a metric value, usually in a short form.
	PrettyPrint(value float64) string
}

// PrettyPrintFn is a function to convert a metric value to a string.
type PrettyPrintFn func(value float64) string

// baseMetric implements Interface.
type baseMetric struct {
	name, shortName, metricType string
	pPrintFn                    PrettyPrintFn // if nil will display default.
}

// New creates a metric description. prettyPrintFn can be nil, in which case values are printed with "%.3g".
func New(name, shortName, metricType string, prettyPrintFn PrettyPrintFn) Interface {
	return &baseMetric{name: name, shortName: shortName, metricType: metricType, pPrintFn: prettyPrintFn}
}

func (m *baseMetric) Name() string       { return m.name }
func (m *baseMetric) ShortName() string  { return m.shortName }
func (m *baseMetric) MetricType() string { return m.metricType }

func (m *baseMetric) PrettyPrint(value float64) string {
	if m.pPrintFn == nil {
		return fmt.Sprintf("%.3g", value)
	}
	return m.pPrintFn(value)
}

// Metric types.
const (
	LossType  = "loss"
	ErrorType = "error"
	CostType  = "cost"
)

func percentPPrint(value float64) string {
	return fmt.Sprintf("%.2f%%", 100*value)
}

var (
	TrainLoss  = New("Train Loss", "loss", LossType, nil)
	TrainError = New("Train Error", "~err", ErrorType, percentPPrint)
	TestError  = New("Test Error", "err", ErrorType, percentPPrint)
	TrainCost  = New("Train Cost", "~cost", CostType, nil)
	TestCost   = New("Test Cost", "cost", CostType, nil)
)

// ErrorRate returns the fraction of predictions that differ from the labels.
// It returns NaN for empty inputs, and panics if the lengths differ.
func ErrorRate(labels, predictions []int) float64 {
	if len(labels) != len(predictions) {
		exceptions.Panicf("metrics.ErrorRate: %d labels but %d predictions", len(labels), len(predictions))
	}
	var wrong int
	for ii, label := range labels {
		if predictions[ii] != label {
			wrong++
		}
	}
	return float64(wrong) / float64(len(labels))
}

// MeanCost returns the mean of the costs incurred by the predictions: `mean_n costs[n, predictions[n]]`.
// It returns NaN for empty inputs, and panics if the number of rows and predictions differ.
func MeanCost(costs mat.Matrix, predictions []int) float64 {
	rows, cols := costs.Dims()
	if rows != len(predictions) {
		exceptions.Panicf("metrics.MeanCost: %d cost rows but %d predictions", rows, len(predictions))
	}
	incurred := make([]float64, len(predictions))
	for ii, pred := range predictions {
		if pred < 0 || pred >= cols {
			exceptions.Panicf("metrics.MeanCost: prediction %d for example #%d out of range [0, %d)", pred, ii, cols)
		}
		incurred[ii] = costs.At(ii, pred)
	}
	return floats.Sum(incurred) / float64(len(predictions))
}
