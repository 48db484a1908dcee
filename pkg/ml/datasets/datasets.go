// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

// Package datasets defines Set, the in-memory training or test set used by the cost-sensitive network,
// and its sub-packages hold loaders (mnist, tabular) and cost matrix builders (costmatrix).
package datasets

import (
	"fmt"

	"github.com/gomlx/csdnn/pkg/core/numeric"
	"github.com/gomlx/csdnn/pkg/ml/train"
	"github.com/pkg/errors"
	"gonum.org/v1/gonum/mat"
)

// ErrShapeMismatch is returned (wrapped) when the components of a Set, or a Set and a model, don't agree
// on their dimensions.
var ErrShapeMismatch = errors.New("shape mismatch")

// Set holds N examples: one per row of Features ([N, D]), with its class label in Labels ([N])
// and its cost vector in Costs ([N, K]). Costs[n, k] is the cost of predicting class k for example n.
type Set struct {
	Features *mat.Dense
	Labels   []int
	Costs    *mat.Dense
}

// NumExamples returns the number of examples N.
func (s Set) NumExamples() int {
	return len(s.Labels)
}

// NumFeatures returns the width D of the features.
func (s Set) NumFeatures() int {
	if s.Features == nil {
		return 0
	}
	_, cols := s.Features.Dims()
	return cols
}

// NumClasses returns the number of classes K, given by the width of the costs.
func (s Set) NumClasses() int {
	if s.Costs == nil {
		return 0
	}
	_, cols := s.Costs.Dims()
	return cols
}

// String implements fmt.Stringer.
func (s Set) String() string {
	return fmt.Sprintf("Set{examples=%d, features=%d, classes=%d}", s.NumExamples(), s.NumFeatures(), s.NumClasses())
}

// Validate checks that features, labels and costs have the same number of rows, that the costs
// have numClasses columns, and that every label is in [0, numClasses).
// Errors wrap ErrShapeMismatch.
func (s Set) Validate(numClasses int) error {
	if s.Features == nil || s.Costs == nil {
		return errors.Wrap(ErrShapeMismatch, "set is missing features or costs")
	}
	numExamples := s.NumExamples()
	if rows, _ := s.Features.Dims(); rows != numExamples {
		return errors.Wrapf(ErrShapeMismatch, "set has %d rows of features but %d labels", rows, numExamples)
	}
	if rows, _ := s.Costs.Dims(); rows != numExamples {
		return errors.Wrapf(ErrShapeMismatch, "set has %d rows of costs but %d labels", rows, numExamples)
	}
	if s.NumClasses() != numClasses {
		return errors.Wrapf(ErrShapeMismatch, "set has costs for %d classes, expected %d", s.NumClasses(), numClasses)
	}
	for ii, label := range s.Labels {
		if label < 0 || label >= numClasses {
			return errors.Wrapf(ErrShapeMismatch, "label %d of example #%d out of range [0, %d)", label, ii, numClasses)
		}
	}
	return nil
}

// Batch returns the examples of the given batch. For contiguous batches the features and costs are views
// sharing the storage of the set; padded batches get gathered copies.
func (s Set) Batch(batch train.Batch) Set {
	if batch.IsContiguous() {
		return Set{
			Features: numeric.RowsView(s.Features, batch.Start, batch.End),
			Labels:   s.Labels[batch.Start:batch.End],
			Costs:    numeric.RowsView(s.Costs, batch.Start, batch.End),
		}
	}
	indices := batch.Indices()
	labels := make([]int, len(indices))
	for ii, idx := range indices {
		labels[ii] = s.Labels[idx]
	}
	return Set{
		Features: numeric.GatherRows(s.Features, indices),
		Labels:   labels,
		Costs:    numeric.GatherRows(s.Costs, indices),
	}
}

// WithFeatures returns a copy of the set with the features replaced. Labels and costs are shared.
func (s Set) WithFeatures(features *mat.Dense) Set {
	s.Features = features
	return s
}
