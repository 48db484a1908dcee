// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

// Package costmatrix builds class-level cost matrices C ([K, K], C[y, k] is the cost of predicting class k
// when the true class is y) and expands them into per-example cost vectors.
package costmatrix

import (
	"math"
	"math/rand/v2"
	"slices"
	"strings"

	"github.com/gomlx/exceptions"
	"github.com/pkg/errors"
	"gonum.org/v1/gonum/mat"
	"gonum.org/v1/gonum/stat/distuv"
)

const (
	// ParamCostMatrix is the context hyperparameter with the kind of cost matrix to build: "general",
	// "uniform" or "absolute". Default is "general".
	ParamCostMatrix = "cost_matrix"

	// ParamScale is the context hyperparameter with the scale of the "general" cost matrix. Default is 2000.
	ParamScale = "cost_matrix_scale"

	// DefaultScale of the general cost matrix.
	DefaultScale = 2000.0
)

// Counts returns the number of examples of each class. It panics if a label is out of range.
func Counts(labels []int, numClasses int) []int {
	counts := make([]int, numClasses)
	for ii, label := range labels {
		if label < 0 || label >= numClasses {
			exceptions.Panicf("costmatrix.Counts: label %d of example #%d out of range [0, %d)", label, ii, numClasses)
		}
		counts[label]++
	}
	return counts
}

// General returns a random cost matrix where C[y, k] is drawn uniformly from [0, scale·n_k/n_y], with n_c the
// number of examples of class c in labels, and C[y, y] = 0. So mistaking a rare class for a frequent one is
// expensive.
//
// Classes absent from labels are counted as if they had one example.
func General(rng *rand.Rand, labels []int, numClasses int, scale float64) *mat.Dense {
	counts := Counts(labels, numClasses)
	costs := mat.NewDense(numClasses, numClasses, nil)
	for y := range numClasses {
		nY := float64(max(counts[y], 1))
		for k := range numClasses {
			if k == y {
				continue
			}
			upper := scale * float64(counts[k]) / nY
			if upper <= 0 {
				continue
			}
			costs.Set(y, k, distuv.Uniform{Min: 0, Max: upper, Src: rng}.Rand())
		}
	}
	return costs
}

// Uniform returns the 0/1 cost matrix: the cost-sensitive problem reduces to regular classification.
func Uniform(numClasses int) *mat.Dense {
	costs := mat.NewDense(numClasses, numClasses, nil)
	costs.Apply(func(y, k int, _ float64) float64 {
		if y == k {
			return 0
		}
		return 1
	}, costs)
	return costs
}

// Absolute returns the cost matrix C[y, k] = |y - k|, for ordinal classes.
func Absolute(numClasses int) *mat.Dense {
	costs := mat.NewDense(numClasses, numClasses, nil)
	costs.Apply(func(y, k int, _ float64) float64 {
		return math.Abs(float64(y - k))
	}, costs)
	return costs
}

var kindNames = []string{"general", "uniform", "absolute"}

// FromName builds the cost matrix of the given kind ("general", "uniform" or "absolute"). rng, labels
// and scale are only used by "general".
func FromName(kind string, rng *rand.Rand, labels []int, numClasses int, scale float64) (*mat.Dense, error) {
	if numClasses <= 0 {
		return nil, errors.Errorf("invalid number of classes %d", numClasses)
	}
	switch strings.ToLower(kind) {
	case "general":
		var costs *mat.Dense
		err := exceptions.TryCatch[error](func() { costs = General(rng, labels, numClasses, scale) })
		return costs, err
	case "uniform":
		return Uniform(numClasses), nil
	case "absolute":
		return Absolute(numClasses), nil
	}
	return nil, errors.Errorf("unknown cost matrix kind %q, valid values are %q", kind, slices.Clone(kindNames))
}

// ClassToExample expands the class cost matrix into per-example cost vectors: row n of the result
// is costs[labels[n], :].
func ClassToExample(labels []int, costs *mat.Dense) *mat.Dense {
	numClasses, cols := costs.Dims()
	if len(labels) == 0 {
		exceptions.Panicf("costmatrix.ClassToExample: no labels given")
	}
	perExample := mat.NewDense(len(labels), cols, nil)
	for ii, label := range labels {
		if label < 0 || label >= numClasses {
			exceptions.Panicf("costmatrix.ClassToExample: label %d of example #%d out of range [0, %d)", label, ii, numClasses)
		}
		perExample.SetRow(ii, costs.RawRowView(label))
	}
	return perExample
}
