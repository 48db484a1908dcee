// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

// Package costsensitive implements the cost-sensitive output layer: a one-sided regression of the cost of
// predicting each class, given the top hidden representation h.
//
// The layer estimates r = h·U + u ([batchSize, numClasses]) and predicts the class with the lowest estimated
// cost. It is trained with the smooth one-sided loss
//
//	loss = mean_n Σ_k softplus(Z[n,k] · (r[n,k] - c[n,k]))
//
// where Z is the target matrix (see TargetMatrix): +1 at the label column, so the estimated cost of the true
// class is pushed down below its cost, and -1 elsewhere, so the other estimates are pushed above theirs.
package costsensitive

import (
	"github.com/gomlx/csdnn/pkg/core/numeric"
	"github.com/gomlx/csdnn/pkg/ml/context"
	"github.com/gomlx/csdnn/pkg/ml/context/initializers"
	"github.com/gomlx/csdnn/pkg/ml/layers"
	"github.com/gomlx/csdnn/pkg/ml/train/metrics"
	"github.com/gomlx/exceptions"
	"gonum.org/v1/gonum/mat"
)

// Regressor is the one-sided regression output layer.
type Regressor struct {
	ctx                  *context.Context
	inputDim, numClasses int
	weights, biases      *context.Variable
}

// New creates the output layer variables "weights" ([inputDim, numClasses]) and "biases" ([1, numClasses]) in the
// current scope of ctx. Both are initialized with zero.
func New(ctx *context.Context, inputDim, numClasses int) *Regressor {
	if inputDim <= 0 || numClasses <= 0 {
		exceptions.Panicf("costsensitive.New(scope=%q): invalid dimensions input=%d, classes=%d",
			ctx.Scope(), inputDim, numClasses)
	}
	ctx = ctx.WithInitializer(initializers.Zero)
	return &Regressor{
		ctx:        ctx,
		inputDim:   inputDim,
		numClasses: numClasses,
		weights:    ctx.VariableWithShape(layers.WeightsName, inputDim, numClasses),
		biases:     ctx.VariableWithShape(layers.BiasesName, 1, numClasses),
	}
}

// Weights variable U, shaped [inputDim, numClasses].
func (r *Regressor) Weights() *context.Variable { return r.weights }

// Biases variable u, shaped [1, numClasses].
func (r *Regressor) Biases() *context.Variable { return r.biases }

// InputDim is the width of the expected hidden representation.
func (r *Regressor) InputDim() int { return r.inputDim }

// NumClasses is the number of classes K.
func (r *Regressor) NumClasses() int { return r.numClasses }

// Scores returns the estimated costs r = h·U + u, shaped [batchSize, numClasses].
func (r *Regressor) Scores(h mat.Matrix) *mat.Dense {
	rows, cols := h.Dims()
	if cols != r.inputDim {
		exceptions.Panicf("output layer %q expects inputs with %d features, got %d", r.ctx.Scope(), r.inputDim, cols)
	}
	scores := mat.NewDense(rows, r.numClasses, nil)
	scores.Mul(h, r.weights.Value())
	numeric.AddRowVector(scores, r.biases.Value())
	return scores
}

// Predict returns, for each row of h, the class with the lowest estimated cost. Ties go to the lowest class index.
func (r *Regressor) Predict(h mat.Matrix) []int {
	return numeric.ArgMinRows(r.Scores(h))
}

// Loss returns the mean one-sided loss over the batch, and its gradients with respect to h, U and u.
// costs ([batchSize, numClasses]) are the per-example costs, and z the target matrix of the batch.
// It doesn't change any parameter.
func (r *Regressor) Loss(h, costs, z mat.Matrix) (loss float64, dh, dU, du *mat.Dense) {
	scores := r.Scores(h)
	rows, _ := scores.Dims()
	if !numeric.SameShape(scores, costs) || !numeric.SameShape(scores, z) {
		cRows, cCols := costs.Dims()
		zRows, zCols := z.Dims()
		exceptions.Panicf("output layer %q: scores shaped [%d, %d], but costs shaped [%d, %d] and targets [%d, %d]",
			r.ctx.Scope(), rows, r.numClasses, cRows, cCols, zRows, zCols)
	}
	invN := 1.0 / float64(rows)
	dr := mat.NewDense(rows, r.numClasses, nil)
	var sum float64
	dr.Apply(func(i, j int, score float64) float64 {
		zij := z.At(i, j)
		margin := zij * (score - costs.At(i, j))
		sum += numeric.Softplus(margin)
		return zij * numeric.Sigmoid(margin) * invN
	}, scores)
	loss = sum * invN

	_, hCols := h.Dims()
	dU = mat.NewDense(hCols, r.numClasses, nil)
	dU.Mul(h.T(), dr)
	du = numeric.ColumnSums(dr)
	dh = mat.NewDense(rows, hCols, nil)
	dh.Mul(dr, r.weights.Value().T())
	return
}

// ErrorRate returns the fraction of examples whose prediction differs from the label.
func (r *Regressor) ErrorRate(h mat.Matrix, labels []int) float64 {
	return metrics.ErrorRate(labels, r.Predict(h))
}

// Cost returns the mean cost incurred by the predictions: mean_n costs[n, prediction_n].
func (r *Regressor) Cost(h, costs mat.Matrix) float64 {
	return metrics.MeanCost(costs, r.Predict(h))
}

// Evaluate returns both ErrorRate and Cost, computing the predictions only once.
func (r *Regressor) Evaluate(h, costs mat.Matrix, labels []int) (errorRate, cost float64) {
	predictions := r.Predict(h)
	return metrics.ErrorRate(labels, predictions), metrics.MeanCost(costs, predictions)
}

// TargetMatrix returns Z, shaped [len(labels), numClasses]: -1 everywhere except Z[n, labels[n]] = +1.
// It panics if a label is out of range.
func TargetMatrix(labels []int, numClasses int) *mat.Dense {
	if len(labels) == 0 || numClasses <= 0 {
		exceptions.Panicf("costsensitive.TargetMatrix: invalid dimensions, %d labels and %d classes", len(labels), numClasses)
	}
	z := mat.NewDense(len(labels), numClasses, nil)
	for ii, label := range labels {
		if label < 0 || label >= numClasses {
			exceptions.Panicf("costsensitive.TargetMatrix: label %d of example #%d out of range [0, %d)",
				label, ii, numClasses)
		}
		row := z.RawRowView(ii)
		for k := range row {
			row[k] = -1
		}
		row[label] = 1
	}
	return z
}
