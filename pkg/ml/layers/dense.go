// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

// Package layers holds the building blocks of the stacked network. Dense is the encoding layer,
// the one whose weights are shared with the layer autoencoder during pretraining.
//
// Layers own no parameters directly: they are stored as variables in a context.Context, in the scope
// given at construction, so other components can get the same objects with Context.Reuse().
package layers

import (
	"github.com/gomlx/csdnn/pkg/core/numeric"
	"github.com/gomlx/csdnn/pkg/ml/context"
	"github.com/gomlx/csdnn/pkg/ml/context/initializers"
	"github.com/gomlx/csdnn/pkg/ml/layers/activations"
	"github.com/gomlx/exceptions"
	"gonum.org/v1/gonum/mat"
)

const (
	// WeightsName is the name of the weights variable of the layers, in their scope.
	WeightsName = "weights"

	// BiasesName is the name of the biases variable of the layers, in their scope.
	BiasesName = "biases"
)

// Dense is a fully connected layer: `y = f(x·W + b)`, with x shaped [batchSize, inputDim].
type Dense struct {
	ctx                 *context.Context
	inputDim, outputDim int
	activation          activations.Type
	weights, biases     *context.Variable
}

// NewDense creates the "weights" ([inputDim, outputDim]) and "biases" ([1, outputDim]) variables in the
// current scope of ctx. Weights use the context initializer, and biases are initialized with zero.
//
// If the variables already exist (and ctx allows reuse), the existing ones are used.
func NewDense(ctx *context.Context, inputDim, outputDim int, activation activations.Type) *Dense {
	if inputDim <= 0 || outputDim <= 0 {
		exceptions.Panicf("layers.NewDense(scope=%q): invalid dimensions input=%d, output=%d", ctx.Scope(), inputDim, outputDim)
	}
	return &Dense{
		ctx:        ctx,
		inputDim:   inputDim,
		outputDim:  outputDim,
		activation: activation,
		weights:    ctx.VariableWithShape(WeightsName, inputDim, outputDim),
		biases:     ctx.WithInitializer(initializers.Zero).VariableWithShape(BiasesName, 1, outputDim),
	}
}

// Context where the layer variables live.
func (d *Dense) Context() *context.Context { return d.ctx }

// Weights variable, shaped [inputDim, outputDim].
func (d *Dense) Weights() *context.Variable { return d.weights }

// Biases variable, shaped [1, outputDim].
func (d *Dense) Biases() *context.Variable { return d.biases }

// InputDim is the width of the expected input.
func (d *Dense) InputDim() int { return d.inputDim }

// OutputDim is the number of units of the layer.
func (d *Dense) OutputDim() int { return d.outputDim }

// Activation used by the layer.
func (d *Dense) Activation() activations.Type { return d.activation }

// Forward returns `f(x·W + b)` as a new matrix. Parameters are not changed.
func (d *Dense) Forward(x mat.Matrix) *mat.Dense {
	rows, cols := x.Dims()
	if cols != d.inputDim {
		exceptions.Panicf("layer %q expects inputs with %d features, got %d", d.ctx.Scope(), d.inputDim, cols)
	}
	y := mat.NewDense(rows, d.outputDim, nil)
	y.Mul(x, d.weights.Value())
	numeric.AddRowVector(y, d.biases.Value())
	return activations.Apply(d.activation, y)
}

// Backward takes the input x, the output y (as returned by Forward) and the gradient of the loss with
// respect to y, and returns the gradients with respect to x, W and b.
func (d *Dense) Backward(x, y, dy mat.Matrix) (dx, dW, db *mat.Dense) {
	dz := activations.Derivative(d.activation, y)
	dz.MulElem(dz, dy)
	dW = mat.NewDense(d.inputDim, d.outputDim, nil)
	dW.Mul(x.T(), dz)
	db = numeric.ColumnSums(dz)
	rows, _ := x.Dims()
	dx = mat.NewDense(rows, d.inputDim, nil)
	dx.Mul(dz, d.weights.Value().T())
	return
}
