// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

// Package optimizers implements the parameter update rules used by training.
package optimizers

import (
	"maps"
	"slices"

	"github.com/gomlx/csdnn/pkg/core/numeric"
	"github.com/gomlx/csdnn/pkg/ml/context"
	"github.com/pkg/errors"
	"gonum.org/v1/gonum/mat"
)

// Interface implemented by optimizer implementations.
type Interface interface {
	// Update applies one training step to params, given the gradients of the loss with respect to each of
	// them, in the same order. Variables not marked as Trainable are left untouched.
	//
	// The update is done in place: every component sharing the variables sees the new values.
	Update(params []*context.Variable, grads []*mat.Dense) error
}

var (
	// KnownOptimizers is a map of known optimizers by name to their constructors, given the learning rate.
	KnownOptimizers = map[string]func(learningRate float64) Interface{
		"sgd": func(learningRate float64) Interface { return StochasticGradientDescent(learningRate) },
	}

	// ParamOptimizer is the context parameter with the name of the optimizer.
	// The default value is "sgd".
	ParamOptimizer = "optimizer"

	// ParamLearningRate is the context parameter name for the default value of learning rate.
	ParamLearningRate = "learning_rate"
)

// SGDDefaultLearningRate is the default learning rate used by FromContext.
const SGDDefaultLearningRate = 0.1

// ByName returns an optimizer given its name and learning rate.
// See KnownOptimizers for valid names.
func ByName(optName string, learningRate float64) (Interface, error) {
	optBuilder, found := KnownOptimizers[optName]
	if !found {
		names := slices.Sorted(maps.Keys(KnownOptimizers))
		return nil, errors.Errorf("unknown optimizer %q, valid values are %q", optName, names)
	}
	return optBuilder(learningRate), nil
}

// FromContext creates an optimizer from context hyperparameters ParamOptimizer and ParamLearningRate.
func FromContext(ctx *context.Context) (Interface, error) {
	optName := context.GetParamOr(ctx, ParamOptimizer, "sgd")
	learningRate := context.GetParamOr(ctx, ParamLearningRate, SGDDefaultLearningRate)
	return ByName(optName, learningRate)
}

// SGD implements the plain Stochastic Gradient Descent step `p ← p - learningRate·g`, with a constant
// learning rate.
type SGD struct {
	LearningRate float64
}

// StochasticGradientDescent creates an optimizer that performs SGD with the given learning rate.
func StochasticGradientDescent(learningRate float64) *SGD {
	return &SGD{LearningRate: learningRate}
}

// Update implements Interface.
//
// Shapes are checked for all variables before any of them is changed.
func (sgd *SGD) Update(params []*context.Variable, grads []*mat.Dense) error {
	if len(params) != len(grads) {
		return errors.Errorf("SGD.Update: got %d parameters but %d gradients", len(params), len(grads))
	}
	for ii, v := range params {
		rows, cols := v.Shape()
		gRows, gCols := grads[ii].Dims()
		if rows != gRows || cols != gCols {
			return errors.Errorf("SGD.Update: gradient #%d for %s is shaped [%d, %d]", ii, v, gRows, gCols)
		}
	}
	for ii, v := range params {
		if !v.Trainable {
			continue
		}
		value := v.Value()
		value.Apply(func(i, j int, p float64) float64 {
			return p - sgd.LearningRate*grads[ii].At(i, j)
		}, value)
	}
	return nil
}

// ApplyGradients is a shortcut to Update with a single pair of variable and gradient.
func ApplyGradients(opt Interface, v *context.Variable, grad *mat.Dense) error {
	return opt.Update([]*context.Variable{v}, []*mat.Dense{grad})
}

// HasNaNOrInf returns whether any of the gradients is not finite.
func HasNaNOrInf(grads []*mat.Dense) bool {
	return slices.ContainsFunc(grads, func(g *mat.Dense) bool { return numeric.HasNaNOrInf(g) })
}
