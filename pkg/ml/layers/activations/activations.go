// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

// Package activations implements the nonlinearities used by the encoding layers, and their
// derivatives.
//
// All operations work in place over batches (*mat.Dense, one example per row), and derivatives are
// expressed in terms of the activation output y = f(x), which is what the layers keep around for
// backpropagation.
package activations

import (
	"fmt"
	"math"
	"slices"
	"strings"

	"github.com/gomlx/csdnn/pkg/core/numeric"
	"github.com/gomlx/csdnn/pkg/ml/context"
	"github.com/gomlx/exceptions"
	"github.com/pkg/errors"
	"gonum.org/v1/gonum/mat"
)

const (
	// ParamActivation context hyperparameter defines the activation to use, read by FromContext.
	// Available values are: `none`, `sigmoid`, `tanh`, `relu`.
	// Default is `sigmoid`.
	ParamActivation = "activation"
)

// Type is an enum for the supported activation functions.
type Type int

const (
	TypeNone Type = iota
	TypeSigmoid
	TypeTanh
	TypeRelu
)

var typeNames = []string{"none", "sigmoid", "tanh", "relu"}

// String implements fmt.Stringer.
func (t Type) String() string {
	if t < 0 || int(t) >= len(typeNames) {
		return fmt.Sprintf("Type(%d)", int(t))
	}
	return typeNames[t]
}

// TypeValues returns all valid activation types.
func TypeValues() []Type {
	return []Type{TypeNone, TypeSigmoid, TypeTanh, TypeRelu}
}

// TypeString returns the Type for the given name, or an error if it's not a known activation.
func TypeString(name string) (Type, error) {
	idx := slices.Index(typeNames, strings.ToLower(name))
	if idx < 0 {
		return TypeNone, errors.Errorf("%q is not a valid activation, options are %v", name, typeNames)
	}
	return Type(idx), nil
}

// FromName converts the name of an activation to its type. It panics if the name is invalid.
// An empty name is converted to TypeNone.
func FromName(activationName string) Type {
	if activationName == "" {
		return TypeNone
	}
	activation, err := TypeString(activationName)
	if err != nil {
		exceptions.Panicf("invalid activation name %q: options are %v", activationName, TypeValues())
	}
	return activation
}

// FromContext returns the activation configured in the context, with ParamActivation.
func FromContext(ctx *context.Context) Type {
	return FromName(context.GetParamOr(ctx, ParamActivation, "sigmoid"))
}

// Apply the activation in place, and returns x for convenience.
func Apply(activation Type, x *mat.Dense) *mat.Dense {
	var fn func(float64) float64
	switch activation {
	case TypeNone:
		return x
	case TypeSigmoid:
		fn = numeric.Sigmoid
	case TypeTanh:
		fn = math.Tanh
	case TypeRelu:
		fn = func(v float64) float64 { return max(v, 0) }
	default:
		exceptions.Panicf("Apply got invalid activation value %d: options are %v", activation, TypeValues())
	}
	x.Apply(func(_, _ int, v float64) float64 { return fn(v) }, x)
	return x
}

// Derivative returns a new matrix with f'(x), computed from the activation output y = f(x).
func Derivative(activation Type, y mat.Matrix) *mat.Dense {
	rows, cols := y.Dims()
	d := mat.NewDense(rows, cols, nil)
	var fn func(float64) float64
	switch activation {
	case TypeNone:
		fn = func(float64) float64 { return 1 }
	case TypeSigmoid:
		fn = func(v float64) float64 { return v * (1 - v) }
	case TypeTanh:
		fn = func(v float64) float64 { return 1 - v*v }
	case TypeRelu:
		fn = func(v float64) float64 {
			if v > 0 {
				return 1
			}
			return 0
		}
	default:
		exceptions.Panicf("Derivative got invalid activation value %d: options are %v", activation, TypeValues())
	}
	d.Apply(func(_, _ int, v float64) float64 { return fn(v) }, y)
	return d
}
