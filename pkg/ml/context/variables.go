// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

package context

import (
	"fmt"

	"github.com/pkg/errors"
	"gonum.org/v1/gonum/mat"
)

// VariableInitializer builds the initial value of a variable with the given shape.
type VariableInitializer func(rows, cols int) *mat.Dense

func zeroInitializer(rows, cols int) *mat.Dense {
	return mat.NewDense(rows, cols, nil)
}

// Variable is a value shared by all components of a model that reference it, typically a weight
// matrix or a bias vector. It's defined in a scope in a Context, and there is only one Variable
// object per (scope, name): every component holding it reads and writes the same value.
//
// Vectors (e.g. biases) are stored as 1×n matrices.
type Variable struct {
	ctx         *Context
	name, scope string
	rows, cols  int

	// Trainable indicates whether the variable is trainable.
	// If set to false, it won't be touched by optimizers.
	Trainable bool

	value *mat.Dense
}

// Name of the variable within the scope.
func (v *Variable) Name() string {
	if v == nil {
		return "<nil>"
	}
	return v.name
}

// Scope where the variable was created.
func (v *Variable) Scope() string {
	if v == nil {
		return "<nil>"
	}
	return v.scope
}

// String implements fmt.Stringer.
func (v *Variable) String() string {
	if v == nil {
		return "INVALID (NIL) VARIABLE"
	}
	return fmt.Sprintf("%s[%d, %d]", JoinScope(v.scope, v.name), v.rows, v.cols)
}

// Shape returns the dimensions of the variable.
func (v *Variable) Shape() (rows, cols int) {
	return v.rows, v.cols
}

// NumParameters returns the number of scalar values held by the variable.
func (v *Variable) NumParameters() int {
	return v.rows * v.cols
}

// Value returns the current value. It is not a copy: changes to the returned matrix change the variable.
func (v *Variable) Value() *mat.Dense {
	return v.value
}

// SetValue copies the given value into the variable. The shape must match.
func (v *Variable) SetValue(value mat.Matrix) error {
	rows, cols := value.Dims()
	if rows != v.rows || cols != v.cols {
		return errors.Errorf("variable %s: cannot set value shaped [%d, %d]", v, rows, cols)
	}
	v.value.Copy(value)
	return nil
}

// SetTrainable sets the variable trainable status. It returns itself, to allow cascaded calls.
func (v *Variable) SetTrainable(trainable bool) *Variable {
	v.Trainable = trainable
	return v
}
