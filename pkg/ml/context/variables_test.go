// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

package context

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gonum.org/v1/gonum/mat"
)

func TestVariable(t *testing.T) {
	ctx := New().In("layer_0")
	v := ctx.WithInitializer(func(rows, cols int) *mat.Dense {
		m := mat.NewDense(rows, cols, nil)
		m.Apply(func(i, j int, _ float64) float64 { return float64(i*cols + j) }, m)
		return m
	}).VariableWithShape("weights", 2, 3)
	rows, cols := v.Shape()
	assert.Equal(t, 2, rows)
	assert.Equal(t, 3, cols)
	assert.Equal(t, 5.0, v.Value().At(1, 2))
	assert.Equal(t, 6, v.NumParameters())
	assert.True(t, v.Trainable)
	assert.False(t, v.SetTrainable(false).Trainable)
	assert.Equal(t, "/layer_0", v.Scope())
	assert.Equal(t, "weights", v.Name())

	var nilVar *Variable
	assert.Equal(t, "INVALID (NIL) VARIABLE", nilVar.String())

	// Initializer returning the wrong shape.
	require.Panics(t, func() {
		ctx.WithInitializer(func(_, _ int) *mat.Dense { return mat.NewDense(1, 1, nil) }).
			VariableWithShape("bad", 2, 2)
	})
	require.Panics(t, func() { ctx.VariableWithShape("empty", 0, 2) })
}

func TestParentScope(t *testing.T) {
	assert.Equal(t, RootScope, parentScope("/a"))
	assert.Equal(t, "/a", parentScope("/a/b"))
	assert.Equal(t, RootScope, parentScope(RootScope))
}
