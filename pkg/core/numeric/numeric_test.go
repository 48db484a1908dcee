// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

package numeric

import (
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gonum.org/v1/gonum/mat"
)

func TestSigmoidAndSoftplus(t *testing.T) {
	assert.InDelta(t, 0.5, Sigmoid(0), 1e-12)
	assert.InDelta(t, 1.0, Sigmoid(800), 1e-12)
	assert.InDelta(t, 0.0, Sigmoid(-800), 1e-12)
	assert.False(t, math.IsNaN(Sigmoid(-800)))

	assert.InDelta(t, math.Log(2), Softplus(0), 1e-12)
	assert.InDelta(t, 800.0, Softplus(800), 1e-9)
	assert.InDelta(t, 0.0, Softplus(-800), 1e-12)
}

func TestRowHelpers(t *testing.T) {
	m := mat.NewDense(3, 2, []float64{
		1, 2,
		3, 4,
		5, 6,
	})
	AddRowVector(m, mat.NewDense(1, 2, []float64{10, 20}))
	assert.Equal(t, []float64{11, 22}, m.RawRowView(0))
	assert.Equal(t, []float64{15, 26}, m.RawRowView(2))

	sums := ColumnSums(m)
	assert.Equal(t, []float64{11 + 13 + 15, 22 + 24 + 26}, sums.RawRowView(0))

	// RowsView shares storage.
	view := RowsView(m, 1, 3)
	r, c := view.Dims()
	require.Equal(t, 2, r)
	require.Equal(t, 2, c)
	view.Set(0, 0, -1)
	assert.Equal(t, -1.0, m.At(1, 0))

	// GatherRows copies.
	gathered := GatherRows(m, []int{2, 0})
	assert.Equal(t, []float64{15, 26}, gathered.RawRowView(0))
	gathered.Set(1, 0, 1000)
	assert.Equal(t, 11.0, m.At(0, 0))

	require.Panics(t, func() { AddRowVector(m, mat.NewDense(1, 3, nil)) })
}

func TestArgMin(t *testing.T) {
	assert.Equal(t, -1, ArgMin([]float64{}))
	assert.Equal(t, 1, ArgMin([]float64{3, -1, 2}))
	assert.Equal(t, 0, ArgMin([]int{1, 1, 1}), "ties resolve to the lowest index")

	m := mat.NewDense(2, 3, []float64{
		0.5, 0.1, 0.9,
		-2, 3, -2,
	})
	assert.Equal(t, []int{1, 0}, ArgMinRows(m))
}

func TestHasNaNOrInf(t *testing.T) {
	m := mat.NewDense(2, 2, []float64{1, 2, 3, 4})
	assert.False(t, HasNaNOrInf(m))
	m.Set(1, 1, math.NaN())
	assert.True(t, HasNaNOrInf(m))
	m.Set(1, 1, math.Inf(-1))
	assert.True(t, HasNaNOrInf(m))
	assert.True(t, SameShape(m, mat.NewDense(2, 2, nil)))
	assert.False(t, SameShape(m, mat.NewDense(1, 2, nil)))
}
