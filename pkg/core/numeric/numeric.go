// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

// Package numeric holds the small set of batched matrix operations the CSDNN layers are built on.
//
// All matrices are *mat.Dense with examples on the rows. Biases and other per-column vectors
// are stored as 1×c matrices, so they can be used directly as variables.
package numeric

import (
	"math"

	"github.com/gomlx/exceptions"
	"golang.org/x/exp/constraints"
	"gonum.org/v1/gonum/mat"
)

// Sigmoid returns 1/(1+exp(-x)).
func Sigmoid(x float64) float64 {
	if x >= 0 {
		return 1.0 / (1.0 + math.Exp(-x))
	}
	// Symmetric form avoids overflow of exp(-x) for large negative x.
	e := math.Exp(x)
	return e / (1.0 + e)
}

// Softplus returns log(1+exp(x)), computed in a numerically stable way.
func Softplus(x float64) float64 {
	return math.Max(x, 0) + math.Log1p(math.Exp(-math.Abs(x)))
}

// Clone returns a deep copy of m.
func Clone(m mat.Matrix) *mat.Dense {
	return mat.DenseCopyOf(m)
}

// AddRowVector adds the row vector v (shaped 1×c) to every row of m, in place.
func AddRowVector(m *mat.Dense, v *mat.Dense) {
	rows, cols := m.Dims()
	vRows, vCols := v.Dims()
	if vRows != 1 || vCols != cols {
		exceptions.Panicf("AddRowVector: row vector shaped [%d, %d] doesn't match matrix shaped [%d, %d]",
			vRows, vCols, rows, cols)
	}
	vRaw := v.RawRowView(0)
	for row := range rows {
		values := m.RawRowView(row)
		for col, x := range vRaw {
			values[col] += x
		}
	}
}

// ColumnSums returns the sum of the rows of m, as a 1×c matrix.
func ColumnSums(m mat.Matrix) *mat.Dense {
	rows, cols := m.Dims()
	sums := mat.NewDense(1, cols, nil)
	raw := sums.RawRowView(0)
	for row := range rows {
		for col := range cols {
			raw[col] += m.At(row, col)
		}
	}
	return sums
}

// RowsView returns the rows [start, end) of m as a view: it shares the storage with m.
func RowsView(m *mat.Dense, start, end int) *mat.Dense {
	_, cols := m.Dims()
	return m.Slice(start, end, 0, cols).(*mat.Dense)
}

// GatherRows returns a new matrix with the given rows of m, in the order given.
func GatherRows(m *mat.Dense, rows []int) *mat.Dense {
	_, cols := m.Dims()
	out := mat.NewDense(len(rows), cols, nil)
	for ii, row := range rows {
		out.SetRow(ii, m.RawRowView(row))
	}
	return out
}

// ArgMin returns the index of the smallest value. Ties are resolved to the lowest index.
// It returns -1 for an empty slice.
func ArgMin[T constraints.Integer | constraints.Float](values []T) int {
	if len(values) == 0 {
		return -1
	}
	best := 0
	for ii := 1; ii < len(values); ii++ {
		if values[ii] < values[best] {
			best = ii
		}
	}
	return best
}

// ArgMinRows returns, for each row of m, the column with the smallest value.
func ArgMinRows(m *mat.Dense) []int {
	rows, _ := m.Dims()
	indices := make([]int, rows)
	for row := range rows {
		indices[row] = ArgMin(m.RawRowView(row))
	}
	return indices
}

// HasNaNOrInf returns whether any of the values of m is NaN or infinite.
func HasNaNOrInf(m mat.Matrix) bool {
	rows, cols := m.Dims()
	for row := range rows {
		for col := range cols {
			v := m.At(row, col)
			if math.IsNaN(v) || math.IsInf(v, 0) {
				return true
			}
		}
	}
	return false
}

// SameShape returns whether a and b have the same dimensions.
func SameShape(a, b mat.Matrix) bool {
	aRows, aCols := a.Dims()
	bRows, bCols := b.Dims()
	return aRows == bRows && aCols == bCols
}
