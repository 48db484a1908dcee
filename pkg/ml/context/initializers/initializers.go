// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

// Package initializers provides variable initializers to use with context.Context.WithInitializer.
package initializers

import (
	"math"
	"math/rand/v2"

	"github.com/gomlx/csdnn/pkg/ml/context"
	"gonum.org/v1/gonum/mat"
	"gonum.org/v1/gonum/stat/distuv"
)

// Zero initializes variables with zero.
var Zero context.VariableInitializer = func(rows, cols int) *mat.Dense {
	return mat.NewDense(rows, cols, nil)
}

// Uniform returns an initializer that generates random uniform values from [minValue, maxValue).
func Uniform(rng *rand.Rand, minValue, maxValue float64) context.VariableInitializer {
	return func(rows, cols int) *mat.Dense {
		dist := distuv.Uniform{Min: minValue, Max: maxValue, Src: rng}
		data := make([]float64, rows*cols)
		for ii := range data {
			data[ii] = dist.Rand()
		}
		return mat.NewDense(rows, cols, data)
	}
}

// XavierLimit returns the Glorot/Xavier uniform limit for a weight matrix with the given fan-in and fan-out:
// `sqrt(6 / (fanIn + fanOut))`.
func XavierLimit(fanIn, fanOut int) float64 {
	return math.Sqrt(6.0 / float64(fanIn+fanOut))
}

// XavierUniform returns a Glorot uniform initializer, also called Xavier uniform initializer.
// It assumes the variables are weight matrices shaped [fanIn, fanOut], and samples uniformly from
// `[-limit, limit]`, with limit given by XavierLimit.
func XavierUniform(rng *rand.Rand) context.VariableInitializer {
	return scaledXavier(rng, 1.0)
}

// SigmoidXavierUniform is like XavierUniform, but with the limit multiplied by 4, the recommended
// range for sigmoid units.
func SigmoidXavierUniform(rng *rand.Rand) context.VariableInitializer {
	return scaledXavier(rng, 4.0)
}

func scaledXavier(rng *rand.Rand, scale float64) context.VariableInitializer {
	return func(rows, cols int) *mat.Dense {
		limit := scale * XavierLimit(rows, cols)
		return Uniform(rng, -limit, limit)(rows, cols)
	}
}
