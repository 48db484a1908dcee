// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

package initializers

import (
	"math"
	"math/rand/v2"
	"testing"

	"github.com/gomlx/csdnn/pkg/ml/context"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/mat"
)

func maxAbs(m *mat.Dense) float64 {
	var result float64
	for _, v := range m.RawMatrix().Data {
		result = max(result, math.Abs(v))
	}
	return result
}

func TestXavierUniform(t *testing.T) {
	rng := rand.New(rand.NewPCG(42, 0))
	ctx := context.New().WithInitializer(XavierUniform(rng))
	w := ctx.VariableWithShape("weights", 30, 20)
	b := ctx.WithInitializer(Zero).VariableWithShape("biases", 1, 20)
	limit := XavierLimit(30, 20)
	assert.InDelta(t, math.Sqrt(6.0/50.0), limit, 1e-12)
	assert.LessOrEqual(t, maxAbs(w.Value()), limit)
	assert.Greater(t, maxAbs(w.Value()), limit/2)
	assert.Zero(t, maxAbs(b.Value()))

	sig := SigmoidXavierUniform(rng)(30, 20)
	assert.LessOrEqual(t, maxAbs(sig), 4*limit)
	assert.Greater(t, maxAbs(sig), limit)
}

func TestUniform(t *testing.T) {
	rng := rand.New(rand.NewPCG(42, 0))
	m := Uniform(rng, 2, 3)(50, 10)
	data := m.RawMatrix().Data
	require.Len(t, data, 500)
	assert.GreaterOrEqual(t, floats.Min(data), 2.0)
	assert.Less(t, floats.Max(data), 3.0)
	assert.InDelta(t, 2.5, floats.Sum(data)/500, 0.05)
	assert.Zero(t, maxAbs(Zero(2, 2)))
}
