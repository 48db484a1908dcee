// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

package optimizers

import (
	"math"
	"testing"

	"github.com/gomlx/csdnn/pkg/ml/context"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gonum.org/v1/gonum/mat"
)

func TestSGD(t *testing.T) {
	ctx := context.New()
	w := ctx.VariableWithValue("w", mat.NewDense(1, 2, []float64{1, 2}))
	frozen := ctx.VariableWithValue("frozen", mat.NewDense(1, 1, []float64{5})).SetTrainable(false)
	alias := ctx.Reuse().VariableWithShape("w", 1, 2)

	opt := StochasticGradientDescent(0.5)
	grads := []*mat.Dense{mat.NewDense(1, 2, []float64{2, -2}), mat.NewDense(1, 1, []float64{1})}
	require.NoError(t, opt.Update([]*context.Variable{w, frozen}, grads))
	assert.Equal(t, []float64{0, 3}, w.Value().RawRowView(0))
	assert.Equal(t, []float64{0, 3}, alias.Value().RawRowView(0))
	assert.Equal(t, 5.0, frozen.Value().At(0, 0))

	// Shape mismatch doesn't change anything.
	err := opt.Update([]*context.Variable{w, frozen}, []*mat.Dense{mat.NewDense(1, 2, nil), mat.NewDense(2, 1, nil)})
	require.Error(t, err)
	require.Error(t, opt.Update([]*context.Variable{w}, nil))
	assert.Equal(t, []float64{0, 3}, w.Value().RawRowView(0))

	require.NoError(t, ApplyGradients(opt, w, mat.NewDense(1, 2, []float64{0, 2})))
	assert.Equal(t, []float64{0, 2}, w.Value().RawRowView(0))
}

func TestByName(t *testing.T) {
	opt, err := ByName("sgd", 0.01)
	require.NoError(t, err)
	assert.Equal(t, 0.01, opt.(*SGD).LearningRate)
	_, err = ByName("adam", 0.01)
	require.Error(t, err)

	ctx := context.New()
	opt, err = FromContext(ctx)
	require.NoError(t, err)
	assert.Equal(t, SGDDefaultLearningRate, opt.(*SGD).LearningRate)
	ctx.SetParam(ParamLearningRate, 0.3)
	opt, err = FromContext(ctx)
	require.NoError(t, err)
	assert.Equal(t, 0.3, opt.(*SGD).LearningRate)

	assert.True(t, HasNaNOrInf([]*mat.Dense{mat.NewDense(1, 1, []float64{math.NaN()})}))
	assert.False(t, HasNaNOrInf([]*mat.Dense{mat.NewDense(1, 1, nil)}))
}
