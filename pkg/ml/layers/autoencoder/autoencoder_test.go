// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

package autoencoder

import (
	"math/rand/v2"
	"testing"

	"github.com/gomlx/csdnn/pkg/ml/context"
	"github.com/gomlx/csdnn/pkg/ml/context/initializers"
	"github.com/gomlx/csdnn/pkg/ml/datasets"
	"github.com/gomlx/csdnn/pkg/ml/layers"
	"github.com/gomlx/csdnn/pkg/ml/layers/activations"
	"github.com/gomlx/csdnn/pkg/ml/train"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gonum.org/v1/gonum/mat"
	"k8s.io/klog/v2"
)

func init() {
	klog.InitFlags(nil)
}

func buildAutoencoder(t *testing.T, seed uint64, inputDim, hiddenDim, numClasses int, lossType LossType) (
	*context.Context, *layers.Dense, *Autoencoder) {
	rng := rand.New(rand.NewPCG(seed, seed))
	ctx := context.New()
	layerCtx := ctx.In("layer_0").WithInitializer(initializers.SigmoidXavierUniform(rng))
	dense := layers.NewDense(layerCtx, inputDim, hiddenDim, activations.TypeSigmoid)
	var ae *Autoencoder
	require.NotPanics(t, func() { ae = New(layerCtx, rng, dense, numClasses, lossType) })
	return ctx, dense, ae
}

func randomSet(seed uint64, numExamples, inputDim, numClasses int) datasets.Set {
	rng := rand.New(rand.NewPCG(seed, 0))
	features := initializers.Uniform(rng, 0, 1)(numExamples, inputDim)
	labels := make([]int, numExamples)
	for ii := range labels {
		labels[ii] = ii % numClasses
	}
	costs := initializers.Uniform(rng, 0, 2)(numExamples, numClasses)
	for ii, label := range labels {
		costs.Set(ii, label, 0)
	}
	return datasets.Set{Features: features, Labels: labels, Costs: costs}
}

func TestSharedParameters(t *testing.T) {
	ctx, dense, ae := buildAutoencoder(t, 1, 4, 3, 2, CrossEntropy)
	assert.Same(t, dense.Weights(), ae.Encoder().Weights())
	assert.Same(t, dense.Biases(), ae.Encoder().Biases())
	assert.Equal(t, "/layer_0/autoencoder", ae.VisibleBiases().Scope())
	assert.Equal(t, 5, ctx.NumVariables())

	// Updates made by pretraining are seen by the encoding layer.
	before := mat.DenseCopyOf(dense.Weights().Value())
	set := randomSet(2, 10, 4, 2)
	_, err := ae.LearnFeatures(set, TrainConfig{Epochs: 1, LearningRate: 0.1, BatchSize: 5, CorruptionLevel: 0.25,
		BalanceCoef: 1})
	require.NoError(t, err)
	assert.False(t, mat.Equal(before, dense.Weights().Value()))

	// A context without the encoding layer variables.
	require.Panics(t, func() { New(context.New().In("layer_0"), rand.New(rand.NewPCG(0, 0)), dense, 2, CrossEntropy) })
}

func TestLearnFeatures(t *testing.T) {
	_, dense, ae := buildAutoencoder(t, 3, 6, 4, 3, CrossEntropy)
	set := randomSet(4, 30, 6, 3)
	featuresBefore := mat.DenseCopyOf(set.Features)
	costsBefore := mat.DenseCopyOf(set.Costs)
	config := TrainConfig{Epochs: 30, LearningRate: 0.1, BatchSize: 5, CorruptionLevel: 0, BalanceCoef: 0.1}
	lossBefore := ae.Loss(set, config.BalanceCoef)

	var epochLosses []float64
	config.ConfigureLoop = func(loop *train.Loop) {
		loop.OnEpoch("collect", 0, func(loop *train.Loop, meanLoss float64) error {
			epochLosses = append(epochLosses, meanLoss)
			return nil
		})
	}
	hidden, err := ae.LearnFeatures(set, config)
	require.NoError(t, err)
	require.Len(t, epochLosses, 30)
	assert.Less(t, ae.Loss(set, config.BalanceCoef), lossBefore)
	assert.Less(t, epochLosses[29], epochLosses[0])

	// Output is the encoding of the (uncorrupted) input by the trained layer.
	assert.True(t, mat.EqualApprox(dense.Forward(set.Features), hidden.Features, 1e-12))
	assert.Equal(t, 4, hidden.NumFeatures())
	assert.Equal(t, set.Labels, hidden.Labels)
	assert.Same(t, set.Costs, hidden.Costs)

	// Inputs are not changed.
	assert.True(t, mat.Equal(featuresBefore, set.Features))
	assert.True(t, mat.Equal(costsBefore, set.Costs))

	rows, cols := ae.Reconstruct(set.Features).Dims()
	assert.Equal(t, []int{30, 6}, []int{rows, cols})
	rows, cols = ae.ReconstructCosts(set.Features).Dims()
	assert.Equal(t, []int{30, 3}, []int{rows, cols})
}

func TestLearnFeaturesErrors(t *testing.T) {
	_, dense, ae := buildAutoencoder(t, 5, 6, 4, 3, SquaredError)
	config := TrainConfig{Epochs: 1, LearningRate: 0.1, BatchSize: 5}
	before := mat.DenseCopyOf(dense.Weights().Value())

	_, err := ae.LearnFeatures(randomSet(6, 10, 5, 3), config)
	require.ErrorIs(t, err, datasets.ErrShapeMismatch)
	_, err = ae.LearnFeatures(randomSet(6, 10, 6, 2), config)
	require.ErrorIs(t, err, datasets.ErrShapeMismatch)

	bad := config
	bad.CorruptionLevel = 1
	_, err = ae.LearnFeatures(randomSet(6, 10, 6, 3), bad)
	require.Error(t, err)

	bad = config
	bad.BatchSize = 20
	_, err = ae.LearnFeatures(randomSet(6, 10, 6, 3), bad)
	require.ErrorIs(t, err, train.ErrNoBatches)
	assert.True(t, mat.Equal(before, dense.Weights().Value()))

	// Zero epochs: nothing changes, and the features are still encoded.
	bad.Epochs = 0
	bad.BatchSize = 5
	hidden, err := ae.LearnFeatures(randomSet(6, 10, 6, 3), bad)
	require.NoError(t, err)
	assert.Equal(t, 4, hidden.NumFeatures())
	assert.True(t, mat.Equal(before, dense.Weights().Value()))
}

func TestCorrupt(t *testing.T) {
	_, _, ae := buildAutoencoder(t, 7, 2, 2, 2, CrossEntropy)
	x := mat.NewDense(100, 50, nil)
	x.Apply(func(_, _ int, _ float64) float64 { return 1 }, x)
	corrupted := ae.corrupt(x, 0.3)
	dropped := 100*50 - mat.Sum(corrupted)
	assert.InDelta(t, 0.3, dropped/(100*50), 0.03)
	assert.Equal(t, 100.0*50, mat.Sum(x))
	assert.True(t, mat.Equal(x, ae.corrupt(x, 0)))
}

// TestGradients compares the analytic gradients with finite differences.
func TestGradients(t *testing.T) {
	for _, lossType := range []LossType{CrossEntropy, SquaredError} {
		t.Run(lossType.String(), func(t *testing.T) {
			_, _, ae := buildAutoencoder(t, 11, 5, 3, 2, lossType)
			rng := rand.New(rand.NewPCG(12, 12))
			require.NoError(t, ae.VisibleBiases().SetValue(initializers.Uniform(rng, -0.5, 0.5)(1, 5)))
			require.NoError(t, ae.CostBiases().SetValue(initializers.Uniform(rng, -0.5, 0.5)(1, 2)))
			set := randomSet(13, 4, 5, 2)
			xt := ae.corrupt(set.Features, 0.4)
			const beta = 0.7
			lossFn := func() float64 {
				loss, _ := ae.step(set.Features, xt, set.Costs, beta, false)
				return loss
			}
			_, grads := ae.step(set.Features, xt, set.Costs, beta, true)
			const eps = 1e-6
			for paramIdx, v := range ae.Params() {
				value := v.Value()
				rows, cols := value.Dims()
				for i := range rows {
					for j := range cols {
						orig := value.At(i, j)
						value.Set(i, j, orig+eps)
						plus := lossFn()
						value.Set(i, j, orig-eps)
						minus := lossFn()
						value.Set(i, j, orig)
						assert.InDeltaf(t, (plus-minus)/(2*eps), grads[paramIdx].At(i, j), 1e-6,
							"gradient of %s at (%d, %d)", v, i, j)
					}
				}
			}
		})
	}
}

func TestLossTypeFromName(t *testing.T) {
	lossType, err := LossTypeFromName("squared_error")
	require.NoError(t, err)
	assert.Equal(t, SquaredError, lossType)
	_, err = LossTypeFromName("hinge")
	require.Error(t, err)
	assert.Equal(t, "cross_entropy", CrossEntropy.String())
}
