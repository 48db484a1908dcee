// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

package csdnn

import (
	"math"
	"math/rand/v2"
	"testing"

	"github.com/gomlx/csdnn/pkg/ml/context"
	"github.com/gomlx/csdnn/pkg/ml/context/initializers"
	"github.com/gomlx/csdnn/pkg/ml/datasets"
	"github.com/gomlx/csdnn/pkg/ml/layers/activations"
	"github.com/gomlx/csdnn/pkg/ml/train"
	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gonum.org/v1/gonum/mat"
	"k8s.io/klog/v2"
)

func init() {
	klog.InitFlags(nil)
}

func newRNG(seed uint64) *rand.Rand {
	return rand.New(rand.NewPCG(seed, seed))
}

// recordingObserver keeps all the reports it receives.
type recordingObserver struct {
	layers []LayerReport
	epochs []EpochReport
}

func (o *recordingObserver) OnPretrainLayer(r LayerReport) { o.layers = append(o.layers, r) }
func (o *recordingObserver) OnFinetuneEpoch(r EpochReport) { o.epochs = append(o.epochs, r) }

// separableSet returns 4 examples with labels {0, 1, 0, 1}, separable on the first feature, with
// cost 1 for the wrong class and 0 for the right one.
func separableSet() datasets.Set {
	features := mat.NewDense(4, 2, []float64{
		0.1, 0.2,
		0.9, 0.8,
		0.2, 0.1,
		0.8, 0.9,
	})
	labels := []int{0, 1, 0, 1}
	costs := mat.NewDense(4, 2, nil)
	for ii, label := range labels {
		costs.Set(ii, 1-label, 1)
	}
	return datasets.Set{Features: features, Labels: labels, Costs: costs}
}

func randomSet(seed uint64, numExamples, inputDim, numClasses int) datasets.Set {
	rng := newRNG(seed)
	features := initializers.Uniform(rng, 0, 1)(numExamples, inputDim)
	labels := make([]int, numExamples)
	for ii := range labels {
		labels[ii] = rng.IntN(numClasses)
	}
	costs := initializers.Uniform(rng, 0, 3)(numExamples, numClasses)
	for ii, label := range labels {
		costs.Set(ii, label, 0)
	}
	return datasets.Set{Features: features, Labels: labels, Costs: costs}
}

func snapshot(params []*context.Variable) []*mat.Dense {
	values := make([]*mat.Dense, len(params))
	for ii, v := range params {
		values[ii] = mat.DenseCopyOf(v.Value())
	}
	return values
}

func requireUnchanged(t *testing.T, before []*mat.Dense, params []*context.Variable) {
	for ii, v := range params {
		require.Truef(t, mat.Equal(before[ii], v.Value()), "variable %s changed", v)
	}
}

func TestNew(t *testing.T) {
	ctx := context.New()
	net, params, err := New(ctx, newRNG(1), 4, []int{3, 2}, 5)
	require.NoError(t, err)
	require.Equal(t, 2, net.NumLayers())
	require.Len(t, params, 6)

	// Order is [W0, b0, W1, b1, U, u].
	assert.Same(t, net.Hidden(0).Weights(), params[0])
	assert.Same(t, net.Hidden(0).Biases(), params[1])
	assert.Same(t, net.Hidden(1).Weights(), params[2])
	assert.Same(t, net.Hidden(1).Biases(), params[3])
	assert.Same(t, net.Output().Weights(), params[4])
	assert.Same(t, net.Output().Biases(), params[5])

	// Widths chain from the input to the output.
	for ii, shape := range [][2]int{{4, 3}, {1, 3}, {3, 2}, {1, 2}, {2, 5}, {1, 5}} {
		rows, cols := params[ii].Shape()
		assert.Equalf(t, shape, [2]int{rows, cols}, "shape of %s", params[ii])
	}
	assert.Equal(t, "/layer_0", params[0].Scope())
	assert.Equal(t, "/layer_1", params[2].Scope())
	assert.Equal(t, "/output", params[4].Scope())

	// Each layer has 2 variables plus 3 of its autoencoder, and the output layer 2.
	assert.Equal(t, 12, ctx.NumVariables())

	// Params returns a copy of the list, with the same variables.
	paramsCopy := net.Params()
	paramsCopy[0] = nil
	assert.NotNil(t, net.Params()[0])
}

func TestParameterSharing(t *testing.T) {
	net, _, err := New(context.New(), newRNG(2), 3, []int{2}, 2)
	require.NoError(t, err)
	ae := net.Autoencoder(0)
	require.Same(t, net.Hidden(0).Weights(), ae.Encoder().Weights())
	require.Same(t, net.Hidden(0).Biases(), ae.Encoder().Biases())

	// A write through the autoencoder path is seen by the network.
	x := mat.NewDense(1, 3, []float64{1, 1, 1})
	ae.Encoder().Biases().Value().Set(0, 0, 100)
	assert.InDelta(t, 1.0, net.Forward(x).At(0, 0), 1e-6)
}

func TestNewErrors(t *testing.T) {
	ctx := context.New()
	_, _, err := New(ctx, newRNG(1), 4, nil, 2)
	require.ErrorIs(t, err, ErrNoHiddenLayers)
	assert.Equal(t, 0, ctx.NumVariables(), "nothing should be built without hidden layers")

	_, _, err = New(ctx, newRNG(1), 4, []int{3, 0}, 2)
	require.Error(t, err)
	_, _, err = New(ctx, newRNG(1), 0, []int{3}, 2)
	require.Error(t, err)
	_, _, err = New(ctx, newRNG(1), 4, []int{3}, 0)
	require.Error(t, err)
	_, _, err = New(ctx, nil, 4, []int{3}, 2)
	require.Error(t, err)

	// Building twice in the same scope is a construction error, not a panic.
	_, _, err = New(ctx, newRNG(1), 4, []int{3}, 2)
	require.NoError(t, err)
	_, _, err = New(ctx, newRNG(1), 4, []int{3}, 2)
	require.Error(t, err)
}

func TestBestModel(t *testing.T) {
	best := NewBestModel()
	assert.False(t, best.Found())
	assert.True(t, math.IsInf(best.Cost, 1))
	assert.True(t, math.IsNaN(best.ErrorRate))
	assert.Equal(t, 0, best.Epoch)

	costs := []float64{0.5, 0.7, 0.4, 0.4, 0.45, 0.1}
	wantImproved := []bool{true, false, true, false, false, true}
	previous := best.Cost
	for ii, cost := range costs {
		improved := best.Update(ii+1, cost, cost/10)
		assert.Equalf(t, wantImproved[ii], improved, "epoch #%d", ii+1)
		assert.LessOrEqual(t, best.Cost, previous)
		previous = best.Cost
	}
	assert.True(t, best.Found())
	assert.Equal(t, 6, best.Epoch)
	assert.Equal(t, 0.1, best.Cost)
	assert.InDelta(t, 0.01, best.ErrorRate, 1e-12)

	// Ties keep the earliest epoch.
	tie := NewBestModel()
	tie.Update(1, 0.3, 0.1)
	assert.False(t, tie.Update(2, 0.3, 0.0))
	assert.Equal(t, 1, tie.Epoch)
	assert.Equal(t, "best cost = 0.300000, occurred in epoch #1, corresponding error = 0.100000", tie.String())

	// NaN costs never improve the record.
	assert.False(t, tie.Update(3, math.NaN(), 0))
}

func TestPretrain(t *testing.T) {
	net, params, err := New(context.New(), newRNG(3), 4, []int{3, 2}, 2)
	require.NoError(t, err)
	set := randomSet(4, 20, 4, 2)

	// Mismatched per-layer configuration is rejected before training anything.
	before := snapshot(params)
	err = net.Pretrain(set, PretrainConfig{Epochs: 1, LearningRate: 0.1, BatchSize: 5,
		CorruptionLevels: []float64{0.1}, BalanceCoefs: []float64{1, 1}})
	require.Error(t, err)
	requireUnchanged(t, before, params)

	obs := &recordingObserver{}
	var loopNames []string
	err = net.Pretrain(set, PretrainConfig{
		Epochs: 2, LearningRate: 0.1, BatchSize: 5,
		CorruptionLevels: []float64{0.1, 0.2},
		BalanceCoefs:     []float64{1, 0.5},
		Observer:         obs,
		ConfigureLoop:    func(loop *train.Loop) { loopNames = append(loopNames, loop.Name) },
	})
	require.NoError(t, err)
	assert.Equal(t, []string{"/layer_0/autoencoder", "/layer_1/autoencoder"}, loopNames)
	require.Len(t, obs.layers, 2)
	for ii, report := range obs.layers {
		assert.Equal(t, ii, report.Layer)
		assert.Equal(t, 2, report.NumLayers)
		assert.Equal(t, net.Hidden(ii).InputDim(), report.InputDim)
		assert.Equal(t, net.Hidden(ii).OutputDim(), report.OutputDim)
		assert.False(t, math.IsNaN(report.MeanLoss))
	}

	// Encoding layers changed, the output layer didn't.
	assert.False(t, mat.Equal(before[0], params[0].Value()))
	assert.False(t, mat.Equal(before[2], params[2].Value()))
	assert.True(t, mat.Equal(before[4], params[4].Value()))
	assert.True(t, mat.Equal(before[5], params[5].Value()))
}

func TestPretrainShapeMismatch(t *testing.T) {
	net, _, err := New(context.New(), newRNG(3), 4, []int{3}, 2)
	require.NoError(t, err)
	err = net.Pretrain(randomSet(4, 10, 5, 2), PretrainConfig{Epochs: 1, LearningRate: 0.1, BatchSize: 5,
		CorruptionLevels: []float64{0}, BalanceCoefs: []float64{1}})
	require.ErrorIs(t, err, datasets.ErrShapeMismatch)
}

func TestFinetuneZeroEpochs(t *testing.T) {
	net, params, err := New(context.New(), newRNG(5), 2, []int{4}, 2)
	require.NoError(t, err)
	before := snapshot(params)
	obs := &recordingObserver{}
	best, err := net.Finetune(separableSet(), separableSet(), FinetuneConfig{
		Epochs: 0, LearningRate: 0.1, BatchSize: 1, Observer: obs})
	require.NoError(t, err)
	assert.False(t, best.Found())
	assert.True(t, math.IsInf(best.Cost, 1))
	assert.Empty(t, obs.epochs)
	requireUnchanged(t, before, params)
}

func TestFinetuneBatches(t *testing.T) {
	net, _, err := New(context.New(), newRNG(6), 3, []int{2}, 2)
	require.NoError(t, err)
	set := randomSet(7, 100, 3, 2)
	stepsPerEpoch := make(map[int]int)
	var batches []train.Batch
	_, err = net.Finetune(set, set, FinetuneConfig{
		Epochs: 2, LearningRate: 0.01, BatchSize: 20,
		ConfigureLoop: func(loop *train.Loop) {
			loop.OnStep("count", 0, func(loop *train.Loop, batch train.Batch, _ float64) error {
				stepsPerEpoch[loop.Epoch]++
				if loop.Epoch == 0 {
					batches = append(batches, batch)
				}
				return nil
			})
		},
	})
	require.NoError(t, err)
	assert.Equal(t, map[int]int{0: 5, 1: 5}, stepsPerEpoch)
	require.Len(t, batches, 5)
	for ii, batch := range batches {
		assert.Equal(t, ii*20, batch.Start)
		assert.Equal(t, (ii+1)*20, batch.End)
		assert.True(t, batch.IsContiguous())
	}
}

func TestFinetuneEndToEnd(t *testing.T) {
	net, _, err := New(context.New(), newRNG(7), 2, []int{4}, 2)
	require.NoError(t, err)
	set := separableSet()
	require.NoError(t, net.Pretrain(set, PretrainConfig{Epochs: 1, LearningRate: 0.1, BatchSize: 2,
		CorruptionLevels: []float64{0.1}, BalanceCoefs: []float64{1}}))

	obs := &recordingObserver{}
	best, err := net.Finetune(set, set, FinetuneConfig{Epochs: 3, LearningRate: 0.1, BatchSize: 1, Observer: obs})
	require.NoError(t, err)
	require.Len(t, obs.epochs, 3)
	require.True(t, best.Found())

	previous, previousTestCost := math.Inf(1), math.Inf(1)
	for ii, report := range obs.epochs {
		assert.Equal(t, ii+1, report.Epoch)
		assert.Equal(t, 3, report.NumEpochs)
		assert.LessOrEqual(t, report.TestCost, previousTestCost, "test cost must be non-increasing (epoch %d)", ii+1)
		assert.LessOrEqual(t, report.Best.Cost, previous, "best cost must be non-increasing")
		assert.LessOrEqual(t, report.Best.Cost, report.TestCost)
		previous, previousTestCost = report.Best.Cost, report.TestCost
	}
	assert.LessOrEqual(t, best.Cost, obs.epochs[0].TestCost)
	assert.Equal(t, obs.epochs[2].Best, best)
	assert.Equal(t, obs.epochs[best.Epoch-1].TestCost, best.Cost)
	assert.Equal(t, obs.epochs[best.Epoch-1].TestError, best.ErrorRate)
}

func TestFinetuneValidation(t *testing.T) {
	net, params, err := New(context.New(), newRNG(8), 2, []int{4}, 2)
	require.NoError(t, err)
	before := snapshot(params)
	badTest := separableSet()
	badTest.Labels = badTest.Labels[:3]
	_, err = net.Finetune(separableSet(), badTest, FinetuneConfig{Epochs: 1, LearningRate: 0.1, BatchSize: 1})
	require.ErrorIs(t, err, datasets.ErrShapeMismatch)

	_, err = net.Finetune(separableSet(), separableSet(), FinetuneConfig{Epochs: 1, LearningRate: 0.1, BatchSize: 8})
	require.True(t, errors.Is(err, train.ErrNoBatches))
	requireUnchanged(t, before, params)
}

func TestGradients(t *testing.T) {
	for _, activation := range []activations.Type{activations.TypeSigmoid, activations.TypeTanh} {
		net, params, err := New(context.New(), newRNG(9), 3, []int{4, 3}, 2, WithActivation(activation))
		require.NoError(t, err)
		// The output layer starts at zero: randomize it so all gradients are exercised.
		rng := newRNG(10)
		require.NoError(t, params[4].SetValue(initializers.Uniform(rng, -1, 1)(3, 2)))
		require.NoError(t, params[5].SetValue(initializers.Uniform(rng, -1, 1)(1, 2)))

		set := randomSet(11, 6, 3, 2)
		z := mat.NewDense(6, 2, nil)
		for ii, label := range set.Labels {
			z.Set(ii, 0, -1)
			z.Set(ii, 1, -1)
			z.Set(ii, label, 1)
		}
		lossFn := func() float64 {
			loss, _, _, _ := net.output.Loss(net.Forward(set.Features), set.Costs, z)
			return loss
		}
		_, grads := net.lossAndGradients(set.Features, set.Costs, z)
		require.Len(t, grads, len(params))

		const eps = 1e-6
		for pIdx, v := range params {
			value := v.Value()
			rows, cols := value.Dims()
			for i := range rows {
				for j := range cols {
					original := value.At(i, j)
					value.Set(i, j, original+eps)
					lossPlus := lossFn()
					value.Set(i, j, original-eps)
					lossMinus := lossFn()
					value.Set(i, j, original)
					numeric := (lossPlus - lossMinus) / (2 * eps)
					assert.InDeltaf(t, numeric, grads[pIdx].At(i, j), 1e-6,
						"%s: gradient of %s[%d, %d]", activation, v, i, j)
				}
			}
		}
	}
}

func TestConfigFromContext(t *testing.T) {
	ctx := CreateDefaultContext()
	assert.Equal(t, []int{500}, HiddenDimsFromContext(ctx))

	ctx.SetParam(ParamPretrainEpochs, 3)
	pretrain, err := PretrainConfigFromContext(ctx, 2)
	require.NoError(t, err)
	assert.Equal(t, 3, pretrain.Epochs)
	assert.Equal(t, 0.1, pretrain.LearningRate)
	assert.Equal(t, 20, pretrain.BatchSize)
	assert.Equal(t, []float64{0.25, 0.25}, pretrain.CorruptionLevels)
	assert.Equal(t, []float64{100, 100}, pretrain.BalanceCoefs)
	assert.Equal(t, train.DropRemainder, pretrain.BatchPolicy)

	ctx.SetParam(ParamCorruptionLevels, []float64{0.1, 0.2, 0.3})
	_, err = PretrainConfigFromContext(ctx, 2)
	require.Error(t, err)

	ctx.SetParam(train.ParamBatchPolicy, "pad")
	finetune, err := FinetuneConfigFromContext(ctx)
	require.NoError(t, err)
	assert.Equal(t, 30, finetune.Epochs)
	assert.Equal(t, 0.001, finetune.LearningRate)
	assert.Equal(t, 1, finetune.BatchSize)
	assert.Equal(t, train.PadRemainder, finetune.BatchPolicy)
	require.NotNil(t, finetune.Optimizer)

	ctx.SetParam(activations.ParamActivation, "tanh")
	opts, err := OptionsFromContext(ctx)
	require.NoError(t, err)
	net, _, err := New(context.New(), newRNG(1), 2, []int{2}, 2, opts...)
	require.NoError(t, err)
	assert.Equal(t, activations.TypeTanh, net.Activation())

	ctx.SetParam(activations.ParamActivation, "swish")
	_, err = OptionsFromContext(ctx)
	require.Error(t, err)
}
