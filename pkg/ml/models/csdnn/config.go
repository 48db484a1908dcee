// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

package csdnn

import (
	"github.com/gomlx/csdnn/pkg/ml/context"
	"github.com/gomlx/csdnn/pkg/ml/datasets/costmatrix"
	"github.com/gomlx/csdnn/pkg/ml/layers/activations"
	"github.com/gomlx/csdnn/pkg/ml/layers/autoencoder"
	"github.com/gomlx/csdnn/pkg/ml/train"
	"github.com/gomlx/csdnn/pkg/ml/train/optimizers"
	"github.com/gomlx/csdnn/pkg/support/xslices"
	"github.com/pkg/errors"
)

// Context hyperparameters of the network and its training. See CreateDefaultContext for the default values.
const (
	// ParamHiddenLayers ([]int) are the widths of the hidden layers.
	ParamHiddenLayers = "hidden_layers"

	ParamPretrainEpochs       = "pretrain_epochs"
	ParamPretrainLearningRate = "pretrain_learning_rate"
	ParamPretrainBatchSize    = "pretrain_batch_size"

	// ParamCorruptionLevels ([]float64) holds the corruption level of each layer autoencoder.
	ParamCorruptionLevels = "corruption_levels"

	// ParamBalanceCoefs ([]float64) holds the weight of the cost regression term of each layer autoencoder.
	ParamBalanceCoefs = "balance_coefs"

	ParamFinetuneEpochs       = "finetune_epochs"
	ParamFinetuneLearningRate = "finetune_learning_rate"
	ParamFinetuneBatchSize    = "finetune_batch_size"

	// ParamSeed is the seed of the random number generator.
	ParamSeed = "seed"
)

// CreateDefaultContext returns a context with all the hyperparameters set to their default values.
func CreateDefaultContext() *context.Context {
	ctx := context.New()
	ctx.SetParams(map[string]any{
		ParamHiddenLayers:                   []int{500},
		activations.ParamActivation:         "sigmoid",
		ParamPretrainEpochs:                 15,
		ParamPretrainLearningRate:           0.1,
		ParamPretrainBatchSize:              20,
		ParamCorruptionLevels:               []float64{0.25},
		ParamBalanceCoefs:                   []float64{100},
		autoencoder.ParamReconstructionLoss: autoencoder.CrossEntropy.String(),
		ParamFinetuneEpochs:                 30,
		ParamFinetuneLearningRate:           0.001,
		ParamFinetuneBatchSize:              1,
		optimizers.ParamOptimizer:           "sgd",
		train.ParamBatchPolicy:              train.DropRemainder.String(),
		ParamSeed:                           123,
		costmatrix.ParamCostMatrix:          "general",
		costmatrix.ParamScale:               costmatrix.DefaultScale,
	})
	return ctx
}

// HiddenDimsFromContext returns the hidden layer widths configured with ParamHiddenLayers.
func HiddenDimsFromContext(ctx *context.Context) []int {
	return context.GetParamOr(ctx, ParamHiddenLayers, []int{500})
}

// OptionsFromContext returns the Network options configured in ctx: the activation and the
// reconstruction loss.
func OptionsFromContext(ctx *context.Context) ([]Option, error) {
	activation, err := activations.TypeString(context.GetParamOr(ctx, activations.ParamActivation, "sigmoid"))
	if err != nil {
		return nil, err
	}
	lossType, err := autoencoder.LossTypeFromName(
		context.GetParamOr(ctx, autoencoder.ParamReconstructionLoss, autoencoder.CrossEntropy.String()))
	if err != nil {
		return nil, err
	}
	return []Option{WithActivation(activation), WithReconstructionLoss(lossType)}, nil
}

func batchPolicyFromContext(ctx *context.Context) (train.BatchPolicy, error) {
	return train.BatchPolicyFromName(context.GetParamOr(ctx, train.ParamBatchPolicy, train.DropRemainder.String()))
}

// PretrainConfigFromContext reads the pretraining hyperparameters from ctx. A single corruption level or
// balance coefficient is broadcast to all numLayers layers.
func PretrainConfigFromContext(ctx *context.Context, numLayers int) (PretrainConfig, error) {
	policy, err := batchPolicyFromContext(ctx)
	if err != nil {
		return PretrainConfig{}, err
	}
	config := PretrainConfig{
		Epochs:       context.GetParamOr(ctx, ParamPretrainEpochs, 15),
		LearningRate: context.GetParamOr(ctx, ParamPretrainLearningRate, 0.1),
		BatchSize:    context.GetParamOr(ctx, ParamPretrainBatchSize, 20),
		BatchPolicy:  policy,
	}
	config.CorruptionLevels, err = perLayer(ParamCorruptionLevels,
		context.GetParamOr(ctx, ParamCorruptionLevels, []float64{0.25}), numLayers)
	if err != nil {
		return PretrainConfig{}, err
	}
	config.BalanceCoefs, err = perLayer(ParamBalanceCoefs,
		context.GetParamOr(ctx, ParamBalanceCoefs, []float64{100}), numLayers)
	if err != nil {
		return PretrainConfig{}, err
	}
	return config, nil
}

// perLayer broadcasts a single value to numLayers, or checks that there is exactly one value per layer.
func perLayer(key string, values []float64, numLayers int) ([]float64, error) {
	if len(values) == 1 && numLayers > 1 {
		return xslices.SliceWithValue(numLayers, values[0]), nil
	}
	if len(values) != numLayers {
		return nil, errors.Errorf("hyperparameter %q has %d values, but there are %d hidden layers", key, len(values), numLayers)
	}
	return values, nil
}

// FinetuneConfigFromContext reads the fine-tuning hyperparameters from ctx.
func FinetuneConfigFromContext(ctx *context.Context) (FinetuneConfig, error) {
	policy, err := batchPolicyFromContext(ctx)
	if err != nil {
		return FinetuneConfig{}, err
	}
	learningRate := context.GetParamOr(ctx, ParamFinetuneLearningRate, 0.001)
	opt, err := optimizers.ByName(context.GetParamOr(ctx, optimizers.ParamOptimizer, "sgd"), learningRate)
	if err != nil {
		return FinetuneConfig{}, err
	}
	return FinetuneConfig{
		Epochs:       context.GetParamOr(ctx, ParamFinetuneEpochs, 30),
		LearningRate: learningRate,
		BatchSize:    context.GetParamOr(ctx, ParamFinetuneBatchSize, 1),
		BatchPolicy:  policy,
		Optimizer:    opt,
	}, nil
}
