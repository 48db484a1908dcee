// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

package csdnn

import (
	"math"
	"time"

	"github.com/gomlx/csdnn/pkg/ml/datasets"
	"github.com/gomlx/csdnn/pkg/ml/layers/autoencoder"
	"github.com/gomlx/csdnn/pkg/ml/train"
	"github.com/gomlx/csdnn/pkg/support/xslices"
	"github.com/pkg/errors"
)

// PretrainConfig holds the parameters of Network.Pretrain.
type PretrainConfig struct {
	Epochs       int
	LearningRate float64
	BatchSize    int

	// CorruptionLevels and BalanceCoefs hold one value per hidden layer.
	CorruptionLevels []float64
	BalanceCoefs     []float64

	BatchPolicy train.BatchPolicy

	// Observer is notified after each layer is pretrained. Optional.
	Observer Observer

	// ConfigureLoop, if set, is called with the training loop of each layer before it runs.
	ConfigureLoop func(loop *train.Loop)
}

// Pretrain each encoding layer in turn, from the bottom up, with its cost-aware denoising autoencoder.
// Layer 0 is trained on the features of set, and each following layer on the encoding produced by the
// layer below it (after it was trained). Labels and costs are the same for all layers.
//
// The first failure aborts pretraining: layers already trained keep their new values.
func (net *Network) Pretrain(set datasets.Set, config PretrainConfig) error {
	numLayers := net.NumLayers()
	if len(config.CorruptionLevels) != numLayers {
		return errors.Errorf("csdnn.Pretrain: %d corruption levels given for %d hidden layers",
			len(config.CorruptionLevels), numLayers)
	}
	if len(config.BalanceCoefs) != numLayers {
		return errors.Errorf("csdnn.Pretrain: %d balance coefficients given for %d hidden layers",
			len(config.BalanceCoefs), numLayers)
	}
	if err := set.Validate(net.numClasses); err != nil {
		return errors.WithMessagef(err, "csdnn.Pretrain")
	}
	observer := observerOrNoop(config.Observer)

	current := set
	for ii := range numLayers {
		layer := net.hidden[ii]
		if current.NumFeatures() != layer.InputDim() {
			return errors.Wrapf(datasets.ErrShapeMismatch, "csdnn.Pretrain: layer #%d expects %d features, got %d",
				ii, layer.InputDim(), current.NumFeatures())
		}
		meanLoss := math.NaN()
		start := time.Now()
		next, err := net.autoencoders[ii].LearnFeatures(current, autoencoder.TrainConfig{
			Epochs:          config.Epochs,
			LearningRate:    config.LearningRate,
			BatchSize:       config.BatchSize,
			CorruptionLevel: config.CorruptionLevels[ii],
			BalanceCoef:     config.BalanceCoefs[ii],
			BatchPolicy:     config.BatchPolicy,
			ConfigureLoop: func(loop *train.Loop) {
				loop.OnEnd("csdnn.Pretrain", 0, func(loop *train.Loop) error {
					meanLoss = xslices.Last(loop.EpochLosses)
					return nil
				})
				if config.ConfigureLoop != nil {
					config.ConfigureLoop(loop)
				}
			},
		})
		if err != nil {
			return errors.WithMessagef(err, "csdnn.Pretrain: layer #%d", ii)
		}
		observer.OnPretrainLayer(LayerReport{
			Layer:     ii,
			NumLayers: numLayers,
			InputDim:  layer.InputDim(),
			OutputDim: layer.OutputDim(),
			Epochs:    config.Epochs,
			MeanLoss:  meanLoss,
			Elapsed:   time.Since(start),
		})
		current = next
	}
	return nil
}
