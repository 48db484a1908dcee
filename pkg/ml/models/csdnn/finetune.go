// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

package csdnn

import (
	"time"

	"github.com/gomlx/csdnn/pkg/core/numeric"
	"github.com/gomlx/csdnn/pkg/ml/datasets"
	"github.com/gomlx/csdnn/pkg/ml/layers/costsensitive"
	"github.com/gomlx/csdnn/pkg/ml/train"
	"github.com/gomlx/csdnn/pkg/ml/train/optimizers"
	"github.com/pkg/errors"
	"gonum.org/v1/gonum/mat"
	"k8s.io/klog/v2"
)

// FinetuneConfig holds the parameters of Network.Finetune.
type FinetuneConfig struct {
	Epochs       int
	LearningRate float64
	BatchSize    int
	BatchPolicy  train.BatchPolicy

	// Optimizer used for the updates. If nil, plain SGD with LearningRate is used.
	Optimizer optimizers.Interface

	// Observer is notified after each epoch. Optional.
	Observer Observer

	// ConfigureLoop, if set, is called with the training loop before it runs. Use it to attach
	// progress bars or extra hooks.
	ConfigureLoop func(loop *train.Loop)
}

// Finetune trains all the parameters of the network jointly, with mini-batch SGD on the one-sided
// regression loss of the output layer, over trainSet.
//
// After each epoch the error rate and mean cost are evaluated on both sets (without changing any
// parameter), and the epoch with the lowest test cost is tracked: an epoch only replaces the best record
// if its test cost is strictly lower. Epochs in the returned BestModel start from 1.
//
// With config.Epochs == 0 it returns NewBestModel() and changes nothing.
func (net *Network) Finetune(trainSet, testSet datasets.Set, config FinetuneConfig) (BestModel, error) {
	best := NewBestModel()
	if err := net.validateFinetune(trainSet, testSet, config); err != nil {
		return best, err
	}
	if config.Epochs == 0 {
		return best, nil
	}
	observer := observerOrNoop(config.Observer)
	z := costsensitive.TargetMatrix(trainSet.Labels, net.numClasses)
	opt := config.Optimizer
	if opt == nil {
		opt = optimizers.StochasticGradientDescent(config.LearningRate)
	}

	loop := train.NewLoop("finetune", trainSet.NumExamples(), config.BatchSize, config.BatchPolicy)
	var epochStart time.Time
	loop.OnStart("csdnn.Finetune", 0, func(_ *train.Loop) error {
		epochStart = time.Now()
		return nil
	})
	loop.OnEpoch("csdnn.Finetune", 0, func(loop *train.Loop, meanLoss float64) error {
		epoch := loop.Epoch + 1
		report := EpochReport{
			Epoch:     epoch,
			NumEpochs: loop.NumEpochs,
			MeanLoss:  meanLoss,
		}
		report.TrainError, report.TrainCost = net.Evaluate(trainSet)
		report.TestError, report.TestCost = net.Evaluate(testSet)
		report.Improved = best.Update(epoch, report.TestCost, report.TestError)
		report.Best = best
		report.Elapsed = time.Since(epochStart)
		if report.Improved {
			klog.Infof("better performance achieved in epoch #%d: test cost = %f, test error = %f",
				epoch, report.TestCost, report.TestError)
		}
		observer.OnFinetuneEpoch(report)
		epochStart = time.Now()
		return nil
	})
	if config.ConfigureLoop != nil {
		config.ConfigureLoop(loop)
	}

	params := net.Params()
	_, err := loop.RunEpochs(config.Epochs, func(batch train.Batch) (float64, error) {
		batchSet := trainSet.Batch(batch)
		var zBatch *mat.Dense
		if batch.IsContiguous() {
			zBatch = numeric.RowsView(z, batch.Start, batch.End)
		} else {
			zBatch = numeric.GatherRows(z, batch.Indices())
		}
		loss, grads := net.lossAndGradients(batchSet.Features, batchSet.Costs, zBatch)
		if err := opt.Update(params, grads); err != nil {
			return 0, err
		}
		return loss, nil
	})
	if err != nil {
		return best, errors.WithMessagef(err, "csdnn.Finetune")
	}
	klog.V(1).Infof("fine-tuning finished after %d epochs: %s", config.Epochs, best)
	return best, nil
}

func (net *Network) validateFinetune(trainSet, testSet datasets.Set, config FinetuneConfig) error {
	if config.Epochs < 0 {
		return errors.Errorf("csdnn.Finetune: invalid number of epochs %d", config.Epochs)
	}
	for _, named := range []struct {
		name string
		set  datasets.Set
	}{{"train", trainSet}, {"test", testSet}} {
		if err := named.set.Validate(net.numClasses); err != nil {
			return errors.WithMessagef(err, "csdnn.Finetune: %s set", named.name)
		}
		if named.set.NumFeatures() != net.inputDim {
			return errors.Wrapf(datasets.ErrShapeMismatch, "csdnn.Finetune: %s set has %d features, network expects %d",
				named.name, named.set.NumFeatures(), net.inputDim)
		}
	}
	return nil
}

// lossAndGradients returns the one-sided loss of the batch and the gradients of all parameters, in the
// same order as Network.Params.
func (net *Network) lossAndGradients(x, costs, z *mat.Dense) (float64, []*mat.Dense) {
	acts := net.forwardAll(x)
	numLayers := len(net.hidden)
	loss, dh, dU, du := net.output.Loss(acts[numLayers], costs, z)

	grads := make([]*mat.Dense, 2*numLayers+2)
	grads[2*numLayers], grads[2*numLayers+1] = dU, du
	for ii := numLayers - 1; ii >= 0; ii-- {
		var dW, db *mat.Dense
		dh, dW, db = net.hidden[ii].Backward(acts[ii], acts[ii+1], dh)
		grads[2*ii], grads[2*ii+1] = dW, db
	}
	return loss, grads
}

// Evaluate returns the error rate and the mean incurred cost of the network on set. Parameters are not changed.
func (net *Network) Evaluate(set datasets.Set) (errorRate, cost float64) {
	return net.output.Evaluate(net.Forward(set.Features), set.Costs, set.Labels)
}
