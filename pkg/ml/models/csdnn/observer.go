// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

package csdnn

import (
	"time"

	"k8s.io/klog/v2"
)

// LayerReport is sent to the Observer after each layer is pretrained.
type LayerReport struct {
	// Layer index, starting from 0.
	Layer, NumLayers int

	InputDim, OutputDim int
	Epochs              int

	// MeanLoss of the last epoch of the layer autoencoder, NaN if no epoch was run.
	MeanLoss float64

	Elapsed time.Duration
}

// EpochReport is sent to the Observer after each fine-tuning epoch.
type EpochReport struct {
	// Epoch number, starting from 1.
	Epoch, NumEpochs int

	// MeanLoss of the batches of the epoch.
	MeanLoss float64

	TrainError, TrainCost float64
	TestError, TestCost   float64

	// Improved is set if this epoch's test cost is the best so far.
	Improved bool

	// Best record after this epoch.
	Best BestModel

	Elapsed time.Duration
}

// Observer of the training progress. Observers are called synchronously from the training loop, and they
// can't interrupt training.
type Observer interface {
	OnPretrainLayer(report LayerReport)
	OnFinetuneEpoch(report EpochReport)
}

// NoopObserver ignores all reports.
type NoopObserver struct{}

func (NoopObserver) OnPretrainLayer(LayerReport) {}
func (NoopObserver) OnFinetuneEpoch(EpochReport) {}

// LogObserver logs the reports with klog, at verbosity level 1.
type LogObserver struct{}

// OnPretrainLayer implements Observer.
func (LogObserver) OnPretrainLayer(r LayerReport) {
	klog.V(1).Infof("pretrained layer #%d of %d (%d -> %d) for %d epochs in %s, loss = %f",
		r.Layer+1, r.NumLayers, r.InputDim, r.OutputDim, r.Epochs, r.Elapsed, r.MeanLoss)
}

// OnFinetuneEpoch implements Observer.
func (LogObserver) OnFinetuneEpoch(r EpochReport) {
	klog.V(1).Infof("epoch #%d, loss = %f, train error = %f, train cost = %f, test error = %f, test cost = %f",
		r.Epoch, r.MeanLoss, r.TrainError, r.TrainCost, r.TestError, r.TestCost)
}

// Observers fans out the reports to all its elements, in order.
type Observers []Observer

// OnPretrainLayer implements Observer.
func (obs Observers) OnPretrainLayer(r LayerReport) {
	for _, o := range obs {
		if o != nil {
			o.OnPretrainLayer(r)
		}
	}
}

// OnFinetuneEpoch implements Observer.
func (obs Observers) OnFinetuneEpoch(r EpochReport) {
	for _, o := range obs {
		if o != nil {
			o.OnFinetuneEpoch(r)
		}
	}
}

func observerOrNoop(o Observer) Observer {
	if o == nil {
		return NoopObserver{}
	}
	return o
}
