// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

// Package train holds the training loop shared by the layer-wise pretraining and the fine-tuning:
// batch partitioning (Partition), the Loop with its hooks, and the optimizers and metrics sub-packages.
package train

import (
	"iter"
	"math"
	"slices"
	"sort"
	"time"

	"github.com/gomlx/exceptions"
	"github.com/pkg/errors"
	"k8s.io/klog/v2"
)

// Priority for hooks, the lowest values are run first. Defaults to 0, but negative
// values are ok.
type Priority int

// StepFn trains on one batch and returns the batch loss.
type StepFn func(batch Batch) (loss float64, err error)

// OnStartFn is the type of OnStart hooks.
type OnStartFn func(loop *Loop) error

// OnStepFn is the type of OnStep hooks.
type OnStepFn func(loop *Loop, batch Batch, loss float64) error

// OnEpochFn is the type of OnEpoch hooks. meanLoss is the mean of the batch losses of the epoch.
type OnEpochFn func(loop *Loop, meanLoss float64) error

// OnEndFn is the type of OnEnd hooks.
type OnEndFn func(loop *Loop) error

// OnErrorFn is the type of OnError hooks. err is the error RunEpochs is about to return.
type OnErrorFn func(loop *Loop, err error)

// Loop runs epochs of mini-batch training, calling a StepFn for every batch, and the
// appropriate hooks.
//
// Batches are always run in ascending order, and epochs sequentially. It converts panics
// in the step function (or hooks) to errors, and it interrupts training if a batch loss is NaN or
// infinite.
//
// By itself it doesn't do much, but one can attach functionality to it, like
// progress bars, plotting tools or evaluation at the end of each epoch.
//
// The public attributes are meant for reading only, don't change them -- behavior
// can be undefined.
type Loop struct {
	// Name of the loop, used in error messages and by UIs.
	Name string

	NumExamples, BatchSize int
	Policy                 BatchPolicy

	// Batches of each epoch, set at the start of a run.
	Batches []Batch

	// LoopStep currently being executed. It counts steps (batches) across epochs.
	LoopStep int

	// StartStep is the value of LoopStep at the start of a run.
	StartStep int

	// EndStep is one-past the last step to be executed. It is only set and valid during a run.
	EndStep int

	// Epoch is set to the current running epoch, starting from 0.
	Epoch int

	// NumEpochs requested for the current run.
	NumEpochs int

	// SharedData allows for cross-tools to publish and consume information. Keys (strings)
	// and semantics/type of their values are not specified by loop.
	SharedData map[string]any

	// TrainStepDurations collected during training.
	TrainStepDurations []time.Duration

	// EpochLosses holds the mean batch loss of each epoch completed so far.
	EpochLosses []float64

	// Registered hooks.
	onStart *priorityHooks[*hookWithName[OnStartFn]]
	onStep  *priorityHooks[*hookWithName[OnStepFn]]
	onEpoch *priorityHooks[*hookWithName[OnEpochFn]]
	onEnd   *priorityHooks[*hookWithName[OnEndFn]]
	onError *priorityHooks[*hookWithName[OnErrorFn]]
}

// NewLoop creates a new training loop over numExamples, split into batches of batchSize according
// to policy. The batches are only computed (and validated) when RunEpochs is called.
func NewLoop(name string, numExamples, batchSize int, policy BatchPolicy) *Loop {
	return &Loop{
		Name:        name,
		NumExamples: numExamples,
		BatchSize:   batchSize,
		Policy:      policy,
		SharedData:  make(map[string]any),
		onStart:     newPriorityHooks[*hookWithName[OnStartFn]](),
		onStep:      newPriorityHooks[*hookWithName[OnStepFn]](),
		onEpoch:     newPriorityHooks[*hookWithName[OnEpochFn]](),
		onEnd:       newPriorityHooks[*hookWithName[OnEndFn]](),
		onError:     newPriorityHooks[*hookWithName[OnErrorFn]](),
	}
}

// start of loop, it calls the appropriate hooks.
func (loop *Loop) start() error {
	for hook := range loop.onStart.All() {
		if err := hook.fn(loop); err != nil {
			return errors.WithMessagef(err, "OnStart(hook %q)", hook.name)
		}
	}
	return nil
}

// step runs stepFn on the batch, timing it, and then calls postStep.
func (loop *Loop) step(batch Batch, stepFn StepFn) (loss float64, err error) {
	startTime := time.Now()
	var stepErr error
	err = exceptions.TryCatch[error](func() {
		loss, stepErr = stepFn(batch)
	})
	if err == nil {
		err = stepErr
	}
	loop.TrainStepDurations = append(loop.TrainStepDurations, time.Since(startTime))
	if err != nil {
		return 0, err
	}
	if err = loop.postStep(batch, loss); err != nil {
		return 0, err
	}
	return loss, nil
}

// postStep calls the onStep hooks and checks for NaN loss, and returns an error accordingly.
func (loop *Loop) postStep(batch Batch, loss float64) error {
	for hook := range loop.onStep.All() {
		if err := hook.fn(loop, batch, loss); err != nil {
			return errors.WithMessagef(err, "train.Loop.OnStep(hook %q)", hook.name)
		}
	}
	if math.IsNaN(loss) {
		return errors.Errorf("batch loss is NaN, training interrupted")
	}
	if math.IsInf(loss, 0) {
		return errors.Errorf("batch loss is infinity (%f), training interrupted", loss)
	}
	return nil
}

// endEpoch calls the OnEpoch hooks, after all the batches of the epoch were run.
func (loop *Loop) endEpoch(meanLoss float64) error {
	for hook := range loop.onEpoch.All() {
		if err := hook.fn(loop, meanLoss); err != nil {
			return errors.WithMessagef(err, "OnEpoch(hook %q)", hook.name)
		}
	}
	return nil
}

// end of loop, it calls the appropriate hooks.
func (loop *Loop) end() error {
	for hook := range loop.onEnd.All() {
		if err := hook.fn(loop); err != nil {
			return errors.WithMessagef(err, "OnEnd(hook %q)", hook.name)
		}
	}
	return nil
}

// failed calls the OnError hooks, and returns err. Panics in the hooks are logged and ignored, so they
// never mask err.
func (loop *Loop) failed(err error) error {
	for hook := range loop.onError.All() {
		if hookErr := exceptions.TryCatch[error](func() { hook.fn(loop, err) }); hookErr != nil {
			klog.Errorf("Loop(%q): OnError(hook %q) panicked: %+v", loop.Name, hook.name, hookErr)
		}
	}
	return err
}

// RunEpochs runs stepFn over every batch, for the given number of epochs.
// Loop.Epoch is set to the current running epoch.
//
// It returns the mean batch loss of the last epoch. If epochs is 0 it does nothing: not even the
// hooks are called.
//
// If the run fails once started (including in an OnStart hook), the OnError hooks are called
// instead of the OnEnd hooks.
func (loop *Loop) RunEpochs(epochs int, stepFn StepFn) (meanLoss float64, err error) {
	if epochs < 0 {
		return 0, errors.Errorf("Loop(%q).RunEpochs(%d): invalid number of epochs", loop.Name, epochs)
	}
	if epochs == 0 {
		return 0, nil
	}
	loop.Batches, err = Partition(loop.NumExamples, loop.BatchSize, loop.Policy)
	if err != nil {
		return 0, errors.WithMessagef(err, "Loop(%q).RunEpochs(%d)", loop.Name, epochs)
	}
	loop.NumEpochs = epochs
	loop.StartStep = loop.LoopStep
	loop.EndStep = loop.LoopStep + epochs*len(loop.Batches)
	loop.TrainStepDurations = make([]time.Duration, 0, loop.EndStep-loop.StartStep)
	loop.EpochLosses = make([]float64, 0, epochs)
	loop.Epoch = 0

	if err = runCatching(loop.start); err != nil {
		return 0, loop.failed(errors.WithMessagef(err, "Loop(%q).RunEpochs(%d)", loop.Name, epochs))
	}
	for loop.Epoch = 0; loop.Epoch < epochs; loop.Epoch++ {
		var sumLoss float64
		for _, batch := range loop.Batches {
			loss, err := loop.step(batch, stepFn)
			if err != nil {
				return 0, loop.failed(errors.WithMessagef(err, "Loop(%q).RunEpochs(%d): failed train step (epoch=%d, %s, LoopStep=%d)",
					loop.Name, epochs, loop.Epoch+1, batch, loop.LoopStep))
			}
			sumLoss += loss
			loop.LoopStep++
		}
		meanLoss = sumLoss / float64(len(loop.Batches))
		loop.EpochLosses = append(loop.EpochLosses, meanLoss)
		if err = runCatching(func() error { return loop.endEpoch(meanLoss) }); err != nil {
			return 0, loop.failed(errors.WithMessagef(err, "Loop(%q).RunEpochs(%d): epoch %d", loop.Name, epochs, loop.Epoch+1))
		}
	}
	loop.Epoch = epochs - 1
	if err = runCatching(loop.end); err != nil {
		return 0, loop.failed(errors.WithMessagef(err, "Loop(%q).RunEpochs(%d): failed end (LoopStep=%d)", loop.Name, epochs, loop.LoopStep))
	}
	return meanLoss, nil
}

// runCatching runs fn, and converts a panic to an error.
func runCatching(fn func() error) error {
	var fnErr error
	err := exceptions.TryCatch[error](func() { fnErr = fn() })
	if err != nil {
		return err
	}
	return fnErr
}

// MedianTrainStepDuration returns the median duration of each training step. It returns 1 millisecond
// if no training step was recorded (to avoid potential division by 0).
func (loop *Loop) MedianTrainStepDuration() time.Duration {
	if len(loop.TrainStepDurations) == 0 {
		return time.Millisecond
	}
	times := slices.Clone(loop.TrainStepDurations)
	slices.Sort(times)
	return times[len(times)/2]
}

// OnStart adds a hook with given priority and name (for error reporting) to the start of a loop.
func (loop *Loop) OnStart(name string, priority Priority, fn OnStartFn) {
	loop.onStart.Add(priority, &hookWithName[OnStartFn]{name: name, fn: fn})
}

// OnStep adds a hook with given priority and name (for error reporting) to each step of a loop.
// The function `fn` is called after each batch is trained.
func (loop *Loop) OnStep(name string, priority Priority, fn OnStepFn) {
	loop.onStep.Add(priority, &hookWithName[OnStepFn]{name: name, fn: fn})
}

// OnEpoch adds a hook with given priority and name (for error reporting) to the end of each epoch,
// after every batch of the epoch was trained, and before the next epoch starts.
func (loop *Loop) OnEpoch(name string, priority Priority, fn OnEpochFn) {
	loop.onEpoch.Add(priority, &hookWithName[OnEpochFn]{name: name, fn: fn})
}

// OnEnd adds a hook with given priority and name (for error reporting) to the end of a loop,
// after the last epoch.
func (loop *Loop) OnEnd(name string, priority Priority, fn OnEndFn) {
	loop.onEnd.Add(priority, &hookWithName[OnEndFn]{name: name, fn: fn})
}

// OnError adds a hook with given priority and name, called when a run fails after it started. Hooks
// that hold resources acquired in OnStart should release them here too.
func (loop *Loop) OnError(name string, priority Priority, fn OnErrorFn) {
	loop.onError.Add(priority, &hookWithName[OnErrorFn]{name: name, fn: fn})
}

// hookWithName stores a hook name and function.
type hookWithName[F any] struct {
	name string
	fn   F
}

// priorityHooks organizes hooks for type F per priority.
type priorityHooks[H any] struct {
	hooks map[Priority][]H
}

func newPriorityHooks[H any]() *priorityHooks[H] {
	return &priorityHooks[H]{
		hooks: make(map[Priority][]H),
	}
}

// Add hook at the given priority.
func (h *priorityHooks[H]) Add(priority Priority, hook H) {
	h.hooks[priority] = append(h.hooks[priority], hook)
}

// All returns an iterator over all registered hooks in priority order.
// Hooks with the same priority are returned in the order they were added.
func (h *priorityHooks[H]) All() iter.Seq[H] {
	return func(yield func(H) bool) {
		keys := make([]Priority, 0, len(h.hooks))
		for key := range h.hooks {
			keys = append(keys, key)
		}
		sort.Slice(keys, func(i, j int) bool {
			return keys[i] < keys[j]
		})
		for _, key := range keys {
			for _, hook := range h.hooks[key] {
				if !yield(hook) {
					return
				}
			}
		}
	}
}
