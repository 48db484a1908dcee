// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

package train

import (
	"fmt"
	"math"
	"testing"
	"time"

	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"k8s.io/klog/v2"
)

func init() {
	klog.InitFlags(nil)
}

func TestLoopOrder(t *testing.T) {
	loop := NewLoop("test", 10, 3, DropRemainder)
	var events []string
	loop.OnStart("start", 0, func(loop *Loop) error {
		events = append(events, "start")
		return nil
	})
	loop.OnStep("step", 0, func(loop *Loop, batch Batch, loss float64) error {
		events = append(events, fmt.Sprintf("step %d:%d loss=%g", loop.Epoch, batch.Index, loss))
		return nil
	})
	loop.OnEpoch("epoch", 0, func(loop *Loop, meanLoss float64) error {
		events = append(events, fmt.Sprintf("epoch %d mean=%g", loop.Epoch, meanLoss))
		return nil
	})
	// Lower priority runs first.
	loop.OnEpoch("first", -1, func(loop *Loop, meanLoss float64) error {
		events = append(events, "first")
		return nil
	})
	loop.OnEnd("end", 0, func(loop *Loop) error {
		events = append(events, "end")
		return nil
	})

	var starts []int
	meanLoss, err := loop.RunEpochs(2, func(batch Batch) (float64, error) {
		starts = append(starts, batch.Start)
		return float64(batch.Index), nil
	})
	require.NoError(t, err)
	assert.Equal(t, 1.0, meanLoss)
	assert.Equal(t, []int{0, 3, 6, 0, 3, 6}, starts)
	assert.Equal(t, []string{
		"start",
		"step 0:0 loss=0", "step 0:1 loss=1", "step 0:2 loss=2", "first", "epoch 0 mean=1",
		"step 1:0 loss=0", "step 1:1 loss=1", "step 1:2 loss=2", "first", "epoch 1 mean=1",
		"end",
	}, events)
	assert.Equal(t, 6, loop.LoopStep)
	assert.Equal(t, 6, loop.EndStep)
	assert.Len(t, loop.TrainStepDurations, 6)
	assert.Equal(t, []float64{1, 1}, loop.EpochLosses)
	assert.GreaterOrEqual(t, loop.MedianTrainStepDuration(), time.Duration(0))
}

func TestLoopErrors(t *testing.T) {
	// NaN loss interrupts training.
	loop := NewLoop("nan", 4, 2, DropRemainder)
	calls := 0
	_, err := loop.RunEpochs(3, func(batch Batch) (float64, error) {
		calls++
		return math.NaN(), nil
	})
	require.Error(t, err)
	assert.Equal(t, 1, calls)

	// Infinite loss too.
	_, err = NewLoop("inf", 4, 2, DropRemainder).RunEpochs(1, func(batch Batch) (float64, error) {
		return math.Inf(1), nil
	})
	require.ErrorContains(t, err, "infinity")

	// Panics are converted to errors.
	_, err = NewLoop("panic", 4, 2, DropRemainder).RunEpochs(1, func(batch Batch) (float64, error) {
		panic(errors.New("boom"))
	})
	require.ErrorContains(t, err, "boom")

	// Errors from the step function are returned.
	sentinel := errors.New("step failed")
	_, err = NewLoop("error", 4, 2, DropRemainder).RunEpochs(1, func(batch Batch) (float64, error) {
		return 0, sentinel
	})
	require.ErrorIs(t, err, sentinel)

	// Partition errors.
	_, err = NewLoop("incomplete", 5, 2, ErrorOnRemainder).RunEpochs(1, func(batch Batch) (float64, error) {
		return 0, nil
	})
	require.ErrorIs(t, err, ErrIncompleteBatch)

	// Zero epochs: nothing happens.
	loop = NewLoop("zero", 0, 2, DropRemainder)
	loop.OnStart("start", 0, func(loop *Loop) error { return errors.New("should not be called") })
	_, err = loop.RunEpochs(0, func(batch Batch) (float64, error) { return 0, nil })
	require.NoError(t, err)

	// Hook errors.
	loop = NewLoop("hook", 4, 2, DropRemainder)
	loop.OnEpoch("failing", 0, func(loop *Loop, meanLoss float64) error { return errors.New("hook failed") })
	_, err = loop.RunEpochs(2, func(batch Batch) (float64, error) { return 0, nil })
	require.ErrorContains(t, err, "hook failed")
	assert.Equal(t, 2, loop.LoopStep)
}

func TestLoopOnError(t *testing.T) {
	loop := NewLoop("failing", 4, 2, DropRemainder)
	var events []string
	loop.OnEnd("end", 0, func(loop *Loop) error {
		events = append(events, "end")
		return nil
	})
	loop.OnError("error", 0, func(loop *Loop, err error) {
		events = append(events, "error: "+err.Error())
	})
	loop.OnError("panicking", 1, func(loop *Loop, err error) {
		panic(errors.New("hook panic"))
	})
	sentinel := errors.New("step failed")
	_, err := loop.RunEpochs(2, func(batch Batch) (float64, error) {
		if batch.Index == 1 {
			return 0, sentinel
		}
		return 0, nil
	})
	require.ErrorIs(t, err, sentinel)
	require.Len(t, events, 1)
	assert.Contains(t, events[0], "step failed")

	// A failing OnStart hook also triggers OnError, and a successful run doesn't.
	loop = NewLoop("start", 4, 2, DropRemainder)
	numErrors := 0
	loop.OnStart("start", 0, func(loop *Loop) error { return errors.New("start failed") })
	loop.OnError("error", 0, func(loop *Loop, err error) { numErrors++ })
	_, err = loop.RunEpochs(1, func(batch Batch) (float64, error) { return 0, nil })
	require.ErrorContains(t, err, "start failed")
	assert.Equal(t, 1, numErrors)

	loop = NewLoop("ok", 4, 2, DropRemainder)
	loop.OnError("error", 0, func(loop *Loop, err error) { numErrors++ })
	_, err = loop.RunEpochs(1, func(batch Batch) (float64, error) { return 0, nil })
	require.NoError(t, err)
	assert.Equal(t, 1, numErrors)
}
