// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

package train

import (
	"fmt"
	"strings"

	"github.com/pkg/errors"
)

// BatchPolicy defines what to do with the trailing examples when the number of examples is not
// a multiple of the batch size.
type BatchPolicy int

const (
	// DropRemainder ignores the trailing examples that don't fill a complete batch.
	DropRemainder BatchPolicy = iota

	// PadRemainder completes the last batch with examples taken (wrapping around) from the start
	// of the dataset.
	PadRemainder

	// ErrorOnRemainder makes Partition fail with ErrIncompleteBatch.
	ErrorOnRemainder
)

// ParamBatchPolicy is the context hyperparameter with the name of the BatchPolicy: "drop", "pad" or "error".
const ParamBatchPolicy = "batch_policy"

var batchPolicyNames = []string{"drop", "pad", "error"}

// String implements fmt.Stringer.
func (p BatchPolicy) String() string {
	if p < 0 || int(p) >= len(batchPolicyNames) {
		return fmt.Sprintf("BatchPolicy(%d)", int(p))
	}
	return batchPolicyNames[p]
}

// BatchPolicyFromName converts "drop", "pad" or "error" to the corresponding BatchPolicy.
func BatchPolicyFromName(name string) (BatchPolicy, error) {
	for ii, policyName := range batchPolicyNames {
		if strings.EqualFold(name, policyName) {
			return BatchPolicy(ii), nil
		}
	}
	return DropRemainder, errors.Errorf("unknown batch policy %q, valid values are %q", name, batchPolicyNames)
}

var (
	// ErrIncompleteBatch is returned by Partition with ErrorOnRemainder, if the number of examples is not
	// a multiple of the batch size.
	ErrIncompleteBatch = errors.New("number of examples is not a multiple of the batch size")

	// ErrNoBatches is returned by Partition when there would be no batch to train on.
	ErrNoBatches = errors.New("no batches to train on")
)

// Batch is a contiguous range of rows [Start, End) of a dataset, optionally followed by the rows
// [0, Wrap) when it was padded with PadRemainder.
type Batch struct {
	// Index of the batch within the epoch, starting from 0.
	Index int

	Start, End int

	// Wrap is the number of rows appended from the start of the dataset. If it is larger than End (the number
	// of examples in the dataset) the rows wrap around more than once.
	Wrap int
}

// Size of the batch, including the wrapped rows.
func (b Batch) Size() int {
	return b.End - b.Start + b.Wrap
}

// IsContiguous returns whether the batch has no wrapped rows.
func (b Batch) IsContiguous() bool {
	return b.Wrap == 0
}

// Indices returns the row indices of the batch, in order.
func (b Batch) Indices() []int {
	indices := make([]int, 0, b.Size())
	for ii := b.Start; ii < b.End; ii++ {
		indices = append(indices, ii)
	}
	for ii := range b.Wrap {
		indices = append(indices, ii%b.End)
	}
	return indices
}

// String implements fmt.Stringer.
func (b Batch) String() string {
	if b.Wrap > 0 {
		return fmt.Sprintf("batch #%d [%d, %d)+[0, %d)", b.Index, b.Start, b.End, b.Wrap)
	}
	return fmt.Sprintf("batch #%d [%d, %d)", b.Index, b.Start, b.End)
}

// Partition numExamples into batches of batchSize, in ascending order.
// The handling of the trailing examples is given by policy.
//
// It returns ErrNoBatches if there would be no batches (e.g.: numExamples < batchSize with DropRemainder),
// and ErrIncompleteBatch if using ErrorOnRemainder and numExamples is not a multiple of batchSize.
func Partition(numExamples, batchSize int, policy BatchPolicy) ([]Batch, error) {
	if batchSize <= 0 {
		return nil, errors.Errorf("invalid batch size %d", batchSize)
	}
	if numExamples < 0 {
		return nil, errors.Errorf("invalid number of examples %d", numExamples)
	}
	numFull := numExamples / batchSize
	remainder := numExamples % batchSize
	if remainder > 0 && policy == ErrorOnRemainder {
		return nil, errors.Wrapf(ErrIncompleteBatch, "%d examples, batch size %d", numExamples, batchSize)
	}
	batches := make([]Batch, 0, numFull+1)
	for ii := range numFull {
		batches = append(batches, Batch{Index: ii, Start: ii * batchSize, End: (ii + 1) * batchSize})
	}
	switch policy {
	case DropRemainder, ErrorOnRemainder:
	case PadRemainder:
		if remainder > 0 {
			batches = append(batches, Batch{Index: numFull, Start: numFull * batchSize, End: numExamples,
				Wrap: batchSize - remainder})
		}
	default:
		return nil, errors.Errorf("invalid batch policy %s", policy)
	}
	if len(batches) == 0 {
		return nil, errors.Wrapf(ErrNoBatches, "%d examples, batch size %d, policy %s", numExamples, batchSize, policy)
	}
	return batches, nil
}
