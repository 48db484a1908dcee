// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

package csdnn

import (
	"fmt"
	"math"
)

// BestModel records the fine-tuning epoch with the lowest test cost seen so far.
type BestModel struct {
	// Cost is the lowest test cost seen, +Inf if none yet.
	Cost float64

	// Epoch (1-based) where Cost was observed, 0 if none yet.
	Epoch int

	// ErrorRate on the test set at Epoch, NaN if none yet.
	ErrorRate float64
}

// NewBestModel returns the initial record: no epoch yet.
func NewBestModel() BestModel {
	return BestModel{Cost: math.Inf(1), Epoch: 0, ErrorRate: math.NaN()}
}

// Found returns whether any epoch was recorded.
func (b BestModel) Found() bool {
	return b.Epoch > 0
}

// Update the record if cost is strictly lower than the best so far, and returns whether it was updated.
// Ties keep the earlier epoch.
func (b *BestModel) Update(epoch int, cost, errorRate float64) bool {
	if !(cost < b.Cost) {
		return false
	}
	b.Cost = cost
	b.Epoch = epoch
	b.ErrorRate = errorRate
	return true
}

// String implements fmt.Stringer.
func (b BestModel) String() string {
	if !b.Found() {
		return "no best model yet"
	}
	return fmt.Sprintf("best cost = %f, occurred in epoch #%d, corresponding error = %f", b.Cost, b.Epoch, b.ErrorRate)
}
