// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

package plots

import (
	"math"
	"os"
	"path/filepath"
	"testing"

	"github.com/gomlx/csdnn/pkg/ml/models/csdnn"
	"github.com/gomlx/csdnn/pkg/ml/train/metrics"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func collect(t *testing.T) *Collector {
	c := NewCollector()
	c.OnPretrainLayer(csdnn.LayerReport{Layer: 0, NumLayers: 1, MeanLoss: 3})
	for epoch := 1; epoch <= 3; epoch++ {
		c.OnFinetuneEpoch(csdnn.EpochReport{
			Epoch: epoch, NumEpochs: 3,
			MeanLoss:   1 / float64(epoch),
			TrainError: 0.1, TrainCost: 0.2,
			TestError: 0.15, TestCost: 0.3 / float64(epoch),
		})
	}
	require.Len(t, c.Points(), 15)
	return c
}

func TestCollector(t *testing.T) {
	c := collect(t)
	points := NewPoints(c.Points())
	assert.Len(t, points, 3)
	assert.Equal(t, []string{metrics.CostType, metrics.ErrorType, metrics.LossType}, points.MetricsTypes())
	assert.Equal(t, []string{"Test Cost", "Train Cost", "Test Error", "Train Error", "Train Loss"}, points.MetricsNames())
	assert.Contains(t, points.String(), "Train Loss")

	// Non-finite values are not collected.
	c.OnFinetuneEpoch(csdnn.EpochReport{Epoch: 4, MeanLoss: math.NaN(), TestCost: math.Inf(1)})
	assert.Len(t, c.Points(), 18)
}

func TestSaveAndLoadPoints(t *testing.T) {
	c := collect(t)
	filePath := filepath.Join(t.TempDir(), "points.jsonl")
	require.NoError(t, SavePoints(filePath, c.Points()))
	loaded, err := LoadPoints(filePath)
	require.NoError(t, err)
	assert.Equal(t, c.Points(), loaded)
	assert.Equal(t, c.Points(), NewPoints(loaded).Extract())

	_, err = LoadPoints(filepath.Join(t.TempDir(), "missing.jsonl"))
	require.Error(t, err)
}

func TestSavePNG(t *testing.T) {
	c := collect(t)
	filePath := filepath.Join(t.TempDir(), "curves.png")
	require.NoError(t, SavePNG(filePath, "test", c.Points()))
	contents, err := os.ReadFile(filePath)
	require.NoError(t, err)
	require.Greater(t, len(contents), 8)
	assert.Equal(t, "\x89PNG", string(contents[:4]))

	require.Error(t, SavePNG(filePath, "empty", nil))
}
