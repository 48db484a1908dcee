// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

// Package tabular loads datasets from CSV files: one example per row, one column with the integer class label
// and all the other columns numeric features.
package tabular

import (
	"math"
	"os"

	"github.com/go-gota/gota/dataframe"
	"github.com/go-gota/gota/series"
	"github.com/gomlx/csdnn/pkg/ml/datasets"
	"github.com/gomlx/csdnn/pkg/support/fsutil"
	"github.com/pkg/errors"
	"gonum.org/v1/gonum/mat"
	"k8s.io/klog/v2"
)

// LoadDataFrame reads the CSV file (with a header line) into a DataFrame.
func LoadDataFrame(path string) (dataframe.DataFrame, error) {
	path, err := fsutil.ReplaceTildeInDir(path)
	if err != nil {
		return dataframe.DataFrame{}, err
	}
	f, err := os.Open(path)
	if err != nil {
		return dataframe.DataFrame{}, errors.Wrapf(err, "failed to open %q", path)
	}
	defer func() { _ = f.Close() }()
	df := dataframe.ReadCSV(f, dataframe.HasHeader(true), dataframe.DetectTypes(true))
	if df.Err != nil {
		return dataframe.DataFrame{}, errors.Wrapf(df.Err, "failed to parse CSV %q", path)
	}
	return df, nil
}

// LoadCSV loads the CSV file into a Set, using labelColumn as the label and all other columns as features.
// Costs are left nil, see costmatrix.ClassToExample.
func LoadCSV(path, labelColumn string) (datasets.Set, error) {
	df, err := LoadDataFrame(path)
	if err != nil {
		return datasets.Set{}, err
	}
	set, err := FromDataFrame(df, labelColumn)
	if err != nil {
		return datasets.Set{}, errors.WithMessagef(err, "tabular.LoadCSV(%q)", path)
	}
	klog.V(1).Infof("tabular: loaded %s from %q", set, path)
	return set, nil
}

// FromDataFrame converts df to a Set: labelColumn must hold non-negative integers, and every other column
// must be numeric with no missing values.
func FromDataFrame(df dataframe.DataFrame, labelColumn string) (datasets.Set, error) {
	numRows := df.Nrow()
	if numRows == 0 {
		return datasets.Set{}, errors.New("no rows")
	}
	found := false
	for _, name := range df.Names() {
		if name == labelColumn {
			found = true
			break
		}
	}
	if !found {
		return datasets.Set{}, errors.Errorf("label column %q not found in %q", labelColumn, df.Names())
	}

	labelsCol := df.Col(labelColumn)
	labels := make([]int, numRows)
	for row, value := range labelsCol.Float() {
		if math.IsNaN(value) || value < 0 || value != math.Trunc(value) {
			return datasets.Set{}, errors.Errorf("row %d: invalid label %q, it must be a non-negative integer",
				row, labelsCol.Elem(row).String())
		}
		labels[row] = int(value)
	}

	featuresDF := df.Drop(labelColumn)
	if featuresDF.Err != nil {
		return datasets.Set{}, featuresDF.Err
	}
	numFeatures := featuresDF.Ncol()
	if numFeatures == 0 {
		return datasets.Set{}, errors.New("no feature columns")
	}
	features := mat.NewDense(numRows, numFeatures, nil)
	for colIdx, name := range featuresDF.Names() {
		col := featuresDF.Col(name)
		switch col.Type() {
		case series.Int, series.Float, series.Bool:
		default:
			return datasets.Set{}, errors.Errorf("feature column %q is of type %s, only numeric columns are supported",
				name, col.Type())
		}
		for row, value := range col.Float() {
			if math.IsNaN(value) {
				return datasets.Set{}, errors.Errorf("feature column %q, row %d: missing or invalid value", name, row)
			}
			features.Set(row, colIdx, value)
		}
	}
	return datasets.Set{Features: features, Labels: labels}, nil
}

// NumClasses returns the number of classes needed to cover the labels of all the sets: the largest label plus one.
func NumClasses(sets ...datasets.Set) int {
	numClasses := 0
	for _, set := range sets {
		for _, label := range set.Labels {
			numClasses = max(numClasses, label+1)
		}
	}
	return numClasses
}

// NormalizeMinMax scales each feature column to [0, 1] using the range observed in trainSet, and applies the same
// transformation to the others sets. Values in the other sets outside the train range are not clipped.
// Constant columns are set to 0. It changes the features in place.
func NormalizeMinMax(trainSet datasets.Set, others ...datasets.Set) error {
	numFeatures := trainSet.NumFeatures()
	for ii, set := range others {
		if set.NumFeatures() != numFeatures {
			return errors.Wrapf(datasets.ErrShapeMismatch, "set #%d has %d features, train set has %d",
				ii, set.NumFeatures(), numFeatures)
		}
	}
	minValues := make([]float64, numFeatures)
	scales := make([]float64, numFeatures)
	for col := range numFeatures {
		values := mat.Col(nil, col, trainSet.Features)
		minV, maxV := values[0], values[0]
		for _, v := range values {
			minV = min(minV, v)
			maxV = max(maxV, v)
		}
		minValues[col] = minV
		if maxV > minV {
			scales[col] = 1 / (maxV - minV)
		}
	}
	for _, set := range append([]datasets.Set{trainSet}, others...) {
		set.Features.Apply(func(_, col int, v float64) float64 {
			return (v - minValues[col]) * scales[col]
		}, set.Features)
	}
	return nil
}
