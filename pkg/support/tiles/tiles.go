// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

// Package tiles renders matrices whose rows are flattened images (like the filters learned by an
// encoding layer) into a single grayscale image of tiles.
package tiles

import (
	"image"
	"image/color"

	"github.com/disintegration/imaging"
	"github.com/gomlx/csdnn/pkg/support/fsutil"
	"github.com/gomlx/csdnn/pkg/support/xslices"
	"github.com/pkg/errors"
	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/mat"
)

// scaleEpsilon avoids division by zero when scaling constant rows.
const scaleEpsilon = 1e-8

// Shape is a (height, width) or (rows, cols) pair.
type Shape struct {
	Height, Width int
}

// TileRasterImages arranges the rows of x as a grid of tileShape images of imgShape (row-major pixel order),
// separated by spacing pixels (height and width) of black. Each row is scaled to [0, 1] independently before
// being converted to a gray level.
//
// Rows are laid out row-major in the grid. If x has fewer rows than tiles, the remaining tiles are left black;
// extra rows are ignored.
func TileRasterImages(x *mat.Dense, imgShape, tileShape, spacing Shape) (*image.Gray, error) {
	_, cols := x.Dims()
	if imgShape.Height <= 0 || imgShape.Width <= 0 || tileShape.Height <= 0 || tileShape.Width <= 0 ||
		spacing.Height < 0 || spacing.Width < 0 {
		return nil, errors.Errorf("tiles.TileRasterImages: invalid shapes image=%v, tiles=%v, spacing=%v",
			imgShape, tileShape, spacing)
	}
	if cols != imgShape.Height*imgShape.Width {
		return nil, errors.Errorf("tiles.TileRasterImages: rows have %d values, but image shape %v requires %d",
			cols, imgShape, imgShape.Height*imgShape.Width)
	}
	outHeight := (imgShape.Height+spacing.Height)*tileShape.Height - spacing.Height
	outWidth := (imgShape.Width+spacing.Width)*tileShape.Width - spacing.Width
	out := image.NewGray(image.Rect(0, 0, outWidth, outHeight))

	rows, _ := x.Dims()
	numTiles := min(rows, tileShape.Height*tileShape.Width)
	indices := make([]int, numTiles)
	for ii := range indices {
		indices[ii] = ii
	}
	// Scaling is independent per row.
	scaled := xslices.MapParallel(indices, func(row int) []float64 {
		return scaleToUnitInterval(x.RawRowView(row))
	})
	for tileIdx, values := range scaled {
		top := (tileIdx / tileShape.Width) * (imgShape.Height + spacing.Height)
		left := (tileIdx % tileShape.Width) * (imgShape.Width + spacing.Width)
		for ii, v := range values {
			out.SetGray(left+ii%imgShape.Width, top+ii/imgShape.Width, color.Gray{Y: uint8(v*255 + 0.5)})
		}
	}
	return out, nil
}

// scaleToUnitInterval returns a copy of values scaled to [0, 1].
func scaleToUnitInterval(values []float64) []float64 {
	scaled := make([]float64, len(values))
	copy(scaled, values)
	floats.AddConst(-floats.Min(scaled), scaled)
	floats.Scale(1/(floats.Max(scaled)+scaleEpsilon), scaled)
	return scaled
}

// SaveFilters saves the filters of an encoding layer (weights shaped [inputDim, outputDim]) as a tiled image:
// each column of weights is one filter, rendered with imgShape. The image is upscaled by scale (if > 1) and
// saved to filePath, with the format given by its extension.
func SaveFilters(filePath string, weights mat.Matrix, imgShape, tileShape Shape, scale int) error {
	filePath, err := fsutil.ReplaceTildeInDir(filePath)
	if err != nil {
		return err
	}
	img, err := TileRasterImages(mat.DenseCopyOf(weights.T()), imgShape, tileShape, Shape{1, 1})
	if err != nil {
		return errors.WithMessagef(err, "tiles.SaveFilters(%q)", filePath)
	}
	var toSave image.Image = img
	if scale > 1 {
		bounds := img.Bounds()
		toSave = imaging.Resize(img, bounds.Dx()*scale, bounds.Dy()*scale, imaging.NearestNeighbor)
	}
	if err = imaging.Save(toSave, filePath); err != nil {
		return errors.Wrapf(err, "tiles.SaveFilters: failed to save %q", filePath)
	}
	return nil
}
