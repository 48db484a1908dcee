// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

// Package mnist loads the MNIST database of handwritten digits, from its IDX files.
package mnist

import (
	"compress/gzip"
	"encoding/binary"
	"io"
	"net/url"
	"os"
	"path"

	"github.com/gomlx/csdnn/pkg/ml/datasets"
	"github.com/gomlx/csdnn/pkg/support/fsutil"
	"github.com/pkg/errors"
	"gonum.org/v1/gonum/mat"
	"k8s.io/klog/v2"
)

const (
	DownloadURL         = "https://storage.googleapis.com/cvdf-datasets/mnist"
	trainImagesFilename = "train-images-idx3-ubyte.gz"
	trainLabelsFilename = "train-labels-idx1-ubyte.gz"
	testImagesFilename  = "t10k-images-idx3-ubyte.gz"
	testLabelsFilename  = "t10k-labels-idx1-ubyte.gz"

	Width      = 28
	Height     = 28
	NumClasses = 10

	imageMagic = 0x00000803
	labelMagic = 0x00000801
)

var mnistFiles = map[string][2]string{
	"train": {trainImagesFilename, trainLabelsFilename},
	"test":  {testImagesFilename, testLabelsFilename},
}

type imageFileHeader struct {
	Magic     int32
	NumImages int32
	Height    int32
	Width     int32
}

type labelFileHeader struct {
	Magic     int32
	NumLabels int32
}

// Download the MNIST files to baseDir, if they are not there yet.
func Download(baseDir string) error {
	baseDir, err := fsutil.ReplaceTildeInDir(baseDir)
	if err != nil {
		return err
	}
	for _, mode := range []string{"train", "test"} {
		for _, file := range mnistFiles[mode] {
			fileURL, err := url.JoinPath(DownloadURL, file)
			if err != nil {
				return errors.Wrapf(err, "invalid URL for %q", file)
			}
			if err := fsutil.DownloadIfMissing(fileURL, path.Join(baseDir, file)); err != nil {
				return errors.WithMessagef(err, "mnist.Download")
			}
		}
	}
	return nil
}

// Load the "train" or "test" split from baseDir. Features are the pixels, one image per row ([N, 28*28]) scaled
// to [0, 1], and Labels the digits. Costs are left nil, see costmatrix.ClassToExample.
func Load(baseDir, mode string) (datasets.Set, error) {
	files, found := mnistFiles[mode]
	if !found {
		return datasets.Set{}, errors.Errorf("mnist.Load: invalid mode %q, valid values are \"train\" and \"test\"", mode)
	}
	baseDir, err := fsutil.ReplaceTildeInDir(baseDir)
	if err != nil {
		return datasets.Set{}, err
	}
	features, err := loadImageFile(path.Join(baseDir, files[0]))
	if err != nil {
		return datasets.Set{}, err
	}
	labels, err := loadLabelFile(path.Join(baseDir, files[1]))
	if err != nil {
		return datasets.Set{}, err
	}
	if rows, _ := features.Dims(); rows != len(labels) {
		return datasets.Set{}, errors.Wrapf(datasets.ErrShapeMismatch, "mnist %s: %d images but %d labels", mode, rows, len(labels))
	}
	klog.V(1).Infof("mnist: loaded %d %s examples", len(labels), mode)
	return datasets.Set{Features: features, Labels: labels}, nil
}

func openGzip(filename string) (io.ReadCloser, func(), error) {
	f, err := os.Open(filename)
	if err != nil {
		return nil, nil, errors.Wrapf(err, "failed to open %q", filename)
	}
	reader, err := gzip.NewReader(f)
	if err != nil {
		_ = f.Close()
		return nil, nil, errors.Wrapf(err, "failed to decompress %q", filename)
	}
	return reader, func() {
		_ = reader.Close()
		_ = f.Close()
	}, nil
}

// loadImageFile parses the images file, and returns them as rows of a matrix.
func loadImageFile(filename string) (*mat.Dense, error) {
	reader, done, err := openGzip(filename)
	if err != nil {
		return nil, err
	}
	defer done()
	header := imageFileHeader{}
	if err = binary.Read(reader, binary.BigEndian, &header); err != nil {
		return nil, errors.Wrapf(err, "failed to read header of %q", filename)
	}
	if header.Magic != imageMagic || header.Width != Width || header.Height != Height || header.NumImages <= 0 {
		return nil, errors.Errorf("mnist: invalid format for images file %q", filename)
	}
	numPixels := Width * Height
	pixels := make([]byte, int(header.NumImages)*numPixels)
	if _, err = io.ReadFull(reader, pixels); err != nil {
		return nil, errors.Wrapf(err, "failed to read images from %q", filename)
	}
	data := make([]float64, len(pixels))
	for ii, p := range pixels {
		data[ii] = float64(p) / 255.0
	}
	return mat.NewDense(int(header.NumImages), numPixels, data), nil
}

// loadLabelFile parses the labels file.
func loadLabelFile(filename string) ([]int, error) {
	reader, done, err := openGzip(filename)
	if err != nil {
		return nil, err
	}
	defer done()
	header := labelFileHeader{}
	if err = binary.Read(reader, binary.BigEndian, &header); err != nil {
		return nil, errors.Wrapf(err, "failed to read header of %q", filename)
	}
	if header.Magic != labelMagic || header.NumLabels < 0 {
		return nil, errors.Errorf("mnist: invalid format for labels file %q", filename)
	}
	raw := make([]byte, header.NumLabels)
	if _, err = io.ReadFull(reader, raw); err != nil {
		return nil, errors.Wrapf(err, "failed to read labels from %q", filename)
	}
	labels := make([]int, len(raw))
	for ii, label := range raw {
		if int(label) >= NumClasses {
			return nil, errors.Errorf("mnist: invalid label %d for example #%d in %q", label, ii, filename)
		}
		labels[ii] = int(label)
	}
	return labels, nil
}
