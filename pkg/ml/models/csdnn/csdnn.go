// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

// Package csdnn implements the Cost-Sensitive Deep Neural Network: a stack of encoding layers pretrained
// greedily, one layer at a time, with cost-aware denoising autoencoders, and topped by a cost-sensitive
// one-sided regression output layer. After pretraining, the whole network is fine-tuned with the one-sided
// loss, keeping track of the epoch with the lowest test cost.
//
// Typical use:
//
//	ctx := csdnn.CreateDefaultContext()
//	net, _, err := csdnn.New(ctx, rng, inputDim, []int{500}, numClasses)
//	err = net.Pretrain(trainSet, pretrainConfig)
//	best, err := net.Finetune(trainSet, testSet, finetuneConfig)
//
// All parameters live as variables in the context.Context given to New: layer i uses the scope "layer_<i>"
// (its autoencoder uses "layer_<i>/autoencoder"), and the output layer the scope "output".
package csdnn

import (
	"fmt"
	"math/rand/v2"
	"slices"

	"github.com/gomlx/csdnn/pkg/ml/context"
	"github.com/gomlx/csdnn/pkg/ml/context/initializers"
	"github.com/gomlx/csdnn/pkg/ml/layers"
	"github.com/gomlx/csdnn/pkg/ml/layers/activations"
	"github.com/gomlx/csdnn/pkg/ml/layers/autoencoder"
	"github.com/gomlx/csdnn/pkg/ml/layers/costsensitive"
	"github.com/gomlx/exceptions"
	"github.com/pkg/errors"
	"gonum.org/v1/gonum/mat"
)

// ErrNoHiddenLayers is returned by New when no hidden layer is given.
var ErrNoHiddenLayers = errors.New("at least one hidden layer is required")

// OutputScope is the scope of the output layer variables.
const OutputScope = "output"

// LayerScope returns the scope name of the hidden layer i.
func LayerScope(i int) string {
	return fmt.Sprintf("layer_%d", i)
}

// Network is the stacked cost-sensitive network.
type Network struct {
	ctx                  *context.Context
	rng                  *rand.Rand
	inputDim, numClasses int
	hiddenDims           []int
	activation           activations.Type
	lossType             autoencoder.LossType

	hidden       []*layers.Dense
	autoencoders []*autoencoder.Autoencoder
	output       *costsensitive.Regressor

	// params in the order [W0, b0, W1, b1, ..., U, u].
	params []*context.Variable
}

// Option configures the Network built by New.
type Option func(net *Network)

// WithActivation sets the activation of the encoding layers. Default is sigmoid.
func WithActivation(activation activations.Type) Option {
	return func(net *Network) { net.activation = activation }
}

// WithReconstructionLoss sets the reconstruction loss of the autoencoders. Default is cross-entropy.
func WithReconstructionLoss(lossType autoencoder.LossType) Option {
	return func(net *Network) { net.lossType = lossType }
}

// New builds the network in ctx: len(hiddenDims) encoding layers, each with its autoencoder sharing the
// layer's weights and biases, and the output layer.
//
// It returns the network and its fine-tuning parameters, ordered as [W0, b0, W1, b1, ..., U, u]
// (the same as Network.Params). rng is used for the weights initialization and the corruption masks.
//
// It returns ErrNoHiddenLayers if hiddenDims is empty, before building anything.
func New(ctx *context.Context, rng *rand.Rand, inputDim int, hiddenDims []int, numClasses int, opts ...Option) (
	*Network, []*context.Variable, error) {
	if len(hiddenDims) == 0 {
		return nil, nil, ErrNoHiddenLayers
	}
	if inputDim <= 0 {
		return nil, nil, errors.Errorf("csdnn.New: invalid input dimension %d", inputDim)
	}
	for ii, dim := range hiddenDims {
		if dim <= 0 {
			return nil, nil, errors.Errorf("csdnn.New: invalid width %d for hidden layer #%d", dim, ii)
		}
	}
	if numClasses <= 0 {
		return nil, nil, errors.Errorf("csdnn.New: invalid number of classes %d", numClasses)
	}
	if rng == nil {
		return nil, nil, errors.New("csdnn.New: a random number generator is required")
	}
	net := &Network{
		ctx:        ctx,
		rng:        rng,
		inputDim:   inputDim,
		numClasses: numClasses,
		hiddenDims: slices.Clone(hiddenDims),
		activation: activations.TypeSigmoid,
		lossType:   autoencoder.CrossEntropy,
	}
	for _, opt := range opts {
		opt(net)
	}
	err := exceptions.TryCatch[error](net.build)
	if err != nil {
		return nil, nil, errors.WithMessagef(err, "csdnn.New")
	}
	return net, net.Params(), nil
}

// build creates all layers and variables. It panics on errors.
func (net *Network) build() {
	initializer := initializers.XavierUniform(net.rng)
	if net.activation == activations.TypeSigmoid {
		initializer = initializers.SigmoidXavierUniform(net.rng)
	}
	layerInputDim := net.inputDim
	for ii, dim := range net.hiddenDims {
		layerCtx := net.ctx.In(LayerScope(ii)).WithInitializer(initializer)
		dense := layers.NewDense(layerCtx, layerInputDim, dim, net.activation)
		net.hidden = append(net.hidden, dense)
		net.autoencoders = append(net.autoencoders, autoencoder.New(layerCtx, net.rng, dense, net.numClasses, net.lossType))
		net.params = append(net.params, dense.Weights(), dense.Biases())
		layerInputDim = dim
	}
	net.output = costsensitive.New(net.ctx.In(OutputScope), layerInputDim, net.numClasses)
	net.params = append(net.params, net.output.Weights(), net.output.Biases())
}

// Context where the network variables live.
func (net *Network) Context() *context.Context { return net.ctx }

// NumLayers returns the number of hidden layers N.
func (net *Network) NumLayers() int { return len(net.hidden) }

// InputDim is the width of the input features.
func (net *Network) InputDim() int { return net.inputDim }

// NumClasses is the number of classes K.
func (net *Network) NumClasses() int { return net.numClasses }

// HiddenDims returns a copy of the widths of the hidden layers.
func (net *Network) HiddenDims() []int { return slices.Clone(net.hiddenDims) }

// Activation of the encoding layers.
func (net *Network) Activation() activations.Type { return net.activation }

// Hidden returns the encoding layer i.
func (net *Network) Hidden(i int) *layers.Dense { return net.hidden[i] }

// Autoencoder returns the autoencoder of layer i, which shares the layer's weights and biases.
func (net *Network) Autoencoder(i int) *autoencoder.Autoencoder { return net.autoencoders[i] }

// Output returns the cost-sensitive output layer.
func (net *Network) Output() *costsensitive.Regressor { return net.output }

// Params returns the parameters trained by fine-tuning, ordered as [W0, b0, W1, b1, ..., U, u].
// The slice is a copy, but the variables are the ones used by the layers.
func (net *Network) Params() []*context.Variable { return slices.Clone(net.params) }

// Forward returns the final hidden representation of x, the input of the output layer.
func (net *Network) Forward(x mat.Matrix) *mat.Dense {
	var h mat.Matrix = x
	for _, layer := range net.hidden {
		h = layer.Forward(h)
	}
	return h.(*mat.Dense)
}

// forwardAll returns the activations of all layers: [x, h_0, ..., h_{N-1}].
func (net *Network) forwardAll(x *mat.Dense) []*mat.Dense {
	acts := make([]*mat.Dense, 0, len(net.hidden)+1)
	acts = append(acts, x)
	for ii, layer := range net.hidden {
		acts = append(acts, layer.Forward(acts[ii]))
	}
	return acts
}

// Predict returns the class with the lowest estimated cost for each row of x.
func (net *Network) Predict(x mat.Matrix) []int {
	return net.output.Predict(net.Forward(x))
}
