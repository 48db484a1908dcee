// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

// Package autoencoder implements the cost-aware denoising autoencoder used to pretrain each encoding layer.
//
// The autoencoder doesn't own its encoder: it works on the very same weights and biases variables as the
// encoding layer (layers.Dense) it pretrains, fetched from the context with Context.Reuse(). The decoder uses
// the transposed weights (tied weights). Next to the reconstruction of the input, it also regresses the
// per-example cost vector from the hidden representation, so the learned features carry cost information:
//
//	x̃ = x ⊙ mask            (each input dropped with probability corruptionLevel)
//	h = f(x̃·W + b)          (the encoding layer)
//	x̂ = σ(h·Wᵀ + b')        (reconstruction)
//	ĉ = h·V + e             (cost estimate)
//	loss = mean_n [ R(x_n, x̂_n) + β·Σ_k (c_nk - ĉ_nk)² ]
//
// R is the cross-entropy or the half squared error (see LossType), and β is the balance coefficient.
package autoencoder

import (
	"fmt"
	"math/rand/v2"
	"strings"

	"github.com/gomlx/csdnn/pkg/core/numeric"
	"github.com/gomlx/csdnn/pkg/ml/context"
	"github.com/gomlx/csdnn/pkg/ml/context/initializers"
	"github.com/gomlx/csdnn/pkg/ml/datasets"
	"github.com/gomlx/csdnn/pkg/ml/layers"
	"github.com/gomlx/csdnn/pkg/ml/train"
	"github.com/gomlx/csdnn/pkg/ml/train/optimizers"
	"github.com/gomlx/exceptions"
	"github.com/pkg/errors"
	"gonum.org/v1/gonum/mat"
	"gonum.org/v1/gonum/stat/distuv"
	"k8s.io/klog/v2"
)

// Scope where the autoencoder's own variables are created, under the scope of the encoding layer.
const Scope = "autoencoder"

const (
	VisibleBiasesName = "visible_biases"
	CostWeightsName   = "cost_weights"
	CostBiasesName    = "cost_biases"
)

// LossType selects the reconstruction loss.
type LossType int

const (
	// CrossEntropy reconstruction loss, for inputs in [0, 1].
	CrossEntropy LossType = iota

	// SquaredError reconstruction loss: ½·Σ_j (x_j - x̂_j)².
	SquaredError
)

// ParamReconstructionLoss is the context hyperparameter with the reconstruction loss: "cross_entropy" or
// "squared_error".
const ParamReconstructionLoss = "reconstruction_loss"

var lossTypeNames = []string{"cross_entropy", "squared_error"}

// String implements fmt.Stringer.
func (l LossType) String() string {
	if l < 0 || int(l) >= len(lossTypeNames) {
		return fmt.Sprintf("LossType(%d)", int(l))
	}
	return lossTypeNames[l]
}

// LossTypeFromName converts "cross_entropy" or "squared_error" to a LossType.
func LossTypeFromName(name string) (LossType, error) {
	for ii, lossName := range lossTypeNames {
		if strings.EqualFold(name, lossName) {
			return LossType(ii), nil
		}
	}
	return CrossEntropy, errors.Errorf("unknown reconstruction loss %q, valid values are %q", name, lossTypeNames)
}

// TrainConfig holds the parameters of LearnFeatures.
type TrainConfig struct {
	Epochs       int
	LearningRate float64
	BatchSize    int

	// CorruptionLevel is the probability of dropping (zeroing) each input value. Must be in [0, 1).
	CorruptionLevel float64

	// BalanceCoef (β) weights the cost regression against the reconstruction.
	BalanceCoef float64

	BatchPolicy train.BatchPolicy

	// ConfigureLoop, if set, is called with the training loop before it runs, e.g. to attach a progress bar.
	ConfigureLoop func(loop *train.Loop)
}

// Autoencoder is the cost-aware denoising autoencoder of one encoding layer.
type Autoencoder struct {
	ctx        *context.Context
	rng        *rand.Rand
	encoder    *layers.Dense
	numClasses int
	lossType   LossType

	visibleBiases, costWeights, costBiases *context.Variable
}

// New creates the autoencoder of the given encoding layer. ctx must be the scope of the layer: its weights and
// biases are fetched with ctx.Reuse(), so both share the same variables. The autoencoder's own variables
// (visible biases, cost weights and cost biases) are created in the sub-scope Scope.
//
// rng is used to initialize the cost weights and to draw the corruption masks.
func New(ctx *context.Context, rng *rand.Rand, dense *layers.Dense, numClasses int, lossType LossType) *Autoencoder {
	if numClasses <= 0 {
		exceptions.Panicf("autoencoder.New(scope=%q): invalid number of classes %d", ctx.Scope(), numClasses)
	}
	encoder := layers.NewDense(ctx.Reuse(), dense.InputDim(), dense.OutputDim(), dense.Activation())
	if encoder.Weights() != dense.Weights() || encoder.Biases() != dense.Biases() {
		exceptions.Panicf("autoencoder.New(scope=%q): encoding layer variables live in a different context", ctx.Scope())
	}
	aeCtx := ctx.Unique().In(Scope)
	return &Autoencoder{
		ctx:        aeCtx,
		rng:        rng,
		encoder:    encoder,
		numClasses: numClasses,
		lossType:   lossType,
		visibleBiases: aeCtx.WithInitializer(initializers.Zero).
			VariableWithShape(VisibleBiasesName, 1, dense.InputDim()),
		costWeights: aeCtx.WithInitializer(initializers.XavierUniform(rng)).
			VariableWithShape(CostWeightsName, dense.OutputDim(), numClasses),
		costBiases: aeCtx.WithInitializer(initializers.Zero).
			VariableWithShape(CostBiasesName, 1, numClasses),
	}
}

// Encoder returns the encoding layer, sharing its variables with the one given to New.
func (ae *Autoencoder) Encoder() *layers.Dense { return ae.encoder }

// LossType used for reconstruction.
func (ae *Autoencoder) LossType() LossType { return ae.lossType }

// Params returns the variables trained by LearnFeatures: [W, b, b', V, e].
func (ae *Autoencoder) Params() []*context.Variable {
	return []*context.Variable{ae.encoder.Weights(), ae.encoder.Biases(), ae.visibleBiases, ae.costWeights, ae.costBiases}
}

// VisibleBiases variable b', shaped [1, inputDim].
func (ae *Autoencoder) VisibleBiases() *context.Variable { return ae.visibleBiases }

// CostWeights variable V, shaped [hiddenDim, numClasses].
func (ae *Autoencoder) CostWeights() *context.Variable { return ae.costWeights }

// CostBiases variable e, shaped [1, numClasses].
func (ae *Autoencoder) CostBiases() *context.Variable { return ae.costBiases }

// decode returns the reconstruction pre-activation h·Wᵀ + b'.
func (ae *Autoencoder) decode(h mat.Matrix) *mat.Dense {
	rows, _ := h.Dims()
	zr := mat.NewDense(rows, ae.encoder.InputDim(), nil)
	zr.Mul(h, ae.encoder.Weights().Value().T())
	numeric.AddRowVector(zr, ae.visibleBiases.Value())
	return zr
}

// estimateCosts returns h·V + e.
func (ae *Autoencoder) estimateCosts(h mat.Matrix) *mat.Dense {
	rows, _ := h.Dims()
	c := mat.NewDense(rows, ae.numClasses, nil)
	c.Mul(h, ae.costWeights.Value())
	numeric.AddRowVector(c, ae.costBiases.Value())
	return c
}

// Reconstruct returns x̂ for the uncorrupted input x.
func (ae *Autoencoder) Reconstruct(x mat.Matrix) *mat.Dense {
	zr := ae.decode(ae.encoder.Forward(x))
	zr.Apply(func(_, _ int, v float64) float64 { return numeric.Sigmoid(v) }, zr)
	return zr
}

// ReconstructCosts returns the cost estimate ĉ for the uncorrupted input x.
func (ae *Autoencoder) ReconstructCosts(x mat.Matrix) *mat.Dense {
	return ae.estimateCosts(ae.encoder.Forward(x))
}

// Loss returns the autoencoder loss over the set, without corruption, using the given balance coefficient.
// It doesn't change any parameter.
func (ae *Autoencoder) Loss(set datasets.Set, balanceCoef float64) float64 {
	loss, _ := ae.lossAndGradients(set.Features, set.Costs, balanceCoef, false)
	return loss
}

// corrupt returns a copy of x with each value zeroed with probability level.
func (ae *Autoencoder) corrupt(x mat.Matrix, level float64) *mat.Dense {
	corrupted := mat.DenseCopyOf(x)
	if level <= 0 {
		return corrupted
	}
	keep := distuv.Bernoulli{P: 1 - level, Src: ae.rng}
	corrupted.Apply(func(_, _ int, v float64) float64 {
		return v * keep.Rand()
	}, corrupted)
	return corrupted
}

// lossAndGradients returns the mean loss over the batch and the gradients, in the order of Params.
// If withGradients is false only the loss is computed.
func (ae *Autoencoder) lossAndGradients(x, costs mat.Matrix, balanceCoef float64, withGradients bool) (
	loss float64, grads []*mat.Dense) {
	return ae.step(x, x, costs, balanceCoef, withGradients)
}

// step computes the loss and (optionally) gradients for the (possibly corrupted) input xt, reconstructing the
// clean input x.
func (ae *Autoencoder) step(x, xt, costs mat.Matrix, beta float64, withGradients bool) (loss float64, grads []*mat.Dense) {
	n, inputDim := x.Dims()
	invN := 1.0 / float64(n)
	h := ae.encoder.Forward(xt)
	zr := ae.decode(h)
	cHat := ae.estimateCosts(h)

	// Reconstruction: gA is the gradient with respect to the decoder pre-activation zr.
	gA := mat.NewDense(n, inputDim, nil)
	var sumR float64
	switch ae.lossType {
	case CrossEntropy:
		gA.Apply(func(i, j int, z float64) float64 {
			target := x.At(i, j)
			// -[x·log σ(z) + (1-x)·log(1-σ(z))], computed stably.
			sumR += target*numeric.Softplus(-z) + (1-target)*numeric.Softplus(z)
			return (numeric.Sigmoid(z) - target) * invN
		}, zr)
	case SquaredError:
		gA.Apply(func(i, j int, z float64) float64 {
			xHat := numeric.Sigmoid(z)
			diff := xHat - x.At(i, j)
			sumR += 0.5 * diff * diff
			return diff * xHat * (1 - xHat) * invN
		}, zr)
	default:
		exceptions.Panicf("autoencoder: invalid loss type %s", ae.lossType)
	}

	// Cost regression.
	gC := mat.NewDense(n, ae.numClasses, nil)
	var sumC float64
	gC.Apply(func(i, j int, estimate float64) float64 {
		diff := estimate - costs.At(i, j)
		sumC += diff * diff
		return 2 * beta * diff * invN
	}, cHat)
	loss = (sumR + beta*sumC) * invN
	if !withGradients {
		return loss, nil
	}

	hiddenDim := ae.encoder.OutputDim()
	dV := mat.NewDense(hiddenDim, ae.numClasses, nil)
	dV.Mul(h.T(), gC)
	de := numeric.ColumnSums(gC)
	dVisible := numeric.ColumnSums(gA)

	// Gradient with respect to h, through the decoder and the cost regression.
	dh := mat.NewDense(n, hiddenDim, nil)
	dh.Mul(gA, ae.encoder.Weights().Value())
	var dhCost mat.Dense
	dhCost.Mul(gC, ae.costWeights.Value().T())
	dh.Add(dh, &dhCost)

	_, dW, db := ae.encoder.Backward(xt, h, dh)
	// Decoder contribution of the tied weights.
	var dWDecoder mat.Dense
	dWDecoder.Mul(gA.T(), h)
	dW.Add(dW, &dWDecoder)
	return loss, []*mat.Dense{dW, db, dVisible, dV, de}
}

// LearnFeatures pretrains the encoding layer (and the autoencoder's own variables) on set with mini-batch
// SGD, for config.Epochs epochs, and returns the set with the features replaced by the encoding of the
// trained layer. Labels and costs are passed through unchanged.
//
// Only the weights and biases of the encoding layer and the autoencoder variables are changed.
func (ae *Autoencoder) LearnFeatures(set datasets.Set, config TrainConfig) (datasets.Set, error) {
	if err := ae.validate(set, config); err != nil {
		return datasets.Set{}, err
	}
	params := ae.Params()
	opt := optimizers.StochasticGradientDescent(config.LearningRate)
	loop := train.NewLoop(ae.ctx.Scope(), set.NumExamples(), config.BatchSize, config.BatchPolicy)
	if config.ConfigureLoop != nil {
		config.ConfigureLoop(loop)
	}
	meanLoss, err := loop.RunEpochs(config.Epochs, func(batch train.Batch) (float64, error) {
		batchSet := set.Batch(batch)
		xt := ae.corrupt(batchSet.Features, config.CorruptionLevel)
		loss, grads := ae.step(batchSet.Features, xt, batchSet.Costs, config.BalanceCoef, true)
		if err := opt.Update(params, grads); err != nil {
			return 0, err
		}
		return loss, nil
	})
	if err != nil {
		return datasets.Set{}, errors.WithMessagef(err, "autoencoder %q failed to learn features", ae.ctx.Scope())
	}
	if config.Epochs > 0 {
		klog.V(1).Infof("autoencoder %q: %d epochs, last epoch mean loss %g", ae.ctx.Scope(), config.Epochs, meanLoss)
	}
	return set.WithFeatures(ae.encoder.Forward(set.Features)), nil
}

func (ae *Autoencoder) validate(set datasets.Set, config TrainConfig) error {
	if err := set.Validate(ae.numClasses); err != nil {
		return errors.WithMessagef(err, "autoencoder %q", ae.ctx.Scope())
	}
	if set.NumFeatures() != ae.encoder.InputDim() {
		return errors.Wrapf(datasets.ErrShapeMismatch, "autoencoder %q expects %d features, got %d",
			ae.ctx.Scope(), ae.encoder.InputDim(), set.NumFeatures())
	}
	if config.CorruptionLevel < 0 || config.CorruptionLevel >= 1 {
		return errors.Errorf("autoencoder %q: corruption level %g must be in [0, 1)", ae.ctx.Scope(), config.CorruptionLevel)
	}
	if config.Epochs < 0 {
		return errors.Errorf("autoencoder %q: invalid number of epochs %d", ae.ctx.Scope(), config.Epochs)
	}
	return nil
}
