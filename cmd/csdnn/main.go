// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

// csdnn trains a Cost-Sensitive Deep Neural Network on MNIST or on a pair of CSV files: it pretrains the
// hidden layers with cost-aware denoising autoencoders, fine-tunes the whole network and reports the
// epoch with the lowest test cost.
//
// Hyperparameters are set with -set, e.g.:
//
//	csdnn -set "hidden_layers=500,500;corruption_levels=0.25,0.1;finetune_epochs=10"
package main

import (
	"flag"
	"fmt"
	"math/rand/v2"
	"os"
	"path/filepath"
	"strconv"

	"github.com/gomlx/csdnn/pkg/ml/context"
	"github.com/gomlx/csdnn/pkg/ml/datasets"
	"github.com/gomlx/csdnn/pkg/ml/datasets/costmatrix"
	"github.com/gomlx/csdnn/pkg/ml/datasets/mnist"
	"github.com/gomlx/csdnn/pkg/ml/datasets/tabular"
	"github.com/gomlx/csdnn/pkg/ml/models/csdnn"
	"github.com/gomlx/csdnn/pkg/ml/train"
	"github.com/gomlx/csdnn/pkg/support/fsutil"
	"github.com/gomlx/csdnn/pkg/support/tiles"
	"github.com/gomlx/csdnn/pkg/support/xslices"
	"github.com/gomlx/csdnn/ui/commandline"
	"github.com/gomlx/csdnn/ui/plots"
	"github.com/gomlx/exceptions"
	"github.com/google/uuid"
	"github.com/janpfeifer/must"
	"github.com/pkg/errors"
	"k8s.io/klog/v2"
)

var (
	flagDataDir     = flag.String("data", "~/work/mnist", "Directory to cache the downloaded MNIST dataset.")
	flagDataset     = flag.String("dataset", "mnist", "Dataset to train on: \"mnist\" or \"csv\".")
	flagTrainCSV    = flag.String("train_csv", "", "Training set CSV file, for -dataset=csv.")
	flagTestCSV     = flag.String("test_csv", "", "Test set CSV file, for -dataset=csv.")
	flagLabelColumn = flag.String("label_column", "label", "Name of the label column of the CSV files.")
	flagOutputDir   = flag.String("output", ".", "Directory where to save filters, plots and points. "+
		"Files are prefixed with a unique run id.")
	flagFilters     = flag.Bool("filters", false, "Save the filters of the first layer as an image (MNIST only).")
	flagPlot        = flag.Bool("plot", false, "Save the learning curves of the fine-tuning as a PNG image.")
	flagPoints      = flag.Bool("points", false, "Save the learning curves points as JSON lines.")
	flagProgressBar = flag.Bool("progress", true, "Display a progress bar while training.")
	flagFilterTiles = xslices.Flag("filter_tiles", []int{10, 10},
		"Grid of tiles (rows,cols) used to save the filters with -filters.", strconv.Atoi)
)

func main() {
	klog.InitFlags(nil)
	ctx := csdnn.CreateDefaultContext()
	settings := commandline.CreateContextSettingsFlag(ctx, "")
	flag.Parse()

	err := exceptions.TryCatch[error](func() {
		paramsSet := must.M1(commandline.ParseContextSettings(ctx, *settings))
		run(ctx, paramsSet)
	})
	if err != nil {
		klog.Errorf("Error:\n%+v", err)
		os.Exit(1)
	}
}

// run the experiment. It panics on errors.
func run(ctx *context.Context, paramsSet []string) {
	runID := uuid.NewString()[:8]
	klog.Infof("run id %s", runID)
	seed := uint64(context.GetParamOr(ctx, csdnn.ParamSeed, 123))
	rng := rand.New(rand.NewPCG(seed, seed))

	trainSet, testSet, numClasses := loadData()
	costs := must.M1(costmatrix.FromName(
		context.GetParamOr(ctx, costmatrix.ParamCostMatrix, "general"),
		rng, trainSet.Labels, numClasses,
		context.GetParamOr(ctx, costmatrix.ParamScale, costmatrix.DefaultScale)))
	trainSet.Costs = costmatrix.ClassToExample(trainSet.Labels, costs)
	testSet.Costs = costmatrix.ClassToExample(testSet.Labels, costs)
	fmt.Printf("Train: %s examples, Test: %s examples, %d features, %d classes\n",
		commandline.HumanizeCount(trainSet.NumExamples()), commandline.HumanizeCount(testSet.NumExamples()),
		trainSet.NumFeatures(), numClasses)

	hiddenDims := csdnn.HiddenDimsFromContext(ctx)
	opts := must.M1(csdnn.OptionsFromContext(ctx))
	net, _, err := csdnn.New(ctx, rng, trainSet.NumFeatures(), hiddenDims, numClasses, opts...)
	must.M(err)
	fmt.Printf("Network: %v hidden units, %s parameters (including the autoencoders)\n",
		hiddenDims, commandline.HumanizeCount(ctx.NumParameters()))

	reporter := commandline.NewReporter(os.Stdout)
	collector := plots.NewCollector()
	observer := csdnn.Observers{csdnn.LogObserver{}, reporter, collector}
	var configureLoop func(loop *train.Loop)
	if *flagProgressBar {
		configureLoop = func(loop *train.Loop) { commandline.AttachProgressBar(loop) }
	}

	pretrainConfig := must.M1(csdnn.PretrainConfigFromContext(ctx, len(hiddenDims)))
	pretrainConfig.Observer = observer
	pretrainConfig.ConfigureLoop = configureLoop
	must.M(net.Pretrain(trainSet, pretrainConfig))
	if *flagFilters {
		saveFilters(net, runID)
	}

	finetuneConfig := must.M1(csdnn.FinetuneConfigFromContext(ctx))
	finetuneConfig.Observer = observer
	finetuneConfig.ConfigureLoop = configureLoop
	best := must.M1(net.Finetune(trainSet, testSet, finetuneConfig))

	fmt.Println(reporter.RenderEpochTable())
	reporter.ReportBest(best, finetuneConfig.Epochs)
	if len(paramsSet) > 0 {
		fmt.Printf("Modified settings:\n%s\n", commandline.SprintModifiedContextSettings(ctx, paramsSet))
	}

	if *flagPoints {
		filePath := outputPath(runID, "points.jsonl")
		must.M(plots.SavePoints(filePath, collector.Points()))
		fmt.Printf("Learning curves points saved to %s\n", filePath)
	}
	if *flagPlot {
		filePath := outputPath(runID, "curves.png")
		must.M(plots.SavePNG(filePath, fmt.Sprintf("CSDNN run %s", runID), collector.Points()))
		fmt.Printf("Learning curves saved to %s\n", filePath)
	}
}

// loadData returns the train and test sets (without costs) and the number of classes.
func loadData() (trainSet, testSet datasets.Set, numClasses int) {
	switch *flagDataset {
	case "mnist":
		dataDir := must.M1(fsutil.ReplaceTildeInDir(*flagDataDir))
		must.M(mnist.Download(dataDir))
		trainSet = must.M1(mnist.Load(dataDir, "train"))
		testSet = must.M1(mnist.Load(dataDir, "test"))
		numClasses = mnist.NumClasses
	case "csv":
		if *flagTrainCSV == "" || *flagTestCSV == "" {
			exceptions.Panicf("-dataset=csv requires -train_csv and -test_csv")
		}
		trainSet = must.M1(tabular.LoadCSV(*flagTrainCSV, *flagLabelColumn))
		testSet = must.M1(tabular.LoadCSV(*flagTestCSV, *flagLabelColumn))
		must.M(tabular.NormalizeMinMax(trainSet, testSet))
		numClasses = tabular.NumClasses(trainSet, testSet)
	default:
		panic(errors.Errorf("unknown -dataset=%q, valid values are \"mnist\" or \"csv\"", *flagDataset))
	}
	return
}

func saveFilters(net *csdnn.Network, runID string) {
	if *flagDataset != "mnist" {
		klog.Warningf("-filters is only supported for -dataset=mnist")
		return
	}
	if len(*flagFilterTiles) != 2 {
		exceptions.Panicf("-filter_tiles requires 2 values (rows,cols), got %v", *flagFilterTiles)
	}
	filePath := outputPath(runID, "filters.png")
	must.M(tiles.SaveFilters(filePath, net.Hidden(0).Weights().Value(),
		tiles.Shape{Height: mnist.Height, Width: mnist.Width},
		tiles.Shape{Height: (*flagFilterTiles)[0], Width: (*flagFilterTiles)[1]}, 2))
	fmt.Printf("Filters of the first layer saved to %s\n", filePath)
}

func outputPath(runID, name string) string {
	dir := must.M1(fsutil.ReplaceTildeInDir(*flagOutputDir))
	must.M(os.MkdirAll(dir, 0o755))
	return filepath.Join(dir, fmt.Sprintf("csdnn_%s_%s", runID, name))
}
