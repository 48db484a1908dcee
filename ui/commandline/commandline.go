// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

// Package commandline contains convenience UI training tools for the command line: progress bars,
// training reports and the parsing of context settings from flags.
package commandline

import (
	"fmt"
	"io"
	"os"
	"strconv"

	"github.com/charmbracelet/lipgloss"
	lgtable "github.com/charmbracelet/lipgloss/table"
	"github.com/gomlx/csdnn/pkg/ml/models/csdnn"
	"github.com/gomlx/csdnn/pkg/ml/train/metrics"
)

var (
	headerStyle   = lipgloss.NewStyle().Bold(true).Padding(0, 1)
	improvedStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("#40a040")).Padding(0, 1)
)

// Reporter implements csdnn.Observer by printing one line per pretrained layer and per fine-tuning epoch.
// It also keeps the epoch reports, to render a summary table at the end.
type Reporter struct {
	out    io.Writer
	epochs []csdnn.EpochReport
}

var _ csdnn.Observer = (*Reporter)(nil)

// NewReporter creates a Reporter writing to out. If out is nil, it writes to os.Stdout.
func NewReporter(out io.Writer) *Reporter {
	if out == nil {
		out = os.Stdout
	}
	return &Reporter{out: out}
}

// OnPretrainLayer implements csdnn.Observer.
func (r *Reporter) OnPretrainLayer(report csdnn.LayerReport) {
	_, _ = fmt.Fprintf(r.out, "Pretrained layer #%d of %d (%d -> %d units): %d epochs, %s = %s, elapsed %s\n",
		report.Layer+1, report.NumLayers, report.InputDim, report.OutputDim, report.Epochs,
		metrics.TrainLoss.ShortName(), metrics.TrainLoss.PrettyPrint(report.MeanLoss), FormatDuration(report.Elapsed))
}

// OnFinetuneEpoch implements csdnn.Observer.
func (r *Reporter) OnFinetuneEpoch(report csdnn.EpochReport) {
	r.epochs = append(r.epochs, report)
	marker := ""
	if report.Improved {
		marker = " *"
	}
	_, _ = fmt.Fprintf(r.out, "epoch %d/%d: %s=%s %s=%s %s=%s %s=%s %s=%s (%s)%s\n",
		report.Epoch, report.NumEpochs,
		metrics.TrainLoss.ShortName(), metrics.TrainLoss.PrettyPrint(report.MeanLoss),
		metrics.TrainError.ShortName(), metrics.TrainError.PrettyPrint(report.TrainError),
		metrics.TrainCost.ShortName(), metrics.TrainCost.PrettyPrint(report.TrainCost),
		metrics.TestError.ShortName(), metrics.TestError.PrettyPrint(report.TestError),
		metrics.TestCost.ShortName(), metrics.TestCost.PrettyPrint(report.TestCost),
		FormatDuration(report.Elapsed), marker)
}

// Epochs returns the fine-tuning reports received so far.
func (r *Reporter) Epochs() []csdnn.EpochReport {
	return r.epochs
}

// RenderEpochTable renders a table with all the fine-tuning epochs reported. Improvements of the best
// model are highlighted.
func (r *Reporter) RenderEpochTable() string {
	columns := []metrics.Interface{metrics.TrainLoss, metrics.TrainError, metrics.TrainCost, metrics.TestError, metrics.TestCost}
	headers := []string{"Epoch"}
	for _, m := range columns {
		headers = append(headers, m.Name())
	}
	table := lgtable.New().
		Border(lipgloss.RoundedBorder()).
		BorderStyle(lipgloss.NewStyle().Foreground(lipgloss.Color(tableBorderColor))).
		Headers(headers...).
		StyleFunc(func(row, col int) lipgloss.Style {
			if row < 0 {
				return headerStyle
			}
			if row >= 0 && row < len(r.epochs) && r.epochs[row].Improved {
				return improvedStyle
			}
			if col == 0 {
				return rightAlignedStyle
			}
			return normalStyle
		})
	for _, report := range r.epochs {
		values := []float64{report.MeanLoss, report.TrainError, report.TrainCost, report.TestError, report.TestCost}
		row := []string{strconv.Itoa(report.Epoch)}
		for ii, m := range columns {
			row = append(row, m.PrettyPrint(values[ii]))
		}
		table.Row(row...)
	}
	return table.String()
}

// ReportBest prints the final result of fine-tuning for numEpochs epochs.
func (r *Reporter) ReportBest(best csdnn.BestModel, numEpochs int) {
	if !best.Found() {
		_, _ = fmt.Fprintf(r.out, "after training %d epochs, no model was evaluated\n", numEpochs)
		return
	}
	_, _ = fmt.Fprintf(r.out, "after training %d epochs, %s\n", numEpochs, best)
}
