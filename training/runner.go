package training

import (
	"fmt"
	"os"

	"github.com/schollz/progressbar/v3"
	"github.com/sirupsen/logrus"
)

// LossSummary is the averaged result of one pass over a data source. All
// averages divide by the number of batches, not the number of samples.
type LossSummary struct {
	Loss               float64
	RegressionLoss     float64
	ClassificationLoss float64
}

type lossTotals struct {
	loss, regression, classification float64
}

func (a *lossTotals) add(l LossValue) {
	a.regression += l.Regression()
	a.classification += l.Classification()
	a.loss += l.Regression() + l.Classification()
}

func (a *lossTotals) average(steps int) LossSummary {
	n := float64(steps)
	return LossSummary{
		Loss:               a.loss / n,
		RegressionLoss:     a.regression / n,
		ClassificationLoss: a.classification / n,
	}
}

// EpochRunner drives one pass of training or evaluation over a data source.
// Gradient updates are strictly serialized: one batch's backward pass and
// parameter update complete before the next batch's forward pass begins.
type EpochRunner struct {
	Model     Model
	Criterion Criterion
	Optimizer Optimizer

	// DebugSteps is the short-window logging interval: the running
	// averages logged mid-epoch cover the last DebugSteps batches and
	// reset afterwards.
	DebugSteps int

	Logger *logrus.Logger

	// ShowProgress renders a per-batch progress bar on stderr.
	ShowProgress bool
}

// TrainEpoch runs one training pass: forward, loss, backward and parameter
// update per batch, with gradients zeroed between batches. The returned
// summary averages the whole epoch by step count.
func (r *EpochRunner) TrainEpoch(loader *DataLoader, epoch int) (LossSummary, error) {
	r.Model.Train()
	loader.Reset()

	var bar *progressbar.ProgressBar
	if r.ShowProgress {
		bar = progressbar.NewOptions(loader.Steps(),
			progressbar.OptionSetDescription(fmt.Sprintf("Epoch %d", epoch)),
			progressbar.OptionSetWriter(os.Stderr),
			progressbar.OptionShowCount(),
		)
	}

	var running, whole lossTotals
	steps := 0
	totalSteps := loader.Steps()

	for i := 0; ; i++ {
		batch, err := loader.Next()
		if err != nil {
			return LossSummary{}, err
		}
		if batch == nil {
			break
		}

		r.Optimizer.ZeroGrad()

		confidence, locations, err := r.Model.Forward(batch.Images)
		if err != nil {
			return LossSummary{}, fmt.Errorf("forward pass failed: %w", err)
		}
		loss, err := r.Criterion.Forward(confidence, locations, batch.Labels, batch.Boxes)
		if err != nil {
			return LossSummary{}, fmt.Errorf("loss computation failed: %w", err)
		}
		if err := loss.Backward(); err != nil {
			return LossSummary{}, fmt.Errorf("backward pass failed: %w", err)
		}
		if err := r.Optimizer.Step(); err != nil {
			return LossSummary{}, fmt.Errorf("optimizer step failed: %w", err)
		}

		running.add(loss)
		whole.add(loss)
		steps++

		if bar != nil {
			bar.Add(1)
		}

		if r.DebugSteps > 0 && i != 0 && i%r.DebugSteps == 0 {
			window := running.average(r.DebugSteps)
			r.Logger.WithFields(logrus.Fields{
				"epoch":               epoch,
				"step":                fmt.Sprintf("%d/%d", i, totalSteps),
				"avg_loss":            window.Loss,
				"avg_regression_loss": window.RegressionLoss,
				"avg_clf_loss":        window.ClassificationLoss,
			}).Info("training")
			running = lossTotals{}
		}
	}

	if steps == 0 {
		return LossSummary{}, fmt.Errorf("training pass saw no batches")
	}

	summary := whole.average(steps)
	r.Logger.WithFields(logrus.Fields{
		"epoch":                        epoch,
		"training_loss":                summary.Loss,
		"training_regression_loss":     summary.RegressionLoss,
		"training_classification_loss": summary.ClassificationLoss,
	}).Info("epoch complete")
	return summary, nil
}

// Evaluate runs one validation pass: forward and loss only, no gradient
// tracking, no parameter mutation.
func (r *EpochRunner) Evaluate(loader *DataLoader) (LossSummary, error) {
	r.Model.Eval()
	loader.Reset()

	var totals lossTotals
	batches := 0

	for {
		batch, err := loader.Next()
		if err != nil {
			return LossSummary{}, err
		}
		if batch == nil {
			break
		}

		confidence, locations, err := r.Model.Forward(batch.Images)
		if err != nil {
			return LossSummary{}, fmt.Errorf("validation forward pass failed: %w", err)
		}
		loss, err := r.Criterion.Forward(confidence, locations, batch.Labels, batch.Boxes)
		if err != nil {
			return LossSummary{}, fmt.Errorf("validation loss computation failed: %w", err)
		}

		totals.add(loss)
		batches++
	}

	if batches == 0 {
		return LossSummary{}, fmt.Errorf("validation pass saw no batches")
	}
	return totals.average(batches), nil
}
