package training

import (
	"math"

	"github.com/sirupsen/logrus"
)

// TrainerConfig holds the outer-loop cadence settings.
type TrainerConfig struct {
	NumEpochs        int
	ValidationEpochs int // epochs between validation passes
	CheckpointEpochs int // epochs between checkpoint saves
}

// Trainer owns the outer epoch loop: it alternates training and validation
// passes, appends validated epochs to the loss report, saves checkpoints at
// the configured cadence and steps the scheduler once per epoch.
type Trainer struct {
	Runner    *EpochRunner
	Scheduler Scheduler
	States    *StateManager
	Report    *LossReport
	Config    TrainerConfig
	Logger    *logrus.Logger
}

// Run trains from lastEpoch+1. Pass lastEpoch -1 for a fresh start, or the
// epoch restored from a resume checkpoint to continue a prior run; a resume
// from epoch N executes epoch N+1 first. The loop bound is inclusive: a
// fresh start executes epochs 0 through NumEpochs, a resume from epoch N
// executes N+1 through NumEpochs+N.
func (t *Trainer) Run(trainLoader, valLoader *DataLoader, lastEpoch int) error {
	resumeEpoch := 0
	if lastEpoch > 0 {
		resumeEpoch = lastEpoch
	}

	// Last validation loss seen; NaN until the first validation pass so
	// the plateau scheduler can tell "no observation yet" from a real
	// zero loss.
	lastValLoss := math.NaN()

	t.Logger.Infof("Start training from epoch %d.", lastEpoch+1)

	for epoch := lastEpoch + 1; epoch < t.Config.NumEpochs+resumeEpoch+1; epoch++ {
		trainSummary, err := t.Runner.TrainEpoch(trainLoader, epoch)
		if err != nil {
			return err
		}

		validated := t.Config.ValidationEpochs > 0 &&
			(epoch%t.Config.ValidationEpochs == 0 || epoch == t.Config.NumEpochs-1)

		var valSummary LossSummary
		if validated {
			valSummary, err = t.Runner.Evaluate(valLoader)
			if err != nil {
				return err
			}
			lastValLoss = valSummary.Loss

			t.Logger.WithFields(logrus.Fields{
				"epoch":                          epoch,
				"validation_loss":                valSummary.Loss,
				"validation_regression_loss":     valSummary.RegressionLoss,
				"validation_classification_loss": valSummary.ClassificationLoss,
			}).Info("validation")

			if err := t.Report.Append(ReportRow{
				Epoch:        epoch,
				LearningRate: t.Runner.Optimizer.LearningRate(),
				Training:     trainSummary,
				Validation:   valSummary,
			}); err != nil {
				return err
			}
		}

		if t.Config.CheckpointEpochs > 0 &&
			(epoch%t.Config.CheckpointEpochs == 0 || epoch == t.Config.NumEpochs-1) {
			loss := lastValLoss
			if math.IsNaN(loss) {
				loss = 0
			}
			path, err := t.States.SaveCheckpoint(t.Runner.Optimizer, epoch, loss)
			if err != nil {
				return err
			}
			t.Logger.Infof("Saved model %s", path)
		}

		scale := t.Scheduler.Step(epoch, lastValLoss)
		t.Runner.Optimizer.SetLRScale(scale)
	}

	t.Logger.Info("Task done, exiting program.")
	return nil
}
