package main

import (
	"fmt"
	"math/rand"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"github.com/tsawler/go-ssd/dataset"
	"github.com/tsawler/go-ssd/training"
)

// Options holds the full training configuration surface.
type Options struct {
	DatasetType string
	Datasets    []string
	BalanceData bool

	Net           string
	FreezeBaseNet bool
	FreezeNet     bool

	BaseNet       string
	PretrainedSSD string
	Resume        string

	LR            float64
	Momentum      float64
	WeightDecay   float64
	BaseNetLR     float64
	ExtraLayersLR float64

	Scheduler       string
	Milestones      string
	TMax            int
	Patience        int
	ReductionFactor float64

	BatchSize        int
	NumEpochs        int
	NumWorkers       int
	ValidationEpochs int
	CheckpointEpochs int
	DebugSteps       int
	Device           string
	CheckpointFolder string
	Seed             int64
	Progress         bool
}

var opts Options

var rootCmd = &cobra.Command{
	Use:   "train-ssd",
	Short: "Single Shot MultiBox Detector training",
	RunE: func(cmd *cobra.Command, args []string) error {
		return run(opts)
	},
}

func init() {
	f := rootCmd.Flags()

	f.StringVar(&opts.DatasetType, "dataset-type", "open_images", "Dataset type: voc or open_images")
	f.StringSliceVar(&opts.Datasets, "datasets", []string{"data"}, "Dataset directory paths")
	f.BoolVar(&opts.BalanceData, "balance-data", false, "Balance training data by down-sampling more frequent labels")

	f.StringVar(&opts.Net, "net", "mb1-ssd", "Network architecture: vgg16-ssd, mb1-ssd, mb1-ssd-lite, sq-ssd-lite or mb2-ssd-lite")
	f.BoolVar(&opts.FreezeBaseNet, "freeze-base-net", false, "Freeze base net layers")
	f.BoolVar(&opts.FreezeNet, "freeze-net", false, "Freeze all the layers except the prediction heads")

	f.StringVar(&opts.BaseNet, "base-net", "", "Pretrained base model")
	f.StringVar(&opts.PretrainedSSD, "pretrained-ssd", "", "Pretrained SSD model used as initialization")
	f.StringVar(&opts.Resume, "resume", "", "Checkpoint file to resume training from")

	f.Float64Var(&opts.LR, "lr", 0.01, "Initial learning rate")
	f.Float64Var(&opts.Momentum, "momentum", 0.9, "Momentum value for SGD")
	f.Float64Var(&opts.WeightDecay, "weight-decay", 5e-4, "Weight decay for SGD")
	f.Float64Var(&opts.BaseNetLR, "base-net-lr", 0.001, "Initial learning rate for the base net")
	f.Float64Var(&opts.ExtraLayersLR, "extra-layers-lr", 0, "Initial learning rate for layers between the base net and the prediction heads (defaults to --lr)")

	f.StringVar(&opts.Scheduler, "scheduler", "cosine", "Learning rate scheduler: multi-step, cosine or reduce-on-plateau")
	f.StringVar(&opts.Milestones, "milestones", "80,100", "Milestone epochs for the multi-step scheduler")
	f.IntVar(&opts.TMax, "t-max", 100, "T_max value for the cosine annealing scheduler")
	f.IntVar(&opts.Patience, "patience", 10, "Non-improving epochs tolerated before reducing the learning rate")
	f.Float64Var(&opts.ReductionFactor, "reduction-factor", 0.1, "Factor by which the learning rate is reduced upon plateauing")

	f.IntVar(&opts.BatchSize, "batch-size", 4, "Batch size for training")
	f.IntVar(&opts.NumEpochs, "num-epochs", 30, "Number of epochs to train")
	f.IntVar(&opts.NumWorkers, "num-workers", 2, "Number of workers used in data loading")
	f.IntVar(&opts.ValidationEpochs, "validation-epochs", 1, "Epochs between validation runs")
	f.IntVar(&opts.CheckpointEpochs, "checkpoint-epochs", 1, "Epochs between checkpoint saves")
	f.IntVar(&opts.DebugSteps, "debug-steps", 10, "Debug log output frequency in steps")
	f.StringVar(&opts.Device, "device", "cpu", "Compute device handed to the network implementation")
	f.StringVar(&opts.CheckpointFolder, "checkpoint-folder", "models/", "Directory for saving checkpoint models")
	f.Int64Var(&opts.Seed, "seed", 0, "Random seed for shuffling and balance sampling (0 seeds from the clock)")
	f.BoolVar(&opts.Progress, "progress", false, "Show a per-epoch progress bar")
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func run(opts Options) error {
	logger := logrus.New()
	logger.SetFormatter(&logrus.TextFormatter{FullTimestamp: true, TimestampFormat: "2006-01-02 15:04:05"})

	arch, err := training.LookupArchitecture(opts.Net)
	if err != nil {
		return err
	}

	seed := opts.Seed
	if seed == 0 {
		seed = time.Now().UnixNano()
	}
	rng := rand.New(rand.NewSource(seed))

	if err := os.MkdirAll(opts.CheckpointFolder, 0o755); err != nil {
		return fmt.Errorf("failed to create checkpoint folder: %w", err)
	}

	runStamp := time.Now().UTC().Format("2006-01-02_1504.05")
	report, err := training.NewLossReport(filepath.Join(opts.CheckpointFolder, runStamp+"_loss.report.csv"))
	if err != nil {
		return err
	}

	logger.Info("Prepare training datasets.")
	trainDataset, numClasses, err := buildTrainDatasets(opts, arch, rng, logger)
	if err != nil {
		return err
	}
	logger.Infof("Train dataset size: %d", trainDataset.Len())

	trainLoader := training.NewDataLoader(trainDataset, training.LoaderConfig{
		BatchSize:  opts.BatchSize,
		Shuffle:    true,
		NumWorkers: opts.NumWorkers,
		Rand:       rng,
	})

	logger.Info("Prepare validation dataset.")
	valDataset, err := buildValDataset(opts, arch, logger)
	if err != nil {
		return err
	}
	logger.Infof("Validation dataset size: %d", valDataset.Len())

	valLoader := training.NewDataLoader(valDataset, training.LoaderConfig{
		BatchSize:  opts.BatchSize,
		NumWorkers: opts.NumWorkers,
	})

	logger.Info("Build network.")
	model, err := arch.NewModel(numClasses, opts.Device)
	if err != nil {
		return err
	}
	criterion, err := arch.NewCriterion(opts.Device)
	if err != nil {
		return err
	}

	freeze := training.FreezeNone
	switch {
	case opts.FreezeBaseNet:
		logger.Info("Freeze base net.")
		freeze = training.FreezeBaseNet
	case opts.FreezeNet:
		logger.Info("Freeze all the layers except prediction heads.")
		freeze = training.FreezeAllButHeads
	}

	groups := training.BuildParamGroups(model, freeze, training.LearningRates{
		LR:          opts.LR,
		BaseNet:     opts.BaseNetLR,
		ExtraLayers: opts.ExtraLayersLR,
	})
	optimizer := training.NewSGD(groups, opts.Momentum, opts.WeightDecay)

	states := &training.StateManager{
		Model:            model,
		Arch:             opts.Net,
		CheckpointFolder: opts.CheckpointFolder,
		RunStamp:         runStamp,
		Logger:           logger,
	}

	lastEpoch, err := states.Restore(initPolicy(opts), optimizer)
	if err != nil {
		return err
	}

	scheduler, err := newScheduler(opts)
	if err != nil {
		return err
	}
	logger.Infof("Uses %s scheduler.", scheduler.Name())

	trainer := &training.Trainer{
		Runner: &training.EpochRunner{
			Model:        model,
			Criterion:    criterion,
			Optimizer:    optimizer,
			DebugSteps:   opts.DebugSteps,
			Logger:       logger,
			ShowProgress: opts.Progress,
		},
		Scheduler: scheduler,
		States:    states,
		Report:    report,
		Config: training.TrainerConfig{
			NumEpochs:        opts.NumEpochs,
			ValidationEpochs: opts.ValidationEpochs,
			CheckpointEpochs: opts.CheckpointEpochs,
		},
		Logger: logger,
	}

	return trainer.Run(trainLoader, valLoader, lastEpoch)
}

// buildTrainDatasets loads every configured dataset directory, stores the
// class vocabulary next to the checkpoints and concatenates the datasets
// into one training source. Returns the number of classes the network must
// predict, including background.
func buildTrainDatasets(opts Options, arch training.Architecture, rng *rand.Rand, logger *logrus.Logger) (training.Dataset, int, error) {
	labelFile := filepath.Join(opts.CheckpointFolder, "labels.txt")

	var datasets []training.Dataset
	numClasses := 0
	for _, dir := range opts.Datasets {
		switch opts.DatasetType {
		case "voc":
			d, err := dataset.NewVOCDataset(dir, "trainval", dataset.Options{
				Transform:       arch.TrainTransform,
				TargetTransform: arch.TargetTransform,
				BalanceData:     opts.BalanceData,
				Rand:            rng,
			})
			if err != nil {
				return nil, 0, err
			}
			if err := dataset.StoreLabels(labelFile, d.ClassNames()); err != nil {
				return nil, 0, err
			}
			// VOC's vocabulary already includes the background entry.
			numClasses = len(d.ClassNames())
			datasets = append(datasets, d)

		case "open_images":
			d, err := dataset.NewOpenImagesDataset(dir, "train", dataset.Options{
				Transform:       arch.TrainTransform,
				TargetTransform: arch.TargetTransform,
				BalanceData:     opts.BalanceData,
				Rand:            rng,
			})
			if err != nil {
				return nil, 0, err
			}
			if err := dataset.StoreLabels(labelFile, d.ClassNames()); err != nil {
				return nil, 0, err
			}
			logger.Info(d.String())
			numClasses = len(d.ClassNames()) + 1
			datasets = append(datasets, d)

		default:
			return nil, 0, &training.ConfigError{Field: "dataset-type", Value: opts.DatasetType}
		}
	}

	logger.Infof("Stored labels into file %s.", labelFile)
	return training.NewConcatDataset(datasets...), numClasses, nil
}

// buildValDataset loads the validation split from the last configured
// dataset directory, with test-time transforms.
func buildValDataset(opts Options, arch training.Architecture, logger *logrus.Logger) (training.Dataset, error) {
	dir := opts.Datasets[len(opts.Datasets)-1]
	switch opts.DatasetType {
	case "voc":
		return dataset.NewVOCDataset(dir, "test", dataset.Options{
			Transform:       arch.TestTransform,
			TargetTransform: arch.TargetTransform,
		})
	case "open_images":
		d, err := dataset.NewOpenImagesDataset(dir, "test", dataset.Options{
			Transform:       arch.TestTransform,
			TargetTransform: arch.TargetTransform,
		})
		if err != nil {
			return nil, err
		}
		logger.Info(d.String())
		return d, nil
	default:
		return nil, &training.ConfigError{Field: "dataset-type", Value: opts.DatasetType}
	}
}

func initPolicy(opts Options) training.InitPolicy {
	switch {
	case opts.Resume != "":
		return training.Resume{Path: opts.Resume}
	case opts.BaseNet != "":
		return training.BaseNetInit{Path: opts.BaseNet}
	case opts.PretrainedSSD != "":
		return training.PretrainedSSDInit{Path: opts.PretrainedSSD}
	default:
		return training.Fresh{}
	}
}

func newScheduler(opts Options) (training.Scheduler, error) {
	milestones, err := parseMilestones(opts.Milestones)
	if err != nil {
		return nil, err
	}
	return training.NewScheduler(opts.Scheduler, training.SchedulerOptions{
		Milestones:      milestones,
		TMax:            opts.TMax,
		Patience:        opts.Patience,
		ReductionFactor: opts.ReductionFactor,
	})
}

func parseMilestones(s string) ([]int, error) {
	var milestones []int
	for _, part := range strings.Split(s, ",") {
		part = strings.TrimSpace(part)
		if part == "" {
			continue
		}
		v, err := strconv.Atoi(part)
		if err != nil {
			return nil, &training.ConfigError{Field: "milestones", Value: s}
		}
		milestones = append(milestones, v)
	}
	return milestones, nil
}
