package training

import (
	"math"
)

// Scheduler adjusts the learning rate at epoch boundaries. Step is called
// once at the end of every epoch with the last known validation loss and
// returns the scale to apply to each parameter group's initial learning
// rate. Schedulers that don't consume a metric ignore it.
type Scheduler interface {
	Step(epoch int, metric float64) float64
	Name() string
}

// SchedulerOptions carries the sub-parameters of all scheduler choices; each
// variant reads only its own fields.
type SchedulerOptions struct {
	Milestones      []int   // multi-step: epochs at which the rate drops
	Gamma           float64 // multi-step: multiplicative drop per milestone
	TMax            int     // cosine: annealing period in epochs
	Patience        int     // reduce-on-plateau: epochs without improvement tolerated
	ReductionFactor float64 // reduce-on-plateau: drop factor on plateau
}

// NewScheduler builds the scheduler named by choice. Unknown names are a
// ConfigError.
func NewScheduler(choice string, opts SchedulerOptions) (Scheduler, error) {
	switch choice {
	case "multi-step":
		return NewMultiStepLR(opts.Milestones, opts.Gamma), nil
	case "cosine":
		return NewCosineAnnealingLR(opts.TMax), nil
	case "reduce-on-plateau":
		return NewReduceLROnPlateau(opts.ReductionFactor, opts.Patience), nil
	default:
		return nil, &ConfigError{Field: "scheduler", Value: choice}
	}
}

// MultiStepLR drops the learning rate by gamma at each milestone epoch.
type MultiStepLR struct {
	Milestones []int
	Gamma      float64
}

func NewMultiStepLR(milestones []int, gamma float64) *MultiStepLR {
	if gamma <= 0 || gamma >= 1 {
		gamma = 0.1
	}
	return &MultiStepLR{Milestones: milestones, Gamma: gamma}
}

func (s *MultiStepLR) Step(epoch int, metric float64) float64 {
	passed := 0
	for _, m := range s.Milestones {
		if epoch >= m {
			passed++
		}
	}
	return math.Pow(s.Gamma, float64(passed))
}

func (s *MultiStepLR) Name() string {
	return "MultiStepLR"
}

// CosineAnnealingLR anneals the learning rate to zero over TMax epochs
// following a half cosine.
type CosineAnnealingLR struct {
	TMax int
}

func NewCosineAnnealingLR(tMax int) *CosineAnnealingLR {
	if tMax <= 0 {
		tMax = 100
	}
	return &CosineAnnealingLR{TMax: tMax}
}

func (s *CosineAnnealingLR) Step(epoch int, metric float64) float64 {
	if epoch >= s.TMax {
		return 0
	}
	return (1 + math.Cos(math.Pi*float64(epoch)/float64(s.TMax))) / 2
}

func (s *CosineAnnealingLR) Name() string {
	return "CosineAnnealingLR"
}

// ReduceLROnPlateau multiplies the learning rate by a factor once the
// validation loss has stopped improving for Patience epochs.
//
// A NaN metric means "no validation has run yet"; the scheduler keeps its
// state untouched rather than treating the epoch as a plateau. The original
// system stepped with a literal 0 on non-validation epochs, which biased the
// plateau detector; callers here pass the last known validation loss
// instead.
type ReduceLROnPlateau struct {
	Factor    float64
	Patience  int
	Threshold float64

	bestMetric  float64
	badEpochs   int
	scale       float64
	initialized bool
}

func NewReduceLROnPlateau(factor float64, patience int) *ReduceLROnPlateau {
	if factor <= 0 || factor >= 1 {
		factor = 0.1
	}
	if patience <= 0 {
		patience = 10
	}
	return &ReduceLROnPlateau{
		Factor:    factor,
		Patience:  patience,
		Threshold: 1e-4,
		scale:     1,
	}
}

func (s *ReduceLROnPlateau) Step(epoch int, metric float64) float64 {
	if math.IsNaN(metric) {
		return s.scale
	}
	if !s.initialized {
		s.bestMetric = metric
		s.initialized = true
		return s.scale
	}

	if metric < s.bestMetric-s.Threshold {
		s.bestMetric = metric
		s.badEpochs = 0
	} else {
		s.badEpochs++
		if s.badEpochs > s.Patience {
			s.scale *= s.Factor
			s.badEpochs = 0
		}
	}
	return s.scale
}

func (s *ReduceLROnPlateau) Name() string {
	return "ReduceLROnPlateau"
}
