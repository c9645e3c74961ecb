package training

import (
	"fmt"
	"path/filepath"

	"github.com/sirupsen/logrus"

	"github.com/tsawler/go-ssd/checkpoints"
	"github.com/tsawler/go-ssd/tensor"
)

// FreezePolicy selects which parameter groups are excluded from gradient
// updates.
type FreezePolicy int

const (
	// FreezeNone trains all three groups, each at its own learning rate.
	FreezeNone FreezePolicy = iota
	// FreezeBaseNet freezes the backbone; extra layers and prediction
	// heads keep training.
	FreezeBaseNet
	// FreezeAllButHeads freezes everything except the prediction heads.
	FreezeAllButHeads
)

func (f FreezePolicy) String() string {
	switch f {
	case FreezeNone:
		return "none"
	case FreezeBaseNet:
		return "freeze-base-net"
	case FreezeAllButHeads:
		return "freeze-net"
	default:
		return fmt.Sprintf("FreezePolicy(%d)", int(f))
	}
}

// InitPolicy selects how prior state is loaded at training start. Exactly
// one variant applies per run; Restore handles them exhaustively.
type InitPolicy interface {
	isInitPolicy()
}

// Resume restores model weights, optimizer state and the epoch counter from
// a full checkpoint; training continues at the stored epoch plus one.
type Resume struct{ Path string }

// BaseNetInit loads backbone weights from a base-network file; everything
// else starts fresh.
type BaseNetInit struct{ Path string }

// PretrainedSSDInit loads a previously trained network's weights as
// initialization, discarding its optimizer state and epoch.
type PretrainedSSDInit struct{ Path string }

// Fresh leaves initialization to the model itself.
type Fresh struct{}

func (Resume) isInitPolicy()            {}
func (BaseNetInit) isInitPolicy()       {}
func (PretrainedSSDInit) isInitPolicy() {}
func (Fresh) isInitPolicy()             {}

// LearningRates carries the configured rates. BaseNet and ExtraLayers
// default to the global rate when unset.
type LearningRates struct {
	LR          float64
	BaseNet     float64
	ExtraLayers float64
}

func (l LearningRates) withDefaults() LearningRates {
	if l.BaseNet <= 0 {
		l.BaseNet = l.LR
	}
	if l.ExtraLayers <= 0 {
		l.ExtraLayers = l.LR
	}
	return l
}

// setOrder fixes the serialization order of parameter sets in checkpoints.
var setOrder = []string{"base_net", "extras", "heads"}

func parameterSets(g ParameterGroups) map[string][]*tensor.Tensor {
	return map[string][]*tensor.Tensor{
		"base_net": g.BaseNet,
		"extras":   g.Extras,
		"heads":    g.Heads,
	}
}

func setRequiresGrad(params []*tensor.Tensor, requires bool) {
	for _, p := range params {
		p.SetRequiresGrad(requires)
	}
}

// BuildParamGroups applies the freeze policy to the model's parameters and
// returns the optimizer groups with their learning rates. Frozen groups are
// excluded from the optimizer entirely and have their requires-grad flags
// cleared, so they receive no updates through any path.
func BuildParamGroups(m Model, freeze FreezePolicy, rates LearningRates) []ParamGroup {
	rates = rates.withDefaults()
	g := m.Parameters()

	switch freeze {
	case FreezeBaseNet:
		setRequiresGrad(g.BaseNet, false)
		setRequiresGrad(g.Extras, true)
		setRequiresGrad(g.Heads, true)
		return []ParamGroup{
			{Name: "extras", Params: g.Extras, LR: rates.ExtraLayers},
			{Name: "heads", Params: g.Heads, LR: rates.LR},
		}
	case FreezeAllButHeads:
		setRequiresGrad(g.BaseNet, false)
		setRequiresGrad(g.Extras, false)
		setRequiresGrad(g.Heads, true)
		return []ParamGroup{
			{Name: "heads", Params: g.Heads, LR: rates.LR},
		}
	default:
		setRequiresGrad(g.BaseNet, true)
		setRequiresGrad(g.Extras, true)
		setRequiresGrad(g.Heads, true)
		return []ParamGroup{
			{Name: "base_net", Params: g.BaseNet, LR: rates.BaseNet},
			{Name: "extras", Params: g.Extras, LR: rates.ExtraLayers},
			{Name: "heads", Params: g.Heads, LR: rates.LR},
		}
	}
}

// StateManager owns the training-state lifecycle: restoring prior state at
// start and persisting checkpoints at epoch boundaries.
type StateManager struct {
	Model            Model
	Arch             string
	CheckpointFolder string

	// RunStamp prefixes every artifact of this run so files sort
	// chronologically.
	RunStamp string

	Logger *logrus.Logger
}

// Restore applies the init policy and returns the last completed epoch, or
// -1 when training starts from scratch. Resume is all-or-nothing: weights,
// optimizer state and epoch counter move together.
func (sm *StateManager) Restore(policy InitPolicy, opt Optimizer) (lastEpoch int, err error) {
	switch p := policy.(type) {
	case Resume:
		sm.Logger.Infof("Resume from the model %s", p.Path)
		ckpt, err := checkpoints.Load(p.Path)
		if err != nil {
			return -1, err
		}
		if ckpt.Arch != sm.Arch {
			return -1, &checkpoints.CheckpointError{
				Path: p.Path,
				Err:  fmt.Errorf("checkpoint was trained for %q, current architecture is %q", ckpt.Arch, sm.Arch),
			}
		}
		sets := parameterSets(sm.Model.Parameters())
		if err := checkpoints.LoadWeights(ckpt.Weights, sets, p.Path); err != nil {
			return -1, err
		}
		if ckpt.OptimizerState == nil {
			return -1, &checkpoints.CheckpointError{Path: p.Path, Err: fmt.Errorf("checkpoint carries no optimizer state")}
		}
		if err := opt.LoadState(ckpt.OptimizerState); err != nil {
			return -1, &checkpoints.CheckpointError{Path: p.Path, Err: err}
		}
		return ckpt.Epoch, nil

	case BaseNetInit:
		sm.Logger.Infof("Init from base net %s", p.Path)
		ckpt, err := checkpoints.Load(p.Path)
		if err != nil {
			return -1, err
		}
		sets := map[string][]*tensor.Tensor{"base_net": sm.Model.Parameters().BaseNet}
		if err := checkpoints.LoadWeights(ckpt.Weights, sets, p.Path); err != nil {
			return -1, err
		}
		return -1, nil

	case PretrainedSSDInit:
		sm.Logger.Infof("Init from pretrained ssd %s", p.Path)
		ckpt, err := checkpoints.Load(p.Path)
		if err != nil {
			return -1, err
		}
		sets := parameterSets(sm.Model.Parameters())
		if err := checkpoints.LoadWeights(ckpt.Weights, sets, p.Path); err != nil {
			return -1, err
		}
		return -1, nil

	case Fresh:
		return -1, nil

	default:
		return -1, fmt.Errorf("unknown init policy %T", policy)
	}
}

// SaveCheckpoint persists model weights, full optimizer state and the epoch
// number as one atomic unit and returns the written path.
func (sm *StateManager) SaveCheckpoint(opt Optimizer, epoch int, validationLoss float64) (string, error) {
	weights, err := checkpoints.ExtractWeights(parameterSets(sm.Model.Parameters()), setOrder)
	if err != nil {
		return "", err
	}
	optState, err := opt.State()
	if err != nil {
		return "", err
	}

	path := filepath.Join(sm.CheckpointFolder, checkpoints.Filename(sm.RunStamp, sm.Arch, epoch, validationLoss))
	ckpt := &checkpoints.Checkpoint{
		Arch:           sm.Arch,
		Epoch:          epoch,
		ValidationLoss: validationLoss,
		Weights:        weights,
		OptimizerState: optState,
	}
	if err := checkpoints.Save(ckpt, path); err != nil {
		return "", err
	}
	return path, nil
}
