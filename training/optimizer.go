package training

import (
	"fmt"

	"github.com/tsawler/go-ssd/checkpoints"
	"github.com/tsawler/go-ssd/tensor"
)

// Optimizer updates model parameters from accumulated gradients. Parameters
// whose requires-grad flag is off are skipped entirely, which is how the
// freeze policies exclude layers from training.
type Optimizer interface {
	Step() error
	ZeroGrad()

	// LearningRate returns the first parameter group's current learning
	// rate, matching what the loss report records.
	LearningRate() float64

	// SetLRScale rescales every group's learning rate relative to its
	// initial value. Schedulers drive this once per epoch.
	SetLRScale(scale float64)

	// State exports the optimizer's full internal state for checkpointing;
	// LoadState restores it wholesale.
	State() (*checkpoints.OptimizerState, error)
	LoadState(state *checkpoints.OptimizerState) error
}

// ParamGroup is one optimizer parameter group with its own learning rate.
type ParamGroup struct {
	Name      string
	Params    []*tensor.Tensor
	LR        float64
	InitialLR float64
}

// SGD implements stochastic gradient descent with momentum and weight decay
// over parameter groups.
type SGD struct {
	groups      []ParamGroup
	momentum    float64
	weightDecay float64
	velocities  map[*tensor.Tensor]*tensor.Tensor
}

// NewSGD creates an SGD optimizer. Each group's InitialLR is captured from
// its LR at construction.
func NewSGD(groups []ParamGroup, momentum, weightDecay float64) *SGD {
	for i := range groups {
		groups[i].InitialLR = groups[i].LR
	}
	return &SGD{
		groups:      groups,
		momentum:    momentum,
		weightDecay: weightDecay,
		velocities:  make(map[*tensor.Tensor]*tensor.Tensor),
	}
}

// Step performs one update. Gradients must already be populated by the
// loss's backward pass; parameters without gradients or with requires-grad
// off are left untouched.
func (s *SGD) Step() error {
	for _, group := range s.groups {
		for _, param := range group.Params {
			if !param.RequiresGrad() || param.Grad() == nil {
				continue
			}

			data, err := param.Float32s()
			if err != nil {
				return fmt.Errorf("group %s: %w", group.Name, err)
			}
			gradData, err := param.Grad().Float32s()
			if err != nil {
				return fmt.Errorf("group %s gradient: %w", group.Name, err)
			}

			velocity, ok := s.velocities[param]
			if !ok && s.momentum > 0 {
				velocity, err = tensor.Zeros(param.Shape, tensor.Float32)
				if err != nil {
					return err
				}
				s.velocities[param] = velocity
			}

			lr := float32(group.LR)
			wd := float32(s.weightDecay)
			mu := float32(s.momentum)

			if s.momentum > 0 {
				vData, _ := velocity.Float32s()
				for i := range data {
					g := gradData[i] + wd*data[i]
					vData[i] = mu*vData[i] + g
					data[i] -= lr * vData[i]
				}
			} else {
				for i := range data {
					g := gradData[i] + wd*data[i]
					data[i] -= lr * g
				}
			}
		}
	}
	return nil
}

// ZeroGrad clears accumulated gradients on every parameter, frozen or not.
func (s *SGD) ZeroGrad() {
	for _, group := range s.groups {
		for _, param := range group.Params {
			param.ZeroGrad()
		}
	}
}

// LearningRate returns the first group's current learning rate.
func (s *SGD) LearningRate() float64 {
	if len(s.groups) == 0 {
		return 0
	}
	return s.groups[0].LR
}

// SetLRScale rescales every group from its initial learning rate.
func (s *SGD) SetLRScale(scale float64) {
	for i := range s.groups {
		s.groups[i].LR = s.groups[i].InitialLR * scale
	}
}

// Groups returns the current parameter groups.
func (s *SGD) Groups() []ParamGroup {
	return s.groups
}

// State exports hyperparameters, group learning rates and momentum buffers.
func (s *SGD) State() (*checkpoints.OptimizerState, error) {
	state := &checkpoints.OptimizerState{
		Type:        "SGD",
		Momentum:    s.momentum,
		WeightDecay: s.weightDecay,
	}
	for _, group := range s.groups {
		state.Groups = append(state.Groups, checkpoints.GroupState{
			Name:      group.Name,
			LR:        group.LR,
			InitialLR: group.InitialLR,
		})
		for i, param := range group.Params {
			velocity, ok := s.velocities[param]
			if !ok {
				continue
			}
			vData, err := velocity.Float32s()
			if err != nil {
				return nil, err
			}
			state.StateData = append(state.StateData, checkpoints.OptimizerTensor{
				Name:      fmt.Sprintf("%s.%d", group.Name, i),
				Shape:     append([]int(nil), velocity.Shape...),
				Data:      append([]float32(nil), vData...),
				StateType: "momentum",
			})
		}
	}
	return state, nil
}

// LoadState restores a previously exported state. Group layout and buffer
// shapes must match the current configuration exactly.
func (s *SGD) LoadState(state *checkpoints.OptimizerState) error {
	if state.Type != "SGD" {
		return fmt.Errorf("optimizer state is %s, not SGD", state.Type)
	}
	if len(state.Groups) != len(s.groups) {
		return fmt.Errorf("optimizer state has %d groups, expected %d", len(state.Groups), len(s.groups))
	}

	for i := range s.groups {
		if state.Groups[i].Name != s.groups[i].Name {
			return fmt.Errorf("group %d is %q in state, %q in optimizer", i, state.Groups[i].Name, s.groups[i].Name)
		}
		s.groups[i].LR = state.Groups[i].LR
		s.groups[i].InitialLR = state.Groups[i].InitialLR
	}

	byName := make(map[string]checkpoints.OptimizerTensor, len(state.StateData))
	for _, st := range state.StateData {
		byName[st.Name] = st
	}
	for _, group := range s.groups {
		for i, param := range group.Params {
			st, ok := byName[fmt.Sprintf("%s.%d", group.Name, i)]
			if !ok {
				continue
			}
			if !tensor.SameShape(st.Shape, param.Shape) {
				return fmt.Errorf("momentum buffer %s shape %v incompatible with parameter shape %v",
					st.Name, st.Shape, param.Shape)
			}
			velocity, err := tensor.NewTensor(st.Shape, tensor.Float32, append([]float32(nil), st.Data...))
			if err != nil {
				return err
			}
			s.velocities[param] = velocity
		}
	}
	return nil
}
