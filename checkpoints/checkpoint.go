package checkpoints

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/tsawler/go-ssd/tensor"
)

// CheckpointError reports a missing or structurally incompatible checkpoint
// file. Training aborts on it; proceeding with partial state would corrupt
// training semantics.
type CheckpointError struct {
	Path string
	Err  error
}

func (e *CheckpointError) Error() string {
	return fmt.Sprintf("checkpoint %s: %v", e.Path, e.Err)
}

func (e *CheckpointError) Unwrap() error {
	return e.Err
}

// Checkpoint is one atomic training snapshot: model weights, optimizer state
// and the epoch counter always travel together. A checkpoint is either
// restored wholesale or not used at all.
type Checkpoint struct {
	Arch           string          `json:"arch"`
	Epoch          int             `json:"epoch"`
	ValidationLoss float64         `json:"validation_loss"`
	Weights        []WeightTensor  `json:"weights"`
	OptimizerState *OptimizerState `json:"optimizer_state,omitempty"`
	Metadata       Metadata        `json:"metadata"`
}

// WeightTensor is one serialized model parameter.
type WeightTensor struct {
	Name  string    `json:"name"`
	Shape []int     `json:"shape"`
	Data  []float32 `json:"data"`
}

// OptimizerState captures the optimizer's full internal state: group
// learning rates, hyperparameters and per-parameter buffers (momentum
// velocities).
type OptimizerState struct {
	Type        string            `json:"type"`
	Momentum    float64           `json:"momentum"`
	WeightDecay float64           `json:"weight_decay"`
	Groups      []GroupState      `json:"groups"`
	StateData   []OptimizerTensor `json:"state_data"`
}

// GroupState records one parameter group's learning rates.
type GroupState struct {
	Name      string  `json:"name"`
	LR        float64 `json:"lr"`
	InitialLR float64 `json:"initial_lr"`
}

// OptimizerTensor is one serialized optimizer buffer.
type OptimizerTensor struct {
	Name      string    `json:"name"`
	Shape     []int     `json:"shape"`
	Data      []float32 `json:"data"`
	StateType string    `json:"state_type"`
}

// Metadata describes the checkpoint's provenance.
type Metadata struct {
	Framework string    `json:"framework"`
	Version   string    `json:"version"`
	CreatedAt time.Time `json:"created_at"`
}

// Filename builds the deterministic checkpoint name for one epoch:
// run timestamp, architecture, epoch and validation loss, so files sort
// chronologically and are self-describing.
func Filename(runStamp, arch string, epoch int, validationLoss float64) string {
	return fmt.Sprintf("%s_%s-Epoch-%d-Loss-%.4f.json", runStamp, arch, epoch, validationLoss)
}

// Save writes the checkpoint to path as one atomic unit. The file is staged
// next to the target and renamed into place so a crash mid-write never
// leaves a partial checkpoint behind.
func Save(ckpt *Checkpoint, path string) error {
	if ckpt.Metadata.Framework == "" {
		ckpt.Metadata.Framework = "go-ssd"
		ckpt.Metadata.Version = "1.0.0"
		ckpt.Metadata.CreatedAt = time.Now()
	}

	tmp, err := os.CreateTemp(filepath.Dir(path), filepath.Base(path)+".tmp-*")
	if err != nil {
		return &CheckpointError{Path: path, Err: err}
	}
	defer os.Remove(tmp.Name())

	enc := json.NewEncoder(tmp)
	if err := enc.Encode(ckpt); err != nil {
		tmp.Close()
		return &CheckpointError{Path: path, Err: fmt.Errorf("encoding: %w", err)}
	}
	if err := tmp.Close(); err != nil {
		return &CheckpointError{Path: path, Err: err}
	}
	if err := os.Rename(tmp.Name(), path); err != nil {
		return &CheckpointError{Path: path, Err: err}
	}
	return nil
}

// Load reads a checkpoint from path. Fails with CheckpointError if the file
// is missing or malformed.
func Load(path string) (*Checkpoint, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, &CheckpointError{Path: path, Err: err}
	}
	defer f.Close()

	var ckpt Checkpoint
	if err := json.NewDecoder(f).Decode(&ckpt); err != nil {
		return nil, &CheckpointError{Path: path, Err: fmt.Errorf("decoding: %w", err)}
	}
	return &ckpt, nil
}

// ExtractWeights flattens named parameter sets into serializable weight
// tensors. Weights are named <set>.<index>, e.g. "base_net.0".
func ExtractWeights(sets map[string][]*tensor.Tensor, order []string) ([]WeightTensor, error) {
	var weights []WeightTensor
	for _, set := range order {
		for i, t := range sets[set] {
			data, err := t.Float32s()
			if err != nil {
				return nil, fmt.Errorf("parameter %s.%d: %w", set, i, err)
			}
			weights = append(weights, WeightTensor{
				Name:  fmt.Sprintf("%s.%d", set, i),
				Shape: append([]int(nil), t.Shape...),
				Data:  append([]float32(nil), data...),
			})
		}
	}
	return weights, nil
}

// LoadWeights copies serialized weights into the named parameter sets. Every
// tensor in sets must be covered by a weight with a matching shape; weights
// without a target tensor are ignored, which lets a full-network checkpoint
// initialize a backbone-only set. Shape mismatches mean the checkpoint was
// produced by a different architecture.
func LoadWeights(weights []WeightTensor, sets map[string][]*tensor.Tensor, path string) error {
	byName := make(map[string]WeightTensor, len(weights))
	for _, w := range weights {
		byName[w.Name] = w
	}

	for set, params := range sets {
		for i, t := range params {
			name := fmt.Sprintf("%s.%d", set, i)
			w, ok := byName[name]
			if !ok {
				return &CheckpointError{Path: path, Err: fmt.Errorf("missing weight %s", name)}
			}
			if !tensor.SameShape(w.Shape, t.Shape) {
				return &CheckpointError{Path: path, Err: fmt.Errorf(
					"weight %s shape %v incompatible with parameter shape %v", name, w.Shape, t.Shape)}
			}
			src, err := tensor.NewTensor(w.Shape, tensor.Float32, w.Data)
			if err != nil {
				return &CheckpointError{Path: path, Err: fmt.Errorf("weight %s: %w", name, err)}
			}
			if err := t.CopyFrom(src); err != nil {
				return &CheckpointError{Path: path, Err: fmt.Errorf("weight %s: %w", name, err)}
			}
		}
	}
	return nil
}
