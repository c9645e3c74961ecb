package training

import (
	"fmt"

	"github.com/tsawler/go-ssd/dataset"
	"github.com/tsawler/go-ssd/tensor"
)

// ParameterGroups partitions a detection network's parameters by role. The
// split drives both the freeze policy and per-group learning rates.
type ParameterGroups struct {
	// BaseNet holds the backbone feature extractor's parameters.
	BaseNet []*tensor.Tensor
	// Extras holds the source-layer add-ons and extra feature layers.
	Extras []*tensor.Tensor
	// Heads holds the regression and classification prediction heads.
	Heads []*tensor.Tensor
}

// All returns every parameter across the three groups.
func (g ParameterGroups) All() []*tensor.Tensor {
	all := make([]*tensor.Tensor, 0, len(g.BaseNet)+len(g.Extras)+len(g.Heads))
	all = append(all, g.BaseNet...)
	all = append(all, g.Extras...)
	all = append(all, g.Heads...)
	return all
}

// Model is the opaque SSD network. It accepts a batch of images and returns
// per-anchor class confidences and box-location offsets; everything about
// its internals, including device placement, belongs to the implementation.
type Model interface {
	// Forward runs the network on a batch of images [N, ...] and returns
	// confidence and location tensors for the loss function.
	Forward(images *tensor.Tensor) (confidence, locations *tensor.Tensor, err error)

	// Train and Eval toggle training-specific behavior (dropout, batch
	// norm statistics, gradient tracking).
	Train()
	Eval()

	// Parameters exposes the network's parameters grouped by role.
	Parameters() ParameterGroups
}

// LossValue is the detection loss of a single batch: two additive scalar
// terms plus backpropagation through the model that produced the
// predictions.
type LossValue interface {
	Regression() float64
	Classification() float64

	// Backward propagates the summed loss, accumulating gradients on all
	// trainable parameters. Must not be called in evaluation mode.
	Backward() error
}

// Criterion is the opaque composite loss. Implementations match predictions
// against encoded targets and return the regression and classification
// terms.
type Criterion interface {
	Forward(confidence, locations, labels, boxes *tensor.Tensor) (LossValue, error)
}

// Architecture bundles everything an SSD network implementation contributes:
// the model factory plus the transforms matched to its input size and anchor
// priors.
type Architecture struct {
	Name string

	// NewModel builds the network for the given class count (including
	// background). The device string is implementation-defined ("cpu",
	// "gpu", ...).
	NewModel func(numClasses int, device string) (Model, error)

	// NewCriterion builds the matching multibox loss.
	NewCriterion func(device string) (Criterion, error)

	// TrainTransform augments training samples; TestTransform only
	// resizes and normalizes. TargetTransform encodes ground truth
	// against the architecture's priors.
	TrainTransform  dataset.Transform
	TestTransform   dataset.Transform
	TargetTransform dataset.TargetTransform
}

var architectures = map[string]Architecture{}

// RegisterArchitecture makes a network implementation selectable by name,
// typically from an init function in the implementing package.
func RegisterArchitecture(arch Architecture) {
	if arch.Name == "" {
		panic("training: architecture registered without a name")
	}
	if _, dup := architectures[arch.Name]; dup {
		panic(fmt.Sprintf("training: architecture %q registered twice", arch.Name))
	}
	architectures[arch.Name] = arch
}

// LookupArchitecture resolves a network name. Unknown names are a
// ConfigError.
func LookupArchitecture(name string) (Architecture, error) {
	arch, ok := architectures[name]
	if !ok {
		return Architecture{}, &ConfigError{Field: "net", Value: name}
	}
	return arch, nil
}
