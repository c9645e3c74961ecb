package dataset

import "github.com/tsawler/go-ssd/tensor"

// Transform augments a decoded image together with its ground-truth boxes
// and labels. Implementations typically resize, flip and normalize; the
// dataset treats them as opaque.
type Transform interface {
	Apply(image, boxes, labels *tensor.Tensor) (*tensor.Tensor, *tensor.Tensor, *tensor.Tensor, error)
}

// TargetTransform encodes augmented boxes and labels into the targets the
// loss function expects, e.g. by matching ground truth against anchor priors.
type TargetTransform interface {
	Apply(boxes, labels *tensor.Tensor) (*tensor.Tensor, *tensor.Tensor, error)
}
