package tensor

import (
	"fmt"
)

// DType identifies the element type of a tensor.
type DType int

const (
	Float32 DType = iota
	Int32
)

func (d DType) String() string {
	switch d {
	case Float32:
		return "Float32"
	case Int32:
		return "Int32"
	default:
		return "Unknown"
	}
}

// Tensor is a dense CPU tensor. It is the common currency between the
// dataset pipeline, the model, the optimizer and the checkpoint codec.
// Data holds either []float32 or []int32 depending on DType.
type Tensor struct {
	Shape    []int
	Strides  []int
	DType    DType
	Data     interface{}
	NumElems int

	requiresGrad bool
	grad         *Tensor
}

func (t *Tensor) String() string {
	return fmt.Sprintf("Tensor(shape=%v, dtype=%s, elements=%d)", t.Shape, t.DType, t.NumElems)
}

// RequiresGrad reports whether this tensor participates in gradient updates.
func (t *Tensor) RequiresGrad() bool {
	return t.requiresGrad
}

// SetRequiresGrad marks the tensor as trainable or frozen.
func (t *Tensor) SetRequiresGrad(requires bool) {
	t.requiresGrad = requires
}

// Grad returns the accumulated gradient tensor, or nil if none has been set.
func (t *Tensor) Grad() *Tensor {
	return t.grad
}

// SetGrad replaces the accumulated gradient. The gradient must match the
// tensor's shape.
func (t *Tensor) SetGrad(grad *Tensor) error {
	if grad != nil && !SameShape(t.Shape, grad.Shape) {
		return fmt.Errorf("gradient shape %v does not match tensor shape %v", grad.Shape, t.Shape)
	}
	t.grad = grad
	return nil
}

// ZeroGrad clears the accumulated gradient.
func (t *Tensor) ZeroGrad() {
	t.grad = nil
}

func calculateStrides(shape []int) []int {
	if len(shape) == 0 {
		return []int{}
	}

	strides := make([]int, len(shape))
	stride := 1
	for i := len(shape) - 1; i >= 0; i-- {
		strides[i] = stride
		stride *= shape[i]
	}
	return strides
}

func calculateNumElements(shape []int) int {
	n := 1
	for _, dim := range shape {
		n *= dim
	}
	return n
}

func validateShape(shape []int) error {
	if len(shape) == 0 {
		return fmt.Errorf("shape cannot be empty")
	}
	for i, dim := range shape {
		if dim < 0 {
			return fmt.Errorf("shape dimension %d is negative: %d", i, dim)
		}
	}
	return nil
}

// SameShape reports whether two shapes are identical.
func SameShape(a, b []int) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}

// NewTensor creates a tensor with the given shape and data. Data may be nil,
// in which case the tensor is allocated zero-filled.
func NewTensor(shape []int, dtype DType, data interface{}) (*Tensor, error) {
	if err := validateShape(shape); err != nil {
		return nil, err
	}

	t := &Tensor{
		Shape:    shape,
		Strides:  calculateStrides(shape),
		DType:    dtype,
		NumElems: calculateNumElements(shape),
	}

	if data == nil {
		switch dtype {
		case Float32:
			t.Data = make([]float32, t.NumElems)
		case Int32:
			t.Data = make([]int32, t.NumElems)
		default:
			return nil, fmt.Errorf("unsupported dtype: %s", dtype)
		}
		return t, nil
	}

	if err := t.setData(data); err != nil {
		return nil, err
	}
	return t, nil
}

func (t *Tensor) setData(data interface{}) error {
	switch t.DType {
	case Float32:
		d, ok := data.([]float32)
		if !ok {
			return fmt.Errorf("unsupported data type for Float32 tensor: %T", data)
		}
		if len(d) != t.NumElems {
			return fmt.Errorf("data length %d does not match tensor size %d", len(d), t.NumElems)
		}
		t.Data = d
	case Int32:
		d, ok := data.([]int32)
		if !ok {
			return fmt.Errorf("unsupported data type for Int32 tensor: %T", data)
		}
		if len(d) != t.NumElems {
			return fmt.Errorf("data length %d does not match tensor size %d", len(d), t.NumElems)
		}
		t.Data = d
	default:
		return fmt.Errorf("unsupported dtype: %s", t.DType)
	}
	return nil
}

// Zeros creates a zero-filled tensor.
func Zeros(shape []int, dtype DType) (*Tensor, error) {
	return NewTensor(shape, dtype, nil)
}

// Float32s returns the underlying float32 data slice.
func (t *Tensor) Float32s() ([]float32, error) {
	d, ok := t.Data.([]float32)
	if !ok {
		return nil, fmt.Errorf("tensor is %s, not Float32", t.DType)
	}
	return d, nil
}

// Int32s returns the underlying int32 data slice.
func (t *Tensor) Int32s() ([]int32, error) {
	d, ok := t.Data.([]int32)
	if !ok {
		return nil, fmt.Errorf("tensor is %s, not Int32", t.DType)
	}
	return d, nil
}

// Clone returns a deep copy of the tensor. Gradient state is not copied.
func (t *Tensor) Clone() *Tensor {
	c := &Tensor{
		Shape:        append([]int(nil), t.Shape...),
		Strides:      append([]int(nil), t.Strides...),
		DType:        t.DType,
		NumElems:     t.NumElems,
		requiresGrad: t.requiresGrad,
	}
	switch d := t.Data.(type) {
	case []float32:
		c.Data = append([]float32(nil), d...)
	case []int32:
		c.Data = append([]int32(nil), d...)
	}
	return c
}

// CopyFrom overwrites the tensor's data with src's data. Shapes and dtypes
// must match exactly.
func (t *Tensor) CopyFrom(src *Tensor) error {
	if t.DType != src.DType {
		return fmt.Errorf("dtype mismatch: %s vs %s", t.DType, src.DType)
	}
	if !SameShape(t.Shape, src.Shape) {
		return fmt.Errorf("shape mismatch: %v vs %v", t.Shape, src.Shape)
	}
	switch d := src.Data.(type) {
	case []float32:
		copy(t.Data.([]float32), d)
	case []int32:
		copy(t.Data.([]int32), d)
	}
	return nil
}

// Stack concatenates tensors of identical shape and dtype along a new
// leading dimension. The result has shape [len(tensors), shape...].
func Stack(tensors []*Tensor) (*Tensor, error) {
	if len(tensors) == 0 {
		return nil, fmt.Errorf("cannot stack zero tensors")
	}

	first := tensors[0]
	for i, t := range tensors[1:] {
		if t.DType != first.DType {
			return nil, fmt.Errorf("tensor %d dtype %s does not match %s", i+1, t.DType, first.DType)
		}
		if !SameShape(t.Shape, first.Shape) {
			return nil, fmt.Errorf("tensor %d shape %v does not match %v", i+1, t.Shape, first.Shape)
		}
	}

	shape := append([]int{len(tensors)}, first.Shape...)
	switch first.DType {
	case Float32:
		data := make([]float32, 0, len(tensors)*first.NumElems)
		for _, t := range tensors {
			data = append(data, t.Data.([]float32)...)
		}
		return NewTensor(shape, Float32, data)
	case Int32:
		data := make([]int32, 0, len(tensors)*first.NumElems)
		for _, t := range tensors {
			data = append(data, t.Data.([]int32)...)
		}
		return NewTensor(shape, Int32, data)
	default:
		return nil, fmt.Errorf("unsupported dtype: %s", first.DType)
	}
}
