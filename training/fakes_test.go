package training

import (
	"fmt"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/tsawler/go-ssd/tensor"
)

func mustTensor(t *testing.T, shape []int, data []float32) *tensor.Tensor {
	t.Helper()
	tn, err := tensor.NewTensor(shape, tensor.Float32, data)
	require.NoError(t, err)
	return tn
}

func mustFloat32s(t *testing.T, tn *tensor.Tensor) []float32 {
	t.Helper()
	data, err := tn.Float32s()
	require.NoError(t, err)
	return data
}

// fakeModel is a stand-in network with one parameter per group.
type fakeModel struct {
	groups       ParameterGroups
	mode         string
	forwardCalls int
}

func newFakeModel(t *testing.T) *fakeModel {
	t.Helper()
	m := &fakeModel{
		groups: ParameterGroups{
			BaseNet: []*tensor.Tensor{mustTensor(t, []int{2}, []float32{1, 2})},
			Extras:  []*tensor.Tensor{mustTensor(t, []int{2}, []float32{3, 4})},
			Heads:   []*tensor.Tensor{mustTensor(t, []int{2}, []float32{5, 6})},
		},
	}
	for _, p := range m.groups.All() {
		p.SetRequiresGrad(true)
	}
	return m
}

func (m *fakeModel) Forward(images *tensor.Tensor) (*tensor.Tensor, *tensor.Tensor, error) {
	m.forwardCalls++
	conf, err := tensor.Zeros([]int{1}, tensor.Float32)
	if err != nil {
		return nil, nil, err
	}
	loc, err := tensor.Zeros([]int{1}, tensor.Float32)
	if err != nil {
		return nil, nil, err
	}
	return conf, loc, nil
}

func (m *fakeModel) Train() { m.mode = "train" }
func (m *fakeModel) Eval()  { m.mode = "eval" }

func (m *fakeModel) Parameters() ParameterGroups { return m.groups }

// fakeLoss reports fixed loss terms and runs an injected backward hook.
type fakeLoss struct {
	regression     float64
	classification float64
	backward       func() error
}

func (l fakeLoss) Regression() float64     { return l.regression }
func (l fakeLoss) Classification() float64 { return l.classification }

func (l fakeLoss) Backward() error {
	if l.backward == nil {
		return nil
	}
	return l.backward()
}

// fakeCriterion hands out a scripted sequence of losses, cycling when the
// pass is longer than the script.
type fakeCriterion struct {
	losses []fakeLoss
	calls  int
}

func (c *fakeCriterion) Forward(confidence, locations, labels, boxes *tensor.Tensor) (LossValue, error) {
	if len(c.losses) == 0 {
		return nil, fmt.Errorf("fake criterion has no scripted losses")
	}
	loss := c.losses[c.calls%len(c.losses)]
	c.calls++
	return loss, nil
}

// sliceDataset serves fixed single-element samples whose image value equals
// the sample index, so batch content is easy to assert on.
type sliceDataset struct {
	n    int
	fail map[int]error
}

func (d *sliceDataset) Len() int { return d.n }

func (d *sliceDataset) Get(index int) (*tensor.Tensor, *tensor.Tensor, *tensor.Tensor, error) {
	if err, ok := d.fail[index]; ok {
		return nil, nil, nil, err
	}
	image, err := tensor.NewTensor([]int{1}, tensor.Float32, []float32{float32(index)})
	if err != nil {
		return nil, nil, nil, err
	}
	boxes, err := tensor.NewTensor([]int{1, 4}, tensor.Float32, make([]float32, 4))
	if err != nil {
		return nil, nil, nil, err
	}
	labels, err := tensor.NewTensor([]int{1}, tensor.Int32, []int32{int32(index)})
	if err != nil {
		return nil, nil, nil, err
	}
	return image, boxes, labels, nil
}

// gradOnes sets a gradient of ones on every parameter that requires it.
func gradOnes(groups ParameterGroups) func() error {
	return func() error {
		for _, p := range groups.All() {
			if !p.RequiresGrad() {
				continue
			}
			grad, err := tensor.NewTensor(p.Shape, tensor.Float32, onesLike(p.NumElems))
			if err != nil {
				return err
			}
			if err := p.SetGrad(grad); err != nil {
				return err
			}
		}
		return nil
	}
}

func onesLike(n int) []float32 {
	data := make([]float32, n)
	for i := range data {
		data[i] = 1
	}
	return data
}
