package tensor

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewTensor(t *testing.T) {
	t.Run("allocates zero-filled data when data is nil", func(t *testing.T) {
		tn, err := NewTensor([]int{2, 3}, Float32, nil)
		require.NoError(t, err)
		assert.Equal(t, 6, tn.NumElems)
		data, err := tn.Float32s()
		require.NoError(t, err)
		assert.Equal(t, make([]float32, 6), data)
	})

	t.Run("rejects mismatched data length", func(t *testing.T) {
		_, err := NewTensor([]int{2, 2}, Float32, []float32{1, 2, 3})
		assert.Error(t, err)
	})

	t.Run("rejects empty shape", func(t *testing.T) {
		_, err := NewTensor(nil, Float32, nil)
		assert.Error(t, err)
	})

	t.Run("computes row-major strides", func(t *testing.T) {
		tn, err := NewTensor([]int{4, 3, 2}, Int32, nil)
		require.NoError(t, err)
		assert.Equal(t, []int{6, 2, 1}, tn.Strides)
	})
}

func TestGradLifecycle(t *testing.T) {
	param, err := NewTensor([]int{2, 2}, Float32, []float32{1, 2, 3, 4})
	require.NoError(t, err)

	assert.False(t, param.RequiresGrad())
	param.SetRequiresGrad(true)
	assert.True(t, param.RequiresGrad())

	grad, err := NewTensor([]int{2, 2}, Float32, []float32{0.1, 0.1, 0.1, 0.1})
	require.NoError(t, err)
	require.NoError(t, param.SetGrad(grad))
	assert.Same(t, grad, param.Grad())

	bad, err := NewTensor([]int{4}, Float32, nil)
	require.NoError(t, err)
	assert.Error(t, param.SetGrad(bad))

	param.ZeroGrad()
	assert.Nil(t, param.Grad())
}

func TestClone(t *testing.T) {
	orig, err := NewTensor([]int{3}, Float32, []float32{1, 2, 3})
	require.NoError(t, err)
	orig.SetRequiresGrad(true)

	c := orig.Clone()
	assert.Equal(t, orig.Shape, c.Shape)
	assert.True(t, c.RequiresGrad())

	cd, _ := c.Float32s()
	cd[0] = 99
	od, _ := orig.Float32s()
	assert.Equal(t, float32(1), od[0])
}

func TestCopyFrom(t *testing.T) {
	dst, _ := NewTensor([]int{2}, Float32, []float32{0, 0})
	src, _ := NewTensor([]int{2}, Float32, []float32{5, 6})
	require.NoError(t, dst.CopyFrom(src))
	d, _ := dst.Float32s()
	assert.Equal(t, []float32{5, 6}, d)

	wrong, _ := NewTensor([]int{3}, Float32, nil)
	assert.Error(t, dst.CopyFrom(wrong))
}

func TestStack(t *testing.T) {
	t.Run("stacks along new leading dimension", func(t *testing.T) {
		a, _ := NewTensor([]int{2}, Float32, []float32{1, 2})
		b, _ := NewTensor([]int{2}, Float32, []float32{3, 4})

		s, err := Stack([]*Tensor{a, b})
		require.NoError(t, err)
		assert.Equal(t, []int{2, 2}, s.Shape)
		data, _ := s.Float32s()
		assert.Equal(t, []float32{1, 2, 3, 4}, data)
	})

	t.Run("rejects mismatched shapes", func(t *testing.T) {
		a, _ := NewTensor([]int{2}, Float32, nil)
		b, _ := NewTensor([]int{3}, Float32, nil)
		_, err := Stack([]*Tensor{a, b})
		assert.Error(t, err)
	})

	t.Run("rejects empty input", func(t *testing.T) {
		_, err := Stack(nil)
		assert.Error(t, err)
	})
}
