package training

import (
	"errors"
	"fmt"
	"math/rand"
	"sort"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func collectBatchValues(t *testing.T, b *Batch) []float32 {
	t.Helper()
	return mustFloat32s(t, b.Images)
}

func TestDataLoader(t *testing.T) {
	t.Run("splits the dataset into batches with a short tail", func(t *testing.T) {
		dl := NewDataLoader(&sliceDataset{n: 5}, LoaderConfig{BatchSize: 2})
		assert.Equal(t, 3, dl.Steps())

		sizes := []int{}
		for {
			batch, err := dl.Next()
			require.NoError(t, err)
			if batch == nil {
				break
			}
			sizes = append(sizes, batch.Size)
		}
		assert.Equal(t, []int{2, 2, 1}, sizes)

		// Exhausted loader keeps returning nil.
		batch, err := dl.Next()
		require.NoError(t, err)
		assert.Nil(t, batch)
	})

	t.Run("preserves dataset order without shuffling", func(t *testing.T) {
		dl := NewDataLoader(&sliceDataset{n: 4}, LoaderConfig{BatchSize: 4})

		batch, err := dl.Next()
		require.NoError(t, err)
		require.NotNil(t, batch)
		assert.Equal(t, []float32{0, 1, 2, 3}, collectBatchValues(t, batch))
		assert.Equal(t, []int{4, 1}, batch.Images.Shape)
	})

	t.Run("shuffling permutes but never drops samples", func(t *testing.T) {
		rng := rand.New(rand.NewSource(11))
		dl := NewDataLoader(&sliceDataset{n: 8}, LoaderConfig{BatchSize: 3, Shuffle: true, Rand: rng})

		var seen []float32
		for {
			batch, err := dl.Next()
			require.NoError(t, err)
			if batch == nil {
				break
			}
			seen = append(seen, collectBatchValues(t, batch)...)
		}
		require.Len(t, seen, 8)
		sort.Slice(seen, func(i, j int) bool { return seen[i] < seen[j] })
		assert.Equal(t, []float32{0, 1, 2, 3, 4, 5, 6, 7}, seen)
	})

	t.Run("reset reshuffles and restarts the pass", func(t *testing.T) {
		rng := rand.New(rand.NewSource(3))
		dl := NewDataLoader(&sliceDataset{n: 6}, LoaderConfig{BatchSize: 6, Shuffle: true, Rand: rng})

		first, err := dl.Next()
		require.NoError(t, err)

		dl.Reset()
		second, err := dl.Next()
		require.NoError(t, err)

		assert.Len(t, collectBatchValues(t, second), 6)
		// A second full pass exists even though the orders may differ.
		assert.ElementsMatch(t, collectBatchValues(t, first), collectBatchValues(t, second))
	})

	t.Run("worker pool keeps samples in index order", func(t *testing.T) {
		dl := NewDataLoader(&sliceDataset{n: 16}, LoaderConfig{BatchSize: 8, NumWorkers: 4})

		batch, err := dl.Next()
		require.NoError(t, err)
		assert.Equal(t, []float32{0, 1, 2, 3, 4, 5, 6, 7}, collectBatchValues(t, batch))
	})

	t.Run("propagates sample load failures", func(t *testing.T) {
		loadErr := errors.New("corrupt sample")
		ds := &sliceDataset{n: 4, fail: map[int]error{2: loadErr}}
		dl := NewDataLoader(ds, LoaderConfig{BatchSize: 4, NumWorkers: 2})

		_, err := dl.Next()
		require.Error(t, err)
		assert.ErrorIs(t, err, loadErr)
	})
}

func TestConcatDataset(t *testing.T) {
	a := &sliceDataset{n: 3}
	b := &sliceDataset{n: 2}
	c := NewConcatDataset(a, b)

	assert.Equal(t, 5, c.Len())

	t.Run("maps global indices onto the right member", func(t *testing.T) {
		// Index 3 is b's index 0, whose image value is 0.
		image, _, _, err := c.Get(3)
		require.NoError(t, err)
		assert.Equal(t, []float32{0}, mustFloat32s(t, image))

		image, _, _, err = c.Get(2)
		require.NoError(t, err)
		assert.Equal(t, []float32{2}, mustFloat32s(t, image))
	})

	t.Run("rejects out-of-range indices", func(t *testing.T) {
		for _, idx := range []int{-1, 5, 100} {
			_, _, _, err := c.Get(idx)
			assert.Error(t, err, fmt.Sprintf("index %d", idx))
		}
	})

	t.Run("feeds a loader as one contiguous dataset", func(t *testing.T) {
		dl := NewDataLoader(c, LoaderConfig{BatchSize: 5})
		batch, err := dl.Next()
		require.NoError(t, err)
		assert.Equal(t, []float32{0, 1, 2, 0, 1}, collectBatchValues(t, batch))
	})
}
