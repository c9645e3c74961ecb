package training

import (
	"fmt"
	"math/rand"
	"sync"

	"github.com/tsawler/go-ssd/tensor"
)

// Dataset is the contract the loader consumes: indexed random access to
// transformed (image, boxes, labels) samples.
type Dataset interface {
	Len() int
	Get(index int) (image, boxes, labels *tensor.Tensor, err error)
}

// ConcatDataset chains several datasets into one contiguous index space, so
// multiple dataset directories train as one.
type ConcatDataset struct {
	datasets []Dataset
	offsets  []int
	total    int
}

func NewConcatDataset(datasets ...Dataset) *ConcatDataset {
	c := &ConcatDataset{datasets: datasets}
	for _, d := range datasets {
		c.offsets = append(c.offsets, c.total)
		c.total += d.Len()
	}
	return c
}

func (c *ConcatDataset) Len() int {
	return c.total
}

func (c *ConcatDataset) Get(index int) (*tensor.Tensor, *tensor.Tensor, *tensor.Tensor, error) {
	if index < 0 || index >= c.total {
		return nil, nil, nil, fmt.Errorf("index %d out of range [0, %d)", index, c.total)
	}
	for i := len(c.datasets) - 1; i >= 0; i-- {
		if index >= c.offsets[i] {
			return c.datasets[i].Get(index - c.offsets[i])
		}
	}
	// Unreachable given the bounds check above.
	return nil, nil, nil, fmt.Errorf("index %d not covered by any dataset", index)
}

// Batch is one stacked mini-batch. Images has shape [Size, ...]; Boxes and
// Labels carry the encoded targets with the same leading dimension.
type Batch struct {
	Images *tensor.Tensor
	Boxes  *tensor.Tensor
	Labels *tensor.Tensor
	Size   int
}

// LoaderConfig configures a DataLoader.
type LoaderConfig struct {
	BatchSize int
	Shuffle   bool

	// NumWorkers is the number of goroutines fetching and transforming
	// samples of a batch concurrently. Zero or one means sequential.
	NumWorkers int

	// Rand drives shuffling. Optional; the global source is used when nil.
	Rand *rand.Rand
}

// DataLoader serves mini-batches from a dataset. Sample fetching within a
// batch may be parallel, but batches themselves are handed out sequentially:
// the caller consumes one batch fully before the next is assembled.
type DataLoader struct {
	dataset  Dataset
	config   LoaderConfig
	indices  []int
	position int
	mu       sync.Mutex
}

func NewDataLoader(dataset Dataset, config LoaderConfig) *DataLoader {
	if config.BatchSize <= 0 {
		config.BatchSize = 1
	}

	indices := make([]int, dataset.Len())
	for i := range indices {
		indices[i] = i
	}

	dl := &DataLoader{
		dataset: dataset,
		config:  config,
		indices: indices,
	}
	dl.shuffle()
	return dl
}

func (dl *DataLoader) shuffle() {
	if !dl.config.Shuffle {
		return
	}
	swap := func(i, j int) {
		dl.indices[i], dl.indices[j] = dl.indices[j], dl.indices[i]
	}
	if dl.config.Rand != nil {
		dl.config.Rand.Shuffle(len(dl.indices), swap)
	} else {
		rand.Shuffle(len(dl.indices), swap)
	}
}

// Reset rewinds the loader to the beginning of a new pass, reshuffling if
// configured.
func (dl *DataLoader) Reset() {
	dl.mu.Lock()
	defer dl.mu.Unlock()

	dl.position = 0
	dl.shuffle()
}

// Steps returns the number of batches in one full pass.
func (dl *DataLoader) Steps() int {
	n := len(dl.indices)
	return (n + dl.config.BatchSize - 1) / dl.config.BatchSize
}

// Next assembles and returns the next batch, or nil once the pass is
// exhausted. Samples are fetched by a worker pool and stacked in index
// order, so batch content is independent of worker scheduling.
func (dl *DataLoader) Next() (*Batch, error) {
	dl.mu.Lock()
	defer dl.mu.Unlock()

	remaining := len(dl.indices) - dl.position
	if remaining <= 0 {
		return nil, nil
	}

	batchSize := dl.config.BatchSize
	if remaining < batchSize {
		batchSize = remaining
	}
	batchIndices := dl.indices[dl.position : dl.position+batchSize]
	dl.position += batchSize

	images := make([]*tensor.Tensor, batchSize)
	boxes := make([]*tensor.Tensor, batchSize)
	labels := make([]*tensor.Tensor, batchSize)
	errs := make([]error, batchSize)

	workers := dl.config.NumWorkers
	if workers <= 1 || batchSize == 1 {
		for i, idx := range batchIndices {
			images[i], boxes[i], labels[i], errs[i] = dl.dataset.Get(idx)
		}
	} else {
		if workers > batchSize {
			workers = batchSize
		}
		jobs := make(chan int, batchSize)
		var wg sync.WaitGroup
		for w := 0; w < workers; w++ {
			wg.Add(1)
			go func() {
				defer wg.Done()
				for i := range jobs {
					images[i], boxes[i], labels[i], errs[i] = dl.dataset.Get(batchIndices[i])
				}
			}()
		}
		for i := range batchIndices {
			jobs <- i
		}
		close(jobs)
		wg.Wait()
	}

	for i, err := range errs {
		if err != nil {
			return nil, fmt.Errorf("fetching sample %d: %w", batchIndices[i], err)
		}
	}

	imageBatch, err := tensor.Stack(images)
	if err != nil {
		return nil, fmt.Errorf("stacking images: %w", err)
	}
	boxBatch, err := tensor.Stack(boxes)
	if err != nil {
		return nil, fmt.Errorf("stacking boxes: %w", err)
	}
	labelBatch, err := tensor.Stack(labels)
	if err != nil {
		return nil, fmt.Errorf("stacking labels: %w", err)
	}

	return &Batch{
		Images: imageBatch,
		Boxes:  boxBatch,
		Labels: labelBatch,
		Size:   batchSize,
	}, nil
}
