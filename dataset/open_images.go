package dataset

import (
	"fmt"
	"math/rand"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"gonum.org/v1/gonum/stat"

	"github.com/tsawler/go-ssd/tensor"
)

// imageExtensions lists the file extensions probed when resolving an image
// identifier on disk.
var imageExtensions = []string{".jpg", ".jpeg", ".png"}

// Options configures an OpenImagesDataset.
type Options struct {
	Transform       Transform
	TargetTransform TargetTransform

	// BalanceData down-samples the image set so every class is supported by
	// at most the minority class's image count.
	BalanceData bool

	// Rand is the source used for balance sampling. Required when
	// BalanceData is set; balancing is deterministic up to this source.
	Rand *rand.Rand
}

// OpenImagesDataset serves (image, boxes, labels) samples from an Open Images
// style directory: a per-split annotation CSV next to a directory of images
// named by image identifier.
//
// Layout: <root>/sub-<split>-annotations-bbox.csv and <root>/<split>/<id>.jpg.
type OpenImagesDataset struct {
	root  string
	split string
	opts  Options

	records     []ImageRecord
	classNames  []string
	classDict   map[string]int
	minImageNum int

	statOnce  sync.Once
	classStat map[string]int
}

// NewOpenImagesDataset builds the annotation index for one dataset split and
// optionally balances it. Fails with DataLoadError if the annotation source
// is missing, malformed or empty.
func NewOpenImagesDataset(root, split string, opts Options) (*OpenImagesDataset, error) {
	split = strings.ToLower(split)
	annotationFile := filepath.Join(root, fmt.Sprintf("sub-%s-annotations-bbox.csv", split))

	records, classNames, classDict, err := ReadAnnotations(annotationFile)
	if err != nil {
		return nil, err
	}

	d := &OpenImagesDataset{
		root:        root,
		split:       split,
		opts:        opts,
		records:     records,
		classNames:  classNames,
		classDict:   classDict,
		minImageNum: -1,
	}

	if opts.BalanceData {
		if opts.Rand == nil {
			return nil, &DataLoadError{Source: annotationFile, Err: fmt.Errorf("balance requested without a random source")}
		}
		d.records, d.minImageNum = BalanceByClass(d.records, len(d.classNames), opts.Rand)
	}

	return d, nil
}

// Len returns the number of images served by the dataset.
func (d *OpenImagesDataset) Len() int {
	return len(d.records)
}

// ClassNames returns the class vocabulary in label order. The label of
// ClassNames()[i] is i+1; label 0 is background.
func (d *OpenImagesDataset) ClassNames() []string {
	return d.classNames
}

// ClassDict maps class names to their 1-based labels.
func (d *OpenImagesDataset) ClassDict() map[string]int {
	return d.classDict
}

// MinImageCount returns the balancing cap applied to every class, or -1 if
// the dataset was not balanced.
func (d *OpenImagesDataset) MinImageCount() int {
	return d.minImageNum
}

// Get loads and transforms the sample at index. The raw image is decoded
// from disk on every call; boxes and labels are copied so transforms cannot
// corrupt the underlying records.
func (d *OpenImagesDataset) Get(index int) (image, boxes, labels *tensor.Tensor, err error) {
	if index < 0 || index >= len(d.records) {
		return nil, nil, nil, fmt.Errorf("index %d out of range [0, %d)", index, len(d.records))
	}
	rec := d.records[index]

	image, err = d.readImage(rec.ImageID)
	if err != nil {
		return nil, nil, nil, err
	}

	boxes, labels, err = recordTensors(rec)
	if err != nil {
		return nil, nil, nil, err
	}

	if d.opts.Transform != nil {
		image, boxes, labels, err = d.opts.Transform.Apply(image, boxes, labels)
		if err != nil {
			return nil, nil, nil, fmt.Errorf("transform failed for image %s: %w", rec.ImageID, err)
		}
	}
	if d.opts.TargetTransform != nil {
		boxes, labels, err = d.opts.TargetTransform.Apply(boxes, labels)
		if err != nil {
			return nil, nil, nil, fmt.Errorf("target transform failed for image %s: %w", rec.ImageID, err)
		}
	}

	return image, boxes, labels, nil
}

func (d *OpenImagesDataset) readImage(imageID string) (*tensor.Tensor, error) {
	base := filepath.Join(d.root, d.split, imageID)
	for _, ext := range imageExtensions {
		path := base + ext
		if _, err := os.Stat(path); err == nil {
			return ReadImage(path)
		}
	}
	return nil, &ImageLoadError{Path: base + imageExtensions[0], Err: os.ErrNotExist}
}

// recordTensors converts a record's boxes and labels into fresh tensors.
func recordTensors(rec ImageRecord) (*tensor.Tensor, *tensor.Tensor, error) {
	boxData := make([]float32, 0, len(rec.Boxes)*4)
	for _, b := range rec.Boxes {
		boxData = append(boxData, b[0], b[1], b[2], b[3])
	}
	boxes, err := tensor.NewTensor([]int{len(rec.Boxes), 4}, tensor.Float32, boxData)
	if err != nil {
		return nil, nil, err
	}

	labelData := append([]int32(nil), rec.Labels...)
	labels, err := tensor.NewTensor([]int{len(rec.Labels)}, tensor.Int32, labelData)
	if err != nil {
		return nil, nil, err
	}
	return boxes, labels, nil
}

// String returns a human-readable dataset summary: image count, per-class
// box counts and, when balancing was applied, the cap that was used. The
// per-class statistics are computed once and cached.
func (d *OpenImagesDataset) String() string {
	d.statOnce.Do(func() {
		d.classStat = make(map[string]int, len(d.classNames))
		for _, name := range d.classNames {
			d.classStat[name] = 0
		}
		for _, rec := range d.records {
			for _, label := range rec.Labels {
				d.classStat[d.classNames[label-1]]++
			}
		}
	})

	boxesPerImage := make([]float64, len(d.records))
	for i, rec := range d.records {
		boxesPerImage[i] = float64(len(rec.Boxes))
	}
	meanBoxes, stdBoxes := stat.MeanStdDev(boxesPerImage, nil)

	var sb strings.Builder
	sb.WriteString("Dataset Summary:\n")
	fmt.Fprintf(&sb, "Number of Images: %d\n", len(d.records))
	fmt.Fprintf(&sb, "Minimum Number of Images for a Class: %d\n", d.minImageNum)
	fmt.Fprintf(&sb, "Boxes per Image: %.2f +/- %.2f\n", meanBoxes, stdBoxes)
	sb.WriteString("Label Distribution:\n")
	for _, name := range d.classNames {
		fmt.Fprintf(&sb, "\t%s: %d\n", name, d.classStat[name])
	}
	return sb.String()
}
