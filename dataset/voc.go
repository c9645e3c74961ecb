package dataset

import (
	"bufio"
	"encoding/xml"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/tsawler/go-ssd/tensor"
)

// vocClassNames is the fixed Pascal VOC vocabulary. Unlike Open Images the
// background class is explicit and always first, so labels line up with the
// slice index directly.
var vocClassNames = []string{
	"BACKGROUND",
	"aeroplane", "bicycle", "bird", "boat", "bottle",
	"bus", "car", "cat", "chair", "cow",
	"diningtable", "dog", "horse", "motorbike", "person",
	"pottedplant", "sheep", "sofa", "train", "tvmonitor",
}

type vocObject struct {
	Name   string `xml:"name"`
	BndBox struct {
		XMin float32 `xml:"xmin"`
		YMin float32 `xml:"ymin"`
		XMax float32 `xml:"xmax"`
		YMax float32 `xml:"ymax"`
	} `xml:"bndbox"`
}

type vocAnnotation struct {
	Objects []vocObject `xml:"object"`
}

// VOCDataset serves samples from a Pascal VOC directory layout:
// ImageSets/Main/<split>.txt lists image identifiers, Annotations/<id>.xml
// holds the boxes and JPEGImages/<id>.jpg the pixels.
type VOCDataset struct {
	root string
	opts Options

	records   []ImageRecord
	classDict map[string]int
}

// NewVOCDataset indexes one VOC split ("trainval" or "test"). Annotations
// are parsed eagerly so malformed XML fails at construction, not mid-epoch.
func NewVOCDataset(root, split string, opts Options) (*VOCDataset, error) {
	classDict := make(map[string]int, len(vocClassNames))
	for i, name := range vocClassNames {
		classDict[name] = i
	}

	d := &VOCDataset{root: root, opts: opts, classDict: classDict}

	idsFile := filepath.Join(root, "ImageSets", "Main", split+".txt")
	ids, err := readImageIDs(idsFile)
	if err != nil {
		return nil, err
	}

	for _, id := range ids {
		rec, err := d.readAnnotation(id)
		if err != nil {
			return nil, err
		}
		d.records = append(d.records, rec)
	}
	if len(d.records) == 0 {
		return nil, &DataLoadError{Source: idsFile, Err: fmt.Errorf("split lists no images")}
	}

	if opts.BalanceData {
		if opts.Rand == nil {
			return nil, &DataLoadError{Source: idsFile, Err: fmt.Errorf("balance requested without a random source")}
		}
		d.records, _ = BalanceByClass(d.records, len(vocClassNames)-1, opts.Rand)
	}

	return d, nil
}

func readImageIDs(path string) ([]string, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, &DataLoadError{Source: path, Err: err}
	}
	defer f.Close()

	var ids []string
	scanner := bufio.NewScanner(f)
	for scanner.Scan() {
		id := strings.TrimSpace(scanner.Text())
		if id != "" {
			ids = append(ids, id)
		}
	}
	if err := scanner.Err(); err != nil {
		return nil, &DataLoadError{Source: path, Err: err}
	}
	return ids, nil
}

func (d *VOCDataset) readAnnotation(imageID string) (ImageRecord, error) {
	path := filepath.Join(d.root, "Annotations", imageID+".xml")
	data, err := os.ReadFile(path)
	if err != nil {
		return ImageRecord{}, &DataLoadError{Source: path, Err: err}
	}

	var ann vocAnnotation
	if err := xml.Unmarshal(data, &ann); err != nil {
		return ImageRecord{}, &DataLoadError{Source: path, Err: err}
	}

	rec := ImageRecord{ImageID: imageID}
	for _, obj := range ann.Objects {
		label, ok := d.classDict[obj.Name]
		if !ok {
			return ImageRecord{}, &DataLoadError{Source: path, Err: fmt.Errorf("unknown class %q", obj.Name)}
		}
		// VOC pixel coordinates are 1-based.
		rec.Boxes = append(rec.Boxes, Box{
			obj.BndBox.XMin - 1, obj.BndBox.YMin - 1,
			obj.BndBox.XMax - 1, obj.BndBox.YMax - 1,
		})
		rec.Labels = append(rec.Labels, int32(label))
	}
	return rec, nil
}

// Len returns the number of images in the split.
func (d *VOCDataset) Len() int {
	return len(d.records)
}

// ClassNames returns the VOC vocabulary including the background entry.
func (d *VOCDataset) ClassNames() []string {
	return vocClassNames
}

// Get loads and transforms the sample at index.
func (d *VOCDataset) Get(index int) (image, boxes, labels *tensor.Tensor, err error) {
	if index < 0 || index >= len(d.records) {
		return nil, nil, nil, fmt.Errorf("index %d out of range [0, %d)", index, len(d.records))
	}
	rec := d.records[index]

	image, err = ReadImage(filepath.Join(d.root, "JPEGImages", rec.ImageID+".jpg"))
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
