package dataset

import (
	"encoding/csv"
	"fmt"
	"io"
	"os"
	"strconv"
)

// Box is one bounding box as [xmin, ymin, xmax, ymax].
type Box [4]float32

// ImageRecord groups all annotated boxes of a single image. Boxes and Labels
// are index-aligned and always the same length. Labels are 1-based class
// indices; 0 is reserved for background.
type ImageRecord struct {
	ImageID string
	Boxes   []Box
	Labels  []int32
}

// requiredColumns are the annotation CSV columns consumed by the index.
var requiredColumns = []string{"ImageID", "ClassName", "XMin", "YMin", "XMax", "YMax"}

// ReadAnnotations reads the bounding-box annotation CSV for a dataset split,
// groups rows by image identifier and builds the class vocabulary in
// first-seen order. Label integers are assigned by enumeration order, so the
// returned class name slice must be persisted for downstream consumers to
// decode labels consistently: classDict[name] == 1 + position of name in
// classNames.
func ReadAnnotations(path string) (records []ImageRecord, classNames []string, classDict map[string]int, err error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, nil, nil, &DataLoadError{Source: path, Err: err}
	}
	defer f.Close()

	r := csv.NewReader(f)
	header, err := r.Read()
	if err != nil {
		return nil, nil, nil, &DataLoadError{Source: path, Err: fmt.Errorf("reading header: %w", err)}
	}

	cols := make(map[string]int, len(header))
	for i, name := range header {
		cols[name] = i
	}
	for _, name := range requiredColumns {
		if _, ok := cols[name]; !ok {
			return nil, nil, nil, &DataLoadError{Source: path, Err: fmt.Errorf("missing column %q", name)}
		}
	}

	classDict = make(map[string]int)
	recordIndex := make(map[string]int)

	line := 1
	for {
		row, err := r.Read()
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, nil, nil, &DataLoadError{Source: path, Err: err}
		}
		line++

		imageID := row[cols["ImageID"]]
		className := row[cols["ClassName"]]

		box, err := parseBox(row, cols)
		if err != nil {
			return nil, nil, nil, &DataLoadError{Source: path, Err: fmt.Errorf("line %d: %w", line, err)}
		}

		label, ok := classDict[className]
		if !ok {
			classNames = append(classNames, className)
			label = len(classNames)
			classDict[className] = label
		}

		idx, ok := recordIndex[imageID]
		if !ok {
			idx = len(records)
			recordIndex[imageID] = idx
			records = append(records, ImageRecord{ImageID: imageID})
		}
		records[idx].Boxes = append(records[idx].Boxes, box)
		records[idx].Labels = append(records[idx].Labels, int32(label))
	}

	if len(records) == 0 || len(classNames) == 0 {
		return nil, nil, nil, &DataLoadError{Source: path, Err: fmt.Errorf("annotation file contains no usable rows")}
	}

	return records, classNames, classDict, nil
}

func parseBox(row []string, cols map[string]int) (Box, error) {
	var box Box
	for i, name := range []string{"XMin", "YMin", "XMax", "YMax"} {
		v, err := strconv.ParseFloat(row[cols[name]], 32)
		if err != nil {
			return box, fmt.Errorf("column %s: %w", name, err)
		}
		box[i] = float32(v)
	}
	if box[0] > box[2] || box[1] > box[3] {
		return box, fmt.Errorf("degenerate box [%g %g %g %g]: min exceeds max", box[0], box[1], box[2], box[3])
	}
	return box, nil
}
