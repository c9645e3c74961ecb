package dataset

import "fmt"

// DataLoadError reports a missing, malformed or empty annotation source.
// Dataset construction fails hard on it; an empty dataset is never produced
// silently.
type DataLoadError struct {
	Source string
	Err    error
}

func (e *DataLoadError) Error() string {
	return fmt.Sprintf("failed to load dataset from %s: %v", e.Source, e.Err)
}

func (e *DataLoadError) Unwrap() error {
	return e.Err
}

// ImageLoadError reports that a specific sample's image file is missing or
// could not be decoded.
type ImageLoadError struct {
	Path string
	Err  error
}

func (e *ImageLoadError) Error() string {
	return fmt.Sprintf("failed to load image %s: %v", e.Path, e.Err)
}

func (e *ImageLoadError) Unwrap() error {
	return e.Err
}
