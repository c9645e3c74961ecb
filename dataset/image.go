package dataset

import (
	"image"
	"os"

	// Decoders for the image formats found in detection datasets.
	_ "image/gif"
	_ "image/jpeg"
	_ "image/png"

	"github.com/tsawler/go-ssd/tensor"
)

// ReadImage decodes the image at path into a float32 tensor of shape
// [height, width, 3] with RGB channel order and 8-bit value range.
//
// Channel normalization is unconditional and happens before any transform: a
// single-channel (grayscale) image is expanded to three identical channels,
// and any other color model is converted to RGB.
func ReadImage(path string) (*tensor.Tensor, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, &ImageLoadError{Path: path, Err: err}
	}
	defer f.Close()

	img, _, err := image.Decode(f)
	if err != nil {
		return nil, &ImageLoadError{Path: path, Err: err}
	}

	bounds := img.Bounds()
	width := bounds.Dx()
	height := bounds.Dy()
	data := make([]float32, height*width*3)

	switch src := img.(type) {
	case *image.Gray:
		// Grayscale to RGB: replicate the single channel.
		for y := 0; y < height; y++ {
			for x := 0; x < width; x++ {
				v := float32(src.GrayAt(bounds.Min.X+x, bounds.Min.Y+y).Y)
				idx := (y*width + x) * 3
				data[idx] = v
				data[idx+1] = v
				data[idx+2] = v
			}
		}
	default:
		for y := 0; y < height; y++ {
			for x := 0; x < width; x++ {
				r, g, b, _ := img.At(bounds.Min.X+x, bounds.Min.Y+y).RGBA()
				idx := (y*width + x) * 3
				data[idx] = float32(r >> 8)
				data[idx+1] = float32(g >> 8)
				data[idx+2] = float32(b >> 8)
			}
		}
	}

	t, err := tensor.NewTensor([]int{height, width, 3}, tensor.Float32, data)
	if err != nil {
		return nil, &ImageLoadError{Path: path, Err: err}
	}
	return t, nil
}
