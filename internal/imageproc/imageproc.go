// Package imageproc turns face crops into network input tensors.
package imageproc

import (
	"errors"
	"fmt"
	"image"
	"io"

	"github.com/disintegration/imaging"
	_ "golang.org/x/image/webp" // register the webp decoder with image.Decode

	"github.com/born-ml/facenet/internal/parallel"
	"github.com/born-ml/facenet/internal/tensor"
)

// ErrEmptyBatch is returned by ToTensor for an empty image list.
var ErrEmptyBatch = errors.New("imageproc: no images")

// InputSpec describes how pixels map to input values:
// value = pixel*Scale + Bias[channel], with pixel in [0, 255].
type InputSpec struct {
	Width  int
	Height int
	Scale  float32
	Bias   []float32
}

// DefaultInputSpec is a 112x112 RGB crop normalized to [0, 1].
func DefaultInputSpec() InputSpec {
	return InputSpec{
		Width:  112,
		Height: 112,
		Scale:  1.0 / 255.0,
		Bias:   []float32{0, 0, 0},
	}
}

// RawPixels keeps the [0, 255] range. It matches an exported artifact that
// applies scale and bias itself.
func RawPixels(width, height int) InputSpec {
	return InputSpec{Width: width, Height: height, Scale: 1, Bias: []float32{0, 0, 0}}
}

// Validate checks the size and that Bias holds one value per RGB channel.
func (s InputSpec) Validate() error {
	if s.Width <= 0 || s.Height <= 0 {
		return fmt.Errorf("imageproc: invalid input size %dx%d", s.Width, s.Height)
	}
	if len(s.Bias) != 3 {
		return fmt.Errorf("imageproc: bias needs 3 channel values, got %d", len(s.Bias))
	}
	return nil
}

// Load opens an image file, applying its EXIF orientation.
func Load(path string) (image.Image, error) {
	img, err := imaging.Open(path, imaging.AutoOrientation(true))
	if err != nil {
		return nil, fmt.Errorf("imageproc: open %s: %w", path, err)
	}
	return img, nil
}

// Decode reads an image from r, applying its EXIF orientation.
func Decode(r io.Reader) (image.Image, error) {
	img, err := imaging.Decode(r, imaging.AutoOrientation(true))
	if err != nil {
		return nil, fmt.Errorf("imageproc: decode: %w", err)
	}
	return img, nil
}

// Crop scales img to cover width x height and cuts out the centre.
func Crop(img image.Image, width, height int) *image.NRGBA {
	return imaging.Fill(img, width, height, imaging.Center, imaging.Lanczos)
}

// ToTensor crops every image and packs the batch as [N, 3, H, W] float32.
// Alpha is ignored.
func ToTensor[B tensor.Backend](images []image.Image, spec InputSpec, backend B) (*tensor.Tensor[float32, B], error) {
	if len(images) == 0 {
		return nil, ErrEmptyBatch
	}
	if err := spec.Validate(); err != nil {
		return nil, err
	}

	plane := spec.Width * spec.Height
	shape := tensor.Shape{len(images), 3, spec.Height, spec.Width}
	out := tensor.Zeros[float32](shape, backend)
	data := out.Data()

	parallel.For(len(images), func(n int) {
		crop := Crop(images[n], spec.Width, spec.Height)
		dst := data[n*3*plane : (n+1)*3*plane]
		for y := 0; y < spec.Height; y++ {
			row := crop.Pix[y*crop.Stride:]
			for x := 0; x < spec.Width; x++ {
				px := row[x*4 : x*4+3]
				i := y*spec.Width + x
				for c := 0; c < 3; c++ {
					dst[c*plane+i] = float32(px[c])*spec.Scale + spec.Bias[c]
				}
			}
		}
	}, parallel.DefaultConfig())

	return out, nil
}
