package imageproc

import (
	"bytes"
	"image"
	"image/color"
	"image/png"
	"path/filepath"
	"testing"

	"github.com/disintegration/imaging"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/born-ml/facenet/internal/backend/cpu"
	"github.com/born-ml/facenet/internal/tensor"
)

func solid(w, h int, c color.NRGBA) image.Image {
	return imaging.New(w, h, c)
}

func TestToTensor_SolidColor(t *testing.T) {
	img := solid(112, 112, color.NRGBA{R: 255, G: 51, B: 0, A: 255})

	x, err := ToTensor([]image.Image{img}, DefaultInputSpec(), cpu.New())
	require.NoError(t, err)
	assert.Equal(t, tensor.Shape{1, 3, 112, 112}, x.Shape())

	data := x.Data()
	plane := 112 * 112
	assert.InDelta(t, 1.0, data[0], 1e-6)
	assert.InDelta(t, 0.2, data[plane+500], 1e-6)
	assert.InDelta(t, 0.0, data[2*plane+plane-1], 1e-6)
}

func TestToTensor_ScaleAndBias(t *testing.T) {
	img := solid(8, 8, color.NRGBA{R: 100, G: 100, B: 100, A: 255})
	spec := InputSpec{Width: 4, Height: 4, Scale: 2, Bias: []float32{1, 0, -1}}

	x, err := ToTensor([]image.Image{img, img}, spec, cpu.New())
	require.NoError(t, err)
	assert.Equal(t, tensor.Shape{2, 3, 4, 4}, x.Shape())

	data := x.Data()
	assert.Equal(t, float32(201), data[0])
	assert.Equal(t, float32(200), data[16])
	assert.Equal(t, float32(199), data[2*16])
	// Second sample starts after 3 planes.
	assert.Equal(t, float32(201), data[3*16])
}

func TestToTensor_NonSquareIsCenterCropped(t *testing.T) {
	// Left half red, right half blue; a 2:1 image filled into a square
	// keeps the centre where both colors meet.
	img := imaging.New(200, 100, color.NRGBA{B: 255, A: 255})
	left := imaging.New(100, 100, color.NRGBA{R: 255, A: 255})
	img = imaging.Paste(img, left, image.Pt(0, 0))

	x, err := ToTensor([]image.Image{img}, RawPixels(10, 10), cpu.New())
	require.NoError(t, err)

	data := x.Data()
	red, blue := data[0:100], data[200:300]
	assert.InDelta(t, 255, red[0], 1, "left column is red")
	assert.InDelta(t, 255, blue[9], 1, "right column is blue")
}

func TestToTensor_Errors(t *testing.T) {
	_, err := ToTensor(nil, DefaultInputSpec(), cpu.New())
	assert.ErrorIs(t, err, ErrEmptyBatch)

	spec := DefaultInputSpec()
	spec.Bias = []float32{0}
	_, err = ToTensor([]image.Image{solid(4, 4, color.NRGBA{})}, spec, cpu.New())
	assert.ErrorContains(t, err, "3 channel values")

	_, err = ToTensor([]image.Image{solid(4, 4, color.NRGBA{})}, InputSpec{Bias: []float32{0, 0, 0}}, cpu.New())
	assert.ErrorContains(t, err, "invalid input size")
}

func TestLoadAndDecode(t *testing.T) {
	img := solid(20, 10, color.NRGBA{G: 255, A: 255})
	path := filepath.Join(t.TempDir(), "face.png")
	require.NoError(t, imaging.Save(img, path))

	loaded, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, image.Rect(0, 0, 20, 10), loaded.Bounds())

	var buf bytes.Buffer
	require.NoError(t, png.Encode(&buf, img))
	decoded, err := Decode(&buf)
	require.NoError(t, err)
	assert.Equal(t, image.Rect(0, 0, 20, 10), decoded.Bounds())

	_, err = Load(filepath.Join(t.TempDir(), "missing.png"))
	assert.Error(t, err)

	_, err = Decode(bytes.NewReader([]byte("not an image")))
	assert.Error(t, err)
}
