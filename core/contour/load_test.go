package contour

import (
	"bytes"
	"image"
	"image/color"
	"image/png"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/image/tiff"
)

func TestDecode_GrayscaleIsThresholdedNotAssumedBinary(t *testing.T) {
	img := image.NewGray(image.Rect(0, 0, 4, 1))
	img.Pix = []uint8{0, 60, 128, 255}

	var buf bytes.Buffer
	require.NoError(t, png.Encode(&buf, img))

	g, format, err := Decode(&buf)
	require.NoError(t, err)
	assert.Equal(t, "png", format)

	b := Binarize(g, DefaultCutoff)
	assert.Equal(t, []uint8{0, 0, 1, 1}, b.Pix)

	relaxed := Binarize(g, 50)
	assert.Equal(t, []uint8{0, 1, 1, 1}, relaxed.Pix)
}

func TestDecode_ColourTIFF(t *testing.T) {
	img := image.NewRGBA(image.Rect(0, 0, 2, 2))
	img.Set(0, 0, color.White)
	img.Set(1, 1, color.White)

	var buf bytes.Buffer
	require.NoError(t, tiff.Encode(&buf, img, nil))

	g, err := DecodeBytes(buf.Bytes())
	require.NoError(t, err)

	b := Binarize(g, DefaultCutoff)
	assert.Equal(t, []uint8{1, 0, 0, 1}, b.Pix)
}

func TestDecode_Garbage(t *testing.T) {
	_, err := DecodeBytes([]byte("not an image"))
	assert.Error(t, err)
}

func TestResize_NearestKeepsValues(t *testing.T) {
	g := image.NewGray(image.Rect(0, 0, 2, 2))
	g.Pix = []uint8{0, 255, 255, 0}

	out := Resize(g, 4, 4)

	assert.Equal(t, 4, out.Bounds().Dx())
	for _, v := range out.Pix {
		assert.Contains(t, []uint8{0, 255}, v)
	}
	assert.Equal(t, uint8(255), out.GrayAt(3, 0).Y)
	assert.Equal(t, uint8(0), out.GrayAt(0, 0).Y)
}

func TestBitmapFromGrid(t *testing.T) {
	b, err := BitmapFromGrid([][]uint8{{0, 1}, {1, 0}})
	require.NoError(t, err)
	assert.True(t, b.At(1, 0))
	assert.False(t, b.At(1, 1))

	_, err = BitmapFromGrid([][]uint8{{0, 1}, {1}})
	assert.Error(t, err)
}
