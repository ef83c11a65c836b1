package contour

import (
	"bytes"
	"fmt"
	"image"
	_ "image/gif"
	_ "image/jpeg"
	_ "image/png"
	"io"
	"os"

	_ "golang.org/x/image/bmp"
	"golang.org/x/image/draw"
	_ "golang.org/x/image/tiff"
)

// Decode reads an encoded image (PNG, JPEG, GIF, BMP or TIFF) and returns
// it as 8-bit grayscale. Colour and 16-bit inputs are converted, never
// assumed to be binary already.
func Decode(r io.Reader) (*image.Gray, string, error) {
	img, format, err := image.Decode(r)
	if err != nil {
		return nil, "", fmt.Errorf("decode image: %w", err)
	}
	return ToGray(img), format, nil
}

func DecodeBytes(data []byte) (*image.Gray, error) {
	g, _, err := Decode(bytes.NewReader(data))
	return g, err
}

func LoadFile(path string) (*image.Gray, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open mask: %w", err)
	}
	defer f.Close()

	g, _, err := Decode(f)
	return g, err
}

// DecodeConfig reports image dimensions without decoding pixels.
func DecodeConfig(data []byte) (image.Config, string, error) {
	cfg, format, err := image.DecodeConfig(bytes.NewReader(data))
	if err != nil {
		return image.Config{}, "", fmt.Errorf("decode image config: %w", err)
	}
	return cfg, format, nil
}

func ToGray(img image.Image) *image.Gray {
	if g, ok := img.(*image.Gray); ok && g.Rect.Min == (image.Point{}) {
		return g
	}
	b := img.Bounds()
	g := image.NewGray(image.Rect(0, 0, b.Dx(), b.Dy()))
	draw.Draw(g, g.Bounds(), img, b.Min, draw.Src)
	return g
}

// Resize resamples with nearest neighbour so mask values are never blended.
func Resize(g *image.Gray, width, height int) *image.Gray {
	if g.Bounds().Dx() == width && g.Bounds().Dy() == height {
		return g
	}
	dst := image.NewGray(image.Rect(0, 0, width, height))
	draw.NearestNeighbor.Scale(dst, dst.Bounds(), g, g.Bounds(), draw.Src, nil)
	return dst
}
