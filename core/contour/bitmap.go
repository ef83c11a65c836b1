package contour

import (
	"fmt"
	"image"
)

// Bitmap is a binary raster. Pix holds one byte per pixel, row-major,
// 1 for foreground and 0 for background.
type Bitmap struct {
	Width  int
	Height int
	Pix    []uint8
}

func NewBitmap(width, height int) *Bitmap {
	if width < 0 {
		width = 0
	}
	if height < 0 {
		height = 0
	}
	return &Bitmap{Width: width, Height: height, Pix: make([]uint8, width*height)}
}

// BitmapFromGrid builds a bitmap from a raw row-major grid; any non-zero
// cell is foreground. Rows must have equal length.
func BitmapFromGrid(grid [][]uint8) (*Bitmap, error) {
	if len(grid) == 0 {
		return NewBitmap(0, 0), nil
	}

	w := len(grid[0])
	b := NewBitmap(w, len(grid))
	for y, row := range grid {
		if len(row) != w {
			return nil, fmt.Errorf("row %d has %d cells, want %d", y, len(row), w)
		}
		for x, v := range row {
			if v != 0 {
				b.Pix[y*w+x] = 1
			}
		}
	}
	return b, nil
}

func (b *Bitmap) In(x, y int) bool {
	return x >= 0 && y >= 0 && x < b.Width && y < b.Height
}

func (b *Bitmap) At(x, y int) bool {
	if !b.In(x, y) {
		return false
	}
	return b.Pix[y*b.Width+x] != 0
}

func (b *Bitmap) Set(x, y int, on bool) {
	if !b.In(x, y) {
		return
	}
	var v uint8
	if on {
		v = 1
	}
	b.Pix[y*b.Width+x] = v
}

// Count returns the number of foreground pixels.
func (b *Bitmap) Count() int {
	n := 0
	for _, v := range b.Pix {
		if v != 0 {
			n++
		}
	}
	return n
}

func (b *Bitmap) Empty() bool {
	for _, v := range b.Pix {
		if v != 0 {
			return false
		}
	}
	return true
}

// Binarize thresholds a grayscale image: pixels strictly above cutoff
// become foreground.
func Binarize(g *image.Gray, cutoff uint8) *Bitmap {
	r := g.Bounds()
	b := NewBitmap(r.Dx(), r.Dy())
	for y := 0; y < b.Height; y++ {
		row := g.Pix[y*g.Stride : y*g.Stride+b.Width]
		for x, v := range row {
			if v > cutoff {
				b.Pix[y*b.Width+x] = 1
			}
		}
	}
	return b
}

// Gray renders the bitmap as a 0/255 grayscale image.
func (b *Bitmap) Gray() *image.Gray {
	g := image.NewGray(image.Rect(0, 0, b.Width, b.Height))
	for i, v := range b.Pix {
		if v != 0 {
			g.Pix[i] = 255
		}
	}
	return g
}
