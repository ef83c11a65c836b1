package contour

import "image"

// Border is one traced boundary. Parent indexes the immediately enclosing
// border in the same slice, or -1 for a top-level border.
type Border struct {
	Points []image.Point
	Hole   bool
	Parent int
}

// Tracer finds the borders of a bitmap. Hierarchy reports whether Parent
// links are meaningful; when false every border is treated as top-level.
type Tracer interface {
	Trace(b *Bitmap) (borders []Border, hierarchy bool)
}

// SuzukiTracer implements Suzuki and Abe's border following on an
// 8-connected foreground (4-connected background).
type SuzukiTracer struct{}

// neighbour offsets in clockwise order on a y-down raster:
// E, SE, S, SW, W, NW, N, NE.
var (
	dirX = [8]int{1, 1, 0, -1, -1, -1, 0, 1}
	dirY = [8]int{0, 1, 1, 1, 0, -1, -1, -1}
)

const (
	dirEast = 0
	dirWest = 4
)

func (SuzukiTracer) Trace(b *Bitmap) ([]Border, bool) {
	if b == nil || b.Width == 0 || b.Height == 0 {
		return nil, true
	}

	// one pixel of background padding so neighbour lookups never leave the grid
	w, h := b.Width+2, b.Height+2
	f := make([]int32, w*h)
	for y := 0; y < b.Height; y++ {
		for x := 0; x < b.Width; x++ {
			if b.Pix[y*b.Width+x] != 0 {
				f[(y+1)*w+x+1] = 1
			}
		}
	}

	var off [8]int
	for d := range off {
		off[d] = dirY[d]*w + dirX[d]
	}

	type label struct {
		hole   bool
		parent int32
	}
	// labels[nbd]; 1 is the frame, which behaves as a hole with no parent
	labels := []label{{}, {hole: true}}
	var borders []Border

	nbd := int32(1)
	for y := 1; y < h-1; y++ {
		lnbd := int32(1)
		for x := 1; x < w-1; x++ {
			p := y*w + x
			v := f[p]
			if v == 0 {
				continue
			}

			var from int
			var hole bool
			switch {
			case v == 1 && f[p-1] == 0:
				from = dirWest
			case v >= 1 && f[p+1] == 0:
				from = dirEast
				hole = true
				if v > 1 {
					lnbd = v
				}
			default:
				if v != 1 {
					lnbd = abs32(v)
				}
				continue
			}

			nbd++
			prev := labels[lnbd]
			parent := lnbd
			if prev.hole == hole {
				parent = prev.parent
			}
			labels = append(labels, label{hole: hole, parent: parent})

			pts := follow(f, w, off, p, from, nbd)
			borders = append(borders, Border{
				Points: pts,
				Hole:   hole,
				Parent: int(parent) - 2,
			})

			if f[p] != 1 {
				lnbd = abs32(f[p])
			}
		}
	}

	return borders, true
}

// follow traces one border starting at p0, labelling visited pixels with
// nbd (or -nbd where the border touches background on its east side).
func follow(f []int32, w int, off [8]int, p0, from int, nbd int32) []image.Point {
	toPoint := func(p int) image.Point {
		return image.Point{X: p%w - 1, Y: p/w - 1}
	}

	d1 := -1
	for k := 0; k < 8; k++ {
		d := (from + k) & 7
		if f[p0+off[d]] != 0 {
			d1 = d
			break
		}
	}
	if d1 < 0 {
		f[p0] = -nbd
		return []image.Point{toPoint(p0)}
	}

	p1 := p0 + off[d1]
	p3 := p0
	back := d1 // direction from p3 to the previously visited pixel

	var pts []image.Point
	for {
		eastZero := false
		p4, d4 := -1, 0
		for k := 1; k <= 8; k++ {
			d := (back - k) & 7
			q := p3 + off[d]
			if f[q] != 0 {
				p4, d4 = q, d
				break
			}
			if d == dirEast {
				eastZero = true
			}
		}

		if eastZero {
			f[p3] = -nbd
		} else if f[p3] == 1 {
			f[p3] = nbd
		}
		pts = append(pts, toPoint(p3))

		if p4 == p0 && p3 == p1 {
			return pts
		}
		back = (d4 + 4) & 7
		p3 = p4
	}
}

func abs32(v int32) int32 {
	if v < 0 {
		return -v
	}
	return v
}
