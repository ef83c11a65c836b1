package contour

import "image"

// ring paints an annulus: foreground where inner < r <= outer.
func ring(w, h, cx, cy int, outer, inner float64) *Bitmap {
	b := NewBitmap(w, h)
	paintRing(b, cx, cy, outer, inner)
	return b
}

func paintRing(b *Bitmap, cx, cy int, outer, inner float64) {
	for y := 0; y < b.Height; y++ {
		for x := 0; x < b.Width; x++ {
			dx, dy := float64(x-cx), float64(y-cy)
			d := dx*dx + dy*dy
			if d <= outer*outer && (inner <= 0 || d > inner*inner) {
				b.Set(x, y, true)
			}
		}
	}
}

func fillRect(b *Bitmap, r image.Rectangle, on bool) {
	for y := r.Min.Y; y < r.Max.Y; y++ {
		for x := r.Min.X; x < r.Max.X; x++ {
			b.Set(x, y, on)
		}
	}
}

func full(w, h int) *Bitmap {
	b := NewBitmap(w, h)
	for i := range b.Pix {
		b.Pix[i] = 1
	}
	return b
}

func byID(polygons []Polygon) map[string]Polygon {
	m := make(map[string]Polygon, len(polygons))
	for _, p := range polygons {
		m[p.ID] = p
	}
	return m
}
