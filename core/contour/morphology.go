package contour

// Erode applies a 3x3 erosion. Pixels outside the raster do not count
// against a foreground pixel, so regions touching the edge are kept.
func Erode(b *Bitmap) *Bitmap {
	return morph(b, true)
}

// Dilate applies a 3x3 dilation. Pixels outside the raster are background.
func Dilate(b *Bitmap) *Bitmap {
	return morph(b, false)
}

// Open removes specks smaller than the 3x3 kernel.
func Open(b *Bitmap) *Bitmap {
	return Dilate(Erode(b))
}

// Close fills pinholes smaller than the 3x3 kernel.
func Close(b *Bitmap) *Bitmap {
	return Erode(Dilate(b))
}

// Clean is the opening followed by the closing applied before extraction.
func Clean(b *Bitmap) *Bitmap {
	return Close(Open(b))
}

func morph(b *Bitmap, erode bool) *Bitmap {
	out := NewBitmap(b.Width, b.Height)
	for y := 0; y < b.Height; y++ {
		for x := 0; x < b.Width; x++ {
			on := erode
			for dy := -1; dy <= 1 && on == erode; dy++ {
				for dx := -1; dx <= 1; dx++ {
					nx, ny := x+dx, y+dy
					if !b.In(nx, ny) {
						continue
					}
					v := b.Pix[ny*b.Width+nx] != 0
					if erode && !v {
						on = false
						break
					}
					if !erode && v {
						on = true
						break
					}
				}
			}
			if on {
				out.Pix[y*b.Width+x] = 1
			}
		}
	}
	return out
}
