//go:build gocv

package contour

import (
	"log/slog"

	"gocv.io/x/gocv"
)

var defaultTracer Tracer = GocvTracer{}

// GocvTracer delegates border following to OpenCV. It is selected with the
// gocv build tag and falls back to SuzukiTracer when OpenCV rejects the input.
type GocvTracer struct{}

func (GocvTracer) Trace(b *Bitmap) ([]Border, bool) {
	if b == nil || b.Width == 0 || b.Height == 0 {
		return nil, true
	}

	data := make([]byte, len(b.Pix))
	for i, v := range b.Pix {
		if v != 0 {
			data[i] = 255
		}
	}

	src, err := gocv.NewMatFromBytes(b.Height, b.Width, gocv.MatTypeCV8U, data)
	if err != nil {
		slog.Warn("gocv mat", slog.String("error", err.Error()))
		return SuzukiTracer{}.Trace(b)
	}
	defer src.Close()

	hierarchy := gocv.NewMat()
	defer hierarchy.Close()

	pv := gocv.FindContoursWithParams(src, &hierarchy, gocv.RetrievalTree, gocv.ChainApproxNone)
	defer pv.Close()

	n := pv.Size()
	borders := make([]Border, n)
	for i := 0; i < n; i++ {
		borders[i] = Border{Points: pv.At(i).ToPoints(), Parent: -1}
	}

	if hierarchy.Empty() || hierarchy.Cols() != n {
		return borders, false
	}

	for i := 0; i < n; i++ {
		borders[i].Parent = int(hierarchy.GetVeciAt(0, i)[3])
	}
	for i := range borders {
		depth := 0
		for p := borders[i].Parent; p >= 0; p = borders[p].Parent {
			depth++
		}
		borders[i].Hole = depth%2 == 1
	}

	return borders, true
}
