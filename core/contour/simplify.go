package contour

import (
	"image"
	"math"
)

// MaxAreaError bounds the relative change in enclosed area Simplify may
// introduce.
const MaxAreaError = 0.02

// maxHalvings caps how often Simplify retries with half the tolerance
// before giving up and returning the input.
const maxHalvings = 16

// Simplify reduces a closed polygon with Douglas-Peucker at the given
// tolerance in pixels. The result keeps at least three vertices and its
// area stays within MaxAreaError of the input: the tolerance is halved
// until it does, and the input is returned unchanged when no tolerance
// qualifies. Inputs with three or fewer vertices are returned unchanged.
func Simplify(pts []image.Point, tolerance float64) []image.Point {
	if len(pts) <= 3 || tolerance <= 0 {
		return append([]image.Point(nil), pts...)
	}

	before := Area(pts)
	for range maxHalvings {
		out := simplifyOnce(pts, tolerance)
		if areaPreserved(before, Area(out)) {
			return out
		}
		tolerance /= 2
	}
	return append([]image.Point(nil), pts...)
}

func areaPreserved(before, after float64) bool {
	if before == 0 {
		return after == 0
	}
	return math.Abs(after-before)/before <= MaxAreaError
}

func simplifyOnce(pts []image.Point, tolerance float64) []image.Point {
	n := len(pts)

	// split the ring at the vertex farthest from the first one
	far, best := 0, -1.0
	for i := 1; i < n; i++ {
		if d := dist2(pts[0], pts[i]); d > best {
			far, best = i, d
		}
	}
	if best == 0 {
		return append([]image.Point(nil), pts...)
	}

	keep := make([]bool, n)
	keep[0], keep[far] = true, true
	dp(pts, 0, far, tolerance, keep)

	ring := make([]image.Point, n-far+1)
	copy(ring, pts[far:])
	ring[len(ring)-1] = pts[0]
	keepRing := make([]bool, len(ring))
	keepRing[0], keepRing[len(ring)-1] = true, true
	dp(ring, 0, len(ring)-1, tolerance, keepRing)
	for i := 1; i < len(ring)-1; i++ {
		if keepRing[i] {
			keep[far+i] = true
		}
	}

	out := make([]image.Point, 0, n)
	for i, k := range keep {
		if k {
			out = append(out, pts[i])
		}
	}

	if len(out) < 3 {
		// two anchors survived; add the vertex farthest from their chord
		third, bestD := -1, -1.0
		for i := 1; i < n; i++ {
			if i == far {
				continue
			}
			if d := segmentDistance(pts[i], pts[0], pts[far]); d > bestD {
				third, bestD = i, d
			}
		}
		keep[third] = true
		out = out[:0]
		for i, k := range keep {
			if k {
				out = append(out, pts[i])
			}
		}
	}

	return out
}

// SimplifyRelative simplifies with a tolerance of epsilon percent of the
// polygon perimeter, under the same area bound as Simplify.
func SimplifyRelative(pts []image.Point, epsilon float64) []image.Point {
	return Simplify(pts, epsilon*Perimeter(pts)*0.01)
}

func dp(pts []image.Point, first, last int, tol float64, keep []bool) {
	if last-first < 2 {
		return
	}
	idx, maxD := -1, tol
	for i := first + 1; i < last; i++ {
		if d := segmentDistance(pts[i], pts[first], pts[last]); d > maxD {
			idx, maxD = i, d
		}
	}
	if idx < 0 {
		return
	}
	keep[idx] = true
	dp(pts, first, idx, tol, keep)
	dp(pts, idx, last, tol, keep)
}

func segmentDistance(p, a, b image.Point) float64 {
	dx, dy := float64(b.X-a.X), float64(b.Y-a.Y)
	px, py := float64(p.X-a.X), float64(p.Y-a.Y)
	l2 := dx*dx + dy*dy
	if l2 == 0 {
		return math.Hypot(px, py)
	}
	t := (px*dx + py*dy) / l2
	t = math.Max(0, math.Min(1, t))
	return math.Hypot(px-t*dx, py-t*dy)
}

func dist2(a, b image.Point) float64 {
	dx, dy := float64(a.X-b.X), float64(a.Y-b.Y)
	return dx*dx + dy*dy
}
