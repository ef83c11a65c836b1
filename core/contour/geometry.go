package contour

import (
	"image"
	"math"
	"sort"
)

// Features are the shape descriptors attached to every polygon.
type Features struct {
	Area         float64 `json:"area"`
	Perimeter    float64 `json:"perimeter"`
	Circularity  float64 `json:"circularity"`
	Solidity     float64 `json:"solidity"`
	Eccentricity float64 `json:"eccentricity"`
	MajorAxis    float64 `json:"majorAxis"`
	MinorAxis    float64 `json:"minorAxis"`
	Orientation  float64 `json:"orientation"`
	Centroid     Point2D `json:"centroid"`
}

type Point2D struct {
	X float64 `json:"x"`
	Y float64 `json:"y"`
}

// Area is the absolute shoelace area of a closed polygon.
func Area(pts []image.Point) float64 {
	return math.Abs(signedArea(pts))
}

func signedArea(pts []image.Point) float64 {
	n := len(pts)
	if n < 3 {
		return 0
	}
	var s int64
	for i := 0; i < n; i++ {
		a, b := pts[i], pts[(i+1)%n]
		s += int64(a.X)*int64(b.Y) - int64(b.X)*int64(a.Y)
	}
	return float64(s) / 2
}

// Perimeter is the closed arc length.
func Perimeter(pts []image.Point) float64 {
	n := len(pts)
	if n < 2 {
		return 0
	}
	var l float64
	for i := 0; i < n; i++ {
		a, b := pts[i], pts[(i+1)%n]
		l += math.Hypot(float64(b.X-a.X), float64(b.Y-a.Y))
	}
	return l
}

type moments struct {
	m00, m10, m01, m20, m11, m02 float64
}

// polygonMoments integrates the raw spatial moments over the polygon
// interior with Green's theorem.
func polygonMoments(pts []image.Point) moments {
	var m moments
	n := len(pts)
	if n < 3 {
		return m
	}
	for i := 0; i < n; i++ {
		x0, y0 := float64(pts[i].X), float64(pts[i].Y)
		x1, y1 := float64(pts[(i+1)%n].X), float64(pts[(i+1)%n].Y)
		c := x0*y1 - x1*y0
		m.m00 += c
		m.m10 += (x0 + x1) * c
		m.m01 += (y0 + y1) * c
		m.m20 += (x0*x0 + x0*x1 + x1*x1) * c
		m.m02 += (y0*y0 + y0*y1 + y1*y1) * c
		m.m11 += (x0*y1 + 2*x0*y0 + 2*x1*y1 + x1*y0) * c
	}
	m.m00 /= 2
	m.m10 /= 6
	m.m01 /= 6
	m.m20 /= 12
	m.m02 /= 12
	m.m11 /= 24
	return m
}

func meanPoint(pts []image.Point) Point2D {
	if len(pts) == 0 {
		return Point2D{}
	}
	var sx, sy float64
	for _, p := range pts {
		sx += float64(p.X)
		sy += float64(p.Y)
	}
	return Point2D{X: sx / float64(len(pts)), Y: sy / float64(len(pts))}
}

// ConvexHull returns the hull vertices in counter-clockwise order
// (Andrew's monotone chain). Collinear points are dropped.
func ConvexHull(pts []image.Point) []image.Point {
	if len(pts) < 3 {
		return append([]image.Point(nil), pts...)
	}

	ps := append([]image.Point(nil), pts...)
	sort.Slice(ps, func(i, j int) bool {
		if ps[i].X != ps[j].X {
			return ps[i].X < ps[j].X
		}
		return ps[i].Y < ps[j].Y
	})

	cross := func(o, a, b image.Point) int64 {
		return int64(a.X-o.X)*int64(b.Y-o.Y) - int64(a.Y-o.Y)*int64(b.X-o.X)
	}

	hull := make([]image.Point, 0, 2*len(ps))
	for _, p := range ps {
		for len(hull) >= 2 && cross(hull[len(hull)-2], hull[len(hull)-1], p) <= 0 {
			hull = hull[:len(hull)-1]
		}
		hull = append(hull, p)
	}
	lower := len(hull) + 1
	for i := len(ps) - 2; i >= 0; i-- {
		p := ps[i]
		for len(hull) >= lower && cross(hull[len(hull)-2], hull[len(hull)-1], p) <= 0 {
			hull = hull[:len(hull)-1]
		}
		hull = append(hull, p)
	}
	return hull[:len(hull)-1]
}

// ComputeFeatures derives the shape descriptors of a traced border.
// Borders with five or more vertices get an ellipse with the same second
// moments as the region; smaller ones only get a centroid.
func ComputeFeatures(pts []image.Point) Features {
	var f Features
	f.Area = Area(pts)
	f.Perimeter = Perimeter(pts)
	if f.Perimeter > 0 {
		f.Circularity = 4 * math.Pi * f.Area / (f.Perimeter * f.Perimeter)
	}

	if hullArea := Area(ConvexHull(pts)); hullArea > 0 {
		f.Solidity = f.Area / hullArea
	}

	m := polygonMoments(pts)
	if m.m00 == 0 {
		f.Centroid = meanPoint(pts)
		return f
	}

	cx, cy := m.m10/m.m00, m.m01/m.m00
	f.Centroid = Point2D{X: cx, Y: cy}
	if len(pts) < 5 {
		return f
	}

	mu20 := m.m20/m.m00 - cx*cx
	mu02 := m.m02/m.m00 - cy*cy
	mu11 := m.m11/m.m00 - cx*cy

	common := math.Sqrt((mu20-mu02)*(mu20-mu02)/4 + mu11*mu11)
	l1 := (mu20+mu02)/2 + common
	l2 := (mu20+mu02)/2 - common

	f.MajorAxis = 4 * math.Sqrt(math.Max(l1, 0))
	f.MinorAxis = 4 * math.Sqrt(math.Max(l2, 0))
	if f.MajorAxis > 0 {
		ratio := f.MinorAxis / f.MajorAxis
		f.Eccentricity = math.Sqrt(math.Max(0, 1-ratio*ratio))
	}

	theta := 0.5 * math.Atan2(2*mu11, mu20-mu02) * 180 / math.Pi
	if theta < 0 {
		theta += 180
	}
	f.Orientation = theta

	return f
}
