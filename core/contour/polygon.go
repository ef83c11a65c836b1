package contour

import (
	"image"

	"github.com/google/uuid"
)

type PolygonType string

const (
	External PolygonType = "external"
	Internal PolygonType = "internal"
)

type Point struct {
	X int `json:"x"`
	Y int `json:"y"`
}

// Polygon is one extracted shape. ParentID is set only on internal
// polygons and always names an external polygon of the same extraction.
type Polygon struct {
	ID       string      `json:"id"`
	Points   []Point     `json:"points"`
	Type     PolygonType `json:"type"`
	ParentID string      `json:"parentId,omitempty"`
	Class    string      `json:"class"`

	Features
}

// Extract traces the bitmap and returns external polygons with area at
// least minArea, each followed by its holes with area at least minArea/2.
func Extract(mask *Bitmap, minArea float64) []Polygon {
	return extractWith(defaultTracer, mask, minArea)
}

func extractWith(t Tracer, mask *Bitmap, minArea float64) []Polygon {
	polygons := []Polygon{}
	if mask == nil || mask.Empty() {
		return polygons
	}

	borders, hierarchy := t.Trace(mask)
	if !hierarchy {
		for _, b := range borders {
			if Area(b.Points) < minArea {
				continue
			}
			polygons = append(polygons, newPolygon(b.Points, External, ""))
		}
		return polygons
	}

	children := make(map[int][]int)
	for i, b := range borders {
		if b.Parent >= 0 {
			children[b.Parent] = append(children[b.Parent], i)
		}
	}

	for i, b := range borders {
		if b.Parent >= 0 || b.Hole {
			continue
		}
		if Area(b.Points) < minArea {
			continue
		}

		outer := newPolygon(b.Points, External, "")
		polygons = append(polygons, outer)

		for _, c := range children[i] {
			hole := borders[c]
			if Area(hole.Points) < minArea/2 {
				continue
			}
			polygons = append(polygons, newPolygon(hole.Points, Internal, outer.ID))
		}
	}

	return polygons
}

func newPolygon(pts []image.Point, typ PolygonType, parentID string) Polygon {
	p := Polygon{
		Points:   toPoints(pts),
		Type:     typ,
		ParentID: parentID,
		Features: ComputeFeatures(pts),
	}
	switch typ {
	case Internal:
		p.ID = "hole-" + newID()
		p.Class = "hole"
	default:
		p.ID = "polygon-" + newID()
		p.Class = "spheroid"
	}
	return p
}

func toPoints(pts []image.Point) []Point {
	out := make([]Point, len(pts))
	for i, p := range pts {
		out[i] = Point{X: p.X, Y: p.Y}
	}
	return out
}

func newID() string {
	return uuid.NewString()
}

// Counts returns the number of external and internal polygons.
func Counts(polygons []Polygon) (external, internal int) {
	for _, p := range polygons {
		if p.Type == Internal {
			internal++
		} else {
			external++
		}
	}
	return external, internal
}
