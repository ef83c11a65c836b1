package contour

import "image"

const (
	DefaultCutoff  uint8   = 127
	DefaultMinArea float64 = 100
)

type Options struct {
	MinArea float64
	// Cutoff is the binarization threshold; values strictly above it are
	// foreground.
	Cutoff uint8
	// Clean applies a 3x3 opening and closing before tracing.
	Clean bool
	// SimplifyEpsilon, when positive, simplifies output points with a
	// tolerance of SimplifyEpsilon percent of each perimeter. Features are
	// always computed on the unsimplified border.
	SimplifyEpsilon float64
}

func DefaultOptions() Options {
	return Options{MinArea: DefaultMinArea, Cutoff: DefaultCutoff}
}

// Extractor runs binarization, optional clean-up, tracing and optional
// simplification over grayscale masks.
type Extractor struct {
	opts   Options
	tracer Tracer
}

func NewExtractor(opts Options) *Extractor {
	if opts.MinArea < 0 {
		opts.MinArea = 0
	}
	return &Extractor{opts: opts, tracer: defaultTracer}
}

func (e *Extractor) Options() Options {
	return e.opts
}

// WithCutoff returns a copy of the extractor binarizing at cutoff.
func (e *Extractor) WithCutoff(cutoff uint8) *Extractor {
	c := *e
	c.opts.Cutoff = cutoff
	return &c
}

func (e *Extractor) WithMinArea(minArea float64) *Extractor {
	c := *e
	c.opts.MinArea = minArea
	return &c
}

func (e *Extractor) Extract(g *image.Gray) []Polygon {
	b := Binarize(g, e.opts.Cutoff)
	if e.opts.Clean {
		b = Clean(b)
	}

	polygons := extractWith(e.tracer, b, e.opts.MinArea)
	if e.opts.SimplifyEpsilon > 0 {
		for i := range polygons {
			polygons[i].Points = simplifyPoints(polygons[i].Points, e.opts.SimplifyEpsilon)
		}
	}
	return polygons
}

func simplifyPoints(pts []Point, epsilon float64) []Point {
	raw := make([]image.Point, len(pts))
	for i, p := range pts {
		raw[i] = image.Point{X: p.X, Y: p.Y}
	}
	return toPoints(SimplifyRelative(raw, epsilon))
}
