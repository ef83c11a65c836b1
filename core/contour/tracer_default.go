//go:build !gocv

package contour

var defaultTracer Tracer = SuzukiTracer{}
