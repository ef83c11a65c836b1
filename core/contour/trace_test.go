package contour

import (
	"image"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSuzukiTracer_SinglePixel(t *testing.T) {
	b := NewBitmap(5, 5)
	b.Set(2, 2, true)

	borders, hierarchy := SuzukiTracer{}.Trace(b)

	require.True(t, hierarchy)
	require.Len(t, borders, 1)
	assert.Equal(t, []image.Point{{2, 2}}, borders[0].Points)
	assert.False(t, borders[0].Hole)
	assert.Equal(t, -1, borders[0].Parent)
}

func TestSuzukiTracer_Square(t *testing.T) {
	b := NewBitmap(10, 10)
	fillRect(b, image.Rect(2, 2, 6, 6), true)

	borders, _ := SuzukiTracer{}.Trace(b)

	require.Len(t, borders, 1)
	pts := borders[0].Points
	assert.Len(t, pts, 12, "perimeter pixels of a 4x4 block")
	assert.Equal(t, image.Point{2, 2}, pts[0])
	assert.InDelta(t, 9.0, Area(pts), 1e-9)
}

func TestSuzukiTracer_HoleHierarchy(t *testing.T) {
	b := NewBitmap(12, 12)
	fillRect(b, image.Rect(1, 1, 11, 11), true)
	fillRect(b, image.Rect(4, 4, 8, 8), false)
	// island inside the hole
	b.Set(5, 5, true)

	borders, hierarchy := SuzukiTracer{}.Trace(b)

	require.True(t, hierarchy)
	require.Len(t, borders, 3)

	outer, hole, island := borders[0], borders[1], borders[2]
	assert.False(t, outer.Hole)
	assert.Equal(t, -1, outer.Parent)

	assert.True(t, hole.Hole)
	assert.Equal(t, 0, hole.Parent)

	assert.False(t, island.Hole)
	assert.Equal(t, 1, island.Parent)
}

func TestSuzukiTracer_SeparateRegions(t *testing.T) {
	b := NewBitmap(20, 8)
	fillRect(b, image.Rect(1, 1, 5, 5), true)
	fillRect(b, image.Rect(10, 1, 15, 6), true)

	borders, _ := SuzukiTracer{}.Trace(b)

	require.Len(t, borders, 2)
	for _, br := range borders {
		assert.Equal(t, -1, br.Parent)
		assert.False(t, br.Hole)
	}
}

func TestSuzukiTracer_DiagonalNeighboursAreConnected(t *testing.T) {
	b := NewBitmap(6, 6)
	b.Set(1, 1, true)
	b.Set(2, 2, true)
	b.Set(3, 3, true)

	borders, _ := SuzukiTracer{}.Trace(b)

	require.Len(t, borders, 1)
	assert.ElementsMatch(t,
		[]image.Point{{1, 1}, {2, 2}, {3, 3}, {2, 2}},
		borders[0].Points)
}

func TestSuzukiTracer_Empty(t *testing.T) {
	borders, hierarchy := SuzukiTracer{}.Trace(NewBitmap(0, 0))
	assert.Empty(t, borders)
	assert.True(t, hierarchy)
}
