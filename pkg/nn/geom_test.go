package nn

import (
	"testing"

	"github.com/stretchr/testify/require"
)

// insideImage returns true if r lies entirely within [0,width) x [0,height)
func insideImage(r Rect, width, height int) bool {
	return r.X >= 0 && r.Y >= 0 && r.Width >= 0 && r.Height >= 0 && r.X2() <= width && r.Y2() <= height
}

func TestIOU(t *testing.T) {
	a := Rect{
		X:      0,
		Y:      0,
		Width:  10,
		Height: 10,
	}
	b := Rect{
		X:      5,
		Y:      5,
		Width:  10,
		Height: 10,
	}
	if a.IOU(b) != 0.25/(0.75+1) {
		t.Errorf("IOU is %v, not 0.25", a.IOU(b))
	}
	require.Equal(t, float32(1), a.IOU(a))
	require.Equal(t, float32(0), a.IOU(Rect{X: 20, Y: 20, Width: 5, Height: 5}))
	// Touching edges do not overlap
	require.Equal(t, float32(0), a.IOU(Rect{X: 10, Y: 0, Width: 10, Height: 10}))
	// Degenerate boxes don't divide by zero
	require.Equal(t, float32(0), Rect{}.IOU(Rect{}))
}

func TestRectFromCenter(t *testing.T) {
	r := RectFromCenter(208, 208, 83.2, 83.2)
	require.Equal(t, Rect{X: 166, Y: 166, Width: 83, Height: 83}, r)
}

func TestClamp(t *testing.T) {
	cases := []struct {
		in     Rect
		expect Rect
	}{
		{Rect{10, 10, 20, 20}, Rect{10, 10, 20, 20}},
		{Rect{-5, -5, 20, 20}, Rect{0, 0, 15, 15}},
		{Rect{90, 40, 20, 20}, Rect{90, 40, 10, 10}},
		{Rect{-50, -50, 500, 500}, Rect{0, 0, 100, 50}},
		// Entirely outside collapses onto the edge pixel
		{Rect{200, 200, 10, 10}, Rect{99, 49, 1, 1}},
		{Rect{-30, -30, 10, 10}, Rect{0, 0, 1, 1}},
	}
	for _, c := range cases {
		out := c.in.Clamp(100, 50)
		require.Equal(t, c.expect, out, "Clamp(%v)", c.in)
		require.True(t, insideImage(out, 100, 50))
	}
}
