package nn

import (
	"github.com/chewxy/math32"
)

// Rect is an integer pixel rectangle. X2 and Y2 are exclusive.
type Rect struct {
	X      int `json:"x"`
	Y      int `json:"y"`
	Width  int `json:"width"`
	Height int `json:"height"`
}

// RectFromCenter converts a float center/size box into a top-left rectangle,
// rounding each edge to the nearest pixel.
func RectFromCenter(cx, cy, width, height float32) Rect {
	return Rect{
		X:      int(math32.Round(cx - width/2)),
		Y:      int(math32.Round(cy - height/2)),
		Width:  int(math32.Round(width)),
		Height: int(math32.Round(height)),
	}
}

func (r Rect) X2() int {
	return r.X + r.Width
}

func (r Rect) Y2() int {
	return r.Y + r.Height
}

func (r Rect) Area() int {
	return r.Width * r.Height
}

func (r Rect) Intersection(b Rect) Rect {
	x1 := max(r.X, b.X)
	y1 := max(r.Y, b.Y)
	x2 := min(r.X+r.Width, b.X+b.Width)
	y2 := min(r.Y+r.Height, b.Y+b.Height)
	return Rect{
		X:      x1,
		Y:      y1,
		Width:  max(0, x2-x1),
		Height: max(0, y2-y1),
	}
}

// Intersection over Union
func (r Rect) IOU(b Rect) float32 {
	intersection := r.Intersection(b)
	union := r.Area() + b.Area() - intersection.Area()
	if union <= 0 {
		return 0
	}
	return float32(intersection.Area()) / float32(union)
}

// Clamp returns the rectangle clipped to [0,width) x [0,height).
// The result is always at least 1x1, so that a box which is entirely outside
// the image collapses onto the nearest edge pixel instead of disappearing.
// width and height must be positive.
func (r Rect) Clamp(width, height int) Rect {
	x1 := clampInt(r.X, 0, width-1)
	y1 := clampInt(r.Y, 0, height-1)
	x2 := clampInt(r.X2(), x1+1, width)
	y2 := clampInt(r.Y2(), y1+1, height)
	return Rect{
		X:      x1,
		Y:      y1,
		Width:  x2 - x1,
		Height: y2 - y1,
	}
}

func clampInt(v, lo, hi int) int {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}
