package overlay

import (
	"fmt"
	"image"
	"image/color"

	"github.com/cyclopcam/helmetcam/pkg/nn"
	"github.com/fogleman/gg"
	"github.com/golang/freetype/truetype"
	"golang.org/x/image/font/gofont/goregular"
)

// The class that is drawn in "safe" colors. Everything else is a violation.
const HelmetClass = "helmet"

var (
	Green = color.RGBA{0, 255, 0, 255}
	Red   = color.RGBA{255, 0, 0, 255}
)

const (
	LineWidth = 2
	FontSize  = 14
)

var font *truetype.Font

func init() {
	var err error
	font, err = truetype.Parse(goregular.TTF)
	if err != nil {
		panic(err)
	}
}

// ColorFor returns the box color for a class label
func ColorFor(label string) color.RGBA {
	if label == HelmetClass {
		return Green
	}
	return Red
}

// Caption returns the text that is drawn above a detection, eg "helmet 0.93"
func Caption(d nn.Detection) string {
	return fmt.Sprintf("%v %.2f", d.Label, d.Confidence)
}

// Draw renders every detection onto img, in place.
// Boxes are clamped to the image, so out of range detections are drawn along the edges.
// img is expected to have its origin at (0,0).
func Draw(img *image.RGBA, detections []nn.Detection) {
	width, height := img.Rect.Dx(), img.Rect.Dy()
	if width <= 0 || height <= 0 || len(detections) == 0 {
		return
	}
	dc := gg.NewContextForRGBA(img)
	dc.SetFontFace(truetype.NewFace(font, &truetype.Options{Size: FontSize}))
	for _, d := range detections {
		box := d.Box.Clamp(width, height)
		c := ColorFor(d.Label)
		drawBox(dc, box, c)
		drawCaption(dc, box, Caption(d), c)
	}
}

func drawBox(dc *gg.Context, box nn.Rect, c color.Color) {
	dc.SetColor(c)
	dc.SetLineWidth(LineWidth)
	dc.DrawRectangle(float64(box.X), float64(box.Y), float64(box.Width), float64(box.Height))
	dc.Stroke()
}

// Draw the caption on a filled background just above the box.
// If there's no room above the box, then the caption goes inside it.
func drawCaption(dc *gg.Context, box nn.Rect, text string, c color.Color) {
	tw, th := dc.MeasureString(text)
	pad := 2.0
	bw := tw + 2*pad
	bh := th + 2*pad
	x := float64(box.X)
	y := float64(box.Y) - bh
	if y < 0 {
		y = float64(box.Y)
	}
	if x+bw > float64(dc.Width()) {
		x = max(0, float64(dc.Width())-bw)
	}
	dc.SetColor(c)
	dc.DrawRectangle(x, y, bw, bh)
	dc.Fill()
	dc.SetColor(color.Black)
	dc.DrawStringAnchored(text, x+pad, y+pad, 0, 1)
}
