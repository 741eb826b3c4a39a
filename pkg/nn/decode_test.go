package nn

import (
	"image"
	"math/rand"
	"os"
	"path/filepath"
	"testing"

	"github.com/chewxy/math32"
	"github.com/stretchr/testify/require"
)

var helmetLabels = []string{"helmet", "no-helmet"}

func anchor(cx, cy, w, h float32, scores ...float32) RawAnchor {
	return RawAnchor{CenterX: cx, CenterY: cy, Width: w, Height: h, Scores: scores}
}

func TestDecodeSingleHelmet(t *testing.T) {
	raw := []RawAnchor{anchor(0.5, 0.5, 0.2, 0.2, 0.9, 0.1)}
	dets, err := Decode(raw, 416, 416, helmetLabels, NewDetectionParams())
	require.NoError(t, err)
	require.Len(t, dets, 1)
	require.Equal(t, "helmet", dets[0].Label)
	require.Equal(t, 0, dets[0].Class)
	require.InDelta(t, 0.9, dets[0].Confidence, 1e-6)
	require.InDelta(t, 166, dets[0].Box.X, 1)
	require.InDelta(t, 166, dets[0].Box.Y, 1)
	require.InDelta(t, 83, dets[0].Box.Width, 1)
	require.InDelta(t, 83, dets[0].Box.Height, 1)
}

func TestDecodeBelowThreshold(t *testing.T) {
	raw := []RawAnchor{
		anchor(0.5, 0.5, 0.2, 0.2, 0.49, 0.1),
		anchor(0.2, 0.2, 0.1, 0.1, 0.3, 0.4),
		anchor(0.7, 0.7, 0.1, 0.1, 0, 0),
	}
	dets, err := Decode(raw, 640, 480, helmetLabels, nil)
	require.NoError(t, err)
	require.NotNil(t, dets)
	require.Len(t, dets, 0)

	// No anchors at all is also not an error
	dets, err = Decode(nil, 640, 480, helmetLabels, nil)
	require.NoError(t, err)
	require.NotNil(t, dets)
	require.Len(t, dets, 0)
}

func TestDecodeThresholdIsInclusive(t *testing.T) {
	raw := []RawAnchor{anchor(0.5, 0.5, 0.2, 0.2, 0.5, 0.1)}
	dets, err := Decode(raw, 100, 100, helmetLabels, nil)
	require.NoError(t, err)
	require.Len(t, dets, 1)

	dets, err = Decode(raw, 100, 100, helmetLabels, &DetectionParams{ProbabilityThreshold: 0.6})
	require.NoError(t, err)
	require.Len(t, dets, 0)
	// Zero means the default threshold. A tiny positive value keeps weak anchors.
	weak := []RawAnchor{anchor(0.5, 0.5, 0.2, 0.2, 0.3, 0.1)}
	dets, err = Decode(weak, 100, 100, helmetLabels, &DetectionParams{ProbabilityThreshold: 0})
	require.NoError(t, err)
	require.Len(t, dets, 0)
	dets, err = Decode(weak, 100, 100, helmetLabels, &DetectionParams{ProbabilityThreshold: 1e-6})
	require.NoError(t, err)
	require.Len(t, dets, 1)
}

func TestDecodeDisjointBoxesKept(t *testing.T) {
	raw := []RawAnchor{
		anchor(0.2, 0.2, 0.1, 0.1, 0.9, 0.0),
		anchor(0.8, 0.8, 0.1, 0.1, 0.8, 0.0),
	}
	dets, err := Decode(raw, 416, 416, helmetLabels, nil)
	require.NoError(t, err)
	require.Len(t, dets, 2)
	require.Equal(t, float32(0), dets[0].Box.IOU(dets[1].Box))
	require.InDelta(t, 0.9, dets[0].Confidence, 1e-6)
	require.InDelta(t, 0.8, dets[1].Confidence, 1e-6)
}

func TestDecodeFullOverlapKeepsBest(t *testing.T) {
	raw := []RawAnchor{
		anchor(0.5, 0.5, 0.3, 0.3, 0.7, 0.0),
		anchor(0.5, 0.5, 0.3, 0.3, 0.95, 0.0),
		anchor(0.5, 0.5, 0.3, 0.3, 0.8, 0.0),
	}
	dets, err := Decode(raw, 416, 416, helmetLabels, nil)
	require.NoError(t, err)
	require.Len(t, dets, 1)
	require.InDelta(t, 0.95, dets[0].Confidence, 1e-6)
}

func TestDecodeTieKeepsFirstSeen(t *testing.T) {
	// Two boxes with equal confidence, overlapping far beyond the NMS threshold,
	// but not identical, so that we can tell which one survived.
	a := anchor(0.50, 0.5, 0.3, 0.3, 0.9, 0.0)
	b := anchor(0.51, 0.5, 0.3, 0.3, 0.9, 0.0)

	dets, err := Decode([]RawAnchor{a, b}, 416, 416, helmetLabels, nil)
	require.NoError(t, err)
	require.Len(t, dets, 1)
	expectA := RectFromCenter(0.5*416, 0.5*416, 0.3*416, 0.3*416).Clamp(416, 416)
	require.Equal(t, expectA, dets[0].Box)

	dets, err = Decode([]RawAnchor{b, a}, 416, 416, helmetLabels, nil)
	require.NoError(t, err)
	require.Len(t, dets, 1)
	require.NotEqual(t, expectA, dets[0].Box)
}

func TestDecodeSuppressionIsPerClass(t *testing.T) {
	// A helmet and a no-helmet box in the same place must both survive
	raw := []RawAnchor{
		anchor(0.5, 0.5, 0.3, 0.3, 0.1, 0.95),
		anchor(0.5, 0.5, 0.3, 0.3, 0.6, 0.2),
	}
	dets, err := Decode(raw, 416, 416, helmetLabels, nil)
	require.NoError(t, err)
	require.Len(t, dets, 2)
	require.Equal(t, "helmet", dets[0].Label)
	require.Equal(t, "no-helmet", dets[1].Label)
}

func TestDecodeNmsThreshold(t *testing.T) {
	// Boxes 0..100 and 50..150 (in 1D), with equal heights, have IoU 1/3
	raw := []RawAnchor{
		anchor(0.25, 0.5, 0.5, 0.5, 0.9, 0),
		anchor(0.50, 0.5, 0.5, 0.5, 0.8, 0),
	}
	dets, err := Decode(raw, 200, 200, helmetLabels, &DetectionParams{NmsIouThreshold: 0.4})
	require.NoError(t, err)
	require.Len(t, dets, 2)

	dets, err = Decode(raw, 200, 200, helmetLabels, &DetectionParams{NmsIouThreshold: 0.3})
	require.NoError(t, err)
	require.Len(t, dets, 1)
	require.InDelta(t, 0.9, dets[0].Confidence, 1e-6)
}

func TestDecodeClampsToImage(t *testing.T) {
	raw := []RawAnchor{
		anchor(0.99, 0.01, 0.2, 0.2, 0.9, 0),
		anchor(0.0, 1.0, 0.5, 0.5, 0, 0.9),
		anchor(0.5, 0.5, 1.5, 1.5, 0.7, 0),
	}
	dets, err := Decode(raw, 640, 480, helmetLabels, nil)
	require.NoError(t, err)
	require.Len(t, dets, 3)
	for _, d := range dets {
		require.True(t, insideImage(d.Box, 640, 480), "%v", d.Box)
		require.Greater(t, d.Box.Width, 0)
		require.Greater(t, d.Box.Height, 0)
	}

	// Random boxes, including ones that hang off every edge
	rng := rand.New(rand.NewSource(1))
	for i := 0; i < 1000; i++ {
		a := anchor(rng.Float32()*1.4-0.2, rng.Float32()*1.4-0.2, rng.Float32(), rng.Float32(), 1, 0)
		w := 1 + rng.Intn(1000)
		h := 1 + rng.Intn(1000)
		dets, err := Decode([]RawAnchor{a}, w, h, helmetLabels, nil)
		require.NoError(t, err)
		require.Len(t, dets, 1)
		require.True(t, insideImage(dets[0].Box, w, h), "%v inside %v x %v", dets[0].Box, w, h)
	}
}

func TestDecodeScalesToOriginalImage(t *testing.T) {
	// Coordinates are scaled against the original image, not the 416x416 network input
	raw := []RawAnchor{anchor(0.5, 0.5, 0.2, 0.2, 0.9, 0.1)}
	dets, err := Decode(raw, 1280, 720, helmetLabels, nil)
	require.NoError(t, err)
	require.Len(t, dets, 1)
	require.Equal(t, Rect{X: 512, Y: 288, Width: 256, Height: 144}, dets[0].Box)
}

func TestDecodeInvalidInput(t *testing.T) {
	raw := []RawAnchor{anchor(0.5, 0.5, 0.2, 0.2, 0.9, 0.1)}
	for _, size := range [][2]int{{0, 416}, {416, 0}, {-1, 416}, {416, -5}} {
		_, err := Decode(raw, size[0], size[1], helmetLabels, nil)
		require.ErrorIs(t, err, ErrInvalidInput)
	}

	// Score vector doesn't match label table
	_, err := Decode([]RawAnchor{anchor(0.5, 0.5, 0.2, 0.2, 0.9)}, 416, 416, helmetLabels, nil)
	require.ErrorIs(t, err, ErrInvalidInput)

	_, err = Decode(raw, 416, 416, nil, nil)
	require.ErrorIs(t, err, ErrInvalidInput)

	// Scores and boxes that could never come from a sane network
	nan := math32.NaN()
	for _, bad := range []RawAnchor{
		anchor(0.5, 0.5, 0.2, 0.2, nan, 0.1),
		anchor(0.5, 0.5, 0.2, 0.2, 0.9, nan),
		anchor(0.5, 0.5, 0.2, 0.2, math32.Inf(1), 0.1),
		anchor(0.5, 0.5, 0.2, 0.2, 1.5, 0.1),
		anchor(0.5, 0.5, 0.2, 0.2, 0.9, -0.1),
		anchor(nan, 0.5, 0.2, 0.2, 0.9, 0.1),
		anchor(0.5, 0.5, math32.Inf(1), 0.2, 0.9, 0.1),
	} {
		dets, err := Decode([]RawAnchor{bad}, 416, 416, helmetLabels, nil)
		require.ErrorIs(t, err, ErrInvalidInput, "%v", bad)
		require.Nil(t, dets)
	}
}

func TestDecodeDeterministic(t *testing.T) {
	rng := rand.New(rand.NewSource(42))
	raw := []RawAnchor{}
	for i := 0; i < 300; i++ {
		raw = append(raw, anchor(rng.Float32(), rng.Float32(), rng.Float32()*0.3, rng.Float32()*0.3, rng.Float32(), rng.Float32()))
	}
	first, err := Decode(raw, 800, 600, helmetLabels, nil)
	require.NoError(t, err)
	second, err := Decode(raw, 800, 600, helmetLabels, nil)
	require.NoError(t, err)
	require.Equal(t, first, second)
	require.NotEmpty(t, first)

	// No two surviving boxes of the same class overlap beyond the threshold
	for i := range first {
		for j := i + 1; j < len(first); j++ {
			if first[i].Class == first[j].Class {
				require.LessOrEqual(t, first[i].Box.IOU(first[j].Box), float32(DefaultNmsIouThreshold))
			}
		}
	}
}

func TestAnchorsFromRows(t *testing.T) {
	rows := [][]float32{
		{0.5, 0.5, 0.2, 0.2, 0.99, 0.9, 0.1},
		{0.1, 0.2, 0.3, 0.4, 0.5, 0.0, 0.6},
	}
	anchors, err := AnchorsFromRows(rows, 2)
	require.NoError(t, err)
	require.Len(t, anchors, 2)
	require.Equal(t, []float32{0.9, 0.1}, anchors[0].Scores)
	require.Equal(t, float32(0.4), anchors[1].Height)

	// Wrong number of classes for this output
	_, err = AnchorsFromRows(rows, 3)
	require.ErrorIs(t, err, ErrInference)

	_, err = AnchorsFromRows([][]float32{{0.5, 0.5, -0.2, 0.2, 0.99, 0.9, 0.1}}, 2)
	require.ErrorIs(t, err, ErrInference)
	require.ErrorIs(t, err, ErrInvalidInput)

	// A NaN class score must not become a NaN confidence
	_, err = AnchorsFromRows([][]float32{{0.5, 0.5, 0.2, 0.2, 0.9, math32.NaN(), 0.1}}, 2)
	require.ErrorIs(t, err, ErrInference)
	require.ErrorIs(t, err, ErrInvalidInput)
}

func TestLoadClassFile(t *testing.T) {
	dir := t.TempDir()
	good := filepath.Join(dir, "good.txt")
	require.NoError(t, os.WriteFile(good, []byte("helmet\n no-helmet \n\n"), 0644))
	labels, err := LoadClassFile(good)
	require.NoError(t, err)
	require.Equal(t, helmetLabels, labels)

	bad := filepath.Join(dir, "bad.txt")
	require.NoError(t, os.WriteFile(bad, []byte("helmet\n\nno-helmet\n"), 0644))
	_, err = LoadClassFile(bad)
	require.Error(t, err)

	_, err = LoadClassFile(filepath.Join(dir, "missing.txt"))
	require.Error(t, err)
}

type fakeDetector struct {
	anchors []RawAnchor
	closed  bool
}

func (f *fakeDetector) Close() {
	f.closed = true
}

func (f *fakeDetector) Infer(img *image.RGBA, numClasses int) ([]RawAnchor, error) {
	return f.anchors, nil
}

func TestModelDetect(t *testing.T) {
	fake := &fakeDetector{anchors: []RawAnchor{anchor(0.5, 0.5, 0.2, 0.2, 0.9, 0.1)}}
	model := NewModel(fake, helmetLabels)
	dets, err := model.Detect(image.NewRGBA(image.Rect(0, 0, 416, 416)), nil)
	require.NoError(t, err)
	require.Len(t, dets, 1)
	require.Equal(t, "helmet", dets[0].Label)

	_, err = model.Detect(image.NewRGBA(image.Rect(0, 0, 0, 0)), nil)
	require.ErrorIs(t, err, ErrInvalidInput)

	model.Close()
	require.True(t, fake.closed)
}
