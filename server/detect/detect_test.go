package detect

import (
	"bytes"
	"context"
	"errors"
	"image"
	"image/png"
	"iter"
	"testing"

	"github.com/cyclopcam/helmetcam/pkg/nn"
	"github.com/cyclopcam/logs"
	"github.com/stretchr/testify/require"
)

type fakeDetector struct {
	anchors []nn.RawAnchor
	calls   int
}

func (f *fakeDetector) Close() {}

func (f *fakeDetector) Infer(img *image.RGBA, numClasses int) ([]nn.RawAnchor, error) {
	f.calls++
	return f.anchors, nil
}

func helmetAnchor() nn.RawAnchor {
	return nn.RawAnchor{CenterX: 0.5, CenterY: 0.5, Width: 0.2, Height: 0.2, Scores: []float32{0.9, 0.1}}
}

func newTestService(t *testing.T, anchors ...nn.RawAnchor) (*Service, *fakeDetector) {
	fake := &fakeDetector{anchors: anchors}
	model := nn.NewModel(fake, []string{"helmet", "no-helmet"})
	return NewService(logs.NewTestingLog(t), model, Options{Params: *nn.NewDetectionParams(), JPEGQuality: 80}), fake
}

func TestProcessUpload(t *testing.T) {
	s, _ := newTestService(t, helmetAnchor())
	buf := bytes.Buffer{}
	require.NoError(t, png.Encode(&buf, image.NewRGBA(image.Rect(0, 0, 416, 416))))

	res, err := s.ProcessUpload(buf.Bytes())
	require.NoError(t, err)
	require.Equal(t, 416, res.Width)
	require.Equal(t, 416, res.Height)
	require.Len(t, res.Detections, 1)
	require.Equal(t, "helmet", res.Detections[0].Label)
	require.Equal(t, []byte{0xff, 0xd8}, res.JPEG[:2])

	_, err = s.ProcessUpload([]byte("definitely not an image"))
	require.Error(t, err)

	stages := []string{}
	for _, st := range s.Timings() {
		stages = append(stages, st.Stage)
		require.NotZero(t, st.Samples)
	}
	require.Equal(t, []string{StageDecode, StageEncode, StageInfer, StageOverlay}, stages)
}

func TestDetectDrawsOverlay(t *testing.T) {
	s, _ := newTestService(t, helmetAnchor())
	img := image.NewRGBA(image.Rect(0, 0, 416, 416))
	dets, err := s.Detect(img)
	require.NoError(t, err)
	require.Len(t, dets, 1)
	// The left edge of the box has been painted
	box := dets[0].Box
	require.NotZero(t, img.RGBAAt(box.X, box.Y+box.Height/2).A)
}

func frameSeq(n int, failAfter bool) iter.Seq2[*image.RGBA, error] {
	return func(yield func(*image.RGBA, error) bool) {
		for i := 0; i < n; i++ {
			if !yield(image.NewRGBA(image.Rect(0, 0, 64, 48)), nil) {
				return
			}
		}
		if failAfter {
			yield(nil, errors.New("camera unplugged"))
		}
	}
}

func TestRunLive(t *testing.T) {
	s, fake := newTestService(t, helmetAnchor())
	got := []int{}
	stats, err := s.RunLive(context.Background(), frameSeq(5, false), func(f *LiveFrame) error {
		got = append(got, f.Index)
		require.Len(t, f.Result.Detections, 1)
		return nil
	})
	require.NoError(t, err)
	require.Equal(t, 5, stats.Frames)
	require.Equal(t, []int{0, 1, 2, 3, 4}, got)
	require.Equal(t, 5, fake.calls)
}

func TestRunLiveReadFailureEndsLoop(t *testing.T) {
	s, _ := newTestService(t)
	stats, err := s.RunLive(context.Background(), frameSeq(3, true), func(f *LiveFrame) error { return nil })
	require.Error(t, err)
	require.Equal(t, 3, stats.Frames)
}

func TestRunLiveStops(t *testing.T) {
	s, fake := newTestService(t)
	ctx, cancel := context.WithCancel(context.Background())
	stats, err := s.RunLive(ctx, frameSeq(100, false), func(f *LiveFrame) error {
		if f.Index == 2 {
			cancel()
		}
		return nil
	})
	require.NoError(t, err)
	require.Equal(t, 3, stats.Frames)
	require.Equal(t, 3, fake.calls)

	// An emit failure (eg the browser went away) also ends the loop
	stats, err = s.RunLive(context.Background(), frameSeq(100, false), func(f *LiveFrame) error {
		return errors.New("broken pipe")
	})
	require.Error(t, err)
	require.Equal(t, 0, stats.Frames)
}
