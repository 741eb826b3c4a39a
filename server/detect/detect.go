package detect

// Package detect runs the helmet detection pipeline: decode, infer, suppress, overlay, encode.

import (
	"context"
	"errors"
	"image"
	"iter"
	"sync"
	"time"

	"github.com/cyclopcam/helmetcam/pkg/imgcodec"
	"github.com/cyclopcam/helmetcam/pkg/nn"
	"github.com/cyclopcam/helmetcam/pkg/overlay"
	"github.com/cyclopcam/helmetcam/pkg/perfstats"
	"github.com/cyclopcam/logs"
)

type Options struct {
	Params       nn.DetectionParams
	JPEGQuality  int
	MaxDimension int // Uploaded images larger than this are scaled down. Zero disables.
}

// Service owns the model. The underlying network is not safe for concurrent use,
// so all inference goes through a single lock.
type Service struct {
	log     logs.Log
	model   *nn.Model
	options Options
	lock    sync.Mutex
	timings *perfstats.Pipeline
}

// Pipeline stage names, for Timings
const (
	StageDecode  = "decode"
	StageInfer   = "infer"
	StageOverlay = "overlay"
	StageEncode  = "encode"
)

// Result is a processed image
type Result struct {
	Width      int            `json:"width"`
	Height     int            `json:"height"`
	Detections []nn.Detection `json:"detections"`
	JPEG       []byte         `json:"-"`
}

func NewService(log logs.Log, model *nn.Model, options Options) *Service {
	return &Service{
		log:     log,
		model:   model,
		options: options,
		timings: perfstats.NewPipeline(),
	}
}

// Timings returns the accumulated time spent in each stage of the pipeline
func (s *Service) Timings() []perfstats.Summary {
	return s.timings.Summaries()
}

// ResetTimings clears the accumulated stage timings
func (s *Service) ResetTimings() {
	s.timings.Reset()
}

// Close releases the model. Callers must not use the service afterwards.
func (s *Service) Close() {
	s.lock.Lock()
	defer s.lock.Unlock()
	if s.model != nil {
		s.model.Close()
	}
}

func (s *Service) Labels() []string {
	return s.model.Labels
}

// Detect runs inference on img, and draws the detections onto it
func (s *Service) Detect(img *image.RGBA) ([]nn.Detection, error) {
	s.lock.Lock()
	start := time.Now()
	dets, err := s.model.Detect(img, &s.options.Params)
	s.timings.Since(StageInfer, start)
	s.lock.Unlock()
	if err != nil {
		return nil, err
	}
	start = time.Now()
	overlay.Draw(img, dets)
	s.timings.Since(StageOverlay, start)
	return dets, nil
}

// Process runs an already decoded image through the pipeline, and encodes the result
func (s *Service) Process(img *image.RGBA) (*Result, error) {
	dets, err := s.Detect(img)
	if err != nil {
		return nil, err
	}
	start := time.Now()
	jpg, err := imgcodec.EncodeJPEG(img, s.options.JPEGQuality)
	s.timings.Since(StageEncode, start)
	if err != nil {
		return nil, err
	}
	return &Result{
		Width:      img.Rect.Dx(),
		Height:     img.Rect.Dy(),
		Detections: dets,
		JPEG:       jpg,
	}, nil
}

// ProcessUpload decodes an uploaded image file, and runs it through the pipeline
func (s *Service) ProcessUpload(b []byte) (*Result, error) {
	start := time.Now()
	img, err := imgcodec.Decode(b, s.options.MaxDimension)
	s.timings.Since(StageDecode, start)
	if err != nil {
		return nil, err
	}
	return s.Process(img)
}

// LiveFrame is one processed frame of a live stream
type LiveFrame struct {
	Index  int
	Result *Result
}

// LiveStats summarizes a live session
type LiveStats struct {
	Frames   int
	Duration time.Duration
}

// RunLive processes frames until the sequence ends, ctx is cancelled, or emit fails.
// Each processed frame is handed to emit. A frame source error ends the loop and is
// returned; cancellation is a normal stop and returns nil.
func (s *Service) RunLive(ctx context.Context, frames iter.Seq2[*image.RGBA, error], emit func(frame *LiveFrame) error) (stats LiveStats, err error) {
	start := time.Now()
	defer func() {
		stats.Duration = time.Since(start)
	}()

	for img, frameErr := range frames {
		if frameErr != nil {
			return stats, frameErr
		}
		if ctx.Err() != nil {
			return stats, nil
		}
		res, procErr := s.Process(img)
		if procErr != nil {
			return stats, procErr
		}
		if emitErr := emit(&LiveFrame{Index: stats.Frames, Result: res}); emitErr != nil {
			if errors.Is(emitErr, context.Canceled) {
				return stats, nil
			}
			return stats, emitErr
		}
		stats.Frames++
	}
	return stats, nil
}
