package camera

// Package camera turns a capture device into a lazy sequence of frames.
//
// A Stream does not hold the device. Each time the sequence returned by Frames
// is iterated, the device is opened, and it is closed again when iteration
// ends, no matter how it ends (stream exhausted, read failure, the consumer
// breaking out of its loop, context cancellation, or a panic).

import (
	"context"
	"errors"
	"fmt"
	"image"
	"iter"
	"time"
)

var (
	ErrOpen = errors.New("failed to open camera")
	ErrRead = errors.New("failed to read frame from camera")
)

// Device is an open capture device
type Device interface {
	// Read returns the next frame. The caller owns the returned image.
	Read() (*image.RGBA, error)
	Close() error
}

// Opener acquires a capture device
type Opener func() (Device, error)

type Stream struct {
	open        Opener
	minInterval time.Duration
}

// NewStream creates a frame stream over the devices produced by open.
// If maxFPS is positive, frames are paced so that no more than maxFPS are produced per second.
func NewStream(open Opener, maxFPS float64) *Stream {
	s := &Stream{
		open: open,
	}
	if maxFPS > 0 {
		s.minInterval = time.Duration(float64(time.Second) / maxFPS)
	}
	return s
}

// Frames returns a restartable sequence of frames.
// The context is checked before every frame. A failed read is yielded once as
// an error wrapping ErrRead, and ends the sequence; it is never retried.
func (s *Stream) Frames(ctx context.Context) iter.Seq2[*image.RGBA, error] {
	return func(yield func(*image.RGBA, error) bool) {
		dev, err := s.open()
		if err != nil {
			yield(nil, fmt.Errorf("%w: %w", ErrOpen, err))
			return
		}
		defer dev.Close()

		var last time.Time
		for {
			if ctx.Err() != nil {
				return
			}
			if !s.pace(ctx, last) {
				return
			}
			last = time.Now()
			img, err := dev.Read()
			if err != nil {
				yield(nil, fmt.Errorf("%w: %w", ErrRead, err))
				return
			}
			if !yield(img, nil) {
				return
			}
		}
	}
}

// Wait until minInterval has passed since last. Returns false if ctx was cancelled while waiting.
func (s *Stream) pace(ctx context.Context, last time.Time) bool {
	if s.minInterval == 0 || last.IsZero() {
		return true
	}
	wait := s.minInterval - time.Since(last)
	if wait <= 0 {
		return true
	}
	timer := time.NewTimer(wait)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-timer.C:
		return true
	}
}
