// Package detection runs face-presence detection against live video frames
// and decides when presence is stable enough to capture.
package detection

import (
	"context"
	"image"
	"sync"
	"sync/atomic"
	"time"

	"github.com/pkg/errors"
)

const DefaultThreshold = 0.5

// BoundingBox is a candidate face in frame pixel coordinates.
type BoundingBox struct {
	X          float64 `json:"x"`
	Y          float64 `json:"y"`
	Width      float64 `json:"width"`
	Height     float64 `json:"height"`
	Confidence float64 `json:"confidence"`
}

// Rect returns the integer pixel rectangle covered by the box.
func (b BoundingBox) Rect() image.Rectangle {
	return image.Rect(int(b.X), int(b.Y), int(b.X+b.Width), int(b.Y+b.Height))
}

// Detector is the black-box inference capability: frame + monotonic timestamp in, boxes out.
type Detector interface {
	Detect(frame image.Image, ts time.Duration) ([]BoundingBox, error)
}

// DetectorFunc adapts a plain func to a Detector.
type DetectorFunc func(frame image.Image, ts time.Duration) ([]BoundingBox, error)

func (f DetectorFunc) Detect(frame image.Image, ts time.Duration) ([]BoundingBox, error) {
	return f(frame, ts)
}

// FilterByConfidence keeps the boxes whose confidence is >= threshold.
func FilterByConfidence(boxes []BoundingBox, threshold float64) []BoundingBox {
	if len(boxes) == 0 {
		return nil
	}
	kept := boxes[:0:0]
	for _, b := range boxes {
		if b.Confidence >= threshold {
			kept = append(kept, b)
		}
	}
	return kept
}

// Shared lazily initializes one Detector and hands it to every session.
// A failed initialization is retried by the next Get.
type Shared struct {
	init func(ctx context.Context) (Detector, error)

	mu    sync.Mutex
	det   Detector
	ready atomic.Bool
}

func NewShared(init func(ctx context.Context) (Detector, error)) *Shared {
	return &Shared{init: init}
}

// Get returns the shared detector, initializing it on first use.
// Concurrent callers wait for the same initialization.
func (s *Shared) Get(ctx context.Context) (Detector, error) {
	if s.ready.Load() {
		return s.det, nil
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.det != nil {
		return s.det, nil
	}
	if s.init == nil {
		return nil, errors.New("no detector initializer")
	}
	det, err := s.init(ctx)
	if err != nil {
		return nil, errors.Wrap(err, "initializing face detector")
	}
	if det == nil {
		return nil, errors.New("initializing face detector: nil detector")
	}
	s.det = det
	s.ready.Store(true)
	return det, nil
}

// Ready reports whether the detector has been initialized.
func (s *Shared) Ready() bool {
	return s.ready.Load()
}

// FrameError wraps the inference failure of a single frame.
type FrameError struct {
	TS  time.Duration
	Err error
}

func (e *FrameError) Error() string {
	return "detecting faces at " + e.TS.String() + ": " + e.Err.Error()
}

func (e *FrameError) Cause() error  { return e.Err }
func (e *FrameError) Unwrap() error { return e.Err }
