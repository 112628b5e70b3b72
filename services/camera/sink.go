package camerasvc

import (
	"context"
	"image"
	"sync"
	"time"

	"github.com/pkg/errors"

	"github.com/trezcool/checkin/core/camera"
)

var (
	ErrNoSource  = errors.New("video sink has no source")
	ErrNoFrames  = errors.New("stream does not expose frames")
	pollInterval = 10 * time.Millisecond
)

// FrameStream is a camera.Stream whose newest decoded frame can be read.
// The sequence number grows by one per decoded frame.
type FrameStream interface {
	camera.Stream
	Latest() (img image.Image, seq uint64)
}

// Sink is the in-process video surface: it plays a FrameStream and hands its
// frames to detection (NextFrame) and capture (Current).
type Sink struct {
	mu      sync.Mutex
	src     FrameStream
	playing bool
	lastSeq uint64
}

var _ camera.Sink = (*Sink)(nil)

func NewSink() *Sink {
	return new(Sink)
}

func (s *Sink) Attach(stream camera.Stream) error {
	fs, ok := stream.(FrameStream)
	if !ok {
		return errors.Wrapf(ErrNoFrames, "attaching %T", stream)
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.src = fs
	s.playing = false
	s.lastSeq = 0
	return nil
}

// Play waits for the first decoded frame of the source.
func (s *Sink) Play(ctx context.Context) error {
	ticker := time.NewTicker(pollInterval)
	defer ticker.Stop()
	for {
		s.mu.Lock()
		src := s.src
		if src == nil {
			s.mu.Unlock()
			return ErrNoSource
		}
		if img, _ := src.Latest(); img != nil {
			s.playing = true
			s.mu.Unlock()
			return nil
		}
		s.mu.Unlock()

		select {
		case <-ctx.Done():
			return errors.Wrap(ctx.Err(), "waiting for first frame")
		case <-ticker.C:
		}
	}
}

func (s *Sink) Playing() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.playing
}

func (s *Sink) Detach() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.src = nil
	s.playing = false
	s.lastSeq = 0
}

func (s *Sink) Source() camera.Stream {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.src == nil {
		return nil
	}
	return s.src
}

// NextFrame returns the newest frame if detection has not seen it yet.
func (s *Sink) NextFrame() (image.Image, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.playing || s.src == nil {
		return nil, false
	}
	img, seq := s.src.Latest()
	if img == nil || seq == s.lastSeq {
		return nil, false
	}
	s.lastSeq = seq
	return img, true
}

// Current returns the newest frame, seen or not.
func (s *Sink) Current() (image.Image, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.playing || s.src == nil {
		return nil, false
	}
	img, _ := s.src.Latest()
	return img, img != nil
}

// Size is the resolution the source delivers; zero when detached.
func (s *Sink) Size() (width, height int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.src == nil {
		return 0, 0
	}
	return s.src.Settings()
}
