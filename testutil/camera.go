package testutil

import (
	"context"
	"fmt"
	"image"
	"image/color"
	"image/draw"
	"sync"
	"sync/atomic"

	"github.com/trezcool/checkin/core/camera"
)

var streamSeq uint64

// Track is an in-memory camera.Track.
type Track struct {
	id      string
	kind    string
	stopped atomic.Bool
	stops   atomic.Int32
}

func (t *Track) ID() string   { return t.id }
func (t *Track) Kind() string { return t.kind }
func (t *Track) Live() bool   { return !t.stopped.Load() }
func (t *Track) Stops() int   { return int(t.stops.Load()) }

func (t *Track) Stop() {
	t.stops.Add(1)
	t.stopped.Store(true)
}

// Stream is an in-memory camera stream fed with Push.
type Stream struct {
	id     string
	track  *Track
	width  int
	height int

	mu     sync.Mutex
	latest image.Image
	seq    uint64
}

// NewStream returns a live stream of the given resolution holding one gray frame.
func NewStream(width, height int) *Stream {
	n := atomic.AddUint64(&streamSeq, 1)
	s := &Stream{
		id:     fmt.Sprintf("stream-%d", n),
		track:  &Track{id: fmt.Sprintf("track-%d", n), kind: "video"},
		width:  width,
		height: height,
	}
	s.Push(Frame(width, height, color.Gray{Y: 0x80}))
	return s
}

func (s *Stream) ID() string { return s.id }
func (s *Stream) Tracks() []camera.Track { return []camera.Track{s.track} }
func (s *Stream) Settings() (width, height int) { return s.width, s.height }
func (s *Stream) Track() *Track { return s.track }

// Push makes img the newest frame.
func (s *Stream) Push(img image.Image) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.latest = img
	s.seq++
}

func (s *Stream) Latest() (image.Image, uint64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.track.Live() {
		return nil, s.seq
	}
	return s.latest, s.seq
}

// Device is a camera.Device returning scripted streams or errors.
type Device struct {
	Err    error
	Width  int
	Height int
	// Gate, when set, blocks Open until it is closed or ctx is done.
	Gate chan struct{}

	mu      sync.Mutex
	streams []*Stream
}

func NewDevice() *Device {
	return &Device{Width: camera.DefaultWidth, Height: camera.DefaultHeight}
}

func (d *Device) Open(ctx context.Context, c camera.Constraints) (camera.Stream, error) {
	if d.Gate != nil {
		select {
		case <-d.Gate:
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	if d.Err != nil {
		return nil, d.Err
	}
	s := NewStream(d.Width, d.Height)
	d.mu.Lock()
	d.streams = append(d.streams, s)
	d.mu.Unlock()
	return s, nil
}

// Streams returns every stream opened so far.
func (d *Device) Streams() []*Stream {
	d.mu.Lock()
	defer d.mu.Unlock()
	return append([]*Stream(nil), d.streams...)
}

// LiveTracks counts live tracks across every opened stream.
func (d *Device) LiveTracks() int {
	var n int
	for _, s := range d.Streams() {
		n += camera.LiveTracks(s)
	}
	return n
}

// Sink is an in-memory video surface counting attachments. While playing a
// *Stream it hands out its latest frame on every NextFrame unless starved.
type Sink struct {
	PlayErr error

	mu       sync.Mutex
	src      camera.Stream
	playing  bool
	starved  bool
	attaches int
	detaches int
}

func (s *Sink) Attach(stream camera.Stream) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.src = stream
	s.playing = false
	s.attaches++
	return nil
}

func (s *Sink) Play(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.PlayErr != nil {
		return s.PlayErr
	}
	if s.src == nil {
		return fmt.Errorf("no source")
	}
	s.playing = true
	return nil
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
	s.detaches++
}

func (s *Sink) Source() camera.Stream {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.src
}

// Starve makes NextFrame report no new frame.
func (s *Sink) Starve(starved bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.starved = starved
}

func (s *Sink) latestLocked() (image.Image, bool) {
	stream, ok := s.src.(*Stream)
	if !ok || !s.playing {
		return nil, false
	}
	img, _ := stream.Latest()
	return img, img != nil
}

func (s *Sink) NextFrame() (image.Image, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.starved {
		return nil, false
	}
	return s.latestLocked()
}

func (s *Sink) Current() (image.Image, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.latestLocked()
}

func (s *Sink) Size() (int, int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.src == nil {
		return 0, 0
	}
	return s.src.Settings()
}

func (s *Sink) Detaches() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.detaches
}

func (s *Sink) Attaches() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.attaches
}

// Frame returns a w x h image filled with c.
func Frame(w, h int, c color.Color) *image.RGBA {
	img := image.NewRGBA(image.Rect(0, 0, w, h))
	draw.Draw(img, img.Bounds(), image.NewUniform(c), image.Point{}, draw.Src)
	return img
}

// SplitFrame returns a w x h image whose left half is left and right half is right.
func SplitFrame(w, h int, left, right color.Color) *image.RGBA {
	img := Frame(w, h, right)
	draw.Draw(img, image.Rect(0, 0, w/2, h), image.NewUniform(left), image.Point{}, draw.Src)
	return img
}
