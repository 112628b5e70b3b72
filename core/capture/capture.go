// Package capture turns the current video frame into an immutable still image.
package capture

import (
	"bytes"
	"image"
	"image/jpeg"
	"time"

	"github.com/google/uuid"
	"github.com/pkg/errors"
	"golang.org/x/image/draw"
	"golang.org/x/image/math/f64"
)

const (
	ContentType    = "image/jpeg"
	DefaultQuality = 95
)

var (
	ErrNoFrame = errors.New("no video frame to capture")

	nowFunc = time.Now // mockable
)

// Source is anything that can hand out the frame currently displayed.
type Source interface {
	Current() (image.Image, bool)
}

// Artifact is one captured still. Treat it as read-only.
type Artifact struct {
	ID          string    `json:"id"`
	Data        []byte    `json:"-"`
	ContentType string    `json:"contentType"`
	Width       int       `json:"width"`
	Height      int       `json:"height"`
	CapturedAt  time.Time `json:"capturedAt"`
}

func (a Artifact) Size() int {
	return len(a.Data)
}

type Options struct {
	Quality int  // JPEG quality, 1-100
	Mirror  bool // match the mirrored preview
}

func DefaultOptions() Options {
	return Options{Quality: DefaultQuality, Mirror: true}
}

type Capturer struct {
	opts    Options
	release func()
}

// NewCapturer returns a Capturer that calls release after every capture attempt.
func NewCapturer(opts Options, release func()) *Capturer {
	if opts.Quality <= 0 || opts.Quality > 100 {
		opts.Quality = DefaultQuality
	}
	return &Capturer{opts: opts, release: release}
}

// Capture snapshots the current frame of src at its native resolution.
// The release callback runs whatever the outcome.
func (c *Capturer) Capture(src Source) (Artifact, error) {
	if c.release != nil {
		defer c.release()
	}

	if src == nil {
		return Artifact{}, ErrNoFrame
	}
	frame, ok := src.Current()
	if !ok || frame == nil || frame.Bounds().Empty() {
		return Artifact{}, ErrNoFrame
	}

	img := frame
	if c.opts.Mirror {
		img = Mirror(frame)
	}

	var buf bytes.Buffer
	if err := jpeg.Encode(&buf, img, &jpeg.Options{Quality: c.opts.Quality}); err != nil {
		return Artifact{}, errors.Wrap(err, "encoding capture")
	}

	b := img.Bounds()
	return Artifact{
		ID:          uuid.NewString(),
		Data:        buf.Bytes(),
		ContentType: ContentType,
		Width:       b.Dx(),
		Height:      b.Dy(),
		CapturedAt:  nowFunc().UTC(),
	}, nil
}

// Mirror flips src horizontally into a new RGBA image anchored at (0, 0).
func Mirror(src image.Image) *image.RGBA {
	b := src.Bounds()
	dst := image.NewRGBA(image.Rect(0, 0, b.Dx(), b.Dy()))
	// x' = (minX + w) - x, y' = y - minY
	s2d := f64.Aff3{
		-1, 0, float64(b.Min.X + b.Dx()),
		0, 1, float64(-b.Min.Y),
	}
	draw.NearestNeighbor.Transform(dst, s2d, src, b, draw.Src, nil)
	return dst
}
