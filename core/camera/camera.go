// Package camera holds the host-agnostic half of the camera flow: capability check,
// stream acquisition with failure classification, and binding a stream to a video sink.
package camera

import (
	"context"

	"github.com/pkg/errors"
)

const (
	FacingUser        = "user"
	FacingEnvironment = "environment"

	DefaultWidth  = 1280
	DefaultHeight = 720
)

var (
	ErrNotSupported    = errors.New("Camera Not Supported")
	ErrAcquireInFlight = errors.New("camera acquisition already in progress")
	ErrSinkBusy        = errors.New("video sink is bound to another stream")
)

type (
	// Host reports whether the runtime exposes camera access at all.
	Host interface {
		Supported() bool
	}

	// Range is a resolution constraint. A zero Exact means "no hard requirement".
	Range struct {
		Ideal int `json:"ideal,omitempty"`
		Exact int `json:"exact,omitempty"`
	}

	Constraints struct {
		Facing string `json:"facingMode"`
		Width  Range  `json:"width"`
		Height Range  `json:"height"`
		Audio  bool   `json:"audio"`
	}

	Track interface {
		ID() string
		Kind() string // "video" | "audio"
		Stop()
		Live() bool
	}

	Stream interface {
		ID() string
		Tracks() []Track
		// Settings returns the resolution the device actually delivers.
		Settings() (width, height int)
	}

	// Device opens streams. Implementations suspend until the hardware (or the user) answers.
	Device interface {
		Open(ctx context.Context, c Constraints) (Stream, error)
	}

	// Sink is a renderable video surface a stream gets attached to.
	Sink interface {
		Attach(s Stream) error
		// Play blocks until playback is actively running.
		Play(ctx context.Context) error
		Playing() bool
		Detach()
		Source() Stream
	}
)

// HostFunc adapts a plain func to a Host.
type HostFunc func() bool

func (f HostFunc) Supported() bool { return f() }

// CheckSupport is the capability gate: a nil host never supports cameras.
func CheckSupport(h Host) bool {
	return h != nil && h.Supported()
}

// DefaultConstraints returns a front-facing, 1280x720 (ideal), video-only request.
func DefaultConstraints() Constraints {
	return Constraints{
		Facing: FacingUser,
		Width:  Range{Ideal: DefaultWidth},
		Height: Range{Ideal: DefaultHeight},
	}
}

// Satisfied reports whether a delivered resolution honours the exact constraints.
func (c Constraints) Satisfied(width, height int) bool {
	if c.Width.Exact > 0 && c.Width.Exact != width {
		return false
	}
	if c.Height.Exact > 0 && c.Height.Exact != height {
		return false
	}
	return true
}

// StopTracks stops every track of s. A nil stream is ignored.
func StopTracks(s Stream) {
	if s == nil {
		return
	}
	for _, t := range s.Tracks() {
		t.Stop()
	}
}

// LiveTracks counts the tracks of s that have not been stopped yet.
func LiveTracks(s Stream) int {
	if s == nil {
		return 0
	}
	var n int
	for _, t := range s.Tracks() {
		if t.Live() {
			n++
		}
	}
	return n
}
