package camera

import (
	"context"
	"sync"

	"github.com/pkg/errors"
)

// Binder attaches one stream to one sink and owns both until Unbind.
type Binder struct {
	mu     sync.Mutex
	stream Stream
	sink   Sink
}

// Bind attaches stream to sink and returns once playback is running.
// Binding the pair that is already bound is a no-op; binding a different pair
// releases the previous one first. On failure everything is released.
func (b *Binder) Bind(ctx context.Context, stream Stream, sink Sink) error {
	if stream == nil || sink == nil {
		StopTracks(stream)
		return errors.New("binding camera: nil stream or sink")
	}

	b.mu.Lock()
	defer b.mu.Unlock()

	if b.stream == stream && b.sink == sink && sink.Source() == stream {
		if sink.Playing() {
			return nil
		}
		if err := sink.Play(ctx); err != nil {
			b.unbindLocked()
			return errors.Wrap(err, "resuming playback")
		}
		return nil
	}

	if b.stream != nil || b.sink != nil {
		b.unbindLocked()
	}
	if src := sink.Source(); src != nil && src != stream {
		StopTracks(stream)
		return ErrSinkBusy
	}

	b.stream, b.sink = stream, sink
	if err := sink.Attach(stream); err != nil {
		b.unbindLocked()
		return errors.Wrap(err, "attaching stream")
	}
	if err := sink.Play(ctx); err != nil {
		b.unbindLocked()
		return errors.Wrap(err, "starting playback")
	}
	return nil
}

// Unbind detaches the sink and stops every track. Safe to call any number of times.
func (b *Binder) Unbind() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.unbindLocked()
}

// Bound reports whether a stream is currently attached.
func (b *Binder) Bound() bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.stream != nil
}

func (b *Binder) unbindLocked() {
	if b.sink != nil {
		b.sink.Detach()
	}
	StopTracks(b.stream)
	b.stream, b.sink = nil, nil
}
