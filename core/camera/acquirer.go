package camera

import (
	"context"
	"sync"

	"github.com/trezcool/checkin/core"
)

// Acquirer requests streams from a Device and classifies failures.
// Only one acquisition may be in flight at a time.
type Acquirer struct {
	device Device
	logger core.Logger

	mu      sync.Mutex
	loading bool
}

func NewAcquirer(device Device, logger core.Logger) *Acquirer {
	return &Acquirer{device: device, logger: logger}
}

// Loading is true while an acquisition is in flight.
func (a *Acquirer) Loading() bool {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.loading
}

// Acquire opens a stream matching c. On failure the error is an *AcquisitionError,
// except for ErrAcquireInFlight which rejects re-entrant calls.
func (a *Acquirer) Acquire(ctx context.Context, c Constraints) (Stream, error) {
	a.mu.Lock()
	if a.loading {
		a.mu.Unlock()
		return nil, ErrAcquireInFlight
	}
	a.loading = true
	a.mu.Unlock()

	defer func() {
		a.mu.Lock()
		a.loading = false
		a.mu.Unlock()
	}()

	if a.device == nil {
		return nil, a.fail(ErrNoDevice)
	}
	if err := ctx.Err(); err != nil {
		return nil, a.fail(err)
	}

	stream, err := a.device.Open(ctx, c)
	if err != nil {
		return nil, a.fail(err)
	}
	// the caller gave up while the device was answering
	if err := ctx.Err(); err != nil {
		StopTracks(stream)
		return nil, a.fail(err)
	}
	if w, h := stream.Settings(); !c.Satisfied(w, h) {
		StopTracks(stream)
		return nil, a.fail(ErrOverconstrained)
	}
	return stream, nil
}

func (a *Acquirer) fail(err error) *AcquisitionError {
	aErr := Classify(err)
	if a.logger != nil {
		a.logger.Warn("acquiring camera stream", aErr.Err, map[string]interface{}{"category": aErr.Category.String()})
	}
	return aErr
}
