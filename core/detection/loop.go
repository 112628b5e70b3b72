package detection

import (
	"image"
	"sync"
	"time"

	"github.com/pkg/errors"

	"github.com/trezcool/checkin/core"
)

var (
	ErrLoopRunning = errors.New("detection loop already running")
	ErrLoopStopped = errors.New("detection loop stopped")

	nowFunc = time.Now // mockable
)

// FrameSource is the video sink seen from the detection side.
type FrameSource interface {
	// NextFrame returns the newest decodable frame, or false if none arrived since the last call.
	NextFrame() (image.Image, bool)
	Size() (width, height int)
}

type Options struct {
	Threshold    float64 // default 0.5
	StableFrames int     // default 45
	Logger       core.Logger
	Overlay      Overlay

	// OnTick receives the state after every processed frame.
	OnTick func(State)
	// OnStable is called once, when StableFrameCount first reaches StableFrames.
	OnStable func()
}

// Loop re-schedules itself once per frame until stopped or until presence is stable.
// A Loop serves a single session: once stopped it cannot be restarted.
type Loop struct {
	detector Detector
	source   FrameSource
	sched    Scheduler
	opts     Options

	mu      sync.Mutex
	running bool
	stopped bool
	fired   bool
	cancel  Cancel
	started time.Time
	state   State
}

func NewLoop(detector Detector, source FrameSource, sched Scheduler, opts Options) *Loop {
	if opts.Threshold <= 0 {
		opts.Threshold = DefaultThreshold
	}
	if opts.StableFrames <= 0 {
		opts.StableFrames = DefaultStableFrames
	}
	return &Loop{
		detector: detector,
		source:   source,
		sched:    sched,
		opts:     opts,
	}
}

func (l *Loop) Start() error {
	l.mu.Lock()
	defer l.mu.Unlock()

	if l.stopped {
		return ErrLoopStopped
	}
	if l.running {
		return ErrLoopRunning
	}
	l.running = true
	l.started = nowFunc()
	l.state.Reset()
	if l.opts.Overlay != nil {
		l.opts.Overlay.Resize(l.source.Size())
		l.opts.Overlay.Clear()
	}
	l.cancel = l.sched.Schedule(l.tick)
	return nil
}

// Stop deregisters the pending iteration and clears the state. Idempotent.
// When Stop returns no iteration is running or will run.
func (l *Loop) Stop() {
	l.mu.Lock()
	defer l.mu.Unlock()

	l.stopped = true
	l.running = false
	if l.cancel != nil {
		l.cancel()
		l.cancel = nil
	}
	l.state.Reset()
	if l.opts.Overlay != nil {
		l.opts.Overlay.Clear()
	}
}

func (l *Loop) Running() bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.running
}

// Pending reports whether an iteration is scheduled.
func (l *Loop) Pending() bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.cancel != nil
}

func (l *Loop) State() State {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.state.Copy()
}

func (l *Loop) tick() {
	l.mu.Lock()
	l.cancel = nil
	if !l.running {
		l.mu.Unlock()
		return
	}

	frame, ok := l.source.NextFrame()
	if !ok {
		l.cancel = l.sched.Schedule(l.tick)
		l.mu.Unlock()
		return
	}

	ts := nowFunc().Sub(l.started)
	boxes, err := l.detector.Detect(frame, ts)
	if err != nil {
		if l.opts.Logger != nil {
			l.opts.Logger.Warn("face detection failed, frame skipped", &FrameError{TS: ts, Err: err})
		}
		boxes = nil
	}
	boxes = FilterByConfidence(boxes, l.opts.Threshold)
	l.state.Observe(boxes)

	if ov := l.opts.Overlay; ov != nil {
		if len(boxes) > 0 {
			ov.Draw(boxes)
		} else {
			ov.Clear()
		}
	}

	state := l.state.Copy()
	stable := !l.fired && state.StableFrameCount >= l.opts.StableFrames
	if stable {
		l.fired = true
		l.running = false
	} else {
		l.cancel = l.sched.Schedule(l.tick)
	}
	onTick, onStable := l.opts.OnTick, l.opts.OnStable
	l.mu.Unlock()

	if onTick != nil {
		onTick(state)
	}
	if stable && onStable != nil {
		onStable()
	}
}
