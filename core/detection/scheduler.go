package detection

import (
	"sync"
	"time"
)

// Cancel deregisters a scheduled callback. Calling it after the callback ran is a no-op.
type Cancel func()

// Scheduler is the host's "run this on the next frame" capability.
type Scheduler interface {
	Schedule(fn func()) Cancel
}

// FrameTicker schedules callbacks one frame interval ahead, in real time.
type FrameTicker struct {
	interval time.Duration
}

// NewFrameTicker returns a scheduler pacing callbacks at fps (30 when fps <= 0).
func NewFrameTicker(fps int) *FrameTicker {
	if fps <= 0 {
		fps = 30
	}
	return &FrameTicker{interval: time.Second / time.Duration(fps)}
}

func (t *FrameTicker) Interval() time.Duration {
	return t.interval
}

func (t *FrameTicker) Schedule(fn func()) Cancel {
	var once sync.Once
	timer := time.AfterFunc(t.interval, fn)
	return func() {
		once.Do(func() { timer.Stop() })
	}
}
