package testutil

import (
	"image"
	"sync"
	"time"

	"github.com/trezcool/checkin/core/detection"
)

// Scheduler is a manual detection.Scheduler: callbacks only run on Tick.
type Scheduler struct {
	mu      sync.Mutex
	pending []*scheduled
}

type scheduled struct {
	fn        func()
	cancelled bool
}

func (s *Scheduler) Schedule(fn func()) detection.Cancel {
	s.mu.Lock()
	defer s.mu.Unlock()
	item := &scheduled{fn: fn}
	s.pending = append(s.pending, item)
	return func() {
		s.mu.Lock()
		defer s.mu.Unlock()
		item.cancelled = true
	}
}

// Pending counts scheduled callbacks that were not cancelled.
func (s *Scheduler) Pending() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	var n int
	for _, item := range s.pending {
		if !item.cancelled {
			n++
		}
	}
	return n
}

// Tick runs the callbacks scheduled so far (one simulated frame).
// It returns false when nothing was pending.
func (s *Scheduler) Tick() bool {
	s.mu.Lock()
	items := s.pending
	s.pending = nil
	s.mu.Unlock()

	var ran bool
	for _, item := range items {
		s.mu.Lock()
		cancelled := item.cancelled
		s.mu.Unlock()
		if !cancelled {
			item.fn()
			ran = true
		}
	}
	return ran
}

// TickN calls Tick n times and returns how many ticks ran something.
func (s *Scheduler) TickN(n int) int {
	var ran int
	for i := 0; i < n; i++ {
		if s.Tick() {
			ran++
		}
	}
	return ran
}

// Detector returns scripted results: one face for true, none for false.
// Once the script is exhausted it keeps returning Default.
type Detector struct {
	Default bool
	Err     error // returned instead of results when set

	mu     sync.Mutex
	script []bool
	calls  int
}

func NewDetector(script ...bool) *Detector {
	return &Detector{script: script}
}

// Script appends results to the script.
func (d *Detector) Script(results ...bool) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.script = append(d.script, results...)
}

func (d *Detector) Calls() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.calls
}

func (d *Detector) Detect(frame image.Image, ts time.Duration) ([]detection.BoundingBox, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.calls++
	if d.Err != nil {
		return nil, d.Err
	}
	face := d.Default
	if len(d.script) > 0 {
		face = d.script[0]
		d.script = d.script[1:]
	}
	if !face {
		return nil, nil
	}
	b := frame.Bounds()
	return []detection.BoundingBox{{
		X:          float64(b.Dx()) / 4,
		Y:          float64(b.Dy()) / 4,
		Width:      float64(b.Dx()) / 2,
		Height:     float64(b.Dy()) / 2,
		Confidence: 0.9,
	}}, nil
}

// FrameSource hands out a fresh frame on every call unless Starved.
type FrameSource struct {
	Width, Height int

	mu      sync.Mutex
	starved bool
	frames  int
}

func NewFrameSource(w, h int) *FrameSource {
	return &FrameSource{Width: w, Height: h}
}

func (f *FrameSource) Starve(starved bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.starved = starved
}

func (f *FrameSource) NextFrame() (image.Image, bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.starved {
		return nil, false
	}
	f.frames++
	return image.NewRGBA(image.Rect(0, 0, f.Width, f.Height)), true
}

func (f *FrameSource) Current() (image.Image, bool) {
	return image.NewRGBA(image.Rect(0, 0, f.Width, f.Height)), true
}

func (f *FrameSource) Size() (int, int) {
	return f.Width, f.Height
}
