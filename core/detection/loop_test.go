package detection_test

import (
	"context"
	"errors"
	"image"
	"image/color"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	. "github.com/trezcool/checkin/core/detection"
	"github.com/trezcool/checkin/testutil"
)

type loopFixture struct {
	sched   *testutil.Scheduler
	det     *testutil.Detector
	src     *testutil.FrameSource
	logger  *testutil.Logger
	overlay *RasterOverlay
	stable  int
	ticks   []State
	loop    *Loop
}

func newLoopFixture(script ...bool) *loopFixture {
	f := &loopFixture{
		sched:   new(testutil.Scheduler),
		det:     testutil.NewDetector(script...),
		src:     testutil.NewFrameSource(640, 480),
		logger:  new(testutil.Logger),
		overlay: NewRasterOverlay(),
	}
	f.loop = NewLoop(f.det, f.src, f.sched, Options{
		Logger:   f.logger,
		Overlay:  f.overlay,
		OnTick:   func(s State) { f.ticks = append(f.ticks, s) },
		OnStable: func() { f.stable++ },
	})
	return f
}

func TestLoop_autoCapture(t *testing.T) {
	f := newLoopFixture()
	f.det.Default = true
	require.NoError(t, f.loop.Start())

	f.sched.TickN(44)
	assert.Equal(t, 0, f.stable)
	assert.Equal(t, 44, f.loop.State().StableFrameCount)

	f.sched.Tick()
	assert.Equal(t, 1, f.stable, "OnStable must fire when the count reaches 45")
	assert.False(t, f.loop.Running())
	assert.Equal(t, 0, f.sched.Pending(), "loop must not reschedule after capture")

	// more frames never fire it again
	assert.Equal(t, 0, f.sched.TickN(10))
	assert.Equal(t, 1, f.stable)
	assert.Equal(t, 45, f.det.Calls())
}

func TestLoop_interruptedPresence(t *testing.T) {
	script := make([]bool, 0, 31)
	for i := 0; i < 10; i++ {
		script = append(script, true)
	}
	script = append(script, false)
	for i := 0; i < 20; i++ {
		script = append(script, true)
	}
	f := newLoopFixture(script...)
	require.NoError(t, f.loop.Start())

	f.sched.TickN(len(script))
	require.Len(t, f.ticks, 31)
	assert.Equal(t, 10, f.ticks[9].StableFrameCount)
	assert.Equal(t, 0, f.ticks[10].StableFrameCount)
	assert.False(t, f.ticks[10].FaceDetected)
	assert.Equal(t, 20, f.ticks[30].StableFrameCount)
	assert.Equal(t, 0, f.stable)
	assert.True(t, f.loop.Running())

	// continuing the run to 45 triggers the capture
	f.det.Default = true
	f.sched.TickN(25)
	assert.Equal(t, 1, f.stable)
}

func TestLoop_noNewFrame(t *testing.T) {
	f := newLoopFixture()
	f.det.Default = true
	f.src.Starve(true)
	require.NoError(t, f.loop.Start())

	f.sched.TickN(5)
	assert.Equal(t, 0, f.det.Calls(), "detection must not run without a new frame")
	assert.Equal(t, 1, f.sched.Pending(), "loop must reschedule itself")
	assert.Empty(t, f.ticks)

	f.src.Starve(false)
	f.sched.Tick()
	assert.Equal(t, 1, f.det.Calls())
	assert.Equal(t, 1, f.loop.State().StableFrameCount)
}

func TestLoop_detectionError(t *testing.T) {
	f := newLoopFixture(true, true, true)
	require.NoError(t, f.loop.Start())
	f.sched.TickN(3)
	require.Equal(t, 3, f.loop.State().StableFrameCount)

	f.det.Err = errors.New("inference exploded")
	f.sched.Tick()

	st := f.loop.State()
	assert.False(t, st.FaceDetected)
	assert.Equal(t, 0, st.StableFrameCount)
	assert.True(t, f.loop.Running(), "a failing frame is not fatal")
	assert.Equal(t, 1, f.sched.Pending())

	warns := f.logger.Entries("warn")
	require.Len(t, warns, 1)
	require.Len(t, warns[0].Args, 1)
	var frameErr *FrameError
	require.True(t, errors.As(warns[0].Args[0].(error), &frameErr))
	assert.EqualError(t, frameErr.Err, "inference exploded")
}

func TestLoop_threshold(t *testing.T) {
	sched := new(testutil.Scheduler)
	var conf atomic.Value
	conf.Store(0.4)
	det := DetectorFunc(func(frame image.Image, _ time.Duration) ([]BoundingBox, error) {
		return []BoundingBox{{X: 1, Y: 1, Width: 10, Height: 10, Confidence: conf.Load().(float64)}}, nil
	})
	loop := NewLoop(det, testutil.NewFrameSource(64, 64), sched, Options{})
	require.NoError(t, loop.Start())

	sched.Tick()
	assert.False(t, loop.State().FaceDetected, "boxes below 0.5 are ignored")

	conf.Store(0.5)
	sched.Tick()
	assert.True(t, loop.State().FaceDetected)
}

func TestLoop_StartStop(t *testing.T) {
	f := newLoopFixture()
	f.det.Default = true

	require.NoError(t, f.loop.Start())
	assert.Equal(t, ErrLoopRunning, f.loop.Start())
	f.sched.TickN(3)

	f.loop.Stop()
	assert.False(t, f.loop.Running())
	assert.False(t, f.loop.Pending())
	assert.Equal(t, 0, f.sched.Pending())
	assert.Equal(t, State{}, f.loop.State())

	// idempotent & irrevocable
	f.loop.Stop()
	assert.Equal(t, ErrLoopStopped, f.loop.Start())
	assert.Equal(t, 0, f.sched.TickN(3))
	assert.Equal(t, 3, f.det.Calls())
}

func TestLoop_overlay(t *testing.T) {
	f := newLoopFixture(true, false)
	require.NoError(t, f.loop.Start())
	assert.Equal(t, image.Rect(0, 0, 640, 480), f.overlay.Bounds(), "overlay is sized like the video")

	f.sched.Tick()
	// testutil.Detector puts the face at (w/4, h/4)
	_, _, _, a := f.overlay.At(160, 120).RGBA()
	assert.NotZero(t, a, "box corner must be drawn")

	f.sched.Tick()
	_, _, _, a = f.overlay.At(160, 120).RGBA()
	assert.Zero(t, a, "overlay must be cleared without faces")
}

func TestFrameTicker(t *testing.T) {
	ticker := NewFrameTicker(1000)
	assert.Equal(t, time.Millisecond, ticker.Interval())
	assert.Equal(t, time.Second/30, NewFrameTicker(0).Interval())

	done := make(chan struct{})
	ticker.Schedule(func() { close(done) })
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("scheduled callback never ran")
	}

	var ran atomic.Bool
	cancel := ticker.Schedule(func() { ran.Store(true) })
	cancel()
	cancel()
	time.Sleep(20 * time.Millisecond)
	assert.False(t, ran.Load())
}

func TestShared_Get(t *testing.T) {
	var inits atomic.Int32
	det := testutil.NewDetector()
	shared := NewShared(func(ctx context.Context) (Detector, error) {
		inits.Add(1)
		time.Sleep(10 * time.Millisecond)
		return det, nil
	})
	assert.False(t, shared.Ready())

	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			got, err := shared.Get(context.Background())
			assert.NoError(t, err)
			assert.Same(t, det, got)
		}()
	}
	wg.Wait()

	assert.True(t, shared.Ready())
	assert.EqualValues(t, 1, inits.Load(), "detector must be initialized once")

	_, _ = shared.Get(context.Background())
	assert.EqualValues(t, 1, inits.Load())
}

func TestShared_Get_retry(t *testing.T) {
	var calls int
	shared := NewShared(func(ctx context.Context) (Detector, error) {
		calls++
		if calls == 1 {
			return nil, errors.New("model missing")
		}
		return testutil.NewDetector(), nil
	})

	_, err := shared.Get(context.Background())
	assert.Error(t, err)
	assert.False(t, shared.Ready())

	_, err = shared.Get(context.Background())
	assert.NoError(t, err)
	assert.True(t, shared.Ready())
	assert.Equal(t, 2, calls)
}

func TestRasterOverlay(t *testing.T) {
	ov := NewRasterOverlay()
	ov.Resize(200, 100)
	assert.Equal(t, image.Rect(0, 0, 200, 100), ov.Bounds())

	ov.Draw([]BoundingBox{{X: 50, Y: 40, Width: 60, Height: 50, Confidence: 0.87}})
	// box border
	assert.NotEqual(t, color.RGBA{}, ov.At(80, 40))
	// inside the box stays transparent
	assert.Equal(t, color.RGBA{}, ov.At(80, 70))

	// out of bounds boxes are skipped
	ov.Draw([]BoundingBox{{X: 500, Y: 500, Width: 10, Height: 10, Confidence: 0.9}})
	assert.Equal(t, color.RGBA{}, ov.At(80, 40))

	ov.Draw([]BoundingBox{{X: 50, Y: 40, Width: 60, Height: 50, Confidence: 0.87}})
	ov.Clear()
	assert.Equal(t, color.RGBA{}, ov.At(80, 40))
}
