// Package checkin drives one kiosk check-in: open the camera, wait for a stable face,
// capture a photo and submit the attendance.
package checkin

import (
	"context"
	"sync"

	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"
	"github.com/pkg/errors"

	"github.com/trezcool/checkin/core"
	"github.com/trezcool/checkin/core/attendance"
	"github.com/trezcool/checkin/core/camera"
	"github.com/trezcool/checkin/core/capture"
	"github.com/trezcool/checkin/core/detection"
)

var (
	ErrClosed     = errors.New("check-in closed")
	ErrNotActive  = errors.New("no active camera session")
	ErrNoArtifact = errors.New("no captured photo to submit")
	ErrStopped    = errors.New("camera session stopped")
)

const subscriberBuffer = 16

// Surface is the video sink the session plays into, detects on and captures from.
type Surface interface {
	camera.Sink
	detection.FrameSource
	capture.Source
}

type (
	Deps struct {
		Host      camera.Host
		Device    camera.Device
		Sink      Surface
		Detectors *detection.Shared
		Scheduler detection.Scheduler
		Client    attendance.Client
		Validate  *validator.Validate
		Logger    core.Logger
	}

	Options struct {
		Constraints  camera.Constraints
		Threshold    float64
		StableFrames int
		Capture      capture.Options
		Submission   attendance.CoordinatorOptions
		Overlay      detection.Overlay
	}
)

// Session is the kiosk's camera session. One Session serves every check-in of a
// kiosk; each Start opens a new camera session, identified by a fresh ID.
type Session struct {
	host      camera.Host
	acquirer  *camera.Acquirer
	binder    camera.Binder
	sink      Surface
	detectors *detection.Shared
	sched     detection.Scheduler
	capturer  *capture.Capturer
	coord     *attendance.Coordinator
	validate  *validator.Validate
	logger    core.Logger
	opts      Options

	mu       sync.Mutex
	id       string
	state    State
	epoch    uint64 // bumped on every start and teardown; stale callbacks compare it
	checkin  uint64 // bumped on every Start; late submission results compare it
	resetFor uint64 // check-in whose post-submission reset is accepted
	loop     *detection.Loop
	det      detection.State
	identity attendance.Identity
	artifact *capture.Artifact
	outcome  *attendance.Outcome
	lastErr  error
	closed   bool
	subs     map[chan Snapshot]struct{}
}

func NewSession(deps Deps, opts Options) *Session {
	if opts.Constraints == (camera.Constraints{}) {
		opts.Constraints = camera.DefaultConstraints()
	}
	if opts.StableFrames <= 0 {
		opts.StableFrames = detection.DefaultStableFrames
	}
	if opts.Capture == (capture.Options{}) {
		opts.Capture = capture.DefaultOptions()
	}

	s := &Session{
		host:      deps.Host,
		acquirer:  camera.NewAcquirer(deps.Device, deps.Logger),
		sink:      deps.Sink,
		detectors: deps.Detectors,
		sched:     deps.Scheduler,
		validate:  deps.Validate,
		logger:    deps.Logger,
		opts:      opts,
		subs:      make(map[chan Snapshot]struct{}),
	}
	// capture always runs under s.mu
	s.capturer = capture.NewCapturer(opts.Capture, s.teardownLocked)

	subOpts := opts.Submission
	if subOpts.Logger == nil {
		subOpts.Logger = deps.Logger
	}
	onReset := subOpts.OnReset
	subOpts.OnReset = func() {
		s.clearSubmitted()
		if onReset != nil {
			onReset()
		}
	}
	s.coord = attendance.NewCoordinator(deps.Client, subOpts)
	return s
}

// Coordinator exposes records and stats of the backend.
func (s *Session) Coordinator() *attendance.Coordinator {
	return s.coord
}

// Start validates id then opens, binds and watches the camera.
// A running camera session is stopped first.
func (s *Session) Start(ctx context.Context, id attendance.Identity) error {
	if err := id.Validate(s.validate); err != nil {
		return err
	}

	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return ErrClosed
	}
	if s.state == Requesting {
		s.mu.Unlock()
		return camera.ErrAcquireInFlight
	}
	if s.state == Active {
		s.teardownLocked()
	}

	if !camera.CheckSupport(s.host) {
		s.failLocked(camera.ErrNotSupported)
		s.mu.Unlock()
		return camera.ErrNotSupported
	}
	s.mu.Unlock()

	det, err := s.detectors.Get(ctx)
	if err != nil {
		err = errors.Wrap(err, "loading face detector")
		s.logger.Error("starting check-in", err)
		s.mu.Lock()
		s.failLocked(err)
		s.mu.Unlock()
		return err
	}

	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return ErrClosed
	}
	if s.state == Requesting {
		s.mu.Unlock()
		return camera.ErrAcquireInFlight
	}
	if s.state == Active {
		s.teardownLocked()
	}
	s.epoch++
	epoch := s.epoch
	s.checkin++
	s.id = uuid.NewString()
	s.state = Requesting
	s.identity = id
	s.artifact = nil
	s.outcome = nil
	s.lastErr = nil
	s.det.Reset()
	s.coord.Cancel()
	s.publishLocked()
	s.mu.Unlock()

	stream, err := s.acquirer.Acquire(ctx, s.opts.Constraints)

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.epoch != epoch {
		camera.StopTracks(stream)
		return ErrStopped
	}
	if err != nil {
		s.failLocked(err)
		return err
	}

	s.mu.Unlock()
	err = s.binder.Bind(ctx, stream, s.sink)
	s.mu.Lock()
	if err != nil {
		// not owned by the binder when it refused the pair
		camera.StopTracks(stream)
	}
	if s.epoch != epoch {
		s.binder.Unbind()
		return ErrStopped
	}
	if err != nil {
		aErr := camera.Classify(err)
		s.logger.Warn("binding camera stream", err)
		s.failLocked(aErr)
		return aErr
	}

	s.loop = detection.NewLoop(det, s.sink, s.sched, detection.Options{
		Threshold:    s.opts.Threshold,
		StableFrames: s.opts.StableFrames,
		Logger:       s.logger,
		Overlay:      s.opts.Overlay,
		OnTick:       func(st detection.State) { s.onTick(epoch, st) },
		OnStable:     func() { s.onStable(epoch) },
	})
	s.state = Active
	if err := s.loop.Start(); err != nil {
		s.teardownLocked()
		s.state = Idle
		s.publishLocked()
		return errors.Wrap(err, "starting detection")
	}
	s.publishLocked()
	return nil
}

// failLocked records a failed start and returns to Idle.
func (s *Session) failLocked(err error) {
	s.state = Idle
	s.lastErr = err
	s.publishLocked()
}

// Stop tears the camera session down; see teardownLocked. Idempotent.
func (s *Session) Stop() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.teardownLocked()
	s.publishLocked()
}

// teardownLocked stops the loop, releases the stream and clears detection state
// as a single step.
func (s *Session) teardownLocked() {
	s.epoch++
	if s.loop != nil {
		s.loop.Stop()
		s.loop = nil
	}
	s.binder.Unbind()
	s.det.Reset()
	s.state = Closed
}

func (s *Session) onTick(epoch uint64, st detection.State) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.epoch != epoch || s.state != Active {
		return
	}
	s.det = st
	s.publishLocked()
}

func (s *Session) onStable(epoch uint64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.epoch != epoch || s.state != Active {
		return
	}
	if _, err := s.captureLocked(); err != nil {
		s.logger.Error("auto-capture", err, s.identity)
	}
}

// CaptureNow captures the current frame of the active camera session.
func (s *Session) CaptureNow() (capture.Artifact, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.state != Active {
		return capture.Artifact{}, ErrNotActive
	}
	return s.captureLocked()
}

func (s *Session) captureLocked() (capture.Artifact, error) {
	art, err := s.capturer.Capture(s.sink)
	if err != nil {
		s.lastErr = err
		s.publishLocked()
		return capture.Artifact{}, err
	}
	s.artifact = &art
	s.publishLocked()
	return art, nil
}

// Retake drops the captured photo and opens a new camera session for the same identity.
func (s *Session) Retake(ctx context.Context) error {
	s.mu.Lock()
	id := s.identity
	s.artifact = nil
	s.outcome = nil
	s.coord.Cancel()
	s.mu.Unlock()
	return s.Start(ctx, id)
}

// Submit sends the identity of the captured photo to the backend.
// The photo is kept unless the submission succeeds. When a new check-in starts
// while the request is in flight, the outcome is returned but not recorded.
func (s *Session) Submit(ctx context.Context) (attendance.Outcome, error) {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return attendance.Outcome{}, ErrClosed
	}
	if s.artifact == nil {
		s.mu.Unlock()
		return attendance.Outcome{}, ErrNoArtifact
	}
	id := s.identity
	checkin := s.checkin
	s.resetFor = checkin
	s.mu.Unlock()

	out := s.coord.Submit(ctx, id)

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.checkin != checkin {
		return out, nil
	}
	s.outcome = &out
	s.publishLocked()
	return out, nil
}

func (s *Session) clearSubmitted() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.resetFor != s.checkin {
		return
	}
	s.artifact = nil
	s.identity = attendance.Identity{}
	if s.state == Closed {
		s.state = Idle
		s.id = ""
	}
	s.publishLocked()
}

// Artifact returns the captured photo, if any.
func (s *Session) Artifact() (capture.Artifact, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.artifact == nil {
		return capture.Artifact{}, false
	}
	return *s.artifact, true
}

// Loop returns the detection loop of the active camera session, or nil.
func (s *Session) Loop() *detection.Loop {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.loop
}

func (s *Session) Snapshot() Snapshot {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.snapshotLocked()
}

func (s *Session) snapshotLocked() Snapshot {
	st := s.det.Copy()
	snap := Snapshot{
		ID:               s.id,
		State:            s.state,
		Loading:          s.acquirer.Loading(),
		Submitting:       s.coord.Submitting(),
		FaceDetected:     st.FaceDetected,
		StableFrameCount: st.StableFrameCount,
		StableFrames:     s.opts.StableFrames,
		Boxes:            st.Boxes,
		Identity:         s.identity,
	}
	if s.artifact != nil {
		art := *s.artifact
		snap.Artifact = &art
	}
	if s.outcome != nil {
		out := *s.outcome
		snap.Outcome = &out
	}
	if s.lastErr != nil {
		snap.Error = s.lastErr.Error()
		var aErr *camera.AcquisitionError
		if errors.As(s.lastErr, &aErr) {
			snap.ErrorCategory = aErr.Category.String()
		}
	}
	return snap
}

// Subscribe returns a channel of snapshots, sent on every change. Slow
// subscribers miss snapshots. The channel is closed by cancel or Close.
func (s *Session) Subscribe() (<-chan Snapshot, func()) {
	ch := make(chan Snapshot, subscriberBuffer)
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		close(ch)
		return ch, func() {}
	}
	s.subs[ch] = struct{}{}
	var once sync.Once
	return ch, func() {
		once.Do(func() {
			s.mu.Lock()
			defer s.mu.Unlock()
			if _, ok := s.subs[ch]; ok {
				delete(s.subs, ch)
				close(ch)
			}
		})
	}
}

func (s *Session) publishLocked() {
	if len(s.subs) == 0 {
		return
	}
	snap := s.snapshotLocked()
	for ch := range s.subs {
		select {
		case ch <- snap:
		default:
		}
	}
}

// Close ends the component: the camera session is torn down, the pending
// post-submission reset is dropped and subscribers are released. Idempotent.
func (s *Session) Close() {
	s.coord.Cancel()

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return
	}
	s.teardownLocked()
	s.closed = true
	for ch := range s.subs {
		delete(s.subs, ch)
		close(ch)
	}
}
