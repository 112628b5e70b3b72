//go:build camera

package camerasvc

import (
	"context"
	"fmt"
	"image"
	"os"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/pkg/errors"
	"gocv.io/x/gocv"

	"github.com/trezcool/checkin/core"
	"github.com/trezcool/checkin/core/camera"
)

const maxReadFailures = 30

var devicePath = func(id int) string { return fmt.Sprintf("/dev/video%d", id) } // mockable

// Host reports camera support; this build links OpenCV.
type Host struct{}

func (Host) Supported() bool { return true }

// Device opens a V4L2 camera through OpenCV.
type Device struct {
	id     int
	fps    int
	logger core.Logger
}

var _ camera.Device = (*Device)(nil)

func NewDevice(conf core.CameraConfig, logger core.Logger) *Device {
	return &Device{id: conf.DeviceID, fps: conf.FPS, logger: logger}
}

func (d *Device) probe() error {
	f, err := os.OpenFile(devicePath(d.id), os.O_RDWR, 0)
	if err != nil {
		switch {
		case os.IsNotExist(err):
			return errors.Wrapf(camera.ErrNoDevice, "probing %s", devicePath(d.id))
		case os.IsPermission(err):
			return errors.Wrapf(camera.ErrPermissionDenied, "probing %s", devicePath(d.id))
		}
		return errors.Wrapf(err, "probing %s", devicePath(d.id))
	}
	return f.Close()
}

// Open opens the device and starts decoding frames. The front/back facing
// hint has no meaning for a single V4L2 node and is ignored.
func (d *Device) Open(ctx context.Context, c camera.Constraints) (camera.Stream, error) {
	if err := d.probe(); err != nil {
		return nil, err
	}

	type result struct {
		vc  *gocv.VideoCapture
		err error
	}
	done := make(chan result, 1)
	go func() {
		vc, err := gocv.OpenVideoCapture(d.id)
		if err == nil && !vc.IsOpened() {
			_ = vc.Close()
			vc, err = nil, errors.New("capture not opened")
		}
		done <- result{vc, err}
	}()

	var vc *gocv.VideoCapture
	select {
	case <-ctx.Done():
		go func() {
			// the open finishes eventually; release it
			if res := <-done; res.vc != nil {
				_ = res.vc.Close()
			}
		}()
		return nil, ctx.Err()
	case res := <-done:
		if res.err != nil {
			return nil, errors.Wrapf(camera.ErrDeviceBusy, "opening %s: %v", devicePath(d.id), res.err)
		}
		vc = res.vc
	}

	width, height := c.Width.Exact, c.Height.Exact
	if width == 0 {
		width = c.Width.Ideal
	}
	if height == 0 {
		height = c.Height.Ideal
	}
	if width > 0 {
		vc.Set(gocv.VideoCaptureFrameWidth, float64(width))
	}
	if height > 0 {
		vc.Set(gocv.VideoCaptureFrameHeight, float64(height))
	}
	if d.fps > 0 {
		vc.Set(gocv.VideoCaptureFPS, float64(d.fps))
	}

	s := &deviceStream{
		id:     uuid.NewString(),
		vc:     vc,
		width:  int(vc.Get(gocv.VideoCaptureFrameWidth)),
		height: int(vc.Get(gocv.VideoCaptureFrameHeight)),
		logger: d.logger,
		stop:   make(chan struct{}),
	}
	s.track = &deviceTrack{id: s.id + "/video", stream: s}
	go s.read()
	return s, nil
}

type deviceTrack struct {
	id     string
	stream *deviceStream
}

func (t *deviceTrack) ID() string { return t.id }
func (t *deviceTrack) Kind() string { return "video" }
func (t *deviceTrack) Live() bool { return !t.stream.stopped.Load() }
func (t *deviceTrack) Stop() { t.stream.close() }

type deviceStream struct {
	id     string
	vc     *gocv.VideoCapture
	width  int
	height int
	track  *deviceTrack
	logger core.Logger

	stop     chan struct{}
	stopOnce sync.Once
	stopped  atomic.Bool

	mu     sync.Mutex
	latest image.Image
	seq    uint64
}

func (s *deviceStream) ID() string { return s.id }
func (s *deviceStream) Tracks() []camera.Track { return []camera.Track{s.track} }
func (s *deviceStream) Settings() (width, height int) { return s.width, s.height }

func (s *deviceStream) Latest() (image.Image, uint64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.stopped.Load() {
		return nil, s.seq
	}
	return s.latest, s.seq
}

func (s *deviceStream) close() {
	s.stopOnce.Do(func() {
		s.stopped.Store(true)
		close(s.stop)
	})
}

// read decodes frames until the track is stopped; it owns the capture.
func (s *deviceStream) read() {
	mat := gocv.NewMat()
	defer func() {
		_ = mat.Close()
		_ = s.vc.Close()
		s.mu.Lock()
		s.latest = nil
		s.mu.Unlock()
	}()

	var failures int
	for {
		select {
		case <-s.stop:
			return
		default:
		}

		if ok := s.vc.Read(&mat); !ok || mat.Empty() {
			failures++
			if failures == maxReadFailures {
				s.logger.Warn(fmt.Sprintf("camera stream %s: no frame after %d reads", s.id, failures))
			}
			time.Sleep(pollInterval)
			continue
		}
		failures = 0

		img, err := mat.ToImage()
		if err != nil {
			s.logger.Warn("decoding camera frame", err)
			continue
		}
		s.mu.Lock()
		s.latest = img
		s.seq++
		s.mu.Unlock()
	}
}
