//go:build !camera

package camerasvc

import (
	"context"

	"github.com/pkg/errors"

	"github.com/trezcool/checkin/core"
	"github.com/trezcool/checkin/core/camera"
	"github.com/trezcool/checkin/core/detection"
)

var errNoCameraBuild = errors.New("built without camera support (build tag \"camera\")")

// Host reports no camera support: this build does not link OpenCV.
type Host struct{}

func (Host) Supported() bool { return false }

type Device struct{}

var _ camera.Device = (*Device)(nil)

func NewDevice(core.CameraConfig, core.Logger) *Device {
	return new(Device)
}

func (*Device) Open(context.Context, camera.Constraints) (camera.Stream, error) {
	return nil, errors.Wrap(camera.ErrNoDevice, errNoCameraBuild.Error())
}

func LoadDetector(core.DetectionConfig) func(ctx context.Context) (detection.Detector, error) {
	return func(context.Context) (detection.Detector, error) {
		return nil, errNoCameraBuild
	}
}
