//go:build camera

package camerasvc

import (
	"context"
	"image"
	"sync"
	"time"

	"github.com/pkg/errors"
	"gocv.io/x/gocv"

	"github.com/trezcool/checkin/core"
	"github.com/trezcool/checkin/core/detection"
)

// Res10 SSD input.
var (
	inputSize = image.Pt(300, 300)
	meanBGR   = gocv.NewScalar(104.0, 177.0, 123.0, 0)
)

// DNNDetector runs the Res10 SSD (Caffe) face model.
type DNNDetector struct {
	mu  sync.Mutex
	net gocv.Net
}

var _ detection.Detector = (*DNNDetector)(nil)

// LoadDetector loads the model files of conf. It is the init func of detection.Shared.
func LoadDetector(conf core.DetectionConfig) func(ctx context.Context) (detection.Detector, error) {
	return func(ctx context.Context) (detection.Detector, error) {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		net := gocv.ReadNetFromCaffe(conf.ConfigPath, conf.ModelPath)
		if net.Empty() {
			return nil, errors.Errorf("loading face model (config=%s, model=%s)", conf.ConfigPath, conf.ModelPath)
		}
		net.SetPreferableBackend(gocv.NetBackendDefault)
		net.SetPreferableTarget(gocv.NetTargetCPU)
		return &DNNDetector{net: net}, nil
	}
}

// Detect returns every candidate with its confidence; filtering is the caller's job.
// Res10 output is [1,1,N,7]: (image, class, confidence, x1, y1, x2, y2), coordinates normalized.
func (d *DNNDetector) Detect(frame image.Image, _ time.Duration) ([]detection.BoundingBox, error) {
	img, err := gocv.ImageToMatRGB(frame)
	if err != nil {
		return nil, errors.Wrap(err, "converting frame")
	}
	defer img.Close()

	d.mu.Lock()
	defer d.mu.Unlock()

	blob := gocv.BlobFromImage(img, 1.0, inputSize, meanBGR, false, false)
	defer blob.Close()
	d.net.SetInput(blob, "")
	dets := d.net.Forward("")
	defer dets.Close()
	if dets.Empty() || dets.Total() < 7 {
		return nil, nil
	}

	rows := dets.Total() / 7
	flat := dets.Reshape(1, rows)
	defer flat.Close()

	w, h := float64(img.Cols()), float64(img.Rows())
	boxes := make([]detection.BoundingBox, 0, rows)
	for i := 0; i < rows; i++ {
		x1 := clamp(float64(flat.GetFloatAt(i, 3))*w, 0, w)
		y1 := clamp(float64(flat.GetFloatAt(i, 4))*h, 0, h)
		x2 := clamp(float64(flat.GetFloatAt(i, 5))*w, x1, w)
		y2 := clamp(float64(flat.GetFloatAt(i, 6))*h, y1, h)
		boxes = append(boxes, detection.BoundingBox{
			X:          x1,
			Y:          y1,
			Width:      x2 - x1,
			Height:     y2 - y1,
			Confidence: float64(flat.GetFloatAt(i, 2)),
		})
	}
	return boxes, nil
}

func (d *DNNDetector) Close() error {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.net.Close()
}

func clamp(v, lo, hi float64) float64 {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}
