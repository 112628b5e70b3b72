package detection

import (
	"fmt"
	"image"
	"image/color"
	"image/png"
	"io"
	"sync"

	"github.com/pkg/errors"
	"golang.org/x/image/draw"
	"golang.org/x/image/font"
	"golang.org/x/image/font/basicfont"
	"golang.org/x/image/math/fixed"
)

// Overlay is the drawing surface laid over the live preview.
type Overlay interface {
	Resize(width, height int)
	Clear()
	Draw(boxes []BoundingBox)
}

var (
	boxColor    = color.RGBA{R: 0x22, G: 0xc5, B: 0x5e, A: 0xff}
	accentColor = color.RGBA{R: 0x3b, G: 0x82, B: 0xf6, A: 0xff}
	labelColor  = color.RGBA{R: 0xff, G: 0xff, B: 0xff, A: 0xff}
	labelBg     = color.RGBA{R: 0x22, G: 0xc5, B: 0x5e, A: 0xcc}
)

const (
	boxStroke    = 2
	accentStroke = 4
	accentLength = 20
)

// RasterOverlay renders boxes into a transparent RGBA image sized like the video.
type RasterOverlay struct {
	mu  sync.RWMutex
	img *image.RGBA
}

func NewRasterOverlay() *RasterOverlay {
	return &RasterOverlay{img: image.NewRGBA(image.Rect(0, 0, 1, 1))}
}

func (o *RasterOverlay) Resize(width, height int) {
	if width <= 0 || height <= 0 {
		return
	}
	o.mu.Lock()
	defer o.mu.Unlock()
	if b := o.img.Bounds(); b.Dx() == width && b.Dy() == height {
		return
	}
	o.img = image.NewRGBA(image.Rect(0, 0, width, height))
}

func (o *RasterOverlay) Clear() {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.clearLocked()
}

func (o *RasterOverlay) clearLocked() {
	draw.Draw(o.img, o.img.Bounds(), image.Transparent, image.Point{}, draw.Src)
}

// Draw replaces the overlay content with one decorated rectangle per box.
func (o *RasterOverlay) Draw(boxes []BoundingBox) {
	o.mu.Lock()
	defer o.mu.Unlock()

	o.clearLocked()
	for _, b := range boxes {
		r := b.Rect().Intersect(o.img.Bounds())
		if r.Empty() {
			continue
		}
		strokeRect(o.img, r, boxStroke, boxColor)
		drawCorners(o.img, r, accentColor)
		drawLabel(o.img, r, fmt.Sprintf("Face %d%%", int(b.Confidence*100+0.5)))
	}
}

// Bounds returns the current overlay size.
func (o *RasterOverlay) Bounds() image.Rectangle {
	o.mu.RLock()
	defer o.mu.RUnlock()
	return o.img.Bounds()
}

// At returns the color of one overlay pixel.
func (o *RasterOverlay) At(x, y int) color.Color {
	o.mu.RLock()
	defer o.mu.RUnlock()
	return o.img.At(x, y)
}

// EncodePNG writes the overlay as a PNG with alpha.
func (o *RasterOverlay) EncodePNG(w io.Writer) error {
	o.mu.RLock()
	defer o.mu.RUnlock()
	return errors.Wrap(png.Encode(w, o.img), "encoding overlay")
}

func fill(dst *image.RGBA, r image.Rectangle, c color.Color) {
	draw.Draw(dst, r.Intersect(dst.Bounds()), image.NewUniform(c), image.Point{}, draw.Over)
}

func strokeRect(dst *image.RGBA, r image.Rectangle, w int, c color.Color) {
	fill(dst, image.Rect(r.Min.X, r.Min.Y, r.Max.X, r.Min.Y+w), c)
	fill(dst, image.Rect(r.Min.X, r.Max.Y-w, r.Max.X, r.Max.Y), c)
	fill(dst, image.Rect(r.Min.X, r.Min.Y, r.Min.X+w, r.Max.Y), c)
	fill(dst, image.Rect(r.Max.X-w, r.Min.Y, r.Max.X, r.Max.Y), c)
}

func drawCorners(dst *image.RGBA, r image.Rectangle, c color.Color) {
	l := accentLength
	if m := min(r.Dx(), r.Dy()) / 2; m < l {
		l = m
	}
	w := accentStroke
	// top-left, top-right, bottom-left, bottom-right
	fill(dst, image.Rect(r.Min.X, r.Min.Y, r.Min.X+l, r.Min.Y+w), c)
	fill(dst, image.Rect(r.Min.X, r.Min.Y, r.Min.X+w, r.Min.Y+l), c)
	fill(dst, image.Rect(r.Max.X-l, r.Min.Y, r.Max.X, r.Min.Y+w), c)
	fill(dst, image.Rect(r.Max.X-w, r.Min.Y, r.Max.X, r.Min.Y+l), c)
	fill(dst, image.Rect(r.Min.X, r.Max.Y-w, r.Min.X+l, r.Max.Y), c)
	fill(dst, image.Rect(r.Min.X, r.Max.Y-l, r.Min.X+w, r.Max.Y), c)
	fill(dst, image.Rect(r.Max.X-l, r.Max.Y-w, r.Max.X, r.Max.Y), c)
	fill(dst, image.Rect(r.Max.X-w, r.Max.Y-l, r.Max.X, r.Max.Y), c)
}

func drawLabel(dst *image.RGBA, r image.Rectangle, text string) {
	face := basicfont.Face7x13
	width := font.MeasureString(face, text).Ceil()
	height := face.Metrics().Height.Ceil()

	// above the box, or inside it when there is no room
	top := r.Min.Y - height - 2
	if top < 0 {
		top = r.Min.Y + 2
	}
	bg := image.Rect(r.Min.X, top, r.Min.X+width+4, top+height+2)
	fill(dst, bg, labelBg)

	d := font.Drawer{
		Dst:  dst,
		Src:  image.NewUniform(labelColor),
		Face: face,
		Dot:  fixed.P(bg.Min.X+2, bg.Min.Y+face.Metrics().Ascent.Ceil()+1),
	}
	d.DrawString(text)
}
