package httpapi

import (
	"fmt"
	"image"
	"image/color"
	"image/draw"
	"time"

	"golang.org/x/image/font"
	"golang.org/x/image/font/basicfont"
	"golang.org/x/image/math/fixed"

	"github.com/dj-oyu/rdk-x5_smart-pet-camera/behavior-monitor/internal/frame"
	"github.com/dj-oyu/rdk-x5_smart-pet-camera/behavior-monitor/pkg/types"
)

var (
	boxColor   = color.RGBA{R: 0, G: 230, B: 64, A: 255}
	labelBG    = color.RGBA{A: 200}
	labelColor = color.White
)

const boxThickness = 3

// renderOverlay draws the detections and a timestamp banner on a copy of img.
func renderOverlay(img image.Image, dets []types.Detection, at time.Time) *image.RGBA {
	b := img.Bounds()
	dst := image.NewRGBA(image.Rect(0, 0, b.Dx(), b.Dy()))
	draw.Draw(dst, dst.Bounds(), img, b.Min, draw.Src)

	drawLabel(dst, 10, 10, at.Format("2006/01/02 15:04:05"))

	for _, det := range dets {
		x, y := int(det.Box.X), int(det.Box.Y)
		w, h := int(det.Box.W), int(det.Box.H)
		drawRect(dst, image.Rect(x, y, x+w, y+h), boxThickness)

		labelY := y - 20
		if labelY < 5 {
			labelY = y + h + 5
		}
		drawLabel(dst, x, labelY, fmt.Sprintf("%s %.2f", det.Category, det.Confidence))
	}
	return dst
}

func drawRect(dst *image.RGBA, r image.Rectangle, t int) {
	r = r.Intersect(dst.Bounds())
	if r.Empty() {
		return
	}
	src := image.NewUniform(boxColor)
	edges := []image.Rectangle{
		image.Rect(r.Min.X, r.Min.Y, r.Max.X, r.Min.Y+t),
		image.Rect(r.Min.X, r.Max.Y-t, r.Max.X, r.Max.Y),
		image.Rect(r.Min.X, r.Min.Y, r.Min.X+t, r.Max.Y),
		image.Rect(r.Max.X-t, r.Min.Y, r.Max.X, r.Max.Y),
	}
	for _, e := range edges {
		draw.Draw(dst, e.Intersect(r), src, image.Point{}, draw.Src)
	}
}

// drawLabel writes text with a dark background whose top-left corner is (x, y).
func drawLabel(dst *image.RGBA, x, y int, text string) {
	face := basicfont.Face7x13
	d := &font.Drawer{
		Dst:  dst,
		Src:  image.NewUniform(labelColor),
		Face: face,
	}
	width := d.MeasureString(text).Ceil()
	metrics := face.Metrics()
	height := (metrics.Ascent + metrics.Descent).Ceil()

	const pad = 2
	bg := image.Rect(x, y, x+width+2*pad, y+height+2*pad).Intersect(dst.Bounds())
	draw.Draw(dst, bg, image.NewUniform(labelBG), image.Point{}, draw.Over)

	d.Dot = fixed.Point26_6{
		X: fixed.I(x + pad),
		Y: fixed.I(y+pad) + metrics.Ascent,
	}
	d.DrawString(text)
}

// snapshotJPEG renders the overlay for f and encodes it.
func snapshotJPEG(f frame.Frame, dets []types.Detection, at time.Time) ([]byte, error) {
	return frame.EncodeJPEG(renderOverlay(f.Image, dets, at), 85)
}
