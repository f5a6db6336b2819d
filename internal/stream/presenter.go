package stream

import (
	"bytes"
	"image"
	"image/color"
	"image/draw"
	"image/jpeg"

	xdraw "golang.org/x/image/draw"
	"golang.org/x/image/font"
	"golang.org/x/image/font/basicfont"
	"golang.org/x/image/math/fixed"
)

// Error frame geometry.
const (
	errorFrameWidth  = 640
	errorFrameHeight = 480
	maxReasonRunes   = 50
)

var (
	errorRed    = color.RGBA{255, 0, 0, 255}
	errorYellow = color.RGBA{255, 255, 0, 255}
)

// Presenter renders the placeholder shown while no live frame is available.
type Presenter struct {
	quality int
}

// NewPresenter returns a presenter that encodes at quality (1-100).
func NewPresenter(quality int) *Presenter {
	if quality < 1 || quality > 100 {
		quality = 85
	}
	return &Presenter{quality: quality}
}

// Render draws reason on a black 640×480 frame and returns it as JPEG.
func (p *Presenter) Render(reason string) ([]byte, error) {
	img := image.NewRGBA(image.Rect(0, 0, errorFrameWidth, errorFrameHeight))
	draw.Draw(img, img.Bounds(), image.NewUniform(color.Black), image.Point{}, draw.Src)

	drawText(img, image.Pt(200, 200), "CAMERA ERROR", errorRed, 2)
	drawText(img, image.Pt(50, 250), truncate(reason, maxReasonRunes), errorRed, 1)
	drawText(img, image.Pt(250, 300), "Retrying...", errorYellow, 2)

	var buf bytes.Buffer
	if err := jpeg.Encode(&buf, img, &jpeg.Options{Quality: p.quality}); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

// drawText writes s with its baseline starting at pt, magnified scale times.
func drawText(dst *image.RGBA, pt image.Point, s string, c color.Color, scale int) {
	face := basicfont.Face7x13
	if scale <= 1 {
		d := &font.Drawer{
			Dst:  dst,
			Src:  image.NewUniform(c),
			Face: face,
			Dot:  fixed.P(pt.X, pt.Y),
		}
		d.DrawString(s)
		return
	}

	w := font.MeasureString(face, s).Ceil()
	h := face.Height
	if w == 0 {
		return
	}
	glyphs := image.NewRGBA(image.Rect(0, 0, w, h))
	d := &font.Drawer{
		Dst:  glyphs,
		Src:  image.NewUniform(c),
		Face: face,
		Dot:  fixed.P(0, face.Ascent),
	}
	d.DrawString(s)

	top := pt.Y - face.Ascent*scale
	target := image.Rect(pt.X, top, pt.X+w*scale, top+h*scale)
	xdraw.NearestNeighbor.Scale(dst, target, glyphs, glyphs.Bounds(), xdraw.Over, nil)
}

func truncate(s string, n int) string {
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[:n])
}
