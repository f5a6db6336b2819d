package vision

import (
	"fmt"
	"image"
	"image/color"
	"math"
	"runtime"

	"gocv.io/x/gocv"

	"huewatch/internal/analysis"
	"huewatch/internal/camera"
	"huewatch/internal/config"
)

var (
	colorPink   = color.RGBA{255, 0, 255, 255}
	colorWhite  = color.RGBA{255, 255, 255, 255}
	colorYellow = color.RGBA{255, 255, 0, 255}
	colorGreen  = color.RGBA{0, 255, 0, 255}
)

// Annotator draws detection results onto a display copy of a frame and
// encodes it as JPEG.
type Annotator struct {
	display config.DisplayConfig
	quality int
}

// NewAnnotator returns an annotator that scales frames to fit display and
// encodes them at display.JPEGQuality.
func NewAnnotator(display config.DisplayConfig) *Annotator {
	q := display.JPEGQuality
	if q < 1 || q > 100 {
		q = 85
	}
	return &Annotator{display: display, quality: q}
}

// Annotate renders res over a scaled copy of frame. frame.Data is not
// modified. Encoding failures are returned as *analysis.DecodeError.
func (a *Annotator) Annotate(frame camera.Frame, res analysis.Result) ([]byte, error) {
	if frame.Empty() {
		return nil, camera.ErrEmptyFrame
	}
	src, err := gocv.NewMatFromBytes(frame.Height, frame.Width, gocv.MatTypeCV8UC3, frame.Data)
	if err != nil {
		return nil, &analysis.DecodeError{Err: err}
	}
	defer src.Close()

	img, box := a.scaled(src, res.Region)
	defer img.Close()
	runtime.KeepAlive(frame.Data)

	DrawOverlay(&img, box, res)
	return Encode(img, a.quality)
}

// scaled returns a copy of src fitted to the display limits and rect mapped
// into the copy's coordinates.
func (a *Annotator) scaled(src gocv.Mat, rect image.Rectangle) (gocv.Mat, image.Rectangle) {
	w, h := src.Cols(), src.Rows()
	if !a.display.ShouldScale(w, h) {
		return src.Clone(), rect
	}

	f := a.display.ScaleFactor(w, h)
	size := image.Pt(int(float64(w)*f), int(float64(h)*f))
	dst := gocv.NewMat()
	gocv.Resize(src, &dst, size, 0, 0, gocv.InterpolationLinear)
	return dst, ScaleRect(rect, f)
}

// ScaleRect multiplies every coordinate of r by f.
func ScaleRect(r image.Rectangle, f float64) image.Rectangle {
	s := func(v int) int { return int(math.Round(float64(v) * f)) }
	return image.Rect(s(r.Min.X), s(r.Min.Y), s(r.Max.X), s(r.Max.Y))
}

// DrawOverlay draws the detection box and the result text onto img.
func DrawOverlay(img *gocv.Mat, box image.Rectangle, res analysis.Result) {
	if !box.Empty() {
		gocv.Rectangle(img, box, colorGreen, 2)
	}

	gocv.PutText(img, fmt.Sprintf("Pink: %.1f%%", res.Pink), image.Pt(10, 30),
		gocv.FontHersheySimplex, 0.7, colorPink, 2)
	gocv.PutText(img, fmt.Sprintf("White: %.1f%%", res.White), image.Pt(10, 60),
		gocv.FontHersheySimplex, 0.7, colorWhite, 2)
	gocv.PutText(img, fmt.Sprintf("H:%d S:%.0f", res.Distribution.DominantHue, res.Distribution.AvgSaturation),
		image.Pt(10, 90), gocv.FontHersheySimplex, 0.5, colorYellow, 1)

	label := "Basic Detection"
	if res.Strategy != analysis.StrategyBasic {
		label = "Enhanced Detection"
	}
	gocv.PutText(img, label, image.Pt(10, img.Rows()-20), gocv.FontHersheySimplex, 0.5, colorGreen, 1)
}

// Encode JPEG-encodes img at quality.
func Encode(img gocv.Mat, quality int) ([]byte, error) {
	buf, err := gocv.IMEncodeWithParams(gocv.JPEGFileExt, img, []int{gocv.IMWriteJpegQuality, quality})
	if err != nil {
		return nil, &analysis.DecodeError{Err: err}
	}
	defer buf.Close()

	out := make([]byte, buf.Len())
	copy(out, buf.GetBytes())
	if len(out) == 0 {
		return nil, &analysis.DecodeError{Err: fmt.Errorf("encoder produced no data")}
	}
	return out, nil
}
