// Package vision measures the pink and white composition of the center of a
// frame and renders the annotated frame shown to viewers. It is the only
// package that links OpenCV.
package vision

import (
	"errors"
	"fmt"
	"image"
	"runtime"

	"gocv.io/x/gocv"

	"huewatch/internal/analysis"
	"huewatch/internal/camera"
)

// HSVRange is an inclusive box in OpenCV HSV space (H 0-180, S and V 0-255).
type HSVRange struct {
	Lower, Upper [3]float64
}

func (r HSVRange) scalars() (gocv.Scalar, gocv.Scalar) {
	return gocv.NewScalar(r.Lower[0], r.Lower[1], r.Lower[2], 0),
		gocv.NewScalar(r.Upper[0], r.Upper[1], r.Upper[2], 0)
}

// PinkRanges cover the bright, pale, desaturated and dim variants of pink.
var PinkRanges = []HSVRange{
	{Lower: [3]float64{140, 40, 40}, Upper: [3]float64{170, 255, 255}},
	{Lower: [3]float64{130, 20, 100}, Upper: [3]float64{180, 180, 255}},
	{Lower: [3]float64{120, 15, 80}, Upper: [3]float64{180, 100, 220}},
	{Lower: [3]float64{135, 30, 50}, Upper: [3]float64{175, 200, 200}},
}

// White ranges by ambient brightness.
var (
	WhiteBright = HSVRange{Lower: [3]float64{0, 0, 180}, Upper: [3]float64{180, 40, 255}}
	WhiteNormal = HSVRange{Lower: [3]float64{0, 0, 140}, Upper: [3]float64{180, 60, 255}}
	WhiteDim    = HSVRange{Lower: [3]float64{0, 0, 100}, Upper: [3]float64{180, 80, 255}}
)

// Fixed ranges used by the basic strategy.
var (
	BasicPink  = HSVRange{Lower: [3]float64{140, 50, 50}, Upper: [3]float64{170, 255, 255}}
	BasicWhite = HSVRange{Lower: [3]float64{0, 0, 200}, Upper: [3]float64{180, 50, 255}}
)

// WhiteRangeFor picks the white range for a region whose mean gray level is
// brightness.
func WhiteRangeFor(brightness float64) HSVRange {
	switch {
	case brightness > 150:
		return WhiteBright
	case brightness > 100:
		return WhiteNormal
	default:
		return WhiteDim
	}
}

var errEmptyRegion = errors.New("detection region is empty")

// Classifier computes analysis.Result for the center region of a frame.
// It is safe for concurrent use.
type Classifier struct {
	strategy   analysis.Strategy
	regionSize int
	lut        gocv.Mat
	kernel     gocv.Mat
}

// NewClassifier returns a classifier. Close releases its lookup tables.
func NewClassifier(strategy analysis.Strategy, regionSize int) *Classifier {
	return &Classifier{
		strategy:   strategy,
		regionSize: regionSize,
		lut:        gammaLUT(gamma),
		kernel:     gocv.GetStructuringElement(gocv.MorphRect, image.Pt(3, 3)),
	}
}

// Close releases native resources.
func (c *Classifier) Close() error {
	c.lut.Close()
	c.kernel.Close()
	return nil
}

// Strategy returns the configured strategy.
func (c *Classifier) Strategy() analysis.Strategy { return c.strategy }

// Analyze classifies the center region of frame.
func (c *Classifier) Analyze(frame camera.Frame) (analysis.Result, error) {
	if frame.Empty() {
		return analysis.Result{}, camera.ErrEmptyFrame
	}
	rect := analysis.CenterRegion(frame.Width, frame.Height, c.regionSize)
	if rect.Empty() {
		return analysis.Result{}, errEmptyRegion
	}

	mat, err := gocv.NewMatFromBytes(frame.Height, frame.Width, gocv.MatTypeCV8UC3, frame.Data)
	if err != nil {
		return analysis.Result{}, fmt.Errorf("wrap frame: %w", err)
	}
	defer mat.Close()

	roi := mat.Region(rect)
	defer roi.Close()

	res := c.AnalyzeRegion(roi)
	res.Region = rect
	runtime.KeepAlive(frame.Data)
	return res, nil
}

// AnalyzeRegion classifies a BGR region.
func (c *Classifier) AnalyzeRegion(roi gocv.Mat) analysis.Result {
	hsv := gocv.NewMat()
	defer hsv.Close()
	gocv.CvtColor(roi, &hsv, gocv.ColorBGRToHSV)

	total := roi.Rows() * roi.Cols()
	res := analysis.Result{
		Strategy:     c.strategy,
		Distribution: Distribution(hsv),
	}

	var pink, white gocv.Mat
	if c.strategy == analysis.StrategyBasic {
		pink = inRange(hsv, BasicPink)
		white = inRange(hsv, BasicWhite)
		res.ActiveRanges = 1
	} else {
		pre := Preprocess(roi, c.lut)
		preHSV := gocv.NewMat()
		gocv.CvtColor(pre, &preHSV, gocv.ColorBGRToHSV)
		pre.Close()

		pink = c.ClassifyHue(preHSV)
		preHSV.Close()
		white = c.ClassifyBrightness(hsv, MeanBrightness(roi))
		res.ActiveRanges = len(PinkRanges)
		res.Preprocessed = true
	}
	defer pink.Close()
	defer white.Close()

	res.Pink = analysis.Percentage(gocv.CountNonZero(pink), total)
	res.White = analysis.Percentage(gocv.CountNonZero(white), total)
	return res
}

// ClassifyHue returns the union of every pink range, closed then opened
// with a 3×3 kernel.
func (c *Classifier) ClassifyHue(hsv gocv.Mat) gocv.Mat {
	mask := gocv.NewMatWithSize(hsv.Rows(), hsv.Cols(), gocv.MatTypeCV8U)
	mask.SetTo(gocv.NewScalar(0, 0, 0, 0))
	for _, r := range PinkRanges {
		m := inRange(hsv, r)
		gocv.BitwiseOr(mask, m, &mask)
		m.Close()
	}

	closed := gocv.NewMat()
	gocv.MorphologyEx(mask, &closed, gocv.MorphClose, c.kernel)
	mask.Close()

	opened := gocv.NewMat()
	gocv.MorphologyEx(closed, &opened, gocv.MorphOpen, c.kernel)
	closed.Close()
	return opened
}

// ClassifyBrightness thresholds hsv on the white range chosen for
// brightness, then closes small gaps.
func (c *Classifier) ClassifyBrightness(hsv gocv.Mat, brightness float64) gocv.Mat {
	mask := inRange(hsv, WhiteRangeFor(brightness))
	closed := gocv.NewMat()
	gocv.MorphologyEx(mask, &closed, gocv.MorphClose, c.kernel)
	mask.Close()
	return closed
}

// MeanBrightness returns the mean gray level of a BGR region.
func MeanBrightness(roi gocv.Mat) float64 {
	gray := gocv.NewMat()
	defer gray.Close()
	gocv.CvtColor(roi, &gray, gocv.ColorBGRToGray)
	return gray.Mean().Val1
}

// Distribution returns the histogram peak of each HSV channel and the mean
// saturation and value.
func Distribution(hsv gocv.Mat) analysis.Distribution {
	mean := hsv.Mean()
	return analysis.Distribution{
		DominantHue:        histPeak(hsv, 0, 180),
		DominantSaturation: histPeak(hsv, 1, 256),
		DominantValue:      histPeak(hsv, 2, 256),
		AvgSaturation:      analysis.Round2(mean.Val2),
		AvgValue:           analysis.Round2(mean.Val3),
	}
}

func histPeak(hsv gocv.Mat, channel, bins int) int {
	hist := gocv.NewMat()
	defer hist.Close()
	mask := gocv.NewMat()
	defer mask.Close()

	gocv.CalcHist([]gocv.Mat{hsv}, []int{channel}, mask, &hist, []int{bins}, []float64{0, float64(bins)}, false)
	_, _, _, maxLoc := gocv.MinMaxLoc(hist)
	return maxLoc.Y
}

func inRange(hsv gocv.Mat, r HSVRange) gocv.Mat {
	lo, hi := r.scalars()
	mask := gocv.NewMat()
	gocv.InRangeWithScalar(hsv, lo, hi, &mask)
	return mask
}
