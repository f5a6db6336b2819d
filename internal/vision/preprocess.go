package vision

import (
	"image"
	"math"

	"gocv.io/x/gocv"
)

const (
	claheClipLimit  = 2.0
	gamma           = 1.2
	saturationBoost = 1.3
)

var claheTiles = image.Pt(8, 8)

// gammaLUT builds a 1×256 lookup table mapping v to (v/255)^(1/g)·255.
func gammaLUT(g float64) gocv.Mat {
	lut := gocv.NewMatWithSize(1, 256, gocv.MatTypeCV8U)
	inv := 1.0 / g
	for i := 0; i < 256; i++ {
		v := math.Round(math.Pow(float64(i)/255.0, inv) * 255.0)
		lut.SetUCharAt(0, i, uint8(math.Min(v, 255)))
	}
	return lut
}

// Preprocess normalizes the lighting of a BGR region before hue
// classification: CLAHE on the LAB lightness channel, gamma correction
// through lut, then a saturation boost. The caller owns the returned Mat.
func Preprocess(roi gocv.Mat, lut gocv.Mat) gocv.Mat {
	lab := gocv.NewMat()
	defer lab.Close()
	gocv.CvtColor(roi, &lab, gocv.ColorBGRToLab)

	channels := gocv.Split(lab)
	clahe := gocv.NewCLAHEWithParams(claheClipLimit, claheTiles)
	equalized := gocv.NewMat()
	clahe.Apply(channels[0], &equalized)
	clahe.Close()
	channels[0].Close()
	channels[0] = equalized
	gocv.Merge(channels, &lab)
	closeAll(channels)

	bgr := gocv.NewMat()
	gocv.CvtColor(lab, &bgr, gocv.ColorLabToBGR)

	corrected := gocv.NewMat()
	gocv.LUT(bgr, lut, &corrected)
	bgr.Close()

	hsv := gocv.NewMat()
	defer hsv.Close()
	gocv.CvtColor(corrected, &hsv, gocv.ColorBGRToHSV)
	corrected.Close()

	hsvChannels := gocv.Split(hsv)
	hsvChannels[1].MultiplyFloat(saturationBoost)
	gocv.Merge(hsvChannels, &hsv)
	closeAll(hsvChannels)

	out := gocv.NewMat()
	gocv.CvtColor(hsv, &out, gocv.ColorHSVToBGR)
	return out
}

func closeAll(mats []gocv.Mat) {
	for i := range mats {
		mats[i].Close()
	}
}
