// Package analysis holds the color-composition result types shared by the
// classifier, the acquisition loop and the detection query. It has no image
// processing dependencies.
package analysis

import (
	"fmt"
	"image"
	"math"
	"strings"
)

// Strategy selects how the classifier treats a region.
type Strategy string

const (
	// StrategyBasic thresholds the raw region against one fixed range per
	// color, without preprocessing or mask cleanup.
	StrategyBasic Strategy = "basic"
	// StrategyEnhanced normalizes lighting first, unions several hue ranges
	// and adapts the white range to the region's brightness.
	StrategyEnhanced Strategy = "enhanced"
)

// ParseStrategy accepts "basic" or "enhanced" in any case.
func ParseStrategy(s string) (Strategy, error) {
	switch Strategy(strings.ToLower(strings.TrimSpace(s))) {
	case StrategyBasic:
		return StrategyBasic, nil
	case StrategyEnhanced:
		return StrategyEnhanced, nil
	default:
		return "", fmt.Errorf("unknown detection strategy %q", s)
	}
}

// Method returns the name reported in diagnostics.
func (s Strategy) Method() string {
	if s == StrategyBasic {
		return "basic_fixed"
	}
	return "enhanced_adaptive"
}

// Distribution is a diagnostic summary of a region in HSV space.
type Distribution struct {
	DominantHue        int     `json:"dominant_hue"`
	DominantSaturation int     `json:"dominant_saturation"`
	DominantValue      int     `json:"dominant_value"`
	AvgSaturation      float64 `json:"avg_saturation"`
	AvgValue           float64 `json:"avg_value"`
}

// Result is the color composition of one region.
type Result struct {
	Pink         float64         `json:"pink"`
	White        float64         `json:"white"`
	Distribution Distribution    `json:"distribution"`
	Strategy     Strategy        `json:"strategy"`
	ActiveRanges int             `json:"active_ranges"`
	Preprocessed bool            `json:"preprocessed"`
	Region       image.Rectangle `json:"-"`
}

// Percentage returns 100·nonzero/total rounded to two decimals, clamped to
// [0, 100]. A non-positive total yields 0.
func Percentage(nonzero, total int) float64 {
	if total <= 0 || nonzero <= 0 {
		return 0
	}
	if nonzero >= total {
		return 100
	}
	return Round2(100 * float64(nonzero) / float64(total))
}

// Round2 rounds v to two decimals.
func Round2(v float64) float64 {
	return math.Round(v*100) / 100
}

// CenterRegion returns a side×side square centered in a w×h frame, clipped
// to the frame bounds.
func CenterRegion(w, h, side int) image.Rectangle {
	frame := image.Rect(0, 0, w, h)
	if side <= 0 {
		return image.Rectangle{}
	}
	x := w/2 - side/2
	y := h/2 - side/2
	return image.Rect(x, y, x+side, y+side).Intersect(frame)
}

// DecodeError reports that an analyzed frame could not be encoded for
// output. Only that frame is skipped.
type DecodeError struct {
	Err error
}

func (e *DecodeError) Error() string {
	return fmt.Sprintf("encode frame: %v", e.Err)
}

func (e *DecodeError) Unwrap() error { return e.Err }
