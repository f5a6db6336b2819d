package vision

import (
	"bytes"
	"image"
	"image/jpeg"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gocv.io/x/gocv"

	"huewatch/internal/analysis"
	"huewatch/internal/camera"
	"huewatch/internal/camera/cameratest"
	"huewatch/internal/config"
)

var (
	bgrPink  = [3]byte{255, 0, 255} // H 150, S 255, V 255
	bgrWhite = [3]byte{255, 255, 255}
	bgrBlack = [3]byte{0, 0, 0}
	bgrPale  = [3]byte{150, 135, 150} // H 150, S 26, V 150
)

func TestAnalyzeSolidRegions(t *testing.T) {
	tests := []struct {
		name      string
		strategy  analysis.Strategy
		fill      [3]byte
		wantPink  float64
		wantWhite float64
	}{
		{"enhanced pink", analysis.StrategyEnhanced, bgrPink, 100, 0},
		{"enhanced white", analysis.StrategyEnhanced, bgrWhite, 0, 100},
		{"enhanced black", analysis.StrategyEnhanced, bgrBlack, 0, 0},
		{"basic pink", analysis.StrategyBasic, bgrPink, 100, 0},
		{"basic white", analysis.StrategyBasic, bgrWhite, 0, 100},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c := NewClassifier(tt.strategy, 200)
			defer c.Close()

			res, err := c.Analyze(cameratest.SolidFrame(200, 200, tt.fill, 1))
			require.NoError(t, err)

			assert.InDelta(t, tt.wantPink, res.Pink, 0.5)
			assert.InDelta(t, tt.wantWhite, res.White, 0.5)
			assert.Equal(t, image.Rect(0, 0, 200, 200), res.Region)
		})
	}
}

func TestEnhancedCatchesPalePink(t *testing.T) {
	frame := cameratest.SolidFrame(200, 200, bgrPale, 1)

	basic := NewClassifier(analysis.StrategyBasic, 200)
	defer basic.Close()
	res, err := basic.Analyze(frame)
	require.NoError(t, err)
	assert.Zero(t, res.Pink, "basic range needs saturation >= 50")

	enhanced := NewClassifier(analysis.StrategyEnhanced, 200)
	defer enhanced.Close()
	res, err = enhanced.Analyze(frame)
	require.NoError(t, err)
	assert.InDelta(t, 100, res.Pink, 0.5)
	assert.Equal(t, 150, res.Distribution.DominantHue)
}

func TestClassifyHueUnionsRanges(t *testing.T) {
	c := NewClassifier(analysis.StrategyEnhanced, 50)
	defer c.Close()

	tests := []struct {
		name string
		hsv  [3]float64
		want bool
	}{
		{"saturated magenta", [3]float64{150, 255, 255}, true},
		{"pale", [3]float64{150, 25, 150}, true},
		{"dim desaturated", [3]float64{125, 18, 90}, true},
		{"green", [3]float64{60, 200, 200}, false},
		{"gray", [3]float64{150, 5, 150}, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			hsv := gocv.NewMatWithSizeFromScalar(gocv.NewScalar(tt.hsv[0], tt.hsv[1], tt.hsv[2], 0), 20, 20, gocv.MatTypeCV8UC3)
			defer hsv.Close()

			mask := c.ClassifyHue(hsv)
			defer mask.Close()

			got := gocv.CountNonZero(mask) == 400
			assert.Equal(t, tt.want, got)
			if !tt.want {
				assert.Zero(t, gocv.CountNonZero(mask))
			}
		})
	}
}

func TestAnalyzeCenterRegionOnly(t *testing.T) {
	// Pink square in the middle of a white frame.
	frame := cameratest.SolidFrame(640, 480, bgrWhite, 1)
	rect := analysis.CenterRegion(640, 480, 200)
	for y := rect.Min.Y; y < rect.Max.Y; y++ {
		for x := rect.Min.X; x < rect.Max.X; x++ {
			i := (y*640 + x) * camera.BytesPerPixel
			copy(frame.Data[i:i+3], bgrPink[:])
		}
	}

	c := NewClassifier(analysis.StrategyEnhanced, 200)
	defer c.Close()

	res, err := c.Analyze(frame)
	require.NoError(t, err)
	assert.InDelta(t, 100, res.Pink, 0.5)
	assert.InDelta(t, 0, res.White, 0.5)
}

func TestAnalyzeReportsDiagnostics(t *testing.T) {
	c := NewClassifier(analysis.StrategyEnhanced, 100)
	defer c.Close()

	res, err := c.Analyze(cameratest.SolidFrame(200, 200, bgrPink, 1))
	require.NoError(t, err)

	assert.Equal(t, 150, res.Distribution.DominantHue)
	assert.Equal(t, 255, res.Distribution.DominantSaturation)
	assert.InDelta(t, 255, res.Distribution.AvgSaturation, 0.5)
	assert.InDelta(t, 255, res.Distribution.AvgValue, 0.5)
	assert.Equal(t, 4, res.ActiveRanges)
	assert.True(t, res.Preprocessed)

	basic := NewClassifier(analysis.StrategyBasic, 100)
	defer basic.Close()
	res, err = basic.Analyze(cameratest.SolidFrame(200, 200, bgrPink, 1))
	require.NoError(t, err)
	assert.Equal(t, 1, res.ActiveRanges)
	assert.False(t, res.Preprocessed)
}

func TestAnalyzeRejectsEmptyFrame(t *testing.T) {
	c := NewClassifier(analysis.StrategyEnhanced, 200)
	defer c.Close()

	_, err := c.Analyze(camera.Frame{})
	assert.ErrorIs(t, err, camera.ErrEmptyFrame)
}

func TestWhiteRangeFor(t *testing.T) {
	assert.Equal(t, WhiteBright, WhiteRangeFor(200))
	assert.Equal(t, WhiteNormal, WhiteRangeFor(150))
	assert.Equal(t, WhiteNormal, WhiteRangeFor(101))
	assert.Equal(t, WhiteDim, WhiteRangeFor(100))
	assert.Equal(t, WhiteDim, WhiteRangeFor(0))
}

func TestAnnotateScalesAndEncodes(t *testing.T) {
	a := NewAnnotator(config.DisplayConfig{MaxWidth: 1024, MaxHeight: 768, JPEGQuality: 80})
	frame := cameratest.SolidFrame(1920, 1080, bgrWhite, 1)
	original := append([]byte(nil), frame.Data...)

	res := analysis.Result{Pink: 12.5, White: 80, Strategy: analysis.StrategyEnhanced,
		Region: analysis.CenterRegion(1920, 1080, 200)}

	data, err := a.Annotate(frame, res)
	require.NoError(t, err)

	cfg, err := jpeg.DecodeConfig(bytes.NewReader(data))
	require.NoError(t, err)
	assert.Equal(t, 1024, cfg.Width)
	assert.Equal(t, 576, cfg.Height)

	assert.Equal(t, original, frame.Data, "overlay must not touch the source frame")
}

func TestAnnotateKeepsSmallFrames(t *testing.T) {
	a := NewAnnotator(config.DisplayConfig{MaxWidth: 1024, MaxHeight: 768, JPEGQuality: 85})
	data, err := a.Annotate(cameratest.SolidFrame(640, 480, bgrBlack, 1), analysis.Result{})
	require.NoError(t, err)

	cfg, err := jpeg.DecodeConfig(bytes.NewReader(data))
	require.NoError(t, err)
	assert.Equal(t, 640, cfg.Width)
	assert.Equal(t, 480, cfg.Height)
}

func TestScaleRect(t *testing.T) {
	r := ScaleRect(image.Rect(860, 440, 1060, 640), 0.5)
	assert.Equal(t, image.Rect(430, 220, 530, 320), r)
}

func BenchmarkAnalyze(b *testing.B) {
	frame := cameratest.SolidFrame(1280, 720, bgrPink, 1)
	for _, s := range []analysis.Strategy{analysis.StrategyBasic, analysis.StrategyEnhanced} {
		b.Run(string(s), func(b *testing.B) {
			c := NewClassifier(s, 200)
			defer c.Close()
			b.ResetTimer()
			for i := 0; i < b.N; i++ {
				if _, err := c.Analyze(frame); err != nil {
					b.Fatal(err)
				}
			}
		})
	}
}

func BenchmarkAnnotate(b *testing.B) {
	a := NewAnnotator(config.DisplayConfig{MaxWidth: 1024, MaxHeight: 768, JPEGQuality: 85})
	frame := cameratest.SolidFrame(1280, 720, bgrPink, 1)
	res := analysis.Result{Region: analysis.CenterRegion(1280, 720, 200)}
	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		if _, err := a.Annotate(frame, res); err != nil {
			b.Fatal(err)
		}
	}
}
