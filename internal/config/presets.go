package config

// Resolution is a capture size in pixels.
type Resolution struct {
	Width  int
	Height int
}

// Presets are common CCTV resolutions selectable with camera.preset.
var Presets = map[string]Resolution{
	"HD_READY":   {1280, 720},
	"FULL_HD":    {1920, 1080},
	"ULTRA_WIDE": {1920, 1200},
	"STANDARD":   {1024, 768},
	"MOBILE":     {800, 600},
}

// ShouldScale reports whether a frame exceeds the display limits.
func (d DisplayConfig) ShouldScale(width, height int) bool {
	return width > d.MaxWidth || height > d.MaxHeight
}

// ScaleFactor returns the factor that fits a frame inside the display limits
// while keeping its aspect ratio.
func (d DisplayConfig) ScaleFactor(width, height int) float64 {
	if width <= 0 || height <= 0 {
		return 1
	}
	sw := float64(d.MaxWidth) / float64(width)
	sh := float64(d.MaxHeight) / float64(height)
	return min(sw, sh)
}
