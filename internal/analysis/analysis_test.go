package analysis

import (
	"errors"
	"image"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPercentage(t *testing.T) {
	tests := []struct {
		name           string
		nonzero, total int
		want           float64
	}{
		{"empty mask", 0, 40000, 0},
		{"full mask", 40000, 40000, 100},
		{"half", 20000, 40000, 50},
		{"rounded", 1, 3, 33.33},
		{"two thirds", 2, 3, 66.67},
		{"zero total", 5, 0, 0},
		{"negative", -1, 10, 0},
		{"overflowing count", 11, 10, 100},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, Percentage(tt.nonzero, tt.total))
		})
	}
}

func TestPercentageBounds(t *testing.T) {
	for total := 1; total <= 50; total++ {
		for n := 0; n <= total; n++ {
			p := Percentage(n, total)
			require.GreaterOrEqual(t, p, 0.0)
			require.LessOrEqual(t, p, 100.0)
		}
	}
}

func TestCenterRegion(t *testing.T) {
	tests := []struct {
		name       string
		w, h, side int
		want       image.Rectangle
	}{
		{"hd", 1280, 720, 200, image.Rect(540, 260, 740, 460)},
		{"exact", 200, 200, 200, image.Rect(0, 0, 200, 200)},
		{"clipped", 100, 80, 200, image.Rect(0, 0, 100, 80)},
		{"zero side", 640, 480, 0, image.Rectangle{}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, CenterRegion(tt.w, tt.h, tt.side))
		})
	}
}

func TestParseStrategy(t *testing.T) {
	s, err := ParseStrategy(" Enhanced ")
	require.NoError(t, err)
	assert.Equal(t, StrategyEnhanced, s)
	assert.Equal(t, "enhanced_adaptive", s.Method())

	s, err = ParseStrategy("basic")
	require.NoError(t, err)
	assert.Equal(t, "basic_fixed", s.Method())

	_, err = ParseStrategy("neural")
	assert.Error(t, err)
}

func TestDecodeError(t *testing.T) {
	inner := errors.New("imencode failed")
	err := error(&DecodeError{Err: inner})

	var de *DecodeError
	require.ErrorAs(t, err, &de)
	assert.ErrorIs(t, err, inner)
	assert.Equal(t, "encode frame: imencode failed", err.Error())
}
