package camera

import (
	"time"
)

// Frame is one decoded image from the camera, stored as packed BGR24 rows.
// A Frame is never mutated after it is built; the cache and every consumer
// share the same Data slice read-only.
type Frame struct {
	Seq        uint64
	TraceID    string
	Width      int
	Height     int
	Data       []byte
	CapturedAt time.Time
}

// BytesPerPixel is the pixel stride of Frame.Data.
const BytesPerPixel = 3

// Empty reports whether the frame carries no pixel data.
func (f Frame) Empty() bool {
	return f.Width <= 0 || f.Height <= 0 || len(f.Data) < f.Width*f.Height*BytesPerPixel
}

// Age returns how long ago the frame was captured relative to now.
func (f Frame) Age(now time.Time) time.Duration {
	return now.Sub(f.CapturedAt)
}
