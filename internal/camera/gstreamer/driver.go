// Package gstreamer captures frames through a GStreamer appsink pipeline.
package gstreamer

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/tinyzimmer/go-gst/gst"
	"github.com/tinyzimmer/go-gst/gst/app"

	"huewatch/internal/camera"
)

var initOnce sync.Once

// Driver builds one decode pipeline per Open:
//
//	uridecodebin → videoconvert → videoscale → videorate →
//	capsfilter(BGR, w×h, fps) → appsink(max-buffers=N, drop)
//
// uridecodebin picks rtspsrc for rtsp:// URIs and a file or HTTP source
// otherwise.
type Driver struct{}

// NewDriver returns a GStreamer capture driver.
func NewDriver() *Driver {
	return &Driver{}
}

// Name implements camera.Driver.
func (d *Driver) Name() string { return "gstreamer" }

// PipelineDescription returns the gst-launch description used for cfg.
func PipelineDescription(cfg camera.Config) string {
	buffers := cfg.BufferSize
	if buffers < 1 {
		buffers = 1
	}
	return fmt.Sprintf(
		"uridecodebin uri=%q ! videoconvert ! videoscale ! videorate drop-only=true ! "+
			"video/x-raw,format=BGR,width=%d,height=%d,framerate=%d/1 ! "+
			"appsink name=sink max-buffers=%d drop=true sync=false",
		cfg.URI, cfg.Width, cfg.Height, cfg.FPS, buffers,
	)
}

// Open implements camera.Driver.
func (d *Driver) Open(ctx context.Context, cfg camera.Config) (camera.Capture, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	initOnce.Do(func() { gst.Init(nil) })

	pipeline, err := gst.NewPipelineFromString(PipelineDescription(cfg))
	if err != nil {
		return nil, fmt.Errorf("failed to create pipeline: %w", err)
	}

	elem, err := pipeline.GetElementByName("sink")
	if err != nil {
		_ = pipeline.SetState(gst.StateNull)
		return nil, fmt.Errorf("failed to find appsink: %w", err)
	}
	sink := app.SinkFromElement(elem)

	if err := pipeline.SetState(gst.StatePlaying); err != nil {
		_ = pipeline.SetState(gst.StateNull)
		return nil, fmt.Errorf("failed to start pipeline: %w", err)
	}

	readTimeout := cfg.ReadTimeout
	if readTimeout <= 0 {
		readTimeout = 5 * time.Second
	}
	// The first sample also waits for RTSP negotiation.
	firstTimeout := cfg.OpenTimeout + readTimeout

	return &capture{
		pipeline:     pipeline,
		sink:         sink,
		width:        cfg.Width,
		height:       cfg.Height,
		readTimeout:  readTimeout,
		firstTimeout: firstTimeout,
	}, nil
}

type capture struct {
	pipeline     *gst.Pipeline
	sink         *app.Sink
	width        int
	height       int
	readTimeout  time.Duration
	firstTimeout time.Duration
	seq          uint64
	closeOnce    sync.Once
}

func (c *capture) Read() (camera.Frame, error) {
	timeout := c.readTimeout
	if c.seq == 0 && c.firstTimeout > timeout {
		timeout = c.firstTimeout
	}

	sample := c.sink.TryPullSample(timeout)
	if sample == nil {
		if c.sink.IsEOS() {
			return camera.Frame{}, errors.New("end of stream")
		}
		return camera.Frame{}, fmt.Errorf("no sample within %s", timeout)
	}

	buffer := sample.GetBuffer()
	if buffer == nil {
		return camera.Frame{}, camera.ErrEmptyFrame
	}

	mapInfo := buffer.Map(gst.MapRead)
	data := mapInfo.Bytes()
	if len(data) == 0 {
		buffer.Unmap()
		return camera.Frame{}, camera.ErrEmptyFrame
	}

	// GStreamer reuses the buffer once it is unmapped.
	pixels, err := packRows(data, c.width, c.height)
	buffer.Unmap()
	if err != nil {
		return camera.Frame{}, err
	}

	c.seq++
	return camera.Frame{
		Seq:        c.seq,
		TraceID:    uuid.New().String(),
		Width:      c.width,
		Height:     c.height,
		Data:       pixels,
		CapturedAt: time.Now(),
	}, nil
}

// rowStride is GStreamer's default stride for packed 24-bit video: each row
// is padded to a multiple of 4 bytes.
func rowStride(width int) int {
	return (width*camera.BytesPerPixel + 3) &^ 3
}

// packRows copies a mapped BGR buffer into a tightly packed slice, dropping
// row padding.
func packRows(data []byte, width, height int) ([]byte, error) {
	row := width * camera.BytesPerPixel
	packed := row * height
	if width <= 0 || height <= 0 {
		return nil, fmt.Errorf("invalid frame size %dx%d", width, height)
	}

	out := make([]byte, packed)
	if len(data) == packed {
		copy(out, data)
		return out, nil
	}

	stride := rowStride(width)
	if len(data) < stride*(height-1)+row {
		return nil, fmt.Errorf("short buffer: %d bytes for %dx%d BGR", len(data), width, height)
	}
	for y := 0; y < height; y++ {
		copy(out[y*row:(y+1)*row], data[y*stride:y*stride+row])
	}
	return out, nil
}

func (c *capture) Close() error {
	var err error
	c.closeOnce.Do(func() {
		if setErr := c.pipeline.SetState(gst.StateNull); setErr != nil {
			err = fmt.Errorf("failed to set pipeline to NULL: %w", setErr)
		}
	})
	return err
}
