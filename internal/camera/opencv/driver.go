// Package opencv captures frames through OpenCV's FFmpeg backend.
package opencv

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"gocv.io/x/gocv"

	"huewatch/internal/camera"
)

// OpenCV property ids without named constants in gocv.
const (
	propOpenTimeoutMsec gocv.VideoCaptureProperties = 53
	propReadTimeoutMsec gocv.VideoCaptureProperties = 54
)

// Driver opens RTSP/HTTP/file sources with gocv.VideoCapture.
type Driver struct{}

// NewDriver returns an OpenCV capture driver.
func NewDriver() *Driver {
	return &Driver{}
}

// Name implements camera.Driver.
func (d *Driver) Name() string { return "opencv" }

type openResult struct {
	vc  *gocv.VideoCapture
	err error
}

// Open implements camera.Driver. The underlying open call cannot be
// interrupted, so it runs in its own goroutine; if the open timeout or ctx
// expires first the late handle is released when it arrives.
func (d *Driver) Open(ctx context.Context, cfg camera.Config) (camera.Capture, error) {
	timeout := cfg.OpenTimeout
	if timeout <= 0 {
		timeout = 5 * time.Second
	}
	params := openParams(cfg, timeout)

	done := make(chan openResult, 1)
	go func() {
		vc, err := gocv.OpenVideoCaptureWithAPIParams(cfg.URI, gocv.VideoCaptureFFmpeg, params)
		done <- openResult{vc: vc, err: err}
	}()

	timer := time.NewTimer(timeout + time.Second)
	defer timer.Stop()

	var res openResult
	select {
	case res = <-done:
	case <-ctx.Done():
		go releaseLate(done)
		return nil, ctx.Err()
	case <-timer.C:
		go releaseLate(done)
		return nil, fmt.Errorf("open timed out after %s", timeout)
	}

	if res.err != nil {
		if res.vc != nil {
			res.vc.Close()
		}
		return nil, res.err
	}
	if !res.vc.IsOpened() {
		res.vc.Close()
		return nil, errors.New("capture did not open")
	}

	vc := res.vc
	vc.Set(gocv.VideoCaptureBufferSize, float64(cfg.BufferSize))
	vc.Set(gocv.VideoCaptureFrameWidth, float64(cfg.Width))
	vc.Set(gocv.VideoCaptureFrameHeight, float64(cfg.Height))
	vc.Set(gocv.VideoCaptureFPS, float64(cfg.FPS))

	return &capture{vc: vc, mat: gocv.NewMat()}, nil
}

// openParams returns the key/value pairs applied while the capture opens.
// The FFmpeg backend only honors its timeouts at open time.
func openParams(cfg camera.Config, openTimeout time.Duration) []gocv.VideoCaptureProperties {
	params := []gocv.VideoCaptureProperties{
		propOpenTimeoutMsec, gocv.VideoCaptureProperties(openTimeout.Milliseconds()),
	}
	if cfg.ReadTimeout > 0 {
		params = append(params, propReadTimeoutMsec, gocv.VideoCaptureProperties(cfg.ReadTimeout.Milliseconds()))
	}
	return params
}

func releaseLate(done <-chan openResult) {
	res := <-done
	if res.vc != nil {
		res.vc.Close()
	}
}

type capture struct {
	vc  *gocv.VideoCapture
	mat gocv.Mat
	seq uint64
}

func (c *capture) Read() (camera.Frame, error) {
	if ok := c.vc.Read(&c.mat); !ok {
		return camera.Frame{}, errors.New("cannot read frame")
	}
	if c.mat.Empty() {
		return camera.Frame{}, camera.ErrEmptyFrame
	}

	src := c.mat
	if c.mat.Channels() == 1 {
		bgr := gocv.NewMat()
		defer bgr.Close()
		gocv.CvtColor(c.mat, &bgr, gocv.ColorGrayToBGR)
		src = bgr
	}

	c.seq++
	return camera.Frame{
		Seq:        c.seq,
		TraceID:    uuid.New().String(),
		Width:      src.Cols(),
		Height:     src.Rows(),
		Data:       src.ToBytes(),
		CapturedAt: time.Now(),
	}, nil
}

func (c *capture) Close() error {
	c.mat.Close()
	return c.vc.Close()
}
