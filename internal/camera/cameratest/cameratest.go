// Package cameratest provides a scripted camera driver for tests.
package cameratest

import (
	"context"
	"errors"
	"sync"
	"time"

	"huewatch/internal/camera"
)

// ErrUnreachable is the default open failure of a Driver.
var ErrUnreachable = errors.New("connection refused")

// Driver is a camera.Driver whose open and read outcomes are scripted.
// Zero value opens successfully and serves solid gray frames.
type Driver struct {
	mu sync.Mutex

	// OpenErrs is consumed one element per Open call; a nil element means
	// success. When exhausted, FailOpen decides.
	OpenErrs []error
	FailOpen bool

	// ReadErrs is consumed one element per Read across all captures; a nil
	// element means success. When exhausted, reads succeed.
	ReadErrs []error

	Width, Height int
	Fill          [3]byte // BGR

	opens    int
	closes   int
	reads    int
	captures []*Capture
	seq      uint64
}

// Name implements camera.Driver.
func (d *Driver) Name() string { return "scripted" }

// Open implements camera.Driver.
func (d *Driver) Open(ctx context.Context, cfg camera.Config) (camera.Capture, error) {
	d.mu.Lock()
	defer d.mu.Unlock()

	d.opens++
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if len(d.OpenErrs) > 0 {
		err := d.OpenErrs[0]
		d.OpenErrs = d.OpenErrs[1:]
		if err != nil {
			return nil, err
		}
	} else if d.FailOpen {
		return nil, ErrUnreachable
	}

	c := &Capture{driver: d}
	d.captures = append(d.captures, c)
	return c, nil
}

// SetReadErrs replaces the read script.
func (d *Driver) SetReadErrs(errs ...error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.ReadErrs = errs
}

// SetFailOpen toggles permanent open failure.
func (d *Driver) SetFailOpen(fail bool) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.FailOpen = fail
}

// Opens returns how many times Open was called.
func (d *Driver) Opens() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.opens
}

// Reads returns how many times Read was called on any capture.
func (d *Driver) Reads() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.reads
}

// Closes returns how many captures were released.
func (d *Driver) Closes() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.closes
}

// Captures returns every capture opened so far.
func (d *Driver) Captures() []*Capture {
	d.mu.Lock()
	defer d.mu.Unlock()
	return append([]*Capture(nil), d.captures...)
}

func (d *Driver) read() (camera.Frame, error) {
	d.mu.Lock()
	defer d.mu.Unlock()

	d.reads++
	if len(d.ReadErrs) > 0 {
		err := d.ReadErrs[0]
		d.ReadErrs = d.ReadErrs[1:]
		if err != nil {
			return camera.Frame{}, err
		}
	}

	d.seq++
	w, h := d.dims()
	return SolidFrame(w, h, d.Fill, d.seq), nil
}

func (d *Driver) dims() (int, int) {
	w, h := d.Width, d.Height
	if w == 0 || h == 0 {
		w, h = 320, 240
	}
	return w, h
}

// Capture is a handle returned by Driver.Open.
type Capture struct {
	driver *Driver
	closed int
}

// Read implements camera.Capture.
func (c *Capture) Read() (camera.Frame, error) {
	return c.driver.read()
}

// Close implements camera.Capture. It counts every call so tests can detect
// double releases.
func (c *Capture) Close() error {
	c.driver.mu.Lock()
	defer c.driver.mu.Unlock()
	c.closed++
	c.driver.closes++
	return nil
}

// CloseCalls returns how many times Close was called on this capture.
func (c *Capture) CloseCalls() int {
	c.driver.mu.Lock()
	defer c.driver.mu.Unlock()
	return c.closed
}

// SolidFrame builds a w×h frame filled with one BGR color.
func SolidFrame(w, h int, bgr [3]byte, seq uint64) camera.Frame {
	data := make([]byte, w*h*camera.BytesPerPixel)
	for i := 0; i < len(data); i += camera.BytesPerPixel {
		data[i], data[i+1], data[i+2] = bgr[0], bgr[1], bgr[2]
	}
	return camera.Frame{
		Seq:        seq,
		Width:      w,
		Height:     h,
		Data:       data,
		CapturedAt: time.Now(),
	}
}
