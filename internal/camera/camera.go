package camera

import (
	"context"
	"errors"
	"net/url"
	"sync"
	"time"
)

// Config is the immutable per-connection configuration.
type Config struct {
	URI         string
	Width       int
	Height      int
	FPS         int
	BufferSize  int
	OpenTimeout time.Duration
	ReadTimeout time.Duration
	JPEGQuality int
}

// Capture is an open transport handle produced by a Driver.
type Capture interface {
	// Read blocks for at most the configured read timeout.
	Read() (Frame, error)
	Close() error
}

// Driver opens captures for a given configuration.
type Driver interface {
	Name() string
	Open(ctx context.Context, cfg Config) (Capture, error)
}

// Connection owns one Capture. It is not safe for concurrent use; the
// supervisor serializes access.
type Connection struct {
	cfg     Config
	capture Capture
	driver  string
	once    sync.Once
	closed  bool
}

// Open establishes the transport and performs a verification read. When the
// verification read fails the capture is released before returning, so a
// failed Open never leaves a half-open handle behind. On success the
// verification frame is returned alongside the connection.
func Open(ctx context.Context, driver Driver, cfg Config) (*Connection, Frame, error) {
	if driver == nil {
		return nil, Frame{}, &TransportError{URI: cfg.URI, Op: "open", Err: errors.New("no capture driver")}
	}

	capture, err := driver.Open(ctx, cfg)
	if err != nil {
		return nil, Frame{}, &TransportError{URI: cfg.URI, Op: "open", Err: err}
	}

	frame, err := capture.Read()
	if err == nil && frame.Empty() {
		err = ErrEmptyFrame
	}
	if err != nil {
		_ = capture.Close()
		return nil, Frame{}, &TransportError{URI: cfg.URI, Op: "verify", Err: err}
	}

	return &Connection{cfg: cfg, capture: capture, driver: driver.Name()}, frame, nil
}

// ReadFrame reads the next frame from the transport.
func (c *Connection) ReadFrame() (Frame, error) {
	if c == nil || c.closed {
		return Frame{}, &ReadError{Err: ErrClosed}
	}

	frame, err := c.capture.Read()
	if err != nil {
		return Frame{}, &ReadError{Err: err}
	}
	if frame.Empty() {
		return Frame{}, &ReadError{Err: ErrEmptyFrame}
	}
	return frame, nil
}

// Close releases the transport. Closing a nil, never-opened or already
// closed connection is a no-op.
func (c *Connection) Close() error {
	if c == nil || c.capture == nil {
		return nil
	}

	var err error
	c.once.Do(func() {
		c.closed = true
		err = c.capture.Close()
	})
	return err
}

// Driver returns the name of the driver that opened the connection.
func (c *Connection) Driver() string {
	if c == nil {
		return ""
	}
	return c.driver
}

// RedactURI hides credentials embedded in a camera URI so it can be logged.
func RedactURI(uri string) string {
	u, err := url.Parse(uri)
	if err != nil {
		return "<invalid uri>"
	}
	return u.Redacted()
}
