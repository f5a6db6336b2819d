package camera

import (
	"errors"
	"fmt"
)

var (
	// ErrEmptyFrame is returned when the transport answers a read without pixels.
	ErrEmptyFrame = errors.New("camera returned an empty frame")
	// ErrClosed is returned when reading from a closed connection.
	ErrClosed = errors.New("camera connection is closed")
)

// TransportError reports a failure to establish or verify the transport.
// It is recoverable through the supervisor's reconnect policy.
type TransportError struct {
	URI string
	Op  string // open, verify
	Err error
}

func (e *TransportError) Error() string {
	return fmt.Sprintf("camera %s %s: %v", e.Op, RedactURI(e.URI), e.Err)
}

func (e *TransportError) Unwrap() error { return e.Err }

// ReadError reports a single failed frame read on an open connection.
type ReadError struct {
	Err error
}

func (e *ReadError) Error() string {
	return fmt.Sprintf("camera read: %v", e.Err)
}

func (e *ReadError) Unwrap() error { return e.Err }
