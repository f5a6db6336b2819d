package supervisor

import (
	"errors"
	"fmt"
)

// ErrNotConnected is returned by ReadNow when no connection is established.
var ErrNotConnected = errors.New("camera is not connected")

// ExhaustedError reports that the reconnect budget is spent. The supervisor
// stays exhausted until ResetAttempts is called.
type ExhaustedError struct {
	Attempts int
	Last     error
}

func (e *ExhaustedError) Error() string {
	if e.Last != nil {
		return fmt.Sprintf("reconnect attempts exhausted after %d tries: %v", e.Attempts, e.Last)
	}
	return fmt.Sprintf("reconnect attempts exhausted after %d tries", e.Attempts)
}

func (e *ExhaustedError) Unwrap() error { return e.Last }

// Unavailable is the only error AcquireFrame and ReadNow return. Transient
// is set for isolated read failures on a live connection, which are worth
// retrying almost immediately.
type Unavailable struct {
	Reason    string
	State     State
	Transient bool
	Err       error
}

func (e *Unavailable) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %v", e.Reason, e.Err)
	}
	return e.Reason
}

func (e *Unavailable) Unwrap() error { return e.Err }

// IsExhausted reports whether err carries an ExhaustedError.
func IsExhausted(err error) bool {
	var ee *ExhaustedError
	return errors.As(err, &ee)
}

// IsTransient reports whether err is a transient Unavailable.
func IsTransient(err error) bool {
	var ue *Unavailable
	return errors.As(err, &ue) && ue.Transient
}
