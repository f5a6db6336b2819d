package supervisor

import (
	"fmt"
	"time"
)

// State is the connection lifecycle state.
type State int32

const (
	Disconnected State = iota
	Connecting
	Connected
	Exhausted
)

// String returns the lowercase state name.
func (s State) String() string {
	switch s {
	case Disconnected:
		return "disconnected"
	case Connecting:
		return "connecting"
	case Connected:
		return "connected"
	case Exhausted:
		return "exhausted"
	default:
		return fmt.Sprintf("state(%d)", int32(s))
	}
}

// MarshalText encodes the state by name.
func (s State) MarshalText() ([]byte, error) {
	return []byte(s.String()), nil
}

// UnmarshalText decodes a state name written by MarshalText.
func (s *State) UnmarshalText(text []byte) error {
	for _, st := range []State{Disconnected, Connecting, Connected, Exhausted} {
		if st.String() == string(text) {
			*s = st
			return nil
		}
	}
	return fmt.Errorf("unknown camera state %q", text)
}

// Transition describes one state change. Err is the failure that caused it,
// if any.
type Transition struct {
	From    State
	To      State
	Attempt int
	Err     error
	At      time.Time
}

// Status is a point-in-time view of the supervisor for diagnostics.
type Status struct {
	State               State     `json:"state"`
	Driver              string    `json:"driver"`
	ReconnectAttempts   int       `json:"reconnect_attempts"`
	MaxAttempts         int       `json:"max_attempts"`
	ConsecutiveFailures int       `json:"consecutive_failures"`
	FailureThreshold    int       `json:"failure_threshold"`
	LastError           string    `json:"last_error,omitempty"`
	LastErrorCategory   string    `json:"last_error_category,omitempty"`
	LastFrameAt         time.Time `json:"last_frame_at,omitempty"`
	ConnectedSince      time.Time `json:"connected_since,omitempty"`
	TotalReconnects     uint64    `json:"total_reconnects"`
	TotalReadFailures   uint64    `json:"total_read_failures"`
}
