package ws

import (
	"time"

	"huewatch/internal/pipeline"
	"huewatch/internal/supervisor"
)

// DetectionMessage is broadcast for every analyzed frame.
type DetectionMessage struct {
	Type          string    `json:"type"` // "detection"
	Seq           uint64    `json:"seq"`
	TraceID       string    `json:"trace_id,omitempty"`
	Timestamp     time.Time `json:"timestamp"`
	Pink          float64   `json:"pink"`
	White         float64   `json:"white"`
	DominantHue   int       `json:"dominant_hue"`
	AvgSaturation float64   `json:"avg_saturation"`
	AvgValue      float64   `json:"avg_value"`
	Method        string    `json:"detection_method"`
}

// StateMessage is broadcast on every connection state change.
type StateMessage struct {
	Type      string    `json:"type"` // "state"
	From      string    `json:"from"`
	To        string    `json:"to"`
	Attempt   int       `json:"attempt"`
	Error     string    `json:"error,omitempty"`
	Timestamp time.Time `json:"timestamp"`
}

// NewDetectionMessage creates a detection message from a loop event.
func NewDetectionMessage(ev *pipeline.DetectionEvent) *DetectionMessage {
	return &DetectionMessage{
		Type:          "detection",
		Seq:           ev.Seq,
		TraceID:       ev.TraceID,
		Timestamp:     ev.CapturedAt,
		Pink:          ev.Result.Pink,
		White:         ev.Result.White,
		DominantHue:   ev.Result.Distribution.DominantHue,
		AvgSaturation: ev.Result.Distribution.AvgSaturation,
		AvgValue:      ev.Result.Distribution.AvgValue,
		Method:        ev.Result.Strategy.Method(),
	}
}

// NewStateMessage creates a state message from a supervisor transition.
func NewStateMessage(tr supervisor.Transition) *StateMessage {
	m := &StateMessage{
		Type:      "state",
		From:      tr.From.String(),
		To:        tr.To.String(),
		Attempt:   tr.Attempt,
		Timestamp: tr.At,
	}
	if tr.Err != nil {
		m.Error = tr.Err.Error()
	}
	return m
}
