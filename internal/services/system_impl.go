package services

import (
	"context"
	"time"

	"huewatch/internal/emitter"
	"huewatch/internal/pipeline"
	"huewatch/internal/supervisor"
)

// CameraControl is the supervisor surface the system service needs.
type CameraControl interface {
	Status() supervisor.Status
	ResetAttempts(ctx context.Context) error
}

// SystemDeps are the components whose state the system status reports.
// Optional counters may be nil.
type SystemDeps struct {
	Camera        CameraControl
	Loop          func() pipeline.Stats
	CacheAge      func() float64
	StreamClients func() int
	WSClients     func() int
	WSDropped     func() uint64
	MQTT          func() emitter.Stats
	Strategy      string
}

// SystemStatus is the body of the status endpoint.
type SystemStatus struct {
	Camera           supervisor.Status `json:"camera"`
	Stream           pipeline.Stats    `json:"stream"`
	Strategy         string            `json:"strategy"`
	CacheAgeSeconds  float64           `json:"cache_age_seconds"`
	StreamClients    int               `json:"stream_clients"`
	WebSocketClients int               `json:"websocket_clients"`
	WebSocketDropped uint64            `json:"websocket_dropped"`
	MQTT             *emitter.Stats    `json:"mqtt,omitempty"`
	UptimeSeconds    int               `json:"uptime_seconds"`
}

// SystemImplementation implements the system service
type SystemImplementation struct {
	deps      SystemDeps
	startTime time.Time
}

// NewSystemService creates a new system service implementation
func NewSystemService(deps SystemDeps) *SystemImplementation {
	return &SystemImplementation{
		deps:      deps,
		startTime: time.Now(),
	}
}

// Status returns the overall system status
func (s *SystemImplementation) Status(ctx context.Context) (*SystemStatus, error) {
	status := &SystemStatus{
		Camera:          s.deps.Camera.Status(),
		Strategy:        s.deps.Strategy,
		CacheAgeSeconds: -1,
		UptimeSeconds:   int(time.Since(s.startTime).Seconds()),
	}

	if s.deps.Loop != nil {
		status.Stream = s.deps.Loop()
	}
	if s.deps.CacheAge != nil {
		status.CacheAgeSeconds = s.deps.CacheAge()
	}
	if s.deps.StreamClients != nil {
		status.StreamClients = s.deps.StreamClients()
	}
	if s.deps.WSClients != nil {
		status.WebSocketClients = s.deps.WSClients()
	}
	if s.deps.WSDropped != nil {
		status.WebSocketDropped = s.deps.WSDropped()
	}
	if s.deps.MQTT != nil {
		st := s.deps.MQTT()
		status.MQTT = &st
	}

	return status, nil
}

// Reset clears the reconnect budget so an exhausted camera is retried, then
// returns the updated status.
func (s *SystemImplementation) Reset(ctx context.Context) (*SystemStatus, error) {
	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	if err := s.deps.Camera.ResetAttempts(ctx); err != nil {
		return nil, &NotReadyError{State: "busy: " + err.Error()}
	}
	return s.Status(ctx)
}
