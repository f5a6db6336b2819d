package services

import (
	"context"

	"huewatch/internal/supervisor"
)

// StateReader reports the camera connection state.
type StateReader interface {
	State() supervisor.State
}

// HealthImplementation implements the health service
type HealthImplementation struct {
	camera StateReader
}

// NewHealthService creates a new health service implementation
func NewHealthService(camera StateReader) *HealthImplementation {
	return &HealthImplementation{camera: camera}
}

// Healthz implements the liveness probe
func (h *HealthImplementation) Healthz(ctx context.Context) error {
	return nil
}

// Readyz reports ready only while the camera is connected. The stream keeps
// serving error frames otherwise, but detection results would be degraded.
func (h *HealthImplementation) Readyz(ctx context.Context) error {
	if st := h.camera.State(); st != supervisor.Connected {
		return &NotReadyError{State: st.String()}
	}
	return nil
}
