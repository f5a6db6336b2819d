package services

import (
	"errors"
	"fmt"
	"net/http"
)

// UnauthorizedError is returned for rejected credentials.
type UnauthorizedError struct {
	Message string
}

func (e *UnauthorizedError) Error() string { return e.Message }

// BadRequestError is returned for malformed payloads.
type BadRequestError struct {
	Message string
}

func (e *BadRequestError) Error() string { return e.Message }

// NotReadyError is returned by the readiness probe.
type NotReadyError struct {
	State string
}

func (e *NotReadyError) Error() string {
	return fmt.Sprintf("camera is %s", e.State)
}

// ErrorBody is the JSON body written for service errors.
type ErrorBody struct {
	Name    string `json:"name"`
	Message string `json:"message"`
}

// statusOf maps a service error to its HTTP status and error name.
func statusOf(err error) (int, string) {
	var (
		unauthorized *UnauthorizedError
		badRequest   *BadRequestError
		notReady     *NotReadyError
	)
	switch {
	case errors.As(err, &unauthorized):
		return http.StatusUnauthorized, "unauthorized"
	case errors.As(err, &badRequest):
		return http.StatusBadRequest, "bad_request"
	case errors.As(err, &notReady):
		return http.StatusServiceUnavailable, "not_ready"
	default:
		return http.StatusInternalServerError, "internal"
	}
}
