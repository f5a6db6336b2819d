// Package services implements the operator HTTP API: health probes, system
// status, manual recovery and login.
package services

import (
	"context"
	"net/http"

	"github.com/rs/zerolog"
	goahttp "goa.design/goa/v3/http"

	"huewatch/internal/middleware"
)

// MountPoint holds information about a mounted endpoint.
type MountPoint struct {
	// Method is the name of the service method served by the mounted HTTP handler.
	Method string
	// Verb is the HTTP method used to match requests to the mounted handler.
	Verb string
	// Pattern is the HTTP request path pattern used to match requests to the
	// mounted handler.
	Pattern string
}

// Server lists the operator API HTTP handlers.
type Server struct {
	Mounts  []*MountPoint
	Healthz http.Handler
	Readyz  http.Handler
	Status  http.Handler
	Reset   http.Handler
	Login   http.Handler
}

// Services groups the service implementations served over HTTP.
type Services struct {
	Health *HealthImplementation
	System *SystemImplementation
	Auth   *AuthImplementation
}

// New instantiates HTTP handlers for all the operator API methods. protect
// wraps the handlers that change state.
func New(
	svc Services,
	decoder func(*http.Request) goahttp.Decoder,
	encoder func(context.Context, http.ResponseWriter) goahttp.Encoder,
	errhandler func(context.Context, http.ResponseWriter, error),
	protect func(http.Handler) http.Handler,
	log zerolog.Logger,
) *Server {
	if protect == nil {
		protect = func(h http.Handler) http.Handler { return h }
	}
	w := &writer{enc: encoder, eh: errhandler}

	return &Server{
		Mounts: []*MountPoint{
			{"Healthz", "GET", "/healthz"},
			{"Readyz", "GET", "/readyz"},
			{"Status", "GET", "/api/v1/status"},
			{"Reset", "POST", "/api/v1/recovery/reset"},
			{"Login", "POST", "/api/v1/auth/login"},
		},
		Healthz: http.HandlerFunc(func(rw http.ResponseWriter, r *http.Request) {
			if err := svc.Health.Healthz(r.Context()); err != nil {
				w.error(r.Context(), rw, err)
				return
			}
			w.ok(r.Context(), rw, map[string]string{"status": "ok"})
		}),
		Readyz: http.HandlerFunc(func(rw http.ResponseWriter, r *http.Request) {
			if err := svc.Health.Readyz(r.Context()); err != nil {
				w.error(r.Context(), rw, err)
				return
			}
			w.ok(r.Context(), rw, map[string]string{"status": "ready"})
		}),
		Status: http.HandlerFunc(func(rw http.ResponseWriter, r *http.Request) {
			res, err := svc.System.Status(r.Context())
			if err != nil {
				w.error(r.Context(), rw, err)
				return
			}
			w.ok(r.Context(), rw, res)
		}),
		Reset: protect(http.HandlerFunc(func(rw http.ResponseWriter, r *http.Request) {
			ev := log.Info()
			if claims := middleware.GetUserFromContext(r.Context()); claims != nil {
				ev = ev.Str("user", claims.Username)
			}
			ev.Msg("manual recovery reset requested")

			res, err := svc.System.Reset(r.Context())
			if err != nil {
				w.error(r.Context(), rw, err)
				return
			}
			w.ok(r.Context(), rw, res)
		})),
		Login: http.HandlerFunc(func(rw http.ResponseWriter, r *http.Request) {
			var payload LoginPayload
			if err := decoder(r).Decode(&payload); err != nil {
				w.error(r.Context(), rw, &BadRequestError{Message: "invalid request body: " + err.Error()})
				return
			}
			res, err := svc.Auth.Login(r.Context(), &payload)
			if err != nil {
				w.error(r.Context(), rw, err)
				return
			}
			w.ok(r.Context(), rw, res)
		}),
	}
}

// Mount configures the mux to serve the operator API endpoints.
func Mount(mux goahttp.Muxer, h *Server) {
	mux.Handle("GET", "/healthz", h.Healthz.ServeHTTP)
	mux.Handle("GET", "/readyz", h.Readyz.ServeHTTP)
	mux.Handle("GET", "/api/v1/status", h.Status.ServeHTTP)
	mux.Handle("POST", "/api/v1/recovery/reset", h.Reset.ServeHTTP)
	mux.Handle("POST", "/api/v1/auth/login", h.Login.ServeHTTP)
}

type writer struct {
	enc func(context.Context, http.ResponseWriter) goahttp.Encoder
	eh  func(context.Context, http.ResponseWriter, error)
}

func (w *writer) ok(ctx context.Context, rw http.ResponseWriter, v any) {
	w.write(ctx, rw, http.StatusOK, v)
}

func (w *writer) error(ctx context.Context, rw http.ResponseWriter, err error) {
	code, name := statusOf(err)
	if code == http.StatusInternalServerError {
		rw.WriteHeader(code)
		w.eh(ctx, rw, err)
		return
	}
	w.write(ctx, rw, code, &ErrorBody{Name: name, Message: err.Error()})
}

func (w *writer) write(ctx context.Context, rw http.ResponseWriter, code int, v any) {
	rw.Header().Set("Content-Type", "application/json")
	rw.WriteHeader(code)
	if err := w.enc(ctx, rw).Encode(v); err != nil {
		w.eh(ctx, rw, err)
	}
}
