package main

import (
	"context"
	"net/http"
	"os"
	"sync"
	"time"

	"github.com/rs/zerolog"
	goahttp "goa.design/goa/v3/http"
	httpmdlwr "goa.design/goa/v3/http/middleware"
	"goa.design/goa/v3/middleware"

	"huewatch/internal/config"
	"huewatch/internal/detection"
	"huewatch/internal/logging"
	mw "huewatch/internal/middleware"
	"huewatch/internal/services"
)

type httpHandlers struct {
	services  services.Services
	stream    http.Handler
	snapshot  http.Handler
	detect    *detection.Service
	ws        http.Handler
	protector mw.TokenValidator
}

// handleHTTPServer configures and starts the HTTP server on cfg.Addr. It
// shuts down the server when ctx is done.
func handleHTTPServer(ctx context.Context, cfg config.HTTPConfig, h httpHandlers, wg *sync.WaitGroup, errc chan error, logger zerolog.Logger) {
	log := logging.Component(logger, "http")

	// Setup goa log adapter.
	var (
		adapter middleware.Logger
	)
	{
		adapter = middleware.NewLogger(logging.StdLogger(logger, "http"))
	}

	// Provide the transport specific request decoder and response encoder.
	var (
		dec = goahttp.RequestDecoder
		enc = goahttp.ResponseEncoder
	)

	// Build the service HTTP request multiplexer and configure it to serve
	// HTTP requests to the service endpoints.
	var mux goahttp.Muxer
	{
		mux = goahttp.NewMuxer()
	}

	var apiServer *services.Server
	{
		eh := errorHandler(log)
		apiServer = services.New(h.services, dec, enc, eh, mw.AuthMiddleware(h.protector, log), log)
		if cfg.Debug {
			debug := httpmdlwr.Debug(mux, os.Stdout)
			apiServer.Status = debug(apiServer.Status)
			apiServer.Reset = debug(apiServer.Reset)
			apiServer.Login = debug(apiServer.Login)
		}
	}

	// Configure the mux.
	services.Mount(mux, apiServer)
	mux.Handle("GET", "/video_feed", h.stream.ServeHTTP)
	mux.Handle("GET", "/snapshot", h.snapshot.ServeHTTP)
	mux.Handle("GET", "/detect-color", detection.NewHandler(h.detect, enc, logging.Component(logger, "detection")).ServeHTTP)
	mux.Handle("GET", "/ws/detections", h.ws.ServeHTTP)

	// Wrap the multiplexer with additional middlewares. Middlewares mounted
	// here apply to all the service endpoints.
	var handler http.Handler = mux
	{
		handler = httpmdlwr.Log(adapter)(handler)
		handler = httpmdlwr.RequestID()(handler)
	}

	// The stream endpoints never finish a response, so the server sets no
	// write timeout.
	srv := &http.Server{Addr: cfg.Addr, Handler: handler, ReadHeaderTimeout: time.Second * 60}
	for _, m := range apiServer.Mounts {
		log.Info().Str("method", m.Method).Str("verb", m.Verb).Str("pattern", m.Pattern).Msg("HTTP endpoint mounted")
	}
	for _, p := range []string{"/video_feed", "/snapshot", "/detect-color", "/ws/detections"} {
		log.Info().Str("verb", "GET").Str("pattern", p).Msg("HTTP endpoint mounted")
	}

	wg.Add(1)
	go func() {
		defer wg.Done()

		// Start HTTP server in a separate goroutine.
		go func() {
			log.Info().Str("addr", cfg.Addr).Msg("HTTP server listening")
			errc <- srv.ListenAndServe()
		}()

		<-ctx.Done()
		log.Info().Str("addr", cfg.Addr).Msg("shutting down HTTP server")

		timeout := cfg.ShutdownTimeout
		if timeout <= 0 {
			timeout = 30 * time.Second
		}
		ctx, cancel := context.WithTimeout(context.Background(), timeout)
		defer cancel()

		if err := srv.Shutdown(ctx); err != nil {
			log.Warn().Err(err).Msg("failed to shutdown")
		}
	}()
}

// errorHandler returns a function that writes and logs the given error.
// The function also writes and logs the error unique ID so that it's possible
// to correlate.
func errorHandler(log zerolog.Logger) func(context.Context, http.ResponseWriter, error) {
	return func(ctx context.Context, w http.ResponseWriter, err error) {
		id, _ := ctx.Value(middleware.RequestIDKey).(string)
		_, _ = w.Write([]byte("[" + id + "] encoding: " + err.Error()))
		log.Error().Str("request_id", id).Err(err).Msg("request failed")
	}
}
