// Package detection answers on-demand color queries. It prefers the frame the
// acquisition loop cached, then a direct read from a live connection, then a
// bounded-age cached frame, and degrades to a structured status instead of
// failing the request.
package detection

import (
	"context"
	"errors"
	"math"
	"time"

	"github.com/rs/zerolog"

	"huewatch/internal/camera"
	"huewatch/internal/pipeline"
	"huewatch/internal/supervisor"
)

// Status tags a Response.
type Status string

const (
	StatusSuccess      Status = "success"
	StatusStale        Status = "stale"
	StatusDisconnected Status = "disconnected"
	StatusNoFrame      Status = "no_frame"
	StatusError        Status = "error"
)

// Where the analyzed frame came from.
const (
	SourceCache      = "cache"
	SourceCamera     = "camera"
	SourceStaleCache = "stale_cache"
)

// Preprocessing lists the lighting normalization steps applied.
type Preprocessing struct {
	HistogramEq     bool `json:"histogram_eq"`
	GammaCorrection bool `json:"gamma_correction"`
	SaturationBoost bool `json:"saturation_boost"`
}

// DebugInfo carries diagnostics for a successful analysis.
type DebugInfo struct {
	DominantHue     int           `json:"dominant_hue"`
	AvgSaturation   float64       `json:"avg_saturation"`
	AvgValue        float64       `json:"avg_value"`
	DetectionMethod string        `json:"detection_method"`
	ActiveRanges    int           `json:"active_ranges"`
	Preprocessing   Preprocessing `json:"preprocessing"`
	FrameAge        float64       `json:"frame_age"`
	FrameSource     string        `json:"frame_source"`
	CameraState     string        `json:"camera_state,omitempty"`
}

// Response is the JSON body of a detection query. DebugInfo is an empty
// object on failure.
type Response struct {
	Pink      float64 `json:"pink"`
	White     float64 `json:"white"`
	Status    Status  `json:"status"`
	Error     string  `json:"error,omitempty"`
	DebugInfo any     `json:"debug_info"`
}

// FrameReader reads directly from an established connection.
// *supervisor.Supervisor implements it.
type FrameReader interface {
	ReadNow(ctx context.Context) (camera.Frame, error)
}

// Options tunes the fallback chain.
type Options struct {
	StaleAfter     time.Duration // cached frames older than this trigger a direct read
	MaxFallbackAge time.Duration // oldest cached frame served after a failed read
	ReadTimeout    time.Duration // bound on the direct read, including lock wait
}

// Service runs detection queries.
type Service struct {
	cache    *pipeline.StreamCache
	reader   FrameReader
	analyzer pipeline.Analyzer
	opts     Options
	log      zerolog.Logger
}

// NewService returns a query service.
func NewService(cache *pipeline.StreamCache, reader FrameReader, analyzer pipeline.Analyzer, opts Options, log zerolog.Logger) *Service {
	if opts.StaleAfter <= 0 {
		opts.StaleAfter = 5 * time.Second
	}
	if opts.MaxFallbackAge < opts.StaleAfter {
		opts.MaxFallbackAge = opts.StaleAfter
	}
	if opts.ReadTimeout <= 0 {
		opts.ReadTimeout = 5 * time.Second
	}
	return &Service{cache: cache, reader: reader, analyzer: analyzer, opts: opts, log: log}
}

// pick is the frame chosen by the fallback chain.
type pick struct {
	frame  camera.Frame
	source string
	age    float64 // seconds, -1 when the cache is empty

	// Set on the stale path: the state the direct read reported.
	state string
	err   error
}

// Detect analyzes the best available frame.
func (s *Service) Detect(ctx context.Context) Response {
	p, resp, ok := s.frame(ctx)
	if !ok {
		return resp
	}
	frame, source := p.frame, p.source

	res, err := s.analyzer.Analyze(frame)
	if err != nil {
		s.log.Error().Err(err).Msg("detection analysis failed")
		return failure(StatusError, "Analysis error: "+err.Error())
	}

	info := DebugInfo{
		DominantHue:     res.Distribution.DominantHue,
		AvgSaturation:   round1(res.Distribution.AvgSaturation),
		AvgValue:        round1(res.Distribution.AvgValue),
		DetectionMethod: res.Strategy.Method(),
		ActiveRanges:    res.ActiveRanges,
		Preprocessing: Preprocessing{
			HistogramEq:     res.Preprocessed,
			GammaCorrection: res.Preprocessed,
			SaturationBoost: res.Preprocessed,
		},
		FrameAge:    frameAge(p.age),
		FrameSource: source,
		CameraState: p.state,
	}
	out := Response{Pink: res.Pink, White: res.White, Status: StatusSuccess, DebugInfo: info}
	if source == SourceStaleCache {
		out.Status = StatusStale
		if supervisor.IsExhausted(p.err) {
			out.Error = msgExhausted
		}
	}
	return out
}

const msgExhausted = "Camera not available: reconnect attempts exhausted"

// frame walks the fallback chain. When ok is false resp is the payload to
// return.
func (s *Service) frame(ctx context.Context) (pick, Response, bool) {
	if frame, age, ok := s.cache.Lookup(); ok && age <= s.opts.StaleAfter {
		return pick{frame: frame, source: SourceCache, age: age.Seconds()}, Response{}, true
	}

	readCtx, cancel := context.WithTimeout(ctx, s.opts.ReadTimeout)
	frame, err := s.reader.ReadNow(readCtx)
	cancel()
	if err == nil {
		return pick{frame: frame, source: SourceCamera, age: s.cache.AgeSeconds()}, Response{}, true
	}

	if cached, age, ok := s.cache.Lookup(); ok && age <= s.opts.MaxFallbackAge {
		var state string
		var ue *supervisor.Unavailable
		if errors.As(err, &ue) {
			state = ue.State.String()
		}
		s.log.Warn().Err(err).
			Dur("age", age).
			Str("camera_state", state).
			Msg("using cached frame after read failure")
		return pick{frame: cached, source: SourceStaleCache, age: age.Seconds(), state: state, err: err}, Response{}, true
	}

	switch {
	case supervisor.IsExhausted(err):
		return pick{}, failure(StatusDisconnected, msgExhausted), false
	case errors.Is(err, supervisor.ErrNotConnected):
		return pick{}, failure(StatusDisconnected, "Camera not available"), false
	default:
		s.log.Warn().Err(err).Msg("direct frame read failed")
		return pick{}, failure(StatusNoFrame, "Failed to read frame"), false
	}
}

func failure(status Status, msg string) Response {
	return Response{Status: status, Error: msg, DebugInfo: struct{}{}}
}

func round1(v float64) float64 {
	return math.Round(v*10) / 10
}

func frameAge(seconds float64) float64 {
	if seconds < 0 {
		return -1
	}
	return math.Round(seconds*1000) / 1000
}
