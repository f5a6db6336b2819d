// Package pipeline runs the frame acquisition loop and shares its output:
// encoded frames to stream subscribers, raw frames through the StreamCache
// and detection results through the EventBus.
package pipeline

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog"

	"huewatch/internal/analysis"
	"huewatch/internal/camera"
	"huewatch/internal/supervisor"
)

// ErrLoopStarted is returned by Run on a loop that already ran.
var ErrLoopStarted = errors.New("acquisition loop already started")

// FrameSource yields the next frame or an error. *supervisor.Supervisor
// implements it.
type FrameSource interface {
	AcquireFrame(ctx context.Context) (camera.Frame, error)
}

// Analyzer computes the color composition of a frame's center region.
type Analyzer interface {
	Analyze(frame camera.Frame) (analysis.Result, error)
}

// Annotator draws res onto a copy of frame and encodes it. Encoding failures
// are reported as *analysis.DecodeError.
type Annotator interface {
	Annotate(frame camera.Frame, res analysis.Result) ([]byte, error)
}

// Presenter renders a placeholder image for a failure reason.
type Presenter interface {
	Render(reason string) ([]byte, error)
}

// EncodedFrame is one element of the output stream.
type EncodedFrame struct {
	Seq         uint64
	Data        []byte // JPEG
	At          time.Time
	Placeholder bool // rendered by the Presenter instead of captured
}

// Subscription receives encoded frames until Done is closed.
type Subscription struct {
	Channel chan *EncodedFrame
	Done    chan struct{}
}

// Stats counts what the loop has produced.
type Stats struct {
	FramesCaptured  uint64    `json:"frames_captured"`
	FramesFailed    uint64    `json:"frames_failed"`
	AnalyzeFailures uint64    `json:"analyze_failures"`
	EncodeFailures  uint64    `json:"encode_failures"`
	Placeholders    uint64    `json:"placeholders"`
	FramesDropped   uint64    `json:"frames_dropped"`
	Subscribers     int       `json:"subscribers"`
	LastFrameAt     time.Time `json:"last_frame_at,omitempty"`
	Running         bool      `json:"running"`
}

// LoopConfig paces retries after a failed acquisition.
type LoopConfig struct {
	RetryPause     time.Duration
	TransientPause time.Duration
}

// LoopOption configures a Loop.
type LoopOption func(*Loop)

// WithLoopLogger sets the logger.
func WithLoopLogger(l zerolog.Logger) LoopOption {
	return func(lp *Loop) { lp.log = l }
}

// WithEventBus publishes a DetectionEvent for every analyzed frame.
func WithEventBus(b *EventBus) LoopOption {
	return func(lp *Loop) { lp.bus = b }
}

// WithLoopSleep replaces the retry sleeper.
func WithLoopSleep(fn supervisor.SleepFunc) LoopOption {
	return func(lp *Loop) { lp.sleep = fn }
}

// Loop is the single frame producer.
type Loop struct {
	source    FrameSource
	cache     *StreamCache
	analyzer  Analyzer
	annotator Annotator
	presenter Presenter
	bus       *EventBus
	cfg       LoopConfig
	sleep     supervisor.SleepFunc
	log       zerolog.Logger

	subMu       sync.RWMutex
	subscribers map[*Subscription]bool
	stopped     bool

	latest  atomic.Pointer[EncodedFrame]
	started atomic.Bool
	running atomic.Bool
	seq     atomic.Uint64

	captured, failed, analyzeFailed, encodeFailed, placeholders, dropped atomic.Uint64
	lastFrameAt                                                         atomic.Int64
}

// NewLoop wires a loop. Run must be called to start producing.
func NewLoop(source FrameSource, cache *StreamCache, analyzer Analyzer, annotator Annotator, presenter Presenter, cfg LoopConfig, opts ...LoopOption) *Loop {
	if cfg.RetryPause <= 0 {
		cfg.RetryPause = time.Second
	}
	if cfg.TransientPause <= 0 {
		cfg.TransientPause = 100 * time.Millisecond
	}

	l := &Loop{
		source:      source,
		cache:       cache,
		analyzer:    analyzer,
		annotator:   annotator,
		presenter:   presenter,
		cfg:         cfg,
		sleep:       sleep,
		log:         zerolog.Nop(),
		subscribers: make(map[*Subscription]bool),
	}
	for _, opt := range opts {
		opt(l)
	}
	return l
}

// Run produces frames until ctx is cancelled. A loop runs at most once.
func (l *Loop) Run(ctx context.Context) error {
	if !l.started.CompareAndSwap(false, true) {
		return ErrLoopStarted
	}
	l.running.Store(true)
	defer l.running.Store(false)
	defer l.stop()

	l.log.Info().Msg("acquisition loop started")
	for ctx.Err() == nil {
		l.step(ctx)
	}
	l.log.Info().Uint64("frames", l.captured.Load()).Msg("acquisition loop stopped")
	return nil
}

func (l *Loop) step(ctx context.Context) {
	frame, err := l.source.AcquireFrame(ctx)
	if err != nil {
		if ctx.Err() != nil {
			return
		}
		l.failed.Add(1)
		l.emitPlaceholder(reason(err))

		pause := l.cfg.RetryPause
		if supervisor.IsTransient(err) {
			pause = l.cfg.TransientPause
		}
		_ = l.sleep(ctx, pause)
		return
	}

	l.captured.Add(1)
	l.lastFrameAt.Store(frame.CapturedAt.UnixNano())

	res, err := l.analyzer.Analyze(frame)
	if err != nil {
		l.analyzeFailed.Add(1)
		l.log.Warn().Err(err).Uint64("seq", frame.Seq).Msg("frame analysis failed")
		l.cache.Put(frame, frame.CapturedAt)
		return
	}

	jpeg, encErr := l.annotator.Annotate(frame, res)
	l.cache.Put(frame, frame.CapturedAt)

	if l.bus != nil {
		l.bus.Publish(&DetectionEvent{
			Seq:        frame.Seq,
			TraceID:    frame.TraceID,
			CapturedAt: frame.CapturedAt,
			Result:     res,
		})
	}

	if encErr != nil {
		l.encodeFailed.Add(1)
		var de *analysis.DecodeError
		if !errors.As(encErr, &de) {
			l.log.Error().Err(encErr).Uint64("seq", frame.Seq).Msg("annotate failed")
		} else {
			l.log.Warn().Err(encErr).Uint64("seq", frame.Seq).Msg("skipping frame")
		}
		return
	}

	l.broadcast(&EncodedFrame{Data: jpeg, At: frame.CapturedAt})
}

func (l *Loop) emitPlaceholder(msg string) {
	data, err := l.presenter.Render(msg)
	if err != nil {
		l.log.Error().Err(err).Msg("render error frame")
		return
	}
	l.placeholders.Add(1)
	l.broadcast(&EncodedFrame{Data: data, At: time.Now(), Placeholder: true})
}

func (l *Loop) broadcast(f *EncodedFrame) {
	f.Seq = l.seq.Add(1)
	l.latest.Store(f)

	l.subMu.RLock()
	for sub := range l.subscribers {
		select {
		case sub.Channel <- f:
		default:
			l.dropped.Add(1)
		}
	}
	n := len(l.subscribers)
	l.subMu.RUnlock()

	if f.Seq%100 == 0 {
		l.log.Debug().Uint64("seq", f.Seq).Int("subscribers", n).Msg("stream progress")
	}
}

// Subscribe returns a subscription with the given channel buffer. On a
// stopped loop Done is already closed.
func (l *Loop) Subscribe(bufferSize int) *Subscription {
	if bufferSize <= 0 {
		bufferSize = 5
	}
	sub := &Subscription{
		Channel: make(chan *EncodedFrame, bufferSize),
		Done:    make(chan struct{}),
	}

	l.subMu.Lock()
	if l.stopped {
		close(sub.Done)
	} else {
		l.subscribers[sub] = true
	}
	n := len(l.subscribers)
	l.subMu.Unlock()

	l.log.Debug().Int("subscribers", n).Msg("stream subscriber added")
	return sub
}

// Unsubscribe removes sub. Safe to call more than once.
func (l *Loop) Unsubscribe(sub *Subscription) {
	if sub == nil {
		return
	}

	l.subMu.Lock()
	if _, ok := l.subscribers[sub]; ok {
		delete(l.subscribers, sub)
		close(sub.Done)
	}
	n := len(l.subscribers)
	l.subMu.Unlock()

	l.log.Debug().Int("subscribers", n).Msg("stream subscriber removed")
}

func (l *Loop) stop() {
	l.subMu.Lock()
	defer l.subMu.Unlock()

	l.stopped = true
	for sub := range l.subscribers {
		close(sub.Done)
		delete(l.subscribers, sub)
	}
}

// Latest returns the last emitted frame, captured or placeholder, or nil.
func (l *Loop) Latest() *EncodedFrame {
	return l.latest.Load()
}

// Stats returns a copy of the loop counters.
func (l *Loop) Stats() Stats {
	l.subMu.RLock()
	subs := len(l.subscribers)
	l.subMu.RUnlock()

	st := Stats{
		FramesCaptured:  l.captured.Load(),
		FramesFailed:    l.failed.Load(),
		AnalyzeFailures: l.analyzeFailed.Load(),
		EncodeFailures:  l.encodeFailed.Load(),
		Placeholders:    l.placeholders.Load(),
		FramesDropped:   l.dropped.Load(),
		Subscribers:     subs,
		Running:         l.running.Load(),
	}
	if ns := l.lastFrameAt.Load(); ns != 0 {
		st.LastFrameAt = time.Unix(0, ns)
	}
	return st
}

// reason turns an acquisition failure into the text shown on the error frame.
func reason(err error) string {
	if supervisor.IsExhausted(err) {
		return "Reconnect attempts exhausted"
	}
	var ue *supervisor.Unavailable
	if errors.As(err, &ue) {
		return ue.Reason
	}
	return err.Error()
}

func sleep(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-t.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
