// Package supervisor keeps one camera connection alive. It owns the
// connection, applies a bounded exponential backoff between reconnects and
// turns every capture failure into a typed Unavailable result.
package supervisor

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog"

	"huewatch/internal/camera"
)

// Policy bounds how hard the supervisor retries.
type Policy struct {
	FailureThreshold int           // consecutive read failures before reconnecting
	MaxAttempts      int           // reconnect attempts before Exhausted
	BaseDelay        time.Duration // delay before the first attempt
	MaxDelay         time.Duration // cap on the exponential delay
	SettleDelay      time.Duration // pause after releasing a stale handle
}

// DefaultPolicy returns threshold 10, 5 attempts, 1s base, 30s cap.
func DefaultPolicy() Policy {
	return Policy{
		FailureThreshold: 10,
		MaxAttempts:      5,
		BaseDelay:        time.Second,
		MaxDelay:         30 * time.Second,
		SettleDelay:      500 * time.Millisecond,
	}
}

// SleepFunc waits for d or until ctx is done.
type SleepFunc func(ctx context.Context, d time.Duration) error

// Option configures a Supervisor.
type Option func(*Supervisor)

// WithLogger sets the logger.
func WithLogger(l zerolog.Logger) Option {
	return func(s *Supervisor) { s.log = l }
}

// WithSleep replaces the backoff sleeper.
func WithSleep(fn SleepFunc) Option {
	return func(s *Supervisor) { s.sleep = fn }
}

// Supervisor serializes all access to the camera connection behind a single
// lock. The lock is a one-slot semaphore so callers can bound their wait with
// a context.
type Supervisor struct {
	driver camera.Driver
	cfg    camera.Config
	policy Policy
	log    zerolog.Logger
	sleep  SleepFunc

	sem chan struct{}

	// Guarded by sem.
	conn           *camera.Connection
	state          State
	backoff        Backoff
	failures       int
	lastErr        error
	lastFrameAt    time.Time
	connectedSince time.Time
	pending        []Transition
	settle         bool

	reconnects   atomic.Uint64
	readFailures atomic.Uint64
	view         atomic.Pointer[Status]

	listenersMu sync.RWMutex
	listeners   []func(Transition)
}

// New returns a supervisor in the Disconnected state. No connection is made
// until the first AcquireFrame.
func New(driver camera.Driver, cfg camera.Config, policy Policy, opts ...Option) *Supervisor {
	if policy.FailureThreshold < 1 {
		policy.FailureThreshold = 1
	}
	if policy.MaxAttempts < 1 {
		policy.MaxAttempts = 1
	}

	s := &Supervisor{
		driver:  driver,
		cfg:     cfg,
		policy:  policy,
		log:     zerolog.Nop(),
		sleep:   sleepCtx,
		sem:     make(chan struct{}, 1),
		state:   Disconnected,
		backoff: NewBackoff(policy.BaseDelay, policy.MaxDelay),
	}
	for _, opt := range opts {
		opt(s)
	}
	s.publish()
	return s
}

// OnStateChange registers fn to be called after every state transition. fn
// runs on the caller's goroutine after the connection lock is released and
// must not block.
func (s *Supervisor) OnStateChange(fn func(Transition)) {
	s.listenersMu.Lock()
	defer s.listenersMu.Unlock()
	s.listeners = append(s.listeners, fn)
}

// AcquireFrame returns the next frame or an *Unavailable. It is meant to be
// called from a single producer goroutine.
func (s *Supervisor) AcquireFrame(ctx context.Context) (camera.Frame, error) {
	if err := s.lock(ctx); err != nil {
		return camera.Frame{}, &Unavailable{Reason: "acquire cancelled", State: s.Status().State, Err: err}
	}
	frame, err := s.acquireLocked(ctx)
	s.unlock()

	return frame, err
}

func (s *Supervisor) acquireLocked(ctx context.Context) (camera.Frame, error) {
	switch s.state {
	case Exhausted:
		return camera.Frame{}, s.exhaustedErr()

	case Connected:
		frame, err := s.conn.ReadFrame()
		if err == nil {
			s.frameRead(frame)
			return frame, nil
		}

		s.failures++
		s.readFailures.Add(1)
		s.lastErr = err
		if s.failures < s.policy.FailureThreshold {
			s.log.Debug().Err(err).
				Int("failures", s.failures).
				Int("threshold", s.policy.FailureThreshold).
				Msg("frame read failed")
			return camera.Frame{}, &Unavailable{Reason: "frame read failed", State: Connected, Transient: true, Err: err}
		}

		s.log.Warn().Err(err).
			Int("failures", s.failures).
			Msg("too many consecutive read failures, reconnecting")
		s.failures = 0
		s.releaseLocked()
		s.transition(Disconnected, err)
	}

	return s.reconnectLocked(ctx)
}

func (s *Supervisor) reconnectLocked(ctx context.Context) (camera.Frame, error) {
	if s.backoff.Attempts() >= s.policy.MaxAttempts {
		s.transition(Exhausted, s.lastErr)
		return camera.Frame{}, s.exhaustedErr()
	}

	attempt, delay := s.backoff.Next()
	s.reconnects.Add(1)
	s.transition(Connecting, nil)

	s.log.Info().
		Int("attempt", attempt).
		Int("max_attempts", s.policy.MaxAttempts).
		Dur("delay", delay).
		Msg("reconnecting to camera")

	if err := s.sleep(ctx, delay); err != nil {
		s.transition(Disconnected, err)
		return camera.Frame{}, &Unavailable{Reason: "reconnect cancelled", State: Disconnected, Err: err}
	}

	if s.settle {
		s.settle = false
		if err := s.sleep(ctx, s.policy.SettleDelay); err != nil {
			s.transition(Disconnected, err)
			return camera.Frame{}, &Unavailable{Reason: "reconnect cancelled", State: Disconnected, Err: err}
		}
	}

	conn, frame, err := camera.Open(ctx, s.driver, s.cfg)
	if err != nil {
		s.lastErr = err
		s.log.Error().Err(err).
			Int("attempt", attempt).
			Str("category", camera.Classify(err).String()).
			Msg("camera reconnect failed")

		if s.backoff.Attempts() >= s.policy.MaxAttempts {
			s.transition(Exhausted, err)
			return camera.Frame{}, s.exhaustedErr()
		}
		s.transition(Disconnected, err)
		return camera.Frame{}, &Unavailable{Reason: "camera reconnect failed", State: Disconnected, Err: err}
	}

	s.conn = conn
	s.failures = 0
	s.lastErr = nil
	s.lastFrameAt = frame.CapturedAt
	s.connectedSince = time.Now()
	s.transition(Connected, nil)

	s.log.Info().
		Int("attempt", attempt).
		Int("width", frame.Width).
		Int("height", frame.Height).
		Str("driver", conn.Driver()).
		Msg("camera connected")

	return frame, nil
}

// releaseLocked closes a connection that stopped delivering frames. The next
// reconnect waits SettleDelay before opening a new one.
func (s *Supervisor) releaseLocked() {
	if s.conn == nil {
		return
	}
	if err := s.conn.Close(); err != nil {
		s.log.Warn().Err(err).Msg("failed to release stale camera handle")
	}
	s.conn = nil
	s.settle = true
}

// frameRead records a successful read on a live connection. The first one
// after a reconnect clears the backoff counter.
func (s *Supervisor) frameRead(frame camera.Frame) {
	s.failures = 0
	s.lastFrameAt = frame.CapturedAt
	if s.backoff.Attempts() > 0 {
		s.log.Debug().Int("attempts", s.backoff.Attempts()).Msg("reconnect counter reset")
		s.backoff.Reset()
	}
}

// ReadNow reads one frame from an already established connection without
// ever reconnecting. The wait for the connection lock is bounded by ctx.
func (s *Supervisor) ReadNow(ctx context.Context) (camera.Frame, error) {
	if err := s.lock(ctx); err != nil {
		return camera.Frame{}, &Unavailable{Reason: "camera busy", State: s.Status().State, Transient: true, Err: err}
	}
	defer s.unlock()

	switch s.state {
	case Connected:
	case Exhausted:
		return camera.Frame{}, s.exhaustedErr()
	default:
		return camera.Frame{}, &Unavailable{Reason: "camera not available", State: s.state, Err: ErrNotConnected}
	}

	frame, err := s.conn.ReadFrame()
	if err != nil {
		s.failures++
		s.readFailures.Add(1)
		s.lastErr = err
		return camera.Frame{}, &Unavailable{Reason: "frame read failed", State: Connected, Transient: true, Err: err}
	}
	s.frameRead(frame)
	return frame, nil
}

// ResetAttempts clears the reconnect counter and moves an exhausted
// supervisor back to Disconnected so the next AcquireFrame reconnects.
func (s *Supervisor) ResetAttempts(ctx context.Context) error {
	if err := s.lock(ctx); err != nil {
		return err
	}
	s.backoff.Reset()
	if s.state == Exhausted {
		s.transition(Disconnected, nil)
	}
	s.log.Info().Msg("reconnect attempts reset by operator")
	s.unlock()
	return nil
}

// Close releases the connection. Safe to call more than once.
func (s *Supervisor) Close() error {
	s.sem <- struct{}{}

	var err error
	if s.conn != nil {
		err = s.conn.Close()
		s.conn = nil
		if s.state == Connected {
			s.transition(Disconnected, nil)
		}
	}
	s.unlock()
	return err
}

// Status returns the last published snapshot without taking the connection
// lock.
func (s *Supervisor) Status() Status {
	return *s.view.Load()
}

// State returns the current state from the published snapshot.
func (s *Supervisor) State() State {
	return s.Status().State
}

func (s *Supervisor) exhaustedErr() error {
	return &Unavailable{
		Reason: "camera unavailable",
		State:  Exhausted,
		Err:    &ExhaustedError{Attempts: s.backoff.Attempts(), Last: s.lastErr},
	}
}

func (s *Supervisor) transition(to State, cause error) {
	if s.state == to {
		return
	}
	s.pending = append(s.pending, Transition{
		From:    s.state,
		To:      to,
		Attempt: s.backoff.Attempts(),
		Err:     cause,
		At:      time.Now(),
	})
	if s.state == Connected {
		s.connectedSince = time.Time{}
	}
	s.state = to
	s.publish()
}

func (s *Supervisor) lock(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	select {
	case s.sem <- struct{}{}:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// unlock publishes the snapshot, releases the lock, then delivers queued
// transitions.
func (s *Supervisor) unlock() {
	s.publish()
	pending := s.pending
	s.pending = nil
	<-s.sem

	if len(pending) == 0 {
		return
	}
	s.listenersMu.RLock()
	listeners := make([]func(Transition), len(s.listeners))
	copy(listeners, s.listeners)
	s.listenersMu.RUnlock()

	for _, tr := range pending {
		for _, fn := range listeners {
			fn(tr)
		}
	}
}

func (s *Supervisor) publish() {
	st := &Status{
		State:               s.state,
		Driver:              s.driverName(),
		ReconnectAttempts:   s.backoff.Attempts(),
		MaxAttempts:         s.policy.MaxAttempts,
		ConsecutiveFailures: s.failures,
		FailureThreshold:    s.policy.FailureThreshold,
		LastFrameAt:         s.lastFrameAt,
		ConnectedSince:      s.connectedSince,
		TotalReconnects:     s.reconnects.Load(),
		TotalReadFailures:   s.readFailures.Load(),
	}
	if s.lastErr != nil {
		st.LastError = s.lastErr.Error()
		st.LastErrorCategory = camera.Classify(s.lastErr).String()
	}
	s.view.Store(st)
}

func (s *Supervisor) driverName() string {
	if s.driver == nil {
		return ""
	}
	return s.driver.Name()
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-t.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
