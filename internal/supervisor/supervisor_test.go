package supervisor

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"huewatch/internal/camera"
	"huewatch/internal/camera/cameratest"
)

type sleepRecorder struct {
	mu     sync.Mutex
	delays []time.Duration
}

func (r *sleepRecorder) sleep(ctx context.Context, d time.Duration) error {
	r.mu.Lock()
	r.delays = append(r.delays, d)
	r.mu.Unlock()
	return ctx.Err()
}

func (r *sleepRecorder) recorded() []time.Duration {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]time.Duration(nil), r.delays...)
}

func testPolicy() Policy {
	p := DefaultPolicy()
	p.SettleDelay = 500 * time.Millisecond
	return p
}

func newTestSupervisor(t *testing.T, d *cameratest.Driver) (*Supervisor, *sleepRecorder) {
	t.Helper()
	rec := &sleepRecorder{}
	s := New(d, camera.Config{URI: "rtsp://cam.local/stream"}, testPolicy(), WithSleep(rec.sleep))
	t.Cleanup(func() { _ = s.Close() })
	return s, rec
}

func TestBackoffDelay(t *testing.T) {
	b := NewBackoff(time.Second, 30*time.Second)

	tests := []struct {
		attempt int
		want    time.Duration
	}{
		{0, 0},
		{1, time.Second},
		{2, 2 * time.Second},
		{3, 4 * time.Second},
		{5, 16 * time.Second},
		{6, 30 * time.Second},
		{40, 30 * time.Second},
		{1000, 30 * time.Second},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, b.Delay(tt.attempt), "attempt %d", tt.attempt)
	}
}

func TestBackoffMonotonicAndCapped(t *testing.T) {
	b := NewBackoff(250*time.Millisecond, 10*time.Second)

	prev := time.Duration(0)
	for n := 1; n <= 80; n++ {
		d := b.Delay(n)
		assert.GreaterOrEqual(t, d, prev, "attempt %d", n)
		assert.LessOrEqual(t, d, 10*time.Second, "attempt %d", n)
		prev = d
	}
}

func TestBackoffNextAndReset(t *testing.T) {
	b := NewBackoff(time.Second, 30*time.Second)

	n, d := b.Next()
	assert.Equal(t, 1, n)
	assert.Equal(t, time.Second, d)

	n, d = b.Next()
	assert.Equal(t, 2, n)
	assert.Equal(t, 2*time.Second, d)
	assert.Equal(t, 2, b.Attempts())

	b.Reset()
	assert.Equal(t, 0, b.Attempts())
}

func TestAcquireFrameConnectsOnFirstUse(t *testing.T) {
	d := &cameratest.Driver{}
	s, rec := newTestSupervisor(t, d)

	assert.Equal(t, Disconnected, s.State())

	frame, err := s.AcquireFrame(context.Background())
	require.NoError(t, err)
	assert.False(t, frame.Empty())

	assert.Equal(t, Connected, s.State())
	assert.Equal(t, 1, d.Opens())
	assert.Equal(t, []time.Duration{time.Second}, rec.recorded())
	assert.Equal(t, 1, s.Status().ReconnectAttempts)
}

func TestBackoffResetsOnlyAfterReadFollowingReconnect(t *testing.T) {
	d := &cameratest.Driver{OpenErrs: []error{errors.New("connection refused"), nil}}
	s, _ := newTestSupervisor(t, d)
	ctx := context.Background()

	_, err := s.AcquireFrame(ctx)
	require.Error(t, err)
	assert.Equal(t, 1, s.Status().ReconnectAttempts)

	// Reconnect succeeds; the verification frame does not clear the counter.
	_, err = s.AcquireFrame(ctx)
	require.NoError(t, err)
	assert.Equal(t, Connected, s.State())
	assert.Equal(t, 2, s.Status().ReconnectAttempts)

	_, err = s.AcquireFrame(ctx)
	require.NoError(t, err)
	assert.Equal(t, 0, s.Status().ReconnectAttempts)
}

func TestUnreachableSourceExhausts(t *testing.T) {
	d := &cameratest.Driver{FailOpen: true}
	s, rec := newTestSupervisor(t, d)
	ctx := context.Background()

	for i := 1; i <= 5; i++ {
		_, err := s.AcquireFrame(ctx)
		require.Error(t, err, "attempt %d", i)

		var ue *Unavailable
		require.ErrorAs(t, err, &ue)
		if i < 5 {
			assert.False(t, IsExhausted(err), "attempt %d", i)
			assert.Equal(t, Disconnected, ue.State)
		}
	}

	assert.Equal(t, Exhausted, s.State())
	assert.Equal(t, 5, d.Opens())
	assert.Equal(t, []time.Duration{
		time.Second, 2 * time.Second, 4 * time.Second, 8 * time.Second, 16 * time.Second,
	}, rec.recorded())

	// Once exhausted no more sleeping or opening happens.
	for i := 0; i < 3; i++ {
		_, err := s.AcquireFrame(ctx)
		assert.True(t, IsExhausted(err))
	}
	assert.Equal(t, 5, d.Opens())
	assert.Len(t, rec.recorded(), 5)

	st := s.Status()
	assert.Equal(t, "network", st.LastErrorCategory)
	assert.Contains(t, st.LastError, "connection refused")
}

func TestTransientFailuresBelowThreshold(t *testing.T) {
	d := &cameratest.Driver{}
	s, _ := newTestSupervisor(t, d)
	ctx := context.Background()

	_, err := s.AcquireFrame(ctx)
	require.NoError(t, err)

	readErr := errors.New("cannot read frame")
	errs := make([]error, 9)
	for i := range errs {
		errs[i] = readErr
	}
	d.SetReadErrs(errs...)

	for i := 1; i <= 9; i++ {
		_, err := s.AcquireFrame(ctx)
		require.Error(t, err)
		assert.True(t, IsTransient(err), "failure %d", i)
		assert.Equal(t, i, s.Status().ConsecutiveFailures)
	}

	frame, err := s.AcquireFrame(ctx)
	require.NoError(t, err)
	assert.False(t, frame.Empty())

	st := s.Status()
	assert.Equal(t, Connected, st.State)
	assert.Equal(t, 0, st.ConsecutiveFailures)
	assert.Equal(t, uint64(9), st.TotalReadFailures)
	assert.Equal(t, 1, d.Opens())
}

func TestThresholdTriggersReconnect(t *testing.T) {
	d := &cameratest.Driver{}
	s, rec := newTestSupervisor(t, d)
	ctx := context.Background()

	_, err := s.AcquireFrame(ctx)
	require.NoError(t, err)
	// Reset the counter with a good read so the next reconnect is attempt 1.
	_, err = s.AcquireFrame(ctx)
	require.NoError(t, err)

	readErr := errors.New("cannot read frame")
	errs := make([]error, 10)
	for i := range errs {
		errs[i] = readErr
	}
	d.SetReadErrs(errs...)

	for i := 1; i < 10; i++ {
		_, err := s.AcquireFrame(ctx)
		require.True(t, IsTransient(err))
	}

	// The tenth failure reconnects within the same call.
	frame, err := s.AcquireFrame(ctx)
	require.NoError(t, err)
	assert.False(t, frame.Empty())
	assert.Equal(t, Connected, s.State())
	assert.Equal(t, 2, d.Opens())

	caps := d.Captures()
	require.Len(t, caps, 2)
	assert.Equal(t, 1, caps[0].CloseCalls())
	assert.Equal(t, 0, caps[1].CloseCalls())

	// Backoff for attempt 1, backoff again, then the settle pause.
	assert.Equal(t, []time.Duration{time.Second, time.Second, 500 * time.Millisecond}, rec.recorded())
}

func TestExhaustedAfterReadFailuresReleasesCapture(t *testing.T) {
	d := &cameratest.Driver{}
	rec := &sleepRecorder{}
	policy := testPolicy()
	policy.MaxAttempts = 1
	policy.FailureThreshold = 3
	s := New(d, camera.Config{URI: "rtsp://cam.local/stream"}, policy, WithSleep(rec.sleep))
	ctx := context.Background()

	_, err := s.AcquireFrame(ctx)
	require.NoError(t, err)

	readErr := errors.New("cannot read frame")
	d.SetReadErrs(readErr, readErr, readErr)
	for i := 1; i < 3; i++ {
		_, err := s.AcquireFrame(ctx)
		require.True(t, IsTransient(err))
	}

	_, err = s.AcquireFrame(ctx)
	require.True(t, IsExhausted(err))
	assert.Equal(t, Exhausted, s.State())
	assert.Equal(t, 1, d.Opens())

	caps := d.Captures()
	require.Len(t, caps, 1)
	assert.Equal(t, 1, caps[0].CloseCalls(), "dead capture is released before exhausting")

	// After a reset the reconnect still settles before reopening.
	require.NoError(t, s.ResetAttempts(ctx))
	_, err = s.AcquireFrame(ctx)
	require.NoError(t, err)
	assert.Equal(t, []time.Duration{time.Second, time.Second, 500 * time.Millisecond}, rec.recorded())

	require.NoError(t, s.Close())
	assert.Equal(t, 1, caps[0].CloseCalls())
	assert.Equal(t, 2, d.Closes())
}

func TestResetAttemptsLeavesExhausted(t *testing.T) {
	d := &cameratest.Driver{FailOpen: true}
	s, _ := newTestSupervisor(t, d)
	ctx := context.Background()

	for i := 0; i < 5; i++ {
		_, _ = s.AcquireFrame(ctx)
	}
	require.Equal(t, Exhausted, s.State())

	require.NoError(t, s.ResetAttempts(ctx))
	assert.Equal(t, Disconnected, s.State())
	assert.Equal(t, 0, s.Status().ReconnectAttempts)

	d.SetFailOpen(false)
	_, err := s.AcquireFrame(ctx)
	require.NoError(t, err)
	assert.Equal(t, Connected, s.State())
}

func TestReadNow(t *testing.T) {
	ctx := context.Background()

	t.Run("not connected", func(t *testing.T) {
		d := &cameratest.Driver{}
		s, _ := newTestSupervisor(t, d)

		_, err := s.ReadNow(ctx)
		require.ErrorIs(t, err, ErrNotConnected)
		assert.Equal(t, 0, d.Opens())
	})

	t.Run("connected", func(t *testing.T) {
		d := &cameratest.Driver{}
		s, _ := newTestSupervisor(t, d)
		_, err := s.AcquireFrame(ctx)
		require.NoError(t, err)

		frame, err := s.ReadNow(ctx)
		require.NoError(t, err)
		assert.Equal(t, uint64(2), frame.Seq)
		assert.Equal(t, 1, d.Opens())
	})

	t.Run("read failure never reconnects", func(t *testing.T) {
		d := &cameratest.Driver{}
		s, _ := newTestSupervisor(t, d)
		_, err := s.AcquireFrame(ctx)
		require.NoError(t, err)

		d.SetReadErrs(errors.New("timed out"))
		_, err = s.ReadNow(ctx)
		assert.True(t, IsTransient(err))
		assert.Equal(t, 1, d.Opens())
		assert.Equal(t, Connected, s.State())
	})

	t.Run("exhausted", func(t *testing.T) {
		d := &cameratest.Driver{FailOpen: true}
		s, _ := newTestSupervisor(t, d)
		for i := 0; i < 5; i++ {
			_, _ = s.AcquireFrame(ctx)
		}

		_, err := s.ReadNow(ctx)
		assert.True(t, IsExhausted(err))
	})
}

func TestReadNowBoundedWhileReconnecting(t *testing.T) {
	d := &cameratest.Driver{}
	release := make(chan struct{})
	entered := make(chan struct{})
	var once sync.Once

	s := New(d, camera.Config{URI: "rtsp://cam.local/stream"}, testPolicy(), WithSleep(
		func(ctx context.Context, _ time.Duration) error {
			once.Do(func() { close(entered) })
			<-release
			return nil
		}))
	defer s.Close()

	done := make(chan error, 1)
	go func() {
		_, err := s.AcquireFrame(context.Background())
		done <- err
	}()
	<-entered

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()

	_, err := s.ReadNow(ctx)
	require.Error(t, err)
	assert.ErrorIs(t, err, context.DeadlineExceeded)
	assert.True(t, IsTransient(err))
	assert.Equal(t, Connecting, s.State())

	close(release)
	require.NoError(t, <-done)
	assert.Equal(t, Connected, s.State())
}

func TestOnStateChange(t *testing.T) {
	d := &cameratest.Driver{}
	s, _ := newTestSupervisor(t, d)

	var got []Transition
	s.OnStateChange(func(tr Transition) { got = append(got, tr) })

	_, err := s.AcquireFrame(context.Background())
	require.NoError(t, err)

	require.Len(t, got, 2)
	assert.Equal(t, Disconnected, got[0].From)
	assert.Equal(t, Connecting, got[0].To)
	assert.Equal(t, Connecting, got[1].From)
	assert.Equal(t, Connected, got[1].To)
	assert.Equal(t, 1, got[1].Attempt)
}

func TestListenerMayReadStatus(t *testing.T) {
	d := &cameratest.Driver{FailOpen: true}
	s, _ := newTestSupervisor(t, d)

	var states []State
	s.OnStateChange(func(tr Transition) {
		// Runs after the lock is released, so Status reflects the final state.
		states = append(states, s.Status().State)
	})

	_, _ = s.AcquireFrame(context.Background())
	require.NotEmpty(t, states)
	for _, st := range states {
		assert.Equal(t, Disconnected, st)
	}
}

func TestCloseIdempotent(t *testing.T) {
	d := &cameratest.Driver{}
	s := New(d, camera.Config{URI: "rtsp://cam.local/stream"}, testPolicy(), WithSleep((&sleepRecorder{}).sleep))

	require.NoError(t, s.Close())

	_, err := s.AcquireFrame(context.Background())
	require.NoError(t, err)

	require.NoError(t, s.Close())
	require.NoError(t, s.Close())
	assert.Equal(t, Disconnected, s.State())

	caps := d.Captures()
	require.Len(t, caps, 1)
	assert.Equal(t, 1, caps[0].CloseCalls())
}

func TestCancelledAcquire(t *testing.T) {
	d := &cameratest.Driver{}
	s := New(d, camera.Config{URI: "rtsp://cam.local/stream"}, testPolicy())
	defer s.Close()

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := s.AcquireFrame(ctx)
	require.Error(t, err)
	assert.ErrorIs(t, err, context.Canceled)
	assert.False(t, IsExhausted(err))
}

func TestStateString(t *testing.T) {
	assert.Equal(t, "disconnected", Disconnected.String())
	assert.Equal(t, "connecting", Connecting.String())
	assert.Equal(t, "connected", Connected.String())
	assert.Equal(t, "exhausted", Exhausted.String())
	assert.Equal(t, "state(9)", State(9).String())
}

func TestStateJSONRoundTrip(t *testing.T) {
	for _, st := range []State{Disconnected, Connecting, Connected, Exhausted} {
		in := Status{State: st, MaxAttempts: 5}
		b, err := json.Marshal(in)
		require.NoError(t, err)
		assert.Contains(t, string(b), `"state":"`+st.String()+`"`)

		var out Status
		require.NoError(t, json.Unmarshal(b, &out))
		assert.Equal(t, st, out.State)
	}

	var st State
	assert.Error(t, st.UnmarshalText([]byte("sleeping")))
}
