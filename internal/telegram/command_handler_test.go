package telegram

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"huewatch/internal/detection"
	"huewatch/internal/pipeline"
	"huewatch/internal/supervisor"
)

type fakeCamera struct {
	status   supervisor.Status
	resets   int
	resetErr error
}

func (f *fakeCamera) Status() supervisor.Status { return f.status }

func (f *fakeCamera) ResetAttempts(ctx context.Context) error {
	if f.resetErr != nil {
		return f.resetErr
	}
	f.resets++
	f.status.State = supervisor.Disconnected
	f.status.ReconnectAttempts = 0
	return nil
}

type fakeFrames struct{ frame *pipeline.EncodedFrame }

func (f fakeFrames) Latest() *pipeline.EncodedFrame { return f.frame }

type fakeDetector struct{ resp detection.Response }

func (f fakeDetector) Detect(context.Context) detection.Response { return f.resp }

func newHandler(api *fakeAPI, cam *fakeCamera, frames FrameSource, det Detector) *CommandHandler {
	return NewCommandHandler(api.bot(), cam, frames, det, zerolog.Nop())
}

func lastText(t *testing.T, api *fakeAPI) string {
	calls := api.Calls("sendMessage")
	require.NotEmpty(t, calls)
	return decodeJSON(t, calls[len(calls)-1].Body)["text"].(string)
}

func message(chatID int64, text string) *Message {
	return &Message{MessageID: 1, Chat: &Chat{ID: chatID, Type: "private"}, Text: text}
}

func TestCommandStatus(t *testing.T) {
	api := newFakeAPI(t)
	cam := &fakeCamera{status: supervisor.Status{
		State:             supervisor.Exhausted,
		Driver:            "opencv",
		ReconnectAttempts: 5,
		MaxAttempts:       5,
		LastError:         "connection <refused>",
		LastErrorCategory: "network",
	}}
	ch := newHandler(api, cam, fakeFrames{}, fakeDetector{})

	ch.handleMessage(context.Background(), message(42, "/status@huewatch_bot"))

	text := lastText(t, api)
	assert.Contains(t, text, "State: <b>exhausted</b>")
	assert.Contains(t, text, "Reconnect attempts: 5/5")
	assert.Contains(t, text, "connection &lt;refused&gt;")
}

func TestCommandUnauthorizedChatIgnored(t *testing.T) {
	api := newFakeAPI(t)
	ch := newHandler(api, &fakeCamera{}, fakeFrames{}, fakeDetector{})

	ch.handleMessage(context.Background(), message(99, "/status"))
	ch.handleMessage(context.Background(), message(42, "just chatting"))

	assert.Empty(t, api.Calls("sendMessage"))
}

func TestCommandReset(t *testing.T) {
	tests := []struct {
		name  string
		state supervisor.State
		err   error
		want  string
	}{
		{"exhausted", supervisor.Exhausted, nil, "Reconnect attempts reset"},
		{"connected", supervisor.Connected, nil, "Reconnect counter cleared"},
		{"failure", supervisor.Exhausted, errors.New("context deadline exceeded"), "Reset failed"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			api := newFakeAPI(t)
			cam := &fakeCamera{status: supervisor.Status{State: tt.state}, resetErr: tt.err}
			ch := newHandler(api, cam, fakeFrames{}, fakeDetector{})

			ch.handleMessage(context.Background(), message(42, "/reset"))

			assert.Contains(t, lastText(t, api), tt.want)
			if tt.err == nil {
				assert.Equal(t, 1, cam.resets)
			}
		})
	}
}

func TestCommandDetect(t *testing.T) {
	tests := []struct {
		name string
		resp detection.Response
		want []string
	}{
		{"success", detection.Response{Pink: 62.5, White: 12.25, Status: detection.StatusSuccess}, []string{"Pink: 62.50%", "White: 12.25%"}},
		{"stale", detection.Response{Pink: 1, Status: detection.StatusStale}, []string{"Pink: 1.00%", "cached frame"}},
		{"disconnected", detection.Response{Status: detection.StatusDisconnected, Error: "Camera not available"}, []string{"Detection failed (disconnected)", "Camera not available"}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			api := newFakeAPI(t)
			ch := newHandler(api, &fakeCamera{}, fakeFrames{}, fakeDetector{resp: tt.resp})

			ch.handleMessage(context.Background(), message(42, "/detect"))

			text := lastText(t, api)
			for _, w := range tt.want {
				assert.Contains(t, text, w)
			}
		})
	}
}

func TestCommandSnapshot(t *testing.T) {
	t.Run("sends latest frame", func(t *testing.T) {
		api := newFakeAPI(t)
		frame := &pipeline.EncodedFrame{Seq: 3, Data: []byte{0xFF, 0xD8, 0xFF, 0xD9}, At: time.Now(), Placeholder: true}
		ch := newHandler(api, &fakeCamera{}, fakeFrames{frame: frame}, fakeDetector{})

		ch.handleMessage(context.Background(), message(42, "/snapshot"))

		calls := api.Calls("sendPhoto")
		require.Len(t, calls, 1)
		assert.Contains(t, string(calls[0].Body), "Camera error frame")
		assert.Empty(t, api.Calls("sendMessage"))
	})

	t.Run("no frame yet", func(t *testing.T) {
		api := newFakeAPI(t)
		ch := newHandler(api, &fakeCamera{}, fakeFrames{}, fakeDetector{})

		ch.handleMessage(context.Background(), message(42, "/snapshot"))

		assert.Empty(t, api.Calls("sendPhoto"))
		assert.Contains(t, lastText(t, api), "No frame available")
	})
}

func TestCommandUnknown(t *testing.T) {
	api := newFakeAPI(t)
	ch := newHandler(api, &fakeCamera{}, fakeFrames{}, fakeDetector{})

	ch.handleMessage(context.Background(), message(42, "/dance"))

	assert.Contains(t, lastText(t, api), "Unknown command: /dance")
}

func TestPollUpdatesAdvancesOffset(t *testing.T) {
	api := newFakeAPI(t)
	api.results["getUpdates"] = `[
		{"update_id": 10, "message": {"message_id": 1, "chat": {"id": 42, "type": "private"}, "text": "/help"}},
		{"update_id": 11}
	]`
	ch := newHandler(api, &fakeCamera{}, fakeFrames{}, fakeDetector{})

	require.NoError(t, ch.pollUpdates(context.Background()))
	assert.Equal(t, int64(11), ch.lastUpdateID)
	assert.Contains(t, lastText(t, api), "Available Commands")

	api.results["getUpdates"] = `[]`
	require.NoError(t, ch.pollUpdates(context.Background()))

	polls := api.Calls("getUpdates")
	require.Len(t, polls, 2)
	assert.Equal(t, float64(1), decodeJSON(t, polls[0].Body)["offset"])
	assert.Equal(t, float64(12), decodeJSON(t, polls[1].Body)["offset"])
}

func TestFormatDuration(t *testing.T) {
	tests := []struct {
		in   time.Duration
		want string
	}{
		{12 * time.Second, "12s"},
		{3*time.Minute + 4*time.Second, "3m 4s"},
		{2*time.Hour + 5*time.Minute, "2h 5m"},
		{50 * time.Hour, "2d 2h 0m"},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, formatDuration(tt.in))
	}
}

func TestAlerter(t *testing.T) {
	api := newFakeAPI(t)
	a := NewAlerter(api.bot(), zerolog.Nop())
	ctx := context.Background()

	a.handle(ctx, supervisor.Transition{From: supervisor.Connected, To: supervisor.Connected})
	assert.Empty(t, api.Calls("sendMessage"), "no recovery notice without a prior outage")

	a.handle(ctx, supervisor.Transition{From: supervisor.Connecting, To: supervisor.Exhausted, Attempt: 5, Err: errors.New("connection refused")})
	text := lastText(t, api)
	assert.Contains(t, text, "Camera unavailable")
	assert.Contains(t, text, "5 tries")
	assert.Contains(t, text, "connection refused")

	a.handle(ctx, supervisor.Transition{From: supervisor.Connecting, To: supervisor.Connected})
	assert.Contains(t, lastText(t, api), "Camera reconnected")
	assert.Len(t, api.Calls("sendMessage"), 2)
}

func TestAlerterQueueFiltersTransitions(t *testing.T) {
	api := newFakeAPI(t)
	a := NewAlerter(api.bot(), zerolog.Nop())

	a.OnStateChange(supervisor.Transition{To: supervisor.Connecting})
	a.OnStateChange(supervisor.Transition{To: supervisor.Disconnected})
	a.OnStateChange(supervisor.Transition{To: supervisor.Exhausted})
	assert.Len(t, a.events, 1)

	for i := 0; i < 32; i++ {
		a.OnStateChange(supervisor.Transition{To: supervisor.Connected})
	}
	assert.Len(t, a.events, cap(a.events))
}
