package ws

import (
	"encoding/json"
	"errors"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"huewatch/internal/analysis"
	"huewatch/internal/pipeline"
	"huewatch/internal/supervisor"
)

func TestHubDropsForSlowClients(t *testing.T) {
	hub := NewDetectionHub(2, zerolog.Nop())
	c := hub.Register()

	for i := 0; i < 5; i++ {
		hub.Broadcast([]byte("m"))
	}
	assert.Len(t, c.send, 2)
	assert.Equal(t, uint64(3), hub.Dropped())

	hub.Unregister(c)
	hub.Unregister(c)
	assert.Equal(t, 0, hub.ClientCount())
}

func TestHubMessages(t *testing.T) {
	hub := NewDetectionHub(4, zerolog.Nop())
	c := hub.Register()

	hub.OnDetection(&pipeline.DetectionEvent{
		Seq: 3,
		Result: analysis.Result{
			Pink: 55.5, White: 10, Strategy: analysis.StrategyBasic,
			Distribution: analysis.Distribution{DominantHue: 148},
		},
	})
	hub.OnStateChange(supervisor.Transition{
		From: supervisor.Connecting, To: supervisor.Disconnected, Attempt: 2, Err: errors.New("connection refused"),
	})

	var det map[string]any
	require.NoError(t, json.Unmarshal(<-c.send, &det))
	assert.Equal(t, "detection", det["type"])
	assert.Equal(t, 55.5, det["pink"])
	assert.Equal(t, 148.0, det["dominant_hue"])
	assert.Equal(t, "basic_fixed", det["detection_method"])

	var st StateMessage
	require.NoError(t, json.Unmarshal(<-c.send, &st))
	assert.Equal(t, "state", st.Type)
	assert.Equal(t, "connecting", st.From)
	assert.Equal(t, "disconnected", st.To)
	assert.Equal(t, 2, st.Attempt)
	assert.Equal(t, "connection refused", st.Error)
}

func TestHandlerDeliversOverWebSocket(t *testing.T) {
	hub := NewDetectionHub(4, zerolog.Nop())
	srv := httptest.NewServer(NewHandler(hub, zerolog.Nop()))
	defer srv.Close()

	url := "ws" + strings.TrimPrefix(srv.URL, "http")
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	defer conn.Close()

	require.Eventually(t, func() bool { return hub.ClientCount() == 1 }, time.Second, 10*time.Millisecond)

	hub.OnStateChange(supervisor.Transition{From: supervisor.Connecting, To: supervisor.Connected, Attempt: 1})

	conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	var msg StateMessage
	require.NoError(t, conn.ReadJSON(&msg))
	assert.Equal(t, "connected", msg.To)

	conn.Close()
	require.Eventually(t, func() bool { return hub.ClientCount() == 0 }, 2*time.Second, 10*time.Millisecond)
}
