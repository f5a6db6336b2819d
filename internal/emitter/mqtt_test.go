package emitter

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"testing"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"huewatch/internal/analysis"
	"huewatch/internal/config"
	"huewatch/internal/pipeline"
	"huewatch/internal/supervisor"
)

type doneToken struct {
	err error
}

func (t *doneToken) Wait() bool                     { return true }
func (t *doneToken) WaitTimeout(time.Duration) bool { return true }
func (t *doneToken) Done() <-chan struct{} {
	ch := make(chan struct{})
	close(ch)
	return ch
}
func (t *doneToken) Error() error { return t.err }

type message struct {
	topic   string
	qos     byte
	payload []byte
}

type fakePublisher struct {
	mu   sync.Mutex
	msgs []message
	err  error
}

func (p *fakePublisher) Publish(topic string, qos byte, retained bool, payload interface{}) mqtt.Token {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.msgs = append(p.msgs, message{topic: topic, qos: qos, payload: payload.([]byte)})
	return &doneToken{err: p.err}
}

func (p *fakePublisher) messages() []message {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]message(nil), p.msgs...)
}

func connectedEmitter(pub publisher) *MQTTEmitter {
	e := NewMQTTEmitter(config.MQTTConfig{TopicPrefix: "site/cam1/", QoS: 1}, zerolog.Nop())
	e.pub = pub
	e.setConnected(true)
	return e
}

func TestTopic(t *testing.T) {
	e := NewMQTTEmitter(config.MQTTConfig{TopicPrefix: "huewatch"}, zerolog.Nop())
	assert.Equal(t, "huewatch/detection", e.Topic("detection"))

	e = NewMQTTEmitter(config.MQTTConfig{}, zerolog.Nop())
	assert.Equal(t, "state", e.Topic("state"))
}

func TestBrokerURL(t *testing.T) {
	assert.Equal(t, "tcp://localhost:1883", brokerURL("localhost:1883"))
	assert.Equal(t, "ssl://broker:8883", brokerURL("ssl://broker:8883"))
}

func TestRunPublishesEventsAndStates(t *testing.T) {
	pub := &fakePublisher{}
	e := connectedEmitter(pub)

	bus := pipeline.NewEventBus()
	events, unsubscribe := bus.SubscribeChannel(4)
	defer unsubscribe()

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		e.Run(ctx, events)
		close(done)
	}()

	bus.Publish(&pipeline.DetectionEvent{Seq: 1, Result: analysis.Result{Pink: 12.5}})
	e.OnStateChange(supervisor.Transition{From: supervisor.Connected, To: supervisor.Disconnected, Err: errors.New("cannot read frame")})

	require.Eventually(t, func() bool { return len(pub.messages()) == 2 }, 2*time.Second, 10*time.Millisecond)
	cancel()
	<-done

	byTopic := map[string]message{}
	for _, m := range pub.messages() {
		byTopic[m.topic] = m
	}

	det, ok := byTopic["site/cam1/detection"]
	require.True(t, ok)
	assert.Equal(t, byte(1), det.qos)
	var ev pipeline.DetectionEvent
	require.NoError(t, json.Unmarshal(det.payload, &ev))
	assert.Equal(t, 12.5, ev.Result.Pink)

	st, ok := byTopic["site/cam1/state"]
	require.True(t, ok)
	var sp StatePayload
	require.NoError(t, json.Unmarshal(st.payload, &sp))
	assert.Equal(t, "disconnected", sp.To)
	assert.Equal(t, "cannot read frame", sp.Error)

	stats := e.Stats()
	assert.Equal(t, uint64(1), stats.Published["site/cam1/detection"])
	assert.Equal(t, uint64(0), stats.Errors)
}

func TestPublishErrors(t *testing.T) {
	e := NewMQTTEmitter(config.MQTTConfig{}, zerolog.Nop())
	assert.ErrorIs(t, e.publish("t", []byte("x")), ErrNotConnected)

	pub := &fakePublisher{err: errors.New("broker gone")}
	e = connectedEmitter(pub)
	err := e.publish("t", []byte("x"))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "broker gone")
	assert.Equal(t, uint64(1), e.Stats().Errors)
}

func TestRunStopsWhenEventsClosed(t *testing.T) {
	e := connectedEmitter(&fakePublisher{})
	events := make(chan *pipeline.DetectionEvent)
	close(events)

	done := make(chan struct{})
	go func() {
		e.Run(context.Background(), events)
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("Run did not return after events closed")
	}
}
