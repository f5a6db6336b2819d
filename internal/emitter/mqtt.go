// Package emitter publishes detection telemetry and connection state changes
// to an MQTT broker.
package emitter

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"
	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"huewatch/internal/config"
	"huewatch/internal/pipeline"
	"huewatch/internal/supervisor"
)

// ErrNotConnected is returned when publishing without a broker connection.
var ErrNotConnected = errors.New("mqtt not connected")

const publishTimeout = 2 * time.Second

// publisher is the part of mqtt.Client the emitter publishes through.
type publisher interface {
	Publish(topic string, qos byte, retained bool, payload interface{}) mqtt.Token
}

// StatePayload is published on <prefix>/state.
type StatePayload struct {
	From      string    `json:"from"`
	To        string    `json:"to"`
	Attempt   int       `json:"attempt"`
	Error     string    `json:"error,omitempty"`
	Timestamp time.Time `json:"timestamp"`
}

// MQTTEmitter publishes telemetry to an MQTT broker.
type MQTTEmitter struct {
	cfg    config.MQTTConfig
	client mqtt.Client
	pub    publisher
	log    zerolog.Logger

	states chan StatePayload

	mu        sync.RWMutex
	published map[string]uint64
	errors    uint64
	connected bool
}

// NewMQTTEmitter creates a new MQTT emitter
func NewMQTTEmitter(cfg config.MQTTConfig, log zerolog.Logger) *MQTTEmitter {
	return &MQTTEmitter{
		cfg:       cfg,
		log:       log,
		states:    make(chan StatePayload, 32),
		published: make(map[string]uint64),
	}
}

// Connect establishes connection to the broker. The client reconnects on
// its own afterwards.
func (e *MQTTEmitter) Connect(ctx context.Context) error {
	clientID := e.cfg.ClientID
	if clientID == "" {
		clientID = "huewatch"
	}
	clientID = clientID + "-" + uuid.NewString()[:8]

	opts := mqtt.NewClientOptions()
	opts.AddBroker(brokerURL(e.cfg.Broker))
	opts.SetClientID(clientID)
	opts.SetAutoReconnect(true)
	opts.SetConnectRetry(true)
	opts.SetConnectRetryInterval(2 * time.Second)
	opts.SetMaxReconnectInterval(30 * time.Second)

	opts.OnConnect = func(c mqtt.Client) {
		e.setConnected(true)
		e.log.Info().Str("broker", e.cfg.Broker).Str("client_id", clientID).Msg("mqtt connection established")
	}
	opts.OnConnectionLost = func(c mqtt.Client, err error) {
		e.setConnected(false)
		e.log.Warn().Err(err).Str("broker", e.cfg.Broker).Msg("mqtt connection lost, will auto-reconnect")
	}

	e.client = mqtt.NewClient(opts)
	e.pub = e.client

	e.log.Info().Str("broker", e.cfg.Broker).Msg("connecting to mqtt broker")

	token := e.client.Connect()
	select {
	case <-token.Done():
	case <-ctx.Done():
		return ctx.Err()
	case <-time.After(5 * time.Second):
		return fmt.Errorf("mqtt connection timeout")
	}
	if err := token.Error(); err != nil {
		return fmt.Errorf("mqtt connection failed: %w", err)
	}

	e.setConnected(true)
	return nil
}

// Run publishes events and queued state changes until ctx is done or events
// is closed.
func (e *MQTTEmitter) Run(ctx context.Context, events <-chan *pipeline.DetectionEvent) {
	for {
		select {
		case <-ctx.Done():
			return
		case ev, ok := <-events:
			if !ok {
				return
			}
			if err := e.publishJSON("detection", ev); err != nil {
				e.log.Debug().Err(err).Msg("detection not published")
			}
		case st := <-e.states:
			if err := e.publishJSON("state", st); err != nil {
				e.log.Warn().Err(err).Msg("state change not published")
			}
		}
	}
}

// OnStateChange queues a transition for publishing. It never blocks.
func (e *MQTTEmitter) OnStateChange(tr supervisor.Transition) {
	p := StatePayload{
		From:      tr.From.String(),
		To:        tr.To.String(),
		Attempt:   tr.Attempt,
		Timestamp: tr.At,
	}
	if tr.Err != nil {
		p.Error = tr.Err.Error()
	}
	select {
	case e.states <- p:
	default:
		e.countError()
	}
}

// Topic returns the full topic for kind.
func (e *MQTTEmitter) Topic(kind string) string {
	prefix := strings.TrimSuffix(e.cfg.TopicPrefix, "/")
	if prefix == "" {
		return kind
	}
	return prefix + "/" + kind
}

func (e *MQTTEmitter) publishJSON(kind string, v any) error {
	payload, err := json.Marshal(v)
	if err != nil {
		e.countError()
		return fmt.Errorf("marshal %s: %w", kind, err)
	}
	return e.publish(e.Topic(kind), payload)
}

func (e *MQTTEmitter) publish(topic string, payload []byte) error {
	if !e.isConnected() || e.pub == nil {
		e.countError()
		return ErrNotConnected
	}

	token := e.pub.Publish(topic, e.cfg.QoS, false, payload)
	if !token.WaitTimeout(publishTimeout) {
		e.countError()
		return fmt.Errorf("publish timeout")
	}
	if err := token.Error(); err != nil {
		e.countError()
		return fmt.Errorf("publish failed: %w", err)
	}

	e.mu.Lock()
	e.published[topic]++
	e.mu.Unlock()
	return nil
}

// Disconnect closes the MQTT connection
func (e *MQTTEmitter) Disconnect() {
	if e.client != nil && e.client.IsConnected() {
		e.client.Disconnect(250)
		e.log.Info().Msg("mqtt disconnected")
	}
	e.setConnected(false)
}

// Stats contains emitter statistics
type Stats struct {
	Connected bool              `json:"connected"`
	Published map[string]uint64 `json:"published"`
	Errors    uint64            `json:"errors"`
}

// Stats returns emitter statistics
func (e *MQTTEmitter) Stats() Stats {
	e.mu.RLock()
	defer e.mu.RUnlock()

	published := make(map[string]uint64, len(e.published))
	for k, v := range e.published {
		published[k] = v
	}
	return Stats{Connected: e.connected, Published: published, Errors: e.errors}
}

func (e *MQTTEmitter) setConnected(v bool) {
	e.mu.Lock()
	e.connected = v
	e.mu.Unlock()
}

func (e *MQTTEmitter) isConnected() bool {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.connected
}

func (e *MQTTEmitter) countError() {
	e.mu.Lock()
	e.errors++
	e.mu.Unlock()
}

// brokerURL accepts host:port or a full URL.
func brokerURL(broker string) string {
	if strings.Contains(broker, "://") {
		return broker
	}
	return "tcp://" + broker
}
