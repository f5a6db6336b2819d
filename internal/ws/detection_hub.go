package ws

import (
	"encoding/json"
	"sync"
	"sync/atomic"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"huewatch/internal/pipeline"
	"huewatch/internal/supervisor"
)

// Client is one WebSocket viewer. The hub never writes to the connection
// directly; messages go through send and a per-client writer.
type Client struct {
	id   string
	send chan []byte
	once sync.Once
}

func (c *Client) close() {
	c.once.Do(func() { close(c.send) })
}

// DetectionHub fans detection and state messages out to WebSocket clients.
type DetectionHub struct {
	clients map[*Client]bool
	mu      sync.RWMutex
	buffer  int
	dropped atomic.Uint64
	log     zerolog.Logger
}

// NewDetectionHub creates a hub giving each client bufferSize pending
// messages.
func NewDetectionHub(bufferSize int, log zerolog.Logger) *DetectionHub {
	if bufferSize <= 0 {
		bufferSize = 16
	}
	return &DetectionHub{
		clients: make(map[*Client]bool),
		buffer:  bufferSize,
		log:     log,
	}
}

// Register adds a client.
func (h *DetectionHub) Register() *Client {
	c := &Client{id: uuid.NewString(), send: make(chan []byte, h.buffer)}

	h.mu.Lock()
	h.clients[c] = true
	n := len(h.clients)
	h.mu.Unlock()

	h.log.Debug().Str("client", c.id).Int("total", n).Msg("client registered")
	return c
}

// Unregister removes a client and closes its queue.
func (h *DetectionHub) Unregister(c *Client) {
	h.mu.Lock()
	if _, ok := h.clients[c]; ok {
		delete(h.clients, c)
		c.close()
	}
	h.mu.Unlock()

	h.log.Debug().Str("client", c.id).Msg("client unregistered")
}

// Broadcast queues message for every client. Clients with a full queue miss
// it.
func (h *DetectionHub) Broadcast(message []byte) {
	h.mu.RLock()
	defer h.mu.RUnlock()

	for c := range h.clients {
		select {
		case c.send <- message:
		default:
			h.dropped.Add(1)
		}
	}
}

// BroadcastDetection sends a detection message to all clients.
func (h *DetectionHub) BroadcastDetection(msg *DetectionMessage) {
	h.broadcastJSON(msg)
}

// BroadcastState sends a state message to all clients.
func (h *DetectionHub) BroadcastState(msg *StateMessage) {
	h.broadcastJSON(msg)
}

func (h *DetectionHub) broadcastJSON(msg any) {
	if h.ClientCount() == 0 {
		return
	}
	data, err := json.Marshal(msg)
	if err != nil {
		h.log.Error().Err(err).Msg("marshal message")
		return
	}
	h.Broadcast(data)
}

// OnDetection implements pipeline.DetectionHandler.
func (h *DetectionHub) OnDetection(ev *pipeline.DetectionEvent) {
	h.BroadcastDetection(NewDetectionMessage(ev))
}

// OnStateChange forwards supervisor transitions.
func (h *DetectionHub) OnStateChange(tr supervisor.Transition) {
	h.BroadcastState(NewStateMessage(tr))
}

// ClientCount returns the number of connected clients.
func (h *DetectionHub) ClientCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}

// Dropped returns how many messages were skipped for slow clients.
func (h *DetectionHub) Dropped() uint64 {
	return h.dropped.Load()
}

// Close disconnects every client.
func (h *DetectionHub) Close() {
	h.mu.Lock()
	defer h.mu.Unlock()
	for c := range h.clients {
		c.close()
		delete(h.clients, c)
	}
}

var _ pipeline.DetectionHandler = (*DetectionHub)(nil)
