package pipeline

import (
	"sync"
	"time"

	"huewatch/internal/analysis"
)

// DetectionEvent is published for every frame the loop analyzes.
type DetectionEvent struct {
	Seq        uint64          `json:"seq"`
	TraceID    string          `json:"trace_id,omitempty"`
	CapturedAt time.Time       `json:"captured_at"`
	Result     analysis.Result `json:"result"`
}

// DetectionHandler receives detection events.
type DetectionHandler interface {
	OnDetection(ev *DetectionEvent)
}

// DetectionHandlerFunc adapts a function to DetectionHandler.
type DetectionHandlerFunc func(ev *DetectionEvent)

// OnDetection implements DetectionHandler.
func (f DetectionHandlerFunc) OnDetection(ev *DetectionEvent) { f(ev) }

// EventBus provides pub/sub for detection events.
type EventBus struct {
	subscribers map[*eventSubscription]bool
	mu          sync.RWMutex
}

type eventSubscription struct {
	channel chan *DetectionEvent
	handler DetectionHandler
}

// NewEventBus creates a new event bus
func NewEventBus() *EventBus {
	return &EventBus{
		subscribers: make(map[*eventSubscription]bool),
	}
}

// Subscribe registers a handler and returns an unsubscribe function.
func (b *EventBus) Subscribe(handler DetectionHandler) func() {
	sub := &eventSubscription{
		handler: handler,
	}

	b.mu.Lock()
	b.subscribers[sub] = true
	b.mu.Unlock()

	return func() {
		b.mu.Lock()
		delete(b.subscribers, sub)
		b.mu.Unlock()
	}
}

// SubscribeChannel returns a buffered channel of events and an unsubscribe
// function that closes it.
func (b *EventBus) SubscribeChannel(bufferSize int) (<-chan *DetectionEvent, func()) {
	if bufferSize <= 0 {
		bufferSize = 10
	}

	ch := make(chan *DetectionEvent, bufferSize)
	sub := &eventSubscription{
		channel: ch,
	}

	b.mu.Lock()
	b.subscribers[sub] = true
	b.mu.Unlock()

	unsubscribe := func() {
		b.mu.Lock()
		if _, ok := b.subscribers[sub]; ok {
			delete(b.subscribers, sub)
			close(ch)
		}
		b.mu.Unlock()
	}

	return ch, unsubscribe
}

// Publish sends an event to all subscribers. Handlers run synchronously so
// they see events in frame order; channel subscribers that are full miss the
// event.
func (b *EventBus) Publish(ev *DetectionEvent) {
	if ev == nil {
		return
	}

	b.mu.RLock()
	defer b.mu.RUnlock()

	for sub := range b.subscribers {
		if sub.handler != nil {
			sub.handler.OnDetection(ev)
		} else if sub.channel != nil {
			select {
			case sub.channel <- ev:
			default:
			}
		}
	}
}

// SubscriberCount returns the number of active subscribers
func (b *EventBus) SubscriberCount() int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.subscribers)
}

// Close unsubscribes all subscribers and closes channels
func (b *EventBus) Close() {
	b.mu.Lock()
	defer b.mu.Unlock()

	for sub := range b.subscribers {
		if sub.channel != nil {
			close(sub.channel)
		}
		delete(b.subscribers, sub)
	}
}
