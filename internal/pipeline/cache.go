package pipeline

import (
	"sync"
	"time"

	"huewatch/internal/camera"
)

// StreamCache holds the most recent decoded frame. The producer is the only
// writer; readers share the stored frame and must treat its Data as
// read-only.
type StreamCache struct {
	mu    sync.RWMutex
	frame camera.Frame
	at    time.Time
	set   bool

	now func() time.Time
}

// CacheOption configures a StreamCache.
type CacheOption func(*StreamCache)

// WithClock replaces time.Now.
func WithClock(now func() time.Time) CacheOption {
	return func(c *StreamCache) { c.now = now }
}

// NewStreamCache returns an empty cache.
func NewStreamCache(opts ...CacheOption) *StreamCache {
	c := &StreamCache{now: time.Now}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Put overwrites the slot with frame captured at at.
func (c *StreamCache) Put(frame camera.Frame, at time.Time) {
	if frame.Empty() {
		return
	}
	c.mu.Lock()
	c.frame = frame
	c.at = at
	c.set = true
	c.mu.Unlock()
}

// GetFresh returns the cached frame if it is no older than maxAge.
func (c *StreamCache) GetFresh(maxAge time.Duration) (camera.Frame, bool) {
	frame, age, ok := c.Lookup()
	if !ok || age > maxAge {
		return camera.Frame{}, false
	}
	return frame, true
}

// Lookup returns the cached frame together with its own age, taken from one
// snapshot of the slot. ok is false when empty.
func (c *StreamCache) Lookup() (camera.Frame, time.Duration, bool) {
	c.mu.RLock()
	frame, at, set := c.frame, c.at, c.set
	c.mu.RUnlock()

	if !set {
		return camera.Frame{}, 0, false
	}
	return frame, c.now().Sub(at), true
}

// GetAny returns the cached frame and its timestamp regardless of age. ok is
// false only if nothing was ever cached.
func (c *StreamCache) GetAny() (frame camera.Frame, at time.Time, ok bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.frame, c.at, c.set
}

// Age returns how old the cached frame is. ok is false when empty.
func (c *StreamCache) Age() (time.Duration, bool) {
	c.mu.RLock()
	at, set := c.at, c.set
	c.mu.RUnlock()

	if !set {
		return 0, false
	}
	return c.now().Sub(at), true
}

// AgeSeconds returns the age in seconds, or -1 if the cache is empty.
func (c *StreamCache) AgeSeconds() float64 {
	age, ok := c.Age()
	if !ok {
		return -1
	}
	return age.Seconds()
}
