package sse

import (
	"context"
	"sync"
	"sync/atomic"
	"time"
)

// Event is one server-sent event.
type Event struct {
	ID    string
	Event string
	Data  []byte
}

// Hub is an in-memory pub/sub keyed by topic. Slow subscribers lose events
// rather than block publishers.
type Hub struct {
	mu       sync.RWMutex
	subs     map[string]map[chan Event]struct{}
	dropped  atomic.Uint64
	shutdown chan struct{}
	closed   bool
}

var (
	defaultHub *Hub
	once       sync.Once
)

// NewHub creates an empty hub.
func NewHub() *Hub {
	return &Hub{
		subs:     make(map[string]map[chan Event]struct{}),
		shutdown: make(chan struct{}),
	}
}

// GetHub returns the process-wide hub.
func GetHub() *Hub {
	once.Do(func() {
		defaultHub = NewHub()
	})
	return defaultHub
}

// Publish sends ev to every subscriber of topic.
func (h *Hub) Publish(topic string, ev Event) {
	h.mu.RLock()
	defer h.mu.RUnlock()
	for ch := range h.subs[topic] {
		select {
		case ch <- ev:
		default:
			h.dropped.Add(1)
		}
	}
}

// Subscribe adds a subscriber for topic and returns its channel with an
// unsubscribe func. The channel is closed on unsubscribe or shutdown.
func (h *Hub) Subscribe(topic string, buf int) (<-chan Event, func()) {
	if buf <= 0 {
		buf = 16
	}
	ch := make(chan Event, buf)

	h.mu.Lock()
	if h.closed {
		h.mu.Unlock()
		close(ch)
		return ch, func() {}
	}
	if _, ok := h.subs[topic]; !ok {
		h.subs[topic] = make(map[chan Event]struct{})
	}
	h.subs[topic][ch] = struct{}{}
	h.mu.Unlock()

	var once sync.Once
	unsub := func() {
		once.Do(func() {
			h.mu.Lock()
			defer h.mu.Unlock()
			subs, ok := h.subs[topic]
			if !ok {
				return
			}
			if _, ok := subs[ch]; !ok {
				return
			}
			delete(subs, ch)
			if len(subs) == 0 {
				delete(h.subs, topic)
			}
			close(ch)
		})
	}
	return ch, unsub
}

// Dropped returns how many deliveries were skipped for slow subscribers.
func (h *Hub) Dropped() uint64 {
	return h.dropped.Load()
}

// Subscribers returns the number of subscribers on topic.
func (h *Hub) Subscribers(topic string) int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.subs[topic])
}

// Stream feeds events from topic to fn until ctx is done, fn fails, or the
// hub shuts down.
func (h *Hub) Stream(ctx context.Context, topic string, buf int, fn func(Event) error) error {
	ch, unsub := h.Subscribe(topic, buf)
	defer unsub()
	for {
		select {
		case ev, ok := <-ch:
			if !ok {
				return nil
			}
			if err := fn(ev); err != nil {
				return err
			}
		case <-ctx.Done():
			return ctx.Err()
		case <-h.shutdown:
			return nil
		}
	}
}

// Shutdown closes every subscriber. Later subscriptions get a closed channel.
func (h *Hub) Shutdown() {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.closed {
		return
	}
	h.closed = true
	close(h.shutdown)
	for topic, subs := range h.subs {
		for ch := range subs {
			close(ch)
		}
		delete(h.subs, topic)
	}
}

// WaitUntil waits until topic has a subscriber or timeout elapses.
func (h *Hub) WaitUntil(topic string, timeout time.Duration) bool {
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		if h.Subscribers(topic) > 0 {
			return true
		}
		time.Sleep(10 * time.Millisecond)
	}
	return false
}
