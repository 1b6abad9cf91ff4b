// Package broadcast fans seat-state changes out to in-process
// subscribers.  A Hub is created by main and handed to whoever needs it;
// there is no package-level registry.
package broadcast

import (
	"log/slog"
	"sync"

	"github.com/iliyamo/event-seat-reservation/internal/model"
)

// Subscriber handles one event.  It is called on the publisher's
// goroutine and must not block for long.
type Subscriber func(model.SeatStateEvent)

type subscription struct {
	id   uint64
	name string
	fn   Subscriber
}

// Hub is a registry of subscribers.  It is safe for concurrent use.
type Hub struct {
	mu     sync.RWMutex
	nextID uint64
	subs   []subscription
	logger *slog.Logger
}

// NewHub returns an empty hub.
func NewHub(logger *slog.Logger) *Hub {
	if logger == nil {
		logger = slog.Default()
	}
	return &Hub{logger: logger}
}

// Subscribe registers fn under name and returns a function that removes
// it again.  Calling the returned function more than once is harmless.
func (h *Hub) Subscribe(name string, fn Subscriber) (unsubscribe func()) {
	h.mu.Lock()
	h.nextID++
	id := h.nextID
	h.subs = append(h.subs, subscription{id: id, name: name, fn: fn})
	h.mu.Unlock()

	var once sync.Once
	return func() {
		once.Do(func() { h.remove(id) })
	}
}

func (h *Hub) remove(id uint64) {
	h.mu.Lock()
	defer h.mu.Unlock()
	for i, s := range h.subs {
		if s.id == id {
			h.subs = append(h.subs[:i:i], h.subs[i+1:]...)
			return
		}
	}
}

// Len returns the number of subscribers.
func (h *Hub) Len() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.subs)
}

// Publish delivers ev to every subscriber in registration order.  A
// subscriber that panics is logged and skipped.
func (h *Hub) Publish(ev model.SeatStateEvent) {
	h.mu.RLock()
	subs := h.subs
	h.mu.RUnlock()

	for _, s := range subs {
		h.deliver(s, ev)
	}
}

func (h *Hub) deliver(s subscription, ev model.SeatStateEvent) {
	defer func() {
		if r := recover(); r != nil {
			h.logger.Error("seat-state subscriber panicked", "subscriber", s.name, "seat", ev.Seat, "panic", r)
		}
	}()
	s.fn(ev)
}
