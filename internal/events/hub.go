package events

import (
	"context"
	"sync"
	"sync/atomic"
)

// Hub broadcasts events to in-process subscribers such as websocket streams.
// A subscriber whose buffer is full misses the event instead of blocking
// publishers.
type Hub struct {
	mu      sync.RWMutex
	subs    map[uint64]*Subscription
	next    uint64
	closed  bool
	dropped atomic.Uint64
}

// Subscription receives events on C until Cancel is called or the hub closes.
type Subscription struct {
	C      <-chan Event
	ch     chan Event
	filter map[Type]struct{}
	hub    *Hub
	id     uint64
	once   sync.Once
}

// NewHub creates an empty hub.
func NewHub() *Hub {
	return &Hub{subs: make(map[uint64]*Subscription)}
}

// Subscribe registers a subscriber. With no types it receives everything.
func (h *Hub) Subscribe(buffer int, types ...Type) *Subscription {
	if buffer <= 0 {
		buffer = 64
	}
	ch := make(chan Event, buffer)
	sub := &Subscription{C: ch, ch: ch, hub: h}
	if len(types) > 0 {
		sub.filter = make(map[Type]struct{}, len(types))
		for _, t := range types {
			sub.filter[t] = struct{}{}
		}
	}

	h.mu.Lock()
	defer h.mu.Unlock()
	if h.closed {
		close(ch)
		return sub
	}
	h.next++
	sub.id = h.next
	h.subs[sub.id] = sub
	return sub
}

// Cancel detaches the subscription and closes its channel.
func (s *Subscription) Cancel() {
	s.once.Do(func() {
		s.hub.mu.Lock()
		if _, ok := s.hub.subs[s.id]; ok {
			delete(s.hub.subs, s.id)
			close(s.ch)
		}
		s.hub.mu.Unlock()
	})
}

func (s *Subscription) wants(t Type) bool {
	if s.filter == nil {
		return true
	}
	_, ok := s.filter[t]
	return ok
}

func (h *Hub) Publish(_ context.Context, event Event) error {
	h.mu.RLock()
	defer h.mu.RUnlock()
	if h.closed {
		return ErrClosed
	}
	for _, sub := range h.subs {
		if !sub.wants(event.Type) {
			continue
		}
		select {
		case sub.ch <- event:
		default:
			h.dropped.Add(1)
		}
	}
	return nil
}

// Subscribers reports the number of live subscriptions.
func (h *Hub) Subscribers() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.subs)
}

// Dropped reports how many deliveries were skipped for slow subscribers.
func (h *Hub) Dropped() uint64 {
	return h.dropped.Load()
}

func (h *Hub) Close() error {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.closed {
		return nil
	}
	h.closed = true
	for id, sub := range h.subs {
		close(sub.ch)
		delete(h.subs, id)
	}
	return nil
}
