// Package events fans invalidation signals out to subscribers.  A signal
// only says "this topic changed, fetch again"; it carries no state, so a
// subscriber that is behind needs at most one pending signal.
package events

import (
	"sync"
)

// SessionTopic is the topic of every change that affects a session.
func SessionTopic(id string) string { return "session:" + id }

// RequestTopic is the topic of lifecycle changes of an async request.
func RequestTopic(id string) string { return "request:" + id }

// Subscription receives one value on C per burst of publishes.
type Subscription struct {
	C     <-chan struct{}
	ch    chan struct{}
	hub   *Hub
	topic string
	once  sync.Once
}

// Close detaches the subscription.  It is safe to call more than once.
func (s *Subscription) Close() {
	s.once.Do(func() { s.hub.remove(s) })
}

// Hub is an in-process topic broker.
type Hub struct {
	mu   sync.Mutex
	subs map[string]map[*Subscription]struct{}
}

// NewHub returns an empty hub.
func NewHub() *Hub {
	return &Hub{subs: make(map[string]map[*Subscription]struct{})}
}

// Subscribe registers interest in topic.
func (h *Hub) Subscribe(topic string) *Subscription {
	ch := make(chan struct{}, 1)
	s := &Subscription{C: ch, ch: ch, hub: h, topic: topic}
	h.mu.Lock()
	set, ok := h.subs[topic]
	if !ok {
		set = make(map[*Subscription]struct{})
		h.subs[topic] = set
	}
	set[s] = struct{}{}
	h.mu.Unlock()
	return s
}

func (h *Hub) remove(s *Subscription) {
	h.mu.Lock()
	defer h.mu.Unlock()
	set := h.subs[s.topic]
	delete(set, s)
	if len(set) == 0 {
		delete(h.subs, s.topic)
	}
}

// Publish signals every subscriber of topic without blocking.  A
// subscriber with a signal already pending is skipped: the pending signal
// covers this one.
func (h *Hub) Publish(topic string) {
	h.mu.Lock()
	defer h.mu.Unlock()
	for s := range h.subs[topic] {
		select {
		case s.ch <- struct{}{}:
		default:
		}
	}
}

// Subscribers returns the number of live subscriptions on topic.
func (h *Hub) Subscribers(topic string) int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.subs[topic])
}

// SessionChanged publishes on the session topic.
func (h *Hub) SessionChanged(id string) { h.Publish(SessionTopic(id)) }

// RequestChanged publishes on the request topic.
func (h *Hub) RequestChanged(id string) { h.Publish(RequestTopic(id)) }
