package events

import "time"

// Signal is the wire form of one publish, relayed between instances.
type Signal struct {
	Topic  string    `json:"topic"`
	Origin string    `json:"origin"`
	At     time.Time `json:"at"`
}

// Forwarder ships local signals to other instances.  Forward must not
// block the caller.
type Forwarder interface {
	Forward(Signal)
}

// Bus publishes to the local hub and, when a forwarder is set, to every
// other instance.  Signals coming back from the broker are injected with
// Inject; the instance's own signals are ignored there because they were
// already delivered locally.
type Bus struct {
	hub    *Hub
	origin string
	fwd    Forwarder
}

// NewBus wires hub to fwd.  fwd may be nil for a single instance.
func NewBus(hub *Hub, origin string, fwd Forwarder) *Bus {
	return &Bus{hub: hub, origin: origin, fwd: fwd}
}

// Hub returns the local hub.
func (b *Bus) Hub() *Hub { return b.hub }

// Origin identifies this instance.
func (b *Bus) Origin() string { return b.origin }

func (b *Bus) emit(topic string) {
	b.hub.Publish(topic)
	if b.fwd != nil {
		b.fwd.Forward(Signal{Topic: topic, Origin: b.origin, At: time.Now().UTC()})
	}
}

// SessionChanged implements the engine notifier.
func (b *Bus) SessionChanged(id string) { b.emit(SessionTopic(id)) }

// RequestChanged implements the engine notifier.
func (b *Bus) RequestChanged(id string) { b.emit(RequestTopic(id)) }

// Inject delivers a relayed signal locally.
func (b *Bus) Inject(sig Signal) {
	if sig.Origin == b.origin || sig.Topic == "" {
		return
	}
	b.hub.Publish(sig.Topic)
}
