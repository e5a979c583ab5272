// Package queue relays event signals between server instances through a
// RabbitMQ fanout exchange.  Every instance publishes its signals to the
// exchange and consumes everyone's through a private auto-delete queue.
package queue

import (
	"encoding/json"
	"fmt"

	"github.com/iliyamo/badminton-sessions/internal/events"
)

// DefaultExchange is the fanout exchange used when none is configured.
const DefaultExchange = "badminton.events"

// EncodeSignal marshals a signal for the wire.
func EncodeSignal(sig events.Signal) ([]byte, error) {
	return json.Marshal(sig)
}

// DecodeSignal parses a relayed signal.
func DecodeSignal(body []byte) (events.Signal, error) {
	var sig events.Signal
	if err := json.Unmarshal(body, &sig); err != nil {
		return events.Signal{}, fmt.Errorf("unmarshal: %w", err)
	}
	if sig.Topic == "" {
		return events.Signal{}, fmt.Errorf("signal without topic")
	}
	return sig, nil
}
