package queue

import (
	"testing"
	"time"

	"github.com/iliyamo/badminton-sessions/internal/events"
)

func TestSignalWireFormat(t *testing.T) {
	in := events.Signal{Topic: events.SessionTopic("s1"), Origin: "node-a", At: time.Date(2026, 3, 10, 9, 0, 0, 0, time.UTC)}
	body, err := EncodeSignal(in)
	if err != nil {
		t.Fatal(err)
	}
	out, err := DecodeSignal(body)
	if err != nil {
		t.Fatal(err)
	}
	if out.Topic != in.Topic || out.Origin != in.Origin || !out.At.Equal(in.At) {
		t.Fatalf("got %+v, want %+v", out, in)
	}
	if _, err := DecodeSignal([]byte(`{"origin":"x"}`)); err == nil {
		t.Fatal("signal without topic accepted")
	}
}

func TestForwardNeverBlocks(t *testing.T) {
	p := NewPublisher("amqp://unused", "", 1)
	done := make(chan struct{})
	go func() {
		p.Forward(events.Signal{Topic: "a"})
		p.Forward(events.Signal{Topic: "b"})
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("Forward blocked on a full buffer")
	}
	if len(p.buf) != 1 {
		t.Fatalf("buffered %d", len(p.buf))
	}
}
