package idempotency

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/iliyamo/badminton-sessions/internal/model"
)

func okOp(counter *atomic.Int32, body string) Operation {
	return func(context.Context) (Response, error) {
		counter.Add(1)
		return Response{Status: 202, Body: []byte(body)}, nil
	}
}

func TestMemoryReplaysSameKey(t *testing.T) {
	s := NewMemory(time.Second)
	var n atomic.Int32
	fp := Fingerprint("s1", 2, []string{"Ann"})

	first, replayed, err := s.Do(context.Background(), "k", fp, okOp(&n, `{"request_id":"a"}`))
	if err != nil || replayed {
		t.Fatalf("first call: replayed=%v err=%v", replayed, err)
	}
	second, replayed, err := s.Do(context.Background(), "k", fp, okOp(&n, `{"request_id":"b"}`))
	if err != nil || !replayed {
		t.Fatalf("second call: replayed=%v err=%v", replayed, err)
	}
	if string(second.Body) != string(first.Body) {
		t.Fatalf("replayed %s, want %s", second.Body, first.Body)
	}
	if n.Load() != 1 {
		t.Fatalf("operation ran %d times", n.Load())
	}
}

func TestMemoryRejectsDifferentFingerprint(t *testing.T) {
	s := NewMemory(time.Second)
	var n atomic.Int32
	if _, _, err := s.Do(context.Background(), "k", Fingerprint("s1", 1), okOp(&n, `{}`)); err != nil {
		t.Fatal(err)
	}
	_, _, err := s.Do(context.Background(), "k", Fingerprint("s1", 2), okOp(&n, `{}`))
	if !errors.Is(err, model.ErrIdempotencyKeyReuse) {
		t.Fatalf("want IdempotencyKeyReuse, got %v", err)
	}
}

func TestMemoryFailureReleasesKey(t *testing.T) {
	s := NewMemory(time.Second)
	fp := Fingerprint("x")
	boom := errors.New("boom")
	_, _, err := s.Do(context.Background(), "k", fp, func(context.Context) (Response, error) { return Response{}, boom })
	if !errors.Is(err, boom) {
		t.Fatalf("want boom, got %v", err)
	}
	var n atomic.Int32
	if _, replayed, err := s.Do(context.Background(), "k", fp, okOp(&n, `{}`)); err != nil || replayed {
		t.Fatalf("retry after failure: replayed=%v err=%v", replayed, err)
	}
	if n.Load() != 1 {
		t.Fatalf("retry did not execute")
	}
}

func TestMemoryConcurrentCallsExecuteOnce(t *testing.T) {
	s := NewMemory(2 * time.Second)
	var n atomic.Int32
	fp := Fingerprint("concurrent")
	release := make(chan struct{})
	op := func(context.Context) (Response, error) {
		n.Add(1)
		<-release
		return Response{Status: 202, Body: []byte(`{"request_id":"only"}`)}, nil
	}

	var wg sync.WaitGroup
	bodies := make([]string, 16)
	for i := range bodies {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			resp, _, err := s.Do(context.Background(), "k", fp, op)
			if err != nil {
				t.Error(err)
				return
			}
			bodies[i] = string(resp.Body)
		}(i)
	}
	time.Sleep(20 * time.Millisecond)
	close(release)
	wg.Wait()

	if n.Load() != 1 {
		t.Fatalf("operation ran %d times", n.Load())
	}
	for i, b := range bodies {
		if b != `{"request_id":"only"}` {
			t.Fatalf("caller %d got %q", i, b)
		}
	}
}

func TestMemoryWaitIsBounded(t *testing.T) {
	s := NewMemory(20 * time.Millisecond)
	fp := Fingerprint("slow")
	started := make(chan struct{})
	release := make(chan struct{})
	go s.Do(context.Background(), "k", fp, func(context.Context) (Response, error) {
		close(started)
		<-release
		return Response{}, nil
	})
	<-started
	defer close(release)
	_, _, err := s.Do(context.Background(), "k", fp, func(context.Context) (Response, error) { return Response{}, nil })
	if !errors.Is(err, model.ErrConcurrencyTimeout) {
		t.Fatalf("want ConcurrencyTimeout, got %v", err)
	}
}

func TestFingerprintIsStable(t *testing.T) {
	type payload struct {
		Seats      int      `json:"seats"`
		GuestNames []string `json:"guest_names"`
	}
	a := Fingerprint("s1", payload{2, []string{"Ann"}})
	b := Fingerprint("s1", payload{2, []string{"Ann"}})
	c := Fingerprint("s1", payload{2, []string{"Bob"}})
	if a != b || a == c {
		t.Fatalf("fingerprints a=%s b=%s c=%s", a, b, c)
	}
	if Scope("register", "u1", "k") == Scope("register", "u2", "k") {
		t.Fatal("scopes must differ per caller")
	}
}
