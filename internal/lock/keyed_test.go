package lock

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/iliyamo/badminton-sessions/internal/model"
)

func TestLockTimesOutWithConcurrencyError(t *testing.T) {
	k := NewKeyed("session", 20*time.Millisecond)
	unlock, err := k.Lock(context.Background(), "s1")
	if err != nil {
		t.Fatal(err)
	}
	defer unlock()

	_, err = k.Lock(context.Background(), "s1")
	if !errors.Is(err, model.ErrConcurrencyTimeout) {
		t.Fatalf("want ConcurrencyTimeout, got %v", err)
	}

	other, err := k.Lock(context.Background(), "s2")
	if err != nil {
		t.Fatalf("independent key blocked: %v", err)
	}
	other()
}

func TestLockHonoursCallerContext(t *testing.T) {
	k := NewKeyed("session", time.Second)
	unlock, _ := k.Lock(context.Background(), "s1")
	defer unlock()

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if _, err := k.Lock(ctx, "s1"); !errors.Is(err, context.Canceled) {
		t.Fatalf("want context.Canceled, got %v", err)
	}
}

func TestLockSerialisesAndCleansUp(t *testing.T) {
	k := NewKeyed("user", time.Second)
	var (
		wg      sync.WaitGroup
		inside  int
		maxSeen int
		mu      sync.Mutex
	)
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			unlock, err := k.Lock(context.Background(), "u1")
			if err != nil {
				t.Error(err)
				return
			}
			mu.Lock()
			inside++
			if inside > maxSeen {
				maxSeen = inside
			}
			mu.Unlock()
			time.Sleep(time.Millisecond)
			mu.Lock()
			inside--
			mu.Unlock()
			unlock()
			unlock()
		}()
	}
	wg.Wait()
	if maxSeen != 1 {
		t.Fatalf("%d holders inside the critical section", maxSeen)
	}
	if n := k.Size(); n != 0 {
		t.Fatalf("%d entries left after all releases", n)
	}
}

func TestLockAllIsAllOrNothing(t *testing.T) {
	k := NewKeyed("user", 20*time.Millisecond)
	held, _ := k.Lock(context.Background(), "b")
	if _, err := k.LockAll(context.Background(), "c", "a", "b"); !errors.Is(err, model.ErrConcurrencyTimeout) {
		t.Fatalf("want ConcurrencyTimeout, got %v", err)
	}
	held()
	unlock, err := k.LockAll(context.Background(), "c", "a", "b", "a")
	if err != nil {
		t.Fatal(err)
	}
	if n := k.Size(); n != 3 {
		t.Fatalf("want 3 held keys, got %d", n)
	}
	unlock()
	if n := k.Size(); n != 0 {
		t.Fatalf("%d entries left", n)
	}
}
