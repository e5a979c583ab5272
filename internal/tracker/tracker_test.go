package tracker

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/iliyamo/badminton-sessions/internal/journal"
	"github.com/iliyamo/badminton-sessions/internal/model"
)

type fakeAdmitter struct {
	calls atomic.Int32
	fail  error
	block chan struct{}
}

func (f *fakeAdmitter) Admit(ctx context.Context, req model.Request) (model.Request, error) {
	f.calls.Add(1)
	if f.block != nil {
		select {
		case <-f.block:
		case <-ctx.Done():
			return model.Request{}, ctx.Err()
		}
	}
	if f.fail != nil {
		return model.Request{}, f.fail
	}
	id := "reg-" + req.ID
	req.State = model.RequestConfirmed
	req.RegistrationID = &id
	return req, nil
}

type notes struct {
	mu  sync.Mutex
	ids []string
}

func (n *notes) RequestChanged(id string) {
	n.mu.Lock()
	n.ids = append(n.ids, id)
	n.mu.Unlock()
}

func waitTerminal(t *testing.T, tr *Tracker, id string) model.Request {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		r, err := tr.Get(id)
		if err != nil {
			t.Fatal(err)
		}
		if r.Terminal() {
			return r
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("request %s never resolved", id)
	return model.Request{}
}

func start(t *testing.T, tr *Tracker) {
	t.Helper()
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		_ = tr.Run(ctx)
		close(done)
	}()
	t.Cleanup(func() {
		cancel()
		<-done
	})
}

func TestEnqueueResolves(t *testing.T) {
	a := &fakeAdmitter{}
	j := journal.NewMemory()
	n := &notes{}
	tr := New(a, j, n, Config{Workers: 2})
	start(t, tr)

	req, err := tr.Enqueue(context.Background(), Submission{SessionID: "s1", UserID: "u", Seats: 1})
	if err != nil {
		t.Fatal(err)
	}
	if req.State != model.RequestQueued {
		t.Fatalf("state %s", req.State)
	}
	got := waitTerminal(t, tr, req.ID)
	if got.State != model.RequestConfirmed || got.RegistrationID == nil {
		t.Fatalf("resolved %+v", got)
	}
	snap, _ := j.Load(context.Background())
	if len(snap.Requests) != 1 {
		t.Fatalf("queued request not journaled: %+v", snap.Requests)
	}
	deadline := time.Now().Add(time.Second)
	for {
		n.mu.Lock()
		ids := append([]string(nil), n.ids...)
		n.mu.Unlock()
		if len(ids) == 1 && ids[0] == req.ID {
			return
		}
		if time.Now().After(deadline) {
			t.Fatalf("notifications %v", ids)
		}
		time.Sleep(5 * time.Millisecond)
	}
}

func TestBusinessFailureRejects(t *testing.T) {
	a := &fakeAdmitter{fail: model.Errorf(model.KindInsufficientFunds, "available 500 < required 1000")}
	j := journal.NewMemory()
	tr := New(a, j, nil, Config{Workers: 1})
	start(t, tr)

	req, err := tr.Enqueue(context.Background(), Submission{SessionID: "s1", UserID: "u", Seats: 1})
	if err != nil {
		t.Fatal(err)
	}
	got := waitTerminal(t, tr, req.ID)
	if got.State != model.RequestRejected || got.Error == nil || got.Error.Kind != string(model.KindInsufficientFunds) {
		t.Fatalf("resolved %+v", got)
	}
	snap, _ := j.Load(context.Background())
	if snap.Requests[0].State != model.RequestRejected {
		t.Fatalf("rejection not journaled: %+v", snap.Requests[0])
	}
}

func TestInfrastructureFailureRejectsWithGenericReason(t *testing.T) {
	a := &fakeAdmitter{fail: errors.New("engine: commit: connection refused")}
	tr := New(a, journal.NewMemory(), nil, Config{Workers: 1})
	start(t, tr)
	req, err := tr.Enqueue(context.Background(), Submission{SessionID: "s1", UserID: "u", Seats: 1})
	if err != nil {
		t.Fatal(err)
	}
	got := waitTerminal(t, tr, req.ID)
	if got.Error == nil || got.Error.Kind != "internal" {
		t.Fatalf("resolved %+v", got)
	}
}

func TestRequestIsClaimedOnce(t *testing.T) {
	a := &fakeAdmitter{}
	tr := New(a, journal.NewMemory(), nil, Config{Workers: 4})
	req, err := tr.Enqueue(context.Background(), Submission{SessionID: "s1", UserID: "u", Seats: 1})
	if err != nil {
		t.Fatal(err)
	}
	// the same id delivered several times, e.g. by a restart re-enqueue
	for i := 0; i < 3; i++ {
		tr.queue <- req.ID
	}
	start(t, tr)
	waitTerminal(t, tr, req.ID)
	time.Sleep(20 * time.Millisecond)
	if n := a.calls.Load(); n != 1 {
		t.Fatalf("admitted %d times", n)
	}
}

func TestFullQueueRejects(t *testing.T) {
	a := &fakeAdmitter{}
	tr := New(a, journal.NewMemory(), nil, Config{Workers: 1, QueueSize: 1, EnqueueTimeout: 10 * time.Millisecond})
	if _, err := tr.Enqueue(context.Background(), Submission{SessionID: "s1", UserID: "u1", Seats: 1}); err != nil {
		t.Fatal(err)
	}
	_, err := tr.Enqueue(context.Background(), Submission{SessionID: "s1", UserID: "u2", Seats: 1})
	if !errors.Is(err, model.ErrConcurrencyTimeout) {
		t.Fatalf("want ConcurrencyTimeout, got %v", err)
	}
}

func TestRestoreReenqueuesQueued(t *testing.T) {
	a := &fakeAdmitter{}
	tr := New(a, journal.NewMemory(), nil, Config{Workers: 1})
	now := time.Now().UTC()
	done := "reg-x"
	tr.Restore([]model.Request{
		{ID: "q1", SessionID: "s1", UserID: "u", Seats: 1, State: model.RequestQueued, CreatedAt: now},
		{ID: "d1", SessionID: "s1", UserID: "v", Seats: 1, State: model.RequestConfirmed, RegistrationID: &done, CreatedAt: now},
	})
	start(t, tr)
	if got := waitTerminal(t, tr, "q1"); got.State != model.RequestConfirmed {
		t.Fatalf("q1 %+v", got)
	}
	if n := a.calls.Load(); n != 1 {
		t.Fatalf("admitted %d times, terminal requests must not be re-run", n)
	}
	if _, err := tr.Get("missing"); !errors.Is(err, model.ErrNotFound) {
		t.Fatalf("want NotFound, got %v", err)
	}
}
