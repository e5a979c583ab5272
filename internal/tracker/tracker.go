// Package tracker runs registration submissions asynchronously.  A
// submission is durably recorded as queued, handed to a bounded queue and
// resolved by a worker pool.  The engine writes the terminal request in
// the same unit as the registration it produced, so a request cannot end
// up confirmed without its row or resolved twice.
package tracker

import (
	"context"
	"errors"
	"fmt"
	"log"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"github.com/iliyamo/badminton-sessions/internal/journal"
	"github.com/iliyamo/badminton-sessions/internal/model"
)

// Admitter resolves a queued request.
type Admitter interface {
	Admit(ctx context.Context, req model.Request) (model.Request, error)
}

// Notifier is told when a request changes state.
type Notifier interface {
	RequestChanged(requestID string)
}

// Config sizes the tracker.
type Config struct {
	Workers        int
	QueueSize      int
	EnqueueTimeout time.Duration
}

// Submission is what a client asked for.
type Submission struct {
	SessionID  string
	UserID     string
	UserName   string
	Seats      int
	GuestNames []string
}

// Tracker owns the request read model and the worker queue.
type Tracker struct {
	mu       sync.RWMutex
	requests map[string]model.Request
	inflight map[string]struct{}
	pending  []string
	queue    chan string

	admit   Admitter
	journal journal.Journal
	notify  Notifier
	cfg     Config
	now     func() time.Time
}

// Option customises a Tracker.
type Option func(*Tracker)

// WithClock replaces the wall clock.
func WithClock(now func() time.Time) Option { return func(t *Tracker) { t.now = now } }

// New builds a tracker.  n may be nil.
func New(a Admitter, j journal.Journal, n Notifier, cfg Config, opts ...Option) *Tracker {
	if cfg.Workers <= 0 {
		cfg.Workers = 4
	}
	if cfg.QueueSize <= 0 {
		cfg.QueueSize = 1024
	}
	if cfg.EnqueueTimeout <= 0 {
		cfg.EnqueueTimeout = 2 * time.Second
	}
	if j == nil {
		j = journal.Nop{}
	}
	t := &Tracker{
		requests: make(map[string]model.Request),
		inflight: make(map[string]struct{}),
		queue:    make(chan string, cfg.QueueSize),
		admit:    a,
		journal:  j,
		notify:   n,
		cfg:      cfg,
		now:      func() time.Time { return time.Now().UTC() },
	}
	for _, o := range opts {
		o(t)
	}
	return t
}

// Restore loads persisted requests.  Requests still queued are handed to
// the workers once Run starts, oldest first.
func (t *Tracker) Restore(reqs []model.Request) {
	t.mu.Lock()
	defer t.mu.Unlock()
	var queued []model.Request
	for _, r := range reqs {
		t.requests[r.ID] = r
		if !r.Terminal() {
			queued = append(queued, r)
		}
	}
	sort.Slice(queued, func(i, j int) bool { return queued[i].CreatedAt.Before(queued[j].CreatedAt) })
	for _, r := range queued {
		t.pending = append(t.pending, r.ID)
	}
}

// Enqueue records a queued request and schedules it.  When the queue
// stays full for the enqueue timeout the request is rejected and a
// ConcurrencyTimeout is returned.
func (t *Tracker) Enqueue(ctx context.Context, s Submission) (model.Request, error) {
	req := model.Request{
		ID:         uuid.NewString(),
		SessionID:  s.SessionID,
		UserID:     s.UserID,
		UserName:   s.UserName,
		Seats:      s.Seats,
		GuestNames: s.GuestNames,
		State:      model.RequestQueued,
		CreatedAt:  t.now(),
	}
	if req.GuestNames == nil {
		req.GuestNames = []string{}
	}
	if err := t.journal.Commit(ctx, &journal.Batch{Requests: []model.Request{req}}); err != nil {
		return model.Request{}, fmt.Errorf("tracker: record request: %w", err)
	}
	t.mu.Lock()
	t.requests[req.ID] = req
	t.mu.Unlock()

	timer := time.NewTimer(t.cfg.EnqueueTimeout)
	defer timer.Stop()
	select {
	case t.queue <- req.ID:
		return req, nil
	case <-timer.C:
	case <-ctx.Done():
	}
	busy := model.Errorf(model.KindConcurrencyTimeout, "registration queue is full, retry later")
	t.resolve(context.Background(), req, busy)
	return model.Request{}, busy
}

// Get returns a request by id.
func (t *Tracker) Get(id string) (model.Request, error) {
	t.mu.RLock()
	defer t.mu.RUnlock()
	r, ok := t.requests[id]
	if !ok {
		return model.Request{}, model.Errorf(model.KindNotFound, "request %s not found", id)
	}
	return r, nil
}

// Depth is the number of requests waiting for a worker.
func (t *Tracker) Depth() int { return len(t.queue) }

// Run starts the workers and blocks until ctx is canceled.
func (t *Tracker) Run(ctx context.Context) error {
	g, ctx := errgroup.WithContext(ctx)
	t.mu.Lock()
	backlog := t.pending
	t.pending = nil
	t.mu.Unlock()
	if len(backlog) > 0 {
		log.Printf("tracker: re-enqueueing %d queued requests", len(backlog))
		g.Go(func() error {
			for _, id := range backlog {
				select {
				case t.queue <- id:
				case <-ctx.Done():
					return nil
				}
			}
			return nil
		})
	}
	for i := 0; i < t.cfg.Workers; i++ {
		g.Go(func() error {
			for {
				select {
				case <-ctx.Done():
					return nil
				case id := <-t.queue:
					t.process(ctx, id)
				}
			}
		})
	}
	return g.Wait()
}

// claim marks id as being worked on.  A request is claimed once: terminal
// or already claimed requests are skipped.
func (t *Tracker) claim(id string) (model.Request, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	r, ok := t.requests[id]
	if !ok || r.Terminal() {
		return model.Request{}, false
	}
	if _, busy := t.inflight[id]; busy {
		return model.Request{}, false
	}
	t.inflight[id] = struct{}{}
	return r, true
}

func (t *Tracker) unclaim(id string) {
	t.mu.Lock()
	delete(t.inflight, id)
	t.mu.Unlock()
}

func (t *Tracker) process(ctx context.Context, id string) {
	req, ok := t.claim(id)
	if !ok {
		return
	}
	defer t.unclaim(id)
	resolved, err := t.admit.Admit(ctx, req)
	if err != nil {
		if ctx.Err() != nil && model.KindOf(err) == "" {
			// shutting down; the request stays queued for the next start
			return
		}
		t.resolve(ctx, req, err)
		return
	}
	t.store(resolved)
}

// resolve records req as rejected because of err.  If the rejection
// cannot be written the request stays queued and is retried at startup.
func (t *Tracker) resolve(ctx context.Context, req model.Request, cause error) {
	now := t.now()
	rejected := req
	rejected.State = model.RequestRejected
	rejected.ResolvedAt = &now
	rejected.Error = rejection(cause)
	if err := t.journal.Commit(ctx, &journal.Batch{Requests: []model.Request{rejected}}); err != nil {
		log.Printf("tracker: record rejection of %s failed: %v", req.ID, err)
		return
	}
	t.store(rejected)
}

func (t *Tracker) store(r model.Request) {
	t.mu.Lock()
	t.requests[r.ID] = r
	t.mu.Unlock()
	if t.notify != nil {
		t.notify.RequestChanged(r.ID)
	}
}

func rejection(err error) *model.RequestError {
	var e *model.Error
	if errors.As(err, &e) {
		return &model.RequestError{Kind: string(e.Kind), Message: e.Message}
	}
	log.Printf("tracker: admission failed: %v", err)
	return &model.RequestError{Kind: "internal", Message: "registration could not be recorded"}
}
