package idempotency

import (
	"context"
	"sync"
	"time"

	"github.com/iliyamo/badminton-sessions/internal/model"
)

type call struct {
	fingerprint string
	done        chan struct{}
	resp        Response
	ok          bool
}

// Memory is a process-local Store.  Records never expire.
type Memory struct {
	mu    sync.Mutex
	calls map[string]*call
	wait  time.Duration
}

// NewMemory returns a Memory store whose callers wait at most wait for a
// concurrent execution of the same key.
func NewMemory(wait time.Duration) *Memory {
	if wait <= 0 {
		wait = 5 * time.Second
	}
	return &Memory{calls: make(map[string]*call), wait: wait}
}

// Do implements Store.
func (m *Memory) Do(ctx context.Context, key, fingerprint string, op Operation) (Response, bool, error) {
	deadline := time.NewTimer(m.wait)
	defer deadline.Stop()
	for {
		m.mu.Lock()
		c, found := m.calls[key]
		if !found {
			c = &call{fingerprint: fingerprint, done: make(chan struct{})}
			m.calls[key] = c
			m.mu.Unlock()
			resp, err := m.run(ctx, key, c, op)
			return resp, false, err
		}
		m.mu.Unlock()

		if c.fingerprint != fingerprint {
			return Response{}, false, model.Errorf(model.KindIdempotencyKeyReuse, "idempotency key was already used for a different request")
		}
		select {
		case <-c.done:
			if c.ok {
				return c.resp, true, nil
			}
			// the first execution failed and released the key; try again
		case <-deadline.C:
			return Response{}, false, model.Errorf(model.KindConcurrencyTimeout, "request with the same idempotency key is still in progress")
		case <-ctx.Done():
			return Response{}, false, ctx.Err()
		}
	}
}

func (m *Memory) run(ctx context.Context, key string, c *call, op Operation) (resp Response, err error) {
	completed := false
	defer func() {
		if !completed {
			m.mu.Lock()
			delete(m.calls, key)
			m.mu.Unlock()
		}
		close(c.done)
	}()
	resp, err = op(ctx)
	if err != nil {
		return Response{}, err
	}
	c.resp, c.ok = resp, true
	completed = true
	return resp, nil
}
