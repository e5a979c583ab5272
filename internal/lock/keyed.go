// Package lock provides per-key mutual exclusion with a bounded wait.
// Each key maps to a weighted semaphore of size one; entries are reference
// counted and dropped once nobody holds or waits for them.
package lock

import (
	"context"
	"errors"
	"sort"
	"sync"
	"time"

	"golang.org/x/sync/semaphore"

	"github.com/iliyamo/badminton-sessions/internal/model"
)

type entry struct {
	sem  *semaphore.Weighted
	refs int
}

// Keyed serialises work per key.
type Keyed struct {
	name    string
	timeout time.Duration
	mu      sync.Mutex
	entries map[string]*entry
}

// NewKeyed returns a Keyed lock whose acquisitions give up after timeout.
// The name only appears in error messages.
func NewKeyed(name string, timeout time.Duration) *Keyed {
	if timeout <= 0 {
		timeout = 3 * time.Second
	}
	return &Keyed{name: name, timeout: timeout, entries: make(map[string]*entry)}
}

func (k *Keyed) ref(key string) *entry {
	k.mu.Lock()
	defer k.mu.Unlock()
	e, ok := k.entries[key]
	if !ok {
		e = &entry{sem: semaphore.NewWeighted(1)}
		k.entries[key] = e
	}
	e.refs++
	return e
}

func (k *Keyed) unref(key string, e *entry) {
	k.mu.Lock()
	defer k.mu.Unlock()
	e.refs--
	if e.refs == 0 {
		delete(k.entries, key)
	}
}

// Lock acquires key.  It returns ErrConcurrencyTimeout when the lock could
// not be obtained within the configured timeout, and the context error
// when ctx itself ends first.
func (k *Keyed) Lock(ctx context.Context, key string) (func(), error) {
	e := k.ref(key)
	wctx, cancel := context.WithTimeout(ctx, k.timeout)
	defer cancel()
	if err := e.sem.Acquire(wctx, 1); err != nil {
		k.unref(key, e)
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		if errors.Is(err, context.DeadlineExceeded) {
			return nil, model.Errorf(model.KindConcurrencyTimeout, "%s lock %s not acquired within %s", k.name, key, k.timeout)
		}
		return nil, err
	}
	var once sync.Once
	return func() {
		once.Do(func() {
			e.sem.Release(1)
			k.unref(key, e)
		})
	}, nil
}

// LockAll acquires every distinct key in sorted order so that callers
// locking overlapping sets cannot deadlock.  Either all keys are held on
// return or none are.
func (k *Keyed) LockAll(ctx context.Context, keys ...string) (func(), error) {
	uniq := make([]string, 0, len(keys))
	seen := make(map[string]bool, len(keys))
	for _, key := range keys {
		if !seen[key] {
			seen[key] = true
			uniq = append(uniq, key)
		}
	}
	sort.Strings(uniq)
	releases := make([]func(), 0, len(uniq))
	unlock := func() {
		for i := len(releases) - 1; i >= 0; i-- {
			releases[i]()
		}
	}
	for _, key := range uniq {
		rel, err := k.Lock(ctx, key)
		if err != nil {
			unlock()
			return nil, err
		}
		releases = append(releases, rel)
	}
	return unlock, nil
}

// Size returns the number of live entries.
func (k *Keyed) Size() int {
	k.mu.Lock()
	defer k.mu.Unlock()
	return len(k.entries)
}
