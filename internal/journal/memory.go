package journal

import (
	"context"
	"sort"
	"sync"

	"github.com/iliyamo/badminton-sessions/internal/model"
)

// Memory keeps committed rows in process memory.  It backs STORE=memory
// and the tests; Fail makes the next commit fail so callers can check
// that a failed write leaves no trace.
type Memory struct {
	mu            sync.Mutex
	sessions      map[string]model.Session
	registrations map[string]model.Registration
	requests      map[string]model.Request
	entries       []model.LedgerEntry
	fail          error
	commits       int
}

// NewMemory returns an empty memory journal.
func NewMemory() *Memory {
	return &Memory{
		sessions:      make(map[string]model.Session),
		registrations: make(map[string]model.Registration),
		requests:      make(map[string]model.Request),
	}
}

// Fail arranges for the next Commit to return err.
func (m *Memory) Fail(err error) {
	m.mu.Lock()
	m.fail = err
	m.mu.Unlock()
}

// Commits returns the number of successful commits.
func (m *Memory) Commits() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.commits
}

// Commit implements Journal.
func (m *Memory) Commit(_ context.Context, b *Batch) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.fail != nil {
		err := m.fail
		m.fail = nil
		return err
	}
	if b.Empty() {
		return nil
	}
	for _, s := range b.Sessions {
		m.sessions[s.ID] = s
	}
	for _, r := range b.Registrations {
		m.registrations[r.ID] = r.Clone()
	}
	for _, q := range b.Requests {
		m.requests[q.ID] = q
	}
	m.entries = append(m.entries, b.Entries...)
	m.commits++
	return nil
}

// Load implements Store.
func (m *Memory) Load(context.Context) (*Snapshot, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	snap := &Snapshot{Entries: append([]model.LedgerEntry(nil), m.entries...)}
	for _, s := range m.sessions {
		snap.Sessions = append(snap.Sessions, s)
	}
	for _, r := range m.registrations {
		snap.Registrations = append(snap.Registrations, r.Clone())
	}
	for _, q := range m.requests {
		snap.Requests = append(snap.Requests, q)
	}
	sort.Slice(snap.Sessions, func(i, j int) bool { return snap.Sessions[i].CreatedAt.Before(snap.Sessions[j].CreatedAt) })
	sort.Slice(snap.Registrations, func(i, j int) bool {
		return snap.Registrations[i].CreatedAt.Before(snap.Registrations[j].CreatedAt)
	})
	sort.Slice(snap.Requests, func(i, j int) bool { return snap.Requests[i].CreatedAt.Before(snap.Requests[j].CreatedAt) })
	sort.Slice(snap.Entries, func(i, j int) bool { return snap.Entries[i].ID < snap.Entries[j].ID })
	return snap, nil
}
