package journal

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/iliyamo/badminton-sessions/internal/model"
)

func TestMemoryCommitAndLoad(t *testing.T) {
	m := NewMemory()
	now := time.Now().UTC()
	s := model.Session{ID: "s1", Capacity: 4, CreatedAt: now}
	r := model.Registration{ID: "r1", SessionID: "s1", GroupKey: "r1", Seats: 1, State: model.RegConfirmed, CreatedAt: now}
	if err := m.Commit(context.Background(), &Batch{
		Sessions:      []model.Session{s},
		Registrations: []model.Registration{r},
		Entries:       []model.LedgerEntry{{ID: 2, UserID: "u"}, {ID: 1, UserID: "u"}},
	}); err != nil {
		t.Fatal(err)
	}
	s.ConfirmedSeats = 1
	if err := m.Commit(context.Background(), &Batch{Sessions: []model.Session{s}}); err != nil {
		t.Fatal(err)
	}

	snap, err := m.Load(context.Background())
	if err != nil {
		t.Fatal(err)
	}
	if len(snap.Sessions) != 1 || snap.Sessions[0].ConfirmedSeats != 1 {
		t.Fatalf("sessions not upserted: %+v", snap.Sessions)
	}
	if len(snap.Registrations) != 1 {
		t.Fatalf("registrations: %+v", snap.Registrations)
	}
	if snap.Entries[0].ID != 1 || snap.Entries[1].ID != 2 {
		t.Fatalf("entries not ordered by id: %+v", snap.Entries)
	}
	if m.Commits() != 2 {
		t.Fatalf("commits = %d", m.Commits())
	}
}

func TestMemoryFailLeavesNothing(t *testing.T) {
	m := NewMemory()
	boom := errors.New("disk full")
	m.Fail(boom)
	err := m.Commit(context.Background(), &Batch{Sessions: []model.Session{{ID: "s1"}}})
	if !errors.Is(err, boom) {
		t.Fatalf("want injected error, got %v", err)
	}
	snap, _ := m.Load(context.Background())
	if len(snap.Sessions) != 0 {
		t.Fatalf("failed commit was stored: %+v", snap.Sessions)
	}
	if err := m.Commit(context.Background(), &Batch{Sessions: []model.Session{{ID: "s1"}}}); err != nil {
		t.Fatalf("failure should only affect one commit: %v", err)
	}
}
