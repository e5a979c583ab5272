// Package journal defines the durable write path of the engine.  Every
// atomic unit of change (a submission, a cancel with its promotions, a
// settle) is gathered into one Batch and committed in a single
// transaction before the in-memory projection is updated.
package journal

import (
	"context"

	"github.com/iliyamo/badminton-sessions/internal/model"
)

// Batch is the full set of rows written by one atomic unit.  Sessions,
// registrations and requests are upserted by id; ledger entries are
// append-only.
type Batch struct {
	Sessions      []model.Session
	Registrations []model.Registration
	Entries       []model.LedgerEntry
	Requests      []model.Request
}

// Empty reports whether the batch writes nothing.
func (b *Batch) Empty() bool {
	return b == nil || len(b.Sessions)+len(b.Registrations)+len(b.Entries)+len(b.Requests) == 0
}

// Snapshot is everything needed to rebuild the in-memory state at
// startup.
type Snapshot struct {
	Sessions      []model.Session
	Registrations []model.Registration
	Entries       []model.LedgerEntry
	Requests      []model.Request
}

// Journal commits batches atomically: either every row of the batch is
// durable or none is.
type Journal interface {
	Commit(ctx context.Context, b *Batch) error
}

// Store is a Journal that can also replay what it holds.
type Store interface {
	Journal
	Load(ctx context.Context) (*Snapshot, error)
}

// Nop discards every batch.
type Nop struct{}

// Commit implements Journal.
func (Nop) Commit(context.Context, *Batch) error { return nil }
