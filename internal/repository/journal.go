package repository

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/iliyamo/badminton-sessions/internal/journal"
)

// Journal commits engine batches to MySQL.  It implements journal.Store.
type Journal struct {
	db            *sql.DB
	Sessions      *SessionRepo
	Registrations *RegistrationRepo
	Ledger        *LedgerRepo
	Requests      *RequestRepo
}

// NewJournal wires the repositories sharing db.
func NewJournal(db *sql.DB) *Journal {
	return &Journal{
		db:            db,
		Sessions:      NewSessionRepo(db),
		Registrations: NewRegistrationRepo(db),
		Ledger:        NewLedgerRepo(db),
		Requests:      NewRequestRepo(db),
	}
}

// DB exposes the underlying handle for health checks.
func (j *Journal) DB() *sql.DB { return j.db }

// Commit writes every row of b in one transaction.
func (j *Journal) Commit(ctx context.Context, b *journal.Batch) error {
	if b.Empty() {
		return nil
	}
	tx, err := j.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin: %w", err)
	}
	committed := false
	defer func() {
		if !committed {
			_ = tx.Rollback()
		}
	}()
	// sessions first so registrations can reference them
	for _, s := range b.Sessions {
		if err := j.Sessions.UpsertTx(ctx, tx, s); err != nil {
			return fmt.Errorf("session %s: %w", s.ID, err)
		}
	}
	for _, r := range b.Registrations {
		if err := j.Registrations.UpsertTx(ctx, tx, r); err != nil {
			return fmt.Errorf("registration %s: %w", r.ID, err)
		}
	}
	if err := j.Ledger.InsertBulkTx(ctx, tx, b.Entries); err != nil {
		return fmt.Errorf("ledger: %w", err)
	}
	for _, q := range b.Requests {
		if err := j.Requests.UpsertTx(ctx, tx, q); err != nil {
			return fmt.Errorf("request %s: %w", q.ID, err)
		}
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit: %w", err)
	}
	committed = true
	return nil
}

// Load reads everything back for startup.
func (j *Journal) Load(ctx context.Context) (*journal.Snapshot, error) {
	var (
		snap journal.Snapshot
		err  error
	)
	if snap.Sessions, err = j.Sessions.ListAll(ctx); err != nil {
		return nil, fmt.Errorf("load sessions: %w", err)
	}
	if snap.Registrations, err = j.Registrations.ListAll(ctx); err != nil {
		return nil, fmt.Errorf("load registrations: %w", err)
	}
	if snap.Entries, err = j.Ledger.ListAll(ctx); err != nil {
		return nil, fmt.Errorf("load ledger: %w", err)
	}
	if snap.Requests, err = j.Requests.ListAll(ctx); err != nil {
		return nil, fmt.Errorf("load requests: %w", err)
	}
	return &snap, nil
}

var _ journal.Store = (*Journal)(nil)
