package repository

import (
	"context"
	"database/sql"

	"github.com/iliyamo/badminton-sessions/internal/model"
)

// LedgerRepo appends wallet ledger entries.  There is no update or delete:
// the table is the audit trail balances are folded from.
type LedgerRepo struct {
	db *sql.DB
}

// NewLedgerRepo returns a LedgerRepo bound to db.
func NewLedgerRepo(db *sql.DB) *LedgerRepo { return &LedgerRepo{db: db} }

// InsertBulkTx appends entries in one statement.  Ids are assigned by the
// ledger before the write so that the order of the fold is the order of
// the ids.  Passing an empty slice has no effect.
func (r *LedgerRepo) InsertBulkTx(ctx context.Context, tx *sql.Tx, entries []model.LedgerEntry) error {
	if len(entries) == 0 {
		return nil
	}
	query := `INSERT INTO ledger_entries (id, user_id, kind, amount_cents, session_id, registration_id, idempotency_key, created_at) VALUES `
	args := make([]interface{}, 0, len(entries)*8)
	for i, e := range entries {
		if i > 0 {
			query += ","
		}
		query += "(?, ?, ?, ?, ?, ?, ?, ?)"
		args = append(args, e.ID, e.UserID, e.Kind, e.AmountCents, e.SessionID, e.RegistrationID, e.IdempotencyKey, e.CreatedAt.UTC())
	}
	_, err := tx.ExecContext(ctx, query, args...)
	return translate(err)
}

// ListAll returns every entry in id order.
func (r *LedgerRepo) ListAll(ctx context.Context) ([]model.LedgerEntry, error) {
	const q = `SELECT id, user_id, kind, amount_cents, session_id, registration_id, idempotency_key, created_at
               FROM ledger_entries ORDER BY id`
	rows, err := r.db.QueryContext(ctx, q)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []model.LedgerEntry
	for rows.Next() {
		var (
			e                 model.LedgerEntry
			session, reg, key sql.NullString
		)
		if err := rows.Scan(&e.ID, &e.UserID, &e.Kind, &e.AmountCents, &session, &reg, &key, &e.CreatedAt); err != nil {
			return nil, err
		}
		e.SessionID, e.RegistrationID, e.IdempotencyKey = strPtr(session), strPtr(reg), strPtr(key)
		out = append(out, e)
	}
	return out, rows.Err()
}
