package repository

import (
	"context"      // context for controlling query lifetime
	"database/sql" // sql provides DB abstraction
	"time"

	"github.com/iliyamo/badminton-sessions/internal/model"
)

// SessionRepo manages persistence for sessions.
type SessionRepo struct {
	db *sql.DB
}

// NewSessionRepo constructs a SessionRepo bound to db.
func NewSessionRepo(db *sql.DB) *SessionRepo { return &SessionRepo{db: db} }

// UpsertTx writes the full session row inside tx.  The confirmed seat
// counter and waitlist sequence are stored with the row so they are
// always committed together with the registrations they summarise.
func (r *SessionRepo) UpsertTx(ctx context.Context, tx *sql.Tx, s model.Session) error {
	const q = `INSERT INTO sessions
                 (id, title, starts_at, timezone, capacity, fee_cents, status, confirmed_seats, waitlist_seq, settled_at, created_at)
               VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
               ON DUPLICATE KEY UPDATE
                 title = VALUES(title), capacity = VALUES(capacity), status = VALUES(status),
                 confirmed_seats = VALUES(confirmed_seats), waitlist_seq = VALUES(waitlist_seq),
                 settled_at = VALUES(settled_at)`
	_, err := tx.ExecContext(ctx, q,
		s.ID, s.Title, s.StartsAt.UTC(), s.Timezone, s.Capacity, s.FeeCents, s.Status,
		s.ConfirmedSeats, s.WaitlistSeq, nullTime(s.SettledAt), s.CreatedAt.UTC())
	return err
}

// ListAll loads every session ordered by creation.
func (r *SessionRepo) ListAll(ctx context.Context) ([]model.Session, error) {
	const q = `SELECT id, title, starts_at, timezone, capacity, fee_cents, status, confirmed_seats, waitlist_seq, settled_at, created_at
               FROM sessions ORDER BY created_at, id`
	rows, err := r.db.QueryContext(ctx, q)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []model.Session
	for rows.Next() {
		var (
			s       model.Session
			title   sql.NullString
			settled sql.NullTime
		)
		if err := rows.Scan(&s.ID, &title, &s.StartsAt, &s.Timezone, &s.Capacity, &s.FeeCents, &s.Status,
			&s.ConfirmedSeats, &s.WaitlistSeq, &settled, &s.CreatedAt); err != nil {
			return nil, err
		}
		if title.Valid {
			t := title.String
			s.Title = &t
		}
		s.SettledAt = timePtr(settled)
		out = append(out, s)
	}
	return out, rows.Err()
}

func nullTime(t *time.Time) sql.NullTime {
	if t == nil {
		return sql.NullTime{}
	}
	return sql.NullTime{Time: t.UTC(), Valid: true}
}

func timePtr(t sql.NullTime) *time.Time {
	if !t.Valid {
		return nil
	}
	v := t.Time.UTC()
	return &v
}

func strPtr(s sql.NullString) *string {
	if !s.Valid {
		return nil
	}
	v := s.String
	return &v
}

func int64Ptr(n sql.NullInt64) *int64 {
	if !n.Valid {
		return nil
	}
	v := n.Int64
	return &v
}
