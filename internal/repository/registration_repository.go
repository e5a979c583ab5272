package repository

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"

	"github.com/iliyamo/badminton-sessions/internal/model"
)

// RegistrationRepo persists registration rows.  Guest names are stored
// as a JSON array.
type RegistrationRepo struct {
	db *sql.DB
}

// NewRegistrationRepo returns a RegistrationRepo bound to db.
func NewRegistrationRepo(db *sql.DB) *RegistrationRepo { return &RegistrationRepo{db: db} }

// UpsertTx writes r inside tx.  Identity columns (session, host, group,
// created_at) never change after the first insert.
func (r *RegistrationRepo) UpsertTx(ctx context.Context, tx *sql.Tx, reg model.Registration) error {
	guests, err := json.Marshal(reg.GuestNames)
	if err != nil {
		return fmt.Errorf("marshal guest names: %w", err)
	}
	const q = `INSERT INTO registrations
                 (id, session_id, host_user_id, host_name, seats, guest_names, state, waitlist_pos,
                  group_key, amount_cents, created_at, canceled_at, canceled_from)
               VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
               ON DUPLICATE KEY UPDATE
                 seats = VALUES(seats), guest_names = VALUES(guest_names), state = VALUES(state),
                 waitlist_pos = VALUES(waitlist_pos), amount_cents = VALUES(amount_cents),
                 canceled_at = VALUES(canceled_at), canceled_from = VALUES(canceled_from)`
	var pos sql.NullInt64
	if reg.WaitlistPos != nil {
		pos = sql.NullInt64{Int64: *reg.WaitlistPos, Valid: true}
	}
	_, err = tx.ExecContext(ctx, q,
		reg.ID, reg.SessionID, reg.HostUserID, reg.HostName, reg.Seats, guests, reg.State, pos,
		reg.GroupKey, reg.AmountCents, reg.CreatedAt.UTC(), nullTime(reg.CanceledAt), reg.CanceledFrom)
	return err
}

// ListAll loads every registration ordered by creation.
func (r *RegistrationRepo) ListAll(ctx context.Context) ([]model.Registration, error) {
	const q = `SELECT id, session_id, host_user_id, host_name, seats, guest_names, state, waitlist_pos,
                      group_key, amount_cents, created_at, canceled_at, canceled_from
               FROM registrations ORDER BY created_at, id`
	rows, err := r.db.QueryContext(ctx, q)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []model.Registration
	for rows.Next() {
		var (
			reg      model.Registration
			guests   []byte
			pos      sql.NullInt64
			canceled sql.NullTime
			from     sql.NullString
		)
		if err := rows.Scan(&reg.ID, &reg.SessionID, &reg.HostUserID, &reg.HostName, &reg.Seats, &guests, &reg.State, &pos,
			&reg.GroupKey, &reg.AmountCents, &reg.CreatedAt, &canceled, &from); err != nil {
			return nil, err
		}
		if err := json.Unmarshal(guests, &reg.GuestNames); err != nil {
			return nil, fmt.Errorf("registration %s: guest names: %w", reg.ID, err)
		}
		reg.WaitlistPos = int64Ptr(pos)
		reg.CanceledAt = timePtr(canceled)
		reg.CanceledFrom = strPtr(from)
		out = append(out, reg)
	}
	return out, rows.Err()
}
