package repository

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"

	"github.com/iliyamo/badminton-sessions/internal/model"
)

// RequestRepo persists async registration requests.
type RequestRepo struct {
	db *sql.DB
}

// NewRequestRepo returns a RequestRepo bound to db.
func NewRequestRepo(db *sql.DB) *RequestRepo { return &RequestRepo{db: db} }

// UpsertTx writes req inside tx.  The WHERE guard in the update clause
// keeps a terminal request from being overwritten.
func (r *RequestRepo) UpsertTx(ctx context.Context, tx *sql.Tx, req model.Request) error {
	guests, err := json.Marshal(req.GuestNames)
	if err != nil {
		return fmt.Errorf("marshal guest names: %w", err)
	}
	var kind, msg sql.NullString
	if req.Error != nil {
		kind = sql.NullString{String: req.Error.Kind, Valid: true}
		msg = sql.NullString{String: req.Error.Message, Valid: true}
	}
	var pos sql.NullInt64
	if req.WaitlistPos != nil {
		pos = sql.NullInt64{Int64: *req.WaitlistPos, Valid: true}
	}
	const q = `INSERT INTO registration_requests
                 (id, session_id, user_id, user_name, seats, guest_names, state, registration_id, waitlist_pos,
                  error_kind, error_message, created_at, resolved_at)
               VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
               ON DUPLICATE KEY UPDATE
                 registration_id = IF(state = 'queued', VALUES(registration_id), registration_id),
                 waitlist_pos    = IF(state = 'queued', VALUES(waitlist_pos), waitlist_pos),
                 error_kind      = IF(state = 'queued', VALUES(error_kind), error_kind),
                 error_message   = IF(state = 'queued', VALUES(error_message), error_message),
                 resolved_at     = IF(state = 'queued', VALUES(resolved_at), resolved_at),
                 state           = IF(state = 'queued', VALUES(state), state)`
	_, err = tx.ExecContext(ctx, q,
		req.ID, req.SessionID, req.UserID, req.UserName, req.Seats, guests, req.State, req.RegistrationID, pos,
		kind, msg, req.CreatedAt.UTC(), nullTime(req.ResolvedAt))
	return err
}

// ListAll loads every request ordered by creation.
func (r *RequestRepo) ListAll(ctx context.Context) ([]model.Request, error) {
	const q = `SELECT id, session_id, user_id, user_name, seats, guest_names, state, registration_id, waitlist_pos,
                      error_kind, error_message, created_at, resolved_at
               FROM registration_requests ORDER BY created_at, id`
	rows, err := r.db.QueryContext(ctx, q)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []model.Request
	for rows.Next() {
		var (
			req       model.Request
			guests    []byte
			regID     sql.NullString
			pos       sql.NullInt64
			kind, msg sql.NullString
			resolved  sql.NullTime
		)
		if err := rows.Scan(&req.ID, &req.SessionID, &req.UserID, &req.UserName, &req.Seats, &guests, &req.State, &regID, &pos,
			&kind, &msg, &req.CreatedAt, &resolved); err != nil {
			return nil, err
		}
		if err := json.Unmarshal(guests, &req.GuestNames); err != nil {
			return nil, fmt.Errorf("request %s: guest names: %w", req.ID, err)
		}
		req.RegistrationID = strPtr(regID)
		req.WaitlistPos = int64Ptr(pos)
		if kind.Valid {
			req.Error = &model.RequestError{Kind: kind.String, Message: msg.String}
		}
		req.ResolvedAt = timePtr(resolved)
		out = append(out, req)
	}
	return out, rows.Err()
}
