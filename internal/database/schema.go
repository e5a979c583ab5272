package database

import (
	"context"
	"database/sql"
	"fmt"
)

// schema creates the tables on first start.  Statements are idempotent.
var schema = []string{
	`CREATE TABLE IF NOT EXISTS sessions (
        id              CHAR(36)     NOT NULL PRIMARY KEY,
        title           VARCHAR(200) NULL,
        starts_at       DATETIME(6)  NOT NULL,
        timezone        VARCHAR(64)  NOT NULL,
        capacity        INT UNSIGNED NOT NULL,
        fee_cents       BIGINT       NOT NULL,
        status          VARCHAR(16)  NOT NULL,
        confirmed_seats INT UNSIGNED NOT NULL DEFAULT 0,
        waitlist_seq    BIGINT       NOT NULL DEFAULT 0,
        settled_at      DATETIME(6)  NULL,
        created_at      DATETIME(6)  NOT NULL,
        KEY idx_sessions_starts_at (starts_at)
    ) ENGINE=InnoDB DEFAULT CHARSET=utf8mb4`,
	`CREATE TABLE IF NOT EXISTS registrations (
        id            CHAR(36)     NOT NULL PRIMARY KEY,
        session_id    CHAR(36)     NOT NULL,
        host_user_id  VARCHAR(64)  NOT NULL,
        host_name     VARCHAR(128) NOT NULL DEFAULT '',
        seats         TINYINT UNSIGNED NOT NULL,
        guest_names   JSON         NOT NULL,
        state         VARCHAR(16)  NOT NULL,
        waitlist_pos  BIGINT       NULL,
        group_key     CHAR(36)     NOT NULL,
        amount_cents  BIGINT       NOT NULL DEFAULT 0,
        created_at    DATETIME(6)  NOT NULL,
        canceled_at   DATETIME(6)  NULL,
        canceled_from VARCHAR(16)  NULL,
        UNIQUE KEY uq_registrations_waitlist (session_id, waitlist_pos),
        KEY idx_registrations_group (group_key),
        KEY idx_registrations_host (host_user_id),
        CONSTRAINT fk_registrations_session FOREIGN KEY (session_id) REFERENCES sessions (id)
    ) ENGINE=InnoDB DEFAULT CHARSET=utf8mb4`,
	`CREATE TABLE IF NOT EXISTS ledger_entries (
        id              BIGINT       NOT NULL PRIMARY KEY,
        user_id         VARCHAR(64)  NOT NULL,
        kind            VARCHAR(32)  NOT NULL,
        amount_cents    BIGINT       NOT NULL,
        session_id      CHAR(36)     NULL,
        registration_id CHAR(36)     NULL,
        idempotency_key VARCHAR(128) NULL,
        created_at      DATETIME(6)  NOT NULL,
        UNIQUE KEY uq_ledger_idempotency (user_id, kind, idempotency_key),
        KEY idx_ledger_user (user_id, id),
        KEY idx_ledger_registration (registration_id)
    ) ENGINE=InnoDB DEFAULT CHARSET=utf8mb4`,
	`CREATE TABLE IF NOT EXISTS registration_requests (
        id              CHAR(36)     NOT NULL PRIMARY KEY,
        session_id      CHAR(36)     NOT NULL,
        user_id         VARCHAR(64)  NOT NULL,
        user_name       VARCHAR(128) NOT NULL DEFAULT '',
        seats           TINYINT UNSIGNED NOT NULL,
        guest_names     JSON         NOT NULL,
        state           VARCHAR(16)  NOT NULL,
        registration_id CHAR(36)     NULL,
        waitlist_pos    BIGINT       NULL,
        error_kind      VARCHAR(64)  NULL,
        error_message   VARCHAR(512) NULL,
        created_at      DATETIME(6)  NOT NULL,
        resolved_at     DATETIME(6)  NULL,
        KEY idx_requests_state (state, created_at)
    ) ENGINE=InnoDB DEFAULT CHARSET=utf8mb4`,
}

// Migrate creates any missing table.
func Migrate(ctx context.Context, db *sql.DB) error {
	for i, stmt := range schema {
		if _, err := db.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("migrate step %d: %w", i+1, err)
		}
	}
	return nil
}
