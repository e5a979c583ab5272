package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"
)

// The engine keeps the authoritative state in memory and only writes
// through to MySQL, so exactly one process may serve a database at a time.
// The writer lock is a MySQL named lock held on a dedicated connection for
// the lifetime of the process.

var (
	// ErrWriterLockHeld is returned when another process owns the lock.
	ErrWriterLockHeld = errors.New("writer lock held by another instance")
	// ErrWriterLockLost is returned by Watch once the lock is gone, e.g.
	// after the connection carrying it was dropped.
	ErrWriterLockLost = errors.New("writer lock lost")
)

// WriterLock is an acquired named lock.
type WriterLock struct {
	conn *sql.Conn
	name string
}

// AcquireWriterLock takes the named lock, waiting up to wait for a current
// holder to let go.
func AcquireWriterLock(ctx context.Context, db *sql.DB, name string, wait time.Duration) (*WriterLock, error) {
	conn, err := db.Conn(ctx)
	if err != nil {
		return nil, fmt.Errorf("writer lock: connection: %w", err)
	}
	var got sql.NullInt64
	if err := conn.QueryRowContext(ctx, "SELECT GET_LOCK(?, ?)", name, int(wait/time.Second)).Scan(&got); err != nil {
		_ = conn.Close()
		return nil, fmt.Errorf("writer lock: get: %w", err)
	}
	if !got.Valid || got.Int64 != 1 {
		_ = conn.Close()
		return nil, ErrWriterLockHeld
	}
	return &WriterLock{conn: conn, name: name}, nil
}

// Held reports whether this lock's connection still owns the lock.
func (l *WriterLock) Held(ctx context.Context) (bool, error) {
	var mine sql.NullInt64
	if err := l.conn.QueryRowContext(ctx, "SELECT IS_USED_LOCK(?) = CONNECTION_ID()", l.name).Scan(&mine); err != nil {
		return false, err
	}
	return mine.Valid && mine.Int64 == 1, nil
}

// Watch checks the lock every interval until ctx is canceled.  It returns
// ErrWriterLockLost as soon as the lock cannot be confirmed.
func (l *WriterLock) Watch(ctx context.Context, every time.Duration) error {
	t := time.NewTicker(every)
	defer t.Stop()
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-t.C:
			held, err := l.Held(ctx)
			if ctx.Err() != nil {
				return nil
			}
			if err != nil {
				return errors.Join(ErrWriterLockLost, err)
			}
			if !held {
				return ErrWriterLockLost
			}
		}
	}
}

// Release gives the lock back and returns the connection to the pool.
func (l *WriterLock) Release(ctx context.Context) error {
	var released sql.NullInt64
	err := l.conn.QueryRowContext(ctx, "SELECT RELEASE_LOCK(?)", l.name).Scan(&released)
	return errors.Join(err, l.conn.Close())
}
