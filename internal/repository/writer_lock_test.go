package repository

import (
	"context"
	"database/sql"
	"database/sql/driver"
	"errors"
	"fmt"
	"io"
	"strings"
	"sync"
	"testing"
	"time"
)

// lockServer emulates MySQL named lock ownership per connection.
type lockServer struct {
	mu    sync.Mutex
	owner int
	next  int
}

type lockConnector struct{ s *lockServer }

func (c lockConnector) Connect(context.Context) (driver.Conn, error) {
	c.s.mu.Lock()
	defer c.s.mu.Unlock()
	c.s.next++
	return &lockConn{s: c.s, id: c.s.next}, nil
}

func (c lockConnector) Driver() driver.Driver { return lockDriver{} }

type lockDriver struct{}

func (lockDriver) Open(string) (driver.Conn, error) { return nil, errors.New("open through the connector") }

type lockConn struct {
	s  *lockServer
	id int
}

func (c *lockConn) Prepare(string) (driver.Stmt, error) { return nil, errors.New("prepare not supported") }
func (c *lockConn) Begin() (driver.Tx, error)           { return nil, errors.New("tx not supported") }

func (c *lockConn) Close() error {
	c.s.mu.Lock()
	defer c.s.mu.Unlock()
	if c.s.owner == c.id {
		c.s.owner = 0
	}
	return nil
}

func (c *lockConn) QueryContext(_ context.Context, query string, _ []driver.NamedValue) (driver.Rows, error) {
	c.s.mu.Lock()
	defer c.s.mu.Unlock()
	switch {
	case strings.HasPrefix(query, "SELECT GET_LOCK"):
		if c.s.owner == 0 || c.s.owner == c.id {
			c.s.owner = c.id
			return &oneRow{v: int64(1)}, nil
		}
		return &oneRow{v: int64(0)}, nil
	case strings.HasPrefix(query, "SELECT IS_USED_LOCK"):
		if c.s.owner == 0 {
			return &oneRow{v: nil}, nil
		}
		if c.s.owner == c.id {
			return &oneRow{v: int64(1)}, nil
		}
		return &oneRow{v: int64(0)}, nil
	case strings.HasPrefix(query, "SELECT RELEASE_LOCK"):
		if c.s.owner != c.id {
			return &oneRow{v: int64(0)}, nil
		}
		c.s.owner = 0
		return &oneRow{v: int64(1)}, nil
	}
	return nil, fmt.Errorf("unexpected query %q", query)
}

type oneRow struct {
	v    driver.Value
	done bool
}

func (r *oneRow) Columns() []string { return []string{"v"} }
func (r *oneRow) Close() error      { return nil }

func (r *oneRow) Next(dest []driver.Value) error {
	if r.done {
		return io.EOF
	}
	r.done = true
	dest[0] = r.v
	return nil
}

func TestWriterLockIsExclusive(t *testing.T) {
	ctx := context.Background()
	srv := &lockServer{}
	db := sql.OpenDB(lockConnector{s: srv})
	defer db.Close()

	first, err := AcquireWriterLock(ctx, db, "writer", 0)
	if err != nil {
		t.Fatalf("first acquire: %v", err)
	}
	if _, err := AcquireWriterLock(ctx, db, "writer", 0); !errors.Is(err, ErrWriterLockHeld) {
		t.Fatalf("second acquire: want ErrWriterLockHeld, got %v", err)
	}
	if held, err := first.Held(ctx); err != nil || !held {
		t.Fatalf("held = %v, %v", held, err)
	}
	if err := first.Release(ctx); err != nil {
		t.Fatalf("release: %v", err)
	}
	second, err := AcquireWriterLock(ctx, db, "writer", 0)
	if err != nil {
		t.Fatalf("acquire after release: %v", err)
	}
	_ = second.Release(ctx)
}

func TestWriterLockWatchReportsLoss(t *testing.T) {
	ctx := context.Background()
	srv := &lockServer{}
	db := sql.OpenDB(lockConnector{s: srv})
	defer db.Close()

	l, err := AcquireWriterLock(ctx, db, "writer", 0)
	if err != nil {
		t.Fatal(err)
	}
	srv.mu.Lock()
	srv.owner = 0
	srv.mu.Unlock()

	done := make(chan error, 1)
	go func() { done <- l.Watch(ctx, time.Millisecond) }()
	select {
	case err := <-done:
		if !errors.Is(err, ErrWriterLockLost) {
			t.Fatalf("watch = %v", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("watch did not notice the lost lock")
	}

	cctx, cancel := context.WithCancel(ctx)
	cancel()
	if err := l.Watch(cctx, time.Millisecond); err != nil {
		t.Fatalf("canceled watch = %v", err)
	}
}
