package database

import (
	"context"
	"crypto/sha1"
	"database/sql"
	"encoding/hex"
	"errors"
	"fmt"
	"time"

	"github.com/rzpsarthak13/tablekeeper/internal/core"
)

// pooled is implemented by databases opened through this package.
type pooled interface {
	DB() *sql.DB
	Dialect() core.Dialect
}

// NewAdvisoryLocker returns a Locker backed by the server's named locks:
// GET_LOCK on MySQL and pg_advisory_lock on PostgreSQL. Each held lock pins
// one pooled connection until it is released. ok is false for databases
// without server-side named locks, such as SQLite.
func NewAdvisoryLocker(db core.Database) (locker core.Locker, ok bool) {
	p, isPooled := db.(pooled)
	if !isPooled {
		return nil, false
	}
	switch p.Dialect().Name() {
	case "mysql":
		return &advisoryLocker{db: p.DB(), acquire: mysqlAcquire, release: "SELECT RELEASE_LOCK(?)"}, true
	case "postgres":
		return &advisoryLocker{db: p.DB(), acquire: postgresAcquire, release: "SELECT pg_advisory_unlock(hashtext($1))"}, true
	default:
		return nil, false
	}
}

type advisoryLocker struct {
	db      *sql.DB
	acquire func(ctx context.Context, conn *sql.Conn, name string, timeout time.Duration) error
	release string
}

func (l *advisoryLocker) Lock(ctx context.Context, name string, timeout time.Duration) (core.Unlocker, error) {
	name = lockName(name)
	conn, err := l.db.Conn(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to reserve connection for lock %s: %w", name, err)
	}
	if err := l.acquire(ctx, conn, name, timeout); err != nil {
		// A cancelled acquire may still have won the race on the server.
		_, _ = conn.ExecContext(context.Background(), l.release, name)
		conn.Close()
		return nil, err
	}
	return core.UnlockFunc(func(ctx context.Context) error {
		defer conn.Close()
		if _, err := conn.ExecContext(ctx, l.release, name); err != nil {
			return fmt.Errorf("failed to release lock %s: %w", name, err)
		}
		return nil
	}), nil
}

func mysqlAcquire(ctx context.Context, conn *sql.Conn, name string, timeout time.Duration) error {
	var got sql.NullInt64
	secs := int(timeout.Seconds())
	if secs < 1 {
		secs = 1
	}
	if err := conn.QueryRowContext(ctx, "SELECT GET_LOCK(?, ?)", name, secs).Scan(&got); err != nil {
		return fmt.Errorf("failed to acquire lock %s: %w", name, err)
	}
	if !got.Valid {
		return fmt.Errorf("failed to acquire lock %s: server error", name)
	}
	if got.Int64 != 1 {
		return fmt.Errorf("%w: %s", core.ErrAlreadyLocked, name)
	}
	return nil
}

func postgresAcquire(ctx context.Context, conn *sql.Conn, name string, timeout time.Duration) error {
	lockCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()
	if _, err := conn.ExecContext(lockCtx, "SELECT pg_advisory_lock(hashtext($1))", name); err != nil {
		if errors.Is(lockCtx.Err(), context.DeadlineExceeded) && ctx.Err() == nil {
			return fmt.Errorf("%w: %s", core.ErrAlreadyLocked, name)
		}
		return fmt.Errorf("failed to acquire lock %s: %w", name, err)
	}
	return nil
}

// lockName keeps names within MySQL's 64 character limit.
func lockName(name string) string {
	if len(name) <= 64 {
		return name
	}
	sum := sha1.Sum([]byte(name))
	return name[:23] + hex.EncodeToString(sum[:])
}
