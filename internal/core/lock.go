package core

import (
	"context"
	"time"
)

// Locker hands out named locks shared by every process pointing at the same
// backend.
type Locker interface {
	// Lock blocks until the named lock is acquired or timeout elapses. The
	// returned Unlocker releases it.
	Lock(ctx context.Context, name string, timeout time.Duration) (Unlocker, error)
}

// Unlocker releases a held lock.
type Unlocker interface {
	Unlock(ctx context.Context) error
}

// UnlockFunc adapts a function to Unlocker.
type UnlockFunc func(ctx context.Context) error

// Unlock calls f.
func (f UnlockFunc) Unlock(ctx context.Context) error {
	return f(ctx)
}
