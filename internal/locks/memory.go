package locks

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/rzpsarthak13/tablekeeper/internal/core"
)

// MemoryLocker serializes lock holders within one process. It is the
// fallback for databases without advisory locks, such as SQLite, where all
// writers share a single file anyway.
type MemoryLocker struct {
	mu    sync.Mutex
	slots map[string]chan struct{}
}

// NewMemoryLocker creates an in-process locker.
func NewMemoryLocker() *MemoryLocker {
	return &MemoryLocker{slots: make(map[string]chan struct{})}
}

func (l *MemoryLocker) slot(name string) chan struct{} {
	l.mu.Lock()
	defer l.mu.Unlock()
	s, ok := l.slots[name]
	if !ok {
		s = make(chan struct{}, 1)
		l.slots[name] = s
	}
	return s
}

// Lock waits up to timeout for name. A non-positive timeout only tries once.
func (l *MemoryLocker) Lock(ctx context.Context, name string, timeout time.Duration) (core.Unlocker, error) {
	s := l.slot(name)

	select {
	case s <- struct{}{}:
		return l.unlocker(s), nil
	default:
	}
	if timeout <= 0 {
		return nil, fmt.Errorf("%w: %s", core.ErrAlreadyLocked, name)
	}

	timer := time.NewTimer(timeout)
	defer timer.Stop()
	select {
	case s <- struct{}{}:
		return l.unlocker(s), nil
	case <-timer.C:
		return nil, fmt.Errorf("%w: %s", core.ErrAlreadyLocked, name)
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

func (l *MemoryLocker) unlocker(s chan struct{}) core.Unlocker {
	var once sync.Once
	return core.UnlockFunc(func(context.Context) error {
		once.Do(func() { <-s })
		return nil
	})
}
