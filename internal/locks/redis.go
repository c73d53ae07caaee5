// Package locks provides the named locks concurrent upgraders serialize on
// when the database has no advisory locks of its own.
package locks

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/go-redsync/redsync/v4"
	"github.com/go-redsync/redsync/v4/redis/goredis/v9"
	"github.com/redis/go-redis/v9"

	"github.com/rzpsarthak13/tablekeeper/internal/core"
	"github.com/rzpsarthak13/tablekeeper/internal/optionstore"
	"github.com/rzpsarthak13/tablekeeper/internal/registry"
)

const (
	defaultTries  = 32
	defaultExpiry = 8 * time.Second
)

// RedisOptions tune the redsync mutex.
type RedisOptions struct {
	// Expiry is the lease length; a held lock is extended every Expiry/2.
	Expiry time.Duration

	// Tries bounds the acquisition attempts within the lock timeout.
	Tries int

	// RetryDelay overrides the delay between attempts, which otherwise
	// spreads Tries evenly over the lock timeout.
	RetryDelay time.Duration

	Logger *slog.Logger
}

// RedisLocker hands out redsync mutexes.
type RedisLocker struct {
	rs         *redsync.Redsync
	expiry     time.Duration
	tries      int
	retryDelay time.Duration
	logger     *slog.Logger
}

// NewRedisLocker creates a locker on client. The client stays owned by the
// caller.
func NewRedisLocker(client redis.UniversalClient, opts RedisOptions) *RedisLocker {
	if opts.Expiry <= 0 {
		opts.Expiry = defaultExpiry
	}
	if opts.Tries <= 0 {
		opts.Tries = defaultTries
	}
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &RedisLocker{
		rs:         redsync.New(goredis.NewPool(client)),
		expiry:     opts.Expiry,
		tries:      opts.Tries,
		retryDelay: opts.RetryDelay,
		logger:     logger.With("component", "locks", "backend", "redis"),
	}
}

// Lock acquires the mutex "tablekeeper:lock:<name>", retrying evenly over
// timeout. A lock still held by someone else when the tries run out yields
// ErrAlreadyLocked.
func (l *RedisLocker) Lock(ctx context.Context, name string, timeout time.Duration) (core.Unlocker, error) {
	retryDelay := l.retryDelay
	if retryDelay <= 0 {
		retryDelay = timeout / time.Duration(l.tries)
	}
	mutex := l.rs.NewMutex("tablekeeper:lock:"+name,
		redsync.WithExpiry(l.expiry),
		redsync.WithTries(l.tries),
		redsync.WithRetryDelay(retryDelay),
	)

	if err := mutex.LockContext(ctx); err != nil {
		var taken *redsync.ErrTaken
		if errors.Is(err, redsync.ErrFailed) || errors.As(err, &taken) {
			return nil, fmt.Errorf("%w: %s", core.ErrAlreadyLocked, name)
		}
		return nil, fmt.Errorf("failed to lock %s: %w", name, err)
	}

	h := &redisHold{mutex: mutex, logger: l.logger, done: make(chan struct{})}
	h.wg.Add(1)
	go h.heartbeat(l.expiry / 2)
	l.logger.DebugContext(ctx, "lock acquired", "name", name)
	return h, nil
}

type redisHold struct {
	mutex  *redsync.Mutex
	logger *slog.Logger
	done   chan struct{}
	once   sync.Once
	wg     sync.WaitGroup
}

func (h *redisHold) heartbeat(every time.Duration) {
	defer h.wg.Done()
	ticker := time.NewTicker(every)
	defer ticker.Stop()
	for {
		select {
		case <-h.done:
			return
		case <-ticker.C:
			if ok, err := h.mutex.Extend(); err != nil || !ok {
				h.logger.Warn("failed to extend lock", "name", h.mutex.Name(), "error", err)
			}
		}
	}
}

func (h *redisHold) Unlock(ctx context.Context) error {
	var err error
	h.once.Do(func() {
		close(h.done)
		h.wg.Wait()
		var ok bool
		ok, err = h.mutex.UnlockContext(ctx)
		if err == nil && !ok {
			err = fmt.Errorf("lock %s was no longer held", h.mutex.Name())
		}
	})
	return err
}

// RedisLockValidator validates the lock section when its type is redis.
type RedisLockValidator struct{}

// Type returns "redis_lock".
func (v *RedisLockValidator) Type() string {
	return "redis_lock"
}

// Validate validates the Redis lock settings.
func (v *RedisLockValidator) Validate(config *registry.InternalConfig) error {
	if err := optionstore.ValidateRedis(config.Lock.Redis); err != nil {
		return err
	}
	if config.Lock.Expiry < 0 {
		return fmt.Errorf("lock.expiry must be non-negative")
	}
	if config.Lock.Tries < 0 {
		return fmt.Errorf("lock.tries must be non-negative")
	}
	return nil
}

func init() {
	registry.RegisterValidator(&RedisLockValidator{})
}
