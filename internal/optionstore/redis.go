package optionstore

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync/atomic"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/rzpsarthak13/tablekeeper/internal/core"
	"github.com/rzpsarthak13/tablekeeper/internal/registry"
)

// RedisStore keeps options as plain Redis strings under
// "<namespace>:<scope>:<key>". Options never expire.
type RedisStore struct {
	client    redis.UniversalClient
	namespace string
	logger    *slog.Logger
	closed    atomic.Bool
}

// NewRedisStore connects to Redis. A single endpoint yields a plain client,
// several endpoints a cluster client.
func NewRedisStore(config Config) (*RedisStore, error) {
	if len(config.Endpoints) == 0 {
		return nil, fmt.Errorf("at least one endpoint is required")
	}

	client := redis.NewUniversalClient(&redis.UniversalOptions{
		Addrs:        config.Endpoints,
		Password:     config.Password,
		DB:           config.DB,
		MaxRetries:   config.MaxRetries,
		PoolSize:     config.PoolSize,
		MinIdleConns: config.MinIdleConns,
		DialTimeout:  config.DialTimeout,
		ReadTimeout:  config.ReadTimeout,
		WriteTimeout: config.WriteTimeout,
	})

	timeout := config.DialTimeout
	if timeout <= 0 {
		timeout = 5 * time.Second
	}
	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("failed to connect to Redis: %w", err)
	}

	return NewRedisStoreFromClient(client, config.Namespace, config.Logger), nil
}

// NewRedisStoreFromClient wraps an existing client. The store takes
// ownership and closes it on Close.
func NewRedisStoreFromClient(client redis.UniversalClient, namespace string, logger *slog.Logger) *RedisStore {
	return &RedisStore{
		client:    client,
		namespace: namespace,
		logger:    loggerOrDefault(logger).With("component", "optionstore", "store", "redis"),
	}
}

// Get retrieves an option.
func (r *RedisStore) Get(ctx context.Context, scope core.Scope, key string) ([]byte, error) {
	if r.closed.Load() {
		return nil, fmt.Errorf("option store is closed")
	}

	k := scopedKey(r.namespace, scope, key)
	val, err := r.client.Get(ctx, k).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, fmt.Errorf("%w: %s", core.ErrOptionNotFound, k)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get key %s: %w", k, err)
	}
	r.logger.DebugContext(ctx, "option read", "key", k, "size", len(val))
	return val, nil
}

// Set stores an option without expiry.
func (r *RedisStore) Set(ctx context.Context, scope core.Scope, key string, value []byte) error {
	if r.closed.Load() {
		return fmt.Errorf("option store is closed")
	}

	k := scopedKey(r.namespace, scope, key)
	if err := r.client.Set(ctx, k, value, 0).Err(); err != nil {
		return fmt.Errorf("failed to set key %s: %w", k, err)
	}
	r.logger.DebugContext(ctx, "option written", "key", k, "size", len(value))
	return nil
}

// Delete removes an option.
func (r *RedisStore) Delete(ctx context.Context, scope core.Scope, key string) error {
	if r.closed.Load() {
		return fmt.Errorf("option store is closed")
	}

	k := scopedKey(r.namespace, scope, key)
	if err := r.client.Del(ctx, k).Err(); err != nil {
		return fmt.Errorf("failed to delete key %s: %w", k, err)
	}
	return nil
}

// Close closes the Redis connection.
func (r *RedisStore) Close() error {
	if !r.closed.CompareAndSwap(false, true) {
		return nil
	}
	return r.client.Close()
}

// Client returns the underlying client so a Redis lock can share it.
func (r *RedisStore) Client() redis.UniversalClient {
	return r.client
}

// RedisFactory creates Redis option stores.
type RedisFactory struct{}

// Type returns "redis".
func (f *RedisFactory) Type() string {
	return "redis"
}

// Validate validates the Redis settings of config.
func (f *RedisFactory) Validate(config Config) error {
	if len(config.Endpoints) == 0 {
		return fmt.Errorf("at least one endpoint is required")
	}
	if config.PoolSize < 0 {
		return fmt.Errorf("pool_size must be non-negative")
	}
	if config.MinIdleConns < 0 {
		return fmt.Errorf("min_idle_conns must be non-negative")
	}
	if config.PoolSize > 0 && config.MinIdleConns > config.PoolSize {
		return fmt.Errorf("min_idle_conns cannot exceed pool_size")
	}
	return nil
}

// Create creates a Redis option store.
func (f *RedisFactory) Create(config Config) (core.OptionStore, error) {
	return NewRedisStore(config)
}

// RedisConfigValidator validates the option store section when its type is
// redis.
type RedisConfigValidator struct{}

// Type returns "redis".
func (v *RedisConfigValidator) Type() string {
	return "redis"
}

// Validate validates the Redis option store settings.
func (v *RedisConfigValidator) Validate(config *registry.InternalConfig) error {
	return ValidateRedis(config.OptionStore.Redis)
}

// ValidateRedis checks a Redis connection section.
func ValidateRedis(r registry.InternalRedisConfig) error {
	if len(r.Endpoints) == 0 {
		return fmt.Errorf("redis.endpoints is required")
	}
	for i, endpoint := range r.Endpoints {
		if endpoint == "" {
			return fmt.Errorf("redis.endpoints[%d] cannot be empty", i)
		}
	}
	if r.DB < 0 {
		return fmt.Errorf("redis.db must be non-negative")
	}
	if r.PoolSize < 0 {
		return fmt.Errorf("redis.pool_size must be non-negative")
	}
	if r.MinIdleConns < 0 {
		return fmt.Errorf("redis.min_idle_conns must be non-negative")
	}
	if r.PoolSize > 0 && r.MinIdleConns > r.PoolSize {
		return fmt.Errorf("redis.min_idle_conns cannot exceed redis.pool_size")
	}
	if r.DialTimeout < 0 || r.ReadTimeout < 0 || r.WriteTimeout < 0 {
		return fmt.Errorf("redis timeouts must be non-negative")
	}
	return nil
}

func init() {
	RegisterFactory(&RedisFactory{})
	registry.RegisterValidator(&RedisConfigValidator{})
}
