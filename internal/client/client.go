// Package client wires the configured database, option store, locker and
// event publisher into a table registry.
package client

import (
	"context"
	"fmt"
	"log/slog"
	"sync"

	"github.com/hashicorp/go-multierror"
	"github.com/redis/go-redis/v9"

	"github.com/rzpsarthak13/tablekeeper/internal/core"
	"github.com/rzpsarthak13/tablekeeper/internal/database"
	"github.com/rzpsarthak13/tablekeeper/internal/events"
	"github.com/rzpsarthak13/tablekeeper/internal/locks"
	"github.com/rzpsarthak13/tablekeeper/internal/metrics"
	"github.com/rzpsarthak13/tablekeeper/internal/optionstore"
	"github.com/rzpsarthak13/tablekeeper/internal/registry"
	"github.com/rzpsarthak13/tablekeeper/internal/table"
	"github.com/rzpsarthak13/tablekeeper/internal/upgrade"
)

// Option customizes a ClientImpl. Collaborators passed in are not closed by
// the client.
type Option func(*ClientImpl)

// WithDatabase uses db instead of opening one from the configuration.
func WithDatabase(db core.Database) Option {
	return func(c *ClientImpl) { c.database = db }
}

// WithOptionStore uses s instead of creating one from the configuration.
func WithOptionStore(s core.OptionStore) Option {
	return func(c *ClientImpl) { c.options = s }
}

// WithLocker uses l instead of the configured lock.
func WithLocker(l core.Locker) Option {
	return func(c *ClientImpl) { c.locker = l }
}

// WithPublisher uses p instead of the configured event publisher.
func WithPublisher(p core.EventPublisher) Option {
	return func(c *ClientImpl) { c.publisher = p }
}

// WithMetrics records into m instead of a private registry.
func WithMetrics(m *metrics.Metrics) Option {
	return func(c *ClientImpl) { c.metrics = m }
}

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) Option {
	return func(c *ClientImpl) { c.logger = l }
}

// ClientImpl owns the shared connections and the registry of managed tables.
type ClientImpl struct {
	mu            sync.RWMutex
	configMgr     *registry.ConfigManager
	database      core.Database
	options       core.OptionStore
	locker        core.Locker
	publisher     core.EventPublisher
	metrics       *metrics.Metrics
	resolver      *table.Resolver
	tableRegistry *registry.TableRegistry
	lifecycle     *registry.LifecycleManager
	logger        *slog.Logger

	// closers release what the client opened itself, in reverse order.
	closers []func() error
	closed  bool
}

// NewClientImpl builds a client from a validated configuration.
func NewClientImpl(configMgr *registry.ConfigManager, opts ...Option) (*ClientImpl, error) {
	if configMgr == nil {
		return nil, fmt.Errorf("%w: config manager cannot be nil", core.ErrConfiguration)
	}

	c := &ClientImpl{
		configMgr: configMgr,
		resolver:  table.NewResolver(),
		lifecycle: registry.NewLifecycleManager(),
	}
	for _, opt := range opts {
		opt(c)
	}
	if c.logger == nil {
		c.logger = slog.Default()
	}
	c.logger = c.logger.With("component", "client")
	if c.metrics == nil {
		c.metrics = metrics.New()
	}
	c.tableRegistry = registry.NewTableRegistry(configMgr, c.lifecycle)
	c.lifecycle.RegisterHook(c.logHook())

	if err := c.initializeConnections(); err != nil {
		if cerr := c.Close(); cerr != nil {
			c.logger.Warn("cleanup after failed start", "error", cerr)
		}
		return nil, fmt.Errorf("failed to initialize connections: %w", err)
	}
	return c, nil
}

func (c *ClientImpl) initializeConnections() error {
	config := c.configMgr.GetConfig()

	if c.database == nil {
		db, err := database.Create(database.Config{
			Type:              config.Database.Type,
			Host:              config.Database.Host,
			Port:              config.Database.Port,
			Database:          config.Database.Database,
			Username:          config.Database.Username,
			Password:          config.Database.Password,
			DSN:               config.Database.DSN,
			MaxOpenConns:      config.Database.MaxOpenConns,
			MaxIdleConns:      config.Database.MaxIdleConns,
			ConnMaxLifetime:   config.Database.ConnMaxLifetime,
			ConnMaxIdleTime:   config.Database.ConnMaxIdleTime,
			ConnectionTimeout: config.Database.ConnectionTimeout,
			Logger:            c.logger,
		})
		if err != nil {
			return fmt.Errorf("failed to create database: %w", err)
		}
		c.database = db
		c.closers = append(c.closers, db.Close)
	}

	if c.options == nil {
		store := config.OptionStore
		options, err := optionstore.Create(optionstore.Config{
			Type:            store.Type,
			Namespace:       store.Namespace,
			Endpoints:       store.Redis.Endpoints,
			Password:        store.Redis.Password,
			DB:              store.Redis.DB,
			MaxRetries:      store.Redis.MaxRetries,
			PoolSize:        store.Redis.PoolSize,
			MinIdleConns:    store.Redis.MinIdleConns,
			DialTimeout:     store.Redis.DialTimeout,
			ReadTimeout:     store.Redis.ReadTimeout,
			WriteTimeout:    store.Redis.WriteTimeout,
			Region:          store.DynamoDB.Region,
			TableName:       store.DynamoDB.TableName,
			Endpoint:        store.DynamoDB.Endpoint,
			AccessKeyID:     store.DynamoDB.AccessKeyID,
			SecretAccessKey: store.DynamoDB.SecretAccessKey,
			Database:        c.database,
			OptionsTable:    store.Table,
			Logger:          c.logger,
		})
		if err != nil {
			return fmt.Errorf("failed to create option store: %w", err)
		}
		c.options = options
		c.closers = append(c.closers, options.Close)
	}

	if c.locker == nil {
		locker, err := c.newLocker(config)
		if err != nil {
			return fmt.Errorf("failed to create locker: %w", err)
		}
		c.locker = locker
	}

	if c.publisher == nil {
		publisher, err := c.newPublisher(config)
		if err != nil {
			return fmt.Errorf("failed to create event publisher: %w", err)
		}
		c.publisher = publisher
		c.closers = append(c.closers, publisher.Close)
	}
	return nil
}

func (c *ClientImpl) newLocker(config *registry.InternalConfig) (core.Locker, error) {
	switch config.Lock.Type {
	case "", "auto":
		if locker, ok := database.NewAdvisoryLocker(c.database); ok {
			return locker, nil
		}
		c.logger.Info("database has no advisory locks, upgrades are serialized in-process only")
		return locks.NewMemoryLocker(), nil
	case "database":
		locker, ok := database.NewAdvisoryLocker(c.database)
		if !ok {
			return nil, fmt.Errorf("%w: database type %q has no advisory locks", core.ErrConfiguration, config.Database.Type)
		}
		return locker, nil
	case "memory":
		return locks.NewMemoryLocker(), nil
	case "redis":
		client, err := c.redisClient(config)
		if err != nil {
			return nil, err
		}
		return locks.NewRedisLocker(client, locks.RedisOptions{
			Expiry:     config.Lock.Expiry,
			Tries:      config.Lock.Tries,
			RetryDelay: config.Lock.RetryDelay,
			Logger:     c.logger,
		}), nil
	default:
		return nil, fmt.Errorf("%w: unsupported lock type %q", core.ErrConfiguration, config.Lock.Type)
	}
}

// redisClient shares the option store connection when the lock has no
// endpoints of its own.
func (c *ClientImpl) redisClient(config *registry.InternalConfig) (redis.UniversalClient, error) {
	if rs, ok := c.options.(*optionstore.RedisStore); ok && len(config.Lock.Redis.Endpoints) == 0 {
		return rs.Client(), nil
	}
	r := config.Lock.Redis
	client := redis.NewUniversalClient(&redis.UniversalOptions{
		Addrs:        r.Endpoints,
		Password:     r.Password,
		DB:           r.DB,
		MaxRetries:   r.MaxRetries,
		PoolSize:     r.PoolSize,
		MinIdleConns: r.MinIdleConns,
		DialTimeout:  r.DialTimeout,
		ReadTimeout:  r.ReadTimeout,
		WriteTimeout: r.WriteTimeout,
	})
	c.closers = append(c.closers, client.Close)
	return client, nil
}

func (c *ClientImpl) newPublisher(config *registry.InternalConfig) (core.EventPublisher, error) {
	switch config.Events.Type {
	case "", "none":
		return events.Discard{}, nil
	case "memory":
		return events.NewMemoryPublisher(config.Events.BufferSize), nil
	case "kafka":
		k := config.Events.Kafka
		return events.NewKafkaPublisher(events.KafkaConfig{
			Brokers:         k.Brokers,
			Topic:           k.Topic,
			BatchSize:       k.BatchSize,
			BatchTimeout:    k.BatchTimeout,
			WriteTimeout:    k.WriteTimeout,
			RequiredAcks:    k.RequiredAcks,
			MaxMessageBytes: k.MaxMessageBytes,
			Logger:          c.logger,
		})
	default:
		return nil, fmt.Errorf("%w: unsupported events type %q", core.ErrConfiguration, config.Events.Type)
	}
}

func (c *ClientImpl) logHook() registry.LifecycleHook {
	return registry.LifecycleHookFunc{
		OnReadyFunc: func(_ context.Context, m *registry.TableMetadata) error {
			c.logger.Debug("table ready", "table", m.Name, "version", m.Upgrader.DBVersion())
			return nil
		},
		OnFailedFunc: func(_ context.Context, m *registry.TableMetadata) error {
			c.logger.Error("table not ready", "table", m.Name, "diagnostic", m.Upgrader.Diagnostic())
			return nil
		},
	}
}

// Register resolves def in the configured namespace and registers its
// upgrader and CRUD. A non-empty tenant overrides the configured one.
// Registering the same physical table twice returns the existing entry.
func (c *ClientImpl) Register(ctx context.Context, def core.TableDefinition, tenant string) (*registry.TableMetadata, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.closed {
		return nil, fmt.Errorf("client is closed")
	}

	config := c.configMgr.GetConfig()
	ns := table.Namespace{Prefix: config.Namespace.Prefix, Tenant: config.Namespace.Tenant}
	if tenant != "" {
		ns.Tenant = tenant
	}

	t, err := c.resolver.Resolve(def, ns)
	if err != nil {
		return nil, err
	}
	if existing, err := c.tableRegistry.GetMetadata(t.Name()); err == nil {
		return existing, nil
	}

	logger := c.logger.With("table", t.Name())
	u, err := upgrade.New(t, c.database, c.options,
		upgrade.WithLocker(c.locker),
		upgrade.WithLockTimeout(config.Lock.Timeout),
		upgrade.WithHook(events.Hook(c.publisher, logger)),
		upgrade.WithMetrics(c.metrics),
		upgrade.WithLogger(logger),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create upgrader for table %q: %w", t.Name(), err)
	}
	crud, err := table.NewCRUD(t, c.database,
		table.WithReadiness(u),
		table.WithMetrics(c.metrics),
		table.WithLogger(logger),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create crud for table %q: %w", t.Name(), err)
	}
	if err := c.tableRegistry.Register(t, u, crud); err != nil {
		return nil, fmt.Errorf("failed to register table: %w", err)
	}
	logger.Debug("table registered", "version", def.Version())
	return c.tableRegistry.GetMetadata(t.Name())
}

// Init runs the upgrader of one registered table.
func (c *ClientImpl) Init(ctx context.Context, name string) error {
	return c.tableRegistry.Init(ctx, name)
}

// InitAll runs every upgrader; failures are aggregated.
func (c *ClientImpl) InitAll(ctx context.Context) error {
	return c.tableRegistry.InitAll(ctx)
}

// Diagnostic returns the operator message of a table, empty when it is
// ready.
func (c *ClientImpl) Diagnostic(name string) (string, error) {
	metadata, err := c.tableRegistry.GetMetadata(name)
	if err != nil {
		return "", err
	}
	return metadata.Upgrader.Diagnostic(), nil
}

// GetTable returns the metadata of a registered table.
func (c *ClientImpl) GetTable(name string) (*registry.TableMetadata, error) {
	return c.tableRegistry.GetMetadata(name)
}

// Registry returns the table registry.
func (c *ClientImpl) Registry() *registry.TableRegistry {
	return c.tableRegistry
}

// Config returns the configuration manager.
func (c *ClientImpl) Config() *registry.ConfigManager {
	return c.configMgr
}

// Metrics returns the metrics the client records into.
func (c *ClientImpl) Metrics() *metrics.Metrics {
	return c.metrics
}

// Publisher returns the event publisher.
func (c *ClientImpl) Publisher() core.EventPublisher {
	return c.publisher
}

// Logger returns the client logger.
func (c *ClientImpl) Logger() *slog.Logger {
	return c.logger
}

// Close releases everything the client opened. It is safe to call twice.
func (c *ClientImpl) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.closed {
		return nil
	}
	c.closed = true

	var result *multierror.Error
	for i := len(c.closers) - 1; i >= 0; i-- {
		if err := c.closers[i](); err != nil {
			result = multierror.Append(result, err)
		}
	}
	c.closers = nil
	return result.ErrorOrNil()
}
