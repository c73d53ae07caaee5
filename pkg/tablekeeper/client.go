// Package tablekeeper manages versioned relational tables: it brings each
// registered table's schema up to its declared version, records the
// installed version in an option store, and exposes guarded CRUD on the
// tables that are ready.
//
// A host registers its table definitions once at boot, calls InitAll, and
// checks Handle.Ready (or Diagnostic) before serving the tables:
//
//	client, err := tablekeeper.NewClient(cfg)
//	logs, err := client.Register(ctx, logsDefinition, "")
//	if err := client.InitAll(ctx); err != nil {
//		log.Print(client.Diagnostic(logs))
//	}
package tablekeeper

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"sync"

	"github.com/hashicorp/go-multierror"

	"github.com/rzpsarthak13/tablekeeper/internal/client"
	"github.com/rzpsarthak13/tablekeeper/internal/core"
	"github.com/rzpsarthak13/tablekeeper/internal/registry"
)

// Client is the entry point of the library. It is safe for concurrent use.
type Client interface {
	// Register resolves def for tenant (empty means the configured tenant)
	// and returns its handle. The table is not touched until Init.
	Register(ctx context.Context, def TableDefinition, tenant string) (*Handle, error)

	// Init brings one table up to its declared version.
	Init(ctx context.Context, h *Handle) error

	// InitAll initializes every registered table. Failures are aggregated;
	// one failing table does not keep the others from becoming ready.
	InitAll(ctx context.Context) error

	// Table returns the handle registered under a physical name.
	Table(name string) (*Handle, error)

	// Tables returns every handle, sorted by physical name.
	Tables() []*Handle

	// Diagnostic returns the operator message of a table that is not
	// ready, naming the table and the option holding its version.
	Diagnostic(h *Handle) string

	// Drop drops the physical table and forgets its stored version.
	Drop(ctx context.Context, h *Handle) error

	// Reset removes every row of a ready table.
	Reset(ctx context.Context, h *Handle) error

	// Start starts the retention trimmers of tables with a row cap.
	Start(ctx context.Context) error

	// Stop stops the retention trimmers.
	Stop() error

	// MetricsHandler serves the Prometheus metrics of this client.
	MetricsHandler() http.Handler

	// Close stops the trimmers and releases every connection.
	Close() error
}

// Option customizes NewClient.
type Option func(*clientOptions)

type clientOptions struct {
	logger   *slog.Logger
	internal []client.Option
}

// WithLogger sets the logger of the client and every table.
func WithLogger(l *slog.Logger) Option {
	return func(o *clientOptions) {
		o.logger = l
		o.internal = append(o.internal, client.WithLogger(l))
	}
}

// WithOptionStore keeps versions in s instead of the configured store.
func WithOptionStore(s core.OptionStore) Option {
	return func(o *clientOptions) { o.internal = append(o.internal, client.WithOptionStore(s)) }
}

// WithLocker serializes upgrades through l instead of the configured lock.
func WithLocker(l core.Locker) Option {
	return func(o *clientOptions) { o.internal = append(o.internal, client.WithLocker(l)) }
}

// WithPublisher publishes upgrade events to p instead of the configured
// publisher.
func WithPublisher(p core.EventPublisher) Option {
	return func(o *clientOptions) { o.internal = append(o.internal, client.WithPublisher(p)) }
}

// clientWrapper wraps the internal ClientImpl to provide the public Client
// interface.
type clientWrapper struct {
	mu       sync.RWMutex
	impl     *client.ClientImpl
	config   *Config
	trimmers *TrimmerManager
	handles  map[string]*Handle
	started  bool
	startCtx context.Context
	logger   *slog.Logger
}

// NewClient validates cfg and opens the configured database, option store,
// lock and event publisher. A nil cfg uses DefaultConfig.
func NewClient(cfg *Config, opts ...Option) (Client, error) {
	configMgr, err := registry.NewConfigManagerFrom(cfg)
	if err != nil {
		return nil, err
	}

	o := &clientOptions{}
	for _, opt := range opts {
		opt(o)
	}

	impl, err := client.NewClientImpl(configMgr, o.internal...)
	if err != nil {
		return nil, fmt.Errorf("failed to create client: %w", err)
	}

	return &clientWrapper{
		impl:     impl,
		config:   configMgr.GetConfig(),
		trimmers: NewTrimmerManager(),
		handles:  make(map[string]*Handle),
		logger:   impl.Logger(),
	}, nil
}

// Register resolves and registers a table definition.
func (cw *clientWrapper) Register(ctx context.Context, def TableDefinition, tenant string) (*Handle, error) {
	if def == nil {
		return nil, fmt.Errorf("%w: table definition cannot be nil", core.ErrConfiguration)
	}
	meta, err := cw.impl.Register(ctx, def, tenant)
	if err != nil {
		return nil, err
	}

	cw.mu.Lock()
	defer cw.mu.Unlock()

	if h, ok := cw.handles[meta.Name]; ok {
		return h, nil
	}
	h := &Handle{meta: meta}
	cw.handles[meta.Name] = h

	if cw.config.Retention.Enabled && h.MaxRows() > 0 {
		trimmer := cw.trimmers.Add(NewTrimmer(h, TrimmerConfig{
			MaxRows:  h.MaxRows(),
			Interval: cw.config.Retention.Interval,
			Rate:     cw.config.Retention.Rate,
			Burst:    cw.config.Retention.Burst,
		}, cw.logger))
		if cw.started {
			if err := trimmer.Start(cw.startCtx); err != nil {
				return nil, fmt.Errorf("failed to start trimmer for table %s: %w", h.Name(), err)
			}
		}
	}
	return h, nil
}

// Init initializes one table.
func (cw *clientWrapper) Init(ctx context.Context, h *Handle) error {
	if h == nil {
		return fmt.Errorf("handle cannot be nil")
	}
	return cw.impl.Init(ctx, h.Name())
}

// InitAll initializes every registered table.
func (cw *clientWrapper) InitAll(ctx context.Context) error {
	return cw.impl.InitAll(ctx)
}

// Table returns a registered handle.
func (cw *clientWrapper) Table(name string) (*Handle, error) {
	cw.mu.RLock()
	defer cw.mu.RUnlock()

	h, ok := cw.handles[name]
	if !ok {
		return nil, fmt.Errorf("table %q is not registered", name)
	}
	return h, nil
}

// Tables returns every handle sorted by name.
func (cw *clientWrapper) Tables() []*Handle {
	names := cw.impl.Registry().List()

	cw.mu.RLock()
	defer cw.mu.RUnlock()
	out := make([]*Handle, 0, len(names))
	for _, name := range names {
		if h, ok := cw.handles[name]; ok {
			out = append(out, h)
		}
	}
	return out
}

// Diagnostic renders the operator message of h.
func (cw *clientWrapper) Diagnostic(h *Handle) string {
	if h == nil {
		return ""
	}
	return h.Diagnostic()
}

// Drop drops the physical table. Its trimmer is stopped first.
func (cw *clientWrapper) Drop(ctx context.Context, h *Handle) error {
	if h == nil {
		return fmt.Errorf("handle cannot be nil")
	}
	if err := cw.trimmers.Remove(h.Name()); err != nil {
		return fmt.Errorf("failed to stop trimmer for table %s: %w", h.Name(), err)
	}
	return cw.impl.Registry().Drop(ctx, h.Name())
}

// Reset empties a ready table.
func (cw *clientWrapper) Reset(ctx context.Context, h *Handle) error {
	if h == nil {
		return fmt.Errorf("handle cannot be nil")
	}
	return cw.impl.Registry().Reset(ctx, h.Name())
}

// Start starts the retention trimmers.
func (cw *clientWrapper) Start(ctx context.Context) error {
	cw.mu.Lock()
	defer cw.mu.Unlock()

	if cw.started {
		return nil
	}
	if err := cw.trimmers.StartAll(ctx); err != nil {
		return fmt.Errorf("failed to start trimmers: %w", err)
	}
	cw.started = true
	cw.startCtx = ctx
	return nil
}

// Stop stops the retention trimmers.
func (cw *clientWrapper) Stop() error {
	cw.mu.Lock()
	defer cw.mu.Unlock()

	if !cw.started {
		return nil
	}
	if err := cw.trimmers.StopAll(); err != nil {
		return fmt.Errorf("failed to stop trimmers: %w", err)
	}
	cw.started = false
	cw.startCtx = nil
	return nil
}

// MetricsHandler serves the client's metrics registry.
func (cw *clientWrapper) MetricsHandler() http.Handler {
	return cw.impl.Metrics().Handler()
}

// Close stops the trimmers and closes the connections.
func (cw *clientWrapper) Close() error {
	var result *multierror.Error
	if err := cw.Stop(); err != nil {
		result = multierror.Append(result, err)
	}
	if err := cw.impl.Close(); err != nil {
		result = multierror.Append(result, err)
	}
	return result.ErrorOrNil()
}
