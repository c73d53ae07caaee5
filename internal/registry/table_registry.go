package registry

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/hashicorp/go-multierror"

	"github.com/rzpsarthak13/tablekeeper/internal/core"
	"github.com/rzpsarthak13/tablekeeper/internal/table"
)

// Upgrader is the version state machine of one table.
type Upgrader interface {
	Init(ctx context.Context)
	State() core.UpgradeState
	TableIsReady() bool
	DBVersion() int
	StoredVersion(ctx context.Context) (int, error)
	Err() error
	Diagnostic() string
	VersionOptionName() string
	DeleteTable(ctx context.Context) error
	ResetTable(ctx context.Context) error
}

// TableMetadata describes a registered table.
type TableMetadata struct {
	// Name is the physical table name the entry is keyed by.
	Name string

	Table    *table.Table
	Upgrader Upgrader
	CRUD     *table.CRUD

	// Config holds the per-table settings merged with defaults.
	Config InternalTableConfig

	// RegisteredAt is when the table was first registered.
	RegisteredAt time.Time

	// CheckedAt is when Init last ran, zero before that.
	CheckedAt time.Time
}

// State returns the upgrader state.
func (m *TableMetadata) State() core.UpgradeState {
	return m.Upgrader.State()
}

// TableRegistry keeps the tables of a process, keyed by physical name.
type TableRegistry struct {
	mu        sync.RWMutex
	tables    map[string]*TableMetadata
	configMgr *ConfigManager
	lifecycle *LifecycleManager
}

// NewTableRegistry creates a registry. A nil lifecycle manager gets an empty
// one.
func NewTableRegistry(configMgr *ConfigManager, lifecycle *LifecycleManager) *TableRegistry {
	if configMgr == nil {
		configMgr = NewConfigManager()
	}
	if lifecycle == nil {
		lifecycle = NewLifecycleManager()
	}
	return &TableRegistry{
		tables:    make(map[string]*TableMetadata),
		configMgr: configMgr,
		lifecycle: lifecycle,
	}
}

// Register adds a table. Registering the same physical name again replaces
// the entry but keeps its registration time.
func (tr *TableRegistry) Register(t *table.Table, u Upgrader, crud *table.CRUD) error {
	if t == nil {
		return fmt.Errorf("table cannot be nil")
	}
	if u == nil {
		return fmt.Errorf("upgrader cannot be nil")
	}
	if crud == nil {
		return fmt.Errorf("crud cannot be nil")
	}
	if crud.Table().Name() != t.Name() {
		return fmt.Errorf("crud table %q does not match table %q", crud.Table().Name(), t.Name())
	}

	tr.mu.Lock()
	defer tr.mu.Unlock()

	metadata := &TableMetadata{
		Name:         t.Name(),
		Table:        t,
		Upgrader:     u,
		CRUD:         crud,
		Config:       tr.configMgr.GetTableConfig(t.ShortName()),
		RegisteredAt: time.Now(),
	}
	if existing, exists := tr.tables[t.Name()]; exists {
		metadata.RegisteredAt = existing.RegisteredAt
	}
	tr.tables[t.Name()] = metadata
	return nil
}

func (tr *TableRegistry) lookup(name string) (*TableMetadata, error) {
	tr.mu.RLock()
	defer tr.mu.RUnlock()

	metadata, exists := tr.tables[name]
	if !exists {
		return nil, fmt.Errorf("table %q is not registered", name)
	}
	return metadata, nil
}

// Get returns the CRUD of a registered table.
func (tr *TableRegistry) Get(name string) (*table.CRUD, error) {
	metadata, err := tr.lookup(name)
	if err != nil {
		return nil, err
	}
	return metadata.CRUD, nil
}

// GetMetadata returns a copy of the metadata of a registered table.
func (tr *TableRegistry) GetMetadata(name string) (*TableMetadata, error) {
	tr.mu.RLock()
	defer tr.mu.RUnlock()

	metadata, exists := tr.tables[name]
	if !exists {
		return nil, fmt.Errorf("table %q is not registered", name)
	}
	c := *metadata
	return &c, nil
}

// Init runs the upgrader of one table and the matching lifecycle hooks. The
// returned error is the upgrade failure, or a hook error.
func (tr *TableRegistry) Init(ctx context.Context, name string) error {
	metadata, err := tr.lookup(name)
	if err != nil {
		return err
	}

	metadata.Upgrader.Init(ctx)

	tr.mu.Lock()
	metadata.CheckedAt = time.Now()
	snapshot := *metadata
	tr.mu.Unlock()

	if metadata.Upgrader.TableIsReady() {
		if err := tr.lifecycle.ExecuteReadyHooks(ctx, &snapshot); err != nil {
			return fmt.Errorf("ready hook failed for table %q: %w", name, err)
		}
		return nil
	}

	upgradeErr := metadata.Upgrader.Err()
	if upgradeErr == nil {
		upgradeErr = fmt.Errorf("%w: %s", core.ErrTableNotReady, name)
	}
	if err := tr.lifecycle.ExecuteFailedHooks(ctx, &snapshot); err != nil {
		return multierror.Append(upgradeErr, fmt.Errorf("failed hook failed for table %q: %w", name, err))
	}
	return upgradeErr
}

// InitAll initializes every registered table in name order. One table
// failing does not stop the others; all failures are returned together.
func (tr *TableRegistry) InitAll(ctx context.Context) error {
	var result *multierror.Error
	for _, name := range tr.List() {
		if err := tr.Init(ctx, name); err != nil {
			result = multierror.Append(result, fmt.Errorf("%s: %w", name, err))
		}
	}
	return result.ErrorOrNil()
}

// Drop drops the physical table and its stored version. The entry stays
// registered in the unchecked state.
func (tr *TableRegistry) Drop(ctx context.Context, name string) error {
	metadata, err := tr.lookup(name)
	if err != nil {
		return err
	}
	return metadata.Upgrader.DeleteTable(ctx)
}

// Reset removes every row of a ready table.
func (tr *TableRegistry) Reset(ctx context.Context, name string) error {
	metadata, err := tr.lookup(name)
	if err != nil {
		return err
	}
	return metadata.Upgrader.ResetTable(ctx)
}

// Unregister removes a table from the registry without touching the
// database.
func (tr *TableRegistry) Unregister(name string) error {
	tr.mu.Lock()
	defer tr.mu.Unlock()

	if _, exists := tr.tables[name]; !exists {
		return fmt.Errorf("table %q is not registered", name)
	}
	delete(tr.tables, name)
	return nil
}

// List returns the registered table names, sorted.
func (tr *TableRegistry) List() []string {
	return tr.filter(func(*TableMetadata) bool { return true })
}

// ListReady returns the names of ready tables, sorted.
func (tr *TableRegistry) ListReady() []string {
	return tr.filter(func(m *TableMetadata) bool { return m.Upgrader.TableIsReady() })
}

// ListNotReady returns the names of tables that are not ready, sorted.
func (tr *TableRegistry) ListNotReady() []string {
	return tr.filter(func(m *TableMetadata) bool { return !m.Upgrader.TableIsReady() })
}

func (tr *TableRegistry) filter(keep func(*TableMetadata) bool) []string {
	tr.mu.RLock()
	defer tr.mu.RUnlock()

	names := make([]string, 0, len(tr.tables))
	for name, metadata := range tr.tables {
		if keep(metadata) {
			names = append(names, name)
		}
	}
	sort.Strings(names)
	return names
}

// Diagnostics returns the operator message of every table that is not
// ready, keyed by name.
func (tr *TableRegistry) Diagnostics() map[string]string {
	out := make(map[string]string)
	for _, name := range tr.ListNotReady() {
		if metadata, err := tr.lookup(name); err == nil {
			out[name] = metadata.Upgrader.Diagnostic()
		}
	}
	return out
}

// RefreshConfig re-reads the per-table settings of every entry.
func (tr *TableRegistry) RefreshConfig() {
	tr.mu.Lock()
	defer tr.mu.Unlock()
	for _, metadata := range tr.tables {
		metadata.Config = tr.configMgr.GetTableConfig(metadata.Table.ShortName())
	}
}

// GetLifecycleManager returns the lifecycle manager of this registry.
func (tr *TableRegistry) GetLifecycleManager() *LifecycleManager {
	return tr.lifecycle
}

// Count returns the number of registered tables.
func (tr *TableRegistry) Count() int {
	tr.mu.RLock()
	defer tr.mu.RUnlock()
	return len(tr.tables)
}
