package table

import (
	"fmt"
	"sync"

	"github.com/rzpsarthak13/tablekeeper/internal/core"
	"github.com/rzpsarthak13/tablekeeper/internal/schema"
)

// Namespace is the execution context a definition is resolved in.
type Namespace struct {
	// Prefix is prepended to every physical table name (e.g. "wp_").
	Prefix string

	// Tenant identifies the tenant. It is ignored for global tables.
	Tenant string
}

// Table is a definition resolved to a physical table name. It is immutable.
type Table struct {
	def  core.TableDefinition
	ns   Namespace
	name string
}

// New resolves def in ns. The physical name is Prefix + ShortName, suffixed
// with "_" + Tenant unless the definition is global or the tenant is empty.
func New(def core.TableDefinition, ns Namespace) (*Table, error) {
	if def == nil {
		return nil, fmt.Errorf("%w: table definition is nil", core.ErrConfiguration)
	}
	if def.IsGlobal() {
		ns.Tenant = ""
	}
	name := ns.Prefix + def.ShortName()
	if ns.Tenant != "" {
		name += "_" + ns.Tenant
	}
	if err := schema.ValidateIdentifier(name); err != nil {
		return nil, fmt.Errorf("%w: table name %q: %v", core.ErrConfiguration, name, err)
	}
	return &Table{def: def, ns: ns, name: name}, nil
}

// Name returns the physical table name.
func (t *Table) Name() string { return t.name }

// ShortName returns the unprefixed name of the definition.
func (t *Table) ShortName() string { return t.def.ShortName() }

// PrimaryKey returns the primary key column of the definition.
func (t *Table) PrimaryKey() string { return t.def.PrimaryKey() }

// Definition returns the table definition.
func (t *Table) Definition() core.TableDefinition { return t.def }

// Namespace returns the namespace the table was resolved in. The tenant is
// empty for global tables.
func (t *Table) Namespace() Namespace { return t.ns }

// Scope returns the option scope the stored schema version lives in.
func (t *Table) Scope() core.Scope {
	if t.def.IsGlobal() || t.ns.Tenant == "" {
		return core.GlobalScope()
	}
	return core.TenantScope(t.ns.Tenant)
}

// String returns the physical table name.
func (t *Table) String() string { return t.name }

// Resolver caches resolved tables so that every caller shares one instance
// per physical name.
type Resolver struct {
	mu     sync.Mutex
	tables map[string]*Table
}

// NewResolver creates an empty resolver.
func NewResolver() *Resolver {
	return &Resolver{tables: make(map[string]*Table)}
}

// Resolve returns the shared table for def in ns, creating it on first use.
// Resolving a different version of an already resolved table is an error.
func (r *Resolver) Resolve(def core.TableDefinition, ns Namespace) (*Table, error) {
	t, err := New(def, ns)
	if err != nil {
		return nil, err
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if cached, ok := r.tables[t.name]; ok {
		if cached.def.Version() != def.Version() || cached.def.ShortName() != def.ShortName() {
			return nil, fmt.Errorf("%w: table %s already resolved at version %d", core.ErrConfiguration, t.name, cached.def.Version())
		}
		return cached, nil
	}
	r.tables[t.name] = t
	return t, nil
}

// Forget drops a cached table, e.g. after it was dropped.
func (r *Resolver) Forget(name string) {
	r.mu.Lock()
	delete(r.tables, name)
	r.mu.Unlock()
}

// Len returns the number of cached tables.
func (r *Resolver) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.tables)
}

var defaultResolver = NewResolver()

// Resolve resolves def in ns through the process-wide resolver.
func Resolve(def core.TableDefinition, ns Namespace) (*Table, error) {
	return defaultResolver.Resolve(def, ns)
}
