package tablekeeper

import (
	"context"

	"github.com/rzpsarthak13/tablekeeper/internal/core"
	"github.com/rzpsarthak13/tablekeeper/internal/registry"
	"github.com/rzpsarthak13/tablekeeper/internal/schema"
)

// Re-exported so callers never import internal packages.
type (
	// TableDefinition declares a versioned table.
	TableDefinition = core.TableDefinition

	// DefinitionConfig is the input of NewDefinition.
	DefinitionConfig = schema.DefinitionConfig

	// Column is one declared column.
	Column = core.Column

	// Row is one record keyed by column name.
	Row = core.Row

	// State is a state of a table's upgrader.
	State = core.UpgradeState

	// UpgradeEvent describes the outcome of an upgrade.
	UpgradeEvent = core.UpgradeEvent
)

const (
	ColumnInteger = core.ColumnInteger
	ColumnString  = core.ColumnString

	StateUnchecked = core.StateUnchecked
	StateUpgrading = core.StateUpgrading
	StateReady     = core.StateReady
	StateFailed    = core.StateFailed
)

var (
	ErrTableNotReady     = core.ErrTableNotReady
	ErrSchemaUpgrade     = core.ErrSchemaUpgrade
	ErrDowngrade         = core.ErrDowngrade
	ErrDuplicateKey      = core.ErrDuplicateKey
	ErrInvalidIdentifier = core.ErrInvalidIdentifier
	ErrEmptyCondition    = core.ErrEmptyCondition
	ErrConfiguration     = core.ErrConfiguration
)

// NewDefinition validates cfg and returns a table definition.
func NewDefinition(cfg DefinitionConfig) (TableDefinition, error) {
	def, err := schema.NewDefinition(cfg)
	if err != nil {
		return nil, err
	}
	return def, nil
}

// MustDefinition is like NewDefinition but panics on error.
func MustDefinition(cfg DefinitionConfig) TableDefinition {
	return schema.MustDefinition(cfg)
}

// Handle is a registered table: its physical name, upgrade state and CRUD
// operations. Every CRUD call fails with ErrTableNotReady until the table
// is ready.
type Handle struct {
	meta *registry.TableMetadata
}

// Name returns the physical table name.
func (h *Handle) Name() string { return h.meta.Name }

// ShortName returns the unprefixed table name.
func (h *Handle) ShortName() string { return h.meta.Table.ShortName() }

// Version returns the declared schema version.
func (h *Handle) Version() int { return h.meta.Table.Definition().Version() }

// DBVersion returns the last observed stored version.
func (h *Handle) DBVersion() int { return h.meta.Upgrader.DBVersion() }

// StoredVersion reads the recorded version without upgrading anything.
// Zero means the table was never installed.
func (h *Handle) StoredVersion(ctx context.Context) (int, error) {
	return h.meta.Upgrader.StoredVersion(ctx)
}

// State returns the upgrader state.
func (h *Handle) State() State { return h.meta.Upgrader.State() }

// VersionOption returns the name of the option holding the stored version.
func (h *Handle) VersionOption() string { return h.meta.Upgrader.VersionOptionName() }

// Ready reports whether the table may be used.
func (h *Handle) Ready() bool { return h.meta.Upgrader.TableIsReady() }

// Err returns the error that failed the last upgrade, if any.
func (h *Handle) Err() error { return h.meta.Upgrader.Err() }

// Diagnostic returns the operator message, empty when the table is ready.
func (h *Handle) Diagnostic() string { return h.meta.Upgrader.Diagnostic() }

// MaxRows returns the retention cap of the table; zero or less means none.
func (h *Handle) MaxRows() int64 { return h.meta.Config.MaxRows }

// Get returns the rows matching every equality in where. Nil columns select
// all declared columns.
func (h *Handle) Get(ctx context.Context, columns []string, where map[string]interface{}) ([]Row, error) {
	return h.meta.CRUD.Get(ctx, columns, where)
}

// Insert inserts row after filling omitted columns from the definition
// defaults, and returns the new primary key.
func (h *Handle) Insert(ctx context.Context, row map[string]interface{}) (int64, error) {
	return h.meta.CRUD.Insert(ctx, row)
}

// Update sets data on the rows matching where and returns the number of
// rows changed. An empty where is rejected.
func (h *Handle) Update(ctx context.Context, data, where map[string]interface{}) (int64, error) {
	return h.meta.CRUD.Update(ctx, data, where)
}

// Delete removes the rows matching where. An empty where is rejected.
func (h *Handle) Delete(ctx context.Context, where map[string]interface{}) (int64, error) {
	return h.meta.CRUD.Delete(ctx, where)
}

// HasItems reports whether the table has at least one row.
func (h *Handle) HasItems(ctx context.Context) (bool, error) {
	return h.meta.CRUD.HasItems(ctx)
}

// Count returns the number of rows.
func (h *Handle) Count(ctx context.Context) (int64, error) {
	return h.meta.CRUD.Count(ctx)
}

// GetItem returns the row with primary key pk.
func (h *Handle) GetItem(ctx context.Context, pk interface{}) (Row, bool, error) {
	return h.meta.CRUD.GetItem(ctx, pk)
}

// GetItems returns the rows whose primary key is in pks.
func (h *Handle) GetItems(ctx context.Context, pks []interface{}) ([]Row, error) {
	return h.meta.CRUD.GetItems(ctx, pks)
}

// DeleteOldestItem removes the row with the smallest primary key and
// returns 1, or 0 when the table is empty.
func (h *Handle) DeleteOldestItem(ctx context.Context) (int64, error) {
	return h.meta.CRUD.DeleteOldestItem(ctx)
}
