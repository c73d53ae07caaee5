package schema

import (
	"fmt"

	"github.com/rzpsarthak13/tablekeeper/internal/core"
)

// DefinitionConfig holds the values a Definition is built from.
type DefinitionConfig struct {
	// ShortName is the unprefixed table name.
	ShortName string

	// Version is the schema version; bump it whenever Schema changes.
	Version int

	// Global shares one table between every tenant.
	Global bool

	// PrimaryKey names the auto-generated key column.
	PrimaryKey string

	// Columns is the ordered column list.
	Columns []core.Column

	// Defaults are applied to omitted columns on insert.
	Defaults map[string]interface{}

	// Schema holds the column, constraint and index clauses.
	Schema string
}

// Definition is an immutable core.TableDefinition.
type Definition struct {
	shortName  string
	version    int
	global     bool
	primaryKey string
	columns    []core.Column
	defaults   map[string]interface{}
	schema     string
}

var _ core.TableDefinition = (*Definition)(nil)

// NewDefinition validates cfg and returns the definition built from it.
// Only identifiers and the column/default/primary key relationship are
// checked; the schema text is applied as-is by the upgrader.
func NewDefinition(cfg DefinitionConfig) (*Definition, error) {
	if err := ValidateIdentifier(cfg.ShortName); err != nil {
		return nil, fmt.Errorf("%w: short name: %v", core.ErrConfiguration, err)
	}
	if cfg.Version <= 0 {
		return nil, fmt.Errorf("%w: table %s: version must be positive, got %d", core.ErrConfiguration, cfg.ShortName, cfg.Version)
	}
	if len(cfg.Columns) == 0 {
		return nil, fmt.Errorf("%w: table %s has no columns", core.ErrConfiguration, cfg.ShortName)
	}

	columns := make([]core.Column, 0, len(cfg.Columns))
	seen := make(map[string]bool, len(cfg.Columns))
	for _, col := range cfg.Columns {
		if err := ValidateIdentifier(col.Name); err != nil {
			return nil, fmt.Errorf("%w: table %s: %v", core.ErrConfiguration, cfg.ShortName, err)
		}
		if !col.Type.Valid() {
			return nil, fmt.Errorf("%w: table %s: column %s has unsupported type %q", core.ErrConfiguration, cfg.ShortName, col.Name, col.Type)
		}
		if seen[col.Name] {
			return nil, fmt.Errorf("%w: table %s: duplicate column %s", core.ErrConfiguration, cfg.ShortName, col.Name)
		}
		seen[col.Name] = true
		columns = append(columns, col)
	}

	if !seen[cfg.PrimaryKey] {
		return nil, fmt.Errorf("%w: table %s: primary key %q is not a column", core.ErrConfiguration, cfg.ShortName, cfg.PrimaryKey)
	}

	// Collection defaults are kept in their serialized storage form.
	mapper := NewTypeMapper()
	defaults := make(map[string]interface{}, len(cfg.Defaults))
	for name, value := range cfg.Defaults {
		if !seen[name] {
			return nil, fmt.Errorf("%w: table %s: default for unknown column %q", core.ErrConfiguration, cfg.ShortName, name)
		}
		if mapper.IsCollection(value) {
			if colType, _ := columnType(columns, name); colType != core.ColumnString {
				return nil, fmt.Errorf("%w: table %s: collection default for %s column %s", core.ErrConfiguration, cfg.ShortName, colType, name)
			}
			encoded, err := mapper.Serialize(value)
			if err != nil {
				return nil, fmt.Errorf("%w: table %s: default for %s: %v", core.ErrConfiguration, cfg.ShortName, name, err)
			}
			value = encoded
		}
		defaults[name] = value
	}

	return &Definition{
		shortName:  cfg.ShortName,
		version:    cfg.Version,
		global:     cfg.Global,
		primaryKey: cfg.PrimaryKey,
		columns:    columns,
		defaults:   defaults,
		schema:     cfg.Schema,
	}, nil
}

// MustDefinition is like NewDefinition but panics on error. It is meant for
// package-level definitions.
func MustDefinition(cfg DefinitionConfig) *Definition {
	def, err := NewDefinition(cfg)
	if err != nil {
		panic(err)
	}
	return def
}

func (d *Definition) Version() int       { return d.version }
func (d *Definition) ShortName() string  { return d.shortName }
func (d *Definition) IsGlobal() bool     { return d.global }
func (d *Definition) PrimaryKey() string { return d.primaryKey }
func (d *Definition) Schema() string     { return d.schema }

// Columns returns a copy of the ordered column list.
func (d *Definition) Columns() []core.Column {
	out := make([]core.Column, len(d.columns))
	copy(out, d.columns)
	return out
}

// Defaults returns a copy of the default values. Collection defaults are
// returned in their serialized storage form.
func (d *Definition) Defaults() map[string]interface{} {
	out := make(map[string]interface{}, len(d.defaults))
	for k, v := range d.defaults {
		out[k] = v
	}
	return out
}

// ColumnType returns the type of the named column.
func ColumnType(def core.TableDefinition, name string) (core.ColumnType, bool) {
	return columnType(def.Columns(), name)
}

func columnType(columns []core.Column, name string) (core.ColumnType, bool) {
	for _, col := range columns {
		if col.Name == name {
			return col.Type, true
		}
	}
	return "", false
}
