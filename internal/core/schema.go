package core

import "strings"

// ColumnType is the storage kind of a column as seen by the CRUD layer.
type ColumnType string

const (
	// ColumnInteger holds whole numbers. Values are read back as int64.
	ColumnInteger ColumnType = "integer"

	// ColumnString holds text, including serialized collections.
	ColumnString ColumnType = "string"
)

// Valid reports whether t is one of the supported column types.
func (t ColumnType) Valid() bool {
	return t == ColumnInteger || t == ColumnString
}

// Column is one entry of a table definition's ordered column list.
type Column struct {
	// Name is the column name.
	Name string

	// Type is the value kind the CRUD layer binds and reads for this column.
	Type ColumnType
}

// TableDefinition describes a logical table: identity, version and schema.
// Implementations must be immutable and free of I/O; none of the accessors
// can fail.
type TableDefinition interface {
	// Version increases whenever Schema changes.
	Version() int

	// ShortName is the unprefixed table name. It is stable across versions
	// and also keys the stored schema version.
	ShortName() string

	// IsGlobal reports whether one table is shared by every tenant.
	IsGlobal() bool

	// PrimaryKey names the unique, auto-generated column.
	PrimaryKey() string

	// Columns returns the ordered column list.
	Columns() []Column

	// Defaults returns the values used when an insert omits a column.
	// Collection defaults are already serialized (e.g. "[]").
	Defaults() map[string]interface{}

	// Schema returns the column, constraint and index clauses of the table.
	Schema() string
}

// Index represents a database index.
type Index struct {
	// Name is the index name.
	Name string

	// Columns are the column names that make up this index.
	Columns []string

	// Modifiers holds, per column, the text that follows the column name
	// in the declared index, such as "(191)" or "DESC". It is nil for
	// introspected indexes.
	Modifiers []string

	// Unique indicates whether this is a unique index.
	Unique bool

	// Primary indicates whether this is the primary key index.
	Primary bool
}

// ColumnModifier returns the modifier declared after column i, if any.
func (idx Index) ColumnModifier(i int) string {
	if i < len(idx.Modifiers) {
		return idx.Modifiers[i]
	}
	return ""
}

// TableSchema is the physical shape of an existing table, as reported by
// the database. It is only consulted while an upgrade is in progress.
type TableSchema struct {
	// TableName is the name of the table.
	TableName string

	// Columns holds the existing column names in ordinal order.
	Columns []string

	// Indexes contains all index definitions for the table.
	Indexes []Index
}

// Exists reports whether the described table is present.
func (s *TableSchema) Exists() bool {
	return s != nil && len(s.Columns) > 0
}

// HasColumn reports whether the table already has the named column.
func (s *TableSchema) HasColumn(name string) bool {
	if s == nil {
		return false
	}
	for _, c := range s.Columns {
		if strings.EqualFold(c, name) {
			return true
		}
	}
	return false
}

// HasIndex reports whether the table already has the named index.
func (s *TableSchema) HasIndex(name string) bool {
	if s == nil {
		return false
	}
	for _, idx := range s.Indexes {
		if strings.EqualFold(idx.Name, name) {
			return true
		}
	}
	return false
}
