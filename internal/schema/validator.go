package schema

import (
	"fmt"

	"github.com/rzpsarthak13/tablekeeper/internal/core"
)

// RowValidator validates rows against a table definition.
type RowValidator struct {
	def    core.TableDefinition
	types  map[string]core.ColumnType
	mapper *TypeMapper
}

// NewRowValidator creates a validator for def.
func NewRowValidator(def core.TableDefinition) *RowValidator {
	types := make(map[string]core.ColumnType)
	for _, col := range def.Columns() {
		types[col.Name] = col.Type
	}
	return &RowValidator{
		def:    def,
		types:  types,
		mapper: NewTypeMapper(),
	}
}

// HasColumn reports whether name is a column of the definition.
func (rv *RowValidator) HasColumn(name string) bool {
	_, ok := rv.types[name]
	return ok
}

// ValidateColumns checks that every name is a column of the definition.
func (rv *RowValidator) ValidateColumns(names []string) error {
	for _, name := range names {
		if !rv.HasColumn(name) {
			return fmt.Errorf("%w: %q is not a column of %s", core.ErrInvalidIdentifier, name, rv.def.ShortName())
		}
	}
	return nil
}

// ValidateRow checks that the row only names known columns and that every
// value can be bound to its column.
func (rv *RowValidator) ValidateRow(row map[string]interface{}) error {
	if row == nil {
		return fmt.Errorf("row cannot be nil")
	}

	for name, value := range row {
		colType, ok := rv.types[name]
		if !ok {
			return fmt.Errorf("%w: %q is not a column of %s", core.ErrInvalidIdentifier, name, rv.def.ShortName())
		}
		if value == nil {
			continue
		}
		if _, err := rv.mapper.ToDBValue(value, colType); err != nil {
			return fmt.Errorf("column '%s': type mismatch: expected %s, got %T: %w", name, colType, value, err)
		}
	}

	return nil
}

// ValidatePrimaryKey validates that a primary key value is usable.
func (rv *RowValidator) ValidatePrimaryKey(key interface{}) error {
	if key == nil {
		return fmt.Errorf("primary key cannot be nil")
	}
	colType := rv.types[rv.def.PrimaryKey()]
	if _, err := rv.mapper.ToDBValue(key, colType); err != nil {
		return fmt.Errorf("primary key '%s': %w", rv.def.PrimaryKey(), err)
	}
	return nil
}
