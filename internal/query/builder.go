// Package query builds parameterized statements for one table definition.
// Identifiers are taken only from the definition's closed column set and
// quoted by the dialect; every value travels as a bound argument.
package query

import (
	"fmt"
	"sort"
	"strings"

	"github.com/rzpsarthak13/tablekeeper/internal/core"
	"github.com/rzpsarthak13/tablekeeper/internal/schema"
)

// Statement is a query and its bound arguments.
type Statement struct {
	SQL  string
	Args []interface{}
}

// Builder builds statements against one physical table.
type Builder struct {
	dialect core.Dialect
	table   string
	def     core.TableDefinition
	types   map[string]core.ColumnType
	order   []string
	mapper  *schema.TypeMapper
}

// NewBuilder creates a builder for the physical table name of def.
func NewBuilder(dialect core.Dialect, table string, def core.TableDefinition) (*Builder, error) {
	if err := schema.ValidateIdentifier(table); err != nil {
		return nil, err
	}
	b := &Builder{
		dialect: dialect,
		table:   table,
		def:     def,
		types:   make(map[string]core.ColumnType),
		mapper:  schema.NewTypeMapper(),
	}
	for _, col := range def.Columns() {
		b.types[col.Name] = col.Type
		b.order = append(b.order, col.Name)
	}
	return b, nil
}

// Table returns the quoted table name.
func (b *Builder) Table() string {
	return b.dialect.QuoteIdentifier(b.table)
}

// ColumnType returns the type of a definition column.
func (b *Builder) ColumnType(name string) (core.ColumnType, bool) {
	t, ok := b.types[name]
	return t, ok
}

// args numbers placeholders as they are appended.
type args struct {
	dialect core.Dialect
	values  []interface{}
}

func (a *args) add(v interface{}) string {
	a.values = append(a.values, v)
	return a.dialect.Placeholder(len(a.values))
}

// Columns resolves a select list. An empty list or ["*"] selects every
// definition column in declaration order.
func (b *Builder) Columns(columns []string) ([]string, error) {
	if len(columns) == 0 || (len(columns) == 1 && columns[0] == "*") {
		return append([]string(nil), b.order...), nil
	}
	seen := make(map[string]bool, len(columns))
	out := make([]string, 0, len(columns))
	for _, c := range columns {
		if _, ok := b.types[c]; !ok {
			return nil, b.unknown(c)
		}
		if !seen[c] {
			seen[c] = true
			out = append(out, c)
		}
	}
	return out, nil
}

// Select builds a SELECT of columns matching every equality in where. A nil
// value matches NULL. limit <= 0 means no limit.
func (b *Builder) Select(columns []string, where map[string]interface{}, limit int) (Statement, error) {
	cols, err := b.Columns(columns)
	if err != nil {
		return Statement{}, err
	}
	a := &args{dialect: b.dialect}
	cond, err := b.where(a, where)
	if err != nil {
		return Statement{}, err
	}

	var sb strings.Builder
	fmt.Fprintf(&sb, "SELECT %s FROM %s", b.quoteAll(cols), b.Table())
	if cond != "" {
		sb.WriteString(" WHERE ")
		sb.WriteString(cond)
	}
	if limit > 0 {
		fmt.Fprintf(&sb, " LIMIT %d", limit)
	}
	return Statement{SQL: sb.String(), Args: a.values}, nil
}

// SelectIn builds a SELECT of columns whose column value is one of values.
// values must not be empty.
func (b *Builder) SelectIn(columns []string, column string, values []interface{}) (Statement, error) {
	if len(values) == 0 {
		return Statement{}, fmt.Errorf("IN list cannot be empty")
	}
	cols, err := b.Columns(columns)
	if err != nil {
		return Statement{}, err
	}
	colType, ok := b.types[column]
	if !ok {
		return Statement{}, b.unknown(column)
	}

	a := &args{dialect: b.dialect}
	marks := make([]string, len(values))
	for i, v := range values {
		dbv, err := b.mapper.ToDBValue(v, colType)
		if err != nil {
			return Statement{}, fmt.Errorf("column '%s': %w", column, err)
		}
		marks[i] = a.add(dbv)
	}
	return Statement{
		SQL: fmt.Sprintf("SELECT %s FROM %s WHERE %s IN (%s)",
			b.quoteAll(cols), b.Table(), b.dialect.QuoteIdentifier(column), strings.Join(marks, ", ")),
		Args: a.values,
	}, nil
}

// Insert builds an INSERT of row. On dialects with RETURNING the primary
// key is returned as the only result column.
func (b *Builder) Insert(row map[string]interface{}) (Statement, error) {
	if len(row) == 0 {
		return Statement{}, fmt.Errorf("insert row cannot be empty")
	}
	a := &args{dialect: b.dialect}
	var names, marks []string
	for _, col := range b.order {
		v, ok := row[col]
		if !ok {
			continue
		}
		dbv, err := b.mapper.ToDBValue(v, b.types[col])
		if err != nil {
			return Statement{}, fmt.Errorf("column '%s': %w", col, err)
		}
		names = append(names, b.dialect.QuoteIdentifier(col))
		marks = append(marks, a.add(dbv))
	}
	if len(names) != len(row) {
		for col := range row {
			if _, ok := b.types[col]; !ok {
				return Statement{}, b.unknown(col)
			}
		}
	}

	q := fmt.Sprintf("INSERT INTO %s (%s) VALUES (%s)", b.Table(), strings.Join(names, ", "), strings.Join(marks, ", "))
	if b.dialect.SupportsReturning() {
		q += " RETURNING " + b.dialect.QuoteIdentifier(b.def.PrimaryKey())
	}
	return Statement{SQL: q, Args: a.values}, nil
}

// Update builds an UPDATE setting data on rows matching where. where must
// not be empty.
func (b *Builder) Update(data, where map[string]interface{}) (Statement, error) {
	if len(data) == 0 {
		return Statement{}, fmt.Errorf("update data cannot be empty")
	}
	if len(where) == 0 {
		return Statement{}, core.ErrEmptyCondition
	}
	a := &args{dialect: b.dialect}
	sets := make([]string, 0, len(data))
	for _, col := range sortedKeys(data) {
		colType, ok := b.types[col]
		if !ok {
			return Statement{}, b.unknown(col)
		}
		dbv, err := b.mapper.ToDBValue(data[col], colType)
		if err != nil {
			return Statement{}, fmt.Errorf("column '%s': %w", col, err)
		}
		sets = append(sets, b.dialect.QuoteIdentifier(col)+" = "+a.add(dbv))
	}
	cond, err := b.where(a, where)
	if err != nil {
		return Statement{}, err
	}
	return Statement{
		SQL:  fmt.Sprintf("UPDATE %s SET %s WHERE %s", b.Table(), strings.Join(sets, ", "), cond),
		Args: a.values,
	}, nil
}

// Delete builds a DELETE of rows matching where. where must not be empty.
func (b *Builder) Delete(where map[string]interface{}) (Statement, error) {
	if len(where) == 0 {
		return Statement{}, core.ErrEmptyCondition
	}
	a := &args{dialect: b.dialect}
	cond, err := b.where(a, where)
	if err != nil {
		return Statement{}, err
	}
	return Statement{
		SQL:  fmt.Sprintf("DELETE FROM %s WHERE %s", b.Table(), cond),
		Args: a.values,
	}, nil
}

// DeleteOldest builds the delete of the row with the smallest primary key.
func (b *Builder) DeleteOldest() Statement {
	return Statement{SQL: b.dialect.DeleteOldest(b.table, b.def.PrimaryKey())}
}

// Count builds a row count of the whole table.
func (b *Builder) Count() Statement {
	return Statement{SQL: "SELECT COUNT(*) FROM " + b.Table()}
}

// where renders equality conditions in column name order.
func (b *Builder) where(a *args, where map[string]interface{}) (string, error) {
	if len(where) == 0 {
		return "", nil
	}
	conds := make([]string, 0, len(where))
	for _, col := range sortedKeys(where) {
		colType, ok := b.types[col]
		if !ok {
			return "", b.unknown(col)
		}
		quoted := b.dialect.QuoteIdentifier(col)
		if where[col] == nil {
			conds = append(conds, quoted+" IS NULL")
			continue
		}
		dbv, err := b.mapper.ToDBValue(where[col], colType)
		if err != nil {
			return "", fmt.Errorf("column '%s': %w", col, err)
		}
		conds = append(conds, quoted+" = "+a.add(dbv))
	}
	return strings.Join(conds, " AND "), nil
}

func (b *Builder) quoteAll(cols []string) string {
	quoted := make([]string, len(cols))
	for i, c := range cols {
		quoted[i] = b.dialect.QuoteIdentifier(c)
	}
	return strings.Join(quoted, ", ")
}

func (b *Builder) unknown(col string) error {
	return fmt.Errorf("%w: %q is not a column of %s", core.ErrInvalidIdentifier, col, b.def.ShortName())
}

func sortedKeys(m map[string]interface{}) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
