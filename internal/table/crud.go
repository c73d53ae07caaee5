package table

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/rzpsarthak13/tablekeeper/internal/core"
	"github.com/rzpsarthak13/tablekeeper/internal/database"
	"github.com/rzpsarthak13/tablekeeper/internal/metrics"
	"github.com/rzpsarthak13/tablekeeper/internal/query"
	"github.com/rzpsarthak13/tablekeeper/internal/schema"
)

// Readiness reports whether a table may be used. The upgrader implements it.
type Readiness interface {
	TableIsReady() bool
	Err() error
}

// CRUD performs primary-key oriented reads and writes on one table.
type CRUD struct {
	table     *Table
	db        core.Database
	builder   *query.Builder
	mapper    *schema.TypeMapper
	validator *schema.RowValidator
	readiness Readiness
	metrics   *metrics.Metrics
	logger    *slog.Logger
}

// Option configures a CRUD.
type Option func(*CRUD)

// WithReadiness refuses every call with ErrTableNotReady while r is not
// ready.
func WithReadiness(r Readiness) Option {
	return func(c *CRUD) { c.readiness = r }
}

// WithMetrics records failures and evictions in m.
func WithMetrics(m *metrics.Metrics) Option {
	return func(c *CRUD) { c.metrics = m }
}

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) Option {
	return func(c *CRUD) { c.logger = l }
}

// NewCRUD binds a CRUD layer to t on db.
func NewCRUD(t *Table, db core.Database, opts ...Option) (*CRUD, error) {
	if t == nil || db == nil {
		return nil, fmt.Errorf("%w: table and database are required", core.ErrConfiguration)
	}
	b, err := query.NewBuilder(db.Dialect(), t.Name(), t.Definition())
	if err != nil {
		return nil, err
	}
	c := &CRUD{
		table:     t,
		db:        db,
		builder:   b,
		mapper:    schema.NewTypeMapper(),
		validator: schema.NewRowValidator(t.Definition()),
		logger:    slog.Default(),
	}
	for _, opt := range opts {
		opt(c)
	}
	c.logger = c.logger.With("table", t.Name())
	return c, nil
}

// Table returns the table this CRUD is bound to.
func (c *CRUD) Table() *Table { return c.table }

func (c *CRUD) checkReady() error {
	if c.readiness == nil || c.readiness.TableIsReady() {
		return nil
	}
	if err := c.readiness.Err(); err != nil {
		return fmt.Errorf("%w: %s: %v", core.ErrTableNotReady, c.table.Name(), err)
	}
	return fmt.Errorf("%w: %s", core.ErrTableNotReady, c.table.Name())
}

// Get returns the rows matching every equality in where, restricted to
// columns ("*" or empty for all). No match yields an empty slice.
func (c *CRUD) Get(ctx context.Context, columns []string, where map[string]interface{}) ([]core.Row, error) {
	if err := c.checkReady(); err != nil {
		return nil, err
	}
	stmt, err := c.builder.Select(columns, where, 0)
	if err != nil {
		return nil, err
	}
	return c.query(ctx, "get", stmt)
}

// GetKeyed is Get with the rows keyed by primary key value. The primary key
// is always selected.
func (c *CRUD) GetKeyed(ctx context.Context, columns []string, where map[string]interface{}) (map[interface{}]core.Row, error) {
	if err := c.checkReady(); err != nil {
		return nil, err
	}
	cols, err := c.builder.Columns(columns)
	if err != nil {
		return nil, err
	}
	pk := c.table.PrimaryKey()
	if !contains(cols, pk) {
		cols = append(cols, pk)
	}
	stmt, err := c.builder.Select(cols, where, 0)
	if err != nil {
		return nil, err
	}
	rows, err := c.query(ctx, "get", stmt)
	if err != nil {
		return nil, err
	}
	return c.keyed(rows)
}

// Insert writes row and returns the generated primary key. Omitted columns
// are filled from the definition defaults, except the primary key, which is
// only sent when row carries a non-zero value.
func (c *CRUD) Insert(ctx context.Context, row map[string]interface{}) (int64, error) {
	if err := c.checkReady(); err != nil {
		return 0, err
	}
	if err := c.validator.ValidateRow(row); err != nil {
		return 0, fmt.Errorf("%w: %v", core.ErrWriteFailed, err)
	}

	pk := c.table.PrimaryKey()
	data := make(map[string]interface{}, len(c.table.Definition().Columns()))
	for col, v := range c.table.Definition().Defaults() {
		if col != pk {
			data[col] = v
		}
	}
	for col, v := range row {
		if col == pk && isZeroKey(v) {
			continue
		}
		data[col] = v
	}

	stmt, err := c.builder.Insert(data)
	if err != nil {
		return 0, fmt.Errorf("%w: %v", core.ErrWriteFailed, err)
	}

	var id int64
	if c.db.Dialect().SupportsReturning() {
		id, err = c.insertReturning(ctx, stmt)
	} else {
		id, err = c.insertExec(ctx, stmt)
	}
	if err != nil {
		c.metrics.QueryFailed(c.table.Name(), "insert")
		c.logger.WarnContext(ctx, "insert failed", "error", err)
		if database.IsDuplicateKey(err) {
			return 0, fmt.Errorf("%w: %w: %v", core.ErrWriteFailed, core.ErrDuplicateKey, err)
		}
		return 0, fmt.Errorf("%w: %v", core.ErrWriteFailed, err)
	}
	return id, nil
}

func (c *CRUD) insertExec(ctx context.Context, stmt query.Statement) (int64, error) {
	res, err := c.db.Exec(ctx, stmt.SQL, stmt.Args...)
	if err != nil {
		return 0, err
	}
	return res.LastInsertId()
}

func (c *CRUD) insertReturning(ctx context.Context, stmt query.Statement) (int64, error) {
	rows, err := c.db.Query(ctx, stmt.SQL, stmt.Args...)
	if err != nil {
		return 0, err
	}
	defer rows.Close()
	if !rows.Next() {
		if err := rows.Err(); err != nil {
			return 0, err
		}
		return 0, errors.New("insert returned no key")
	}
	var raw interface{}
	if err := rows.Scan(&raw); err != nil {
		return 0, err
	}
	v, err := c.mapper.ToDBValue(raw, core.ColumnInteger)
	if err != nil {
		return 0, err
	}
	return v.(int64), nil
}

// Update sets data on the rows matching where and returns the number of
// rows affected. An empty where is rejected with ErrEmptyCondition.
func (c *CRUD) Update(ctx context.Context, data, where map[string]interface{}) (int64, error) {
	if err := c.checkReady(); err != nil {
		return 0, err
	}
	stmt, err := c.builder.Update(data, where)
	if err != nil {
		if errors.Is(err, core.ErrEmptyCondition) {
			return 0, err
		}
		return 0, fmt.Errorf("%w: %v", core.ErrWriteFailed, err)
	}
	return c.exec(ctx, "update", stmt)
}

// Delete removes the rows matching where and returns the number of rows
// affected. An empty where is rejected with ErrEmptyCondition.
func (c *CRUD) Delete(ctx context.Context, where map[string]interface{}) (int64, error) {
	if err := c.checkReady(); err != nil {
		return 0, err
	}
	stmt, err := c.builder.Delete(where)
	if err != nil {
		if errors.Is(err, core.ErrEmptyCondition) {
			return 0, err
		}
		return 0, fmt.Errorf("%w: %v", core.ErrWriteFailed, err)
	}
	return c.exec(ctx, "delete", stmt)
}

// HasItems reports whether the table has at least one row. It selects a
// single primary key instead of counting.
func (c *CRUD) HasItems(ctx context.Context) (bool, error) {
	if err := c.checkReady(); err != nil {
		return false, err
	}
	stmt, err := c.builder.Select([]string{c.table.PrimaryKey()}, nil, 1)
	if err != nil {
		return false, err
	}
	rows, err := c.query(ctx, "has_items", stmt)
	if err != nil {
		return false, err
	}
	return len(rows) > 0, nil
}

// Count returns the number of rows in the table.
func (c *CRUD) Count(ctx context.Context) (int64, error) {
	if err := c.checkReady(); err != nil {
		return 0, err
	}
	stmt := c.builder.Count()
	rows, err := c.db.Query(ctx, stmt.SQL)
	if err != nil {
		c.metrics.QueryFailed(c.table.Name(), "count")
		return 0, err
	}
	defer rows.Close()
	var n int64
	if rows.Next() {
		if err := rows.Scan(&n); err != nil {
			return 0, fmt.Errorf("%w: %v", core.ErrQuery, err)
		}
	}
	if err := rows.Err(); err != nil {
		return 0, fmt.Errorf("%w: %v", core.ErrQuery, err)
	}
	return n, nil
}

// GetItem returns the row with primary key pk. found is false when no row
// matches; that is not an error.
func (c *CRUD) GetItem(ctx context.Context, pk interface{}) (row core.Row, found bool, err error) {
	if err := c.checkReady(); err != nil {
		return nil, false, err
	}
	if err := c.validator.ValidatePrimaryKey(pk); err != nil {
		return nil, false, err
	}
	stmt, err := c.builder.Select(nil, map[string]interface{}{c.table.PrimaryKey(): pk}, 1)
	if err != nil {
		return nil, false, err
	}
	rows, err := c.query(ctx, "get_item", stmt)
	if err != nil {
		return nil, false, err
	}
	if len(rows) == 0 {
		return nil, false, nil
	}
	return rows[0], true, nil
}

// GetItems returns the rows whose primary key is in pks, each at most once,
// using a single IN query. An empty pks returns an empty result without
// querying.
func (c *CRUD) GetItems(ctx context.Context, pks []interface{}) ([]core.Row, error) {
	if err := c.checkReady(); err != nil {
		return nil, err
	}
	pk := c.table.PrimaryKey()
	pkType, _ := c.builder.ColumnType(pk)

	seen := make(map[interface{}]bool, len(pks))
	keys := make([]interface{}, 0, len(pks))
	for _, v := range pks {
		key, err := c.mapper.NormalizeKey(v, pkType)
		if err != nil {
			return nil, fmt.Errorf("primary key '%s': %w", pk, err)
		}
		if !seen[key] {
			seen[key] = true
			keys = append(keys, key)
		}
	}
	if len(keys) == 0 {
		return []core.Row{}, nil
	}

	stmt, err := c.builder.SelectIn(nil, pk, keys)
	if err != nil {
		return nil, err
	}
	return c.query(ctx, "get_items", stmt)
}

// DeleteOldestItem removes the row with the smallest primary key. It
// returns 1 when a row was removed and 0 for an empty table; a failed
// statement is reported through the error alone.
func (c *CRUD) DeleteOldestItem(ctx context.Context) (int64, error) {
	if err := c.checkReady(); err != nil {
		return 0, err
	}
	n, err := c.exec(ctx, "delete_oldest", c.builder.DeleteOldest())
	if err != nil {
		return 0, err
	}
	c.metrics.Evicted(c.table.Name(), n)
	return n, nil
}

func (c *CRUD) exec(ctx context.Context, op string, stmt query.Statement) (int64, error) {
	res, err := c.db.Exec(ctx, stmt.SQL, stmt.Args...)
	if err != nil {
		c.metrics.QueryFailed(c.table.Name(), op)
		c.logger.WarnContext(ctx, "write failed", "operation", op, "error", err)
		return 0, fmt.Errorf("%w: %v", core.ErrWriteFailed, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("%w: %v", core.ErrWriteFailed, err)
	}
	return n, nil
}

func (c *CRUD) query(ctx context.Context, op string, stmt query.Statement) ([]core.Row, error) {
	rows, err := c.db.Query(ctx, stmt.SQL, stmt.Args...)
	if err != nil {
		c.metrics.QueryFailed(c.table.Name(), op)
		return nil, err
	}
	defer rows.Close()

	cols, err := rows.Columns()
	if err != nil {
		return nil, fmt.Errorf("%w: %v", core.ErrQuery, err)
	}
	types := make([]core.ColumnType, len(cols))
	for i, col := range cols {
		types[i], _ = c.builder.ColumnType(col)
	}

	out := []core.Row{}
	for rows.Next() {
		values := make([]interface{}, len(cols))
		ptrs := make([]interface{}, len(cols))
		for i := range values {
			ptrs[i] = &values[i]
		}
		if err := rows.Scan(ptrs...); err != nil {
			c.metrics.QueryFailed(c.table.Name(), op)
			return nil, fmt.Errorf("%w: %v", core.ErrQuery, err)
		}
		row := make(core.Row, len(cols))
		for i, col := range cols {
			v, err := c.mapper.FromDBValue(values[i], types[i])
			if err != nil {
				return nil, fmt.Errorf("%w: column '%s': %v", core.ErrQuery, col, err)
			}
			row[col] = v
		}
		out = append(out, row)
	}
	if err := rows.Err(); err != nil {
		c.metrics.QueryFailed(c.table.Name(), op)
		return nil, fmt.Errorf("%w: %v", core.ErrQuery, err)
	}
	return out, nil
}

func (c *CRUD) keyed(rows []core.Row) (map[interface{}]core.Row, error) {
	pk := c.table.PrimaryKey()
	pkType, _ := c.builder.ColumnType(pk)
	out := make(map[interface{}]core.Row, len(rows))
	for _, row := range rows {
		key, err := c.mapper.NormalizeKey(row[pk], pkType)
		if err != nil {
			return nil, fmt.Errorf("%w: %v", core.ErrQuery, err)
		}
		out[key] = row
	}
	return out, nil
}

func isZeroKey(v interface{}) bool {
	switch k := v.(type) {
	case nil:
		return true
	case int:
		return k == 0
	case int64:
		return k == 0
	case string:
		return k == "" || k == "0"
	default:
		return false
	}
}

func contains(list []string, s string) bool {
	for _, v := range list {
		if v == s {
			return true
		}
	}
	return false
}
