package database

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"sync/atomic"

	"github.com/rzpsarthak13/tablekeeper/internal/core"
)

// schemaReader introspects one table through an executor. Each driver
// supplies its own catalog queries.
type schemaReader func(ctx context.Context, ex core.Executor, tableName string) (*core.TableSchema, error)

// sqlDatabase implements core.Database on top of database/sql. The
// per-driver constructors only differ in how they open the pool and read
// the catalog.
type sqlDatabase struct {
	db      *sql.DB
	dialect core.Dialect
	schema  schemaReader
	logger  *slog.Logger
	closed  atomic.Bool
}

func newSQLDatabase(db *sql.DB, dialect core.Dialect, schema schemaReader, logger *slog.Logger) *sqlDatabase {
	if logger == nil {
		logger = slog.Default()
	}
	return &sqlDatabase{
		db:      db,
		dialect: dialect,
		schema:  schema,
		logger:  logger.With("component", "database", "dialect", dialect.Name()),
	}
}

// DB exposes the underlying pool for components that need a dedicated
// connection, such as advisory locks.
func (d *sqlDatabase) DB() *sql.DB {
	return d.db
}

// Dialect returns the SQL dialect of this database.
func (d *sqlDatabase) Dialect() core.Dialect {
	return d.dialect
}

// Query executes a statement that returns rows.
func (d *sqlDatabase) Query(ctx context.Context, query string, args ...interface{}) (core.Rows, error) {
	if d.closed.Load() {
		return nil, fmt.Errorf("database is closed")
	}
	d.logger.DebugContext(ctx, "query", "sql", query, "args", len(args))
	rows, err := d.db.QueryContext(ctx, query, args...)
	if err != nil {
		d.logger.WarnContext(ctx, "query failed", "sql", query, "error", err)
		return nil, fmt.Errorf("%w: %w", core.ErrQuery, err)
	}
	return &sqlRows{rows: rows}, nil
}

// Exec executes a statement that returns no rows.
func (d *sqlDatabase) Exec(ctx context.Context, query string, args ...interface{}) (core.Result, error) {
	if d.closed.Load() {
		return nil, fmt.Errorf("database is closed")
	}
	d.logger.DebugContext(ctx, "exec", "sql", query, "args", len(args))
	result, err := d.db.ExecContext(ctx, query, args...)
	if err != nil {
		d.logger.WarnContext(ctx, "exec failed", "sql", query, "error", err)
		return nil, fmt.Errorf("%w: %w", core.ErrQuery, err)
	}
	return result, nil
}

// BeginTx starts a new transaction.
func (d *sqlDatabase) BeginTx(ctx context.Context) (core.Transaction, error) {
	if d.closed.Load() {
		return nil, fmt.Errorf("database is closed")
	}
	tx, err := d.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to begin transaction: %w", err)
	}
	return &sqlTransaction{tx: tx, logger: d.logger}, nil
}

// GetSchema describes tableName through ex. When ex is nil the pool is used.
func (d *sqlDatabase) GetSchema(ctx context.Context, ex core.Executor, tableName string) (*core.TableSchema, error) {
	if d.closed.Load() {
		return nil, fmt.Errorf("database is closed")
	}
	if ex == nil {
		ex = d
	}
	return d.schema(ctx, ex, tableName)
}

// Ping verifies the pool can reach the server.
func (d *sqlDatabase) Ping(ctx context.Context) error {
	return d.db.PingContext(ctx)
}

// Close closes the connection pool. It is safe to call more than once.
func (d *sqlDatabase) Close() error {
	if d.closed.Swap(true) {
		return nil
	}
	return d.db.Close()
}

type sqlRows struct {
	rows *sql.Rows
}

func (r *sqlRows) Next() bool                     { return r.rows.Next() }
func (r *sqlRows) Scan(dest ...interface{}) error { return r.rows.Scan(dest...) }
func (r *sqlRows) Columns() ([]string, error)     { return r.rows.Columns() }
func (r *sqlRows) Close() error                   { return r.rows.Close() }
func (r *sqlRows) Err() error                     { return r.rows.Err() }

// sqlTransaction wraps sql.Tx to implement core.Transaction.
type sqlTransaction struct {
	tx     *sql.Tx
	logger *slog.Logger
}

func (t *sqlTransaction) Query(ctx context.Context, query string, args ...interface{}) (core.Rows, error) {
	t.logger.DebugContext(ctx, "tx query", "sql", query, "args", len(args))
	rows, err := t.tx.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", core.ErrQuery, err)
	}
	return &sqlRows{rows: rows}, nil
}

func (t *sqlTransaction) Exec(ctx context.Context, query string, args ...interface{}) (core.Result, error) {
	t.logger.DebugContext(ctx, "tx exec", "sql", query, "args", len(args))
	result, err := t.tx.ExecContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", core.ErrQuery, err)
	}
	return result, nil
}

func (t *sqlTransaction) Commit() error   { return t.tx.Commit() }
func (t *sqlTransaction) Rollback() error { return t.tx.Rollback() }

// scanStrings reads every row of a single-column string result.
func scanStrings(rows core.Rows) ([]string, error) {
	defer rows.Close()
	var out []string
	for rows.Next() {
		var s string
		if err := rows.Scan(&s); err != nil {
			return nil, err
		}
		out = append(out, s)
	}
	return out, rows.Err()
}
