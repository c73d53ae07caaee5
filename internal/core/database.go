package core

import (
	"context"
)

// Executor runs parameterized statements. Both Database and Transaction
// implement it so callers can run the same code inside or outside a
// transaction.
type Executor interface {
	// Query executes a statement that returns rows.
	Query(ctx context.Context, query string, args ...interface{}) (Rows, error)

	// Exec executes a statement that returns no rows.
	Exec(ctx context.Context, query string, args ...interface{}) (Result, error)
}

// Database is the relational executor the table layer runs on.
type Database interface {
	Executor

	// BeginTx starts a new transaction.
	BeginTx(ctx context.Context) (Transaction, error)

	// Dialect returns the SQL dialect spoken by this database.
	Dialect() Dialect

	// GetSchema describes an existing table through ex, which may be the
	// database itself or an open transaction. A missing table yields an
	// empty TableSchema, not an error.
	GetSchema(ctx context.Context, ex Executor, tableName string) (*TableSchema, error)

	// Close closes the database connection pool.
	Close() error
}

// Rows iterates over a query result.
type Rows interface {
	Next() bool
	Scan(dest ...interface{}) error
	Columns() ([]string, error)
	Close() error
	Err() error
}

// Result summarizes an executed statement.
type Result interface {
	LastInsertId() (int64, error)
	RowsAffected() (int64, error)
}

// Transaction is an open database transaction.
type Transaction interface {
	Executor
	Commit() error
	Rollback() error
}

// Dialect captures the SQL differences between supported databases.
// Statement builders take raw, validated identifiers and quote them.
type Dialect interface {
	// Name returns the dialect name ("mysql", "postgres", "sqlite").
	Name() string

	// QuoteIdentifier quotes a validated table or column name.
	QuoteIdentifier(name string) string

	// Placeholder returns the bind marker for the n-th argument (1-based).
	Placeholder(n int) string

	// TransactionalDDL reports whether DDL can be rolled back as part of a
	// transaction.
	TransactionalDDL() bool

	// SupportsReturning reports whether INSERT ... RETURNING must be used to
	// obtain the generated key instead of LastInsertId.
	SupportsReturning() bool

	// IndexName returns the physical name of a secondary index of table.
	IndexName(table, index string) string

	// CreateTable returns the statement creating table with the given
	// clause body if it does not exist yet.
	CreateTable(table, body string) string

	// AddColumn returns the statement adding a column clause to table.
	AddColumn(table, clause string) string

	// CreateIndex returns the statement creating a secondary index.
	CreateIndex(table string, index Index) string

	// DeleteOldest returns the statement deleting the row with the smallest
	// primary key value.
	DeleteOldest(table, primaryKey string) string

	// DropTable returns the statement dropping table if it exists.
	DropTable(table string) string

	// Truncate returns the statement removing every row of table.
	Truncate(table string) string
}
