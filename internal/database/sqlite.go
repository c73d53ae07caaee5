package database

import (
	"context"
	"fmt"
	"path/filepath"
	"strings"

	_ "modernc.org/sqlite"

	"github.com/rzpsarthak13/tablekeeper/internal/core"
)

func init() {
	RegisterFactory(&sqliteFactory{})
}

type sqliteFactory struct{}

func (f *sqliteFactory) Type() string { return "sqlite" }

func (f *sqliteFactory) Validate(config Config) error {
	if strings.TrimSpace(config.DSN) == "" && strings.TrimSpace(config.Database) == "" {
		return fmt.Errorf("database path is required")
	}
	return nil
}

func (f *sqliteFactory) Create(config Config) (core.Database, error) {
	return NewSQLiteDatabase(config)
}

// SQLiteDSN returns the modernc DSN for config. A bare path gets a busy
// timeout and immediate write transactions so concurrent upgraders queue
// instead of failing.
func SQLiteDSN(config Config) string {
	path := config.DSN
	if path == "" {
		path = config.Database
	}
	if strings.Contains(path, "?") || path == ":memory:" {
		return path
	}
	return filepath.Clean(path) + "?_pragma=busy_timeout(5000)&_pragma=foreign_keys(1)&_txlock=immediate"
}

// NewSQLiteDatabase opens a SQLite database through modernc.org/sqlite.
func NewSQLiteDatabase(config Config) (core.Database, error) {
	dsn := SQLiteDSN(config)
	if strings.HasPrefix(dsn, ":memory:") {
		// Every connection to :memory: is a separate database.
		config.MaxOpenConns = 1
	}
	db, err := openPool("sqlite", dsn, config)
	if err != nil {
		return nil, err
	}
	return newSQLDatabase(db, SQLiteDialect{}, sqliteSchema, config.Logger), nil
}

// sqliteSchema reads columns and indexes through the table-valued pragma
// functions.
func sqliteSchema(ctx context.Context, ex core.Executor, tableName string) (*core.TableSchema, error) {
	schema := &core.TableSchema{TableName: tableName}

	rows, err := ex.Query(ctx, `SELECT name FROM pragma_table_info(?) ORDER BY cid`, tableName)
	if err != nil {
		return nil, fmt.Errorf("failed to query columns: %w", err)
	}
	if schema.Columns, err = scanStrings(rows); err != nil {
		return nil, fmt.Errorf("failed to scan columns: %w", err)
	}
	if len(schema.Columns) == 0 {
		return schema, nil
	}

	indexRows, err := ex.Query(ctx, `SELECT name, "unique", origin FROM pragma_index_list(?) ORDER BY name`, tableName)
	if err != nil {
		return nil, fmt.Errorf("failed to query indexes: %w", err)
	}
	var indexes []core.Index
	for indexRows.Next() {
		var index core.Index
		var unique int64
		var origin string
		if err := indexRows.Scan(&index.Name, &unique, &origin); err != nil {
			indexRows.Close()
			return nil, fmt.Errorf("failed to scan index: %w", err)
		}
		index.Unique = unique == 1
		index.Primary = origin == "pk"
		indexes = append(indexes, index)
	}
	if err := indexRows.Err(); err != nil {
		indexRows.Close()
		return nil, fmt.Errorf("error iterating indexes: %w", err)
	}
	indexRows.Close()

	// Columns are read after the list is closed; a transaction has a single
	// connection.
	for _, index := range indexes {
		colRows, err := ex.Query(ctx, `SELECT name FROM pragma_index_info(?) ORDER BY seqno`, index.Name)
		if err != nil {
			return nil, fmt.Errorf("failed to query index columns: %w", err)
		}
		if index.Columns, err = scanStrings(colRows); err != nil {
			return nil, fmt.Errorf("failed to scan index columns: %w", err)
		}
		schema.Indexes = append(schema.Indexes, index)
	}
	return schema, nil
}
