package optionstore

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/rzpsarthak13/tablekeeper/internal/core"
	"github.com/rzpsarthak13/tablekeeper/internal/registry"
	"github.com/rzpsarthak13/tablekeeper/internal/schema"
)

// DefaultOptionsTable is the table the SQL store creates when none is
// configured.
const DefaultOptionsTable = "tablekeeper_options"

// SQLStore keeps options in a table of the relational database the managed
// tables live in, so a version can be written in the same transaction as
// the DDL that produced it.
type SQLStore struct {
	db      core.Database
	dialect core.Dialect
	table   string
	logger  *slog.Logger
}

// NewSQLStore creates the options table if needed and returns the store.
func NewSQLStore(ctx context.Context, db core.Database, table string, logger *slog.Logger) (*SQLStore, error) {
	if db == nil {
		return nil, fmt.Errorf("%w: database is required", core.ErrConfiguration)
	}
	if table == "" {
		table = DefaultOptionsTable
	}
	if err := schema.ValidateIdentifier(table); err != nil {
		return nil, fmt.Errorf("%w: options table: %v", core.ErrConfiguration, err)
	}

	s := &SQLStore{
		db:      db,
		dialect: db.Dialect(),
		table:   table,
		logger:  loggerOrDefault(logger).With("component", "optionstore", "store", "sql", "table", table),
	}
	if _, err := db.Exec(ctx, s.dialect.CreateTable(table, s.body())); err != nil {
		return nil, fmt.Errorf("failed to create options table %s: %w", table, err)
	}
	return s, nil
}

func (s *SQLStore) body() string {
	blob := "BLOB"
	switch s.dialect.Name() {
	case "mysql":
		blob = "LONGBLOB"
	case "postgres":
		blob = "BYTEA"
	}
	return "option_scope VARCHAR(191) NOT NULL,\n\t" +
		"option_name VARCHAR(191) NOT NULL,\n\t" +
		"option_value " + blob + " NOT NULL,\n\t" +
		"PRIMARY KEY (option_scope, option_name)"
}

// Table returns the options table name.
func (s *SQLStore) Table() string {
	return s.table
}

// Get retrieves an option.
func (s *SQLStore) Get(ctx context.Context, scope core.Scope, key string) ([]byte, error) {
	q := fmt.Sprintf("SELECT option_value FROM %s WHERE option_scope = %s AND option_name = %s",
		s.dialect.QuoteIdentifier(s.table), s.dialect.Placeholder(1), s.dialect.Placeholder(2))

	rows, err := s.db.Query(ctx, q, scope.String(), key)
	if err != nil {
		return nil, fmt.Errorf("failed to get option %s: %w", key, err)
	}
	defer rows.Close()

	if !rows.Next() {
		if err := rows.Err(); err != nil {
			return nil, fmt.Errorf("failed to get option %s: %w", key, err)
		}
		return nil, fmt.Errorf("%w: %s %s", core.ErrOptionNotFound, scope, key)
	}
	var value []byte
	if err := rows.Scan(&value); err != nil {
		return nil, fmt.Errorf("failed to scan option %s: %w", key, err)
	}
	return value, nil
}

// Set stores an option.
func (s *SQLStore) Set(ctx context.Context, scope core.Scope, key string, value []byte) error {
	return s.set(ctx, s.db, scope, key, value)
}

// SetTx stores an option through tx.
func (s *SQLStore) SetTx(ctx context.Context, tx core.Transaction, scope core.Scope, key string, value []byte) error {
	return s.set(ctx, tx, scope, key, value)
}

func (s *SQLStore) set(ctx context.Context, ex core.Executor, scope core.Scope, key string, value []byte) error {
	if _, err := ex.Exec(ctx, s.upsert(), scope.String(), key, value); err != nil {
		return fmt.Errorf("failed to set option %s: %w", key, err)
	}
	s.logger.DebugContext(ctx, "option written", "scope", scope.String(), "key", key, "size", len(value))
	return nil
}

func (s *SQLStore) upsert() string {
	table := s.dialect.QuoteIdentifier(s.table)
	p1, p2, p3 := s.dialect.Placeholder(1), s.dialect.Placeholder(2), s.dialect.Placeholder(3)
	if s.dialect.Name() == "mysql" {
		return fmt.Sprintf("INSERT INTO %s (option_scope, option_name, option_value) VALUES (%s, %s, %s) "+
			"ON DUPLICATE KEY UPDATE option_value = VALUES(option_value)", table, p1, p2, p3)
	}
	return fmt.Sprintf("INSERT INTO %s (option_scope, option_name, option_value) VALUES (%s, %s, %s) "+
		"ON CONFLICT (option_scope, option_name) DO UPDATE SET option_value = excluded.option_value", table, p1, p2, p3)
}

// Delete removes an option.
func (s *SQLStore) Delete(ctx context.Context, scope core.Scope, key string) error {
	q := fmt.Sprintf("DELETE FROM %s WHERE option_scope = %s AND option_name = %s",
		s.dialect.QuoteIdentifier(s.table), s.dialect.Placeholder(1), s.dialect.Placeholder(2))
	if _, err := s.db.Exec(ctx, q, scope.String(), key); err != nil {
		return fmt.Errorf("failed to delete option %s: %w", key, err)
	}
	return nil
}

// Close is a no-op; the database belongs to the caller.
func (s *SQLStore) Close() error {
	return nil
}

// SQLFactory creates SQL option stores on Config.Database.
type SQLFactory struct{}

// Type returns "sql".
func (f *SQLFactory) Type() string {
	return "sql"
}

// Validate checks that a database was supplied.
func (f *SQLFactory) Validate(config Config) error {
	if config.Database == nil {
		return fmt.Errorf("database is required")
	}
	if config.OptionsTable != "" {
		if err := schema.ValidateIdentifier(config.OptionsTable); err != nil {
			return err
		}
	}
	return nil
}

// Create creates a SQL option store.
func (f *SQLFactory) Create(config Config) (core.OptionStore, error) {
	return NewSQLStore(context.Background(), config.Database, config.OptionsTable, config.Logger)
}

// SQLConfigValidator validates the option store section when its type is
// sql.
type SQLConfigValidator struct{}

// Type returns "sql".
func (v *SQLConfigValidator) Type() string {
	return "sql"
}

// Validate checks the options table name.
func (v *SQLConfigValidator) Validate(config *registry.InternalConfig) error {
	if config.OptionStore.Table == "" {
		return nil
	}
	if err := schema.ValidateIdentifier(config.OptionStore.Table); err != nil {
		return fmt.Errorf("option_store.table: %w", err)
	}
	return nil
}

func init() {
	RegisterFactory(&SQLFactory{})
	registry.RegisterValidator(&SQLConfigValidator{})
}
