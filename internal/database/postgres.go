package database

import (
	"context"
	"fmt"
	"strings"

	"github.com/lib/pq"

	"github.com/rzpsarthak13/tablekeeper/internal/core"
)

func init() {
	RegisterFactory(&postgresFactory{})
}

type postgresFactory struct{}

func (f *postgresFactory) Type() string { return "postgres" }

func (f *postgresFactory) Validate(config Config) error {
	if config.DSN != "" {
		return nil
	}
	if config.Host == "" {
		return fmt.Errorf("host is required")
	}
	if config.Database == "" {
		return fmt.Errorf("database name is required")
	}
	return nil
}

func (f *postgresFactory) Create(config Config) (core.Database, error) {
	return NewPostgresDatabase(config)
}

// PostgresDSN builds a lib/pq connection string from config.
func PostgresDSN(config Config) string {
	if config.DSN != "" {
		return config.DSN
	}
	port := config.Port
	if port == 0 {
		port = 5432
	}
	parts := []string{
		"host=" + pqValue(config.Host),
		fmt.Sprintf("port=%d", port),
		"dbname=" + pqValue(config.Database),
		"sslmode=disable",
	}
	if config.Username != "" {
		parts = append(parts, "user="+pqValue(config.Username))
	}
	if config.Password != "" {
		parts = append(parts, "password="+pqValue(config.Password))
	}
	if secs := int(config.ConnectionTimeout.Seconds()); secs > 0 {
		parts = append(parts, fmt.Sprintf("connect_timeout=%d", secs))
	}
	return strings.Join(parts, " ")
}

func pqValue(v string) string {
	if v == "" || strings.ContainsAny(v, ` '\`) {
		return "'" + strings.NewReplacer(`\`, `\\`, `'`, `\'`).Replace(v) + "'"
	}
	return v
}

// NewPostgresDatabase opens a PostgreSQL pool through lib/pq.
func NewPostgresDatabase(config Config) (core.Database, error) {
	db, err := openPool("postgres", PostgresDSN(config), config)
	if err != nil {
		return nil, err
	}
	return newSQLDatabase(db, PostgresDialect{}, postgresSchema, config.Logger), nil
}

// postgresSchema reads columns from information_schema and indexes from
// pg_indexes, both restricted to the current schema.
func postgresSchema(ctx context.Context, ex core.Executor, tableName string) (*core.TableSchema, error) {
	schema := &core.TableSchema{TableName: tableName}

	rows, err := ex.Query(ctx, `
		SELECT column_name
		FROM information_schema.columns
		WHERE table_schema = current_schema() AND table_name = $1
		ORDER BY ordinal_position`, tableName)
	if err != nil {
		return nil, fmt.Errorf("failed to query columns: %w", err)
	}
	if schema.Columns, err = scanStrings(rows); err != nil {
		return nil, fmt.Errorf("failed to scan columns: %w", err)
	}
	if len(schema.Columns) == 0 {
		return schema, nil
	}

	indexRows, err := ex.Query(ctx, `
		SELECT i.relname, ix.indisunique, ix.indisprimary,
			ARRAY(
				SELECT a.attname
				FROM unnest(ix.indkey) WITH ORDINALITY AS k(attnum, ord)
				JOIN pg_attribute a ON a.attrelid = t.oid AND a.attnum = k.attnum
				ORDER BY k.ord
			)
		FROM pg_index ix
		JOIN pg_class t ON t.oid = ix.indrelid
		JOIN pg_class i ON i.oid = ix.indexrelid
		JOIN pg_namespace n ON n.oid = t.relnamespace
		WHERE n.nspname = current_schema() AND t.relname = $1
		ORDER BY i.relname`, tableName)
	if err != nil {
		return nil, fmt.Errorf("failed to query indexes: %w", err)
	}
	defer indexRows.Close()

	for indexRows.Next() {
		var index core.Index
		var columns pq.StringArray
		if err := indexRows.Scan(&index.Name, &index.Unique, &index.Primary, &columns); err != nil {
			return nil, fmt.Errorf("failed to scan index: %w", err)
		}
		index.Columns = []string(columns)
		schema.Indexes = append(schema.Indexes, index)
	}
	if err := indexRows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating indexes: %w", err)
	}
	return schema, nil
}
