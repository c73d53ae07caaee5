package database

import (
	"context"
	"database/sql"
	"fmt"
	"net"
	"strconv"
	"time"

	"github.com/go-sql-driver/mysql"

	"github.com/rzpsarthak13/tablekeeper/internal/core"
)

func init() {
	RegisterFactory(&mysqlFactory{})
}

type mysqlFactory struct{}

func (f *mysqlFactory) Type() string { return "mysql" }

func (f *mysqlFactory) Validate(config Config) error {
	if config.DSN != "" {
		_, err := mysql.ParseDSN(config.DSN)
		return err
	}
	if config.Host == "" {
		return fmt.Errorf("host is required")
	}
	if config.Database == "" {
		return fmt.Errorf("database name is required")
	}
	return nil
}

func (f *mysqlFactory) Create(config Config) (core.Database, error) {
	return NewMySQLDatabase(config)
}

// MySQLDSN builds a go-sql-driver DSN from config.
func MySQLDSN(config Config) string {
	if config.DSN != "" {
		return config.DSN
	}
	port := config.Port
	if port == 0 {
		port = 3306
	}
	cfg := mysql.NewConfig()
	cfg.User = config.Username
	cfg.Passwd = config.Password
	cfg.Net = "tcp"
	cfg.Addr = net.JoinHostPort(config.Host, strconv.Itoa(port))
	cfg.DBName = config.Database
	cfg.ParseTime = false
	if config.ConnectionTimeout > 0 {
		cfg.Timeout = config.ConnectionTimeout
	} else {
		cfg.Timeout = 10 * time.Second
	}
	return cfg.FormatDSN()
}

// NewMySQLDatabase opens a MySQL pool.
func NewMySQLDatabase(config Config) (core.Database, error) {
	db, err := openPool("mysql", MySQLDSN(config), config)
	if err != nil {
		return nil, err
	}
	return newSQLDatabase(db, MySQLDialect{}, mysqlSchema, config.Logger), nil
}

// mysqlSchema reads columns and indexes from INFORMATION_SCHEMA of the
// current database.
func mysqlSchema(ctx context.Context, ex core.Executor, tableName string) (*core.TableSchema, error) {
	schema := &core.TableSchema{TableName: tableName}

	rows, err := ex.Query(ctx, `
		SELECT COLUMN_NAME
		FROM INFORMATION_SCHEMA.COLUMNS
		WHERE TABLE_SCHEMA = DATABASE() AND TABLE_NAME = ?
		ORDER BY ORDINAL_POSITION`, tableName)
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
		SELECT INDEX_NAME, COLUMN_NAME, NON_UNIQUE
		FROM INFORMATION_SCHEMA.STATISTICS
		WHERE TABLE_SCHEMA = DATABASE() AND TABLE_NAME = ?
		ORDER BY INDEX_NAME, SEQ_IN_INDEX`, tableName)
	if err != nil {
		return nil, fmt.Errorf("failed to query indexes: %w", err)
	}
	defer indexRows.Close()

	var order []string
	indexMap := make(map[string]*core.Index)
	for indexRows.Next() {
		var indexName, columnName string
		var nonUnique sql.NullInt64
		if err := indexRows.Scan(&indexName, &columnName, &nonUnique); err != nil {
			return nil, fmt.Errorf("failed to scan index: %w", err)
		}
		if index, exists := indexMap[indexName]; exists {
			index.Columns = append(index.Columns, columnName)
			continue
		}
		order = append(order, indexName)
		indexMap[indexName] = &core.Index{
			Name:    indexName,
			Columns: []string{columnName},
			Unique:  nonUnique.Int64 == 0,
			Primary: indexName == "PRIMARY",
		}
	}
	if err := indexRows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating indexes: %w", err)
	}

	for _, name := range order {
		schema.Indexes = append(schema.Indexes, *indexMap[name])
	}
	return schema, nil
}
