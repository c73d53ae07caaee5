package database

import (
	"fmt"
	"strings"

	"github.com/rzpsarthak13/tablekeeper/internal/core"
)

// MySQLDialect speaks MySQL/MariaDB. DDL statements commit implicitly, so
// upgrades rely on an advisory lock instead of a transaction.
type MySQLDialect struct{}

func (MySQLDialect) Name() string                    { return "mysql" }
func (MySQLDialect) QuoteIdentifier(n string) string { return "`" + n + "`" }
func (MySQLDialect) Placeholder(int) string          { return "?" }
func (MySQLDialect) TransactionalDDL() bool          { return false }
func (MySQLDialect) SupportsReturning() bool         { return false }

// IndexName returns index unchanged; MySQL index names are per table.
func (MySQLDialect) IndexName(_, index string) string { return index }

func (d MySQLDialect) CreateTable(table, body string) string {
	return fmt.Sprintf("CREATE TABLE IF NOT EXISTS %s (\n\t%s\n) DEFAULT CHARACTER SET utf8mb4", d.QuoteIdentifier(table), body)
}

func (d MySQLDialect) AddColumn(table, clause string) string {
	return fmt.Sprintf("ALTER TABLE %s ADD COLUMN %s", d.QuoteIdentifier(table), clause)
}

// CreateIndex has no IF NOT EXISTS form in MySQL; callers check the
// existing indexes first.
func (d MySQLDialect) CreateIndex(table string, index core.Index) string {
	return fmt.Sprintf("CREATE %sINDEX %s ON %s (%s)",
		uniqueKeyword(index), d.QuoteIdentifier(d.IndexName(table, index.Name)), d.QuoteIdentifier(table), indexColumns(d, index))
}

func (d MySQLDialect) DeleteOldest(table, primaryKey string) string {
	return fmt.Sprintf("DELETE FROM %s ORDER BY %s ASC LIMIT 1", d.QuoteIdentifier(table), d.QuoteIdentifier(primaryKey))
}

func (d MySQLDialect) DropTable(table string) string {
	return "DROP TABLE IF EXISTS " + d.QuoteIdentifier(table)
}

func (d MySQLDialect) Truncate(table string) string {
	return "TRUNCATE TABLE " + d.QuoteIdentifier(table)
}

// PostgresDialect speaks PostgreSQL. DDL is transactional.
type PostgresDialect struct{}

func (PostgresDialect) Name() string                    { return "postgres" }
func (PostgresDialect) QuoteIdentifier(n string) string { return `"` + n + `"` }
func (PostgresDialect) Placeholder(n int) string        { return fmt.Sprintf("$%d", n) }
func (PostgresDialect) TransactionalDDL() bool          { return true }
func (PostgresDialect) SupportsReturning() bool         { return true }

// IndexName prefixes the table name: index names are schema-wide.
func (PostgresDialect) IndexName(table, index string) string { return table + "_" + index }

func (d PostgresDialect) CreateTable(table, body string) string {
	return fmt.Sprintf("CREATE TABLE IF NOT EXISTS %s (\n\t%s\n)", d.QuoteIdentifier(table), body)
}

func (d PostgresDialect) AddColumn(table, clause string) string {
	return fmt.Sprintf("ALTER TABLE %s ADD COLUMN IF NOT EXISTS %s", d.QuoteIdentifier(table), clause)
}

func (d PostgresDialect) CreateIndex(table string, index core.Index) string {
	return fmt.Sprintf("CREATE %sINDEX IF NOT EXISTS %s ON %s (%s)",
		uniqueKeyword(index), d.QuoteIdentifier(d.IndexName(table, index.Name)), d.QuoteIdentifier(table), indexColumns(d, index))
}

func (d PostgresDialect) DeleteOldest(table, primaryKey string) string {
	return deleteOldestBySubquery(d, table, primaryKey)
}

func (d PostgresDialect) DropTable(table string) string {
	return "DROP TABLE IF EXISTS " + d.QuoteIdentifier(table)
}

func (d PostgresDialect) Truncate(table string) string {
	return "TRUNCATE TABLE " + d.QuoteIdentifier(table)
}

// SQLiteDialect speaks SQLite. DDL is transactional.
type SQLiteDialect struct{}

func (SQLiteDialect) Name() string                    { return "sqlite" }
func (SQLiteDialect) QuoteIdentifier(n string) string { return `"` + n + `"` }
func (SQLiteDialect) Placeholder(int) string          { return "?" }
func (SQLiteDialect) TransactionalDDL() bool          { return true }
func (SQLiteDialect) SupportsReturning() bool         { return false }

// IndexName prefixes the table name: index names are database-wide.
func (SQLiteDialect) IndexName(table, index string) string { return table + "_" + index }

func (d SQLiteDialect) CreateTable(table, body string) string {
	return fmt.Sprintf("CREATE TABLE IF NOT EXISTS %s (\n\t%s\n)", d.QuoteIdentifier(table), body)
}

func (d SQLiteDialect) AddColumn(table, clause string) string {
	return fmt.Sprintf("ALTER TABLE %s ADD COLUMN %s", d.QuoteIdentifier(table), clause)
}

func (d SQLiteDialect) CreateIndex(table string, index core.Index) string {
	return fmt.Sprintf("CREATE %sINDEX IF NOT EXISTS %s ON %s (%s)",
		uniqueKeyword(index), d.QuoteIdentifier(d.IndexName(table, index.Name)), d.QuoteIdentifier(table), indexColumns(d, index))
}

func (d SQLiteDialect) DeleteOldest(table, primaryKey string) string {
	return deleteOldestBySubquery(d, table, primaryKey)
}

func (d SQLiteDialect) DropTable(table string) string {
	return "DROP TABLE IF EXISTS " + d.QuoteIdentifier(table)
}

// Truncate uses DELETE; SQLite has no TRUNCATE statement.
func (d SQLiteDialect) Truncate(table string) string {
	return "DELETE FROM " + d.QuoteIdentifier(table)
}

// deleteOldestBySubquery is used where DELETE has no ORDER BY/LIMIT. The
// subquery is evaluated by the delete statement itself, so the minimum is
// never a stale snapshot.
func deleteOldestBySubquery(d core.Dialect, table, primaryKey string) string {
	t, pk := d.QuoteIdentifier(table), d.QuoteIdentifier(primaryKey)
	return fmt.Sprintf("DELETE FROM %s WHERE %s = (SELECT %s FROM %s ORDER BY %s ASC LIMIT 1)", t, pk, pk, t, pk)
}

func uniqueKeyword(index core.Index) string {
	if index.Unique {
		return "UNIQUE "
	}
	return ""
}

// indexColumns quotes each index column and keeps its declared modifier.
func indexColumns(d core.Dialect, index core.Index) string {
	parts := make([]string, len(index.Columns))
	for i, col := range index.Columns {
		parts[i] = d.QuoteIdentifier(col)
		if mod := index.ColumnModifier(i); mod != "" {
			if !strings.HasPrefix(mod, "(") {
				parts[i] += " "
			}
			parts[i] += mod
		}
	}
	return strings.Join(parts, ", ")
}

// DialectFor returns the dialect registered under name.
func DialectFor(name string) (core.Dialect, error) {
	switch name {
	case "mysql":
		return MySQLDialect{}, nil
	case "postgres", "postgresql":
		return PostgresDialect{}, nil
	case "sqlite":
		return SQLiteDialect{}, nil
	default:
		return nil, fmt.Errorf("unsupported database type: %s", name)
	}
}
