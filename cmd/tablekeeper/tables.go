package main

import (
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/rzpsarthak13/tablekeeper/pkg/tablekeeper"
)

// autoKey returns the auto-increment primary key column clause of the
// database type, plus the separate PRIMARY KEY clause mysql needs.
func autoKey(dbType, column string) string {
	switch dbType {
	case "mysql":
		return fmt.Sprintf("%s BIGINT UNSIGNED NOT NULL AUTO_INCREMENT,\n\t\tPRIMARY KEY (%s)", column, column)
	case "postgres":
		return column + " BIGSERIAL PRIMARY KEY"
	default:
		return column + " INTEGER PRIMARY KEY AUTOINCREMENT"
	}
}

// filesDefinition is a global table of uploaded files.
func filesDefinition(dbType string) tablekeeper.TableDefinition {
	return tablekeeper.MustDefinition(tablekeeper.DefinitionConfig{
		ShortName:  "files",
		Version:    102,
		Global:     true,
		PrimaryKey: "file_id",
		Columns: []tablekeeper.Column{
			{Name: "file_id", Type: tablekeeper.ColumnInteger},
			{Name: "file_date", Type: tablekeeper.ColumnString},
			{Name: "path", Type: tablekeeper.ColumnString},
			{Name: "mime_type", Type: tablekeeper.ColumnString},
			{Name: "modified", Type: tablekeeper.ColumnInteger},
			{Name: "width", Type: tablekeeper.ColumnInteger},
			{Name: "height", Type: tablekeeper.ColumnInteger},
			{Name: "file_size", Type: tablekeeper.ColumnInteger},
			{Name: "status", Type: tablekeeper.ColumnString},
			{Name: "error", Type: tablekeeper.ColumnString},
			{Name: "data", Type: tablekeeper.ColumnString},
		},
		Defaults: map[string]interface{}{
			"file_date": "0000-00-00 00:00:00",
			"path":      "",
			"mime_type": "",
			"modified":  0,
			"width":     0,
			"height":    0,
			"file_size": 0,
			"status":    nil,
			"error":     nil,
			"data":      []interface{}{},
		},
		Schema: autoKey(dbType, "file_id") + `,
		file_date VARCHAR(19) NOT NULL DEFAULT '0000-00-00 00:00:00',
		path VARCHAR(191) NOT NULL DEFAULT '',
		mime_type VARCHAR(100) NOT NULL DEFAULT '',
		modified SMALLINT NOT NULL DEFAULT 0,
		width INTEGER NOT NULL DEFAULT 0,
		height INTEGER NOT NULL DEFAULT 0,
		file_size INTEGER NOT NULL DEFAULT 0,
		status VARCHAR(20) DEFAULT NULL,
		error VARCHAR(255) DEFAULT NULL,
		data TEXT DEFAULT NULL,
		UNIQUE KEY path (path),
		KEY status (status),
		KEY modified (modified)`,
	})
}

// logsDefinition is a per-tenant log table. Version 2 added the error
// column.
func logsDefinition(dbType string) tablekeeper.TableDefinition {
	return tablekeeper.MustDefinition(tablekeeper.DefinitionConfig{
		ShortName:  "logs",
		Version:    2,
		PrimaryKey: "log_id",
		Columns: []tablekeeper.Column{
			{Name: "log_id", Type: tablekeeper.ColumnInteger},
			{Name: "logged_at", Type: tablekeeper.ColumnString},
			{Name: "message", Type: tablekeeper.ColumnString},
			{Name: "error", Type: tablekeeper.ColumnString},
		},
		Defaults: map[string]interface{}{"message": "", "error": ""},
		Schema: autoKey(dbType, "log_id") + `,
		logged_at VARCHAR(19) NOT NULL DEFAULT '',
		message VARCHAR(255) NOT NULL DEFAULT '',
		error VARCHAR(255) NOT NULL DEFAULT '',
		KEY error (error)`,
	})
}

// demoTables returns the definitions the host manages.
func demoTables(dbType string) []tablekeeper.TableDefinition {
	return []tablekeeper.TableDefinition{filesDefinition(dbType), logsDefinition(dbType)}
}

// exampleEntry builds the row the insert route adds when the request has
// no body.
func exampleEntry(shortName string, now time.Time) map[string]interface{} {
	stamp := now.Format("2006-01-02 15:04:05")
	switch shortName {
	case "files":
		return map[string]interface{}{
			"file_date": stamp,
			"path":      "/foo/bar/" + uuid.NewString(),
			"mime_type": "image/png",
			"modified":  1,
			"width":     600,
			"height":    200,
			"file_size": 4563,
			"data":      []string{"foo", "bar"},
		}
	case "logs":
		return map[string]interface{}{
			"logged_at": stamp,
			"message":   "example entry " + uuid.NewString(),
		}
	default:
		return map[string]interface{}{}
	}
}
