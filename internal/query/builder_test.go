package query

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rzpsarthak13/tablekeeper/internal/core"
	"github.com/rzpsarthak13/tablekeeper/internal/database"
	"github.com/rzpsarthak13/tablekeeper/internal/schema"
)

func filesDef() core.TableDefinition {
	return schema.MustDefinition(schema.DefinitionConfig{
		ShortName:  "files",
		Version:    1,
		PrimaryKey: "file_id",
		Columns: []core.Column{
			{Name: "file_id", Type: core.ColumnInteger},
			{Name: "path", Type: core.ColumnString},
			{Name: "tags", Type: core.ColumnString},
		},
		Schema: "file_id INTEGER PRIMARY KEY, path TEXT, tags TEXT",
	})
}

func TestSelect(t *testing.T) {
	b, err := NewBuilder(database.PostgresDialect{}, "wp_files", filesDef())
	require.NoError(t, err)

	stmt, err := b.Select([]string{"*"}, map[string]interface{}{"path": "/a", "file_id": 3}, 0)
	require.NoError(t, err)
	assert.Equal(t, `SELECT "file_id", "path", "tags" FROM "wp_files" WHERE "file_id" = $1 AND "path" = $2`, stmt.SQL)
	assert.Equal(t, []interface{}{int64(3), "/a"}, stmt.Args)

	stmt, err = b.Select([]string{"file_id"}, map[string]interface{}{"tags": nil}, 1)
	require.NoError(t, err)
	assert.Equal(t, `SELECT "file_id" FROM "wp_files" WHERE "tags" IS NULL LIMIT 1`, stmt.SQL)
	assert.Empty(t, stmt.Args)

	_, err = b.Select([]string{"file_id; DROP TABLE x"}, nil, 0)
	require.ErrorIs(t, err, core.ErrInvalidIdentifier)
	_, err = b.Select(nil, map[string]interface{}{"1=1 OR path": "x"}, 0)
	require.ErrorIs(t, err, core.ErrInvalidIdentifier)
}

func TestSelectIn(t *testing.T) {
	b, err := NewBuilder(database.MySQLDialect{}, "wp_files", filesDef())
	require.NoError(t, err)

	stmt, err := b.SelectIn(nil, "file_id", []interface{}{1, "2", int64(3)})
	require.NoError(t, err)
	assert.Equal(t, "SELECT `file_id`, `path`, `tags` FROM `wp_files` WHERE `file_id` IN (?, ?, ?)", stmt.SQL)
	assert.Equal(t, []interface{}{int64(1), int64(2), int64(3)}, stmt.Args)

	_, err = b.SelectIn(nil, "file_id", nil)
	require.Error(t, err)
	_, err = b.SelectIn(nil, "file_id", []interface{}{"x"})
	require.Error(t, err)
}

func TestInsert(t *testing.T) {
	b, err := NewBuilder(database.PostgresDialect{}, "wp_files", filesDef())
	require.NoError(t, err)

	stmt, err := b.Insert(map[string]interface{}{"tags": []string{"a"}, "path": "/x"})
	require.NoError(t, err)
	assert.Equal(t, `INSERT INTO "wp_files" ("path", "tags") VALUES ($1, $2) RETURNING "file_id"`, stmt.SQL)
	assert.Equal(t, []interface{}{"/x", `["a"]`}, stmt.Args)

	_, err = b.Insert(map[string]interface{}{"path": "/x", "evil`": 1})
	require.ErrorIs(t, err, core.ErrInvalidIdentifier)
	_, err = b.Insert(nil)
	require.Error(t, err)

	sb, err := NewBuilder(database.SQLiteDialect{}, "wp_files", filesDef())
	require.NoError(t, err)
	stmt, err = sb.Insert(map[string]interface{}{"path": "/x"})
	require.NoError(t, err)
	assert.Equal(t, `INSERT INTO "wp_files" ("path") VALUES (?)`, stmt.SQL)
}

func TestUpdateDelete(t *testing.T) {
	b, err := NewBuilder(database.PostgresDialect{}, "wp_files", filesDef())
	require.NoError(t, err)

	stmt, err := b.Update(map[string]interface{}{"path": "/y"}, map[string]interface{}{"file_id": 4})
	require.NoError(t, err)
	assert.Equal(t, `UPDATE "wp_files" SET "path" = $1 WHERE "file_id" = $2`, stmt.SQL)
	assert.Equal(t, []interface{}{"/y", int64(4)}, stmt.Args)

	_, err = b.Update(map[string]interface{}{"path": "/y"}, nil)
	require.ErrorIs(t, err, core.ErrEmptyCondition)

	stmt, err = b.Delete(map[string]interface{}{"path": "/y"})
	require.NoError(t, err)
	assert.Equal(t, `DELETE FROM "wp_files" WHERE "path" = $1`, stmt.SQL)

	_, err = b.Delete(map[string]interface{}{})
	require.ErrorIs(t, err, core.ErrEmptyCondition)
}

func TestNewBuilderRejectsBadTable(t *testing.T) {
	_, err := NewBuilder(database.MySQLDialect{}, "wp files", filesDef())
	require.ErrorIs(t, err, core.ErrInvalidIdentifier)
}
