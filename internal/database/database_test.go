package database

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rzpsarthak13/tablekeeper/internal/core"
)

func openTestDB(t *testing.T) core.Database {
	t.Helper()
	db, err := Create(Config{Type: "sqlite", Database: filepath.Join(t.TempDir(), "test.db")})
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })
	return db
}

func TestRegisteredTypes(t *testing.T) {
	assert.Equal(t, []string{"mysql", "postgres", "sqlite"}, GetRegisteredTypes())
	assert.True(t, IsTypeRegistered("sqlite"))
	assert.False(t, IsTypeRegistered("oracle"))

	_, err := Create(Config{Type: "oracle"})
	require.ErrorIs(t, err, core.ErrConfiguration)
	_, err = Create(Config{Type: "mysql"})
	require.ErrorIs(t, err, core.ErrConfiguration)
}

func TestSQLiteSchema(t *testing.T) {
	ctx := context.Background()
	db := openTestDB(t)
	d := db.Dialect()

	schema, err := db.GetSchema(ctx, nil, "files")
	require.NoError(t, err)
	assert.False(t, schema.Exists())

	_, err = db.Exec(ctx, d.CreateTable("files", "file_id INTEGER PRIMARY KEY AUTOINCREMENT,\n\tpath TEXT NOT NULL DEFAULT ''"))
	require.NoError(t, err)
	_, err = db.Exec(ctx, d.AddColumn("files", "status TEXT"))
	require.NoError(t, err)
	_, err = db.Exec(ctx, d.CreateIndex("files", core.Index{Name: "status", Columns: []string{"status", "path"}}))
	require.NoError(t, err)

	schema, err = db.GetSchema(ctx, nil, "files")
	require.NoError(t, err)
	assert.True(t, schema.Exists())
	assert.Equal(t, []string{"file_id", "path", "status"}, schema.Columns)
	assert.True(t, schema.HasColumn("STATUS"))
	require.True(t, schema.HasIndex(d.IndexName("files", "status")))
	assert.Equal(t, []string{"status", "path"}, schema.Indexes[0].Columns)

	// introspection inside a transaction
	tx, err := db.BeginTx(ctx)
	require.NoError(t, err)
	_, err = tx.Exec(ctx, d.AddColumn("files", "data TEXT"))
	require.NoError(t, err)
	schema, err = db.GetSchema(ctx, tx, "files")
	require.NoError(t, err)
	assert.True(t, schema.HasColumn("data"))
	require.NoError(t, tx.Rollback())

	schema, err = db.GetSchema(ctx, nil, "files")
	require.NoError(t, err)
	assert.False(t, schema.HasColumn("data"))
}

func TestSQLiteDeleteOldest(t *testing.T) {
	ctx := context.Background()
	db := openTestDB(t)
	d := db.Dialect()

	_, err := db.Exec(ctx, d.CreateTable("queue", "id INTEGER PRIMARY KEY AUTOINCREMENT, v TEXT"))
	require.NoError(t, err)
	for _, v := range []string{"a", "b", "c"} {
		_, err = db.Exec(ctx, `INSERT INTO "queue" (v) VALUES (?)`, v)
		require.NoError(t, err)
	}

	res, err := db.Exec(ctx, d.DeleteOldest("queue", "id"))
	require.NoError(t, err)
	n, err := res.RowsAffected()
	require.NoError(t, err)
	assert.Equal(t, int64(1), n)

	rows, err := db.Query(ctx, `SELECT v FROM "queue" ORDER BY id`)
	require.NoError(t, err)
	values, err := scanStrings(rows)
	require.NoError(t, err)
	assert.Equal(t, []string{"b", "c"}, values)

	_, err = db.Exec(ctx, d.Truncate("queue"))
	require.NoError(t, err)
	res, err = db.Exec(ctx, d.DeleteOldest("queue", "id"))
	require.NoError(t, err)
	n, err = res.RowsAffected()
	require.NoError(t, err)
	assert.Zero(t, n)
}

func TestIsDuplicateKey(t *testing.T) {
	ctx := context.Background()
	db := openTestDB(t)

	_, err := db.Exec(ctx, `CREATE TABLE "u" (id INTEGER PRIMARY KEY, name TEXT UNIQUE)`)
	require.NoError(t, err)
	_, err = db.Exec(ctx, `INSERT INTO "u" (id, name) VALUES (1, 'a')`)
	require.NoError(t, err)

	_, err = db.Exec(ctx, `INSERT INTO "u" (id, name) VALUES (2, 'a')`)
	require.ErrorIs(t, err, core.ErrQuery)
	assert.True(t, IsDuplicateKey(err))

	_, err = db.Exec(ctx, `INSERT INTO "missing" (id) VALUES (1)`)
	require.Error(t, err)
	assert.False(t, IsDuplicateKey(err))
}

func TestDialectStatements(t *testing.T) {
	idx := core.Index{Name: "status", Columns: []string{"status"}, Unique: true}

	my := MySQLDialect{}
	assert.Equal(t, "CREATE UNIQUE INDEX `status` ON `wp_files` (`status`)", my.CreateIndex("wp_files", idx))
	assert.Equal(t, "DELETE FROM `wp_files` ORDER BY `file_id` ASC LIMIT 1", my.DeleteOldest("wp_files", "file_id"))
	assert.Equal(t, "?", my.Placeholder(3))
	assert.False(t, my.TransactionalDDL())

	pg := PostgresDialect{}
	assert.Equal(t, `CREATE UNIQUE INDEX IF NOT EXISTS "wp_files_status" ON "wp_files" ("status")`, pg.CreateIndex("wp_files", idx))
	assert.Equal(t, "$3", pg.Placeholder(3))
	assert.Equal(t, `ALTER TABLE "wp_files" ADD COLUMN IF NOT EXISTS status TEXT`, pg.AddColumn("wp_files", "status TEXT"))
	assert.Equal(t,
		`DELETE FROM "wp_files" WHERE "file_id" = (SELECT "file_id" FROM "wp_files" ORDER BY "file_id" ASC LIMIT 1)`,
		pg.DeleteOldest("wp_files", "file_id"))

	prefixed := core.Index{Name: "path", Columns: []string{"path", "file_id"}, Modifiers: []string{"(191)", "DESC"}}
	assert.Equal(t, "CREATE INDEX `path` ON `wp_files` (`path`(191), `file_id` DESC)", my.CreateIndex("wp_files", prefixed))
	sorted := core.Index{Name: "byd", Columns: []string{"file_id"}, Modifiers: []string{"DESC"}}
	assert.Equal(t, `CREATE INDEX IF NOT EXISTS "wp_files_byd" ON "wp_files" ("file_id" DESC)`, SQLiteDialect{}.CreateIndex("wp_files", sorted))

	_, err := DialectFor("oracle")
	require.Error(t, err)
	d, err := DialectFor("postgresql")
	require.NoError(t, err)
	assert.Equal(t, "postgres", d.Name())
}

func TestDSNs(t *testing.T) {
	mysqlDSN := MySQLDSN(Config{Host: "db", Database: "wp", Username: "u", Password: "p"})
	assert.Contains(t, mysqlDSN, "u:p@tcp(db:3306)/wp")
	assert.Contains(t, mysqlDSN, "timeout=10s")
	assert.Equal(t, "host=db port=5432 dbname=wp sslmode=disable user=u password='p w'",
		PostgresDSN(Config{Host: "db", Database: "wp", Username: "u", Password: "p w"}))
	assert.Equal(t, ":memory:", SQLiteDSN(Config{Database: ":memory:"}))
	assert.Contains(t, SQLiteDSN(Config{Database: "/tmp/x.db"}), "_txlock=immediate")
	assert.Equal(t, "abcdefghij", lockName("abcdefghij"))
	assert.Len(t, lockName(string(make([]byte, 100))), 63)
}
