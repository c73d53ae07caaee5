package tablekeeper

import (
	"context"
	"io"
	"log/slog"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const (
	logsV1 = `log_id INTEGER PRIMARY KEY AUTOINCREMENT,
		message TEXT NOT NULL DEFAULT ''`
	logsV2 = logsV1 + `,
		error TEXT NOT NULL DEFAULT ''`
)

func logsDefinition(version int) TableDefinition {
	columns := []Column{
		{Name: "log_id", Type: ColumnInteger},
		{Name: "message", Type: ColumnString},
	}
	ddl := logsV1
	if version >= 2 {
		columns = append(columns, Column{Name: "error", Type: ColumnString})
		ddl = logsV2
	}
	return MustDefinition(DefinitionConfig{
		ShortName:  "logs",
		Version:    version,
		PrimaryKey: "log_id",
		Columns:    columns,
		Schema:     ddl,
	})
}

func testConfig(t *testing.T, dbPath string) *Config {
	t.Helper()
	cfg := DefaultConfig()
	cfg.Database.Database = dbPath
	return cfg
}

func quietLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func newTestClient(t *testing.T, cfg *Config) Client {
	t.Helper()
	c, err := NewClient(cfg, WithLogger(quietLogger()))
	require.NoError(t, err)
	t.Cleanup(func() { c.Close() })
	return c
}

func TestErrorColumnUpgrade(t *testing.T) {
	ctx := context.Background()
	dbPath := filepath.Join(t.TempDir(), "logs.db")

	v1 := newTestClient(t, testConfig(t, dbPath))
	logs, err := v1.Register(ctx, logsDefinition(1), "")
	require.NoError(t, err)
	require.NoError(t, v1.InitAll(ctx))
	require.True(t, logs.Ready())

	_, err = logs.Insert(ctx, map[string]interface{}{"message": "booted"})
	require.NoError(t, err)
	require.NoError(t, v1.Close())

	v2 := newTestClient(t, testConfig(t, dbPath))
	logs, err = v2.Register(ctx, logsDefinition(2), "")
	require.NoError(t, err)
	assert.Equal(t, StateUnchecked, logs.State())

	_, err = logs.HasItems(ctx)
	require.ErrorIs(t, err, ErrTableNotReady)

	require.NoError(t, v2.InitAll(ctx))
	assert.Equal(t, StateReady, logs.State())
	assert.Equal(t, 2, logs.DBVersion())
	assert.Empty(t, v2.Diagnostic(logs))

	rows, err := logs.Get(ctx, nil, map[string]interface{}{"message": "booted"})
	require.NoError(t, err)
	require.Len(t, rows, 1)
	assert.Equal(t, "", rows[0]["error"], "existing rows get the column default")

	id, err := logs.Insert(ctx, map[string]interface{}{"message": "sync", "error": "timeout"})
	require.NoError(t, err)
	row, found, err := logs.GetItem(ctx, id)
	require.NoError(t, err)
	require.True(t, found)
	assert.Equal(t, "timeout", row["error"])
}

func TestDowngradeIsReported(t *testing.T) {
	ctx := context.Background()
	dbPath := filepath.Join(t.TempDir(), "logs.db")

	v2 := newTestClient(t, testConfig(t, dbPath))
	_, err := v2.Register(ctx, logsDefinition(2), "")
	require.NoError(t, err)
	require.NoError(t, v2.InitAll(ctx))
	require.NoError(t, v2.Close())

	v1 := newTestClient(t, testConfig(t, dbPath))
	logs, err := v1.Register(ctx, logsDefinition(1), "")
	require.NoError(t, err)

	err = v1.InitAll(ctx)
	require.ErrorIs(t, err, ErrDowngrade)
	assert.Equal(t, StateFailed, logs.State())

	diag := v1.Diagnostic(logs)
	assert.Contains(t, diag, "tk_logs")
	assert.Contains(t, diag, "logs_db_version")

	_, err = logs.Insert(ctx, map[string]interface{}{"message": "x"})
	require.ErrorIs(t, err, ErrTableNotReady)
}

func TestTenantTables(t *testing.T) {
	ctx := context.Background()
	c := newTestClient(t, testConfig(t, filepath.Join(t.TempDir(), "tenants.db")))

	a, err := c.Register(ctx, logsDefinition(1), "1")
	require.NoError(t, err)
	b, err := c.Register(ctx, logsDefinition(1), "2")
	require.NoError(t, err)
	require.NoError(t, c.InitAll(ctx))

	assert.Equal(t, "tk_logs_1", a.Name())
	assert.Equal(t, "tk_logs_2", b.Name())

	_, err = a.Insert(ctx, map[string]interface{}{"message": "only in tenant 1"})
	require.NoError(t, err)
	has, err := b.HasItems(ctx)
	require.NoError(t, err)
	assert.False(t, has)

	got, err := c.Table("tk_logs_2")
	require.NoError(t, err)
	assert.Same(t, b, got)

	tables := c.Tables()
	require.Len(t, tables, 2)
	assert.Equal(t, "tk_logs_1", tables[0].Name())
}

func TestDeleteOldestAndItems(t *testing.T) {
	ctx := context.Background()
	c := newTestClient(t, testConfig(t, filepath.Join(t.TempDir(), "items.db")))
	logs, err := c.Register(ctx, logsDefinition(1), "")
	require.NoError(t, err)
	require.NoError(t, c.Init(ctx, logs))

	n, err := logs.DeleteOldestItem(ctx)
	require.NoError(t, err)
	assert.Zero(t, n, "empty table is not a failure")

	var ids []interface{}
	for _, msg := range []string{"a", "b", "c"} {
		id, err := logs.Insert(ctx, map[string]interface{}{"message": msg})
		require.NoError(t, err)
		ids = append(ids, id)
	}

	items, err := logs.GetItems(ctx, []interface{}{ids[2], ids[0], ids[2]})
	require.NoError(t, err)
	assert.Len(t, items, 2)

	items, err = logs.GetItems(ctx, nil)
	require.NoError(t, err)
	assert.Empty(t, items)

	n, err = logs.DeleteOldestItem(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(1), n)
	_, found, err := logs.GetItem(ctx, ids[0])
	require.NoError(t, err)
	assert.False(t, found)

	changed, err := logs.Update(ctx, map[string]interface{}{"message": "B"}, map[string]interface{}{"log_id": ids[1]})
	require.NoError(t, err)
	assert.Equal(t, int64(1), changed)

	_, err = logs.Delete(ctx, nil)
	require.ErrorIs(t, err, ErrEmptyCondition)

	require.NoError(t, c.Reset(ctx, logs))
	count, err := logs.Count(ctx)
	require.NoError(t, err)
	assert.Zero(t, count)

	require.NoError(t, c.Drop(ctx, logs))
	assert.False(t, logs.Ready())
}

func TestRetentionTrimsTables(t *testing.T) {
	ctx := context.Background()
	cfg := testConfig(t, filepath.Join(t.TempDir(), "retention.db"))
	cfg.Retention.Enabled = true
	cfg.Retention.Interval = 20 * time.Millisecond
	cfg.Retention.Rate = 1000
	cfg.Tables = map[string]TableConfig{"logs": {MaxRows: 3}}

	c := newTestClient(t, cfg)
	logs, err := c.Register(ctx, logsDefinition(1), "")
	require.NoError(t, err)
	assert.Equal(t, int64(3), logs.MaxRows())
	require.NoError(t, c.InitAll(ctx))

	for i := 0; i < 10; i++ {
		_, err := logs.Insert(ctx, map[string]interface{}{"message": "entry"})
		require.NoError(t, err)
	}

	require.NoError(t, c.Start(ctx))
	assert.Eventually(t, func() bool {
		n, err := logs.Count(ctx)
		return err == nil && n == 3
	}, 5*time.Second, 20*time.Millisecond)
	require.NoError(t, c.Stop())

	rec := httptest.NewRecorder()
	c.MetricsHandler().ServeHTTP(rec, httptest.NewRequest("GET", "/metrics", nil))
	assert.Contains(t, rec.Body.String(), "tk_logs")
}

func TestLoadConfig(t *testing.T) {
	path := filepath.Join(t.TempDir(), "tablekeeper.yaml")
	require.NoError(t, os.WriteFile(path, []byte("namespace:\n  prefix: wp_\n"), 0o600))
	t.Setenv("TABLEKEEPER_NAMESPACE_TENANT", "9")

	cfg, err := LoadConfig(path)
	require.NoError(t, err)
	assert.Equal(t, "wp_", cfg.Namespace.Prefix)
	assert.Equal(t, "9", cfg.Namespace.Tenant)

	_, err = NewClient(&Config{})
	require.Error(t, err)
}
