package upgrade

import (
	"context"
	"errors"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rzpsarthak13/tablekeeper/internal/core"
	"github.com/rzpsarthak13/tablekeeper/internal/database"
	"github.com/rzpsarthak13/tablekeeper/internal/optionstore"
	"github.com/rzpsarthak13/tablekeeper/internal/schema"
	"github.com/rzpsarthak13/tablekeeper/internal/table"
)

const (
	logsV1 = `log_id INTEGER PRIMARY KEY AUTOINCREMENT,
		message TEXT NOT NULL DEFAULT ''`
	logsV2 = logsV1 + `,
		error TEXT NOT NULL DEFAULT ''`
	logsV3 = logsV2 + `,
		KEY error (error)`
)

var logsSchemas = map[int]string{1: logsV1, 2: logsV2, 3: logsV3}

func logsDefinition(version int, ddl string) core.TableDefinition {
	columns := []core.Column{
		{Name: "log_id", Type: core.ColumnInteger},
		{Name: "message", Type: core.ColumnString},
	}
	if version >= 2 {
		columns = append(columns, core.Column{Name: "error", Type: core.ColumnString})
	}
	return schema.MustDefinition(schema.DefinitionConfig{
		ShortName:  "logs",
		Version:    version,
		PrimaryKey: "log_id",
		Columns:    columns,
		Schema:     ddl,
	})
}

func openDB(t *testing.T) core.Database {
	t.Helper()
	db, err := database.Create(database.Config{Type: "sqlite", Database: filepath.Join(t.TempDir(), "upgrade.db")})
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })
	return db
}

func sqlStore(t *testing.T, db core.Database) *optionstore.SQLStore {
	t.Helper()
	store, err := optionstore.NewSQLStore(context.Background(), db, "", nil)
	require.NoError(t, err)
	return store
}

type recorder struct {
	mu     sync.Mutex
	events []core.UpgradeEvent
}

func (r *recorder) hook(_ context.Context, e core.UpgradeEvent) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, e)
}

func (r *recorder) all() []core.UpgradeEvent {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]core.UpgradeEvent(nil), r.events...)
}

func newUpgrader(t *testing.T, db core.Database, store core.OptionStore, version int, ns table.Namespace, opts ...Option) *Upgrader {
	t.Helper()
	tbl, err := table.New(logsDefinition(version, logsSchemas[version]), ns)
	require.NoError(t, err)
	u, err := New(tbl, db, store, opts...)
	require.NoError(t, err)
	return u
}

func storedVersion(t *testing.T, store core.OptionStore, scope core.Scope) string {
	t.Helper()
	v, err := store.Get(context.Background(), scope, "logs_db_version")
	if err != nil {
		require.ErrorIs(t, err, core.ErrOptionNotFound)
		return ""
	}
	return string(v)
}

func describe(t *testing.T, db core.Database, name string) *core.TableSchema {
	t.Helper()
	s, err := db.GetSchema(context.Background(), nil, name)
	require.NoError(t, err)
	return s
}

func TestInitFreshInstall(t *testing.T) {
	ctx := context.Background()
	db := openDB(t)
	store := sqlStore(t, db)
	rec := &recorder{}

	u := newUpgrader(t, db, store, 3, table.Namespace{Prefix: "wp_"}, WithHook(rec.hook))
	assert.Equal(t, core.StateUnchecked, u.State())
	assert.False(t, u.TableIsReady())

	u.Init(ctx)

	require.NoError(t, u.Err())
	assert.Equal(t, core.StateReady, u.State())
	assert.Equal(t, 3, u.DBVersion())
	assert.Equal(t, "3", storedVersion(t, store, core.GlobalScope()))
	assert.Empty(t, u.Diagnostic())

	s := describe(t, db, "wp_logs")
	assert.Equal(t, []string{"log_id", "message", "error"}, s.Columns)
	assert.True(t, s.HasIndex("wp_logs_error"))

	events := rec.all()
	require.Len(t, events, 1)
	assert.Equal(t, core.StateReady, events[0].State)
	assert.Equal(t, 0, events[0].FromVersion)
	assert.Equal(t, 3, events[0].ToVersion)
	assert.Equal(t, "wp_logs", events[0].Table)
	assert.Equal(t, "logs_db_version", events[0].OptionName)
	assert.NotEmpty(t, events[0].ID)
}

func TestInitIsIdempotent(t *testing.T) {
	ctx := context.Background()
	db := openDB(t)
	store := sqlStore(t, db)
	rec := &recorder{}

	u := newUpgrader(t, db, store, 2, table.Namespace{Prefix: "wp_"}, WithHook(rec.hook))
	u.Init(ctx)
	u.Init(ctx)
	require.True(t, u.TableIsReady())

	// A second process starting on an up-to-date table does no DDL.
	again := newUpgrader(t, db, store, 2, table.Namespace{Prefix: "wp_"}, WithHook(rec.hook))
	again.Init(ctx)
	require.True(t, again.TableIsReady())

	assert.Len(t, rec.all(), 1, "only the actual upgrade is reported")
}

func TestUpgradePathsConverge(t *testing.T) {
	ctx := context.Background()
	ns := table.Namespace{Prefix: "wp_"}

	stepwise := openDB(t)
	stepStore := sqlStore(t, stepwise)
	for _, v := range []int{1, 2, 3} {
		u := newUpgrader(t, stepwise, stepStore, v, ns)
		u.Init(ctx)
		require.True(t, u.TableIsReady(), "version %d: %v", v, u.Err())
	}

	skipping := openDB(t)
	skipStore := sqlStore(t, skipping)
	for _, v := range []int{1, 3} {
		u := newUpgrader(t, skipping, skipStore, v, ns)
		u.Init(ctx)
		require.True(t, u.TableIsReady(), "version %d: %v", v, u.Err())
	}

	fresh := openDB(t)
	u := newUpgrader(t, fresh, sqlStore(t, fresh), 3, ns)
	u.Init(ctx)
	require.True(t, u.TableIsReady())

	want := describe(t, fresh, "wp_logs")
	assert.Equal(t, want, describe(t, stepwise, "wp_logs"))
	assert.Equal(t, want, describe(t, skipping, "wp_logs"))
	assert.Equal(t, "3", storedVersion(t, stepStore, core.GlobalScope()))
	assert.Equal(t, "3", storedVersion(t, skipStore, core.GlobalScope()))
}

func TestUpgradeAddsErrorColumn(t *testing.T) {
	ctx := context.Background()
	db := openDB(t)
	store := sqlStore(t, db)
	ns := table.Namespace{Prefix: "wp_"}

	v1 := newUpgrader(t, db, store, 1, ns)
	v1.Init(ctx)
	require.True(t, v1.TableIsReady())
	_, err := db.Exec(ctx, `INSERT INTO "wp_logs" (message) VALUES ('kept')`)
	require.NoError(t, err)

	v2 := newUpgrader(t, db, store, 2, ns)
	v2.Init(ctx)
	require.True(t, v2.TableIsReady(), "%v", v2.Err())
	assert.Equal(t, "2", storedVersion(t, store, core.GlobalScope()))

	crud, err := table.NewCRUD(v2.Table(), db, table.WithReadiness(v2))
	require.NoError(t, err)
	rows, err := crud.Get(ctx, nil, nil)
	require.NoError(t, err)
	require.Len(t, rows, 1)
	assert.Equal(t, "kept", rows[0]["message"])
	assert.Equal(t, "", rows[0]["error"])
}

func TestUpgradeConvergesOverPartialSchema(t *testing.T) {
	ctx := context.Background()
	db := openDB(t)
	store := sqlStore(t, db)
	ns := table.Namespace{Prefix: "wp_"}

	v1 := newUpgrader(t, db, store, 1, ns)
	v1.Init(ctx)
	require.True(t, v1.TableIsReady())

	// The column exists already but the version was never recorded.
	_, err := db.Exec(ctx, `ALTER TABLE "wp_logs" ADD COLUMN error TEXT NOT NULL DEFAULT ''`)
	require.NoError(t, err)

	v3 := newUpgrader(t, db, store, 3, ns)
	v3.Init(ctx)
	require.True(t, v3.TableIsReady(), "%v", v3.Err())
	assert.True(t, describe(t, db, "wp_logs").HasIndex("wp_logs_error"))
}

func TestDowngradeFails(t *testing.T) {
	ctx := context.Background()
	db := openDB(t)
	store := sqlStore(t, db)
	rec := &recorder{}
	require.NoError(t, store.Set(ctx, core.GlobalScope(), "logs_db_version", []byte("5")))

	u := newUpgrader(t, db, store, 3, table.Namespace{Prefix: "wp_"}, WithHook(rec.hook))
	u.Init(ctx)

	assert.Equal(t, core.StateFailed, u.State())
	assert.False(t, u.TableIsReady())
	require.ErrorIs(t, u.Err(), core.ErrDowngrade)
	assert.Equal(t, 5, u.DBVersion())
	assert.Equal(t, "5", storedVersion(t, store, core.GlobalScope()))
	assert.False(t, describe(t, db, "wp_logs").Exists(), "no DDL on downgrade")

	diag := u.Diagnostic()
	assert.Contains(t, diag, "wp_logs")
	assert.Contains(t, diag, `"logs_db_version"`)
	assert.Contains(t, diag, "stored version 5")

	events := rec.all()
	require.Len(t, events, 1)
	assert.Equal(t, core.StateFailed, events[0].State)
	assert.NotEmpty(t, events[0].Error)

	crud, err := table.NewCRUD(u.Table(), db, table.WithReadiness(u))
	require.NoError(t, err)
	_, err = crud.Get(ctx, nil, nil)
	require.ErrorIs(t, err, core.ErrTableNotReady)
}

func TestFailedDDLKeepsVersion(t *testing.T) {
	ctx := context.Background()
	db := openDB(t)
	store := sqlStore(t, db)
	ns := table.Namespace{Prefix: "wp_"}

	v1 := newUpgrader(t, db, store, 1, ns)
	v1.Init(ctx)
	require.True(t, v1.TableIsReady())
	_, err := db.Exec(ctx, `INSERT INTO "wp_logs" (message) VALUES ('kept')`)
	require.NoError(t, err)

	// SQLite refuses to add a NOT NULL column without a default to a table
	// that has rows.
	broken, err := table.New(logsDefinition(2, logsV1+",\n\t\terror TEXT NOT NULL,\n\t\tKEY message (message)"), ns)
	require.NoError(t, err)
	u, err := New(broken, db, store)
	require.NoError(t, err)
	u.Init(ctx)

	assert.Equal(t, core.StateFailed, u.State())
	require.ErrorIs(t, u.Err(), core.ErrSchemaUpgrade)
	assert.Equal(t, 1, u.DBVersion())
	assert.Equal(t, "1", storedVersion(t, store, core.GlobalScope()))

	s := describe(t, db, "wp_logs")
	assert.False(t, s.HasColumn("error"))
	assert.False(t, s.HasIndex("wp_logs_message"))
}

type autocommitDialect struct{ core.Dialect }

func (autocommitDialect) TransactionalDDL() bool { return false }

// autocommitDB behaves like a database whose DDL commits implicitly.
type autocommitDB struct{ core.Database }

func (d autocommitDB) Dialect() core.Dialect { return autocommitDialect{d.Database.Dialect()} }

func TestUpgradeWithoutTransactionalDDL(t *testing.T) {
	ctx := context.Background()
	db := autocommitDB{openDB(t)}
	store := sqlStore(t, db.Database)
	ns := table.Namespace{Prefix: "wp_"}

	for _, v := range []int{1, 3} {
		u := newUpgrader(t, db, store, v, ns)
		u.Init(ctx)
		require.True(t, u.TableIsReady(), "version %d: %v", v, u.Err())
	}
	assert.Equal(t, "3", storedVersion(t, store, core.GlobalScope()))
	assert.True(t, describe(t, db, "wp_logs").HasIndex("wp_logs_error"))
	_, err := db.Exec(ctx, `INSERT INTO "wp_logs" (message) VALUES ('kept')`)
	require.NoError(t, err)

	// A failing statement leaves the recorded version alone.
	broken, err := table.New(logsDefinition(4, logsV3+",\n\t\tKEY message (message),\n\t\tnote TEXT NOT NULL"), ns)
	require.NoError(t, err)
	u, err := New(broken, db, store)
	require.NoError(t, err)
	u.Init(ctx)
	assert.Equal(t, core.StateFailed, u.State())
	require.ErrorIs(t, u.Err(), core.ErrSchemaUpgrade)
	assert.Equal(t, 3, u.DBVersion())
	assert.Equal(t, "3", storedVersion(t, store, core.GlobalScope()))
	assert.False(t, describe(t, db, "wp_logs").HasColumn("note"))
}

func TestInvalidStoredVersion(t *testing.T) {
	ctx := context.Background()
	db := openDB(t)
	store := optionstore.NewMemoryStore()
	require.NoError(t, store.Set(ctx, core.GlobalScope(), "logs_db_version", []byte("two")))

	u := newUpgrader(t, db, store, 1, table.Namespace{Prefix: "wp_"})
	u.Init(ctx)
	assert.Equal(t, core.StateFailed, u.State())
	require.ErrorIs(t, u.Err(), core.ErrConfiguration)
}

func TestTenantScopedVersion(t *testing.T) {
	ctx := context.Background()
	db := openDB(t)
	store := optionstore.NewMemoryStore()

	for _, tenant := range []string{"1", "2"} {
		u := newUpgrader(t, db, store, 2, table.Namespace{Prefix: "wp_", Tenant: tenant})
		u.Init(ctx)
		require.True(t, u.TableIsReady(), "%v", u.Err())
		assert.True(t, describe(t, db, "wp_logs_"+tenant).Exists())
	}
	assert.Equal(t, "2", storedVersion(t, store, core.TenantScope("1")))
	assert.Equal(t, "2", storedVersion(t, store, core.TenantScope("2")))
	assert.Equal(t, "", storedVersion(t, store, core.GlobalScope()))
}

// racingLocker simulates another worker finishing the upgrade while this
// one waits for the lock.
type racingLocker struct {
	store   core.OptionStore
	version string
	names   []string
}

func (l *racingLocker) Lock(ctx context.Context, name string, _ time.Duration) (core.Unlocker, error) {
	l.names = append(l.names, name)
	if err := l.store.Set(ctx, core.GlobalScope(), "logs_db_version", []byte(l.version)); err != nil {
		return nil, err
	}
	return core.UnlockFunc(func(context.Context) error { return nil }), nil
}

func TestLockReReadsVersion(t *testing.T) {
	ctx := context.Background()
	db := openDB(t)
	store := optionstore.NewMemoryStore()
	rec := &recorder{}
	locker := &racingLocker{store: store, version: "2"}

	u := newUpgrader(t, db, store, 2, table.Namespace{Prefix: "wp_"}, WithLocker(locker), WithHook(rec.hook))
	u.Init(ctx)

	require.True(t, u.TableIsReady())
	assert.Equal(t, []string{"tablekeeper_upgrade_wp_logs"}, locker.names)
	assert.False(t, describe(t, db, "wp_logs").Exists(), "the winner's DDL is trusted")
	assert.Empty(t, rec.all())

	locker.version = "9"
	u = newUpgrader(t, db, optionstore.NewMemoryStore(), 2, table.Namespace{Prefix: "wp_"}, WithLocker(locker))
	locker.store = u.options
	u.Init(ctx)
	require.ErrorIs(t, u.Err(), core.ErrDowngrade)
}

type refusingLocker struct{}

func (refusingLocker) Lock(context.Context, string, time.Duration) (core.Unlocker, error) {
	return nil, core.ErrAlreadyLocked
}

func TestLockTimeoutFails(t *testing.T) {
	db := openDB(t)
	u := newUpgrader(t, db, optionstore.NewMemoryStore(), 1, table.Namespace{Prefix: "wp_"},
		WithLocker(refusingLocker{}), WithLockTimeout(time.Millisecond))
	u.Init(context.Background())

	assert.Equal(t, core.StateFailed, u.State())
	require.ErrorIs(t, u.Err(), core.ErrSchemaUpgrade)
	assert.Contains(t, u.Err().Error(), "already locked")
}

func TestDeleteAndResetTable(t *testing.T) {
	ctx := context.Background()
	db := openDB(t)
	store := sqlStore(t, db)
	u := newUpgrader(t, db, store, 2, table.Namespace{Prefix: "wp_"})

	require.ErrorIs(t, u.ResetTable(ctx), core.ErrTableNotReady)

	u.Init(ctx)
	require.True(t, u.TableIsReady())

	crud, err := table.NewCRUD(u.Table(), db, table.WithReadiness(u))
	require.NoError(t, err)
	_, err = crud.Insert(ctx, map[string]interface{}{"message": "m"})
	require.NoError(t, err)

	require.NoError(t, u.ResetTable(ctx))
	has, err := crud.HasItems(ctx)
	require.NoError(t, err)
	assert.False(t, has)
	assert.Equal(t, "2", storedVersion(t, store, core.GlobalScope()))

	require.NoError(t, u.DeleteTable(ctx))
	assert.Equal(t, core.StateUnchecked, u.State())
	assert.False(t, describe(t, db, "wp_logs").Exists())
	assert.Equal(t, "", storedVersion(t, store, core.GlobalScope()))

	u.Init(ctx)
	require.True(t, u.TableIsReady())
	assert.True(t, describe(t, db, "wp_logs").Exists())
}

func TestNewRequiresCollaborators(t *testing.T) {
	tbl, err := table.New(logsDefinition(1, logsV1), table.Namespace{})
	require.NoError(t, err)
	_, err = New(tbl, nil, optionstore.NewMemoryStore())
	require.ErrorIs(t, err, core.ErrConfiguration)
	_, err = New(nil, openDB(t), optionstore.NewMemoryStore())
	require.ErrorIs(t, err, core.ErrConfiguration)
}

func TestNullDefaultColumnAdded(t *testing.T) {
	ctx := context.Background()
	db := openDB(t)
	store := sqlStore(t, db)
	ns := table.Namespace{Prefix: "wp_"}

	v1 := newUpgrader(t, db, store, 1, ns)
	v1.Init(ctx)
	require.True(t, v1.TableIsReady())

	tbl, err := table.New(logsDefinition(2, logsV1+",\n\t\terror TEXT DEFAULT NULL"), ns)
	require.NoError(t, err)
	v2, err := New(tbl, db, store)
	require.NoError(t, err)
	v2.Init(ctx)
	require.True(t, v2.TableIsReady(), "%v", v2.Err())

	crud, err := table.NewCRUD(tbl, db, table.WithReadiness(v2))
	require.NoError(t, err)
	id, err := crud.Insert(ctx, map[string]interface{}{"message": "x"})
	require.NoError(t, err)

	row, found, err := crud.GetItem(ctx, id)
	require.NoError(t, err)
	require.True(t, found)
	assert.Equal(t, "x", row["message"])
	v, ok := row["error"]
	assert.True(t, ok)
	assert.Nil(t, v)
}

// flakyStore fails every read while broken is set.
type flakyStore struct {
	core.OptionStore
	broken bool
}

func (s *flakyStore) Get(ctx context.Context, scope core.Scope, key string) ([]byte, error) {
	if s.broken {
		return nil, errors.New("connection reset")
	}
	return s.OptionStore.Get(ctx, scope, key)
}

func TestReadyTableSurvivesReadFailure(t *testing.T) {
	ctx := context.Background()
	db := openDB(t)
	store := &flakyStore{OptionStore: optionstore.NewMemoryStore()}
	rec := &recorder{}

	u := newUpgrader(t, db, store, 2, table.Namespace{Prefix: "wp_"}, WithHook(rec.hook))
	u.Init(ctx)
	require.True(t, u.TableIsReady())

	store.broken = true
	u.Init(ctx)
	assert.True(t, u.TableIsReady())
	assert.Equal(t, 2, u.DBVersion())
	assert.NoError(t, u.Err())
	assert.Len(t, rec.all(), 1)

	// A table that never got ready fails but keeps its last known version.
	fresh := newUpgrader(t, db, store, 3, table.Namespace{Prefix: "wp_"})
	fresh.Init(ctx)
	assert.Equal(t, core.StateFailed, fresh.State())
	assert.Contains(t, fresh.Err().Error(), "connection reset")
	assert.Equal(t, 0, fresh.DBVersion())
}

type stickyLocker struct{ released int }

func (l *stickyLocker) Lock(context.Context, string, time.Duration) (core.Unlocker, error) {
	return core.UnlockFunc(func(context.Context) error {
		l.released++
		return errors.New("lock lost")
	}), nil
}

func TestDeleteTableReleasesLock(t *testing.T) {
	ctx := context.Background()
	db := openDB(t)
	locker := &stickyLocker{}
	u := newUpgrader(t, db, optionstore.NewMemoryStore(), 1, table.Namespace{Prefix: "wp_"}, WithLocker(locker))

	u.Init(ctx)
	require.True(t, u.TableIsReady())
	require.NoError(t, u.DeleteTable(ctx))
	assert.Equal(t, 2, locker.released)
	assert.False(t, describe(t, db, "wp_logs").Exists())
}
