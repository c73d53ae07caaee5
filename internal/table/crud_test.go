package table

import (
	"context"
	"errors"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rzpsarthak13/tablekeeper/internal/core"
	"github.com/rzpsarthak13/tablekeeper/internal/database"
	"github.com/rzpsarthak13/tablekeeper/internal/metrics"
	"github.com/rzpsarthak13/tablekeeper/internal/schema"
)

func newTestCRUD(t *testing.T, opts ...Option) (*CRUD, core.Database) {
	t.Helper()
	ctx := context.Background()

	db, err := database.Create(database.Config{Type: "sqlite", Database: filepath.Join(t.TempDir(), "crud.db")})
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })

	tbl, err := New(definition(false, 1), Namespace{Prefix: "wp_", Tenant: "1"})
	require.NoError(t, err)

	ddl, err := schema.ParseDDL(tbl.Definition().Schema())
	require.NoError(t, err)
	_, err = db.Exec(ctx, db.Dialect().CreateTable(tbl.Name(), ddl.Body()))
	require.NoError(t, err)

	crud, err := NewCRUD(tbl, db, opts...)
	require.NoError(t, err)
	return crud, db
}

func TestInsertFillsDefaults(t *testing.T) {
	ctx := context.Background()
	crud, _ := newTestCRUD(t)

	id, err := crud.Insert(ctx, map[string]interface{}{"path": "/a"})
	require.NoError(t, err)
	assert.Equal(t, int64(1), id, "primary key must not come from defaults")

	row, found, err := crud.GetItem(ctx, id)
	require.NoError(t, err)
	require.True(t, found)
	assert.Equal(t, "new", row["status"])
	assert.Equal(t, "[]", row["tags"])
	assert.Equal(t, "/a", row["path"])
	assert.Equal(t, int64(1), row["file_id"])
}

func TestInsertSerializesCollections(t *testing.T) {
	ctx := context.Background()
	crud, _ := newTestCRUD(t)

	id, err := crud.Insert(ctx, map[string]interface{}{"path": "/b", "tags": []string{"x", "y"}, "file_id": 0})
	require.NoError(t, err)

	row, found, err := crud.GetItem(ctx, id)
	require.NoError(t, err)
	require.True(t, found)

	var tags []string
	require.NoError(t, row.Decode("tags", &tags))
	assert.Equal(t, []string{"x", "y"}, tags)
}

func TestInsertErrors(t *testing.T) {
	ctx := context.Background()
	crud, _ := newTestCRUD(t)

	_, err := crud.Insert(ctx, map[string]interface{}{"nope": 1})
	require.ErrorIs(t, err, core.ErrWriteFailed)

	_, err = crud.Insert(ctx, map[string]interface{}{"file_id": 7, "path": "/a"})
	require.NoError(t, err)
	_, err = crud.Insert(ctx, map[string]interface{}{"file_id": 7, "path": "/b"})
	require.ErrorIs(t, err, core.ErrWriteFailed)
	require.ErrorIs(t, err, core.ErrDuplicateKey)
}

func TestGetItemAbsent(t *testing.T) {
	ctx := context.Background()
	crud, _ := newTestCRUD(t)

	row, found, err := crud.GetItem(ctx, 42)
	require.NoError(t, err)
	assert.False(t, found)
	assert.Nil(t, row)

	_, _, err = crud.GetItem(ctx, nil)
	require.Error(t, err)
}

func TestGetItems(t *testing.T) {
	ctx := context.Background()
	crud, _ := newTestCRUD(t)

	var ids []interface{}
	for _, p := range []string{"/a", "/b", "/c"} {
		id, err := crud.Insert(ctx, map[string]interface{}{"path": p})
		require.NoError(t, err)
		ids = append(ids, id)
	}

	rows, err := crud.GetItems(ctx, nil)
	require.NoError(t, err)
	assert.Empty(t, rows)

	rows, err = crud.GetItems(ctx, []interface{}{ids[1]})
	require.NoError(t, err)
	single, found, err := crud.GetItem(ctx, ids[1])
	require.NoError(t, err)
	require.True(t, found)
	require.Len(t, rows, 1)
	assert.Equal(t, single, rows[0])

	rows, err = crud.GetItems(ctx, []interface{}{ids[2], "1", ids[0], ids[2], int64(99)})
	require.NoError(t, err)
	require.Len(t, rows, 2)
	var got []int64
	for _, r := range rows {
		id, ok := r.Int64("file_id")
		require.True(t, ok)
		got = append(got, id)
	}
	assert.ElementsMatch(t, []int64{1, 3}, got)

	_, err = crud.GetItems(ctx, []interface{}{"abc"})
	require.Error(t, err)
}

func TestDeleteOldestItem(t *testing.T) {
	ctx := context.Background()
	m := metrics.New()
	crud, _ := newTestCRUD(t, WithMetrics(m))

	n, err := crud.DeleteOldestItem(ctx)
	require.NoError(t, err)
	assert.Zero(t, n)

	for _, p := range []string{"/1", "/2", "/3"} {
		_, err := crud.Insert(ctx, map[string]interface{}{"path": p})
		require.NoError(t, err)
	}

	n, err = crud.DeleteOldestItem(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(1), n)
	_, found, err := crud.GetItem(ctx, 1)
	require.NoError(t, err)
	assert.False(t, found)

	n, err = crud.DeleteOldestItem(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(1), n)
	_, found, err = crud.GetItem(ctx, 2)
	require.NoError(t, err)
	assert.False(t, found)

	_, found, err = crud.GetItem(ctx, 3)
	require.NoError(t, err)
	assert.True(t, found)
}

func TestDeleteOldestItemFailureIsDistinct(t *testing.T) {
	ctx := context.Background()
	crud, db := newTestCRUD(t)

	_, err := db.Exec(ctx, db.Dialect().DropTable(crud.Table().Name()))
	require.NoError(t, err)

	n, err := crud.DeleteOldestItem(ctx)
	require.ErrorIs(t, err, core.ErrWriteFailed)
	assert.Zero(t, n)
}

func TestGetUpdateDelete(t *testing.T) {
	ctx := context.Background()
	crud, _ := newTestCRUD(t)

	has, err := crud.HasItems(ctx)
	require.NoError(t, err)
	assert.False(t, has)

	for _, p := range []string{"/a", "/b", "/c"} {
		_, err := crud.Insert(ctx, map[string]interface{}{"path": p})
		require.NoError(t, err)
	}

	has, err = crud.HasItems(ctx)
	require.NoError(t, err)
	assert.True(t, has)

	n, err := crud.Update(ctx, map[string]interface{}{"status": "done"}, map[string]interface{}{"path": "/b"})
	require.NoError(t, err)
	assert.Equal(t, int64(1), n)

	rows, err := crud.Get(ctx, []string{"path"}, map[string]interface{}{"status": "done"})
	require.NoError(t, err)
	assert.Equal(t, []core.Row{{"path": "/b"}}, rows)

	rows, err = crud.Get(ctx, []string{"*"}, map[string]interface{}{"status": "missing"})
	require.NoError(t, err)
	assert.NotNil(t, rows)
	assert.Empty(t, rows)

	keyed, err := crud.GetKeyed(ctx, []string{"path"}, map[string]interface{}{"status": "new"})
	require.NoError(t, err)
	require.Len(t, keyed, 2)
	assert.Equal(t, "/a", keyed[int64(1)]["path"])
	assert.Equal(t, "/c", keyed[int64(3)]["path"])

	_, err = crud.Update(ctx, map[string]interface{}{"status": "x"}, nil)
	require.ErrorIs(t, err, core.ErrEmptyCondition)
	_, err = crud.Delete(ctx, nil)
	require.ErrorIs(t, err, core.ErrEmptyCondition)

	n, err = crud.Delete(ctx, map[string]interface{}{"status": "new"})
	require.NoError(t, err)
	assert.Equal(t, int64(2), n)

	count, err := crud.Count(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(1), count)

	_, err = crud.Get(ctx, []string{"path) FROM x --"}, nil)
	require.ErrorIs(t, err, core.ErrInvalidIdentifier)
}

type fixedReadiness struct {
	ready bool
	err   error
}

func (f fixedReadiness) TableIsReady() bool { return f.ready }
func (f fixedReadiness) Err() error         { return f.err }

func TestReadinessGate(t *testing.T) {
	ctx := context.Background()
	crud, _ := newTestCRUD(t, WithReadiness(fixedReadiness{err: errors.New("downgrade")}))

	_, err := crud.Insert(ctx, map[string]interface{}{"path": "/a"})
	require.ErrorIs(t, err, core.ErrTableNotReady)
	_, err = crud.HasItems(ctx)
	require.ErrorIs(t, err, core.ErrTableNotReady)
	_, _, err = crud.GetItem(ctx, 1)
	require.ErrorIs(t, err, core.ErrTableNotReady)
	_, err = crud.DeleteOldestItem(ctx)
	require.ErrorIs(t, err, core.ErrTableNotReady)
	assert.Contains(t, err.Error(), "wp_files_1")

	ready, _ := newTestCRUD(t, WithReadiness(fixedReadiness{ready: true}))
	_, err = ready.Insert(ctx, map[string]interface{}{"path": "/a"})
	require.NoError(t, err)
}
