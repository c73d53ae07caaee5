package optionstore

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rzpsarthak13/tablekeeper/internal/core"
	"github.com/rzpsarthak13/tablekeeper/internal/database"
)

// exerciseStore runs the behavior every option store shares.
func exerciseStore(t *testing.T, store core.OptionStore) {
	t.Helper()
	ctx := context.Background()
	global := core.GlobalScope()
	tenant := core.TenantScope("7")

	_, err := store.Get(ctx, global, "files_db_version")
	require.ErrorIs(t, err, core.ErrOptionNotFound)

	require.NoError(t, store.Set(ctx, global, "files_db_version", []byte("1")))
	require.NoError(t, store.Set(ctx, tenant, "files_db_version", []byte("3")))

	v, err := store.Get(ctx, global, "files_db_version")
	require.NoError(t, err)
	assert.Equal(t, "1", string(v))

	v, err = store.Get(ctx, tenant, "files_db_version")
	require.NoError(t, err)
	assert.Equal(t, "3", string(v), "scopes must not collide")

	require.NoError(t, store.Set(ctx, global, "files_db_version", []byte("2")))
	v, err = store.Get(ctx, global, "files_db_version")
	require.NoError(t, err)
	assert.Equal(t, "2", string(v))

	require.NoError(t, store.Delete(ctx, global, "files_db_version"))
	require.NoError(t, store.Delete(ctx, global, "files_db_version"), "deleting an absent key is not an error")
	_, err = store.Get(ctx, global, "files_db_version")
	require.ErrorIs(t, err, core.ErrOptionNotFound)

	v, err = store.Get(ctx, tenant, "files_db_version")
	require.NoError(t, err)
	assert.Equal(t, "3", string(v))
}

func TestMemoryStore(t *testing.T) {
	store := NewMemoryStore()
	exerciseStore(t, store)

	ctx := context.Background()
	buf := []byte("5")
	require.NoError(t, store.Set(ctx, core.GlobalScope(), "k", buf))
	buf[0] = '9'
	v, err := store.Get(ctx, core.GlobalScope(), "k")
	require.NoError(t, err)
	assert.Equal(t, "5", string(v), "stored values are copies")
}

func openSQLite(t *testing.T) core.Database {
	t.Helper()
	db, err := database.NewSQLiteDatabase(database.Config{
		Type:     "sqlite",
		Database: filepath.Join(t.TempDir(), "options.db"),
	})
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })
	return db
}

func TestSQLStore(t *testing.T) {
	db := openSQLite(t)
	store, err := NewSQLStore(context.Background(), db, "", nil)
	require.NoError(t, err)
	assert.Equal(t, DefaultOptionsTable, store.Table())

	exerciseStore(t, store)

	// A second store on the same table sees the same options.
	again, err := NewSQLStore(context.Background(), db, "", nil)
	require.NoError(t, err)
	require.NoError(t, store.Set(context.Background(), core.GlobalScope(), "shared", []byte("x")))
	v, err := again.Get(context.Background(), core.GlobalScope(), "shared")
	require.NoError(t, err)
	assert.Equal(t, "x", string(v))
}

func TestSQLStoreSetTx(t *testing.T) {
	ctx := context.Background()
	db := openSQLite(t)
	store, err := NewSQLStore(ctx, db, "opts", nil)
	require.NoError(t, err)

	tx, err := db.BeginTx(ctx)
	require.NoError(t, err)
	require.NoError(t, store.SetTx(ctx, tx, core.GlobalScope(), "files_db_version", []byte("2")))
	require.NoError(t, tx.Rollback())

	_, err = store.Get(ctx, core.GlobalScope(), "files_db_version")
	require.ErrorIs(t, err, core.ErrOptionNotFound, "rolled back write must not be visible")

	tx, err = db.BeginTx(ctx)
	require.NoError(t, err)
	require.NoError(t, store.SetTx(ctx, tx, core.GlobalScope(), "files_db_version", []byte("2")))
	require.NoError(t, tx.Commit())

	v, err := store.Get(ctx, core.GlobalScope(), "files_db_version")
	require.NoError(t, err)
	assert.Equal(t, "2", string(v))
}

func TestSQLStoreRejectsBadTable(t *testing.T) {
	_, err := NewSQLStore(context.Background(), openSQLite(t), "opts; DROP", nil)
	require.ErrorIs(t, err, core.ErrConfiguration)

	_, err = NewSQLStore(context.Background(), nil, "", nil)
	require.ErrorIs(t, err, core.ErrConfiguration)
}

// fakeDynamo keeps items in a map keyed by the "key" attribute.
type fakeDynamo struct {
	items map[string]map[string]types.AttributeValue
}

func (f *fakeDynamo) key(k map[string]types.AttributeValue) string {
	return k["key"].(*types.AttributeValueMemberS).Value
}

func (f *fakeDynamo) GetItem(_ context.Context, in *dynamodb.GetItemInput, _ ...func(*dynamodb.Options)) (*dynamodb.GetItemOutput, error) {
	return &dynamodb.GetItemOutput{Item: f.items[f.key(in.Key)]}, nil
}

func (f *fakeDynamo) PutItem(_ context.Context, in *dynamodb.PutItemInput, _ ...func(*dynamodb.Options)) (*dynamodb.PutItemOutput, error) {
	f.items[f.key(in.Item)] = in.Item
	return &dynamodb.PutItemOutput{}, nil
}

func (f *fakeDynamo) DeleteItem(_ context.Context, in *dynamodb.DeleteItemInput, _ ...func(*dynamodb.Options)) (*dynamodb.DeleteItemOutput, error) {
	delete(f.items, f.key(in.Key))
	return &dynamodb.DeleteItemOutput{}, nil
}

func TestDynamoDBStore(t *testing.T) {
	fake := &fakeDynamo{items: make(map[string]map[string]types.AttributeValue)}
	store := newDynamoDBStore(fake, "options", "wp", nil)
	exerciseStore(t, store)

	require.NoError(t, store.Set(context.Background(), core.TenantScope("2"), "k", []byte("v")))
	assert.Contains(t, fake.items, "wp:tenant:2:k")

	require.NoError(t, store.Close())
	_, err := store.Get(context.Background(), core.GlobalScope(), "k")
	require.Error(t, err)
}

func TestRedisStore(t *testing.T) {
	addr := os.Getenv("TABLEKEEPER_TEST_REDIS")
	if addr == "" {
		t.Skip("TABLEKEEPER_TEST_REDIS not set")
	}
	store, err := NewRedisStore(Config{Endpoints: []string{addr}, Namespace: "tablekeeper_test"})
	require.NoError(t, err)
	defer store.Close()
	exerciseStore(t, store)
}

func TestCreate(t *testing.T) {
	assert.Equal(t, []string{"dynamodb", "memory", "redis", "sql"}, GetRegisteredTypes())

	_, err := Create(Config{})
	require.ErrorIs(t, err, core.ErrConfiguration)

	_, err = Create(Config{Type: "etcd"})
	require.ErrorIs(t, err, core.ErrConfiguration)

	_, err = Create(Config{Type: "sql"})
	require.ErrorIs(t, err, core.ErrConfiguration, "sql store needs a database")

	_, err = Create(Config{Type: "redis"})
	require.ErrorIs(t, err, core.ErrConfiguration)

	_, err = Create(Config{Type: "dynamodb", Region: "eu-west-1", TableName: "t", AccessKeyID: "id"})
	require.ErrorIs(t, err, core.ErrConfiguration)

	store, err := Create(Config{Type: "memory"})
	require.NoError(t, err)
	assert.IsType(t, &MemoryStore{}, store)

	store, err = Create(Config{Type: "sql", Database: openSQLite(t)})
	require.NoError(t, err)
	assert.IsType(t, &SQLStore{}, store)
}

func TestScopedKey(t *testing.T) {
	assert.Equal(t, "tablekeeper:global:files_db_version", scopedKey("", core.GlobalScope(), "files_db_version"))
	assert.Equal(t, "wp:tenant:3:files_db_version", scopedKey("wp", core.TenantScope("3"), "files_db_version"))
}
