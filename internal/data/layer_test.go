package data

import (
	"context"
	"encoding/json"
	"regexp"
	"testing"
	"time"

	"InsightLane/internal/conf"
	"InsightLane/internal/model"
	pkgerrors "InsightLane/pkg/errors"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/go-kratos/kratos/v2/log"
	gomysql "github.com/go-sql-driver/mysql"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"google.golang.org/protobuf/types/known/durationpb"
	"gorm.io/driver/mysql"
	"gorm.io/gorm"
)

func testEntry(key string, ttl time.Duration) *model.StorageEntry {
	now := time.Now().UTC().Truncate(time.Second)
	return &model.StorageEntry{
		Key:       key,
		Data:      json.RawMessage(`{"score":42}`),
		TTL:       ttl,
		StoredAt:  now,
		ExpiresAt: now.Add(ttl),
	}
}

func TestRedisLayer_PutGet(t *testing.T) {
	cache, mr := setupTestCache(t)
	layer := NewRedisLayer(model.LayerCache, cache, log.DefaultLogger)
	ctx := context.Background()

	entry := testEntry("analytics:u1:engagement", time.Hour)
	entry.Layer = model.LayerCache
	require.NoError(t, layer.Put(ctx, entry))

	key := "tier:cache:analytics:u1:engagement"
	assert.True(t, mr.Exists(key))
	assert.Equal(t, time.Hour, mr.TTL(key))

	got, err := layer.Get(ctx, "analytics:u1:engagement")
	require.NoError(t, err)
	assert.JSONEq(t, `{"score":42}`, string(got.Data))
	assert.Equal(t, model.LayerCache, got.Layer)
	assert.True(t, entry.ExpiresAt.Equal(got.ExpiresAt))

	mr.FastForward(time.Hour)
	_, err = layer.Get(ctx, "analytics:u1:engagement")
	assert.ErrorIs(t, err, model.ErrEntryNotFound)
}

func TestRedisLayer_ExpiredEntryIsDeleted(t *testing.T) {
	cache, mr := setupTestCache(t)
	layer := NewRedisLayer(model.LayerPersonal, cache, log.DefaultLogger)
	ctx := context.Background()

	entry := testEntry("k", time.Hour)
	require.NoError(t, cache.Set(ctx, "tier:personal:k", entry, 0))

	_, err := layer.Get(ctx, "k")
	require.NoError(t, err)

	layer.now = func() time.Time { return entry.ExpiresAt }
	_, err = layer.Get(ctx, "k")
	assert.ErrorIs(t, err, model.ErrEntryNotFound)
	assert.False(t, mr.Exists("tier:personal:k"))
}

func TestRedisLayer_LayersAreIndependent(t *testing.T) {
	cache, _ := setupTestCache(t)
	cacheLayer := NewRedisLayer(model.LayerCache, cache, log.DefaultLogger)
	personal := NewRedisLayer(model.LayerPersonal, cache, log.DefaultLogger)
	ctx := context.Background()

	require.NoError(t, personal.Put(ctx, testEntry("k", time.Hour)))
	_, err := cacheLayer.Get(ctx, "k")
	assert.ErrorIs(t, err, model.ErrEntryNotFound)
}

func TestRedisLayer_NilClient(t *testing.T) {
	layer := NewRedisLayer(model.LayerCache, NewCacheClient(nil), log.DefaultLogger)

	assert.Error(t, layer.Put(context.Background(), testEntry("k", time.Hour)))
	_, err := layer.Get(context.Background(), "k")
	require.Error(t, err)
	assert.NotErrorIs(t, err, model.ErrEntryNotFound)
}

func TestMemoryLayer(t *testing.T) {
	layer := NewMemoryLayer(2)
	now := time.Now()
	layer.now = func() time.Time { return now }
	ctx := context.Background()

	entry := testEntry("a", time.Minute)
	entry.ExpiresAt = now.Add(time.Minute)
	require.NoError(t, layer.Put(ctx, entry))
	entry.Data[2] = 'X'

	got, err := layer.Get(ctx, "a")
	require.NoError(t, err)
	assert.JSONEq(t, `{"score":42}`, string(got.Data), "stored data is a copy")

	now = now.Add(time.Minute)
	_, err = layer.Get(ctx, "a")
	assert.ErrorIs(t, err, model.ErrEntryNotFound)
	assert.Equal(t, 0, layer.Len())
}

func TestMemoryLayer_EvictsLeastRecentlyUsed(t *testing.T) {
	layer := NewMemoryLayer(2)
	ctx := context.Background()

	for _, k := range []string{"a", "b", "c"} {
		require.NoError(t, layer.Put(ctx, testEntry(k, time.Hour)))
	}
	_, err := layer.Get(ctx, "a")
	assert.ErrorIs(t, err, model.ErrEntryNotFound)
	_, err = layer.Get(ctx, "c")
	assert.NoError(t, err)
}

func setupArchive(t *testing.T) (*ArchiveLayer, sqlmock.Sqlmock) {
	sqlDB, mock, err := sqlmock.New()
	require.NoError(t, err)
	t.Cleanup(func() { _ = sqlDB.Close() })

	db, err := gorm.Open(mysql.New(mysql.Config{
		Conn:                      sqlDB,
		SkipInitializeWithVersion: true,
	}), &gorm.Config{SkipDefaultTransaction: true})
	require.NoError(t, err)

	return NewArchiveLayer(db, log.DefaultLogger), mock
}

func TestArchiveLayer_PutUpserts(t *testing.T) {
	layer, mock := setupArchive(t)

	mock.ExpectExec(regexp.QuoteMeta("INSERT INTO `analytics_archive`")).
		WithArgs("analytics:u1:engagement", `{"score":42}`, int64(3600), sqlmock.AnyArg(), sqlmock.AnyArg()).
		WillReturnResult(sqlmock.NewResult(1, 1))

	require.NoError(t, layer.Put(context.Background(), testEntry("analytics:u1:engagement", time.Hour)))
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestArchiveLayer_PutClassifiesErrors(t *testing.T) {
	layer, mock := setupArchive(t)

	mock.ExpectExec(regexp.QuoteMeta("INSERT INTO `analytics_archive`")).
		WillReturnError(&gomysql.MySQLError{Number: 1213, Message: "Deadlock found"})

	err := layer.Put(context.Background(), testEntry("k", time.Hour))
	require.Error(t, err)
	assert.True(t, pkgerrors.IsTransientError(err))
}

func TestArchiveLayer_Get(t *testing.T) {
	layer, mock := setupArchive(t)
	now := time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)
	layer.now = func() time.Time { return now }

	rows := sqlmock.NewRows([]string{"id", "storage_key", "payload", "ttl_seconds", "stored_at", "expires_at"}).
		AddRow(1, "k", `{"score":42}`, 86400, now.Add(-time.Hour), now.Add(23*time.Hour))
	mock.ExpectQuery(regexp.QuoteMeta("SELECT * FROM `analytics_archive` WHERE storage_key = ? AND expires_at > ?")).
		WillReturnRows(rows)

	got, err := layer.Get(context.Background(), "k")
	require.NoError(t, err)
	assert.Equal(t, model.LayerArchive, got.Layer)
	assert.Equal(t, 24*time.Hour, got.TTL)
	assert.JSONEq(t, `{"score":42}`, string(got.Data))
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestArchiveLayer_GetMissing(t *testing.T) {
	layer, mock := setupArchive(t)

	mock.ExpectQuery(regexp.QuoteMeta("SELECT * FROM `analytics_archive`")).
		WillReturnRows(sqlmock.NewRows([]string{"id"}))

	_, err := layer.Get(context.Background(), "k")
	assert.ErrorIs(t, err, model.ErrEntryNotFound)
}

func TestArchiveLayer_PurgeExpired(t *testing.T) {
	layer, mock := setupArchive(t)

	mock.ExpectExec(regexp.QuoteMeta("DELETE FROM `analytics_archive` WHERE expires_at <= ?")).
		WillReturnResult(sqlmock.NewResult(0, 3))

	n, err := layer.PurgeExpired(context.Background(), time.Now())
	require.NoError(t, err)
	assert.Equal(t, int64(3), n)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestRunStore(t *testing.T) {
	store := NewRunStore(&conf.Pipeline{RunCacheSize: 10, RunCacheTtl: durationpb.New(time.Minute)})
	ctx := context.Background()

	collected := &model.PipelineRun{CollectionID: "col_1", Stage: model.StageCollected}
	require.NoError(t, store.Save(ctx, collected))

	_, err := store.GetByAnalysisID(ctx, "ana_1")
	assert.ErrorIs(t, err, model.ErrRunNotFound)

	first := *collected
	first.AnalysisID, first.Stage = "ana_1", model.StageAnalyzed
	require.NoError(t, store.Save(ctx, &first))
	second := *collected
	second.AnalysisID = "ana_2"
	require.NoError(t, store.Save(ctx, &second))

	got, err := store.GetByCollectionID(ctx, "col_1")
	require.NoError(t, err)
	assert.Equal(t, "ana_2", got.AnalysisID)

	old, err := store.GetByAnalysisID(ctx, "ana_1")
	require.NoError(t, err)
	assert.Same(t, &first, old)

	_, err = store.GetByCollectionID(ctx, "col_missing")
	assert.ErrorIs(t, err, model.ErrRunNotFound)
}
