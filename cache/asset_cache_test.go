package cache

import (
	"context"
	"errors"
	"testing"
	"time"

	"nebulaktv/core/registry"
	"nebulaktv/internal/testsupport"
	"nebulaktv/model"
	"nebulaktv/repository"

	"github.com/alicebob/miniredis/v2"
	"github.com/go-redis/redis/v8"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type countingGetter struct {
	assets map[uuid.UUID]*model.MediaAsset
	calls  int
}

func (g *countingGetter) Get(_ context.Context, id uuid.UUID) (*model.MediaAsset, error) {
	g.calls++
	a, ok := g.assets[id]
	if !ok {
		return nil, repository.ErrNotFound
	}
	cp := *a
	return &cp, nil
}

func setup(t *testing.T, ttl time.Duration) (*AssetCache, *countingGetter, *miniredis.Miniredis, *model.MediaAsset) {
	t.Helper()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { client.Close() })

	size := int64(2048)
	asset := &model.MediaAsset{
		ID:       uuid.New(),
		SongID:   uuid.New(),
		Kind:     model.KindInstrumentalAudio,
		Path:     "uploads/processed/x/a_inst.mp3",
		FileSize: &size,
	}
	getter := &countingGetter{assets: map[uuid.UUID]*model.MediaAsset{asset.ID: asset}}
	return NewAssetCache(client, getter, ttl), getter, mr, asset
}

func TestAssetCacheReadThrough(t *testing.T) {
	c, getter, mr, asset := setup(t, time.Minute)
	ctx := context.Background()

	first, err := c.Get(ctx, asset.ID)
	require.NoError(t, err)
	second, err := c.Get(ctx, asset.ID)
	require.NoError(t, err)

	assert.Equal(t, 1, getter.calls)
	assert.Equal(t, first.Path, second.Path)
	assert.Equal(t, *asset.FileSize, *second.FileSize)
	assert.Equal(t, time.Minute, mr.TTL(assetKey(asset.ID)))

	mr.FastForward(2 * time.Minute)
	_, err = c.Get(ctx, asset.ID)
	require.NoError(t, err)
	assert.Equal(t, 2, getter.calls)
}

func TestAssetCacheDoesNotCacheMisses(t *testing.T) {
	c, getter, mr, _ := setup(t, time.Minute)
	id := uuid.New()

	_, err := c.Get(context.Background(), id)
	assert.True(t, errors.Is(err, repository.ErrNotFound))
	assert.False(t, mr.Exists(assetKey(id)))
	assert.Equal(t, 1, getter.calls)
}

func TestAssetCacheDisabled(t *testing.T) {
	c, getter, mr, asset := setup(t, 0)
	for i := 0; i < 3; i++ {
		_, err := c.Get(context.Background(), asset.ID)
		require.NoError(t, err)
	}
	assert.Equal(t, 3, getter.calls)
	assert.False(t, mr.Exists(assetKey(asset.ID)))
}

func TestAssetCacheIgnoresCorruptEntry(t *testing.T) {
	c, getter, mr, asset := setup(t, time.Minute)
	require.NoError(t, mr.Set(assetKey(asset.ID), "{broken"))

	got, err := c.Get(context.Background(), asset.ID)
	require.NoError(t, err)
	assert.Equal(t, asset.Path, got.Path)
	assert.Equal(t, 1, getter.calls)
}

func TestAssetCacheFallsBackWhenRedisDown(t *testing.T) {
	c, getter, mr, asset := setup(t, time.Minute)
	mr.Close()

	got, err := c.Get(context.Background(), asset.ID)
	require.NoError(t, err)
	assert.Equal(t, asset.ID, got.ID)
	assert.Equal(t, 1, getter.calls)
}

func TestAssetCacheInvalidate(t *testing.T) {
	c, getter, mr, asset := setup(t, time.Minute)
	ctx := context.Background()

	_, err := c.Get(ctx, asset.ID)
	require.NoError(t, err)
	require.NoError(t, c.Invalidate(ctx, asset.ID))
	assert.False(t, mr.Exists(assetKey(asset.ID)))

	_, err = c.Get(ctx, asset.ID)
	require.NoError(t, err)
	assert.Equal(t, 2, getter.calls)
}

func TestCheckRedis(t *testing.T) {
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	defer client.Close()

	require.NoError(t, CheckRedis(context.Background(), client))
	assert.False(t, mr.Exists("nebulaktv:healthcheck"))
}

func TestAssetCacheDropsReplacedRecord(t *testing.T) {
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { client.Close() })
	ctx := context.Background()

	reg := registry.New(testsupport.NewAssetStore())
	c := NewAssetCache(client, reg, time.Minute)
	reg.UseCache(c)
	song := uuid.New()

	old, err := reg.RegisterOrReplace(ctx, song, model.KindOriginalAudio, "a/old.mp3", model.AssetMeta{})
	require.NoError(t, err)
	cached, err := c.Get(ctx, old.ID)
	require.NoError(t, err)
	assert.Equal(t, "a/old.mp3", cached.Path)
	assert.True(t, mr.Exists(assetKey(old.ID)))

	latest, err := reg.RegisterOrReplace(ctx, song, model.KindOriginalAudio, "a/new.mp3", model.AssetMeta{})
	require.NoError(t, err)
	assert.False(t, mr.Exists(assetKey(old.ID)))

	_, err = c.Get(ctx, old.ID)
	assert.ErrorIs(t, err, repository.ErrNotFound)

	got, err := c.Get(ctx, latest.ID)
	require.NoError(t, err)
	assert.Equal(t, "a/new.mp3", got.Path)
}
