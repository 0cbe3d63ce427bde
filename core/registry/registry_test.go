package registry

import (
	"context"
	"testing"

	"nebulaktv/internal/testsupport"
	"nebulaktv/model"
	"nebulaktv/repository"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestIsCompleteRequiresAllMandatoryKinds(t *testing.T) {
	ctx := context.Background()
	reg := New(testsupport.NewAssetStore())
	song := uuid.New()

	ok, err := reg.IsComplete(ctx, song)
	require.NoError(t, err)
	assert.False(t, ok, "no records at all")

	_, err = reg.Register(ctx, song, model.KindInstrumentalAudio, "p/inst.mp3", model.AssetMeta{})
	require.NoError(t, err)
	_, err = reg.Register(ctx, song, model.KindOriginalAudio, "p/orig.mp3", model.AssetMeta{})
	require.NoError(t, err)

	ok, err = reg.IsComplete(ctx, song)
	require.NoError(t, err)
	assert.False(t, ok, "primary video missing")

	missing, err := reg.Missing(ctx, song)
	require.NoError(t, err)
	assert.Equal(t, []model.AssetKind{model.KindPrimaryVideo}, missing)

	_, err = reg.Register(ctx, song, model.KindPrimaryVideo, "uploads/song.mp4", model.AssetMeta{})
	require.NoError(t, err)

	ok, err = reg.IsComplete(ctx, song)
	require.NoError(t, err)
	assert.True(t, ok)
}

func TestIsCompleteIgnoresOtherSongs(t *testing.T) {
	ctx := context.Background()
	reg := New(testsupport.NewAssetStore())
	a, b := uuid.New(), uuid.New()

	for _, k := range model.MandatoryAssetKinds {
		_, err := reg.Register(ctx, a, k, "x/"+string(k), model.AssetMeta{})
		require.NoError(t, err)
	}

	ok, err := reg.IsComplete(ctx, b)
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestRegisterValidates(t *testing.T) {
	ctx := context.Background()
	reg := New(testsupport.NewAssetStore())

	_, err := reg.Register(ctx, uuid.New(), model.AssetKind("karaoke_score"), "a.json", model.AssetMeta{})
	assert.ErrorIs(t, err, ErrInvalidKind)

	_, err = reg.Register(ctx, uuid.New(), model.KindVocalAudio, "", model.AssetMeta{})
	assert.ErrorIs(t, err, ErrEmptyPath)
}

func TestRegisterAllowsDuplicatesAndFindByKindReturnsFirst(t *testing.T) {
	ctx := context.Background()
	reg := New(testsupport.NewAssetStore())
	song := uuid.New()

	first, err := reg.Register(ctx, song, model.KindTimedLyrics, "l/1.vtt", model.AssetMeta{})
	require.NoError(t, err)
	_, err = reg.Register(ctx, song, model.KindTimedLyrics, "l/2.vtt", model.AssetMeta{})
	require.NoError(t, err)

	all, err := reg.List(ctx, song)
	require.NoError(t, err)
	assert.Len(t, all, 2)

	found, err := reg.FindByKind(ctx, song, model.KindTimedLyrics)
	require.NoError(t, err)
	assert.Equal(t, first.ID, found.ID)
}

func TestRegisterOrReplaceKeepsOnePerKind(t *testing.T) {
	ctx := context.Background()
	reg := New(testsupport.NewAssetStore())
	song := uuid.New()

	_, err := reg.RegisterOrReplace(ctx, song, model.KindOriginalAudio, "old.mp3", model.AssetMeta{})
	require.NoError(t, err)
	size := int64(42)
	latest, err := reg.RegisterOrReplace(ctx, song, model.KindOriginalAudio, "new.mp3", model.AssetMeta{FileSize: &size})
	require.NoError(t, err)

	all, err := reg.List(ctx, song)
	require.NoError(t, err)
	require.Len(t, all, 1)
	assert.Equal(t, latest.ID, all[0].ID)
	assert.Equal(t, "new.mp3", all[0].Path)
	assert.Equal(t, int64(42), *all[0].FileSize)
}

func TestFindByKindAbsentAndGetUnknown(t *testing.T) {
	ctx := context.Background()
	reg := New(testsupport.NewAssetStore())

	rec, err := reg.FindByKind(ctx, uuid.New(), model.KindVocalAudio)
	assert.NoError(t, err)
	assert.Nil(t, rec)

	_, err = reg.Get(ctx, uuid.New())
	assert.ErrorIs(t, err, repository.ErrNotFound)
}

func TestDeleteAllReturnsCount(t *testing.T) {
	ctx := context.Background()
	reg := New(testsupport.NewAssetStore())
	song, other := uuid.New(), uuid.New()

	for _, k := range []model.AssetKind{model.KindPrimaryVideo, model.KindOriginalAudio, model.KindVocalAudio} {
		_, err := reg.Register(ctx, song, k, "p/"+string(k), model.AssetMeta{})
		require.NoError(t, err)
	}
	_, err := reg.Register(ctx, other, model.KindPrimaryVideo, "o.mp4", model.AssetMeta{})
	require.NoError(t, err)

	n, err := reg.DeleteAll(ctx, song)
	require.NoError(t, err)
	assert.Equal(t, int64(3), n)

	left, err := reg.List(ctx, song)
	require.NoError(t, err)
	assert.Empty(t, left)

	kept, err := reg.List(ctx, other)
	require.NoError(t, err)
	assert.Len(t, kept, 1)
}

type recordingCache struct {
	evicted []uuid.UUID
}

func (c *recordingCache) Invalidate(_ context.Context, ids ...uuid.UUID) error {
	c.evicted = append(c.evicted, ids...)
	return nil
}

func TestRegisterOrReplaceEvictsReplacedRecords(t *testing.T) {
	ctx := context.Background()
	cache := &recordingCache{}
	reg := New(testsupport.NewAssetStore())
	reg.UseCache(cache)
	song := uuid.New()

	first, err := reg.RegisterOrReplace(ctx, song, model.KindOriginalAudio, "old.mp3", model.AssetMeta{})
	require.NoError(t, err)
	assert.Empty(t, cache.evicted)

	second, err := reg.RegisterOrReplace(ctx, song, model.KindOriginalAudio, "new.mp3", model.AssetMeta{})
	require.NoError(t, err)
	assert.NotEqual(t, first.ID, second.ID)
	assert.Equal(t, []uuid.UUID{first.ID}, cache.evicted)

	_, err = reg.Get(ctx, first.ID)
	assert.ErrorIs(t, err, repository.ErrNotFound)
}

func TestDeleteAllEvictsDeletedRecords(t *testing.T) {
	ctx := context.Background()
	cache := &recordingCache{}
	reg := New(testsupport.NewAssetStore())
	reg.UseCache(cache)
	song := uuid.New()

	var ids []uuid.UUID
	for _, k := range []model.AssetKind{model.KindPrimaryVideo, model.KindOriginalAudio} {
		rec, err := reg.Register(ctx, song, k, "p/"+string(k), model.AssetMeta{})
		require.NoError(t, err)
		ids = append(ids, rec.ID)
	}

	_, err := reg.DeleteAll(ctx, song)
	require.NoError(t, err)
	assert.ElementsMatch(t, ids, cache.evicted)
}
