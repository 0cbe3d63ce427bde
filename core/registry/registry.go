// Package registry catalogues the media files produced for each song and
// answers whether a song has everything it needs to be played.
package registry

import (
	"context"
	"errors"
	"fmt"

	"nebulaktv/logger"
	"nebulaktv/model"
	"nebulaktv/repository"

	"github.com/google/uuid"
)

var (
	ErrInvalidKind = errors.New("invalid asset kind")
	ErrEmptyPath   = errors.New("asset path must not be empty")
)

// Invalidator drops cached copies of asset records.
type Invalidator interface {
	Invalidate(ctx context.Context, ids ...uuid.UUID) error
}

// Registry wraps the asset store with validation and the completeness check.
type Registry struct {
	assets repository.MediaAssetRepository
	cache  Invalidator
}

func New(assets repository.MediaAssetRepository) *Registry {
	return &Registry{assets: assets}
}

// UseCache makes the registry evict every record it replaces or deletes
// from c, so a stale id stops resolving as soon as its row is gone.
func (r *Registry) UseCache(c Invalidator) {
	r.cache = c
}

func (r *Registry) evict(ctx context.Context, songID uuid.UUID, ids []uuid.UUID) {
	if r.cache == nil || len(ids) == 0 {
		return
	}
	if err := r.cache.Invalidate(ctx, ids...); err != nil {
		logger.Warn("清理资源缓存失败",
			logger.Stringer("songId", songID),
			logger.Int("count", len(ids)),
			logger.ErrorField(err))
	}
}

func newRecord(songID uuid.UUID, kind model.AssetKind, path string, meta model.AssetMeta) (*model.MediaAsset, error) {
	if !kind.Valid() {
		return nil, fmt.Errorf("%w: %q", ErrInvalidKind, kind)
	}
	if path == "" {
		return nil, ErrEmptyPath
	}
	rec := &model.MediaAsset{
		ID:     uuid.New(),
		SongID: songID,
		Kind:   kind,
		Path:   path,
	}
	rec.ApplyMeta(meta)
	return rec, nil
}

// Register appends a record. Several records of the same kind may coexist.
func (r *Registry) Register(ctx context.Context, songID uuid.UUID, kind model.AssetKind, path string, meta model.AssetMeta) (*model.MediaAsset, error) {
	rec, err := newRecord(songID, kind, path, meta)
	if err != nil {
		return nil, err
	}
	if err := r.assets.Create(ctx, rec); err != nil {
		return nil, err
	}
	logger.Debug("登记媒体资源",
		logger.Stringer("songId", songID),
		logger.String("kind", string(kind)),
		logger.String("path", path))
	return rec, nil
}

// RegisterOrReplace keeps at most one record per (song, kind).
func (r *Registry) RegisterOrReplace(ctx context.Context, songID uuid.UUID, kind model.AssetKind, path string, meta model.AssetMeta) (*model.MediaAsset, error) {
	rec, err := newRecord(songID, kind, path, meta)
	if err != nil {
		return nil, err
	}
	replaced, err := r.assets.Upsert(ctx, rec)
	if err != nil {
		return nil, err
	}
	r.evict(ctx, songID, replaced)
	logger.Debug("覆盖登记媒体资源",
		logger.Stringer("songId", songID),
		logger.String("kind", string(kind)),
		logger.String("path", path),
		logger.Int("replaced", len(replaced)))
	return rec, nil
}

func (r *Registry) List(ctx context.Context, songID uuid.UUID) ([]*model.MediaAsset, error) {
	return r.assets.ListBySong(ctx, songID)
}

// FindByKind returns the first record of kind, or (nil, nil) when there is none.
func (r *Registry) FindByKind(ctx context.Context, songID uuid.UUID, kind model.AssetKind) (*model.MediaAsset, error) {
	rec, err := r.assets.FirstBySongAndKind(ctx, songID, kind)
	if errors.Is(err, repository.ErrNotFound) {
		return nil, nil
	}
	return rec, err
}

// Get resolves an asset id. Unknown ids yield repository.ErrNotFound.
func (r *Registry) Get(ctx context.Context, assetID uuid.UUID) (*model.MediaAsset, error) {
	return r.assets.GetByID(ctx, assetID)
}

// Missing returns the mandatory kinds that have no record for the song.
func (r *Registry) Missing(ctx context.Context, songID uuid.UUID) ([]model.AssetKind, error) {
	kinds, err := r.assets.KindsBySong(ctx, songID)
	if err != nil {
		return nil, err
	}
	present := make(map[model.AssetKind]bool, len(kinds))
	for _, k := range kinds {
		present[k] = true
	}
	var missing []model.AssetKind
	for _, k := range model.MandatoryAssetKinds {
		if !present[k] {
			missing = append(missing, k)
		}
	}
	return missing, nil
}

func (r *Registry) IsComplete(ctx context.Context, songID uuid.UUID) (bool, error) {
	missing, err := r.Missing(ctx, songID)
	if err != nil {
		return false, err
	}
	return len(missing) == 0, nil
}

func (r *Registry) DeleteAll(ctx context.Context, songID uuid.UUID) (int64, error) {
	existing, err := r.assets.ListBySong(ctx, songID)
	if err != nil {
		return 0, err
	}
	n, err := r.assets.DeleteBySong(ctx, songID)
	if err != nil {
		return 0, err
	}
	ids := make([]uuid.UUID, len(existing))
	for i, a := range existing {
		ids[i] = a.ID
	}
	r.evict(ctx, songID, ids)
	logger.Info("删除歌曲全部媒体资源", logger.Stringer("songId", songID), logger.Int64("count", n))
	return n, nil
}
