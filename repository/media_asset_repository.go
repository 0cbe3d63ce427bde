package repository

import (
	"context"
	"errors"
	"fmt"

	"nebulaktv/model"

	"github.com/google/uuid"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// MediaAssetRepository 媒体资源记录的数据访问接口
type MediaAssetRepository interface {
	Create(ctx context.Context, asset *model.MediaAsset) error
	// Upsert 按 (song_id, kind) 覆盖：删除同类型旧记录后插入新记录，在一个事务内完成。
	// 记录不原地修改，返回被删除的旧记录 id
	Upsert(ctx context.Context, asset *model.MediaAsset) ([]uuid.UUID, error)
	GetByID(ctx context.Context, id uuid.UUID) (*model.MediaAsset, error)
	ListBySong(ctx context.Context, songID uuid.UUID) ([]*model.MediaAsset, error)
	FirstBySongAndKind(ctx context.Context, songID uuid.UUID, kind model.AssetKind) (*model.MediaAsset, error)
	KindsBySong(ctx context.Context, songID uuid.UUID) ([]model.AssetKind, error)
	DeleteBySong(ctx context.Context, songID uuid.UUID) (int64, error)
}

type gormMediaAssetRepository struct {
	db *gorm.DB
}

// NewGormMediaAssetRepository 创建 GORM 媒体资源仓库
func NewGormMediaAssetRepository(db *gorm.DB) MediaAssetRepository {
	return &gormMediaAssetRepository{db: db}
}

func (r *gormMediaAssetRepository) Create(ctx context.Context, asset *model.MediaAsset) error {
	if asset.ID == uuid.Nil {
		asset.ID = uuid.New()
	}
	if err := r.db.WithContext(ctx).Create(asset).Error; err != nil {
		return fmt.Errorf("create media asset %s/%s: %w", asset.SongID, asset.Kind, err)
	}
	return nil
}

func (r *gormMediaAssetRepository) Upsert(ctx context.Context, asset *model.MediaAsset) ([]uuid.UUID, error) {
	if asset.ID == uuid.Nil {
		asset.ID = uuid.New()
	}
	var replaced []uuid.UUID
	err := r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Model(&model.MediaAsset{}).
			Clauses(clause.Locking{Strength: "UPDATE"}).
			Where("song_id = ? AND kind = ?", asset.SongID, asset.Kind).
			Pluck("id", &replaced).Error; err != nil {
			return fmt.Errorf("lock media assets %s/%s: %w", asset.SongID, asset.Kind, err)
		}
		if len(replaced) > 0 {
			if err := tx.Where("id IN ?", replaced).Delete(&model.MediaAsset{}).Error; err != nil {
				return fmt.Errorf("replace media asset %s/%s: %w", asset.SongID, asset.Kind, err)
			}
		}
		if err := tx.Create(asset).Error; err != nil {
			return fmt.Errorf("create media asset %s/%s: %w", asset.SongID, asset.Kind, err)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return replaced, nil
}

func (r *gormMediaAssetRepository) GetByID(ctx context.Context, id uuid.UUID) (*model.MediaAsset, error) {
	var asset model.MediaAsset
	err := r.db.WithContext(ctx).Where("id = ?", id).First(&asset).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	return &asset, nil
}

// ListBySong 返回歌曲的全部资源，顺序无意义
func (r *gormMediaAssetRepository) ListBySong(ctx context.Context, songID uuid.UUID) ([]*model.MediaAsset, error) {
	var assets []*model.MediaAsset
	err := r.db.WithContext(ctx).
		Where("song_id = ?", songID).
		Order("created_at ASC").
		Find(&assets).Error
	if err != nil {
		return nil, err
	}
	return assets, nil
}

// FirstBySongAndKind 存在重复记录时返回最早登记的一条
func (r *gormMediaAssetRepository) FirstBySongAndKind(ctx context.Context, songID uuid.UUID, kind model.AssetKind) (*model.MediaAsset, error) {
	var asset model.MediaAsset
	err := r.db.WithContext(ctx).
		Where("song_id = ? AND kind = ?", songID, kind).
		Order("created_at ASC").
		First(&asset).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	return &asset, nil
}

func (r *gormMediaAssetRepository) KindsBySong(ctx context.Context, songID uuid.UUID) ([]model.AssetKind, error) {
	var kinds []model.AssetKind
	err := r.db.WithContext(ctx).Model(&model.MediaAsset{}).
		Where("song_id = ?", songID).
		Distinct().
		Pluck("kind", &kinds).Error
	if err != nil {
		return nil, err
	}
	return kinds, nil
}

// DeleteBySong 删除歌曲的全部资源记录，返回删除条数
func (r *gormMediaAssetRepository) DeleteBySong(ctx context.Context, songID uuid.UUID) (int64, error) {
	res := r.db.WithContext(ctx).Where("song_id = ?", songID).Delete(&model.MediaAsset{})
	if res.Error != nil {
		return 0, fmt.Errorf("delete media assets of song %s: %w", songID, res.Error)
	}
	return res.RowsAffected, nil
}
