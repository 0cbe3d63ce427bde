package repository

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"nebulaktv/model"

	"github.com/google/uuid"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// ErrNotFound 查询的歌曲或资源不存在
var ErrNotFound = errors.New("record not found")

// SongRepository 歌曲状态与辅助元数据的数据访问接口。
// 歌曲的增删改查由上传流程负责，这里只暴露处理流程需要的操作。
type SongRepository interface {
	Create(ctx context.Context, song *model.Song) error
	GetByID(ctx context.Context, id uuid.UUID) (*model.Song, error)
	UpdateStatus(ctx context.Context, id uuid.UUID, status model.SongStatus) error
	MergeMetadata(ctx context.Context, id uuid.UUID, key string, value interface{}) error
	MarkFailed(ctx context.Context, id uuid.UUID, reason string) error
}

// gormSongRepository GORM 实现
type gormSongRepository struct {
	db *gorm.DB
}

// NewGormSongRepository 创建 GORM 歌曲仓库
func NewGormSongRepository(db *gorm.DB) SongRepository {
	return &gormSongRepository{db: db}
}

func (r *gormSongRepository) Create(ctx context.Context, song *model.Song) error {
	if song.ID == uuid.Nil {
		song.ID = uuid.New()
	}
	if song.Status == "" {
		song.Status = model.StatusPending
	}
	return r.db.WithContext(ctx).Create(song).Error
}

// GetByID 根据ID获取歌曲，不存在时返回 ErrNotFound
func (r *gormSongRepository) GetByID(ctx context.Context, id uuid.UUID) (*model.Song, error) {
	var song model.Song
	err := r.db.WithContext(ctx).Where("id = ?", id).First(&song).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	// 库中的状态值必须属于已知集合
	if _, err := model.ParseSongStatus(string(song.Status)); err != nil {
		return nil, fmt.Errorf("song %s: %w", id, err)
	}
	return &song, nil
}

// UpdateStatus 单条 UPDATE 写入状态，重复写入同一状态不是错误
func (r *gormSongRepository) UpdateStatus(ctx context.Context, id uuid.UUID, status model.SongStatus) error {
	res := r.db.WithContext(ctx).Model(&model.Song{}).
		Where("id = ?", id).
		Updates(map[string]interface{}{
			"status":     status,
			"updated_at": time.Now(),
		})
	if res.Error != nil {
		return fmt.Errorf("update song %s status: %w", id, res.Error)
	}
	if res.RowsAffected == 0 {
		return ErrNotFound
	}
	return nil
}

// MergeMetadata 在数据库侧用 JSON_SET 合并单个键，其它键保持不变
func (r *gormSongRepository) MergeMetadata(ctx context.Context, id uuid.UUID, key string, value interface{}) error {
	expr, err := jsonSetExpr(key, value)
	if err != nil {
		return err
	}
	res := r.db.WithContext(ctx).Model(&model.Song{}).
		Where("id = ?", id).
		Updates(map[string]interface{}{
			"meta_json":  expr,
			"updated_at": time.Now(),
		})
	if res.Error != nil {
		return fmt.Errorf("merge song %s metadata %q: %w", id, key, res.Error)
	}
	if res.RowsAffected == 0 {
		return ErrNotFound
	}
	return nil
}

// MarkFailed 在同一条语句里把状态置为 FAILED 并写入 error 键
func (r *gormSongRepository) MarkFailed(ctx context.Context, id uuid.UUID, reason string) error {
	if reason == "" {
		reason = "processing failed"
	}
	expr, err := jsonSetExpr(model.MetaErrorKey, reason)
	if err != nil {
		return err
	}
	res := r.db.WithContext(ctx).Model(&model.Song{}).
		Where("id = ?", id).
		Updates(map[string]interface{}{
			"status":     model.StatusFailed,
			"meta_json":  expr,
			"updated_at": time.Now(),
		})
	if res.Error != nil {
		return fmt.Errorf("mark song %s failed: %w", id, res.Error)
	}
	if res.RowsAffected == 0 {
		return ErrNotFound
	}
	return nil
}

func jsonSetExpr(key string, value interface{}) (clause.Expr, error) {
	if key == "" {
		return clause.Expr{}, errors.New("metadata key must not be empty")
	}
	raw, err := json.Marshal(value)
	if err != nil {
		return clause.Expr{}, fmt.Errorf("encode metadata %q: %w", key, err)
	}
	keyJSON, _ := json.Marshal(key)
	path := "$." + string(keyJSON)
	return gorm.Expr("JSON_SET(COALESCE(meta_json, JSON_OBJECT()), ?, CAST(? AS JSON))", path, string(raw)), nil
}
