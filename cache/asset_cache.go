// Package cache keeps hot asset records in Redis so repeated range requests
// against the same artifact skip the database.
package cache

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"nebulaktv/logger"
	"nebulaktv/model"

	"github.com/go-redis/redis/v8"
	"github.com/google/uuid"
)

// AssetGetter is the source of truth behind the cache.
type AssetGetter interface {
	Get(ctx context.Context, assetID uuid.UUID) (*model.MediaAsset, error)
}

// AssetCache 资源记录读穿缓存
type AssetCache struct {
	client *redis.Client
	next   AssetGetter
	ttl    time.Duration
}

// NewAssetCache wraps next. A non-positive ttl disables caching.
func NewAssetCache(client *redis.Client, next AssetGetter, ttl time.Duration) *AssetCache {
	return &AssetCache{client: client, next: next, ttl: ttl}
}

func assetKey(id uuid.UUID) string {
	return fmt.Sprintf("nebulaktv:asset:%s", id)
}

// Get returns the cached record or loads it from next. Redis errors are
// logged and fall through to next; errors from next are returned unchanged.
func (c *AssetCache) Get(ctx context.Context, assetID uuid.UUID) (*model.MediaAsset, error) {
	if c.client == nil || c.ttl <= 0 {
		return c.next.Get(ctx, assetID)
	}

	if asset := c.lookup(ctx, assetID); asset != nil {
		return asset, nil
	}

	asset, err := c.next.Get(ctx, assetID)
	if err != nil {
		return nil, err
	}

	payload, err := json.Marshal(asset)
	if err == nil {
		err = c.client.Set(ctx, assetKey(assetID), payload, c.ttl).Err()
	}
	if err != nil {
		logger.Warn("写入资源缓存失败", logger.Stringer("assetId", assetID), logger.ErrorField(err))
	}
	return asset, nil
}

func (c *AssetCache) lookup(ctx context.Context, assetID uuid.UUID) *model.MediaAsset {
	// 最多重试2次
	const maxRetries = 2
	retryDelay := 50 * time.Millisecond

	for attempt := 0; attempt < maxRetries; attempt++ {
		data, err := c.client.Get(ctx, assetKey(assetID)).Bytes()
		if err == nil {
			var asset model.MediaAsset
			if err := json.Unmarshal(data, &asset); err != nil {
				logger.Warn("资源缓存内容无效，已忽略", logger.Stringer("assetId", assetID), logger.ErrorField(err))
				return nil
			}
			return &asset
		}
		if errors.Is(err, redis.Nil) || ctx.Err() != nil {
			return nil
		}
		if attempt < maxRetries-1 {
			logger.Warn("读取资源缓存失败，准备重试",
				logger.Stringer("assetId", assetID),
				logger.Int("attempt", attempt+1),
				logger.ErrorField(err))
			time.Sleep(retryDelay)
			retryDelay *= 2
			continue
		}
		logger.Error("读取资源缓存最终失败，回源数据库", logger.Stringer("assetId", assetID), logger.ErrorField(err))
	}
	return nil
}

// Invalidate drops cached records, e.g. after a song's assets are deleted.
func (c *AssetCache) Invalidate(ctx context.Context, ids ...uuid.UUID) error {
	if c.client == nil || len(ids) == 0 {
		return nil
	}
	keys := make([]string, len(ids))
	for i, id := range ids {
		keys[i] = assetKey(id)
	}
	return c.client.Del(ctx, keys...).Err()
}
