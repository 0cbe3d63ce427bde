// Package storage gives read access to registered media files, either on the
// local filesystem under the media root or in a MinIO bucket.
package storage

import (
	"context"
	"errors"
	"fmt"
	"io"
	"path"
	"strings"

	"nebulaktv/config"
)

// ErrNotExist 文件或对象不存在
var ErrNotExist = errors.New("storage object does not exist")

// Backend is the read side used by the streaming engine. Paths are the
// relative paths stored on asset records.
type Backend interface {
	Exists(ctx context.Context, p string) (bool, error)
	Size(ctx context.Context, p string) (int64, error)
	// OpenForRead returns a reader positioned at offset. The caller must close it.
	OpenForRead(ctx context.Context, p string, offset int64) (io.ReadCloser, error)
}

// Uploader is implemented by backends that need locally produced files
// copied into them before they can be served.
type Uploader interface {
	Upload(ctx context.Context, key, localPath, contentType string) error
}

// New 根据配置创建存储后端
func New(ctx context.Context, cfg *config.Config) (Backend, error) {
	switch strings.ToLower(cfg.StorageBackend) {
	case "", "local":
		return NewLocal(cfg.MediaRoot), nil
	case "minio":
		b, err := NewMinioBackend(MinioOptions{
			Endpoint:  cfg.MinioEndpoint,
			AccessKey: cfg.MinioAccessKey,
			SecretKey: cfg.MinioSecretKey,
			Bucket:    cfg.MinioBucket,
			UseSSL:    cfg.MinioUseSSL,
			Region:    cfg.MinioRegion,
		})
		if err != nil {
			return nil, err
		}
		if err := b.EnsureBucket(ctx); err != nil {
			return nil, err
		}
		return b, nil
	default:
		return nil, fmt.Errorf("unknown storage backend %q", cfg.StorageBackend)
	}
}

// cleanKey normalises a stored path into a slash separated relative key.
func cleanKey(p string) string {
	p = strings.ReplaceAll(p, "\\", "/")
	p = path.Clean("/" + p)
	return strings.TrimPrefix(p, "/")
}
