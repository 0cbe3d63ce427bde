package storage

import (
	"context"
	"fmt"
	"io"
	"time"

	"nebulaktv/logger"

	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"
)

// MinioOptions MinIO 连接参数
type MinioOptions struct {
	Endpoint  string
	AccessKey string
	SecretKey string
	Bucket    string
	UseSSL    bool
	Region    string
}

// BucketStats 存储桶统计信息
type BucketStats struct {
	TotalObjects int64
	TotalSize    int64
	LastModified time.Time
}

// ObjectInfo 文件信息
type ObjectInfo struct {
	Key          string
	Size         int64
	LastModified time.Time
	ContentType  string
	ETag         string
}

// MinioBackend 封装了 MinIO 客户端，对象键即资源记录中的相对路径
type MinioBackend struct {
	client     *minio.Client
	bucketName string
	region     string
}

// NewMinioBackend 创建一个新的 MinIO 后端
func NewMinioBackend(opts MinioOptions) (*MinioBackend, error) {
	client, err := minio.New(opts.Endpoint, &minio.Options{
		Creds:  credentials.NewStaticV4(opts.AccessKey, opts.SecretKey, ""),
		Secure: opts.UseSSL,
		Region: opts.Region,
	})
	if err != nil {
		return nil, fmt.Errorf("创建 MinIO 客户端失败: %w", err)
	}
	return &MinioBackend{client: client, bucketName: opts.Bucket, region: opts.Region}, nil
}

func (m *MinioBackend) Bucket() string {
	return m.bucketName
}

// EnsureBucket 检查存储桶，不存在则创建
func (m *MinioBackend) EnsureBucket(ctx context.Context) error {
	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	exists, err := m.client.BucketExists(ctx, m.bucketName)
	if err != nil {
		return fmt.Errorf("检查存储桶失败: %w", err)
	}
	if exists {
		return nil
	}
	if err := m.client.MakeBucket(ctx, m.bucketName, minio.MakeBucketOptions{Region: m.region}); err != nil {
		return fmt.Errorf("创建存储桶失败: %w", err)
	}
	logger.Info("成功创建存储桶", logger.String("bucket", m.bucketName))
	return nil
}

func isNoSuchKey(err error) bool {
	code := minio.ToErrorResponse(err).Code
	return code == "NoSuchKey" || code == "NotFound"
}

func (m *MinioBackend) Exists(ctx context.Context, p string) (bool, error) {
	_, err := m.client.StatObject(ctx, m.bucketName, cleanKey(p), minio.StatObjectOptions{})
	if err != nil {
		if isNoSuchKey(err) {
			return false, nil
		}
		return false, err
	}
	return true, nil
}

func (m *MinioBackend) Size(ctx context.Context, p string) (int64, error) {
	info, err := m.client.StatObject(ctx, m.bucketName, cleanKey(p), minio.StatObjectOptions{})
	if err != nil {
		if isNoSuchKey(err) {
			return 0, fmt.Errorf("%w: %s", ErrNotExist, p)
		}
		return 0, err
	}
	return info.Size, nil
}

// OpenForRead 使用 Range 请求从 offset 开始读取对象
func (m *MinioBackend) OpenForRead(ctx context.Context, p string, offset int64) (io.ReadCloser, error) {
	opts := minio.GetObjectOptions{}
	if offset > 0 {
		if err := opts.SetRange(offset, 0); err != nil {
			return nil, err
		}
	}
	obj, err := m.client.GetObject(ctx, m.bucketName, cleanKey(p), opts)
	if err != nil {
		if isNoSuchKey(err) {
			return nil, fmt.Errorf("%w: %s", ErrNotExist, p)
		}
		return nil, err
	}
	return obj, nil
}

// Upload 上传本地文件到存储桶
func (m *MinioBackend) Upload(ctx context.Context, key, localPath, contentType string) error {
	_, err := m.client.FPutObject(ctx, m.bucketName, cleanKey(key), localPath, minio.PutObjectOptions{
		ContentType: contentType,
	})
	if err != nil {
		return fmt.Errorf("上传 %s 失败: %w", key, err)
	}
	return nil
}

// ListObjects 列出前缀下的对象并汇总统计信息
func (m *MinioBackend) ListObjects(ctx context.Context, prefix string) ([]ObjectInfo, *BucketStats, error) {
	stats := &BucketStats{}
	var objects []ObjectInfo

	for object := range m.client.ListObjects(ctx, m.bucketName, minio.ListObjectsOptions{
		Prefix:    prefix,
		Recursive: true,
	}) {
		if object.Err != nil {
			return nil, nil, fmt.Errorf("列出对象时出错: %w", object.Err)
		}
		stats.TotalObjects++
		stats.TotalSize += object.Size
		if object.LastModified.After(stats.LastModified) {
			stats.LastModified = object.LastModified
		}
		objects = append(objects, ObjectInfo{
			Key:          object.Key,
			Size:         object.Size,
			LastModified: object.LastModified,
			ContentType:  object.ContentType,
			ETag:         object.ETag,
		})
	}
	return objects, stats, nil
}

// RemovePrefix 删除前缀下的全部对象，返回删除数量
func (m *MinioBackend) RemovePrefix(ctx context.Context, prefix string) (int, error) {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	objectsCh := m.client.ListObjects(ctx, m.bucketName, minio.ListObjectsOptions{
		Prefix:    prefix,
		Recursive: true,
	})

	removed := 0
	toRemove := make(chan minio.ObjectInfo)
	go func() {
		defer close(toRemove)
		for object := range objectsCh {
			if object.Err != nil {
				logger.Warn("列出对象时出错", logger.ErrorField(object.Err))
				continue
			}
			select {
			case toRemove <- object:
				removed++
			case <-ctx.Done():
				return
			}
		}
	}()

	for rerr := range m.client.RemoveObjects(ctx, m.bucketName, toRemove, minio.RemoveObjectsOptions{}) {
		if rerr.Err != nil {
			return 0, fmt.Errorf("删除对象 %s 失败: %w", rerr.ObjectName, rerr.Err)
		}
	}
	return removed, nil
}

// FormatSize 格式化文件大小
func FormatSize(size int64) string {
	const unit = 1024
	if size < unit {
		return fmt.Sprintf("%d B", size)
	}
	div, exp := int64(unit), 0
	for n := size / unit; n >= unit; n /= unit {
		div *= unit
		exp++
	}
	return fmt.Sprintf("%.1f %cB", float64(size)/float64(div), "KMGTPE"[exp])
}
