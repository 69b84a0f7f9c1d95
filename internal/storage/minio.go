package storage

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"log"
	"strings"
	"time"

	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"
	"github.com/minio/minio-go/v7/pkg/lifecycle"

	"resumind/internal/config"
)

// ErrObjectNotFound 对象不存在
var ErrObjectNotFound = errors.New("storage: object not found")

// ObjectStorage 对象存储接口，路径格式为 <bucket>/<object>
type ObjectStorage interface {
	Upload(ctx context.Context, objectName string, data []byte, contentType string) (string, error)
	Read(ctx context.Context, path string) ([]byte, error)
	Ping(ctx context.Context) error
}

// 确保MinIO实现了ObjectStorage接口
var _ ObjectStorage = (*MinIO)(nil)

// MinIO 存放上传的简历PDF与预览图
type MinIO struct {
	client *minio.Client
	cfg    *config.MinIOConfig
	bucket string
	logger *log.Logger
}

// NewMinIO 创建MinIO客户端并确保存储桶存在
func NewMinIO(cfg *config.MinIOConfig, logger *log.Logger) (*MinIO, error) {
	if cfg == nil {
		return nil, fmt.Errorf("MinIO配置不能为空")
	}
	if logger == nil {
		logger = log.New(io.Discard, "", 0)
	}
	logger.Printf("[MinIO] Initializing client: endpoint=%s bucket=%s", cfg.Endpoint, cfg.BucketName)

	client, err := minio.New(cfg.Endpoint, &minio.Options{
		Creds:  credentials.NewStaticV4(cfg.AccessKeyID, cfg.SecretAccessKey, ""),
		Secure: cfg.UseSSL,
		Region: cfg.Location,
	})
	if err != nil {
		return nil, fmt.Errorf("创建MinIO客户端失败: %w", err)
	}

	m := &MinIO{
		client: client,
		cfg:    cfg,
		bucket: cfg.BucketName,
		logger: logger,
	}

	ctx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()
	if err := m.ensureBucketExists(ctx); err != nil {
		return nil, err
	}
	if cfg.UploadExpireDays > 0 {
		if err := m.setupLifecycle(ctx, cfg.UploadExpireDays); err != nil {
			logger.Printf("[MinIO] Warning: failed to set lifecycle rule: %v", err)
		}
	}
	return m, nil
}

func (m *MinIO) ensureBucketExists(ctx context.Context) error {
	exists, err := m.client.BucketExists(ctx, m.bucket)
	if err != nil {
		return fmt.Errorf("检查存储桶 %s 是否存在时出错: %w", m.bucket, err)
	}
	if exists {
		return nil
	}
	m.logger.Printf("[MinIO] Bucket %s does not exist, creating", m.bucket)
	if err := m.client.MakeBucket(ctx, m.bucket, minio.MakeBucketOptions{Region: m.cfg.Location}); err != nil {
		return fmt.Errorf("创建存储桶 %s 失败: %w", m.bucket, err)
	}
	return nil
}

// setupLifecycle 上传目录下的对象按天数过期
func (m *MinIO) setupLifecycle(ctx context.Context, expiryDays int) error {
	cfg := lifecycle.NewConfiguration()
	cfg.Rules = []lifecycle.Rule{
		{
			ID:         "expire-uploads",
			Status:     "Enabled",
			RuleFilter: lifecycle.Filter{Prefix: "uploads/"},
			Expiration: lifecycle.Expiration{Days: lifecycle.ExpirationDays(expiryDays)},
		},
	}
	return m.client.SetBucketLifecycle(ctx, m.bucket, cfg)
}

func (m *MinIO) verbose() bool {
	return m.cfg.EnableTestLogging && m.logger.Writer() != io.Discard
}

// Upload 上传对象，返回 <bucket>/<object> 形式的路径
func (m *MinIO) Upload(ctx context.Context, objectName string, data []byte, contentType string) (string, error) {
	objectName = strings.TrimLeft(objectName, "/")
	if objectName == "" {
		return "", fmt.Errorf("对象名称不能为空")
	}
	if m.verbose() {
		m.logger.Printf("[MinIO-Upload] object=%s size=%d contentType=%s", objectName, len(data), contentType)
	}

	info, err := m.client.PutObject(ctx, m.bucket, objectName, bytes.NewReader(data), int64(len(data)),
		minio.PutObjectOptions{ContentType: contentType})
	if err != nil {
		return "", fmt.Errorf("上传对象 %s/%s 失败: %w", m.bucket, objectName, err)
	}
	if m.verbose() {
		m.logger.Printf("[MinIO-Upload] uploaded %s, ETag=%s", objectName, info.ETag)
	}
	return m.bucket + "/" + objectName, nil
}

// splitPath 把 <bucket>/<object> 拆开，没有桶前缀时使用默认桶
func splitPath(defaultBucket, path string) (string, string) {
	path = strings.TrimLeft(path, "/")
	if bucket, object, ok := strings.Cut(path, "/"); ok && bucket == defaultBucket {
		return bucket, object
	}
	return defaultBucket, path
}

// Read 读取对象内容
func (m *MinIO) Read(ctx context.Context, path string) ([]byte, error) {
	bucket, object := splitPath(m.bucket, path)

	obj, err := m.client.GetObject(ctx, bucket, object, minio.GetObjectOptions{})
	if err != nil {
		return nil, fmt.Errorf("获取对象 %s/%s 失败: %w", bucket, object, err)
	}
	defer obj.Close()

	data, err := io.ReadAll(obj)
	if err != nil {
		if minio.ToErrorResponse(err).Code == "NoSuchKey" {
			return nil, fmt.Errorf("%w: %s/%s", ErrObjectNotFound, bucket, object)
		}
		return nil, fmt.Errorf("读取对象 %s/%s 数据失败: %w", bucket, object, err)
	}
	if m.verbose() {
		m.logger.Printf("[MinIO-Read] read %d bytes from %s/%s", len(data), bucket, object)
	}
	return data, nil
}

// Ping 检查存储桶是否可访问
func (m *MinIO) Ping(ctx context.Context) error {
	ok, err := m.client.BucketExists(ctx, m.bucket)
	if err != nil {
		return fmt.Errorf("MinIO不可用: %w", err)
	}
	if !ok {
		return fmt.Errorf("存储桶 %s 不存在", m.bucket)
	}
	return nil
}

// ContentTypeFor 根据扩展名推断内容类型
func ContentTypeFor(filename string) string {
	lower := strings.ToLower(filename)
	switch {
	case strings.HasSuffix(lower, ".pdf"):
		return "application/pdf"
	case strings.HasSuffix(lower, ".png"):
		return "image/png"
	case strings.HasSuffix(lower, ".jpg"), strings.HasSuffix(lower, ".jpeg"):
		return "image/jpeg"
	case strings.HasSuffix(lower, ".txt"):
		return "text/plain"
	default:
		return "application/octet-stream"
	}
}
