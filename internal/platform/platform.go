// Package platform 把文件存储、KV、对话模型、OCR 与登录服务收拢成分析流程依赖的唯一接口。
package platform

import (
	"context"
	"errors"
	"fmt"
	"path"
	"strings"
	"sync/atomic"
	"time"

	"github.com/cloudwego/eino/components/model"
	"github.com/cloudwego/eino/schema"
	"github.com/rs/zerolog"

	"resumind/internal/auth"
	"resumind/internal/constants"
	"resumind/internal/idgen"
	"resumind/internal/ocr"
	"resumind/internal/storage"
)

// ErrNotConfigured 对应的外部服务未配置
var ErrNotConfigured = errors.New("platform: service not configured")

// File 待上传的文件
type File struct {
	Name        string
	Data        []byte
	ContentType string
}

// FileRef 上传成功后的引用
type FileRef struct {
	Path string // <bucket>/<object>
	Name string
	Size int
}

// Platform 分析流程使用的外部能力
type Platform interface {
	// Upload 上传文件，返回 nil 引用表示失败
	Upload(ctx context.Context, file File) (*FileRef, error)
	Read(ctx context.Context, path string) ([]byte, error)
	// Get 读取KV，键不存在时 ok=false
	Get(ctx context.Context, key string) (value string, ok bool, err error)
	Set(ctx context.Context, key, value string) error
	Chat(ctx context.Context, messages []*schema.Message) (*schema.Message, error)
	Img2Txt(ctx context.Context, imagePath string) (string, error)
	SignIn(ctx context.Context, credential string) (*auth.Session, error)
	IsAuthenticated(ctx context.Context) bool
	IsReady(ctx context.Context) bool
}

// FileStore 文件存储，由 storage.MinIO 或 MemoryFiles 实现
type FileStore interface {
	Upload(ctx context.Context, objectName string, data []byte, contentType string) (string, error)
	Read(ctx context.Context, path string) ([]byte, error)
}

// KVStore 键值存储，由 storage.Redis 或 MemoryKV 实现；键不存在时返回包装了 storage.ErrNotFound 的错误
type KVStore interface {
	Get(ctx context.Context, key string) (string, error)
	Set(ctx context.Context, key string, value string, expiration time.Duration) error
}

// Services 组合各外部服务的 Platform 实现
type Services struct {
	files  FileStore
	kv     KVStore
	chat   model.BaseChatModel
	ocr    ocr.Recognizer
	auth   *auth.Service
	ids    idgen.Generator
	logger zerolog.Logger
	ready  atomic.Bool

	chatTimeout time.Duration
}

var _ Platform = (*Services)(nil)

// Option Services 配置项
type Option func(*Services)

// WithIDGenerator 设置上传对象名使用的ID生成器
func WithIDGenerator(g idgen.Generator) Option {
	return func(s *Services) { s.ids = g }
}

// WithChatTimeout 限制单次对话调用的耗时，0 表示不限制
func WithChatTimeout(d time.Duration) Option {
	return func(s *Services) { s.chatTimeout = d }
}

// WithLogger 设置日志记录器
func WithLogger(l zerolog.Logger) Option {
	return func(s *Services) { s.logger = l }
}

// New 创建平台服务，创建后默认处于未就绪状态
func New(files FileStore, kv KVStore, chat model.BaseChatModel, recognizer ocr.Recognizer, authSvc *auth.Service, opts ...Option) *Services {
	s := &Services{
		files:  files,
		kv:     kv,
		chat:   chat,
		ocr:    recognizer,
		auth:   authSvc,
		ids:    idgen.UUIDGenerator{},
		logger: zerolog.Nop(),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// SetReady 设置就绪标记
func (s *Services) SetReady(ready bool) {
	s.ready.Store(ready)
}

// IsReady 就绪标记已设置且必需的服务都已配置
func (s *Services) IsReady(_ context.Context) bool {
	return s.ready.Load() && s.files != nil && s.kv != nil && s.chat != nil && s.ocr != nil
}

// IsAuthenticated 上下文中带有未过期的会话
func (s *Services) IsAuthenticated(ctx context.Context) bool {
	session, ok := auth.FromContext(ctx)
	if !ok {
		return false
	}
	if s.auth == nil {
		return true
	}
	_, err := s.auth.Validate(ctx, session.Token)
	return err == nil
}

// SignIn 用API密钥登录
func (s *Services) SignIn(ctx context.Context, credential string) (*auth.Session, error) {
	if s.auth == nil {
		return nil, fmt.Errorf("%w: auth", ErrNotConfigured)
	}
	return s.auth.SignIn(ctx, credential)
}

// Upload 以 uploads/<id>/<name> 为对象名上传
func (s *Services) Upload(ctx context.Context, file File) (*FileRef, error) {
	if s.files == nil {
		return nil, fmt.Errorf("%w: file store", ErrNotConfigured)
	}
	if len(file.Data) == 0 {
		return nil, fmt.Errorf("上传文件为空: %s", file.Name)
	}
	name := objectBaseName(file.Name)
	contentType := file.ContentType
	if contentType == "" {
		contentType = storage.ContentTypeFor(name)
	}

	objectName := path.Join(constants.UploadObjectPrefix, s.ids.NewID(), name)
	p, err := s.files.Upload(ctx, objectName, file.Data, contentType)
	if err != nil {
		return nil, err
	}
	if p == "" {
		return nil, fmt.Errorf("文件存储未返回路径: %s", objectName)
	}
	s.logger.Debug().Str("path", p).Int("size", len(file.Data)).Msg("文件已上传")
	return &FileRef{Path: p, Name: name, Size: len(file.Data)}, nil
}

// objectBaseName 去掉客户端传来的目录部分
func objectBaseName(name string) string {
	name = strings.ReplaceAll(name, "\\", "/")
	base := path.Base(strings.TrimSpace(name))
	if base == "." || base == "/" || base == "" {
		return "file"
	}
	return base
}

// Read 读取已上传的文件
func (s *Services) Read(ctx context.Context, p string) ([]byte, error) {
	if s.files == nil {
		return nil, fmt.Errorf("%w: file store", ErrNotConfigured)
	}
	return s.files.Read(ctx, p)
}

// Get 读取KV
func (s *Services) Get(ctx context.Context, key string) (string, bool, error) {
	if s.kv == nil {
		return "", false, fmt.Errorf("%w: kv", ErrNotConfigured)
	}
	v, err := s.kv.Get(ctx, key)
	if errors.Is(err, storage.ErrNotFound) {
		return "", false, nil
	}
	if err != nil {
		return "", false, err
	}
	return v, true, nil
}

// Set 写入KV，不过期
func (s *Services) Set(ctx context.Context, key, value string) error {
	if s.kv == nil {
		return fmt.Errorf("%w: kv", ErrNotConfigured)
	}
	return s.kv.Set(ctx, key, value, 0)
}

// Chat 调用对话模型
func (s *Services) Chat(ctx context.Context, messages []*schema.Message) (*schema.Message, error) {
	if s.chat == nil {
		return nil, fmt.Errorf("%w: chat model", ErrNotConfigured)
	}
	if s.chatTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, s.chatTimeout)
		defer cancel()
	}
	return s.chat.Generate(ctx, messages)
}

// Img2Txt 读取已上传的图片并识别文字
func (s *Services) Img2Txt(ctx context.Context, imagePath string) (string, error) {
	if s.ocr == nil {
		return "", fmt.Errorf("%w: ocr", ErrNotConfigured)
	}
	data, err := s.Read(ctx, imagePath)
	if err != nil {
		return "", fmt.Errorf("读取图片失败: %w", err)
	}
	return s.ocr.Recognize(ctx, data, path.Base(imagePath))
}
