package auth

import (
	"context"
	"crypto/subtle"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/gofrs/uuid/v5"
)

// Service 用配置的API密钥换取会话令牌
type Service struct {
	store SessionStore
	keys  map[string]string // 密钥 -> 用户标识
	ttl   time.Duration
	now   func() time.Time
}

// NewService 创建登录服务
func NewService(store SessionStore, keys map[string]string, ttl time.Duration) *Service {
	if store == nil {
		store = NewInMemorySessionStore()
	}
	return &Service{
		store: store,
		keys:  keys,
		ttl:   ttl,
		now:   time.Now,
	}
}

// SignIn 校验密钥并创建新会话
func (s *Service) SignIn(ctx context.Context, credential string) (*Session, error) {
	credential = strings.TrimSpace(credential)
	if credential == "" {
		return nil, ErrInvalidCredential
	}
	subject, ok := s.lookup(credential)
	if !ok {
		return nil, ErrInvalidCredential
	}

	token, err := uuid.NewV7()
	if err != nil {
		return nil, fmt.Errorf("生成会话令牌失败: %w", err)
	}
	now := s.now()
	session := &Session{
		Token:     token.String(),
		Subject:   subject,
		CreatedAt: now,
	}
	if s.ttl > 0 {
		session.ExpiresAt = now.Add(s.ttl)
	}
	if err := s.store.Save(ctx, session, s.ttl); err != nil {
		return nil, fmt.Errorf("保存会话失败: %w", err)
	}
	return session, nil
}

// lookup 逐个比较密钥，避免按长度提前返回
func (s *Service) lookup(credential string) (string, bool) {
	var subject string
	found := false
	for key, sub := range s.keys {
		if subtle.ConstantTimeCompare([]byte(key), []byte(credential)) == 1 {
			subject, found = sub, true
		}
	}
	return subject, found
}

// Validate 校验令牌，返回有效会话
func (s *Service) Validate(ctx context.Context, token string) (*Session, error) {
	token = strings.TrimSpace(token)
	if token == "" {
		return nil, ErrSessionNotFound
	}
	session, err := s.store.Load(ctx, token)
	if err != nil {
		return nil, err
	}
	if session.Expired(s.now()) {
		return nil, ErrSessionNotFound
	}
	return session, nil
}

// SignOut 注销会话
func (s *Service) SignOut(ctx context.Context, token string) error {
	return s.store.Delete(ctx, token)
}

// IsUnauthorized 判断错误是否属于认证失败
func IsUnauthorized(err error) bool {
	return errors.Is(err, ErrInvalidCredential) || errors.Is(err, ErrSessionNotFound)
}
