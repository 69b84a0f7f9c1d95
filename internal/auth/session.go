package auth

import (
	"context"
	"errors"
	"sync"
	"time"
)

var (
	// ErrInvalidCredential 登录密钥无效
	ErrInvalidCredential = errors.New("auth: invalid credential")
	// ErrSessionNotFound 会话不存在或已过期
	ErrSessionNotFound = errors.New("auth: session not found")
)

// Session 登录会话
type Session struct {
	Token     string    `json:"token"`
	Subject   string    `json:"subject"`
	CreatedAt time.Time `json:"createdAt"`
	ExpiresAt time.Time `json:"expiresAt"`
}

// Expired 会话是否已过期；零值 ExpiresAt 表示不过期
func (s *Session) Expired(now time.Time) bool {
	return !s.ExpiresAt.IsZero() && !now.Before(s.ExpiresAt)
}

// SessionStore 会话存储接口
type SessionStore interface {
	// Save 保存会话，ttl 为0时不过期
	Save(ctx context.Context, session *Session, ttl time.Duration) error
	// Load 读取会话，不存在时返回 ErrSessionNotFound
	Load(ctx context.Context, token string) (*Session, error)
	// Delete 删除会话，不存在时静默成功
	Delete(ctx context.Context, token string) error
}

// InMemorySessionStore 进程内的会话存储，仅用于测试和单机场景
type InMemorySessionStore struct {
	mu       sync.RWMutex
	sessions map[string]Session
	now      func() time.Time
}

var _ SessionStore = (*InMemorySessionStore)(nil)

// NewInMemorySessionStore 创建内存会话存储
func NewInMemorySessionStore() *InMemorySessionStore {
	return &InMemorySessionStore{
		sessions: make(map[string]Session),
		now:      time.Now,
	}
}

func (m *InMemorySessionStore) Save(_ context.Context, session *Session, _ time.Duration) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.sessions[session.Token] = *session
	return nil
}

func (m *InMemorySessionStore) Load(_ context.Context, token string) (*Session, error) {
	m.mu.RLock()
	s, ok := m.sessions[token]
	m.mu.RUnlock()
	if !ok || s.Expired(m.now()) {
		return nil, ErrSessionNotFound
	}
	return &s, nil
}

func (m *InMemorySessionStore) Delete(_ context.Context, token string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.sessions, token)
	return nil
}

type sessionKey struct{}

// WithSession 把会话放入上下文
func WithSession(ctx context.Context, s *Session) context.Context {
	return context.WithValue(ctx, sessionKey{}, s)
}

// FromContext 从上下文取出会话
func FromContext(ctx context.Context) (*Session, bool) {
	s, ok := ctx.Value(sessionKey{}).(*Session)
	return s, ok && s != nil
}
