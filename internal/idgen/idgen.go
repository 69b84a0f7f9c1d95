package idgen

import (
	"fmt"
	"sync"

	"github.com/google/uuid"
)

// Generator 生成提交记录ID
type Generator interface {
	NewID() string
}

// UUIDGenerator 基于随机UUIDv4，碰撞概率可忽略
type UUIDGenerator struct{}

var _ Generator = UUIDGenerator{}

// NewID 返回一个新的UUID字符串
func (UUIDGenerator) NewID() string {
	return uuid.NewString()
}

// Sequence 按给定顺序返回ID，耗尽后追加序号，用于可复现的场景
type Sequence struct {
	mu  sync.Mutex
	ids []string
	n   int
}

// NewSequence 创建顺序ID生成器
func NewSequence(ids ...string) *Sequence {
	return &Sequence{ids: ids}
}

// NewID 返回下一个ID
func (s *Sequence) NewID() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	defer func() { s.n++ }()
	if s.n < len(s.ids) {
		return s.ids[s.n]
	}
	return fmt.Sprintf("seq-%d", s.n)
}
