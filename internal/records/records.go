package records

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"resumind/internal/constants"
	"resumind/internal/types"
)

// ErrNotFound 记录不存在
var ErrNotFound = errors.New("records: submission not found")

// KV 记录存储依赖的键值接口，platform.Platform 满足该接口
type KV interface {
	Get(ctx context.Context, key string) (string, bool, error)
	Set(ctx context.Context, key, value string) error
}

// Store 以 resume:<id> 为键整体读写提交记录
type Store struct {
	kv KV
}

// NewStore 创建记录存储
func NewStore(kv KV) *Store {
	return &Store{kv: kv}
}

// Key 返回记录的键
func Key(id string) string {
	return fmt.Sprintf(constants.KeyResumeRecord, id)
}

// Save 序列化并覆盖写入记录
func (s *Store) Save(ctx context.Context, sub *types.Submission) error {
	if sub == nil || sub.ID == "" {
		return fmt.Errorf("记录ID不能为空")
	}
	data, err := json.Marshal(sub)
	if err != nil {
		return fmt.Errorf("序列化记录 %s 失败: %w", sub.ID, err)
	}
	if err := s.kv.Set(ctx, Key(sub.ID), string(data)); err != nil {
		return fmt.Errorf("写入记录 %s 失败: %w", sub.ID, err)
	}
	return nil
}

// Load 读取记录
func (s *Store) Load(ctx context.Context, id string) (*types.Submission, error) {
	raw, ok, err := s.kv.Get(ctx, Key(id))
	if err != nil {
		return nil, fmt.Errorf("读取记录 %s 失败: %w", id, err)
	}
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	var sub types.Submission
	if err := json.Unmarshal([]byte(raw), &sub); err != nil {
		return nil, fmt.Errorf("解析记录 %s 失败: %w", id, err)
	}
	return &sub, nil
}
