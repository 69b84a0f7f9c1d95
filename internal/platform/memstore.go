package platform

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"resumind/internal/storage"
)

// MemoryFiles 进程内文件存储，用于本地命令行与测试
type MemoryFiles struct {
	mu      sync.RWMutex
	bucket  string
	objects map[string][]byte
}

var _ FileStore = (*MemoryFiles)(nil)

// NewMemoryFiles 创建内存文件存储
func NewMemoryFiles(bucket string) *MemoryFiles {
	if bucket == "" {
		bucket = "memory"
	}
	return &MemoryFiles{bucket: bucket, objects: make(map[string][]byte)}
}

func (m *MemoryFiles) Upload(_ context.Context, objectName string, data []byte, _ string) (string, error) {
	objectName = strings.TrimLeft(objectName, "/")
	if objectName == "" {
		return "", fmt.Errorf("对象名称不能为空")
	}
	p := m.bucket + "/" + objectName
	m.mu.Lock()
	m.objects[p] = append([]byte(nil), data...)
	m.mu.Unlock()
	return p, nil
}

func (m *MemoryFiles) Read(_ context.Context, p string) ([]byte, error) {
	p = strings.TrimLeft(p, "/")
	if !strings.HasPrefix(p, m.bucket+"/") {
		p = m.bucket + "/" + p
	}
	m.mu.RLock()
	data, ok := m.objects[p]
	m.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("%w: %s", storage.ErrObjectNotFound, p)
	}
	return append([]byte(nil), data...), nil
}

// Len 已保存的对象数
func (m *MemoryFiles) Len() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.objects)
}

type memoryEntry struct {
	value     string
	expiresAt time.Time
}

// MemoryKV 进程内键值存储
type MemoryKV struct {
	mu      sync.RWMutex
	entries map[string]memoryEntry
	now     func() time.Time
}

var _ KVStore = (*MemoryKV)(nil)

// NewMemoryKV 创建内存键值存储
func NewMemoryKV() *MemoryKV {
	return &MemoryKV{entries: make(map[string]memoryEntry), now: time.Now}
}

func (m *MemoryKV) Get(_ context.Context, key string) (string, error) {
	m.mu.RLock()
	e, ok := m.entries[key]
	m.mu.RUnlock()
	if !ok || (!e.expiresAt.IsZero() && !m.now().Before(e.expiresAt)) {
		return "", fmt.Errorf("%w: %s", storage.ErrNotFound, key)
	}
	return e.value, nil
}

func (m *MemoryKV) Set(_ context.Context, key string, value string, expiration time.Duration) error {
	e := memoryEntry{value: value}
	if expiration > 0 {
		e.expiresAt = m.now().Add(expiration)
	}
	m.mu.Lock()
	m.entries[key] = e
	m.mu.Unlock()
	return nil
}

// Keys 返回带指定前缀的键
func (m *MemoryKV) Keys(prefix string) []string {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var keys []string
	for k := range m.entries {
		if strings.HasPrefix(k, prefix) {
			keys = append(keys, k)
		}
	}
	return keys
}
