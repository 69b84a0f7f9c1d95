package llm

import (
	"context"
	"errors"
	"sync"

	"github.com/cloudwego/eino/components/model"
	"github.com/cloudwego/eino/schema"
)

// MockResponse 定义 MockChatModel 的单次预期响应
type MockResponse struct {
	Content string
	Error   error
}

// MockChatModel 用于测试的 model.BaseChatModel 模拟实现
type MockChatModel struct {
	mu        sync.Mutex
	responses []MockResponse
	index     int
	repeat    bool
	received  [][]*schema.Message
}

var _ model.BaseChatModel = (*MockChatModel)(nil)

// ErrMockExhausted 顺序响应已用完
var ErrMockExhausted = errors.New("mock chat model has run out of responses")

// NewMockChatModel 创建总是返回同一响应的模拟模型
func NewMockChatModel(content string, err error) *MockChatModel {
	return &MockChatModel{
		responses: []MockResponse{{Content: content, Error: err}},
		repeat:    true,
	}
}

// NewMockChatModelSequential 创建按顺序返回不同响应的模拟模型
func NewMockChatModelSequential(responses ...MockResponse) *MockChatModel {
	return &MockChatModel{responses: responses}
}

// Generate 返回预设响应并记录收到的消息
func (m *MockChatModel) Generate(ctx context.Context, input []*schema.Message, opts ...model.Option) (*schema.Message, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	received := make([]*schema.Message, len(input))
	copy(received, input)
	m.received = append(m.received, received)

	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if len(m.responses) == 0 {
		return nil, ErrMockExhausted
	}

	var resp MockResponse
	if m.repeat {
		resp = m.responses[0]
	} else {
		if m.index >= len(m.responses) {
			return nil, ErrMockExhausted
		}
		resp = m.responses[m.index]
		m.index++
	}
	if resp.Error != nil {
		return nil, resp.Error
	}
	return schema.AssistantMessage(resp.Content, nil), nil
}

// Stream 以单条消息的流返回预设响应
func (m *MockChatModel) Stream(ctx context.Context, input []*schema.Message, opts ...model.Option) (*schema.StreamReader[*schema.Message], error) {
	msg, err := m.Generate(ctx, input, opts...)
	if err != nil {
		return nil, err
	}
	return schema.StreamReaderFromArray([]*schema.Message{msg}), nil
}

// Calls 返回每次调用收到的消息
func (m *MockChatModel) Calls() [][]*schema.Message {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([][]*schema.Message, len(m.received))
	copy(out, m.received)
	return out
}

// LastMessages 返回最近一次调用收到的消息
func (m *MockChatModel) LastMessages() []*schema.Message {
	m.mu.Lock()
	defer m.mu.Unlock()
	if len(m.received) == 0 {
		return nil
	}
	return m.received[len(m.received)-1]
}
