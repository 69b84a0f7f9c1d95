package llm

import (
	"context"
	"strings"
	"sync"
	"time"

	"github.com/cloudwego/eino/components/model"
	"github.com/cloudwego/eino/schema"
)

// TokenBucket 令牌桶限流器
type TokenBucket struct {
	mu         sync.Mutex
	rate       float64 // 每秒生成的令牌数
	capacity   float64
	tokens     float64
	lastRefill time.Time
	now        func() time.Time
}

// NewTokenBucket 按每分钟请求数创建，capacity<=0 时取 qpm/2
func NewTokenBucket(qpm, capacity int) *TokenBucket {
	if qpm <= 0 {
		qpm = 1
	}
	if capacity <= 0 {
		capacity = qpm / 2
		if capacity <= 0 {
			capacity = 1
		}
	}
	tb := &TokenBucket{
		rate:     float64(qpm) / 60.0,
		capacity: float64(capacity),
		tokens:   float64(capacity),
		now:      time.Now,
	}
	tb.lastRefill = tb.now()
	return tb
}

func (tb *TokenBucket) refill() {
	now := tb.now()
	elapsed := now.Sub(tb.lastRefill).Seconds()
	tb.lastRefill = now
	tb.tokens += elapsed * tb.rate
	if tb.tokens > tb.capacity {
		tb.tokens = tb.capacity
	}
}

// Allow 有令牌时立即消耗一个
func (tb *TokenBucket) Allow() bool {
	tb.mu.Lock()
	defer tb.mu.Unlock()
	tb.refill()
	if tb.tokens >= 1 {
		tb.tokens--
		return true
	}
	return false
}

// Wait 阻塞到拿到令牌或 ctx 结束
func (tb *TokenBucket) Wait(ctx context.Context) error {
	for {
		tb.mu.Lock()
		tb.refill()
		if tb.tokens >= 1 {
			tb.tokens--
			tb.mu.Unlock()
			return nil
		}
		wait := time.Duration((1 - tb.tokens) / tb.rate * float64(time.Second))
		tb.mu.Unlock()

		timer := time.NewTimer(wait)
		select {
		case <-ctx.Done():
			timer.Stop()
			return ctx.Err()
		case <-timer.C:
		}
	}
}

var retryableMarkers = []string{
	"timeout",
	"deadline exceeded",
	"connection reset",
	"connection refused",
	"EOF",
	"429",
	"rate limit",
	"RESOURCE_EXHAUSTED",
	"503",
	"no such host",
}

// IsRetryable 按错误信息判断是否值得重试；ctx 已取消的错误不重试
func IsRetryable(err error) bool {
	if err == nil || err == context.Canceled {
		return false
	}
	msg := err.Error()
	for _, marker := range retryableMarkers {
		if strings.Contains(msg, marker) {
			return true
		}
	}
	return false
}

// RateLimitedChatModel 为对话模型加上限流与退避重试
type RateLimitedChatModel struct {
	inner      model.BaseChatModel
	bucket     *TokenBucket
	maxRetries int
	retryWait  time.Duration
}

var _ model.BaseChatModel = (*RateLimitedChatModel)(nil)

// NewRateLimitedChatModel qpm<=0 时使用30
func NewRateLimitedChatModel(inner model.BaseChatModel, qpm, maxRetries int, retryWait time.Duration) *RateLimitedChatModel {
	if qpm <= 0 {
		qpm = 30
	}
	if maxRetries < 0 {
		maxRetries = 0
	}
	if retryWait <= 0 {
		retryWait = time.Second
	}
	return &RateLimitedChatModel{
		inner:      inner,
		bucket:     NewTokenBucket(qpm, qpm/2),
		maxRetries: maxRetries,
		retryWait:  retryWait,
	}
}

func (m *RateLimitedChatModel) do(ctx context.Context, fn func() error) error {
	var err error
	for attempt := 0; attempt <= m.maxRetries; attempt++ {
		if err = m.bucket.Wait(ctx); err != nil {
			return err
		}
		if err = fn(); err == nil {
			return nil
		}
		if attempt == m.maxRetries || !IsRetryable(err) {
			return err
		}
		backoff := m.retryWait * time.Duration(1<<uint(attempt))
		timer := time.NewTimer(backoff)
		select {
		case <-ctx.Done():
			timer.Stop()
			return ctx.Err()
		case <-timer.C:
		}
	}
	return err
}

// Generate 限流后调用，可重试错误按指数退避重试
func (m *RateLimitedChatModel) Generate(ctx context.Context, input []*schema.Message, opts ...model.Option) (*schema.Message, error) {
	var out *schema.Message
	err := m.do(ctx, func() error {
		var genErr error
		out, genErr = m.inner.Generate(ctx, input, opts...)
		return genErr
	})
	return out, err
}

// Stream 只对建立流的调用限流重试
func (m *RateLimitedChatModel) Stream(ctx context.Context, input []*schema.Message, opts ...model.Option) (*schema.StreamReader[*schema.Message], error) {
	var out *schema.StreamReader[*schema.Message]
	err := m.do(ctx, func() error {
		var streamErr error
		out, streamErr = m.inner.Stream(ctx, input, opts...)
		return streamErr
	})
	return out, err
}
