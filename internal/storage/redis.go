package storage

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"math/rand"
	"strings"
	"sync"
	"time"

	"github.com/redis/go-redis/extra/redisotel/v9"
	"github.com/redis/go-redis/v9"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	semconv "go.opentelemetry.io/otel/semconv/v1.21.0"
	"go.opentelemetry.io/otel/trace"

	"resumind/internal/config"
	"resumind/internal/constants"
	"resumind/internal/tracing"
	"resumind/internal/types"
)

// ErrNotFound 键不存在
var ErrNotFound = errors.New("storage: key not found")

// 为Redis操作定义专用tracer
var redisTracer = otel.Tracer("resumind/storage/redis")

// 按键前缀配置的span采样率
var redisKeySamplingRates = map[string]float64{
	constants.ResumeKeyPrefix:             0.25,
	constants.AppPrefix + ":resume:status": 0.05,
	constants.AppPrefix + ":auth:session":  0.05,
}

const statusHistoryLimit = 50

var (
	rnd      = rand.New(rand.NewSource(time.Now().UnixNano()))
	rndMutex sync.Mutex
)

// shouldSampleRedisOp 根据key前缀决定是否需要创建span
func shouldSampleRedisOp(key string) bool {
	if key == "" {
		return false
	}
	rndMutex.Lock()
	defer rndMutex.Unlock()
	for prefix, rate := range redisKeySamplingRates {
		if strings.HasPrefix(key, prefix) {
			return rnd.Float64() < rate
		}
	}
	return rnd.Float64() < 0.05
}

// Redis 保存简历记录、分析进度与登录会话
type Redis struct {
	Client *redis.Client
	config *config.RedisConfig
}

// NewRedisAdapter 根据配置连接Redis
func NewRedisAdapter(cfg *config.RedisConfig) (*Redis, error) {
	if cfg == nil {
		return nil, fmt.Errorf("redis config cannot be nil")
	}
	if cfg.Address == "" {
		return nil, fmt.Errorf("redis address is required")
	}

	client := redis.NewClient(&redis.Options{
		Addr:     cfg.Address,
		Password: cfg.Password,
		DB:       cfg.DB,

		PoolSize:     cfg.PoolSize,
		MinIdleConns: cfg.MinIdleConns,

		DialTimeout:  time.Duration(cfg.DialTimeoutSeconds) * time.Second,
		ReadTimeout:  time.Duration(cfg.ReadTimeoutSeconds) * time.Second,
		WriteTimeout: time.Duration(cfg.WriteTimeoutSeconds) * time.Second,

		MaxRetries:      cfg.MaxRetries,
		MinRetryBackoff: time.Duration(cfg.MinRetryBackoffMS) * time.Millisecond,
		MaxRetryBackoff: time.Duration(cfg.MaxRetryBackoffMS) * time.Millisecond,

		ConnMaxLifetime: time.Duration(cfg.ConnMaxLifetimeMinutes) * time.Minute,
		ConnMaxIdleTime: time.Duration(cfg.ConnMaxIdleTimeMinutes) * time.Minute,
	})

	r, err := NewRedisFromClient(client, cfg)
	if err != nil {
		return nil, err
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("failed to connect to Redis at %s: %w", cfg.Address, err)
	}
	return r, nil
}

// NewRedisFromClient 包装已有客户端，并挂上OpenTelemetry钩子
func NewRedisFromClient(client *redis.Client, cfg *config.RedisConfig) (*Redis, error) {
	if client == nil {
		return nil, fmt.Errorf("redis client cannot be nil")
	}
	if cfg == nil {
		cfg = &config.RedisConfig{}
	}
	if err := redisotel.InstrumentTracing(client); err != nil {
		return nil, fmt.Errorf("failed to instrument Redis with OpenTelemetry: %w", err)
	}
	return &Redis{Client: client, config: cfg}, nil
}

// Close closes the Redis client connection
func (r *Redis) Close() error {
	if r.Client != nil {
		return r.Client.Close()
	}
	return nil
}

// Ping checks the Redis connection
func (r *Redis) Ping(ctx context.Context) error {
	if r.Client == nil {
		return fmt.Errorf("redis client is not initialized")
	}
	return r.Client.Ping(ctx).Err()
}

// StatusExpiration 返回分析进度的保留时间
func (r *Redis) StatusExpiration() time.Duration {
	hours := r.config.StatusExpireHours
	if hours <= 0 {
		hours = 24
	}
	return time.Duration(hours) * time.Hour
}

// Get 读取字符串值，键不存在时返回 ErrNotFound
func (r *Redis) Get(ctx context.Context, key string) (string, error) {
	if r.Client == nil {
		return "", fmt.Errorf("redis client is not initialized")
	}

	var span trace.Span
	if shouldSampleRedisOp(key) {
		ctx, span = redisTracer.Start(ctx, "Redis.Get", trace.WithSpanKind(trace.SpanKindClient))
		defer span.End()
		span.SetAttributes(
			semconv.DBSystemRedis,
			attribute.String("db.operation", "GET"),
			attribute.String("db.redis.key", tracing.SafeRedisKey(key)),
		)
	}

	val, err := r.Client.Get(ctx, key).Result()
	if errors.Is(err, redis.Nil) {
		if span != nil {
			span.SetAttributes(attribute.Bool("db.redis.hit", false))
		}
		return "", fmt.Errorf("%w: %s", ErrNotFound, key)
	}
	if err != nil {
		if span != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
		}
		return "", err
	}
	if span != nil {
		span.SetAttributes(attribute.Bool("db.redis.hit", true), attribute.Int("db.redis.value_length", len(val)))
	}
	return val, nil
}

// Set 写入字符串值，expiration 为0时永不过期
func (r *Redis) Set(ctx context.Context, key string, value string, expiration time.Duration) error {
	if r.Client == nil {
		return fmt.Errorf("redis client is not initialized")
	}

	var span trace.Span
	if shouldSampleRedisOp(key) {
		ctx, span = redisTracer.Start(ctx, "Redis.Set", trace.WithSpanKind(trace.SpanKindClient))
		defer span.End()
		span.SetAttributes(
			semconv.DBSystemRedis,
			attribute.String("db.operation", "SET"),
			attribute.String("db.redis.key", tracing.SafeRedisKey(key)),
			attribute.Int("db.redis.value_length", len(value)),
		)
		if expiration > 0 {
			span.SetAttributes(attribute.Int64("db.redis.expiration_ms", expiration.Milliseconds()))
		}
	}

	err := r.Client.Set(ctx, key, value, expiration).Err()
	if span != nil {
		if err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
		} else {
			span.SetStatus(codes.Ok, "")
		}
	}
	return err
}

// SetStatus 保存最新进度并追加到历史
func (r *Redis) SetStatus(ctx context.Context, status types.ProcessingStatus) error {
	if status.ID == "" {
		return fmt.Errorf("status id is required")
	}
	data, err := json.Marshal(status)
	if err != nil {
		return fmt.Errorf("序列化进度失败: %w", err)
	}

	ctx, span := redisTracer.Start(ctx, "Redis.SetStatus", trace.WithAttributes(
		semconv.DBSystemRedis,
		attribute.String("resume.id", status.ID),
		attribute.String("resume.state", status.State),
	))
	defer span.End()

	key := fmt.Sprintf(constants.KeyResumeStatus, status.ID)
	historyKey := fmt.Sprintf(constants.KeyResumeStatusHistory, status.ID)
	ttl := r.StatusExpiration()

	pipe := r.Client.TxPipeline()
	pipe.Set(ctx, key, data, ttl)
	pipe.RPush(ctx, historyKey, data)
	pipe.LTrim(ctx, historyKey, -statusHistoryLimit, -1)
	pipe.Expire(ctx, historyKey, ttl)
	if _, err := pipe.Exec(ctx); err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return fmt.Errorf("保存进度失败: %w", err)
	}
	return nil
}

// GetStatus 读取最新进度
func (r *Redis) GetStatus(ctx context.Context, id string) (*types.ProcessingStatus, error) {
	raw, err := r.Get(ctx, fmt.Sprintf(constants.KeyResumeStatus, id))
	if err != nil {
		return nil, err
	}
	var status types.ProcessingStatus
	if err := json.Unmarshal([]byte(raw), &status); err != nil {
		return nil, fmt.Errorf("解析进度失败: %w", err)
	}
	return &status, nil
}

// GetStatusHistory 按时间顺序返回进度历史
func (r *Redis) GetStatusHistory(ctx context.Context, id string) ([]types.ProcessingStatus, error) {
	items, err := r.Client.LRange(ctx, fmt.Sprintf(constants.KeyResumeStatusHistory, id), 0, -1).Result()
	if err != nil {
		return nil, fmt.Errorf("读取进度历史失败: %w", err)
	}
	history := make([]types.ProcessingStatus, 0, len(items))
	for _, item := range items {
		var s types.ProcessingStatus
		if err := json.Unmarshal([]byte(item), &s); err != nil {
			continue
		}
		history = append(history, s)
	}
	return history, nil
}
