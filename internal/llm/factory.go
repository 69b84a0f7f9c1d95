package llm

import (
	"context"
	"fmt"
	"log"
	"os"
	"strings"
	"time"

	"github.com/cloudwego/eino/components/model"

	"resumind/internal/config"
)

// NewChatModel 根据配置创建对话模型，配置了 qpm 时外层加限流
func NewChatModel(ctx context.Context, cfg config.LLMConfig) (model.BaseChatModel, error) {
	chat, err := newProviderModel(ctx, cfg)
	if err != nil {
		return nil, err
	}
	if cfg.QPM > 0 {
		retryWait := config.GetDuration(cfg.RetryWaitTime, time.Second)
		return NewRateLimitedChatModel(chat, cfg.QPM, cfg.MaxRetries, retryWait), nil
	}
	return chat, nil
}

func newProviderModel(ctx context.Context, cfg config.LLMConfig) (model.BaseChatModel, error) {
	temperature := float32(cfg.Temperature)

	switch strings.ToLower(strings.TrimSpace(cfg.Provider)) {
	case "", "openai":
		return NewOpenAIChatModel(cfg.APIKey, cfg.Model, cfg.APIURL,
			WithTemperature(temperature),
			WithMaxTokens(cfg.MaxTokens),
			WithLogger(log.New(os.Stderr, "[LLM] ", log.LstdFlags)),
		)
	case "gemini":
		return NewGeminiChatModel(ctx, GeminiConfig{
			APIKey:      cfg.APIKey,
			Model:       cfg.Model,
			BaseURL:     cfg.APIURL,
			Temperature: &temperature,
			MaxTokens:   cfg.MaxTokens,
		})
	default:
		return nil, fmt.Errorf("不支持的模型提供方: %s", cfg.Provider)
	}
}
