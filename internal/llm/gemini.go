package llm

import (
	"context"
	"encoding/base64"
	"fmt"
	"strings"

	"github.com/cloudwego/eino/components/model"
	"github.com/cloudwego/eino/schema"
	"google.golang.org/genai"
)

const defaultGeminiModel = "gemini-2.5-flash"

// GeminiChatModel 通过 Gemini API 实现 model.BaseChatModel
type GeminiChatModel struct {
	client      *genai.Client
	modelName   string
	temperature *float32
	maxTokens   int32
}

var _ model.BaseChatModel = (*GeminiChatModel)(nil)

// GeminiConfig Gemini 客户端配置
type GeminiConfig struct {
	APIKey      string
	Model       string
	BaseURL     string // 仅测试或代理时使用
	Temperature *float32
	MaxTokens   int
}

// NewGeminiChatModel 创建Gemini对话模型
func NewGeminiChatModel(ctx context.Context, cfg GeminiConfig) (*GeminiChatModel, error) {
	if strings.TrimSpace(cfg.APIKey) == "" {
		return nil, fmt.Errorf("API 密钥不能为空")
	}
	clientCfg := &genai.ClientConfig{
		APIKey:  cfg.APIKey,
		Backend: genai.BackendGeminiAPI,
	}
	if cfg.BaseURL != "" {
		clientCfg.HTTPOptions = genai.HTTPOptions{BaseURL: cfg.BaseURL}
	}
	client, err := genai.NewClient(ctx, clientCfg)
	if err != nil {
		return nil, fmt.Errorf("创建Gemini客户端失败: %w", err)
	}

	name := cfg.Model
	if name == "" {
		name = defaultGeminiModel
	}
	return &GeminiChatModel{
		client:      client,
		modelName:   name,
		temperature: cfg.Temperature,
		maxTokens:   int32(cfg.MaxTokens),
	}, nil
}

// toGeminiContents 拆分系统指令与对话内容；assistant 映射为 model 角色
func toGeminiContents(messages []*schema.Message) (*genai.Content, []*genai.Content, error) {
	var systemParts []string
	contents := make([]*genai.Content, 0, len(messages))
	for _, msg := range messages {
		if msg == nil {
			continue
		}
		if msg.Role == schema.System {
			systemParts = append(systemParts, msg.Content)
			continue
		}
		role := genai.Role(genai.RoleUser)
		if msg.Role == schema.Assistant {
			role = genai.RoleModel
		}

		var parts []*genai.Part
		if msg.Content != "" {
			parts = append(parts, genai.NewPartFromText(msg.Content))
		}
		for _, p := range msg.MultiContent {
			switch p.Type {
			case schema.ChatMessagePartTypeText:
				parts = append(parts, genai.NewPartFromText(p.Text))
			case schema.ChatMessagePartTypeImageURL:
				if p.ImageURL == nil {
					continue
				}
				data, mimeType, err := decodeDataURL(p.ImageURL.URL)
				if err != nil {
					return nil, nil, err
				}
				if p.ImageURL.MIMEType != "" {
					mimeType = p.ImageURL.MIMEType
				}
				parts = append(parts, genai.NewPartFromBytes(data, mimeType))
			}
		}
		if len(parts) > 0 {
			contents = append(contents, genai.NewContentFromParts(parts, role))
		}
	}

	var system *genai.Content
	if len(systemParts) > 0 {
		system = genai.NewContentFromText(strings.Join(systemParts, "\n\n"), genai.RoleUser)
	}
	return system, contents, nil
}

// decodeDataURL 解析 data:<mime>;base64,<payload>
func decodeDataURL(url string) ([]byte, string, error) {
	rest, ok := strings.CutPrefix(url, "data:")
	if !ok {
		return nil, "", fmt.Errorf("仅支持 data URL 形式的图片")
	}
	meta, payload, ok := strings.Cut(rest, ",")
	if !ok || !strings.HasSuffix(meta, ";base64") {
		return nil, "", fmt.Errorf("data URL 格式错误")
	}
	data, err := base64.StdEncoding.DecodeString(payload)
	if err != nil {
		return nil, "", fmt.Errorf("data URL 解码失败: %w", err)
	}
	return data, strings.TrimSuffix(meta, ";base64"), nil
}

// Generate 实现 model.BaseChatModel 接口
func (g *GeminiChatModel) Generate(ctx context.Context, messages []*schema.Message, opts ...model.Option) (*schema.Message, error) {
	common := model.GetCommonOptions(&model.Options{Temperature: g.temperature, Model: &g.modelName}, opts...)

	system, contents, err := toGeminiContents(messages)
	if err != nil {
		return nil, err
	}
	if len(contents) == 0 {
		return nil, fmt.Errorf("没有可发送的消息")
	}

	genCfg := &genai.GenerateContentConfig{
		SystemInstruction: system,
		Temperature:       common.Temperature,
		MaxOutputTokens:   g.maxTokens,
	}
	modelName := g.modelName
	if common.Model != nil && *common.Model != "" {
		modelName = *common.Model
	}

	resp, err := g.client.Models.GenerateContent(ctx, modelName, contents, genCfg)
	if err != nil {
		return nil, fmt.Errorf("Gemini 请求失败: %w", err)
	}
	text := resp.Text()
	if text == "" {
		return nil, fmt.Errorf("Gemini 返回空内容")
	}

	msg := schema.AssistantMessage(text, nil)
	if resp.UsageMetadata != nil {
		msg.ResponseMeta = &schema.ResponseMeta{Usage: &schema.TokenUsage{
			PromptTokens:     int(resp.UsageMetadata.PromptTokenCount),
			CompletionTokens: int(resp.UsageMetadata.CandidatesTokenCount),
			TotalTokens:      int(resp.UsageMetadata.TotalTokenCount),
		}}
	}
	return msg, nil
}

// Stream 以单条消息的流返回完整结果
func (g *GeminiChatModel) Stream(ctx context.Context, messages []*schema.Message, opts ...model.Option) (*schema.StreamReader[*schema.Message], error) {
	msg, err := g.Generate(ctx, messages, opts...)
	if err != nil {
		return nil, err
	}
	return schema.StreamReaderFromArray([]*schema.Message{msg}), nil
}
