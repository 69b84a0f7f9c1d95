package llm

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log"
	"net/http"
	"os"
	"strings"
	"time"

	"github.com/cloudwego/eino/components/model"
	"github.com/cloudwego/eino/schema"
)

const (
	defaultOpenAIAPIURL = "https://api.openai.com/v1/chat/completions"
	defaultOpenAIModel  = "gpt-4o-mini"
)

// OpenAIChatModel 对接OpenAI兼容的 chat/completions 接口 (OpenAI、DashScope、vLLM等)
type OpenAIChatModel struct {
	apiKey       string
	modelName    string
	apiURL       string
	temperature  *float32
	maxTokens    *int
	jsonResponse bool
	httpClient   *http.Client
	logger       *log.Logger
}

// OpenAIOption 定义配置选项函数
type OpenAIOption func(*OpenAIChatModel)

// WithTemperature 设置默认温度
func WithTemperature(t float32) OpenAIOption {
	return func(m *OpenAIChatModel) { m.temperature = &t }
}

// WithMaxTokens 设置默认最大输出长度
func WithMaxTokens(n int) OpenAIOption {
	return func(m *OpenAIChatModel) {
		if n > 0 {
			m.maxTokens = &n
		}
	}
}

// WithJSONResponse 要求模型以JSON对象作答
func WithJSONResponse(enabled bool) OpenAIOption {
	return func(m *OpenAIChatModel) { m.jsonResponse = enabled }
}

// WithHTTPClient 替换HTTP客户端
func WithHTTPClient(c *http.Client) OpenAIOption {
	return func(m *OpenAIChatModel) {
		if c != nil {
			m.httpClient = c
		}
	}
}

// WithLogger 配置自定义日志记录器
func WithLogger(logger *log.Logger) OpenAIOption {
	return func(m *OpenAIChatModel) {
		if logger != nil {
			m.logger = logger
		}
	}
}

var _ model.BaseChatModel = (*OpenAIChatModel)(nil)

// NewOpenAIChatModel 创建一个新的 OpenAIChatModel 实例
func NewOpenAIChatModel(apiKey, modelName, apiURL string, opts ...OpenAIOption) (*OpenAIChatModel, error) {
	if strings.TrimSpace(apiKey) == "" {
		return nil, fmt.Errorf("API 密钥不能为空")
	}
	if strings.TrimSpace(modelName) == "" {
		modelName = defaultOpenAIModel
	}
	if strings.TrimSpace(apiURL) == "" {
		apiURL = defaultOpenAIAPIURL
	}

	m := &OpenAIChatModel{
		apiKey:     apiKey,
		modelName:  modelName,
		apiURL:     apiURL,
		httpClient: &http.Client{Timeout: 120 * time.Second},
		logger:     log.New(os.Stderr, "[OpenAIChat] ", log.LstdFlags),
	}
	for _, opt := range opts {
		opt(m)
	}
	return m, nil
}

// --- OpenAI Compatible Request/Response Structures ---

type openAIImageURL struct {
	URL string `json:"url"`
}

type openAIContentPart struct {
	Type     string          `json:"type"`
	Text     string          `json:"text,omitempty"`
	ImageURL *openAIImageURL `json:"image_url,omitempty"`
}

type openAIRequestMessage struct {
	Role    string `json:"role"`
	Content any    `json:"content"` // string 或 []openAIContentPart
}

type openAIResponseFormat struct {
	Type string `json:"type"`
}

type openAIChatCompletionRequest struct {
	Model          string                 `json:"model"`
	Messages       []openAIRequestMessage `json:"messages"`
	Temperature    *float32               `json:"temperature,omitempty"`
	MaxTokens      *int                   `json:"max_tokens,omitempty"`
	Stop           []string               `json:"stop,omitempty"`
	ResponseFormat *openAIResponseFormat  `json:"response_format,omitempty"`
}

type openAIResponseMessage struct {
	Role    string          `json:"role"`
	Content json.RawMessage `json:"content"` // 字符串，或部分兼容接口返回的内容片段数组
}

type openAIChatChoice struct {
	Index        int                   `json:"index"`
	Message      openAIResponseMessage `json:"message"`
	FinishReason string                `json:"finish_reason"`
}

type openAIUsage struct {
	PromptTokens     int `json:"prompt_tokens"`
	CompletionTokens int `json:"completion_tokens"`
	TotalTokens      int `json:"total_tokens"`
}

type openAICompletionResponse struct {
	ID      string             `json:"id"`
	Model   string             `json:"model"`
	Choices []openAIChatChoice `json:"choices"`
	Usage   *openAIUsage       `json:"usage,omitempty"`
	Error   *struct {
		Message string `json:"message"`
	} `json:"error,omitempty"`
}

func toOpenAIMessages(messages []*schema.Message) []openAIRequestMessage {
	out := make([]openAIRequestMessage, 0, len(messages))
	for _, msg := range messages {
		if msg == nil {
			continue
		}
		m := openAIRequestMessage{Role: string(msg.Role)}
		if len(msg.MultiContent) == 0 {
			m.Content = msg.Content
		} else {
			parts := make([]openAIContentPart, 0, len(msg.MultiContent)+1)
			if msg.Content != "" {
				parts = append(parts, openAIContentPart{Type: "text", Text: msg.Content})
			}
			for _, p := range msg.MultiContent {
				switch p.Type {
				case schema.ChatMessagePartTypeText:
					parts = append(parts, openAIContentPart{Type: "text", Text: p.Text})
				case schema.ChatMessagePartTypeImageURL:
					if p.ImageURL != nil {
						parts = append(parts, openAIContentPart{Type: "image_url", ImageURL: &openAIImageURL{URL: p.ImageURL.URL}})
					}
				}
			}
			m.Content = parts
		}
		out = append(out, m)
	}
	return out
}

// decodeContent 把响应内容还原为 schema.Message 的 Content 或 MultiContent
func decodeContent(raw json.RawMessage, msg *schema.Message) {
	if len(raw) == 0 || string(raw) == "null" {
		return
	}
	var s string
	if err := json.Unmarshal(raw, &s); err == nil {
		msg.Content = s
		return
	}
	var parts []openAIContentPart
	if err := json.Unmarshal(raw, &parts); err == nil {
		for _, p := range parts {
			msg.MultiContent = append(msg.MultiContent, schema.ChatMessagePart{
				Type: schema.ChatMessagePartType(p.Type),
				Text: p.Text,
			})
		}
	}
}

// Generate 实现 model.BaseChatModel 接口
func (m *OpenAIChatModel) Generate(ctx context.Context, messages []*schema.Message, opts ...model.Option) (*schema.Message, error) {
	common := model.GetCommonOptions(&model.Options{
		Temperature: m.temperature,
		MaxTokens:   m.maxTokens,
		Model:       &m.modelName,
	}, opts...)

	reqPayload := openAIChatCompletionRequest{
		Model:       m.modelName,
		Messages:    toOpenAIMessages(messages),
		Temperature: common.Temperature,
		MaxTokens:   common.MaxTokens,
		Stop:        common.Stop,
	}
	if common.Model != nil && *common.Model != "" {
		reqPayload.Model = *common.Model
	}
	if m.jsonResponse {
		reqPayload.ResponseFormat = &openAIResponseFormat{Type: "json_object"}
	}

	jsonData, err := json.Marshal(reqPayload)
	if err != nil {
		return nil, fmt.Errorf("序列化请求体失败: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, m.apiURL, bytes.NewReader(jsonData))
	if err != nil {
		return nil, fmt.Errorf("创建 HTTP 请求失败: %w", err)
	}
	httpReq.Header.Set("Authorization", "Bearer "+m.apiKey)
	httpReq.Header.Set("Content-Type", "application/json")

	start := time.Now()
	httpResp, err := m.httpClient.Do(httpReq)
	if err != nil {
		return nil, fmt.Errorf("发送 HTTP 请求失败: %w", err)
	}
	defer httpResp.Body.Close()

	bodyBytes, err := io.ReadAll(httpResp.Body)
	if err != nil {
		return nil, fmt.Errorf("读取响应体失败: %w", err)
	}
	m.logger.Printf("模型 %s 响应: Status=%s, %d bytes (用时 %.2f秒)", reqPayload.Model, httpResp.Status, len(bodyBytes), time.Since(start).Seconds())

	if httpResp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("API 请求失败，状态 %s: %.300s", httpResp.Status, string(bodyBytes))
	}

	var apiResp openAICompletionResponse
	if err := json.Unmarshal(bodyBytes, &apiResp); err != nil {
		return nil, fmt.Errorf("反序列化 API 响应失败: %w", err)
	}
	if apiResp.Error != nil && apiResp.Error.Message != "" {
		return nil, fmt.Errorf("API 返回错误: %s", apiResp.Error.Message)
	}
	if len(apiResp.Choices) == 0 {
		return nil, fmt.Errorf("从 API 收到空选项")
	}

	choice := apiResp.Choices[0]
	result := &schema.Message{Role: schema.RoleType(choice.Message.Role)}
	if result.Role == "" {
		result.Role = schema.Assistant
	}
	decodeContent(choice.Message.Content, result)

	result.ResponseMeta = &schema.ResponseMeta{FinishReason: choice.FinishReason}
	if apiResp.Usage != nil {
		result.ResponseMeta.Usage = &schema.TokenUsage{
			PromptTokens:     apiResp.Usage.PromptTokens,
			CompletionTokens: apiResp.Usage.CompletionTokens,
			TotalTokens:      apiResp.Usage.TotalTokens,
		}
	}
	return result, nil
}

// Stream 以单条消息的流返回完整结果
func (m *OpenAIChatModel) Stream(ctx context.Context, messages []*schema.Message, opts ...model.Option) (*schema.StreamReader[*schema.Message], error) {
	msg, err := m.Generate(ctx, messages, opts...)
	if err != nil {
		return nil, err
	}
	return schema.StreamReaderFromArray([]*schema.Message{msg}), nil
}
