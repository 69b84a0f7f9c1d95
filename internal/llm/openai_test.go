package llm

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/cloudwego/eino/components/model"
	"github.com/cloudwego/eino/schema"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"resumind/internal/config"
)

func newChatServer(t *testing.T, status int, body string, captured *openAIChatCompletionRequest) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPost, r.Method)
		assert.Equal(t, "Bearer test-key", r.Header.Get("Authorization"))
		raw, err := io.ReadAll(r.Body)
		require.NoError(t, err)
		if captured != nil {
			require.NoError(t, json.Unmarshal(raw, captured))
		}
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(status)
		_, _ = w.Write([]byte(body))
	}))
	t.Cleanup(srv.Close)
	return srv
}

func TestOpenAIChatModelGenerate(t *testing.T) {
	var req openAIChatCompletionRequest
	srv := newChatServer(t, http.StatusOK, `{
		"id":"c1","model":"gpt-test",
		"choices":[{"index":0,"message":{"role":"assistant","content":"{\"overallScore\":80}"},"finish_reason":"stop"}],
		"usage":{"prompt_tokens":12,"completion_tokens":5,"total_tokens":17}
	}`, &req)

	m, err := NewOpenAIChatModel("test-key", "gpt-test", srv.URL, WithTemperature(0.3), WithMaxTokens(256), WithJSONResponse(true))
	require.NoError(t, err)

	msg, err := m.Generate(context.Background(), []*schema.Message{
		schema.SystemMessage("system"),
		schema.UserMessage("hello"),
	})
	require.NoError(t, err)

	assert.Equal(t, schema.Assistant, msg.Role)
	assert.Equal(t, `{"overallScore":80}`, msg.Content)
	require.NotNil(t, msg.ResponseMeta)
	assert.Equal(t, "stop", msg.ResponseMeta.FinishReason)
	assert.Equal(t, 17, msg.ResponseMeta.Usage.TotalTokens)

	assert.Equal(t, "gpt-test", req.Model)
	require.Len(t, req.Messages, 2)
	assert.Equal(t, "system", req.Messages[0].Role)
	assert.Equal(t, "hello", req.Messages[1].Content)
	require.NotNil(t, req.Temperature)
	assert.InDelta(t, 0.3, *req.Temperature, 1e-6)
	require.NotNil(t, req.MaxTokens)
	assert.Equal(t, 256, *req.MaxTokens)
	require.NotNil(t, req.ResponseFormat)
	assert.Equal(t, "json_object", req.ResponseFormat.Type)
}

func TestOpenAIChatModelCallOptionsOverrideDefaults(t *testing.T) {
	var req openAIChatCompletionRequest
	srv := newChatServer(t, http.StatusOK, `{"choices":[{"message":{"content":"ok"}}]}`, &req)

	m, err := NewOpenAIChatModel("test-key", "gpt-test", srv.URL, WithTemperature(0.9))
	require.NoError(t, err)

	_, err = m.Generate(context.Background(), []*schema.Message{schema.UserMessage("hi")},
		model.WithModel("other-model"), model.WithTemperature(0))
	require.NoError(t, err)

	assert.Equal(t, "other-model", req.Model)
	require.NotNil(t, req.Temperature)
	assert.Zero(t, *req.Temperature)
}

func TestOpenAIChatModelMultiContent(t *testing.T) {
	var raw map[string]any
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.NoError(t, json.NewDecoder(r.Body).Decode(&raw))
		_, _ = w.Write([]byte(`{"choices":[{"message":{"role":"assistant","content":[{"type":"text","text":"part one"}]}}]}`))
	}))
	defer srv.Close()

	m, err := NewOpenAIChatModel("test-key", "", srv.URL)
	require.NoError(t, err)

	msg, err := m.Generate(context.Background(), []*schema.Message{{
		Role: schema.User,
		MultiContent: []schema.ChatMessagePart{
			{Type: schema.ChatMessagePartTypeText, Text: "read this"},
			{Type: schema.ChatMessagePartTypeImageURL, ImageURL: &schema.ChatMessageImageURL{URL: "data:image/png;base64,AAAA"}},
		},
	}})
	require.NoError(t, err)
	require.Len(t, msg.MultiContent, 1)
	assert.Equal(t, "part one", msg.MultiContent[0].Text)

	assert.Equal(t, defaultOpenAIModel, raw["model"])
	messages := raw["messages"].([]any)
	parts := messages[0].(map[string]any)["content"].([]any)
	require.Len(t, parts, 2)
	assert.Equal(t, "image_url", parts[1].(map[string]any)["type"])
}

func TestOpenAIChatModelErrors(t *testing.T) {
	tests := []struct {
		name    string
		status  int
		body    string
		wantErr string
	}{
		{"非200状态", http.StatusUnauthorized, `{"error":{"message":"bad key"}}`, "401"},
		{"错误字段", http.StatusOK, `{"error":{"message":"quota exceeded"}}`, "quota exceeded"},
		{"空选项", http.StatusOK, `{"choices":[]}`, "空选项"},
		{"非法JSON", http.StatusOK, `not json`, "反序列化"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			srv := newChatServer(t, tt.status, tt.body, nil)
			m, err := NewOpenAIChatModel("test-key", "gpt-test", srv.URL)
			require.NoError(t, err)

			_, err = m.Generate(context.Background(), []*schema.Message{schema.UserMessage("hi")})
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.wantErr)
		})
	}
}

func TestNewOpenAIChatModelRequiresKey(t *testing.T) {
	_, err := NewOpenAIChatModel("  ", "", "")
	require.Error(t, err)
}

func TestOpenAIChatModelStream(t *testing.T) {
	srv := newChatServer(t, http.StatusOK, `{"choices":[{"message":{"content":"streamed"}}]}`, nil)
	m, err := NewOpenAIChatModel("test-key", "gpt-test", srv.URL)
	require.NoError(t, err)

	sr, err := m.Stream(context.Background(), []*schema.Message{schema.UserMessage("hi")})
	require.NoError(t, err)
	defer sr.Close()

	msg, err := sr.Recv()
	require.NoError(t, err)
	assert.Equal(t, "streamed", msg.Content)
	_, err = sr.Recv()
	assert.True(t, errors.Is(err, io.EOF))
}

func TestNewChatModelFactory(t *testing.T) {
	m, err := NewChatModel(context.Background(), config.LLMConfig{Provider: "openai", APIKey: "k", Model: "gpt-test"})
	require.NoError(t, err)
	assert.IsType(t, &OpenAIChatModel{}, m)

	m, err = NewChatModel(context.Background(), config.LLMConfig{Provider: "Gemini", APIKey: "k"})
	require.NoError(t, err)
	assert.IsType(t, &GeminiChatModel{}, m)

	_, err = NewChatModel(context.Background(), config.LLMConfig{Provider: "unknown", APIKey: "k"})
	require.Error(t, err)

	_, err = NewChatModel(context.Background(), config.LLMConfig{Provider: "openai"})
	require.Error(t, err, "缺少API密钥时应报错")
}
