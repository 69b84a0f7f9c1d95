package llm

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/cloudwego/eino/schema"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"google.golang.org/genai"
)

func TestToGeminiContents(t *testing.T) {
	png := []byte{0x89, 'P', 'N', 'G'}
	dataURL := "data:image/png;base64," + base64.StdEncoding.EncodeToString(png)

	system, contents, err := toGeminiContents([]*schema.Message{
		schema.SystemMessage("be strict"),
		schema.UserMessage("first"),
		schema.AssistantMessage("reply", nil),
		{
			Role: schema.User,
			MultiContent: []schema.ChatMessagePart{
				{Type: schema.ChatMessagePartTypeText, Text: "look"},
				{Type: schema.ChatMessagePartTypeImageURL, ImageURL: &schema.ChatMessageImageURL{URL: dataURL}},
			},
		},
	})
	require.NoError(t, err)

	require.NotNil(t, system)
	assert.Equal(t, "be strict", system.Parts[0].Text)

	require.Len(t, contents, 3)
	assert.Equal(t, string(genai.RoleUser), contents[0].Role)
	assert.Equal(t, string(genai.RoleModel), contents[1].Role)
	require.Len(t, contents[2].Parts, 2)
	require.NotNil(t, contents[2].Parts[1].InlineData)
	assert.Equal(t, "image/png", contents[2].Parts[1].InlineData.MIMEType)
	assert.Equal(t, png, contents[2].Parts[1].InlineData.Data)
}

func TestDecodeDataURLRejectsRemoteURL(t *testing.T) {
	_, _, err := decodeDataURL("https://example.com/a.png")
	require.Error(t, err)

	_, _, err = decodeDataURL("data:image/png,raw")
	require.Error(t, err)
}

func TestGeminiChatModelGenerate(t *testing.T) {
	var body map[string]any
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.True(t, strings.Contains(r.URL.Path, "gemini-test:generateContent"), r.URL.Path)
		require.NoError(t, json.NewDecoder(r.Body).Decode(&body))
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{
			"candidates":[{"content":{"role":"model","parts":[{"text":"{\"overallScore\":70}"}]},"finishReason":"STOP"}],
			"usageMetadata":{"promptTokenCount":9,"candidatesTokenCount":4,"totalTokenCount":13}
		}`))
	}))
	defer srv.Close()

	m, err := NewGeminiChatModel(context.Background(), GeminiConfig{
		APIKey:  "test-key",
		Model:   "gemini-test",
		BaseURL: srv.URL,
	})
	require.NoError(t, err)

	msg, err := m.Generate(context.Background(), []*schema.Message{
		schema.SystemMessage("system"),
		schema.UserMessage("hi"),
	})
	require.NoError(t, err)
	assert.Equal(t, `{"overallScore":70}`, msg.Content)
	require.NotNil(t, msg.ResponseMeta)
	assert.Equal(t, 13, msg.ResponseMeta.Usage.TotalTokens)
	assert.Contains(t, body, "systemInstruction")
}

func TestGeminiChatModelRequiresMessages(t *testing.T) {
	m, err := NewGeminiChatModel(context.Background(), GeminiConfig{APIKey: "k"})
	require.NoError(t, err)

	_, err = m.Generate(context.Background(), []*schema.Message{schema.SystemMessage("only system")})
	require.Error(t, err)
}
