package ocr

import (
	"context"
	"encoding/base64"
	"fmt"
	"strings"

	"github.com/cloudwego/eino/components/model"
	"github.com/cloudwego/eino/schema"
)

const visionInstruction = "Transcribe all readable text in this resume image exactly as it appears, top to bottom. " +
	"Return plain text only, without commentary or formatting."

// VisionRecognizer 使用多模态对话模型识别文字
type VisionRecognizer struct {
	chat model.BaseChatModel
}

var _ Recognizer = (*VisionRecognizer)(nil)

// NewVisionRecognizer 创建基于对话模型的OCR
func NewVisionRecognizer(chat model.BaseChatModel) *VisionRecognizer {
	return &VisionRecognizer{chat: chat}
}

// Recognize 以data URL形式发送图片并返回模型转写的文本
func (v *VisionRecognizer) Recognize(ctx context.Context, image []byte, filename string) (string, error) {
	if len(image) == 0 {
		return "", ErrEmptyImage
	}
	msg := &schema.Message{
		Role: schema.User,
		MultiContent: []schema.ChatMessagePart{
			{Type: schema.ChatMessagePartTypeText, Text: visionInstruction},
			{
				Type: schema.ChatMessagePartTypeImageURL,
				ImageURL: &schema.ChatMessageImageURL{
					URL:      "data:image/png;base64," + base64.StdEncoding.EncodeToString(image),
					MIMEType: "image/png",
				},
			},
		},
	}

	resp, err := v.chat.Generate(ctx, []*schema.Message{msg})
	if err != nil {
		return "", fmt.Errorf("vision ocr %s: %w", filename, err)
	}
	if resp == nil {
		return "", fmt.Errorf("vision ocr %s: empty response", filename)
	}
	text := resp.Content
	if text == "" {
		for _, part := range resp.MultiContent {
			if part.Type == schema.ChatMessagePartTypeText && part.Text != "" {
				text = part.Text
				break
			}
		}
	}
	return strings.TrimSpace(text), nil
}
