package feedback

import (
	"encoding/json"
	"errors"
	"fmt"
	"regexp"
	"strings"
	"unicode/utf8"

	"github.com/cloudwego/eino/schema"

	"resumind/internal/types"
)

var (
	// ErrUnparsable 响应中没有可解析的JSON
	ErrUnparsable = errors.New("feedback: response is not parsable JSON")
	// ErrInvalidShape JSON可解析但不符合分析结果结构
	ErrInvalidShape = errors.New("feedback: response does not match feedback shape")
)

var (
	fencePattern  = regexp.MustCompile("```[a-zA-Z]*")
	objectPattern = regexp.MustCompile(`\{[\s\S]*\}`)
)

// ResponseText 取出模型回复的文本：优先 Content，其次第一个文本片段，否则序列化整条消息
func ResponseText(msg *schema.Message) string {
	if msg == nil {
		return ""
	}
	if msg.Content != "" {
		return msg.Content
	}
	for _, part := range msg.MultiContent {
		if part.Type == schema.ChatMessagePartTypeText && part.Text != "" {
			return part.Text
		}
	}
	raw, err := json.Marshal(msg)
	if err != nil {
		return ""
	}
	return string(raw)
}

// CleanResponse 去掉代码块标记和前后说明文字，只保留第一个 {...} 片段
func CleanResponse(text string) string {
	cleaned := strings.TrimSpace(strings.TrimPrefix(text, "\uFEFF"))
	if strings.HasPrefix(cleaned, "```") {
		cleaned = strings.TrimSpace(fencePattern.ReplaceAllString(cleaned, ""))
	}
	if match := objectPattern.FindString(cleaned); match != "" {
		cleaned = match
	}
	if !utf8.ValidString(cleaned) {
		cleaned = strings.ToValidUTF8(cleaned, "")
	}
	return cleaned
}

// unmarshalLenient 解析失败时修复字符串内未转义的引号后重试一次
func unmarshalLenient(text string, v any) error {
	err := json.Unmarshal([]byte(text), v)
	if err == nil {
		return nil
	}
	if retryErr := json.Unmarshal([]byte(sanitizeJSON(text)), v); retryErr != nil {
		return fmt.Errorf("%w: %v", ErrUnparsable, err)
	}
	return nil
}

// Decode 不校验结构地解析响应中的JSON对象
func Decode(text string) (map[string]any, error) {
	var out map[string]any
	if err := unmarshalLenient(CleanResponse(text), &out); err != nil {
		return nil, err
	}
	if out == nil {
		return nil, fmt.Errorf("%w: null document", ErrUnparsable)
	}
	return out, nil
}

// ParseText 解析并严格校验分析结果
func ParseText(text string) (*types.Feedback, error) {
	cleaned := CleanResponse(text)

	var doc any
	if err := unmarshalLenient(cleaned, &doc); err != nil {
		return nil, err
	}
	if _, ok := doc.(map[string]any); !ok {
		return nil, fmt.Errorf("%w: top level is not an object", ErrInvalidShape)
	}

	problems, err := validateSchema(doc)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidShape, err)
	}
	if len(problems) > 0 {
		return nil, fmt.Errorf("%w: %s", ErrInvalidShape, strings.Join(problems, "; "))
	}

	// 经过 schema 校验后再映射到强类型
	normalized, err := json.Marshal(doc)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidShape, err)
	}
	var fb types.Feedback
	if err := json.Unmarshal(normalized, &fb); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidShape, err)
	}
	if err := fb.Validate(); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidShape, err)
	}
	return &fb, nil
}

// ParseResponse 从模型回复消息中解析分析结果
func ParseResponse(msg *schema.Message) (*types.Feedback, error) {
	if msg == nil {
		return nil, fmt.Errorf("%w: empty message", ErrUnparsable)
	}
	return ParseText(ResponseText(msg))
}

// sanitizeJSON 把字符串字面量内部未转义的双引号改写为 \"。
// 下一个非空白字符是 : , ] } 时才认为引号结束了字符串。
func sanitizeJSON(src string) string {
	var b strings.Builder
	inStr := false
	escaped := false

	for i := 0; i < len(src); i++ {
		c := src[i]
		switch {
		case c == '"' && !escaped:
			if !inStr {
				inStr = true
				b.WriteByte(c)
				continue
			}
			j := i + 1
			for j < len(src) && (src[j] == ' ' || src[j] == '\t' || src[j] == '\n' || src[j] == '\r') {
				j++
			}
			if j >= len(src) || src[j] == ':' || src[j] == ',' || src[j] == ']' || src[j] == '}' {
				inStr = false
				b.WriteByte(c)
			} else {
				b.WriteString(`\"`)
			}
		case c == '\\' && !escaped:
			escaped = true
			b.WriteByte(c)
			continue
		default:
			b.WriteByte(c)
		}
		escaped = false
	}
	return b.String()
}
