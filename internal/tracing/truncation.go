package tracing

import (
	"regexp"
	"strings"
)

const (
	// DefaultMaxLength 默认最大属性长度
	DefaultMaxLength = 200

	// MaxSQLLength SQL语句最大长度
	MaxSQLLength = 500

	// MaxRedisLength Redis键最大长度
	MaxRedisLength = 100

	// MaxResumeLength OCR文本预览最大长度
	MaxResumeLength = 150

	// MaxJobDescriptionLength 职位描述最大长度
	MaxJobDescriptionLength = 120
)

// 属性名包含这些关键字时整体掩码：公司名、联系方式与凭据
var maskedAttributes = []string{
	"company", "email", "phone", "candidate", "api_key", "token", "secret", "password",
}

// 简历正文中的联系方式
var (
	inlineEmail = regexp.MustCompile(`[A-Za-z0-9._%+\-]+@[A-Za-z0-9.\-]+\.[A-Za-z]{2,}`)
	inlinePhone = regexp.MustCompile(`\+?\d[\d\s().\-]{8,}\d`)
)

// SafeAttributeValue 按属性名处理 span 属性值
// 公司名与联系方式掩码，职位描述与简历正文走文本预览，其余按 maxLength 截断
func SafeAttributeValue(name string, value string, maxLength int) string {
	lowerName := strings.ToLower(name)
	for _, keyword := range maskedAttributes {
		if strings.Contains(lowerName, keyword) {
			return MaskPII(value)
		}
	}
	switch {
	case strings.Contains(lowerName, "job_description"):
		return TruncateString(collapseSpaces(value), MaxJobDescriptionLength)
	case strings.Contains(lowerName, "resume_text"), strings.Contains(lowerName, "ocr.text"):
		return SafeResumeContent(value)
	}
	return TruncateString(value, maxLength)
}

// MaskPII 保留首尾字符，中间用星号替换
func MaskPII(value string) string {
	if value == "" {
		return ""
	}

	runes := []rune(value)
	length := len(runes)

	if length <= 1 {
		return "*"
	}
	if length <= 4 {
		if length == 2 {
			return string(runes[0:1]) + "*"
		}
		return string(runes[0:1]) + strings.Repeat("*", length-2) + string(runes[length-1:])
	}
	return string(runes[0:2]) + strings.Repeat("*", length-4) + string(runes[length-2:])
}

// TruncateString 截断字符串，保留首尾并以省略号连接
func TruncateString(s string, maxLength int) string {
	runes := []rune(s)
	if len(runes) <= maxLength {
		return s
	}

	if maxLength <= 3 {
		return string(runes[:maxLength])
	}

	half := (maxLength - 3) / 2
	if half < 1 {
		half = 1
	}
	return string(runes[:half]) + "..." + string(runes[len(runes)-half:])
}

// SafeSQL 安全处理SQL语句
func SafeSQL(sql string) string {
	return TruncateString(sql, MaxSQLLength)
}

// SafeRedisKey 安全处理Redis键
func SafeRedisKey(key string) string {
	return TruncateString(key, MaxRedisLength)
}

// SafeResumeContent OCR文本预览：掩码邮箱与电话，压缩空白后截断
func SafeResumeContent(content string) string {
	content = inlineEmail.ReplaceAllStringFunc(content, MaskPII)
	content = inlinePhone.ReplaceAllStringFunc(content, MaskPII)
	return TruncateString(collapseSpaces(content), MaxResumeLength)
}

func collapseSpaces(s string) string {
	return strings.Join(strings.Fields(s), " ")
}
