package ocr

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"log"
	"net/http"
	"os"
	"strings"
	"time"
)

// TikaRecognizer 基于Apache Tika (内置Tesseract) 的OCR
type TikaRecognizer struct {
	// Tika服务器地址，例如 http://localhost:9998
	ServerURL string
	// HTTP客户端，可配置超时等参数
	Client *http.Client
	// Tesseract语言，例如 eng、eng+chi_sim
	language string
	logger   *log.Logger
}

// TikaOption 定义配置选项函数
type TikaOption func(*TikaRecognizer)

// WithLanguage 配置OCR语言
func WithLanguage(lang string) TikaOption {
	return func(r *TikaRecognizer) {
		r.language = lang
	}
}

// WithTikaLogger 配置自定义日志记录器
func WithTikaLogger(logger *log.Logger) TikaOption {
	return func(r *TikaRecognizer) {
		r.logger = logger
	}
}

// WithTimeout 配置HTTP客户端超时时间
func WithTimeout(timeout time.Duration) TikaOption {
	return func(r *TikaRecognizer) {
		r.Client.Timeout = timeout
	}
}

var _ Recognizer = (*TikaRecognizer)(nil)

// NewTikaRecognizer 创建Tika OCR客户端
func NewTikaRecognizer(serverURL string, options ...TikaOption) *TikaRecognizer {
	r := &TikaRecognizer{
		ServerURL: strings.TrimRight(serverURL, "/"),
		Client:    &http.Client{Timeout: 60 * time.Second},
		logger:    log.New(os.Stderr, "[TikaOCR] ", log.LstdFlags),
	}
	for _, option := range options {
		option(r)
	}
	return r
}

// Recognize 将PNG提交给Tika并返回纯文本
func (r *TikaRecognizer) Recognize(ctx context.Context, image []byte, filename string) (string, error) {
	if len(image) == 0 {
		return "", ErrEmptyImage
	}
	startTime := time.Now()

	req, err := http.NewRequestWithContext(ctx, http.MethodPut, r.ServerURL+"/tika", bytes.NewReader(image))
	if err != nil {
		return "", fmt.Errorf("创建HTTP请求失败: %w", err)
	}
	req.Header.Set("Content-Type", "image/png")
	req.Header.Set("Accept", "text/plain")
	if filename != "" {
		req.Header.Set("X-Tika-Resource-Name", filename)
	}
	if r.language != "" {
		req.Header.Set("X-Tika-OCRLanguage", r.language)
	}

	resp, err := r.Client.Do(req)
	if err != nil {
		return "", fmt.Errorf("发送请求到Tika服务器失败: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return "", fmt.Errorf("tika服务器返回错误状态码: %d: %s", resp.StatusCode, strings.TrimSpace(string(body)))
	}

	textBytes, err := io.ReadAll(resp.Body)
	if err != nil {
		return "", fmt.Errorf("读取Tika响应失败: %w", err)
	}

	text := strings.TrimSpace(string(textBytes))
	r.logger.Printf("OCR完成: %s, 识别 %d 个字符 (用时 %.2f秒)", filename, len(text), time.Since(startTime).Seconds())
	return text, nil
}

// Ping 检查Tika服务是否可用
func (r *TikaRecognizer) Ping(ctx context.Context) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, r.ServerURL+"/tika", nil)
	if err != nil {
		return err
	}
	resp, err := r.Client.Do(req)
	if err != nil {
		return fmt.Errorf("tika不可用: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("tika不可用: 状态码 %d", resp.StatusCode)
	}
	return nil
}
