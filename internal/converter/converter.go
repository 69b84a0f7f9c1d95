package converter

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"image"
	"image/png"
	"io"
	"log"
	"path/filepath"
	"strings"
	"time"
)

const (
	// NativeDPI PDF的原生分辨率
	NativeDPI = 72.0
	// DefaultScale 渲染放大倍数，保证OCR可读性
	DefaultScale = 4.0

	pngContentType = "image/png"
)

var (
	// ErrEmptyDocument 输入为空
	ErrEmptyDocument = errors.New("empty document")
	// ErrNoPages PDF没有任何页面
	ErrNoPages = errors.New("document has no pages")
)

// Image 渲染得到的首页图片
type Image struct {
	Filename    string
	ContentType string
	Data        []byte
	Width       int
	Height      int
}

// Result 转换结果；失败时 Error 非空且 Image 为 nil，调用方必须先检查 Error
type Result struct {
	Image *Image
	Error string
}

// Failed 是否转换失败
func (r Result) Failed() bool {
	return r.Error != "" || r.Image == nil
}

// Renderer 将PDF首页渲染为位图
type Renderer interface {
	RenderFirstPage(pdf []byte, dpi float64) (image.Image, error)
}

// Converter PDF首页转PNG
type Converter struct {
	renderer Renderer
	scale    float64
	encoder  png.Encoder
	logger   *log.Logger
}

// Option 定义配置选项函数
type Option func(*Converter)

// WithRenderer 替换渲染后端
func WithRenderer(r Renderer) Option {
	return func(c *Converter) {
		c.renderer = r
	}
}

// WithScale 设置相对72DPI的放大倍数
func WithScale(scale float64) Option {
	return func(c *Converter) {
		if scale > 0 {
			c.scale = scale
		}
	}
}

// WithLogger 配置自定义日志记录器
func WithLogger(logger *log.Logger) Option {
	return func(c *Converter) {
		if logger != nil {
			c.logger = logger
		}
	}
}

// New 创建转换器，默认使用MuPDF渲染
func New(opts ...Option) *Converter {
	c := &Converter{
		renderer: FitzRenderer{},
		scale:    DefaultScale,
		encoder:  png.Encoder{CompressionLevel: png.DefaultCompression},
		logger:   log.New(io.Discard, "", 0),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// DPI 实际渲染分辨率
func (c *Converter) DPI() float64 {
	return NativeDPI * c.scale
}

// Convert 渲染PDF首页。任何失败（包括渲染后端panic）都通过 Result.Error 返回
func (c *Converter) Convert(ctx context.Context, pdf []byte, filename string) (result Result) {
	start := time.Now()
	defer func() {
		if r := recover(); r != nil {
			c.logger.Printf("渲染PDF时发生panic (%s): %v", filename, r)
			result = failure(fmt.Errorf("renderer crashed: %v", r))
		}
	}()

	if err := ctx.Err(); err != nil {
		return failure(err)
	}
	if len(pdf) == 0 {
		return failure(ErrEmptyDocument)
	}

	img, err := c.renderer.RenderFirstPage(pdf, c.DPI())
	if err != nil {
		c.logger.Printf("渲染PDF失败 (%s): %v", filename, err)
		return failure(err)
	}
	if img == nil {
		return failure(errors.New("renderer returned no image"))
	}

	var buf bytes.Buffer
	if err := c.encoder.Encode(&buf, img); err != nil {
		return failure(fmt.Errorf("encode png: %w", err))
	}

	bounds := img.Bounds()
	c.logger.Printf("PDF首页渲染完成: %s, %dx%d, %d bytes (用时 %.2f秒)",
		filename, bounds.Dx(), bounds.Dy(), buf.Len(), time.Since(start).Seconds())

	return Result{
		Image: &Image{
			Filename:    ImageFilename(filename),
			ContentType: pngContentType,
			Data:        buf.Bytes(),
			Width:       bounds.Dx(),
			Height:      bounds.Dy(),
		},
	}
}

func failure(err error) Result {
	return Result{Error: "Failed to convert PDF: " + err.Error()}
}

// ImageFilename 由原始文件名生成图片文件名，例如 resume.pdf -> resume.png
func ImageFilename(filename string) string {
	base := filepath.Base(strings.TrimSpace(filename))
	if base == "" || base == "." || base == string(filepath.Separator) {
		base = "resume"
	}
	base = strings.TrimSuffix(base, filepath.Ext(base))
	if base == "" {
		base = "resume"
	}
	return base + ".png"
}
