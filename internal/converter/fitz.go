package converter

import (
	"fmt"
	"image"

	"github.com/gen2brain/go-fitz"
)

// FitzRenderer 基于MuPDF的渲染后端
type FitzRenderer struct{}

var _ Renderer = FitzRenderer{}

// RenderFirstPage 以指定DPI渲染第一页
func (FitzRenderer) RenderFirstPage(pdf []byte, dpi float64) (image.Image, error) {
	doc, err := fitz.NewFromMemory(pdf)
	if err != nil {
		return nil, fmt.Errorf("open pdf: %w", err)
	}
	defer doc.Close()

	if doc.NumPage() < 1 {
		return nil, ErrNoPages
	}

	img, err := doc.ImageDPI(0, dpi)
	if err != nil {
		return nil, fmt.Errorf("render page 1: %w", err)
	}
	return img, nil
}
