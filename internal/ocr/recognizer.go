package ocr

import (
	"context"
	"errors"
)

// Recognizer 从图片中识别文字
type Recognizer interface {
	Recognize(ctx context.Context, image []byte, filename string) (string, error)
}

// ErrEmptyImage 图片内容为空
var ErrEmptyImage = errors.New("ocr: empty image")
