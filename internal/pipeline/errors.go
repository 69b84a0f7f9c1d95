package pipeline

import (
	"errors"
	"fmt"
)

// 终止流程的错误
var (
	ErrNotAuthenticated  = errors.New("user is not authenticated")
	ErrNotReady          = errors.New("platform is not ready")
	ErrInvalidRequest    = errors.New("invalid submission")
	ErrUploadFailed      = errors.New("file upload failed")
	ErrConversionFailed  = errors.New("pdf conversion failed")
	ErrImageUploadFailed = errors.New("image upload failed")
	ErrRecordWriteFailed = errors.New("record write failed")
)

// 已通过降级分析恢复的错误
var (
	ErrOCRFailed        = errors.New("text extraction failed")
	ErrInsufficientText = errors.New("extracted text too short")
	ErrAIUnavailable    = errors.New("ai analysis unavailable")
	ErrParseFailed      = errors.New("ai response could not be parsed")
)

// 降级原因，写入 Outcome.FallbackReason 与事件
const (
	ReasonOCRFailed        = "ocr_failed"
	ReasonInsufficientText = "insufficient_text"
	ReasonAIUnavailable    = "ai_unavailable"
	ReasonParseFailed      = "parse_failed"
)

// StageError 带提交ID与阶段信息的错误
type StageError struct {
	ID     string
	Stage  State
	Err    error
	Detail string
}

func (e *StageError) Error() string {
	if e.Detail != "" {
		return fmt.Sprintf("%s (阶段:%s, ID:%s): %s", e.Err, e.Stage, e.ID, e.Detail)
	}
	return fmt.Sprintf("%s (阶段:%s, ID:%s)", e.Err, e.Stage, e.ID)
}

func (e *StageError) Unwrap() error {
	return e.Err
}

// Is 支持 errors.Is 与哨兵错误比较
func (e *StageError) Is(target error) bool {
	return errors.Is(e.Err, target)
}

func stageError(id string, stage State, base error, cause error) *StageError {
	se := &StageError{ID: id, Stage: stage, Err: base}
	if cause != nil {
		se.Detail = cause.Error()
	}
	return se
}
