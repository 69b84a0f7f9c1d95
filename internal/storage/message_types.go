package storage

import "time"

// 事件类型
const (
	EventResumeAnalyzed = "resume.analyzed"
	EventResumeFailed   = "resume.failed"
)

// ResumeEventMessage 分析流程结束后投递的事件
type ResumeEventMessage struct {
	EventType      string    `json:"event_type"`
	ResumeID       string    `json:"resume_id"`
	State          string    `json:"state"`                     // 流程终态
	Status         string    `json:"status"`                    // 面向用户的进度文本
	FeedbackSource string    `json:"feedback_source,omitempty"` // ai 或 fallback
	FallbackReason string    `json:"fallback_reason,omitempty"`
	OverallScore   *int      `json:"overall_score,omitempty"`
	CompanyName    string    `json:"company_name,omitempty"`
	JobTitle       string    `json:"job_title,omitempty"`
	ResumePath     string    `json:"resume_path,omitempty"` // MinIO中的对象路径
	Redirect       string    `json:"redirect,omitempty"`
	Error          string    `json:"error,omitempty"`
	OccurredAt     time.Time `json:"occurred_at"`
}
