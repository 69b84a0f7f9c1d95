package models

import (
	"encoding/json"
	"time"

	"gorm.io/datatypes"
)

// ResumeSubmission 简历分析索引表，供列表页按时间倒序展示
// 完整记录仍以 resume:<id> 存在KV中
type ResumeSubmission struct {
	SubmissionID   string         `gorm:"type:char(36);primaryKey"`
	CompanyName    string         `gorm:"type:varchar(255)"`
	JobTitle       string         `gorm:"type:varchar(255);index:idx_rs_job_title"`
	ResumePath     string         `gorm:"type:varchar(1024)"`
	ImagePath      string         `gorm:"type:varchar(1024)"`
	State          string         `gorm:"type:varchar(50);index:idx_rs_state"`
	FeedbackSource string         `gorm:"type:varchar(20)"` // ai 或 fallback
	OverallScore   *int           `gorm:"type:int"`
	CategoryScores datatypes.JSON `gorm:"type:json"` // {"ATS":80,"content":60,...}
	CreatedAt      time.Time      `gorm:"type:datetime(6);default:CURRENT_TIMESTAMP(6);index:idx_rs_created_at"`
	UpdatedAt      time.Time      `gorm:"type:datetime(6);default:CURRENT_TIMESTAMP(6);autoUpdateTime"`
}

func (ResumeSubmission) TableName() string {
	return "resume_submissions"
}

// MapToJSON 将 map 转换为 datatypes.JSON
func MapToJSON[V any](m map[string]V) (datatypes.JSON, error) {
	if m == nil {
		return nil, nil
	}
	data, err := json.Marshal(m)
	if err != nil {
		return nil, err
	}
	return datatypes.JSON(data), nil
}

// JSONToMap 将 datatypes.JSON 解析为 map，空值返回 nil
func JSONToMap[V any](data datatypes.JSON) (map[string]V, error) {
	if len(data) == 0 {
		return nil, nil
	}
	var m map[string]V
	if err := json.Unmarshal(data, &m); err != nil {
		return nil, err
	}
	return m, nil
}
