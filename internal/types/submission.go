package types

import (
	"errors"
	"fmt"
	"time"
)

// TipType 建议类型
type TipType string

const (
	TipGood    TipType = "good"
	TipImprove TipType = "improve"
)

// Tip 单条建议；ATS 类别下的建议不带 Explanation
type Tip struct {
	Type        TipType `json:"type"`
	Tip         string  `json:"tip"`
	Explanation string  `json:"explanation,omitempty"`
}

// Category 单个评分维度
type Category struct {
	Score int   `json:"score"`
	Tips  []Tip `json:"tips"`
}

// Feedback 简历分析结果，字段名是详情页依赖的稳定契约
type Feedback struct {
	OverallScore int      `json:"overallScore"`
	ATS          Category `json:"ATS"`
	ToneAndStyle Category `json:"toneAndStyle"`
	Content      Category `json:"content"`
	Structure    Category `json:"structure"`
	Skills       Category `json:"skills"`
}

// ErrInvalidFeedback 分析结果不符合固定结构
var ErrInvalidFeedback = errors.New("invalid feedback shape")

// Categories 返回各维度，键为JSON字段名
func (f *Feedback) Categories() map[string]*Category {
	return map[string]*Category{
		"ATS":          &f.ATS,
		"toneAndStyle": &f.ToneAndStyle,
		"content":      &f.Content,
		"structure":    &f.Structure,
		"skills":       &f.Skills,
	}
}

// Validate 校验分数范围与建议类型
func (f *Feedback) Validate() error {
	if f == nil {
		return fmt.Errorf("%w: feedback is nil", ErrInvalidFeedback)
	}
	if !inScoreRange(f.OverallScore) {
		return fmt.Errorf("%w: overallScore %d out of range", ErrInvalidFeedback, f.OverallScore)
	}
	for name, c := range f.Categories() {
		if !inScoreRange(c.Score) {
			return fmt.Errorf("%w: %s.score %d out of range", ErrInvalidFeedback, name, c.Score)
		}
		if c.Tips == nil {
			return fmt.Errorf("%w: %s.tips missing", ErrInvalidFeedback, name)
		}
		for i, tip := range c.Tips {
			if tip.Type != TipGood && tip.Type != TipImprove {
				return fmt.Errorf("%w: %s.tips[%d].type %q", ErrInvalidFeedback, name, i, tip.Type)
			}
			if tip.Tip == "" {
				return fmt.Errorf("%w: %s.tips[%d].tip is empty", ErrInvalidFeedback, name, i)
			}
		}
	}
	return nil
}

func inScoreRange(score int) bool {
	return score >= 0 && score <= 100
}

// Submission 简历提交记录，以 resume:<id> 为键整体序列化存储
type Submission struct {
	ID             string    `json:"id"`
	ResumePath     string    `json:"resumePath"`
	ImagePath      string    `json:"imagePath"`
	CompanyName    string    `json:"companyName"`
	JobTitle       string    `json:"jobTitle"`
	JobDescription string    `json:"jobDescription"`
	Feedback       *Feedback `json:"feedback"`
}

// ProcessingStatus 分析进度，供轮询接口展示
type ProcessingStatus struct {
	ID         string    `json:"id"`
	State      string    `json:"state"`
	Message    string    `json:"message"`
	Processing bool      `json:"processing"`
	Redirect   string    `json:"redirect,omitempty"`
	UpdatedAt  time.Time `json:"updatedAt"`
}
