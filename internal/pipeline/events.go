package pipeline

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"resumind/internal/storage"
	"resumind/internal/storage/models"
	"resumind/internal/types"
)

// EventSink 在流程到达终态后被调用，失败不影响流程结果
type EventSink interface {
	Handle(ctx context.Context, out *Outcome) error
}

// EventRoute 事件投递目标
type EventRoute struct {
	Exchange    string
	AnalyzedKey string
	FailedKey   string
}

func (r EventRoute) routingKey(eventType string) string {
	if eventType == storage.EventResumeFailed {
		return r.FailedKey
	}
	return r.AnalyzedKey
}

// NewEventMessage 根据流程结果构造事件
func NewEventMessage(out *Outcome, at time.Time) storage.ResumeEventMessage {
	msg := storage.ResumeEventMessage{
		EventType:      storage.EventResumeAnalyzed,
		ResumeID:       out.ID,
		State:          string(out.State),
		Status:         out.Status,
		FeedbackSource: out.FeedbackSource,
		FallbackReason: out.FallbackReason,
		Redirect:       out.Redirect,
		OccurredAt:     at,
	}
	if out.State == StateFailed {
		msg.EventType = storage.EventResumeFailed
	}
	if out.Err != nil {
		msg.Error = out.Err.Error()
	}
	if out.Record != nil {
		msg.CompanyName = out.Record.CompanyName
		msg.JobTitle = out.Record.JobTitle
		msg.ResumePath = out.Record.ResumePath
		if out.Record.Feedback != nil {
			score := out.Record.Feedback.OverallScore
			msg.OverallScore = &score
		}
	}
	return msg
}

// SubmissionIndex 列表索引与发件箱，由 storage.MySQL 实现
type SubmissionIndex interface {
	UpsertSubmission(ctx context.Context, sub *models.ResumeSubmission, events ...*models.OutboxMessage) error
	CreateOutboxMessages(ctx context.Context, events ...*models.OutboxMessage) error
}

// IndexSink 写入列表索引，并在同一事务中写入待中继投递的事件
type IndexSink struct {
	index SubmissionIndex
	route EventRoute
	now   func() time.Time
}

// NewIndexSink 创建索引写入器
func NewIndexSink(index SubmissionIndex, route EventRoute) *IndexSink {
	return &IndexSink{index: index, route: route, now: time.Now}
}

func (s *IndexSink) Handle(ctx context.Context, out *Outcome) error {
	msg := NewEventMessage(out, s.now())
	payload, err := json.Marshal(msg)
	if err != nil {
		return fmt.Errorf("序列化事件失败: %w", err)
	}
	event := &models.OutboxMessage{
		AggregateID:      out.ID,
		EventType:        msg.EventType,
		Payload:          payload,
		TargetExchange:   s.route.Exchange,
		TargetRoutingKey: s.route.routingKey(msg.EventType),
		Status:           models.OutboxStatusPending,
	}

	if out.Record == nil {
		return s.index.CreateOutboxMessages(ctx, event)
	}
	row, err := submissionRow(out)
	if err != nil {
		return err
	}
	return s.index.UpsertSubmission(ctx, row, event)
}

func submissionRow(out *Outcome) (*models.ResumeSubmission, error) {
	rec := out.Record
	row := &models.ResumeSubmission{
		SubmissionID:   rec.ID,
		CompanyName:    rec.CompanyName,
		JobTitle:       rec.JobTitle,
		ResumePath:     rec.ResumePath,
		ImagePath:      rec.ImagePath,
		State:          string(out.State),
		FeedbackSource: out.FeedbackSource,
	}
	if rec.Feedback != nil {
		score := rec.Feedback.OverallScore
		row.OverallScore = &score
		scores, err := models.MapToJSON(categoryScores(rec.Feedback))
		if err != nil {
			return nil, fmt.Errorf("序列化分项得分失败: %w", err)
		}
		row.CategoryScores = scores
	}
	return row, nil
}

func categoryScores(fb *types.Feedback) map[string]int {
	scores := make(map[string]int, 5)
	for name, c := range fb.Categories() {
		scores[name] = c.Score
	}
	return scores
}

// Publisher 直接发布JSON事件，由 storage.RabbitMQ 实现
type Publisher interface {
	PublishJSON(ctx context.Context, exchangeName, routingKey string, data any, persistent bool) error
}

// PublishSink 未配置MySQL时直接把事件发到消息队列
type PublishSink struct {
	publisher Publisher
	route     EventRoute
	now       func() time.Time
}

// NewPublishSink 创建直接发布器
func NewPublishSink(publisher Publisher, route EventRoute) *PublishSink {
	return &PublishSink{publisher: publisher, route: route, now: time.Now}
}

func (s *PublishSink) Handle(ctx context.Context, out *Outcome) error {
	msg := NewEventMessage(out, s.now())
	return s.publisher.PublishJSON(ctx, s.route.Exchange, s.route.routingKey(msg.EventType), msg, true)
}
