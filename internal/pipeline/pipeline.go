// Package pipeline 实现简历分析的主流程：上传、转换、识别、AI分析、解析或降级、保存。
package pipeline

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/cloudwego/eino/schema"
	"github.com/rs/zerolog"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"resumind/internal/constants"
	"resumind/internal/converter"
	"resumind/internal/feedback"
	"resumind/internal/idgen"
	"resumind/internal/platform"
	"resumind/internal/records"
	"resumind/internal/tracing"
	"resumind/internal/types"
)

const (
	FeedbackSourceAI       = "ai"
	FeedbackSourceFallback = "fallback"
)

var tracer = otel.Tracer("resumind/pipeline")

// DocumentConverter PDF首页转图片
type DocumentConverter interface {
	Convert(ctx context.Context, pdf []byte, filename string) converter.Result
}

// Request 一次提交
type Request struct {
	ID             string // 为空时自动生成
	File           []byte
	Filename       string
	CompanyName    string
	JobTitle       string
	JobDescription string
}

func (r Request) validate() error {
	var missing []string
	if len(r.File) == 0 {
		missing = append(missing, "file")
	}
	for name, v := range map[string]string{
		"company-name":    r.CompanyName,
		"job-title":       r.JobTitle,
		"job-description": r.JobDescription,
	} {
		if strings.TrimSpace(v) == "" {
			missing = append(missing, name)
		}
	}
	if len(missing) > 0 {
		return fmt.Errorf("缺少字段: %s", strings.Join(missing, ", "))
	}
	return nil
}

// Outcome 流程结果
type Outcome struct {
	ID             string
	State          State
	States         []State // 经过的阶段，按顺序
	Status         string  // 最后一条面向用户的进度
	Record         *types.Submission
	Redirect       string
	Processing     bool
	Err            error
	FallbackReason string
	FeedbackSource string
}

// Pipeline 分析流程
type Pipeline struct {
	platform  platform.Platform
	converter DocumentConverter
	records   *records.Store
	ids       idgen.Generator
	reporter  StatusReporter
	sinks     []EventSink
	minText   int
	logger    zerolog.Logger
	now       func() time.Time
}

// Option 流程配置项
type Option func(*Pipeline)

// WithIDGenerator 设置提交ID生成器
func WithIDGenerator(g idgen.Generator) Option {
	return func(p *Pipeline) { p.ids = g }
}

// WithReporter 追加进度接收者
func WithReporter(r StatusReporter) Option {
	return func(p *Pipeline) {
		if r == nil {
			return
		}
		if p.reporter == nil {
			p.reporter = r
			return
		}
		p.reporter = multiReporter{p.reporter, r}
	}
}

// WithEventSinks 追加终态事件处理器
func WithEventSinks(sinks ...EventSink) Option {
	return func(p *Pipeline) { p.sinks = append(p.sinks, sinks...) }
}

// WithMinTextLength 设置OCR文本可用的最小长度
func WithMinTextLength(n int) Option {
	return func(p *Pipeline) {
		if n > 0 {
			p.minText = n
		}
	}
}

// WithLogger 设置日志记录器
func WithLogger(l zerolog.Logger) Option {
	return func(p *Pipeline) { p.logger = l }
}

// New 创建分析流程
func New(pf platform.Platform, conv DocumentConverter, opts ...Option) *Pipeline {
	p := &Pipeline{
		platform:  pf,
		converter: conv,
		records:   records.NewStore(pf),
		ids:       idgen.UUIDGenerator{},
		minText:   constants.MinOCRTextLength,
		logger:    zerolog.Nop(),
		now:       time.Now,
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// run 单次执行的可变状态，只在一个goroutine内使用
type run struct {
	p       *Pipeline
	req     Request
	out     *Outcome
	text    string
	span    trace.Span
	started bool
	logger  zerolog.Logger
}

// Run 同步执行一次完整的分析，各阶段严格串行
func (p *Pipeline) Run(ctx context.Context, req Request) *Outcome {
	id := req.ID
	if id == "" {
		id = p.ids.NewID()
	}
	ctx, span := tracer.Start(ctx, "pipeline.Run", trace.WithAttributes(
		attribute.String("resume.id", id),
		attribute.String("resume.company_name", tracing.SafeAttributeValue("company_name", req.CompanyName, tracing.DefaultMaxLength)),
		attribute.String("resume.job_title", tracing.SafeAttributeValue("job_title", req.JobTitle, tracing.DefaultMaxLength)),
		attribute.String("resume.job_description", tracing.SafeAttributeValue("job_description", req.JobDescription, tracing.DefaultMaxLength)),
		attribute.Int("resume.file_size", len(req.File)),
	))
	defer span.End()

	r := &run{
		p:      p,
		req:    req,
		out:    &Outcome{ID: id, State: StateIdle, States: []State{StateIdle}, Processing: true},
		span:   span,
		logger: p.logger.With().Str("resume_id", id).Logger(),
	}
	r.execute(ctx)

	span.SetAttributes(attribute.String("pipeline.state", string(r.out.State)))
	if r.out.FallbackReason != "" {
		span.SetAttributes(attribute.String("pipeline.fallback_reason", r.out.FallbackReason))
	}
	if r.started {
		p.emit(ctx, r.out)
	}
	return r.out
}

func (r *run) execute(ctx context.Context) {
	pf := r.p.platform
	if !pf.IsAuthenticated(ctx) {
		r.fail(ctx, ErrNotAuthenticated, nil, constants.StatusNotAuthenticated)
		return
	}
	if !pf.IsReady(ctx) {
		r.fail(ctx, ErrNotReady, nil, constants.StatusNotReady)
		return
	}
	if err := r.req.validate(); err != nil {
		r.fail(ctx, ErrInvalidRequest, err, constants.StatusInvalidRequest)
		return
	}

	r.started = true
	r.transition(StateUploading)
	resumeRef, ok := r.upload(ctx, constants.StatusUploadingFile, platform.File{
		Name:        r.req.Filename,
		Data:        r.req.File,
		ContentType: "application/pdf",
	})
	if !ok {
		r.fail(ctx, ErrUploadFailed, nil, constants.StatusUploadFailed)
		return
	}

	r.transition(StateConverting)
	r.status(ctx, constants.StatusConverting)
	converted := r.convert(ctx)
	if converted.Failed() {
		msg := converted.Error
		if msg == "" {
			msg = "conversion produced no image"
		}
		r.fail(ctx, ErrConversionFailed, errors.New(msg), fmt.Sprintf(constants.StatusConversionFailedFm, msg))
		return
	}
	imageRef, ok := r.upload(ctx, constants.StatusUploadingImage, platform.File{
		Name:        converted.Image.Filename,
		Data:        converted.Image.Data,
		ContentType: converted.Image.ContentType,
	})
	if !ok {
		r.fail(ctx, ErrImageUploadFailed, nil, constants.StatusImageUploadFailed)
		return
	}

	r.status(ctx, constants.StatusPreparing)
	record := &types.Submission{
		ID:             r.out.ID,
		ResumePath:     resumeRef.Path,
		ImagePath:      imageRef.Path,
		CompanyName:    r.req.CompanyName,
		JobTitle:       r.req.JobTitle,
		JobDescription: r.req.JobDescription,
	}
	if err := r.p.records.Save(ctx, record); err != nil {
		r.fail(ctx, ErrRecordWriteFailed, err, constants.StatusRecordWriteFailed)
		return
	}
	r.out.Record = record

	r.transition(StateExtractingText)
	r.status(ctx, constants.StatusExtractingText)
	text, err := r.extractText(ctx, imageRef.Path)
	r.text = text
	if err != nil {
		r.fallback(ctx, ReasonOCRFailed, ErrOCRFailed, err, constants.StatusFallback)
		return
	}
	if n := utf8.RuneCountInString(text); n < r.p.minText {
		r.fallback(ctx, ReasonInsufficientText, ErrInsufficientText,
			fmt.Errorf("识别到 %d 个字符，少于 %d", n, r.p.minText), constants.StatusFallback)
		return
	}

	r.transition(StateAnalyzingWithAI)
	r.status(ctx, constants.StatusAnalyzing)
	reply, err := r.analyze(ctx)
	if err != nil {
		r.fallback(ctx, ReasonAIUnavailable, ErrAIUnavailable, err, constants.StatusAIFallback)
		return
	}

	r.transition(StateParsing)
	r.status(ctx, constants.StatusParsing)
	fb, err := feedback.ParseResponse(reply)
	if err != nil {
		r.fallback(ctx, ReasonParseFailed, ErrParseFailed, err, constants.StatusAIFallback)
		return
	}
	r.persist(ctx, StatePersistedSuccess, fb, FeedbackSourceAI)
}

func (r *run) upload(ctx context.Context, msg string, file platform.File) (*platform.FileRef, bool) {
	r.status(ctx, msg)
	ctx, span := tracer.Start(ctx, "pipeline.Upload", trace.WithAttributes(
		attribute.String("file.name", tracing.TruncateString(file.Name, tracing.DefaultMaxLength)),
		attribute.Int("file.size", len(file.Data)),
	))
	defer span.End()

	ref, err := r.p.platform.Upload(ctx, file)
	if err != nil {
		tracing.RecordError(span, err, tracing.ErrorTypeStorage)
		r.logger.Error().Err(err).Str("file", file.Name).Msg("上传文件失败")
		return nil, false
	}
	if ref == nil || ref.Path == "" {
		r.logger.Error().Str("file", file.Name).Msg("文件存储未返回路径")
		return nil, false
	}
	return ref, true
}

func (r *run) convert(ctx context.Context) converter.Result {
	ctx, span := tracer.Start(ctx, "pipeline.Convert")
	defer span.End()
	res := r.p.converter.Convert(ctx, r.req.File, r.req.Filename)
	if res.Failed() {
		tracing.RecordError(span, errors.New(res.Error), tracing.ErrorTypeConversion)
	} else {
		span.SetAttributes(
			attribute.Int("image.width", res.Image.Width),
			attribute.Int("image.height", res.Image.Height),
		)
	}
	return res
}

func (r *run) extractText(ctx context.Context, imagePath string) (string, error) {
	ctx, span := tracer.Start(ctx, "pipeline.ExtractText")
	defer span.End()
	text, err := r.p.platform.Img2Txt(ctx, imagePath)
	if err != nil {
		tracing.RecordRecovered(span, err, tracing.ErrorTypeOCR, ReasonOCRFailed)
		return text, err
	}
	span.SetAttributes(
		attribute.Int("ocr.text_length", utf8.RuneCountInString(text)),
		attribute.String("ocr.text_preview", tracing.SafeResumeContent(text)),
	)
	return text, nil
}

func (r *run) analyze(ctx context.Context) (*schema.Message, error) {
	ctx, span := tracer.Start(ctx, "pipeline.Analyze")
	defer span.End()
	messages := feedback.BuildMessages(r.req.JobTitle, r.req.JobDescription, r.text)
	reply, err := r.p.platform.Chat(ctx, messages)
	if err == nil && reply == nil {
		err = errors.New("对话模型返回空消息")
	}
	if err != nil {
		tracing.RecordRecovered(span, err, tracing.ErrorTypeLLM, ReasonAIUnavailable)
		return nil, err
	}
	return reply, nil
}

// fallback 用启发式分析结果完成流程
func (r *run) fallback(ctx context.Context, reason string, base, cause error, msg string) {
	r.out.FallbackReason = reason
	r.logger.Warn().Err(cause).Str("reason", reason).Msg("使用基础分析")
	tracing.RecordRecovered(r.span, cause, tracing.ErrorTypeInternal, reason)
	r.status(ctx, msg)

	fb := feedback.Fallback(r.text, r.req.JobTitle, r.req.JobDescription)
	r.out.Err = stageError(r.out.ID, r.out.State, base, cause)
	r.persist(ctx, StatePersistedFallback, &fb, FeedbackSourceFallback)
}

func (r *run) persist(ctx context.Context, final State, fb *types.Feedback, source string) {
	record := *r.out.Record
	record.Feedback = fb
	if err := r.p.records.Save(ctx, &record); err != nil {
		r.fail(ctx, ErrRecordWriteFailed, err, constants.StatusRecordWriteFailed)
		return
	}
	r.out.Record = &record
	r.out.FeedbackSource = source
	r.out.Redirect = fmt.Sprintf(constants.ResultPathFormat, r.out.ID)
	r.transition(final)
	r.out.Processing = false
	r.status(ctx, constants.StatusCompleted)
	r.logger.Info().Str("state", string(final)).Int("overall_score", fb.OverallScore).Msg("简历分析完成")
}

func (r *run) fail(ctx context.Context, base, cause error, msg string) {
	err := stageError(r.out.ID, r.out.State, base, cause)
	r.out.Err = err
	r.transition(StateFailed)
	r.out.Processing = false
	r.status(ctx, msg)
	tracing.RecordError(r.span, err, errorTypeFor(base))
	r.logger.Error().Err(err).Msg("简历分析失败")
}

func errorTypeFor(err error) tracing.ErrorType {
	switch {
	case errors.Is(err, ErrNotAuthenticated), errors.Is(err, ErrNotReady):
		return tracing.ErrorTypePermission
	case errors.Is(err, ErrInvalidRequest):
		return tracing.ErrorTypeValidation
	case errors.Is(err, ErrConversionFailed):
		return tracing.ErrorTypeConversion
	default:
		return tracing.ErrorTypeStorage
	}
}

func (r *run) transition(next State) {
	if !CanTransition(r.out.State, next) {
		// 只可能是编码错误，保留现场便于排查
		r.logger.Error().Str("from", string(r.out.State)).Str("to", string(next)).Msg("非法的状态转换")
	}
	r.out.State = next
	r.out.States = append(r.out.States, next)
	r.span.AddEvent("state", trace.WithAttributes(attribute.String("pipeline.state", string(next))))
}

func (r *run) status(ctx context.Context, msg string) {
	r.out.Status = msg
	if r.p.reporter == nil {
		return
	}
	r.p.reporter.Report(ctx, types.ProcessingStatus{
		ID:         r.out.ID,
		State:      string(r.out.State),
		Message:    msg,
		Processing: r.out.Processing,
		Redirect:   r.out.Redirect,
		UpdatedAt:  r.p.now(),
	})
}

func (p *Pipeline) emit(ctx context.Context, out *Outcome) {
	for _, sink := range p.sinks {
		if err := sink.Handle(ctx, out); err != nil {
			p.logger.Warn().Err(err).Str("resume_id", out.ID).Msg("处理终态事件失败")
		}
	}
}
