package handler

import (
	"context"
	"errors"
	"fmt"
	"io"
	"path"
	"strconv"
	"strings"
	"time"

	"github.com/cloudwego/hertz/pkg/app"
	"github.com/cloudwego/hertz/pkg/protocol/consts"
	"github.com/rs/zerolog"
	"go.opentelemetry.io/otel/trace"

	"resumind/internal/auth"
	"resumind/internal/constants"
	"resumind/internal/idgen"
	"resumind/internal/pipeline"
	"resumind/internal/platform"
	"resumind/internal/records"
	"resumind/internal/storage"
	"resumind/internal/storage/models"
	"resumind/internal/tracing"
	"resumind/internal/types"
)

const (
	defaultPageSize = 20
	maxPageSize     = 100
	// DefaultMaxUploadSize 上传PDF的大小上限
	DefaultMaxUploadSize = 20 << 20
)

// Analyzer 执行一次完整分析，由 pipeline.Pipeline 实现
type Analyzer interface {
	Run(ctx context.Context, req pipeline.Request) *pipeline.Outcome
}

// StatusReader 读取分析进度与历史，由 storage.Redis 实现
type StatusReader interface {
	GetStatus(ctx context.Context, id string) (*types.ProcessingStatus, error)
	GetStatusHistory(ctx context.Context, id string) ([]types.ProcessingStatus, error)
}

// SubmissionLister 列表索引，由 storage.MySQL 实现
type SubmissionLister interface {
	ListSubmissions(ctx context.Context, limit, offset int) ([]models.ResumeSubmission, int64, error)
}

// ResumeHandler 简历提交与查询
type ResumeHandler struct {
	analyzer      Analyzer
	platform      platform.Platform
	records       *records.Store
	status        StatusReader
	lister        SubmissionLister
	ids           idgen.Generator
	maxUploadSize int
	logger        zerolog.Logger
}

// ResumeOption 配置项
type ResumeOption func(*ResumeHandler)

// WithStatusReader 启用进度查询
func WithStatusReader(r StatusReader) ResumeOption {
	return func(h *ResumeHandler) { h.status = r }
}

// WithSubmissionLister 启用列表查询
func WithSubmissionLister(l SubmissionLister) ResumeOption {
	return func(h *ResumeHandler) { h.lister = l }
}

// WithIDGenerator 异步提交时预先生成ID
func WithIDGenerator(g idgen.Generator) ResumeOption {
	return func(h *ResumeHandler) { h.ids = g }
}

// WithMaxUploadSize 设置上传大小上限
func WithMaxUploadSize(n int) ResumeOption {
	return func(h *ResumeHandler) {
		if n > 0 {
			h.maxUploadSize = n
		}
	}
}

// WithLogger 设置日志记录器
func WithLogger(l zerolog.Logger) ResumeOption {
	return func(h *ResumeHandler) { h.logger = l }
}

// NewResumeHandler 创建简历处理器
func NewResumeHandler(analyzer Analyzer, pf platform.Platform, opts ...ResumeOption) *ResumeHandler {
	h := &ResumeHandler{
		analyzer:      analyzer,
		platform:      pf,
		records:       records.NewStore(pf),
		ids:           idgen.UUIDGenerator{},
		maxUploadSize: DefaultMaxUploadSize,
		logger:        zerolog.Nop(),
	}
	for _, opt := range opts {
		opt(h)
	}
	return h
}

// SubmitResponse 同步提交返回分析结果，异步提交只返回ID与进度地址
type SubmitResponse struct {
	ID             string            `json:"id"`
	State          string            `json:"state"`
	Status         string            `json:"status"`
	Processing     bool              `json:"processing"`
	Redirect       string            `json:"redirect,omitempty"`
	StatusURL      string            `json:"statusUrl,omitempty"`
	FeedbackSource string            `json:"feedbackSource,omitempty"`
	FallbackReason string            `json:"fallbackReason,omitempty"`
	Error          string            `json:"error,omitempty"`
	Record         *types.Submission `json:"record,omitempty"`
}

// Submit POST /api/v1/resumes
func (h *ResumeHandler) Submit(ctx context.Context, c *app.RequestContext) {
	req, err := h.readRequest(c)
	if err != nil {
		abort(ctx, c, consts.StatusBadRequest, err, err.Error())
		return
	}
	ctx = auth.Context(ctx, c)

	if async, _ := strconv.ParseBool(c.PostForm("async")); async {
		req.ID = h.ids.NewID()
		// 请求结束后继续分析，保留会话与追踪信息
		go h.analyzer.Run(context.WithoutCancel(ctx), req)
		c.JSON(consts.StatusAccepted, SubmitResponse{
			ID:         req.ID,
			State:      string(pipeline.StateUploading),
			Status:     constants.StatusUploadingFile,
			Processing: true,
			StatusURL:  fmt.Sprintf("/api/v1/resumes/%s/status", req.ID),
		})
		return
	}

	out := h.analyzer.Run(ctx, req)
	resp := SubmitResponse{
		ID:             out.ID,
		State:          string(out.State),
		Status:         out.Status,
		Processing:     out.Processing,
		Redirect:       out.Redirect,
		FeedbackSource: out.FeedbackSource,
		FallbackReason: out.FallbackReason,
	}
	if out.State == pipeline.StateFailed {
		code := statusCodeFor(out.Err)
		if out.Err != nil {
			resp.Error = out.Err.Error()
			tracing.RecordHTTPError(trace.SpanFromContext(ctx), out.Err, code)
		}
		c.JSON(code, resp)
		return
	}
	resp.Record = out.Record
	c.JSON(consts.StatusOK, resp)
}

func (h *ResumeHandler) readRequest(c *app.RequestContext) (pipeline.Request, error) {
	req := pipeline.Request{
		CompanyName:    strings.TrimSpace(c.PostForm("company-name")),
		JobTitle:       strings.TrimSpace(c.PostForm("job-title")),
		JobDescription: strings.TrimSpace(c.PostForm("job-description")),
	}
	fileHeader, err := c.FormFile("file")
	if err != nil {
		return req, errors.New("file is required")
	}
	if fileHeader.Size > int64(h.maxUploadSize) {
		return req, fmt.Errorf("file exceeds %d bytes", h.maxUploadSize)
	}
	if !strings.EqualFold(path.Ext(fileHeader.Filename), ".pdf") {
		return req, errors.New("only PDF files are accepted")
	}
	f, err := fileHeader.Open()
	if err != nil {
		return req, fmt.Errorf("open upload: %w", err)
	}
	defer f.Close()

	data, err := io.ReadAll(io.LimitReader(f, int64(h.maxUploadSize)+1))
	if err != nil {
		return req, fmt.Errorf("read upload: %w", err)
	}
	req.File = data
	req.Filename = fileHeader.Filename
	return req, nil
}

// statusCodeFor 终止错误对应的HTTP状态码
func statusCodeFor(err error) int {
	switch {
	case errors.Is(err, pipeline.ErrNotAuthenticated):
		return consts.StatusUnauthorized
	case errors.Is(err, pipeline.ErrNotReady):
		return consts.StatusServiceUnavailable
	case errors.Is(err, pipeline.ErrInvalidRequest):
		return consts.StatusBadRequest
	case errors.Is(err, pipeline.ErrConversionFailed):
		return consts.StatusUnprocessableEntity
	case errors.Is(err, pipeline.ErrUploadFailed),
		errors.Is(err, pipeline.ErrImageUploadFailed),
		errors.Is(err, pipeline.ErrRecordWriteFailed):
		return consts.StatusBadGateway
	default:
		return consts.StatusInternalServerError
	}
}

// Get GET /api/v1/resumes/:id
func (h *ResumeHandler) Get(ctx context.Context, c *app.RequestContext) {
	rec, ok := h.load(ctx, c)
	if !ok {
		return
	}
	c.JSON(consts.StatusOK, rec)
}

func (h *ResumeHandler) load(ctx context.Context, c *app.RequestContext) (*types.Submission, bool) {
	id := c.Param("id")
	rec, err := h.records.Load(ctx, id)
	switch {
	case errors.Is(err, records.ErrNotFound):
		abort(ctx, c, consts.StatusNotFound, err, "resume not found")
		return nil, false
	case err != nil:
		h.logger.Error().Err(err).Str("resume_id", id).Msg("读取简历记录失败")
		abort(ctx, c, consts.StatusInternalServerError, err, "failed to load resume")
		return nil, false
	}
	return rec, true
}

// Status GET /api/v1/resumes/:id/status
func (h *ResumeHandler) Status(ctx context.Context, c *app.RequestContext) {
	if h.status == nil {
		abort(ctx, c, consts.StatusNotImplemented, nil, "status tracking is not configured")
		return
	}
	id := c.Param("id")
	status, err := h.status.GetStatus(ctx, id)
	switch {
	case errors.Is(err, storage.ErrNotFound):
		abort(ctx, c, consts.StatusNotFound, err, "status not found")
	case err != nil:
		h.logger.Error().Err(err).Str("resume_id", id).Msg("读取进度失败")
		abort(ctx, c, consts.StatusInternalServerError, err, "failed to load status")
	default:
		c.JSON(consts.StatusOK, status)
	}
}

// StatusHistoryResponse 进度历史，按时间顺序
type StatusHistoryResponse struct {
	ID      string                   `json:"id"`
	History []types.ProcessingStatus `json:"history"`
}

// StatusHistory GET /api/v1/resumes/:id/status/history
func (h *ResumeHandler) StatusHistory(ctx context.Context, c *app.RequestContext) {
	if h.status == nil {
		abort(ctx, c, consts.StatusNotImplemented, nil, "status tracking is not configured")
		return
	}
	id := c.Param("id")
	history, err := h.status.GetStatusHistory(ctx, id)
	if err != nil {
		h.logger.Error().Err(err).Str("resume_id", id).Msg("读取进度历史失败")
		abort(ctx, c, consts.StatusInternalServerError, err, "failed to load status history")
		return
	}
	if len(history) == 0 {
		abort(ctx, c, consts.StatusNotFound, nil, "status not found")
		return
	}
	c.JSON(consts.StatusOK, StatusHistoryResponse{ID: id, History: history})
}

// File GET /api/v1/resumes/:id/file
func (h *ResumeHandler) File(ctx context.Context, c *app.RequestContext) {
	rec, ok := h.load(ctx, c)
	if !ok {
		return
	}
	h.stream(ctx, c, rec.ResumePath, "application/pdf")
}

// Image GET /api/v1/resumes/:id/image
func (h *ResumeHandler) Image(ctx context.Context, c *app.RequestContext) {
	rec, ok := h.load(ctx, c)
	if !ok {
		return
	}
	h.stream(ctx, c, rec.ImagePath, "image/png")
}

func (h *ResumeHandler) stream(ctx context.Context, c *app.RequestContext, p, contentType string) {
	if p == "" {
		abort(ctx, c, consts.StatusNotFound, nil, "file not found")
		return
	}
	data, err := h.platform.Read(ctx, p)
	switch {
	case errors.Is(err, storage.ErrObjectNotFound):
		abort(ctx, c, consts.StatusNotFound, err, "file not found")
		return
	case err != nil:
		h.logger.Error().Err(err).Str("path", p).Msg("读取文件失败")
		abort(ctx, c, consts.StatusBadGateway, err, "failed to read file")
		return
	}
	c.Header("Cache-Control", "private, max-age=300")
	c.Data(consts.StatusOK, contentType, data)
}

// ListItem 列表项
type ListItem struct {
	ID             string         `json:"id"`
	CompanyName    string         `json:"companyName"`
	JobTitle       string         `json:"jobTitle"`
	State          string         `json:"state"`
	FeedbackSource string         `json:"feedbackSource,omitempty"`
	OverallScore   *int           `json:"overallScore,omitempty"`
	CategoryScores map[string]int `json:"categoryScores,omitempty"`
	CreatedAt      time.Time      `json:"createdAt"`
}

// ListResponse 分页结果
type ListResponse struct {
	Items  []ListItem `json:"items"`
	Total  int64      `json:"total"`
	Limit  int        `json:"limit"`
	Offset int        `json:"offset"`
}

// List GET /api/v1/resumes
func (h *ResumeHandler) List(ctx context.Context, c *app.RequestContext) {
	if h.lister == nil {
		abort(ctx, c, consts.StatusNotImplemented, nil, "listing is not configured")
		return
	}
	limit := defaultPageSize
	if v, err := strconv.Atoi(c.Query("limit")); err == nil && v > 0 && v <= maxPageSize {
		limit = v
	}
	offset := 0
	if v, err := strconv.Atoi(c.Query("offset")); err == nil && v > 0 {
		offset = v
	}

	rows, total, err := h.lister.ListSubmissions(ctx, limit, offset)
	if err != nil {
		h.logger.Error().Err(err).Msg("查询简历列表失败")
		abort(ctx, c, consts.StatusInternalServerError, err, "failed to list resumes")
		return
	}

	items := make([]ListItem, 0, len(rows))
	for _, row := range rows {
		scores, err := models.JSONToMap[int](row.CategoryScores)
		if err != nil {
			h.logger.Warn().Err(err).Str("resume_id", row.SubmissionID).Msg("分项得分格式错误")
		}
		items = append(items, ListItem{
			ID:             row.SubmissionID,
			CompanyName:    row.CompanyName,
			JobTitle:       row.JobTitle,
			State:          row.State,
			FeedbackSource: row.FeedbackSource,
			OverallScore:   row.OverallScore,
			CategoryScores: scores,
			CreatedAt:      row.CreatedAt,
		})
	}
	c.JSON(consts.StatusOK, ListResponse{Items: items, Total: total, Limit: limit, Offset: offset})
}
