package pipeline

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"sync"
	"testing"

	"github.com/cloudwego/eino/schema"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/sdk/trace/tracetest"

	"resumind/internal/auth"
	"resumind/internal/constants"
	"resumind/internal/converter"
	"resumind/internal/feedback"
	"resumind/internal/idgen"
	"resumind/internal/llm"
	"resumind/internal/platform"
	"resumind/internal/records"
	"resumind/internal/types"
)

// fakePlatform 记录所有调用，按需注入失败
type fakePlatform struct {
	mu sync.Mutex

	authenticated bool
	ready         bool
	uploadErr     map[string]error // 按文件名
	nilUpload     map[string]bool
	setErrAfter   int // 第N次写入开始失败，0表示不失败
	ocrText       string
	ocrErr        error
	chat          *llm.MockChatModel

	files map[string][]byte
	kv    map[string]string
	sets  int
	calls []string
}

var _ platform.Platform = (*fakePlatform)(nil)

func newFakePlatform(ocrText string, chat *llm.MockChatModel) *fakePlatform {
	return &fakePlatform{
		authenticated: true,
		ready:         true,
		uploadErr:     map[string]error{},
		nilUpload:     map[string]bool{},
		ocrText:       ocrText,
		chat:          chat,
		files:         map[string][]byte{},
		kv:            map[string]string{},
	}
}

func (f *fakePlatform) record(call string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls = append(f.calls, call)
}

func (f *fakePlatform) Upload(_ context.Context, file platform.File) (*platform.FileRef, error) {
	f.record("upload:" + file.Name)
	if err := f.uploadErr[file.Name]; err != nil {
		return nil, err
	}
	if f.nilUpload[file.Name] {
		return nil, nil
	}
	p := "/uploads/" + file.Name
	f.files[p] = file.Data
	return &platform.FileRef{Path: p, Name: file.Name, Size: len(file.Data)}, nil
}

func (f *fakePlatform) Read(_ context.Context, p string) ([]byte, error) {
	data, ok := f.files[p]
	if !ok {
		return nil, errors.New("not found")
	}
	return data, nil
}

func (f *fakePlatform) Get(_ context.Context, key string) (string, bool, error) {
	v, ok := f.kv[key]
	return v, ok, nil
}

func (f *fakePlatform) Set(_ context.Context, key, value string) error {
	f.record("set:" + key)
	f.sets++
	if f.setErrAfter > 0 && f.sets >= f.setErrAfter {
		return errors.New("kv unavailable")
	}
	f.kv[key] = value
	return nil
}

func (f *fakePlatform) Chat(ctx context.Context, messages []*schema.Message) (*schema.Message, error) {
	f.record("chat")
	if f.chat == nil {
		return nil, errors.New("no chat model")
	}
	return f.chat.Generate(ctx, messages)
}

func (f *fakePlatform) Img2Txt(_ context.Context, imagePath string) (string, error) {
	f.record("img2txt:" + imagePath)
	return f.ocrText, f.ocrErr
}

func (f *fakePlatform) SignIn(context.Context, string) (*auth.Session, error) {
	return nil, auth.ErrInvalidCredential
}

func (f *fakePlatform) IsAuthenticated(context.Context) bool { return f.authenticated }
func (f *fakePlatform) IsReady(context.Context) bool         { return f.ready }

type fakeConverter struct {
	result converter.Result
	calls  int
}

func (c *fakeConverter) Convert(context.Context, []byte, string) converter.Result {
	c.calls++
	return c.result
}

func okConverter() *fakeConverter {
	return &fakeConverter{result: converter.Result{Image: &converter.Image{
		Filename:    "resume.png",
		ContentType: "image/png",
		Data:        []byte("png-bytes"),
		Width:       2448,
		Height:      3168,
	}}}
}

type statusLog struct {
	mu       sync.Mutex
	statuses []types.ProcessingStatus
	platform *fakePlatform
}

func (l *statusLog) Report(_ context.Context, s types.ProcessingStatus) {
	l.mu.Lock()
	l.statuses = append(l.statuses, s)
	l.mu.Unlock()
	if l.platform != nil {
		l.platform.record("status:" + s.Message)
	}
}

func (l *statusLog) messages() []string {
	out := make([]string, 0, len(l.statuses))
	for _, s := range l.statuses {
		out = append(out, s.Message)
	}
	return out
}

type recordingSink struct {
	outcomes []*Outcome
	err      error
}

func (s *recordingSink) Handle(_ context.Context, out *Outcome) error {
	s.outcomes = append(s.outcomes, out)
	return s.err
}

func validRequest() Request {
	return Request{
		File:           []byte("%PDF-1.7 fake"),
		Filename:       "resume.pdf",
		CompanyName:    "Acme",
		JobTitle:       "Backend Engineer",
		JobDescription: "Build Go services with Redis and MySQL",
	}
}

func longResumeText() string {
	return strings.Repeat("Experience Education Skills Go Redis ", 6)
}

func aiFeedbackJSON(t *testing.T) string {
	t.Helper()
	fb := feedback.Fallback(longResumeText(), "Backend Engineer", "")
	fb.OverallScore = 91
	raw, err := json.Marshal(fb)
	require.NoError(t, err)
	return "```json\n" + string(raw) + "\n```"
}

func loadRecord(t *testing.T, pf *fakePlatform, id string) *types.Submission {
	t.Helper()
	raw, ok := pf.kv[records.Key(id)]
	require.True(t, ok, "记录不存在: %s", id)
	var sub types.Submission
	require.NoError(t, json.Unmarshal([]byte(raw), &sub))
	return &sub
}

func TestRunSuccess(t *testing.T) {
	chat := llm.NewMockChatModel(aiFeedbackJSON(t), nil)
	pf := newFakePlatform(longResumeText(), chat)
	log := &statusLog{}
	sink := &recordingSink{}
	p := New(pf, okConverter(),
		WithIDGenerator(idgen.NewSequence("id-1")),
		WithReporter(log),
		WithEventSinks(sink),
	)

	out := p.Run(context.Background(), validRequest())

	require.NoError(t, out.Err)
	assert.Equal(t, "id-1", out.ID)
	assert.Equal(t, StatePersistedSuccess, out.State)
	assert.Equal(t, FeedbackSourceAI, out.FeedbackSource)
	assert.Empty(t, out.FallbackReason)
	assert.Equal(t, "/resume/id-1", out.Redirect)
	assert.False(t, out.Processing)
	assert.Equal(t, []State{
		StateIdle, StateUploading, StateConverting, StateExtractingText,
		StateAnalyzingWithAI, StateParsing, StatePersistedSuccess,
	}, out.States)

	rec := loadRecord(t, pf, "id-1")
	require.NotNil(t, rec.Feedback)
	assert.Equal(t, 91, rec.Feedback.OverallScore)
	assert.Equal(t, "/uploads/resume.pdf", rec.ResumePath)
	assert.Equal(t, "/uploads/resume.png", rec.ImagePath)
	assert.Equal(t, "Acme", rec.CompanyName)

	// 记录写入两次：先占位，再写入分析结果
	assert.Equal(t, 2, pf.sets)

	assert.Equal(t, []string{
		constants.StatusUploadingFile,
		constants.StatusConverting,
		constants.StatusUploadingImage,
		constants.StatusPreparing,
		constants.StatusExtractingText,
		constants.StatusAnalyzing,
		constants.StatusParsing,
		constants.StatusCompleted,
	}, log.messages())
	last := log.statuses[len(log.statuses)-1]
	assert.False(t, last.Processing)
	assert.Equal(t, "/resume/id-1", last.Redirect)

	require.Len(t, sink.outcomes, 1)
	assert.Same(t, out, sink.outcomes[0])

	require.Len(t, chat.Calls(), 1)
	msgs := chat.LastMessages()
	require.NotEmpty(t, msgs)
	assert.Contains(t, msgs[len(msgs)-1].Content, "Experience Education Skills")
}

func TestStatusReportedBeforeEachCall(t *testing.T) {
	pf := newFakePlatform(longResumeText(), llm.NewMockChatModel(aiFeedbackJSON(t), nil))
	log := &statusLog{platform: pf}
	p := New(pf, okConverter(), WithIDGenerator(idgen.NewSequence("id-2")), WithReporter(log))

	p.Run(context.Background(), validRequest())

	index := func(call string) int {
		for i, c := range pf.calls {
			if c == call {
				return i
			}
		}
		t.Fatalf("未找到调用 %s: %v", call, pf.calls)
		return -1
	}
	assert.Less(t, index("status:"+constants.StatusUploadingFile), index("upload:resume.pdf"))
	assert.Less(t, index("status:"+constants.StatusUploadingImage), index("upload:resume.png"))
	assert.Less(t, index("status:"+constants.StatusExtractingText), index("img2txt:/uploads/resume.png"))
	assert.Less(t, index("status:"+constants.StatusAnalyzing), index("chat"))
	assert.Less(t, index("set:"+records.Key("id-2")), index("img2txt:/uploads/resume.png"), "OCR前必须已写入占位记录")
}

// AI调用失败时使用基础分析，结果与启发式规则输出一致
func TestRunAIFailureFallsBack(t *testing.T) {
	text := strings.Repeat("a", 200)
	chat := llm.NewMockChatModel("", errors.New("upstream 503"))
	pf := newFakePlatform(text, chat)
	log := &statusLog{}
	req := validRequest()
	p := New(pf, okConverter(), WithIDGenerator(idgen.NewSequence("id-a")), WithReporter(log))

	out := p.Run(context.Background(), req)

	assert.Equal(t, StatePersistedFallback, out.State)
	assert.Equal(t, ReasonAIUnavailable, out.FallbackReason)
	assert.Equal(t, FeedbackSourceFallback, out.FeedbackSource)
	assert.ErrorIs(t, out.Err, ErrAIUnavailable)
	assert.Equal(t, "/resume/id-a", out.Redirect)

	expected := feedback.Fallback(text, req.JobTitle, req.JobDescription)
	rec := loadRecord(t, pf, "id-a")
	require.NotNil(t, rec.Feedback)
	assert.Equal(t, expected, *rec.Feedback)
	assert.Contains(t, log.messages(), constants.StatusAIFallback)
	assert.Equal(t, constants.StatusCompleted, out.Status)
}

// 文本过短时不调用AI
func TestRunInsufficientTextSkipsAI(t *testing.T) {
	chat := llm.NewMockChatModel(aiFeedbackJSON(t), nil)
	pf := newFakePlatform("too short", chat)
	log := &statusLog{}
	p := New(pf, okConverter(), WithIDGenerator(idgen.NewSequence("id-b")), WithReporter(log))

	out := p.Run(context.Background(), validRequest())

	assert.Empty(t, chat.Calls())
	assert.NotContains(t, out.States, StateAnalyzingWithAI)
	assert.Equal(t, StatePersistedFallback, out.State)
	assert.Equal(t, ReasonInsufficientText, out.FallbackReason)
	assert.Contains(t, log.messages(), constants.StatusFallback)

	rec := loadRecord(t, pf, "id-b")
	require.NotNil(t, rec.Feedback)
	assert.Equal(t, feedback.Fallback("too short", "Backend Engineer", validRequest().JobDescription), *rec.Feedback)
}

// 阈值按识别文本的原始长度计算
func TestRunTextLengthThreshold(t *testing.T) {
	tests := []struct {
		name    string
		text    string
		aiCalls int
		state   State
	}{
		{"恰好50个字符", strings.Repeat("a", 50), 1, StatePersistedSuccess},
		{"49个字符", strings.Repeat("a", 49), 0, StatePersistedFallback},
		{"首尾空白计入长度", strings.Repeat(" ", 5) + strings.Repeat("a", 45) + strings.Repeat(" ", 5), 1, StatePersistedSuccess},
		{"多字节字符按字符计", strings.Repeat("简", 50), 1, StatePersistedSuccess},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			chat := llm.NewMockChatModel(aiFeedbackJSON(t), nil)
			pf := newFakePlatform(tt.text, chat)
			p := New(pf, okConverter())

			out := p.Run(context.Background(), validRequest())

			assert.Len(t, chat.Calls(), tt.aiCalls)
			assert.Equal(t, tt.state, out.State)
		})
	}
}

func TestRunSpanAttributesHidePersonalData(t *testing.T) {
	sr := tracetest.NewSpanRecorder()
	tp := sdktrace.NewTracerProvider(sdktrace.WithSpanProcessor(sr))
	otel.SetTracerProvider(tp)
	t.Cleanup(func() { _ = tp.Shutdown(context.Background()) })

	text := "Jane Doe jane@example.com 555-123-4567 " + longResumeText()
	pf := newFakePlatform(text, llm.NewMockChatModel(aiFeedbackJSON(t), nil))
	p := New(pf, okConverter())

	out := p.Run(context.Background(), validRequest())
	require.Equal(t, StatePersistedSuccess, out.State)

	attrs := map[string]string{}
	for _, span := range sr.Ended() {
		for _, kv := range span.Attributes() {
			attrs[span.Name()+"/"+string(kv.Key)] = kv.Value.Emit()
		}
	}
	assert.Equal(t, "A**e", attrs["pipeline.Run/resume.company_name"])
	preview := attrs["pipeline.ExtractText/ocr.text_preview"]
	require.NotEmpty(t, preview)
	assert.NotContains(t, preview, "jane@example.com")
	assert.NotContains(t, preview, "555-123-4567")
	assert.True(t, strings.HasPrefix(preview, "Jane Doe ja"))
}

func TestRunMinTextLengthOption(t *testing.T) {
	chat := llm.NewMockChatModel(aiFeedbackJSON(t), nil)
	pf := newFakePlatform("too short", chat)
	p := New(pf, okConverter(), WithMinTextLength(5))

	out := p.Run(context.Background(), validRequest())

	assert.Equal(t, StatePersistedSuccess, out.State)
	assert.Len(t, chat.Calls(), 1)
}

func TestRunOCRFailureFallsBack(t *testing.T) {
	chat := llm.NewMockChatModel(aiFeedbackJSON(t), nil)
	pf := newFakePlatform("", chat)
	pf.ocrErr = errors.New("tika timeout")
	p := New(pf, okConverter(), WithIDGenerator(idgen.NewSequence("id-ocr")))

	out := p.Run(context.Background(), validRequest())

	assert.Empty(t, chat.Calls())
	assert.Equal(t, StatePersistedFallback, out.State)
	assert.Equal(t, ReasonOCRFailed, out.FallbackReason)
	var se *StageError
	require.ErrorAs(t, out.Err, &se)
	assert.Equal(t, StateExtractingText, se.Stage)
	assert.Contains(t, se.Detail, "tika timeout")
}

func TestRunUnparsableResponseFallsBack(t *testing.T) {
	chat := llm.NewMockChatModel("I cannot help with that.", nil)
	pf := newFakePlatform(longResumeText(), chat)
	p := New(pf, okConverter(), WithIDGenerator(idgen.NewSequence("id-parse")))

	out := p.Run(context.Background(), validRequest())

	assert.Equal(t, StatePersistedFallback, out.State)
	assert.Equal(t, ReasonParseFailed, out.FallbackReason)
	assert.Contains(t, out.States, StateParsing)
	rec := loadRecord(t, pf, "id-parse")
	assert.NotNil(t, rec.Feedback)
}

// 上传返回空引用时流程失败，不写入记录
func TestRunUploadNilStopsWithoutRecord(t *testing.T) {
	chat := llm.NewMockChatModel(aiFeedbackJSON(t), nil)
	pf := newFakePlatform(longResumeText(), chat)
	pf.nilUpload["resume.pdf"] = true
	conv := okConverter()
	log := &statusLog{}
	sink := &recordingSink{}
	p := New(pf, conv, WithIDGenerator(idgen.NewSequence("id-c")), WithReporter(log), WithEventSinks(sink))

	out := p.Run(context.Background(), validRequest())

	assert.Equal(t, StateFailed, out.State)
	assert.ErrorIs(t, out.Err, ErrUploadFailed)
	assert.False(t, out.Processing)
	assert.Equal(t, constants.StatusUploadFailed, out.Status)
	assert.Empty(t, pf.kv)
	assert.Zero(t, conv.calls)
	assert.Empty(t, chat.Calls())
	assert.Empty(t, out.Redirect)
	require.Len(t, sink.outcomes, 1, "上传阶段的失败也应产生事件")
}

func TestRunImageUploadFailure(t *testing.T) {
	pf := newFakePlatform(longResumeText(), llm.NewMockChatModel(aiFeedbackJSON(t), nil))
	pf.uploadErr["resume.png"] = errors.New("bucket gone")
	p := New(pf, okConverter())

	out := p.Run(context.Background(), validRequest())

	assert.Equal(t, StateFailed, out.State)
	assert.ErrorIs(t, out.Err, ErrImageUploadFailed)
	assert.Equal(t, constants.StatusImageUploadFailed, out.Status)
	assert.Empty(t, pf.kv)
}

func TestRunConversionFailure(t *testing.T) {
	pf := newFakePlatform(longResumeText(), llm.NewMockChatModel(aiFeedbackJSON(t), nil))
	conv := &fakeConverter{result: converter.Result{Error: "failed to render page"}}
	p := New(pf, conv)

	out := p.Run(context.Background(), validRequest())

	assert.Equal(t, StateFailed, out.State)
	assert.ErrorIs(t, out.Err, ErrConversionFailed)
	assert.Equal(t, fmt.Sprintf(constants.StatusConversionFailedFm, "failed to render page"), out.Status)
	assert.Empty(t, pf.kv)
	assert.Equal(t, []string{"upload:resume.pdf"}, pf.calls)
}

func TestRunRecordWriteFailure(t *testing.T) {
	t.Run("占位记录", func(t *testing.T) {
		pf := newFakePlatform(longResumeText(), llm.NewMockChatModel(aiFeedbackJSON(t), nil))
		pf.setErrAfter = 1
		out := New(pf, okConverter()).Run(context.Background(), validRequest())

		assert.Equal(t, StateFailed, out.State)
		assert.ErrorIs(t, out.Err, ErrRecordWriteFailed)
		assert.Nil(t, out.Record)
	})

	t.Run("最终结果", func(t *testing.T) {
		pf := newFakePlatform(longResumeText(), llm.NewMockChatModel(aiFeedbackJSON(t), nil))
		pf.setErrAfter = 2
		out := New(pf, okConverter()).Run(context.Background(), validRequest())

		assert.Equal(t, StateFailed, out.State)
		assert.ErrorIs(t, out.Err, ErrRecordWriteFailed)
		assert.Equal(t, constants.StatusRecordWriteFailed, out.Status)
		assert.Empty(t, out.Redirect)
	})
}

func TestRunPreconditions(t *testing.T) {
	tests := []struct {
		name    string
		setup   func(*fakePlatform)
		req     func() Request
		wantErr error
		status  string
	}{
		{
			name:    "未登录",
			setup:   func(p *fakePlatform) { p.authenticated = false },
			req:     validRequest,
			wantErr: ErrNotAuthenticated,
			status:  constants.StatusNotAuthenticated,
		},
		{
			name:    "服务未就绪",
			setup:   func(p *fakePlatform) { p.ready = false },
			req:     validRequest,
			wantErr: ErrNotReady,
			status:  constants.StatusNotReady,
		},
		{
			name:  "缺少文件",
			setup: func(*fakePlatform) {},
			req: func() Request {
				r := validRequest()
				r.File = nil
				return r
			},
			wantErr: ErrInvalidRequest,
			status:  constants.StatusInvalidRequest,
		},
		{
			name:  "缺少职位",
			setup: func(*fakePlatform) {},
			req: func() Request {
				r := validRequest()
				r.JobTitle = "  "
				return r
			},
			wantErr: ErrInvalidRequest,
			status:  constants.StatusInvalidRequest,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			chat := llm.NewMockChatModel(aiFeedbackJSON(t), nil)
			pf := newFakePlatform(longResumeText(), chat)
			tt.setup(pf)
			sink := &recordingSink{}
			p := New(pf, okConverter(), WithEventSinks(sink))

			out := p.Run(context.Background(), tt.req())

			assert.Equal(t, StateFailed, out.State)
			assert.ErrorIs(t, out.Err, tt.wantErr)
			assert.Equal(t, tt.status, out.Status)
			assert.Equal(t, []State{StateIdle, StateFailed}, out.States)
			assert.Empty(t, pf.calls)
			assert.Empty(t, sink.outcomes)
			assert.Empty(t, chat.Calls())
		})
	}
}

func TestSinkErrorDoesNotChangeOutcome(t *testing.T) {
	pf := newFakePlatform(longResumeText(), llm.NewMockChatModel(aiFeedbackJSON(t), nil))
	failing := &recordingSink{err: errors.New("mysql down")}
	after := &recordingSink{}
	p := New(pf, okConverter(), WithEventSinks(failing, after))

	out := p.Run(context.Background(), validRequest())

	assert.Equal(t, StatePersistedSuccess, out.State)
	assert.NoError(t, out.Err)
	assert.Len(t, after.outcomes, 1)
}

func TestRunUsesDistinctIDs(t *testing.T) {
	pf := newFakePlatform(longResumeText(), llm.NewMockChatModel(aiFeedbackJSON(t), nil))
	p := New(pf, okConverter())

	first := p.Run(context.Background(), validRequest())
	second := p.Run(context.Background(), validRequest())

	assert.NotEmpty(t, first.ID)
	assert.NotEqual(t, first.ID, second.ID)
	assert.Len(t, pf.kv, 2)
}
