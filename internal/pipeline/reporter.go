package pipeline

import (
	"context"

	"github.com/rs/zerolog"

	"resumind/internal/types"
)

// StatusReporter 接收面向用户的进度，会在每个阻塞调用开始前被同步调用
type StatusReporter interface {
	Report(ctx context.Context, status types.ProcessingStatus)
}

// ReporterFunc 函数形式的 StatusReporter
type ReporterFunc func(ctx context.Context, status types.ProcessingStatus)

func (f ReporterFunc) Report(ctx context.Context, status types.ProcessingStatus) {
	f(ctx, status)
}

// StatusTracker 进度存储，由 storage.Redis 实现
type StatusTracker interface {
	SetStatus(ctx context.Context, status types.ProcessingStatus) error
}

type trackerReporter struct {
	tracker StatusTracker
	logger  zerolog.Logger
}

// NewTrackerReporter 把进度写入 tracker，写入失败只记录日志
func NewTrackerReporter(tracker StatusTracker, logger zerolog.Logger) StatusReporter {
	return &trackerReporter{tracker: tracker, logger: logger}
}

func (r *trackerReporter) Report(ctx context.Context, status types.ProcessingStatus) {
	if err := r.tracker.SetStatus(ctx, status); err != nil {
		r.logger.Warn().Err(err).Str("id", status.ID).Str("state", status.State).Msg("保存进度失败")
	}
}

type multiReporter []StatusReporter

func (m multiReporter) Report(ctx context.Context, status types.ProcessingStatus) {
	for _, r := range m {
		r.Report(ctx, status)
	}
}
