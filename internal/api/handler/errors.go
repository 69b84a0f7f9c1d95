package handler

import (
	"context"
	"errors"

	"github.com/cloudwego/hertz/pkg/app"
	"github.com/cloudwego/hertz/pkg/common/utils"
	"go.opentelemetry.io/otel/trace"

	"resumind/internal/tracing"
)

// abort 返回错误响应，并把错误记在当前请求的 span 上
func abort(ctx context.Context, c *app.RequestContext, code int, err error, msg string) {
	if err == nil {
		err = errors.New(msg)
	}
	tracing.RecordHTTPError(trace.SpanFromContext(ctx), err, code)
	c.JSON(code, utils.H{"error": msg})
}
