package handler

import (
	"context"
	"time"

	"github.com/cloudwego/hertz/pkg/app"
	"github.com/cloudwego/hertz/pkg/common/utils"
	"github.com/cloudwego/hertz/pkg/protocol/consts"

	"resumind/internal/platform"
)

// Pinger 依赖的连通性检查
type Pinger interface {
	Ping(ctx context.Context) error
}

// HealthHandler 就绪检查
type HealthHandler struct {
	platform platform.Platform
	deps     Pinger
	timeout  time.Duration
}

// NewHealthHandler deps 可为 nil
func NewHealthHandler(pf platform.Platform, deps Pinger) *HealthHandler {
	return &HealthHandler{platform: pf, deps: deps, timeout: 3 * time.Second}
}

// Health GET /api/v1/health
func (h *HealthHandler) Health(ctx context.Context, c *app.RequestContext) {
	ready := h.platform.IsReady(ctx)
	body := utils.H{"status": "ok", "ready": ready}
	if h.deps != nil {
		pingCtx, cancel := context.WithTimeout(ctx, h.timeout)
		defer cancel()
		if err := h.deps.Ping(pingCtx); err != nil {
			ready = false
			body["ready"] = false
			body["error"] = err.Error()
		}
	}
	if !ready {
		body["status"] = "unavailable"
		c.JSON(consts.StatusServiceUnavailable, body)
		return
	}
	c.JSON(consts.StatusOK, body)
}
