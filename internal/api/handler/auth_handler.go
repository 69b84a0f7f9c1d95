package handler

import (
	"context"
	"errors"

	"github.com/cloudwego/hertz/pkg/app"
	"github.com/cloudwego/hertz/pkg/common/utils"
	"github.com/cloudwego/hertz/pkg/protocol/consts"
	"github.com/rs/zerolog"

	"resumind/internal/auth"
	"resumind/internal/platform"
)

// AuthHandler 登录与会话
type AuthHandler struct {
	platform platform.Platform
	sessions *auth.Service
	logger   zerolog.Logger
}

// NewAuthHandler 创建登录处理器
func NewAuthHandler(pf platform.Platform, sessions *auth.Service, logger zerolog.Logger) *AuthHandler {
	return &AuthHandler{platform: pf, sessions: sessions, logger: logger}
}

type signInRequest struct {
	APIKey string `json:"api_key"`
}

// SignIn POST /api/v1/auth/sign-in
func (h *AuthHandler) SignIn(ctx context.Context, c *app.RequestContext) {
	var req signInRequest
	if err := c.BindJSON(&req); err != nil || req.APIKey == "" {
		abort(ctx, c, consts.StatusBadRequest, err, "api_key is required")
		return
	}
	session, err := h.platform.SignIn(ctx, req.APIKey)
	switch {
	case errors.Is(err, auth.ErrInvalidCredential), errors.Is(err, platform.ErrNotConfigured):
		abort(ctx, c, consts.StatusUnauthorized, err, "invalid api key")
	case err != nil:
		h.logger.Error().Err(err).Msg("登录失败")
		abort(ctx, c, consts.StatusInternalServerError, err, "sign-in failed")
	default:
		h.logger.Info().Str("subject", session.Subject).Msg("用户登录")
		c.JSON(consts.StatusOK, session)
	}
}

// Me GET /api/v1/auth/me
func (h *AuthHandler) Me(ctx context.Context, c *app.RequestContext) {
	session, ok := auth.SessionFrom(c)
	if !ok {
		abort(ctx, c, consts.StatusUnauthorized, nil, "not signed in")
		return
	}
	c.JSON(consts.StatusOK, utils.H{
		"subject":   session.Subject,
		"createdAt": session.CreatedAt,
		"expiresAt": session.ExpiresAt,
	})
}

// SignOut POST /api/v1/auth/sign-out
func (h *AuthHandler) SignOut(ctx context.Context, c *app.RequestContext) {
	session, ok := auth.SessionFrom(c)
	if !ok {
		abort(ctx, c, consts.StatusUnauthorized, nil, "not signed in")
		return
	}
	if err := h.sessions.SignOut(ctx, session.Token); err != nil {
		h.logger.Error().Err(err).Msg("退出登录失败")
		abort(ctx, c, consts.StatusInternalServerError, err, "sign-out failed")
		return
	}
	c.Status(consts.StatusNoContent)
}
