package auth

import (
	"context"

	"github.com/cloudwego/hertz/pkg/app"
	"github.com/cloudwego/hertz/pkg/common/utils"
	"github.com/cloudwego/hertz/pkg/protocol/consts"
	"github.com/hertz-contrib/keyauth"
)

const (
	tokenContextKey   = "auth.token"
	sessionContextKey = "auth.session"
)

// Middleware 校验 "Authorization: Bearer <token>"，成功后把会话放进请求上下文
func Middleware(svc *Service) app.HandlerFunc {
	return keyauth.New(
		keyauth.WithKeyLookUp("header:Authorization", "Bearer"),
		keyauth.WithContextKey(tokenContextKey),
		keyauth.WithValidator(func(ctx context.Context, c *app.RequestContext, token string) (bool, error) {
			session, err := svc.Validate(ctx, token)
			if err != nil {
				return false, err
			}
			c.Set(sessionContextKey, session)
			return true, nil
		}),
		keyauth.WithErrorHandler(func(ctx context.Context, c *app.RequestContext, err error) {
			msg := "missing or invalid token"
			if err != nil && !IsUnauthorized(err) && err != keyauth.ErrMissingOrMalformedAPIKey {
				msg = "session lookup failed"
			}
			c.AbortWithStatusJSON(consts.StatusUnauthorized, utils.H{"error": msg})
		}),
	)
}

// SessionFrom 取出中间件写入的会话
func SessionFrom(c *app.RequestContext) (*Session, bool) {
	v, ok := c.Get(sessionContextKey)
	if !ok {
		return nil, false
	}
	s, ok := v.(*Session)
	return s, ok && s != nil
}

// Context 把请求上的会话带入 context.Context，供下游的平台调用判断登录状态
func Context(ctx context.Context, c *app.RequestContext) context.Context {
	if s, ok := SessionFrom(c); ok {
		return WithSession(ctx, s)
	}
	return ctx
}
