package router

import (
	"github.com/cloudwego/hertz/pkg/app/server"

	"resumind/internal/api/handler"
	"resumind/internal/auth"
)

// Handlers 路由依赖的处理器
type Handlers struct {
	Auth   *handler.AuthHandler
	Resume *handler.ResumeHandler
	Health *handler.HealthHandler
}

// RegisterRoutes 注册 API 路由，除登录与健康检查外都需要 Bearer 令牌
func RegisterRoutes(h *server.Hertz, handlers Handlers, sessions *auth.Service) {
	api := h.Group("/api/v1")
	api.GET("/health", handlers.Health.Health)

	authGroup := api.Group("/auth")
	authGroup.POST("/sign-in", handlers.Auth.SignIn)

	guard := auth.Middleware(sessions)
	authGroup.GET("/me", guard, handlers.Auth.Me)
	authGroup.POST("/sign-out", guard, handlers.Auth.SignOut)

	resumes := api.Group("/resumes", guard)
	resumes.POST("", handlers.Resume.Submit)
	resumes.GET("", handlers.Resume.List)
	resumes.GET("/:id", handlers.Resume.Get)
	resumes.GET("/:id/status", handlers.Resume.Status)
	resumes.GET("/:id/status/history", handlers.Resume.StatusHistory)
	resumes.GET("/:id/file", handlers.Resume.File)
	resumes.GET("/:id/image", handlers.Resume.Image)
}
