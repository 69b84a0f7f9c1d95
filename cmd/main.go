package main

import (
	"context"
	"fmt"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/cloudwego/eino/components/model"
	"github.com/cloudwego/hertz/pkg/app"
	"github.com/cloudwego/hertz/pkg/app/server"
	glog "github.com/cloudwego/hertz/pkg/common/hlog"
	hertztracing "github.com/hertz-contrib/obs-opentelemetry/tracing"
	"github.com/spf13/pflag"

	"resumind/internal/api/handler"
	"resumind/internal/api/router"
	"resumind/internal/auth"
	"resumind/internal/config"
	"resumind/internal/converter"
	"resumind/internal/llm"
	"resumind/internal/logger"
	"resumind/internal/ocr"
	"resumind/internal/outbox"
	"resumind/internal/pipeline"
	"resumind/internal/platform"
	"resumind/internal/storage"
	"resumind/internal/tracing"
)

var (
	version = "1.0.0" //nolint:gochecknoglobals
)

func main() {
	var configPath string
	pflag.StringVarP(&configPath, "config", "c", "", "Path to config file (searched in default locations when empty)")
	pflag.Parse()

	cfg, err := config.LoadConfig(configPath)
	if err != nil {
		log.Fatalf("加载配置失败: %v", err)
	}

	logCloser, err := logger.Init(logger.Config{
		Level:        cfg.Logger.Level,
		Format:       cfg.Logger.Format,
		TimeFormat:   cfg.Logger.TimeFormat,
		ReportCaller: cfg.Logger.ReportCaller,
		File:         cfg.Logger.File,
	})
	if err != nil {
		log.Fatalf("初始化日志失败: %v", err)
	}
	defer logCloser.Close()
	glog.Info("配置加载成功")

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	shutdownTracing, err := tracing.Setup(ctx, cfg.Tracing, version)
	if err != nil {
		glog.Fatalf("初始化链路追踪失败: %v", err)
	}

	storageManager, err := storage.NewStorage(ctx, cfg)
	if err != nil {
		glog.Fatalf("初始化存储失败: %v", err)
	}
	defer storageManager.Close()
	glog.Info("存储服务初始化成功")

	chatModel, err := llm.NewChatModel(ctx, cfg.LLM)
	if err != nil {
		glog.Fatalf("初始化对话模型失败: %v", err)
	}
	glog.Infof("对话模型初始化成功: %s/%s", cfg.LLM.Provider, cfg.LLM.Model)

	sessions, err := newSessionService(cfg, storageManager)
	if err != nil {
		glog.Fatalf("初始化会话服务失败: %v", err)
	}

	pf := newPlatform(cfg, storageManager, chatModel, sessions)
	pf.SetReady(true)

	pipelineLogger := logger.Component("pipeline")
	opts := []pipeline.Option{
		pipeline.WithLogger(pipelineLogger),
		pipeline.WithMinTextLength(cfg.Pipeline.MinTextLength),
	}
	if storageManager.Redis != nil {
		opts = append(opts, pipeline.WithReporter(pipeline.NewTrackerReporter(storageManager.Redis, pipelineLogger)))
	}

	route := pipeline.EventRoute{
		Exchange:    cfg.RabbitMQ.EventsExchange,
		AnalyzedKey: cfg.RabbitMQ.AnalyzedRoutingKey,
		FailedKey:   cfg.RabbitMQ.FailedRoutingKey,
	}
	var relay *outbox.MessageRelay
	if storageManager.RabbitMQ != nil {
		if err := storageManager.RabbitMQ.EnsureExchange(route.Exchange, "topic", true); err != nil {
			glog.Fatalf("声明事件交换机失败: %v", err)
		}
	}
	switch {
	case storageManager.MySQL != nil:
		opts = append(opts, pipeline.WithEventSinks(pipeline.NewIndexSink(storageManager.MySQL, route)))
		if storageManager.RabbitMQ != nil && cfg.Pipeline.PublishEvents {
			relayLogger := log.New(logger.Component("outbox"), "[MessageRelay] ", log.Lshortfile)
			relay = outbox.NewMessageRelay(storageManager.MySQL.DB(), storageManager.RabbitMQ, relayLogger)
			relay.Start(ctx)
			glog.Info("消息中继服务已启动")
		}
	case storageManager.RabbitMQ != nil && cfg.Pipeline.PublishEvents:
		opts = append(opts, pipeline.WithEventSinks(pipeline.NewPublishSink(storageManager.RabbitMQ, route)))
	}

	conv := converter.New(
		converter.WithScale(cfg.Converter.Scale),
		converter.WithLogger(log.New(logger.Component("converter"), "", 0)),
	)
	analyzer := pipeline.New(pf, conv, opts...)

	resumeOpts := []handler.ResumeOption{
		handler.WithLogger(logger.Component("http")),
		handler.WithMaxUploadSize(cfg.Server.MaxUploadBytes),
	}
	if storageManager.Redis != nil {
		resumeOpts = append(resumeOpts, handler.WithStatusReader(storageManager.Redis))
	}
	if storageManager.MySQL != nil {
		resumeOpts = append(resumeOpts, handler.WithSubmissionLister(storageManager.MySQL))
	}

	serverTracer, tracerCfg := hertztracing.NewServerTracer()
	h := server.Default(
		server.WithHostPorts(cfg.Server.Address),
		server.WithHandleMethodNotAllowed(true),
		server.WithMaxRequestBodySize(cfg.Server.MaxUploadBytes+1<<20),
		serverTracer,
	)
	h.Use(hertztracing.ServerMiddleware(tracerCfg))
	h.Use(func(c context.Context, ctx *app.RequestContext) {
		start := time.Now()
		ctx.Next(c)
		logger.Ctx(c).Info().
			Str("method", string(ctx.Method())).
			Str("path", string(ctx.Path())).
			Int("status", ctx.Response.StatusCode()).
			Dur("latency", time.Since(start)).
			Msg("request")
	})

	router.RegisterRoutes(h, router.Handlers{
		Auth:   handler.NewAuthHandler(pf, sessions, logger.Component("auth")),
		Resume: handler.NewResumeHandler(analyzer, pf, resumeOpts...),
		Health: handler.NewHealthHandler(pf, storageManager),
	}, sessions)
	glog.Info("HTTP路由注册成功")

	glog.Infof("HTTP 服务器启动中，监听地址: %s", cfg.Server.Address)
	go func() {
		if err := h.Run(); err != nil {
			glog.Fatalf("启动HTTP服务器失败: %v", err)
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit
	glog.Info("接收到终止信号，正在优雅退出...")
	pf.SetReady(false)

	if relay != nil {
		relay.Stop()
		glog.Info("消息中继服务已停止")
	}

	shutdownCtx, cancelShutdown := context.WithTimeout(context.Background(),
		config.GetDuration(cfg.Server.ShutdownWait, 5*time.Second))
	defer cancelShutdown()
	if err := h.Shutdown(shutdownCtx); err != nil {
		glog.Errorf("服务器关闭失败: %v", err)
	}
	if err := shutdownTracing(shutdownCtx); err != nil {
		glog.Warnf("关闭链路追踪失败: %v", err)
	}
	glog.Info("优雅退出完成")
}

func newSessionService(cfg *config.Config, s *storage.Storage) (*auth.Service, error) {
	if len(cfg.Auth.APIKeys) == 0 {
		glog.Warn("未配置任何API密钥，所有登录请求都会被拒绝")
	}
	var store auth.SessionStore
	if s.Redis != nil {
		redisStore, err := auth.NewRedisSessionStore(s.Redis.Client)
		if err != nil {
			return nil, err
		}
		store = redisStore
	} else {
		glog.Warn("Redis未配置，会话仅保存在内存中")
	}
	return auth.NewService(store, cfg.Auth.APIKeys, cfg.SessionTTL()), nil
}

func newPlatform(cfg *config.Config, s *storage.Storage, chat model.BaseChatModel, sessions *auth.Service) *platform.Services {
	var files platform.FileStore
	if s.MinIO != nil {
		files = s.MinIO
	} else {
		glog.Warn("MinIO未配置，上传文件仅保存在内存中")
		files = platform.NewMemoryFiles(cfg.MinIO.BucketName)
	}

	var kv platform.KVStore
	if s.Redis != nil {
		kv = s.Redis
	} else {
		glog.Warn("Redis未配置，简历记录仅保存在内存中")
		kv = platform.NewMemoryKV()
	}

	return platform.New(files, kv, chat, newRecognizer(cfg, chat), sessions,
		platform.WithChatTimeout(config.GetDuration(cfg.LLM.Timeout, 0)),
		platform.WithLogger(logger.Component("platform")),
	)
}

func newRecognizer(cfg *config.Config, chat model.BaseChatModel) ocr.Recognizer {
	switch cfg.OCR.Provider {
	case "vision":
		return ocr.NewVisionRecognizer(chat)
	default:
		opts := []ocr.TikaOption{
			ocr.WithLanguage(cfg.OCR.Language),
			ocr.WithTikaLogger(log.New(logger.Component("ocr"), "", 0)),
		}
		if cfg.OCR.Timeout > 0 {
			opts = append(opts, ocr.WithTimeout(time.Duration(cfg.OCR.Timeout)*time.Second))
		}
		return ocr.NewTikaRecognizer(cfg.OCR.ServerURL, opts...)
	}
}

func init() {
	pflag.Usage = func() {
		fmt.Fprintf(os.Stderr, "Usage: %s [-c config.yaml]\n", os.Args[0])
		pflag.PrintDefaults()
	}
}
