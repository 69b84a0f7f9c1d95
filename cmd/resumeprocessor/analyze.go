package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/cloudwego/eino/components/model"
	"github.com/spf13/pflag"

	"resumind/internal/auth"
	"resumind/internal/config"
	"resumind/internal/converter"
	"resumind/internal/llm"
	"resumind/internal/logger"
	"resumind/internal/ocr"
	"resumind/internal/pipeline"
	"resumind/internal/platform"
	"resumind/internal/types"
)

var (
	analyzeCompany     = pflag.String("company", "", "公司名称")
	analyzeTitle       = pflag.String("title", "", "目标职位")
	analyzeDescription = pflag.String("description", "", "职位描述，以@开头时从文件读取")
	analyzeOutput      = pflag.String("output", "", "输出结果到JSON文件")
	analyzeOffline     = pflag.Bool("offline", false, "不调用对话模型，直接使用基础分析")
)

const localAPIKey = "local-cli"

func newRecognizer(cfg *config.Config, chat model.BaseChatModel) ocr.Recognizer {
	if cfg.OCR.Provider == "vision" && chat != nil {
		return ocr.NewVisionRecognizer(chat)
	}
	opts := []ocr.TikaOption{ocr.WithLanguage(cfg.OCR.Language)}
	if cfg.OCR.Timeout > 0 {
		opts = append(opts, ocr.WithTimeout(time.Duration(cfg.OCR.Timeout)*time.Second))
	}
	return ocr.NewTikaRecognizer(cfg.OCR.ServerURL, opts...)
}

func jobDescription() (string, error) {
	desc := *analyzeDescription
	if len(desc) > 1 && desc[0] == '@' {
		data, err := os.ReadFile(desc[1:])
		if err != nil {
			return "", fmt.Errorf("读取职位描述失败: %w", err)
		}
		return string(data), nil
	}
	return desc, nil
}

// handleAnalyzeCommand 在本地内存存储上跑完整分析流程
func handleAnalyzeCommand() error {
	data, absPath, err := readPDF()
	if err != nil {
		return err
	}
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	if _, err := logger.Init(logger.Config{Level: cfg.Logger.Level, Format: "pretty"}); err != nil {
		return err
	}
	desc, err := jobDescription()
	if err != nil {
		return err
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Minute)
	defer cancel()

	var chat model.BaseChatModel
	if *analyzeOffline {
		chat = llm.NewMockChatModel("", fmt.Errorf("offline mode"))
	} else if chat, err = llm.NewChatModel(ctx, cfg.LLM); err != nil {
		return fmt.Errorf("初始化对话模型失败: %w", err)
	}

	sessions := auth.NewService(nil, map[string]string{localAPIKey: "local"}, 0)
	session, err := sessions.SignIn(ctx, localAPIKey)
	if err != nil {
		return err
	}
	ctx = auth.WithSession(ctx, session)

	kv := platform.NewMemoryKV()
	pf := platform.New(platform.NewMemoryFiles(cfg.MinIO.BucketName), kv, chat, newRecognizer(cfg, chat), sessions,
		platform.WithChatTimeout(config.GetDuration(cfg.LLM.Timeout, 0)),
	)
	pf.SetReady(true)

	p := pipeline.New(pf, converter.New(converter.WithScale(cfg.Converter.Scale)),
		pipeline.WithLogger(logger.Component("pipeline")),
		pipeline.WithMinTextLength(cfg.Pipeline.MinTextLength),
		pipeline.WithReporter(pipeline.ReporterFunc(func(_ context.Context, s types.ProcessingStatus) {
			fmt.Fprintf(os.Stderr, "[%s] %s\n", s.State, s.Message)
		})),
	)

	start := time.Now()
	out := p.Run(ctx, pipeline.Request{
		File:           data,
		Filename:       filepath.Base(absPath),
		CompanyName:    *analyzeCompany,
		JobTitle:       *analyzeTitle,
		JobDescription: desc,
	})
	fmt.Fprintf(os.Stderr, "耗时: %s, 终态: %s\n", time.Since(start), out.State)
	if out.State == pipeline.StateFailed {
		return out.Err
	}
	if out.FallbackReason != "" {
		fmt.Fprintf(os.Stderr, "使用基础分析: %s\n", out.FallbackReason)
	}

	result, err := json.MarshalIndent(out.Record, "", "  ")
	if err != nil {
		return fmt.Errorf("序列化结果失败: %w", err)
	}
	if *analyzeOutput != "" {
		if err := os.WriteFile(*analyzeOutput, result, 0o644); err != nil {
			return fmt.Errorf("写入结果失败: %w", err)
		}
		fmt.Printf("结果已保存到 %s\n", *analyzeOutput)
		return nil
	}
	fmt.Println(string(result))
	return nil
}
