package main

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/cloudwego/eino/components/model"
	"github.com/spf13/pflag"

	"resumind/internal/config"
	"resumind/internal/converter"
	"resumind/internal/llm"
)

var convertOutput = pflag.String("out", "", "输出路径: convert 为PNG文件(默认与PDF同目录)，init-config 为配置文件(默认config.yaml)")

func readPDF() ([]byte, string, error) {
	if *pdfFilePath == "" {
		return nil, "", fmt.Errorf("必须通过 -pdf 提供PDF文件路径")
	}
	absPath, err := filepath.Abs(*pdfFilePath)
	if err != nil {
		return nil, "", fmt.Errorf("无法获取文件的绝对路径: %w", err)
	}
	data, err := os.ReadFile(absPath)
	if err != nil {
		return nil, "", fmt.Errorf("无法读取文件 %s: %w", absPath, err)
	}
	return data, absPath, nil
}

func loadConfig() (*config.Config, error) {
	cfg, err := config.LoadConfig(*configPath)
	if err != nil {
		return nil, fmt.Errorf("加载配置失败: %w", err)
	}
	return cfg, nil
}

func convertFirstPage(ctx context.Context, cfg *config.Config, data []byte, absPath string) (*converter.Image, error) {
	conv := converter.New(converter.WithScale(cfg.Converter.Scale))
	res := conv.Convert(ctx, data, filepath.Base(absPath))
	if res.Failed() {
		return nil, fmt.Errorf("转换失败: %s", res.Error)
	}
	return res.Image, nil
}

// handleConvertCommand 把首页渲染为PNG并写到磁盘
func handleConvertCommand() error {
	data, absPath, err := readPDF()
	if err != nil {
		return err
	}
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	start := time.Now()
	img, err := convertFirstPage(ctx, cfg, data, absPath)
	if err != nil {
		return err
	}

	out := *convertOutput
	if out == "" {
		out = filepath.Join(filepath.Dir(absPath), img.Filename)
	}
	if err := os.WriteFile(out, img.Data, 0o644); err != nil {
		return fmt.Errorf("写入图片失败: %w", err)
	}
	fmt.Printf("已生成 %s (%dx%d, %d 字节, 耗时 %s)\n", out, img.Width, img.Height, len(img.Data), time.Since(start))
	return nil
}

// handleOCRCommand 转换首页后识别文字
func handleOCRCommand() error {
	data, absPath, err := readPDF()
	if err != nil {
		return err
	}
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Minute)
	defer cancel()

	img, err := convertFirstPage(ctx, cfg, data, absPath)
	if err != nil {
		return err
	}

	var chat model.BaseChatModel
	if cfg.OCR.Provider == "vision" {
		if chat, err = llm.NewChatModel(ctx, cfg.LLM); err != nil {
			return fmt.Errorf("初始化对话模型失败: %w", err)
		}
	}
	recognizer := newRecognizer(cfg, chat)
	text, err := recognizer.Recognize(ctx, img.Data, img.Filename)
	if err != nil {
		return fmt.Errorf("识别失败: %w", err)
	}
	fmt.Println(text)
	fmt.Printf("\n--- 共 %d 个字符 ---\n", len([]rune(text)))
	return nil
}
