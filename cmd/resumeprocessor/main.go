package main

import (
	"fmt"
	"os"

	"github.com/spf13/pflag"

	"resumind/internal/config"
)

// 命令行参数定义
var (
	pdfFilePath = pflag.String("pdf", "", "PDF简历文件路径")
	configPath  = pflag.StringP("config", "c", "", "配置文件路径")
	command     = pflag.String("cmd", "analyze", "执行的命令: convert=首页转PNG, ocr=识别首页文字, analyze=完整分析, events=订阅分析事件, init-config=生成示例配置")
)

func main() {
	pflag.Parse()

	var err error
	switch *command {
	case "convert":
		err = handleConvertCommand()
	case "ocr":
		err = handleOCRCommand()
	case "analyze":
		err = handleAnalyzeCommand()
	case "events":
		err = handleEventsCommand()
	case "init-config":
		out := *convertOutput
		if out == "" {
			out = "config.yaml"
		}
		if err = config.CreateSampleConfig(out); err == nil {
			fmt.Printf("示例配置已写入 %s\n", out)
		}
	default:
		fmt.Printf("错误: 未知命令 '%s'。支持的命令: convert, ocr, analyze, events, init-config\n", *command)
		pflag.Usage()
		os.Exit(1)
	}
	if err != nil {
		fmt.Fprintf(os.Stderr, "错误: %v\n", err)
		os.Exit(1)
	}
}
