package main

import (
	"encoding/json"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/pflag"

	"resumind/internal/storage"
)

var (
	eventsQueue    = pflag.String("queue", "resumind.cli.events", "订阅使用的队列名")
	eventsPrefetch = pflag.Int("prefetch", 10, "预取数量")
)

// handleEventsCommand 订阅分析完成与失败事件并打印
func handleEventsCommand() error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	if cfg.RabbitMQ.URL == "" {
		return fmt.Errorf("未配置RabbitMQ")
	}
	mq, err := storage.NewRabbitMQ(&cfg.RabbitMQ)
	if err != nil {
		return err
	}
	defer mq.Close()

	exchange := cfg.RabbitMQ.EventsExchange
	if err := mq.EnsureExchange(exchange, "topic", true); err != nil {
		return err
	}
	if err := mq.EnsureQueue(*eventsQueue, true); err != nil {
		return err
	}
	for _, key := range []string{cfg.RabbitMQ.AnalyzedRoutingKey, cfg.RabbitMQ.FailedRoutingKey} {
		if err := mq.BindQueue(*eventsQueue, exchange, key); err != nil {
			return err
		}
	}

	done, stop, err := mq.StartConsumer(*eventsQueue, *eventsPrefetch, func(body []byte) bool {
		var event storage.ResumeEventMessage
		if err := json.Unmarshal(body, &event); err != nil {
			fmt.Fprintf(os.Stderr, "无法解析事件: %v\n", err)
			// 格式错误的消息重新入队没有意义
			return true
		}
		score := "-"
		if event.OverallScore != nil {
			score = fmt.Sprint(*event.OverallScore)
		}
		fmt.Printf("%s %s id=%s state=%s score=%s source=%s %s\n",
			event.OccurredAt.Format("15:04:05"), event.EventType, event.ResumeID,
			event.State, score, event.FeedbackSource, event.Error)
		return true
	})
	if err != nil {
		return err
	}

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	select {
	case <-quit:
		stop()
		<-done
	case <-done:
	}
	return nil
}
