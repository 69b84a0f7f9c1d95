package storage

import (
	"context"
	"encoding/json"
	"os"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"resumind/internal/config"
)

func TestNewRabbitMQValidation(t *testing.T) {
	_, err := NewRabbitMQ(nil)
	assert.Error(t, err)
	_, err = NewRabbitMQ(&config.RabbitMQConfig{})
	assert.Error(t, err)
}

// TestRabbitMQPublishConsume 需要可用的RabbitMQ服务
func TestRabbitMQPublishConsume(t *testing.T) {
	url := os.Getenv("RABBITMQ_TEST_URL")
	if url == "" {
		t.Skip("未设置 RABBITMQ_TEST_URL，跳过RabbitMQ集成测试")
	}

	mq, err := NewRabbitMQ(&config.RabbitMQConfig{URL: url, EventsExchange: "resumind.test.events"})
	require.NoError(t, err)
	defer mq.Close()

	queue := "resumind.test.analyzed"
	require.NoError(t, mq.EnsureQueue(queue, false))
	require.NoError(t, mq.BindQueue(queue, "resumind.test.events", EventResumeAnalyzed))

	received := make(chan ResumeEventMessage, 1)
	done, stop, err := mq.StartConsumer(queue, 1, func(body []byte) bool {
		var msg ResumeEventMessage
		if err := json.Unmarshal(body, &msg); err != nil {
			return true
		}
		received <- msg
		return true
	})
	require.NoError(t, err)
	defer func() {
		stop()
		<-done
	}()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	require.NoError(t, mq.PublishJSON(ctx, "resumind.test.events", EventResumeAnalyzed, ResumeEventMessage{
		EventType:  EventResumeAnalyzed,
		ResumeID:   "id-1",
		OccurredAt: time.Now(),
	}, false))

	select {
	case msg := <-received:
		assert.Equal(t, "id-1", msg.ResumeID)
	case <-ctx.Done():
		t.Fatal("等待消息超时")
	}
}
