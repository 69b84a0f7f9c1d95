package storage

import (
	"context"
	"fmt"
	"io"
	"log"
	"os"
	"strings"

	"resumind/internal/config"
)

// Storage 存储管理器，聚合所有已配置的外部存储
type Storage struct {
	// 对象存储
	MinIO *MinIO
	// 事件投递
	RabbitMQ *RabbitMQ
	// 列表索引与发件箱
	MySQL *MySQL
	// 记录、进度与会话
	Redis *Redis
}

// NewStorage 按配置初始化各组件，未配置的组件保持为nil
func NewStorage(ctx context.Context, cfg *config.Config) (*Storage, error) {
	if cfg == nil {
		return nil, fmt.Errorf("配置不能为空")
	}

	s := &Storage{}
	var initErrors []string
	var err error

	if cfg.MinIO.Endpoint != "" {
		minioLogger := log.New(io.Discard, "", 0)
		if cfg.Logger.Level == "debug" || cfg.MinIO.EnableTestLogging {
			minioLogger = log.New(os.Stderr, "[MinIOStorage] ", log.LstdFlags|log.Lshortfile)
		}
		if s.MinIO, err = NewMinIO(&cfg.MinIO, minioLogger); err != nil {
			initErrors = append(initErrors, fmt.Sprintf("MinIO: %v", err))
		}
	}

	if cfg.Redis.Address != "" {
		if s.Redis, err = NewRedisAdapter(&cfg.Redis); err != nil {
			initErrors = append(initErrors, fmt.Sprintf("Redis: %v", err))
		}
	}

	if cfg.MySQL.Host != "" {
		if s.MySQL, err = NewMySQL(&cfg.MySQL); err != nil {
			initErrors = append(initErrors, fmt.Sprintf("MySQL: %v", err))
		}
	}

	if cfg.RabbitMQ.URL != "" {
		if s.RabbitMQ, err = NewRabbitMQ(&cfg.RabbitMQ); err != nil {
			initErrors = append(initErrors, fmt.Sprintf("RabbitMQ: %v", err))
		}
	}

	if len(initErrors) > 0 {
		s.Close()
		return nil, fmt.Errorf("存储组件初始化失败: %s", strings.Join(initErrors, "; "))
	}
	return s, nil
}

// Ping 检查所有已配置组件的连通性
func (s *Storage) Ping(ctx context.Context) error {
	if s.MinIO != nil {
		if err := s.MinIO.Ping(ctx); err != nil {
			return err
		}
	}
	if s.Redis != nil {
		if err := s.Redis.Ping(ctx); err != nil {
			return fmt.Errorf("redis不可用: %w", err)
		}
	}
	if s.MySQL != nil {
		if err := s.MySQL.Ping(ctx); err != nil {
			return fmt.Errorf("MySQL不可用: %w", err)
		}
	}
	if s.RabbitMQ != nil && s.RabbitMQ.IsClosed() {
		return fmt.Errorf("RabbitMQ连接已关闭")
	}
	return nil
}

// Close 关闭所有连接
func (s *Storage) Close() {
	if s.RabbitMQ != nil {
		if err := s.RabbitMQ.Close(); err != nil {
			log.Printf("关闭RabbitMQ连接失败: %v", err)
		}
	}
	if s.MySQL != nil {
		if err := s.MySQL.Close(); err != nil {
			log.Printf("关闭MySQL连接失败: %v", err)
		}
	}
	if s.Redis != nil {
		if err := s.Redis.Close(); err != nil {
			log.Printf("关闭Redis连接失败: %v", err)
		}
	}
}
