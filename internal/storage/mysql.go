package storage

import (
	"context"
	"errors"
	"fmt"
	"log"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	semconv "go.opentelemetry.io/otel/semconv/v1.21.0"
	"go.opentelemetry.io/otel/trace"
	"gorm.io/driver/mysql"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
	"gorm.io/gorm/logger"

	"resumind/internal/config"
	"resumind/internal/tracing"
	"resumind/internal/storage/models"
)

var mysqlTracer = otel.Tracer("resumind/storage/mysql")

type spanContextKey struct{}

// GormTracingPlugin 为GORM的每次数据库操作创建OpenTelemetry span
type GormTracingPlugin struct {
	tracer trace.Tracer
	dbName string
}

// NewGormTracingPlugin 创建GORM追踪插件
func NewGormTracingPlugin(dbName string) *GormTracingPlugin {
	return &GormTracingPlugin{
		tracer: mysqlTracer,
		dbName: dbName,
	}
}

// Name 返回插件名称
func (p *GormTracingPlugin) Name() string {
	return "GormOpenTelemetryPlugin"
}

// Initialize 注册GORM回调以启用追踪
func (p *GormTracingPlugin) Initialize(db *gorm.DB) error {
	cb := db.Callback()
	hooks := []struct {
		op     string
		gormCb string
		before func(string) error
		after  func(string) error
	}{
		{"CREATE", "gorm:create",
			func(n string) error { return cb.Create().Before("gorm:create").Register(n, p.before("CREATE")) },
			func(n string) error { return cb.Create().After("gorm:create").Register(n, p.after()) }},
		{"SELECT", "gorm:query",
			func(n string) error { return cb.Query().Before("gorm:query").Register(n, p.before("SELECT")) },
			func(n string) error { return cb.Query().After("gorm:query").Register(n, p.after()) }},
		{"UPDATE", "gorm:update",
			func(n string) error { return cb.Update().Before("gorm:update").Register(n, p.before("UPDATE")) },
			func(n string) error { return cb.Update().After("gorm:update").Register(n, p.after()) }},
		{"DELETE", "gorm:delete",
			func(n string) error { return cb.Delete().Before("gorm:delete").Register(n, p.before("DELETE")) },
			func(n string) error { return cb.Delete().After("gorm:delete").Register(n, p.after()) }},
		{"ROW", "gorm:row",
			func(n string) error { return cb.Row().Before("gorm:row").Register(n, p.before("ROW")) },
			func(n string) error { return cb.Row().After("gorm:row").Register(n, p.after()) }},
		{"RAW", "gorm:raw",
			func(n string) error { return cb.Raw().Before("gorm:raw").Register(n, p.before("RAW")) },
			func(n string) error { return cb.Raw().After("gorm:raw").Register(n, p.after()) }},
	}
	for _, h := range hooks {
		if err := h.before("otel:before_" + h.gormCb[5:]); err != nil {
			return fmt.Errorf("注册 %s 追踪回调失败: %w", h.op, err)
		}
		if err := h.after("otel:after_" + h.gormCb[5:]); err != nil {
			return fmt.Errorf("注册 %s 追踪回调失败: %w", h.op, err)
		}
	}
	return nil
}

func (p *GormTracingPlugin) before(operation string) func(db *gorm.DB) {
	return func(db *gorm.DB) {
		if db.Statement.SkipHooks {
			return
		}
		ctx := db.Statement.Context
		if ctx == nil {
			ctx = context.Background()
		}
		table := db.Statement.Table
		if table == "" {
			table = "unknown"
		}

		attrs := []attribute.KeyValue{
			semconv.DBSystemMySQL,
			attribute.String("db.name", p.dbName),
			attribute.String("db.operation", operation),
			attribute.String("db.sql.table", table),
		}
		if stmt := db.Statement.SQL.String(); stmt != "" {
			attrs = append(attrs, attribute.String("db.statement", tracing.SafeSQL(stmt)))
		}
		newCtx, span := p.tracer.Start(ctx, operation+" "+table,
			trace.WithSpanKind(trace.SpanKindClient), trace.WithAttributes(attrs...))
		db.Statement.Context = context.WithValue(newCtx, spanContextKey{}, span)
	}
}

func (p *GormTracingPlugin) after() func(db *gorm.DB) {
	return func(db *gorm.DB) {
		span, ok := db.Statement.Context.Value(spanContextKey{}).(trace.Span)
		if !ok {
			return
		}
		defer span.End()

		span.SetAttributes(attribute.Int64("db.rows_affected", max(db.Statement.RowsAffected, 0)))
		switch {
		case db.Error == nil:
			span.SetStatus(codes.Ok, "")
		case errors.Is(db.Error, gorm.ErrRecordNotFound):
			// 查询不到记录属于正常业务分支
			span.SetAttributes(attribute.String("error.type", "record_not_found"))
			span.SetStatus(codes.Ok, "record not found")
		default:
			span.SetAttributes(attribute.String("error.type", "database_error"))
			span.RecordError(db.Error)
			span.SetStatus(codes.Error, db.Error.Error())
		}
	}
}

// MySQL 保存简历分析索引和发件箱消息
type MySQL struct {
	db     *gorm.DB
	dbName string
}

// NewMySQL 连接MySQL、注册追踪插件并迁移表结构
func NewMySQL(cfg *config.MySQLConfig) (*MySQL, error) {
	if cfg == nil {
		return nil, fmt.Errorf("MySQL配置不能为空")
	}

	dsn := fmt.Sprintf("%s:%s@tcp(%s:%d)/%s?charset=utf8mb4&parseTime=True&loc=Local&timeout=%ds&readTimeout=%ds&writeTimeout=%ds",
		cfg.Username, cfg.Password, cfg.Host, cfg.Port, cfg.Database,
		cfg.ConnectTimeoutSeconds, cfg.ReadTimeoutSeconds, cfg.WriteTimeoutSeconds)

	db, err := gorm.Open(mysql.Open(dsn), &gorm.Config{
		DisableForeignKeyConstraintWhenMigrating: true,
		Logger:                                   logger.Default.LogMode(gormLogLevel(cfg.LogLevel)),
		PrepareStmt:                              true,
		NowFunc: func() time.Time {
			return time.Now().Local()
		},
	})
	if err != nil {
		return nil, fmt.Errorf("连接MySQL失败: %w", err)
	}

	sqlDB, err := db.DB()
	if err != nil {
		return nil, fmt.Errorf("获取底层 sql.DB 失败: %w", err)
	}
	sqlDB.SetMaxIdleConns(cfg.MaxIdleConns)
	sqlDB.SetMaxOpenConns(cfg.MaxOpenConns)
	sqlDB.SetConnMaxLifetime(time.Duration(cfg.ConnMaxLifetimeMinutes) * time.Minute)
	sqlDB.SetConnMaxIdleTime(time.Duration(cfg.ConnMaxIdleTimeMinutes) * time.Minute)

	m, err := NewMySQLFromDB(db, cfg.Database)
	if err != nil {
		sqlDB.Close()
		return nil, err
	}
	if err := m.autoMigrateSchema(); err != nil {
		sqlDB.Close()
		return nil, fmt.Errorf("自动迁移数据库结构失败: %w", err)
	}
	log.Println("成功连接到MySQL并自动迁移数据库结构")
	return m, nil
}

// NewMySQLFromDB 包装已打开的GORM连接
func NewMySQLFromDB(db *gorm.DB, dbName string) (*MySQL, error) {
	if db == nil {
		return nil, fmt.Errorf("gorm.DB 不能为空")
	}
	if err := db.Use(NewGormTracingPlugin(dbName)); err != nil {
		return nil, fmt.Errorf("注册追踪插件失败: %w", err)
	}
	return &MySQL{db: db, dbName: dbName}, nil
}

func gormLogLevel(level int) logger.LogLevel {
	switch level {
	case 1:
		return logger.Silent
	case 2:
		return logger.Error
	case 3:
		return logger.Warn
	default:
		return logger.Info
	}
}

// autoMigrateSchema 静默迁移索引表与发件箱表
func (m *MySQL) autoMigrateSchema() error {
	silent := m.db.Session(&gorm.Session{Logger: logger.Default.LogMode(logger.Silent)})
	if err := silent.AutoMigrate(&models.ResumeSubmission{}, &models.OutboxMessage{}); err != nil {
		return fmt.Errorf("GORM自动迁移失败: %w", err)
	}
	return nil
}

// DB 返回GORM数据库连接实例
func (m *MySQL) DB() *gorm.DB {
	return m.db
}

// Close 关闭数据库连接
func (m *MySQL) Close() error {
	sqlDB, err := m.db.DB()
	if err != nil {
		return fmt.Errorf("获取底层 sql.DB 失败: %w", err)
	}
	return sqlDB.Close()
}

// Ping 检查数据库连接
func (m *MySQL) Ping(ctx context.Context) error {
	sqlDB, err := m.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.PingContext(ctx)
}

// UpsertSubmission 写入或更新索引行，并在同一事务中写入发件箱消息
func (m *MySQL) UpsertSubmission(ctx context.Context, sub *models.ResumeSubmission, events ...*models.OutboxMessage) error {
	ctx, span := mysqlTracer.Start(ctx, "MySQL.UpsertSubmission", trace.WithSpanKind(trace.SpanKindClient))
	defer span.End()
	span.SetAttributes(
		semconv.DBSystemMySQL,
		attribute.String("db.name", m.dbName),
		attribute.String("db.operation", "INSERT_ON_DUPLICATE"),
		attribute.String("resume.id", sub.SubmissionID),
		attribute.Int("outbox.count", len(events)),
	)

	err := m.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		err := tx.Clauses(clause.OnConflict{
			Columns: []clause.Column{{Name: "submission_id"}},
			DoUpdates: clause.AssignmentColumns([]string{
				"state", "feedback_source", "overall_score", "category_scores", "updated_at",
			}),
		}).Create(sub).Error
		if err != nil {
			return fmt.Errorf("写入简历索引失败: %w", err)
		}
		for _, ev := range events {
			if err := tx.Create(ev).Error; err != nil {
				return fmt.Errorf("写入发件箱消息失败: %w", err)
			}
		}
		return nil
	})
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return err
	}
	span.SetStatus(codes.Ok, "")
	return nil
}

// ListSubmissions 按创建时间倒序分页读取，同时返回总数
func (m *MySQL) ListSubmissions(ctx context.Context, limit, offset int) ([]models.ResumeSubmission, int64, error) {
	if limit <= 0 {
		limit = 20
	}
	if offset < 0 {
		offset = 0
	}

	var total int64
	if err := m.db.WithContext(ctx).Model(&models.ResumeSubmission{}).Count(&total).Error; err != nil {
		return nil, 0, fmt.Errorf("统计简历数量失败: %w", err)
	}

	var subs []models.ResumeSubmission
	err := m.db.WithContext(ctx).
		Order("created_at DESC").
		Limit(limit).
		Offset(offset).
		Find(&subs).Error
	if err != nil {
		return nil, 0, fmt.Errorf("查询简历列表失败: %w", err)
	}
	return subs, total, nil
}

// CreateOutboxMessages 单独写入发件箱消息，用于没有索引行的失败事件
func (m *MySQL) CreateOutboxMessages(ctx context.Context, events ...*models.OutboxMessage) error {
	if len(events) == 0 {
		return nil
	}
	if err := m.db.WithContext(ctx).Create(events).Error; err != nil {
		return fmt.Errorf("写入发件箱消息失败: %w", err)
	}
	return nil
}
