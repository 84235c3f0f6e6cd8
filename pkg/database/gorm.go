package database

import (
	"context"
	"fmt"
	"time"

	"github.com/go-kratos/kratos/v2/log"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	gormLogger "gorm.io/gorm/logger"
)

// Config 数据库配置
type Config struct {
	Host     string
	Port     int
	User     string
	Password string
	Database string
	SSLMode  string

	// 连接池配置
	MaxIdleConns    int           // 最大空闲连接数，默认10
	MaxOpenConns    int           // 最大打开连接数，默认100
	ConnMaxLifetime time.Duration // 连接最大生命周期，默认1小时

	// 健康检查配置
	HealthCheckTimeout time.Duration // 健康检查超时，默认5秒
}

// NewDB 创建数据库连接。预算账本依赖行级悲观锁，所以这里只支持
// 支持 SELECT ... FOR UPDATE 的 Postgres。
func NewDB(c *Config, logger log.Logger) (*gorm.DB, error) {
	logHelper := log.NewHelper(log.With(logger, "module", "database"))

	dsn := fmt.Sprintf(
		"host=%s port=%d user=%s password=%s dbname=%s sslmode=%s TimeZone=UTC",
		c.Host, c.Port, c.User, c.Password, c.Database, c.SSLMode,
	)

	// 安全日志：不记录密码
	logHelper.Infof("connecting to database: host=%s:%d database=%s user=%s",
		c.Host, c.Port, c.Database, c.User)

	db, err := gorm.Open(postgres.Open(dsn), &gorm.Config{
		Logger: gormLogger.Default.LogMode(gormLogger.Warn),
		NowFunc: func() time.Time {
			return time.Now().UTC()
		},
	})
	if err != nil {
		return nil, fmt.Errorf("failed to connect database: %w", err)
	}

	sqlDB, err := db.DB()
	if err != nil {
		return nil, fmt.Errorf("failed to get sql.DB: %w", err)
	}

	maxIdleConns := c.MaxIdleConns
	if maxIdleConns == 0 {
		maxIdleConns = 10
	}
	maxOpenConns := c.MaxOpenConns
	if maxOpenConns == 0 {
		maxOpenConns = 100
	}
	connMaxLifetime := c.ConnMaxLifetime
	if connMaxLifetime == 0 {
		connMaxLifetime = time.Hour
	}

	sqlDB.SetMaxIdleConns(maxIdleConns)
	sqlDB.SetMaxOpenConns(maxOpenConns)
	sqlDB.SetConnMaxLifetime(connMaxLifetime)

	healthCheckTimeout := c.HealthCheckTimeout
	if healthCheckTimeout == 0 {
		healthCheckTimeout = 5 * time.Second
	}

	ctx, cancel := context.WithTimeout(context.Background(), healthCheckTimeout)
	defer cancel()

	if err := sqlDB.PingContext(ctx); err != nil {
		return nil, fmt.Errorf("database health check failed: %w", err)
	}

	logHelper.Info("database connected and health check passed")
	return db, nil
}
