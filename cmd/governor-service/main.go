package main

import (
	"context"
	"flag"
	"fmt"
	stdlog "log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	kratoslog "github.com/go-kratos/kratos/v2/log"
	_ "go.uber.org/automaxprocs"
	"go.uber.org/zap"

	"llmgovernor/cmd/governor-service/internal/biz"
	"llmgovernor/cmd/governor-service/internal/conf"
	"llmgovernor/cmd/governor-service/internal/data"
	"llmgovernor/cmd/governor-service/internal/domain"
	"llmgovernor/cmd/governor-service/internal/server"
	"llmgovernor/pkg/cache"
	"llmgovernor/pkg/clients"
	"llmgovernor/pkg/database"
	"llmgovernor/pkg/health"
	"llmgovernor/pkg/resilience"
)

var configFile = flag.String("config", "", "配置文件路径")

func main() {
	flag.Parse()

	// 加载配置
	config, err := conf.Load(*configFile)
	if err != nil {
		stdlog.Fatalf("Failed to load config: %v", err)
	}

	// 初始化日志
	zapLogger, err := initLogger(config.Observability)
	if err != nil {
		stdlog.Fatalf("Failed to init logger: %v", err)
	}
	defer zapLogger.Sync()

	zapLogger.Info("Starting Governor Service",
		zap.String("version", config.Observability.ServiceVersion),
		zap.String("environment", config.Observability.Environment),
	)

	logger := kratoslog.NewStdLogger(os.Stdout)

	// 数据库
	db, err := database.NewDB(&database.Config{
		Host:            config.Database.Host,
		Port:            config.Database.Port,
		User:            config.Database.User,
		Password:        config.Database.Password,
		Database:        config.Database.DBName,
		SSLMode:         config.Database.SSLMode,
		MaxOpenConns:    config.Database.MaxOpenConns,
		MaxIdleConns:    config.Database.MaxIdleConns,
		ConnMaxLifetime: config.Database.ConnMaxLifetime,
	}, logger)
	if err != nil {
		zapLogger.Fatal("Failed to connect database", zap.Error(err))
	}

	// Redis（共享协调存储）
	redisCache := cache.NewRedisCache(&cache.Config{
		Addr:         config.Redis.Addr,
		Password:     config.Redis.Password,
		DB:           config.Redis.DB,
		PoolSize:     config.Redis.PoolSize,
		DialTimeout:  config.Redis.DialTimeout,
		ReadTimeout:  config.Redis.ReadTimeout,
		WriteTimeout: config.Redis.WriteTimeout,
	})
	defer redisCache.Close()

	// 仓储
	budgetRepo := data.NewBudgetRepository(db)
	usageRepo := data.NewUsageEventRepository(db)
	auditRepo := data.NewAuditLogRepository(db)
	tierStore := data.NewTierStore(redisCache, logger)

	// 告警桥接
	var notifier domain.AlertNotifier = biz.NopNotifier{}
	if config.Governor.Notification.BaseURL != "" {
		notifier = biz.NewAlertBridge(
			clients.NewNotificationClient(config.Governor.Notification.BaseURL, config.Governor.Notification.Timeout),
			logger,
		)
	}

	// 治理组件
	policy := config.TierPolicy()
	pricing := domain.NewStaticPricingTable(config.PricingEntries())
	estimator := biz.NewCostEstimator(pricing)

	ledger := biz.NewBudgetLedger(budgetRepo, usageRepo, redisCache, estimator,
		tierStore, policy, notifier,
		biz.LedgerConfig{SelfFundedFeeUSD: config.Governor.SelfFundedFeeUSD}, logger)
	fairUse := biz.NewFairUseGuard(redisCache, policy, auditRepo, logger)
	abuse := biz.NewAbuseGuard(redisCache, auditRepo, biz.AbuseConfig{
		RequestThreshold: config.Governor.Abuse.RequestThreshold,
		TenantThreshold:  config.Governor.Abuse.TenantThreshold,
		BlockDuration:    config.Governor.Abuse.BlockDuration,
	}, logger)

	governor := biz.NewGovernor(ledger, fairUse, abuse, tierStore, resilience.Config{
		FailureThreshold: config.Governor.Breaker.FailureThreshold,
		SuccessThreshold: config.Governor.Breaker.SuccessThreshold,
		RecoveryTimeout:  config.Governor.Breaker.RecoveryTimeout,
	}, logger)

	// 健康检查
	checker := health.NewHealthChecker()
	sqlDB, err := db.DB()
	if err != nil {
		zapLogger.Fatal("Failed to get sql.DB", zap.Error(err))
	}
	checker.Register(health.NewPingChecker("postgres", sqlDB.PingContext))
	checker.Register(health.NewPingChecker("redis", redisCache.Ping))

	// metrics + 健康检查 + 运维操作 HTTP
	mux := server.NewMux(governor, checker)

	metricsAddr := fmt.Sprintf(":%d", config.Server.MetricsPort)
	srv := &http.Server{
		Addr:    metricsAddr,
		Handler: mux,
	}

	go func() {
		zapLogger.Info("Metrics server starting", zap.String("addr", metricsAddr))
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			zapLogger.Fatal("Metrics server failed", zap.Error(err))
		}
	}()

	// 等待中断信号
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	zapLogger.Info("Shutting down...")

	shutdownTimeout := config.Server.ShutdownTimeout
	if shutdownTimeout == 0 {
		shutdownTimeout = 10 * time.Second
	}
	ctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()

	if err := srv.Shutdown(ctx); err != nil {
		zapLogger.Error("Metrics server shutdown failed", zap.Error(err))
	}

	zapLogger.Info("Server exited")
}

// initLogger 初始化日志
func initLogger(cfg conf.ObservabilityConfig) (*zap.Logger, error) {
	var zapConfig zap.Config

	if cfg.LogFormat == "json" {
		zapConfig = zap.NewProductionConfig()
	} else {
		zapConfig = zap.NewDevelopmentConfig()
	}

	level, err := zap.ParseAtomicLevel(cfg.LogLevel)
	if err != nil {
		level = zap.NewAtomicLevelAt(zap.InfoLevel)
	}
	zapConfig.Level = level

	zapConfig.InitialFields = map[string]interface{}{
		"service":     cfg.ServiceName,
		"environment": cfg.Environment,
	}

	return zapConfig.Build()
}
