package biz

import (
	"context"

	"github.com/go-kratos/kratos/v2/log"

	"llmgovernor/cmd/governor-service/internal/domain"
	"llmgovernor/pkg/clients"
)

// AlertBridge 预算告警桥接。薄封装：投递路由（站内信/邮件/工单）
// 由外部通知服务决定，这里只负责转发。
type AlertBridge struct {
	client *clients.NotificationClient
	logger *log.Helper
}

// NewAlertBridge 创建告警桥接
func NewAlertBridge(client *clients.NotificationClient, logger log.Logger) domain.AlertNotifier {
	return &AlertBridge{
		client: client,
		logger: log.NewHelper(log.With(logger, "module", "alert-bridge")),
	}
}

// Notify 投递告警
func (b *AlertBridge) Notify(ctx context.Context, tenantID, title, message, severity string) error {
	return b.client.Send(ctx, &clients.NotificationRequest{
		TenantID: tenantID,
		Title:    title,
		Message:  message,
		Severity: severity,
	})
}

// NopNotifier 未配置通知服务时的空实现
type NopNotifier struct{}

// Notify 丢弃告警
func (NopNotifier) Notify(ctx context.Context, tenantID, title, message, severity string) error {
	return nil
}
