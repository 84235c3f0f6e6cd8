package domain

import (
	"context"
	"time"
)

// BudgetRepository 预算仓储接口。WithLock 是 reserve/settle 的唯一
// 修改入口：fn 在租户行锁内执行，返回 nil 时修改被持久化，返回错误时
// 整个事务回滚、记录保持原状。
type BudgetRepository interface {
	// WithLock 对租户预算记录加排他锁后执行 fn。记录不存在时用
	// defaultLimitUSD 创建。锁的作用域就是本次调用，fn 返回即释放。
	WithLock(ctx context.Context, tenantID string, defaultLimitUSD float64, fn func(rec *BudgetRecord) error) error

	// Get 无锁读取，状态查询用。记录不存在返回 (nil, nil)。
	Get(ctx context.Context, tenantID string) (*BudgetRecord, error)
}

// UsageEventRepository 用量事件仓储接口，只追加
type UsageEventRepository interface {
	Append(ctx context.Context, event *UsageEvent) error
}

// AuditEntry 治理审计记录
type AuditEntry struct {
	ID        string
	TenantID  string
	ActorType ActorType
	ActorID   string
	Action    string // governor.denied, governor.reserved, ...
	Gate      string
	Details   map[string]interface{}
	CreatedAt time.Time
}

// AuditLogRepository 审计日志仓储接口
type AuditLogRepository interface {
	Create(ctx context.Context, entry *AuditEntry) error
}

// TierStore 租户等级查询接口
type TierStore interface {
	// TierOf 查询租户等级，未设置时返回 TierFree
	TierOf(ctx context.Context, tenantID string) (Tier, error)
	// SetTier 管理操作：设置租户等级
	SetTier(ctx context.Context, tenantID string, tier Tier) error
}

// AlertNotifier 预算告警投递接口（外部通知服务的薄桥接）
type AlertNotifier interface {
	Notify(ctx context.Context, tenantID, title, message, severity string) error
}
