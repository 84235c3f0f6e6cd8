package domain

import "time"

// BudgetStatus 预算状态
type BudgetStatus string

const (
	BudgetStatusOK        BudgetStatus = "OK"
	BudgetStatusSoftLimit BudgetStatus = "SOFT_LIMIT"
	BudgetStatusHardLimit BudgetStatus = "HARD_LIMIT"
)

// BudgetRecord 租户预算记录。只能在行锁内修改：reserve 和 settle 必须
// 按租户跨进程串行，防止并发请求各自看到同一份剩余预算后重复花费。
type BudgetRecord struct {
	TenantID          string     `gorm:"primaryKey;size:50"`
	MonthlyLimitUSD   float64    `gorm:"not null"`
	CommittedUSD      float64    `gorm:"not null;default:0"`
	PendingUSD        float64    `gorm:"not null;default:0"`
	HardLimit         bool       `gorm:"not null;default:true"`
	AlertThresholdPct int        `gorm:"not null;default:80"`
	AlertSentAt       *time.Time
	CycleStart        time.Time `gorm:"not null"`
	CreatedAt         time.Time
	UpdatedAt         time.Time
}

// TableName 指定表名
func (BudgetRecord) TableName() string {
	return "tenant_budgets"
}

// Exposure 当前总敞口：已结算花费 + 未结算预留。所有准入判断都以它为准。
func (b *BudgetRecord) Exposure() float64 {
	return b.CommittedUSD + b.PendingUSD
}

// Remaining 剩余可用预算
func (b *BudgetRecord) Remaining() float64 {
	return b.MonthlyLimitUSD - b.Exposure()
}

// RolloverIfNewCycle 跨入新计费月时清零花费、预留和告警标记。
// 同一个月内重复调用不再重置。返回是否发生了重置。
func (b *BudgetRecord) RolloverIfNewCycle(now time.Time) bool {
	if b.CycleStart.Year() == now.Year() && b.CycleStart.Month() == now.Month() {
		return false
	}

	b.CommittedUSD = 0
	b.PendingUSD = 0
	b.AlertSentAt = nil
	b.CycleStart = monthStart(now)
	return true
}

// ReleasePending 释放预留额度，下限为 0：reserve 和 settle 在重试场景下
// 可能合法地交错，不允许预留额变成负数。
func (b *BudgetRecord) ReleasePending(amount float64) {
	b.PendingUSD -= amount
	if b.PendingUSD < 0 {
		b.PendingUSD = 0
	}
}

// NewBudgetRecord 创建租户预算记录（首次预留时惰性创建）
func NewBudgetRecord(tenantID string, monthlyLimitUSD float64, now time.Time) *BudgetRecord {
	return &BudgetRecord{
		TenantID:          tenantID,
		MonthlyLimitUSD:   monthlyLimitUSD,
		HardLimit:         true,
		AlertThresholdPct: 80,
		CycleStart:        monthStart(now),
	}
}

func monthStart(t time.Time) time.Time {
	return time.Date(t.Year(), t.Month(), 1, 0, 0, 0, 0, time.UTC)
}
