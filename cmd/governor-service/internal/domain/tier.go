package domain

import "time"

// Tier 租户等级
type Tier string

const (
	TierFree       Tier = "free"
	TierPro        Tier = "pro"
	TierEnterprise Tier = "enterprise"
)

// TierLimits 每个等级的公平使用限额。命名字段的类型化配置，启动时校验，
// 不走松散的 settings 包探测。
type TierLimits struct {
	// DailyRequests 租户每日请求上限；0 表示该等级未开通此功能，直接拒绝
	DailyRequests int
	// DailyUserRequests 单个用户每日上限；0 关闭该门禁
	DailyUserRequests int
	// DailySystemRequests 系统发起请求每日上限；0 关闭该门禁
	DailySystemRequests int
	// SoftDailyRequests 软性每日上限（仅高等级启用），与硬性上限分开标记，
	// 运营据此区分 "套餐限额" 和 "滥用限流"；0 关闭该门禁
	SoftDailyRequests int
	// RequestsPerMinute 每分钟请求上限；0 关闭该门禁
	RequestsPerMinute int
	// MaxConcurrency 并发租约上限；0 关闭该门禁
	MaxConcurrency int
	// LeaseTTL 并发租约过期时间，兜底泄漏的租约
	LeaseTTL time.Duration
	// MonthlyBudgetUSD 惰性创建预算记录时的默认月度限额
	MonthlyBudgetUSD float64
}

// TierPolicy 等级 → 限额表
type TierPolicy map[Tier]TierLimits

// Limits 查询等级限额，未知等级按 free 处理
func (p TierPolicy) Limits(tier Tier) TierLimits {
	if l, ok := p[tier]; ok {
		return l
	}
	return p[TierFree]
}

// DefaultTierPolicy 默认限额表
func DefaultTierPolicy() TierPolicy {
	return TierPolicy{
		TierFree: {
			DailyRequests:     20,
			DailyUserRequests: 10,
			RequestsPerMinute: 3,
			MaxConcurrency:    1,
			LeaseTTL:          2 * time.Minute,
			MonthlyBudgetUSD:  10.00,
		},
		TierPro: {
			DailyRequests:       500,
			DailyUserRequests:   100,
			DailySystemRequests: 200,
			SoftDailyRequests:   400,
			RequestsPerMinute:   30,
			MaxConcurrency:      5,
			LeaseTTL:            2 * time.Minute,
			MonthlyBudgetUSD:    50.00,
		},
		TierEnterprise: {
			DailyRequests:       5000,
			DailyUserRequests:   500,
			DailySystemRequests: 2000,
			SoftDailyRequests:   4000,
			RequestsPerMinute:   120,
			MaxConcurrency:      20,
			LeaseTTL:            2 * time.Minute,
			MonthlyBudgetUSD:    500.00,
		},
	}
}
