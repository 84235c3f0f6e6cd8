// Package errors 定义治理层的错误分类。
//
// 拒绝（denial）是决策而不是故障：预算超限、配额超限、熔断开启都用带
// reason 和 metadata 的 kratos error 表达，调用方可以机读 gate 标签；
// 基础设施故障则用普通的 wrapped error 传播。
package errors

import (
	"fmt"
	"strconv"
	"time"

	"github.com/go-kratos/kratos/v2/errors"
)

// 决策类 reason 常量
const (
	ReasonBudgetExceeded  = "BUDGET_EXCEEDED"
	ReasonFairUseExceeded = "FAIR_USE_EXCEEDED"
	ReasonBreakerOpen     = "PROVIDER_UNAVAILABLE"
)

// NewBudgetExceeded 创建预算超限错误（硬限制命中，不可自动重试）
func NewBudgetExceeded(model string, limit, committed, estimated, remaining float64) *errors.Error {
	return errors.New(402, ReasonBudgetExceeded,
		fmt.Sprintf("monthly budget exceeded: estimated $%.4f, remaining $%.4f", estimated, remaining),
	).WithMetadata(map[string]string{
		"model":     model,
		"limit":     formatUSD(limit),
		"committed": formatUSD(committed),
		"estimated": formatUSD(estimated),
		"remaining": formatUSD(remaining),
	})
}

// NewBudgetBlocked 创建基于集群级 block 标记的预算拒绝。快路径上拿不到
// 账本明细，只带租户标识；权威明细见行锁内 Reserve 产生的错误。
func NewBudgetBlocked(tenantID string) *errors.Error {
	return errors.New(402, ReasonBudgetExceeded, "monthly budget exhausted").
		WithMetadata(map[string]string{
			"tenant_id": tenantID,
		})
}

// NewFairUseExceeded 创建公平使用拒绝错误，gate 标识触发的门禁
func NewFairUseExceeded(gate, tier string, retryAfter time.Duration) *errors.Error {
	md := map[string]string{
		"gate": gate,
		"tier": tier,
	}
	if retryAfter > 0 {
		md["retry_after_seconds"] = strconv.FormatInt(int64(retryAfter.Seconds()), 10)
	}
	return errors.New(429, ReasonFairUseExceeded,
		fmt.Sprintf("fair-use gate %q denied the request", gate),
	).WithMetadata(md)
}

// NewAbuseBlocked 创建全局滥用防护拒绝错误
func NewAbuseBlocked(reason string, retryAfter time.Duration) *errors.Error {
	md := map[string]string{
		"gate":   "global_abuse",
		"reason": reason,
	}
	if retryAfter > 0 {
		md["retry_after_seconds"] = strconv.FormatInt(int64(retryAfter.Seconds()), 10)
	}
	return errors.New(429, ReasonFairUseExceeded, "global abuse guard denied the request").
		WithMetadata(md)
}

// NewBreakerOpen 创建熔断开启错误。与真实的上游调用失败区分开：
// 调用方应切换到备用提供商，而不是重试同一个。
func NewBreakerOpen(provider string) *errors.Error {
	return errors.New(503, ReasonBreakerOpen,
		fmt.Sprintf("circuit breaker open for provider %q", provider),
	).WithMetadata(map[string]string{
		"provider": provider,
	})
}

// IsBudgetExceeded 判断是否为预算超限
func IsBudgetExceeded(err error) bool {
	return errors.Reason(err) == ReasonBudgetExceeded
}

// IsFairUseExceeded 判断是否为公平使用拒绝（含全局滥用防护）
func IsFairUseExceeded(err error) bool {
	return errors.Reason(err) == ReasonFairUseExceeded
}

// IsBreakerOpen 判断是否为熔断开启
func IsBreakerOpen(err error) bool {
	return errors.Reason(err) == ReasonBreakerOpen
}

// IsDenial 判断错误是否为治理决策（而不是基础设施故障）
func IsDenial(err error) bool {
	return IsBudgetExceeded(err) || IsFairUseExceeded(err) || IsBreakerOpen(err)
}

// Gate 返回拒绝错误携带的 gate 标签，非拒绝错误返回空串
func Gate(err error) string {
	if e := errors.FromError(err); e != nil {
		return e.Metadata["gate"]
	}
	return ""
}

func formatUSD(v float64) string {
	return strconv.FormatFloat(v, 'f', 4, 64)
}
