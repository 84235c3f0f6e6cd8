package biz

import (
	"context"
	"fmt"
	"time"

	"github.com/go-kratos/kratos/v2/log"

	"llmgovernor/cmd/governor-service/internal/domain"
	"llmgovernor/pkg/cache"
	goverrors "llmgovernor/pkg/errors"
	"llmgovernor/pkg/monitoring"
)

// 集群级预算状态快路径标记的 TTL。短 TTL：限额解除（结算、调额）后
// 最多这么久恢复放行。
const budgetFlagTTL = 30 * time.Second

// LedgerConfig 账本配置
type LedgerConfig struct {
	// SelfFundedFeeUSD bring-your-own-key 调用按固定平台服务费结算
	SelfFundedFeeUSD float64
}

// BudgetLedger 预算账本。reserve → settle → release 协议的唯一实现，
// 全部修改走租户行锁。
type BudgetLedger struct {
	repo      domain.BudgetRepository
	usage     domain.UsageEventRepository
	cache     *cache.RedisCache
	estimator *CostEstimator
	tiers     domain.TierStore
	policy    domain.TierPolicy
	notifier  domain.AlertNotifier
	config    LedgerConfig
	logger    *log.Helper
	now       func() time.Time
}

// NewBudgetLedger 创建预算账本
func NewBudgetLedger(
	repo domain.BudgetRepository,
	usage domain.UsageEventRepository,
	c *cache.RedisCache,
	estimator *CostEstimator,
	tiers domain.TierStore,
	policy domain.TierPolicy,
	notifier domain.AlertNotifier,
	config LedgerConfig,
	logger log.Logger,
) *BudgetLedger {
	return &BudgetLedger{
		repo:      repo,
		usage:     usage,
		cache:     c,
		estimator: estimator,
		tiers:     tiers,
		policy:    policy,
		notifier:  notifier,
		config:    config,
		logger:    log.NewHelper(log.With(logger, "module", "budget-ledger")),
		now:       func() time.Time { return time.Now().UTC() },
	}
}

// Reserve 预留预算。行锁内：跨月重置 → 计算剩余 → 硬限制超限则拒绝
// （不改任何状态）→ 否则增加预留额。返回预留金额。
func (l *BudgetLedger) Reserve(ctx context.Context, req *domain.AdmissionRequest) (float64, error) {
	estimated := l.estimator.Estimate(req.Provider, req.Model, req.InputTokens, req.OutputTokens)

	tier, err := l.tiers.TierOf(ctx, req.TenantID)
	if err != nil {
		tier = domain.TierFree
	}
	defaultLimit := l.policy.Limits(tier).MonthlyBudgetUSD

	err = l.repo.WithLock(ctx, req.TenantID, defaultLimit, func(rec *domain.BudgetRecord) error {
		rec.RolloverIfNewCycle(l.now())

		remaining := rec.Remaining()
		if estimated > remaining && rec.HardLimit {
			return goverrors.NewBudgetExceeded(req.Model,
				rec.MonthlyLimitUSD, rec.CommittedUSD, estimated, remaining)
		}

		rec.PendingUSD += estimated
		monitoring.BudgetExposure.WithLabelValues(rec.TenantID).Set(rec.Exposure())
		return nil
	})
	if err != nil {
		if goverrors.IsBudgetExceeded(err) {
			monitoring.ReservationsTotal.WithLabelValues("denied").Inc()
			return 0, err
		}
		monitoring.ReservationsTotal.WithLabelValues("error").Inc()
		return 0, fmt.Errorf("reserve budget for tenant %s: %w", req.TenantID, err)
	}

	monitoring.ReservationsTotal.WithLabelValues("ok").Inc()
	return estimated, nil
}

// SettleInput 结算输入
type SettleInput struct {
	TenantID     string
	Provider     string
	Model        string
	InputTokens  int
	OutputTokens int
	ActualUSD    float64
	ReservedUSD  float64
	SelfFunded   bool
	RequestID    string
	ActorType    domain.ActorType
	ActorID      string
	RequestType  string
}

// Settle 结算预留。尽力而为：调用方的工作已经完成，记账失败只记日志，
// 绝不反过来让调用方失败。
func (l *BudgetLedger) Settle(ctx context.Context, in SettleInput) {
	actual := in.ActualUSD
	if in.SelfFunded {
		// 自带密钥的调用不消耗平台预算，按固定服务费入账
		actual = l.config.SelfFundedFeeUSD
	}

	var fireAlert bool
	var alertRec domain.BudgetRecord

	err := l.repo.WithLock(ctx, in.TenantID, l.policy.Limits(domain.TierFree).MonthlyBudgetUSD, func(rec *domain.BudgetRecord) error {
		rec.RolloverIfNewCycle(l.now())
		rec.ReleasePending(in.ReservedUSD)
		rec.CommittedUSD += actual

		if l.shouldAlert(rec) {
			now := l.now()
			rec.AlertSentAt = &now
			fireAlert = true
			alertRec = *rec
		}

		monitoring.BudgetExposure.WithLabelValues(rec.TenantID).Set(rec.Exposure())
		return nil
	})
	if err != nil {
		monitoring.SettlementsTotal.WithLabelValues("error").Inc()
		l.logger.Errorf("settle failed for tenant %s (reserved=$%.4f actual=$%.4f): %v",
			in.TenantID, in.ReservedUSD, actual, err)
		return
	}

	monitoring.SettlementsTotal.WithLabelValues("ok").Inc()
	monitoring.LLMCostTotal.WithLabelValues(in.Provider, in.Model, in.TenantID).Add(actual)

	if err := l.usage.Append(ctx, &domain.UsageEvent{
		TenantID:     in.TenantID,
		Provider:     in.Provider,
		Model:        in.Model,
		InputTokens:  in.InputTokens,
		OutputTokens: in.OutputTokens,
		CostUSD:      actual,
		SelfFunded:   in.SelfFunded,
		RequestID:    in.RequestID,
		ActorType:    in.ActorType,
		ActorID:      in.ActorID,
		RequestType:  in.RequestType,
	}); err != nil {
		l.logger.Warnf("append usage event failed for tenant %s: %v", in.TenantID, err)
	}

	if fireAlert {
		l.sendAlert(ctx, &alertRec)
	}
}

// Release 取消预留（租约获取失败、调用方放弃时回滚预留额）。尽力而为。
func (l *BudgetLedger) Release(ctx context.Context, tenantID string, reservedUSD float64) {
	if reservedUSD <= 0 {
		return
	}
	err := l.repo.WithLock(ctx, tenantID, l.policy.Limits(domain.TierFree).MonthlyBudgetUSD, func(rec *domain.BudgetRecord) error {
		rec.RolloverIfNewCycle(l.now())
		rec.ReleasePending(reservedUSD)
		monitoring.BudgetExposure.WithLabelValues(rec.TenantID).Set(rec.Exposure())
		return nil
	})
	if err != nil {
		l.logger.Errorf("release reservation failed for tenant %s ($%.4f): %v", tenantID, reservedUSD, err)
	}
}

// Status 预算状态的廉价读路径。先看集群级快路径标记；共享存储故障时
// fail-closed 按 HARD_LIMIT 处理——未知的预算状态绝不等于可以花钱。
func (l *BudgetLedger) Status(ctx context.Context, tenantID string) domain.BudgetStatus {
	_, blocked, err := l.cache.Get(ctx, blockFlagKey(tenantID))
	if err != nil {
		l.logger.Warnf("budget status fail-closed for tenant %s, shared store error: %v", tenantID, err)
		return domain.BudgetStatusHardLimit
	}
	if blocked {
		return domain.BudgetStatusHardLimit
	}

	_, soft, err := l.cache.Get(ctx, softFlagKey(tenantID))
	if err != nil {
		l.logger.Warnf("budget status fail-closed for tenant %s, shared store error: %v", tenantID, err)
		return domain.BudgetStatusHardLimit
	}
	if soft {
		return domain.BudgetStatusSoftLimit
	}

	rec, err := l.repo.Get(ctx, tenantID)
	if err != nil {
		l.logger.Warnf("budget status fail-closed for tenant %s, database error: %v", tenantID, err)
		return domain.BudgetStatusHardLimit
	}
	if rec == nil {
		// 还没有预算记录：首次预留时才惰性创建
		return domain.BudgetStatusOK
	}

	switch {
	case rec.Exposure() >= rec.MonthlyLimitUSD:
		if rec.HardLimit {
			l.setFlag(ctx, blockFlagKey(tenantID))
			return domain.BudgetStatusHardLimit
		}
		// 软限制租户超限降级服务，不阻断
		l.setFlag(ctx, softFlagKey(tenantID))
		return domain.BudgetStatusSoftLimit
	case rec.Exposure() >= rec.MonthlyLimitUSD*float64(rec.AlertThresholdPct)/100.0:
		l.setFlag(ctx, softFlagKey(tenantID))
		return domain.BudgetStatusSoftLimit
	default:
		return domain.BudgetStatusOK
	}
}

// FastPathBlocked 只在快路径标记确定存在时返回 true。共享存储故障时
// 返回 false：准入路径上行锁内的 Reserve 才是权威判断。
func (l *BudgetLedger) FastPathBlocked(ctx context.Context, tenantID string) bool {
	_, blocked, err := l.cache.Get(ctx, blockFlagKey(tenantID))
	return err == nil && blocked
}

// shouldAlert 判断是否触发预算告警：本周期花费达到阈值且本周期未发过
func (l *BudgetLedger) shouldAlert(rec *domain.BudgetRecord) bool {
	if rec.AlertSentAt != nil || rec.AlertThresholdPct <= 0 {
		return false
	}
	threshold := rec.MonthlyLimitUSD * float64(rec.AlertThresholdPct) / 100.0
	return rec.CommittedUSD >= threshold
}

// sendAlert 投递预算告警。投递失败只记日志，不影响结算。
func (l *BudgetLedger) sendAlert(ctx context.Context, rec *domain.BudgetRecord) {
	title := fmt.Sprintf("Budget alert: %d%% of monthly limit reached", rec.AlertThresholdPct)
	message := fmt.Sprintf("Tenant %s has spent $%.2f of its $%.2f monthly budget.",
		rec.TenantID, rec.CommittedUSD, rec.MonthlyLimitUSD)

	if err := l.notifier.Notify(ctx, rec.TenantID, title, message, "warning"); err != nil {
		l.logger.Warnf("budget alert delivery failed for tenant %s: %v", rec.TenantID, err)
	}
}

func (l *BudgetLedger) setFlag(ctx context.Context, key string) {
	if err := l.cache.Set(ctx, key, "1", budgetFlagTTL); err != nil {
		l.logger.Warnf("set budget flag %s failed: %v", key, err)
	}
}

func blockFlagKey(tenantID string) string {
	return fmt.Sprintf("budget:block:%s", tenantID)
}

func softFlagKey(tenantID string) string {
	return fmt.Sprintf("budget:soft:%s", tenantID)
}
