package biz

import (
	"context"
	"fmt"

	"github.com/go-kratos/kratos/v2/log"

	"llmgovernor/cmd/governor-service/internal/domain"
	goverrors "llmgovernor/pkg/errors"
	"llmgovernor/pkg/monitoring"
	"llmgovernor/pkg/resilience"
)

// BudgetGovernor 治理门面。单一实现：预算、配额、并发、滥用防护的
// 准入判断只走这一条路径。
type BudgetGovernor interface {
	// CheckAdmission 完整准入检查：配额门禁 → 全局滥用防护 → 预算
	// 预留 → 并发租约（最后获取，持有到调用结束）
	CheckAdmission(ctx context.Context, req *domain.AdmissionRequest) (*domain.Admission, error)

	// Finish 结算并释放租约。无论结算成败，租约释放都在保证清理
	// 路径里执行。
	Finish(ctx context.Context, adm *domain.Admission, usage domain.UsageResult)

	// Abort 调用方放弃（取消、panic 恢复后清理）：回滚预留、释放租约
	Abort(ctx context.Context, adm *domain.Admission)

	// ReleaseLease 单独暴露的租约释放入口
	ReleaseLease(ctx context.Context, tenantID string)

	// Status 预算状态的廉价读路径
	Status(ctx context.Context, tenantID string) domain.BudgetStatus
}

// Governor 治理门面实现。进程内可变状态（兜底计数、熔断表、滥用封禁
// 时间戳）都挂在这个显式构造的实例上，进程启动时建一次、到处注入，
// 不放包级全局变量。
type Governor struct {
	ledger   *BudgetLedger
	fairUse  *FairUseGuard
	abuse    *AbuseGuard
	tiers    domain.TierStore
	breakers *resilience.BreakerGroup
	logger   *log.Helper
}

// NewGovernor 创建治理门面
func NewGovernor(
	ledger *BudgetLedger,
	fairUse *FairUseGuard,
	abuse *AbuseGuard,
	tiers domain.TierStore,
	breakerConfig resilience.Config,
	logger log.Logger,
) *Governor {
	if breakerConfig.OnStateChange == nil {
		breakerConfig.OnStateChange = func(provider string, from, to resilience.State) {
			monitoring.BreakerState.WithLabelValues(provider).Set(float64(to))
			log.NewHelper(logger).Warnf("circuit breaker %s: %s -> %s", provider, from, to)
		}
	}

	return &Governor{
		ledger:   ledger,
		fairUse:  fairUse,
		abuse:    abuse,
		tiers:    tiers,
		breakers: resilience.NewBreakerGroup(breakerConfig),
		logger:   log.NewHelper(log.With(logger, "module", "governor")),
	}
}

// CheckAdmission 完整准入检查。便宜的门禁在前，持锁的预算预留在后，
// 避免锁内做无关工作；并发租约最后获取，立刻进入调用方的持有期。
func (g *Governor) CheckAdmission(ctx context.Context, req *domain.AdmissionRequest) (*domain.Admission, error) {
	if req.TenantID == "" {
		return nil, fmt.Errorf("admission request missing tenant id")
	}

	tier, err := g.tiers.TierOf(ctx, req.TenantID)
	if err != nil {
		tier = domain.TierFree
	}

	if err := g.fairUse.CheckQuotas(ctx, req, tier); err != nil {
		return nil, err
	}

	if err := g.abuse.Check(ctx, req.TenantID); err != nil {
		return nil, err
	}

	// 快路径：集群级 block 标记已确定存在时不必进预算行锁
	if g.ledger.FastPathBlocked(ctx, req.TenantID) {
		monitoring.AdmissionDenials.WithLabelValues("budget", string(tier)).Inc()
		return nil, goverrors.NewBudgetBlocked(req.TenantID)
	}

	reserved, err := g.ledger.Reserve(ctx, req)
	if err != nil {
		return nil, err
	}

	leaseHeld, err := g.fairUse.AcquireLease(ctx, req, tier)
	if err != nil {
		// 预留已经成立，租约被拒必须把预留额回滚
		g.ledger.Release(ctx, req.TenantID, reserved)
		return nil, err
	}

	return &domain.Admission{
		TenantID:    req.TenantID,
		Provider:    req.Provider,
		Model:       req.Model,
		ReservedUSD: reserved,
		LeaseHeld:   leaseHeld,
		RequestID:   req.RequestID,
		ActorType:   req.ActorType,
		ActorID:     req.ActorID,
		RequestType: req.RequestType,
	}, nil
}

// Finish 结算并释放租约
func (g *Governor) Finish(ctx context.Context, adm *domain.Admission, usage domain.UsageResult) {
	if adm == nil {
		return
	}

	defer func() {
		if adm.LeaseHeld {
			g.fairUse.ReleaseLease(ctx, adm.TenantID)
		}
	}()

	g.ledger.Settle(ctx, SettleInput{
		TenantID:     adm.TenantID,
		Provider:     adm.Provider,
		Model:        adm.Model,
		InputTokens:  usage.InputTokens,
		OutputTokens: usage.OutputTokens,
		ActualUSD:    usage.ActualUSD,
		ReservedUSD:  adm.ReservedUSD,
		SelfFunded:   usage.SelfFunded,
		RequestID:    adm.RequestID,
		ActorType:    adm.ActorType,
		ActorID:      adm.ActorID,
		RequestType:  adm.RequestType,
	})
}

// Abort 调用方放弃：回滚预留、释放租约。泄漏的租约靠 TTL 兜底，但
// 正常取消路径必须主动释放。
func (g *Governor) Abort(ctx context.Context, adm *domain.Admission) {
	if adm == nil {
		return
	}

	defer func() {
		if adm.LeaseHeld {
			g.fairUse.ReleaseLease(ctx, adm.TenantID)
		}
	}()

	g.ledger.Release(ctx, adm.TenantID, adm.ReservedUSD)
}

// ReleaseLease 单独的租约释放入口
func (g *Governor) ReleaseLease(ctx context.Context, tenantID string) {
	g.fairUse.ReleaseLease(ctx, tenantID)
}

// Status 预算状态查询
func (g *Governor) Status(ctx context.Context, tenantID string) domain.BudgetStatus {
	return g.ledger.Status(ctx, tenantID)
}

// Breakers 提供商熔断器组。调用方围绕实际的上游调用使用它，与准入
// 门禁互相独立。
func (g *Governor) Breakers() *resilience.BreakerGroup {
	return g.breakers
}

// SetKillSwitch 运维开关透传
func (g *Governor) SetKillSwitch(on bool) {
	g.abuse.SetKillSwitch(on)
}

var _ BudgetGovernor = (*Governor)(nil)
