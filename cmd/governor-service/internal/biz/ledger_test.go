package biz

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"llmgovernor/cmd/governor-service/internal/domain"
	goverrors "llmgovernor/pkg/errors"
)

func newTestLedger(repo *fakeBudgetRepo) (*BudgetLedger, *fakeUsageRepo, *fakeNotifier, *fakeTierStore) {
	usage := &fakeUsageRepo{}
	notifier := &fakeNotifier{}
	tiers := &fakeTierStore{tiers: map[string]domain.Tier{"t-pro": domain.TierPro}}

	ledger := NewBudgetLedger(repo, usage, deadCache(), NewCostEstimator(nil),
		tiers, domain.DefaultTierPolicy(), notifier,
		LedgerConfig{SelfFundedFeeUSD: 0.002}, testLogger())
	return ledger, usage, notifier, tiers
}

func TestBudgetLedger_ReserveSettleRoundTrip(t *testing.T) {
	ctx := context.Background()
	repo := newFakeBudgetRepo()
	ledger, usage, _, _ := newTestLedger(repo)

	// pro 租户首次预留：记录按 pro 默认限额惰性创建
	reserved, err := ledger.Reserve(ctx, &domain.AdmissionRequest{
		TenantID: "t-pro", Provider: "openai", Model: "gpt-4",
		InputTokens: 1000, OutputTokens: 500,
	})
	require.NoError(t, err)
	assert.InDelta(t, 0.06, reserved, 1e-9)

	rec := repo.record("t-pro")
	require.NotNil(t, rec)
	assert.InDelta(t, 50.00, rec.MonthlyLimitUSD, 1e-9)
	assert.InDelta(t, 0.06, rec.PendingUSD, 1e-9)
	assert.Zero(t, rec.CommittedUSD)

	// 结算实际花费：预留释放、花费入账
	ledger.Settle(ctx, SettleInput{
		TenantID: "t-pro", Provider: "openai", Model: "gpt-4",
		InputTokens: 1000, OutputTokens: 420,
		ActualUSD: 0.0552, ReservedUSD: reserved,
		RequestID: "req-1", ActorType: domain.ActorUser, ActorID: "u-1",
	})

	rec = repo.record("t-pro")
	assert.Zero(t, rec.PendingUSD)
	assert.InDelta(t, 0.0552, rec.CommittedUSD, 1e-9)
	assert.Equal(t, 1, usage.count())
}

func TestBudgetLedger_InterleavedReservationsHoldInvariant(t *testing.T) {
	ctx := context.Background()
	repo := newFakeBudgetRepo()
	repo.seed(&domain.BudgetRecord{
		TenantID:          "t-1",
		MonthlyLimitUSD:   0.20,
		HardLimit:         true,
		AlertThresholdPct: 80,
		CycleStart:        time.Now().UTC(),
	})
	ledger, _, _, _ := newTestLedger(repo)

	req := &domain.AdmissionRequest{
		TenantID: "t-1", Provider: "openai", Model: "gpt-4",
		InputTokens: 1000, // $0.03 一次
	}

	// 任意 reserve/settle 交错下敞口不超过限额；被拒的预留不占额度
	var held []float64
	for i := 0; i < 12; i++ {
		reserved, err := ledger.Reserve(ctx, req)
		if err != nil {
			assert.True(t, goverrors.IsBudgetExceeded(err))
		} else {
			held = append(held, reserved)
		}
		if i%3 == 2 && len(held) > 0 {
			ledger.Settle(ctx, SettleInput{
				TenantID: "t-1", ActualUSD: held[0] / 2, ReservedUSD: held[0],
			})
			held = held[1:]
		}

		rec := repo.record("t-1")
		assert.LessOrEqual(t, rec.Exposure(), rec.MonthlyLimitUSD+1e-9)
		assert.GreaterOrEqual(t, rec.PendingUSD, 0.0)
	}
}

func TestBudgetLedger_Reserve_HardLimitDenied(t *testing.T) {
	ctx := context.Background()
	repo := newFakeBudgetRepo()
	repo.seed(&domain.BudgetRecord{
		TenantID:          "t-1",
		MonthlyLimitUSD:   10.00,
		CommittedUSD:      9.99,
		HardLimit:         true,
		AlertThresholdPct: 80,
		CycleStart:        time.Now().UTC(),
	})
	ledger, _, _, _ := newTestLedger(repo)

	// 剩余 $0.01，预估 $0.03：拒绝，且不允许改动任何状态
	_, err := ledger.Reserve(ctx, &domain.AdmissionRequest{
		TenantID: "t-1", Provider: "openai", Model: "gpt-4",
		InputTokens: 1000,
	})
	require.Error(t, err)
	assert.True(t, goverrors.IsBudgetExceeded(err))
	assert.True(t, goverrors.IsDenial(err))

	rec := repo.record("t-1")
	assert.Zero(t, rec.PendingUSD)
	assert.InDelta(t, 9.99, rec.CommittedUSD, 1e-9)
}

func TestBudgetLedger_Reserve_SoftLimitAllowsOverrun(t *testing.T) {
	ctx := context.Background()
	repo := newFakeBudgetRepo()
	repo.seed(&domain.BudgetRecord{
		TenantID:          "t-soft",
		MonthlyLimitUSD:   10.00,
		CommittedUSD:      9.99,
		HardLimit:         false,
		AlertThresholdPct: 80,
		CycleStart:        time.Now().UTC(),
	})
	ledger, _, _, _ := newTestLedger(repo)

	// 软限制租户超限不阻断，只降级服务
	reserved, err := ledger.Reserve(ctx, &domain.AdmissionRequest{
		TenantID: "t-soft", Provider: "openai", Model: "gpt-4",
		InputTokens: 1000,
	})
	require.NoError(t, err)
	assert.InDelta(t, 0.03, reserved, 1e-9)
	assert.InDelta(t, 0.03, repo.record("t-soft").PendingUSD, 1e-9)
}

func TestBudgetLedger_Reserve_RolloverResetsCycle(t *testing.T) {
	ctx := context.Background()
	repo := newFakeBudgetRepo()
	repo.seed(&domain.BudgetRecord{
		TenantID:          "t-1",
		MonthlyLimitUSD:   10.00,
		CommittedUSD:      10.00,
		HardLimit:         true,
		AlertThresholdPct: 80,
		CycleStart:        time.Now().UTC().AddDate(0, -1, 0),
	})
	ledger, _, _, _ := newTestLedger(repo)

	// 上个计费月花光了：新月份第一次预留先重置再判断
	reserved, err := ledger.Reserve(ctx, &domain.AdmissionRequest{
		TenantID: "t-1", Provider: "openai", Model: "gpt-4",
		InputTokens: 1000,
	})
	require.NoError(t, err)

	rec := repo.record("t-1")
	assert.Zero(t, rec.CommittedUSD)
	assert.InDelta(t, reserved, rec.PendingUSD, 1e-9)
}

func TestBudgetLedger_Settle_SelfFundedFixedFee(t *testing.T) {
	ctx := context.Background()
	repo := newFakeBudgetRepo()
	ledger, usage, _, _ := newTestLedger(repo)

	// 自带密钥：实际成本不计入平台预算，按固定服务费入账
	ledger.Settle(ctx, SettleInput{
		TenantID: "t-1", Provider: "openai", Model: "gpt-4",
		ActualUSD: 1.23, ReservedUSD: 0, SelfFunded: true,
	})

	rec := repo.record("t-1")
	require.NotNil(t, rec)
	assert.InDelta(t, 0.002, rec.CommittedUSD, 1e-9)
	require.Equal(t, 1, usage.count())
	assert.True(t, usage.events[0].SelfFunded)
	assert.InDelta(t, 0.002, usage.events[0].CostUSD, 1e-9)
}

func TestBudgetLedger_Settle_PendingNeverNegative(t *testing.T) {
	ctx := context.Background()
	repo := newFakeBudgetRepo()
	repo.seed(&domain.BudgetRecord{
		TenantID:          "t-1",
		MonthlyLimitUSD:   10.00,
		PendingUSD:        0.01,
		HardLimit:         true,
		AlertThresholdPct: 80,
		CycleStart:        time.Now().UTC(),
	})
	ledger, _, _, _ := newTestLedger(repo)

	// 释放超出当前预留额（重试交错场景）：钳回零
	ledger.Settle(ctx, SettleInput{
		TenantID: "t-1", ActualUSD: 0.05, ReservedUSD: 0.05,
	})
	assert.Zero(t, repo.record("t-1").PendingUSD)
}

func TestBudgetLedger_Settle_AlertFiredOncePerCycle(t *testing.T) {
	ctx := context.Background()
	repo := newFakeBudgetRepo()
	repo.seed(&domain.BudgetRecord{
		TenantID:          "t-1",
		MonthlyLimitUSD:   10.00,
		CommittedUSD:      7.90,
		HardLimit:         true,
		AlertThresholdPct: 80,
		CycleStart:        time.Now().UTC(),
	})
	ledger, _, notifier, _ := newTestLedger(repo)

	// 跨过 80% 阈值：告警发出且本周期只发一次
	ledger.Settle(ctx, SettleInput{TenantID: "t-1", ActualUSD: 0.20})
	assert.Equal(t, 1, notifier.count())
	assert.NotNil(t, repo.record("t-1").AlertSentAt)

	ledger.Settle(ctx, SettleInput{TenantID: "t-1", ActualUSD: 0.20})
	assert.Equal(t, 1, notifier.count())
}

func TestBudgetLedger_Settle_StoreFailureDoesNotPropagate(t *testing.T) {
	ctx := context.Background()
	repo := newFakeBudgetRepo()
	repo.failErr = errors.New("connection reset")
	ledger, usage, _, _ := newTestLedger(repo)

	// 结算是尽力而为：记账失败只记日志，不 panic、不写用量事件
	ledger.Settle(ctx, SettleInput{TenantID: "t-1", ActualUSD: 0.05, ReservedUSD: 0.05})
	assert.Zero(t, usage.count())
}

func TestBudgetLedger_Release(t *testing.T) {
	ctx := context.Background()
	repo := newFakeBudgetRepo()
	ledger, _, _, _ := newTestLedger(repo)

	reserved, err := ledger.Reserve(ctx, &domain.AdmissionRequest{
		TenantID: "t-pro", Provider: "openai", Model: "gpt-4",
		InputTokens: 1000,
	})
	require.NoError(t, err)

	ledger.Release(ctx, "t-pro", reserved)

	rec := repo.record("t-pro")
	assert.Zero(t, rec.PendingUSD)
	assert.Zero(t, rec.CommittedUSD)
}

func TestBudgetLedger_Status_FailClosedOnStoreError(t *testing.T) {
	repo := newFakeBudgetRepo()
	ledger, _, _, _ := newTestLedger(repo)

	// 共享存储连不上：预算状态未知时绝不放行
	status := ledger.Status(context.Background(), "t-1")
	assert.Equal(t, domain.BudgetStatusHardLimit, status)
}

func TestBudgetLedger_Status_WithRedis(t *testing.T) {
	c := liveCache(t.Skip)
	defer c.Close()
	ctx := context.Background()

	repo := newFakeBudgetRepo()
	ledger := NewBudgetLedger(repo, &fakeUsageRepo{}, c, NewCostEstimator(nil),
		&fakeTierStore{}, domain.DefaultTierPolicy(), &fakeNotifier{},
		LedgerConfig{}, testLogger())

	// 没有预算记录：OK（首次预留时才惰性创建）
	assert.Equal(t, domain.BudgetStatusOK, ledger.Status(ctx, "t-absent"))

	testCases := []struct {
		name     string
		rec      *domain.BudgetRecord
		expected domain.BudgetStatus
	}{
		{
			name: "低于告警阈值",
			rec: &domain.BudgetRecord{
				TenantID: "t-ok", MonthlyLimitUSD: 10, CommittedUSD: 1,
				HardLimit: true, AlertThresholdPct: 80, CycleStart: time.Now().UTC(),
			},
			expected: domain.BudgetStatusOK,
		},
		{
			name: "跨过告警阈值",
			rec: &domain.BudgetRecord{
				TenantID: "t-warn", MonthlyLimitUSD: 10, CommittedUSD: 8.5,
				HardLimit: true, AlertThresholdPct: 80, CycleStart: time.Now().UTC(),
			},
			expected: domain.BudgetStatusSoftLimit,
		},
		{
			name: "硬限制超限",
			rec: &domain.BudgetRecord{
				TenantID: "t-hard", MonthlyLimitUSD: 10, CommittedUSD: 10,
				HardLimit: true, AlertThresholdPct: 80, CycleStart: time.Now().UTC(),
			},
			expected: domain.BudgetStatusHardLimit,
		},
		{
			name: "软限制超限只降级",
			rec: &domain.BudgetRecord{
				TenantID: "t-softover", MonthlyLimitUSD: 10, CommittedUSD: 10,
				HardLimit: false, AlertThresholdPct: 80, CycleStart: time.Now().UTC(),
			},
			expected: domain.BudgetStatusSoftLimit,
		},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			repo.seed(tc.rec)
			assert.Equal(t, tc.expected, ledger.Status(ctx, tc.rec.TenantID))
		})
	}

	// 硬限制命中后快路径标记生效：不读数据库也能拒绝
	assert.True(t, ledger.FastPathBlocked(ctx, "t-hard"))
	assert.False(t, ledger.FastPathBlocked(ctx, "t-ok"))
}

func TestBudgetLedger_FastPathBlocked_FailsOpenOnStoreError(t *testing.T) {
	repo := newFakeBudgetRepo()
	ledger, _, _, _ := newTestLedger(repo)

	// 快路径标记读不到时不拒绝：行锁内的 Reserve 才是权威判断
	assert.False(t, ledger.FastPathBlocked(context.Background(), "t-1"))
}
