package biz

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/go-kratos/kratos/v2/log"

	"llmgovernor/cmd/governor-service/internal/domain"
	"llmgovernor/pkg/cache"
	goverrors "llmgovernor/pkg/errors"
	"llmgovernor/pkg/monitoring"
)

// 门禁标签。拒绝错误、指标、审计记录共用这一套命名。
const (
	GateDailyTenant  = "daily_tenant"
	GateDailyUser    = "daily_user"
	GateDailySystem  = "daily_system"
	GateActorContext = "actor_context"
	GateSoftDaily    = "soft_daily"
	GatePerMinute    = "per_minute"
	GateConcurrency  = "concurrency"
)

const dailyKeyTTL = 48 * time.Hour

// FairUseGuard 公平使用守卫。配额门禁按固定顺序执行（最便宜、最具体的
// 在前），全部通过后才允许进入持锁的预算预留。共享存储健康时计数是
// 集群级强保证；降级到进程内计数时公平性弱化为单进程范围，但语义不变。
type FairUseGuard struct {
	cache  *cache.RedisCache
	policy domain.TierPolicy
	audit  domain.AuditLogRepository
	logger *log.Helper
	now    func() time.Time

	// 共享存储不可用时的进程内兜底计数
	mu            sync.Mutex
	localCounters map[string]*localCounter
}

type localCounter struct {
	count     int64
	expiresAt time.Time
}

// NewFairUseGuard 创建公平使用守卫
func NewFairUseGuard(c *cache.RedisCache, policy domain.TierPolicy, audit domain.AuditLogRepository, logger log.Logger) *FairUseGuard {
	return &FairUseGuard{
		cache:         c,
		policy:        policy,
		audit:         audit,
		logger:        log.NewHelper(log.With(logger, "module", "fairuse-guard")),
		now:           func() time.Time { return time.Now().UTC() },
		localCounters: make(map[string]*localCounter),
	}
}

// CheckQuotas 按顺序执行配额门禁：
//  1. 租户每日上限（0 = 该等级未开通，直接拒绝，不读任何计数）
//  2. 发起方配额：system 走 daily_system，user 走 daily_user（user 必须带身份）
//  3. 软性每日上限（仅启用的等级）
//  4. 每分钟频率上限
func (g *FairUseGuard) CheckQuotas(ctx context.Context, req *domain.AdmissionRequest, tier domain.Tier) error {
	limits := g.policy.Limits(tier)
	now := g.now()

	// 门禁 1：租户每日上限
	if limits.DailyRequests == 0 {
		return g.deny(ctx, req, tier, GateDailyTenant, 0)
	}
	dayCount := g.incr(ctx, dailyTenantKey(req.TenantID, now), dailyKeyTTL)
	if dayCount > int64(limits.DailyRequests) {
		return g.deny(ctx, req, tier, GateDailyTenant, untilMidnight(now))
	}

	// 门禁 2：发起方配额
	switch req.ActorType {
	case domain.ActorSystem:
		if limits.DailySystemRequests > 0 {
			count := g.incr(ctx, dailySystemKey(req.TenantID, now), dailyKeyTTL)
			if count > int64(limits.DailySystemRequests) {
				return g.deny(ctx, req, tier, GateDailySystem, untilMidnight(now))
			}
		}
	default:
		// user 发起的请求必须带身份，否则按人配额无从执行
		if req.ActorID == "" {
			return g.deny(ctx, req, tier, GateActorContext, 0)
		}
		if limits.DailyUserRequests > 0 {
			count := g.incr(ctx, dailyUserKey(req.TenantID, req.ActorID, now), dailyKeyTTL)
			if count > int64(limits.DailyUserRequests) {
				return g.deny(ctx, req, tier, GateDailyUser, untilMidnight(now))
			}
		}
	}

	// 门禁 3：软性每日上限。与硬性上限分开标记，区分 "套餐限额" 和
	// "滥用限流"。复用门禁 1 已经累加过的计数。
	if limits.SoftDailyRequests > 0 && dayCount > int64(limits.SoftDailyRequests) {
		return g.deny(ctx, req, tier, GateSoftDaily, untilMidnight(now))
	}

	// 门禁 4：每分钟频率上限
	if limits.RequestsPerMinute > 0 {
		count := g.incr(ctx, minuteKey(req.TenantID, now), 2*time.Minute)
		if count > int64(limits.RequestsPerMinute) {
			return g.deny(ctx, req, tier, GatePerMinute, untilNextMinute(now))
		}
	}

	return nil
}

// AcquireLease 获取并发租约。原子自增并刷新 TTL，超限则原子回退并拒绝。
// 返回是否真正持有租约（门禁关闭时为 false，不需要释放）。
func (g *FairUseGuard) AcquireLease(ctx context.Context, req *domain.AdmissionRequest, tier domain.Tier) (bool, error) {
	limits := g.policy.Limits(tier)
	if limits.MaxConcurrency <= 0 {
		return false, nil
	}

	key := leaseKey(req.TenantID)
	count, err := g.cache.IncrWithTTL(ctx, key, limits.LeaseTTL)
	if err != nil {
		// 共享存储不可用：降级为进程内计数，语义相同，公平性范围
		// 收窄到本进程
		monitoring.SharedStoreFallbacks.WithLabelValues("lease").Inc()
		count = g.localIncr(key, limits.LeaseTTL)
		if count > int64(limits.MaxConcurrency) {
			g.localDecr(key)
			return false, g.deny(ctx, req, tier, GateConcurrency, 0)
		}
		monitoring.ConcurrencyLeases.WithLabelValues(req.TenantID).Set(float64(count))
		return true, nil
	}

	if count > int64(limits.MaxConcurrency) {
		if _, err := g.cache.Decr(ctx, key); err != nil {
			g.logger.Warnf("lease rollback failed for tenant %s: %v", req.TenantID, err)
		}
		return false, g.deny(ctx, req, tier, GateConcurrency, 0)
	}

	monitoring.ConcurrencyLeases.WithLabelValues(req.TenantID).Set(float64(count))
	return true, nil
}

// ReleaseLease 释放并发租约。调用方必须在工作结束后恰好调用一次
// （包括出错和取消的清理路径）。尽力而为：失败只记日志。释放可能与
// TTL 过期竞争导致计数为负，这里钳制回零。
func (g *FairUseGuard) ReleaseLease(ctx context.Context, tenantID string) {
	key := leaseKey(tenantID)

	count, err := g.cache.Decr(ctx, key)
	if err != nil {
		monitoring.SharedStoreFallbacks.WithLabelValues("lease").Inc()
		local := g.localDecr(key)
		monitoring.ConcurrencyLeases.WithLabelValues(tenantID).Set(float64(local))
		return
	}

	if count < 0 {
		// 租约已被 TTL 回收，计数钳回零
		if err := g.cache.Delete(ctx, key); err != nil {
			g.logger.Warnf("lease clamp failed for tenant %s: %v", tenantID, err)
		}
		count = 0
	}
	monitoring.ConcurrencyLeases.WithLabelValues(tenantID).Set(float64(count))
}

// deny 统一的拒绝出口：指标 + 审计 + 机读错误。审计不是可选埋点，
// "租户为什么被限" 的排查数据就来自这里。
func (g *FairUseGuard) deny(ctx context.Context, req *domain.AdmissionRequest, tier domain.Tier, gate string, retryAfter time.Duration) error {
	monitoring.AdmissionDenials.WithLabelValues(gate, string(tier)).Inc()

	if err := g.audit.Create(ctx, &domain.AuditEntry{
		TenantID:  req.TenantID,
		ActorType: req.ActorType,
		ActorID:   req.ActorID,
		Action:    "governor.denied",
		Gate:      gate,
		Details: map[string]interface{}{
			"tier":         string(tier),
			"request_id":   req.RequestID,
			"request_type": req.RequestType,
			"model":        req.Model,
		},
	}); err != nil {
		g.logger.Warnf("audit write failed for tenant %s gate %s: %v", req.TenantID, gate, err)
	}

	return goverrors.NewFairUseExceeded(gate, string(tier), retryAfter)
}

// incr 自增计数，共享存储不可用时降级到进程内计数
func (g *FairUseGuard) incr(ctx context.Context, key string, ttl time.Duration) int64 {
	count, err := g.cache.IncrWithTTL(ctx, key, ttl)
	if err == nil {
		return count
	}

	monitoring.SharedStoreFallbacks.WithLabelValues("quota").Inc()
	g.logger.Warnf("shared counter unavailable, falling back to in-process count for %s: %v", key, err)
	return g.localIncr(key, ttl)
}

func (g *FairUseGuard) localIncr(key string, ttl time.Duration) int64 {
	g.mu.Lock()
	defer g.mu.Unlock()

	now := g.now()
	c, ok := g.localCounters[key]
	if !ok || now.After(c.expiresAt) {
		c = &localCounter{expiresAt: now.Add(ttl)}
		g.localCounters[key] = c
	}
	c.count++
	return c.count
}

func (g *FairUseGuard) localDecr(key string) int64 {
	g.mu.Lock()
	defer g.mu.Unlock()

	c, ok := g.localCounters[key]
	if !ok {
		return 0
	}
	c.count--
	if c.count < 0 {
		c.count = 0
	}
	return c.count
}

func dailyTenantKey(tenantID string, now time.Time) string {
	return fmt.Sprintf("fairuse:day:%s:%s", tenantID, now.Format("2006-01-02"))
}

func dailyUserKey(tenantID, userID string, now time.Time) string {
	return fmt.Sprintf("fairuse:day:user:%s:%s:%s", tenantID, userID, now.Format("2006-01-02"))
}

func dailySystemKey(tenantID string, now time.Time) string {
	return fmt.Sprintf("fairuse:day:system:%s:%s", tenantID, now.Format("2006-01-02"))
}

func minuteKey(tenantID string, now time.Time) string {
	return fmt.Sprintf("fairuse:minute:%s:%s", tenantID, now.Format("2006-01-02T15:04"))
}

func leaseKey(tenantID string) string {
	return fmt.Sprintf("fairuse:lease:%s", tenantID)
}

func untilMidnight(now time.Time) time.Duration {
	midnight := time.Date(now.Year(), now.Month(), now.Day(), 0, 0, 0, 0, time.UTC).Add(24 * time.Hour)
	return midnight.Sub(now)
}

func untilNextMinute(now time.Time) time.Duration {
	return now.Truncate(time.Minute).Add(time.Minute).Sub(now)
}
