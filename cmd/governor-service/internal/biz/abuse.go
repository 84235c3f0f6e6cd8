package biz

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/go-kratos/kratos/v2/log"

	"llmgovernor/cmd/governor-service/internal/domain"
	"llmgovernor/pkg/cache"
	goverrors "llmgovernor/pkg/errors"
	"llmgovernor/pkg/monitoring"
)

// AbuseConfig 全局滥用防护配置
type AbuseConfig struct {
	// RequestThreshold 一分钟内全集群请求数阈值
	RequestThreshold int
	// TenantThreshold 一分钟内发请求的不同租户数阈值
	TenantThreshold int
	// BlockDuration 触发后的全局封禁时长
	BlockDuration time.Duration
}

// AbuseGuard 跨租户的全局滥用防护。故意做得粗：它在整个集群的每次
// 准入检查上都要跑，用精度换速度。与任何单个租户的预算/配额无关，
// 只保护共享的上游资源。
type AbuseGuard struct {
	cache  *cache.RedisCache
	audit  domain.AuditLogRepository
	config AbuseConfig
	logger *log.Helper
	now    func() time.Time

	// 进程内状态：kill switch 和本地封禁时间戳，不需要共享存储往返
	killSwitch atomic.Bool
	mu         sync.Mutex
	blockUntil time.Time
}

// NewAbuseGuard 创建全局滥用防护
func NewAbuseGuard(c *cache.RedisCache, audit domain.AuditLogRepository, config AbuseConfig, logger log.Logger) *AbuseGuard {
	if config.BlockDuration <= 0 {
		config.BlockDuration = 5 * time.Minute
	}
	return &AbuseGuard{
		cache:  c,
		audit:  audit,
		config: config,
		logger: log.NewHelper(log.With(logger, "module", "abuse-guard")),
		now:    func() time.Time { return time.Now().UTC() },
	}
}

// Check 执行全局滥用检查。检查顺序：
//  1. 进程内 kill switch（最快，零往返）
//  2. 进程内临时封禁（本进程之前触发过，零往返）
//  3. 共享封禁标记（集群级；存储故障按 "无封禁" 处理——这里 fail-open，
//     全局误封的代价比短暂的防护空窗更高）
//  4. 突发检测：滚动一分钟的聚合请求数和不同租户数同时超阈值才触发
func (a *AbuseGuard) Check(ctx context.Context, tenantID string) error {
	if a.killSwitch.Load() {
		return a.denyBlocked(ctx, tenantID, "kill_switch", 0)
	}

	now := a.now()

	a.mu.Lock()
	localRemaining := a.blockUntil.Sub(now)
	a.mu.Unlock()
	if localRemaining > 0 {
		return a.denyBlocked(ctx, tenantID, "burst_detected", localRemaining)
	}

	_, blocked, err := a.cache.Get(ctx, abuseBlockKey)
	if err != nil {
		// fail-open：只跳过共享封禁检查，突发检测同样依赖共享存储，
		// 这一轮整体放行
		monitoring.SharedStoreFallbacks.WithLabelValues("abuse").Inc()
		a.logger.Warnf("abuse block check failed open: %v", err)
		return nil
	}
	if blocked {
		remaining, terr := a.cache.TTL(ctx, abuseBlockKey)
		if terr != nil || remaining < 0 {
			remaining = a.config.BlockDuration
		}
		a.setLocalBlock(now.Add(remaining))
		return a.denyBlocked(ctx, tenantID, "burst_detected", remaining)
	}

	if a.config.RequestThreshold <= 0 || a.config.TenantThreshold <= 0 {
		return nil
	}

	minute := now.Format("2006-01-02T15:04")
	reqCount, err := a.cache.IncrWithTTL(ctx, fmt.Sprintf("abuse:req:%s", minute), 2*time.Minute)
	if err != nil {
		monitoring.SharedStoreFallbacks.WithLabelValues("abuse").Inc()
		return nil
	}
	tenantCount, err := a.cache.AddToSetWithTTL(ctx, fmt.Sprintf("abuse:tenants:%s", minute), tenantID, 2*time.Minute)
	if err != nil {
		monitoring.SharedStoreFallbacks.WithLabelValues("abuse").Inc()
		return nil
	}

	if reqCount >= int64(a.config.RequestThreshold) && tenantCount >= int64(a.config.TenantThreshold) {
		a.trigger(ctx, now, reqCount, tenantCount)
		return a.denyBlocked(ctx, tenantID, "burst_detected", a.config.BlockDuration)
	}

	return nil
}

// SetKillSwitch 进程级 kill switch（运维开关）：开启后拒绝一切准入
func (a *AbuseGuard) SetKillSwitch(on bool) {
	a.killSwitch.Store(on)
	a.logger.Warnf("abuse guard kill switch set to %v", on)
}

// trigger 同时设置进程内和共享封禁标记
func (a *AbuseGuard) trigger(ctx context.Context, now time.Time, reqCount, tenantCount int64) {
	a.setLocalBlock(now.Add(a.config.BlockDuration))

	if err := a.cache.Set(ctx, abuseBlockKey, "1", a.config.BlockDuration); err != nil {
		a.logger.Warnf("failed to set shared abuse block: %v", err)
	}

	monitoring.AbuseBlocks.WithLabelValues("burst_detected").Inc()
	a.logger.Warnf("global burst detected: requests=%d tenants=%d, blocking for %v",
		reqCount, tenantCount, a.config.BlockDuration)
}

func (a *AbuseGuard) setLocalBlock(until time.Time) {
	a.mu.Lock()
	defer a.mu.Unlock()
	if until.After(a.blockUntil) {
		a.blockUntil = until
	}
}

// denyBlocked 全局拒绝出口：指标 + 审计 + 机读错误
func (a *AbuseGuard) denyBlocked(ctx context.Context, tenantID, reason string, retryAfter time.Duration) error {
	monitoring.AdmissionDenials.WithLabelValues("global_abuse", "all").Inc()

	if err := a.audit.Create(ctx, &domain.AuditEntry{
		TenantID: tenantID,
		Action:   "governor.denied",
		Gate:     "global_abuse",
		Details:  map[string]interface{}{"reason": reason},
	}); err != nil {
		a.logger.Warnf("audit write failed for global abuse denial: %v", err)
	}

	return goverrors.NewAbuseBlocked(reason, retryAfter)
}

const abuseBlockKey = "abuse:block"
