package data

import (
	"context"
	"fmt"

	"github.com/go-kratos/kratos/v2/log"

	"llmgovernor/cmd/governor-service/internal/domain"
	"llmgovernor/pkg/cache"
)

// tierStore 租户等级存储，Redis 键 tenant:tier:<id>，未设置按 free 处理
type tierStore struct {
	cache  *cache.RedisCache
	logger *log.Helper
}

// NewTierStore 创建租户等级存储
func NewTierStore(c *cache.RedisCache, logger log.Logger) domain.TierStore {
	return &tierStore{
		cache:  c,
		logger: log.NewHelper(log.With(logger, "module", "tier-store")),
	}
}

// TierOf 查询租户等级。共享存储不可用时按 free 处理并记日志：
// 等级查不到只影响限额档位，不应该让整个准入失败。
func (s *tierStore) TierOf(ctx context.Context, tenantID string) (domain.Tier, error) {
	val, ok, err := s.cache.Get(ctx, tierKey(tenantID))
	if err != nil {
		s.logger.Warnf("tier lookup failed for tenant %s, defaulting to free: %v", tenantID, err)
		return domain.TierFree, nil
	}
	if !ok {
		return domain.TierFree, nil
	}

	switch tier := domain.Tier(val); tier {
	case domain.TierFree, domain.TierPro, domain.TierEnterprise:
		return tier, nil
	default:
		s.logger.Warnf("unknown tier %q for tenant %s, defaulting to free", val, tenantID)
		return domain.TierFree, nil
	}
}

// SetTier 设置租户等级
func (s *tierStore) SetTier(ctx context.Context, tenantID string, tier domain.Tier) error {
	switch tier {
	case domain.TierFree, domain.TierPro, domain.TierEnterprise:
	default:
		return fmt.Errorf("invalid tier: %s", tier)
	}

	if err := s.cache.Set(ctx, tierKey(tenantID), string(tier), 0); err != nil {
		return fmt.Errorf("failed to set tenant tier: %w", err)
	}

	s.logger.Infof("tenant tier updated: tenant=%s tier=%s", tenantID, tier)
	return nil
}

func tierKey(tenantID string) string {
	return fmt.Sprintf("tenant:tier:%s", tenantID)
}
