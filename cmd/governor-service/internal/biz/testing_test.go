package biz

import (
	"context"
	"fmt"
	"io"
	"sync"
	"time"

	"github.com/go-kratos/kratos/v2/log"

	"llmgovernor/cmd/governor-service/internal/domain"
	"llmgovernor/pkg/cache"
)

// 测试共用的内存 fake 和存储助手。

func testLogger() log.Logger {
	return log.NewStdLogger(io.Discard)
}

// deadCache 指向一个必然连不上的地址，用来测试共享存储故障时的
// 降级路径（fail-open、fail-closed、进程内兜底计数）。
func deadCache() *cache.RedisCache {
	return cache.NewRedisCache(&cache.Config{
		Addr:         "127.0.0.1:1",
		DialTimeout:  50 * time.Millisecond,
		ReadTimeout:  50 * time.Millisecond,
		WriteTimeout: 50 * time.Millisecond,
	})
}

// liveCache 连接本地 Redis，不可用时跳过测试。键加随机前缀避免互相污染。
func liveCache(skip func(args ...interface{})) *cache.RedisCache {
	c := cache.NewRedisCache(&cache.Config{
		Addr:        "localhost:6379",
		DialTimeout: time.Second,
		KeyPrefix:   fmt.Sprintf("govtest:%d", time.Now().UnixNano()),
	})
	if err := c.Ping(context.Background()); err != nil {
		skip("Redis not available, skipping:", err)
	}
	return c
}

// fakeBudgetRepo 内存版预算仓储。和真实仓储一样保证事务语义：
// fn 返回错误时修改不落盘。
type fakeBudgetRepo struct {
	mu      sync.Mutex
	records map[string]*domain.BudgetRecord
	failErr error
}

func newFakeBudgetRepo() *fakeBudgetRepo {
	return &fakeBudgetRepo{records: make(map[string]*domain.BudgetRecord)}
}

func (r *fakeBudgetRepo) WithLock(ctx context.Context, tenantID string, defaultLimitUSD float64, fn func(rec *domain.BudgetRecord) error) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.failErr != nil {
		return r.failErr
	}

	rec, ok := r.records[tenantID]
	if !ok {
		rec = domain.NewBudgetRecord(tenantID, defaultLimitUSD, time.Now().UTC())
	}

	// 在副本上执行，fn 失败时原记录保持不变
	work := *rec
	if err := fn(&work); err != nil {
		return err
	}
	r.records[tenantID] = &work
	return nil
}

func (r *fakeBudgetRepo) Get(ctx context.Context, tenantID string) (*domain.BudgetRecord, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.failErr != nil {
		return nil, r.failErr
	}
	rec, ok := r.records[tenantID]
	if !ok {
		return nil, nil
	}
	out := *rec
	return &out, nil
}

func (r *fakeBudgetRepo) seed(rec *domain.BudgetRecord) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.records[rec.TenantID] = rec
}

func (r *fakeBudgetRepo) record(tenantID string) *domain.BudgetRecord {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.records[tenantID]
}

type fakeUsageRepo struct {
	mu     sync.Mutex
	events []*domain.UsageEvent
}

func (r *fakeUsageRepo) Append(ctx context.Context, event *domain.UsageEvent) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, event)
	return nil
}

func (r *fakeUsageRepo) count() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.events)
}

type fakeAuditRepo struct {
	mu      sync.Mutex
	entries []*domain.AuditEntry
}

func (r *fakeAuditRepo) Create(ctx context.Context, entry *domain.AuditEntry) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.entries = append(r.entries, entry)
	return nil
}

func (r *fakeAuditRepo) lastGate() string {
	r.mu.Lock()
	defer r.mu.Unlock()
	if len(r.entries) == 0 {
		return ""
	}
	return r.entries[len(r.entries)-1].Gate
}

type fakeTierStore struct {
	tiers map[string]domain.Tier
}

func (s *fakeTierStore) TierOf(ctx context.Context, tenantID string) (domain.Tier, error) {
	if t, ok := s.tiers[tenantID]; ok {
		return t, nil
	}
	return domain.TierFree, nil
}

func (s *fakeTierStore) SetTier(ctx context.Context, tenantID string, tier domain.Tier) error {
	if s.tiers == nil {
		s.tiers = make(map[string]domain.Tier)
	}
	s.tiers[tenantID] = tier
	return nil
}

type fakeNotifier struct {
	mu    sync.Mutex
	calls []string
}

func (n *fakeNotifier) Notify(ctx context.Context, tenantID, title, message, severity string) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.calls = append(n.calls, tenantID)
	return nil
}

func (n *fakeNotifier) count() int {
	n.mu.Lock()
	defer n.mu.Unlock()
	return len(n.calls)
}
