package health

import (
	"context"
	"sync"
	"time"
)

// Status 健康状态
type Status string

const (
	StatusUp   Status = "up"
	StatusDown Status = "down"
)

// CheckResult 单项检查结果
type CheckResult struct {
	Status  Status        `json:"status"`
	Error   string        `json:"error,omitempty"`
	Latency time.Duration `json:"latency"`
}

// Checker 健康检查项
type Checker interface {
	Name() string
	Check(ctx context.Context) CheckResult
}

// HealthChecker 聚合健康检查器
type HealthChecker struct {
	mu       sync.RWMutex
	checkers []Checker
}

// NewHealthChecker 创建健康检查器
func NewHealthChecker() *HealthChecker {
	return &HealthChecker{}
}

// Register 注册检查项
func (h *HealthChecker) Register(c Checker) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.checkers = append(h.checkers, c)
}

// Check 执行所有检查项
func (h *HealthChecker) Check(ctx context.Context) map[string]CheckResult {
	h.mu.RLock()
	checkers := make([]Checker, len(h.checkers))
	copy(checkers, h.checkers)
	h.mu.RUnlock()

	results := make(map[string]CheckResult, len(checkers))
	for _, c := range checkers {
		results[c.Name()] = c.Check(ctx)
	}
	return results
}

// GetStatus 整体状态：任一检查项 down 则 down
func (h *HealthChecker) GetStatus(ctx context.Context) Status {
	for _, r := range h.Check(ctx) {
		if r.Status == StatusDown {
			return StatusDown
		}
	}
	return StatusUp
}

// PingChecker 基于 ping 函数的检查项（数据库、Redis）
type PingChecker struct {
	name   string
	pingFn func(context.Context) error
}

// NewPingChecker 创建 ping 检查项
func NewPingChecker(name string, pingFn func(context.Context) error) *PingChecker {
	return &PingChecker{name: name, pingFn: pingFn}
}

// Name 返回检查项名称
func (p *PingChecker) Name() string { return p.name }

// Check 执行检查
func (p *PingChecker) Check(ctx context.Context) CheckResult {
	start := time.Now()
	if err := p.pingFn(ctx); err != nil {
		return CheckResult{Status: StatusDown, Error: err.Error(), Latency: time.Since(start)}
	}
	return CheckResult{Status: StatusUp, Latency: time.Since(start)}
}
