package resilience

import (
	"context"
	"sync"
	"time"

	goverrors "llmgovernor/pkg/errors"
)

// State 熔断器状态
type State int

const (
	// StateClosed 关闭状态 - 正常运行
	StateClosed State = iota
	// StateOpen 打开状态 - 熔断中
	StateOpen
	// StateHalfOpen 半开状态 - 尝试恢复
	StateHalfOpen
)

// String 返回状态字符串
func (s State) String() string {
	switch s {
	case StateClosed:
		return "closed"
	case StateOpen:
		return "open"
	case StateHalfOpen:
		return "half_open"
	default:
		return "unknown"
	}
}

// Config 熔断器配置
type Config struct {
	// FailureThreshold 连续失败次数（触发熔断）
	FailureThreshold int
	// SuccessThreshold 半开状态需要的成功次数（恢复关闭）
	SuccessThreshold int
	// RecoveryTimeout 熔断器打开后的恢复探测等待时间
	RecoveryTimeout time.Duration
	// OnStateChange 状态变化回调
	OnStateChange func(provider string, from, to State)
}

// DefaultConfig 默认配置
func DefaultConfig() Config {
	return Config{
		FailureThreshold: 5,
		SuccessThreshold: 2,
		RecoveryTimeout:  60 * time.Second,
	}
}

// CircuitBreaker 单个提供商的熔断器。进程内状态，不跨进程共享：
// 每个进程只根据自己最近的调用历史判断提供商健康度。
type CircuitBreaker struct {
	mu           sync.Mutex
	provider     string
	state        State
	failureCount int
	successCount int
	lastFailTime time.Time
	openedAt     time.Time
	config       Config
	now          func() time.Time
}

// NewCircuitBreaker 创建熔断器
func NewCircuitBreaker(provider string, config Config) *CircuitBreaker {
	if config.FailureThreshold <= 0 {
		config.FailureThreshold = DefaultConfig().FailureThreshold
	}
	if config.SuccessThreshold <= 0 {
		config.SuccessThreshold = DefaultConfig().SuccessThreshold
	}
	if config.RecoveryTimeout <= 0 {
		config.RecoveryTimeout = DefaultConfig().RecoveryTimeout
	}

	return &CircuitBreaker{
		provider: provider,
		state:    StateClosed,
		config:   config,
		now:      time.Now,
	}
}

// IsAvailable 判断提供商当前是否可调用。OPEN 状态下超过恢复等待时间时，
// 这里顺带完成 OPEN → HALF_OPEN 的转换，不需要后台定时器。
func (cb *CircuitBreaker) IsAvailable() bool {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	switch cb.state {
	case StateClosed, StateHalfOpen:
		return true
	case StateOpen:
		if cb.now().Sub(cb.openedAt) >= cb.config.RecoveryTimeout {
			cb.setState(StateHalfOpen)
			return true
		}
		return false
	default:
		return false
	}
}

// RecordSuccess 记录一次成功调用
func (cb *CircuitBreaker) RecordSuccess() {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	switch cb.state {
	case StateClosed:
		cb.failureCount = 0
	case StateHalfOpen:
		cb.successCount++
		if cb.successCount >= cb.config.SuccessThreshold {
			cb.setState(StateClosed)
		}
	}
}

// RecordFailure 记录一次失败调用
func (cb *CircuitBreaker) RecordFailure() {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	cb.failureCount++
	cb.lastFailTime = cb.now()

	switch cb.state {
	case StateClosed:
		if cb.failureCount >= cb.config.FailureThreshold {
			cb.setState(StateOpen)
		}
	case StateHalfOpen:
		// 半开状态失败，立即重新打开并重置恢复计时
		cb.setState(StateOpen)
	}
}

// Reset 重置熔断器（运维手动干预）
func (cb *CircuitBreaker) Reset() {
	cb.mu.Lock()
	defer cb.mu.Unlock()
	cb.setState(StateClosed)
	cb.failureCount = 0
	cb.successCount = 0
}

// State 获取当前状态
func (cb *CircuitBreaker) State() State {
	cb.mu.Lock()
	defer cb.mu.Unlock()
	return cb.state
}

// Metrics 熔断器指标快照
type Metrics struct {
	State        State
	FailureCount int
	SuccessCount int
	LastFailTime time.Time
}

// Snapshot 获取指标快照
func (cb *CircuitBreaker) Snapshot() Metrics {
	cb.mu.Lock()
	defer cb.mu.Unlock()
	return Metrics{
		State:        cb.state,
		FailureCount: cb.failureCount,
		SuccessCount: cb.successCount,
		LastFailTime: cb.lastFailTime,
	}
}

// setState 设置状态，调用方持锁
func (cb *CircuitBreaker) setState(newState State) {
	oldState := cb.state
	if oldState == newState {
		return
	}

	cb.state = newState

	switch newState {
	case StateClosed:
		cb.failureCount = 0
		cb.successCount = 0
	case StateOpen:
		cb.successCount = 0
		cb.openedAt = cb.now()
	case StateHalfOpen:
		cb.successCount = 0
	}

	if cb.config.OnStateChange != nil {
		cb.config.OnStateChange(cb.provider, oldState, newState)
	}
}

// BreakerGroup 按提供商维护一组熔断器
type BreakerGroup struct {
	mu       sync.Mutex
	breakers map[string]*CircuitBreaker
	config   Config
}

// NewBreakerGroup 创建熔断器组
func NewBreakerGroup(config Config) *BreakerGroup {
	return &BreakerGroup{
		breakers: make(map[string]*CircuitBreaker),
		config:   config,
	}
}

// Get 获取指定提供商的熔断器，不存在则创建
func (g *BreakerGroup) Get(provider string) *CircuitBreaker {
	g.mu.Lock()
	defer g.mu.Unlock()

	cb, ok := g.breakers[provider]
	if !ok {
		cb = NewCircuitBreaker(provider, g.config)
		g.breakers[provider] = cb
	}
	return cb
}

// IsAvailable 判断提供商是否可调用
func (g *BreakerGroup) IsAvailable(provider string) bool {
	return g.Get(provider).IsAvailable()
}

// RecordSuccess 记录成功
func (g *BreakerGroup) RecordSuccess(provider string) {
	g.Get(provider).RecordSuccess()
}

// RecordFailure 记录失败
func (g *BreakerGroup) RecordFailure(provider string) {
	g.Get(provider).RecordFailure()
}

// Reset 重置指定提供商的熔断器
func (g *BreakerGroup) Reset(provider string) {
	g.Get(provider).Reset()
}

// Protect 带熔断保护执行上游调用。熔断开启时返回 PROVIDER_UNAVAILABLE，
// 与 fn 本身的失败错误区分："不必再调" 和 "调了但失败" 是两类信号。
func (g *BreakerGroup) Protect(ctx context.Context, provider string, fn func(ctx context.Context) error) error {
	cb := g.Get(provider)
	if !cb.IsAvailable() {
		return goverrors.NewBreakerOpen(provider)
	}

	if err := fn(ctx); err != nil {
		cb.RecordFailure()
		return err
	}

	cb.RecordSuccess()
	return nil
}
