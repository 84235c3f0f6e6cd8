package errors

import (
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestDenialClassification(t *testing.T) {
	budget := NewBudgetExceeded("gpt-4", 10.00, 9.99, 0.03, 0.01)
	fairUse := NewFairUseExceeded("per_minute", "free", 30*time.Second)
	abuse := NewAbuseBlocked("burst_detected", time.Minute)
	breaker := NewBreakerOpen("openai")
	plain := fmt.Errorf("dial tcp: %w", errors.New("connection refused"))

	assert.True(t, IsBudgetExceeded(budget))
	assert.True(t, IsFairUseExceeded(fairUse))
	assert.True(t, IsFairUseExceeded(abuse))
	assert.True(t, IsBreakerOpen(breaker))

	for _, err := range []error{budget, fairUse, abuse, breaker} {
		assert.True(t, IsDenial(err))
	}
	// 基础设施故障不是治理决策
	assert.False(t, IsDenial(plain))
	assert.False(t, IsBudgetExceeded(plain))
}

func TestDenialMetadata(t *testing.T) {
	err := NewBudgetExceeded("gpt-4", 10.00, 9.99, 0.03, 0.01)
	assert.Equal(t, "gpt-4", err.Metadata["model"])
	assert.Equal(t, "10.0000", err.Metadata["limit"])
	assert.Equal(t, "0.0300", err.Metadata["estimated"])
	assert.Equal(t, int32(402), err.Code)

	fairUse := NewFairUseExceeded("per_minute", "free", 30*time.Second)
	assert.Equal(t, "per_minute", Gate(fairUse))
	assert.Equal(t, "30", fairUse.Metadata["retry_after_seconds"])
	assert.Equal(t, int32(429), fairUse.Code)

	// retryAfter 未知时不带提示字段
	noRetry := NewFairUseExceeded("daily_tenant", "free", 0)
	_, ok := noRetry.Metadata["retry_after_seconds"]
	assert.False(t, ok)

	assert.Equal(t, "global_abuse", Gate(NewAbuseBlocked("kill_switch", 0)))
	assert.Equal(t, "", Gate(errors.New("not a denial")))
}
