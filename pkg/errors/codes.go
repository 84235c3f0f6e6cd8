package errors

// 错误码规范：
// - 1xxxx: 通用错误（HTTP 4xx）
// - 2xxxx: 治理决策错误（预算/配额/熔断）
// - 3xxxx: 数据访问错误

// ==================== 通用错误 (10000-19999) ====================

const (
	CodeBadRequest       = 10000
	CodeUnauthorized     = 10001
	CodeNotFound         = 10003
	CodeValidationFailed = 10005
	CodeTooManyRequests  = 10006
)

// ==================== 治理决策错误 (20000-29999) ====================

const (
	// 预算相关 (20500-20599)
	CodeBudgetExceeded  = 20500
	CodeBudgetSoftLimit = 20501
	CodeBudgetUnknown   = 20502

	// 公平使用相关 (20600-20699)
	CodeFairUseExceeded  = 20600
	CodeActorContext     = 20601
	CodeGlobalAbuseBlock = 20602

	// 提供商可用性 (20700-20799)
	CodeBreakerOpen = 20700
)

// ==================== 数据访问错误 (30000-39999) ====================

const (
	CodeDatabaseError = 30000
	CodeCacheError    = 30001
)
