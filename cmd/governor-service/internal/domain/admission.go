package domain

// AdmissionRequest 一次准入检查的输入
type AdmissionRequest struct {
	TenantID     string
	Provider     string
	Model        string
	InputTokens  int
	OutputTokens int // 预估输出 token 数
	ActorType    ActorType
	ActorID      string // user 类型必填
	RequestID    string
	RequestType  string
}

// Admission 准入结果，调用方完成工作后必须用它结算并释放租约
type Admission struct {
	TenantID    string
	Provider    string
	Model       string
	ReservedUSD float64
	// LeaseHeld 是否持有并发租约（并发门禁关闭时为 false）
	LeaseHeld   bool
	RequestID   string
	ActorType   ActorType
	ActorID     string
	RequestType string
}

// UsageResult 实际用量，结算输入
type UsageResult struct {
	InputTokens  int
	OutputTokens int
	ActualUSD    float64
	SelfFunded   bool
}
