package domain

import "time"

// ActorType 请求发起方类型
type ActorType string

const (
	ActorUser   ActorType = "user"
	ActorSystem ActorType = "system"
)

// UsageEvent 用量事件，结算时追加，写入后不可变。
// 配额统计和审计都以它为依据。
type UsageEvent struct {
	ID           string    `gorm:"primaryKey;size:100"`
	TenantID     string    `gorm:"index;size:50;not null"`
	Provider     string    `gorm:"size:50"`
	Model        string    `gorm:"size:100"`
	InputTokens  int       `gorm:"not null;default:0"`
	OutputTokens int       `gorm:"not null;default:0"`
	CostUSD      float64   `gorm:"not null"`
	SelfFunded   bool      `gorm:"not null;default:false"` // bring-your-own-key，按平台服务费结算
	RequestID    string    `gorm:"index;size:100"`
	ActorType    ActorType `gorm:"size:20"`
	ActorID      string    `gorm:"size:100"`
	RequestType  string    `gorm:"size:50"`
	CreatedAt    time.Time `gorm:"index"`
}

// TableName 指定表名
func (UsageEvent) TableName() string {
	return "usage_events"
}
