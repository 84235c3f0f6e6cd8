package data

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"llmgovernor/cmd/governor-service/internal/domain"
)

// AuditLogDO 治理审计日志数据对象
type AuditLogDO struct {
	ID        string `gorm:"primaryKey;size:100"`
	TenantID  string `gorm:"index;size:50"`
	ActorType string `gorm:"size:20"`
	ActorID   string `gorm:"size:100"`
	Action    string `gorm:"index;size:50"`
	Gate      string `gorm:"index;size:30"`
	Details   string `gorm:"type:text"`
	CreatedAt int64  `gorm:"index"`
}

// TableName 指定表名
func (AuditLogDO) TableName() string {
	return "governance_audit_logs"
}

type auditLogRepo struct {
	db *gorm.DB
}

// NewAuditLogRepository 创建审计日志仓储
func NewAuditLogRepository(db *gorm.DB) domain.AuditLogRepository {
	return &auditLogRepo{db: db}
}

// Create 创建审计日志
func (r *auditLogRepo) Create(ctx context.Context, entry *domain.AuditEntry) error {
	if entry.ID == "" {
		entry.ID = uuid.NewString()
	}
	if entry.CreatedAt.IsZero() {
		entry.CreatedAt = time.Now().UTC()
	}

	details := ""
	if entry.Details != nil {
		raw, err := json.Marshal(entry.Details)
		if err != nil {
			return fmt.Errorf("marshal audit details: %w", err)
		}
		details = string(raw)
	}

	do := &AuditLogDO{
		ID:        entry.ID,
		TenantID:  entry.TenantID,
		ActorType: string(entry.ActorType),
		ActorID:   entry.ActorID,
		Action:    entry.Action,
		Gate:      entry.Gate,
		Details:   details,
		CreatedAt: entry.CreatedAt.Unix(),
	}

	if err := r.db.WithContext(ctx).Create(do).Error; err != nil {
		return fmt.Errorf("failed to create audit log: %w", err)
	}
	return nil
}
