package data

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"llmgovernor/cmd/governor-service/internal/domain"
)

type usageEventRepo struct {
	db *gorm.DB
}

// NewUsageEventRepository 创建用量事件仓储
func NewUsageEventRepository(db *gorm.DB) domain.UsageEventRepository {
	return &usageEventRepo{db: db}
}

// Append 追加用量事件
func (r *usageEventRepo) Append(ctx context.Context, event *domain.UsageEvent) error {
	if event.ID == "" {
		event.ID = uuid.NewString()
	}
	if event.CreatedAt.IsZero() {
		event.CreatedAt = time.Now().UTC()
	}

	if err := r.db.WithContext(ctx).Create(event).Error; err != nil {
		return fmt.Errorf("append usage event: %w", err)
	}
	return nil
}
