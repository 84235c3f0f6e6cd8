package data

import (
	"context"
	"errors"
	"fmt"
	"time"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"llmgovernor/cmd/governor-service/internal/domain"
)

type budgetRepo struct {
	db *gorm.DB
}

// NewBudgetRepository 创建预算仓储
func NewBudgetRepository(db *gorm.DB) domain.BudgetRepository {
	return &budgetRepo{db: db}
}

// WithLock 在事务内对租户预算行加 SELECT ... FOR UPDATE 锁后执行 fn。
// 同一租户的 reserve/settle 由数据库行锁跨进程串行化。
func (r *budgetRepo) WithLock(ctx context.Context, tenantID string, defaultLimitUSD float64, fn func(rec *domain.BudgetRecord) error) error {
	return r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		rec, err := r.lockRecord(tx, tenantID)
		if errors.Is(err, gorm.ErrRecordNotFound) {
			// 惰性创建，等级默认限额。并发首次预留可能撞车，
			// DoNothing 后重新加锁读取胜出的那行。
			fresh := domain.NewBudgetRecord(tenantID, defaultLimitUSD, time.Now().UTC())
			if err := tx.Clauses(clause.OnConflict{DoNothing: true}).Create(fresh).Error; err != nil {
				return fmt.Errorf("create budget record: %w", err)
			}
			rec, err = r.lockRecord(tx, tenantID)
		}
		if err != nil {
			return fmt.Errorf("lock budget record: %w", err)
		}

		if err := fn(rec); err != nil {
			return err
		}

		if err := tx.Save(rec).Error; err != nil {
			return fmt.Errorf("save budget record: %w", err)
		}
		return nil
	})
}

func (r *budgetRepo) lockRecord(tx *gorm.DB, tenantID string) (*domain.BudgetRecord, error) {
	var rec domain.BudgetRecord
	err := tx.Clauses(clause.Locking{Strength: "UPDATE"}).
		Where("tenant_id = ?", tenantID).
		First(&rec).Error
	if err != nil {
		return nil, err
	}
	return &rec, nil
}

// Get 无锁读取
func (r *budgetRepo) Get(ctx context.Context, tenantID string) (*domain.BudgetRecord, error) {
	var rec domain.BudgetRecord
	err := r.db.WithContext(ctx).Where("tenant_id = ?", tenantID).First(&rec).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &rec, nil
}
