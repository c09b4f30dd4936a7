// Package postgres 提供 PostgreSQL Repository 实现
package postgres

import (
	"context"
	"fmt"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"bookforge-api/internal/domain/entity"
)

// StageRecordRepository 阶段执行记录仓储实现
type StageRecordRepository struct {
	client *Client
}

// NewStageRecordRepository 创建阶段执行记录仓储
func NewStageRecordRepository(client *Client) *StageRecordRepository {
	return &StageRecordRepository{client: client}
}

// Create 创建记录
func (r *StageRecordRepository) Create(ctx context.Context, record *entity.StageRecord) error {
	ctx, span := tracer.Start(ctx, "postgres.StageRecordRepository.Create")
	defer span.End()

	if record.ID == "" {
		record.ID = uuid.NewString()
	}

	db := getDB(ctx, r.client.db)
	if err := db.Create(record).Error; err != nil {
		span.RecordError(err)
		return fmt.Errorf("failed to create stage record: %w", err)
	}
	return nil
}

// Update 更新记录
func (r *StageRecordRepository) Update(ctx context.Context, record *entity.StageRecord) error {
	ctx, span := tracer.Start(ctx, "postgres.StageRecordRepository.Update")
	defer span.End()

	db := getDB(ctx, r.client.db)
	if err := db.Save(record).Error; err != nil {
		span.RecordError(err)
		return fmt.Errorf("failed to update stage record: %w", err)
	}
	return nil
}

// GetLatestByTaskAndStage 获取任务指定阶段的最近一次记录
func (r *StageRecordRepository) GetLatestByTaskAndStage(ctx context.Context, taskID string, stage entity.StageType) (*entity.StageRecord, error) {
	ctx, span := tracer.Start(ctx, "postgres.StageRecordRepository.GetLatestByTaskAndStage")
	defer span.End()

	db := getDB(ctx, r.client.db)
	var record entity.StageRecord
	err := db.Where("task_id = ? AND stage = ?", taskID, stage).
		Order("created_at DESC").
		First(&record).Error
	if err != nil {
		if err == gorm.ErrRecordNotFound {
			return nil, nil
		}
		span.RecordError(err)
		return nil, fmt.Errorf("failed to get stage record: %w", err)
	}
	return &record, nil
}

// ListByTask 获取任务的全部记录
func (r *StageRecordRepository) ListByTask(ctx context.Context, taskID string) ([]*entity.StageRecord, error) {
	ctx, span := tracer.Start(ctx, "postgres.StageRecordRepository.ListByTask")
	defer span.End()

	db := getDB(ctx, r.client.db)
	var records []*entity.StageRecord
	if err := db.Where("task_id = ?", taskID).Order("created_at ASC").Find(&records).Error; err != nil {
		span.RecordError(err)
		return nil, fmt.Errorf("failed to list stage records: %w", err)
	}
	return records, nil
}
