// Package postgres 提供 PostgreSQL Repository 实现
package postgres

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"bookforge-api/internal/domain/entity"
	"bookforge-api/internal/domain/repository"
)

// TaskRepository 生成任务仓储实现
type TaskRepository struct {
	client *Client
}

// NewTaskRepository 创建生成任务仓储
func NewTaskRepository(client *Client) *TaskRepository {
	return &TaskRepository{client: client}
}

// Create 创建任务
func (r *TaskRepository) Create(ctx context.Context, task *entity.Task) error {
	ctx, span := tracer.Start(ctx, "postgres.TaskRepository.Create")
	defer span.End()

	if task.ID == "" {
		task.ID = uuid.NewString()
	}

	db := getDB(ctx, r.client.db)
	if err := db.Create(task).Error; err != nil {
		span.RecordError(err)
		return fmt.Errorf("failed to create task: %w", err)
	}
	return nil
}

// GetByID 根据 ID 获取任务
func (r *TaskRepository) GetByID(ctx context.Context, id string) (*entity.Task, error) {
	ctx, span := tracer.Start(ctx, "postgres.TaskRepository.GetByID")
	defer span.End()

	db := getDB(ctx, r.client.db)
	var task entity.Task
	if err := db.First(&task, "id = ? AND deleted_at IS NULL", id).Error; err != nil {
		if err == gorm.ErrRecordNotFound {
			return nil, nil
		}
		span.RecordError(err)
		return nil, fmt.Errorf("failed to get task: %w", err)
	}
	return &task, nil
}

// Update 更新任务
func (r *TaskRepository) Update(ctx context.Context, task *entity.Task) error {
	ctx, span := tracer.Start(ctx, "postgres.TaskRepository.Update")
	defer span.End()

	db := getDB(ctx, r.client.db)
	if err := db.Save(task).Error; err != nil {
		span.RecordError(err)
		return fmt.Errorf("failed to update task: %w", err)
	}
	return nil
}

// SoftDelete 软删除任务
func (r *TaskRepository) SoftDelete(ctx context.Context, id string) error {
	ctx, span := tracer.Start(ctx, "postgres.TaskRepository.SoftDelete")
	defer span.End()

	db := getDB(ctx, r.client.db)
	now := time.Now()
	if err := db.Model(&entity.Task{}).Where("id = ?", id).Update("deleted_at", &now).Error; err != nil {
		span.RecordError(err)
		return fmt.Errorf("failed to soft delete task: %w", err)
	}
	return nil
}

// ListByOwner 获取用户任务列表
func (r *TaskRepository) ListByOwner(ctx context.Context, ownerID string, filter *repository.TaskFilter, pagination repository.Pagination) (*repository.PagedResult[*entity.Task], error) {
	ctx, span := tracer.Start(ctx, "postgres.TaskRepository.ListByOwner")
	defer span.End()

	db := getDB(ctx, r.client.db)
	query := db.Model(&entity.Task{}).Where("owner_id = ? AND deleted_at IS NULL", ownerID)

	if filter != nil {
		if filter.Status != "" {
			query = query.Where("status = ?", filter.Status)
		}
		if filter.Stage != "" {
			query = query.Where("current_stage = ?", filter.Stage)
		}
	}

	var total int64
	if err := query.Count(&total).Error; err != nil {
		span.RecordError(err)
		return nil, fmt.Errorf("failed to count tasks: %w", err)
	}

	var tasks []*entity.Task
	if err := query.Order("created_at DESC").
		Offset(pagination.Offset()).
		Limit(pagination.Limit()).
		Find(&tasks).Error; err != nil {
		span.RecordError(err)
		return nil, fmt.Errorf("failed to list tasks: %w", err)
	}

	return repository.NewPagedResult(tasks, total, pagination), nil
}

// CountActiveByOwner 统计用户处于活跃状态的任务数
func (r *TaskRepository) CountActiveByOwner(ctx context.Context, ownerID string) (int64, error) {
	ctx, span := tracer.Start(ctx, "postgres.TaskRepository.CountActiveByOwner")
	defer span.End()

	db := getDB(ctx, r.client.db)
	var count int64
	err := db.Model(&entity.Task{}).
		Where("owner_id = ? AND deleted_at IS NULL AND status IN ?", ownerID, entity.ActiveTaskStatuses).
		Count(&count).Error
	if err != nil {
		span.RecordError(err)
		return 0, fmt.Errorf("failed to count active tasks: %w", err)
	}
	return count, nil
}
