// Package repository 定义数据访问层接口
package repository

import (
	"context"

	"bookforge-api/internal/domain/entity"
)

// TaskFilter 任务过滤条件
type TaskFilter struct {
	Status entity.TaskStatus
	Stage  entity.StageType
}

// TaskRepository 生成任务仓储接口
type TaskRepository interface {
	// Create 创建任务
	Create(ctx context.Context, task *entity.Task) error

	// GetByID 根据 ID 获取任务（软删除的任务不返回）
	GetByID(ctx context.Context, id string) (*entity.Task, error)

	// Update 更新任务
	Update(ctx context.Context, task *entity.Task) error

	// SoftDelete 软删除任务
	SoftDelete(ctx context.Context, id string) error

	// ListByOwner 获取用户任务列表
	ListByOwner(ctx context.Context, ownerID string, filter *TaskFilter, pagination Pagination) (*PagedResult[*entity.Task], error)

	// CountActiveByOwner 统计用户处于活跃状态的任务数
	CountActiveByOwner(ctx context.Context, ownerID string) (int64, error)
}

// StageRecordRepository 阶段执行记录仓储接口
type StageRecordRepository interface {
	// Create 创建记录
	Create(ctx context.Context, record *entity.StageRecord) error

	// Update 更新记录
	Update(ctx context.Context, record *entity.StageRecord) error

	// GetLatestByTaskAndStage 获取任务指定阶段的最近一次记录
	GetLatestByTaskAndStage(ctx context.Context, taskID string, stage entity.StageType) (*entity.StageRecord, error)

	// ListByTask 获取任务的全部记录（按创建时间排序）
	ListByTask(ctx context.Context, taskID string) ([]*entity.StageRecord, error)
}

// OutlineNodeRepository 大纲节点仓储接口
type OutlineNodeRepository interface {
	// Create 创建节点
	Create(ctx context.Context, node *entity.OutlineNode) error

	// Update 更新节点
	Update(ctx context.Context, node *entity.OutlineNode) error

	// ListByTask 获取任务的全部节点
	ListByTask(ctx context.Context, taskID string) ([]*entity.OutlineNode, error)

	// ListByParent 获取指定父节点的子节点（按 sort_order 排序）
	ListByParent(ctx context.Context, parentID string) ([]*entity.OutlineNode, error)

	// ListByTaskAndLevel 获取任务指定层级的节点
	ListByTaskAndLevel(ctx context.Context, taskID string, level int) ([]*entity.OutlineNode, error)

	// DeleteByTask 删除任务的全部节点
	DeleteByTask(ctx context.Context, taskID string) error
}
