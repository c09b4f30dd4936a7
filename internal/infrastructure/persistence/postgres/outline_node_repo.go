// Package postgres 提供 PostgreSQL Repository 实现
package postgres

import (
	"context"
	"fmt"

	"github.com/google/uuid"

	"bookforge-api/internal/domain/entity"
)

// OutlineNodeRepository 大纲节点仓储实现
type OutlineNodeRepository struct {
	client *Client
}

// NewOutlineNodeRepository 创建大纲节点仓储
func NewOutlineNodeRepository(client *Client) *OutlineNodeRepository {
	return &OutlineNodeRepository{client: client}
}

// Create 创建节点
func (r *OutlineNodeRepository) Create(ctx context.Context, node *entity.OutlineNode) error {
	ctx, span := tracer.Start(ctx, "postgres.OutlineNodeRepository.Create")
	defer span.End()

	if node.ID == "" {
		node.ID = uuid.NewString()
	}

	db := getDB(ctx, r.client.db)
	if err := db.Create(node).Error; err != nil {
		span.RecordError(err)
		return fmt.Errorf("failed to create outline node: %w", err)
	}
	return nil
}

// Update 更新节点
func (r *OutlineNodeRepository) Update(ctx context.Context, node *entity.OutlineNode) error {
	ctx, span := tracer.Start(ctx, "postgres.OutlineNodeRepository.Update")
	defer span.End()

	db := getDB(ctx, r.client.db)
	if err := db.Save(node).Error; err != nil {
		span.RecordError(err)
		return fmt.Errorf("failed to update outline node: %w", err)
	}
	return nil
}

// ListByTask 获取任务的全部节点
func (r *OutlineNodeRepository) ListByTask(ctx context.Context, taskID string) ([]*entity.OutlineNode, error) {
	ctx, span := tracer.Start(ctx, "postgres.OutlineNodeRepository.ListByTask")
	defer span.End()

	db := getDB(ctx, r.client.db)
	var nodes []*entity.OutlineNode
	if err := db.Where("task_id = ?", taskID).Order("level ASC, sort_order ASC").Find(&nodes).Error; err != nil {
		span.RecordError(err)
		return nil, fmt.Errorf("failed to list outline nodes: %w", err)
	}
	return nodes, nil
}

// ListByParent 获取指定父节点的子节点
func (r *OutlineNodeRepository) ListByParent(ctx context.Context, parentID string) ([]*entity.OutlineNode, error) {
	ctx, span := tracer.Start(ctx, "postgres.OutlineNodeRepository.ListByParent")
	defer span.End()

	db := getDB(ctx, r.client.db)
	var nodes []*entity.OutlineNode
	if err := db.Where("parent_id = ?", parentID).Order("sort_order ASC").Find(&nodes).Error; err != nil {
		span.RecordError(err)
		return nil, fmt.Errorf("failed to list outline nodes by parent: %w", err)
	}
	return nodes, nil
}

// ListByTaskAndLevel 获取任务指定层级的节点
func (r *OutlineNodeRepository) ListByTaskAndLevel(ctx context.Context, taskID string, level int) ([]*entity.OutlineNode, error) {
	ctx, span := tracer.Start(ctx, "postgres.OutlineNodeRepository.ListByTaskAndLevel")
	defer span.End()

	db := getDB(ctx, r.client.db)
	var nodes []*entity.OutlineNode
	if err := db.Where("task_id = ? AND level = ?", taskID, level).Order("sort_order ASC").Find(&nodes).Error; err != nil {
		span.RecordError(err)
		return nil, fmt.Errorf("failed to list outline nodes by level: %w", err)
	}
	return nodes, nil
}

// DeleteByTask 删除任务的全部节点
func (r *OutlineNodeRepository) DeleteByTask(ctx context.Context, taskID string) error {
	ctx, span := tracer.Start(ctx, "postgres.OutlineNodeRepository.DeleteByTask")
	defer span.End()

	db := getDB(ctx, r.client.db)
	if err := db.Delete(&entity.OutlineNode{}, "task_id = ?", taskID).Error; err != nil {
		span.RecordError(err)
		return fmt.Errorf("failed to delete outline nodes: %w", err)
	}
	return nil
}
