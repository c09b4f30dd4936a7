// Package repository 定义数据访问层接口
package repository

import (
	"context"

	"bookforge-api/internal/domain/entity"
)

// PromptRepository 提示词仓储接口
type PromptRepository interface {
	// Create 创建提示词（含内容块）
	Create(ctx context.Context, prompt *entity.Prompt) error

	// GetByID 根据 ID 获取提示词（含按 sort_order 排序的内容块）
	GetByID(ctx context.Context, id string) (*entity.Prompt, error)

	// Update 更新提示词
	Update(ctx context.Context, prompt *entity.Prompt) error

	// ListByAuthor 获取作者提示词列表
	ListByAuthor(ctx context.Context, authorID string, pagination Pagination) (*PagedResult[*entity.Prompt], error)

	// HasGrant 检查用户是否被授予提示词使用权
	HasGrant(ctx context.Context, promptID, userID string) (bool, error)
}

// PromptGroupRepository 提示词组仓储接口
type PromptGroupRepository interface {
	// GetByID 根据 ID 获取提示词组
	GetByID(ctx context.Context, id string) (*entity.PromptGroup, error)

	// Create 创建提示词组
	Create(ctx context.Context, group *entity.PromptGroup) error
}
