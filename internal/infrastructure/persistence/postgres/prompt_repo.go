// Package postgres 提供 PostgreSQL Repository 实现
package postgres

import (
	"context"
	"fmt"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"bookforge-api/internal/domain/entity"
	"bookforge-api/internal/domain/repository"
)

// PromptRepository 提示词仓储实现
type PromptRepository struct {
	client *Client
}

// NewPromptRepository 创建提示词仓储
func NewPromptRepository(client *Client) *PromptRepository {
	return &PromptRepository{client: client}
}

// Create 创建提示词（含内容块）
func (r *PromptRepository) Create(ctx context.Context, prompt *entity.Prompt) error {
	ctx, span := tracer.Start(ctx, "postgres.PromptRepository.Create")
	defer span.End()

	if prompt.ID == "" {
		prompt.ID = uuid.NewString()
	}
	for i := range prompt.Blocks {
		if prompt.Blocks[i].ID == "" {
			prompt.Blocks[i].ID = uuid.NewString()
		}
		prompt.Blocks[i].PromptID = prompt.ID
	}

	db := getDB(ctx, r.client.db)
	if err := db.Create(prompt).Error; err != nil {
		span.RecordError(err)
		return fmt.Errorf("failed to create prompt: %w", err)
	}
	return nil
}

// GetByID 根据 ID 获取提示词（含排序后的内容块）
func (r *PromptRepository) GetByID(ctx context.Context, id string) (*entity.Prompt, error) {
	ctx, span := tracer.Start(ctx, "postgres.PromptRepository.GetByID")
	defer span.End()

	db := getDB(ctx, r.client.db)
	var prompt entity.Prompt
	err := db.Preload("Blocks", func(db *gorm.DB) *gorm.DB {
		return db.Order("sort_order ASC")
	}).First(&prompt, "id = ?", id).Error
	if err != nil {
		if err == gorm.ErrRecordNotFound {
			return nil, nil
		}
		span.RecordError(err)
		return nil, fmt.Errorf("failed to get prompt: %w", err)
	}
	return &prompt, nil
}

// Update 更新提示词
func (r *PromptRepository) Update(ctx context.Context, prompt *entity.Prompt) error {
	ctx, span := tracer.Start(ctx, "postgres.PromptRepository.Update")
	defer span.End()

	db := getDB(ctx, r.client.db)
	if err := db.Save(prompt).Error; err != nil {
		span.RecordError(err)
		return fmt.Errorf("failed to update prompt: %w", err)
	}
	return nil
}

// ListByAuthor 获取作者提示词列表
func (r *PromptRepository) ListByAuthor(ctx context.Context, authorID string, pagination repository.Pagination) (*repository.PagedResult[*entity.Prompt], error) {
	ctx, span := tracer.Start(ctx, "postgres.PromptRepository.ListByAuthor")
	defer span.End()

	db := getDB(ctx, r.client.db)
	query := db.Model(&entity.Prompt{}).Where("author_id = ?", authorID)

	var total int64
	if err := query.Count(&total).Error; err != nil {
		span.RecordError(err)
		return nil, fmt.Errorf("failed to count prompts: %w", err)
	}

	var prompts []*entity.Prompt
	if err := query.Order("created_at DESC").
		Offset(pagination.Offset()).
		Limit(pagination.Limit()).
		Find(&prompts).Error; err != nil {
		span.RecordError(err)
		return nil, fmt.Errorf("failed to list prompts: %w", err)
	}

	return repository.NewPagedResult(prompts, total, pagination), nil
}

// HasGrant 检查用户是否被授予提示词使用权
func (r *PromptRepository) HasGrant(ctx context.Context, promptID, userID string) (bool, error) {
	ctx, span := tracer.Start(ctx, "postgres.PromptRepository.HasGrant")
	defer span.End()

	db := getDB(ctx, r.client.db)
	var count int64
	err := db.Model(&entity.PromptGrant{}).
		Where("prompt_id = ? AND user_id = ?", promptID, userID).
		Count(&count).Error
	if err != nil {
		span.RecordError(err)
		return false, fmt.Errorf("failed to check prompt grant: %w", err)
	}
	return count > 0, nil
}

// PromptGroupRepository 提示词组仓储实现
type PromptGroupRepository struct {
	client *Client
}

// NewPromptGroupRepository 创建提示词组仓储
func NewPromptGroupRepository(client *Client) *PromptGroupRepository {
	return &PromptGroupRepository{client: client}
}

// GetByID 根据 ID 获取提示词组
func (r *PromptGroupRepository) GetByID(ctx context.Context, id string) (*entity.PromptGroup, error) {
	ctx, span := tracer.Start(ctx, "postgres.PromptGroupRepository.GetByID")
	defer span.End()

	db := getDB(ctx, r.client.db)
	var group entity.PromptGroup
	if err := db.First(&group, "id = ?", id).Error; err != nil {
		if err == gorm.ErrRecordNotFound {
			return nil, nil
		}
		span.RecordError(err)
		return nil, fmt.Errorf("failed to get prompt group: %w", err)
	}
	return &group, nil
}

// Create 创建提示词组
func (r *PromptGroupRepository) Create(ctx context.Context, group *entity.PromptGroup) error {
	ctx, span := tracer.Start(ctx, "postgres.PromptGroupRepository.Create")
	defer span.End()

	if group.ID == "" {
		group.ID = uuid.NewString()
	}

	db := getDB(ctx, r.client.db)
	if err := db.Create(group).Error; err != nil {
		span.RecordError(err)
		return fmt.Errorf("failed to create prompt group: %w", err)
	}
	return nil
}
