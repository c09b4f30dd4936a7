// Package repository 定义数据访问层接口
package repository

import (
	"context"

	"bookforge-api/internal/domain/entity"
)

// CharacterRepository 角色仓储接口
type CharacterRepository interface {
	// Create 创建角色
	Create(ctx context.Context, character *entity.Character) error

	// GetByID 根据 ID 获取角色
	GetByID(ctx context.Context, id string) (*entity.Character, error)

	// GetByName 根据小说和名称获取角色
	GetByName(ctx context.Context, novelID, name string) (*entity.Character, error)

	// ListByNovel 获取小说角色列表
	ListByNovel(ctx context.Context, novelID string) ([]*entity.Character, error)

	// ListByIDs 批量获取角色
	ListByIDs(ctx context.Context, ids []string) ([]*entity.Character, error)
}

// WorldEntryRepository 世界观条目仓储接口
type WorldEntryRepository interface {
	// Create 创建条目
	Create(ctx context.Context, entry *entity.WorldEntry) error

	// GetByID 根据 ID 获取条目
	GetByID(ctx context.Context, id string) (*entity.WorldEntry, error)

	// GetByName 根据小说和名称获取条目
	GetByName(ctx context.Context, novelID, name string) (*entity.WorldEntry, error)

	// ListByNovel 获取小说条目列表
	ListByNovel(ctx context.Context, novelID string) ([]*entity.WorldEntry, error)

	// ListByIDs 批量获取条目
	ListByIDs(ctx context.Context, ids []string) ([]*entity.WorldEntry, error)
}
