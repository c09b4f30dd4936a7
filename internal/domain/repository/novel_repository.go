// Package repository 定义数据访问层接口
package repository

import (
	"context"

	"bookforge-api/internal/domain/entity"
)

// NovelRepository 小说仓储接口
type NovelRepository interface {
	// Create 创建小说
	Create(ctx context.Context, novel *entity.Novel) error

	// GetByID 根据 ID 获取小说
	GetByID(ctx context.Context, id string) (*entity.Novel, error)

	// Update 更新小说
	Update(ctx context.Context, novel *entity.Novel) error

	// ListByOwner 获取用户小说列表
	ListByOwner(ctx context.Context, ownerID string, pagination Pagination) (*PagedResult[*entity.Novel], error)
}

// VolumeRepository 分卷仓储接口
type VolumeRepository interface {
	// Create 创建分卷
	Create(ctx context.Context, volume *entity.Volume) error

	// GetByID 根据 ID 获取分卷
	GetByID(ctx context.Context, id string) (*entity.Volume, error)

	// ListByNovel 获取小说分卷列表（按序号排序）
	ListByNovel(ctx context.Context, novelID string) ([]*entity.Volume, error)

	// DeleteByNovel 删除小说下全部分卷
	DeleteByNovel(ctx context.Context, novelID string) error
}

// ChapterRepository 章节仓储接口
type ChapterRepository interface {
	// Create 创建章节
	Create(ctx context.Context, chapter *entity.Chapter) error

	// GetByID 根据 ID 获取章节
	GetByID(ctx context.Context, id string) (*entity.Chapter, error)

	// Update 更新章节
	Update(ctx context.Context, chapter *entity.Chapter) error

	// ListByNovel 获取小说章节列表（按序号排序）
	ListByNovel(ctx context.Context, novelID string) ([]*entity.Chapter, error)

	// ListByVolume 获取分卷章节列表（按序号排序）
	ListByVolume(ctx context.Context, volumeID string) ([]*entity.Chapter, error)

	// ListEarlierInVolume 获取同卷中序号小于 seqNum 的章节（按序号排序）
	ListEarlierInVolume(ctx context.Context, volumeID string, seqNum int) ([]*entity.Chapter, error)

	// GetFirstPending 获取序号最小的未完成章节
	GetFirstPending(ctx context.Context, novelID string) (*entity.Chapter, error)

	// DeleteByNovel 删除小说下全部章节
	DeleteByNovel(ctx context.Context, novelID string) error
}
