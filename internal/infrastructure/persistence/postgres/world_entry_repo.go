// Package postgres 提供 PostgreSQL Repository 实现
package postgres

import (
	"context"
	"fmt"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"bookforge-api/internal/domain/entity"
)

// WorldEntryRepository 世界观条目仓储实现
type WorldEntryRepository struct {
	client *Client
}

// NewWorldEntryRepository 创建世界观条目仓储
func NewWorldEntryRepository(client *Client) *WorldEntryRepository {
	return &WorldEntryRepository{client: client}
}

// Create 创建条目
func (r *WorldEntryRepository) Create(ctx context.Context, entry *entity.WorldEntry) error {
	ctx, span := tracer.Start(ctx, "postgres.WorldEntryRepository.Create")
	defer span.End()

	if entry.ID == "" {
		entry.ID = uuid.NewString()
	}

	db := getDB(ctx, r.client.db)
	if err := db.Create(entry).Error; err != nil {
		span.RecordError(err)
		return fmt.Errorf("failed to create world entry: %w", err)
	}
	return nil
}

// GetByID 根据 ID 获取条目
func (r *WorldEntryRepository) GetByID(ctx context.Context, id string) (*entity.WorldEntry, error) {
	ctx, span := tracer.Start(ctx, "postgres.WorldEntryRepository.GetByID")
	defer span.End()

	db := getDB(ctx, r.client.db)
	var entry entity.WorldEntry
	if err := db.First(&entry, "id = ?", id).Error; err != nil {
		if err == gorm.ErrRecordNotFound {
			return nil, nil
		}
		span.RecordError(err)
		return nil, fmt.Errorf("failed to get world entry: %w", err)
	}
	return &entry, nil
}

// GetByName 根据小说和名称获取条目
func (r *WorldEntryRepository) GetByName(ctx context.Context, novelID, name string) (*entity.WorldEntry, error) {
	ctx, span := tracer.Start(ctx, "postgres.WorldEntryRepository.GetByName")
	defer span.End()

	db := getDB(ctx, r.client.db)
	var entry entity.WorldEntry
	if err := db.First(&entry, "novel_id = ? AND name = ?", novelID, name).Error; err != nil {
		if err == gorm.ErrRecordNotFound {
			return nil, nil
		}
		span.RecordError(err)
		return nil, fmt.Errorf("failed to get world entry by name: %w", err)
	}
	return &entry, nil
}

// ListByNovel 获取小说条目列表
func (r *WorldEntryRepository) ListByNovel(ctx context.Context, novelID string) ([]*entity.WorldEntry, error) {
	ctx, span := tracer.Start(ctx, "postgres.WorldEntryRepository.ListByNovel")
	defer span.End()

	db := getDB(ctx, r.client.db)
	var entries []*entity.WorldEntry
	if err := db.Where("novel_id = ?", novelID).Order("created_at ASC").Find(&entries).Error; err != nil {
		span.RecordError(err)
		return nil, fmt.Errorf("failed to list world entries: %w", err)
	}
	return entries, nil
}

// ListByIDs 批量获取条目
func (r *WorldEntryRepository) ListByIDs(ctx context.Context, ids []string) ([]*entity.WorldEntry, error) {
	ctx, span := tracer.Start(ctx, "postgres.WorldEntryRepository.ListByIDs")
	defer span.End()

	if len(ids) == 0 {
		return nil, nil
	}

	db := getDB(ctx, r.client.db)
	var entries []*entity.WorldEntry
	if err := db.Where("id IN ?", ids).Find(&entries).Error; err != nil {
		span.RecordError(err)
		return nil, fmt.Errorf("failed to list world entries by ids: %w", err)
	}
	return entries, nil
}
