// Package postgres 提供 PostgreSQL Repository 实现
package postgres

import (
	"context"
	"fmt"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"bookforge-api/internal/domain/entity"
)

// VolumeRepository 分卷仓储实现
type VolumeRepository struct {
	client *Client
}

// NewVolumeRepository 创建分卷仓储
func NewVolumeRepository(client *Client) *VolumeRepository {
	return &VolumeRepository{client: client}
}

// Create 创建分卷
func (r *VolumeRepository) Create(ctx context.Context, volume *entity.Volume) error {
	ctx, span := tracer.Start(ctx, "postgres.VolumeRepository.Create")
	defer span.End()

	if volume.ID == "" {
		volume.ID = uuid.NewString()
	}

	db := getDB(ctx, r.client.db)
	if err := db.Create(volume).Error; err != nil {
		span.RecordError(err)
		return fmt.Errorf("failed to create volume: %w", err)
	}
	return nil
}

// GetByID 根据 ID 获取分卷
func (r *VolumeRepository) GetByID(ctx context.Context, id string) (*entity.Volume, error) {
	ctx, span := tracer.Start(ctx, "postgres.VolumeRepository.GetByID")
	defer span.End()

	db := getDB(ctx, r.client.db)
	var volume entity.Volume
	if err := db.First(&volume, "id = ?", id).Error; err != nil {
		if err == gorm.ErrRecordNotFound {
			return nil, nil
		}
		span.RecordError(err)
		return nil, fmt.Errorf("failed to get volume: %w", err)
	}
	return &volume, nil
}

// ListByNovel 获取小说分卷列表
func (r *VolumeRepository) ListByNovel(ctx context.Context, novelID string) ([]*entity.Volume, error) {
	ctx, span := tracer.Start(ctx, "postgres.VolumeRepository.ListByNovel")
	defer span.End()

	db := getDB(ctx, r.client.db)
	var volumes []*entity.Volume
	if err := db.Where("novel_id = ?", novelID).Order("seq_num ASC").Find(&volumes).Error; err != nil {
		span.RecordError(err)
		return nil, fmt.Errorf("failed to list volumes: %w", err)
	}
	return volumes, nil
}

// DeleteByNovel 删除小说下全部分卷
func (r *VolumeRepository) DeleteByNovel(ctx context.Context, novelID string) error {
	ctx, span := tracer.Start(ctx, "postgres.VolumeRepository.DeleteByNovel")
	defer span.End()

	db := getDB(ctx, r.client.db)
	if err := db.Where("novel_id = ?", novelID).Delete(&entity.Volume{}).Error; err != nil {
		span.RecordError(err)
		return fmt.Errorf("failed to delete volumes: %w", err)
	}
	return nil
}
