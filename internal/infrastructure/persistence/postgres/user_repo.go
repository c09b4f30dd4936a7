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

// UserRepository 用户仓储实现
type UserRepository struct {
	client *Client
}

// NewUserRepository 创建用户仓储
func NewUserRepository(client *Client) *UserRepository {
	return &UserRepository{client: client}
}

// Create 创建用户
func (r *UserRepository) Create(ctx context.Context, user *entity.User) error {
	ctx, span := tracer.Start(ctx, "postgres.UserRepository.Create")
	defer span.End()

	if user.ID == "" {
		user.ID = uuid.NewString()
	}

	db := getDB(ctx, r.client.db)
	if err := db.Create(user).Error; err != nil {
		span.RecordError(err)
		return fmt.Errorf("failed to create user: %w", err)
	}
	return nil
}

// GetByID 根据 ID 获取用户
func (r *UserRepository) GetByID(ctx context.Context, id string) (*entity.User, error) {
	ctx, span := tracer.Start(ctx, "postgres.UserRepository.GetByID")
	defer span.End()

	db := getDB(ctx, r.client.db)
	var user entity.User
	if err := db.First(&user, "id = ?", id).Error; err != nil {
		if err == gorm.ErrRecordNotFound {
			return nil, nil
		}
		span.RecordError(err)
		return nil, fmt.Errorf("failed to get user: %w", err)
	}
	return &user, nil
}

// GetBalance 获取用户可用余额
func (r *UserRepository) GetBalance(ctx context.Context, id string) (int64, error) {
	ctx, span := tracer.Start(ctx, "postgres.UserRepository.GetBalance")
	defer span.End()

	db := getDB(ctx, r.client.db)
	var balance int64
	err := db.Model(&entity.User{}).Where("id = ?", id).Pluck("balance", &balance).Error
	if err != nil {
		span.RecordError(err)
		return 0, fmt.Errorf("failed to get balance: %w", err)
	}
	return balance, nil
}

// DeductBalance 扣减余额。
// 使用单条原子 UPDATE，同一用户的并发扣减由数据库行锁串行化。
func (r *UserRepository) DeductBalance(ctx context.Context, id string, amount int64) error {
	ctx, span := tracer.Start(ctx, "postgres.UserRepository.DeductBalance")
	defer span.End()

	db := getDB(ctx, r.client.db)
	err := db.Model(&entity.User{}).
		Where("id = ?", id).
		Update("balance", gorm.Expr("balance - ?", amount)).Error
	if err != nil {
		span.RecordError(err)
		return fmt.Errorf("failed to deduct balance: %w", err)
	}
	return nil
}

// UsageEventRepository 计费流水仓储实现
type UsageEventRepository struct {
	client *Client
}

// NewUsageEventRepository 创建计费流水仓储
func NewUsageEventRepository(client *Client) *UsageEventRepository {
	return &UsageEventRepository{client: client}
}

// Create 写入一条流水
func (r *UsageEventRepository) Create(ctx context.Context, event *entity.UsageEvent) error {
	ctx, span := tracer.Start(ctx, "postgres.UsageEventRepository.Create")
	defer span.End()

	if event.ID == "" {
		event.ID = uuid.NewString()
	}

	db := getDB(ctx, r.client.db)
	if err := db.Create(event).Error; err != nil {
		span.RecordError(err)
		return fmt.Errorf("failed to create usage event: %w", err)
	}
	return nil
}

// ListByUser 获取用户流水
func (r *UsageEventRepository) ListByUser(ctx context.Context, userID string, pagination repository.Pagination) (*repository.PagedResult[*entity.UsageEvent], error) {
	ctx, span := tracer.Start(ctx, "postgres.UsageEventRepository.ListByUser")
	defer span.End()

	db := getDB(ctx, r.client.db)
	query := db.Model(&entity.UsageEvent{}).Where("user_id = ?", userID)

	var total int64
	if err := query.Count(&total).Error; err != nil {
		span.RecordError(err)
		return nil, fmt.Errorf("failed to count usage events: %w", err)
	}

	var events []*entity.UsageEvent
	if err := query.Order("created_at DESC").
		Offset(pagination.Offset()).
		Limit(pagination.Limit()).
		Find(&events).Error; err != nil {
		span.RecordError(err)
		return nil, fmt.Errorf("failed to list usage events: %w", err)
	}

	return repository.NewPagedResult(events, total, pagination), nil
}

// SumByRelated 按关联对象汇总消耗
func (r *UsageEventRepository) SumByRelated(ctx context.Context, relatedID string) (int64, error) {
	ctx, span := tracer.Start(ctx, "postgres.UsageEventRepository.SumByRelated")
	defer span.End()

	db := getDB(ctx, r.client.db)
	var total int64
	err := db.Model(&entity.UsageEvent{}).
		Where("related_id = ?", relatedID).
		Select("COALESCE(SUM(total_cost), 0)").
		Scan(&total).Error
	if err != nil {
		span.RecordError(err)
		return 0, fmt.Errorf("failed to sum usage events: %w", err)
	}
	return total, nil
}
