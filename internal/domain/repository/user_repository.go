// Package repository 定义数据访问层接口
package repository

import (
	"context"

	"bookforge-api/internal/domain/entity"
)

// UserRepository 用户仓储接口
type UserRepository interface {
	// Create 创建用户
	Create(ctx context.Context, user *entity.User) error

	// GetByID 根据 ID 获取用户
	GetByID(ctx context.Context, id string) (*entity.User, error)

	// GetBalance 获取用户可用余额
	GetBalance(ctx context.Context, id string) (int64, error)

	// DeductBalance 扣减余额（允许扣到负数，串行化由存储层保证）
	DeductBalance(ctx context.Context, id string, amount int64) error
}

// UsageEventRepository 计费流水仓储接口
type UsageEventRepository interface {
	// Create 写入一条流水
	Create(ctx context.Context, event *entity.UsageEvent) error

	// ListByUser 获取用户流水
	ListByUser(ctx context.Context, userID string, pagination Pagination) (*PagedResult[*entity.UsageEvent], error)

	// SumByRelated 按关联对象汇总消耗
	SumByRelated(ctx context.Context, relatedID string) (int64, error)
}
