// Package entity 定义领域实体
package entity

import (
	"time"
)

// User 用户实体。
// Balance 为字符计费单位的可用余额，由账本仓储串行扣减。
type User struct {
	ID          string    `json:"id" gorm:"type:uuid;primaryKey"`
	Username    string    `json:"username" gorm:"type:varchar(100);uniqueIndex;not null"`
	DisplayName string    `json:"display_name,omitempty" gorm:"type:varchar(255)"`
	Balance     int64     `json:"balance" gorm:"default:0"`
	CreatedAt   time.Time `json:"created_at" gorm:"autoCreateTime"`
	UpdatedAt   time.Time `json:"updated_at" gorm:"autoUpdateTime"`
}

// TableName 指定表名
func (User) TableName() string {
	return "users"
}
