// Package entity 定义领域实体
package entity

import (
	"time"
)

// UsageEvent 计费流水：每次模型调用一条，记录输入/输出字符与扣费明细
type UsageEvent struct {
	ID          string    `json:"id" gorm:"type:uuid;primaryKey"`
	UserID      string    `json:"user_id" gorm:"type:uuid;index;not null"`
	Provider    string    `json:"provider,omitempty" gorm:"type:varchar(64)"`
	Model       string    `json:"model,omitempty" gorm:"type:varchar(128)"`
	Source      string    `json:"source,omitempty" gorm:"type:varchar(64);index"`
	RelatedID   string    `json:"related_id,omitempty" gorm:"type:uuid;index"`
	InputChars  int64     `json:"input_chars" gorm:"default:0"`
	OutputChars int64     `json:"output_chars" gorm:"default:0"`
	InputCost   int64     `json:"input_cost" gorm:"default:0"`
	OutputCost  int64     `json:"output_cost" gorm:"default:0"`
	TotalCost   int64     `json:"total_cost" gorm:"default:0"`
	DurationMs  int       `json:"duration_ms,omitempty"`
	CreatedAt   time.Time `json:"created_at" gorm:"autoCreateTime"`
}

// TableName 指定表名
func (UsageEvent) TableName() string {
	return "usage_events"
}
