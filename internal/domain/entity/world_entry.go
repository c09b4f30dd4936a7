// Package entity 定义领域实体
package entity

import (
	"time"
)

// WorldEntry 世界观条目实体
type WorldEntry struct {
	ID          string       `json:"id" gorm:"type:uuid;primaryKey"`
	NovelID     string       `json:"novel_id" gorm:"type:uuid;index;not null"`
	Name        string       `json:"name" gorm:"type:varchar(255);not null"`
	Category    string       `json:"category,omitempty" gorm:"type:varchar(100)"`
	Description string       `json:"description,omitempty" gorm:"type:text"`
	Fields      []FieldEntry `json:"fields,omitempty" gorm:"type:jsonb;serializer:json"`
	CreatedAt   time.Time    `json:"created_at" gorm:"autoCreateTime"`
	UpdatedAt   time.Time    `json:"updated_at" gorm:"autoUpdateTime"`
}

// TableName 指定表名
func (WorldEntry) TableName() string {
	return "world_entries"
}

// NewWorldEntry 创建世界观条目
func NewWorldEntry(novelID, name, category, description string) *WorldEntry {
	now := time.Now()
	return &WorldEntry{
		NovelID:     novelID,
		Name:        name,
		Category:    category,
		Description: description,
		CreatedAt:   now,
		UpdatedAt:   now,
	}
}

// Render 渲染为提示词中的字段文本
func (w *WorldEntry) Render() string {
	fields := w.Fields
	if w.Description != "" {
		fields = append([]FieldEntry{{Label: "描述", Value: w.Description}}, fields...)
	}
	name := "【设定】" + w.Name
	if w.Category != "" {
		name = "【设定·" + w.Category + "】" + w.Name
	}
	return renderFields(name, fields)
}
