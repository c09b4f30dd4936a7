// Package entity 定义领域实体
package entity

import (
	"strings"
	"time"
)

// FieldEntry 实体卡片上的一条字段
type FieldEntry struct {
	Label string `json:"label"`
	Value string `json:"value"`
}

// renderFields 将字段列表渲染为带标签的文本段
func renderFields(name string, fields []FieldEntry) string {
	var b strings.Builder
	b.WriteString(name)
	for _, f := range fields {
		if strings.TrimSpace(f.Value) == "" {
			continue
		}
		b.WriteString("\n")
		b.WriteString(f.Label)
		b.WriteString(": ")
		b.WriteString(f.Value)
	}
	return b.String()
}

// Character 角色实体
type Character struct {
	ID          string       `json:"id" gorm:"type:uuid;primaryKey"`
	NovelID     string       `json:"novel_id" gorm:"type:uuid;index;not null"`
	Name        string       `json:"name" gorm:"type:varchar(255);not null"`
	Description string       `json:"description,omitempty" gorm:"type:text"`
	Fields      []FieldEntry `json:"fields,omitempty" gorm:"type:jsonb;serializer:json"`
	CreatedAt   time.Time    `json:"created_at" gorm:"autoCreateTime"`
	UpdatedAt   time.Time    `json:"updated_at" gorm:"autoUpdateTime"`
}

// TableName 指定表名
func (Character) TableName() string {
	return "characters"
}

// NewCharacter 创建角色
func NewCharacter(novelID, name, description string) *Character {
	now := time.Now()
	return &Character{
		NovelID:     novelID,
		Name:        name,
		Description: description,
		CreatedAt:   now,
		UpdatedAt:   now,
	}
}

// Render 渲染为提示词中的字段文本
func (c *Character) Render() string {
	fields := c.Fields
	if c.Description != "" {
		fields = append([]FieldEntry{{Label: "简介", Value: c.Description}}, fields...)
	}
	return renderFields("【角色】"+c.Name, fields)
}
