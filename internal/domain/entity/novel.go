// Package entity 定义领域实体
package entity

import (
	"time"
)

// NovelStatus 小说状态
type NovelStatus string

const (
	NovelStatusDraft     NovelStatus = "draft"
	NovelStatusWriting   NovelStatus = "writing"
	NovelStatusCompleted NovelStatus = "completed"
	NovelStatusArchived  NovelStatus = "archived"
)

// Novel 小说实体
type Novel struct {
	ID          string      `json:"id" gorm:"type:uuid;primaryKey"`
	OwnerID     string      `json:"owner_id" gorm:"type:uuid;index;not null"`
	Title       string      `json:"title" gorm:"type:varchar(255);not null"`
	Synopsis    string      `json:"synopsis,omitempty" gorm:"type:text"`
	Genre       string      `json:"genre,omitempty" gorm:"type:varchar(100)"`
	PinnedNotes string      `json:"pinned_notes,omitempty" gorm:"type:text"`
	WordCount   int         `json:"word_count" gorm:"default:0"`
	Status      NovelStatus `json:"status" gorm:"type:varchar(50);default:'draft'"`
	CreatedAt   time.Time   `json:"created_at" gorm:"autoCreateTime"`
	UpdatedAt   time.Time   `json:"updated_at" gorm:"autoUpdateTime"`
}

// TableName 指定表名
func (Novel) TableName() string {
	return "novels"
}

// NewNovel 创建新小说
func NewNovel(ownerID, title string) *Novel {
	now := time.Now()
	return &Novel{
		OwnerID:   ownerID,
		Title:     title,
		Status:    NovelStatusDraft,
		CreatedAt: now,
		UpdatedAt: now,
	}
}

// UpdateWordCount 更新字数统计
func (n *Novel) UpdateWordCount(delta int) {
	n.WordCount += delta
	if n.WordCount < 0 {
		n.WordCount = 0
	}
	n.UpdatedAt = time.Now()
}
