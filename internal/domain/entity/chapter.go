// Package entity 定义领域实体
package entity

import (
	"time"
)

// ChapterStatus 章节状态
type ChapterStatus string

const (
	ChapterStatusDraft      ChapterStatus = "draft"
	ChapterStatusGenerating ChapterStatus = "generating"
	ChapterStatusReview     ChapterStatus = "review"
	ChapterStatusCompleted  ChapterStatus = "completed"
)

// Chapter 章节实体
type Chapter struct {
	ID          string        `json:"id" gorm:"type:uuid;primaryKey"`
	NovelID     string        `json:"novel_id" gorm:"type:uuid;index;not null"`
	VolumeID    string        `json:"volume_id,omitempty" gorm:"type:uuid;index"`
	SeqNum      int           `json:"seq_num" gorm:"not null"`
	Title       string        `json:"title,omitempty" gorm:"type:varchar(255)"`
	Outline     string        `json:"outline,omitempty" gorm:"type:text"`
	ContentText string        `json:"content_text,omitempty" gorm:"type:text"`
	Summary     string        `json:"summary,omitempty" gorm:"type:text"`
	WordCount   int           `json:"word_count" gorm:"default:0"`
	Status      ChapterStatus `json:"status" gorm:"type:varchar(50);default:'draft'"`
	CreatedAt   time.Time     `json:"created_at" gorm:"autoCreateTime"`
	UpdatedAt   time.Time     `json:"updated_at" gorm:"autoUpdateTime"`
}

// TableName 指定表名
func (Chapter) TableName() string {
	return "chapters"
}

// NewChapter 创建新章节
func NewChapter(novelID, volumeID string, seqNum int) *Chapter {
	now := time.Now()
	return &Chapter{
		NovelID:   novelID,
		VolumeID:  volumeID,
		SeqNum:    seqNum,
		Status:    ChapterStatusDraft,
		CreatedAt: now,
		UpdatedAt: now,
	}
}

// SetContent 设置章节内容并重算字数
func (c *Chapter) SetContent(content string) {
	c.ContentText = content
	c.WordCount = len([]rune(content))
	c.UpdatedAt = time.Now()
}
