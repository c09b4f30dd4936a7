// Package entity 定义领域实体
package entity

import (
	"time"
)

// Volume 分卷实体
type Volume struct {
	ID        string    `json:"id" gorm:"type:uuid;primaryKey"`
	NovelID   string    `json:"novel_id" gorm:"type:uuid;index;not null"`
	SeqNum    int       `json:"seq_num" gorm:"not null"`
	Title     string    `json:"title,omitempty" gorm:"type:varchar(255)"`
	Summary   string    `json:"summary,omitempty" gorm:"type:text"`
	CreatedAt time.Time `json:"created_at" gorm:"autoCreateTime"`
	UpdatedAt time.Time `json:"updated_at" gorm:"autoUpdateTime"`
}

// TableName 指定表名
func (Volume) TableName() string {
	return "volumes"
}

// NewVolume 创建分卷
func NewVolume(novelID string, seqNum int, title string) *Volume {
	now := time.Now()
	return &Volume{
		NovelID:   novelID,
		SeqNum:    seqNum,
		Title:     title,
		CreatedAt: now,
		UpdatedAt: now,
	}
}
