// Package entity 定义领域实体
package entity

import (
	"time"

	"github.com/lib/pq"
)

// PromptVisibility 提示词可见性
type PromptVisibility string

const (
	PromptVisibilityPrivate PromptVisibility = "private"
	PromptVisibilityPublic  PromptVisibility = "public"
)

// PromptModeration 提示词审核状态
type PromptModeration string

const (
	PromptModerationNormal  PromptModeration = "normal"
	PromptModerationPending PromptModeration = "pending"
	PromptModerationBanned  PromptModeration = "banned"
)

// PromptBlockType 提示词内容块类型
type PromptBlockType string

const (
	PromptBlockText       PromptBlockType = "text"
	PromptBlockCharacter  PromptBlockType = "character"
	PromptBlockWorldEntry PromptBlockType = "world_entry"
)

// PromptParam 提示词声明的参数
type PromptParam struct {
	Name     string `json:"name"`
	Required bool   `json:"required"`
	Default  string `json:"default,omitempty"`
}

// Prompt 提示词模板实体
type Prompt struct {
	ID         string           `json:"id" gorm:"type:uuid;primaryKey"`
	AuthorID   string           `json:"author_id" gorm:"type:uuid;index;not null"`
	Name       string           `json:"name" gorm:"type:varchar(255);not null"`
	Stage      StageType        `json:"stage,omitempty" gorm:"type:varchar(20)"`
	Visibility PromptVisibility `json:"visibility" gorm:"type:varchar(20);default:'private'"`
	Moderation PromptModeration `json:"moderation" gorm:"type:varchar(20);default:'normal'"`
	Tags       pq.StringArray   `json:"tags,omitempty" gorm:"type:text[]"`
	Params     []PromptParam    `json:"params,omitempty" gorm:"type:jsonb;serializer:json"`
	Blocks     []PromptBlock    `json:"blocks,omitempty" gorm:"foreignKey:PromptID"`
	CreatedAt  time.Time        `json:"created_at" gorm:"autoCreateTime"`
	UpdatedAt  time.Time        `json:"updated_at" gorm:"autoUpdateTime"`
}

// TableName 指定表名
func (Prompt) TableName() string {
	return "prompts"
}

// PromptBlock 提示词的有序内容块。
// character/world_entry 块 RefID 为空时是槽位，调用时由调用方选中的实体填充。
type PromptBlock struct {
	ID        string          `json:"id" gorm:"type:uuid;primaryKey"`
	PromptID  string          `json:"prompt_id" gorm:"type:uuid;index;not null"`
	Type      PromptBlockType `json:"type" gorm:"type:varchar(20);not null"`
	Role      string          `json:"role" gorm:"type:varchar(20);default:'system'"`
	Content   string          `json:"content,omitempty" gorm:"type:text"`
	RefID     string          `json:"ref_id,omitempty" gorm:"type:uuid"`
	SortOrder int             `json:"sort_order" gorm:"not null"`
}

// TableName 指定表名
func (PromptBlock) TableName() string {
	return "prompt_blocks"
}

// IsSlot 检查内容块是否为槽位
func (b *PromptBlock) IsSlot() bool {
	return b.Type != PromptBlockText && b.RefID == ""
}

// PromptGrant 提示词使用授权
type PromptGrant struct {
	ID        string    `json:"id" gorm:"type:uuid;primaryKey"`
	PromptID  string    `json:"prompt_id" gorm:"type:uuid;index;not null"`
	UserID    string    `json:"user_id" gorm:"type:uuid;index;not null"`
	CreatedAt time.Time `json:"created_at" gorm:"autoCreateTime"`
}

// TableName 指定表名
func (PromptGrant) TableName() string {
	return "prompt_grants"
}

// PromptGroup 共享提示词组：每个阶段一个提示词
type PromptGroup struct {
	ID              string    `json:"id" gorm:"type:uuid;primaryKey"`
	AuthorID        string    `json:"author_id" gorm:"type:uuid;index;not null"`
	Name            string    `json:"name" gorm:"type:varchar(255);not null"`
	IdeaPromptID    string    `json:"idea_prompt_id" gorm:"type:uuid"`
	TitlePromptID   string    `json:"title_prompt_id" gorm:"type:uuid"`
	OutlinePromptID string    `json:"outline_prompt_id" gorm:"type:uuid"`
	ContentPromptID string    `json:"content_prompt_id" gorm:"type:uuid"`
	ReviewPromptID  string    `json:"review_prompt_id" gorm:"type:uuid"`
	CreatedAt       time.Time `json:"created_at" gorm:"autoCreateTime"`
	UpdatedAt       time.Time `json:"updated_at" gorm:"autoUpdateTime"`
}

// TableName 指定表名
func (PromptGroup) TableName() string {
	return "prompt_groups"
}
