// Package dto 提供 HTTP 层数据传输对象
package dto

import (
	"time"

	"github.com/lib/pq"

	"bookforge-api/internal/domain/entity"
)

// PromptBlockRequest 提示词内容块请求
type PromptBlockRequest struct {
	Type    entity.PromptBlockType `json:"type" binding:"required"`
	Role    string                 `json:"role,omitempty"`
	Content string                 `json:"content,omitempty"`
	RefID   string                 `json:"ref_id,omitempty"`
}

// CreatePromptRequest 创建提示词请求
type CreatePromptRequest struct {
	Name       string                  `json:"name" binding:"required"`
	Stage      entity.StageType        `json:"stage,omitempty"`
	Visibility entity.PromptVisibility `json:"visibility,omitempty"`
	Tags       []string                `json:"tags,omitempty"`
	Params     []entity.PromptParam    `json:"params,omitempty"`
	Blocks     []PromptBlockRequest    `json:"blocks" binding:"required,min=1"`
}

// ToPromptEntity 转换为提示词实体
func (r *CreatePromptRequest) ToPromptEntity(authorID string) *entity.Prompt {
	visibility := r.Visibility
	if visibility == "" {
		visibility = entity.PromptVisibilityPrivate
	}
	prompt := &entity.Prompt{
		AuthorID:   authorID,
		Name:       r.Name,
		Stage:      r.Stage,
		Visibility: visibility,
		Moderation: entity.PromptModerationNormal,
		Tags:       pq.StringArray(r.Tags),
		Params:     r.Params,
	}
	for i, b := range r.Blocks {
		role := b.Role
		if role == "" {
			role = "system"
		}
		prompt.Blocks = append(prompt.Blocks, entity.PromptBlock{
			Type:      b.Type,
			Role:      role,
			Content:   b.Content,
			RefID:     b.RefID,
			SortOrder: i,
		})
	}
	return prompt
}

// PromptBlockResponse 提示词内容块响应
type PromptBlockResponse struct {
	ID        string                 `json:"id"`
	Type      entity.PromptBlockType `json:"type"`
	Role      string                 `json:"role"`
	Content   string                 `json:"content,omitempty"`
	RefID     string                 `json:"ref_id,omitempty"`
	SortOrder int                    `json:"sort_order"`
}

// PromptResponse 提示词响应
type PromptResponse struct {
	ID         string                  `json:"id"`
	AuthorID   string                  `json:"author_id"`
	Name       string                  `json:"name"`
	Stage      entity.StageType        `json:"stage,omitempty"`
	Visibility entity.PromptVisibility `json:"visibility"`
	Moderation entity.PromptModeration `json:"moderation"`
	Tags       []string                `json:"tags,omitempty"`
	Params     []entity.PromptParam    `json:"params,omitempty"`
	Blocks     []*PromptBlockResponse  `json:"blocks,omitempty"`
	CreatedAt  time.Time               `json:"created_at"`
	UpdatedAt  time.Time               `json:"updated_at"`
}

// ToPromptResponse 转换提示词实体
func ToPromptResponse(p *entity.Prompt) *PromptResponse {
	if p == nil {
		return nil
	}
	resp := &PromptResponse{
		ID:         p.ID,
		AuthorID:   p.AuthorID,
		Name:       p.Name,
		Stage:      p.Stage,
		Visibility: p.Visibility,
		Moderation: p.Moderation,
		Tags:       []string(p.Tags),
		Params:     p.Params,
		CreatedAt:  p.CreatedAt,
		UpdatedAt:  p.UpdatedAt,
	}
	for _, b := range p.Blocks {
		resp.Blocks = append(resp.Blocks, &PromptBlockResponse{
			ID:        b.ID,
			Type:      b.Type,
			Role:      b.Role,
			Content:   b.Content,
			RefID:     b.RefID,
			SortOrder: b.SortOrder,
		})
	}
	return resp
}

// PromptListResponse 提示词列表响应
type PromptListResponse struct {
	Prompts []*PromptResponse `json:"prompts"`
}

// ToPromptListResponse 转换提示词列表
func ToPromptListResponse(prompts []*entity.Prompt) PromptListResponse {
	out := make([]*PromptResponse, 0, len(prompts))
	for _, p := range prompts {
		out = append(out, ToPromptResponse(p))
	}
	return PromptListResponse{Prompts: out}
}

// CreatePromptGroupRequest 创建提示词组请求
type CreatePromptGroupRequest struct {
	Name            string `json:"name" binding:"required"`
	IdeaPromptID    string `json:"idea_prompt_id,omitempty"`
	TitlePromptID   string `json:"title_prompt_id,omitempty"`
	OutlinePromptID string `json:"outline_prompt_id,omitempty"`
	ContentPromptID string `json:"content_prompt_id,omitempty"`
	ReviewPromptID  string `json:"review_prompt_id,omitempty"`
}

// ToGroupEntity 转换为提示词组实体
func (r *CreatePromptGroupRequest) ToGroupEntity(authorID string) *entity.PromptGroup {
	return &entity.PromptGroup{
		AuthorID:        authorID,
		Name:            r.Name,
		IdeaPromptID:    r.IdeaPromptID,
		TitlePromptID:   r.TitlePromptID,
		OutlinePromptID: r.OutlinePromptID,
		ContentPromptID: r.ContentPromptID,
		ReviewPromptID:  r.ReviewPromptID,
	}
}

// PromptGroupResponse 提示词组响应
type PromptGroupResponse struct {
	ID              string    `json:"id"`
	AuthorID        string    `json:"author_id"`
	Name            string    `json:"name"`
	IdeaPromptID    string    `json:"idea_prompt_id,omitempty"`
	TitlePromptID   string    `json:"title_prompt_id,omitempty"`
	OutlinePromptID string    `json:"outline_prompt_id,omitempty"`
	ContentPromptID string    `json:"content_prompt_id,omitempty"`
	ReviewPromptID  string    `json:"review_prompt_id,omitempty"`
	CreatedAt       time.Time `json:"created_at"`
}

// ToPromptGroupResponse 转换提示词组实体
func ToPromptGroupResponse(g *entity.PromptGroup) *PromptGroupResponse {
	if g == nil {
		return nil
	}
	return &PromptGroupResponse{
		ID:              g.ID,
		AuthorID:        g.AuthorID,
		Name:            g.Name,
		IdeaPromptID:    g.IdeaPromptID,
		TitlePromptID:   g.TitlePromptID,
		OutlinePromptID: g.OutlinePromptID,
		ContentPromptID: g.ContentPromptID,
		ReviewPromptID:  g.ReviewPromptID,
		CreatedAt:       g.CreatedAt,
	}
}
