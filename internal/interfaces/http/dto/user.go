// Package dto 提供 HTTP 层数据传输对象
package dto

import (
	"time"

	"bookforge-api/internal/domain/entity"
)

// UserResponse 用户响应
type UserResponse struct {
	ID          string    `json:"id"`
	Username    string    `json:"username"`
	DisplayName string    `json:"display_name,omitempty"`
	Balance     int64     `json:"balance"`
	CreatedAt   time.Time `json:"created_at"`
}

// ToUserResponse 转换用户实体
func ToUserResponse(u *entity.User) *UserResponse {
	if u == nil {
		return nil
	}
	return &UserResponse{
		ID:          u.ID,
		Username:    u.Username,
		DisplayName: u.DisplayName,
		Balance:     u.Balance,
		CreatedAt:   u.CreatedAt,
	}
}

// UsageEventResponse 计费流水响应
type UsageEventResponse struct {
	ID          string    `json:"id"`
	Provider    string    `json:"provider,omitempty"`
	Model       string    `json:"model,omitempty"`
	Source      string    `json:"source,omitempty"`
	RelatedID   string    `json:"related_id,omitempty"`
	InputChars  int64     `json:"input_chars"`
	OutputChars int64     `json:"output_chars"`
	TotalCost   int64     `json:"total_cost"`
	CreatedAt   time.Time `json:"created_at"`
}

// UsageEventListResponse 计费流水列表响应
type UsageEventListResponse struct {
	Events []*UsageEventResponse `json:"events"`
}

// ToUsageEventListResponse 转换计费流水列表
func ToUsageEventListResponse(events []*entity.UsageEvent) UsageEventListResponse {
	out := make([]*UsageEventResponse, 0, len(events))
	for _, e := range events {
		out = append(out, &UsageEventResponse{
			ID:          e.ID,
			Provider:    e.Provider,
			Model:       e.Model,
			Source:      e.Source,
			RelatedID:   e.RelatedID,
			InputChars:  e.InputChars,
			OutputChars: e.OutputChars,
			TotalCost:   e.TotalCost,
			CreatedAt:   e.CreatedAt,
		})
	}
	return UsageEventListResponse{Events: out}
}
