// Package entity 定义领域实体
package entity

import (
	"encoding/json"
	"time"
)

// StageRecordStatus 阶段执行记录状态
type StageRecordStatus string

const (
	StageRecordStatusPending    StageRecordStatus = "pending"
	StageRecordStatusProcessing StageRecordStatus = "processing"
	StageRecordStatusCompleted  StageRecordStatus = "completed"
	StageRecordStatusFailed     StageRecordStatus = "failed"
)

// StageRecord 单次阶段执行记录。
// 终态记录不再变更，重试在原记录上累加 RetryCount，消耗历史保持可审计。
type StageRecord struct {
	ID            string            `json:"id" gorm:"type:uuid;primaryKey"`
	TaskID        string            `json:"task_id" gorm:"type:uuid;index;not null"`
	Stage         StageType         `json:"stage" gorm:"type:varchar(20);not null"`
	Status        StageRecordStatus `json:"status" gorm:"type:varchar(20);not null"`
	Input         json.RawMessage   `json:"input,omitempty" gorm:"type:jsonb"`
	Output        json.RawMessage   `json:"output,omitempty" gorm:"type:jsonb"`
	CharsConsumed int64             `json:"chars_consumed" gorm:"default:0"`
	RetryCount    int               `json:"retry_count" gorm:"default:0"`
	ErrorMessage  string            `json:"error_message,omitempty" gorm:"type:text"`
	CreatedAt     time.Time         `json:"created_at" gorm:"autoCreateTime"`
	UpdatedAt     time.Time         `json:"updated_at" gorm:"autoUpdateTime"`
	StartedAt     *time.Time        `json:"started_at,omitempty"`
	CompletedAt   *time.Time        `json:"completed_at,omitempty"`
}

// TableName 指定表名
func (StageRecord) TableName() string {
	return "stage_records"
}

// NewStageRecord 创建阶段执行记录
func NewStageRecord(taskID string, stage StageType, input json.RawMessage) *StageRecord {
	now := time.Now()
	return &StageRecord{
		TaskID:    taskID,
		Stage:     stage,
		Status:    StageRecordStatusPending,
		Input:     input,
		CreatedAt: now,
		UpdatedAt: now,
	}
}

// Start 标记开始执行
func (r *StageRecord) Start() {
	now := time.Now()
	r.Status = StageRecordStatusProcessing
	r.StartedAt = &now
}

// Complete 标记执行完成
func (r *StageRecord) Complete(output json.RawMessage, charsConsumed int64) {
	now := time.Now()
	r.Status = StageRecordStatusCompleted
	r.Output = output
	if charsConsumed > 0 {
		r.CharsConsumed = charsConsumed
	}
	r.CompletedAt = &now
}

// Fail 标记执行失败
func (r *StageRecord) Fail(errMsg string, charsConsumed int64) {
	now := time.Now()
	r.Status = StageRecordStatusFailed
	r.ErrorMessage = errMsg
	if charsConsumed > 0 {
		r.CharsConsumed = charsConsumed
	}
	r.CompletedAt = &now
}
