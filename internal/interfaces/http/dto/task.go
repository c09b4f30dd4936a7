// Package dto 提供 HTTP 层数据传输对象
package dto

import (
	"encoding/json"
	"time"

	"bookforge-api/internal/application/pipeline"
	"bookforge-api/internal/domain/entity"
)

// CreateTaskRequest 创建生成任务请求
type CreateTaskRequest struct {
	Config      *entity.TaskPromptConfig `json:"config,omitempty"`
	GroupID     string                   `json:"group_id,omitempty"`
	AutoExecute bool                     `json:"auto_execute,omitempty"`
}

// ToCreateInput 转换为应用层输入
func (r *CreateTaskRequest) ToCreateInput(ownerID string) pipeline.CreateInput {
	return pipeline.CreateInput{
		OwnerID:     ownerID,
		Config:      r.Config,
		GroupID:     r.GroupID,
		AutoExecute: r.AutoExecute,
	}
}

// ExecuteStageRequest 执行阶段请求，stage 为空表示执行当前阶段
type ExecuteStageRequest struct {
	Stage string `json:"stage,omitempty"`
	Async bool   `json:"async,omitempty"`
}

// SelectTitleRequest 标题选定请求
type SelectTitleRequest struct {
	Title    string `json:"title" binding:"required"`
	Synopsis string `json:"synopsis,omitempty"`
}

// UpdatePromptConfigRequest 更新任务生成配置请求
type UpdatePromptConfigRequest struct {
	Config *entity.TaskPromptConfig `json:"config" binding:"required"`
}

// TaskResponse 任务响应
type TaskResponse struct {
	ID                 string                   `json:"id"`
	OwnerID            string                   `json:"owner_id"`
	NovelID            string                   `json:"novel_id,omitempty"`
	Status             entity.TaskStatus        `json:"status"`
	CurrentStage       entity.StageType         `json:"current_stage"`
	PromptConfig       *entity.TaskPromptConfig `json:"prompt_config,omitempty"`
	ProcessedData      *entity.ProcessedData    `json:"processed_data,omitempty"`
	TotalCharsConsumed int64                    `json:"total_chars_consumed"`
	CreatedAt          time.Time                `json:"created_at"`
	UpdatedAt          time.Time                `json:"updated_at"`
}

// ToTaskResponse 转换任务实体
func ToTaskResponse(task *entity.Task) *TaskResponse {
	if task == nil {
		return nil
	}
	return &TaskResponse{
		ID:                 task.ID,
		OwnerID:            task.OwnerID,
		NovelID:            task.NovelID,
		Status:             task.Status,
		CurrentStage:       task.CurrentStage,
		PromptConfig:       task.PromptConfig,
		ProcessedData:      task.ProcessedData,
		TotalCharsConsumed: task.TotalCharsConsumed,
		CreatedAt:          task.CreatedAt,
		UpdatedAt:          task.UpdatedAt,
	}
}

// TaskListResponse 任务列表响应
type TaskListResponse struct {
	Tasks []*TaskResponse `json:"tasks"`
}

// ToTaskListResponse 转换任务列表
func ToTaskListResponse(tasks []*entity.Task) TaskListResponse {
	out := make([]*TaskResponse, 0, len(tasks))
	for _, t := range tasks {
		out = append(out, ToTaskResponse(t))
	}
	return TaskListResponse{Tasks: out}
}

// StageRecordResponse 阶段执行记录响应
type StageRecordResponse struct {
	ID            string                   `json:"id"`
	TaskID        string                   `json:"task_id"`
	Stage         entity.StageType         `json:"stage"`
	Status        entity.StageRecordStatus `json:"status"`
	Output        json.RawMessage          `json:"output,omitempty"`
	CharsConsumed int64                    `json:"chars_consumed"`
	RetryCount    int                      `json:"retry_count"`
	ErrorMessage  string                   `json:"error_message,omitempty"`
	CreatedAt     time.Time                `json:"created_at"`
	StartedAt     *time.Time               `json:"started_at,omitempty"`
	CompletedAt   *time.Time               `json:"completed_at,omitempty"`
}

// StageRecordListResponse 阶段执行记录列表响应
type StageRecordListResponse struct {
	Records []*StageRecordResponse `json:"records"`
}

// ToStageRecordListResponse 转换阶段执行记录列表
func ToStageRecordListResponse(records []*entity.StageRecord) StageRecordListResponse {
	out := make([]*StageRecordResponse, 0, len(records))
	for _, r := range records {
		out = append(out, &StageRecordResponse{
			ID:            r.ID,
			TaskID:        r.TaskID,
			Stage:         r.Stage,
			Status:        r.Status,
			Output:        r.Output,
			CharsConsumed: r.CharsConsumed,
			RetryCount:    r.RetryCount,
			ErrorMessage:  r.ErrorMessage,
			CreatedAt:     r.CreatedAt,
			StartedAt:     r.StartedAt,
			CompletedAt:   r.CompletedAt,
		})
	}
	return StageRecordListResponse{Records: out}
}

// OutlineNodeResponse 大纲树节点响应
type OutlineNodeResponse struct {
	ID        string                   `json:"id"`
	Level     int                      `json:"level"`
	Title     string                   `json:"title"`
	Content   string                   `json:"content,omitempty"`
	SortOrder int                      `json:"sort_order"`
	Status    entity.OutlineNodeStatus `json:"status"`
	VolumeID  string                   `json:"volume_id,omitempty"`
	ChapterID string                   `json:"chapter_id,omitempty"`
	Children  []*OutlineNodeResponse   `json:"children,omitempty"`
}

// OutlineTreeResponse 大纲树响应
type OutlineTreeResponse struct {
	Nodes []*OutlineNodeResponse `json:"nodes"`
}

// ToOutlineTreeResponse 转换大纲树
func ToOutlineTreeResponse(roots []*entity.OutlineTreeNode) OutlineTreeResponse {
	return OutlineTreeResponse{Nodes: toOutlineNodes(roots)}
}

func toOutlineNodes(nodes []*entity.OutlineTreeNode) []*OutlineNodeResponse {
	out := make([]*OutlineNodeResponse, 0, len(nodes))
	for _, n := range nodes {
		out = append(out, &OutlineNodeResponse{
			ID:        n.ID,
			Level:     n.Level,
			Title:     n.Title,
			Content:   n.Content,
			SortOrder: n.SortOrder,
			Status:    n.Status,
			VolumeID:  n.VolumeID,
			ChapterID: n.ChapterID,
			Children:  toOutlineNodes(n.Children),
		})
	}
	return out
}
