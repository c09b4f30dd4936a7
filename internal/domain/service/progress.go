package service

import "context"

// ProgressEventType 进度事件类型
type ProgressEventType string

const (
	ProgressEventStageStarted   ProgressEventType = "stage_started"
	ProgressEventStageCompleted ProgressEventType = "stage_completed"
	ProgressEventStageFailed    ProgressEventType = "stage_failed"
	ProgressEventBatchProgress  ProgressEventType = "batch_progress"
	ProgressEventTaskCompleted  ProgressEventType = "task_completed"
)

// ProgressEvent 任务进度事件
type ProgressEvent struct {
	Type       ProgressEventType `json:"type"`
	TaskID     string            `json:"task_id"`
	Stage      string            `json:"stage,omitempty"`
	Current    int               `json:"current,omitempty"`
	Total      int               `json:"total,omitempty"`
	Percentage float64           `json:"percentage,omitempty"`
	Message    string            `json:"message,omitempty"`
}

// ProgressNotifier 任务进度推送（port）。
// 约定：fire-and-forget，实现与调用方都不得让推送失败影响主流程。
type ProgressNotifier interface {
	Emit(ctx context.Context, taskID string, event ProgressEvent) error
}
