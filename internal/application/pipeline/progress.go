package pipeline

import (
	"context"

	"bookforge-api/internal/domain/service"
	"bookforge-api/pkg/logger"
)

// progressBoundary 进度推送边界。
// 推送是尽力而为的旁路副作用，任何失败都只记日志，绝不影响主流程。
type progressBoundary struct {
	notifier service.ProgressNotifier
}

func (p *progressBoundary) emit(ctx context.Context, taskID string, event service.ProgressEvent) {
	if p == nil || p.notifier == nil {
		return
	}
	defer func() {
		if r := recover(); r != nil {
			logger.FromContext(ctx).Error("progress notifier panicked", "panic", r, "task_id", taskID)
		}
	}()
	event.TaskID = taskID
	if err := p.notifier.Emit(ctx, taskID, event); err != nil {
		logger.FromContext(ctx).Warn("failed to emit progress event", "error", err, "task_id", taskID)
	}
}

func (p *progressBoundary) stageStarted(ctx context.Context, taskID, stage string) {
	p.emit(ctx, taskID, service.ProgressEvent{Type: service.ProgressEventStageStarted, Stage: stage})
}

func (p *progressBoundary) stageCompleted(ctx context.Context, taskID, stage string) {
	p.emit(ctx, taskID, service.ProgressEvent{Type: service.ProgressEventStageCompleted, Stage: stage})
}

func (p *progressBoundary) stageFailed(ctx context.Context, taskID, stage, reason string) {
	p.emit(ctx, taskID, service.ProgressEvent{Type: service.ProgressEventStageFailed, Stage: stage, Message: reason})
}

func (p *progressBoundary) batchProgress(ctx context.Context, taskID string, current, total int) {
	pct := 0.0
	if total > 0 {
		pct = float64(current) / float64(total) * 100
	}
	p.emit(ctx, taskID, service.ProgressEvent{
		Type:       service.ProgressEventBatchProgress,
		Stage:      "content",
		Current:    current,
		Total:      total,
		Percentage: pct,
	})
}

func (p *progressBoundary) taskCompleted(ctx context.Context, taskID string) {
	p.emit(ctx, taskID, service.ProgressEvent{Type: service.ProgressEventTaskCompleted})
}
