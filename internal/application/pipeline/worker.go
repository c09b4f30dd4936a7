package pipeline

import (
	"context"

	"bookforge-api/internal/domain/entity"
	"bookforge-api/internal/infrastructure/messaging"
	apperrors "bookforge-api/pkg/errors"
	"bookforge-api/pkg/logger"
)

// StageWorker 消费阶段执行消息并驱动任务推进。
// 自动推进模式下一个消息只执行一个阶段，完成后投递下一阶段的新消息，
// 避免单条消息长时间占用消费者。
type StageWorker struct {
	tasks *TaskService
}

func NewStageWorker(tasks *TaskService) *StageWorker {
	return &StageWorker{tasks: tasks}
}

// Register 把处理函数挂到消费者上
func (w *StageWorker) Register(consumer *messaging.Consumer) {
	consumer.RegisterHandler(messaging.MsgTypeStageExec, w.Handle)
}

// Handle 处理单条阶段执行消息。
// 业务性失败（参数、权限、阶段顺序）不重试，直接确认。
func (w *StageWorker) Handle(ctx context.Context, msg *messaging.Message) error {
	var job messaging.StageJobMessage
	if err := msg.UnmarshalPayload(&job); err != nil {
		logger.FromContext(ctx).Error("failed to decode stage job, discarding", "error", err, "message_id", msg.ID)
		return nil
	}

	task, err := w.tasks.ExecuteStage(ctx, job.TaskID, job.UserID, entity.StageType(job.Stage))
	if err != nil {
		if isPermanentJobError(err) {
			logger.FromContext(ctx).Warn("stage job rejected, discarding",
				"task_id", job.TaskID, "stage", job.Stage, "error", err)
			return nil
		}
		return err
	}

	if job.AutoAdvance {
		w.advanceJob(ctx, task, &job)
	}
	return nil
}

// advanceJob 阶段完成后投递下一阶段。
// 标题阶段完成后必须等用户选定书名，自动推进在此断开。
func (w *StageWorker) advanceJob(ctx context.Context, task *entity.Task, job *messaging.StageJobMessage) {
	if task.Status != entity.TaskStatusWaitingNextStage {
		return
	}
	if entity.StageType(job.Stage) == entity.StageTitle {
		return
	}
	if w.tasks.deps.Jobs == nil {
		return
	}
	next := &messaging.StageJobMessage{
		UserID:      job.UserID,
		TaskID:      job.TaskID,
		Stage:       string(task.CurrentStage),
		AutoAdvance: true,
	}
	if _, err := w.tasks.deps.Jobs.PublishStageJob(ctx, next); err != nil {
		logger.FromContext(ctx).Warn("failed to publish next stage job",
			"task_id", job.TaskID, "stage", task.CurrentStage, "error", err)
	}
}

// isPermanentJobError 判断失败是否与重试无关
func isPermanentJobError(err error) bool {
	for _, code := range []apperrors.ErrorCode{
		apperrors.CodeInvalidParam,
		apperrors.CodeForbidden,
		apperrors.CodePermissionDenied,
		apperrors.CodeTaskNotFound,
		apperrors.CodeNotFound,
		apperrors.CodeConflict,
		apperrors.CodeStageOrderViolation,
		apperrors.CodeMissingPromptParams,
		apperrors.CodePromptNotFound,
		apperrors.CodeInsufficientBalance,
	} {
		if apperrors.IsCode(err, code) {
			return true
		}
	}
	return false
}
