// Package pipeline 实现书籍生成流水线：任务编排、五个阶段执行器、
// 批量与逐章内容生成。阶段推进由任务状态机驱动，费用在生成核心层结算。
package pipeline

import (
	"context"
	"fmt"

	"github.com/google/uuid"

	"bookforge-api/internal/application/generation"
	"bookforge-api/internal/application/prompting"
	"bookforge-api/internal/application/retrieval"
	"bookforge-api/internal/config"
	"bookforge-api/internal/domain/entity"
	"bookforge-api/internal/domain/repository"
	"bookforge-api/internal/domain/service"
	"bookforge-api/internal/infrastructure/messaging"
	apperrors "bookforge-api/pkg/errors"
	"bookforge-api/pkg/logger"
)

const (
	defaultMaxActiveTasks   = 3
	defaultMinCreateBalance = 50000
)

// JobPublisher 投递阶段执行任务到消息队列
type JobPublisher interface {
	PublishStageJob(ctx context.Context, job *messaging.StageJobMessage) (string, error)
}

// Dependencies 任务服务的全部依赖
type Dependencies struct {
	Assembler  *prompting.Assembler
	Generator  *generation.Service
	Ledger     service.Ledger
	Tasks      repository.TaskRepository
	Records    repository.StageRecordRepository
	Outlines   repository.OutlineNodeRepository
	Novels     repository.NovelRepository
	Volumes    repository.VolumeRepository
	Chapters   repository.ChapterRepository
	Characters repository.CharacterRepository
	Worlds     repository.WorldEntryRepository
	Groups     repository.PromptGroupRepository
	Engine     *retrieval.Engine
	Indexer    *retrieval.Indexer
	Jobs       JobPublisher
	Config     *config.PipelineConfig
}

// TaskService 书籍生成任务编排服务。
// 负责任务生命周期（创建、执行、暂停、恢复、取消）和阶段状态机推进，
// 具体生成工作委托给各阶段执行器。
type TaskService struct {
	deps      Dependencies
	executors map[entity.StageType]StageExecutor
	stepwise  *StepwiseGenerator
	progress  *progressBoundary
}

// NewTaskService 创建任务服务并装配全部阶段执行器。
// 进度通知器因与消息生产者存在构造环，通过 SetNotifier 延迟注入。
func NewTaskService(deps Dependencies) *TaskService {
	progress := &progressBoundary{}
	batch := NewBatchGenerator(
		deps.Assembler, deps.Generator,
		deps.Novels, deps.Chapters, deps.Characters, deps.Worlds,
		deps.Engine, deps.Indexer, progress, deps.Config,
	)
	review := NewReviewExecutor(deps.Assembler, deps.Generator, deps.Chapters)

	executors := map[entity.StageType]StageExecutor{
		entity.StageIdea:  NewIdeaExecutor(deps.Assembler, deps.Generator),
		entity.StageTitle: NewTitleExecutor(deps.Assembler, deps.Generator, deps.Novels),
		entity.StageOutline: NewOutlineExecutor(
			deps.Assembler, deps.Generator,
			deps.Outlines, deps.Volumes, deps.Chapters, deps.Characters, deps.Worlds,
		),
		entity.StageContent: NewContentExecutor(batch),
		entity.StageReview:  review,
	}

	return &TaskService{
		deps:      deps,
		executors: executors,
		stepwise:  NewStepwiseGenerator(batch, review, deps.Chapters),
		progress:  progress,
	}
}

// SetNotifier 注入进度通知器
func (s *TaskService) SetNotifier(n service.ProgressNotifier) {
	s.progress.notifier = n
}

// CreateInput 创建任务的入参
type CreateInput struct {
	OwnerID string
	Config  *entity.TaskPromptConfig
	// GroupID 非空时按共享提示词组展开各阶段提示词，配置随之锁定
	GroupID     string
	AutoExecute bool
}

// CreateTask 创建生成任务。
// 前置校验：活跃任务数未超上限、余额满足最低门槛。
func (s *TaskService) CreateTask(ctx context.Context, in CreateInput) (*entity.Task, error) {
	active, err := s.deps.Tasks.CountActiveByOwner(ctx, in.OwnerID)
	if err != nil {
		return nil, err
	}
	if active >= int64(s.maxActiveTasks()) {
		return nil, apperrors.New(apperrors.CodeTaskLimitExceeded,
			fmt.Sprintf("active task limit reached (%d)", s.maxActiveTasks()))
	}

	ok, err := s.deps.Ledger.CheckBalance(ctx, in.OwnerID, s.minCreateBalance())
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, apperrors.New(apperrors.CodeInsufficientBalance,
			fmt.Sprintf("balance below minimum required to create a task (%d)", s.minCreateBalance()))
	}

	cfg := in.Config
	if cfg == nil {
		cfg = &entity.TaskPromptConfig{}
	}
	if in.GroupID != "" {
		if err := s.applyGroup(ctx, cfg, in.GroupID); err != nil {
			return nil, err
		}
	}

	task := entity.NewTask(in.OwnerID, cfg, in.AutoExecute)
	task.ID = uuid.NewString()
	if err := s.deps.Tasks.Create(ctx, task); err != nil {
		return nil, err
	}

	if in.AutoExecute {
		s.publishJob(ctx, task, true)
	}
	return task, nil
}

// applyGroup 按提示词组展开五个阶段的提示词并锁定配置
func (s *TaskService) applyGroup(ctx context.Context, cfg *entity.TaskPromptConfig, groupID string) error {
	group, err := s.deps.Groups.GetByID(ctx, groupID)
	if err != nil {
		return err
	}
	if group == nil {
		return apperrors.New(apperrors.CodeNotFound, "prompt group not found")
	}
	cfg.GroupID = group.ID
	cfg.Idea.PromptID = group.IdeaPromptID
	cfg.Title.PromptID = group.TitlePromptID
	cfg.Outline.PromptID = group.OutlinePromptID
	cfg.Content.PromptID = group.ContentPromptID
	cfg.Review.PromptID = group.ReviewPromptID
	return nil
}

// GetTask 获取任务（仅任务所有者可见）
func (s *TaskService) GetTask(ctx context.Context, taskID, callerID string) (*entity.Task, error) {
	return s.loadOwnedTask(ctx, taskID, callerID)
}

// ListTasks 获取用户任务列表
func (s *TaskService) ListTasks(ctx context.Context, ownerID string, filter *repository.TaskFilter, p repository.Pagination) (*repository.PagedResult[*entity.Task], error) {
	return s.deps.Tasks.ListByOwner(ctx, ownerID, filter, p)
}

// ListStageRecords 获取任务的阶段执行记录
func (s *TaskService) ListStageRecords(ctx context.Context, taskID, callerID string) ([]*entity.StageRecord, error) {
	if _, err := s.loadOwnedTask(ctx, taskID, callerID); err != nil {
		return nil, err
	}
	return s.deps.Records.ListByTask(ctx, taskID)
}

// GetOutlineTree 按父指针行重建任务的大纲树
func (s *TaskService) GetOutlineTree(ctx context.Context, taskID, callerID string) ([]*entity.OutlineTreeNode, error) {
	if _, err := s.loadOwnedTask(ctx, taskID, callerID); err != nil {
		return nil, err
	}
	nodes, err := s.deps.Outlines.ListByTask(ctx, taskID)
	if err != nil {
		return nil, err
	}
	return entity.BuildOutlineTree(nodes), nil
}

// ExecuteStage 执行任务的指定阶段。
// stage 为空表示执行当前阶段；请求的阶段必须与任务当前阶段一致，
// 不允许跳阶段或回退执行。
func (s *TaskService) ExecuteStage(ctx context.Context, taskID, callerID string, stage entity.StageType) (*entity.Task, error) {
	task, err := s.loadOwnedTask(ctx, taskID, callerID)
	if err != nil {
		return nil, err
	}
	// 失败任务允许重试当前阶段，终态任务不允许
	if task.Status.IsTerminal() {
		return nil, apperrors.New(apperrors.CodeConflict,
			fmt.Sprintf("task is %s and cannot execute stages", task.Status))
	}
	if stage == "" {
		stage = task.CurrentStage
	}
	if !stage.Valid() {
		return nil, apperrors.New(apperrors.CodeInvalidParam, fmt.Sprintf("unknown stage %q", stage))
	}
	if stage != task.CurrentStage {
		return nil, apperrors.New(apperrors.CodeStageOrderViolation,
			fmt.Sprintf("requested stage %s but task is at %s", stage, task.CurrentStage))
	}

	executor, ok := s.executors[stage]
	if !ok {
		return nil, apperrors.New(apperrors.CodeInvalidParam, fmt.Sprintf("no executor for stage %s", stage))
	}

	task.Status = stage.GeneratingStatus()
	if err := s.deps.Tasks.Update(ctx, task); err != nil {
		return nil, err
	}
	s.progress.stageStarted(ctx, task.ID, string(stage))

	record := entity.NewStageRecord(task.ID, stage, marshalOutput(task.PromptConfig.ForStage(stage)))
	record.Start()
	if cerr := s.deps.Records.Create(ctx, record); cerr != nil {
		logger.FromContext(ctx).Warn("failed to create stage record", "task_id", task.ID, "error", cerr)
	}

	result, execErr := executor.Execute(ctx, task)
	if execErr != nil {
		var consumed int64
		if result != nil {
			consumed = result.CharsConsumed
		}
		record.Fail(execErr.Error(), consumed)
		s.saveRecord(ctx, record)
		task.AddConsumedChars(float64(consumed))
		task.Status = entity.TaskStatusFailed
		if uerr := s.deps.Tasks.Update(ctx, task); uerr != nil {
			logger.FromContext(ctx).Error("failed to persist failed task", "error", uerr, "task_id", task.ID)
		}
		s.progress.stageFailed(ctx, task.ID, string(stage), execErr.Error())
		return task, execErr
	}

	record.Complete(result.Output, result.CharsConsumed)
	s.saveRecord(ctx, record)
	task.AddConsumedChars(float64(result.CharsConsumed))
	s.advance(ctx, task, stage)

	if err := s.deps.Tasks.Update(ctx, task); err != nil {
		return nil, err
	}
	s.progress.stageCompleted(ctx, task.ID, string(stage))
	if task.Status == entity.TaskStatusCompleted {
		s.progress.taskCompleted(ctx, task.ID)
	}
	return task, nil
}

// EnqueueStage 将阶段执行投递到消息队列异步处理。
// 只做前置校验，状态变更与执行由 job-worker 消费时完成。
func (s *TaskService) EnqueueStage(ctx context.Context, taskID, callerID string, stage entity.StageType) (*entity.Task, error) {
	task, err := s.loadOwnedTask(ctx, taskID, callerID)
	if err != nil {
		return nil, err
	}
	if task.Status.IsTerminal() {
		return nil, apperrors.New(apperrors.CodeConflict,
			fmt.Sprintf("task is %s and cannot execute stages", task.Status))
	}
	if stage == "" {
		stage = task.CurrentStage
	}
	if !stage.Valid() {
		return nil, apperrors.New(apperrors.CodeInvalidParam, fmt.Sprintf("unknown stage %q", stage))
	}
	if stage != task.CurrentStage {
		return nil, apperrors.New(apperrors.CodeStageOrderViolation,
			fmt.Sprintf("requested stage %s but task is at %s", stage, task.CurrentStage))
	}
	if s.deps.Jobs == nil {
		return nil, apperrors.New(apperrors.CodeServiceUnavailable, "async stage execution is not available")
	}

	job := &messaging.StageJobMessage{
		UserID: task.OwnerID,
		TaskID: task.ID,
		Stage:  string(stage),
	}
	if _, err := s.deps.Jobs.PublishStageJob(ctx, job); err != nil {
		return nil, apperrors.Wrap(err, apperrors.CodeServiceUnavailable, "failed to enqueue stage job")
	}
	return task, nil
}

// advance 根据完成的阶段推进状态机。
// 标题阶段完成后停在原地等待用户选定书名；审校是最后一个阶段。
func (s *TaskService) advance(_ context.Context, task *entity.Task, stage entity.StageType) {
	switch stage {
	case entity.StageTitle:
		task.Status = entity.TaskStatusWaitingNextStage
	case entity.StageReview:
		task.Status = entity.TaskStatusCompleted
	default:
		if next, ok := stage.Next(); ok {
			task.CurrentStage = next
		}
		task.Status = entity.TaskStatusWaitingNextStage
	}
}

// UpdateTitleAndSynopsis 用户选定书名与简介，任务由标题阶段推进到大纲阶段。
// 必须先有标题候选（即标题阶段至少成功执行过一次）。
func (s *TaskService) UpdateTitleAndSynopsis(ctx context.Context, taskID, callerID, title, synopsis string) (*entity.Task, error) {
	task, err := s.loadOwnedTask(ctx, taskID, callerID)
	if err != nil {
		return nil, err
	}
	if task.Status.IsTerminal() {
		return nil, apperrors.New(apperrors.CodeConflict,
			fmt.Sprintf("task is %s and cannot be modified", task.Status))
	}
	if len(task.Data().Titles) == 0 {
		return nil, apperrors.New(apperrors.CodeTitleNotSelected, "title candidates have not been generated yet")
	}
	if title == "" {
		return nil, apperrors.New(apperrors.CodeInvalidParam, "title is required")
	}

	data := task.Data()
	data.ChosenTitle = title
	if synopsis != "" {
		data.Synopsis = synopsis
	}

	if task.NovelID != "" {
		novel, nerr := s.deps.Novels.GetByID(ctx, task.NovelID)
		if nerr != nil {
			logger.FromContext(ctx).Warn("failed to load novel for rename", "novel_id", task.NovelID, "error", nerr)
		} else if novel != nil {
			novel.Title = title
			novel.Synopsis = data.Synopsis
			if uerr := s.deps.Novels.Update(ctx, novel); uerr != nil {
				logger.FromContext(ctx).Warn("failed to rename novel", "novel_id", novel.ID, "error", uerr)
			}
		}
	}

	if task.CurrentStage == entity.StageTitle {
		task.CurrentStage = entity.StageOutline
		task.Status = entity.TaskStatusWaitingNextStage
	}
	if err := s.deps.Tasks.Update(ctx, task); err != nil {
		return nil, err
	}
	return task, nil
}

// StepNextChapter 逐章模式：生成并审校下一个待处理章节后暂停。
// 全部章节完成时推进到审校阶段。
func (s *TaskService) StepNextChapter(ctx context.Context, taskID, callerID string) (*StepOutcome, error) {
	task, err := s.loadOwnedTask(ctx, taskID, callerID)
	if err != nil {
		return nil, err
	}
	if task.Status.IsTerminal() {
		return nil, apperrors.New(apperrors.CodeConflict,
			fmt.Sprintf("task is %s and cannot execute stages", task.Status))
	}
	if task.CurrentStage != entity.StageContent {
		return nil, apperrors.New(apperrors.CodeStageOrderViolation,
			fmt.Sprintf("stepwise generation requires content stage, task is at %s", task.CurrentStage))
	}

	task.Status = entity.TaskStatusContentGenerating
	if err := s.deps.Tasks.Update(ctx, task); err != nil {
		return nil, err
	}

	outcome, stepErr := s.stepwise.Step(ctx, task)
	if outcome != nil {
		task.AddConsumedChars(float64(outcome.CharsConsumed))
	}
	if stepErr != nil {
		task.Status = entity.TaskStatusFailed
		if uerr := s.deps.Tasks.Update(ctx, task); uerr != nil {
			logger.FromContext(ctx).Error("failed to persist failed task", "error", uerr, "task_id", task.ID)
		}
		return outcome, stepErr
	}

	if outcome.Done {
		if next, ok := entity.StageContent.Next(); ok {
			task.CurrentStage = next
		}
	}
	task.Status = entity.TaskStatusWaitingNextStage
	if err := s.deps.Tasks.Update(ctx, task); err != nil {
		return nil, err
	}
	return outcome, nil
}

// PauseTask 暂停任务
func (s *TaskService) PauseTask(ctx context.Context, taskID, callerID string) (*entity.Task, error) {
	task, err := s.loadOwnedTask(ctx, taskID, callerID)
	if err != nil {
		return nil, err
	}
	if task.Status.IsTerminal() || task.Status == entity.TaskStatusFailed {
		return nil, apperrors.New(apperrors.CodeConflict,
			fmt.Sprintf("task is %s and cannot be paused", task.Status))
	}
	task.Status = entity.TaskStatusPaused
	if err := s.deps.Tasks.Update(ctx, task); err != nil {
		return nil, err
	}
	return task, nil
}

// ResumeTask 恢复已暂停的任务并投递当前阶段的执行任务
func (s *TaskService) ResumeTask(ctx context.Context, taskID, callerID string) (*entity.Task, error) {
	task, err := s.loadOwnedTask(ctx, taskID, callerID)
	if err != nil {
		return nil, err
	}
	if task.Status != entity.TaskStatusPaused {
		return nil, apperrors.New(apperrors.CodeConflict,
			fmt.Sprintf("task is %s, only paused tasks can be resumed", task.Status))
	}
	task.Status = task.CurrentStage.GeneratingStatus()
	if err := s.deps.Tasks.Update(ctx, task); err != nil {
		return nil, err
	}
	s.publishJob(ctx, task, false)
	return task, nil
}

// CancelTask 取消任务。取消是软性的：任务与已生成的产物均保留。
// 已完成的任务不可取消。
func (s *TaskService) CancelTask(ctx context.Context, taskID, callerID string) (*entity.Task, error) {
	task, err := s.loadOwnedTask(ctx, taskID, callerID)
	if err != nil {
		return nil, err
	}
	if task.Status == entity.TaskStatusCompleted {
		return nil, apperrors.New(apperrors.CodeTaskNotCancellable, "completed task cannot be cancelled")
	}
	if task.Status == entity.TaskStatusCancelled {
		return task, nil
	}
	task.Status = entity.TaskStatusCancelled
	if err := s.deps.Tasks.Update(ctx, task); err != nil {
		return nil, err
	}
	return task, nil
}

// DeleteTask 软删除任务
func (s *TaskService) DeleteTask(ctx context.Context, taskID, callerID string) error {
	if _, err := s.loadOwnedTask(ctx, taskID, callerID); err != nil {
		return err
	}
	return s.deps.Tasks.SoftDelete(ctx, taskID)
}

// UpdatePromptConfig 更新任务的生成配置。
// 由提示词组展开的配置不可编辑；执行中的任务不可编辑。
func (s *TaskService) UpdatePromptConfig(ctx context.Context, taskID, callerID string, cfg *entity.TaskPromptConfig) (*entity.Task, error) {
	task, err := s.loadOwnedTask(ctx, taskID, callerID)
	if err != nil {
		return nil, err
	}
	if task.Status.IsTerminal() {
		return nil, apperrors.New(apperrors.CodeConflict,
			fmt.Sprintf("task is %s and cannot be modified", task.Status))
	}
	if task.Status == task.CurrentStage.GeneratingStatus() {
		return nil, apperrors.New(apperrors.CodeConflict, "task is generating, pause it before editing config")
	}
	if task.PromptConfig.FromGroup() {
		return nil, apperrors.New(apperrors.CodePromptConfigLocked, "config expanded from a prompt group cannot be edited")
	}
	if cfg == nil {
		return nil, apperrors.New(apperrors.CodeInvalidParam, "prompt config is required")
	}
	cfg.GroupID = ""
	task.PromptConfig = cfg
	if err := s.deps.Tasks.Update(ctx, task); err != nil {
		return nil, err
	}
	return task, nil
}

func (s *TaskService) loadOwnedTask(ctx context.Context, taskID, callerID string) (*entity.Task, error) {
	task, err := s.deps.Tasks.GetByID(ctx, taskID)
	if err != nil {
		return nil, err
	}
	if task == nil {
		return nil, apperrors.New(apperrors.CodeTaskNotFound, "task not found")
	}
	if task.OwnerID != callerID {
		return nil, apperrors.New(apperrors.CodePermissionDenied, "task belongs to another user")
	}
	return task, nil
}

func (s *TaskService) saveRecord(ctx context.Context, record *entity.StageRecord) {
	if err := s.deps.Records.Update(ctx, record); err != nil {
		logger.FromContext(ctx).Warn("failed to update stage record", "record_id", record.ID, "error", err)
	}
}

// publishJob 投递阶段执行消息，失败只记日志不阻断调用方
func (s *TaskService) publishJob(ctx context.Context, task *entity.Task, autoAdvance bool) {
	if s.deps.Jobs == nil {
		return
	}
	job := &messaging.StageJobMessage{
		UserID:      task.OwnerID,
		TaskID:      task.ID,
		Stage:       string(task.CurrentStage),
		AutoAdvance: autoAdvance,
	}
	if _, err := s.deps.Jobs.PublishStageJob(ctx, job); err != nil {
		logger.FromContext(ctx).Warn("failed to publish stage job", "task_id", task.ID, "error", err)
	}
}

func (s *TaskService) maxActiveTasks() int {
	if s.deps.Config != nil && s.deps.Config.MaxActiveTasksPerUser > 0 {
		return s.deps.Config.MaxActiveTasksPerUser
	}
	return defaultMaxActiveTasks
}

func (s *TaskService) minCreateBalance() int64 {
	if s.deps.Config != nil && s.deps.Config.MinCreateBalance > 0 {
		return s.deps.Config.MinCreateBalance
	}
	return defaultMinCreateBalance
}
