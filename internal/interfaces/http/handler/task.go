// Package handler 提供 HTTP 请求处理器
package handler

import (
	"context"

	"bookforge-api/internal/application/pipeline"
	"bookforge-api/internal/domain/entity"
	"bookforge-api/internal/domain/repository"
	"bookforge-api/internal/interfaces/http/dto"
	"bookforge-api/internal/interfaces/http/middleware"
	"bookforge-api/pkg/errors"
	"bookforge-api/pkg/logger"

	"github.com/gin-gonic/gin"
)

// TaskHandler 生成任务处理器
type TaskHandler struct {
	tasks *pipeline.TaskService
}

// NewTaskHandler 创建生成任务处理器
func NewTaskHandler(tasks *pipeline.TaskService) *TaskHandler {
	return &TaskHandler{tasks: tasks}
}

// CreateTask 创建生成任务
// @Summary 创建生成任务
// @Description 创建书籍生成任务，可选提示词组与自动执行
// @Tags Tasks
// @Accept json
// @Produce json
// @Param body body dto.CreateTaskRequest true "任务配置"
// @Success 201 {object} dto.Response[dto.TaskResponse]
// @Failure 400 {object} dto.ErrorResponse
// @Failure 409 {object} dto.ErrorResponse
// @Router /v1/tasks [post]
func (h *TaskHandler) CreateTask(c *gin.Context) {
	ctx := c.Request.Context()
	userID := middleware.GetUserIDFromGin(c)

	var req dto.CreateTaskRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		dto.BadRequest(c, "invalid request body: "+err.Error())
		return
	}

	task, err := h.tasks.CreateTask(ctx, req.ToCreateInput(userID))
	if err != nil {
		if errors.IsAppError(err) {
			dto.AppError(c, err)
			return
		}
		logger.Error(ctx, "failed to create task", err)
		dto.InternalError(c, "failed to create task")
		return
	}

	dto.Created(c, dto.ToTaskResponse(task))
}

// ListTasks 获取任务列表
// @Summary 获取任务列表
// @Description 获取当前用户的生成任务列表，支持按状态和阶段过滤
// @Tags Tasks
// @Produce json
// @Param page query int false "页码" default(1)
// @Param page_size query int false "每页条数" default(20)
// @Param status query string false "状态过滤"
// @Param stage query string false "阶段过滤"
// @Success 200 {object} dto.Response[dto.TaskListResponse]
// @Router /v1/tasks [get]
func (h *TaskHandler) ListTasks(c *gin.Context) {
	ctx := c.Request.Context()
	userID := middleware.GetUserIDFromGin(c)
	pageReq := dto.BindPage(c)

	filter := &repository.TaskFilter{
		Status: entity.TaskStatus(c.Query("status")),
		Stage:  entity.StageType(c.Query("stage")),
	}

	result, err := h.tasks.ListTasks(ctx, userID, filter, repository.NewPagination(pageReq.Page, pageReq.PageSize))
	if err != nil {
		logger.Error(ctx, "failed to list tasks", err)
		dto.InternalError(c, "failed to list tasks")
		return
	}

	resp := dto.ToTaskListResponse(result.Items)
	meta := dto.NewPageMeta(pageReq.Page, pageReq.PageSize, int(result.Total))
	dto.SuccessWithPage(c, resp, meta)
}

// GetTask 获取任务详情
// @Summary 获取任务详情
// @Tags Tasks
// @Produce json
// @Param tid path string true "任务 ID"
// @Success 200 {object} dto.Response[dto.TaskResponse]
// @Failure 404 {object} dto.ErrorResponse
// @Router /v1/tasks/{tid} [get]
func (h *TaskHandler) GetTask(c *gin.Context) {
	ctx := c.Request.Context()
	userID := middleware.GetUserIDFromGin(c)

	task, err := h.tasks.GetTask(ctx, dto.BindTaskID(c), userID)
	if err != nil {
		if errors.IsAppError(err) {
			dto.AppError(c, err)
			return
		}
		logger.Error(ctx, "failed to get task", err)
		dto.InternalError(c, "failed to get task")
		return
	}

	dto.Success(c, dto.ToTaskResponse(task))
}

// DeleteTask 删除任务
// @Summary 删除任务
// @Description 软删除任务，关联的生成记录保留审计
// @Tags Tasks
// @Param tid path string true "任务 ID"
// @Success 204 "No Content"
// @Failure 404 {object} dto.ErrorResponse
// @Router /v1/tasks/{tid} [delete]
func (h *TaskHandler) DeleteTask(c *gin.Context) {
	ctx := c.Request.Context()
	userID := middleware.GetUserIDFromGin(c)

	if err := h.tasks.DeleteTask(ctx, dto.BindTaskID(c), userID); err != nil {
		if errors.IsAppError(err) {
			dto.AppError(c, err)
			return
		}
		logger.Error(ctx, "failed to delete task", err)
		dto.InternalError(c, "failed to delete task")
		return
	}

	dto.NoContent(c)
}

// ExecuteStage 执行任务阶段
// @Summary 执行任务阶段
// @Description 同步执行指定阶段；async=true 时投递到队列异步执行并返回 202
// @Tags Tasks
// @Accept json
// @Produce json
// @Param tid path string true "任务 ID"
// @Param body body dto.ExecuteStageRequest false "阶段与执行方式"
// @Success 200 {object} dto.Response[dto.TaskResponse]
// @Success 202 {object} dto.Response[dto.TaskResponse]
// @Failure 409 {object} dto.ErrorResponse
// @Router /v1/tasks/{tid}/execute [post]
func (h *TaskHandler) ExecuteStage(c *gin.Context) {
	ctx := c.Request.Context()
	userID := middleware.GetUserIDFromGin(c)
	taskID := dto.BindTaskID(c)

	var req dto.ExecuteStageRequest
	if err := c.ShouldBindJSON(&req); err != nil && err.Error() != "EOF" {
		dto.BadRequest(c, "invalid request body: "+err.Error())
		return
	}
	stage := entity.StageType(req.Stage)

	if req.Async {
		task, err := h.tasks.EnqueueStage(ctx, taskID, userID, stage)
		if err != nil {
			if errors.IsAppError(err) {
				dto.AppError(c, err)
				return
			}
			logger.Error(ctx, "failed to enqueue stage", err)
			dto.InternalError(c, "failed to enqueue stage")
			return
		}
		dto.Accepted(c, dto.ToTaskResponse(task))
		return
	}

	task, err := h.tasks.ExecuteStage(ctx, taskID, userID, stage)
	if err != nil {
		if errors.IsAppError(err) {
			dto.AppError(c, err)
			return
		}
		logger.Error(ctx, "failed to execute stage", err)
		dto.InternalError(c, "failed to execute stage")
		return
	}

	dto.Success(c, dto.ToTaskResponse(task))
}

// SelectTitle 选定书名与简介
// @Summary 选定书名与简介
// @Description 从候选标题中选定书名，任务推进到大纲阶段
// @Tags Tasks
// @Accept json
// @Produce json
// @Param tid path string true "任务 ID"
// @Param body body dto.SelectTitleRequest true "书名与简介"
// @Success 200 {object} dto.Response[dto.TaskResponse]
// @Failure 409 {object} dto.ErrorResponse
// @Router /v1/tasks/{tid}/title [put]
func (h *TaskHandler) SelectTitle(c *gin.Context) {
	ctx := c.Request.Context()
	userID := middleware.GetUserIDFromGin(c)

	var req dto.SelectTitleRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		dto.BadRequest(c, "invalid request body: "+err.Error())
		return
	}

	task, err := h.tasks.UpdateTitleAndSynopsis(ctx, dto.BindTaskID(c), userID, req.Title, req.Synopsis)
	if err != nil {
		if errors.IsAppError(err) {
			dto.AppError(c, err)
			return
		}
		logger.Error(ctx, "failed to select title", err)
		dto.InternalError(c, "failed to select title")
		return
	}

	dto.Success(c, dto.ToTaskResponse(task))
}

// StepNextChapter 逐章推进
// @Summary 逐章推进
// @Description 生成下一章的正文、摘要并审校，然后暂停等待确认
// @Tags Tasks
// @Produce json
// @Param tid path string true "任务 ID"
// @Success 200 {object} dto.Response[pipeline.StepOutcome]
// @Failure 409 {object} dto.ErrorResponse
// @Router /v1/tasks/{tid}/step [post]
func (h *TaskHandler) StepNextChapter(c *gin.Context) {
	ctx := c.Request.Context()
	userID := middleware.GetUserIDFromGin(c)

	outcome, err := h.tasks.StepNextChapter(ctx, dto.BindTaskID(c), userID)
	if err != nil {
		if errors.IsAppError(err) {
			dto.AppError(c, err)
			return
		}
		logger.Error(ctx, "failed to step next chapter", err)
		dto.InternalError(c, "failed to step next chapter")
		return
	}

	dto.Success(c, outcome)
}

// PauseTask 暂停任务
// @Summary 暂停任务
// @Tags Tasks
// @Produce json
// @Param tid path string true "任务 ID"
// @Success 200 {object} dto.Response[dto.TaskResponse]
// @Failure 409 {object} dto.ErrorResponse
// @Router /v1/tasks/{tid}/pause [post]
func (h *TaskHandler) PauseTask(c *gin.Context) {
	h.transition(c, h.tasks.PauseTask, "failed to pause task")
}

// ResumeTask 恢复任务
// @Summary 恢复任务
// @Description 恢复暂停的任务并投递当前阶段的执行消息
// @Tags Tasks
// @Produce json
// @Param tid path string true "任务 ID"
// @Success 200 {object} dto.Response[dto.TaskResponse]
// @Failure 409 {object} dto.ErrorResponse
// @Router /v1/tasks/{tid}/resume [post]
func (h *TaskHandler) ResumeTask(c *gin.Context) {
	h.transition(c, h.tasks.ResumeTask, "failed to resume task")
}

// CancelTask 取消任务
// @Summary 取消任务
// @Tags Tasks
// @Produce json
// @Param tid path string true "任务 ID"
// @Success 200 {object} dto.Response[dto.TaskResponse]
// @Failure 409 {object} dto.ErrorResponse
// @Router /v1/tasks/{tid}/cancel [post]
func (h *TaskHandler) CancelTask(c *gin.Context) {
	h.transition(c, h.tasks.CancelTask, "failed to cancel task")
}

// UpdatePromptConfig 更新任务生成配置
// @Summary 更新任务生成配置
// @Description 任务运行中或配置来自提示词组时拒绝修改
// @Tags Tasks
// @Accept json
// @Produce json
// @Param tid path string true "任务 ID"
// @Param body body dto.UpdatePromptConfigRequest true "新配置"
// @Success 200 {object} dto.Response[dto.TaskResponse]
// @Failure 409 {object} dto.ErrorResponse
// @Router /v1/tasks/{tid}/config [put]
func (h *TaskHandler) UpdatePromptConfig(c *gin.Context) {
	ctx := c.Request.Context()
	userID := middleware.GetUserIDFromGin(c)

	var req dto.UpdatePromptConfigRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		dto.BadRequest(c, "invalid request body: "+err.Error())
		return
	}

	task, err := h.tasks.UpdatePromptConfig(ctx, dto.BindTaskID(c), userID, req.Config)
	if err != nil {
		if errors.IsAppError(err) {
			dto.AppError(c, err)
			return
		}
		logger.Error(ctx, "failed to update prompt config", err)
		dto.InternalError(c, "failed to update prompt config")
		return
	}

	dto.Success(c, dto.ToTaskResponse(task))
}

// ListStageRecords 获取阶段执行记录
// @Summary 获取阶段执行记录
// @Tags Tasks
// @Produce json
// @Param tid path string true "任务 ID"
// @Success 200 {object} dto.Response[dto.StageRecordListResponse]
// @Failure 404 {object} dto.ErrorResponse
// @Router /v1/tasks/{tid}/records [get]
func (h *TaskHandler) ListStageRecords(c *gin.Context) {
	ctx := c.Request.Context()
	userID := middleware.GetUserIDFromGin(c)

	records, err := h.tasks.ListStageRecords(ctx, dto.BindTaskID(c), userID)
	if err != nil {
		if errors.IsAppError(err) {
			dto.AppError(c, err)
			return
		}
		logger.Error(ctx, "failed to list stage records", err)
		dto.InternalError(c, "failed to list stage records")
		return
	}

	dto.Success(c, dto.ToStageRecordListResponse(records))
}

// GetOutlineTree 获取任务大纲树
// @Summary 获取任务大纲树
// @Tags Tasks
// @Produce json
// @Param tid path string true "任务 ID"
// @Success 200 {object} dto.Response[dto.OutlineTreeResponse]
// @Failure 404 {object} dto.ErrorResponse
// @Router /v1/tasks/{tid}/outline [get]
func (h *TaskHandler) GetOutlineTree(c *gin.Context) {
	ctx := c.Request.Context()
	userID := middleware.GetUserIDFromGin(c)

	roots, err := h.tasks.GetOutlineTree(ctx, dto.BindTaskID(c), userID)
	if err != nil {
		if errors.IsAppError(err) {
			dto.AppError(c, err)
			return
		}
		logger.Error(ctx, "failed to get outline tree", err)
		dto.InternalError(c, "failed to get outline tree")
		return
	}

	dto.Success(c, dto.ToOutlineTreeResponse(roots))
}

// transition 封装暂停/恢复/取消的公共流程
func (h *TaskHandler) transition(
	c *gin.Context,
	fn func(ctx context.Context, taskID, callerID string) (*entity.Task, error),
	errMsg string,
) {
	ctx := c.Request.Context()
	userID := middleware.GetUserIDFromGin(c)

	task, err := fn(ctx, dto.BindTaskID(c), userID)
	if err != nil {
		if errors.IsAppError(err) {
			dto.AppError(c, err)
			return
		}
		logger.Error(ctx, errMsg, err)
		dto.InternalError(c, errMsg)
		return
	}

	dto.Success(c, dto.ToTaskResponse(task))
}
