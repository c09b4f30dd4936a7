// Package handler 提供 HTTP 请求处理器
package handler

import (
	"bookforge-api/internal/domain/entity"
	"bookforge-api/internal/domain/repository"
	"bookforge-api/internal/interfaces/http/dto"
	"bookforge-api/internal/interfaces/http/middleware"
	"bookforge-api/pkg/errors"
	"bookforge-api/pkg/logger"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
)

// PromptHandler 提示词处理器
type PromptHandler struct {
	prompts repository.PromptRepository
	groups  repository.PromptGroupRepository
}

// NewPromptHandler 创建提示词处理器
func NewPromptHandler(prompts repository.PromptRepository, groups repository.PromptGroupRepository) *PromptHandler {
	return &PromptHandler{prompts: prompts, groups: groups}
}

// ListPrompts 获取提示词列表
// @Summary 获取提示词列表
// @Description 获取当前用户创建的提示词
// @Tags Prompts
// @Produce json
// @Param page query int false "页码" default(1)
// @Param page_size query int false "每页条数" default(20)
// @Success 200 {object} dto.Response[dto.PromptListResponse]
// @Router /v1/prompts [get]
func (h *PromptHandler) ListPrompts(c *gin.Context) {
	ctx := c.Request.Context()
	userID := middleware.GetUserIDFromGin(c)
	pageReq := dto.BindPage(c)

	result, err := h.prompts.ListByAuthor(ctx, userID, repository.NewPagination(pageReq.Page, pageReq.PageSize))
	if err != nil {
		logger.Error(ctx, "failed to list prompts", err)
		dto.InternalError(c, "failed to list prompts")
		return
	}

	resp := dto.ToPromptListResponse(result.Items)
	meta := dto.NewPageMeta(pageReq.Page, pageReq.PageSize, int(result.Total))
	dto.SuccessWithPage(c, resp, meta)
}

// CreatePrompt 创建提示词
// @Summary 创建提示词
// @Tags Prompts
// @Accept json
// @Produce json
// @Param body body dto.CreatePromptRequest true "提示词内容"
// @Success 201 {object} dto.Response[dto.PromptResponse]
// @Failure 400 {object} dto.ErrorResponse
// @Router /v1/prompts [post]
func (h *PromptHandler) CreatePrompt(c *gin.Context) {
	ctx := c.Request.Context()
	userID := middleware.GetUserIDFromGin(c)

	var req dto.CreatePromptRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		dto.BadRequest(c, "invalid request body: "+err.Error())
		return
	}

	prompt := req.ToPromptEntity(userID)
	prompt.ID = uuid.NewString()
	for i := range prompt.Blocks {
		prompt.Blocks[i].ID = uuid.NewString()
		prompt.Blocks[i].PromptID = prompt.ID
	}

	if err := h.prompts.Create(ctx, prompt); err != nil {
		logger.Error(ctx, "failed to create prompt", err)
		dto.InternalError(c, "failed to create prompt")
		return
	}

	dto.Created(c, dto.ToPromptResponse(prompt))
}

// GetPrompt 获取提示词详情
// @Summary 获取提示词详情
// @Description 作者可见自己的提示词；他人只能看到审核通过的公开提示词
// @Tags Prompts
// @Produce json
// @Param pid path string true "提示词 ID"
// @Success 200 {object} dto.Response[dto.PromptResponse]
// @Failure 404 {object} dto.ErrorResponse
// @Router /v1/prompts/{pid} [get]
func (h *PromptHandler) GetPrompt(c *gin.Context) {
	ctx := c.Request.Context()
	userID := middleware.GetUserIDFromGin(c)

	prompt, err := h.prompts.GetByID(ctx, dto.BindPromptID(c))
	if err != nil {
		if errors.IsAppError(err) {
			dto.AppError(c, err)
			return
		}
		logger.Error(ctx, "failed to get prompt", err)
		dto.InternalError(c, "failed to get prompt")
		return
	}
	if prompt == nil {
		dto.NotFound(c, "prompt not found")
		return
	}

	if prompt.AuthorID != userID {
		visible := prompt.Visibility == entity.PromptVisibilityPublic &&
			prompt.Moderation == entity.PromptModerationNormal
		if !visible {
			granted, gerr := h.prompts.HasGrant(ctx, prompt.ID, userID)
			if gerr != nil || !granted {
				dto.NotFound(c, "prompt not found")
				return
			}
		}
	}

	dto.Success(c, dto.ToPromptResponse(prompt))
}

// CreateGroup 创建提示词组
// @Summary 创建提示词组
// @Description 每个阶段绑定一个提示词，任务可整组引用
// @Tags Prompts
// @Accept json
// @Produce json
// @Param body body dto.CreatePromptGroupRequest true "提示词组"
// @Success 201 {object} dto.Response[dto.PromptGroupResponse]
// @Failure 400 {object} dto.ErrorResponse
// @Router /v1/prompt-groups [post]
func (h *PromptHandler) CreateGroup(c *gin.Context) {
	ctx := c.Request.Context()
	userID := middleware.GetUserIDFromGin(c)

	var req dto.CreatePromptGroupRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		dto.BadRequest(c, "invalid request body: "+err.Error())
		return
	}

	group := req.ToGroupEntity(userID)
	group.ID = uuid.NewString()

	if err := h.groups.Create(ctx, group); err != nil {
		logger.Error(ctx, "failed to create prompt group", err)
		dto.InternalError(c, "failed to create prompt group")
		return
	}

	dto.Created(c, dto.ToPromptGroupResponse(group))
}

// GetGroup 获取提示词组详情
// @Summary 获取提示词组详情
// @Tags Prompts
// @Produce json
// @Param gid path string true "提示词组 ID"
// @Success 200 {object} dto.Response[dto.PromptGroupResponse]
// @Failure 404 {object} dto.ErrorResponse
// @Router /v1/prompt-groups/{gid} [get]
func (h *PromptHandler) GetGroup(c *gin.Context) {
	ctx := c.Request.Context()

	group, err := h.groups.GetByID(ctx, dto.BindGroupID(c))
	if err != nil {
		if errors.IsAppError(err) {
			dto.AppError(c, err)
			return
		}
		logger.Error(ctx, "failed to get prompt group", err)
		dto.InternalError(c, "failed to get prompt group")
		return
	}
	if group == nil {
		dto.NotFound(c, "prompt group not found")
		return
	}

	dto.Success(c, dto.ToPromptGroupResponse(group))
}
