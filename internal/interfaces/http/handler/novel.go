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
)

// NovelHandler 小说处理器
type NovelHandler struct {
	novels   repository.NovelRepository
	volumes  repository.VolumeRepository
	chapters repository.ChapterRepository
}

// NewNovelHandler 创建小说处理器
func NewNovelHandler(
	novels repository.NovelRepository,
	volumes repository.VolumeRepository,
	chapters repository.ChapterRepository,
) *NovelHandler {
	return &NovelHandler{
		novels:   novels,
		volumes:  volumes,
		chapters: chapters,
	}
}

// ListNovels 获取小说列表
// @Summary 获取小说列表
// @Tags Novels
// @Produce json
// @Param page query int false "页码" default(1)
// @Param page_size query int false "每页条数" default(20)
// @Success 200 {object} dto.Response[dto.NovelListResponse]
// @Router /v1/novels [get]
func (h *NovelHandler) ListNovels(c *gin.Context) {
	ctx := c.Request.Context()
	userID := middleware.GetUserIDFromGin(c)
	pageReq := dto.BindPage(c)

	result, err := h.novels.ListByOwner(ctx, userID, repository.NewPagination(pageReq.Page, pageReq.PageSize))
	if err != nil {
		logger.Error(ctx, "failed to list novels", err)
		dto.InternalError(c, "failed to list novels")
		return
	}

	resp := dto.ToNovelListResponse(result.Items)
	meta := dto.NewPageMeta(pageReq.Page, pageReq.PageSize, int(result.Total))
	dto.SuccessWithPage(c, resp, meta)
}

// GetNovel 获取小说详情
// @Summary 获取小说详情
// @Tags Novels
// @Produce json
// @Param nid path string true "小说 ID"
// @Success 200 {object} dto.Response[dto.NovelResponse]
// @Failure 404 {object} dto.ErrorResponse
// @Router /v1/novels/{nid} [get]
func (h *NovelHandler) GetNovel(c *gin.Context) {
	novel, ok := h.loadOwnedNovel(c)
	if !ok {
		return
	}
	dto.Success(c, dto.ToNovelResponse(novel))
}

// ListVolumes 获取小说分卷列表
// @Summary 获取小说分卷列表
// @Tags Novels
// @Produce json
// @Param nid path string true "小说 ID"
// @Success 200 {object} dto.Response[dto.VolumeListResponse]
// @Failure 404 {object} dto.ErrorResponse
// @Router /v1/novels/{nid}/volumes [get]
func (h *NovelHandler) ListVolumes(c *gin.Context) {
	ctx := c.Request.Context()

	novel, ok := h.loadOwnedNovel(c)
	if !ok {
		return
	}

	volumes, err := h.volumes.ListByNovel(ctx, novel.ID)
	if err != nil {
		logger.Error(ctx, "failed to list volumes", err)
		dto.InternalError(c, "failed to list volumes")
		return
	}

	dto.Success(c, dto.ToVolumeListResponse(volumes))
}

// ListChapters 获取小说章节列表
// @Summary 获取小说章节列表
// @Description 列表不含正文，正文走章节详情接口
// @Tags Novels
// @Produce json
// @Param nid path string true "小说 ID"
// @Success 200 {object} dto.Response[dto.ChapterListResponse]
// @Failure 404 {object} dto.ErrorResponse
// @Router /v1/novels/{nid}/chapters [get]
func (h *NovelHandler) ListChapters(c *gin.Context) {
	ctx := c.Request.Context()

	novel, ok := h.loadOwnedNovel(c)
	if !ok {
		return
	}

	chapters, err := h.chapters.ListByNovel(ctx, novel.ID)
	if err != nil {
		logger.Error(ctx, "failed to list chapters", err)
		dto.InternalError(c, "failed to list chapters")
		return
	}

	dto.Success(c, dto.ToChapterListResponse(chapters))
}

// GetChapter 获取章节详情
// @Summary 获取章节详情
// @Tags Novels
// @Produce json
// @Param cid path string true "章节 ID"
// @Success 200 {object} dto.Response[dto.ChapterResponse]
// @Failure 404 {object} dto.ErrorResponse
// @Router /v1/chapters/{cid} [get]
func (h *NovelHandler) GetChapter(c *gin.Context) {
	ctx := c.Request.Context()
	userID := middleware.GetUserIDFromGin(c)

	chapter, err := h.chapters.GetByID(ctx, dto.BindChapterID(c))
	if err != nil {
		if errors.IsAppError(err) {
			dto.AppError(c, err)
			return
		}
		logger.Error(ctx, "failed to get chapter", err)
		dto.InternalError(c, "failed to get chapter")
		return
	}
	if chapter == nil {
		dto.NotFound(c, "chapter not found")
		return
	}

	// 归属校验走章节所在的小说
	novel, err := h.novels.GetByID(ctx, chapter.NovelID)
	if err != nil || novel == nil || novel.OwnerID != userID {
		dto.NotFound(c, "chapter not found")
		return
	}

	dto.Success(c, dto.ToChapterResponse(chapter))
}

// loadOwnedNovel 加载当前用户的小说，失败时已写出响应
func (h *NovelHandler) loadOwnedNovel(c *gin.Context) (*entity.Novel, bool) {
	ctx := c.Request.Context()
	userID := middleware.GetUserIDFromGin(c)

	novel, err := h.novels.GetByID(ctx, dto.BindNovelID(c))
	if err != nil {
		if errors.IsAppError(err) {
			dto.AppError(c, err)
			return nil, false
		}
		logger.Error(ctx, "failed to get novel", err)
		dto.InternalError(c, "failed to get novel")
		return nil, false
	}
	if novel == nil || novel.OwnerID != userID {
		dto.NotFound(c, "novel not found")
		return nil, false
	}
	return novel, true
}
