// Package handler 提供 HTTP 请求处理器
package handler

import (
	"context"
	"io"

	"bookforge-api/internal/application/pipeline"
	"bookforge-api/internal/domain/entity"
	"bookforge-api/internal/interfaces/http/dto"
	"bookforge-api/internal/interfaces/http/middleware"
	"bookforge-api/pkg/errors"
	"bookforge-api/pkg/logger"

	"github.com/gin-gonic/gin"
)

// StreamHandler SSE 流式响应处理器
type StreamHandler struct {
	tasks *pipeline.TaskService
}

// NewStreamHandler 创建流式响应处理器
func NewStreamHandler(tasks *pipeline.TaskService) *StreamHandler {
	return &StreamHandler{tasks: tasks}
}

// ExecuteStageStream 流式执行任务阶段
// @Summary 流式执行任务阶段
// @Description 通过 SSE 推送创意或标题阶段的生成增量，结束帧携带消耗统计
// @Tags Tasks
// @Produce text/event-stream
// @Param tid path string true "任务 ID"
// @Param stage query string false "阶段，默认当前阶段"
// @Success 200 "SSE stream"
// @Failure 400 {object} dto.ErrorResponse
// @Failure 409 {object} dto.ErrorResponse
// @Router /v1/tasks/{tid}/stream [get]
func (h *StreamHandler) ExecuteStageStream(c *gin.Context) {
	userID := middleware.GetUserIDFromGin(c)
	taskID := dto.BindTaskID(c)
	stage := entity.StageType(c.Query("stage"))

	reqCtx := c.Request.Context()
	// 客户端断线不中止收尾：已产出内容照常计费与落库
	genCtx := context.WithoutCancel(reqCtx)

	frames := make(chan pipeline.StreamFrame, 16)
	done := make(chan error, 1)

	go func() {
		defer close(frames)
		done <- h.tasks.ExecuteStageStream(genCtx, taskID, userID, stage, func(f pipeline.StreamFrame) error {
			select {
			case frames <- f:
				return nil
			case <-reqCtx.Done():
				return reqCtx.Err()
			}
		})
	}()

	// 首帧之前失败走普通 JSON 错误，避免空的 SSE 响应
	first, ok := <-frames
	if !ok {
		err := <-done
		if err == nil {
			dto.InternalError(c, "stream produced no output")
			return
		}
		if errors.IsAppError(err) {
			dto.AppError(c, err)
			return
		}
		logger.Error(reqCtx, "failed to start stage stream", err)
		dto.InternalError(c, "failed to start stage stream")
		return
	}

	c.Header("Content-Type", "text/event-stream")
	c.Header("Cache-Control", "no-cache")
	c.Header("Connection", "keep-alive")
	c.Header("X-Accel-Buffering", "no")

	c.SSEvent(string(first.Type), first.Data)
	c.Writer.Flush()

	c.Stream(func(w io.Writer) bool {
		select {
		case f, ok := <-frames:
			if !ok {
				return false
			}
			c.SSEvent(string(f.Type), f.Data)
			return true
		case <-reqCtx.Done():
			return false
		}
	})

	if err := <-done; err != nil {
		// 错误已通过 error 帧送达客户端，这里只留服务端日志
		logger.Warn(genCtx, "stage stream finished with error", "task_id", taskID, "error", err)
	}
}
