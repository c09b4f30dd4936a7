// Package router 提供 HTTP 路由配置
package router

import (
	"bookforge-api/internal/interfaces/http/handler"

	"github.com/gin-gonic/gin"
)

// RegisterV1Routes 注册 v1 版本路由
func RegisterV1Routes(
	v1 *gin.RouterGroup,
	taskHandler *handler.TaskHandler,
	streamHandler *handler.StreamHandler,
	novelHandler *handler.NovelHandler,
	promptHandler *handler.PromptHandler,
	userHandler *handler.UserHandler,
) {
	// 生成任务
	tasks := v1.Group("/tasks")
	{
		tasks.GET("", taskHandler.ListTasks)
		tasks.POST("", taskHandler.CreateTask)
		tasks.GET("/:tid", taskHandler.GetTask)
		tasks.DELETE("/:tid", taskHandler.DeleteTask)

		// 阶段执行
		tasks.POST("/:tid/execute", taskHandler.ExecuteStage)
		tasks.GET("/:tid/stream", streamHandler.ExecuteStageStream) // SSE
		tasks.POST("/:tid/step", taskHandler.StepNextChapter)

		// 状态流转
		tasks.POST("/:tid/pause", taskHandler.PauseTask)
		tasks.POST("/:tid/resume", taskHandler.ResumeTask)
		tasks.POST("/:tid/cancel", taskHandler.CancelTask)

		// 配置与产物
		tasks.PUT("/:tid/title", taskHandler.SelectTitle)
		tasks.PUT("/:tid/config", taskHandler.UpdatePromptConfig)
		tasks.GET("/:tid/records", taskHandler.ListStageRecords)
		tasks.GET("/:tid/outline", taskHandler.GetOutlineTree)
	}

	// 小说浏览
	novels := v1.Group("/novels")
	{
		novels.GET("", novelHandler.ListNovels)
		novels.GET("/:nid", novelHandler.GetNovel)
		novels.GET("/:nid/volumes", novelHandler.ListVolumes)
		novels.GET("/:nid/chapters", novelHandler.ListChapters)
	}

	// 章节详情
	chapters := v1.Group("/chapters")
	{
		chapters.GET("/:cid", novelHandler.GetChapter)
	}

	// 提示词管理
	prompts := v1.Group("/prompts")
	{
		prompts.GET("", promptHandler.ListPrompts)
		prompts.POST("", promptHandler.CreatePrompt)
		prompts.GET("/:pid", promptHandler.GetPrompt)
	}

	// 提示词组
	groups := v1.Group("/prompt-groups")
	{
		groups.POST("", promptHandler.CreateGroup)
		groups.GET("/:gid", promptHandler.GetGroup)
	}

	// 用户
	users := v1.Group("/users")
	{
		users.GET("/me", userHandler.GetMe)
		users.GET("/me/usage", userHandler.ListUsage)
	}
}
