// Package entity 定义领域实体
package entity

import (
	"math"
	"time"
)

// StageType 生成阶段类型
type StageType string

const (
	StageIdea    StageType = "idea"
	StageTitle   StageType = "title"
	StageOutline StageType = "outline"
	StageContent StageType = "content"
	StageReview  StageType = "review"
)

// StageOrder 阶段的固定执行顺序
var StageOrder = []StageType{StageIdea, StageTitle, StageOutline, StageContent, StageReview}

// Index 返回阶段在执行顺序中的位置，未知阶段返回 -1
func (s StageType) Index() int {
	for i, st := range StageOrder {
		if st == s {
			return i
		}
	}
	return -1
}

// Next 返回下一个阶段；Review 之后没有下一阶段
func (s StageType) Next() (StageType, bool) {
	idx := s.Index()
	if idx < 0 || idx >= len(StageOrder)-1 {
		return "", false
	}
	return StageOrder[idx+1], true
}

// Valid 检查阶段类型是否合法
func (s StageType) Valid() bool {
	return s.Index() >= 0
}

// TaskStatus 任务状态
type TaskStatus string

const (
	TaskStatusIdeaGenerating    TaskStatus = "idea_generating"
	TaskStatusTitleGenerating   TaskStatus = "title_generating"
	TaskStatusOutlineGenerating TaskStatus = "outline_generating"
	TaskStatusContentGenerating TaskStatus = "content_generating"
	TaskStatusReviewOptimizing  TaskStatus = "review_optimizing"
	TaskStatusWaitingNextStage  TaskStatus = "waiting_next_stage"
	TaskStatusPaused            TaskStatus = "paused"
	TaskStatusCompleted         TaskStatus = "completed"
	TaskStatusFailed            TaskStatus = "failed"
	TaskStatusCancelled         TaskStatus = "cancelled"
)

// GeneratingStatus 返回阶段对应的"执行中"状态
func (s StageType) GeneratingStatus() TaskStatus {
	switch s {
	case StageIdea:
		return TaskStatusIdeaGenerating
	case StageTitle:
		return TaskStatusTitleGenerating
	case StageOutline:
		return TaskStatusOutlineGenerating
	case StageContent:
		return TaskStatusContentGenerating
	case StageReview:
		return TaskStatusReviewOptimizing
	default:
		return TaskStatusPaused
	}
}

// ActiveTaskStatuses 计入单用户并发上限的状态集合
var ActiveTaskStatuses = []TaskStatus{
	TaskStatusIdeaGenerating,
	TaskStatusTitleGenerating,
	TaskStatusOutlineGenerating,
	TaskStatusContentGenerating,
	TaskStatusReviewOptimizing,
	TaskStatusWaitingNextStage,
	TaskStatusPaused,
}

// IsTerminal 检查任务是否处于终态
func (s TaskStatus) IsTerminal() bool {
	return s == TaskStatusCompleted || s == TaskStatusCancelled
}

// StagePromptConfig 单阶段的生成配置
type StagePromptConfig struct {
	PromptID    string   `json:"prompt_id,omitempty"`
	Provider    string   `json:"provider,omitempty"`
	Model       string   `json:"model,omitempty"`
	Temperature *float32 `json:"temperature,omitempty"`
}

// TaskPromptConfig 任务的全部阶段生成配置
type TaskPromptConfig struct {
	// GroupID 非空表示配置由共享提示词组展开，不可再编辑
	GroupID       string            `json:"group_id,omitempty"`
	Idea          StagePromptConfig `json:"idea"`
	Title         StagePromptConfig `json:"title"`
	Outline       StagePromptConfig `json:"outline"`
	Content       StagePromptConfig `json:"content"`
	Review        StagePromptConfig `json:"review"`
	Concurrency   int               `json:"concurrency,omitempty"`
	ReviewEnabled bool              `json:"review_enabled"`
	// Params 自由参数，进入提示词宏替换
	Params map[string]string `json:"params,omitempty"`
}

// ForStage 返回指定阶段的配置
func (c *TaskPromptConfig) ForStage(stage StageType) StagePromptConfig {
	switch stage {
	case StageIdea:
		return c.Idea
	case StageTitle:
		return c.Title
	case StageOutline:
		return c.Outline
	case StageContent:
		return c.Content
	case StageReview:
		return c.Review
	default:
		return StagePromptConfig{}
	}
}

// FromGroup 检查配置是否来自共享提示词组
func (c *TaskPromptConfig) FromGroup() bool {
	return c != nil && c.GroupID != ""
}

// ChapterFailure 批量生成中单章失败记录
type ChapterFailure struct {
	ChapterID string `json:"chapter_id"`
	Error     string `json:"error"`
}

// BatchSummary 批量内容生成结果摘要
type BatchSummary struct {
	Total     int              `json:"total"`
	Succeeded int              `json:"succeeded"`
	Failed    int              `json:"failed"`
	Failures  []ChapterFailure `json:"failures,omitempty"`
}

// OutlineSummary 大纲阶段结果摘要
type OutlineSummary struct {
	VolumeCount  int `json:"volume_count"`
	ChapterCount int `json:"chapter_count"`
}

// ReviewSummary 审校阶段结果摘要
type ReviewSummary struct {
	Reviewed     int     `json:"reviewed"`
	Optimized    int     `json:"optimized"`
	AverageScore float64 `json:"average_score"`
}

// StepCursor 分步生成的游标
type StepCursor struct {
	LastChapterID  string `json:"last_chapter_id,omitempty"`
	LastChapterSeq int    `json:"last_chapter_seq,omitempty"`
	NextChapterID  string `json:"next_chapter_id,omitempty"`
}

// ProcessedData 各阶段产物的类型化集合。
// Extra 为前向兼容的扩展字段，已知产物一律走具名字段。
type ProcessedData struct {
	Brainstorm     string          `json:"brainstorm,omitempty"`
	Titles         []string        `json:"titles,omitempty"`
	Synopsis       string          `json:"synopsis,omitempty"`
	ChosenTitle    string          `json:"chosen_title,omitempty"`
	OutlineSummary *OutlineSummary `json:"outline_summary,omitempty"`
	ContentSummary *BatchSummary   `json:"content_summary,omitempty"`
	ReviewSummary  *ReviewSummary  `json:"review_summary,omitempty"`
	StepCursor     *StepCursor     `json:"step_cursor,omitempty"`
	Extra          map[string]any  `json:"extra,omitempty"`
}

// Task 书籍生成任务实体
type Task struct {
	ID                 string            `json:"id" gorm:"type:uuid;primaryKey"`
	OwnerID            string            `json:"owner_id" gorm:"type:uuid;index;not null"`
	NovelID            string            `json:"novel_id,omitempty" gorm:"type:uuid;index"`
	Status             TaskStatus        `json:"status" gorm:"type:varchar(50);index;not null"`
	CurrentStage       StageType         `json:"current_stage" gorm:"type:varchar(20);not null"`
	PromptConfig       *TaskPromptConfig `json:"prompt_config,omitempty" gorm:"type:jsonb;serializer:json"`
	ProcessedData      *ProcessedData    `json:"processed_data,omitempty" gorm:"type:jsonb;serializer:json"`
	TotalCharsConsumed int64             `json:"total_chars_consumed" gorm:"default:0"`
	CreatedAt          time.Time         `json:"created_at" gorm:"autoCreateTime"`
	UpdatedAt          time.Time         `json:"updated_at" gorm:"autoUpdateTime"`
	DeletedAt          *time.Time        `json:"deleted_at,omitempty" gorm:"index"`
}

// TableName 指定表名
func (Task) TableName() string {
	return "tasks"
}

// NewTask 创建新任务
func NewTask(ownerID string, cfg *TaskPromptConfig, autoExecute bool) *Task {
	now := time.Now()
	status := TaskStatusPaused
	if autoExecute {
		status = TaskStatusIdeaGenerating
	}
	if cfg == nil {
		cfg = &TaskPromptConfig{}
	}
	return &Task{
		OwnerID:       ownerID,
		Status:        status,
		CurrentStage:  StageIdea,
		PromptConfig:  cfg,
		ProcessedData: &ProcessedData{},
		CreatedAt:     now,
		UpdatedAt:     now,
	}
}

// Data 返回非空的 ProcessedData
func (t *Task) Data() *ProcessedData {
	if t.ProcessedData == nil {
		t.ProcessedData = &ProcessedData{}
	}
	return t.ProcessedData
}

// AddConsumedChars 累加消耗字符数。
// 来自模型响应的数值不可信：NaN/Inf/负数一律按 0 处理，保证累计值单调不减。
func (t *Task) AddConsumedChars(n float64) {
	if math.IsNaN(n) || math.IsInf(n, 0) || n < 0 {
		return
	}
	t.TotalCharsConsumed += int64(n)
	t.UpdatedAt = time.Now()
}

// IsActive 检查任务是否计入并发上限
func (t *Task) IsActive() bool {
	for _, s := range ActiveTaskStatuses {
		if t.Status == s {
			return true
		}
	}
	return false
}
