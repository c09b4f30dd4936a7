package pipeline

import (
	"context"
	"strings"

	"bookforge-api/internal/domain/entity"
	"bookforge-api/internal/domain/repository"
	apperrors "bookforge-api/pkg/errors"
	"bookforge-api/pkg/logger"
)

// StepOutcome 单步生成的结果：本次处理的章节、审校报告与下一待处理章节。
// NextChapterID 为空表示全书章节均已完成。
type StepOutcome struct {
	ChapterID     string        `json:"chapter_id"`
	ChapterTitle  string        `json:"chapter_title"`
	ChapterSeq    int           `json:"chapter_seq"`
	Report        *ReviewReport `json:"report,omitempty"`
	NextChapterID string        `json:"next_chapter_id,omitempty"`
	Done          bool          `json:"done"`
	CharsConsumed int64         `json:"chars_consumed"`
}

// StepwiseGenerator 逐章生成器：一次只推进一章，依次完成正文生成、
// 摘要生成、AI 审校三个阶段后暂停，等待用户确认后再继续下一章。
// 游标记录在任务数据中，中断后可从上次位置恢复。
type StepwiseGenerator struct {
	batch    *BatchGenerator
	review   *ReviewExecutor
	chapters repository.ChapterRepository
}

func NewStepwiseGenerator(batch *BatchGenerator, review *ReviewExecutor, chapters repository.ChapterRepository) *StepwiseGenerator {
	return &StepwiseGenerator{batch: batch, review: review, chapters: chapters}
}

// Step 处理下一个待生成章节。调用方负责持久化任务（游标与消耗）。
func (s *StepwiseGenerator) Step(ctx context.Context, task *entity.Task) (*StepOutcome, error) {
	if task.NovelID == "" {
		return nil, apperrors.New(apperrors.CodeNovelNotFound, "task has no linked novel")
	}
	if task.PromptConfig == nil || task.PromptConfig.Content.PromptID == "" {
		return nil, apperrors.New(apperrors.CodeInvalidParam, "content stage prompt id is required")
	}

	chapter, err := s.nextChapter(ctx, task)
	if err != nil {
		return nil, err
	}
	if chapter == nil {
		return &StepOutcome{Done: true}, nil
	}

	outcome := &StepOutcome{
		ChapterID:    chapter.ID,
		ChapterTitle: chapter.Title,
		ChapterSeq:   chapter.SeqNum,
	}

	// 阶段一：正文
	if strings.TrimSpace(chapter.ContentText) == "" || chapter.Status != entity.ChapterStatusCompleted {
		n, gerr := s.batch.generateChapter(ctx, task, chapter)
		outcome.CharsConsumed += n
		if gerr != nil {
			return outcome, gerr
		}
	}

	// 阶段二、三：摘要与审校
	n, report, rerr := s.review.reviewChapter(ctx, task, chapter)
	outcome.CharsConsumed += n
	if rerr != nil {
		// 审校失败不回滚正文，报告缺失交由用户决定是否重试
		logger.FromContext(ctx).Warn("stepwise review failed", "chapter_id", chapter.ID, "error", rerr)
	} else {
		outcome.Report = report
	}

	// 阶段四：落游标并暂停，等待用户确认
	next, nerr := s.chapters.GetFirstPending(ctx, task.NovelID)
	if nerr != nil {
		logger.FromContext(ctx).Warn("lookup next pending chapter failed", "novel_id", task.NovelID, "error", nerr)
	}
	cursor := &entity.StepCursor{
		LastChapterID:  chapter.ID,
		LastChapterSeq: chapter.SeqNum,
	}
	if next != nil {
		cursor.NextChapterID = next.ID
		outcome.NextChapterID = next.ID
	} else if nerr == nil {
		outcome.Done = true
	}
	task.Data().StepCursor = cursor

	return outcome, nil
}

// nextChapter 按游标定位本次要处理的章节，游标失效时回退到首个未完成章节。
func (s *StepwiseGenerator) nextChapter(ctx context.Context, task *entity.Task) (*entity.Chapter, error) {
	if cursor := task.Data().StepCursor; cursor != nil && cursor.NextChapterID != "" {
		chapter, err := s.chapters.GetByID(ctx, cursor.NextChapterID)
		if err != nil {
			return nil, err
		}
		if chapter != nil && chapter.NovelID == task.NovelID {
			return chapter, nil
		}
		logger.FromContext(ctx).Warn("step cursor points to missing chapter, falling back",
			"task_id", task.ID, "chapter_id", cursor.NextChapterID)
	}
	return s.chapters.GetFirstPending(ctx, task.NovelID)
}
