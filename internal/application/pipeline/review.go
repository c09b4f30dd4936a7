package pipeline

import (
	"context"
	"strings"

	"bookforge-api/internal/application/generation"
	"bookforge-api/internal/application/prompting"
	"bookforge-api/internal/domain/entity"
	"bookforge-api/internal/domain/repository"
	apperrors "bookforge-api/pkg/errors"
	"bookforge-api/pkg/logger"
)

// ReviewExecutor 审校阶段：严格按章节顺序逐章处理。
// 缺摘要先补摘要，再生成结构化审校报告；报告含中高危问题时立即调用优化。
// 任务配置关闭审校时整个阶段是空操作成功。
type ReviewExecutor struct {
	stageGen
	chapters repository.ChapterRepository
}

func NewReviewExecutor(assembler *prompting.Assembler, generator *generation.Service, chapters repository.ChapterRepository) *ReviewExecutor {
	return &ReviewExecutor{
		stageGen: stageGen{assembler: assembler, generator: generator},
		chapters: chapters,
	}
}

func (e *ReviewExecutor) Stage() entity.StageType {
	return entity.StageReview
}

func (e *ReviewExecutor) Execute(ctx context.Context, task *entity.Task) (*StageResult, error) {
	if !task.PromptConfig.ReviewEnabled {
		summary := &entity.ReviewSummary{}
		task.Data().ReviewSummary = summary
		return &StageResult{Output: marshalOutput(summary)}, nil
	}
	if task.NovelID == "" {
		return nil, apperrors.New(apperrors.CodeNovelNotFound, "task has no linked novel")
	}

	chapters, err := e.chapters.ListByNovel(ctx, task.NovelID)
	if err != nil {
		return nil, err
	}

	summary := &entity.ReviewSummary{}
	var (
		consumed   int64
		scoreSum   float64
		scoreCount int
	)

	for _, chapter := range chapters {
		if strings.TrimSpace(chapter.ContentText) == "" {
			continue
		}

		n, report, rerr := e.reviewChapter(ctx, task, chapter)
		consumed += n
		if rerr != nil {
			// 单章审校失败计入汇总，不中断后续章节
			logger.FromContext(ctx).Warn("chapter review failed", "chapter_id", chapter.ID, "error", rerr)
			continue
		}
		summary.Reviewed++
		scoreSum += report.Score
		scoreCount++

		if report.NeedsOptimization() {
			on, oerr := e.optimizeChapter(ctx, task, chapter, report)
			consumed += on
			if oerr != nil {
				logger.FromContext(ctx).Warn("chapter optimization failed", "chapter_id", chapter.ID, "error", oerr)
				continue
			}
			summary.Optimized++
		}
	}

	if scoreCount > 0 {
		summary.AverageScore = scoreSum / float64(scoreCount)
	}
	task.Data().ReviewSummary = summary

	return &StageResult{
		Output:        marshalOutput(summary),
		CharsConsumed: consumed,
	}, nil
}

func (e *ReviewExecutor) reviewChapter(ctx context.Context, task *entity.Task, chapter *entity.Chapter) (int64, *ReviewReport, error) {
	var consumed int64

	// 补摘要
	if strings.TrimSpace(chapter.Summary) == "" {
		n, err := e.summarizeChapter(ctx, task, chapter)
		consumed += n
		if err != nil {
			return consumed, nil, err
		}
	}

	result, err := e.run(ctx, task, entity.StageReview, "", map[string]string{
		"mode":            "review",
		"chapter_title":   chapter.Title,
		"chapter_content": chapter.ContentText,
		"chapter_summary": chapter.Summary,
	})
	if err != nil {
		return consumed, nil, err
	}
	consumed += consumedFrom(result)

	report, err := parseStageJSON[ReviewReport](result.Content)
	if err != nil {
		return consumed, nil, err
	}
	return consumed, report, nil
}

func (e *ReviewExecutor) summarizeChapter(ctx context.Context, task *entity.Task, chapter *entity.Chapter) (int64, error) {
	result, err := e.run(ctx, task, entity.StageReview, "", map[string]string{
		"mode":            "summarize",
		"chapter_title":   chapter.Title,
		"chapter_content": chapter.ContentText,
	})
	if err != nil {
		return 0, err
	}

	summary := strings.TrimSpace(result.Content)
	if summary == "" {
		return consumedFrom(result), apperrors.New(apperrors.CodeGenerationFailed, "summary generation produced empty output")
	}
	chapter.Summary = summary
	if err := e.chapters.Update(ctx, chapter); err != nil {
		return consumedFrom(result), err
	}
	return consumedFrom(result), nil
}

// optimizeChapter 以审校报告为上下文重写正文。
func (e *ReviewExecutor) optimizeChapter(ctx context.Context, task *entity.Task, chapter *entity.Chapter, report *ReviewReport) (int64, error) {
	result, err := e.run(ctx, task, entity.StageReview, "", map[string]string{
		"mode":            "optimize",
		"chapter_title":   chapter.Title,
		"chapter_content": chapter.ContentText,
		"review_report":   string(marshalOutput(report)),
	})
	if err != nil {
		return 0, err
	}

	content := strings.TrimSpace(result.Content)
	if content == "" {
		return consumedFrom(result), apperrors.New(apperrors.CodeGenerationFailed, "optimization produced empty content")
	}
	chapter.ContentText = content
	chapter.WordCount = len([]rune(content))
	chapter.Status = entity.ChapterStatusCompleted
	if err := e.chapters.Update(ctx, chapter); err != nil {
		return consumedFrom(result), err
	}
	return consumedFrom(result), nil
}
