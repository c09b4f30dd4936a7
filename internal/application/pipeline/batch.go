package pipeline

import (
	"context"
	"strconv"
	"strings"
	"sync"

	"golang.org/x/sync/errgroup"

	"bookforge-api/internal/application/generation"
	"bookforge-api/internal/application/prompting"
	"bookforge-api/internal/application/retrieval"
	"bookforge-api/internal/config"
	"bookforge-api/internal/domain/entity"
	"bookforge-api/internal/domain/repository"
	apperrors "bookforge-api/pkg/errors"
	"bookforge-api/pkg/logger"
)

// BatchGenerator 批量章节内容生成器。
// 按并发上限切块，块内并发、块间串行；单章失败只进失败清单，不中断批次。
type BatchGenerator struct {
	stageGen
	novels     repository.NovelRepository
	chapters   repository.ChapterRepository
	characters repository.CharacterRepository
	worlds     repository.WorldEntryRepository
	// engine 可选的语义召回，nil 表示跳过
	engine   *retrieval.Engine
	indexer  *retrieval.Indexer
	progress *progressBoundary
	cfg      *config.PipelineConfig
}

func NewBatchGenerator(
	assembler *prompting.Assembler,
	generator *generation.Service,
	novels repository.NovelRepository,
	chapters repository.ChapterRepository,
	characters repository.CharacterRepository,
	worlds repository.WorldEntryRepository,
	engine *retrieval.Engine,
	indexer *retrieval.Indexer,
	progress *progressBoundary,
	cfg *config.PipelineConfig,
) *BatchGenerator {
	return &BatchGenerator{
		stageGen:   stageGen{assembler: assembler, generator: generator},
		novels:     novels,
		chapters:   chapters,
		characters: characters,
		worlds:     worlds,
		engine:     engine,
		indexer:    indexer,
		progress:   progress,
		cfg:        cfg,
	}
}

// GenerateAll 生成书稿的全部章节。
func (b *BatchGenerator) GenerateAll(ctx context.Context, task *entity.Task) (*entity.BatchSummary, int64, error) {
	chapters, err := b.chapters.ListByNovel(ctx, task.NovelID)
	if err != nil {
		return nil, 0, err
	}
	return b.generate(ctx, task, chapters)
}

// GenerateChapters 生成指定章节。
func (b *BatchGenerator) GenerateChapters(ctx context.Context, task *entity.Task, chapterIDs []string) (*entity.BatchSummary, int64, error) {
	chapters := make([]*entity.Chapter, 0, len(chapterIDs))
	for _, id := range chapterIDs {
		ch, err := b.chapters.GetByID(ctx, id)
		if err != nil {
			return nil, 0, err
		}
		if ch == nil || ch.NovelID != task.NovelID {
			return nil, 0, apperrors.New(apperrors.CodeChapterNotFound, "chapter not found in task novel")
		}
		chapters = append(chapters, ch)
	}
	return b.generate(ctx, task, chapters)
}

func (b *BatchGenerator) generate(ctx context.Context, task *entity.Task, chapters []*entity.Chapter) (*entity.BatchSummary, int64, error) {
	// 内容提示词是硬性配置，在第一次调用前就失败
	if task.PromptConfig.ForStage(entity.StageContent).PromptID == "" {
		return nil, 0, apperrors.New(apperrors.CodeInvalidParam, "content stage prompt id is required")
	}

	summary := &entity.BatchSummary{Total: len(chapters)}
	if len(chapters) == 0 {
		return summary, 0, nil
	}

	limit := b.concurrency(task)
	var (
		mu       sync.Mutex
		consumed int64
		done     int
	)

	for start := 0; start < len(chapters); start += limit {
		end := start + limit
		if end > len(chapters) {
			end = len(chapters)
		}
		chunk := chapters[start:end]

		// 块内全部结清（成功或失败）后才进入下一块
		g, gctx := errgroup.WithContext(ctx)
		for _, ch := range chunk {
			ch := ch
			g.Go(func() error {
				n, err := b.generateChapter(gctx, task, ch)
				mu.Lock()
				defer mu.Unlock()
				consumed += n
				if err != nil {
					summary.Failed++
					summary.Failures = append(summary.Failures, entity.ChapterFailure{
						ChapterID: ch.ID,
						Error:     err.Error(),
					})
					return nil
				}
				summary.Succeeded++
				return nil
			})
		}
		_ = g.Wait()

		done += len(chunk)
		// 无论块内成败，进度照报
		b.progress.batchProgress(ctx, task.ID, done, summary.Total)
	}

	return summary, consumed, nil
}

func (b *BatchGenerator) concurrency(task *entity.Task) int {
	limit := task.PromptConfig.Concurrency
	if limit <= 0 {
		limit = b.cfg.DefaultConcurrency
	}
	if limit <= 0 {
		limit = 5
	}
	if b.cfg.MaxConcurrency > 0 && limit > b.cfg.MaxConcurrency {
		limit = b.cfg.MaxConcurrency
	}
	return limit
}

// generateChapter 生成单章正文并持久化，返回本章消耗。
func (b *BatchGenerator) generateChapter(ctx context.Context, task *entity.Task, chapter *entity.Chapter) (int64, error) {
	params, err := b.buildChapterParams(ctx, task, chapter)
	if err != nil {
		return 0, err
	}

	result, err := b.run(ctx, task, entity.StageContent, "", params)
	if err != nil {
		return 0, err
	}
	content := strings.TrimSpace(result.Content)
	if content == "" {
		return consumedFrom(result), apperrors.New(apperrors.CodeGenerationFailed, "chapter generation produced empty content")
	}

	oldWords := chapter.WordCount
	chapter.ContentText = content
	chapter.WordCount = len([]rune(content))
	chapter.Status = entity.ChapterStatusCompleted
	if err := b.chapters.Update(ctx, chapter); err != nil {
		return consumedFrom(result), err
	}

	if novel, nerr := b.novels.GetByID(ctx, task.NovelID); nerr == nil && novel != nil {
		novel.UpdateWordCount(chapter.WordCount - oldWords)
		if uerr := b.novels.Update(ctx, novel); uerr != nil {
			logger.FromContext(ctx).Warn("failed to update novel word count", "error", uerr)
		}
	}

	// 写向量索引是旁路副作用
	if b.indexer != nil && b.indexer.Enabled() {
		if ierr := b.indexer.IndexChapter(ctx, task.NovelID, chapter); ierr != nil {
			logger.FromContext(ctx).Warn("failed to index chapter segments", "chapter_id", chapter.ID, "error", ierr)
		}
	}

	return consumedFrom(result), nil
}

// buildChapterParams 组装单章生成上下文：角色、设定、置顶笔记、
// 同卷前文摘要，以及可选的语义召回片段。
func (b *BatchGenerator) buildChapterParams(ctx context.Context, task *entity.Task, chapter *entity.Chapter) (map[string]string, error) {
	params := map[string]string{
		"chapter_title":   chapter.Title,
		"chapter_outline": chapter.Outline,
		"chapter_seq":     strconv.Itoa(chapter.SeqNum),
	}

	novel, err := b.novels.GetByID(ctx, task.NovelID)
	if err != nil {
		return nil, err
	}
	if novel != nil {
		params["novel_title"] = novel.Title
		params["pinned_notes"] = novel.PinnedNotes
	}

	if chars, err := b.characters.ListByNovel(ctx, task.NovelID); err == nil {
		parts := make([]string, 0, len(chars))
		for _, c := range chars {
			parts = append(parts, c.Render())
		}
		params["characters"] = strings.Join(parts, "\n\n")
	}
	if entries, err := b.worlds.ListByNovel(ctx, task.NovelID); err == nil {
		parts := make([]string, 0, len(entries))
		for _, w := range entries {
			parts = append(parts, w.Render())
		}
		params["world_entries"] = strings.Join(parts, "\n\n")
	}

	if chapter.VolumeID != "" {
		earlier, err := b.chapters.ListEarlierInVolume(ctx, chapter.VolumeID, chapter.SeqNum)
		if err != nil {
			return nil, err
		}
		summaries := make([]string, 0, len(earlier))
		for _, ch := range earlier {
			if s := strings.TrimSpace(ch.Summary); s != "" {
				summaries = append(summaries, "第"+strconv.Itoa(ch.SeqNum)+"章："+s)
			}
		}
		params["previous_summaries"] = strings.Join(summaries, "\n")
	}

	if b.engine != nil && b.engine.Enabled() && strings.TrimSpace(chapter.Outline) != "" {
		out, serr := b.engine.Search(ctx, retrieval.SearchInput{
			NovelID:   task.NovelID,
			Query:     chapter.Outline,
			MaxSeqNum: int64(chapter.SeqNum),
			TopK:      10,
		})
		if serr == nil && out != nil && len(out.Segments) > 0 {
			params["related_context"] = retrieval.BuildPromptContext(out.Segments, 10, 400)
		}
	}

	return params, nil
}
