package pipeline

import (
	"context"
	"fmt"
	"strconv"
	"strings"

	"github.com/google/uuid"

	"bookforge-api/internal/application/generation"
	"bookforge-api/internal/application/prompting"
	"bookforge-api/internal/domain/entity"
	"bookforge-api/internal/domain/repository"
	apperrors "bookforge-api/pkg/errors"
	"bookforge-api/pkg/logger"
)

// OutlineExecutor 大纲阶段：三层扇出。
// 一次调用生成全书大纲，一次调用生成分卷，再按卷逐一生成章节；
// 每层落库 OutlineNode，二三层同步创建分卷/章节记录。
type OutlineExecutor struct {
	stageGen
	outlines   repository.OutlineNodeRepository
	volumes    repository.VolumeRepository
	chapters   repository.ChapterRepository
	characters repository.CharacterRepository
	worlds     repository.WorldEntryRepository
}

func NewOutlineExecutor(
	assembler *prompting.Assembler,
	generator *generation.Service,
	outlines repository.OutlineNodeRepository,
	volumes repository.VolumeRepository,
	chapters repository.ChapterRepository,
	characters repository.CharacterRepository,
	worlds repository.WorldEntryRepository,
) *OutlineExecutor {
	return &OutlineExecutor{
		stageGen:   stageGen{assembler: assembler, generator: generator},
		outlines:   outlines,
		volumes:    volumes,
		chapters:   chapters,
		characters: characters,
		worlds:     worlds,
	}
}

func (e *OutlineExecutor) Stage() entity.StageType {
	return entity.StageOutline
}

func (e *OutlineExecutor) Execute(ctx context.Context, task *entity.Task) (*StageResult, error) {
	if task.NovelID == "" {
		return nil, apperrors.New(apperrors.CodeNovelNotFound, "task has no linked novel")
	}

	// 重跑时清掉旧树和上一次生成的分卷章节，避免两棵树混在一起
	if err := e.outlines.DeleteByTask(ctx, task.ID); err != nil {
		return nil, fmt.Errorf("failed to clear previous outline: %w", err)
	}
	if err := e.chapters.DeleteByNovel(ctx, task.NovelID); err != nil {
		return nil, fmt.Errorf("failed to clear previous chapters: %w", err)
	}
	if err := e.volumes.DeleteByNovel(ctx, task.NovelID); err != nil {
		return nil, fmt.Errorf("failed to clear previous volumes: %w", err)
	}

	data := task.Data()
	baseParams := map[string]string{
		"title":    data.ChosenTitle,
		"synopsis": data.Synopsis,
	}

	var totalConsumed int64
	// 中途失败也要把已消耗字符数带回去，审计记录才能对上账本
	partial := func(err error) (*StageResult, error) {
		return &StageResult{CharsConsumed: totalConsumed}, err
	}

	// 第一层：全书大纲
	bookParams := withPhase(baseParams, "book")
	bookResult, err := e.run(ctx, task, entity.StageOutline, "", bookParams)
	if err != nil {
		return nil, err
	}
	totalConsumed += consumedFrom(bookResult)

	root := entity.NewOutlineNode(task.ID, task.NovelID, "", entity.OutlineLevelBook, 1, data.ChosenTitle, strings.TrimSpace(bookResult.Content))
	root.ID = uuid.NewString()
	if err := e.outlines.Create(ctx, root); err != nil {
		return partial(err)
	}

	// 第二层：分卷
	volParams := withPhase(baseParams, "volumes")
	volParams["book_outline"] = root.Content
	volResult, err := e.run(ctx, task, entity.StageOutline, "", volParams)
	if err != nil {
		return partial(err)
	}
	totalConsumed += consumedFrom(volResult)

	volPayload, err := parseStageJSON[volumesPayload](volResult.Content)
	if err != nil {
		return partial(err)
	}
	if len(volPayload.Volumes) == 0 {
		return partial(apperrors.New(apperrors.CodeStageOutputInvalid, "outline stage produced no volumes"))
	}

	// 第三层：按卷生成章节
	chapterSeq := 0
	chapterCount := 0
	var collected []chapterPayload
	for vi, vp := range volPayload.Volumes {
		volume := entity.NewVolume(task.NovelID, vi+1, strings.TrimSpace(vp.Title))
		volume.ID = uuid.NewString()
		volume.Summary = strings.TrimSpace(vp.Summary)
		if err := e.volumes.Create(ctx, volume); err != nil {
			return partial(err)
		}

		volNode := entity.NewOutlineNode(task.ID, task.NovelID, root.ID, entity.OutlineLevelVolume, vi+1, volume.Title, volume.Summary)
		volNode.ID = uuid.NewString()
		volNode.VolumeID = volume.ID
		if err := e.outlines.Create(ctx, volNode); err != nil {
			return partial(err)
		}

		chapParams := withPhase(baseParams, "chapters")
		chapParams["volume_title"] = volume.Title
		chapParams["volume_summary"] = volume.Summary
		chapParams["volume_seq"] = strconv.Itoa(vi + 1)
		chapResult, err := e.run(ctx, task, entity.StageOutline, "", chapParams)
		if err != nil {
			return partial(err)
		}
		totalConsumed += consumedFrom(chapResult)

		chapPayload, err := parseStageJSON[chaptersPayload](chapResult.Content)
		if err != nil {
			return partial(err)
		}

		for ci, cp := range chapPayload.Chapters {
			chapterSeq++
			chapter := entity.NewChapter(task.NovelID, volume.ID, chapterSeq)
			chapter.ID = uuid.NewString()
			chapter.Title = strings.TrimSpace(cp.Title)
			chapter.Outline = strings.TrimSpace(cp.Outline)
			if err := e.chapters.Create(ctx, chapter); err != nil {
				return partial(err)
			}

			chapNode := entity.NewOutlineNode(task.ID, task.NovelID, volNode.ID, entity.OutlineLevelChapter, ci+1, chapter.Title, chapter.Outline)
			chapNode.ID = uuid.NewString()
			chapNode.VolumeID = volume.ID
			chapNode.ChapterID = chapter.ID
			if err := e.outlines.Create(ctx, chapNode); err != nil {
				return partial(err)
			}

			chapterCount++
			collected = append(collected, cp)
		}
	}

	// 实体抽取是旁路副作用，失败只记日志
	e.extractEntities(ctx, task.NovelID, collected)

	summary := &entity.OutlineSummary{
		VolumeCount:  len(volPayload.Volumes),
		ChapterCount: chapterCount,
	}
	data.OutlineSummary = summary

	return &StageResult{
		Output:        marshalOutput(summary),
		CharsConsumed: totalConsumed,
	}, nil
}

func withPhase(base map[string]string, phase string) map[string]string {
	out := make(map[string]string, len(base)+1)
	for k, v := range base {
		out[k] = v
	}
	out["phase"] = phase
	return out
}

// extractEntities 扫描章节节点的结构化载荷，补建缺失的角色与世界观条目。
// 同一书稿内按名字去重；任何错误都不会让大纲阶段失败。
func (e *OutlineExecutor) extractEntities(ctx context.Context, novelID string, payloads []chapterPayload) {
	log := logger.FromContext(ctx)
	seenChars := make(map[string]bool)
	seenWorlds := make(map[string]bool)

	for _, cp := range payloads {
		for _, m := range cp.Characters {
			name := strings.TrimSpace(m.Name)
			if name == "" || seenChars[name] {
				continue
			}
			seenChars[name] = true

			existing, err := e.characters.GetByName(ctx, novelID, name)
			if err != nil {
				log.Warn("character extraction lookup failed", "name", name, "error", err)
				continue
			}
			if existing != nil {
				continue
			}
			ch := entity.NewCharacter(novelID, name, strings.TrimSpace(m.Description))
			ch.ID = uuid.NewString()
			if err := e.characters.Create(ctx, ch); err != nil {
				log.Warn("character extraction create failed", "name", name, "error", err)
			}
		}

		for _, m := range cp.WorldEntries {
			name := strings.TrimSpace(m.Name)
			if name == "" || seenWorlds[name] {
				continue
			}
			seenWorlds[name] = true

			existing, err := e.worlds.GetByName(ctx, novelID, name)
			if err != nil {
				log.Warn("world entry extraction lookup failed", "name", name, "error", err)
				continue
			}
			if existing != nil {
				continue
			}
			we := entity.NewWorldEntry(novelID, name, "", strings.TrimSpace(m.Description))
			we.ID = uuid.NewString()
			if err := e.worlds.Create(ctx, we); err != nil {
				log.Warn("world entry extraction create failed", "name", name, "error", err)
			}
		}
	}
}
