package pipeline

import (
	"context"
	"strings"

	"github.com/google/uuid"

	"bookforge-api/internal/application/generation"
	"bookforge-api/internal/application/prompting"
	"bookforge-api/internal/domain/entity"
	"bookforge-api/internal/domain/repository"
	apperrors "bookforge-api/pkg/errors"
)

// TitleExecutor 标题阶段：生成候选标题与简介，并在首次成功时创建书稿。
// 此阶段完成后不自动推进，需调用方先确认标题。
type TitleExecutor struct {
	stageGen
	novels repository.NovelRepository
}

func NewTitleExecutor(assembler *prompting.Assembler, generator *generation.Service, novels repository.NovelRepository) *TitleExecutor {
	return &TitleExecutor{
		stageGen: stageGen{assembler: assembler, generator: generator},
		novels:   novels,
	}
}

func (e *TitleExecutor) Stage() entity.StageType {
	return entity.StageTitle
}

func (e *TitleExecutor) Execute(ctx context.Context, task *entity.Task) (*StageResult, error) {
	result, err := e.run(ctx, task, entity.StageTitle, "", map[string]string{
		"brainstorm": task.Data().Brainstorm,
	})
	if err != nil {
		return nil, err
	}

	payload, err := parseStageJSON[titlePayload](result.Content)
	if err != nil {
		return nil, err
	}
	if err := e.apply(ctx, task, payload); err != nil {
		return nil, err
	}

	return &StageResult{
		Output:        marshalOutput(payload),
		CharsConsumed: consumedFrom(result),
	}, nil
}

// apply 将解析后的候选写入任务，并保证书稿记录存在。
// 书稿以第一个候选作为临时名，待调用方确认后改名。
func (e *TitleExecutor) apply(ctx context.Context, task *entity.Task, payload *titlePayload) error {
	titles := make([]string, 0, len(payload.Titles))
	for _, t := range payload.Titles {
		if s := strings.TrimSpace(t); s != "" {
			titles = append(titles, s)
		}
	}
	if len(titles) == 0 {
		return apperrors.New(apperrors.CodeStageOutputInvalid, "title stage produced no candidates")
	}

	data := task.Data()
	data.Titles = titles
	data.Synopsis = strings.TrimSpace(payload.Synopsis)

	if task.NovelID == "" {
		novel := entity.NewNovel(task.OwnerID, titles[0])
		novel.ID = uuid.NewString()
		novel.Synopsis = data.Synopsis
		if err := e.novels.Create(ctx, novel); err != nil {
			return err
		}
		task.NovelID = novel.ID
	}
	return nil
}
