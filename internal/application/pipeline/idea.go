package pipeline

import (
	"context"
	"strings"

	"bookforge-api/internal/application/generation"
	"bookforge-api/internal/application/prompting"
	"bookforge-api/internal/domain/entity"
	apperrors "bookforge-api/pkg/errors"
)

// IdeaExecutor 创意阶段：单次生成，产出头脑风暴文本。
type IdeaExecutor struct {
	stageGen
}

func NewIdeaExecutor(assembler *prompting.Assembler, generator *generation.Service) *IdeaExecutor {
	return &IdeaExecutor{stageGen: stageGen{assembler: assembler, generator: generator}}
}

func (e *IdeaExecutor) Stage() entity.StageType {
	return entity.StageIdea
}

func (e *IdeaExecutor) Execute(ctx context.Context, task *entity.Task) (*StageResult, error) {
	result, err := e.run(ctx, task, entity.StageIdea, "", nil)
	if err != nil {
		return nil, err
	}

	brainstorm := strings.TrimSpace(result.Content)
	if brainstorm == "" {
		return nil, apperrors.New(apperrors.CodeGenerationFailed, "idea stage produced empty output")
	}

	task.Data().Brainstorm = brainstorm
	return &StageResult{
		Output:        marshalOutput(map[string]string{"brainstorm": brainstorm}),
		CharsConsumed: consumedFrom(result),
	}, nil
}
