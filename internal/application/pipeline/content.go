package pipeline

import (
	"context"

	"bookforge-api/internal/domain/entity"
	apperrors "bookforge-api/pkg/errors"
)

// ContentExecutor 正文阶段：把整本书交给批量生成器。
// 部分章节失败不算阶段失败，失败清单随摘要返回。
type ContentExecutor struct {
	batch *BatchGenerator
}

func NewContentExecutor(batch *BatchGenerator) *ContentExecutor {
	return &ContentExecutor{batch: batch}
}

func (e *ContentExecutor) Stage() entity.StageType {
	return entity.StageContent
}

func (e *ContentExecutor) Execute(ctx context.Context, task *entity.Task) (*StageResult, error) {
	if task.NovelID == "" {
		return nil, apperrors.New(apperrors.CodeNovelNotFound, "task has no linked novel")
	}

	summary, consumed, err := e.batch.GenerateAll(ctx, task)
	if err != nil {
		return nil, err
	}

	task.Data().ContentSummary = summary
	return &StageResult{
		Output:        marshalOutput(summary),
		CharsConsumed: consumed,
	}, nil
}
