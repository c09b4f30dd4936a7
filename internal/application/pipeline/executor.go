package pipeline

import (
	"context"
	"encoding/json"
	"fmt"

	"bookforge-api/internal/application/generation"
	"bookforge-api/internal/application/prompting"
	"bookforge-api/internal/domain/entity"
	apperrors "bookforge-api/pkg/errors"
)

// StageResult 阶段执行结果。
// Output 为写入 StageRecord 的结构化快照，CharsConsumed 进入任务累计消耗。
type StageResult struct {
	Output        json.RawMessage
	CharsConsumed int64
}

// StageExecutor 阶段执行器。五个阶段同一契约，内部各不相同。
type StageExecutor interface {
	Stage() entity.StageType
	Execute(ctx context.Context, task *entity.Task) (*StageResult, error)
}

// stageGen 阶段执行器共用的单次生成入口
type stageGen struct {
	assembler *prompting.Assembler
	generator *generation.Service
}

// run 按阶段配置装配提示词并执行一次缓冲生成。
// 阶段未配置提示词属于配置错误，立即失败。
func (g *stageGen) run(ctx context.Context, task *entity.Task, stage entity.StageType, userInput string, extraParams map[string]string) (*generation.Result, error) {
	req, err := g.buildRequest(ctx, task, stage, userInput, extraParams)
	if err != nil {
		return nil, err
	}
	return g.generator.Generate(ctx, req)
}

func (g *stageGen) buildRequest(ctx context.Context, task *entity.Task, stage entity.StageType, userInput string, extraParams map[string]string) (*generation.Request, error) {
	cfg := task.PromptConfig.ForStage(stage)
	if cfg.PromptID == "" {
		return nil, apperrors.New(apperrors.CodeInvalidParam,
			fmt.Sprintf("%s stage prompt id is required", stage))
	}

	params := make(map[string]string, len(task.PromptConfig.Params)+len(extraParams))
	for k, v := range task.PromptConfig.Params {
		params[k] = v
	}
	for k, v := range extraParams {
		params[k] = v
	}

	assembled, err := g.assembler.Assemble(ctx, &prompting.AssembleInput{
		PromptID:  cfg.PromptID,
		CallerID:  task.OwnerID,
		NovelID:   task.NovelID,
		Params:    params,
		UserInput: userInput,
	})
	if err != nil {
		return nil, err
	}

	return &generation.Request{
		UserID:      task.OwnerID,
		Workflow:    "stage_" + string(stage),
		RelatedID:   task.ID,
		Provider:    cfg.Provider,
		Model:       cfg.Model,
		Temperature: cfg.Temperature,
		Messages:    generation.BuildMessages(assembled.Messages, nil, assembled.UserInput),
	}, nil
}

// consumedFrom 提取一次生成计入任务累计的消耗。
// 扣费落账失败时 TotalCost 为零，退回原始字符数以保持审计口径。
func consumedFrom(r *generation.Result) int64 {
	if r == nil {
		return 0
	}
	if r.TotalCost > 0 {
		return r.TotalCost
	}
	return r.InputChars + r.OutputChars
}

func marshalOutput(v any) json.RawMessage {
	data, err := json.Marshal(v)
	if err != nil {
		return nil
	}
	return data
}
