package pipeline

import (
	"context"
	"fmt"
	"strings"

	"bookforge-api/internal/domain/entity"
	apperrors "bookforge-api/pkg/errors"
	"bookforge-api/pkg/logger"
)

// StreamFrameType 流式帧类型
type StreamFrameType string

const (
	// FrameContent 模型产出的文本增量
	FrameContent StreamFrameType = "content"
	// FrameMeta 阶段元信息（开始、结束统计）
	FrameMeta StreamFrameType = "meta"
	// FrameError 服务端失败，流随之结束
	FrameError StreamFrameType = "error"
)

// StreamFrame 推送给客户端的单帧
type StreamFrame struct {
	Type StreamFrameType `json:"type"`
	Data any             `json:"data"`
}

// FrameSink 帧写出回调。返回非 nil 错误表示客户端已断开，
// 生成随之停止，已产出内容照常计费与落库。
type FrameSink func(frame StreamFrame) error

type streamStartMeta struct {
	TaskID string `json:"task_id"`
	Stage  string `json:"stage"`
}

type streamDoneMeta struct {
	InputChars    int64 `json:"input_chars"`
	OutputChars   int64 `json:"output_chars"`
	CharsConsumed int64 `json:"chars_consumed"`
	Interrupted   bool  `json:"interrupted"`
}

// ExecuteStageStream 以流式方式执行创意或标题阶段。
// 只有产出纯文本或可缓冲解析的前两个阶段支持流式；
// 大纲、内容、审校涉及多次调用与持久化扇出，走缓冲执行。
func (s *TaskService) ExecuteStageStream(ctx context.Context, taskID, callerID string, stage entity.StageType, sink FrameSink) error {
	task, err := s.loadOwnedTask(ctx, taskID, callerID)
	if err != nil {
		return err
	}
	if task.Status.IsTerminal() {
		return apperrors.New(apperrors.CodeConflict,
			fmt.Sprintf("task is %s and cannot execute stages", task.Status))
	}
	if stage == "" {
		stage = task.CurrentStage
	}
	if stage != entity.StageIdea && stage != entity.StageTitle {
		return apperrors.New(apperrors.CodeInvalidParam,
			fmt.Sprintf("stage %s does not support streaming", stage))
	}
	if stage != task.CurrentStage {
		return apperrors.New(apperrors.CodeStageOrderViolation,
			fmt.Sprintf("requested stage %s but task is at %s", stage, task.CurrentStage))
	}

	prevStatus := task.Status
	task.Status = stage.GeneratingStatus()
	if err := s.deps.Tasks.Update(ctx, task); err != nil {
		return err
	}
	s.progress.stageStarted(ctx, task.ID, string(stage))

	record := entity.NewStageRecord(task.ID, stage, marshalOutput(task.PromptConfig.ForStage(stage)))
	record.Start()
	if cerr := s.deps.Records.Create(ctx, record); cerr != nil {
		logger.FromContext(ctx).Warn("failed to create stage record", "task_id", task.ID, "error", cerr)
	}

	if serr := sink(StreamFrame{Type: FrameMeta, Data: streamStartMeta{TaskID: task.ID, Stage: string(stage)}}); serr != nil {
		// 客户端在首帧前就断开，阶段尚未执行，恢复进入前的状态
		task.Status = prevStatus
		s.persistTask(ctx, task)
		return nil
	}

	result, execErr := s.runStream(ctx, task, stage, sink)
	if execErr != nil {
		var consumed int64
		if result != nil {
			consumed = result.CharsConsumed
		}
		record.Fail(execErr.Error(), consumed)
		s.saveRecord(ctx, record)
		task.AddConsumedChars(float64(consumed))
		task.Status = entity.TaskStatusFailed
		s.persistTask(ctx, task)
		s.progress.stageFailed(ctx, task.ID, string(stage), execErr.Error())
		// 错误帧尽力推送，客户端可能已经离开
		_ = sink(StreamFrame{Type: FrameError, Data: apperrors.AsAppError(execErr).Message})
		return execErr
	}

	record.Complete(result.Output, result.CharsConsumed)
	s.saveRecord(ctx, record)
	task.AddConsumedChars(float64(result.CharsConsumed))
	s.advance(ctx, task, stage)
	if err := s.deps.Tasks.Update(ctx, task); err != nil {
		return err
	}
	s.progress.stageCompleted(ctx, task.ID, string(stage))
	return nil
}

// runStream 执行单次流式生成并完成阶段落库。
// 标题阶段先缓冲全部增量再解析，创意阶段边转发边累积。
func (s *TaskService) runStream(ctx context.Context, task *entity.Task, stage entity.StageType, sink FrameSink) (*StageResult, error) {
	gen := stageGen{assembler: s.deps.Assembler, generator: s.deps.Generator}

	var extra map[string]string
	if stage == entity.StageTitle {
		extra = map[string]string{"brainstorm": task.Data().Brainstorm}
	}
	req, err := gen.buildRequest(ctx, task, stage, "", extra)
	if err != nil {
		return nil, err
	}

	clientGone := false
	result, err := s.deps.Generator.GenerateStream(ctx, req, func(delta string) error {
		if clientGone {
			return fmt.Errorf("client disconnected")
		}
		if serr := sink(StreamFrame{Type: FrameContent, Data: delta}); serr != nil {
			clientGone = true
			return serr
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	stageResult, err := s.applyStreamed(ctx, task, stage, result.Content)
	if err != nil {
		return &StageResult{CharsConsumed: consumedFrom(result)}, err
	}
	stageResult.CharsConsumed = consumedFrom(result)

	if !clientGone {
		_ = sink(StreamFrame{Type: FrameMeta, Data: streamDoneMeta{
			InputChars:    result.InputChars,
			OutputChars:   result.OutputChars,
			CharsConsumed: stageResult.CharsConsumed,
			Interrupted:   result.Interrupted,
		}})
	}
	return stageResult, nil
}

// applyStreamed 把累积完成的流式产出按阶段语义写入任务
func (s *TaskService) applyStreamed(ctx context.Context, task *entity.Task, stage entity.StageType, content string) (*StageResult, error) {
	switch stage {
	case entity.StageIdea:
		brainstorm := strings.TrimSpace(content)
		if brainstorm == "" {
			return nil, apperrors.New(apperrors.CodeGenerationFailed, "idea stage produced empty output")
		}
		task.Data().Brainstorm = brainstorm
		return &StageResult{Output: marshalOutput(map[string]string{"brainstorm": brainstorm})}, nil

	case entity.StageTitle:
		titleExec, ok := s.executors[entity.StageTitle].(*TitleExecutor)
		if !ok {
			return nil, apperrors.New(apperrors.CodeGenerationFailed, "title executor unavailable")
		}
		payload, err := parseStageJSON[titlePayload](content)
		if err != nil {
			return nil, err
		}
		if err := titleExec.apply(ctx, task, payload); err != nil {
			return nil, err
		}
		return &StageResult{Output: marshalOutput(payload)}, nil

	default:
		return nil, apperrors.New(apperrors.CodeInvalidParam,
			fmt.Sprintf("stage %s does not support streaming", stage))
	}
}

func (s *TaskService) persistTask(ctx context.Context, task *entity.Task) {
	if err := s.deps.Tasks.Update(ctx, task); err != nil {
		logger.FromContext(ctx).Error("failed to persist task", "error", err, "task_id", task.ID)
	}
}
