package pipeline

import (
	"context"
	"fmt"
	"strings"
	"testing"

	"github.com/cloudwego/eino/schema"

	"bookforge-api/internal/domain/entity"
	"bookforge-api/internal/domain/service"
	apperrors "bookforge-api/pkg/errors"
)

func plainResponder(content string) func(int, []*schema.Message) (string, error) {
	return func(int, []*schema.Message) (string, error) {
		return content, nil
	}
}

func mustCreateTask(t *testing.T, env *testEnv, autoExecute bool) *entity.Task {
	t.Helper()
	task, err := env.svc.CreateTask(context.Background(), CreateInput{
		OwnerID:     "owner",
		Config:      fullConfig(),
		AutoExecute: autoExecute,
	})
	if err != nil {
		t.Fatalf("CreateTask() error = %v", err)
	}
	return task
}

func TestCreateTask_initialState(t *testing.T) {
	t.Parallel()
	env := newTestEnv(plainResponder("无关"))

	task := mustCreateTask(t, env, false)
	if task.CurrentStage != entity.StageIdea {
		t.Errorf("CurrentStage = %s, want idea", task.CurrentStage)
	}
	if task.Status != entity.TaskStatusPaused {
		t.Errorf("Status = %s, want paused", task.Status)
	}
	if len(env.jobs.jobs) != 0 {
		t.Errorf("published %d jobs, want 0 without auto execute", len(env.jobs.jobs))
	}
}

func TestCreateTask_autoExecutePublishesJob(t *testing.T) {
	t.Parallel()
	env := newTestEnv(plainResponder("无关"))

	task := mustCreateTask(t, env, true)
	if task.Status != entity.TaskStatusIdeaGenerating {
		t.Errorf("Status = %s, want idea_generating", task.Status)
	}
	if len(env.jobs.jobs) != 1 {
		t.Fatalf("published %d jobs, want 1", len(env.jobs.jobs))
	}
	job := env.jobs.jobs[0]
	if job.TaskID != task.ID || job.Stage != "idea" || !job.AutoAdvance {
		t.Errorf("job = %+v, want idea stage with auto advance", job)
	}
}

func TestCreateTask_activeLimit(t *testing.T) {
	t.Parallel()
	env := newTestEnv(plainResponder("无关"))

	for i := 0; i < 3; i++ {
		mustCreateTask(t, env, false)
	}
	_, err := env.svc.CreateTask(context.Background(), CreateInput{OwnerID: "owner", Config: fullConfig()})
	if !apperrors.IsCode(err, apperrors.CodeTaskLimitExceeded) {
		t.Fatalf("4th CreateTask() error = %v, want task limit exceeded", err)
	}
}

func TestCreateTask_insufficientBalance(t *testing.T) {
	t.Parallel()
	env := newTestEnv(plainResponder("无关"))
	env.ledger.balanceOK = false

	_, err := env.svc.CreateTask(context.Background(), CreateInput{OwnerID: "owner", Config: fullConfig()})
	if !apperrors.IsCode(err, apperrors.CodeInsufficientBalance) {
		t.Fatalf("CreateTask() error = %v, want insufficient balance", err)
	}
}

func TestCreateTask_groupExpansionLocksConfig(t *testing.T) {
	t.Parallel()
	env := newTestEnv(plainResponder("无关"))
	env.groups.groups["g1"] = &entity.PromptGroup{
		ID: "g1", AuthorID: "owner",
		IdeaPromptID: "p-idea", TitlePromptID: "p-title", OutlinePromptID: "p-outline",
		ContentPromptID: "p-content", ReviewPromptID: "p-review",
	}

	task, err := env.svc.CreateTask(context.Background(), CreateInput{OwnerID: "owner", GroupID: "g1"})
	if err != nil {
		t.Fatalf("CreateTask() error = %v", err)
	}
	if !task.PromptConfig.FromGroup() {
		t.Fatal("config should be marked as expanded from group")
	}
	if task.PromptConfig.Content.PromptID != "p-content" {
		t.Errorf("content prompt = %q, want p-content", task.PromptConfig.Content.PromptID)
	}

	_, err = env.svc.UpdatePromptConfig(context.Background(), task.ID, "owner", fullConfig())
	if !apperrors.IsCode(err, apperrors.CodePromptConfigLocked) {
		t.Fatalf("UpdatePromptConfig() error = %v, want prompt config locked", err)
	}
}

func TestCreateTask_unknownGroup(t *testing.T) {
	t.Parallel()
	env := newTestEnv(plainResponder("无关"))

	_, err := env.svc.CreateTask(context.Background(), CreateInput{OwnerID: "owner", GroupID: "missing"})
	if !apperrors.IsCode(err, apperrors.CodeNotFound) {
		t.Fatalf("CreateTask() error = %v, want not found", err)
	}
}

func TestExecuteStage_ideaSuccess(t *testing.T) {
	t.Parallel()
	env := newTestEnv(plainResponder("一个关于守灯人的故事构思"))
	task := mustCreateTask(t, env, false)

	got, err := env.svc.ExecuteStage(context.Background(), task.ID, "owner", entity.StageIdea)
	if err != nil {
		t.Fatalf("ExecuteStage(idea) error = %v", err)
	}
	if got.Data().Brainstorm == "" {
		t.Error("brainstorm should be recorded in task data")
	}
	if got.CurrentStage != entity.StageTitle {
		t.Errorf("CurrentStage = %s, want title", got.CurrentStage)
	}
	if got.Status != entity.TaskStatusWaitingNextStage {
		t.Errorf("Status = %s, want waiting_next_stage", got.Status)
	}
	if got.TotalCharsConsumed <= 0 {
		t.Errorf("TotalCharsConsumed = %d, want > 0", got.TotalCharsConsumed)
	}
	if n := len(env.notified.byType(service.ProgressEventStageCompleted)); n != 1 {
		t.Errorf("stage_completed events = %d, want 1", n)
	}
}

func TestExecuteStage_orderViolation(t *testing.T) {
	t.Parallel()
	env := newTestEnv(plainResponder("无关"))
	task := mustCreateTask(t, env, false)

	for _, stage := range []entity.StageType{entity.StageTitle, entity.StageOutline, entity.StageContent, entity.StageReview} {
		_, err := env.svc.ExecuteStage(context.Background(), task.ID, "owner", stage)
		if !apperrors.IsCode(err, apperrors.CodeStageOrderViolation) {
			t.Errorf("ExecuteStage(%s) error = %v, want stage order violation", stage, err)
		}
	}
}

func TestExecuteStage_ownershipRequired(t *testing.T) {
	t.Parallel()
	env := newTestEnv(plainResponder("无关"))
	task := mustCreateTask(t, env, false)

	_, err := env.svc.ExecuteStage(context.Background(), task.ID, "intruder", entity.StageIdea)
	if !apperrors.IsCode(err, apperrors.CodePermissionDenied) {
		t.Fatalf("ExecuteStage() by non-owner error = %v, want permission denied", err)
	}
}

func TestExecuteStage_failureMarksTaskAndRecord(t *testing.T) {
	t.Parallel()
	env := newTestEnv(func(int, []*schema.Message) (string, error) {
		return "", fmt.Errorf("provider exploded")
	})
	task := mustCreateTask(t, env, false)

	_, err := env.svc.ExecuteStage(context.Background(), task.ID, "owner", entity.StageIdea)
	if err == nil {
		t.Fatal("ExecuteStage() should fail when the provider fails")
	}

	stored, _ := env.tasks.GetByID(context.Background(), task.ID)
	if stored.Status != entity.TaskStatusFailed {
		t.Errorf("Status = %s, want failed", stored.Status)
	}
	// 当前阶段不动，允许重试
	if stored.CurrentStage != entity.StageIdea {
		t.Errorf("CurrentStage = %s, want idea", stored.CurrentStage)
	}
	if n := len(env.notified.byType(service.ProgressEventStageFailed)); n != 1 {
		t.Errorf("stage_failed events = %d, want 1", n)
	}
}

func TestExecuteStage_titleWaitsForSelection(t *testing.T) {
	t.Parallel()
	responses := map[int]string{
		1: "头脑风暴产出",
		2: "```json\n{\"titles\":[\"灯塔之下\",\"长夜灯书\"],\"synopsis\":\"守灯人的故事\"}\n```",
	}
	env := newTestEnv(func(call int, _ []*schema.Message) (string, error) {
		return responses[call], nil
	})
	task := mustCreateTask(t, env, false)

	if _, err := env.svc.ExecuteStage(context.Background(), task.ID, "owner", entity.StageIdea); err != nil {
		t.Fatalf("ExecuteStage(idea) error = %v", err)
	}
	got, err := env.svc.ExecuteStage(context.Background(), task.ID, "owner", entity.StageTitle)
	if err != nil {
		t.Fatalf("ExecuteStage(title) error = %v", err)
	}

	// 标题阶段完成后停在原地，等用户选书名
	if got.CurrentStage != entity.StageTitle {
		t.Errorf("CurrentStage = %s, want title", got.CurrentStage)
	}
	if got.Status != entity.TaskStatusWaitingNextStage {
		t.Errorf("Status = %s, want waiting_next_stage", got.Status)
	}
	if len(got.Data().Titles) != 2 {
		t.Errorf("titles = %v, want 2 candidates", got.Data().Titles)
	}
	if got.NovelID == "" {
		t.Error("a novel should be created after the title stage")
	}
}

func TestUpdateTitleAndSynopsis(t *testing.T) {
	t.Parallel()
	responses := map[int]string{
		1: "头脑风暴产出",
		2: `{"titles":["灯塔之下"],"synopsis":"旧稿"}`,
	}
	env := newTestEnv(func(call int, _ []*schema.Message) (string, error) {
		return responses[call], nil
	})
	task := mustCreateTask(t, env, false)

	// 标题候选尚未生成时不允许选定
	_, err := env.svc.UpdateTitleAndSynopsis(context.Background(), task.ID, "owner", "新书名", "")
	if !apperrors.IsCode(err, apperrors.CodeTitleNotSelected) {
		t.Fatalf("UpdateTitleAndSynopsis() before titles error = %v, want title not selected", err)
	}

	if _, err := env.svc.ExecuteStage(context.Background(), task.ID, "owner", entity.StageIdea); err != nil {
		t.Fatalf("ExecuteStage(idea) error = %v", err)
	}
	if _, err := env.svc.ExecuteStage(context.Background(), task.ID, "owner", entity.StageTitle); err != nil {
		t.Fatalf("ExecuteStage(title) error = %v", err)
	}

	got, err := env.svc.UpdateTitleAndSynopsis(context.Background(), task.ID, "owner", "灯塔之下", "新的简介")
	if err != nil {
		t.Fatalf("UpdateTitleAndSynopsis() error = %v", err)
	}
	if got.CurrentStage != entity.StageOutline {
		t.Errorf("CurrentStage = %s, want outline after title selection", got.CurrentStage)
	}
	if got.Data().ChosenTitle != "灯塔之下" {
		t.Errorf("ChosenTitle = %q", got.Data().ChosenTitle)
	}

	novel, _ := env.novels.GetByID(context.Background(), got.NovelID)
	if novel == nil || novel.Title != "灯塔之下" || novel.Synopsis != "新的简介" {
		t.Errorf("novel = %+v, want renamed with new synopsis", novel)
	}
}

func TestPauseResumeCancel(t *testing.T) {
	t.Parallel()
	env := newTestEnv(plainResponder("无关"))
	task := mustCreateTask(t, env, false)

	paused, err := env.svc.PauseTask(context.Background(), task.ID, "owner")
	if err != nil || paused.Status != entity.TaskStatusPaused {
		t.Fatalf("PauseTask() = %v, %v", paused.Status, err)
	}

	resumed, err := env.svc.ResumeTask(context.Background(), task.ID, "owner")
	if err != nil {
		t.Fatalf("ResumeTask() error = %v", err)
	}
	// 恢复后的状态由当前阶段推导
	if resumed.Status != entity.TaskStatusIdeaGenerating {
		t.Errorf("resumed Status = %s, want idea_generating", resumed.Status)
	}
	if len(env.jobs.jobs) == 0 {
		t.Error("resume should publish a stage job")
	}

	cancelled, err := env.svc.CancelTask(context.Background(), task.ID, "owner")
	if err != nil || cancelled.Status != entity.TaskStatusCancelled {
		t.Fatalf("CancelTask() = %v, %v", cancelled.Status, err)
	}

	// 取消后不可再执行
	_, err = env.svc.ExecuteStage(context.Background(), task.ID, "owner", entity.StageIdea)
	if !apperrors.IsCode(err, apperrors.CodeConflict) {
		t.Fatalf("ExecuteStage() on cancelled task error = %v, want conflict", err)
	}
}

func TestCancelTask_completedNotCancellable(t *testing.T) {
	t.Parallel()
	env := newTestEnv(plainResponder("无关"))
	task := mustCreateTask(t, env, false)
	task.Status = entity.TaskStatusCompleted
	if err := env.tasks.Update(context.Background(), task); err != nil {
		t.Fatal(err)
	}

	_, err := env.svc.CancelTask(context.Background(), task.ID, "owner")
	if !apperrors.IsCode(err, apperrors.CodeTaskNotCancellable) {
		t.Fatalf("CancelTask() on completed task error = %v, want task not cancellable", err)
	}
}

func TestExecuteStage_reviewDisabledCompletesTask(t *testing.T) {
	t.Parallel()
	env := newTestEnv(plainResponder("无关"))
	task := mustCreateTask(t, env, false)
	task.CurrentStage = entity.StageReview
	task.NovelID = "n1"
	task.Status = entity.TaskStatusWaitingNextStage
	if err := env.tasks.Update(context.Background(), task); err != nil {
		t.Fatal(err)
	}

	got, err := env.svc.ExecuteStage(context.Background(), task.ID, "owner", entity.StageReview)
	if err != nil {
		t.Fatalf("ExecuteStage(review) error = %v", err)
	}
	if got.Status != entity.TaskStatusCompleted {
		t.Errorf("Status = %s, want completed", got.Status)
	}
	if n := len(env.notified.byType(service.ProgressEventTaskCompleted)); n != 1 {
		t.Errorf("task_completed events = %d, want 1", n)
	}
}

func TestTotalCharsMonotonic(t *testing.T) {
	t.Parallel()
	env := newTestEnv(plainResponder("产出文本"))
	task := mustCreateTask(t, env, false)

	before := task.TotalCharsConsumed
	task.AddConsumedChars(-50)
	task.AddConsumedChars(0)
	if task.TotalCharsConsumed != before {
		t.Errorf("negative/zero deltas changed the counter: %d -> %d", before, task.TotalCharsConsumed)
	}

	if _, err := env.svc.ExecuteStage(context.Background(), task.ID, "owner", entity.StageIdea); err != nil {
		t.Fatalf("ExecuteStage(idea) error = %v", err)
	}
	if task.TotalCharsConsumed <= before {
		t.Errorf("TotalCharsConsumed = %d, want increase after a stage run", task.TotalCharsConsumed)
	}
}

func TestExecuteStageStream_idea(t *testing.T) {
	t.Parallel()
	env := newTestEnv(plainResponder("流式产出的构思"))
	task := mustCreateTask(t, env, false)

	var frames []StreamFrame
	err := env.svc.ExecuteStageStream(context.Background(), task.ID, "owner", entity.StageIdea, func(f StreamFrame) error {
		frames = append(frames, f)
		return nil
	})
	if err != nil {
		t.Fatalf("ExecuteStageStream() error = %v", err)
	}

	if len(frames) < 3 {
		t.Fatalf("frames = %d, want start meta + content + done meta", len(frames))
	}
	if frames[0].Type != FrameMeta {
		t.Errorf("first frame = %s, want meta", frames[0].Type)
	}
	var content strings.Builder
	for _, f := range frames {
		if f.Type == FrameContent {
			content.WriteString(f.Data.(string))
		}
	}
	if content.String() != "流式产出的构思" {
		t.Errorf("streamed content = %q", content.String())
	}

	stored, _ := env.tasks.GetByID(context.Background(), task.ID)
	if stored.Data().Brainstorm != "流式产出的构思" {
		t.Errorf("brainstorm = %q, want streamed content persisted", stored.Data().Brainstorm)
	}
	if stored.CurrentStage != entity.StageTitle {
		t.Errorf("CurrentStage = %s, want title after streamed idea stage", stored.CurrentStage)
	}
}

func TestExecuteStageStream_rejectsUnsupportedStage(t *testing.T) {
	t.Parallel()
	env := newTestEnv(plainResponder("无关"))
	task := mustCreateTask(t, env, false)
	task.CurrentStage = entity.StageContent
	if err := env.tasks.Update(context.Background(), task); err != nil {
		t.Fatal(err)
	}

	err := env.svc.ExecuteStageStream(context.Background(), task.ID, "owner", entity.StageContent, func(StreamFrame) error { return nil })
	if !apperrors.IsCode(err, apperrors.CodeInvalidParam) {
		t.Fatalf("ExecuteStageStream(content) error = %v, want invalid param", err)
	}
}
