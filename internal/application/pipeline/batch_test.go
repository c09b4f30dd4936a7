package pipeline

import (
	"context"
	"fmt"
	"testing"

	"github.com/cloudwego/eino/schema"

	"bookforge-api/internal/domain/entity"
	"bookforge-api/internal/domain/service"
	apperrors "bookforge-api/pkg/errors"
)

// seedNovel 造一部带分卷章节的小说，并把任务推到内容阶段
func seedNovel(t *testing.T, env *testEnv, chapterCount int) *entity.Task {
	t.Helper()
	ctx := context.Background()

	novel := entity.NewNovel("owner", "测试书稿")
	novel.ID = "n1"
	if err := env.novels.Create(ctx, novel); err != nil {
		t.Fatal(err)
	}
	volume := entity.NewVolume("n1", 1, "第一卷")
	volume.ID = "v1"
	if err := env.volumes.Create(ctx, volume); err != nil {
		t.Fatal(err)
	}
	for i := 1; i <= chapterCount; i++ {
		ch := entity.NewChapter("n1", "v1", i)
		ch.ID = fmt.Sprintf("c%d", i)
		ch.Title = fmt.Sprintf("第%d章", i)
		ch.Outline = fmt.Sprintf("第%d章的剧情走向", i)
		if err := env.chapters.Create(ctx, ch); err != nil {
			t.Fatal(err)
		}
	}

	task := mustCreateTask(t, env, false)
	task.NovelID = "n1"
	task.CurrentStage = entity.StageContent
	task.Status = entity.TaskStatusWaitingNextStage
	if err := env.tasks.Update(ctx, task); err != nil {
		t.Fatal(err)
	}
	return task
}

func TestBatchGenerate_allChapters(t *testing.T) {
	t.Parallel()
	env := newTestEnv(func(call int, _ []*schema.Message) (string, error) {
		return fmt.Sprintf("生成的正文第%d段，夜色沉入海面。", call), nil
	})
	task := seedNovel(t, env, 5)

	got, err := env.svc.ExecuteStage(context.Background(), task.ID, "owner", entity.StageContent)
	if err != nil {
		t.Fatalf("ExecuteStage(content) error = %v", err)
	}

	summary := got.Data().ContentSummary
	if summary == nil {
		t.Fatal("content summary missing from task data")
	}
	if summary.Total != 5 || summary.Succeeded != 5 || summary.Failed != 0 {
		t.Errorf("summary = %+v, want 5/5/0", summary)
	}

	chapters, _ := env.chapters.ListByNovel(context.Background(), "n1")
	for _, ch := range chapters {
		if ch.Status != entity.ChapterStatusCompleted {
			t.Errorf("chapter %s status = %s, want completed", ch.ID, ch.Status)
		}
		if ch.ContentText == "" || ch.WordCount == 0 {
			t.Errorf("chapter %s has no content", ch.ID)
		}
	}

	novel, _ := env.novels.GetByID(context.Background(), "n1")
	if novel.WordCount == 0 {
		t.Error("novel word count should aggregate chapter deltas")
	}

	// 并发 2、共 5 章，按分片推进度
	if n := len(env.notified.byType(service.ProgressEventBatchProgress)); n != 3 {
		t.Errorf("batch_progress events = %d, want 3 chunks", n)
	}
	if got.CurrentStage != entity.StageReview {
		t.Errorf("CurrentStage = %s, want review", got.CurrentStage)
	}
}

func TestBatchGenerate_singleFailureDoesNotBlockOthers(t *testing.T) {
	t.Parallel()
	env := newTestEnv(func(call int, _ []*schema.Message) (string, error) {
		if call == 2 {
			return "", fmt.Errorf("provider hiccup")
		}
		return "完整的章节正文。", nil
	})
	task := seedNovel(t, env, 4)

	got, err := env.svc.ExecuteStage(context.Background(), task.ID, "owner", entity.StageContent)
	if err != nil {
		t.Fatalf("ExecuteStage(content) error = %v", err)
	}

	summary := got.Data().ContentSummary
	if summary.Total != 4 || summary.Succeeded != 3 || summary.Failed != 1 {
		t.Errorf("summary = %+v, want 4 total, 3 succeeded, 1 failed", summary)
	}
	if len(summary.Failures) != 1 || summary.Failures[0].Error == "" {
		t.Errorf("failures = %+v, want one entry with the chapter error", summary.Failures)
	}
}

func TestBatchGenerate_missingContentPrompt(t *testing.T) {
	t.Parallel()
	env := newTestEnv(plainResponder("无关"))
	task := seedNovel(t, env, 2)
	task.PromptConfig.Content.PromptID = ""
	if err := env.tasks.Update(context.Background(), task); err != nil {
		t.Fatal(err)
	}

	_, err := env.svc.ExecuteStage(context.Background(), task.ID, "owner", entity.StageContent)
	if !apperrors.IsCode(err, apperrors.CodeInvalidParam) {
		t.Fatalf("ExecuteStage(content) error = %v, want invalid param before any model call", err)
	}
	if env.model.calls != 0 {
		t.Errorf("model calls = %d, want 0 when prompt id is missing", env.model.calls)
	}
}
