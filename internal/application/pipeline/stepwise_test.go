package pipeline

import (
	"context"
	"testing"

	"github.com/cloudwego/eino/schema"

	"bookforge-api/internal/domain/entity"
	apperrors "bookforge-api/pkg/errors"
)

// stepResponder 逐章模式每处理一章依次发出正文、摘要、审校三次调用
func stepResponder(call int, _ []*schema.Message) (string, error) {
	switch (call-1)%3 + 1 {
	case 1:
		return "章节正文，灯塔在雾里亮了一夜。", nil
	case 2:
		return "守灯人彻夜未眠。", nil
	default:
		return `{"score":9.0,"issues":[{"severity":"low","description":"个别用词重复"}]}`, nil
	}
}

func TestStepNextChapter_walksCursorThroughAllChapters(t *testing.T) {
	t.Parallel()
	env := newTestEnv(stepResponder)
	task := seedNovel(t, env, 3)
	ctx := context.Background()

	// 第一步：处理第 1 章，游标指向第 2 章
	out, err := env.svc.StepNextChapter(ctx, task.ID, "owner")
	if err != nil {
		t.Fatalf("StepNextChapter() error = %v", err)
	}
	if out.ChapterID != "c1" || out.NextChapterID != "c2" || out.Done {
		t.Errorf("step 1 = %+v, want c1 done with next c2", out)
	}
	if out.Report == nil || out.Report.Score != 9.0 {
		t.Errorf("step 1 report = %+v, want score 9.0", out.Report)
	}

	c1, _ := env.chapters.GetByID(ctx, "c1")
	if c1.ContentText == "" || c1.Summary == "" || c1.Status != entity.ChapterStatusCompleted {
		t.Errorf("chapter c1 = %+v, want content, summary and completed status", c1)
	}

	stored, _ := env.tasks.GetByID(ctx, task.ID)
	if stored.Status != entity.TaskStatusWaitingNextStage {
		t.Errorf("Status after step = %s, want waiting_next_stage", stored.Status)
	}
	cursor := stored.Data().StepCursor
	if cursor == nil || cursor.LastChapterID != "c1" || cursor.NextChapterID != "c2" {
		t.Errorf("cursor = %+v, want last c1 next c2", cursor)
	}

	// 第二、三步走完剩余章节
	if out, err = env.svc.StepNextChapter(ctx, task.ID, "owner"); err != nil || out.ChapterID != "c2" {
		t.Fatalf("step 2 = %+v, %v", out, err)
	}
	out, err = env.svc.StepNextChapter(ctx, task.ID, "owner")
	if err != nil {
		t.Fatalf("step 3 error = %v", err)
	}
	if out.ChapterID != "c3" || !out.Done || out.NextChapterID != "" {
		t.Errorf("step 3 = %+v, want c3 and done", out)
	}

	// 全部章节完成后推进到审校阶段
	stored, _ = env.tasks.GetByID(ctx, task.ID)
	if stored.CurrentStage != entity.StageReview {
		t.Errorf("CurrentStage = %s, want review after last chapter", stored.CurrentStage)
	}
	if stored.TotalCharsConsumed <= 0 {
		t.Errorf("TotalCharsConsumed = %d, want > 0", stored.TotalCharsConsumed)
	}
}

func TestStepNextChapter_requiresContentStage(t *testing.T) {
	t.Parallel()
	env := newTestEnv(stepResponder)
	task := mustCreateTask(t, env, false)

	_, err := env.svc.StepNextChapter(context.Background(), task.ID, "owner")
	if !apperrors.IsCode(err, apperrors.CodeStageOrderViolation) {
		t.Fatalf("StepNextChapter() at idea stage error = %v, want stage order violation", err)
	}
}

// 逐章模式只生成报告交给用户确认，有中高危问题也不自动重写
func TestStepNextChapter_reportedIssuesLeftToUser(t *testing.T) {
	t.Parallel()
	env := newTestEnv(func(call int, _ []*schema.Message) (string, error) {
		switch call {
		case 1:
			return "初稿正文。", nil
		case 2:
			return "初稿摘要。", nil
		default:
			return `{"score":5.5,"issues":[{"severity":"中","description":"节奏拖沓"}]}`, nil
		}
	})
	task := seedNovel(t, env, 1)

	out, err := env.svc.StepNextChapter(context.Background(), task.ID, "owner")
	if err != nil {
		t.Fatalf("StepNextChapter() error = %v", err)
	}
	if out.Report == nil || !out.Report.NeedsOptimization() {
		t.Fatalf("report = %+v, want medium issue flagged", out.Report)
	}

	c1, _ := env.chapters.GetByID(context.Background(), "c1")
	if c1.ContentText != "初稿正文。" {
		t.Errorf("chapter content = %q, want original draft kept", c1.ContentText)
	}
	if env.model.calls != 3 {
		t.Errorf("model calls = %d, want exactly 3 without auto rewrite", env.model.calls)
	}
}
