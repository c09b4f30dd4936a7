package pipeline

import (
	"context"
	"testing"

	"github.com/cloudwego/eino/schema"

	"bookforge-api/internal/domain/entity"
	apperrors "bookforge-api/pkg/errors"
)

// outlineResponder 每轮大纲执行依次发出全书大纲、分卷、单卷章节三次调用。
// 章节载荷混用纯名字和带描述两种提及形态，且两章提到同一个角色。
func outlineResponder(call int, _ []*schema.Message) (string, error) {
	switch (call-1)%3 + 1 {
	case 1:
		return "全书走向：守灯人与雾海的三幕故事。", nil
	case 2:
		return `{"volumes":[{"title":"第一卷","summary":"雾起"}]}`, nil
	default:
		return `{"chapters":[
			{"title":"第1章","outline":"灯塔初亮","characters":["林远"],"world_entries":[{"name":"雾灯塔","description":"海崖上的旧灯塔"}]},
			{"title":"第2章","outline":"雾中来客","characters":[{"name":"林远","description":"守灯人"},{"name":"阿芽"}],"world_entries":["雾灯塔"]}
		]}`, nil
	}
}

func seedOutlineTask(t *testing.T, env *testEnv) *entity.Task {
	t.Helper()
	ctx := context.Background()

	novel := entity.NewNovel("owner", "灯塔之下")
	novel.ID = "n1"
	if err := env.novels.Create(ctx, novel); err != nil {
		t.Fatal(err)
	}

	task := mustCreateTask(t, env, false)
	task.NovelID = "n1"
	task.CurrentStage = entity.StageOutline
	task.Status = entity.TaskStatusWaitingNextStage
	task.Data().ChosenTitle = "灯塔之下"
	task.Data().Synopsis = "守灯人的故事"
	if err := env.tasks.Update(ctx, task); err != nil {
		t.Fatal(err)
	}
	return task
}

func TestExecuteStage_outlineFanOut(t *testing.T) {
	t.Parallel()
	env := newTestEnv(outlineResponder)
	task := seedOutlineTask(t, env)
	ctx := context.Background()

	got, err := env.svc.ExecuteStage(ctx, task.ID, "owner", entity.StageOutline)
	if err != nil {
		t.Fatalf("ExecuteStage(outline) error = %v", err)
	}

	summary := got.Data().OutlineSummary
	if summary == nil || summary.VolumeCount != 1 || summary.ChapterCount != 2 {
		t.Fatalf("outline summary = %+v, want 1 volume with 2 chapters", summary)
	}
	if got.CurrentStage != entity.StageContent {
		t.Errorf("CurrentStage = %s, want content", got.CurrentStage)
	}

	volumes, _ := env.volumes.ListByNovel(ctx, "n1")
	chapters, _ := env.chapters.ListByNovel(ctx, "n1")
	if len(volumes) != 1 || len(chapters) != 2 {
		t.Errorf("persisted %d volumes and %d chapters, want 1 and 2", len(volumes), len(chapters))
	}

	// 三层节点各归其位，章节节点挂在分卷节点之下
	nodes, _ := env.outlines.ListByTask(ctx, task.ID)
	levels := map[int]int{}
	for _, n := range nodes {
		levels[n.Level]++
	}
	if levels[entity.OutlineLevelBook] != 1 || levels[entity.OutlineLevelVolume] != 1 || levels[entity.OutlineLevelChapter] != 2 {
		t.Errorf("node levels = %v, want 1/1/2", levels)
	}
	roots, err := env.svc.GetOutlineTree(ctx, task.ID, "owner")
	if err != nil {
		t.Fatalf("GetOutlineTree() error = %v", err)
	}
	if len(roots) != 1 || len(roots[0].Children) != 1 || len(roots[0].Children[0].Children) != 2 {
		t.Errorf("rebuilt tree shape = %d roots, want 1 root -> 1 volume -> 2 chapters", len(roots))
	}
}

func TestExecuteStage_outlineEntityExtractionDeduplicates(t *testing.T) {
	t.Parallel()
	env := newTestEnv(outlineResponder)
	task := seedOutlineTask(t, env)
	ctx := context.Background()

	// 林远在库里已存在，抽取不得重复建档
	existing := entity.NewCharacter("n1", "林远", "老守灯人")
	existing.ID = "ch-existing"
	if err := env.chars.Create(ctx, existing); err != nil {
		t.Fatal(err)
	}

	if _, err := env.svc.ExecuteStage(ctx, task.ID, "owner", entity.StageOutline); err != nil {
		t.Fatalf("ExecuteStage(outline) error = %v", err)
	}

	chars, _ := env.chars.ListByNovel(ctx, "n1")
	byName := map[string]int{}
	for _, c := range chars {
		byName[c.Name]++
	}
	if byName["林远"] != 1 {
		t.Errorf("character 林远 appears %d times, want exactly 1", byName["林远"])
	}
	if byName["阿芽"] != 1 {
		t.Errorf("character 阿芽 appears %d times, want exactly 1", byName["阿芽"])
	}

	worlds, _ := env.worlds.ListByNovel(ctx, "n1")
	if len(worlds) != 1 || worlds[0].Name != "雾灯塔" {
		t.Errorf("world entries = %d, want exactly one 雾灯塔", len(worlds))
	}
}

func TestExecuteStage_outlineRerunReplacesPreviousTree(t *testing.T) {
	t.Parallel()
	env := newTestEnv(outlineResponder)
	task := seedOutlineTask(t, env)
	ctx := context.Background()

	if _, err := env.svc.ExecuteStage(ctx, task.ID, "owner", entity.StageOutline); err != nil {
		t.Fatalf("first ExecuteStage(outline) error = %v", err)
	}

	// 回退到大纲阶段重跑，上一轮的分卷章节必须被替换而不是累加
	stored, _ := env.tasks.GetByID(ctx, task.ID)
	stored.CurrentStage = entity.StageOutline
	stored.Status = entity.TaskStatusWaitingNextStage
	if err := env.tasks.Update(ctx, stored); err != nil {
		t.Fatal(err)
	}
	if _, err := env.svc.ExecuteStage(ctx, task.ID, "owner", entity.StageOutline); err != nil {
		t.Fatalf("rerun ExecuteStage(outline) error = %v", err)
	}

	volumes, _ := env.volumes.ListByNovel(ctx, "n1")
	chapters, _ := env.chapters.ListByNovel(ctx, "n1")
	if len(volumes) != 1 {
		t.Errorf("volumes after rerun = %d, want 1", len(volumes))
	}
	if len(chapters) != 2 {
		t.Errorf("chapters after rerun = %d, want 2", len(chapters))
	}

	nodes, _ := env.outlines.ListByTask(ctx, task.ID)
	var chapterNodes int
	for _, n := range nodes {
		if n.Level == entity.OutlineLevelChapter {
			chapterNodes++
		}
	}
	if chapterNodes != 2 {
		t.Errorf("chapter nodes after rerun = %d, want 2", chapterNodes)
	}
}

func TestExecuteStage_outlineMidFailureKeepsConsumedChars(t *testing.T) {
	t.Parallel()
	// 第二次调用返回不可解析的分卷载荷，此前的全书大纲调用已经产生消耗
	env := newTestEnv(func(call int, _ []*schema.Message) (string, error) {
		if call == 1 {
			return "全书走向：守灯人与雾海的三幕故事。", nil
		}
		return "这不是 JSON", nil
	})
	task := seedOutlineTask(t, env)
	ctx := context.Background()

	_, err := env.svc.ExecuteStage(ctx, task.ID, "owner", entity.StageOutline)
	if !apperrors.IsCode(err, apperrors.CodeStageOutputInvalid) {
		t.Fatalf("ExecuteStage(outline) error = %v, want stage output invalid", err)
	}

	// 失败记录与任务累计都要带上已消耗的字符数
	record, _ := env.records.GetLatestByTaskAndStage(ctx, task.ID, entity.StageOutline)
	if record == nil || record.Status != entity.StageRecordStatusFailed {
		t.Fatalf("record = %+v, want failed outline record", record)
	}
	if record.CharsConsumed <= 0 {
		t.Errorf("record.CharsConsumed = %d, want > 0 for partial failure", record.CharsConsumed)
	}
	stored, _ := env.tasks.GetByID(ctx, task.ID)
	if stored.TotalCharsConsumed <= 0 {
		t.Errorf("TotalCharsConsumed = %d, want > 0 for partial failure", stored.TotalCharsConsumed)
	}
}
