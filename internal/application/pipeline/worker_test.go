package pipeline

import (
	"context"
	"testing"

	"github.com/cloudwego/eino/schema"

	"bookforge-api/internal/infrastructure/messaging"
)

func TestStageWorker_handleExecutesAndAdvances(t *testing.T) {
	t.Parallel()
	env := newTestEnv(plainResponder("头脑风暴产出"))
	task := mustCreateTask(t, env, false)
	worker := NewStageWorker(env.svc)

	msg, err := messaging.NewMessage("m1", messaging.MsgTypeStageExec, "owner", task.ID, &messaging.StageJobMessage{
		UserID:      "owner",
		TaskID:      task.ID,
		Stage:       "idea",
		AutoAdvance: true,
	})
	if err != nil {
		t.Fatal(err)
	}

	if err := worker.Handle(context.Background(), msg); err != nil {
		t.Fatalf("Handle() error = %v", err)
	}

	// 创意阶段完成后自动投递标题阶段
	if len(env.jobs.jobs) != 1 {
		t.Fatalf("published %d jobs, want 1", len(env.jobs.jobs))
	}
	if env.jobs.jobs[0].Stage != "title" || !env.jobs.jobs[0].AutoAdvance {
		t.Errorf("next job = %+v, want title with auto advance", env.jobs.jobs[0])
	}
}

func TestStageWorker_permanentErrorDiscarded(t *testing.T) {
	t.Parallel()
	env := newTestEnv(plainResponder("无关"))
	task := mustCreateTask(t, env, false)
	worker := NewStageWorker(env.svc)

	// 阶段顺序错误属于业务失败，消息直接确认不重试
	msg, err := messaging.NewMessage("m1", messaging.MsgTypeStageExec, "owner", task.ID, &messaging.StageJobMessage{
		UserID: "owner",
		TaskID: task.ID,
		Stage:  "review",
	})
	if err != nil {
		t.Fatal(err)
	}
	if err := worker.Handle(context.Background(), msg); err != nil {
		t.Fatalf("Handle() error = %v, want nil for permanent failures", err)
	}
}

func TestStageWorker_titleStopsAutoAdvance(t *testing.T) {
	t.Parallel()
	responses := map[int]string{
		1: "头脑风暴产出",
		2: `{"titles":["灯塔之下"],"synopsis":"简介"}`,
	}
	env := newTestEnv(func(call int, _ []*schema.Message) (string, error) {
		return responses[call], nil
	})
	task := mustCreateTask(t, env, false)
	worker := NewStageWorker(env.svc)

	ideaJob, _ := messaging.NewMessage("m1", messaging.MsgTypeStageExec, "owner", task.ID, &messaging.StageJobMessage{
		UserID: "owner", TaskID: task.ID, Stage: "idea", AutoAdvance: true,
	})
	if err := worker.Handle(context.Background(), ideaJob); err != nil {
		t.Fatalf("Handle(idea) error = %v", err)
	}

	titleJob, _ := messaging.NewMessage("m2", messaging.MsgTypeStageExec, "owner", task.ID, &messaging.StageJobMessage{
		UserID: "owner", TaskID: task.ID, Stage: "title", AutoAdvance: true,
	})
	if err := worker.Handle(context.Background(), titleJob); err != nil {
		t.Fatalf("Handle(title) error = %v", err)
	}

	// 标题之后必须等用户选书名，自动推进到此为止
	for _, job := range env.jobs.jobs {
		if job.Stage == "outline" {
			t.Error("outline job should not be published before title selection")
		}
	}
}
