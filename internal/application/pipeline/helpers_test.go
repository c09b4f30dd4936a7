package pipeline

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"github.com/cloudwego/eino/components/model"
	"github.com/cloudwego/eino/schema"

	"bookforge-api/internal/application/generation"
	"bookforge-api/internal/application/prompting"
	"bookforge-api/internal/config"
	"bookforge-api/internal/domain/entity"
	"bookforge-api/internal/domain/repository"
	"bookforge-api/internal/domain/service"
	"bookforge-api/internal/infrastructure/messaging"
)

// fakeChatModel 以回调驱动的模型桩。responder 按收到的消息决定返回内容。
type fakeChatModel struct {
	mu        sync.Mutex
	calls     int
	responder func(call int, msgs []*schema.Message) (string, error)
}

func (f *fakeChatModel) Generate(ctx context.Context, msgs []*schema.Message, _ ...model.Option) (*schema.Message, error) {
	f.mu.Lock()
	f.calls++
	call := f.calls
	f.mu.Unlock()
	content, err := f.responder(call, msgs)
	if err != nil {
		return nil, err
	}
	return schema.AssistantMessage(content, nil), nil
}

func (f *fakeChatModel) Stream(ctx context.Context, msgs []*schema.Message, _ ...model.Option) (*schema.StreamReader[*schema.Message], error) {
	f.mu.Lock()
	f.calls++
	call := f.calls
	f.mu.Unlock()
	content, err := f.responder(call, msgs)
	if err != nil {
		return nil, err
	}
	return schema.StreamReaderFromArray([]*schema.Message{
		schema.AssistantMessage(content, nil),
	}), nil
}

type fakeFactory struct {
	model model.BaseChatModel
}

func (f *fakeFactory) Get(ctx context.Context, name string) (model.BaseChatModel, error) {
	return f.model, nil
}

func (f *fakeFactory) Resolve(name string) (string, config.ProviderConfig, error) {
	return "openai", config.ProviderConfig{CharsPerToken: 2}, nil
}

type fakeLedger struct {
	mu        sync.Mutex
	balanceOK bool
	consumed  []service.ConsumeInput
}

func (f *fakeLedger) EstimateCost(ctx context.Context, provider, model string, in, out int64) (int64, error) {
	return in + out, nil
}

func (f *fakeLedger) CheckBalance(ctx context.Context, userID string, cost int64) (bool, error) {
	return f.balanceOK, nil
}

func (f *fakeLedger) Consume(ctx context.Context, in service.ConsumeInput) (*service.ConsumeResult, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.consumed = append(f.consumed, in)
	return &service.ConsumeResult{TotalCost: in.InputChars + in.OutputChars}, nil
}

type fakeTaskRepo struct {
	mu    sync.Mutex
	tasks map[string]*entity.Task
}

func newFakeTaskRepo() *fakeTaskRepo {
	return &fakeTaskRepo{tasks: map[string]*entity.Task{}}
}

func (r *fakeTaskRepo) Create(ctx context.Context, task *entity.Task) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.tasks[task.ID] = task
	return nil
}

func (r *fakeTaskRepo) GetByID(ctx context.Context, id string) (*entity.Task, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	t, ok := r.tasks[id]
	if !ok || t.DeletedAt != nil {
		return nil, nil
	}
	return t, nil
}

func (r *fakeTaskRepo) Update(ctx context.Context, task *entity.Task) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.tasks[task.ID] = task
	return nil
}

func (r *fakeTaskRepo) SoftDelete(ctx context.Context, id string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if t, ok := r.tasks[id]; ok {
		now := t.UpdatedAt
		t.DeletedAt = &now
	}
	return nil
}

func (r *fakeTaskRepo) ListByOwner(ctx context.Context, ownerID string, filter *repository.TaskFilter, p repository.Pagination) (*repository.PagedResult[*entity.Task], error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var items []*entity.Task
	for _, t := range r.tasks {
		if t.OwnerID == ownerID && t.DeletedAt == nil {
			items = append(items, t)
		}
	}
	return repository.NewPagedResult(items, int64(len(items)), p), nil
}

func (r *fakeTaskRepo) CountActiveByOwner(ctx context.Context, ownerID string) (int64, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var n int64
	for _, t := range r.tasks {
		if t.OwnerID == ownerID && t.DeletedAt == nil && t.IsActive() {
			n++
		}
	}
	return n, nil
}

type fakeRecordRepo struct {
	mu      sync.Mutex
	records []*entity.StageRecord
}

func (r *fakeRecordRepo) Create(ctx context.Context, record *entity.StageRecord) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.records = append(r.records, record)
	return nil
}

func (r *fakeRecordRepo) Update(ctx context.Context, record *entity.StageRecord) error {
	return nil
}

func (r *fakeRecordRepo) GetLatestByTaskAndStage(ctx context.Context, taskID string, stage entity.StageType) (*entity.StageRecord, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for i := len(r.records) - 1; i >= 0; i-- {
		if r.records[i].TaskID == taskID && r.records[i].Stage == stage {
			return r.records[i], nil
		}
	}
	return nil, nil
}

func (r *fakeRecordRepo) ListByTask(ctx context.Context, taskID string) ([]*entity.StageRecord, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []*entity.StageRecord
	for _, rec := range r.records {
		if rec.TaskID == taskID {
			out = append(out, rec)
		}
	}
	return out, nil
}

type fakeOutlineRepo struct {
	mu    sync.Mutex
	nodes []*entity.OutlineNode
}

func (r *fakeOutlineRepo) Create(ctx context.Context, node *entity.OutlineNode) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.nodes = append(r.nodes, node)
	return nil
}

func (r *fakeOutlineRepo) Update(ctx context.Context, node *entity.OutlineNode) error {
	return nil
}

func (r *fakeOutlineRepo) ListByTask(ctx context.Context, taskID string) ([]*entity.OutlineNode, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []*entity.OutlineNode
	for _, n := range r.nodes {
		if n.TaskID == taskID {
			out = append(out, n)
		}
	}
	return out, nil
}

func (r *fakeOutlineRepo) ListByParent(ctx context.Context, parentID string) ([]*entity.OutlineNode, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []*entity.OutlineNode
	for _, n := range r.nodes {
		if n.ParentID == parentID {
			out = append(out, n)
		}
	}
	return out, nil
}

func (r *fakeOutlineRepo) ListByTaskAndLevel(ctx context.Context, taskID string, level int) ([]*entity.OutlineNode, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []*entity.OutlineNode
	for _, n := range r.nodes {
		if n.TaskID == taskID && n.Level == level {
			out = append(out, n)
		}
	}
	return out, nil
}

func (r *fakeOutlineRepo) DeleteByTask(ctx context.Context, taskID string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	kept := r.nodes[:0]
	for _, n := range r.nodes {
		if n.TaskID != taskID {
			kept = append(kept, n)
		}
	}
	r.nodes = kept
	return nil
}

type fakeNovelRepo struct {
	mu     sync.Mutex
	novels map[string]*entity.Novel
}

func newFakeNovelRepo() *fakeNovelRepo {
	return &fakeNovelRepo{novels: map[string]*entity.Novel{}}
}

func (r *fakeNovelRepo) Create(ctx context.Context, novel *entity.Novel) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.novels[novel.ID] = novel
	return nil
}

func (r *fakeNovelRepo) GetByID(ctx context.Context, id string) (*entity.Novel, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.novels[id], nil
}

func (r *fakeNovelRepo) Update(ctx context.Context, novel *entity.Novel) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.novels[novel.ID] = novel
	return nil
}

func (r *fakeNovelRepo) ListByOwner(ctx context.Context, ownerID string, p repository.Pagination) (*repository.PagedResult[*entity.Novel], error) {
	return repository.NewPagedResult[*entity.Novel](nil, 0, p), nil
}

type fakeVolumeRepo struct {
	mu      sync.Mutex
	volumes []*entity.Volume
}

func (r *fakeVolumeRepo) Create(ctx context.Context, volume *entity.Volume) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.volumes = append(r.volumes, volume)
	return nil
}

func (r *fakeVolumeRepo) GetByID(ctx context.Context, id string) (*entity.Volume, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, v := range r.volumes {
		if v.ID == id {
			return v, nil
		}
	}
	return nil, nil
}

func (r *fakeVolumeRepo) ListByNovel(ctx context.Context, novelID string) ([]*entity.Volume, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []*entity.Volume
	for _, v := range r.volumes {
		if v.NovelID == novelID {
			out = append(out, v)
		}
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].SeqNum < out[j].SeqNum })
	return out, nil
}

func (r *fakeVolumeRepo) DeleteByNovel(ctx context.Context, novelID string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	kept := r.volumes[:0]
	for _, v := range r.volumes {
		if v.NovelID != novelID {
			kept = append(kept, v)
		}
	}
	r.volumes = kept
	return nil
}

type fakeChapterRepo struct {
	mu       sync.Mutex
	chapters []*entity.Chapter
}

func (r *fakeChapterRepo) Create(ctx context.Context, chapter *entity.Chapter) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.chapters = append(r.chapters, chapter)
	return nil
}

func (r *fakeChapterRepo) GetByID(ctx context.Context, id string) (*entity.Chapter, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, c := range r.chapters {
		if c.ID == id {
			return c, nil
		}
	}
	return nil, nil
}

func (r *fakeChapterRepo) Update(ctx context.Context, chapter *entity.Chapter) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	for i, c := range r.chapters {
		if c.ID == chapter.ID {
			r.chapters[i] = chapter
			return nil
		}
	}
	return fmt.Errorf("chapter %s not found", chapter.ID)
}

func (r *fakeChapterRepo) ListByNovel(ctx context.Context, novelID string) ([]*entity.Chapter, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []*entity.Chapter
	for _, c := range r.chapters {
		if c.NovelID == novelID {
			out = append(out, c)
		}
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].SeqNum < out[j].SeqNum })
	return out, nil
}

func (r *fakeChapterRepo) ListByVolume(ctx context.Context, volumeID string) ([]*entity.Chapter, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []*entity.Chapter
	for _, c := range r.chapters {
		if c.VolumeID == volumeID {
			out = append(out, c)
		}
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].SeqNum < out[j].SeqNum })
	return out, nil
}

func (r *fakeChapterRepo) ListEarlierInVolume(ctx context.Context, volumeID string, seqNum int) ([]*entity.Chapter, error) {
	all, _ := r.ListByVolume(ctx, volumeID)
	var out []*entity.Chapter
	for _, c := range all {
		if c.SeqNum < seqNum {
			out = append(out, c)
		}
	}
	return out, nil
}

func (r *fakeChapterRepo) GetFirstPending(ctx context.Context, novelID string) (*entity.Chapter, error) {
	all, _ := r.ListByNovel(ctx, novelID)
	for _, c := range all {
		if c.Status != entity.ChapterStatusCompleted {
			return c, nil
		}
	}
	return nil, nil
}

func (r *fakeChapterRepo) DeleteByNovel(ctx context.Context, novelID string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	kept := r.chapters[:0]
	for _, c := range r.chapters {
		if c.NovelID != novelID {
			kept = append(kept, c)
		}
	}
	r.chapters = kept
	return nil
}

type fakeCharacterRepo struct {
	mu         sync.Mutex
	characters []*entity.Character
}

func (r *fakeCharacterRepo) Create(ctx context.Context, character *entity.Character) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.characters = append(r.characters, character)
	return nil
}

func (r *fakeCharacterRepo) GetByID(ctx context.Context, id string) (*entity.Character, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, c := range r.characters {
		if c.ID == id {
			return c, nil
		}
	}
	return nil, nil
}

func (r *fakeCharacterRepo) GetByName(ctx context.Context, novelID, name string) (*entity.Character, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, c := range r.characters {
		if c.NovelID == novelID && c.Name == name {
			return c, nil
		}
	}
	return nil, nil
}

func (r *fakeCharacterRepo) ListByNovel(ctx context.Context, novelID string) ([]*entity.Character, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []*entity.Character
	for _, c := range r.characters {
		if c.NovelID == novelID {
			out = append(out, c)
		}
	}
	return out, nil
}

func (r *fakeCharacterRepo) ListByIDs(ctx context.Context, ids []string) ([]*entity.Character, error) {
	var out []*entity.Character
	for _, id := range ids {
		if c, _ := r.GetByID(ctx, id); c != nil {
			out = append(out, c)
		}
	}
	return out, nil
}

type fakeWorldRepo struct {
	mu      sync.Mutex
	entries []*entity.WorldEntry
}

func (r *fakeWorldRepo) Create(ctx context.Context, entry *entity.WorldEntry) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.entries = append(r.entries, entry)
	return nil
}

func (r *fakeWorldRepo) GetByID(ctx context.Context, id string) (*entity.WorldEntry, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, e := range r.entries {
		if e.ID == id {
			return e, nil
		}
	}
	return nil, nil
}

func (r *fakeWorldRepo) GetByName(ctx context.Context, novelID, name string) (*entity.WorldEntry, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, e := range r.entries {
		if e.NovelID == novelID && e.Name == name {
			return e, nil
		}
	}
	return nil, nil
}

func (r *fakeWorldRepo) ListByNovel(ctx context.Context, novelID string) ([]*entity.WorldEntry, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []*entity.WorldEntry
	for _, e := range r.entries {
		if e.NovelID == novelID {
			out = append(out, e)
		}
	}
	return out, nil
}

func (r *fakeWorldRepo) ListByIDs(ctx context.Context, ids []string) ([]*entity.WorldEntry, error) {
	var out []*entity.WorldEntry
	for _, id := range ids {
		if e, _ := r.GetByID(ctx, id); e != nil {
			out = append(out, e)
		}
	}
	return out, nil
}

type fakeGroupRepo struct {
	groups map[string]*entity.PromptGroup
}

func (r *fakeGroupRepo) GetByID(ctx context.Context, id string) (*entity.PromptGroup, error) {
	return r.groups[id], nil
}

func (r *fakeGroupRepo) Create(ctx context.Context, group *entity.PromptGroup) error {
	r.groups[group.ID] = group
	return nil
}

type fakeUserRepo struct {
	users map[string]*entity.User
}

func (r *fakeUserRepo) Create(ctx context.Context, user *entity.User) error {
	r.users[user.ID] = user
	return nil
}

func (r *fakeUserRepo) GetByID(ctx context.Context, id string) (*entity.User, error) {
	return r.users[id], nil
}

func (r *fakeUserRepo) GetBalance(ctx context.Context, id string) (int64, error) {
	if u := r.users[id]; u != nil {
		return u.Balance, nil
	}
	return 0, nil
}

func (r *fakeUserRepo) DeductBalance(ctx context.Context, id string, amount int64) error {
	if u := r.users[id]; u != nil {
		u.Balance -= amount
	}
	return nil
}

type fakePromptRepo struct {
	prompts map[string]*entity.Prompt
}

func (r *fakePromptRepo) Create(ctx context.Context, prompt *entity.Prompt) error {
	r.prompts[prompt.ID] = prompt
	return nil
}

func (r *fakePromptRepo) GetByID(ctx context.Context, id string) (*entity.Prompt, error) {
	return r.prompts[id], nil
}

func (r *fakePromptRepo) Update(ctx context.Context, prompt *entity.Prompt) error {
	r.prompts[prompt.ID] = prompt
	return nil
}

func (r *fakePromptRepo) ListByAuthor(ctx context.Context, authorID string, p repository.Pagination) (*repository.PagedResult[*entity.Prompt], error) {
	return repository.NewPagedResult[*entity.Prompt](nil, 0, p), nil
}

func (r *fakePromptRepo) HasGrant(ctx context.Context, promptID, userID string) (bool, error) {
	return false, nil
}

type fakeJobs struct {
	mu   sync.Mutex
	jobs []*StageJobRecord
}

// StageJobRecord 测试用的投递记录
type StageJobRecord struct {
	TaskID      string
	Stage       string
	AutoAdvance bool
}

func (f *fakeJobs) PublishStageJob(ctx context.Context, job *messaging.StageJobMessage) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.jobs = append(f.jobs, &StageJobRecord{TaskID: job.TaskID, Stage: job.Stage, AutoAdvance: job.AutoAdvance})
	return "msg-1", nil
}

type fakeNotifier struct {
	mu     sync.Mutex
	events []service.ProgressEvent
}

func (f *fakeNotifier) Emit(ctx context.Context, taskID string, event service.ProgressEvent) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.events = append(f.events, event)
	return nil
}

func (f *fakeNotifier) byType(t service.ProgressEventType) []service.ProgressEvent {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []service.ProgressEvent
	for _, e := range f.events {
		if e.Type == t {
			out = append(out, e)
		}
	}
	return out
}

// testEnv 打包编排测试所需的全部桩
type testEnv struct {
	svc      *TaskService
	model    *fakeChatModel
	ledger   *fakeLedger
	tasks    *fakeTaskRepo
	records  *fakeRecordRepo
	outlines *fakeOutlineRepo
	novels   *fakeNovelRepo
	volumes  *fakeVolumeRepo
	chapters *fakeChapterRepo
	chars    *fakeCharacterRepo
	worlds   *fakeWorldRepo
	groups   *fakeGroupRepo
	jobs     *fakeJobs
	notified *fakeNotifier
}

func newTestEnv(responder func(call int, msgs []*schema.Message) (string, error)) *testEnv {
	env := &testEnv{
		model:    &fakeChatModel{responder: responder},
		ledger:   &fakeLedger{balanceOK: true},
		tasks:    newFakeTaskRepo(),
		records:  &fakeRecordRepo{},
		outlines: &fakeOutlineRepo{},
		novels:   newFakeNovelRepo(),
		volumes:  &fakeVolumeRepo{},
		chapters: &fakeChapterRepo{},
		chars:    &fakeCharacterRepo{},
		worlds:   &fakeWorldRepo{},
		groups:   &fakeGroupRepo{groups: map[string]*entity.PromptGroup{}},
		jobs:     &fakeJobs{},
		notified: &fakeNotifier{},
	}

	prompts := &fakePromptRepo{prompts: map[string]*entity.Prompt{}}
	for _, id := range []string{"p-idea", "p-title", "p-outline", "p-content", "p-review"} {
		prompts.prompts[id] = &entity.Prompt{
			ID:         id,
			AuthorID:   "owner",
			Name:       id,
			Visibility: entity.PromptVisibilityPrivate,
			Moderation: entity.PromptModerationNormal,
			Blocks: []entity.PromptBlock{
				{ID: id + "-b1", PromptID: id, Type: entity.PromptBlockText, Role: "system", Content: "写作指令", SortOrder: 0},
			},
		}
	}
	users := &fakeUserRepo{users: map[string]*entity.User{
		"owner": {ID: "owner", Username: "owner", Balance: 100000},
	}}

	mentions := prompting.NewMentionExpander(env.chars, env.worlds, env.chapters)
	assembler := prompting.NewAssembler(prompts, env.chars, env.worlds, users, mentions, nil)

	genCfg := &config.Config{Pipeline: config.PipelineConfig{
		EstimatedOutputChars:   8000,
		TransientRetryAttempts: 1,
	}}
	generator := generation.NewService(&fakeFactory{model: env.model}, env.ledger, genCfg)

	env.svc = NewTaskService(Dependencies{
		Assembler:  assembler,
		Generator:  generator,
		Ledger:     env.ledger,
		Tasks:      env.tasks,
		Records:    env.records,
		Outlines:   env.outlines,
		Novels:     env.novels,
		Volumes:    env.volumes,
		Chapters:   env.chapters,
		Characters: env.chars,
		Worlds:     env.worlds,
		Groups:     env.groups,
		Jobs:       env.jobs,
		Config: &config.PipelineConfig{
			MaxActiveTasksPerUser: 3,
			MinCreateBalance:      50000,
			DefaultConcurrency:    2,
			MaxConcurrency:        4,
		},
	})
	env.svc.SetNotifier(env.notified)
	return env
}

// fullConfig 五个阶段齐备的任务配置
func fullConfig() *entity.TaskPromptConfig {
	return &entity.TaskPromptConfig{
		Idea:          entity.StagePromptConfig{PromptID: "p-idea"},
		Title:         entity.StagePromptConfig{PromptID: "p-title"},
		Outline:       entity.StagePromptConfig{PromptID: "p-outline"},
		Content:       entity.StagePromptConfig{PromptID: "p-content"},
		Review:        entity.StagePromptConfig{PromptID: "p-review"},
		ReviewEnabled: false,
	}
}
