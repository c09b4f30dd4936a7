package prompting

import (
	"context"
	"strings"
	"testing"

	"bookforge-api/internal/domain/entity"
)

func newTestExpander(chapters []*entity.Chapter, chars map[string]*entity.Character, worlds map[string]*entity.WorldEntry) *MentionExpander {
	if chars == nil {
		chars = map[string]*entity.Character{}
	}
	if worlds == nil {
		worlds = map[string]*entity.WorldEntry{}
	}
	return NewMentionExpander(
		&fakeCharacterRepo{byID: chars},
		&fakeWorldRepo{byID: worlds},
		&fakeChapterRepo{chapters: chapters},
	)
}

func TestExpand_worldEntry(t *testing.T) {
	t.Parallel()
	m := newTestExpander(nil, nil, map[string]*entity.WorldEntry{
		"w1": {ID: "w1", NovelID: "n1", Name: "北境", Category: "地理", Description: "终年积雪"},
	})
	got := m.Expand(context.Background(), "n1", "主角抵达@北境 之后")
	if !strings.Contains(got, "终年积雪") {
		t.Fatalf("world entry not expanded: %q", got)
	}
}

func TestExpand_chapterForms(t *testing.T) {
	t.Parallel()
	chapters := []*entity.Chapter{
		{ID: "ch1", NovelID: "n1", SeqNum: 1, Title: "初雪", ContentText: "完整正文内容", Summary: "简短摘要"},
	}
	m := newTestExpander(chapters, nil, nil)

	got := m.Expand(context.Background(), "n1", "接着@初雪:全文 往下写")
	if !strings.Contains(got, "完整正文内容") {
		t.Fatalf("full form should use content text: %q", got)
	}

	got = m.Expand(context.Background(), "n1", "呼应@初雪 的伏笔")
	if !strings.Contains(got, "简短摘要") || strings.Contains(got, "完整正文内容") {
		t.Fatalf("default form should use summary: %q", got)
	}
}

func TestExpand_unknownMentionKept(t *testing.T) {
	t.Parallel()
	m := newTestExpander(nil, nil, nil)
	input := "提到@不存在的人 的段落"
	if got := m.Expand(context.Background(), "n1", input); got != input {
		t.Fatalf("unknown mention must leave input untouched: %q", got)
	}
}

func TestExpand_duplicateMentionOnce(t *testing.T) {
	t.Parallel()
	m := newTestExpander(nil, map[string]*entity.Character{
		"c1": {ID: "c1", NovelID: "n1", Name: "林远", Description: "剑客"},
	}, nil)
	got := m.Expand(context.Background(), "n1", "@林远 与@林远 对话")
	if strings.Count(got, "剑客") != 1 {
		t.Fatalf("duplicate mention expanded twice: %q", got)
	}
}

func TestExpand_noNovelScopeIsNoop(t *testing.T) {
	t.Parallel()
	m := newTestExpander(nil, map[string]*entity.Character{
		"c1": {ID: "c1", NovelID: "n1", Name: "林远"},
	}, nil)
	input := "@林远 登场"
	if got := m.Expand(context.Background(), "", input); got != input {
		t.Fatalf("expansion without novel scope must be a no-op: %q", got)
	}
}
