package retrieval

import (
	"strings"
	"testing"
)

func TestSplitByRunes(t *testing.T) {
	t.Parallel()

	t.Run("short text single chunk", func(t *testing.T) {
		t.Parallel()
		got := splitByRunes("短文本", 800, 80)
		if len(got) != 1 || got[0] != "短文本" {
			t.Fatalf("got %v", got)
		}
	})

	t.Run("empty returns nil", func(t *testing.T) {
		t.Parallel()
		if got := splitByRunes("   ", 800, 80); got != nil {
			t.Fatalf("got %v", got)
		}
	})

	t.Run("chunks overlap", func(t *testing.T) {
		t.Parallel()
		text := strings.Repeat("甲", 100) + strings.Repeat("乙", 100)
		got := splitByRunes(text, 100, 20)
		if len(got) != 3 {
			t.Fatalf("chunks = %d, want 3", len(got))
		}
		// 第二块应从第 80 个 rune 开始，包含前一块末尾的 20 个
		second := []rune(got[1])
		if string(second[:20]) != strings.Repeat("甲", 20) {
			t.Fatalf("second chunk misses overlap: %q", string(second[:20]))
		}
	})

	t.Run("overlap ge size degrades to no overlap", func(t *testing.T) {
		t.Parallel()
		text := strings.Repeat("a", 250)
		got := splitByRunes(text, 100, 100)
		if len(got) != 3 {
			t.Fatalf("chunks = %d, want 3", len(got))
		}
	})
}

func TestBuildPromptContext(t *testing.T) {
	t.Parallel()

	if got := BuildPromptContext(nil, 5, 100); got != "" {
		t.Fatalf("empty segments should render empty, got %q", got)
	}

	segs := []Segment{
		{Text: "他推开门，\n雪落了一地。", SeqNum: 3},
		{Text: strings.Repeat("长", 500), SeqNum: 7},
		{Text: "不该出现", SeqNum: 9},
	}
	got := BuildPromptContext(segs, 2, 20)
	if strings.Contains(got, "不该出现") {
		t.Fatalf("maxSegments not honored: %q", got)
	}
	if !strings.Contains(got, "(第3章) 他推开门， 雪落了一地。") {
		t.Fatalf("newline compaction failed: %q", got)
	}
	if !strings.Contains(got, strings.Repeat("长", 20)+"…") {
		t.Fatalf("truncation failed: %q", got)
	}
}
