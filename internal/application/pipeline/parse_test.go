package pipeline

import (
	"encoding/json"
	"testing"

	apperrors "bookforge-api/pkg/errors"
)

func TestStripCodeFence(t *testing.T) {
	t.Parallel()
	tests := []struct {
		name string
		in   string
		want string
	}{
		{"无围栏", `{"a":1}`, `{"a":1}`},
		{"json 围栏", "```json\n{\"a\":1}\n```", `{"a":1}`},
		{"裸围栏", "```\n{\"a\":1}\n```", `{"a":1}`},
		{"带前后空白", "  ```json\n{\"a\":1}\n```  ", `{"a":1}`},
		{"围栏内多行", "```json\n{\n  \"a\": 1\n}\n```", "{\n  \"a\": 1\n}"},
	}
	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			got := stripCodeFence(tt.in)
			if got != tt.want {
				t.Errorf("stripCodeFence(%q) = %q, want %q", tt.in, got, tt.want)
			}
			// 幂等：已剥离的文本再剥离一次不变
			if again := stripCodeFence(got); again != got {
				t.Errorf("stripCodeFence is not idempotent: %q -> %q", got, again)
			}
		})
	}
}

func TestParseStageJSON_fencedAndBare(t *testing.T) {
	t.Parallel()
	for _, raw := range []string{
		`{"titles":["灯塔之下"],"synopsis":"简介"}`,
		"```json\n{\"titles\":[\"灯塔之下\"],\"synopsis\":\"简介\"}\n```",
	} {
		payload, err := parseStageJSON[titlePayload](raw)
		if err != nil {
			t.Fatalf("parseStageJSON(%q) error = %v", raw, err)
		}
		if len(payload.Titles) != 1 || payload.Titles[0] != "灯塔之下" {
			t.Errorf("titles = %v", payload.Titles)
		}
	}
}

func TestParseStageJSON_invalidOutput(t *testing.T) {
	t.Parallel()
	_, err := parseStageJSON[titlePayload]("模型没有按要求输出 JSON，而是写了一段散文。")
	if !apperrors.IsCode(err, apperrors.CodeStageOutputInvalid) {
		t.Fatalf("parseStageJSON() error = %v, want stage output invalid", err)
	}
}

func TestEntityMention_bothShapes(t *testing.T) {
	t.Parallel()
	raw := `{"chapters":[{"title":"第一章","outline":"开端","characters":["林远",{"name":"苏青","description":"女主"}]}]}`

	var payload chaptersPayload
	if err := json.Unmarshal([]byte(raw), &payload); err != nil {
		t.Fatalf("unmarshal error = %v", err)
	}
	chars := payload.Chapters[0].Characters
	if len(chars) != 2 {
		t.Fatalf("characters = %d, want 2", len(chars))
	}
	if chars[0].Name != "林远" || chars[0].Description != "" {
		t.Errorf("string mention = %+v", chars[0])
	}
	if chars[1].Name != "苏青" || chars[1].Description != "女主" {
		t.Errorf("object mention = %+v", chars[1])
	}
}

func TestReviewReport_needsOptimization(t *testing.T) {
	t.Parallel()
	tests := []struct {
		name     string
		severity string
		want     bool
	}{
		{"高危英文", "high", true},
		{"中危英文大写", "Medium", true},
		{"高危中文", "高", true},
		{"中危中文", "中", true},
		{"低危", "low", false},
		{"未知级别", "cosmetic", false},
	}
	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			r := &ReviewReport{Issues: []ReviewIssue{{Severity: tt.severity}}}
			if got := r.NeedsOptimization(); got != tt.want {
				t.Errorf("NeedsOptimization(%q) = %v, want %v", tt.severity, got, tt.want)
			}
		})
	}

	empty := &ReviewReport{Score: 8}
	if empty.NeedsOptimization() {
		t.Error("report without issues should not need optimization")
	}
}
