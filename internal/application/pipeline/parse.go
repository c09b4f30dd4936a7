package pipeline

import (
	"encoding/json"
	"strings"

	apperrors "bookforge-api/pkg/errors"
)

// stripCodeFence 去掉模型响应外层的 Markdown 代码围栏。
// 带围栏与不带围栏的同一响应必须解析出相同结果。
func stripCodeFence(s string) string {
	out := strings.TrimSpace(s)
	if !strings.HasPrefix(out, "```") {
		return out
	}

	out = strings.TrimPrefix(out, "```")
	if idx := strings.Index(out, "\n"); idx >= 0 {
		// 首行可能是语言标记（json 等），丢弃
		firstLine := strings.TrimSpace(out[:idx])
		if firstLine == "" || !strings.ContainsAny(firstLine, "{[") {
			out = out[idx+1:]
		}
	}
	out = strings.TrimSuffix(strings.TrimSpace(out), "```")
	return strings.TrimSpace(out)
}

// parseStageJSON 解析阶段的结构化输出。
// 无法解析的响应是阶段失败，不做静默兜底。
func parseStageJSON[T any](raw string) (*T, error) {
	cleaned := stripCodeFence(raw)
	var out T
	if err := json.Unmarshal([]byte(cleaned), &out); err != nil {
		return nil, apperrors.Wrap(err, apperrors.CodeStageOutputInvalid, "failed to parse stage output")
	}
	return &out, nil
}

// titlePayload 标题阶段的结构化输出
type titlePayload struct {
	Titles   []string `json:"titles"`
	Synopsis string   `json:"synopsis"`
}

// volumesPayload 大纲阶段分卷列表输出
type volumesPayload struct {
	Volumes []volumePayload `json:"volumes"`
}

type volumePayload struct {
	Title   string `json:"title"`
	Summary string `json:"summary,omitempty"`
}

// chaptersPayload 大纲阶段单卷章节列表输出
type chaptersPayload struct {
	Chapters []chapterPayload `json:"chapters"`
}

type chapterPayload struct {
	Title        string      `json:"title"`
	Outline      string      `json:"outline,omitempty"`
	Characters   mentionList `json:"characters,omitempty"`
	WorldEntries mentionList `json:"world_entries,omitempty"`
}

// entityMention 章节大纲中提到的实体。
// 模型返回两种形态：纯名字字符串，或携带描述的对象。
type entityMention struct {
	Name        string `json:"name"`
	Description string `json:"description,omitempty"`
}

func (m *entityMention) UnmarshalJSON(data []byte) error {
	trimmed := strings.TrimSpace(string(data))
	if strings.HasPrefix(trimmed, `"`) {
		return json.Unmarshal(data, &m.Name)
	}
	type alias entityMention
	return json.Unmarshal(data, (*alias)(m))
}

type mentionList []entityMention

// ReviewReport 审校阶段的结构化报告
type ReviewReport struct {
	Score       float64       `json:"score"`
	Issues      []ReviewIssue `json:"issues,omitempty"`
	Suggestions []string      `json:"suggestions,omitempty"`
	Strengths   []string      `json:"strengths,omitempty"`
}

type ReviewIssue struct {
	Severity    string `json:"severity"`
	Description string `json:"description,omitempty"`
}

// NeedsOptimization 检查报告是否存在中高危问题
func (r *ReviewReport) NeedsOptimization() bool {
	for _, issue := range r.Issues {
		switch strings.ToLower(strings.TrimSpace(issue.Severity)) {
		case "high", "medium", "高", "中":
			return true
		}
	}
	return false
}
