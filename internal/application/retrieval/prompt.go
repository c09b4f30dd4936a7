package retrieval

import (
	"fmt"
	"strings"
)

// BuildPromptContext 将召回结果格式化为可直接注入 Prompt 的块。
// 只保留章节序号与压缩后的片段文本，score 等调试信息不进 Prompt。
func BuildPromptContext(segments []Segment, maxSegments int, maxRunesPerSegment int) string {
	if len(segments) == 0 {
		return ""
	}
	if maxSegments <= 0 {
		maxSegments = 10
	}
	if maxRunesPerSegment <= 0 {
		maxRunesPerSegment = 400
	}
	if len(segments) > maxSegments {
		segments = segments[:maxSegments]
	}

	var b strings.Builder
	b.WriteString("【前文相关片段（可能为空）】")
	for i, s := range segments {
		txt := truncateRunes(compactOneLine(s.Text), maxRunesPerSegment)
		if txt == "" {
			continue
		}
		b.WriteByte('\n')
		fmt.Fprintf(&b, "[%d] (第%d章) %s", i+1, s.SeqNum, txt)
	}
	return strings.TrimSpace(b.String())
}

// compactOneLine 压缩为单行，连续空白折叠为一个空格
func compactOneLine(s string) string {
	return strings.Join(strings.Fields(s), " ")
}

func truncateRunes(s string, max int) string {
	if max <= 0 {
		return ""
	}
	r := []rune(s)
	if len(r) <= max {
		return s
	}
	return strings.TrimSpace(string(r[:max])) + "…"
}
