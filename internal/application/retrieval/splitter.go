package retrieval

import "strings"

// splitByRunes 按 rune 数切分长文本，相邻分片之间保留 overlap 个 rune 的重叠。
// 分片按 rune 计数而非字节，中文正文一个字算一个单位。
func splitByRunes(s string, maxRunes int, overlapRunes int) []string {
	text := strings.TrimSpace(s)
	if text == "" {
		return nil
	}
	runes := []rune(text)
	if maxRunes <= 0 || len(runes) <= maxRunes {
		return []string{text}
	}

	if overlapRunes < 0 || overlapRunes >= maxRunes {
		overlapRunes = 0
	}
	step := maxRunes - overlapRunes

	var chunks []string
	for start := 0; ; start += step {
		end := start + maxRunes
		last := end >= len(runes)
		if last {
			end = len(runes)
		}
		if chunk := strings.TrimSpace(string(runes[start:end])); chunk != "" {
			chunks = append(chunks, chunk)
		}
		if last {
			return chunks
		}
	}
}
