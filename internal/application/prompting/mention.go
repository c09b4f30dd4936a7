package prompting

import (
	"context"
	"regexp"
	"strings"

	"bookforge-api/internal/domain/entity"
	"bookforge-api/internal/domain/repository"
	"bookforge-api/pkg/logger"
)

// mentionPattern 匹配 @名称，可选 :全文 / :摘要 后缀（仅对章节引用生效）。
var mentionPattern = regexp.MustCompile(`@([\p{Han}A-Za-z0-9_]{1,32})(?:[:：](全文|摘要|full|summary))?`)

const mentionSummaryRunes = 300

// MentionExpander 将自由输入中的 @提及展开为实体/章节全文。
type MentionExpander struct {
	characters repository.CharacterRepository
	worlds     repository.WorldEntryRepository
	chapters   repository.ChapterRepository
}

func NewMentionExpander(
	characters repository.CharacterRepository,
	worlds repository.WorldEntryRepository,
	chapters repository.ChapterRepository,
) *MentionExpander {
	return &MentionExpander{
		characters: characters,
		worlds:     worlds,
		chapters:   chapters,
	}
}

// Expand 解析 input 中的 @提及，把命中的实体内容前置到输入之前。
// 解析顺序：角色、世界观条目、章节标题；未命中的提及原样保留。
// 查找失败按未命中降级，展开是尽力而为的。
func (m *MentionExpander) Expand(ctx context.Context, novelID, input string) string {
	if m == nil || strings.TrimSpace(novelID) == "" || !strings.Contains(input, "@") {
		return input
	}

	matches := mentionPattern.FindAllStringSubmatch(input, -1)
	if len(matches) == 0 {
		return input
	}

	seen := make(map[string]bool, len(matches))
	blocks := make([]string, 0, len(matches))
	for _, match := range matches {
		name := match[1]
		form := normalizeForm(match[2])
		key := name + "#" + form
		if seen[key] {
			continue
		}
		seen[key] = true

		block := m.resolveMention(ctx, novelID, name, form)
		if block != "" {
			blocks = append(blocks, block)
		}
	}

	if len(blocks) == 0 {
		return input
	}
	return strings.Join(blocks, "\n\n") + "\n\n" + input
}

func normalizeForm(form string) string {
	switch form {
	case "全文", "full":
		return "full"
	default:
		return "summary"
	}
}

func (m *MentionExpander) resolveMention(ctx context.Context, novelID, name, form string) string {
	if m.characters != nil {
		ch, err := m.characters.GetByName(ctx, novelID, name)
		if err != nil {
			logger.FromContext(ctx).Warn("mention lookup failed", "name", name, "error", err)
		} else if ch != nil {
			return ch.Render()
		}
	}

	if m.worlds != nil {
		we, err := m.worlds.GetByName(ctx, novelID, name)
		if err != nil {
			logger.FromContext(ctx).Warn("mention lookup failed", "name", name, "error", err)
		} else if we != nil {
			return we.Render()
		}
	}

	if m.chapters != nil {
		if block := m.resolveChapterMention(ctx, novelID, name, form); block != "" {
			return block
		}
	}
	return ""
}

func (m *MentionExpander) resolveChapterMention(ctx context.Context, novelID, title, form string) string {
	list, err := m.chapters.ListByNovel(ctx, novelID)
	if err != nil {
		logger.FromContext(ctx).Warn("mention chapter lookup failed", "title", title, "error", err)
		return ""
	}
	for _, ch := range list {
		if ch == nil || strings.TrimSpace(ch.Title) != title {
			continue
		}
		return renderChapterMention(ch, form)
	}
	return ""
}

func renderChapterMention(ch *entity.Chapter, form string) string {
	header := "【章节】" + ch.Title
	if form == "full" {
		body := strings.TrimSpace(ch.ContentText)
		if body == "" {
			body = strings.TrimSpace(ch.Outline)
		}
		if body == "" {
			return ""
		}
		return header + "\n" + body
	}

	body := strings.TrimSpace(ch.Summary)
	if body == "" {
		// 无摘要时退化为截断正文
		runes := []rune(strings.TrimSpace(ch.ContentText))
		if len(runes) > mentionSummaryRunes {
			runes = runes[:mentionSummaryRunes]
		}
		body = strings.TrimSpace(string(runes))
	}
	if body == "" {
		return ""
	}
	return header + "\n" + body
}
