package prompting

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/cloudwego/eino/schema"

	"bookforge-api/internal/application/macro"
	"bookforge-api/internal/domain/entity"
	"bookforge-api/internal/domain/repository"
	redisrepo "bookforge-api/internal/infrastructure/persistence/redis"
	apperrors "bookforge-api/pkg/errors"
	"bookforge-api/pkg/logger"
)

const promptCacheTTL = 10 * time.Minute

// AssembleInput 一次提示词装配请求。
type AssembleInput struct {
	PromptID string
	CallerID string
	// NovelID 调用方当前书稿；具体引用与槽位选中的实体都必须属于它。
	NovelID string
	Params  map[string]string

	// 槽位填充：调用方为本次调用显式选中的实体
	SelectedCharacterIDs  []string
	SelectedWorldEntryIDs []string

	// UserInput 自由输入，@提及在其中展开
	UserInput string
}

// AssembleOutput 装配结果。Messages 为已排序的消息序列，
// UserInput 为提及展开（以及必要时清洗）后的输入，由调用方追加为末条用户消息。
type AssembleOutput struct {
	Messages  []*schema.Message
	UserInput string
	AuthorID  string
	// Foreign 表示提示词作者不是调用方，此时注入防护已生效
	Foreign bool
	Risk    Risk
}

// Assembler 提示词装配引擎。
type Assembler struct {
	prompts    repository.PromptRepository
	characters repository.CharacterRepository
	worlds     repository.WorldEntryRepository
	users      repository.UserRepository
	mentions   *MentionExpander
	macros     *macro.Resolver
	cache      *redisrepo.Cache
}

func NewAssembler(
	prompts repository.PromptRepository,
	characters repository.CharacterRepository,
	worlds repository.WorldEntryRepository,
	users repository.UserRepository,
	mentions *MentionExpander,
	cache *redisrepo.Cache,
) *Assembler {
	return &Assembler{
		prompts:    prompts,
		characters: characters,
		worlds:     worlds,
		users:      users,
		mentions:   mentions,
		macros:     macro.NewResolver(),
		cache:      cache,
	}
}

// Assemble 加载提示词并装配为消息序列。
// 失败即返回，不产生部分结果；授权与参数校验错误带可读原因。
func (a *Assembler) Assemble(ctx context.Context, in *AssembleInput) (*AssembleOutput, error) {
	if in == nil || strings.TrimSpace(in.PromptID) == "" {
		return nil, apperrors.New(apperrors.CodeInvalidParam, "prompt id is required")
	}

	prompt, err := a.loadPrompt(ctx, in.PromptID)
	if err != nil {
		return nil, err
	}
	if err := a.authorize(ctx, prompt, in.CallerID); err != nil {
		return nil, err
	}

	vars, missing := mergeParams(prompt.Params, in.Params)
	if len(missing) > 0 {
		return nil, apperrors.New(apperrors.CodeMissingPromptParams,
			"missing required prompt params").WithDetail(strings.Join(missing, ", "))
	}

	out := &AssembleOutput{
		AuthorID: prompt.AuthorID,
		Foreign:  prompt.AuthorID != in.CallerID,
	}

	// 第三方提示词：参数值与自由输入都视为不可信
	if out.Foreign {
		for k, v := range vars {
			clean, risk := SanitizeText(v)
			vars[k] = clean
			out.Risk = maxRisk(out.Risk, risk)
		}
	}

	a.fillSystemVars(ctx, in.CallerID, vars)

	blocks := make([]entity.PromptBlock, len(prompt.Blocks))
	copy(blocks, prompt.Blocks)
	sort.SliceStable(blocks, func(i, j int) bool {
		return blocks[i].SortOrder < blocks[j].SortOrder
	})

	messages := make([]*schema.Message, 0, len(blocks)+1)
	for i := range blocks {
		content, err := a.resolveBlock(ctx, in, &blocks[i], vars)
		if err != nil {
			return nil, err
		}
		if strings.TrimSpace(content) == "" {
			continue
		}
		messages = append(messages, messageForRole(blocks[i].Role, content))
	}

	userInput := in.UserInput
	if a.mentions != nil {
		userInput = a.mentions.Expand(ctx, in.NovelID, userInput)
	}
	if out.Foreign {
		clean, risk := SanitizeText(userInput)
		userInput = clean
		out.Risk = maxRisk(out.Risk, risk)
	}
	if out.Foreign && out.Risk > RiskNone {
		if d := Directive(out.Risk); d != "" {
			messages = append([]*schema.Message{schema.SystemMessage(d)}, messages...)
		}
	}

	out.Messages = messages
	out.UserInput = userInput
	return out, nil
}

// loadPrompt 经缓存读取提示词。提示词读多写少，
// 缓存 TTL 内的陈旧是可接受的权衡；缓存故障降级为直读。
func (a *Assembler) loadPrompt(ctx context.Context, id string) (*entity.Prompt, error) {
	if a.cache == nil {
		return a.loadPromptDirect(ctx, id)
	}

	data, err := a.cache.GetOrLoadSafe(ctx, redisrepo.BuildPromptKey(id), promptCacheTTL, func() (interface{}, error) {
		return a.loadPromptDirect(ctx, id)
	})
	if err != nil {
		if apperrors.IsAppError(err) {
			return nil, err
		}
		logger.FromContext(ctx).Warn("prompt cache unavailable, falling back to direct read", "error", err)
		return a.loadPromptDirect(ctx, id)
	}

	var prompt entity.Prompt
	if err := json.Unmarshal(data, &prompt); err != nil {
		return nil, fmt.Errorf("failed to decode cached prompt: %w", err)
	}
	return &prompt, nil
}

func (a *Assembler) loadPromptDirect(ctx context.Context, id string) (*entity.Prompt, error) {
	prompt, err := a.prompts.GetByID(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("failed to load prompt: %w", err)
	}
	if prompt == nil {
		return nil, apperrors.New(apperrors.CodePromptNotFound, "prompt not found")
	}
	return prompt, nil
}

// authorize 执行可见性与审核状态检查。
// pending 审核中的提示词连作者本人也不能调用。
func (a *Assembler) authorize(ctx context.Context, prompt *entity.Prompt, callerID string) error {
	switch prompt.Moderation {
	case entity.PromptModerationBanned:
		return apperrors.New(apperrors.CodeForbidden, "prompt is banned")
	case entity.PromptModerationPending:
		return apperrors.New(apperrors.CodeForbidden, "prompt is under moderation review")
	}

	if prompt.AuthorID == callerID {
		return nil
	}
	if prompt.Visibility == entity.PromptVisibilityPublic {
		return nil
	}

	granted, err := a.prompts.HasGrant(ctx, prompt.ID, callerID)
	if err != nil {
		return fmt.Errorf("failed to check prompt grant: %w", err)
	}
	if !granted {
		return apperrors.New(apperrors.CodePermissionDenied, "prompt is not public and no grant exists")
	}
	return nil
}

// mergeParams 以声明的默认值打底、调用方取值覆盖，返回变量表与缺失的必填参数名。
func mergeParams(declared []entity.PromptParam, provided map[string]string) (macro.Vars, []string) {
	vars := make(macro.Vars, len(declared)+len(provided))
	for _, p := range declared {
		if p.Default != "" {
			vars[p.Name] = p.Default
		}
	}
	for k, v := range provided {
		if strings.TrimSpace(v) != "" {
			vars[k] = v
		}
	}

	var missing []string
	for _, p := range declared {
		if p.Required && strings.TrimSpace(vars[p.Name]) == "" {
			missing = append(missing, p.Name)
		}
	}
	sort.Strings(missing)
	return vars, missing
}

func (a *Assembler) fillSystemVars(ctx context.Context, callerID string, vars macro.Vars) {
	if a.users == nil || strings.TrimSpace(callerID) == "" {
		return
	}
	user, err := a.users.GetByID(ctx, callerID)
	if err != nil || user == nil {
		return
	}
	name := strings.TrimSpace(user.DisplayName)
	if name == "" {
		name = strings.TrimSpace(user.Username)
	}
	if name != "" {
		if _, exists := vars["user_name"]; !exists {
			vars["user_name"] = name
		}
	}
}

func (a *Assembler) resolveBlock(ctx context.Context, in *AssembleInput, block *entity.PromptBlock, vars macro.Vars) (string, error) {
	switch block.Type {
	case entity.PromptBlockText:
		return a.macros.Resolve(block.Content, vars), nil

	case entity.PromptBlockCharacter:
		if block.IsSlot() {
			return a.renderSelectedCharacters(ctx, in)
		}
		ch, err := a.characters.GetByID(ctx, block.RefID)
		if err != nil {
			return "", fmt.Errorf("failed to load character: %w", err)
		}
		if ch == nil {
			return "", apperrors.New(apperrors.CodeEntityNotFound, "referenced character not found")
		}
		if ch.NovelID != in.NovelID {
			return "", apperrors.New(apperrors.CodePermissionDenied, "referenced character does not belong to this novel")
		}
		return ch.Render(), nil

	case entity.PromptBlockWorldEntry:
		if block.IsSlot() {
			return a.renderSelectedWorldEntries(ctx, in)
		}
		we, err := a.worlds.GetByID(ctx, block.RefID)
		if err != nil {
			return "", fmt.Errorf("failed to load world entry: %w", err)
		}
		if we == nil {
			return "", apperrors.New(apperrors.CodeEntityNotFound, "referenced world entry not found")
		}
		if we.NovelID != in.NovelID {
			return "", apperrors.New(apperrors.CodePermissionDenied, "referenced world entry does not belong to this novel")
		}
		return we.Render(), nil

	default:
		return "", apperrors.New(apperrors.CodeInvalidParam,
			fmt.Sprintf("unknown prompt block type: %s", block.Type))
	}
}

func (a *Assembler) renderSelectedCharacters(ctx context.Context, in *AssembleInput) (string, error) {
	if len(in.SelectedCharacterIDs) == 0 {
		return "", nil
	}
	list, err := a.characters.ListByIDs(ctx, in.SelectedCharacterIDs)
	if err != nil {
		return "", fmt.Errorf("failed to load selected characters: %w", err)
	}
	parts := make([]string, 0, len(list))
	for _, ch := range list {
		if ch == nil || ch.NovelID != in.NovelID {
			continue
		}
		parts = append(parts, ch.Render())
	}
	return strings.Join(parts, "\n\n"), nil
}

func (a *Assembler) renderSelectedWorldEntries(ctx context.Context, in *AssembleInput) (string, error) {
	if len(in.SelectedWorldEntryIDs) == 0 {
		return "", nil
	}
	list, err := a.worlds.ListByIDs(ctx, in.SelectedWorldEntryIDs)
	if err != nil {
		return "", fmt.Errorf("failed to load selected world entries: %w", err)
	}
	parts := make([]string, 0, len(list))
	for _, we := range list {
		if we == nil || we.NovelID != in.NovelID {
			continue
		}
		parts = append(parts, we.Render())
	}
	return strings.Join(parts, "\n\n"), nil
}

func messageForRole(role, content string) *schema.Message {
	switch role {
	case "user":
		return schema.UserMessage(content)
	case "assistant":
		return schema.AssistantMessage(content, nil)
	default:
		return schema.SystemMessage(content)
	}
}
