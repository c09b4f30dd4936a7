// Package generation 提供生成核心：余额预检、模型调用（缓冲/流式）、
// 用量折算与恰好一次的扣费对账。
package generation

import (
	"context"
	"errors"
	"io"
	"strings"
	"time"

	"github.com/avast/retry-go/v4"
	"github.com/cloudwego/eino/components/model"
	"github.com/cloudwego/eino/schema"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"bookforge-api/internal/config"
	"bookforge-api/internal/domain/service"
	apperrors "bookforge-api/pkg/errors"
	"bookforge-api/pkg/logger"
)

var tracer = otel.Tracer("generation")

// ModelFactory ChatModel 工厂（由 infrastructure/llm 提供）
type ModelFactory interface {
	Get(ctx context.Context, name string) (model.BaseChatModel, error)
	Resolve(name string) (string, config.ProviderConfig, error)
}

// Request 一次生成调用的输入。
// Messages 为已完成装配的完整消息序列（含历史），计费输入按其全文折算。
type Request struct {
	UserID      string
	Workflow    string
	RelatedID   string
	Provider    string
	Model       string
	Temperature *float32
	Messages    []*schema.Message
}

// Result 一次生成调用的结果与计费明细
type Result struct {
	Content     string
	InputChars  int64
	OutputChars int64
	TotalCost   int64
	// Interrupted 表示流在中途被打断，Content 为已产出的部分文本
	Interrupted bool
}

// StreamHandler 流式增量回调。返回非 nil 错误表示客户端不再接收，
// 生成核心停止转发并按已产出内容对账。
type StreamHandler func(delta string) error

// Service 生成核心服务
type Service struct {
	factory ModelFactory
	ledger  service.Ledger
	cfg     *config.PipelineConfig
}

// NewService 创建生成核心服务
func NewService(factory ModelFactory, ledger service.Ledger, cfg *config.Config) *Service {
	return &Service{
		factory: factory,
		ledger:  ledger,
		cfg:     &cfg.Pipeline,
	}
}

// Generate 缓冲式生成。
// 瞬时错误在未收到任何内容时做有限重试；成功后恰好扣费一次。
func (s *Service) Generate(ctx context.Context, req *Request) (*Result, error) {
	ctx, span := tracer.Start(ctx, "generation.Generate",
		trace.WithAttributes(
			attribute.String("workflow", req.Workflow),
			attribute.String("provider", req.Provider),
		))
	defer span.End()

	inputChars := messagesChars(req.Messages)

	providerName, providerCfg, resolveErr := s.factory.Resolve(req.Provider)
	if resolveErr == nil {
		if err := s.precheck(ctx, req, providerName, inputChars); err != nil {
			return nil, err
		}
	}
	// provider 无法解析时跳过预检（best-effort），由后续调用自然失败

	ctx = service.WithWorkflowProvider(ctx, req.Workflow, providerName)
	chatModel, err := s.factory.Get(ctx, req.Provider)
	if err != nil {
		return nil, apperrors.Wrap(err, apperrors.CodeLLMProviderError, "failed to resolve chat model")
	}

	start := time.Now()
	var outMsg *schema.Message
	err = retry.Do(
		func() error {
			var callErr error
			outMsg, callErr = chatModel.Generate(ctx, req.Messages, s.modelOptions(req)...)
			return callErr
		},
		retry.Attempts(s.retryAttempts()),
		retry.RetryIf(isTransient),
		retry.DelayType(retry.BackOffDelay),
		retry.Context(ctx),
		retry.LastErrorOnly(true),
	)
	if err != nil {
		span.RecordError(err)
		return nil, apperrors.Wrap(err, apperrors.CodeLLMProviderError, "llm call failed")
	}
	if outMsg == nil || strings.TrimSpace(outMsg.Content) == "" {
		return nil, apperrors.New(apperrors.CodeGenerationFailed, "empty llm response")
	}

	result := &Result{Content: outMsg.Content}
	result.InputChars, result.OutputChars = s.reconcileChars(
		providerCfg, inputChars, outMsg.Content, usageFromMessage(outMsg))

	s.settle(ctx, req, providerName, result, int(time.Since(start).Milliseconds()))
	return result, nil
}

// GenerateStream 流式生成。每个文本增量通过 onDelta 转发；
// 无论流如何终止（完成、客户端断开、传输错误），只要产出过内容就
// 按已产出部分对账并恰好扣费一次。
func (s *Service) GenerateStream(ctx context.Context, req *Request, onDelta StreamHandler) (*Result, error) {
	ctx, span := tracer.Start(ctx, "generation.GenerateStream",
		trace.WithAttributes(
			attribute.String("workflow", req.Workflow),
			attribute.String("provider", req.Provider),
		))
	defer span.End()

	inputChars := messagesChars(req.Messages)

	providerName, providerCfg, resolveErr := s.factory.Resolve(req.Provider)
	if resolveErr == nil {
		if err := s.precheck(ctx, req, providerName, inputChars); err != nil {
			return nil, err
		}
	}

	ctx = service.WithWorkflowProvider(ctx, req.Workflow, providerName)
	chatModel, err := s.factory.Get(ctx, req.Provider)
	if err != nil {
		return nil, apperrors.Wrap(err, apperrors.CodeLLMProviderError, "failed to resolve chat model")
	}

	start := time.Now()
	sr, err := chatModel.Stream(ctx, req.Messages, s.modelOptions(req)...)
	if err != nil {
		span.RecordError(err)
		return nil, apperrors.Wrap(err, apperrors.CodeLLMProviderError, "llm stream failed")
	}
	defer sr.Close()

	var sb strings.Builder
	var usage *schema.TokenUsage
	interrupted := false
	var streamErr error

	for {
		msg, recvErr := sr.Recv()
		if recvErr == io.EOF {
			break
		}
		if recvErr != nil {
			// 客户端主动取消与传输中断都按干净停止处理，保留已产出内容
			interrupted = true
			if sb.Len() == 0 {
				streamErr = recvErr
			}
			break
		}
		if msg == nil {
			continue
		}
		// 流的最后可能返回 Content 为空但携带 Usage 的消息，用于 Token 统计
		if u := usageFromMessage(msg); u != nil {
			usage = u
		}
		if msg.Content == "" {
			continue
		}
		sb.WriteString(msg.Content)
		if onDelta != nil {
			if ferr := onDelta(msg.Content); ferr != nil {
				interrupted = true
				break
			}
		}
	}

	if streamErr != nil {
		// 未产出任何内容的中断按错误传播，不扣费
		span.RecordError(streamErr)
		return nil, apperrors.Wrap(streamErr, apperrors.CodeLLMProviderError, "llm stream interrupted")
	}

	result := &Result{
		Content:     sb.String(),
		Interrupted: interrupted,
	}
	result.InputChars, result.OutputChars = s.reconcileChars(providerCfg, inputChars, result.Content, usage)

	s.settle(ctx, req, providerName, result, int(time.Since(start).Milliseconds()))
	return result, nil
}

// precheck 余额预检：按输入全文与配置的输出上限估费。
// 预检失败是硬性前置条件，不触发扣费。
func (s *Service) precheck(ctx context.Context, req *Request, providerName string, inputChars int64) error {
	estCost, err := s.ledger.EstimateCost(ctx, providerName, req.Model, inputChars, s.cfg.EstimatedOutputChars)
	if err != nil {
		// 估费失败不阻塞调用
		logger.FromContext(ctx).Warn("cost estimate failed, skipping balance precheck", "error", err)
		return nil
	}

	ok, err := s.ledger.CheckBalance(ctx, req.UserID, estCost)
	if err != nil {
		logger.FromContext(ctx).Warn("balance check failed, skipping precheck", "error", err)
		return nil
	}
	if !ok {
		return apperrors.ErrInsufficientBalance
	}
	return nil
}

// reconcileChars 折算计费字符：优先使用 provider 上报的 Token 用量，
// 缺失时回落到消息全文与产出文本的原始字符数。
func (s *Service) reconcileChars(providerCfg config.ProviderConfig, rawInputChars int64, content string, usage *schema.TokenUsage) (int64, int64) {
	if usage != nil && (usage.PromptTokens > 0 || usage.CompletionTokens > 0) {
		charsPerToken := providerCfg.CharsPerToken
		if charsPerToken <= 0 {
			charsPerToken = 2
		}
		return int64(float64(usage.PromptTokens) * charsPerToken),
			int64(float64(usage.CompletionTokens) * charsPerToken)
	}
	return rawInputChars, int64(len([]rune(content)))
}

// settle 扣费对账。每次调用尝试恰好一次；失败只记录日志，
// 不让计费问题破坏已经产出的内容。
func (s *Service) settle(ctx context.Context, req *Request, providerName string, result *Result, durationMs int) {
	consumed, err := s.ledger.Consume(ctx, service.ConsumeInput{
		UserID:      req.UserID,
		Provider:    providerName,
		Model:       req.Model,
		Source:      req.Workflow,
		RelatedID:   req.RelatedID,
		InputChars:  result.InputChars,
		OutputChars: result.OutputChars,
		DurationMs:  durationMs,
	})
	if err != nil {
		logger.FromContext(ctx).Error("failed to settle generation cost", "error", err,
			"user_id", req.UserID, "related_id", req.RelatedID)
		return
	}
	result.TotalCost = consumed.TotalCost
}

func (s *Service) retryAttempts() uint {
	if s.cfg.TransientRetryAttempts > 0 {
		return uint(s.cfg.TransientRetryAttempts)
	}
	return 1
}

func (s *Service) modelOptions(req *Request) []model.Option {
	opts := make([]model.Option, 0, 2)
	if req.Temperature != nil {
		opts = append(opts, model.WithTemperature(*req.Temperature))
	}
	if strings.TrimSpace(req.Model) != "" {
		opts = append(opts, model.WithModel(strings.TrimSpace(req.Model)))
	}
	return opts
}

// isTransient 判断是否为可重试的瞬时错误。
// 上下文取消/超时与业务错误不重试。
func isTransient(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return false
	}
	if apperrors.IsAppError(err) {
		return false
	}
	msg := strings.ToLower(err.Error())
	for _, marker := range []string{
		"connection reset",
		"connection refused",
		"unexpected eof",
		"timeout",
		"temporarily unavailable",
		"too many requests",
		"status code: 429",
		"status code: 5",
	} {
		if strings.Contains(msg, marker) {
			return true
		}
	}
	return false
}

func usageFromMessage(msg *schema.Message) *schema.TokenUsage {
	if msg == nil || msg.ResponseMeta == nil || msg.ResponseMeta.Usage == nil {
		return nil
	}
	return msg.ResponseMeta.Usage
}

func messagesChars(msgs []*schema.Message) int64 {
	var total int64
	for _, m := range msgs {
		if m == nil {
			continue
		}
		total += int64(len([]rune(m.Content)))
	}
	return total
}

// BuildMessages 将装配好的系统/上下文消息、历史与用户输入拼接为最终消息序列
func BuildMessages(resolved []*schema.Message, history []*schema.Message, userInput string) []*schema.Message {
	msgs := make([]*schema.Message, 0, len(resolved)+len(history)+1)
	msgs = append(msgs, resolved...)
	msgs = append(msgs, history...)
	if strings.TrimSpace(userInput) != "" {
		msgs = append(msgs, schema.UserMessage(userInput))
	}
	return msgs
}
