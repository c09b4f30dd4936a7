package generation

import (
	"context"
	"errors"
	"testing"

	"github.com/cloudwego/eino/components/model"
	"github.com/cloudwego/eino/schema"

	"bookforge-api/internal/config"
	"bookforge-api/internal/domain/service"
	apperrors "bookforge-api/pkg/errors"
)

type fakeChatModel struct {
	generateFn func(ctx context.Context, msgs []*schema.Message) (*schema.Message, error)
	streamFn   func(ctx context.Context, msgs []*schema.Message) (*schema.StreamReader[*schema.Message], error)
	calls      int
}

func (f *fakeChatModel) Generate(ctx context.Context, msgs []*schema.Message, _ ...model.Option) (*schema.Message, error) {
	f.calls++
	return f.generateFn(ctx, msgs)
}

func (f *fakeChatModel) Stream(ctx context.Context, msgs []*schema.Message, _ ...model.Option) (*schema.StreamReader[*schema.Message], error) {
	f.calls++
	return f.streamFn(ctx, msgs)
}

type fakeFactory struct {
	model      model.BaseChatModel
	resolveErr error
}

func (f *fakeFactory) Get(ctx context.Context, name string) (model.BaseChatModel, error) {
	return f.model, nil
}

func (f *fakeFactory) Resolve(name string) (string, config.ProviderConfig, error) {
	if f.resolveErr != nil {
		return "", config.ProviderConfig{}, f.resolveErr
	}
	return "openai", config.ProviderConfig{CharsPerToken: 2}, nil
}

type fakeLedger struct {
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
	f.consumed = append(f.consumed, in)
	total := in.InputChars + in.OutputChars
	return &service.ConsumeResult{TotalCost: total, InputCost: in.InputChars, OutputCost: in.OutputChars}, nil
}

func newTestService(m model.BaseChatModel, ledger *fakeLedger) *Service {
	return NewService(
		&fakeFactory{model: m},
		ledger,
		&config.Config{Pipeline: config.PipelineConfig{
			EstimatedOutputChars:   8000,
			TransientRetryAttempts: 3,
		}},
	)
}

func userMessages(text string) []*schema.Message {
	return []*schema.Message{schema.UserMessage(text)}
}

func TestGenerate_success(t *testing.T) {
	t.Parallel()
	m := &fakeChatModel{
		generateFn: func(ctx context.Context, msgs []*schema.Message) (*schema.Message, error) {
			return schema.AssistantMessage("一段生成的文本", nil), nil
		},
	}
	ledger := &fakeLedger{balanceOK: true}
	s := newTestService(m, ledger)

	result, err := s.Generate(context.Background(), &Request{
		UserID:   "u1",
		Workflow: "stage_idea",
		Messages: userMessages("写一个故事"),
	})
	if err != nil {
		t.Fatalf("Generate: %v", err)
	}
	if result.Content != "一段生成的文本" {
		t.Fatalf("content = %q", result.Content)
	}
	if len(ledger.consumed) != 1 {
		t.Fatalf("consume calls = %d, want exactly 1", len(ledger.consumed))
	}
}

func TestGenerate_insufficientBalance(t *testing.T) {
	t.Parallel()
	m := &fakeChatModel{
		generateFn: func(ctx context.Context, msgs []*schema.Message) (*schema.Message, error) {
			t.Fatal("model must not be called when balance precheck fails")
			return nil, nil
		},
	}
	ledger := &fakeLedger{balanceOK: false}
	s := newTestService(m, ledger)

	_, err := s.Generate(context.Background(), &Request{
		UserID:   "u1",
		Messages: userMessages("hello"),
	})
	if !apperrors.IsCode(err, apperrors.CodeInsufficientBalance) {
		t.Fatalf("err = %v, want insufficient balance", err)
	}
	if len(ledger.consumed) != 0 {
		t.Fatalf("precheck rejection must not debit, got %d", len(ledger.consumed))
	}
}

func TestGenerate_precheckSkippedWhenProviderUnresolvable(t *testing.T) {
	t.Parallel()
	m := &fakeChatModel{
		generateFn: func(ctx context.Context, msgs []*schema.Message) (*schema.Message, error) {
			return schema.AssistantMessage("ok", nil), nil
		},
	}
	ledger := &fakeLedger{balanceOK: false}
	s := NewService(
		&fakeFactory{model: m, resolveErr: errors.New("provider missing")},
		ledger,
		&config.Config{Pipeline: config.PipelineConfig{TransientRetryAttempts: 1}},
	)

	// provider 无法解析时预检被跳过，调用照常进行
	result, err := s.Generate(context.Background(), &Request{
		UserID:   "u1",
		Messages: userMessages("hello"),
	})
	if err != nil {
		t.Fatalf("Generate: %v", err)
	}
	if result.Content != "ok" {
		t.Fatalf("content = %q", result.Content)
	}
}

func TestGenerate_retriesTransientErrors(t *testing.T) {
	t.Parallel()
	attempts := 0
	m := &fakeChatModel{
		generateFn: func(ctx context.Context, msgs []*schema.Message) (*schema.Message, error) {
			attempts++
			if attempts < 3 {
				return nil, errors.New("read tcp: connection reset by peer")
			}
			return schema.AssistantMessage("recovered", nil), nil
		},
	}
	ledger := &fakeLedger{balanceOK: true}
	s := newTestService(m, ledger)

	result, err := s.Generate(context.Background(), &Request{
		UserID:   "u1",
		Messages: userMessages("hello"),
	})
	if err != nil {
		t.Fatalf("Generate: %v", err)
	}
	if attempts != 3 {
		t.Fatalf("attempts = %d, want 3", attempts)
	}
	if result.Content != "recovered" {
		t.Fatalf("content = %q", result.Content)
	}
	// 前两次失败尝试没有产出，不得产生扣费
	if len(ledger.consumed) != 1 {
		t.Fatalf("consume calls = %d, want exactly 1", len(ledger.consumed))
	}
}

func TestGenerate_noRetryOnNonTransient(t *testing.T) {
	t.Parallel()
	attempts := 0
	m := &fakeChatModel{
		generateFn: func(ctx context.Context, msgs []*schema.Message) (*schema.Message, error) {
			attempts++
			return nil, errors.New("invalid api key")
		},
	}
	s := newTestService(m, &fakeLedger{balanceOK: true})

	_, err := s.Generate(context.Background(), &Request{UserID: "u1", Messages: userMessages("x")})
	if err == nil {
		t.Fatal("want error")
	}
	if attempts != 1 {
		t.Fatalf("attempts = %d, want 1", attempts)
	}
}

func TestGenerate_usagePreferredOverRawLength(t *testing.T) {
	t.Parallel()
	m := &fakeChatModel{
		generateFn: func(ctx context.Context, msgs []*schema.Message) (*schema.Message, error) {
			msg := schema.AssistantMessage("output text", nil)
			msg.ResponseMeta = &schema.ResponseMeta{
				Usage: &schema.TokenUsage{PromptTokens: 100, CompletionTokens: 50},
			}
			return msg, nil
		},
	}
	ledger := &fakeLedger{balanceOK: true}
	s := newTestService(m, ledger)

	result, err := s.Generate(context.Background(), &Request{UserID: "u1", Messages: userMessages("x")})
	if err != nil {
		t.Fatalf("Generate: %v", err)
	}
	// 2 chars/token
	if result.InputChars != 200 || result.OutputChars != 100 {
		t.Fatalf("chars = %d/%d, want 200/100", result.InputChars, result.OutputChars)
	}
}

func TestGenerateStream_accumulatesAndDebitsOnce(t *testing.T) {
	t.Parallel()
	m := &fakeChatModel{
		streamFn: func(ctx context.Context, msgs []*schema.Message) (*schema.StreamReader[*schema.Message], error) {
			final := schema.AssistantMessage("", nil)
			final.ResponseMeta = &schema.ResponseMeta{
				Usage: &schema.TokenUsage{PromptTokens: 10, CompletionTokens: 5},
			}
			return schema.StreamReaderFromArray([]*schema.Message{
				schema.AssistantMessage("第一", nil),
				schema.AssistantMessage("第二", nil),
				final,
			}), nil
		},
	}
	ledger := &fakeLedger{balanceOK: true}
	s := newTestService(m, ledger)

	var deltas []string
	result, err := s.GenerateStream(context.Background(), &Request{
		UserID:   "u1",
		Messages: userMessages("x"),
	}, func(delta string) error {
		deltas = append(deltas, delta)
		return nil
	})
	if err != nil {
		t.Fatalf("GenerateStream: %v", err)
	}
	if result.Content != "第一第二" {
		t.Fatalf("content = %q", result.Content)
	}
	if len(deltas) != 2 {
		t.Fatalf("deltas = %v", deltas)
	}
	if result.InputChars != 20 || result.OutputChars != 10 {
		t.Fatalf("chars = %d/%d", result.InputChars, result.OutputChars)
	}
	if len(ledger.consumed) != 1 {
		t.Fatalf("consume calls = %d, want exactly 1", len(ledger.consumed))
	}
}

func TestGenerateStream_clientCancelStillDebitsPartial(t *testing.T) {
	t.Parallel()
	m := &fakeChatModel{
		streamFn: func(ctx context.Context, msgs []*schema.Message) (*schema.StreamReader[*schema.Message], error) {
			return schema.StreamReaderFromArray([]*schema.Message{
				schema.AssistantMessage("partial ", nil),
				schema.AssistantMessage("never seen", nil),
			}), nil
		},
	}
	ledger := &fakeLedger{balanceOK: true}
	s := newTestService(m, ledger)

	result, err := s.GenerateStream(context.Background(), &Request{
		UserID:   "u1",
		Messages: userMessages("x"),
	}, func(delta string) error {
		// 客户端在第一个增量后断开
		return errors.New("client gone")
	})
	if err != nil {
		t.Fatalf("GenerateStream: %v", err)
	}
	if !result.Interrupted {
		t.Fatal("result must be marked interrupted")
	}
	if result.Content != "partial " {
		t.Fatalf("content = %q", result.Content)
	}
	if len(ledger.consumed) != 1 {
		t.Fatalf("consume calls = %d, want exactly 1 (partial reconciliation)", len(ledger.consumed))
	}
	if ledger.consumed[0].OutputChars != int64(len([]rune("partial "))) {
		t.Fatalf("output chars = %d", ledger.consumed[0].OutputChars)
	}
}

func TestIsTransient(t *testing.T) {
	t.Parallel()
	tests := []struct {
		err  error
		want bool
	}{
		{errors.New("read tcp: connection reset by peer"), true},
		{errors.New("Post: dial tcp: connection refused"), true},
		{errors.New("status code: 429"), true},
		{errors.New("status code: 503"), true},
		{errors.New("invalid api key"), false},
		{context.Canceled, false},
		{context.DeadlineExceeded, false},
		{apperrors.ErrInsufficientBalance, false},
		{nil, false},
	}
	for _, tt := range tests {
		if got := isTransient(tt.err); got != tt.want {
			t.Errorf("isTransient(%v) = %v, want %v", tt.err, got, tt.want)
		}
	}
}
