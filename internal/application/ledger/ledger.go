// Package ledger 提供余额账本实现：费用估算、余额检查与按量扣费。
package ledger

import (
	"context"
	"fmt"
	"math"

	"go.opentelemetry.io/otel"

	"bookforge-api/internal/config"
	"bookforge-api/internal/domain/entity"
	"bookforge-api/internal/domain/repository"
	"bookforge-api/internal/domain/service"
	apperrors "bookforge-api/pkg/errors"
	"bookforge-api/pkg/metrics"
)

var tracer = otel.Tracer("ledger")

// Service 账本服务，实现 service.Ledger
type Service struct {
	llmCfg     *config.LLMConfig
	userRepo   repository.UserRepository
	eventRepo  repository.UsageEventRepository
	transactor repository.Transactor
}

// NewService 创建账本服务
func NewService(
	cfg *config.Config,
	userRepo repository.UserRepository,
	eventRepo repository.UsageEventRepository,
	transactor repository.Transactor,
) *Service {
	return &Service{
		llmCfg:     &cfg.LLM,
		userRepo:   userRepo,
		eventRepo:  eventRepo,
		transactor: transactor,
	}
}

// pricing 返回 provider 的输入/输出千字符单价，未配置时按 1:1 计费
func (s *Service) pricing(provider string) (inPrice, outPrice float64) {
	if provider == "" {
		provider = s.llmCfg.DefaultProvider
	}
	cfg, ok := s.llmCfg.Providers[provider]
	if !ok {
		return 1000, 1000
	}
	inPrice, outPrice = cfg.InputPricePerKChars, cfg.OutputPricePerKChars
	if inPrice <= 0 {
		inPrice = 1000
	}
	if outPrice <= 0 {
		outPrice = 1000
	}
	return inPrice, outPrice
}

// EstimateCost 估算一次调用的费用
func (s *Service) EstimateCost(ctx context.Context, provider, model string, inputChars, outputChars int64) (int64, error) {
	inPrice, outPrice := s.pricing(provider)
	return charCost(inputChars, inPrice) + charCost(outputChars, outPrice), nil
}

// CheckBalance 检查余额是否覆盖费用
func (s *Service) CheckBalance(ctx context.Context, userID string, cost int64) (bool, error) {
	balance, err := s.userRepo.GetBalance(ctx, userID)
	if err != nil {
		return false, fmt.Errorf("failed to check balance: %w", err)
	}
	return balance >= cost, nil
}

// Consume 按实际用量扣费并落流水。
// 扣减余额与写流水在同一事务内完成，每次调用尝试恰好扣费一次。
func (s *Service) Consume(ctx context.Context, in service.ConsumeInput) (*service.ConsumeResult, error) {
	ctx, span := tracer.Start(ctx, "ledger.Consume")
	defer span.End()

	if in.UserID == "" {
		return nil, apperrors.New(apperrors.CodeInvalidParam, "user id is required")
	}

	inputChars := clampChars(in.InputChars)
	outputChars := clampChars(in.OutputChars)

	inPrice, outPrice := s.pricing(in.Provider)
	result := &service.ConsumeResult{
		InputCost:  charCost(inputChars, inPrice),
		OutputCost: charCost(outputChars, outPrice),
	}
	result.TotalCost = result.InputCost + result.OutputCost

	err := s.transactor.WithTransaction(ctx, func(txCtx context.Context) error {
		if err := s.userRepo.DeductBalance(txCtx, in.UserID, result.TotalCost); err != nil {
			return err
		}
		return s.eventRepo.Create(txCtx, &entity.UsageEvent{
			UserID:      in.UserID,
			Provider:    in.Provider,
			Model:       in.Model,
			Source:      in.Source,
			RelatedID:   in.RelatedID,
			InputChars:  inputChars,
			OutputChars: outputChars,
			InputCost:   result.InputCost,
			OutputCost:  result.OutputCost,
			TotalCost:   result.TotalCost,
			DurationMs:  in.DurationMs,
		})
	})
	if err != nil {
		metrics.LedgerDebitTotal.WithLabelValues(in.Source, "error").Inc()
		span.RecordError(err)
		return nil, fmt.Errorf("failed to consume balance: %w", err)
	}

	metrics.LedgerDebitTotal.WithLabelValues(in.Source, "success").Inc()
	metrics.LedgerCharsConsumed.WithLabelValues(in.Source, "input").Add(float64(inputChars))
	metrics.LedgerCharsConsumed.WithLabelValues(in.Source, "output").Add(float64(outputChars))

	return result, nil
}

// charCost 按千字符单价折算费用，向上取整保证非零用量至少计 1
func charCost(chars int64, pricePerKChars float64) int64 {
	if chars <= 0 || math.IsNaN(pricePerKChars) || math.IsInf(pricePerKChars, 0) || pricePerKChars < 0 {
		return 0
	}
	cost := float64(chars) * pricePerKChars / 1000
	rounded := int64(cost)
	if float64(rounded) < cost {
		rounded++
	}
	return rounded
}

func clampChars(n int64) int64 {
	if n < 0 {
		return 0
	}
	return n
}
