package service

import "context"

// ConsumeResult 一次扣费的明细（字符计费单位）
type ConsumeResult struct {
	TotalCost  int64
	InputCost  int64
	OutputCost int64
}

// ConsumeInput 一次模型调用的计费输入。
// InputChars/OutputChars 由调用方按 provider usage 或原始文本长度折算。
type ConsumeInput struct {
	UserID      string
	Provider    string
	Model       string
	Source      string
	RelatedID   string
	InputChars  int64
	OutputChars int64
	DurationMs  int
}

// Ledger 余额账本（port）。
// 约定：Consume 每次调用尝试恰好扣费一次，并发扣减由存储层串行化；
// 该接口位于 domain/service，作为跨层稳定契约，应用层提供实现。
type Ledger interface {
	// EstimateCost 估算一次调用的费用
	EstimateCost(ctx context.Context, provider, model string, inputChars, outputChars int64) (int64, error)

	// CheckBalance 检查余额是否覆盖费用
	CheckBalance(ctx context.Context, userID string, cost int64) (bool, error)

	// Consume 按实际用量扣费并落流水
	Consume(ctx context.Context, in ConsumeInput) (*ConsumeResult, error)
}
