package service

import (
	"context"
	"strings"
)

// llm 调用标注通过 context 下传，供全局回调打点时读取。
// 未标注或值为空时统一回落到 "unknown"，避免指标出现空标签。

type llmCtxKey int

const (
	ctxKeyWorkflow llmCtxKey = iota
	ctxKeyProvider
)

// WithWorkflowProvider 同时标注工作流与模型供应商。
func WithWorkflowProvider(ctx context.Context, workflow, provider string) context.Context {
	return WithProvider(WithWorkflow(ctx, workflow), provider)
}

// WithWorkflow 标注当前 LLM 调用所属工作流（如阶段名）。
func WithWorkflow(ctx context.Context, workflow string) context.Context {
	return withLabel(ctx, ctxKeyWorkflow, workflow)
}

// WithProvider 标注当前 LLM 调用使用的模型供应商。
func WithProvider(ctx context.Context, provider string) context.Context {
	return withLabel(ctx, ctxKeyProvider, provider)
}

// WorkflowFromContext 读取工作流标注，缺失时返回 "unknown"。
func WorkflowFromContext(ctx context.Context) string {
	return labelFromContext(ctx, ctxKeyWorkflow)
}

// ProviderFromContext 读取供应商标注，缺失时返回 "unknown"。
func ProviderFromContext(ctx context.Context) string {
	return labelFromContext(ctx, ctxKeyProvider)
}

func withLabel(ctx context.Context, key llmCtxKey, value string) context.Context {
	if ctx == nil {
		return nil
	}
	v := strings.TrimSpace(value)
	if v == "" {
		return ctx
	}
	return context.WithValue(ctx, key, v)
}

func labelFromContext(ctx context.Context, key llmCtxKey) string {
	if ctx == nil {
		return "unknown"
	}
	s, ok := ctx.Value(key).(string)
	if !ok || s == "" {
		return "unknown"
	}
	return s
}
