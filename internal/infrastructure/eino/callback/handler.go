package callback

import (
	"context"
	"time"

	einocb "github.com/cloudwego/eino/callbacks"
	"github.com/cloudwego/eino/components/model"
	cbtemplate "github.com/cloudwego/eino/utils/callbacks"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"bookforge-api/internal/domain/service"
	"bookforge-api/pkg/metrics"
)

type startTimeKey struct{}

// 每次模型调用的指标标签，取自上游注入的 context 标注
type callLabels struct {
	workflow  string
	provider  string
	modelName string
}

func labelsFrom(ctx context.Context, modelName string) callLabels {
	return callLabels{
		workflow:  service.WorkflowFromContext(ctx),
		provider:  service.ProviderFromContext(ctx),
		modelName: modelName,
	}
}

func (l callLabels) record(ctx context.Context, status string) {
	metrics.LLMCallTotal.WithLabelValues(l.workflow, l.provider, l.modelName, status).Inc()
	if v := ctx.Value(startTimeKey{}); v != nil {
		if start, ok := v.(time.Time); ok && !start.IsZero() {
			metrics.LLMCallDuration.WithLabelValues(l.workflow, l.provider, l.modelName).
				Observe(time.Since(start).Seconds())
		}
	}
}

func newChatModelCallbackHandler() *cbtemplate.ModelCallbackHandler {
	return &cbtemplate.ModelCallbackHandler{
		OnStart: func(ctx context.Context, info *einocb.RunInfo, input *model.CallbackInput) context.Context {
			ctx = context.WithValue(ctx, startTimeKey{}, time.Now())
			l := labelsFrom(ctx, modelNameFromInput(input))

			attrs := []attribute.KeyValue{
				attribute.String("eino.workflow", l.workflow),
				attribute.String("llm.provider", l.provider),
				attribute.String("llm.model", l.modelName),
			}
			if info != nil {
				attrs = append(attrs,
					attribute.String("eino.node_name", info.Name),
					attribute.String("eino.type", info.Type),
				)
			}
			ctx, _ = otel.Tracer("eino").Start(ctx, "llm.generate", trace.WithAttributes(attrs...))
			return ctx
		},

		OnEnd: func(ctx context.Context, _ *einocb.RunInfo, output *model.CallbackOutput) context.Context {
			l := labelsFrom(ctx, modelNameFromOutput(output))
			l.record(ctx, "success")

			span := trace.SpanFromContext(ctx)
			if output != nil && output.TokenUsage != nil {
				usage := output.TokenUsage
				metrics.LLMTokensUsed.WithLabelValues(l.workflow, l.provider, l.modelName, "prompt").
					Add(float64(usage.PromptTokens))
				metrics.LLMTokensUsed.WithLabelValues(l.workflow, l.provider, l.modelName, "completion").
					Add(float64(usage.CompletionTokens))
				span.SetAttributes(
					attribute.Int("llm.prompt_tokens", usage.PromptTokens),
					attribute.Int("llm.completion_tokens", usage.CompletionTokens),
				)
			}
			span.End()
			return ctx
		},

		OnError: func(ctx context.Context, info *einocb.RunInfo, err error) context.Context {
			modelName := ""
			if info != nil {
				modelName = info.Type
			}
			l := labelsFrom(ctx, modelName)
			l.record(ctx, "error")

			span := trace.SpanFromContext(ctx)
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
			span.End()
			return ctx
		},
	}
}

func modelNameFromInput(in *model.CallbackInput) string {
	if in == nil || in.Config == nil {
		return ""
	}
	return in.Config.Model
}

func modelNameFromOutput(out *model.CallbackOutput) string {
	if out == nil || out.Config == nil {
		return ""
	}
	return out.Config.Model
}
