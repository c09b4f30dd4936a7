// Package messaging 提供基于 Redis Streams 的消息队列实现
package messaging

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"bookforge-api/internal/domain/service"
	"bookforge-api/pkg/logger"
)

var tracer = otel.Tracer("messaging")

// Producer 消息生产者
type Producer struct {
	client *redis.Client
	maxLen int64
}

// NewProducer 创建消息生产者
func NewProducer(client *redis.Client, maxLen int64) *Producer {
	if maxLen <= 0 {
		maxLen = 100000
	}
	return &Producer{
		client: client,
		maxLen: maxLen,
	}
}

// Publish 发布消息到指定流
func (p *Producer) Publish(ctx context.Context, stream Stream, msg *Message) (string, error) {
	ctx, span := tracer.Start(ctx, "producer.Publish",
		trace.WithAttributes(
			attribute.String("stream", string(stream)),
			attribute.String("message.id", msg.ID),
			attribute.String("message.type", msg.Type),
		))
	defer span.End()

	data, err := json.Marshal(msg)
	if err != nil {
		span.RecordError(err)
		return "", fmt.Errorf("failed to marshal message: %w", err)
	}

	result, err := p.client.XAdd(ctx, &redis.XAddArgs{
		Stream: string(stream),
		MaxLen: p.maxLen,
		Approx: true,
		Values: map[string]interface{}{
			"data": string(data),
		},
	}).Result()

	if err != nil {
		span.RecordError(err)
		return "", fmt.Errorf("failed to publish message: %w", err)
	}

	span.SetAttributes(attribute.String("stream.message_id", result))
	return result, nil
}

// PublishStageJob 发布阶段执行任务，由 job-worker 异步消费
func (p *Producer) PublishStageJob(ctx context.Context, job *StageJobMessage) (string, error) {
	if job.JobID == "" {
		job.JobID = uuid.NewString()
	}

	msg, err := NewMessage(job.JobID, MsgTypeStageExec, job.UserID, job.TaskID, job)
	if err != nil {
		return "", err
	}

	if reqID, ok := ctx.Value(logger.RequestIDKey).(string); ok && reqID != "" {
		msg.SetMetadata("request_id", reqID)
	}

	return p.Publish(ctx, StreamStageExec, msg)
}

// StageJobMessage 阶段执行任务消息
type StageJobMessage struct {
	JobID  string `json:"job_id"`
	UserID string `json:"user_id"`
	TaskID string `json:"task_id"`
	// Stage 为空时表示执行任务当前所处阶段
	Stage string `json:"stage,omitempty"`
	// AutoAdvance 为 true 时阶段完成后继续推进后续阶段
	AutoAdvance bool `json:"auto_advance"`
}

// MsgTypeStageExec 阶段执行消息类型
const MsgTypeStageExec = "stage_exec"

// MsgTypeProgress 进度事件消息类型
const MsgTypeProgress = "progress"

// ProgressPublisher 将任务进度事件发布到进度流。
// 实现 service.ProgressNotifier，发布失败只记录日志。
type ProgressPublisher struct {
	producer *Producer
}

// NewProgressPublisher 创建进度发布器
func NewProgressPublisher(producer *Producer) *ProgressPublisher {
	return &ProgressPublisher{producer: producer}
}

// Emit 推送进度事件
func (p *ProgressPublisher) Emit(ctx context.Context, taskID string, event service.ProgressEvent) error {
	msg, err := NewMessage(uuid.NewString(), MsgTypeProgress, "", taskID, event)
	if err != nil {
		logger.FromContext(ctx).Warn("failed to build progress message",
			"error", err, "task_id", taskID)
		return nil
	}

	if _, err := p.producer.Publish(ctx, StreamProgress, msg); err != nil {
		logger.FromContext(ctx).Warn("failed to publish progress event",
			"error", err, "task_id", taskID, "event_type", event.Type)
	}
	return nil
}
