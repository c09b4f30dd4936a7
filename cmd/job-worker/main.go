// job-worker 消费阶段执行消息，异步驱动生成流水线。
// 与 api-gateway 共享同一套应用服务，仅入口不同。
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"

	"bookforge-api/internal/config"
	"bookforge-api/internal/infrastructure/eino/callback"
	"bookforge-api/internal/infrastructure/messaging"
	"bookforge-api/internal/wire"
	"bookforge-api/pkg/logger"
	"bookforge-api/pkg/tracer"
)

var (
	// Version 通过 -ldflags 注入
	Version = "dev"
	// BuildTime 通过 -ldflags 注入
	BuildTime = "unknown"
)

func main() {
	_ = godotenv.Load()

	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to load config: %v\n", err)
		os.Exit(1)
	}

	logger.Init(cfg.Observability.Logging.Level, cfg.Observability.Logging.Format)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	logger.Info(ctx, "starting job-worker",
		"app", cfg.App.Name,
		"version", Version,
		"build_time", BuildTime,
		"env", cfg.App.Env,
	)

	shutdownTracer, err := tracer.Init(ctx, tracer.Config{
		ServiceName: cfg.App.Name + "-worker",
		Endpoint:    cfg.Observability.Tracing.Endpoint,
		SampleRate:  cfg.Observability.Tracing.SampleRate,
		Enabled:     cfg.Observability.Tracing.Enabled,
	})
	if err != nil {
		logger.Fatal(ctx, "failed to init tracer", err)
	}
	defer func() {
		shutdownCtx, cancelShutdown := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancelShutdown()
		if err := shutdownTracer(shutdownCtx); err != nil {
			logger.Error(shutdownCtx, "failed to shutdown tracer", err)
		}
	}()

	callback.Init()

	w, cleanup, err := wire.InitializeWorker(ctx, cfg)
	if err != nil {
		logger.Fatal(ctx, "failed to initialize worker", err)
	}
	defer cleanup()

	consumer := messaging.NewConsumer(w.RedisClient.Redis(), messaging.ConsumerConfig{
		Stream:       messaging.StreamStageExec,
		Group:        messaging.ConsumerGroupStageWorker,
		ConsumerName: hostnameConsumerName(),
		BlockTimeout: cfg.Messaging.BlockTimeout,
		RetryLimit:   cfg.Messaging.RetryLimit,
	})
	w.StageWorker.Register(consumer)

	if err := consumer.Start(ctx); err != nil {
		logger.Fatal(ctx, "failed to start consumer", err)
	}
	go consumer.MonitorDLQ(ctx, 100)
	logger.Info(ctx, "job-worker consuming", "stream", string(messaging.StreamStageExec))

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	sig := <-quit
	logger.Info(ctx, "shutting down", "signal", sig.String())

	cancel()
	consumer.Stop()

	logger.Info(ctx, "job-worker stopped")
}

// hostnameConsumerName 生成进程唯一的消费者名，跨实例不冲突
func hostnameConsumerName() string {
	hostname, err := os.Hostname()
	if err != nil {
		hostname = "worker"
	}
	return fmt.Sprintf("%s-%d", hostname, os.Getpid())
}
