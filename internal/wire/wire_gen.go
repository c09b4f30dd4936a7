// Code generated by Wire. DO NOT EDIT.

//go:generate go run -mod=mod github.com/google/wire/cmd/wire
//go:build !wireinject
// +build !wireinject

package wire

import (
	"bookforge-api/internal/application/generation"
	"bookforge-api/internal/application/ledger"
	"bookforge-api/internal/application/pipeline"
	"bookforge-api/internal/application/prompting"
	"bookforge-api/internal/application/retrieval"
	"bookforge-api/internal/config"
	"bookforge-api/internal/domain/repository"
	"bookforge-api/internal/domain/service"
	embedding2 "bookforge-api/internal/infrastructure/embedding"
	"bookforge-api/internal/infrastructure/llm"
	"bookforge-api/internal/infrastructure/messaging"
	"bookforge-api/internal/infrastructure/persistence/milvus"
	"bookforge-api/internal/infrastructure/persistence/postgres"
	"bookforge-api/internal/infrastructure/persistence/redis"
	"bookforge-api/internal/interfaces/http/handler"
	"bookforge-api/internal/interfaces/http/router"
	"bookforge-api/pkg/logger"
	"context"
	"github.com/cloudwego/eino/components/embedding"
	"github.com/google/wire"
)

// Injectors from wire.go:

// InitializeApp 初始化 API 网关（带路由器）
func InitializeApp(ctx context.Context, cfg *config.Config) (*router.Router, func(), error) {
	client, cleanup, err := ProvideRedisClient(cfg)
	if err != nil {
		return nil, nil, err
	}
	rateLimiter := redis.NewRateLimiter(client)
	postgresClient, cleanup2, err := ProvidePostgresClient(cfg)
	if err != nil {
		cleanup()
		return nil, nil, err
	}
	milvusClient, cleanup3, err := ProvideMilvusClientOptional(ctx, cfg)
	if err != nil {
		cleanup2()
		cleanup()
		return nil, nil, err
	}
	healthHandler := handler.NewHealthHandler(postgresClient, client, milvusClient)
	promptRepository := postgres.NewPromptRepository(postgresClient)
	characterRepository := postgres.NewCharacterRepository(postgresClient)
	worldEntryRepository := postgres.NewWorldEntryRepository(postgresClient)
	userRepository := postgres.NewUserRepository(postgresClient)
	chapterRepository := postgres.NewChapterRepository(postgresClient)
	mentionExpander := prompting.NewMentionExpander(characterRepository, worldEntryRepository, chapterRepository)
	cache := redis.NewCache(client)
	assembler := prompting.NewAssembler(promptRepository, characterRepository, worldEntryRepository, userRepository, mentionExpander, cache)
	einoFactory := llm.NewEinoFactory(cfg)
	usageEventRepository := postgres.NewUsageEventRepository(postgresClient)
	txManager := postgres.NewTxManager(postgresClient)
	service := ledger.NewService(cfg, userRepository, usageEventRepository, txManager)
	generationService := generation.NewService(einoFactory, service, cfg)
	taskRepository := postgres.NewTaskRepository(postgresClient)
	stageRecordRepository := postgres.NewStageRecordRepository(postgresClient)
	outlineNodeRepository := postgres.NewOutlineNodeRepository(postgresClient)
	novelRepository := postgres.NewNovelRepository(postgresClient)
	volumeRepository := postgres.NewVolumeRepository(postgresClient)
	promptGroupRepository := postgres.NewPromptGroupRepository(postgresClient)
	embedder, err := ProvideEmbedderOptional(ctx, cfg)
	if err != nil {
		cleanup3()
		cleanup2()
		cleanup()
		return nil, nil, err
	}
	repository := ProvideMilvusRepositoryOptional(milvusClient)
	engine := ProvideRetrievalEngine(embedder, repository)
	indexer := ProvideRetrievalIndexer(embedder, repository)
	producer := ProvideMessagingProducer(client, cfg)
	pipelineConfig := ProvidePipelineConfig(cfg)
	taskService := ProvideTaskService(assembler, generationService, service, taskRepository, stageRecordRepository, outlineNodeRepository, novelRepository, volumeRepository, chapterRepository, characterRepository, worldEntryRepository, promptGroupRepository, engine, indexer, producer, producer, pipelineConfig)
	taskHandler := handler.NewTaskHandler(taskService)
	streamHandler := handler.NewStreamHandler(taskService)
	novelHandler := handler.NewNovelHandler(novelRepository, volumeRepository, chapterRepository)
	promptHandler := handler.NewPromptHandler(promptRepository, promptGroupRepository)
	userHandler := handler.NewUserHandler(userRepository, usageEventRepository)
	routerRouter := ProvideRouter(cfg, rateLimiter, healthHandler, taskHandler, streamHandler, novelHandler, promptHandler, userHandler)
	return routerRouter, func() {
		cleanup3()
		cleanup2()
		cleanup()
	}, nil
}

// InitializeWorker 初始化 job-worker 依赖
func InitializeWorker(ctx context.Context, cfg *config.Config) (*Worker, func(), error) {
	client, cleanup, err := ProvidePostgresClient(cfg)
	if err != nil {
		return nil, nil, err
	}
	promptRepository := postgres.NewPromptRepository(client)
	characterRepository := postgres.NewCharacterRepository(client)
	worldEntryRepository := postgres.NewWorldEntryRepository(client)
	userRepository := postgres.NewUserRepository(client)
	chapterRepository := postgres.NewChapterRepository(client)
	mentionExpander := prompting.NewMentionExpander(characterRepository, worldEntryRepository, chapterRepository)
	redisClient, cleanup2, err := ProvideRedisClient(cfg)
	if err != nil {
		cleanup()
		return nil, nil, err
	}
	cache := redis.NewCache(redisClient)
	assembler := prompting.NewAssembler(promptRepository, characterRepository, worldEntryRepository, userRepository, mentionExpander, cache)
	einoFactory := llm.NewEinoFactory(cfg)
	usageEventRepository := postgres.NewUsageEventRepository(client)
	txManager := postgres.NewTxManager(client)
	service := ledger.NewService(cfg, userRepository, usageEventRepository, txManager)
	generationService := generation.NewService(einoFactory, service, cfg)
	taskRepository := postgres.NewTaskRepository(client)
	stageRecordRepository := postgres.NewStageRecordRepository(client)
	outlineNodeRepository := postgres.NewOutlineNodeRepository(client)
	novelRepository := postgres.NewNovelRepository(client)
	volumeRepository := postgres.NewVolumeRepository(client)
	promptGroupRepository := postgres.NewPromptGroupRepository(client)
	embedder, err := ProvideEmbedderOptional(ctx, cfg)
	if err != nil {
		cleanup2()
		cleanup()
		return nil, nil, err
	}
	milvusClient, cleanup3, err := ProvideMilvusClientOptional(ctx, cfg)
	if err != nil {
		cleanup2()
		cleanup()
		return nil, nil, err
	}
	repository := ProvideMilvusRepositoryOptional(milvusClient)
	engine := ProvideRetrievalEngine(embedder, repository)
	indexer := ProvideRetrievalIndexer(embedder, repository)
	producer := ProvideMessagingProducer(redisClient, cfg)
	pipelineConfig := ProvidePipelineConfig(cfg)
	taskService := ProvideTaskService(assembler, generationService, service, taskRepository, stageRecordRepository, outlineNodeRepository, novelRepository, volumeRepository, chapterRepository, characterRepository, worldEntryRepository, promptGroupRepository, engine, indexer, producer, producer, pipelineConfig)
	stageWorker := pipeline.NewStageWorker(taskService)
	worker := &Worker{
		Tasks:       taskService,
		StageWorker: stageWorker,
		RedisClient: redisClient,
	}
	return worker, func() {
		cleanup3()
		cleanup2()
		cleanup()
	}, nil
}

// wire.go:

// Worker job-worker 依赖容器
type Worker struct {
	Tasks       *pipeline.TaskService
	StageWorker *pipeline.StageWorker
	RedisClient *redis.Client
}

// PostgresSet PostgreSQL 提供者集合
var PostgresSet = wire.NewSet(
	ProvidePostgresClient, postgres.NewTxManager, postgres.NewTaskRepository, postgres.NewStageRecordRepository, postgres.NewOutlineNodeRepository, postgres.NewNovelRepository, postgres.NewVolumeRepository, postgres.NewChapterRepository, postgres.NewCharacterRepository, postgres.NewWorldEntryRepository, postgres.NewPromptRepository, postgres.NewPromptGroupRepository, postgres.NewUserRepository, postgres.NewUsageEventRepository,
)

// RepoSet 具体实现与仓储接口绑定
var RepoSet = wire.NewSet(
	PostgresSet, wire.Bind(new(repository.Transactor), new(*postgres.TxManager)), wire.Bind(new(repository.TaskRepository), new(*postgres.TaskRepository)), wire.Bind(new(repository.StageRecordRepository), new(*postgres.StageRecordRepository)), wire.Bind(new(repository.OutlineNodeRepository), new(*postgres.OutlineNodeRepository)), wire.Bind(new(repository.NovelRepository), new(*postgres.NovelRepository)), wire.Bind(new(repository.VolumeRepository), new(*postgres.VolumeRepository)), wire.Bind(new(repository.ChapterRepository), new(*postgres.ChapterRepository)), wire.Bind(new(repository.CharacterRepository), new(*postgres.CharacterRepository)), wire.Bind(new(repository.WorldEntryRepository), new(*postgres.WorldEntryRepository)), wire.Bind(new(repository.PromptRepository), new(*postgres.PromptRepository)), wire.Bind(new(repository.PromptGroupRepository), new(*postgres.PromptGroupRepository)), wire.Bind(new(repository.UserRepository), new(*postgres.UserRepository)), wire.Bind(new(repository.UsageEventRepository), new(*postgres.UsageEventRepository)),
)

// RedisSet Redis 提供者集合
var RedisSet = wire.NewSet(
	ProvideRedisClient, redis.NewCache, redis.NewRateLimiter,
)

// MessagingSet 消息队列提供者集合
var MessagingSet = wire.NewSet(
	ProvideMessagingProducer, wire.Bind(new(pipeline.JobPublisher), new(*messaging.Producer)),
)

// MilvusSet API 进程可选 Milvus（不可达时禁用向量检索，不阻塞启动）
var MilvusSet = wire.NewSet(
	ProvideMilvusClientOptional,
	ProvideMilvusRepositoryOptional,
)

// EmbeddingSet 可选 Embedder（不可用时禁用向量检索/索引）
var EmbeddingSet = wire.NewSet(
	ProvideEmbedderOptional,
)

// RetrievalSet 语义召回引擎与索引器
var RetrievalSet = wire.NewSet(
	ProvideRetrievalEngine,
	ProvideRetrievalIndexer,
)

// PipelineSet 生成流水线提供者集合
var PipelineSet = wire.NewSet(llm.NewEinoFactory, wire.Bind(new(generation.ModelFactory), new(*llm.EinoFactory)), prompting.NewMentionExpander, prompting.NewAssembler, ledger.NewService, wire.Bind(new(service.Ledger), new(*ledger.Service)), generation.NewService, ProvidePipelineConfig,
	ProvideTaskService,
)

// HandlerSet HTTP 处理器提供者集合
var HandlerSet = wire.NewSet(handler.NewHealthHandler, handler.NewTaskHandler, handler.NewStreamHandler, handler.NewNovelHandler, handler.NewPromptHandler, handler.NewUserHandler)

// ProvidePostgresClient 提供 PostgreSQL 客户端
func ProvidePostgresClient(cfg *config.Config) (*postgres.Client, func(), error) {
	client, err := postgres.NewClient(&cfg.Database.Postgres)
	if err != nil {
		return nil, nil, err
	}
	cleanup := func() {
		_ = client.Close()
	}
	return client, cleanup, nil
}

// ProvideRedisClient 提供 Redis 客户端
func ProvideRedisClient(cfg *config.Config) (*redis.Client, func(), error) {
	client, err := redis.NewClient(&cfg.Cache.Redis)
	if err != nil {
		return nil, nil, err
	}
	cleanup := func() {
		_ = client.Close()
	}
	return client, cleanup, nil
}

// ProvideMessagingProducer 提供消息生产者
func ProvideMessagingProducer(redisClient *redis.Client, cfg *config.Config) *messaging.Producer {
	return messaging.NewProducer(redisClient.Redis(), cfg.Messaging.StreamMaxLen)
}

// ProvideMilvusClientOptional 提供可选的 Milvus 客户端
func ProvideMilvusClientOptional(ctx context.Context, cfg *config.Config) (*milvus.Client, func(), error) {
	if !cfg.Vector.Enabled {
		return nil, func() {}, nil
	}
	client, err := milvus.NewClient(ctx, &cfg.Vector.Milvus)
	if err != nil {
		logger.Warn(ctx, "milvus not available, vector features disabled", "error", err.Error())
		return nil, func() {}, nil
	}
	cleanup := func() {
		_ = client.Close()
	}
	return client, cleanup, nil
}

// ProvideMilvusRepositoryOptional 提供可选的向量仓储
func ProvideMilvusRepositoryOptional(client *milvus.Client) *milvus.Repository {
	if client == nil {
		return nil
	}
	return milvus.NewRepository(client)
}

// ProvideEmbedderOptional 提供可选的 Embedder
func ProvideEmbedderOptional(ctx context.Context, cfg *config.Config) (embedding.Embedder, error) {
	embedder, err := embedding2.NewEinoEmbedder(ctx, &cfg.Embedding)
	if err != nil {
		logger.Warn(ctx, "embedding not available, vector features disabled", "error", err.Error())
		return nil, nil
	}
	return embedder, nil
}

// ProvideRetrievalEngine 提供语义召回引擎
func ProvideRetrievalEngine(embedder embedding.Embedder, vectorRepo *milvus.Repository) *retrieval.Engine {
	return retrieval.NewEngine(embedder, vectorRepo, 0)
}

// ProvideRetrievalIndexer 提供向量索引器
func ProvideRetrievalIndexer(embedder embedding.Embedder, vectorRepo *milvus.Repository) *retrieval.Indexer {
	return retrieval.NewIndexer(embedder, vectorRepo, 0)
}

// ProvidePipelineConfig 提供流水线配置
func ProvidePipelineConfig(cfg *config.Config) *config.PipelineConfig {
	return &cfg.Pipeline
}

// ProvideTaskService 组装任务编排服务。
// 进度通知器依赖消息生产者，而生产者与服务在同一容器中构建，
// 采用 SetNotifier 后置注入避免构造环。
func ProvideTaskService(
	assembler *prompting.Assembler,
	generator *generation.Service,
	ledgerSvc service.Ledger,
	tasks repository.TaskRepository,
	records repository.StageRecordRepository,
	outlines repository.OutlineNodeRepository,
	novels repository.NovelRepository,
	volumes repository.VolumeRepository,
	chapters repository.ChapterRepository,
	characters repository.CharacterRepository,
	worlds repository.WorldEntryRepository,
	groups repository.PromptGroupRepository,
	engine *retrieval.Engine,
	indexer *retrieval.Indexer,
	producer *messaging.Producer,
	jobs pipeline.JobPublisher,
	pipelineCfg *config.PipelineConfig,
) *pipeline.TaskService {
	svc := pipeline.NewTaskService(pipeline.Dependencies{
		Assembler:  assembler,
		Generator:  generator,
		Ledger:     ledgerSvc,
		Tasks:      tasks,
		Records:    records,
		Outlines:   outlines,
		Novels:     novels,
		Volumes:    volumes,
		Chapters:   chapters,
		Characters: characters,
		Worlds:     worlds,
		Groups:     groups,
		Engine:     engine,
		Indexer:    indexer,
		Jobs:       jobs,
		Config:     pipelineCfg,
	})
	svc.SetNotifier(messaging.NewProgressPublisher(producer))
	return svc
}

// ProvideRouter 组装路由器并挂载业务路由
func ProvideRouter(
	cfg *config.Config,
	limiter *redis.RateLimiter,
	healthHandler *handler.HealthHandler,
	taskHandler *handler.TaskHandler,
	streamHandler *handler.StreamHandler,
	novelHandler *handler.NovelHandler,
	promptHandler *handler.PromptHandler,
	userHandler *handler.UserHandler,
) *router.Router {
	r := router.New(cfg, limiter, healthHandler)
	r.RegisterV1(taskHandler, streamHandler, novelHandler, promptHandler, userHandler)
	return r
}
