package cmd

import (
	"context"

	"nebulaktv/cache"
	"nebulaktv/core/audio"
	"nebulaktv/core/pipeline"
	"nebulaktv/core/registry"
	"nebulaktv/core/stream"
	"nebulaktv/db"
	"nebulaktv/logger"
	"nebulaktv/queue"
	"nebulaktv/repository"
	"nebulaktv/server"
	"nebulaktv/storage"

	"github.com/go-redis/redis/v8"
	"gorm.io/gorm"
)

// app 持有一次进程运行所需的全部依赖
type app struct {
	db       *gorm.DB
	redis    *redis.Client
	store    storage.Backend
	songs    repository.SongRepository
	registry *registry.Registry
	assets   *cache.AssetCache
	queue    *queue.RedisQueue
	orch     *pipeline.Orchestrator
}

func newApp(ctx context.Context) (*app, error) {
	gdb, err := db.OpenGorm(cfg)
	if err != nil {
		return nil, err
	}
	rdb, err := cache.NewRedisClient(ctx, cfg)
	if err != nil {
		db.Close(gdb)
		return nil, err
	}
	store, err := storage.New(ctx, cfg)
	if err != nil {
		db.Close(gdb)
		rdb.Close()
		return nil, err
	}

	a := &app{
		db:       gdb,
		redis:    rdb,
		store:    store,
		songs:    repository.NewGormSongRepository(gdb),
		registry: registry.New(repository.NewGormMediaAssetRepository(gdb)),
		queue:    queue.NewRedisQueue(rdb, cfg.QueueName, cfg.JobResultTTL),
	}
	// worker 与 API 共用同一个 Redis，替换或删除记录时在此处清理缓存
	a.assets = cache.NewAssetCache(rdb, a.registry, cfg.AssetCacheTTL)
	a.registry.UseCache(a.assets)
	a.orch = pipeline.NewOrchestrator(a.songs, a.registry, a.queue, store, buildSteps(), pipeline.Options{
		MediaRoot:     cfg.MediaRoot,
		MaxAttempts:   cfg.JobMaxAttempts,
		RetryDelay:    cfg.JobRetryDelay,
		RetryMaxDelay: cfg.JobRetryMaxDelay,
		SoftTimeLimit: cfg.JobSoftTimeLimit,
	})
	return a, nil
}

func buildSteps() []pipeline.Step {
	ffmpeg := audio.NewFFmpegProcessor(cfg.FFmpegPath, cfg.FFprobePath, audio.ExecRunner{})
	separate := audio.NewSeparationStep(cfg.SeparatorCmd, audio.ExecRunner{}, ffmpeg)
	transcribe := audio.NewTranscriptionStep(cfg.TranscriberCmd, audio.ExecRunner{})
	if !separate.Enabled() {
		logger.Warn("未配置 SEPARATOR_CMD，伴奏无法生成，任务将以 FAILED 结束")
	}
	if !transcribe.Enabled() {
		logger.Info("未配置 TRANSCRIBER_CMD，跳过歌词生成")
	}
	return []pipeline.Step{audio.NewExtractStep(ffmpeg), separate, transcribe}
}

func (a *app) apiHandler() *server.APIHandler {
	engine := stream.NewEngine(a.assets, a.store, cfg.StreamChunkSize)
	checks := map[string]server.HealthCheck{
		"db":    func(ctx context.Context) error { return db.Ping(ctx, a.db) },
		"redis": func(ctx context.Context) error { return a.redis.Ping(ctx).Err() },
	}
	return server.NewAPIHandler(a.songs, a.registry, engine, a.orch, a.queue, checks)
}

func (a *app) close() {
	if err := a.redis.Close(); err != nil {
		logger.Warn("关闭 Redis 连接失败", logger.ErrorField(err))
	}
	if err := db.Close(a.db); err != nil {
		logger.Warn("关闭数据库连接失败", logger.ErrorField(err))
	}
}
