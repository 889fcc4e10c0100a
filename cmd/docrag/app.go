package main

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/xxxsen/common/logutil"
	"go.uber.org/zap"

	"github.com/xxxsen/docrag/internal/ai"
	"github.com/xxxsen/docrag/internal/chunker"
	"github.com/xxxsen/docrag/internal/config"
	"github.com/xxxsen/docrag/internal/db"
	"github.com/xxxsen/docrag/internal/embedcache"
	"github.com/xxxsen/docrag/internal/events"
	"github.com/xxxsen/docrag/internal/index"
	"github.com/xxxsen/docrag/internal/metrics"
	"github.com/xxxsen/docrag/internal/repo"
	"github.com/xxxsen/docrag/internal/service"
)

// app holds the shared components behind every command.
type app struct {
	cfg       *config.Config
	db        *sql.DB
	redis     *redis.Client
	index     index.VectorIndex
	metrics   *metrics.Metrics
	publisher events.Publisher
	pipeline  *service.Pipeline
	answers   *service.AnswerService
	cacheRepo *repo.EmbeddingCacheRepo
}

func newApp(ctx context.Context, cfg *config.Config) (*app, error) {
	a := &app{cfg: cfg, metrics: metrics.New(), publisher: events.NewNoop()}
	ok := false
	defer func() {
		if !ok {
			a.Close()
		}
	}()

	if cfg.Database.Enabled() {
		conn, err := db.Open(ctx, cfg.Database)
		if err != nil {
			return nil, fmt.Errorf("open db: %w", err)
		}
		a.db = conn
		if err := db.ApplyMigrations(ctx, conn); err != nil {
			return nil, fmt.Errorf("migrations: %w", err)
		}
		a.cacheRepo = repo.NewEmbeddingCacheRepo(conn)
	}

	idx, err := index.New(ctx, cfg.Index.Type, index.Args{Data: cfg.Index.Args(), DB: a.db})
	if err != nil {
		return nil, err
	}
	a.index = idx

	embedder, err := a.buildEmbedder(ctx)
	if err != nil {
		return nil, err
	}
	generator, err := buildGenerator(cfg.AI.Generators)
	if err != nil {
		return nil, err
	}

	if len(cfg.Events.Kafka.Brokers) > 0 {
		a.publisher = events.NewKafkaPublisher(cfg.Events.Kafka.Brokers, cfg.Events.Kafka.Topic)
	}

	a.pipeline = service.NewPipeline(idx, embedder,
		service.WithChunker(chunker.New(
			chunker.WithMaxTokens(cfg.Chunker.MaxTokens),
			chunker.WithOverlapTokens(cfg.Chunker.Overlap()),
		)),
		service.WithMetrics(a.metrics),
		service.WithPublisher(a.publisher),
	)
	a.answers = service.NewAnswerService(a.pipeline, generator, time.Duration(cfg.AI.Timeout)*time.Second, a.metrics)

	logutil.GetLogger(ctx).Info("components ready",
		zap.String("index", cfg.Index.Type),
		zap.String("embedder", embedder.ModelName()),
		zap.Int("generators", len(cfg.AI.Generators)),
		zap.Bool("database", a.db != nil),
		zap.Bool("redis", a.redis != nil),
	)
	ok = true
	return a, nil
}

// buildEmbedder stacks provider fallback, batching and the cache tiers.
// Lookups go memory, then redis, then database, then the provider.
func (a *app) buildEmbedder(ctx context.Context) (ai.IEmbedder, error) {
	cfg := a.cfg
	entries := make([]ai.EmbedderEntry, 0, len(cfg.AI.Embedders))
	for _, pc := range cfg.AI.Embedders {
		p, err := ai.NewEmbedProvider(pc.Provider, pc.Data)
		if err != nil {
			return nil, fmt.Errorf("init embedder %s: %w", pc.Name, err)
		}
		entries = append(entries, ai.EmbedderEntry{Name: pc.Name, Embedder: ai.NewEmbedder(p, pc.Model)})
	}
	e := ai.NewGroupEmbedder(entries)
	if e == nil {
		return nil, fmt.Errorf("no embedder configured")
	}
	e = ai.NewBatchEmbedder(e, cfg.AI.EmbedBatchSize, cfg.AI.EmbedParallel)

	if cfg.EmbedCache.DB.Enable && a.cacheRepo != nil {
		e = embedcache.WrapDBCacheToEmbedder(e, a.cacheRepo)
	}
	if rc := cfg.EmbedCache.Redis; rc.Addr != "" {
		client, err := embedcache.NewRedisClient(ctx, embedcache.RedisConfig{
			Addr:     rc.Addr,
			Password: rc.Password,
			DB:       rc.DB,
		})
		if err != nil {
			return nil, fmt.Errorf("connect redis: %w", err)
		}
		a.redis = client
		e = embedcache.WrapRedisCacheToEmbedder(e, client, time.Duration(rc.TTLSeconds)*time.Second, rc.Prefix)
	}
	if cfg.EmbedCache.LRUSize > 0 {
		e = embedcache.WrapLruCacheToEmbedder(e, cfg.EmbedCache.LRUSize, time.Duration(cfg.EmbedCache.LRUTTLSeconds)*time.Second)
	}
	return e, nil
}

func buildGenerator(items []config.ProviderConfig) (ai.IGenerator, error) {
	entries := make([]ai.GeneratorEntry, 0, len(items))
	for _, pc := range items {
		p, err := ai.NewProvider(pc.Provider, pc.Data)
		if err != nil {
			return nil, fmt.Errorf("init generator %s: %w", pc.Name, err)
		}
		entries = append(entries, ai.GeneratorEntry{Name: pc.Name, Generator: ai.NewGenerator(p, pc.Model)})
	}
	return ai.NewGroupGenerator(entries), nil
}

func (a *app) Close() {
	logger := logutil.GetLogger(context.Background())
	if a.publisher != nil {
		if err := a.publisher.Close(); err != nil {
			logger.Warn("close publisher failed", zap.Error(err))
		}
	}
	if a.index != nil {
		if err := a.index.Close(); err != nil {
			logger.Warn("close index failed", zap.Error(err))
		}
	}
	if a.redis != nil {
		_ = a.redis.Close()
	}
	if a.db != nil {
		_ = a.db.Close()
	}
}
