package main

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/gin-contrib/gzip"
	"github.com/gin-gonic/gin"
	"github.com/xxxsen/common/logutil"
	"github.com/xxxsen/common/webapi"
	"go.uber.org/zap"

	"github.com/xxxsen/docrag/internal/config"
	"github.com/xxxsen/docrag/internal/filestore"
	"github.com/xxxsen/docrag/internal/handler"
	"github.com/xxxsen/docrag/internal/job"
	"github.com/xxxsen/docrag/internal/middleware"
	"github.com/xxxsen/docrag/internal/schedule"
	"github.com/xxxsen/docrag/internal/watcher"
)

func runServer(ctx context.Context, cfg *config.Config) error {
	logger := logutil.GetLogger(ctx)
	logger.Info("starting server",
		zap.Int("port", cfg.Port),
		zap.String("data_dir", cfg.DataDir),
		zap.String("index", cfg.Index.Type),
		zap.String("file_store", cfg.FileStore.Type),
	)

	a, err := newApp(ctx, cfg)
	if err != nil {
		return err
	}
	defer a.Close()

	if _, err := a.pipeline.LoadDirectory(ctx, cfg.DataDir); err != nil {
		return fmt.Errorf("load data dir: %w", err)
	}

	store, err := filestore.New(cfg.FileStore)
	if err != nil {
		return fmt.Errorf("init file store: %w", err)
	}

	scheduler := schedule.NewCronScheduler()
	if cfg.EmbedCache.DB.Enable && a.cacheRepo != nil {
		if err := scheduler.AddJob(job.NewEmbeddingCacheCleanupJob(a.cacheRepo, cfg.EmbedCache.DB.MaxAgeDays), cfg.EmbedCache.DB.CleanupSpec); err != nil {
			return err
		}
	}
	if cfg.Watch.SyncSpec != "" {
		if err := scheduler.AddJob(job.NewDirectorySyncJob(a.pipeline, cfg.DataDir), cfg.Watch.SyncSpec); err != nil {
			return err
		}
	}
	scheduler.Start(ctx)
	defer scheduler.Stop()

	if cfg.Watch.Enable {
		w := watcher.New(cfg.DataDir, time.Duration(cfg.Watch.DebounceMs)*time.Millisecond, a.pipeline)
		go func() {
			if err := w.Run(ctx); err != nil {
				logger.Error("watcher stopped", zap.Error(err))
			}
		}()
	}

	deps := handler.RouterDeps{
		RAG:       handler.NewRAGHandler(a.pipeline, a.answers, store, cfg.MaxUploadBytes),
		Metrics:   a.metrics,
		RateLimit: time.Duration(cfg.RateLimitMs) * time.Millisecond,
	}
	addr := fmt.Sprintf("0.0.0.0:%d", cfg.Port)
	engine, err := webapi.NewEngine(
		"/api/v1",
		addr,
		webapi.WithRegister(func(group *gin.RouterGroup) {
			handler.RegisterRoutes(group, deps)
		}),
		webapi.WithExtraMiddlewares(
			middleware.RequestID(),
			middleware.Observe(a.metrics),
			middleware.CORS(cfg.CORSAllowlist),
			gzip.Gzip(gzip.DefaultCompression),
		),
	)
	if err != nil {
		return fmt.Errorf("init web engine: %w", err)
	}
	logger.Info("http server listening", zap.String("addr", addr))

	go func() {
		if err := engine.Run(); err != nil && err != http.ErrServerClosed {
			logger.Error("server error", zap.Error(err))
		}
	}()

	<-ctx.Done()
	logger.Info("server stopping...")
	return nil
}
