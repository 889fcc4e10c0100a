package embedcache

import (
	"context"
	"time"

	"github.com/xxxsen/common/logutil"
	"github.com/xxxsen/docrag/internal/ai"
	"github.com/xxxsen/docrag/internal/model"
	"github.com/xxxsen/docrag/internal/repo"
	"go.uber.org/zap"
)

type embeddingCacheStore interface {
	Get(ctx context.Context, modelName, contentHash string) ([]float32, bool, error)
	Save(ctx context.Context, item *model.CachedEmbedding) error
}

var _ embeddingCacheStore = (*repo.EmbeddingCacheRepo)(nil)

func WrapDBCacheToEmbedder(e ai.IEmbedder, cacheRepo embeddingCacheStore) ai.IEmbedder {
	if e == nil || cacheRepo == nil {
		return e
	}
	return &dbEmbedder{next: e, repo: cacheRepo}
}

type dbEmbedder struct {
	next ai.IEmbedder
	repo embeddingCacheStore
}

func (d *dbEmbedder) Encode(ctx context.Context, texts []string) ([][]float32, error) {
	return encodeThrough(ctx, d.next, d, texts)
}

func (d *dbEmbedder) ModelName() string {
	return d.next.ModelName()
}

func (d *dbEmbedder) name() string {
	return "db"
}

func (d *dbEmbedder) load(ctx context.Context, k cacheKey) ([]float32, bool, error) {
	return d.repo.Get(ctx, k.modelName, k.contentHash)
}

func (d *dbEmbedder) save(ctx context.Context, k cacheKey, values []float32) {
	if err := d.repo.Save(ctx, &model.CachedEmbedding{
		ModelName:   k.modelName,
		ContentHash: k.contentHash,
		Vector:      values,
		Ctime:       time.Now().Unix(),
	}); err != nil {
		logutil.GetLogger(ctx).Warn("failed to cache embedding", zap.String("tier", d.name()), zap.Error(err))
	}
}
