package embedcache

import (
	"context"
	"time"

	"github.com/hashicorp/golang-lru/v2/expirable"
	"github.com/xxxsen/docrag/internal/ai"
)

func WrapLruCacheToEmbedder(e ai.IEmbedder, size int, ttl time.Duration) ai.IEmbedder {
	if e == nil || size <= 0 || ttl <= 0 {
		return e
	}
	return &lruEmbedder{
		next:  e,
		cache: expirable.NewLRU[string, []float32](size, nil, ttl),
	}
}

type lruEmbedder struct {
	next  ai.IEmbedder
	cache *expirable.LRU[string, []float32]
}

func (l *lruEmbedder) Encode(ctx context.Context, texts []string) ([][]float32, error) {
	return encodeThrough(ctx, l.next, l, texts)
}

func (l *lruEmbedder) ModelName() string {
	return l.next.ModelName()
}

func (l *lruEmbedder) name() string {
	return "lru"
}

func (l *lruEmbedder) load(_ context.Context, k cacheKey) ([]float32, bool, error) {
	cached, ok := l.cache.Get(k.key)
	if !ok {
		return nil, false, nil
	}
	return cloneEmbedding(cached), true, nil
}

func (l *lruEmbedder) save(_ context.Context, k cacheKey, values []float32) {
	l.cache.Add(k.key, values)
}
