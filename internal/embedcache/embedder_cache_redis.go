package embedcache

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/xxxsen/common/logutil"
	"github.com/xxxsen/docrag/internal/ai"
	"go.uber.org/zap"
)

type RedisConfig struct {
	Addr     string
	Password string
	DB       int
	TTL      time.Duration
	Prefix   string
}

// NewRedisClient connects and pings so a bad address fails at startup.
func NewRedisClient(ctx context.Context, cfg RedisConfig) (*redis.Client, error) {
	client := redis.NewClient(&redis.Options{
		Addr:     cfg.Addr,
		Password: cfg.Password,
		DB:       cfg.DB,
	})
	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, err
	}
	return client, nil
}

// WrapRedisCacheToEmbedder shares embeddings between processes. Redis
// failures are logged and treated as misses.
func WrapRedisCacheToEmbedder(e ai.IEmbedder, client redis.UniversalClient, ttl time.Duration, prefix string) ai.IEmbedder {
	if e == nil || client == nil {
		return e
	}
	if prefix == "" {
		prefix = "docrag:"
	}
	return &redisEmbedder{next: e, client: client, ttl: ttl, prefix: prefix}
}

type redisEmbedder struct {
	next   ai.IEmbedder
	client redis.UniversalClient
	ttl    time.Duration
	prefix string
}

func (r *redisEmbedder) Encode(ctx context.Context, texts []string) ([][]float32, error) {
	return encodeThrough(ctx, r.next, r, texts)
}

func (r *redisEmbedder) ModelName() string {
	return r.next.ModelName()
}

func (r *redisEmbedder) name() string {
	return "redis"
}

func (r *redisEmbedder) load(ctx context.Context, k cacheKey) ([]float32, bool, error) {
	raw, err := r.client.Get(ctx, r.prefix+k.key).Bytes()
	if err != nil {
		if !errors.Is(err, redis.Nil) {
			logutil.GetLogger(ctx).Warn("redis embedding lookup failed", zap.Error(err))
		}
		return nil, false, nil
	}
	var values []float32
	if err := json.Unmarshal(raw, &values); err != nil || len(values) == 0 {
		return nil, false, nil
	}
	return values, true, nil
}

func (r *redisEmbedder) save(ctx context.Context, k cacheKey, values []float32) {
	raw, err := json.Marshal(values)
	if err != nil {
		return
	}
	if err := r.client.Set(ctx, r.prefix+k.key, raw, r.ttl).Err(); err != nil {
		logutil.GetLogger(ctx).Warn("failed to cache embedding", zap.String("tier", r.name()), zap.Error(err))
	}
}
