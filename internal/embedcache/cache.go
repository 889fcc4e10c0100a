package embedcache

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"strings"

	"github.com/xxxsen/common/logutil"
	"github.com/xxxsen/docrag/internal/ai"
	"go.uber.org/zap"
)

type cacheKey struct {
	key         string
	contentHash string
	modelName   string
}

type tier interface {
	name() string
	load(ctx context.Context, k cacheKey) ([]float32, bool, error)
	save(ctx context.Context, k cacheKey, values []float32)
}

// encodeThrough serves hits from the tier and encodes only the misses, in one
// call to next. Results keep the input order.
func encodeThrough(ctx context.Context, next ai.IEmbedder, t tier, texts []string) ([][]float32, error) {
	modelName := next.ModelName()
	out := make([][]float32, len(texts))
	keys := make([]cacheKey, len(texts))
	var (
		missIdx   []int
		missTexts []string
	)
	for i, text := range texts {
		keys[i] = buildCacheKey(modelName, text)
		values, ok, err := t.load(ctx, keys[i])
		if err != nil {
			return nil, err
		}
		if ok {
			out[i] = values
			continue
		}
		missIdx = append(missIdx, i)
		missTexts = append(missTexts, text)
	}
	if hits := len(texts) - len(missIdx); hits > 0 {
		logutil.GetLogger(ctx).Debug("embedding cache hit",
			zap.String("tier", t.name()),
			zap.Int("hits", hits),
			zap.Int("misses", len(missIdx)),
		)
	}
	if len(missIdx) == 0 {
		return out, nil
	}
	vectors, err := next.Encode(ctx, missTexts)
	if err != nil {
		return nil, err
	}
	if len(vectors) != len(missIdx) {
		return nil, fmt.Errorf("got %d embeddings for %d texts", len(vectors), len(missIdx))
	}
	for j, idx := range missIdx {
		out[idx] = vectors[j]
		t.save(ctx, keys[idx], cloneEmbedding(vectors[j]))
	}
	return out, nil
}

func buildCacheKey(modelName, text string) cacheKey {
	modelName = strings.TrimSpace(modelName)
	if modelName == "" {
		modelName = "unknown"
	}
	hash := sha256.Sum256([]byte(text))
	contentHash := hex.EncodeToString(hash[:])
	return cacheKey{
		key:         "embed:" + modelName + ":" + contentHash,
		contentHash: contentHash,
		modelName:   modelName,
	}
}

func cloneEmbedding(values []float32) []float32 {
	if len(values) == 0 {
		return nil
	}
	clone := make([]float32, len(values))
	copy(clone, values)
	return clone
}
