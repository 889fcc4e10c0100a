package ai

import (
	"context"

	"golang.org/x/sync/errgroup"
)

type batchEmbedder struct {
	inner     IEmbedder
	batchSize int
	parallel  int
}

// NewBatchEmbedder splits large inputs into batches of batchSize and encodes
// up to parallel batches at once. Output order matches input order.
func NewBatchEmbedder(inner IEmbedder, batchSize, parallel int) IEmbedder {
	if batchSize <= 0 {
		return inner
	}
	if parallel <= 0 {
		parallel = 1
	}
	return &batchEmbedder{inner: inner, batchSize: batchSize, parallel: parallel}
}

func (b *batchEmbedder) Encode(ctx context.Context, texts []string) ([][]float32, error) {
	if len(texts) <= b.batchSize {
		return b.inner.Encode(ctx, texts)
	}
	out := make([][]float32, len(texts))
	eg, ctx := errgroup.WithContext(ctx)
	eg.SetLimit(b.parallel)
	for start := 0; start < len(texts); start += b.batchSize {
		end := start + b.batchSize
		if end > len(texts) {
			end = len(texts)
		}
		eg.Go(func() error {
			vectors, err := b.inner.Encode(ctx, texts[start:end])
			if err != nil {
				return err
			}
			copy(out[start:end], vectors)
			return nil
		})
	}
	if err := eg.Wait(); err != nil {
		return nil, err
	}
	return out, nil
}

func (b *batchEmbedder) ModelName() string {
	return b.inner.ModelName()
}
