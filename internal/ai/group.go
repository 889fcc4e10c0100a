package ai

import (
	"context"
	"fmt"
	"strings"

	"github.com/xxxsen/common/logutil"
	"go.uber.org/zap"
)

type GeneratorEntry struct {
	Name      string
	Generator IGenerator
}

type EmbedderEntry struct {
	Name     string
	Embedder IEmbedder
}

// fallback calls each member in order and returns the first success.
// A cancelled ctx stops the chain instead of moving to the next member.
func fallback[M any, R any](ctx context.Context, kind string, names []string, members []M, call func(M) (R, error)) (R, error) {
	var (
		zero    R
		lastErr error
	)
	for i, m := range members {
		res, err := call(m)
		if err == nil {
			return res, nil
		}
		lastErr = err
		if ctx.Err() != nil {
			break
		}
		logutil.GetLogger(ctx).Warn(kind+" failed, trying next",
			zap.Int("index", i),
			zap.String("name", names[i]),
			zap.Error(err),
		)
	}
	if lastErr == nil {
		return zero, fmt.Errorf("%s not configured: %w", kind, ErrUnavailable)
	}
	return zero, lastErr
}

type groupGenerator struct {
	names   []string
	members []IGenerator
}

// NewGroupGenerator tries each generator in order until one succeeds.
func NewGroupGenerator(items []GeneratorEntry) IGenerator {
	if len(items) == 0 {
		return nil
	}
	g := &groupGenerator{}
	for _, item := range items {
		if item.Generator == nil {
			continue
		}
		g.names = append(g.names, item.Name)
		g.members = append(g.members, item.Generator)
	}
	return g
}

func (g *groupGenerator) Generate(ctx context.Context, prompt string) (string, error) {
	return fallback(ctx, "generator", g.names, g.members, func(m IGenerator) (string, error) {
		return m.Generate(ctx, prompt)
	})
}

type groupEmbedder struct {
	names   []string
	members []IEmbedder
}

// NewGroupEmbedder falls back to the next embedder when one fails. Members
// must agree on vector dimension or the index will reject the batch.
func NewGroupEmbedder(items []EmbedderEntry) IEmbedder {
	g := &groupEmbedder{}
	for _, item := range items {
		if item.Embedder == nil {
			continue
		}
		g.names = append(g.names, item.Name)
		g.members = append(g.members, item.Embedder)
	}
	switch len(g.members) {
	case 0:
		return nil
	case 1:
		return g.members[0]
	}
	return g
}

func (g *groupEmbedder) Encode(ctx context.Context, texts []string) ([][]float32, error) {
	return fallback(ctx, "embedder", g.names, g.members, func(m IEmbedder) ([][]float32, error) {
		return m.Encode(ctx, texts)
	})
}

func (g *groupEmbedder) ModelName() string {
	names := make([]string, 0, len(g.members))
	for _, m := range g.members {
		names = append(names, m.ModelName())
	}
	return strings.Join(names, "|")
}
