package index

import (
	"context"
	"errors"
	"fmt"

	"github.com/xxxsen/docrag/internal/model"
	appErr "github.com/xxxsen/docrag/internal/pkg/errors"
	"github.com/xxxsen/docrag/internal/repo"
)

type pgvectorConfig struct {
	Distance string `json:"distance"`
}

// PGVectorIndex stores entries in postgres and lets pgvector rank them.
// The *sql.DB is shared and owned by the caller.
type PGVectorIndex struct {
	repo   *repo.ChunkRepo
	ping   func(ctx context.Context) error
	metric Metric
}

func init() {
	Register("pgvector", createPGVectorIndex)
}

func createPGVectorIndex(ctx context.Context, args Args) (VectorIndex, error) {
	if args.DB == nil {
		return nil, fmt.Errorf("pgvector index requires a database: %w", ErrUnavailable)
	}
	cfg := &pgvectorConfig{}
	if err := decodeConfig(args.Data, cfg); err != nil {
		return nil, err
	}
	metric, err := ParseMetric(cfg.Distance)
	if err != nil {
		return nil, err
	}
	idx := &PGVectorIndex{
		repo:   repo.NewChunkRepo(args.DB),
		ping:   args.DB.PingContext,
		metric: metric,
	}
	if err := idx.Ping(ctx); err != nil {
		return nil, err
	}
	return idx, nil
}

func (p *PGVectorIndex) Add(ctx context.Context, entries []model.IndexedEntry) error {
	if err := validateEntries(entries, 0, nil); err != nil {
		return err
	}
	if err := p.repo.InsertBatch(ctx, entries); err != nil {
		if errors.Is(err, appErr.ErrConflict) {
			return fmt.Errorf("%w: %w", ErrWrite, ErrDuplicateID)
		}
		return fmt.Errorf("%w: %w", ErrWrite, err)
	}
	return nil
}

func (p *PGVectorIndex) GetAll(ctx context.Context) (*model.IndexSnapshot, error) {
	ids, texts, err := p.repo.ListAll(ctx)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrQuery, err)
	}
	return &model.IndexSnapshot{IDs: ids, Texts: texts}, nil
}

func (p *PGVectorIndex) Query(ctx context.Context, embedding []float32, k int) ([]model.QueryMatch, error) {
	if k <= 0 {
		return []model.QueryMatch{}, nil
	}
	matches, err := p.repo.Nearest(ctx, embedding, p.operator(), k)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrQuery, err)
	}
	return sortMatches(matches, k), nil
}

func (p *PGVectorIndex) Count(ctx context.Context) (int, error) {
	n, err := p.repo.Count(ctx)
	if err != nil {
		return 0, fmt.Errorf("%w: %w", ErrQuery, err)
	}
	return n, nil
}

func (p *PGVectorIndex) Ping(ctx context.Context) error {
	if err := p.ping(ctx); err != nil {
		return fmt.Errorf("%w: %w", ErrUnavailable, err)
	}
	return nil
}

func (p *PGVectorIndex) Close() error {
	return nil
}

func (p *PGVectorIndex) operator() string {
	if p.metric == MetricL2 {
		return "<->"
	}
	return "<=>"
}
