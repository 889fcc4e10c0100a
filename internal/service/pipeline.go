package service

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/xxxsen/common/logutil"
	"go.uber.org/zap"

	"github.com/xxxsen/docrag/internal/ai"
	"github.com/xxxsen/docrag/internal/chunker"
	"github.com/xxxsen/docrag/internal/events"
	"github.com/xxxsen/docrag/internal/index"
	"github.com/xxxsen/docrag/internal/metrics"
	"github.com/xxxsen/docrag/internal/model"
	appErr "github.com/xxxsen/docrag/internal/pkg/errors"
)

const (
	DefaultRetrieveK = 3
	DefaultSearchK   = 5
)

type PipelineOption func(*Pipeline)

func WithChunker(c *chunker.Chunker) PipelineOption {
	return func(p *Pipeline) {
		p.chunker = c
	}
}

func WithMetrics(m *metrics.Metrics) PipelineOption {
	return func(p *Pipeline) {
		p.metrics = m
	}
}

func WithPublisher(pub events.Publisher) PipelineOption {
	return func(p *Pipeline) {
		p.publisher = pub
	}
}

// Pipeline ingests documents into a vector index and answers similarity
// queries against it. Ingestion is serialised so id allocation never races.
type Pipeline struct {
	index     index.VectorIndex
	embedder  ai.IEmbedder
	chunker   *chunker.Chunker
	metrics   *metrics.Metrics
	publisher events.Publisher
	mu        sync.Mutex
}

func NewPipeline(idx index.VectorIndex, embedder ai.IEmbedder, opts ...PipelineOption) *Pipeline {
	p := &Pipeline{
		index:     idx,
		embedder:  embedder,
		chunker:   chunker.New(),
		publisher: events.NewNoop(),
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// Ingest chunks text, drops chunks already in the index and adds the rest in
// one write. Skips are reported in the result, not as errors.
func (p *Pipeline) Ingest(ctx context.Context, text, filename string) (*model.IngestResult, error) {
	if strings.TrimSpace(filename) == "" {
		filename = chunker.DefaultFilename
	}
	logger := logutil.GetLogger(ctx).With(zap.String("filename", filename))
	source := chunker.SourceName(filename)
	chunks := p.chunker.Split(ctx, model.Document{Filename: filename, Text: text})

	result, err := p.store(ctx, logger, filename, source, chunks)
	if err != nil || !result.Added() {
		return result, err
	}
	// Published outside the ingest lock.
	if err := p.publisher.PublishIngest(ctx, source, result); err != nil {
		logger.Warn("failed to publish ingest event", zap.Error(err))
	}
	return result, nil
}

// store holds the ingest lock across read, reconcile, embed and add, which
// keeps id allocation unique.
func (p *Pipeline) store(ctx context.Context, logger *zap.Logger, filename, source string, chunks []model.Chunk) (*model.IngestResult, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	snap, err := p.index.GetAll(ctx)
	if err != nil {
		p.metrics.ObserveIngest("error", "index", 0, 0)
		logger.Error("failed to read index", zap.Error(err))
		return nil, fmt.Errorf("read index: %w", err)
	}
	rec := Reconcile(chunks, snap.TextSet(), snap.Count(), source)
	result := &model.IngestResult{
		Filename:    filename,
		TotalChunks: len(chunks),
		AddedChunks: len(rec.Accepted),
		IDs:         rec.IDs,
	}
	if len(rec.Accepted) == 0 {
		result.Status = model.IngestStatusSkipped
		result.Reason = rec.Reason
		p.metrics.ObserveIngest(result.Status, result.Reason, 0, rec.Skipped)
		logger.Info("document skipped", zap.String("reason", rec.Reason), zap.Int("total_chunks", len(chunks)))
		return result, nil
	}

	start := time.Now()
	vectors, err := p.embedder.Encode(ctx, rec.Texts())
	p.metrics.ObserveEmbed(time.Since(start))
	if err != nil {
		p.metrics.ObserveIngest("error", "embedding", 0, 0)
		logger.Error("failed to embed chunks", zap.Int("chunks", len(rec.Accepted)), zap.Error(err))
		return nil, fmt.Errorf("%w: %w", ai.ErrEmbedding, err)
	}
	if len(vectors) != len(rec.Accepted) {
		p.metrics.ObserveIngest("error", "embedding", 0, 0)
		return nil, fmt.Errorf("%w: got %d embeddings for %d chunks", ai.ErrEmbedding, len(vectors), len(rec.Accepted))
	}
	entries := make([]model.IndexedEntry, 0, len(rec.Accepted))
	for i, c := range rec.Accepted {
		entries = append(entries, model.IndexedEntry{ID: rec.IDs[i], Text: c.Text, Embedding: vectors[i]})
	}
	if err := p.index.Add(ctx, entries); err != nil {
		p.metrics.ObserveIngest("error", "index", 0, 0)
		logger.Error("failed to add chunks", zap.Int("chunks", len(entries)), zap.Error(err))
		return nil, fmt.Errorf("add to index: %w", err)
	}
	result.Status = model.IngestStatusAdded
	p.metrics.ObserveIngest(result.Status, "", len(entries), rec.Skipped)
	p.metrics.SetIndexEntries(snap.Count() + len(entries))
	logger.Info("document ingested",
		zap.Int("total_chunks", result.TotalChunks),
		zap.Int("added_chunks", result.AddedChunks),
	)
	return result, nil
}

// IngestFile reads and ingests one file from disk.
func (p *Pipeline) IngestFile(ctx context.Context, path string) (*model.IngestResult, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read %s: %w", path, err)
	}
	return p.Ingest(ctx, string(raw), filepath.Base(path))
}

// LoadDirectory ingests every text and markdown file in dir in name order.
// The directory is created when missing. The first failure aborts the load.
func (p *Pipeline) LoadDirectory(ctx context.Context, dir string) ([]*model.IngestResult, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("create data dir: %w", err)
	}
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, fmt.Errorf("read data dir: %w", err)
	}
	var files []string
	for _, entry := range entries {
		if entry.IsDir() || !IsIngestible(entry.Name()) {
			continue
		}
		files = append(files, entry.Name())
	}
	sort.Strings(files)
	results := make([]*model.IngestResult, 0, len(files))
	for _, name := range files {
		res, err := p.IngestFile(ctx, filepath.Join(dir, name))
		if err != nil {
			return results, err
		}
		results = append(results, res)
	}
	logutil.GetLogger(ctx).Info("data dir loaded", zap.String("dir", dir), zap.Int("files", len(files)))
	return results, nil
}

// IsIngestible reports whether a file name is picked up by directory loads.
func IsIngestible(name string) bool {
	if strings.HasPrefix(name, ".") {
		return false
	}
	return strings.EqualFold(filepath.Ext(name), ".txt") || chunker.IsMarkdown(name)
}

// Retrieve returns the texts of the k nearest chunks, nearest first.
func (p *Pipeline) Retrieve(ctx context.Context, query string, k int) ([]string, error) {
	if k <= 0 {
		k = DefaultRetrieveK
	}
	matches, err := p.query(ctx, "retrieve", query, k)
	if err != nil {
		return nil, err
	}
	texts := make([]string, 0, len(matches))
	for _, m := range matches {
		texts = append(texts, m.Text)
	}
	return texts, nil
}

// Search returns the k nearest chunks with ids and distances.
func (p *Pipeline) Search(ctx context.Context, query string, k int) ([]model.QueryMatch, error) {
	if k <= 0 {
		k = DefaultSearchK
	}
	return p.query(ctx, "search", query, k)
}

func (p *Pipeline) query(ctx context.Context, kind, query string, k int) ([]model.QueryMatch, error) {
	if strings.TrimSpace(query) == "" {
		return nil, fmt.Errorf("query is empty: %w", appErr.ErrInvalid)
	}
	start := time.Now()
	vectors, err := p.embedder.Encode(ctx, []string{query})
	if err != nil {
		p.metrics.ObserveQuery(kind, "error", time.Since(start))
		return nil, fmt.Errorf("%w: %w", ai.ErrEmbedding, err)
	}
	if len(vectors) != 1 {
		p.metrics.ObserveQuery(kind, "error", time.Since(start))
		return nil, fmt.Errorf("%w: got %d embeddings for 1 query", ai.ErrEmbedding, len(vectors))
	}
	matches, err := p.index.Query(ctx, vectors[0], k)
	if err != nil {
		p.metrics.ObserveQuery(kind, "error", time.Since(start))
		return nil, fmt.Errorf("query index: %w", err)
	}
	sort.SliceStable(matches, func(i, j int) bool {
		return matches[i].Distance < matches[j].Distance
	})
	if len(matches) > k {
		matches = matches[:k]
	}
	result := "hit"
	if len(matches) == 0 {
		result = "empty"
	}
	p.metrics.ObserveQuery(kind, result, time.Since(start))
	logutil.GetLogger(ctx).Debug("query served",
		zap.String("kind", kind),
		zap.Int("k", k),
		zap.Int("matches", len(matches)),
	)
	return matches, nil
}

// Records lists every indexed id and text.
func (p *Pipeline) Records(ctx context.Context) (*model.IndexSnapshot, error) {
	snap, err := p.index.GetAll(ctx)
	if err != nil {
		return nil, fmt.Errorf("read index: %w", err)
	}
	return snap, nil
}

// Ready pings the index and returns its size.
func (p *Pipeline) Ready(ctx context.Context) (int, error) {
	if err := p.index.Ping(ctx); err != nil {
		return 0, err
	}
	n, err := p.index.Count(ctx)
	if err != nil {
		return 0, err
	}
	p.metrics.SetIndexEntries(n)
	return n, nil
}
