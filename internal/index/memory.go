package index

import (
	"context"
	"fmt"
	"sync"

	"github.com/xxxsen/docrag/internal/model"
)

type memoryConfig struct {
	Distance string `json:"distance"`
}

// MemoryIndex keeps entries in process memory and scans them on every query.
type MemoryIndex struct {
	mu      sync.RWMutex
	metric  Metric
	entries []model.IndexedEntry
	ids     map[string]struct{}
	dim     int
}

func init() {
	Register("memory", createMemoryIndex)
}

func createMemoryIndex(_ context.Context, args Args) (VectorIndex, error) {
	cfg := &memoryConfig{}
	if err := decodeConfig(args.Data, cfg); err != nil {
		return nil, err
	}
	metric, err := ParseMetric(cfg.Distance)
	if err != nil {
		return nil, err
	}
	return NewMemoryIndex(metric), nil
}

func NewMemoryIndex(metric Metric) *MemoryIndex {
	if metric == "" {
		metric = MetricCosine
	}
	return &MemoryIndex{
		metric: metric,
		ids:    make(map[string]struct{}),
	}
}

func (m *MemoryIndex) Add(_ context.Context, entries []model.IndexedEntry) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	err := validateEntries(entries, m.dim, func(id string) bool {
		_, ok := m.ids[id]
		return ok
	})
	if err != nil {
		return err
	}
	for _, e := range entries {
		emb := make([]float32, len(e.Embedding))
		copy(emb, e.Embedding)
		m.entries = append(m.entries, model.IndexedEntry{ID: e.ID, Text: e.Text, Embedding: emb})
		m.ids[e.ID] = struct{}{}
		m.dim = len(emb)
	}
	return nil
}

func (m *MemoryIndex) GetAll(_ context.Context) (*model.IndexSnapshot, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	snap := &model.IndexSnapshot{
		IDs:   make([]string, 0, len(m.entries)),
		Texts: make([]string, 0, len(m.entries)),
	}
	for _, e := range m.entries {
		snap.IDs = append(snap.IDs, e.ID)
		snap.Texts = append(snap.Texts, e.Text)
	}
	return snap, nil
}

func (m *MemoryIndex) Query(_ context.Context, embedding []float32, k int) ([]model.QueryMatch, error) {
	if k <= 0 {
		return []model.QueryMatch{}, nil
	}
	m.mu.RLock()
	defer m.mu.RUnlock()
	if m.dim != 0 && len(embedding) != m.dim {
		return nil, fmt.Errorf("query has %d dims, want %d: %w: %w", len(embedding), m.dim, ErrQuery, ErrDimension)
	}
	matches := make([]model.QueryMatch, 0, len(m.entries))
	for _, e := range m.entries {
		matches = append(matches, model.QueryMatch{
			ID:       e.ID,
			Text:     e.Text,
			Distance: m.metric.Distance(embedding, e.Embedding),
		})
	}
	return sortMatches(matches, k), nil
}

func (m *MemoryIndex) Count(_ context.Context) (int, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.entries), nil
}

func (m *MemoryIndex) Ping(_ context.Context) error {
	return nil
}

func (m *MemoryIndex) Close() error {
	return nil
}
