package index

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"strings"
	"sync"

	"github.com/xxxsen/docrag/internal/model"
)

var (
	ErrUnavailable = errors.New("vector index unavailable")
	ErrWrite       = errors.New("vector index write failed")
	ErrQuery       = errors.New("vector index query failed")
	ErrDuplicateID = errors.New("duplicate entry id")
	ErrDimension   = errors.New("embedding dimension mismatch")
)

// VectorIndex stores embedded chunks and answers nearest neighbour queries.
// Entries are append only: ids are never updated or reused.
type VectorIndex interface {
	Add(ctx context.Context, entries []model.IndexedEntry) error
	// GetAll returns every id and text in insertion order.
	GetAll(ctx context.Context) (*model.IndexSnapshot, error)
	// Query returns at most k entries ordered by ascending distance.
	Query(ctx context.Context, embedding []float32, k int) ([]model.QueryMatch, error)
	Count(ctx context.Context) (int, error)
	Ping(ctx context.Context) error
	Close() error
}

// Args carries backend settings plus shared handles owned by the caller.
type Args struct {
	Data interface{}
	DB   *sql.DB
}

type Factory func(ctx context.Context, args Args) (VectorIndex, error)

var (
	registryMu sync.RWMutex
	registry   = map[string]Factory{}
)

func Register(name string, factory Factory) {
	key := strings.ToLower(strings.TrimSpace(name))
	if key == "" || factory == nil {
		return
	}
	registryMu.Lock()
	registry[key] = factory
	registryMu.Unlock()
}

// New opens the named backend. Failures are reported as ErrUnavailable.
func New(ctx context.Context, name string, args Args) (VectorIndex, error) {
	key := strings.ToLower(strings.TrimSpace(name))
	if key == "" {
		return nil, fmt.Errorf("index.type is required: %w", ErrUnavailable)
	}
	registryMu.RLock()
	factory := registry[key]
	registryMu.RUnlock()
	if factory == nil {
		return nil, fmt.Errorf("unsupported index type: %s: %w", name, ErrUnavailable)
	}
	idx, err := factory(ctx, args)
	if err != nil {
		if errors.Is(err, ErrUnavailable) {
			return nil, err
		}
		return nil, fmt.Errorf("open %s index: %w: %w", key, ErrUnavailable, err)
	}
	return idx, nil
}

func validateEntries(entries []model.IndexedEntry, dim int, exists func(id string) bool) error {
	seen := make(map[string]struct{}, len(entries))
	for _, e := range entries {
		if e.ID == "" {
			return fmt.Errorf("empty entry id: %w", ErrWrite)
		}
		if len(e.Embedding) == 0 {
			return fmt.Errorf("entry %s has no embedding: %w", e.ID, ErrWrite)
		}
		if dim == 0 {
			dim = len(e.Embedding)
		}
		if len(e.Embedding) != dim {
			return fmt.Errorf("entry %s has %d dims, want %d: %w", e.ID, len(e.Embedding), dim, ErrDimension)
		}
		if _, ok := seen[e.ID]; ok {
			return fmt.Errorf("entry %s: %w", e.ID, ErrDuplicateID)
		}
		seen[e.ID] = struct{}{}
		if exists != nil && exists(e.ID) {
			return fmt.Errorf("entry %s: %w", e.ID, ErrDuplicateID)
		}
	}
	return nil
}

// sortMatches orders by ascending distance, keeping insertion order on ties.
func sortMatches(matches []model.QueryMatch, k int) []model.QueryMatch {
	sort.SliceStable(matches, func(i, j int) bool {
		return matches[i].Distance < matches[j].Distance
	})
	if k >= 0 && len(matches) > k {
		matches = matches[:k]
	}
	return matches
}

func decodeConfig(args interface{}, dst interface{}) error {
	if args == nil {
		return nil
	}
	data, err := json.Marshal(args)
	if err != nil {
		return fmt.Errorf("encode index config: %w", err)
	}
	if err := json.Unmarshal(data, dst); err != nil {
		return fmt.Errorf("decode index config: %w", err)
	}
	return nil
}
